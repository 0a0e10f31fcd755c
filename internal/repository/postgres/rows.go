package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/open-builders/points-backend/internal/domain/profile"
	"github.com/open-builders/points-backend/internal/platform/db"
	"github.com/open-builders/points-backend/internal/points"
)

type scanner interface {
	Scan(dest ...any) error
}

// totals is the locked snapshot of the running aggregates.
type totals struct {
	points         int
	humanScore     int
	totalQuestions int
}

func lockTotals(ctx context.Context, q db.DBTX, userID int64) (totals, error) {
	const lock = `
SELECT points, human_score, total_questions_answered
FROM profiles
WHERE user_id = $1
FOR UPDATE`
	var t totals
	if err := q.QueryRowContext(ctx, lock, userID).Scan(&t.points, &t.humanScore, &t.totalQuestions); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, profile.ErrNotFound
		}
		return t, err
	}
	return t, nil
}

func loadByID(ctx context.Context, q db.DBTX, userID int64) (*profile.Profile, error) {
	p, err := scanProfile(q.QueryRowContext(ctx, selectProfile+`WHERE u.id = $1`, userID))
	if err != nil {
		return nil, err
	}
	if p.Sessions, err = loadSessions(ctx, q, userID); err != nil {
		return nil, err
	}
	return p, nil
}

func scanProfile(row scanner) (*profile.Profile, error) {
	var (
		p            profile.Profile
		info, linked []byte
		seen, legacy sql.NullTime
	)
	err := row.Scan(
		&p.UserID, &p.Handle, &p.DisplayName, &p.IsFoundingMember,
		&p.BonusGranted, &p.Points, &p.CompletionPoints,
		&info, &linked,
		&p.HumanScore, &p.TotalQuestionsAnswered,
		&p.HasOnboarded, &p.HasSoulSeedOnboarded,
		&p.TrustScore, &p.TrustPenalty, &seen,
		&legacy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, profile.ErrNotFound
		}
		return nil, err
	}
	if len(info) > 0 {
		if err := json.Unmarshal(info, &p.PersonalInfo); err != nil {
			return nil, fmt.Errorf("decode personal info: %w", err)
		}
	}
	if len(linked) > 0 {
		if err := json.Unmarshal(linked, &p.LinkedAccounts); err != nil {
			return nil, fmt.Errorf("decode linked accounts: %w", err)
		}
	}
	if seen.Valid {
		t := seen.Time
		p.MigrationSeenAt = &t
	}
	if legacy.Valid {
		t := legacy.Time
		p.LegacyImportedAt = &t
	}
	return &p, nil
}

func loadSessions(ctx context.Context, q db.DBTX, userID int64) ([]profile.SessionRecord, error) {
	rows, err := q.QueryContext(ctx, selectSessions, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []profile.SessionRecord{}
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *rec)
	}
	return sessions, rows.Err()
}

func scanSession(row scanner) (*profile.SessionRecord, error) {
	var (
		rec     profile.SessionRecord
		answers []byte
	)
	if err := row.Scan(&rec.ID, &rec.Timestamp, &rec.QuestionsAnswered, &rec.HumanScore, &rec.PointsEarned, &rec.IsComplete, &answers); err != nil {
		return nil, err
	}
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &rec.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}
	return &rec, nil
}

// insertSession must run with the profile row locked.
func insertSession(ctx context.Context, tx db.DBTX, userID int64, cur totals, rec profile.SessionRecord) (profile.RecordOutcome, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	var answers any
	if rec.Answers != nil {
		b, err := json.Marshal(rec.Answers)
		if err != nil {
			return profile.RecordOutcome{}, fmt.Errorf("encode answers: %w", err)
		}
		answers = string(b)
	}

	const insert = `
INSERT INTO sessions (id, user_id, questions_answered, human_score, points_earned, is_complete, created_at, answers_json)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.ExecContext(ctx, insert, rec.ID, userID, rec.QuestionsAnswered, rec.HumanScore, rec.PointsEarned, rec.IsComplete, rec.Timestamp, answers); err != nil {
		return profile.RecordOutcome{}, fmt.Errorf("insert session: %w", err)
	}

	score := points.WeightedHumanScore(cur.humanScore, cur.totalQuestions, rec.HumanScore, rec.QuestionsAnswered)
	const update = `
UPDATE profiles SET
	points = points + $2,
	human_score = $3,
	total_questions_answered = total_questions_answered + $4,
	updated_at = now()
WHERE user_id = $1
RETURNING points`
	out := profile.RecordOutcome{Inserted: true, Session: rec}
	if err := tx.QueryRowContext(ctx, update, userID, rec.PointsEarned, score, rec.QuestionsAnswered).Scan(&out.NewTotal); err != nil {
		return profile.RecordOutcome{}, fmt.Errorf("apply session totals: %w", err)
	}
	return out, nil
}

func encodeFields(p *profile.Profile) (string, string, error) {
	info, err := json.Marshal(p.PersonalInfo)
	if err != nil {
		return "", "", fmt.Errorf("encode personal info: %w", err)
	}
	linked, err := json.Marshal(p.LinkedAccounts)
	if err != nil {
		return "", "", fmt.Errorf("encode linked accounts: %w", err)
	}
	return string(info), string(linked), nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return profile.ErrNotFound
	}
	return nil
}

// isUniqueViolation reports a unique index conflict (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func normalizeHandle(handle string) string {
	return strings.TrimPrefix(strings.TrimSpace(handle), "@")
}

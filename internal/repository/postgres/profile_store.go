package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/open-builders/points-backend/internal/domain/profile"
	"github.com/open-builders/points-backend/internal/platform/db"
	"github.com/open-builders/points-backend/internal/points"
)

// ProfileStore is the authoritative profile store backed by Postgres.
// Every mutating method is a single statement or a single transaction that
// locks the profile row first, so concurrent writers for one user serialize.
type ProfileStore struct {
	db      *sql.DB
	timeout time.Duration
}

var _ profile.Store = (*ProfileStore)(nil)

// NewProfileStore creates a store. A positive timeout bounds every call.
func NewProfileStore(sqlDB *sql.DB, timeout time.Duration) *ProfileStore {
	return &ProfileStore{db: sqlDB, timeout: timeout}
}

const selectProfile = `
SELECT u.id, u.handle, u.display_name, u.is_founding_member,
       p.bonus_granted, p.points, p.completion_points,
       p.personal_info_json, p.linked_accounts_json,
       p.human_score, p.total_questions_answered,
       p.has_onboarded, p.has_soul_seed_onboarded,
       p.trust_score, p.trust_penalty, p.migration_seen_at,
       p.legacy_imported_at, p.created_at, p.updated_at
FROM users u
JOIN profiles p ON p.user_id = u.id
`

const selectSessions = `
SELECT id, created_at, questions_answered, human_score, points_earned, is_complete, answers_json
FROM sessions
WHERE user_id = $1
ORDER BY created_at, id`

// LoadProfile reads a profile and its session history by handle (case-insensitive).
func (s *ProfileStore) LoadProfile(ctx context.Context, handle string) (*profile.Profile, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	p, err := scanProfile(s.db.QueryRowContext(ctx, selectProfile+`WHERE lower(u.handle) = lower($1)`, normalizeHandle(handle)))
	if err != nil {
		return nil, err
	}
	if p.Sessions, err = loadSessions(ctx, s.db, p.UserID); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadProfileByID reads a profile and its session history by user id.
func (s *ProfileStore) LoadProfileByID(ctx context.Context, userID int64) (*profile.Profile, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return loadByID(ctx, s.db, userID)
}

// CreateProfile inserts the user and profile rows. Existing rows are left untouched.
func (s *ProfileStore) CreateProfile(ctx context.Context, p *profile.Profile) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	info, accounts, err := encodeFields(p)
	if err != nil {
		return err
	}
	return db.WithTx(ctx, s.db, func(ctx context.Context, tx db.DBTX) error {
		const insertUser = `
INSERT INTO users (id, handle, display_name, is_founding_member)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING`
		if _, err := tx.ExecContext(ctx, insertUser, p.UserID, normalizeHandle(p.Handle), p.DisplayName, p.IsFoundingMember); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("insert user %q: %w", p.Handle, profile.ErrHandleTaken)
			}
			return fmt.Errorf("insert user: %w", err)
		}
		const insertProfile = `
INSERT INTO profiles (user_id, personal_info_json, linked_accounts_json, points, completion_points, bonus_granted, has_onboarded, has_soul_seed_onboarded)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (user_id) DO NOTHING`
		if _, err := tx.ExecContext(ctx, insertProfile, p.UserID, info, accounts, p.Points, p.CompletionPoints, p.BonusGranted, p.HasOnboarded, p.HasSoulSeedOnboarded); err != nil {
			return fmt.Errorf("insert profile: %w", err)
		}
		return nil
	})
}

// UpdateProfileFields writes the user-editable fields. Points are never
// written here, identity_verified keeps its stored value, and onboarding
// flags only move from false to true.
func (s *ProfileStore) UpdateProfileFields(ctx context.Context, p *profile.Profile) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	info, accounts, err := encodeFields(p)
	if err != nil {
		return err
	}
	trust := points.ComputeTrustScore(profile.Profile{PersonalInfo: p.PersonalInfo, LinkedAccounts: p.LinkedAccounts})
	return db.WithTx(ctx, s.db, func(ctx context.Context, tx db.DBTX) error {
		const updateProfile = `
UPDATE profiles SET
	personal_info_json = jsonb_set($2::jsonb, '{identity_verified}', COALESCE(personal_info_json->'identity_verified', 'false'::jsonb)),
	linked_accounts_json = $3,
	has_onboarded = has_onboarded OR $4,
	has_soul_seed_onboarded = has_soul_seed_onboarded OR $5,
	trust_score = GREATEST(0, LEAST(100, $6 - trust_penalty)),
	updated_at = now()
WHERE user_id = $1`
		res, err := tx.ExecContext(ctx, updateProfile, p.UserID, info, accounts, p.HasOnboarded, p.HasSoulSeedOnboarded, trust)
		if err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		if err := expectRow(res); err != nil {
			return err
		}
		if strings.TrimSpace(p.DisplayName) == "" {
			return nil
		}
		const updateUser = `UPDATE users SET display_name = $2 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, updateUser, p.UserID, p.DisplayName); err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		return nil
	})
}

// SetFoundingMember stores the allow-list decision for display.
func (s *ProfileStore) SetFoundingMember(ctx context.Context, userID int64, member bool) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_founding_member = $2 WHERE id = $1`, userID, member)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// GrantBonusOnce flips bonus_granted and adds the bonus in one conditional
// statement; a second caller matches no row and reports AlreadyGranted.
func (s *ProfileStore) GrantBonusOnce(ctx context.Context, userID int64, bonus int) (profile.GrantResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	const grant = `
UPDATE profiles
SET bonus_granted = TRUE, points = points + $2, updated_at = now()
WHERE user_id = $1 AND bonus_granted = FALSE
RETURNING points`
	var total int
	err := s.db.QueryRowContext(ctx, grant, userID, bonus).Scan(&total)
	if err == nil {
		return profile.GrantResult{Granted: true, NewTotal: total}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return profile.GrantResult{}, fmt.Errorf("grant bonus: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT points FROM profiles WHERE user_id = $1`, userID).Scan(&total); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return profile.GrantResult{}, profile.ErrNotFound
		}
		return profile.GrantResult{}, err
	}
	return profile.GrantResult{AlreadyGranted: true, NewTotal: total}, nil
}

// AddPoints applies a server-side increment.
func (s *ProfileStore) AddPoints(ctx context.Context, userID int64, delta int) (profile.PointsChange, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	const add = `
UPDATE profiles SET points = points + $2, updated_at = now()
WHERE user_id = $1
RETURNING points - $2, points`
	var ch profile.PointsChange
	if err := s.db.QueryRowContext(ctx, add, userID, delta).Scan(&ch.OldTotal, &ch.NewTotal); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ch, profile.ErrNotFound
		}
		return ch, err
	}
	return ch, nil
}

// RecalculatePoints rewrites the stored total from base, completion and sessions.
func (s *ProfileStore) RecalculatePoints(ctx context.Context, userID int64) (profile.PointsChange, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var ch profile.PointsChange
	err := db.WithTx(ctx, s.db, func(ctx context.Context, tx db.DBTX) error {
		if _, err := lockTotals(ctx, tx, userID); err != nil {
			return err
		}
		p, err := loadByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		completion := points.ComputeProfileCompletionPoints(*p)
		ch.OldTotal = p.Points
		ch.NewTotal = points.ComputeTotalPoints(*p)

		const update = `
UPDATE profiles SET points = $2, completion_points = $3, updated_at = now()
WHERE user_id = $1`
		if _, err := tx.ExecContext(ctx, update, userID, ch.NewTotal, completion); err != nil {
			return fmt.Errorf("update totals: %w", err)
		}
		return nil
	})
	return ch, err
}

// UpdateCompletionPoints replaces the completion contribution with the value
// derived from counts and shifts the total by the difference.
func (s *ProfileStore) UpdateCompletionPoints(ctx context.Context, userID int64, counts profile.CompletionCounts) (profile.PointsChange, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	const update = `
WITH old AS (
	SELECT points, completion_points FROM profiles WHERE user_id = $1 FOR UPDATE
)
UPDATE profiles p
SET points = old.points + ($2 - old.completion_points), completion_points = $2, updated_at = now()
FROM old
WHERE p.user_id = $1
RETURNING old.points, p.points`
	var ch profile.PointsChange
	next := points.CompletionPointsFromCounts(counts)
	if err := s.db.QueryRowContext(ctx, update, userID, next).Scan(&ch.OldTotal, &ch.NewTotal); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ch, profile.ErrNotFound
		}
		return ch, err
	}
	return ch, nil
}

// NeedsMigration reports drift between the stored and recomputed totals and,
// for an allow-listed member, a missing bonus.
func (s *ProfileStore) NeedsMigration(ctx context.Context, userID int64, member bool) (profile.MigrationStatus, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	p, err := loadByID(ctx, s.db, userID)
	if err != nil {
		return profile.MigrationStatus{}, err
	}
	st := profile.MigrationStatus{
		MissingBonus:       member && !p.BonusGranted,
		PointsInconsistent: p.Points != points.ComputeTotalPoints(*p),
	}
	st.NeedsMigration = p.MigrationSeenAt == nil && (st.MissingBonus || st.PointsInconsistent)
	return st, nil
}

func (s *ProfileStore) MarkMigrationSeen(ctx context.Context, userID int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `UPDATE profiles SET migration_seen_at = now() WHERE user_id = $1`, userID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// RecordSession inserts a session unless one with the same question count
// exists within dedupWindow of its timestamp, then increments the totals.
func (s *ProfileStore) RecordSession(ctx context.Context, userID int64, rec profile.SessionRecord, dedupWindow time.Duration) (profile.RecordOutcome, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	const findDuplicate = `
SELECT id, created_at, questions_answered, human_score, points_earned, is_complete, answers_json
FROM sessions
WHERE user_id = $1 AND questions_answered = $2 AND created_at BETWEEN $3 AND $4
ORDER BY created_at
LIMIT 1`
	return s.recordWith(ctx, userID, rec, findDuplicate, rec.QuestionsAnswered, rec.Timestamp.Add(-dedupWindow), rec.Timestamp.Add(dedupWindow))
}

// ImportLegacySessions inserts legacy sessions not already present by exact
// timestamp and stamps legacy_imported_at, under one lock on the profile row.
// A stamped profile rejects the import with ErrLegacyImported.
func (s *ProfileStore) ImportLegacySessions(ctx context.Context, userID int64, recs []profile.SessionRecord) (profile.LegacyImport, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out profile.LegacyImport
	err := db.WithTx(ctx, s.db, func(ctx context.Context, tx db.DBTX) error {
		const lock = `
SELECT points, human_score, total_questions_answered, legacy_imported_at
FROM profiles
WHERE user_id = $1
FOR UPDATE`
		var (
			cur  totals
			done sql.NullTime
		)
		if err := tx.QueryRowContext(ctx, lock, userID).Scan(&cur.points, &cur.humanScore, &cur.totalQuestions, &done); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return profile.ErrNotFound
			}
			return err
		}
		out.NewTotal = cur.points
		if done.Valid {
			return profile.ErrLegacyImported
		}

		const present = `SELECT EXISTS (SELECT 1 FROM sessions WHERE user_id = $1 AND created_at = $2)`
		for _, rec := range recs {
			var exists bool
			if err := tx.QueryRowContext(ctx, present, userID, rec.Timestamp).Scan(&exists); err != nil {
				return fmt.Errorf("find imported session: %w", err)
			}
			if exists {
				out.Present++
				continue
			}
			inserted, err := insertSession(ctx, tx, userID, cur, rec)
			if err != nil {
				return err
			}
			cur.humanScore = points.WeightedHumanScore(cur.humanScore, cur.totalQuestions, rec.HumanScore, rec.QuestionsAnswered)
			cur.totalQuestions += rec.QuestionsAnswered
			cur.points = inserted.NewTotal
			out.NewTotal = inserted.NewTotal
			out.Imported++
		}

		const mark = `UPDATE profiles SET legacy_imported_at = now(), updated_at = now() WHERE user_id = $1`
		if _, err := tx.ExecContext(ctx, mark, userID); err != nil {
			return fmt.Errorf("mark legacy import: %w", err)
		}
		return nil
	})
	return out, err
}

func (s *ProfileStore) recordWith(ctx context.Context, userID int64, rec profile.SessionRecord, findDuplicate string, dupArgs ...any) (profile.RecordOutcome, error) {
	var out profile.RecordOutcome
	err := db.WithTx(ctx, s.db, func(ctx context.Context, tx db.DBTX) error {
		cur, err := lockTotals(ctx, tx, userID)
		if err != nil {
			return err
		}

		existing, err := scanSession(tx.QueryRowContext(ctx, findDuplicate, append([]any{userID}, dupArgs...)...))
		switch {
		case err == nil:
			out = profile.RecordOutcome{Session: *existing, NewTotal: cur.points}
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("find duplicate session: %w", err)
		}

		out, err = insertSession(ctx, tx, userID, cur, rec)
		return err
	})
	return out, err
}

func (s *ProfileStore) GetSession(ctx context.Context, userID int64, sessionID uuid.UUID) (*profile.SessionRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	const q = `
SELECT id, created_at, questions_answered, human_score, points_earned, is_complete, answers_json
FROM sessions
WHERE user_id = $1 AND id = $2`
	rec, err := scanSession(s.db.QueryRowContext(ctx, q, userID, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, profile.ErrSessionNotFound
	}
	return rec, err
}

// ReplaceSessionScore swaps one session's points and score for re-scored
// values, adjusting the profile by the difference only.
func (s *ProfileStore) ReplaceSessionScore(ctx context.Context, userID int64, sessionID uuid.UUID, answers []profile.Answer, pointsEarned, humanScore int) (profile.PointsChange, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	encoded, err := json.Marshal(answers)
	if err != nil {
		return profile.PointsChange{}, fmt.Errorf("encode answers: %w", err)
	}

	var ch profile.PointsChange
	err = db.WithTx(ctx, s.db, func(ctx context.Context, tx db.DBTX) error {
		cur, err := lockTotals(ctx, tx, userID)
		if err != nil {
			return err
		}

		const lockSession = `
SELECT points_earned, human_score, questions_answered
FROM sessions
WHERE user_id = $1 AND id = $2
FOR UPDATE`
		var oldPoints, oldScore, questions int
		if err := tx.QueryRowContext(ctx, lockSession, userID, sessionID).Scan(&oldPoints, &oldScore, &questions); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return profile.ErrSessionNotFound
			}
			return err
		}

		const updateSession = `UPDATE sessions SET points_earned = $2, human_score = $3, answers_json = $4 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, updateSession, sessionID, pointsEarned, humanScore, string(encoded)); err != nil {
			return fmt.Errorf("update session: %w", err)
		}

		score := points.ReplaceHumanScore(cur.humanScore, cur.totalQuestions, oldScore, humanScore, questions)
		const updateProfile = `
UPDATE profiles SET points = points + $2, human_score = $3, updated_at = now()
WHERE user_id = $1
RETURNING points`
		ch.OldTotal = cur.points
		return tx.QueryRowContext(ctx, updateProfile, userID, pointsEarned-oldPoints, score).Scan(&ch.NewTotal)
	})
	return ch, err
}

// SessionTimestamps returns the creation times of sessions after since, oldest first.
func (s *ProfileStore) SessionTimestamps(ctx context.Context, userID int64, since time.Time) ([]time.Time, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	const q = `SELECT created_at FROM sessions WHERE user_id = $1 AND created_at > $2 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, q, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// ListUserIDs pages through users by id.
func (s *ProfileStore) ListUserIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *ProfileStore) RecordAudit(ctx context.Context, entry profile.AuditEntry) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	const q = `
INSERT INTO points_audit (id, user_id, handle, before_points, after_points, reason)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.db.ExecContext(ctx, q, entry.ID, entry.UserID, entry.Handle, entry.Before, entry.After, entry.Reason)
	return err
}

func (s *ProfileStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

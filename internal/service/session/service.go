// Package session records scoring sessions, edits their answers and imports
// sessions recorded on the client before the remote store existed.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/points-backend/internal/common/errors"
	"github.com/open-builders/points-backend/internal/common/logger"
	domain "github.com/open-builders/points-backend/internal/domain/profile"
	"github.com/open-builders/points-backend/internal/points"
	"github.com/open-builders/points-backend/internal/scoring"
)

// Store is the part of the remote store used for sessions.
type Store interface {
	LoadProfileByID(ctx context.Context, userID int64) (*domain.Profile, error)
	RecordSession(ctx context.Context, userID int64, rec domain.SessionRecord, dedupWindow time.Duration) (domain.RecordOutcome, error)
	ImportLegacySessions(ctx context.Context, userID int64, recs []domain.SessionRecord) (domain.LegacyImport, error)
	GetSession(ctx context.Context, userID int64, sessionID uuid.UUID) (*domain.SessionRecord, error)
	ReplaceSessionScore(ctx context.Context, userID int64, sessionID uuid.UUID, answers []domain.Answer, pointsEarned, humanScore int) (domain.PointsChange, error)
	SessionTimestamps(ctx context.Context, userID int64, since time.Time) ([]time.Time, error)
}

// Limits configure rate limiting, duplicate suppression and which legacy
// records are accepted.
type Limits struct {
	MaxSessions     int
	Window          time.Duration
	DuplicateWindow time.Duration
	// Legacy records must predate the cutover; zero means the current time.
	LegacyCutover time.Time
	// Upper bound on the points of one legacy record.
	MaxLegacyPoints int
}

// DefaultLimits are the production values.
var DefaultLimits = Limits{
	MaxSessions:     points.MaxSessions,
	Window:          points.SessionWindow,
	DuplicateWindow: 5 * time.Minute,
	MaxLegacyPoints: 2500,
}

// Input is a completed session submitted by the client.
type Input struct {
	QuestionsAnswered int             `json:"questions_answered"`
	PointsEarned      int             `json:"points_earned"`
	HumanScore        int             `json:"human_score"`
	Answers           []domain.Answer `json:"answers,omitempty"`
}

// Recorded is the outcome of RecordSession.
type Recorded struct {
	Session   domain.SessionRecord `json:"session"`
	Duplicate bool                 `json:"duplicate"`
	NewTotal  int                  `json:"new_total"`
}

// AnswerEdit replaces the answer to one question of a past session.
type AnswerEdit struct {
	QuestionID string `json:"question_id" binding:"required"`
	AnswerText string `json:"answer_text"`
}

// Edited is the outcome of EditSessionAnswers.
type Edited struct {
	Session   domain.SessionRecord `json:"session"`
	OldPoints int                  `json:"old_points"`
	NewTotal  int                  `json:"new_total"`
}

// ImportResult counts legacy records handled by ImportLegacy.
type ImportResult struct {
	Imported int `json:"imported"`
	Present  int `json:"already_present"`
	Invalid  int `json:"invalid"`
}

type Service struct {
	store  Store
	legacy domain.LegacySource
	scorer scoring.Scorer
	limits Limits
	now    func() time.Time
	log    zerolog.Logger
}

func NewService(store Store, legacy domain.LegacySource, scorer scoring.Scorer, limits Limits) *Service {
	if scorer == nil {
		scorer = scoring.Heuristic{}
	}
	return &Service{
		store:  store,
		legacy: legacy,
		scorer: scorer,
		limits: limits,
		now:    time.Now,
		log:    logger.Component("session"),
	}
}

// WithClock replaces the service clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RecordSession stores a completed session and adds its points. A resubmit
// of the same session inside the duplicate window is reported, not applied.
func (s *Service) RecordSession(ctx context.Context, userID int64, in Input) (out Recorded, err error) {
	defer apperrors.Recover("session.RecordSession", &err)

	if userID == 0 {
		return Recorded{}, apperrors.NewAuthMissingError()
	}
	if err := validateInput(in); err != nil {
		return Recorded{}, err
	}
	now := s.now()

	limit, err := s.checkLimit(ctx, userID, now)
	if err != nil {
		return Recorded{}, err
	}
	if !limit.Allowed {
		// A retry of a session that was already recorded is not a new session.
		if dup, ok := s.findDuplicate(ctx, userID, in, now); ok {
			return Recorded{Session: dup.rec, Duplicate: true, NewTotal: dup.total}, nil
		}
		return Recorded{}, apperrors.NewRateLimitError(*limit.NextAvailableAt).
			WithDetail("used", limit.Used)
	}

	rec := domain.SessionRecord{
		ID:                uuid.New(),
		Timestamp:         now,
		QuestionsAnswered: in.QuestionsAnswered,
		HumanScore:        in.HumanScore,
		PointsEarned:      in.PointsEarned,
		IsComplete:        true,
		Answers:           in.Answers,
	}
	outcome, err := s.store.RecordSession(ctx, userID, rec, s.limits.DuplicateWindow)
	if err != nil {
		return Recorded{}, storeError("record_session", userID, err)
	}
	if !outcome.Inserted {
		s.log.Info().Int64("user_id", userID).Str("session_id", outcome.Session.ID.String()).Msg("duplicate session suppressed")
	} else {
		s.log.Info().
			Int64("user_id", userID).
			Int("points_earned", rec.PointsEarned).
			Int("new_total", outcome.NewTotal).
			Msg("session recorded")
	}
	return Recorded{Session: outcome.Session, Duplicate: !outcome.Inserted, NewTotal: outcome.NewTotal}, nil
}

// CheckLimit evaluates the rolling session limit at the current time.
func (s *Service) CheckLimit(ctx context.Context, userID int64) (limit points.Limit, err error) {
	defer apperrors.Recover("session.CheckLimit", &err)

	if userID == 0 {
		return points.Limit{}, apperrors.NewAuthMissingError()
	}
	return s.checkLimit(ctx, userID, s.now())
}

func (s *Service) checkLimit(ctx context.Context, userID int64, now time.Time) (points.Limit, error) {
	history, err := s.store.SessionTimestamps(ctx, userID, now.Add(-s.limits.Window))
	if err != nil {
		return points.Limit{}, storeError("session_timestamps", userID, err)
	}
	return points.CheckSessionLimitWith(history, now, s.limits.MaxSessions, s.limits.Window), nil
}

type duplicate struct {
	rec   domain.SessionRecord
	total int
}

func (s *Service) findDuplicate(ctx context.Context, userID int64, in Input, now time.Time) (duplicate, bool) {
	p, err := s.store.LoadProfileByID(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Msg("duplicate lookup failed")
		return duplicate{}, false
	}
	for _, rec := range p.Sessions {
		d := now.Sub(rec.Timestamp)
		if d < 0 {
			d = -d
		}
		if rec.QuestionsAnswered == in.QuestionsAnswered && d <= s.limits.DuplicateWindow {
			return duplicate{rec: rec, total: p.Points}, true
		}
	}
	return duplicate{}, false
}

// EditSessionAnswers re-scores one session after its answers change and
// swaps that session's contribution in the totals. Other sessions are not
// touched. Sessions stored without answers cannot be edited.
func (s *Service) EditSessionAnswers(ctx context.Context, userID int64, sessionID uuid.UUID, edits []AnswerEdit) (out Edited, err error) {
	defer apperrors.Recover("session.EditSessionAnswers", &err)

	if userID == 0 {
		return Edited{}, apperrors.NewAuthMissingError()
	}
	if len(edits) == 0 {
		return Edited{}, apperrors.NewValidationError("answers", "no edits supplied")
	}

	rec, err := s.store.GetSession(ctx, userID, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return Edited{}, apperrors.NewNotFoundError("session", sessionID.String())
		}
		return Edited{}, storeError("get_session", userID, err)
	}
	if !rec.Rescoreable() {
		return Edited{}, apperrors.NewValidationError("session", "session has no stored answers and cannot be edited").
			WithDetail("session_id", sessionID.String())
	}

	answers, err := applyEdits(rec.Answers, edits, s.now())
	if err != nil {
		return Edited{}, err
	}
	score := s.scorer.Score(answers)

	ch, err := s.store.ReplaceSessionScore(ctx, userID, sessionID, answers, score.PointsEarned, score.HumanScore)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return Edited{}, apperrors.NewNotFoundError("session", sessionID.String())
		}
		return Edited{}, storeError("replace_session_score", userID, err)
	}

	s.log.Info().
		Int64("user_id", userID).
		Str("session_id", sessionID.String()).
		Int("old_points", rec.PointsEarned).
		Int("new_points", score.PointsEarned).
		Int("new_total", ch.NewTotal).
		Msg("session re-scored")

	out = Edited{Session: *rec, OldPoints: rec.PointsEarned, NewTotal: ch.NewTotal}
	out.Session.Answers = answers
	out.Session.PointsEarned = score.PointsEarned
	out.Session.HumanScore = score.HumanScore
	return out, nil
}

func applyEdits(current []domain.Answer, edits []AnswerEdit, now time.Time) ([]domain.Answer, error) {
	answers := append([]domain.Answer(nil), current...)
	index := make(map[string]int, len(answers))
	for i, a := range answers {
		index[a.QuestionID] = i
	}
	for _, e := range edits {
		i, ok := index[e.QuestionID]
		if !ok {
			return nil, apperrors.NewValidationError("question_id", "unknown question").
				WithDetail("question_id", e.QuestionID)
		}
		editedAt := now
		answers[i].AnswerText = e.AnswerText
		answers[i].EditedAt = &editedAt
	}
	return answers, nil
}

// ImportLegacy imports client-local sessions once per user and deletes the
// local copy after the import commits. Records dated after the cutover or
// worth more than one session can earn are skipped as invalid.
func (s *Service) ImportLegacy(ctx context.Context, userID int64, handle string) (res ImportResult, err error) {
	defer apperrors.Recover("session.ImportLegacy", &err)

	if userID == 0 || handle == "" {
		return ImportResult{}, apperrors.NewAuthMissingError()
	}
	records, err := s.legacy.Load(ctx, handle)
	if err != nil {
		return ImportResult{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to read legacy sessions")
	}
	if len(records) == 0 {
		return ImportResult{}, nil
	}

	cutover := s.limits.LegacyCutover
	if cutover.IsZero() {
		cutover = s.now()
	}
	recs := make([]domain.SessionRecord, 0, len(records))
	for _, l := range records {
		if !s.validLegacy(l, cutover) {
			res.Invalid++
			s.log.Warn().
				Int64("user_id", userID).
				Time("timestamp", l.Timestamp).
				Int("points_earned", l.PointsEarned).
				Msg("skipping invalid legacy session")
			continue
		}
		recs = append(recs, domain.SessionRecord{
			ID:                uuid.New(),
			Timestamp:         l.Timestamp.UTC(),
			QuestionsAnswered: l.QuestionsAnswered,
			HumanScore:        clampScore(l.HumanScore),
			PointsEarned:      l.PointsEarned,
			IsComplete:        true,
		})
	}

	outcome, err := s.store.ImportLegacySessions(ctx, userID, recs)
	if errors.Is(err, domain.ErrLegacyImported) {
		s.discardLegacy(ctx, handle)
		s.log.Warn().Int64("user_id", userID).Int("records", len(records)).Msg("legacy sessions already imported, discarding upload")
		return ImportResult{}, errLegacyImported()
	}
	if err != nil {
		// The staged copy is kept so the next login retries the import.
		return ImportResult{}, storeError("import_legacy_sessions", userID, err)
	}
	res.Imported = outcome.Imported
	res.Present = outcome.Present

	s.discardLegacy(ctx, handle)
	s.log.Info().
		Int64("user_id", userID).
		Int("imported", res.Imported).
		Int("already_present", res.Present).
		Int("invalid", res.Invalid).
		Int("new_total", outcome.NewTotal).
		Msg("legacy sessions imported")
	return res, nil
}

func (s *Service) validLegacy(l domain.LegacySession, cutover time.Time) bool {
	switch {
	case l.Timestamp.IsZero(), !l.Timestamp.Before(cutover):
		return false
	case l.QuestionsAnswered < 0, l.PointsEarned < 0:
		return false
	case s.limits.MaxLegacyPoints > 0 && l.PointsEarned > s.limits.MaxLegacyPoints:
		return false
	}
	return true
}

func (s *Service) discardLegacy(ctx context.Context, handle string) {
	if err := s.legacy.Delete(ctx, handle); err != nil {
		// Safe to leave: a later import of the same records is refused.
		s.log.Warn().Err(err).Str("handle", handle).Msg("failed to delete legacy sessions")
	}
}

func errLegacyImported() error {
	return apperrors.New(apperrors.ErrCodeForbidden, "legacy sessions were already imported")
}

// maxLegacyUpload bounds one legacy upload.
const maxLegacyUpload = 500

// UploadLegacy stages client-local sessions and runs the one-time import.
// Users whose legacy sessions were already imported are refused before
// anything is staged.
func (s *Service) UploadLegacy(ctx context.Context, userID int64, handle string, records []domain.LegacySession) (res ImportResult, err error) {
	defer apperrors.Recover("session.UploadLegacy", &err)

	if userID == 0 || handle == "" {
		return ImportResult{}, apperrors.NewAuthMissingError()
	}
	if len(records) > maxLegacyUpload {
		return ImportResult{}, apperrors.NewValidationError("sessions", fmt.Sprintf("at most %d records per upload", maxLegacyUpload))
	}
	p, err := s.store.LoadProfileByID(ctx, userID)
	if err != nil {
		return ImportResult{}, storeError("load_profile", userID, err)
	}
	if p.LegacyImportedAt != nil {
		return ImportResult{}, errLegacyImported()
	}
	if len(records) > 0 {
		staged, err := s.legacy.Load(ctx, handle)
		if err != nil {
			return ImportResult{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to read legacy sessions")
		}
		if err := s.legacy.Store(ctx, handle, append(staged, records...)); err != nil {
			return ImportResult{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to stage legacy sessions")
		}
	}
	return s.ImportLegacy(ctx, userID, handle)
}

func validateInput(in Input) error {
	switch {
	case in.QuestionsAnswered < 0:
		return apperrors.NewValidationError("questions_answered", "must not be negative")
	case in.PointsEarned < 0:
		return apperrors.NewValidationError("points_earned", "must not be negative")
	case in.HumanScore < 0 || in.HumanScore > 100:
		return apperrors.NewValidationError("human_score", "must be within [0,100]")
	}
	return nil
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func storeError(op string, userID int64, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return apperrors.NewNotFoundError("profile", userID)
	}
	return apperrors.NewRemoteError(op, err)
}

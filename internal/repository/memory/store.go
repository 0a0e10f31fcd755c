// Package memory is an in-process implementation of the remote profile store.
// It keeps the same per-operation atomicity as the Postgres store by holding a
// single mutex for the duration of each call, and backs the "memory" store
// driver and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/open-builders/points-backend/internal/domain/profile"
	"github.com/open-builders/points-backend/internal/points"
)

// Store implements profile.Store.
type Store struct {
	mu       sync.Mutex
	profiles map[int64]*profile.Profile
	handles  map[string]int64
	audit    []profile.AuditEntry
	failure  error
	now      func() time.Time
}

var _ profile.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		profiles: make(map[int64]*profile.Profile),
		handles:  make(map[string]int64),
		now:      time.Now,
	}
}

// WithClock replaces the store clock.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Fail makes every subsequent call return err until Fail(nil).
func (s *Store) Fail(err error) {
	s.mu.Lock()
	s.failure = err
	s.mu.Unlock()
}

// Seed stores p as-is, bypassing all invariants. Used to stage drifted data.
func (s *Store) Seed(p *profile.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := p.Clone()
	s.profiles[c.UserID] = c
	s.handles[key(c.Handle)] = c.UserID
}

// Audit returns the recorded audit entries.
func (s *Store) Audit() []profile.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]profile.AuditEntry(nil), s.audit...)
}

func (s *Store) LoadProfile(ctx context.Context, handle string) (*profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return nil, s.failure
	}
	id, ok := s.handles[key(handle)]
	if !ok {
		return nil, profile.ErrNotFound
	}
	return s.profiles[id].Clone(), nil
}

func (s *Store) LoadProfileByID(ctx context.Context, userID int64) (*profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.get(userID)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

func (s *Store) CreateProfile(ctx context.Context, p *profile.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	if _, exists := s.profiles[p.UserID]; exists {
		return nil
	}
	if owner, taken := s.handles[key(p.Handle)]; taken && owner != p.UserID {
		return fmt.Errorf("create %q: %w", p.Handle, profile.ErrHandleTaken)
	}
	c := p.Clone()
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.profiles[c.UserID] = c
	s.handles[key(c.Handle)] = c.UserID
	return nil
}

func (s *Store) UpdateProfileFields(ctx context.Context, p *profile.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.get(p.UserID)
	if err != nil {
		return err
	}
	in := p.Clone()
	if in.DisplayName != "" {
		cur.DisplayName = in.DisplayName
	}
	verified := cur.PersonalInfo.IdentityVerified
	cur.PersonalInfo = in.PersonalInfo
	cur.PersonalInfo.IdentityVerified = verified
	cur.LinkedAccounts = in.LinkedAccounts
	cur.HasOnboarded = cur.HasOnboarded || in.HasOnboarded
	cur.HasSoulSeedOnboarded = cur.HasSoulSeedOnboarded || in.HasSoulSeedOnboarded
	cur.UpdatedAt = s.now()
	return nil
}

func (s *Store) SetFoundingMember(ctx context.Context, userID int64, member bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.get(userID)
	if err != nil {
		return err
	}
	cur.IsFoundingMember = member
	return nil
}

func (s *Store) GrantBonusOnce(ctx context.Context, userID int64, bonus int) (profile.GrantResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.get(userID)
	if err != nil {
		return profile.GrantResult{}, err
	}
	if cur.BonusGranted {
		return profile.GrantResult{AlreadyGranted: true, NewTotal: cur.Points}, nil
	}
	cur.BonusGranted = true
	cur.Points += bonus
	cur.UpdatedAt = s.now()
	return profile.GrantResult{Granted: true, NewTotal: cur.Points}, nil
}

func (s *Store) AddPoints(ctx context.Context, userID int64, delta int) (profile.PointsChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.get(userID)
	if err != nil {
		return profile.PointsChange{}, err
	}
	ch := profile.PointsChange{OldTotal: cur.Points}
	cur.Points += delta
	cur.UpdatedAt = s.now()
	ch.NewTotal = cur.Points
	return ch, nil
}

func (s *Store) RecalculatePoints(ctx context.Context, userID int64) (profile.PointsChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.get(userID)
	if err != nil {
		return profile.PointsChange{}, err
	}
	ch := profile.PointsChange{OldTotal: cur.Points}
	cur.CompletionPoints = points.ComputeProfileCompletionPoints(*cur)
	cur.Points = points.ComputeTotalPoints(*cur)
	cur.UpdatedAt = s.now()
	ch.NewTotal = cur.Points
	return ch, nil
}

func (s *Store) UpdateCompletionPoints(ctx context.Context, userID int64, counts profile.CompletionCounts) (profile.PointsChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.get(userID)
	if err != nil {
		return profile.PointsChange{}, err
	}
	ch := profile.PointsChange{OldTotal: cur.Points}
	next := points.CompletionPointsFromCounts(counts)
	cur.Points += next - cur.CompletionPoints
	cur.CompletionPoints = next
	cur.UpdatedAt = s.now()
	ch.NewTotal = cur.Points
	return ch, nil
}

func (s *Store) NeedsMigration(ctx context.Context, userID int64, member bool) (profile.MigrationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.get(userID)
	if err != nil {
		return profile.MigrationStatus{}, err
	}
	st := profile.MigrationStatus{
		MissingBonus:       member && !cur.BonusGranted,
		PointsInconsistent: cur.Points != points.ComputeTotalPoints(*cur),
	}
	st.NeedsMigration = cur.MigrationSeenAt == nil && (st.MissingBonus || st.PointsInconsistent)
	return st, nil
}

func (s *Store) MarkMigrationSeen(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.get(userID)
	if err != nil {
		return err
	}
	t := s.now()
	cur.MigrationSeenAt = &t
	return nil
}

func (s *Store) RecordSession(ctx context.Context, userID int64, rec profile.SessionRecord, dedupWindow time.Duration) (profile.RecordOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.get(userID)
	if err != nil {
		return profile.RecordOutcome{}, err
	}
	for _, existing := range cur.Sessions {
		if existing.QuestionsAnswered == rec.QuestionsAnswered && within(existing.Timestamp, rec.Timestamp, dedupWindow) {
			return profile.RecordOutcome{Session: existing, NewTotal: cur.Points}, nil
		}
	}
	return s.apply(cur, rec), nil
}

func (s *Store) ImportLegacySessions(ctx context.Context, userID int64, recs []profile.SessionRecord) (profile.LegacyImport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.get(userID)
	if err != nil {
		return profile.LegacyImport{}, err
	}
	if cur.LegacyImportedAt != nil {
		return profile.LegacyImport{NewTotal: cur.Points}, profile.ErrLegacyImported
	}
	var out profile.LegacyImport
	for _, rec := range recs {
		if hasTimestamp(cur.Sessions, rec.Timestamp) {
			out.Present++
			continue
		}
		s.apply(cur, rec)
		out.Imported++
	}
	t := s.now()
	cur.LegacyImportedAt = &t
	out.NewTotal = cur.Points
	return out, nil
}

func hasTimestamp(sessions []profile.SessionRecord, ts time.Time) bool {
	for _, existing := range sessions {
		if existing.Timestamp.Equal(ts) {
			return true
		}
	}
	return false
}

func (s *Store) apply(cur *profile.Profile, rec profile.SessionRecord) profile.RecordOutcome {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Answers != nil {
		rec.Answers = append([]profile.Answer(nil), rec.Answers...)
	}
	cur.Sessions = append(cur.Sessions, rec)
	sort.SliceStable(cur.Sessions, func(i, j int) bool {
		return cur.Sessions[i].Timestamp.Before(cur.Sessions[j].Timestamp)
	})
	cur.Points += rec.PointsEarned
	cur.HumanScore = points.WeightedHumanScore(cur.HumanScore, cur.TotalQuestionsAnswered, rec.HumanScore, rec.QuestionsAnswered)
	cur.TotalQuestionsAnswered += rec.QuestionsAnswered
	cur.UpdatedAt = s.now()
	return profile.RecordOutcome{Inserted: true, Session: rec, NewTotal: cur.Points}
}

func (s *Store) GetSession(ctx context.Context, userID int64, sessionID uuid.UUID) (*profile.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.get(userID)
	if err != nil {
		return nil, err
	}
	rec := cur.SessionByID(sessionID)
	if rec == nil {
		return nil, profile.ErrSessionNotFound
	}
	c := *rec
	if rec.Answers != nil {
		c.Answers = append([]profile.Answer(nil), rec.Answers...)
	}
	return &c, nil
}

func (s *Store) ReplaceSessionScore(ctx context.Context, userID int64, sessionID uuid.UUID, answers []profile.Answer, pointsEarned, humanScore int) (profile.PointsChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.get(userID)
	if err != nil {
		return profile.PointsChange{}, err
	}
	rec := cur.SessionByID(sessionID)
	if rec == nil {
		return profile.PointsChange{}, profile.ErrSessionNotFound
	}
	ch := profile.PointsChange{OldTotal: cur.Points}
	cur.Points += pointsEarned - rec.PointsEarned
	cur.HumanScore = points.ReplaceHumanScore(cur.HumanScore, cur.TotalQuestionsAnswered, rec.HumanScore, humanScore, rec.QuestionsAnswered)
	rec.PointsEarned = pointsEarned
	rec.HumanScore = humanScore
	rec.Answers = append([]profile.Answer(nil), answers...)
	cur.UpdatedAt = s.now()
	ch.NewTotal = cur.Points
	return ch, nil
}

func (s *Store) SessionTimestamps(ctx context.Context, userID int64, since time.Time) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.get(userID)
	if err != nil {
		return nil, err
	}
	var out []time.Time
	for _, rec := range cur.Sessions {
		if rec.Timestamp.After(since) {
			out = append(out, rec.Timestamp)
		}
	}
	return out, nil
}

func (s *Store) ListUserIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return nil, s.failure
	}
	ids := make([]int64, 0, len(s.profiles))
	for id := range s.profiles {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *Store) RecordAudit(ctx context.Context, entry profile.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.audit = append(s.audit, entry)
	return nil
}

// get must be called with mu held.
func (s *Store) get(userID int64) (*profile.Profile, error) {
	if s.failure != nil {
		return nil, s.failure
	}
	p, ok := s.profiles[userID]
	if !ok {
		return nil, profile.ErrNotFound
	}
	return p, nil
}

func key(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

func within(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= window
}

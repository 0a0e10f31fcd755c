// Package recovery finds and repairs drift between stored point totals and
// the totals derived from first principles.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/points-backend/internal/common/errors"
	"github.com/open-builders/points-backend/internal/common/logger"
	domain "github.com/open-builders/points-backend/internal/domain/profile"
	"github.com/open-builders/points-backend/internal/membership"
	"github.com/open-builders/points-backend/internal/points"
	"github.com/open-builders/points-backend/internal/service/bonus"
)

const (
	reasonRecovery  = "recovery"
	reasonMigration = "login_migration"
)

// Store is the part of the remote store used by recovery.
type Store interface {
	LoadProfile(ctx context.Context, handle string) (*domain.Profile, error)
	LoadProfileByID(ctx context.Context, userID int64) (*domain.Profile, error)
	RecalculatePoints(ctx context.Context, userID int64) (domain.PointsChange, error)
	NeedsMigration(ctx context.Context, userID int64, member bool) (domain.MigrationStatus, error)
	MarkMigrationSeen(ctx context.Context, userID int64) error
	ListUserIDs(ctx context.Context, afterID int64, limit int) ([]int64, error)
	RecordAudit(ctx context.Context, entry domain.AuditEntry) error
}

// BonusEnforcer repairs a missing founding member bonus.
type BonusEnforcer interface {
	EnforceBonusOnce(ctx context.Context, userID int64, handle string) (bonus.Result, error)
}

type Service struct {
	store    Store
	bonus    BonusEnforcer
	members  membership.Checker
	defaults BatchOptions
	now      func() time.Time
	log      zerolog.Logger
}

func NewService(store Store, enforcer BonusEnforcer, members membership.Checker, defaults BatchOptions) *Service {
	return &Service{
		store:    store,
		bonus:    enforcer,
		members:  members,
		defaults: defaults,
		now:      time.Now,
		log:      logger.Component("recovery"),
	}
}

// RecoverUser compares a user's stored total against the expected total and,
// unless dryRun, repairs it.
func (s *Service) RecoverUser(ctx context.Context, handle string, dryRun bool) (l *Log, err error) {
	defer apperrors.Recover("recovery.RecoverUser", &err)

	if handle == "" {
		return nil, apperrors.NewValidationError("handle", "required")
	}
	p, err := s.store.LoadProfile(ctx, handle)
	if err != nil {
		return nil, storeError("load_profile", handle, err)
	}

	l = s.plan(p, dryRun)
	if l.Status != StatusChangeComputed {
		return l, nil
	}
	if dryRun {
		l.skip("dry run")
		return l, nil
	}
	if err := s.apply(ctx, l, reasonRecovery); err != nil {
		return l, err
	}
	return l, nil
}

// plan moves a fresh log to NoChangeNeeded or ChangeComputed.
func (s *Service) plan(p *domain.Profile, dryRun bool) *Log {
	l := &Log{UserID: p.UserID, Handle: p.Handle, DryRun: dryRun, CheckedAt: s.now(), StoredTotal: p.Points}
	_ = l.advance(StatusChecked)

	l.MissingBonus = s.members.IsFoundingMember(p.Handle) && !p.BonusGranted

	expected := p.Clone()
	expected.BonusGranted = p.BonusGranted || l.MissingBonus
	l.ExpectedTotal = points.ComputeTotalPoints(*expected)
	l.Breakdown = Breakdown{
		Base:       points.ComputeBasePoints(expected.BonusGranted),
		Completion: points.ComputeProfileCompletionPoints(*expected),
		Sessions:   points.SessionPoints(expected.Sessions),
	}
	l.Delta = l.ExpectedTotal - l.StoredTotal

	if l.Delta == 0 && !l.MissingBonus {
		_ = l.advance(StatusNoChangeNeeded)
	} else {
		_ = l.advance(StatusChangeComputed)
	}
	return l
}

// apply repairs the bonus through the enforcer, then rewrites the total from
// first principles and records the change for audit.
func (s *Service) apply(ctx context.Context, l *Log, reason string) error {
	if l.MissingBonus {
		if _, err := s.bonus.EnforceBonusOnce(ctx, l.UserID, l.Handle); err != nil {
			l.fail(err)
			return err
		}
	}
	ch, err := s.store.RecalculatePoints(ctx, l.UserID)
	if err != nil {
		l.fail(err)
		return storeError("recalculate_points", l.Handle, err)
	}
	l.AppliedTotal = ch.NewTotal
	_ = l.advance(StatusApplied)

	s.audit(ctx, l.UserID, l.Handle, l.StoredTotal, ch.NewTotal, reason)
	return nil
}

func (s *Service) audit(ctx context.Context, userID int64, handle string, before, after int, reason string) {
	s.log.Info().
		Int64("user_id", userID).
		Str("handle", handle).
		Int("before", before).
		Int("after", after).
		Int("delta", after-before).
		Str("reason", reason).
		Msg("points corrected")

	err := s.store.RecordAudit(ctx, domain.AuditEntry{
		UserID:    userID,
		Handle:    handle,
		Before:    before,
		After:     after,
		Reason:    reason,
		CreatedAt: s.now(),
	})
	if err != nil {
		s.log.Error().Err(err).Int64("user_id", userID).Int("before", before).Int("after", after).Msg("failed to write points audit")
	}
}

// Migration reports what MigrateIfNeeded did.
type Migration struct {
	Migrated     bool                   `json:"migrated"`
	Status       domain.MigrationStatus `json:"status"`
	Change       domain.PointsChange    `json:"change"`
	BonusGranted bool                   `json:"bonus_granted"`
}

// MigrateIfNeeded runs the one-time login repair for a user whose stored
// state drifted and who has not been migrated before.
func (s *Service) MigrateIfNeeded(ctx context.Context, userID int64, handle string) (m Migration, err error) {
	defer apperrors.Recover("recovery.MigrateIfNeeded", &err)

	if userID == 0 || handle == "" {
		return Migration{}, apperrors.NewAuthMissingError()
	}
	st, err := s.store.NeedsMigration(ctx, userID, s.members.IsFoundingMember(handle))
	if err != nil {
		return Migration{}, storeError("needs_migration", handle, err)
	}
	m.Status = st
	if !st.NeedsMigration {
		return m, nil
	}

	if st.MissingBonus {
		res, err := s.bonus.EnforceBonusOnce(ctx, userID, handle)
		if err != nil {
			return m, err
		}
		m.BonusGranted = res.Granted
	}
	ch, err := s.store.RecalculatePoints(ctx, userID)
	if err != nil {
		return m, storeError("recalculate_points", handle, err)
	}
	m.Change = ch
	before := ch.OldTotal
	if m.BonusGranted {
		before -= points.Bonus
	}
	if ch.NewTotal != before {
		s.audit(ctx, userID, handle, before, ch.NewTotal, reasonMigration)
	}

	if err := s.store.MarkMigrationSeen(ctx, userID); err != nil {
		return m, storeError("mark_migration_seen", handle, err)
	}
	m.Migrated = true
	return m, nil
}

func storeError(op, handle string, err error) error {
	if _, ok := apperrors.AsAppError(err); ok {
		return err
	}
	if errors.Is(err, domain.ErrNotFound) {
		return apperrors.NewNotFoundError("profile", handle)
	}
	return apperrors.NewRemoteError(op, fmt.Errorf("%s: %w", handle, err))
}

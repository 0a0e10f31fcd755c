// Package login runs the reconciliation steps a user goes through when the
// app opens: load, bonus, legacy import and one-time migration.
package login

import (
	"context"

	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/points-backend/internal/common/errors"
	"github.com/open-builders/points-backend/internal/common/logger"
	domain "github.com/open-builders/points-backend/internal/domain/profile"
	"github.com/open-builders/points-backend/internal/service/bonus"
	"github.com/open-builders/points-backend/internal/service/profile"
	"github.com/open-builders/points-backend/internal/service/recovery"
	"github.com/open-builders/points-backend/internal/service/session"
)

type Profiles interface {
	Load(ctx context.Context, id domain.Identity) (profile.Result, error)
	ForceSync(ctx context.Context, id domain.Identity) (profile.Result, error)
}

type Bonus interface {
	EnforceBonusOnce(ctx context.Context, userID int64, handle string) (bonus.Result, error)
}

type LegacyImporter interface {
	ImportLegacy(ctx context.Context, userID int64, handle string) (session.ImportResult, error)
}

type Migrator interface {
	MigrateIfNeeded(ctx context.Context, userID int64, handle string) (recovery.Migration, error)
}

// Result is the profile after login plus what each step changed.
type Result struct {
	profile.Result
	Bonus     bonus.Result         `json:"bonus"`
	Imported  session.ImportResult `json:"imported"`
	Migration recovery.Migration   `json:"migration"`
}

type Service struct {
	profiles Profiles
	bonus    Bonus
	legacy   LegacyImporter
	migrator Migrator
	log      zerolog.Logger
}

func NewService(profiles Profiles, b Bonus, legacy LegacyImporter, migrator Migrator) *Service {
	return &Service{profiles: profiles, bonus: b, legacy: legacy, migrator: migrator, log: logger.Component("login")}
}

// Login loads the profile and reconciles it. Only the initial load can fail
// the call; later steps log their errors and the loaded profile is returned.
func (s *Service) Login(ctx context.Context, id domain.Identity) (res Result, err error) {
	defer apperrors.Recover("login.Login", &err)

	loaded, err := s.profiles.Load(ctx, id)
	if err != nil {
		return Result{}, err
	}
	res.Result = loaded
	// Reconciliation needs the remote store; a fallback profile is returned as is.
	if loaded.Source == domain.SourceCache {
		return res, nil
	}

	changed := false
	log := s.log.With().Int64("user_id", id.UserID).Str("handle", id.Handle).Logger()

	if b, err := s.bonus.EnforceBonusOnce(ctx, id.UserID, id.Handle); err != nil {
		log.Warn().Err(err).Msg("bonus enforcement failed")
	} else {
		res.Bonus = b
		changed = changed || b.Granted
	}

	if imp, err := s.legacy.ImportLegacy(ctx, id.UserID, id.Handle); err != nil {
		log.Warn().Err(err).Msg("legacy import failed")
	} else {
		res.Imported = imp
		changed = changed || imp.Imported > 0
	}

	if m, err := s.migrator.MigrateIfNeeded(ctx, id.UserID, id.Handle); err != nil {
		log.Warn().Err(err).Msg("login migration failed")
	} else {
		res.Migration = m
		changed = changed || m.Migrated
	}

	if !changed {
		return res, nil
	}
	synced, err := s.profiles.ForceSync(ctx, id)
	if err != nil {
		log.Warn().Err(err).Msg("post-login sync failed")
		return res, nil
	}
	res.Result = synced
	return res, nil
}

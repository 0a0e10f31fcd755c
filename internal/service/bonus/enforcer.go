// Package bonus grants the one-time founding member bonus.
package bonus

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/points-backend/internal/common/errors"
	"github.com/open-builders/points-backend/internal/common/logger"
	domain "github.com/open-builders/points-backend/internal/domain/profile"
	"github.com/open-builders/points-backend/internal/membership"
	"github.com/open-builders/points-backend/internal/points"
)

// Store is the part of the remote store the enforcer writes to.
type Store interface {
	GrantBonusOnce(ctx context.Context, userID int64, bonus int) (domain.GrantResult, error)
	SetFoundingMember(ctx context.Context, userID int64, member bool) error
}

// Result describes what EnforceBonusOnce did.
type Result struct {
	Granted        bool   `json:"granted"`
	AlreadyGranted bool   `json:"already_granted"`
	Message        string `json:"message"`
	NewTotal       int    `json:"new_total,omitempty"`
}

// Enforcer is the only code path that adds points.Bonus to a profile.
type Enforcer struct {
	store   Store
	members membership.Checker
	log     zerolog.Logger
}

func NewEnforcer(store Store, members membership.Checker) *Enforcer {
	return &Enforcer{store: store, members: members, log: logger.Component("bonus")}
}

// EnforceBonusOnce re-checks membership and, for members, grants the bonus
// through the store's conditional update. Repeated calls never add it twice.
func (e *Enforcer) EnforceBonusOnce(ctx context.Context, userID int64, handle string) (res Result, err error) {
	defer apperrors.Recover("bonus.EnforceBonusOnce", &err)

	if userID == 0 || handle == "" {
		return Result{}, apperrors.NewAuthMissingError()
	}

	if !e.members.IsFoundingMember(handle) {
		e.mirrorMembership(ctx, userID, false)
		return Result{Message: "not a founding member"}, nil
	}

	grant, err := e.store.GrantBonusOnce(ctx, userID, points.Bonus)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Result{}, apperrors.NewNotFoundError("profile", userID)
		}
		return Result{}, apperrors.NewRemoteError("grant_bonus_once", err)
	}
	// The membership mirror is written only after the grant is confirmed.
	e.mirrorMembership(ctx, userID, true)

	if grant.AlreadyGranted {
		return Result{AlreadyGranted: true, Message: "bonus already granted", NewTotal: grant.NewTotal}, nil
	}
	e.log.Info().
		Int64("user_id", userID).
		Str("handle", handle).
		Int("bonus", points.Bonus).
		Int("new_total", grant.NewTotal).
		Msg("founding member bonus granted")
	return Result{Granted: true, Message: "founding member bonus granted", NewTotal: grant.NewTotal}, nil
}

func (e *Enforcer) mirrorMembership(ctx context.Context, userID int64, member bool) {
	if err := e.store.SetFoundingMember(ctx, userID, member); err != nil {
		e.log.Warn().Err(err).Int64("user_id", userID).Bool("member", member).Msg("failed to store membership flag")
	}
}

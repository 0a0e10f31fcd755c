// Package profile is the read/write path for user profiles. Reads prefer the
// remote store and fall back to a bounded-age cache, then to a default
// profile. Writes always go to the remote store first.
package profile

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/points-backend/internal/common/errors"
	"github.com/open-builders/points-backend/internal/common/logger"
	domain "github.com/open-builders/points-backend/internal/domain/profile"
	"github.com/open-builders/points-backend/internal/membership"
	"github.com/open-builders/points-backend/internal/points"
	"github.com/open-builders/points-backend/internal/service/bonus"
)

// Result is a profile together with where it came from.
type Result struct {
	Profile *domain.Profile `json:"profile"`
	Source  domain.Source   `json:"source"`
}

// BonusEnforcer reconciles the founding member bonus after a save.
type BonusEnforcer interface {
	EnforceBonusOnce(ctx context.Context, userID int64, handle string) (bonus.Result, error)
}

// Options tune the repository.
type Options struct {
	// CacheMaxAge bounds how old a cached profile may be to stand in for a
	// failed remote read.
	CacheMaxAge time.Duration
	Now         func() time.Time
}

// Repository is constructed once per process by the composition root.
type Repository struct {
	store   domain.Store
	cache   domain.Cache
	bonus   BonusEnforcer
	members membership.Checker
	bus     *Bus

	maxAge time.Duration
	now    func() time.Time
	saving atomic.Bool
	log    zerolog.Logger
}

func NewRepository(store domain.Store, cache domain.Cache, enforcer BonusEnforcer, members membership.Checker, opts Options) *Repository {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CacheMaxAge <= 0 {
		opts.CacheMaxAge = 2 * time.Minute
	}
	log := logger.Component("profile")
	return &Repository{
		store:   store,
		cache:   cache,
		bonus:   enforcer,
		members: members,
		bus:     NewBus(log),
		maxAge:  opts.CacheMaxAge,
		now:     opts.Now,
		log:     log,
	}
}

// Load returns the caller's profile. It never fails for remote outages:
// a fresh cache entry or a default profile is returned instead, and Source
// says which.
func (r *Repository) Load(ctx context.Context, id domain.Identity) (res Result, err error) {
	defer apperrors.Recover("profile.Load", &err)

	if !id.Valid() {
		return Result{}, apperrors.NewAuthMissingError()
	}

	p, err := r.store.LoadProfile(ctx, id.Handle)
	switch {
	case err == nil:
		return r.remote(ctx, p), nil
	case errors.Is(err, domain.ErrNotFound):
		return r.createDefault(ctx, id), nil
	}

	r.log.Warn().Err(err).Str("handle", id.Handle).Msg("remote profile read failed, trying cache")
	if entry, cerr := r.cache.Get(ctx, id.Handle); cerr != nil {
		r.log.Warn().Err(cerr).Str("handle", id.Handle).Msg("profile cache read failed")
	} else if !entry.IsStale(r.now(), r.maxAge) {
		return Result{Profile: entry.Profile, Source: domain.SourceCache}, nil
	}

	def := r.defaultProfile(id)
	if cerr := r.store.CreateProfile(ctx, stored(def)); cerr != nil {
		r.log.Warn().Err(cerr).Int64("user_id", id.UserID).Msg("failed to persist default profile")
	}
	return Result{Profile: def, Source: domain.SourceDefault}, nil
}

// Save writes the editable fields, reconciles the bonus, recomputes
// completion points remotely, and returns the re-read authoritative profile.
// A save arriving while another is in flight returns the caller's copy.
func (r *Repository) Save(ctx context.Context, p *domain.Profile) (res Result, err error) {
	defer apperrors.Recover("profile.Save", &err)

	if p == nil || !(domain.Identity{UserID: p.UserID, Handle: p.Handle}).Valid() {
		return Result{}, apperrors.NewAuthMissingError()
	}
	if !r.saving.CompareAndSwap(false, true) {
		r.log.Debug().Int64("user_id", p.UserID).Msg("save already in flight, returning local copy")
		return Result{Profile: p.Clone(), Source: domain.SourceOptimistic}, nil
	}
	defer r.saving.Store(false)

	cur, err := r.store.LoadProfileByID(ctx, p.UserID)
	if err != nil {
		return Result{}, storeError("load_profile", p.UserID, err)
	}
	clean, err := sanitize(p, cur.PersonalInfo.IdentityVerified)
	if err != nil {
		return Result{}, err
	}

	if err := r.store.UpdateProfileFields(ctx, clean); err != nil {
		return Result{}, storeError("update_profile_fields", p.UserID, err)
	}
	if _, err := r.bonus.EnforceBonusOnce(ctx, clean.UserID, clean.Handle); err != nil {
		return Result{}, err
	}
	if _, err := r.store.UpdateCompletionPoints(ctx, clean.UserID, points.CountCompletion(*clean)); err != nil {
		return Result{}, storeError("update_completion_points", p.UserID, err)
	}

	fresh, err := r.store.LoadProfileByID(ctx, clean.UserID)
	if err != nil {
		return Result{}, storeError("load_profile", p.UserID, err)
	}
	res = r.remote(ctx, fresh)
	r.bus.Publish(res.Profile)
	return res, nil
}

// ForceSync discards the cached copy and reloads.
func (r *Repository) ForceSync(ctx context.Context, id domain.Identity) (Result, error) {
	if !id.Valid() {
		return Result{}, apperrors.NewAuthMissingError()
	}
	if err := r.cache.Invalidate(ctx, id.Handle); err != nil {
		r.log.Warn().Err(err).Str("handle", id.Handle).Msg("failed to invalidate profile cache")
	}
	return r.Load(ctx, id)
}

// Subscribe registers l for every successful Save.
func (r *Repository) Subscribe(l Listener) (unsubscribe func()) {
	return r.bus.Subscribe(l)
}

// remote decorates a remote read and writes it through to the cache.
func (r *Repository) remote(ctx context.Context, p *domain.Profile) Result {
	r.decorate(p)
	if err := r.cache.Set(ctx, p, r.now()); err != nil {
		r.log.Warn().Err(err).Str("handle", p.Handle).Msg("failed to cache profile")
	}
	return Result{Profile: p, Source: domain.SourceRemote}
}

func (r *Repository) createDefault(ctx context.Context, id domain.Identity) Result {
	def := r.defaultProfile(id)
	if err := r.store.CreateProfile(ctx, stored(def)); err != nil {
		if errors.Is(err, domain.ErrHandleTaken) {
			r.log.Error().Err(err).Int64("user_id", id.UserID).Str("handle", id.Handle).Msg("handle is registered to another user")
		} else {
			r.log.Warn().Err(err).Int64("user_id", id.UserID).Msg("failed to create default profile")
		}
		return Result{Profile: def, Source: domain.SourceDefault}
	}
	r.log.Info().Int64("user_id", id.UserID).Str("handle", id.Handle).Msg("created default profile")

	// Re-read by id: the user may already exist under a previous handle.
	p, err := r.store.LoadProfileByID(ctx, id.UserID)
	if err != nil {
		r.log.Warn().Err(err).Int64("user_id", id.UserID).Msg("failed to re-read created profile")
		return Result{Profile: def, Source: domain.SourceDefault}
	}
	res := r.remote(ctx, p)
	if membership.Normalize(p.Handle) == membership.Normalize(id.Handle) {
		res.Source = domain.SourceDefault
	}
	return res
}

func (r *Repository) defaultProfile(id domain.Identity) *domain.Profile {
	now := r.now()
	p := &domain.Profile{
		UserID:      id.UserID,
		Handle:      id.Handle,
		DisplayName: id.DisplayName,
		Points:      points.Base,
		Sessions:    []domain.SessionRecord{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.decorate(p)
	return p
}

func (r *Repository) decorate(p *domain.Profile) {
	points.Decorate(p)
	p.IsFoundingMember = r.members.IsFoundingMember(p.Handle)
	if p.Sessions == nil {
		p.Sessions = []domain.SessionRecord{}
	}
}

// stored strips display-only membership before a profile is persisted; the
// stored flag is set by the bonus enforcer once the grant is confirmed.
func stored(p *domain.Profile) *domain.Profile {
	c := p.Clone()
	c.IsFoundingMember = false
	return c
}

func storeError(op string, userID int64, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return apperrors.NewNotFoundError("profile", userID)
	}
	return apperrors.NewRemoteError(op, err)
}

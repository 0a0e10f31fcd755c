package profile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/open-builders/points-backend/internal/cache/memory"
	apperrors "github.com/open-builders/points-backend/internal/common/errors"
	domain "github.com/open-builders/points-backend/internal/domain/profile"
	"github.com/open-builders/points-backend/internal/membership"
	"github.com/open-builders/points-backend/internal/points"
	"github.com/open-builders/points-backend/internal/repository/memory"
	"github.com/open-builders/points-backend/internal/service/bonus"
)

type fixture struct {
	repo  *Repository
	store *memory.Store
	cache *cachemem.ProfileCache
	now   time.Time
}

func newFixture(t *testing.T, store domain.Store, members ...string) *fixture {
	t.Helper()
	f := &fixture{cache: cachemem.NewProfileCache(), now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	if ms, ok := store.(*memory.Store); ok {
		f.store = ms
	}
	list := membership.NewAllowList(members)
	f.repo = NewRepository(store, f.cache, bonus.NewEnforcer(store, list), list, Options{
		CacheMaxAge: 2 * time.Minute,
		Now:         func() time.Time { return f.now },
	})
	return f
}

var alice = domain.Identity{UserID: 1, Handle: "alice", DisplayName: "Alice"}

func TestLoadCreatesDefaultProfile(t *testing.T) {
	f := newFixture(t, memory.NewStore())
	ctx := context.Background()

	res, err := f.repo.Load(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceDefault, res.Source)
	assert.Equal(t, points.Base, res.Profile.Points)
	assert.Equal(t, points.Base, res.Profile.BasePoints)
	assert.Empty(t, res.Profile.Sessions)

	stored, err := f.store.LoadProfileByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, points.Base, stored.Points)

	res, err = f.repo.Load(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceRemote, res.Source)
}

func TestLoadRequiresIdentity(t *testing.T) {
	f := newFixture(t, memory.NewStore())

	_, err := f.repo.Load(context.Background(), domain.Identity{})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeAuthMissing))
	_, err = f.repo.Save(context.Background(), &domain.Profile{})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeAuthMissing))
}

func TestLoadFallsBackToFreshCache(t *testing.T) {
	f := newFixture(t, memory.NewStore())
	ctx := context.Background()

	_, err := f.repo.Load(ctx, alice)
	require.NoError(t, err)
	_, err = f.store.AddPoints(ctx, 1, 375)
	require.NoError(t, err)
	_, err = f.repo.Load(ctx, alice)
	require.NoError(t, err)

	f.store.Fail(errors.New("dial tcp: connection refused"))
	f.now = f.now.Add(90 * time.Second)

	res, err := f.repo.Load(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceCache, res.Source)
	assert.Equal(t, 1375, res.Profile.Points)
}

func TestLoadIgnoresStaleCache(t *testing.T) {
	f := newFixture(t, memory.NewStore())
	ctx := context.Background()

	_, err := f.repo.Load(ctx, alice)
	require.NoError(t, err)
	_, err = f.store.AddPoints(ctx, 1, 375)
	require.NoError(t, err)
	_, err = f.repo.Load(ctx, alice)
	require.NoError(t, err)

	f.store.Fail(errors.New("timeout"))
	f.now = f.now.Add(2 * time.Minute)

	res, err := f.repo.Load(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceDefault, res.Source)
	assert.Equal(t, points.Base, res.Profile.Points)
}

func TestSaveRecomputesPointsAndNotifies(t *testing.T) {
	f := newFixture(t, memory.NewStore(), "alice")
	ctx := context.Background()

	loaded, err := f.repo.Load(ctx, alice)
	require.NoError(t, err)

	var mu sync.Mutex
	var got []*domain.Profile
	f.repo.Subscribe(func(p *domain.Profile) { panic("listener bug") })
	f.repo.Subscribe(func(p *domain.Profile) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	})

	edit := loaded.Profile.Clone()
	edit.Points = 999999
	edit.PersonalInfo = domain.PersonalInfo{IdentityVerified: true, Bio: "  builder  ", Interests: []string{"go", "rust"}}
	edit.LinkedAccounts = domain.LinkedAccounts{GitHub: "@alice", TONWallet: "0:83dfd552e63729b472fcbcc8c45ebcc6691702558b68ec7527e1ba403a0f31a8"}

	res, err := f.repo.Save(ctx, edit)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceRemote, res.Source)

	// The verification claim is ignored.
	completion := 2*points.FieldPoints + 2*points.LinkedAccountPoints
	assert.False(t, res.Profile.PersonalInfo.IdentityVerified)
	assert.Equal(t, points.Base+points.Bonus+completion, res.Profile.Points)
	assert.Equal(t, completion, res.Profile.CompletionPoints)
	assert.True(t, res.Profile.BonusGranted)
	assert.Equal(t, "builder", res.Profile.PersonalInfo.Bio)
	assert.Equal(t, "alice", res.Profile.LinkedAccounts.GitHub)
	assert.Equal(t, points.ComputeTotalPoints(*res.Profile), res.Profile.Points)

	require.Len(t, got, 1)
	assert.Equal(t, res.Profile.Points, got[0].Points)

	cached, err := f.cache.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, res.Profile.Points, cached.Profile.Points)

	// Saving again must not add the bonus twice.
	res, err = f.repo.Save(ctx, res.Profile)
	require.NoError(t, err)
	assert.Equal(t, points.Base+points.Bonus+completion, res.Profile.Points)
}

func TestSaveKeepsStoredVerification(t *testing.T) {
	store := memory.NewStore()
	store.Seed(&domain.Profile{
		UserID:           1,
		Handle:           "alice",
		PersonalInfo:     domain.PersonalInfo{IdentityVerified: true},
		Points:           points.Base + points.VerifiedIdentityPoints,
		CompletionPoints: points.VerifiedIdentityPoints,
	})
	f := newFixture(t, store)
	ctx := context.Background()

	// Clearing the flag from the client does not take the points away.
	res, err := f.repo.Save(ctx, &domain.Profile{UserID: 1, Handle: "alice", PersonalInfo: domain.PersonalInfo{Bio: "builder"}})
	require.NoError(t, err)
	assert.True(t, res.Profile.PersonalInfo.IdentityVerified)
	assert.Equal(t, points.Base+points.VerifiedIdentityPoints+points.FieldPoints, res.Profile.Points)
	assert.Equal(t, points.ComputeTotalPoints(*res.Profile), res.Profile.Points)
}

func TestSaveRejectsMalformedWallet(t *testing.T) {
	f := newFixture(t, memory.NewStore())
	ctx := context.Background()

	loaded, err := f.repo.Load(ctx, alice)
	require.NoError(t, err)

	edit := loaded.Profile.Clone()
	edit.PersonalInfo.Bio = "should not be written"
	edit.LinkedAccounts.TONWallet = "not-a-wallet"

	_, err = f.repo.Save(ctx, edit)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))
	assert.False(t, apperrors.Retryable(err))

	stored, err := f.store.LoadProfileByID(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, stored.PersonalInfo.Bio)
}

func TestSaveSurfacesRemoteFailure(t *testing.T) {
	f := newFixture(t, memory.NewStore())
	ctx := context.Background()

	loaded, err := f.repo.Load(ctx, alice)
	require.NoError(t, err)
	f.store.Fail(errors.New("connection reset"))

	_, err = f.repo.Save(ctx, loaded.Profile)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeRemoteUnavailable))
	assert.True(t, apperrors.Retryable(err))

	// The guard is released after a failed save.
	f.store.Fail(nil)
	_, err = f.repo.Save(ctx, loaded.Profile)
	assert.NoError(t, err)
}

// blockingStore parks UpdateProfileFields until released.
type blockingStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) UpdateProfileFields(ctx context.Context, p *domain.Profile) error {
	close(s.entered)
	<-s.release
	return s.Store.UpdateProfileFields(ctx, p)
}

func TestSaveInFlightReturnsOptimisticCopy(t *testing.T) {
	mem := memory.NewStore()
	require.NoError(t, mem.CreateProfile(context.Background(), &domain.Profile{UserID: 1, Handle: "alice", Points: points.Base}))
	bs := &blockingStore{Store: mem, entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, bs)
	ctx := context.Background()

	first := &domain.Profile{UserID: 1, Handle: "alice", PersonalInfo: domain.PersonalInfo{Bio: "first"}}
	done := make(chan error, 1)
	go func() {
		_, err := f.repo.Save(ctx, first)
		done <- err
	}()
	<-bs.entered

	second := &domain.Profile{UserID: 1, Handle: "alice", PersonalInfo: domain.PersonalInfo{Bio: "second"}}
	res, err := f.repo.Save(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceOptimistic, res.Source)
	assert.Equal(t, "second", res.Profile.PersonalInfo.Bio)

	close(bs.release)
	require.NoError(t, <-done)

	stored, err := mem.LoadProfileByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "first", stored.PersonalInfo.Bio)
}

func TestForceSyncDropsCache(t *testing.T) {
	f := newFixture(t, memory.NewStore())
	ctx := context.Background()

	_, err := f.repo.Load(ctx, alice)
	require.NoError(t, err)
	_, err = f.store.AddPoints(ctx, 1, 50)
	require.NoError(t, err)

	res, err := f.repo.ForceSync(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceRemote, res.Source)
	assert.Equal(t, points.Base+50, res.Profile.Points)

	f.store.Fail(errors.New("down"))
	require.NoError(t, f.cache.Invalidate(ctx, "alice"))
	res, err = f.repo.ForceSync(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceDefault, res.Source)
}

func TestUnsubscribe(t *testing.T) {
	f := newFixture(t, memory.NewStore())
	ctx := context.Background()
	loaded, err := f.repo.Load(ctx, alice)
	require.NoError(t, err)

	calls := 0
	unsubscribe := f.repo.Subscribe(func(*domain.Profile) { calls++ })
	_, err = f.repo.Save(ctx, loaded.Profile)
	require.NoError(t, err)
	unsubscribe()
	unsubscribe()
	_, err = f.repo.Save(ctx, loaded.Profile)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, f.repo.bus.Len())
}

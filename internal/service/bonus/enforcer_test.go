package bonus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/open-builders/points-backend/internal/common/errors"
	domain "github.com/open-builders/points-backend/internal/domain/profile"
	"github.com/open-builders/points-backend/internal/membership"
	"github.com/open-builders/points-backend/internal/points"
	"github.com/open-builders/points-backend/internal/repository/memory"
)

func setup(t *testing.T, members ...string) (*Enforcer, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.CreateProfile(context.Background(), &domain.Profile{UserID: 1, Handle: "og", Points: points.Base}))
	return NewEnforcer(store, membership.NewAllowList(members)), store
}

func TestEnforceBonusOnceGrantsExactlyOnce(t *testing.T) {
	e, store := setup(t, "og")
	ctx := context.Background()

	res, err := e.EnforceBonusOnce(ctx, 1, "og")
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.Equal(t, 11000, res.NewTotal)

	res, err = e.EnforceBonusOnce(ctx, 1, "@OG")
	require.NoError(t, err)
	assert.False(t, res.Granted)
	assert.True(t, res.AlreadyGranted)

	p, err := store.LoadProfileByID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, p.BonusGranted)
	assert.True(t, p.IsFoundingMember)
	assert.Equal(t, 11000, p.Points)
	assert.Equal(t, points.ComputeTotalPoints(*p), p.Points)
}

func TestEnforceBonusOnceConcurrentCallers(t *testing.T) {
	e, store := setup(t, "og")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.EnforceBonusOnce(ctx, 1, "og")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := store.LoadProfileByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, points.Base+points.Bonus, p.Points)
}

func TestEnforceBonusOnceNonMember(t *testing.T) {
	e, store := setup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := e.EnforceBonusOnce(ctx, 1, "og")
		require.NoError(t, err)
		assert.False(t, res.Granted)
		assert.False(t, res.AlreadyGranted)
	}

	p, err := store.LoadProfileByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, points.Base, p.Points)
	assert.False(t, p.BonusGranted)
}

func TestEnforceBonusOnceErrors(t *testing.T) {
	e, store := setup(t, "og", "ghost")
	ctx := context.Background()

	_, err := e.EnforceBonusOnce(ctx, 0, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeAuthMissing))

	_, err = e.EnforceBonusOnce(ctx, 99, "ghost")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))

	store.Fail(errors.New("connection reset"))
	_, err = e.EnforceBonusOnce(ctx, 1, "og")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeRemoteUnavailable))
	assert.True(t, apperrors.Retryable(err))
}

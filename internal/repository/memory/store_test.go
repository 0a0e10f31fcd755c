package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-builders/points-backend/internal/domain/profile"
	"github.com/open-builders/points-backend/internal/points"
)

func newSeeded(t *testing.T) (*Store, context.Context) {
	t.Helper()
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.CreateProfile(ctx, &profile.Profile{UserID: 1, Handle: "Alice", Points: points.Base}))
	return s, ctx
}

func TestLoadProfileByHandleIsCaseInsensitive(t *testing.T) {
	s, ctx := newSeeded(t)

	p, err := s.LoadProfile(ctx, "@alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.UserID)

	_, err = s.LoadProfile(ctx, "bob")
	assert.ErrorIs(t, err, profile.ErrNotFound)
}

func TestGrantBonusOnceConcurrent(t *testing.T) {
	s, ctx := newSeeded(t)

	var wg sync.WaitGroup
	granted := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.GrantBonusOnce(ctx, 1, points.Bonus)
			assert.NoError(t, err)
			granted <- res.Granted
		}()
	}
	wg.Wait()
	close(granted)

	n := 0
	for g := range granted {
		if g {
			n++
		}
	}
	assert.Equal(t, 1, n)

	p, err := s.LoadProfileByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, points.Base+points.Bonus, p.Points)
	assert.True(t, p.BonusGranted)
}

func TestRecordSessionDeduplicates(t *testing.T) {
	s, ctx := newSeeded(t)
	ts := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

	out, err := s.RecordSession(ctx, 1, profile.SessionRecord{Timestamp: ts, QuestionsAnswered: 5, PointsEarned: 375, HumanScore: 80}, 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, out.Inserted)
	assert.Equal(t, 1375, out.NewTotal)

	out, err = s.RecordSession(ctx, 1, profile.SessionRecord{Timestamp: ts.Add(3 * time.Minute), QuestionsAnswered: 5, PointsEarned: 375}, 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, out.Inserted)
	assert.Equal(t, 1375, out.NewTotal)

	out, err = s.RecordSession(ctx, 1, profile.SessionRecord{Timestamp: ts.Add(3 * time.Minute), QuestionsAnswered: 6, PointsEarned: 100, HumanScore: 20}, 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, out.Inserted)

	p, err := s.LoadProfileByID(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, p.Sessions, 2)
	assert.Equal(t, 11, p.TotalQuestionsAnswered)
	assert.Equal(t, 47, p.HumanScore)
	assert.Equal(t, points.ComputeTotalPoints(*p), p.Points)
}

func TestImportLegacySessionsOnce(t *testing.T) {
	s, ctx := newSeeded(t)
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	out, err := s.ImportLegacySessions(ctx, 1, []profile.SessionRecord{
		{Timestamp: ts, QuestionsAnswered: 3, PointsEarned: 90},
		{Timestamp: ts, QuestionsAnswered: 4, PointsEarned: 90},
		{Timestamp: ts.Add(time.Hour), QuestionsAnswered: 2, PointsEarned: 60},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Imported)
	assert.Equal(t, 1, out.Present)
	assert.Equal(t, points.Base+150, out.NewTotal)

	_, err = s.ImportLegacySessions(ctx, 1, []profile.SessionRecord{{Timestamp: ts.Add(2 * time.Hour), PointsEarned: 90}})
	assert.ErrorIs(t, err, profile.ErrLegacyImported)

	p, err := s.LoadProfileByID(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, p.Sessions, 2)
	assert.NotNil(t, p.LegacyImportedAt)
	assert.Equal(t, points.ComputeTotalPoints(*p), p.Points)
}

func TestUpdateCompletionPointsAppliesDelta(t *testing.T) {
	s, ctx := newSeeded(t)

	ch, err := s.UpdateCompletionPoints(ctx, 1, profile.CompletionCounts{HasVerifiedIdentity: true, FilledFieldCount: 2})
	require.NoError(t, err)
	assert.Equal(t, points.Base, ch.OldTotal)
	assert.Equal(t, points.Base+points.VerifiedIdentityPoints+2*points.FieldPoints, ch.NewTotal)

	ch, err = s.UpdateCompletionPoints(ctx, 1, profile.CompletionCounts{FilledFieldCount: 1})
	require.NoError(t, err)
	assert.Equal(t, points.Base+points.FieldPoints, ch.NewTotal)
}

func TestNeedsMigrationAndRecalculate(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	s.Seed(&profile.Profile{UserID: 7, Handle: "og", Points: 400})

	st, err := s.NeedsMigration(ctx, 7, false)
	require.NoError(t, err)
	assert.False(t, st.MissingBonus)
	assert.True(t, st.NeedsMigration)

	st, err = s.NeedsMigration(ctx, 7, true)
	require.NoError(t, err)
	assert.True(t, st.NeedsMigration)
	assert.True(t, st.MissingBonus)
	assert.True(t, st.PointsInconsistent)

	ch, err := s.RecalculatePoints(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 400, ch.OldTotal)
	assert.Equal(t, points.Base, ch.NewTotal)

	require.NoError(t, s.MarkMigrationSeen(ctx, 7))
	st, err = s.NeedsMigration(ctx, 7, true)
	require.NoError(t, err)
	assert.False(t, st.NeedsMigration)
	assert.True(t, st.MissingBonus)
}

func TestFailureInjection(t *testing.T) {
	s, ctx := newSeeded(t)
	boom := errors.New("connection refused")
	s.Fail(boom)

	_, err := s.LoadProfile(ctx, "alice")
	assert.ErrorIs(t, err, boom)
	_, err = s.AddPoints(ctx, 1, 10)
	assert.ErrorIs(t, err, boom)

	s.Fail(nil)
	ch, err := s.AddPoints(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, points.Base+10, ch.NewTotal)
}

func TestListUserIDsKeyset(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	for _, id := range []int64{5, 3, 9, 1} {
		s.Seed(&profile.Profile{UserID: id, Handle: string(rune('a' + id))})
	}
	ids, err := s.ListUserIDs(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)

	ids, err = s.ListUserIDs(ctx, 3, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 9}, ids)
}

func TestCreateProfileRejectsTakenHandle(t *testing.T) {
	s, ctx := newSeeded(t)

	err := s.CreateProfile(ctx, &profile.Profile{UserID: 2, Handle: "ALICE"})
	assert.ErrorIs(t, err, profile.ErrHandleTaken)

	require.NoError(t, s.CreateProfile(ctx, &profile.Profile{UserID: 1, Handle: "alice"}))
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-builders/points-backend/docs"
	apperrors "github.com/open-builders/points-backend/internal/common/errors"
	domain "github.com/open-builders/points-backend/internal/domain/profile"
	mw "github.com/open-builders/points-backend/internal/http/middleware"
	"github.com/open-builders/points-backend/internal/points"
	"github.com/open-builders/points-backend/internal/service/bonus"
	"github.com/open-builders/points-backend/internal/service/login"
	"github.com/open-builders/points-backend/internal/service/profile"
	"github.com/open-builders/points-backend/internal/service/recovery"
	"github.com/open-builders/points-backend/internal/service/session"
)

var alice = domain.Identity{UserID: 42, Handle: "alice"}

type fakeProfiles struct {
	saved  *domain.Profile
	source domain.Source
	err    error
}

func (f *fakeProfiles) Load(ctx context.Context, id domain.Identity) (profile.Result, error) {
	if f.err != nil {
		return profile.Result{}, f.err
	}
	return profile.Result{Profile: &domain.Profile{UserID: id.UserID, Handle: id.Handle, Points: points.Base}, Source: domain.SourceRemote}, nil
}

func (f *fakeProfiles) Save(ctx context.Context, p *domain.Profile) (profile.Result, error) {
	f.saved = p
	src := f.source
	if src == "" {
		src = domain.SourceRemote
	}
	return profile.Result{Profile: p, Source: src}, nil
}

func (f *fakeProfiles) ForceSync(ctx context.Context, id domain.Identity) (profile.Result, error) {
	return f.Load(ctx, id)
}

type fakeSessions struct {
	duplicate bool
	err       error
	edited    uuid.UUID
}

func (f *fakeSessions) RecordSession(ctx context.Context, userID int64, in session.Input) (session.Recorded, error) {
	if f.err != nil {
		return session.Recorded{}, f.err
	}
	return session.Recorded{Duplicate: f.duplicate, NewTotal: points.Base + in.PointsEarned}, nil
}

func (f *fakeSessions) CheckLimit(ctx context.Context, userID int64) (points.Limit, error) {
	return points.Limit{Allowed: true, Remaining: 3}, nil
}

func (f *fakeSessions) UploadLegacy(ctx context.Context, userID int64, handle string, records []domain.LegacySession) (session.ImportResult, error) {
	if f.err != nil {
		return session.ImportResult{}, f.err
	}
	return session.ImportResult{Imported: len(records)}, nil
}

func (f *fakeSessions) EditSessionAnswers(ctx context.Context, userID int64, id uuid.UUID, edits []session.AnswerEdit) (session.Edited, error) {
	f.edited = id
	return session.Edited{NewTotal: 1100}, nil
}

type fakeBonus struct{}

func (fakeBonus) EnforceBonusOnce(ctx context.Context, userID int64, handle string) (bonus.Result, error) {
	return bonus.Result{Granted: true, NewTotal: points.Base + points.Bonus}, nil
}

type fakeLogin struct{}

func (fakeLogin) Login(ctx context.Context, id domain.Identity) (login.Result, error) {
	return login.Result{Result: profile.Result{Profile: &domain.Profile{UserID: id.UserID}, Source: domain.SourceCache}}, nil
}

type fakeRecovery struct {
	dryRun *bool
	halt   bool
}

func (f *fakeRecovery) RecoverUser(ctx context.Context, handle string, dryRun bool) (*recovery.Log, error) {
	f.dryRun = &dryRun
	if handle == "ghost" {
		return nil, apperrors.NewNotFoundError("profile", handle)
	}
	return &recovery.Log{Handle: handle, DryRun: dryRun}, nil
}

func (f *fakeRecovery) BatchRecover(ctx context.Context, opts recovery.BatchOptions) (*recovery.BatchResult, error) {
	res := &recovery.BatchResult{DryRun: opts.DryRun, Processed: 2, LastProcessedID: 7}
	if f.halt {
		return res, apperrors.New(apperrors.ErrCodeMigrationPartial, "halted")
	}
	return res, nil
}

type testEnv struct {
	router   *gin.Engine
	profiles *fakeProfiles
	sessions *fakeSessions
	recovery *fakeRecovery
}

// withIdentity stands in for init-data validation.
func withIdentity(id *domain.Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id != nil {
			c.Set(mw.IdentityKey, *id)
		}
		c.Next()
	}
}

func newEnv(t *testing.T, id *domain.Identity, checks ...HealthCheck) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	env := &testEnv{profiles: &fakeProfiles{}, sessions: &fakeSessions{}, recovery: &fakeRecovery{}}
	env.router = NewRouter(Deps{
		Profiles: env.profiles,
		Sessions: env.sessions,
		Bonus:    fakeBonus{},
		Login:    fakeLogin{},
		Recovery: env.recovery,
		Auth:     withIdentity(id),
		IsAdmin:  func(userID int64) bool { return userID == 1 },
		Checks:   checks,
		Debug:    true,
	})
	return env
}

func (e *testEnv) do(method, path string, body interface{}) (*httptest.ResponseRecorder, mw.Response) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var resp mw.Response
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func TestProfileRequiresIdentity(t *testing.T) {
	env := newEnv(t, nil)

	rec, resp := env.do(nethttp.MethodGet, "/api/v1/profile", nil)
	assert.Equal(t, nethttp.StatusUnauthorized, rec.Code)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperrors.ErrCodeAuthMissing, resp.Error.Code)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, resp.RequestID, rec.Header().Get("X-Request-ID"))
}

func TestGetProfileReportsSource(t *testing.T) {
	env := newEnv(t, &alice)

	rec, resp := env.do(nethttp.MethodGet, "/api/v1/profile", nil)
	assert.Equal(t, nethttp.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, domain.SourceRemote, resp.Source)
}

func TestGetProfileMapsRemoteFailure(t *testing.T) {
	env := newEnv(t, &alice)
	env.profiles.err = apperrors.NewRemoteError("load_profile", errors.New("timeout"))

	rec, resp := env.do(nethttp.MethodGet, "/api/v1/profile", nil)
	assert.Equal(t, nethttp.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, apperrors.ErrCodeRemoteUnavailable, resp.Error.Code)
}

func TestSaveProfileUsesAuthenticatedOwner(t *testing.T) {
	env := newEnv(t, &alice)

	body := map[string]interface{}{
		"user_id":      999,
		"handle":       "mallory",
		"points":       1000000,
		"display_name": "Alice",
		"personal_info": map[string]interface{}{
			"bio": "hello",
		},
	}
	rec, resp := env.do(nethttp.MethodPut, "/api/v1/profile", body)
	assert.Equal(t, nethttp.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	require.NotNil(t, env.profiles.saved)
	assert.Equal(t, alice.UserID, env.profiles.saved.UserID)
	assert.Equal(t, alice.Handle, env.profiles.saved.Handle)
	assert.Zero(t, env.profiles.saved.Points)
	assert.Equal(t, "hello", env.profiles.saved.PersonalInfo.Bio)
}

func TestSaveProfileInFlightIsAccepted(t *testing.T) {
	env := newEnv(t, &alice)
	env.profiles.source = domain.SourceOptimistic

	rec, resp := env.do(nethttp.MethodPut, "/api/v1/profile", map[string]interface{}{})
	assert.Equal(t, nethttp.StatusAccepted, rec.Code)
	assert.Equal(t, domain.SourceOptimistic, resp.Source)
}

func TestSaveProfileRejectsMalformedBody(t *testing.T) {
	env := newEnv(t, &alice)

	req := httptest.NewRequest(nethttp.MethodPut, "/api/v1/profile", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
}

func TestRecordSessionStatus(t *testing.T) {
	env := newEnv(t, &alice)
	in := session.Input{QuestionsAnswered: 5, PointsEarned: 375, HumanScore: 80}

	rec, _ := env.do(nethttp.MethodPost, "/api/v1/sessions", in)
	assert.Equal(t, nethttp.StatusCreated, rec.Code)

	env.sessions.duplicate = true
	rec, resp := env.do(nethttp.MethodPost, "/api/v1/sessions", in)
	assert.Equal(t, nethttp.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	env.sessions.err = apperrors.NewRateLimitError(time.Now().Add(time.Hour))
	rec, resp = env.do(nethttp.MethodPost, "/api/v1/sessions", in)
	assert.Equal(t, nethttp.StatusTooManyRequests, rec.Code)
	assert.Contains(t, resp.Error.Details, "next_available_at")
}

func TestSessionLimit(t *testing.T) {
	env := newEnv(t, &alice)

	rec, resp := env.do(nethttp.MethodGet, "/api/v1/sessions/limit", nil)
	assert.Equal(t, nethttp.StatusOK, rec.Code)
	assert.True(t, resp.Success)
}

func TestEditAnswers(t *testing.T) {
	env := newEnv(t, &alice)
	edits := map[string]interface{}{"edits": []session.AnswerEdit{{QuestionID: "q1", AnswerText: "new"}}}

	rec, _ := env.do(nethttp.MethodPut, "/api/v1/sessions/not-a-uuid/answers", edits)
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)

	id := uuid.New()
	rec, _ = env.do(nethttp.MethodPut, "/api/v1/sessions/"+id.String()+"/answers", edits)
	assert.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Equal(t, id, env.sessions.edited)
}

func TestBonusAndLogin(t *testing.T) {
	env := newEnv(t, &alice)

	rec, resp := env.do(nethttp.MethodPost, "/api/v1/bonus", nil)
	assert.Equal(t, nethttp.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, resp = env.do(nethttp.MethodPost, "/api/v1/login", nil)
	assert.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Equal(t, domain.SourceCache, resp.Source)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env := newEnv(t, &alice)

	rec, resp := env.do(nethttp.MethodGet, "/api/v1/admin/recovery/bob", nil)
	assert.Equal(t, nethttp.StatusForbidden, rec.Code)
	assert.Equal(t, apperrors.ErrCodeForbidden, resp.Error.Code)
	assert.Nil(t, env.recovery.dryRun)
}

func TestRecoverUserDefaultsToDryRun(t *testing.T) {
	admin := domain.Identity{UserID: 1, Handle: "root"}
	env := newEnv(t, &admin)

	rec, _ := env.do(nethttp.MethodGet, "/api/v1/admin/recovery/bob", nil)
	assert.Equal(t, nethttp.StatusOK, rec.Code)
	require.NotNil(t, env.recovery.dryRun)
	assert.True(t, *env.recovery.dryRun)

	rec, _ = env.do(nethttp.MethodGet, "/api/v1/admin/recovery/bob?dry_run=false", nil)
	assert.Equal(t, nethttp.StatusOK, rec.Code)
	assert.False(t, *env.recovery.dryRun)

	rec, _ = env.do(nethttp.MethodGet, "/api/v1/admin/recovery/bob?dry_run=maybe", nil)
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)

	rec, _ = env.do(nethttp.MethodGet, "/api/v1/admin/recovery/ghost", nil)
	assert.Equal(t, nethttp.StatusNotFound, rec.Code)
}

func TestBatchRecoverHaltReturnsPartialResult(t *testing.T) {
	admin := domain.Identity{UserID: 1, Handle: "root"}
	env := newEnv(t, &admin)

	rec, resp := env.do(nethttp.MethodPost, "/api/v1/admin/recovery/batch", recovery.BatchOptions{DryRun: true})
	assert.Equal(t, nethttp.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	env.recovery.halt = true
	rec, resp = env.do(nethttp.MethodPost, "/api/v1/admin/recovery/batch", nil)
	assert.Equal(t, nethttp.StatusMultiStatus, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, apperrors.ErrCodeMigrationPartial, resp.Error.Code)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 7, data["last_processed_id"])
}

func TestHealth(t *testing.T) {
	env := newEnv(t, nil, HealthCheck{Name: "postgres", Check: func(context.Context) error { return nil }})
	rec, _ := env.do(nethttp.MethodGet, "/health", nil)
	assert.Equal(t, nethttp.StatusOK, rec.Code)

	env = newEnv(t, nil, HealthCheck{Name: "redis", Check: func(context.Context) error { return errors.New("down") }})
	rec, _ = env.do(nethttp.MethodGet, "/health", nil)
	assert.Equal(t, nethttp.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "down")
}

func TestUploadLegacy(t *testing.T) {
	env := newEnv(t, &alice)
	body := map[string]interface{}{"sessions": []map[string]interface{}{
		{"timestamp": "2025-03-01T09:00:00Z", "questionsAnswered": 3, "humanScore": 70, "pointsEarned": 90},
	}}

	rec, resp := env.do(nethttp.MethodPost, "/api/v1/sessions/legacy", body)
	assert.Equal(t, nethttp.StatusOK, rec.Code)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, data["imported"])
}

func TestUploadLegacyRepeatIsForbidden(t *testing.T) {
	env := newEnv(t, &alice)
	env.sessions.err = apperrors.New(apperrors.ErrCodeForbidden, "legacy sessions were already imported")

	rec, resp := env.do(nethttp.MethodPost, "/api/v1/sessions/legacy", map[string]interface{}{"sessions": []interface{}{}})
	assert.Equal(t, nethttp.StatusForbidden, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperrors.ErrCodeForbidden, resp.Error.Code)
}

func TestLive(t *testing.T) {
	env := newEnv(t, nil)
	rec, _ := env.do(nethttp.MethodGet, "/live", nil)
	assert.Equal(t, nethttp.StatusOK, rec.Code)
}

func TestSwaggerDocumentsEveryRoute(t *testing.T) {
	env := newEnv(t, &alice)

	var doc struct {
		BasePath string                                `json:"basePath"`
		Paths    map[string]map[string]json.RawMessage `json:"paths"`
	}
	require.NoError(t, json.Unmarshal([]byte(docs.SwaggerInfo.ReadDoc()), &doc))
	assert.Equal(t, "/", doc.BasePath)

	for _, rt := range env.router.Routes() {
		if strings.HasPrefix(rt.Path, "/swagger") {
			continue
		}
		path := rt.Path
		if i := strings.Index(path, ":"); i >= 0 {
			rest := path[i+1:]
			name, tail, _ := strings.Cut(rest, "/")
			path = path[:i] + "{" + name + "}"
			if tail != "" {
				path += "/" + tail
			}
		}
		ops, ok := doc.Paths[path]
		if !assert.True(t, ok, "undocumented path %s", path) {
			continue
		}
		_, ok = ops[strings.ToLower(rt.Method)]
		assert.True(t, ok, "undocumented %s %s", rt.Method, path)
	}
}

package http

import (
	"context"
	nethttp "net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/open-builders/points-backend/docs"
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

// Profiles is the profile read/write path.
type Profiles interface {
	Load(ctx context.Context, id domain.Identity) (profile.Result, error)
	Save(ctx context.Context, p *domain.Profile) (profile.Result, error)
	ForceSync(ctx context.Context, id domain.Identity) (profile.Result, error)
}

type Sessions interface {
	RecordSession(ctx context.Context, userID int64, in session.Input) (session.Recorded, error)
	CheckLimit(ctx context.Context, userID int64) (points.Limit, error)
	EditSessionAnswers(ctx context.Context, userID int64, sessionID uuid.UUID, edits []session.AnswerEdit) (session.Edited, error)
	UploadLegacy(ctx context.Context, userID int64, handle string, records []domain.LegacySession) (session.ImportResult, error)
}

type Bonus interface {
	EnforceBonusOnce(ctx context.Context, userID int64, handle string) (bonus.Result, error)
}

type Login interface {
	Login(ctx context.Context, id domain.Identity) (login.Result, error)
}

type Recovery interface {
	RecoverUser(ctx context.Context, handle string, dryRun bool) (*recovery.Log, error)
	BatchRecover(ctx context.Context, opts recovery.BatchOptions) (*recovery.BatchResult, error)
}

// HealthCheck is one named dependency check reported by /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the services and settings the router is built from.
type Deps struct {
	Profiles Profiles
	Sessions Sessions
	Bonus    Bonus
	Login    Login
	Recovery Recovery

	// Auth resolves the caller's identity; usually mw.InitData.
	Auth    gin.HandlerFunc
	IsAdmin func(userID int64) bool

	Origins []string
	Checks  []HealthCheck
	Debug   bool
}

// NewRouter builds the gin engine with every API route.
func NewRouter(d Deps) *gin.Engine {
	if !d.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(mw.RequestID(), mw.Logger(), mw.Recovery())

	corsCfg := cors.DefaultConfig()
	if origins := cleanOrigins(d.Origins); len(origins) > 0 {
		corsCfg.AllowOrigins = origins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-Telegram-Init-Data", "init_data", "X-Request-ID"}
	corsCfg.ExposeHeaders = []string{"X-Request-ID"}
	r.Use(cors.New(corsCfg))

	h := &handlers{d: d}
	r.GET("/health", h.health)
	r.GET("/live", h.live)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api/v1")
	api.Use(d.Auth)
	{
		api.POST("/login", h.login)
		api.GET("/profile", h.getProfile)
		api.PUT("/profile", h.saveProfile)
		api.POST("/profile/sync", h.syncProfile)
		api.POST("/bonus", h.enforceBonus)

		api.GET("/sessions/limit", h.sessionLimit)
		api.POST("/sessions", h.recordSession)
		api.PUT("/sessions/:id/answers", h.editAnswers)
		api.POST("/sessions/legacy", h.uploadLegacy)
	}

	admin := api.Group("/admin")
	admin.Use(mw.RequireAdmin(d.IsAdmin))
	{
		admin.GET("/recovery/:handle", h.recoverUser)
		admin.POST("/recovery/batch", h.batchRecover)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(nethttp.StatusNotFound, mw.Response{Success: false, RequestID: mw.RequestIDOf(c)})
	})
	return r
}

func cleanOrigins(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

type handlers struct {
	d Deps
}

// identity returns the caller or writes AUTH_MISSING.
func identity(c *gin.Context) (domain.Identity, bool) {
	id, ok := mw.Identity(c)
	if !ok {
		mw.Abort(c, apperrors.NewAuthMissingError())
	}
	return id, ok
}

package http

import (
	"context"
	nethttp "net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/open-builders/points-backend/internal/common/errors"
	mw "github.com/open-builders/points-backend/internal/http/middleware"
	"github.com/open-builders/points-backend/internal/service/recovery"
)

// @Summary Recover user
// @Description Recomputes one user's total and, unless dry_run=false, applies the correction.
// @Tags admin
// @Produce json
// @Security TelegramInitData
// @Param handle path string true "User handle"
// @Param dry_run query bool false "Only compute the change" default(true)
// @Success 200 {object} middleware.Response{data=recovery.Log}
// @Failure 403 {object} middleware.Response
// @Failure 404 {object} middleware.Response
// @Router /api/v1/admin/recovery/{handle} [get]
func (h *handlers) recoverUser(c *gin.Context) {
	dryRun := true
	if v := c.Query("dry_run"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			mw.Fail(c, apperrors.NewValidationError("dry_run", "must be a boolean"), nil)
			return
		}
		dryRun = parsed
	}
	l, err := h.d.Recovery.RecoverUser(c.Request.Context(), c.Param("handle"), dryRun)
	if err != nil {
		mw.Fail(c, err, l)
		return
	}
	mw.OK(c, nethttp.StatusOK, l, "")
}

// @Summary Batch recovery
// @Description Walks every user and repairs drifted totals within the given safety budgets. A halted run returns 207 with the partial result; resume with start_after=last_processed_id.
// @Tags admin
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param options body recovery.BatchOptions false "Run options; zero values use server defaults"
// @Success 200 {object} middleware.Response{data=recovery.BatchResult}
// @Success 207 {object} middleware.Response{data=recovery.BatchResult}
// @Failure 403 {object} middleware.Response
// @Router /api/v1/admin/recovery/batch [post]
func (h *handlers) batchRecover(c *gin.Context) {
	var opts recovery.BatchOptions
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			mw.Fail(c, apperrors.NewValidationError("body", err.Error()), nil)
			return
		}
	}
	res, err := h.d.Recovery.BatchRecover(c.Request.Context(), opts)
	if err != nil {
		mw.Fail(c, err, res)
		return
	}
	mw.OK(c, nethttp.StatusOK, res, "")
}

// @Summary Health
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health [get]
func (h *handlers) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := nethttp.StatusOK
	checks := make(map[string]string, len(h.d.Checks))
	for _, hc := range h.d.Checks {
		if err := hc.Check(ctx); err != nil {
			checks[hc.Name] = err.Error()
			status = nethttp.StatusServiceUnavailable
			continue
		}
		checks[hc.Name] = "ok"
	}
	c.JSON(status, gin.H{"status": nethttp.StatusText(status), "checks": checks, "time": time.Now().UTC()})
}

// @Summary Liveness
// @Tags system
// @Success 200
// @Router /live [get]
func (h *handlers) live(c *gin.Context) {
	c.Status(nethttp.StatusOK)
}

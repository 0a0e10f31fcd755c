package http

import (
	nethttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/open-builders/points-backend/internal/common/errors"
	domain "github.com/open-builders/points-backend/internal/domain/profile"
	mw "github.com/open-builders/points-backend/internal/http/middleware"
	"github.com/open-builders/points-backend/internal/service/session"
)

// @Summary Session limit
// @Description Reports how many sessions the caller has left in the rolling window.
// @Tags sessions
// @Produce json
// @Security TelegramInitData
// @Success 200 {object} middleware.Response{data=points.Limit}
// @Failure 401 {object} middleware.Response
// @Router /api/v1/sessions/limit [get]
func (h *handlers) sessionLimit(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	limit, err := h.d.Sessions.CheckLimit(c.Request.Context(), id.UserID)
	if err != nil {
		mw.Fail(c, err, nil)
		return
	}
	mw.OK(c, nethttp.StatusOK, limit, "")
}

// @Summary Record session
// @Description Records a completed session and adds its points. A retry of an already recorded session returns 200 with duplicate=true.
// @Tags sessions
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param session body session.Input true "Session"
// @Success 201 {object} middleware.Response{data=session.Recorded}
// @Success 200 {object} middleware.Response{data=session.Recorded}
// @Failure 400 {object} middleware.Response
// @Failure 429 {object} middleware.Response
// @Router /api/v1/sessions [post]
func (h *handlers) recordSession(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var in session.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		mw.Fail(c, apperrors.NewValidationError("body", err.Error()), nil)
		return
	}
	out, err := h.d.Sessions.RecordSession(c.Request.Context(), id.UserID, in)
	if err != nil {
		mw.Fail(c, err, nil)
		return
	}
	status := nethttp.StatusCreated
	if out.Duplicate {
		status = nethttp.StatusOK
	}
	mw.OK(c, status, out, "")
}

type editAnswersRequest struct {
	Edits []session.AnswerEdit `json:"edits" binding:"required,dive"`
}

// @Summary Edit session answers
// @Description Replaces answers of one session and re-scores only that session.
// @Tags sessions
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Session ID"
// @Param edits body editAnswersRequest true "Edits"
// @Success 200 {object} middleware.Response{data=session.Edited}
// @Failure 400 {object} middleware.Response
// @Failure 404 {object} middleware.Response
// @Router /api/v1/sessions/{id}/answers [put]
func (h *handlers) editAnswers(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		mw.Fail(c, apperrors.NewValidationError("id", "must be a UUID"), nil)
		return
	}
	var req editAnswersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mw.Fail(c, apperrors.NewValidationError("edits", err.Error()), nil)
		return
	}
	out, err := h.d.Sessions.EditSessionAnswers(c.Request.Context(), id.UserID, sessionID, req.Edits)
	if err != nil {
		mw.Fail(c, err, nil)
		return
	}
	mw.OK(c, nethttp.StatusOK, out, "")
}

type legacyUploadRequest struct {
	Sessions []domain.LegacySession `json:"sessions"`
}

// @Summary Upload legacy sessions
// @Description Imports sessions recorded on the device before points were stored remotely. The import runs once per user; later uploads are refused with 403. Records dated after the cutover or above the per-session points cap are counted as invalid.
// @Tags sessions
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param sessions body legacyUploadRequest true "Legacy sessions"
// @Success 200 {object} middleware.Response{data=session.ImportResult}
// @Failure 400 {object} middleware.Response
// @Failure 403 {object} middleware.Response
// @Failure 503 {object} middleware.Response
// @Router /api/v1/sessions/legacy [post]
func (h *handlers) uploadLegacy(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req legacyUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mw.Fail(c, apperrors.NewValidationError("sessions", err.Error()), nil)
		return
	}
	res, err := h.d.Sessions.UploadLegacy(c.Request.Context(), id.UserID, id.Handle, req.Sessions)
	if err != nil {
		mw.Fail(c, err, nil)
		return
	}
	mw.OK(c, nethttp.StatusOK, res, "")
}

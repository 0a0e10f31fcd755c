package http

import (
	nethttp "net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/open-builders/points-backend/internal/common/errors"
	domain "github.com/open-builders/points-backend/internal/domain/profile"
	mw "github.com/open-builders/points-backend/internal/http/middleware"
)

// ProfileUpdate is the editable part of a profile. The owner always comes
// from the authenticated identity.
type ProfileUpdate struct {
	DisplayName          string                `json:"display_name"`
	PersonalInfo         domain.PersonalInfo   `json:"personal_info"`
	LinkedAccounts       domain.LinkedAccounts `json:"linked_accounts"`
	HasOnboarded         bool                  `json:"has_onboarded"`
	HasSoulSeedOnboarded bool                  `json:"has_soul_seed_onboarded"`
}

// @Summary Log in
// @Description Loads the caller's profile and runs the login reconciliation: founding member bonus, legacy session import and one-time points migration.
// @Tags profile
// @Produce json
// @Security TelegramInitData
// @Success 200 {object} middleware.Response{data=login.Result}
// @Failure 401 {object} middleware.Response
// @Router /api/v1/login [post]
func (h *handlers) login(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	res, err := h.d.Login.Login(c.Request.Context(), id)
	if err != nil {
		mw.Fail(c, err, nil)
		return
	}
	mw.OK(c, nethttp.StatusOK, res, res.Source)
}

// @Summary Get profile
// @Description Returns the caller's profile. When the store is unreachable a recent cached copy or a default profile is returned and "source" says which.
// @Tags profile
// @Produce json
// @Security TelegramInitData
// @Success 200 {object} middleware.Response{data=domain.Profile}
// @Failure 401 {object} middleware.Response
// @Router /api/v1/profile [get]
func (h *handlers) getProfile(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	res, err := h.d.Profiles.Load(c.Request.Context(), id)
	if err != nil {
		mw.Fail(c, err, nil)
		return
	}
	mw.OK(c, nethttp.StatusOK, res.Profile, res.Source)
}

// @Summary Save profile
// @Description Saves the editable profile fields and returns the recomputed profile. Returns 202 with the submitted copy when another save is still in flight.
// @Tags profile
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param profile body ProfileUpdate true "Editable fields"
// @Success 200 {object} middleware.Response{data=domain.Profile}
// @Success 202 {object} middleware.Response{data=domain.Profile}
// @Failure 400 {object} middleware.Response
// @Failure 401 {object} middleware.Response
// @Failure 503 {object} middleware.Response
// @Router /api/v1/profile [put]
func (h *handlers) saveProfile(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		mw.Fail(c, apperrors.NewValidationError("body", err.Error()), nil)
		return
	}

	p := &domain.Profile{
		UserID:               id.UserID,
		Handle:               id.Handle,
		DisplayName:          req.DisplayName,
		PersonalInfo:         req.PersonalInfo,
		LinkedAccounts:       req.LinkedAccounts,
		HasOnboarded:         req.HasOnboarded,
		HasSoulSeedOnboarded: req.HasSoulSeedOnboarded,
	}
	res, err := h.d.Profiles.Save(c.Request.Context(), p)
	if err != nil {
		mw.Fail(c, err, nil)
		return
	}
	status := nethttp.StatusOK
	if res.Source == domain.SourceOptimistic {
		status = nethttp.StatusAccepted
	}
	mw.OK(c, status, res.Profile, res.Source)
}

// @Summary Force sync
// @Description Drops the cached profile and reloads it from the store.
// @Tags profile
// @Produce json
// @Security TelegramInitData
// @Success 200 {object} middleware.Response{data=domain.Profile}
// @Failure 401 {object} middleware.Response
// @Router /api/v1/profile/sync [post]
func (h *handlers) syncProfile(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	res, err := h.d.Profiles.ForceSync(c.Request.Context(), id)
	if err != nil {
		mw.Fail(c, err, nil)
		return
	}
	mw.OK(c, nethttp.StatusOK, res.Profile, res.Source)
}

// @Summary Enforce founding member bonus
// @Description Grants the founding member bonus if the caller is on the allow-list and has not received it yet. Safe to call repeatedly.
// @Tags profile
// @Produce json
// @Security TelegramInitData
// @Success 200 {object} middleware.Response{data=bonus.Result}
// @Failure 401 {object} middleware.Response
// @Failure 503 {object} middleware.Response
// @Router /api/v1/bonus [post]
func (h *handlers) enforceBonus(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	res, err := h.d.Bonus.EnforceBonusOnce(c.Request.Context(), id.UserID, id.Handle)
	if err != nil {
		mw.Fail(c, err, nil)
		return
	}
	mw.OK(c, nethttp.StatusOK, res, "")
}

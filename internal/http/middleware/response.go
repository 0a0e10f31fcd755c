package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/points-backend/internal/common/errors"
	"github.com/open-builders/points-backend/internal/common/logger"
	domain "github.com/open-builders/points-backend/internal/domain/profile"
)

// Response is the envelope returned by every API endpoint.
type Response struct {
	Success   bool                `json:"success"`
	Data      interface{}         `json:"data,omitempty"`
	Error     *apperrors.AppError `json:"error,omitempty"`
	Source    domain.Source       `json:"source,omitempty"`
	RequestID string              `json:"request_id,omitempty"`
}

// StatusCode maps an error code to an HTTP status.
func StatusCode(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest
	case apperrors.ErrCodeAuthMissing:
		return http.StatusUnauthorized
	case apperrors.ErrCodeForbidden:
		return http.StatusForbidden
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeConflict:
		return http.StatusConflict
	case apperrors.ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case apperrors.ErrCodeRemoteUnavailable:
		return http.StatusServiceUnavailable
	case apperrors.ErrCodeMigrationPartial:
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}

// OK writes a success envelope.
func OK(c *gin.Context, status int, data interface{}, source domain.Source) {
	c.JSON(status, Response{Success: true, Data: data, Source: source, RequestID: RequestIDOf(c)})
}

// Fail writes an error envelope, optionally with partial data.
func Fail(c *gin.Context, err error, data interface{}) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.Wrap(err, apperrors.ErrCodeInternal, "internal error")
	}
	status := StatusCode(appErr.Code)
	logFailure(c, appErr, status)
	c.JSON(status, Response{Success: false, Data: data, Error: appErr, RequestID: RequestIDOf(c)})
}

// Abort writes an error envelope and stops the handler chain.
func Abort(c *gin.Context, err error) {
	Fail(c, err, nil)
	c.Abort()
}

func logFailure(c *gin.Context, appErr *apperrors.AppError, status int) {
	var ev *zerolog.Event
	switch {
	case status >= http.StatusInternalServerError:
		ev = logger.Error()
	case appErr.Code == apperrors.ErrCodeAuthMissing || appErr.Code == apperrors.ErrCodeForbidden:
		ev = logger.Warn()
	default:
		ev = logger.Info()
	}
	ev = ev.
		Str("request_id", RequestIDOf(c)).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Str("error_code", string(appErr.Code)).
		Str("error_message", appErr.Message)
	if len(appErr.Details) > 0 {
		ev = ev.Interface("details", appErr.Details)
	}
	if appErr.Cause != nil {
		ev = ev.Err(appErr.Cause)
	}
	if id, ok := Identity(c); ok {
		ev = ev.Int64("user_id", id.UserID)
	}
	ev.Msg("request failed")
}

package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	initdata "github.com/telegram-mini-apps/init-data-golang"

	apperrors "github.com/open-builders/points-backend/internal/common/errors"
	domain "github.com/open-builders/points-backend/internal/domain/profile"
)

// IdentityKey is the gin context key holding the caller's domain.Identity.
const IdentityKey = "identity"

// InitData validates Telegram Mini Apps init-data and stores the caller's
// identity in the context. Init-data is read from the "X-Telegram-Init-Data"
// header, then the "init_data" header, then the "init_data" query parameter.
// expIn==0 disables the TTL check.
func InitData(token string, expIn time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			Abort(c, apperrors.New(apperrors.ErrCodeInternal, "init-data validation is not configured"))
			return
		}

		raw := c.GetHeader("X-Telegram-Init-Data")
		if raw == "" {
			raw = c.GetHeader("init_data")
		}
		if raw == "" {
			raw = c.Query("init_data")
		}
		if raw == "" {
			Abort(c, apperrors.NewAuthMissingError())
			return
		}

		if err := initdata.Validate(raw, token, expIn); err != nil {
			Abort(c, apperrors.Wrap(err, apperrors.ErrCodeAuthMissing, "invalid init data"))
			return
		}
		parsed, err := initdata.Parse(raw)
		if err != nil || parsed.User.ID == 0 {
			Abort(c, apperrors.Wrap(err, apperrors.ErrCodeAuthMissing, "init data carries no user"))
			return
		}

		c.Set(IdentityKey, identityFromUser(parsed.User))
		c.Next()
	}
}

// identityFromUser maps a Telegram user to an identity. Users without a
// username get a stable synthetic handle.
func identityFromUser(u initdata.User) domain.Identity {
	handle := u.Username
	if handle == "" {
		handle = fmt.Sprintf("tg%d", u.ID)
	}
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	return domain.Identity{UserID: u.ID, Handle: handle, DisplayName: name}
}

// Identity returns the identity stored by InitData.
func Identity(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return domain.Identity{}, false
	}
	id, ok := v.(domain.Identity)
	return id, ok && id.Valid()
}

// RequireAdmin rejects callers whose Telegram id is not an admin.
func RequireAdmin(isAdmin func(int64) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := Identity(c)
		if !ok {
			Abort(c, apperrors.NewAuthMissingError())
			return
		}
		if !isAdmin(id.UserID) {
			Abort(c, apperrors.New(apperrors.ErrCodeForbidden, "admin access required"))
			return
		}
		c.Next()
	}
}

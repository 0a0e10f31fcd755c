package errors

import (
	"github.com/open-builders/points-backend/internal/common/logger"
)

// Recover converts a panic in a public operation into an INTERNAL_ERROR stored
// in *errp. Use as: defer errors.Recover("profile.Save", &err).
func Recover(op string, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	logger.Error().Str("op", op).Interface("panic", r).Msg("recovered from panic")
	if errp != nil {
		*errp = FromPanic(op, r)
	}
}

package workers

import (
	apperrors "github.com/open-builders/points-backend/internal/common/errors"
	"github.com/open-builders/points-backend/internal/common/logger"
)

// retryable keeps transient failures pending and drops terminal ones.
func retryable(err error) error {
	if apperrors.Retryable(err) {
		return err
	}
	logger.Warn().Err(err).Str("code", string(apperrors.CodeOf(err))).Msg("event dropped")
	return nil
}

package storage

import (
	"errors"

	apperrors "github.com/R3E-Network/training_workflow/internal/errors"
)

// Translate maps the storage sentinels in err's chain to service errors for
// the given resource. Service errors pass through unchanged and anything else
// becomes an internal error.
func Translate(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	if apperrors.GetServiceError(err) != nil {
		return err
	}
	switch {
	case errors.Is(err, ErrNotFound):
		svcErr := apperrors.NotFound(resource, id)
		svcErr.Err = err
		return svcErr
	case errors.Is(err, ErrConcurrentModification):
		svcErr := apperrors.ConcurrentModification(resource, id)
		svcErr.Err = err
		return svcErr
	default:
		return apperrors.Internal("storage failure", err)
	}
}

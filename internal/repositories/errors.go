package repositories

import (
	"errors"
	"fmt"

	"sugarconnect/internal/apperr"
	"sugarconnect/pkg/blobstore"
)

// translate maps a blob store error onto the application error kinds,
// keeping the original in the chain.
func translate(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	kind := apperr.ErrUnavailable
	switch {
	case errors.Is(err, blobstore.ErrNotFound):
		kind = apperr.ErrNotFound
	case errors.Is(err, blobstore.ErrVersionConflict):
		kind = apperr.ErrConflict
	}
	return fmt.Errorf("%s: %w: %w", fmt.Sprintf(format, args...), kind, err)
}

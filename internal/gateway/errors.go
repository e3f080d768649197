package gateway

import (
	"fmt"

	"torrentgate/internal/domain"
)

func wrapBackend(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrBackendFailure, err)
}

func wrapStore(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
}

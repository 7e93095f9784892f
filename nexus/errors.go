package nexus

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/robert-malhotra/go-nexus/hdf5"
)

// Errors returned by the file tree. Storage errors are wrapped so that both
// the sentinel below and the underlying hdf5 error match errors.Is.
var (
	ErrAlreadyExists      = errors.New("already exists")
	ErrNotFound           = errors.New("not found")
	ErrUnsupportedMode    = errors.New("unsupported access mode")
	ErrInvalidHandle      = errors.New("invalid handle")
	ErrMalformedSelection = errors.New("malformed selection")
	ErrTypeMismatch       = errors.New("type mismatch")
	ErrShapeMismatch      = errors.New("shape mismatch")
)

// storageErr maps an hdf5 error onto the package taxonomy.
func storageErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, hdf5.ErrExists):
		return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
	case errors.Is(err, hdf5.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, hdf5.ErrClosed):
		return fmt.Errorf("%w: %w", ErrInvalidHandle, err)
	default:
		return err
	}
}

func invalid(path string) error {
	return fmt.Errorf("%s: %w", path, ErrInvalidHandle)
}

// Package content serves the ebook file from wherever it is stored.
package content

import (
	"context"
	"io"
)

// Store opens the ebook for reading. Callers must close the reader.
// A missing object is apperror.NotFound.
type Store interface {
	Open(ctx context.Context) (io.ReadCloser, int64, error)
}

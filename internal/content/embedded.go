package content

import (
	"bytes"
	"context"
	_ "embed"
	"io"
)

//go:embed assets/ebook.pdf
var embeddedEbook []byte

var _ Store = (*EmbeddedStore)(nil)

// EmbeddedStore serves the PDF compiled into the binary.
type EmbeddedStore struct {
	data []byte
}

func NewEmbeddedStore() *EmbeddedStore {
	return &EmbeddedStore{data: embeddedEbook}
}

func (s *EmbeddedStore) Open(_ context.Context) (io.ReadCloser, int64, error) {
	return io.NopCloser(bytes.NewReader(s.data)), int64(len(s.data)), nil
}

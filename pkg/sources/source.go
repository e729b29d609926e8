// Package sources defines where session audio comes from.
package sources

import (
	"context"
	"io"
)

// Source produces the audio for one recognition session.
type Source interface {
	Name() string
	// Open returns the audio stream. Reads end with io.EOF when the audio is
	// exhausted; Close releases the source.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Format is implemented by sources that know their audio encoding.
type Format interface {
	Encoding() string
	SampleRate() int
}

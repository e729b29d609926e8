package stt

import (
	"io"

	"github.com/harunnryd/dgstream/pkg/recognize"
)

// Recognizer defines the contract for a streaming speech recognizer. Audio
// goes in through Write; results come out of Events.
type Recognizer interface {
	io.Writer
	// Name returns adapter name for logging/metrics.
	Name() string
	// CloseWrite signals that no more audio will be written.
	CloseWrite() error
	// Stop ends the session. The final EventClose arrives asynchronously.
	Stop() error
	// Events returns the ordered event stream, closed after EventClose.
	Events() <-chan recognize.Event
}

var _ Recognizer = (*recognize.Stream)(nil)

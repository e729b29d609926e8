package recognize

import (
	"context"
	"net/http"
)

// Close codes reported with EventClose.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// FrameType distinguishes text from binary inbound frames.
type FrameType int

const (
	FrameText FrameType = iota + 1
	FrameBinary
)

func (t FrameType) String() string {
	switch t {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Frame is one inbound message as delivered by the transport.
type Frame struct {
	Type FrameType
	Data []byte
}

// Conn is the outbound half of a persistent connection owned by a Stream.
type Conn interface {
	// SendBinary queues an audio chunk.
	SendBinary(p []byte) error
	// SendText queues a text payload. The empty string is the end-of-input marker.
	SendText(s string) error
	// BufferedAmount reports the bytes accepted by SendBinary/SendText that are
	// not yet on the wire.
	BufferedAmount() int
	// Close starts the close handshake. Calling it more than once is allowed.
	Close() error
}

// DrainNotifier is implemented by connections that can signal when their
// outbound buffer empties. Streams wait on it instead of only polling.
type DrainNotifier interface {
	Drained() <-chan struct{}
}

// ConnHandler receives the lifecycle of a connection. Implementations of Dialer
// call it from a single goroutine, never from inside Dial itself, and call
// OnClose exactly once as the final callback.
type ConnHandler interface {
	OnOpen()
	OnMessage(f Frame)
	OnError(err error)
	OnClose(code int, reason string)
}

// Dialer opens connections. Dial returns a handle right away; whether the
// connection actually opens is reported later through the handler.
type Dialer interface {
	Dial(ctx context.Context, target string, headers http.Header, h ConnHandler) (Conn, error)
}

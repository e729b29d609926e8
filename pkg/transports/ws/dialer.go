// Package ws implements recognize.Dialer over gorilla/websocket.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/dgstream/pkg/logging"
	"github.com/harunnryd/dgstream/pkg/recognize"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultMaxBuffered      = 8 << 20
	closeTimeout            = 5 * time.Second
)

// ErrQueueFull is returned when a message would take the queued bytes past
// MaxBuffered.
var ErrQueueFull = errors.New("ws: write queue full")

// ErrConnClosed is returned by sends after Close or after the connection ended.
var ErrConnClosed = errors.New("ws: connection closed")

// Dialer opens websocket connections for a recognize.Stream.
type Dialer struct {
	// HandshakeTimeout bounds the opening handshake.
	HandshakeTimeout time.Duration
	// MaxBuffered caps the bytes waiting for the writer goroutine. A message
	// is always accepted into an empty queue, whatever its size.
	MaxBuffered int
	Logger      *slog.Logger
}

func NewDialer() *Dialer {
	return &Dialer{
		HandshakeTimeout: defaultHandshakeTimeout,
		MaxBuffered:      defaultMaxBuffered,
	}
}

// Dial starts connecting in the background and returns the outbound handle.
// All handler callbacks run on one goroutine owned by the connection.
func (d *Dialer) Dial(ctx context.Context, target string, headers http.Header, h recognize.ConnHandler) (recognize.Conn, error) {
	if h == nil {
		return nil, errors.New("ws: nil handler")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	limit := d.MaxBuffered
	if limit <= 0 {
		limit = defaultMaxBuffered
	}
	dialCtx, cancel := context.WithCancel(ctx)
	c := &conn{
		limit:      limit,
		wake:       make(chan struct{}, 1),
		drained:    make(chan struct{}, 1),
		done:       make(chan struct{}),
		cancelDial: cancel,
		logger:     logging.NewComponentLogger(d.Logger, "ws_transport"),
	}
	ws := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	go c.run(dialCtx, ws, target, headers, h)
	return c, nil
}

type outbound struct {
	typ  int
	data []byte
}

type conn struct {
	limit      int
	logger     *slog.Logger
	cancelDial context.CancelFunc

	mu       sync.Mutex
	ws       *websocket.Conn
	queue    []outbound
	buffered int
	closing  bool
	ended    bool

	wake    chan struct{}
	drained chan struct{}
	done    chan struct{}
}

func (c *conn) SendBinary(p []byte) error {
	return c.enqueue(websocket.BinaryMessage, append([]byte(nil), p...))
}

func (c *conn) SendText(s string) error {
	return c.enqueue(websocket.TextMessage, []byte(s))
}

func (c *conn) enqueue(typ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing || c.ended {
		return ErrConnClosed
	}
	if len(c.queue) > 0 && c.buffered+len(data) > c.limit {
		return ErrQueueFull
	}
	c.queue = append(c.queue, outbound{typ: typ, data: data})
	c.buffered += len(data)
	signal(c.wake)
	return nil
}

// BufferedAmount is the number of queued bytes the writer has not sent yet.
func (c *conn) BufferedAmount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

// Drained fires after the writer empties the queue.
func (c *conn) Drained() <-chan struct{} { return c.drained }

// Close flushes queued messages and then sends a normal close frame. A
// connection that is still dialing is abandoned.
func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return nil
	}
	c.closing = true
	if c.ws == nil {
		c.cancelDial()
	}
	signal(c.wake)
	return nil
}

func (c *conn) run(ctx context.Context, d websocket.Dialer, target string, headers http.Header, h recognize.ConnHandler) {
	defer c.cancelDial()

	ws, resp, err := d.DialContext(ctx, target, headers)
	if err != nil {
		closing := c.isClosing()
		c.end()
		if !closing {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			c.logger.Warn("ws_dial_failed", slog.String("error", err.Error()), slog.Int("status", status))
			h.OnError(fmt.Errorf("ws dial: %w", err))
		}
		h.OnClose(recognize.CloseAbnormal, "")
		return
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.logger.Debug("ws_open")
	h.OnOpen()

	go c.writeLoop(ws)
	code, reason, rerr := c.readLoop(ws, h)
	_ = ws.Close()
	c.end()
	if rerr != nil {
		c.logger.Warn("ws_read_failed", slog.String("error", rerr.Error()))
		h.OnError(fmt.Errorf("ws read: %w", rerr))
	} else {
		c.logger.Debug("ws_closed", slog.Int("code", code), slog.String("reason", reason))
	}
	h.OnClose(code, reason)
}

// readLoop delivers inbound frames until the connection ends and returns the
// close code and reason. err is set when the end was not a close handshake or
// a local close.
func (c *conn) readLoop(ws *websocket.Conn, h recognize.ConnHandler) (code int, reason string, err error) {
	for {
		typ, data, rerr := ws.ReadMessage()
		if rerr != nil {
			var ce *websocket.CloseError
			switch {
			case errors.As(rerr, &ce):
				return ce.Code, ce.Text, nil
			case c.isClosing():
				return recognize.CloseAbnormal, "", nil
			default:
				return recognize.CloseAbnormal, "", rerr
			}
		}
		switch typ {
		case websocket.TextMessage:
			h.OnMessage(recognize.Frame{Type: recognize.FrameText, Data: data})
		case websocket.BinaryMessage:
			h.OnMessage(recognize.Frame{Type: recognize.FrameBinary, Data: data})
		}
	}
}

func (c *conn) writeLoop(ws *websocket.Conn) {
	for {
		msg, ok, closing := c.next()
		if ok {
			err := ws.WriteMessage(msg.typ, msg.data)
			c.sent(len(msg.data))
			if err != nil {
				c.logger.Warn("ws_write_failed", slog.String("error", err.Error()))
				_ = ws.Close()
				return
			}
			continue
		}
		if closing {
			deadline := time.Now().Add(closeTimeout)
			payload := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := ws.WriteControl(websocket.CloseMessage, payload, deadline); err != nil {
				c.logger.Debug("ws_close_frame_failed", slog.String("error", err.Error()))
				_ = ws.Close()
				return
			}
			// The peer's close reply ends the read loop; give up on it after the deadline.
			timer := time.AfterFunc(closeTimeout, func() { _ = ws.Close() })
			<-c.done
			timer.Stop()
			return
		}
		select {
		case <-c.wake:
		case <-c.done:
			return
		}
	}
}

func (c *conn) next() (outbound, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) > 0 {
		msg := c.queue[0]
		c.queue[0] = outbound{}
		c.queue = c.queue[1:]
		return msg, true, false
	}
	return outbound{}, false, c.closing
}

func (c *conn) sent(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffered -= n
	if c.buffered <= 0 && len(c.queue) == 0 {
		c.buffered = 0
		signal(c.drained)
	}
}

func (c *conn) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *conn) end() {
	c.mu.Lock()
	c.ended = true
	c.queue = nil
	c.buffered = 0
	c.mu.Unlock()
	close(c.done)
	signal(c.drained)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

package recognize

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/dgstream/pkg/logging"
	"github.com/harunnryd/dgstream/pkg/metrics"
	"github.com/harunnryd/dgstream/pkg/redact"
)

const (
	defaultPollInterval = 10 * time.Millisecond
	eventBuffer         = 64
)

// Options configures a Stream. Target and Headers are used verbatim for the
// handshake; nothing is validated until the connection is attempted.
type Options struct {
	// Target is the full endpoint URL including query parameters.
	Target  string
	Headers http.Header
	// HighWaterMark is the outbound buffer depth above which writes wait.
	HighWaterMark int
	// PollInterval is the recheck period while waiting for the buffer to drain.
	PollInterval time.Duration
	SessionID    string
	Logger       *slog.Logger
	Observer     metrics.Observer
}

func (o Options) withDefaults() Options {
	if o.HighWaterMark < 0 {
		o.HighWaterMark = 0
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.SessionID == "" {
		o.SessionID = uuid.NewString()
	}
	if o.Observer == nil {
		o.Observer = metrics.NoopObserver{}
	}
	return o
}

// Stream relays audio written to it over one persistent connection and turns
// the service's messages into Events and transcript text.
//
// Write, CloseWrite and Stop may be called from any goroutine. Events must be
// drained by the consumer; they are buffered without limit until it does.
type Stream struct {
	opts   Options
	dialer Dialer
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	// writeMu keeps one write in flight at a time.
	writeMu sync.Mutex

	mu            sync.Mutex
	fsm           *stateMachine
	conn          Conn
	connClosed    bool
	inputClosed   bool
	finishPending bool
	terminated    bool
	openedAt      time.Time

	events *Emitter
	text   *textBuffer
}

// New builds a Stream. No connection is made until the first write.
func New(dialer Dialer, opts Options) *Stream {
	opts = opts.withDefaults()
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		opts:   opts,
		dialer: dialer,
		logger: logging.NewComponentLogger(base, "recognize_stream").With(slog.String("stream_id", opts.SessionID)),
		ctx:    ctx,
		cancel: cancel,
		fsm:    newStateMachine(),
		events: NewEmitter(eventBuffer),
		text:   newTextBuffer(),
	}
	return s
}

func (s *Stream) Name() string { return "recognize_stream" }

// SessionID identifies the session in logs and metrics.
func (s *Stream) SessionID() string { return s.opts.SessionID }

// Events returns the ordered event stream. It is closed after EventClose.
// Events emitted before the first call are kept and delivered in order.
func (s *Stream) Events() <-chan Event { return s.events.Events() }

// State returns the current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fsm.current
}

// Write sends p as one audio chunk. See WriteContext.
func (s *Stream) Write(p []byte) (int, error) {
	return s.WriteContext(context.Background(), p)
}

// WriteContext sends p as one audio chunk. The first call opens the
// connection. It returns once the chunk is sent and the outbound buffer is at
// or below the high-water mark. There is no timeout on the initial wait for
// the service to become ready; ctx is the only way to give up.
func (s *Stream) WriteContext(ctx context.Context, p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn, err := s.awaitListening(ctx)
	if err != nil {
		return 0, err
	}
	if err := conn.SendBinary(p); err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.fsm.current == StateClosing || s.fsm.current == StateClosed {
			// Stop won the race for the connection.
			s.logger.Debug("recognize_send_after_stop", slog.String("error", err.Error()))
			return 0, ErrClosed
		}
		cerr := &ConnectionError{Op: "send", Err: err}
		s.emitErrorLocked(cerr)
		return 0, cerr
	}
	s.record(metrics.EventAudioOut, float64(len(p)), nil)
	if err := s.afterSend(ctx, conn); err != nil {
		return len(p), err
	}
	return len(p), nil
}

// awaitListening starts the connection if needed and blocks until the session
// is listening.
func (s *Stream) awaitListening(ctx context.Context) (Conn, error) {
	for {
		s.mu.Lock()
		if s.inputClosed {
			s.mu.Unlock()
			return nil, ErrInputClosed
		}
		switch s.fsm.current {
		case StateListening:
			conn := s.conn
			s.mu.Unlock()
			return conn, nil
		case StateClosed:
			s.mu.Unlock()
			return nil, ErrClosed
		case StateCreated:
			s.initializeLocked()
			if s.fsm.current == StateClosed {
				s.mu.Unlock()
				return nil, ErrClosed
			}
		}
		ready, closed := s.fsm.ready, s.fsm.closed
		s.mu.Unlock()

		select {
		case <-ready:
		case <-closed:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// initializeLocked opens the connection. The state leaves StateCreated before
// Dial returns, so concurrent writers never dial twice.
func (s *Stream) initializeLocked() {
	if err := s.fsm.transition(StateInitializing); err != nil {
		s.logger.Debug("recognize_transition_ignored", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("recognize_connecting")
	conn, err := s.dialer.Dial(s.ctx, s.opts.Target, s.opts.Headers, &connHandler{s: s})
	if err != nil {
		s.emitErrorLocked(&ConnectionError{Op: "dial", Err: err})
		s.finishLocked(CloseAbnormal, "dial failed")
		return
	}
	s.conn = conn
}

// CloseWrite signals end of input. The service is told right away if the
// connection is open, or as soon as it opens. It is a no-op on a session that
// never wrote anything.
func (s *Stream) CloseWrite() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inputClosed {
		return nil
	}
	s.inputClosed = true
	s.logger.Debug("recognize_input_finished", slog.String("state", s.fsm.current.String()))
	switch {
	case s.fsm.open():
		s.sendTerminationLocked()
	case s.fsm.current == StateInitializing:
		s.finishPending = true
	}
	return nil
}

// Stop ends the session. It does not wait for the close handshake; EventClose
// follows asynchronously. A write whose chunk is already sent still returns
// once the buffer drains.
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fsm.current == StateClosed {
		return nil
	}
	s.logger.Info("recognize_stopping", slog.String("state", s.fsm.current.String()))
	s.emitLocked(Event{Kind: EventStopping})

	switch s.fsm.current {
	case StateCreated:
		s.finishLocked(CloseNormal, "stopped before connect")
		return nil
	case StateListening:
		s.sendTerminationLocked()
	}
	if s.fsm.current != StateClosing {
		if err := s.fsm.transition(StateClosing); err != nil {
			s.logger.Debug("recognize_transition_ignored", slog.String("error", err.Error()))
		}
	}
	if s.conn != nil && !s.connClosed {
		s.connClosed = true
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("recognize_close_error", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Close is Stop, for io.Closer.
func (s *Stream) Close() error { return s.Stop() }

// Read returns finalized transcript text, one line per result, and io.EOF
// after the connection closes.
func (s *Stream) Read(p []byte) (int, error) {
	return s.text.Read(p)
}

func (s *Stream) sendTerminationLocked() {
	if s.terminated || s.conn == nil {
		return
	}
	s.terminated = true
	if err := s.conn.SendText(""); err != nil {
		s.emitErrorLocked(&ConnectionError{Op: "send", Err: err})
	}
}

// finishLocked moves to StateClosed, ends the read side and emits the final
// close event.
func (s *Stream) finishLocked(code int, reason string) {
	if err := s.fsm.transition(StateClosed); err != nil {
		s.logger.Debug("recognize_transition_ignored", slog.String("error", err.Error()))
		return
	}
	s.text.close()
	s.logger.Info("recognize_closed", slog.Int("code", code), slog.String("reason", reason))
	s.record(metrics.EventClose, float64(code), map[string]any{"reason": reason})
	s.emitLocked(Event{Kind: EventClose, Code: code, Reason: reason})
	s.events.Close()
	s.cancel()
}

func (s *Stream) emitLocked(ev Event) {
	s.events.Push(ev)
}

func (s *Stream) emitErrorLocked(err error) {
	s.logger.Warn("recognize_error", slog.String("error", err.Error()))
	s.record(metrics.EventError, 1, map[string]any{"error": err.Error()})
	s.emitLocked(Event{Kind: EventError, Err: err})
}

func (s *Stream) enterListeningLocked(reason string) {
	if err := s.fsm.transition(StateListening); err != nil {
		s.logger.Debug("recognize_transition_ignored", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("recognize_listening", slog.String("reason", reason))
	s.emitLocked(Event{Kind: EventListening})
}

func (s *Stream) record(name string, value float64, fields map[string]any) {
	s.opts.Observer.RecordEvent(metrics.MetricsEvent{
		Name:   name,
		Time:   time.Now(),
		Value:  value,
		Tags:   map[string]string{"stream_id": s.opts.SessionID, "component": "recognize_stream"},
		Fields: fields,
	})
}

// connHandler adapts connection callbacks onto the Stream.
type connHandler struct {
	s *Stream
}

func (h *connHandler) OnOpen() {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fsm.transition(StateConnecting); err != nil {
		// Stopped while dialing; the close that Stop started will finish the session.
		s.logger.Debug("recognize_transition_ignored", slog.String("error", err.Error()))
		return
	}
	s.openedAt = time.Now()
	s.record(metrics.EventOpen, 1, nil)
	s.emitLocked(Event{Kind: EventConnect})
	if s.finishPending {
		s.finishPending = false
		s.sendTerminationLocked()
	}
	s.enterListeningLocked("connection_open")
}

func (h *connHandler) OnMessage(f Frame) {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fsm.current == StateClosed {
		return
	}
	msg, err := Decode(f)
	if err != nil {
		s.emitErrorLocked(err)
		return
	}

	recognized := false
	if msg.Error != "" {
		s.emitErrorLocked(&ServiceError{Msg: msg.Error, Raw: f.Data})
		recognized = true
	}
	if msg.Transcript != "" || msg.Type == TypeConnected {
		if !s.fsm.listening() {
			s.enterListeningLocked("server_ready")
		}
		recognized = true
	}
	if msg.Transcript != "" {
		s.logger.Debug("recognize_transcript",
			slog.String("transcript", redact.Text(msg.Transcript)),
			slog.Bool("is_final", msg.IsFinal))
		s.record(metrics.EventResult, 1, map[string]any{"is_final": msg.IsFinal})
		s.emitLocked(Event{Kind: EventResults, Results: msg})
		if msg.IsFinal {
			results := msg.results()
			s.record(metrics.EventFinal, msg.Confidence, nil)
			s.emitLocked(Event{Kind: EventData, Data: results})
			for _, r := range results {
				s.text.write(r.Value)
			}
		}
		recognized = true
	}
	if !recognized {
		s.emitErrorLocked(&ProtocolError{Msg: "Unrecognised message from server", Raw: f.Data})
	}
}

func (h *connHandler) OnError(err error) {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fsm.current == StateClosed {
		return
	}
	if s.fsm.listening() {
		if terr := s.fsm.transition(StateConnecting); terr != nil {
			s.logger.Debug("recognize_transition_ignored", slog.String("error", terr.Error()))
		}
	}
	var cerr *ConnectionError
	if !errors.As(err, &cerr) {
		err = &ConnectionError{Err: err}
	}
	s.emitErrorLocked(err)
}

func (h *connHandler) OnClose(code int, reason string) {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connClosed = true
	if !s.openedAt.IsZero() {
		s.logger.Debug("recognize_session_duration", slog.Duration("duration", time.Since(s.openedAt)))
	}
	s.finishLocked(code, reason)
}

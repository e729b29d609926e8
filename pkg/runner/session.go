package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/dgstream/pkg/adapters/stt"
	"github.com/harunnryd/dgstream/pkg/logging"
	"github.com/harunnryd/dgstream/pkg/recognize"
	"github.com/harunnryd/dgstream/pkg/sources"
)

const defaultChunkSize = 4096

type Options struct {
	// StopAfter stops the recognizer this long after the session starts.
	// Zero waits for the source to end or the recognizer to close.
	StopAfter time.Duration
	// Grace is how long to wait for final messages after stopping.
	Grace     time.Duration
	ChunkSize int
	// BannerOut, when set, receives the startup banner.
	BannerOut io.Writer
	Logger    *slog.Logger
}

// SessionRunner drives one recognition session: it copies source audio into
// the recognizer, stops it on schedule and waits out the grace period.
type SessionRunner struct {
	state  int32
	rec    stt.Recognizer
	src    sources.Source
	opts   Options
	hooks  Hooks
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewSessionRunner(rec stt.Recognizer, src sources.Source, opts Options, hooks Hooks) *SessionRunner {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	return &SessionRunner{
		state:  int32(StateNew),
		rec:    rec,
		src:    src,
		opts:   opts,
		hooks:  hooks,
		logger: logging.NewComponentLogger(opts.Logger, "session_runner"),
	}
}

func (r *SessionRunner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return errors.New("invalid state transition")
	}
	if r.opts.BannerOut != nil {
		PrintBanner(r.opts.BannerOut)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	audio, err := r.src.Open(ctx)
	if err != nil {
		r.setState(StateStopped)
		return fmt.Errorf("open source %s: %w", r.src.Name(), err)
	}
	defer audio.Close()

	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.setState(StateRunning)
	r.logger.Info("session_started",
		slog.String("source", r.src.Name()),
		slog.String("recognizer", r.rec.Name()),
		slog.Duration("stop_after", r.opts.StopAfter))

	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		for ev := range r.rec.Events() {
			if r.hooks.OnEvent != nil {
				r.hooks.OnEvent(ev)
			}
		}
	}()

	copyDone := make(chan error, 1)
	go func() { copyDone <- r.pump(ctx, audio) }()

	var stopC <-chan time.Time
	if r.opts.StopAfter > 0 {
		timer := time.NewTimer(r.opts.StopAfter)
		defer timer.Stop()
		stopC = timer.C
	}

	var runErr error
	select {
	case runErr = <-copyDone:
		if runErr == nil {
			r.logger.Info("session_source_finished")
			select {
			case <-stopC:
			case <-eventsDone:
			case <-ctx.Done():
			}
		}
	case <-stopC:
	case <-eventsDone:
	case <-ctx.Done():
	}

	r.setState(StateDraining)
	r.logger.Info("session_stopping", slog.Duration("grace", r.opts.Grace))
	if err := r.rec.Stop(); err != nil {
		r.logger.Warn("session_stop_error", slog.String("error", err.Error()))
	}
	grace := time.NewTimer(r.opts.Grace)
	select {
	case <-eventsDone:
	case <-grace.C:
		r.logger.Warn("session_grace_expired")
	}
	grace.Stop()
	cancel()
	_ = audio.Close()

	if r.hooks.OnStop != nil {
		r.hooks.OnStop()
	}
	r.setState(StateStopped)
	r.logger.Info("session_over")
	return runErr
}

// pump copies audio into the recognizer chunk by chunk and signals end of
// input when the source is exhausted.
func (r *SessionRunner) pump(ctx context.Context, audio io.Reader) error {
	buf := make([]byte, r.opts.ChunkSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := audio.Read(buf)
		if n > 0 {
			if _, werr := r.rec.Write(buf[:n]); werr != nil {
				if errors.Is(werr, recognize.ErrClosed) || errors.Is(werr, recognize.ErrInputClosed) {
					return nil
				}
				return fmt.Errorf("write audio: %w", werr)
			}
		}
		if errors.Is(err, io.EOF) {
			return r.rec.CloseWrite()
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read audio: %w", err)
		}
	}
}

// Stop ends a running session early.
func (r *SessionRunner) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (r *SessionRunner) State() State {
	return State(atomic.LoadInt32(&r.state))
}

func (r *SessionRunner) casState(from, to State) bool {
	return atomic.CompareAndSwapInt32(&r.state, int32(from), int32(to))
}

func (r *SessionRunner) setState(s State) {
	atomic.StoreInt32(&r.state, int32(s))
}

var _ Runner = (*SessionRunner)(nil)

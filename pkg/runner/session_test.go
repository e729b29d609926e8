package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/dgstream/pkg/recognize"
)

type fakeRecognizer struct {
	mu          sync.Mutex
	chunks      []string
	closeWrites int
	stops       int
	out         chan recognize.Event
	closed      bool
	// closeOnStop ends the event stream when Stop is called.
	closeOnStop bool
	// closeOnInputEnd ends the event stream when CloseWrite is called.
	closeOnInputEnd bool
	writeErr        error
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{out: make(chan recognize.Event, 16), closeOnStop: true}
}

func (f *fakeRecognizer) Name() string { return "fake" }

func (f *fakeRecognizer) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.chunks = append(f.chunks, string(p))
	return len(p), nil
}

func (f *fakeRecognizer) CloseWrite() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeWrites++
	if f.closeOnInputEnd {
		f.finishLocked(recognize.CloseNormal)
	}
	return nil
}

func (f *fakeRecognizer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if !f.closed {
		f.out <- recognize.Event{Kind: recognize.EventStopping}
	}
	if f.closeOnStop {
		f.finishLocked(recognize.CloseNormal)
	}
	return nil
}

func (f *fakeRecognizer) finishLocked(code int) {
	if f.closed {
		return
	}
	f.closed = true
	f.out <- recognize.Event{Kind: recognize.EventClose, Code: code}
	close(f.out)
}

func (f *fakeRecognizer) Events() <-chan recognize.Event { return f.out }

type fakeSource struct {
	data    string
	openErr error
	closed  chan struct{}
	once    sync.Once
}

func (s *fakeSource) Name() string { return "fake_source" }

func (s *fakeSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.closed = make(chan struct{})
	return &fakeAudio{Reader: strings.NewReader(s.data), src: s}, nil
}

type fakeAudio struct {
	io.Reader
	src *fakeSource
}

func (a *fakeAudio) Close() error {
	a.src.once.Do(func() { close(a.src.closed) })
	return nil
}

// blockingSource never ends on its own.
type blockingSource struct {
	pr *io.PipeReader
	pw *io.PipeWriter
}

func newBlockingSource() *blockingSource {
	pr, pw := io.Pipe()
	return &blockingSource{pr: pr, pw: pw}
}

func (s *blockingSource) Name() string { return "blocking" }
func (s *blockingSource) Open(context.Context) (io.ReadCloser, error) {
	return s.pr, nil
}

func TestRunCopiesSourceInChunks(t *testing.T) {
	rec := newFakeRecognizer()
	src := &fakeSource{data: "abcdefghij"}
	var kinds []recognize.EventKind
	var started, stopped bool
	r := NewSessionRunner(rec, src, Options{StopAfter: 20 * time.Millisecond, Grace: time.Second, ChunkSize: 4}, Hooks{
		OnStart: func() { started = true },
		OnStop:  func() { stopped = true },
		OnEvent: func(ev recognize.Event) { kinds = append(kinds, ev.Kind) },
	})
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("run error: %v", err)
	}
	if got := strings.Join(rec.chunks, "|"); got != "abcd|efgh|ij" {
		t.Fatalf("unexpected chunks %q", got)
	}
	if rec.closeWrites != 1 || rec.stops != 1 {
		t.Fatalf("expected one CloseWrite and one Stop, got %d %d", rec.closeWrites, rec.stops)
	}
	if len(kinds) != 2 || kinds[0] != recognize.EventStopping || kinds[1] != recognize.EventClose {
		t.Fatalf("unexpected events %v", kinds)
	}
	if !started || !stopped {
		t.Fatalf("expected hooks to run")
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", r.State())
	}
	select {
	case <-src.closed:
	default:
		t.Fatalf("expected source closed")
	}
	if err := r.Run(context.Background()); err == nil {
		t.Fatalf("expected second run to fail")
	}
}

func TestRunEndsWhenRecognizerCloses(t *testing.T) {
	rec := newFakeRecognizer()
	rec.closeOnInputEnd = true
	r := NewSessionRunner(rec, &fakeSource{data: "abc"}, Options{StopAfter: time.Hour, Grace: time.Hour}, Hooks{})

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected run to end with the recognizer")
	}
}

func TestRunStopsAfterDeadline(t *testing.T) {
	rec := newFakeRecognizer()
	src := newBlockingSource()
	r := NewSessionRunner(rec, src, Options{StopAfter: 20 * time.Millisecond, Grace: time.Second}, Hooks{})

	start := time.Now()
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("run error: %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("expected run to wait for the stop deadline")
	}
	if rec.stops != 1 || rec.closeWrites != 0 {
		t.Fatalf("expected stop without input end, got %d stops %d closeWrites", rec.stops, rec.closeWrites)
	}
}

func TestRunGraceExpires(t *testing.T) {
	rec := newFakeRecognizer()
	rec.closeOnStop = false
	r := NewSessionRunner(rec, newBlockingSource(), Options{StopAfter: 10 * time.Millisecond, Grace: 20 * time.Millisecond}, Hooks{})

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected grace period to bound the run")
	}
}

func TestStopEndsRun(t *testing.T) {
	rec := newFakeRecognizer()
	r := NewSessionRunner(rec, newBlockingSource(), Options{Grace: time.Second}, Hooks{})
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for r.State() != StateRunning && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	_ = r.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected Stop to end the run")
	}
}

func TestRunReportsSourceAndWriteErrors(t *testing.T) {
	openErr := errors.New("no such file")
	r := NewSessionRunner(newFakeRecognizer(), &fakeSource{openErr: openErr}, Options{}, Hooks{})
	if err := r.Run(context.Background()); !errors.Is(err, openErr) {
		t.Fatalf("expected open error, got %v", err)
	}

	rec := newFakeRecognizer()
	rec.writeErr = errors.New("broken pipe")
	r = NewSessionRunner(rec, &fakeSource{data: "abc"}, Options{StopAfter: time.Hour, Grace: time.Second}, Hooks{})
	if err := r.Run(context.Background()); !errors.Is(err, rec.writeErr) {
		t.Fatalf("expected write error, got %v", err)
	}

	rec = newFakeRecognizer()
	rec.writeErr = recognize.ErrClosed
	rec.closeOnStop = true
	r = NewSessionRunner(rec, &fakeSource{data: "abc"}, Options{StopAfter: 10 * time.Millisecond, Grace: time.Second}, Hooks{})
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("expected closed recognizer treated as end of session, got %v", err)
	}
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf)
	if !strings.Contains(buf.String(), "Version: "+Version) {
		t.Fatalf("expected version line, got %q", buf.String())
	}
}

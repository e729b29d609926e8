package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/harunnryd/dgstream/pkg/adapters/stt"
	"github.com/harunnryd/dgstream/pkg/logging"
	"github.com/harunnryd/dgstream/pkg/recognize"
	"github.com/harunnryd/dgstream/pkg/redact"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// LiveConfig configures the SDK-backed recognizer. It is decoded from the
// recognizer settings block.
type LiveConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Host           string `mapstructure:"host"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	Encoding       string `mapstructure:"encoding"`
	SampleRate     int    `mapstructure:"sample_rate"`
	Channels       int    `mapstructure:"channels"`
	Interim        bool   `mapstructure:"interim_results"`
	SmartFormat    bool   `mapstructure:"smart_format"`
	VADEvents      bool   `mapstructure:"vad_events"`
	UtteranceEndMS int    `mapstructure:"utterance_end_ms"`
	SessionID      string `mapstructure:"-"`
}

func (c LiveConfig) withDefaults() LiveConfig {
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	return c
}

func (c LiveConfig) clientOptions() *interfaces.ClientOptions {
	return &interfaces.ClientOptions{
		Host:            c.Host,
		EnableKeepAlive: true,
	}
}

func (c LiveConfig) transcriptionOptions() *interfaces.LiveTranscriptionOptions {
	opts := &interfaces.LiveTranscriptionOptions{
		Model:          c.Model,
		Language:       c.Language,
		Encoding:       c.Encoding,
		SampleRate:     c.SampleRate,
		Channels:       c.Channels,
		Punctuate:      true,
		InterimResults: c.Interim,
		SmartFormat:    c.SmartFormat,
		VadEvents:      c.VADEvents,
	}
	if c.UtteranceEndMS > 0 {
		opts.UtteranceEndMs = strconv.Itoa(c.UtteranceEndMS)
	}
	return opts
}

// liveClient is the part of the SDK websocket client a Live drives.
type liveClient interface {
	Stream(r io.Reader) error
	Finalize() error
	Stop()
}

// dialFunc connects an SDK client that reports to cb.
type dialFunc func(ctx context.Context, cfg LiveConfig, cb *callback) (liveClient, error)

func dialSDK(ctx context.Context, cfg LiveConfig, cb *callback) (liveClient, error) {
	dg, err := client.NewWSUsingCallback(ctx, cfg.APIKey, cfg.clientOptions(), cfg.transcriptionOptions(), cb)
	if err != nil {
		return nil, err
	}
	if !dg.Connect() {
		return nil, errors.New("deepgram connection failed")
	}
	return dg, nil
}

// Live is a recognizer backed by the Deepgram SDK websocket client. It
// reports the same events as recognize.Stream. Writes block until the SDK
// has read the chunk.
type Live struct {
	cfg    LiveConfig
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	dial   dialFunc

	mu          sync.Mutex
	client      liveClient
	pr          *io.PipeReader
	pw          *io.PipeWriter
	started     bool
	inputClosed bool
	stopped     bool
	// terminated is set once the service has been told input ended, either
	// by Finalize after CloseWrite or by the close message Stop sends.
	terminated bool

	emitMu sync.Mutex
	done   bool
	events *recognize.Emitter
}

func NewLive(cfg LiveConfig, logger *slog.Logger) *Live {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Live{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "deepgram_live").With(slog.String("stream_id", cfg.SessionID)),
		ctx:    ctx,
		cancel: cancel,
		dial:   dialSDK,
		events: recognize.NewEmitter(64),
	}
}

func (l *Live) Name() string { return "deepgram_live" }

func (l *Live) Events() <-chan recognize.Event { return l.events.Events() }

// Write connects on first use and hands p to the SDK stream.
func (l *Live) Write(p []byte) (int, error) {
	l.mu.Lock()
	switch {
	case l.stopped:
		l.mu.Unlock()
		return 0, recognize.ErrClosed
	case l.inputClosed:
		l.mu.Unlock()
		return 0, recognize.ErrInputClosed
	}
	if !l.started {
		if err := l.startLocked(); err != nil {
			l.mu.Unlock()
			return 0, err
		}
	}
	pw := l.pw
	l.mu.Unlock()

	n, err := pw.Write(p)
	if errors.Is(err, io.ErrClosedPipe) {
		return n, recognize.ErrClosed
	}
	return n, err
}

func (l *Live) startLocked() error {
	l.started = true
	l.pr, l.pw = io.Pipe()
	l.logger.Info("deepgram_connecting",
		slog.String("model", l.cfg.Model),
		slog.Int("sample_rate", l.cfg.SampleRate),
		slog.Bool("interim_results", l.cfg.Interim))

	dg, err := l.dial(l.ctx, l.cfg, &callback{parent: l})
	if err != nil {
		return l.failLocked(&recognize.ConnectionError{Op: "dial", Err: err})
	}
	l.client = dg
	l.emit(recognize.Event{Kind: recognize.EventConnect})
	l.emit(recognize.Event{Kind: recognize.EventListening})
	l.logger.Info("deepgram_connected")

	go l.stream(dg, l.pr)
	return nil
}

// stream feeds the SDK until the pipe ends. A clean end of input is passed on
// to the service with Finalize.
func (l *Live) stream(dg liveClient, pr *io.PipeReader) {
	err := dg.Stream(pr)
	switch {
	case errors.Is(err, io.EOF):
		l.finalize(dg)
	case err != nil && l.ctx.Err() == nil:
		l.logger.Warn("deepgram_stream_error", slog.String("error", err.Error()))
		l.emit(recognize.Event{Kind: recognize.EventError, Err: &recognize.ConnectionError{Op: "send", Err: err}})
	}
}

func (l *Live) finalize(dg liveClient) {
	l.mu.Lock()
	if l.terminated || l.stopped {
		l.mu.Unlock()
		return
	}
	l.terminated = true
	l.mu.Unlock()

	l.logger.Debug("deepgram_input_finished")
	if err := dg.Finalize(); err != nil {
		l.emit(recognize.Event{Kind: recognize.EventError, Err: &recognize.ConnectionError{Op: "send", Err: err}})
	}
}

func (l *Live) failLocked(err error) error {
	l.stopped = true
	l.logger.Error("deepgram_connect_failed", slog.String("error", err.Error()))
	_ = l.pr.CloseWithError(err)
	l.emit(recognize.Event{Kind: recognize.EventError, Err: err})
	l.finish(recognize.CloseAbnormal, "dial failed")
	return fmt.Errorf("%w: %w", recognize.ErrClosed, err)
}

// CloseWrite ends the audio input. Once the SDK has sent what was written,
// the service is asked to finalize the transcript.
func (l *Live) CloseWrite() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inputClosed {
		return nil
	}
	l.inputClosed = true
	if l.pw != nil {
		return l.pw.Close()
	}
	return nil
}

// Stop closes the SDK connection and ends the event stream.
func (l *Live) Stop() error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	l.terminated = true
	dg, pw := l.client, l.pw
	l.mu.Unlock()

	l.logger.Info("deepgram_stopping")
	l.emit(recognize.Event{Kind: recognize.EventStopping})
	if pw != nil {
		_ = pw.Close()
	}
	if dg != nil {
		dg.Stop()
	}
	l.finish(recognize.CloseNormal, "stopped")
	return nil
}

func (l *Live) Close() error { return l.Stop() }

// emit queues ev. It never blocks the SDK and never drops.
func (l *Live) emit(ev recognize.Event) {
	l.emitMu.Lock()
	defer l.emitMu.Unlock()
	if l.done {
		return
	}
	l.events.Push(ev)
}

func (l *Live) finish(code int, reason string) {
	l.emitMu.Lock()
	defer l.emitMu.Unlock()
	if l.done {
		return
	}
	l.done = true
	l.events.Push(recognize.Event{Kind: recognize.EventClose, Code: code, Reason: reason})
	l.events.Close()
	l.cancel()
}

// messageEvents maps an SDK transcript message to results and data events.
func messageEvents(mr *msginterfaces.MessageResponse) []recognize.Event {
	if mr == nil || len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return nil
	}
	channel := "0"
	if len(mr.ChannelIndex) > 0 {
		channel = strconv.Itoa(mr.ChannelIndex[0])
	}
	msg := &recognize.Message{
		Transcript: alt.Transcript,
		IsFinal:    mr.IsFinal || mr.SpeechFinal,
		Confidence: alt.Confidence,
		Channel:    recognize.Channel(channel),
	}
	evs := []recognize.Event{{Kind: recognize.EventResults, Results: msg}}
	if msg.IsFinal {
		evs = append(evs, recognize.Event{Kind: recognize.EventData, Data: []recognize.Result{{
			Value:      msg.Transcript,
			Confidence: msg.Confidence,
			Channel:    msg.Channel,
		}}})
	}
	return evs
}

type callback struct {
	parent *Live
}

func (c *callback) Open(*msginterfaces.OpenResponse) error {
	c.parent.logger.Debug("deepgram_connection_opened")
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	for _, ev := range messageEvents(mr) {
		if ev.Kind == recognize.EventResults {
			c.parent.logger.Debug("deepgram_transcript",
				slog.String("transcript", redact.Text(ev.Results.Transcript)),
				slog.Bool("is_final", ev.Results.IsFinal))
		}
		c.parent.emit(ev)
	}
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.parent.logger.Info("deepgram_metadata_received", slog.String("request_id", md.RequestID))
	return nil
}

func (c *callback) SpeechStarted(*msginterfaces.SpeechStartedResponse) error {
	c.parent.logger.Debug("deepgram_speech_started")
	return nil
}

func (c *callback) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	c.parent.logger.Debug("deepgram_utterance_end")
	return nil
}

func (c *callback) Close(*msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed")
	c.parent.finish(recognize.CloseNormal, "")
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.parent.emit(recognize.Event{Kind: recognize.EventError, Err: &recognize.ServiceError{Msg: er.ErrCode + ": " + er.ErrMsg}})
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.emit(recognize.Event{Kind: recognize.EventError, Err: &recognize.ProtocolError{Msg: "Unrecognised message from server", Raw: byData}})
	return nil
}

var _ stt.Recognizer = (*Live)(nil)

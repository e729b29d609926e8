// Package twilio receives the audio of a single phone call over Twilio Media
// Streams.
package twilio

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/harunnryd/dgstream/pkg/errorsx"
	"github.com/harunnryd/dgstream/pkg/logging"
	"github.com/harunnryd/dgstream/pkg/resilience"
	"github.com/harunnryd/dgstream/pkg/sources"
	twilioclient "github.com/twilio/twilio-go/client"
)

type Config struct {
	ServerAddr         string   `mapstructure:"server_addr"`
	PublicURL          string   `mapstructure:"public_url"`
	AuthToken          string   `mapstructure:"auth_token"`
	AccountSID         string   `mapstructure:"account_sid"`
	VoicePath          string   `mapstructure:"voice_path"`
	WebsocketPath      string   `mapstructure:"ws_path"`
	StatusCallbackPath string   `mapstructure:"status_callback_path"`
	VoiceGreeting      string   `mapstructure:"voice_greeting"`
	AllowAnyOrigin     bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	// DialTo, when set, places an outbound call from DialFrom once the
	// webhook server is up.
	DialTo      string `mapstructure:"dial_to"`
	DialFrom    string `mapstructure:"dial_from"`
	DialRetries int    `mapstructure:"dial_retries"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.VoicePath == "" {
		c.VoicePath = "/voice"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.StatusCallbackPath == "" {
		c.StatusCallbackPath = "/status"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Source serves the voice webhook and media stream for one call and exposes
// the caller's μ-law audio as a byte stream. Calls after the first are refused.
type Source struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
	calls    callCreator
	retry    resilience.RetryPolicy

	pr *io.PipeReader
	pw *io.PipeWriter

	mu        sync.Mutex
	server    *http.Server
	conn      *websocket.Conn
	claimed   bool
	ended     bool
	callSID   string
	streamSID string

	draining atomic.Bool
}

func New(cfg Config, logger *slog.Logger) *Source {
	cfg = cfg.withDefaults()
	pr, pw := io.Pipe()
	s := &Source{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "twilio_source"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		retry: resilience.NewRetryPolicy(cfg.DialRetries, 500*time.Millisecond),
		pr:    pr,
		pw:    pw,
	}
	s.upgrader.CheckOrigin = s.checkOrigin
	return s
}

func (s *Source) Name() string { return "twilio" }

// Encoding and SampleRate describe Media Streams audio.
func (s *Source) Encoding() string { return "mulaw" }
func (s *Source) SampleRate() int  { return 8000 }

// Handler routes the webhook, status callback and media stream endpoints.
func (s *Source) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.VoicePath, s.handleVoice)
	mux.Handle(s.cfg.WebsocketPath, s)
	mux.HandleFunc(s.cfg.StatusCallbackPath, s.handleStatusCallback)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Open starts the webhook server and returns the call audio. Reads block until
// the call streams media and end with io.EOF when it hangs up.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	ln, err := net.Listen("tcp", s.cfg.ServerAddr)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("twilio: listen %s: %w", s.cfg.ServerAddr, err), errorsx.ReasonSourceOpen)
	}
	srv := &http.Server{
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           s.Handler(),
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()
	context.AfterFunc(ctx, func() { _ = s.Close() })
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("twilio_server_error", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("twilio_source_ready",
		slog.String("webhook_url", s.voiceWebhookURL()),
		slog.String("status_callback_url", s.statusCallbackURL()))

	if s.cfg.DialTo != "" {
		sid, err := s.placeCall(ctx)
		if err != nil {
			_ = s.Close()
			return nil, errorsx.Wrap(fmt.Errorf("twilio: place call: %w", err), errorsx.ReasonSourceOpen)
		}
		s.mu.Lock()
		s.callSID = sid
		s.mu.Unlock()
		s.logger.Info("twilio_call_placed", slog.String("call_sid", sid), slog.String("to", s.cfg.DialTo))
	}
	return callAudio{s: s}, nil
}

type callAudio struct {
	s *Source
}

func (a callAudio) Read(p []byte) (int, error) { return a.s.pr.Read(p) }
func (a callAudio) Close() error               { return a.s.Close() }

// Close stops the server, drops the call and ends the audio stream.
func (s *Source) Close() error {
	s.draining.Store(true)
	s.mu.Lock()
	srv, conn := s.server, s.conn
	s.mu.Unlock()
	if srv != nil {
		_ = srv.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
	s.endCall("source_closed")
	_ = s.pr.Close()
	return nil
}

// endCall ends the audio stream with io.EOF. Only the first call counts.
func (s *Source) endCall(reason string) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	callSID := s.callSID
	s.mu.Unlock()
	s.logger.Info("twilio_call_end", slog.String("call_sid", callSID), slog.String("reason", reason))
	_ = s.pw.Close()
}

func (s *Source) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed || s.ended {
		return false
	}
	s.claimed = true
	return true
}

func (s *Source) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimed || s.ended
}

func (s *Source) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if !s.claim() {
		s.logger.Warn("twilio_stream_refused", slog.String("reason_code", string(errorsx.ReasonSourceBusy)))
		w.WriteHeader(http.StatusConflict)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.mu.Lock()
		s.claimed = false
		s.mu.Unlock()
		return
	}
	defer conn.Close()
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	reason := "transport_closed"
loop:
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var evt Event
		if err := json.Unmarshal(msg, &evt); err != nil {
			continue
		}
		switch evt.Event {
		case "start":
			if evt.Start == nil {
				continue
			}
			s.mu.Lock()
			s.callSID = evt.Start.CallSID
			s.streamSID = evt.Start.StreamSID
			s.mu.Unlock()
			s.logger.Info("twilio_call_start",
				slog.String("call_sid", evt.Start.CallSID),
				slog.String("stream_sid", evt.Start.StreamSID),
				slog.String("trace_id", uuid.NewString()))
		case "media":
			if evt.Media == nil || (evt.Media.Track != "" && evt.Media.Track != "inbound") {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(evt.Media.Payload)
			if err != nil {
				continue
			}
			if _, err := s.pw.Write(payload); err != nil {
				reason = "source_closed"
				break loop
			}
		case "stop":
			reason = "completed"
			if evt.Stop != nil && evt.Stop.Reason != "" {
				reason = evt.Stop.Reason
			}
			break loop
		}
	}
	s.endCall(normalizeCallEndReason(reason))
}

func (s *Source) handleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.AuthToken != "" && !s.validateTwilioRequest(r) {
		s.logger.Warn("twilio_invalid_signature", slog.String("reason_code", string(errorsx.ReasonTransportInvalidSignature)))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	if s.busy() {
		_, _ = w.Write([]byte(`<Response><Reject reason="busy"/></Response>`))
		return
	}
	wsURL := s.websocketURL(r)
	var twiml string
	if greeting := strings.TrimSpace(s.cfg.VoiceGreeting); greeting != "" {
		twiml = `<Response><Say>` + xmlEscape(greeting) + `</Say><Connect><Stream url="` + wsURL + `"/></Connect></Response>`
	} else {
		twiml = `<Response><Connect><Stream url="` + wsURL + `"/></Connect></Response>`
	}
	_, _ = w.Write([]byte(twiml))
}

func (s *Source) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.AuthToken != "" && !s.validateTwilioRequest(r) {
		s.logger.Warn("twilio_status_invalid_signature", slog.String("reason_code", string(errorsx.ReasonTransportInvalidSignature)))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	callSID := r.FormValue("CallSid")
	reason := normalizeCallEndReason(r.FormValue("CallStatus"))
	s.mu.Lock()
	current := s.callSID
	s.mu.Unlock()
	if reason != "" && callSID != "" && callSID == current {
		s.endCall(reason)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Source) websocketURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return "wss://" + normalizePublicURL(s.cfg.PublicURL) + s.cfg.WebsocketPath
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(s.cfg.ServerAddr, ":")
	}
	return "wss://" + host + s.cfg.WebsocketPath
}

func (s *Source) voiceWebhookURL() string {
	return s.publicHTTPURL(s.cfg.VoicePath)
}

func (s *Source) statusCallbackURL() string {
	return s.publicHTTPURL(s.cfg.StatusCallbackPath)
}

func (s *Source) publicHTTPURL(path string) string {
	if s.cfg.PublicURL != "" {
		return "https://" + normalizePublicURL(s.cfg.PublicURL) + path
	}
	addr := s.cfg.ServerAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + path
}

func (s *Source) validateTwilioRequest(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" || s.cfg.AuthToken == "" {
		return false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	validator := twilioclient.NewRequestValidator(s.cfg.AuthToken)
	return validator.ValidateBody(s.requestURL(r), body, signature)
}

func (s *Source) requestURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return strings.TrimRight(s.cfg.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "https"
		}
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(s.cfg.ServerAddr, ":")
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func (s *Source) checkOrigin(r *http.Request) bool {
	if s.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimRight(strings.TrimSpace(r.Header.Get("Origin")), "/")
	if origin == "" {
		return true
	}
	originHost := strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
	for _, allowed := range s.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

func xmlEscape(in string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(in)
}

func normalizeCallEndReason(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return ""
	case "queued", "ringing", "in-progress", "inprogress":
		return ""
	case "completed", "call_ended", "call-ended", "hangup":
		return "completed"
	case "busy":
		return "busy"
	case "no_answer", "noanswer", "no-answer":
		return "no_answer"
	case "failed", "error", "canceled", "cancelled", "transport_closed":
		return "failed"
	case "source_closed":
		return "source_closed"
	default:
		return "unknown"
	}
}

func normalizePublicURL(v string) string {
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	return strings.TrimRight(v, "/")
}

// Event is one Media Streams websocket message.
type Event struct {
	Event string `json:"event"`
	Start *Start `json:"start,omitempty"`
	Media *Media `json:"media,omitempty"`
	Stop  *Stop  `json:"stop,omitempty"`
}

type Start struct {
	CallSID   string `json:"callSid"`
	StreamSID string `json:"streamSid"`
}

type Media struct {
	Track   string `json:"track"`
	Payload string `json:"payload"`
}

type Stop struct {
	Reason string `json:"reason"`
}

var (
	_ sources.Source = (*Source)(nil)
	_ sources.Format = (*Source)(nil)
)

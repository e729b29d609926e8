package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/dgstream/pkg/errorsx"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaultsAndEnv(t *testing.T) {
	t.Setenv("DEEPGRAM_USERNAME", "alice")
	t.Setenv("DEEPGRAM_PASSWORD", "s3cret")
	path := writeConfig(t, `
source:
  provider: file
  path: ./discovery-1min.wav
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Credentials.Username != "alice" || cfg.Credentials.Password != "s3cret" {
		t.Fatalf("expected credentials from env, got %+v", cfg.Credentials)
	}
	if cfg.Recognizer.Provider != ProviderStream || !cfg.Recognizer.InterimResults {
		t.Fatalf("unexpected recognizer defaults %+v", cfg.Recognizer)
	}
	if cfg.Recognizer.Endpoint != "wss://brain.deepgram.com/v2/listen/stream" {
		t.Fatalf("unexpected endpoint %q", cfg.Recognizer.Endpoint)
	}
	if cfg.Recognizer.PollInterval() != 10*time.Millisecond || cfg.Recognizer.HighWaterMark != 0 {
		t.Fatalf("unexpected backpressure defaults %+v", cfg.Recognizer)
	}
	if cfg.Session.StopAfter() != 30*time.Second || cfg.Session.Grace() != 15*time.Second {
		t.Fatalf("unexpected session defaults %+v", cfg.Session)
	}
	if cfg.Recognizer.MaxBufferedBytes != 8<<20 {
		t.Fatalf("unexpected transport buffer default %d", cfg.Recognizer.MaxBufferedBytes)
	}
	if cfg.Source.ChunkSize != 4096 || cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadConfigExpandsEnvStrings(t *testing.T) {
	t.Setenv("DG_USER", "bob")
	t.Setenv("DG_PASS", "pw")
	t.Setenv("TWILIO_TOKEN", "tok")
	path := writeConfig(t, `
recognizer:
  provider: stream
  endpoint: ws://localhost:9000/listen
  interim_results: false
  high_water_mark: 65536
credentials:
  username: ${DG_USER}
  password: ${DG_PASS}
source:
  provider: twilio
  settings:
    auth_token: ${TWILIO_TOKEN}
    server_addr: ":8081"
session:
  stop_after_ms: 1000
  grace_ms: 500
privacy:
  redact_transcripts: true
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Credentials.Username != "bob" || cfg.Credentials.Password != "pw" {
		t.Fatalf("expected expanded credentials, got %+v", cfg.Credentials)
	}
	if cfg.Source.Settings["auth_token"] != "tok" {
		t.Fatalf("expected expanded settings, got %v", cfg.Source.Settings)
	}
	if cfg.Recognizer.InterimResults || cfg.Recognizer.HighWaterMark != 65536 {
		t.Fatalf("unexpected recognizer %+v", cfg.Recognizer)
	}
	if cfg.Session.StopAfter() != time.Second || !cfg.Privacy.RedactTranscripts {
		t.Fatalf("unexpected session/privacy %+v %+v", cfg.Session, cfg.Privacy)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	t.Setenv("DEEPGRAM_USERNAME", "")
	t.Setenv("DEEPGRAM_PASSWORD", "")
	cases := map[string]struct {
		body   string
		substr string
	}{
		"missing credentials": {
			body:   "source:\n  path: a.wav\n",
			substr: "credentials.username",
		},
		"unknown provider": {
			body:   "recognizer:\n  provider: carrier-pigeon\nsource:\n  path: a.wav\n",
			substr: "not supported",
		},
		"missing file path": {
			body:   "credentials:\n  username: u\n  password: p\n",
			substr: "source.path is required",
		},
		"high water mark beyond transport buffer": {
			body:   "credentials:\n  username: u\n  password: p\nrecognizer:\n  high_water_mark: 1048576\n  max_buffered_bytes: 1048576\nsource:\n  path: a.wav\n",
			substr: "max_buffered_bytes",
		},
		"unknown sdk setting": {
			body:   "recognizer:\n  provider: sdk\n  settings:\n    turbo: true\nsource:\n  path: a.wav\n",
			substr: "unknown: turbo",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.substr) {
				t.Fatalf("expected %q in %q", tc.substr, err.Error())
			}
			if !errorsx.HasReason(err, errorsx.ReasonConfigInvalid) {
				t.Fatalf("expected config reason, got %s", errorsx.Reason(err))
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestDecodeSettingsNormalizesKeys(t *testing.T) {
	var out struct {
		SampleRate int    `mapstructure:"sample_rate"`
		APIKey     string `mapstructure:"api_key"`
		Interim    bool   `mapstructure:"interim_results"`
	}
	err := DecodeSettings(map[string]any{"Sample-Rate": "8000", "APIKEY": "k", "interim_results": "true"}, &out)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if out.SampleRate != 8000 || out.APIKey != "k" || !out.Interim {
		t.Fatalf("unexpected decode %+v", out)
	}
	if err := DecodeSettings(nil, &out); err != nil {
		t.Fatalf("expected nil settings to be a no-op, got %v", err)
	}
}

func TestValidateSettings(t *testing.T) {
	schema := Schema{Required: []string{"auth_token"}, Optional: []string{"ws_path"}}
	if err := ValidateSettings(map[string]any{"Auth-Token": "x", "ws_path": "/ws"}, schema); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := ValidateSettings(map[string]any{"auth_token": " ", "extra": 1}, schema)
	if err == nil || err.Error() != "missing: auth_token; unknown: extra" {
		t.Fatalf("unexpected error %v", err)
	}
	if err := ValidateSettings(map[string]any{"extra": 1}, Schema{AllowUnknown: true}); err != nil {
		t.Fatalf("expected unknown keys allowed, got %v", err)
	}
}

package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/harunnryd/dgstream/pkg/errorsx"
	"github.com/spf13/viper"
)

// Recognizer providers.
const (
	ProviderStream = "stream"
	ProviderSDK    = "sdk"
)

// Source providers.
const (
	SourceFile   = "file"
	SourceTwilio = "twilio"
)

type Config struct {
	Recognizer  RecognizerConfig  `mapstructure:"recognizer"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Source      SourceConfig      `mapstructure:"source"`
	Session     SessionConfig     `mapstructure:"session"`
	LogLevel    string            `mapstructure:"log_level"`
	LogFormat   string            `mapstructure:"log_format"`
	Privacy     PrivacyConfig     `mapstructure:"privacy"`
}

type RecognizerConfig struct {
	Provider           string         `mapstructure:"provider"`
	Endpoint           string         `mapstructure:"endpoint"`
	InterimResults     bool           `mapstructure:"interim_results"`
	HighWaterMark      int            `mapstructure:"high_water_mark"`
	PollIntervalMS     int            `mapstructure:"poll_interval_ms"`
	HandshakeTimeoutMS int            `mapstructure:"handshake_timeout_ms"`
	MaxBufferedBytes   int            `mapstructure:"max_buffered_bytes"`
	Settings           map[string]any `mapstructure:"settings"`
}

func (r RecognizerConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalMS) * time.Millisecond
}

func (r RecognizerConfig) HandshakeTimeout() time.Duration {
	return time.Duration(r.HandshakeTimeoutMS) * time.Millisecond
}

type CredentialsConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type SourceConfig struct {
	Provider  string         `mapstructure:"provider"`
	Path      string         `mapstructure:"path"`
	ChunkSize int            `mapstructure:"chunk_size"`
	Settings  map[string]any `mapstructure:"settings"`
}

type SessionConfig struct {
	StopAfterMS int `mapstructure:"stop_after_ms"`
	GraceMS     int `mapstructure:"grace_ms"`
}

func (s SessionConfig) StopAfter() time.Duration {
	return time.Duration(s.StopAfterMS) * time.Millisecond
}

func (s SessionConfig) Grace() time.Duration {
	return time.Duration(s.GraceMS) * time.Millisecond
}

type PrivacyConfig struct {
	RedactTranscripts bool `mapstructure:"redact_transcripts"`
}

// LoadConfig reads the YAML file at path on top of defaults and the
// DEEPGRAM_* environment. An empty path loads defaults and environment only.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("recognizer.provider", ProviderStream)
	v.SetDefault("recognizer.endpoint", "wss://brain.deepgram.com/v2/listen/stream")
	v.SetDefault("recognizer.interim_results", true)
	v.SetDefault("recognizer.high_water_mark", 0)
	v.SetDefault("recognizer.poll_interval_ms", 10)
	v.SetDefault("recognizer.handshake_timeout_ms", 10000)
	v.SetDefault("recognizer.max_buffered_bytes", 8<<20)
	v.SetDefault("source.provider", SourceFile)
	v.SetDefault("source.chunk_size", 4096)
	v.SetDefault("session.stop_after_ms", 30000)
	v.SetDefault("session.grace_ms", 15000)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("privacy.redact_transcripts", false)

	_ = v.BindEnv("credentials.username", "DEEPGRAM_USERNAME")
	_ = v.BindEnv("credentials.password", "DEEPGRAM_PASSWORD")
	_ = v.BindEnv("recognizer.endpoint", "DEEPGRAM_ENDPOINT")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errorsx.Wrap(fmt.Errorf("read config: %w", err), errorsx.ReasonConfigInvalid)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("unmarshal: %w", err), errorsx.ReasonConfigInvalid)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("validate config: %w", err), errorsx.ReasonConfigInvalid)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Recognizer.Provider)) {
	case ProviderStream:
		if strings.TrimSpace(c.Credentials.Username) == "" || strings.TrimSpace(c.Credentials.Password) == "" {
			return fmt.Errorf("credentials.username and credentials.password are required for the %s recognizer", ProviderStream)
		}
	case ProviderSDK:
		if err := ValidateSettings(c.Recognizer.Settings, liveSettingsSchema); err != nil {
			return fmt.Errorf("recognizer.settings: %w", err)
		}
	case "":
		return fmt.Errorf("recognizer.provider is required")
	default:
		return fmt.Errorf("recognizer.provider %q is not supported", c.Recognizer.Provider)
	}
	if c.Recognizer.HighWaterMark < 0 {
		return fmt.Errorf("recognizer.high_water_mark must not be negative")
	}

	switch strings.ToLower(strings.TrimSpace(c.Source.Provider)) {
	case SourceFile:
		if err := RequireString(c.Source.Path, "source.path"); err != nil {
			return err
		}
	case SourceTwilio:
		if err := ValidateSettings(c.Source.Settings, twilioSettingsSchema); err != nil {
			return fmt.Errorf("source.settings: %w", err)
		}
	case "":
		return fmt.Errorf("source.provider is required")
	default:
		return fmt.Errorf("source.provider %q is not supported", c.Source.Provider)
	}
	if c.Source.ChunkSize <= 0 {
		return fmt.Errorf("source.chunk_size must be positive")
	}
	// A writer waits until at most high_water_mark bytes are queued and then
	// adds one chunk; the transport must have room for both.
	if c.Recognizer.MaxBufferedBytes < c.Recognizer.HighWaterMark+c.Source.ChunkSize {
		return fmt.Errorf("recognizer.max_buffered_bytes (%d) must be at least high_water_mark + source.chunk_size (%d)",
			c.Recognizer.MaxBufferedBytes, c.Recognizer.HighWaterMark+c.Source.ChunkSize)
	}
	if c.Session.StopAfterMS < 0 || c.Session.GraceMS < 0 {
		return fmt.Errorf("session durations must not be negative")
	}
	return nil
}

var liveSettingsSchema = Schema{
	Optional: []string{
		"api_key", "host", "model", "language", "encoding", "sample_rate",
		"channels", "interim_results", "smart_format", "vad_events", "utterance_end_ms",
	},
}

var twilioSettingsSchema = Schema{
	Optional: []string{
		"server_addr", "public_url", "auth_token", "account_sid", "voice_path", "ws_path",
		"status_callback_path", "voice_greeting", "allow_any_origin", "allowed_origins",
		"dial_to", "dial_from", "dial_retries",
	},
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Recognizer.Settings = expandSettings(cfg.Recognizer.Settings)
	cfg.Source.Settings = expandSettings(cfg.Source.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	}
}

// Package config loads listener settings from config.yml, .env and the
// environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// LISTENER_SERVER_PORT overrides server.port.
const EnvPrefix = "LISTENER"

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Audio       AudioConfig       `mapstructure:"audio"`
	Models      ModelsConfig      `mapstructure:"models"`
	Attribution AttributionConfig `mapstructure:"attribution"`
	Scribe      ScribeConfig      `mapstructure:"scribe"`
	Events      EventsConfig      `mapstructure:"events"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	// Bearer token required on every route except /health and /metrics
	Token string `mapstructure:"token"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type DatabaseConfig struct {
	// "postgres" or "sqlite"
	Driver string `mapstructure:"driver"`
	// Used as-is when set, otherwise built from the fields below
	DSN      string `mapstructure:"dsn"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`

	LogLevel      string        `mapstructure:"log_level"`
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`
	MaxOpenConns  int           `mapstructure:"max_open_conns"`
}

// ConnString returns the DSN for the configured driver.
func (d DatabaseConfig) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	if strings.EqualFold(d.Driver, "sqlite") {
		return d.Name
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   d.Name,
	}
	if d.SSLMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(d.SSLMode)
	}
	return u.String()
}

type AudioConfig struct {
	DefaultDurationSec int    `mapstructure:"default_duration_sec"`
	RecordingsDir      string `mapstructure:"recordings_dir"`
	UploadDir          string `mapstructure:"upload_dir"`
	// Convert uploads to 16 kHz mono WAV with ffmpeg before transcription
	NormalizeUploads bool   `mapstructure:"normalize_uploads"`
	LoopbackHostAPI  string `mapstructure:"loopback_host_api"`
	MaxUploadMB      int64  `mapstructure:"max_upload_mb"`
}

// DefaultDuration is the recording length used when a request gives none.
func (a AudioConfig) DefaultDuration() time.Duration {
	return time.Duration(a.DefaultDurationSec) * time.Second
}

type ModelsConfig struct {
	// "whisper-http" or "whisper-cli"
	Transcriber  string `mapstructure:"transcriber"`
	WhisperURL   string `mapstructure:"whisper_url"`
	WhisperPath  string `mapstructure:"whisper_path"`
	WhisperModel string `mapstructure:"whisper_model"`
	Language     string `mapstructure:"language"`

	// "pyannote"
	Diarizer         string `mapstructure:"diarizer"`
	DiarizerURL      string `mapstructure:"diarizer_url"`
	DiarizationModel string `mapstructure:"diarization_model"`
	NumSpeakers      int    `mapstructure:"num_speakers"`

	Timeout time.Duration `mapstructure:"timeout"`
}

type AttributionConfig struct {
	// "endpoint" or "overlap"
	Match string `mapstructure:"match"`
}

type ScribeConfig struct {
	Workers   int    `mapstructure:"workers"`
	QueueSize int    `mapstructure:"queue_size"`
	InboxDir  string `mapstructure:"inbox_dir"`
}

type EventsConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")
	v.SetDefault("server.token", "")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "listener")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.slow_threshold", "500ms")
	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("audio.default_duration_sec", 60)
	v.SetDefault("audio.recordings_dir", "recordings")
	v.SetDefault("audio.upload_dir", "uploads")
	v.SetDefault("audio.normalize_uploads", false)
	v.SetDefault("audio.loopback_host_api", "")
	v.SetDefault("audio.max_upload_mb", 512)

	v.SetDefault("models.transcriber", "whisper-http")
	v.SetDefault("models.whisper_url", "http://localhost:8387")
	v.SetDefault("models.whisper_path", "whisper-cli")
	v.SetDefault("models.whisper_model", "base")
	v.SetDefault("models.language", "")
	v.SetDefault("models.diarizer", "pyannote")
	v.SetDefault("models.diarizer_url", "http://localhost:8388")
	v.SetDefault("models.diarization_model", "pyannote/speaker-diarization-3.1")
	v.SetDefault("models.num_speakers", 0)
	v.SetDefault("models.timeout", "15m")

	v.SetDefault("attribution.match", "endpoint")

	v.SetDefault("scribe.workers", 2)
	v.SetDefault("scribe.queue_size", 100)
	v.SetDefault("scribe.inbox_dir", "")

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.brokers", []string{})
	v.SetDefault("events.topic", "listener.meetings")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration. An explicit path must exist; otherwise
// config.yml is searched in . and ./config and may be absent. A .env file in
// the working directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		return errors.New("server.cert_file and server.key_file must be set together")
	}
	if c.Audio.DefaultDurationSec <= 0 {
		return fmt.Errorf("invalid audio.default_duration_sec %d", c.Audio.DefaultDurationSec)
	}
	switch strings.ToLower(c.Attribution.Match) {
	case "", "endpoint", "overlap":
	default:
		return fmt.Errorf("invalid attribution.match %q", c.Attribution.Match)
	}
	if c.Scribe.Workers <= 0 {
		return fmt.Errorf("invalid scribe.workers %d", c.Scribe.Workers)
	}
	return nil
}

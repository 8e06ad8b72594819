package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config stores runtime configuration for a streaming session.
type Config struct {
	Voxist  VoxistConfig  `toml:"voxist"`
	Audio   AudioConfig   `toml:"audio"`
	Session SessionConfig `toml:"session"`
	Log     LogConfig     `toml:"log"`
}

type VoxistConfig struct {
	APIKey     string `toml:"api_key"`
	Language   string `toml:"lang"`
	SampleRate int    `toml:"sample_rate"`
	Staging    bool   `toml:"staging"`
	BaseURL    string `toml:"base_url"`
	Engine     string `toml:"engine"`

	Username  string `toml:"username"`
	Password  string `toml:"password"`
	AuthURL   string `toml:"auth_url"`
	SocketURL string `toml:"socket_url"`
}

// UsePasswordGrant reports whether the session should authenticate with
// account credentials instead of an API key.
func (c VoxistConfig) UsePasswordGrant() bool {
	return c.APIKey == "" && c.Username != ""
}

type AudioConfig struct {
	ChunkMs       int    `toml:"chunk_ms"`
	Channels      int    `toml:"channels"`
	MicBackend    string `toml:"mic_backend"`
	FFMPEGCommand string `toml:"ffmpeg_command"`
	InputFormat   string `toml:"input_format"`
	InputDevice   string `toml:"input_device"`
}

type SessionConfig struct {
	ConnectTimeoutMs int `toml:"connect_timeout_ms"`
	CloseGraceMs     int `toml:"close_grace_ms"`
	DrainTimeoutMs   int `toml:"drain_timeout_ms"`
}

func (c SessionConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

func (c SessionConfig) CloseGrace() time.Duration {
	return time.Duration(c.CloseGraceMs) * time.Millisecond
}

func (c SessionConfig) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutMs) * time.Millisecond
}

type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Voxist: VoxistConfig{
			Language:   "fr",
			SampleRate: 16000,
		},
		Audio: AudioConfig{
			ChunkMs:       100,
			Channels:      1,
			MicBackend:    "native",
			FFMPEGCommand: "ffmpeg",
			InputFormat:   "pulse",
			InputDevice:   "default",
		},
		Session: SessionConfig{
			ConnectTimeoutMs: 10000,
			CloseGraceMs:     2000,
			DrainTimeoutMs:   30000,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load resolves configuration from defaults, an optional TOML file, an
// optional dotenv file, and the process environment, in that order.
func Load() (Config, error) {
	cfg := Defaults()

	if path, explicit := configFilePath(); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("failed to load config file %q: %w", path, err)
			}
		}
	}

	dotenv, err := readDotenv()
	if err != nil {
		return Config{}, err
	}
	e := env{dotenv: dotenv}

	cfg.Voxist = VoxistConfig{
		APIKey:     e.orDefault("VOXIST_API_KEY", cfg.Voxist.APIKey),
		Language:   e.orDefault("VOXIST_LANG", cfg.Voxist.Language),
		SampleRate: e.orDefaultInt("VOXIST_SAMPLE_RATE", cfg.Voxist.SampleRate),
		Staging:    e.orDefaultBool("VOXIST_STAGING", cfg.Voxist.Staging),
		BaseURL:    e.orDefault("VOXIST_BASE_URL", cfg.Voxist.BaseURL),
		Engine:     e.orDefault("VOXIST_ENGINE", cfg.Voxist.Engine),
		Username:   e.orDefault("VOXIST_USERNAME", cfg.Voxist.Username),
		Password:   e.orDefault("VOXIST_PASSWORD", cfg.Voxist.Password),
		AuthURL:    e.orDefault("VOXIST_AUTH_URL", cfg.Voxist.AuthURL),
		SocketURL:  e.orDefault("VOXIST_SOCKET_URL", cfg.Voxist.SocketURL),
	}
	cfg.Audio = AudioConfig{
		ChunkMs:       e.orDefaultInt("VOXSTREAM_CHUNK_MS", cfg.Audio.ChunkMs),
		Channels:      e.orDefaultInt("VOXSTREAM_CHANNELS", cfg.Audio.Channels),
		MicBackend:    e.orDefault("VOXSTREAM_MIC_BACKEND", cfg.Audio.MicBackend),
		FFMPEGCommand: e.orDefault("VOXSTREAM_FFMPEG_COMMAND", cfg.Audio.FFMPEGCommand),
		InputFormat:   e.orDefault("VOXSTREAM_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat),
		InputDevice: firstNonEmpty(
			e.get("VOXSTREAM_AUDIO_INPUT_DEVICE"),
			cfg.Audio.InputDevice,
			"default",
		),
	}
	cfg.Session = SessionConfig{
		ConnectTimeoutMs: e.nonNegativeInt("VOXSTREAM_CONNECT_TIMEOUT_MS", cfg.Session.ConnectTimeoutMs),
		CloseGraceMs:     e.nonNegativeInt("VOXSTREAM_CLOSE_GRACE_MS", cfg.Session.CloseGraceMs),
		DrainTimeoutMs:   e.nonNegativeInt("VOXSTREAM_DRAIN_TIMEOUT_MS", cfg.Session.DrainTimeoutMs),
	}
	cfg.Log = LogConfig{
		Level: e.orDefault("VOXSTREAM_LOG_LEVEL", cfg.Log.Level),
		File:  e.orDefault("VOXSTREAM_LOG_FILE", cfg.Log.File),
	}

	cfg.Normalize()
	return cfg, nil
}

// Normalize replaces out-of-range values with defaults. It is also applied
// after command-line overrides.
func (c *Config) Normalize() {
	def := Defaults()

	if c.Voxist.SampleRate <= 0 {
		c.Voxist.SampleRate = def.Voxist.SampleRate
	}
	if strings.TrimSpace(c.Voxist.Language) == "" {
		c.Voxist.Language = def.Voxist.Language
	}
	if c.Audio.ChunkMs <= 0 {
		c.Audio.ChunkMs = def.Audio.ChunkMs
	}
	if c.Audio.Channels <= 0 {
		c.Audio.Channels = def.Audio.Channels
	}
	switch strings.ToLower(strings.TrimSpace(c.Audio.MicBackend)) {
	case "ffmpeg":
		c.Audio.MicBackend = "ffmpeg"
	default:
		c.Audio.MicBackend = "native"
	}
	if c.Session.ConnectTimeoutMs <= 0 {
		c.Session.ConnectTimeoutMs = def.Session.ConnectTimeoutMs
	}
	if c.Session.CloseGraceMs <= 0 {
		c.Session.CloseGraceMs = def.Session.CloseGraceMs
	}
	if c.Session.DrainTimeoutMs <= 0 {
		c.Session.DrainTimeoutMs = def.Session.DrainTimeoutMs
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

func configFilePath() (path string, explicit bool) {
	if p := strings.TrimSpace(os.Getenv("VOXSTREAM_CONFIG")); p != "" {
		return p, true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(home, ".config", "voxstream", "config.toml"), false
}

// readDotenv parses the dotenv file without touching the process environment.
func readDotenv() (map[string]string, error) {
	path := strings.TrimSpace(os.Getenv("VOXSTREAM_ENV_FILE"))
	explicit := path != ""
	if !explicit {
		path = ".env"
	}

	values, err := godotenv.Read(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read env file %q: %w", path, err)
	}
	return values, nil
}

// env looks keys up in the process environment first, then the dotenv file.
type env struct {
	dotenv map[string]string
}

func (e env) get(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return strings.TrimSpace(e.dotenv[key])
}

func (e env) orDefault(key string, fallback string) string {
	value := e.get(key)
	if value == "" {
		return fallback
	}
	return value
}

func (e env) orDefaultInt(key string, fallback int) int {
	value := e.get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (e env) orDefaultBool(key string, fallback bool) bool {
	switch strings.ToLower(e.get(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func (e env) nonNegativeInt(key string, fallback int) int {
	parsed := e.orDefaultInt(key, fallback)
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

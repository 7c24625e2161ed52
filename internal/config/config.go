package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"asticker2vid/internal/render"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for asticker2vid.
type Config struct {
	DataDir        string               `json:"dataDir" yaml:"dataDir"`
	Telegram       TelegramConfig       `json:"telegram" yaml:"telegram"`
	HTTP           HTTPConfig           `json:"http" yaml:"http"`
	Render         RenderConfig         `json:"render" yaml:"render"`
	Scratch        ScratchConfig        `json:"scratch" yaml:"scratch"`
	Cache          CacheConfig          `json:"cache" yaml:"cache"`
	Archive        ArchiveConfig        `json:"archive" yaml:"archive"`
	ErrorReporting ErrorReportingConfig `json:"errorReporting" yaml:"errorReporting"`
	Logging        LoggingConfig        `json:"logging" yaml:"logging"`
	Workers        WorkersConfig        `json:"workers" yaml:"workers"`
	Metrics        MetricsConfig        `json:"metrics" yaml:"metrics"`
}

type TelegramConfig struct {
	Token         string         `json:"token" yaml:"token"`
	BotURL        string         `json:"botURL" yaml:"botURL"`           // target of GET /
	PollTimeout   int            `json:"pollTimeout" yaml:"pollTimeout"` // long-poll seconds
	AllowFrom     FlexStringList `json:"allowFrom,omitempty" yaml:"allowFrom,omitempty"`
	HelloMessage  string         `json:"helloMessage" yaml:"helloMessage"` // Markdown, sent for /start and /help
	LinkPrefix    string         `json:"linkPrefix" yaml:"linkPrefix"`
	LinkFooter    string         `json:"linkFooter,omitempty" yaml:"linkFooter,omitempty"`
	ConfusedImage string         `json:"confusedImage,omitempty" yaml:"confusedImage,omitempty"` // replaces the built-in image
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type HTTPConfig struct {
	Host    string `json:"host" yaml:"host"`
	Port    int    `json:"port" yaml:"port"`
	BaseURL string `json:"baseURL" yaml:"baseURL"` // public prefix of download links
}

// Addr is the listen address.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

type RenderConfig struct {
	ChromePath       string  `json:"chromePath,omitempty" yaml:"chromePath,omitempty"`
	NoSandbox        bool    `json:"noSandbox" yaml:"noSandbox"`
	LottieScriptURL  string  `json:"lottieScriptURL" yaml:"lottieScriptURL"`
	LottieScriptPath string  `json:"lottieScriptPath" yaml:"lottieScriptPath"` // local copy, downloaded when missing
	FFmpegPath       string  `json:"ffmpegPath" yaml:"ffmpegPath"`
	Background       string  `json:"background" yaml:"background"`
	Width            int     `json:"width" yaml:"width"`   // 0 uses the sticker size
	Height           int     `json:"height" yaml:"height"` // 0 uses the sticker size
	MaxFPS           float64 `json:"maxFPS" yaml:"maxFPS"`
	TimeoutSeconds   int     `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

type ScratchConfig struct {
	Dir               string `json:"dir" yaml:"dir"`
	StaleAfterMinutes int    `json:"staleAfterMinutes" yaml:"staleAfterMinutes"`
}

type CacheConfig struct {
	Enabled              bool   `json:"enabled" yaml:"enabled"`
	Dir                  string `json:"dir" yaml:"dir"`
	DBPath               string `json:"dbPath,omitempty" yaml:"dbPath,omitempty"` // default <dir>/index.db
	MaxBytes             int64  `json:"maxBytes" yaml:"maxBytes"`
	MaxAgeHours          int    `json:"maxAgeHours" yaml:"maxAgeHours"`
	SweepIntervalMinutes int    `json:"sweepIntervalMinutes" yaml:"sweepIntervalMinutes"`
}

// ArchiveConfig mirrors rendered videos to an S3-compatible bucket.
type ArchiveConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	Bucket          string `json:"bucket" yaml:"bucket"`
	Endpoint        string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"` // e.g. Cloudflare R2, MinIO
	Region          string `json:"region" yaml:"region"`
	AccessKeyID     string `json:"accessKeyID,omitempty" yaml:"accessKeyID,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty" yaml:"secretAccessKey,omitempty"`
	Prefix          string `json:"prefix" yaml:"prefix"`
}

type ErrorReportingConfig struct {
	DSN         string  `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	Environment string  `json:"environment" yaml:"environment"`
	SampleRate  float64 `json:"sampleRate" yaml:"sampleRate"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug | info | warn | error
	Format string `json:"format" yaml:"format"` // auto | text | json
}

type WorkersConfig struct {
	Concurrency int `json:"concurrency" yaml:"concurrency"`
	QueueSize   int `json:"queueSize" yaml:"queueSize"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// DefaultConfigDir returns the default config directory (~/.asticker2vid).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".asticker2vid"
	}
	return filepath.Join(home, ".asticker2vid")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// LoadDotEnv loads .env files that exist into the process environment.
// Variables already set are kept.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

// Load reads, expands and validates the config at path. JSON and YAML are
// chosen by file extension.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	return finish(cfg)
}

// LoadOrDefaults behaves like Load but falls back to defaults plus
// environment when path does not exist.
func LoadOrDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return finish(Defaults())
	}
	return cfg, err
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnv(cfg)

	cfg.DataDir = ExpandPath(cfg.DataDir)
	cfg.Scratch.Dir = ExpandPath(cfg.Scratch.Dir)
	cfg.Cache.Dir = ExpandPath(cfg.Cache.Dir)
	cfg.Cache.DBPath = ExpandPath(cfg.Cache.DBPath)
	cfg.Render.LottieScriptPath = ExpandPath(cfg.Render.LottieScriptPath)
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = filepath.Join(cfg.DataDir, "cache")
	}
	if cfg.Render.LottieScriptPath == "" {
		cfg.Render.LottieScriptPath = filepath.Join(cfg.DataDir, "lottie.min.js")
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides selected fields from well-known environment variables.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("ASTICKER2VID_BASE_URL"); v != "" {
		cfg.HTTP.BaseURL = v
	}
	if v := os.Getenv("SENTRY_DSN"); v != "" {
		cfg.ErrorReporting.DSN = v
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg as YAML or JSON depending on the extension of path.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.HTTP.Port < 1 || cfg.HTTP.Port > 65535 {
		errs = append(errs, "http.port must be between 1 and 65535")
	}
	if u, err := url.Parse(cfg.HTTP.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "http.baseURL must be an absolute http(s) URL")
	}
	if cfg.Workers.Concurrency < 1 || cfg.Workers.Concurrency > 64 {
		errs = append(errs, "workers.concurrency must be between 1 and 64")
	}
	if cfg.Workers.QueueSize < 1 {
		errs = append(errs, "workers.queueSize must be >= 1")
	}
	if !render.ValidColor(cfg.Render.Background) {
		errs = append(errs, "render.background must be a CSS color")
	}
	if cfg.Render.Width < 0 || cfg.Render.Height < 0 {
		errs = append(errs, "render.width and render.height must be >= 0")
	}
	if cfg.Render.MaxFPS < 0 {
		errs = append(errs, "render.maxFPS must be >= 0")
	}
	if cfg.Render.TimeoutSeconds < 1 {
		errs = append(errs, "render.timeoutSeconds must be >= 1")
	}
	if cfg.Cache.Enabled {
		if cfg.Cache.MaxBytes < 1 {
			errs = append(errs, "cache.maxBytes must be >= 1")
		}
		if cfg.Cache.MaxAgeHours < 1 {
			errs = append(errs, "cache.maxAgeHours must be >= 1")
		}
	}
	if cfg.Archive.Enabled && cfg.Archive.Bucket == "" {
		errs = append(errs, "archive.bucket is required when archive is enabled")
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	switch cfg.Logging.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, "logging.format must be one of: auto, text, json")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateServe adds the checks that only matter when running the bot.
func ValidateServe(cfg *Config) error {
	if cfg.Telegram.Token == "" {
		return errors.New("telegram.token is required (or set TELEGRAM_BOT_TOKEN)")
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

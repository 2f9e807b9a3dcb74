package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kalambet/dailyfortune/internal/fortune"
	"github.com/kalambet/dailyfortune/internal/storage"
)

type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Storage     StorageConfig
	Fortune     FortuneConfig
	Content     ContentConfig
	Ollama      OllamaConfig
	Gemini      GeminiConfig
	Display     DisplayConfig
	Maintenance MaintenanceConfig
	Access      AccessConfig
}

type ServerConfig struct {
	Port     int
	MCP      bool
	APIToken string
}

type LogConfig struct {
	Level  string
	Format string
}

type StorageConfig struct {
	DataDir  string
	Medium   string
	RedisURL string
}

type FortuneConfig struct {
	Strategy           string
	RangeMin           int
	RangeMax           int
	NormalStdDev       float64
	ExtremeProbability float64
	Timezone           string
	ProfilePath        string
}

type ContentConfig struct {
	Enabled         bool
	Provider        string
	DefaultProvider string
	Timeout         time.Duration
	MaxLength       int
	Persona         string
	API             APIConfig
}

// APIConfig is the OpenAI-compatible HTTP backend.
type APIConfig struct {
	URL           string
	Model         string
	Key           string
	RatePerMinute int
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type GeminiConfig struct {
	Model  string
	APIKey string
}

type DisplayConfig struct {
	TopN           int
	HistoryLimit   int
	HistoryDisplay int
	Medals         string
}

type MaintenanceConfig struct {
	Cron          string
	RetentionDays int
}

type AccessConfig struct {
	// Scopes is a comma-separated allow list. Empty allows every scope.
	Scopes string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: 4100},
		Log:    LogConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{
			DataDir:  defaultDataDir(),
			Medium:   storage.KindSQLite,
			RedisURL: "redis://localhost:6379/0",
		},
		Fortune: FortuneConfig{
			Strategy:           string(fortune.StrategyUniform),
			RangeMin:           0,
			RangeMax:           100,
			NormalStdDev:       20,
			ExtremeProbability: 0.3,
			Timezone:           "Local",
		},
		Content: ContentConfig{
			Enabled:         true,
			DefaultProvider: "ollama",
			Timeout:         30 * time.Second,
			MaxLength:       100,
			API:             APIConfig{Model: "gpt-3.5-turbo", RatePerMinute: 30},
		},
		Ollama: OllamaConfig{BaseURL: "http://localhost:11434", Model: "phi3.5"},
		Gemini: GeminiConfig{Model: "gemini-2.0-flash"},
		Display: DisplayConfig{
			TopN:           10,
			HistoryLimit:   30,
			HistoryDisplay: 10,
			Medals:         "🥇, 🥈, 🥉, 🏅, 🏅",
		},
		Maintenance: MaintenanceConfig{Cron: "0 5 0 * * *"},
	}
}

// Load reads configuration from the JSON config file, environment variables
// (FORTUNE_*), and the secrets file.
//
// The config file lives at $XDG_CONFIG_HOME/dailyfortune/config.json and
// secrets at $XDG_DATA_HOME/dailyfortune/secrets.json. Environment variables
// override file values.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), secretFile{})
}

// secretStore abstracts secret lookup for testing.
type secretStore interface {
	Get(service, account string) (string, error)
}

const secretService = "dailyfortune"

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := secrets.Get(secretService, s.key); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports configuration errors that must stop startup.
func (c Config) Validate() error {
	var errs []error
	if c.Fortune.RangeMin > c.Fortune.RangeMax {
		errs = append(errs, fmt.Errorf("fortune.range_min (%d) exceeds fortune.range_max (%d)", c.Fortune.RangeMin, c.Fortune.RangeMax))
	}
	if c.Fortune.ExtremeProbability < 0 || c.Fortune.ExtremeProbability > 1 {
		errs = append(errs, fmt.Errorf("fortune.extreme_probability must be within [0, 1], got %v", c.Fortune.ExtremeProbability))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	switch c.Storage.Medium {
	case storage.KindSQLite, storage.KindFile, storage.KindRedis:
	default:
		errs = append(errs, fmt.Errorf("storage.medium must be one of sqlite, file, redis; got %q", c.Storage.Medium))
	}
	if c.Content.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("content.timeout must be positive"))
	}
	if spec := strings.TrimSpace(c.Maintenance.Cron); spec != "" {
		if _, err := cronParser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("maintenance.cron: %w", err))
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	return errors.Join(errs...)
}

// cronParser accepts the same six-field specs as the maintenance scheduler.
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Location returns the timezone day keys are computed in.
func (c Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Fortune.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("fortune.timezone: %w", err)
	}
	return loc, nil
}

// AllowedScopes returns the scope allow list; nil means every scope.
func (c Config) AllowedScopes() []string {
	var out []string
	for _, s := range strings.Split(c.Access.Scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

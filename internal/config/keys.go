package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

func str(key, env string, field func(*Config) *string) keySpec {
	return keySpec{
		key: key, typ: kString, env: env,
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(string) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

func secret(key, env string, field func(*Config) *string) keySpec {
	s := str(key, env, field)
	s.secret = true
	return s
}

func integer(key, env string, field func(*Config) *int) keySpec {
	return keySpec{
		key: key, typ: kInt, env: env,
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(int) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

func boolean(key, env string, field func(*Config) *bool) keySpec {
	return keySpec{
		key: key, typ: kBool, env: env,
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(bool) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

func float(key, env string, field func(*Config) *float64) keySpec {
	return keySpec{
		key: key, typ: kFloat, env: env,
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(float64) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

func duration(key, env string, field func(*Config) *time.Duration) keySpec {
	return keySpec{
		key: key, typ: kDuration, env: env,
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(time.Duration) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

var specs = []keySpec{
	integer("server.port", "FORTUNE_SERVER_PORT", func(c *Config) *int { return &c.Server.Port }),
	boolean("server.mcp", "FORTUNE_SERVER_MCP", func(c *Config) *bool { return &c.Server.MCP }),
	secret("server.api_token", "FORTUNE_API_TOKEN", func(c *Config) *string { return &c.Server.APIToken }),

	str("log.level", "FORTUNE_LOG_LEVEL", func(c *Config) *string { return &c.Log.Level }),
	str("log.format", "FORTUNE_LOG_FORMAT", func(c *Config) *string { return &c.Log.Format }),

	str("storage.data_dir", "FORTUNE_STORAGE_DATA_DIR", func(c *Config) *string { return &c.Storage.DataDir }),
	str("storage.medium", "FORTUNE_STORAGE_MEDIUM", func(c *Config) *string { return &c.Storage.Medium }),
	str("storage.redis_url", "FORTUNE_STORAGE_REDIS_URL", func(c *Config) *string { return &c.Storage.RedisURL }),

	str("fortune.strategy", "FORTUNE_STRATEGY", func(c *Config) *string { return &c.Fortune.Strategy }),
	integer("fortune.range_min", "FORTUNE_RANGE_MIN", func(c *Config) *int { return &c.Fortune.RangeMin }),
	integer("fortune.range_max", "FORTUNE_RANGE_MAX", func(c *Config) *int { return &c.Fortune.RangeMax }),
	float("fortune.normal_stddev", "FORTUNE_NORMAL_STDDEV", func(c *Config) *float64 { return &c.Fortune.NormalStdDev }),
	float("fortune.extreme_probability", "FORTUNE_EXTREME_PROBABILITY", func(c *Config) *float64 { return &c.Fortune.ExtremeProbability }),
	str("fortune.timezone", "FORTUNE_TIMEZONE", func(c *Config) *string { return &c.Fortune.Timezone }),
	str("fortune.profile_path", "FORTUNE_PROFILE_PATH", func(c *Config) *string { return &c.Fortune.ProfilePath }),

	boolean("content.enabled", "FORTUNE_CONTENT_ENABLED", func(c *Config) *bool { return &c.Content.Enabled }),
	str("content.provider", "FORTUNE_CONTENT_PROVIDER", func(c *Config) *string { return &c.Content.Provider }),
	str("content.default_provider", "FORTUNE_CONTENT_DEFAULT_PROVIDER", func(c *Config) *string { return &c.Content.DefaultProvider }),
	duration("content.timeout", "FORTUNE_CONTENT_TIMEOUT", func(c *Config) *time.Duration { return &c.Content.Timeout }),
	integer("content.max_length", "FORTUNE_CONTENT_MAX_LENGTH", func(c *Config) *int { return &c.Content.MaxLength }),
	str("content.persona", "FORTUNE_CONTENT_PERSONA", func(c *Config) *string { return &c.Content.Persona }),
	str("content.api.url", "FORTUNE_CONTENT_API_URL", func(c *Config) *string { return &c.Content.API.URL }),
	str("content.api.model", "FORTUNE_CONTENT_API_MODEL", func(c *Config) *string { return &c.Content.API.Model }),
	secret("content.api.key", "FORTUNE_CONTENT_API_KEY", func(c *Config) *string { return &c.Content.API.Key }),
	integer("content.api.rate_per_minute", "FORTUNE_CONTENT_API_RATE", func(c *Config) *int { return &c.Content.API.RatePerMinute }),

	str("ollama.base_url", "FORTUNE_OLLAMA_BASE_URL", func(c *Config) *string { return &c.Ollama.BaseURL }),
	str("ollama.model", "FORTUNE_OLLAMA_MODEL", func(c *Config) *string { return &c.Ollama.Model }),

	str("gemini.model", "FORTUNE_GEMINI_MODEL", func(c *Config) *string { return &c.Gemini.Model }),
	secret("gemini.api_key", "FORTUNE_GEMINI_API_KEY", func(c *Config) *string { return &c.Gemini.APIKey }),

	integer("display.top_n", "FORTUNE_DISPLAY_TOP_N", func(c *Config) *int { return &c.Display.TopN }),
	integer("display.history_limit", "FORTUNE_DISPLAY_HISTORY_LIMIT", func(c *Config) *int { return &c.Display.HistoryLimit }),
	integer("display.history_display", "FORTUNE_DISPLAY_HISTORY_DISPLAY", func(c *Config) *int { return &c.Display.HistoryDisplay }),
	str("display.medals", "FORTUNE_DISPLAY_MEDALS", func(c *Config) *string { return &c.Display.Medals }),

	str("maintenance.cron", "FORTUNE_MAINTENANCE_CRON", func(c *Config) *string { return &c.Maintenance.Cron }),
	integer("maintenance.retention_days", "FORTUNE_RETENTION_DAYS", func(c *Config) *int { return &c.Maintenance.RetentionDays }),

	str("access.scopes", "FORTUNE_ACCESS_SCOPES", func(c *Config) *string { return &c.Access.Scopes }),
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}
		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typ, s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if s.env == "" || raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

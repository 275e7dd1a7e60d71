package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

var DefaultAllowedOrigins = []string{"http://localhost:3000", "https://blundrbot.vercel.app"}

type AppConfig struct {
	HTTPAddr       string   `yaml:"http_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	EngineBackend         string        `yaml:"engine_backend"`
	StockfishPath         string        `yaml:"stockfish_path"`
	EngineDepth           int           `yaml:"engine_depth"`
	EngineStartupTimeout  time.Duration `yaml:"engine_startup_timeout"`
	EngineReadTimeout     time.Duration `yaml:"engine_read_timeout"`
	EngineShutdownTimeout time.Duration `yaml:"engine_shutdown_timeout"`
	EngineThreads         int           `yaml:"engine_threads"`
	EngineHashMB          int           `yaml:"engine_hash_mb"`
	EngineMaxProcesses    int           `yaml:"engine_max_processes"`
	EngineFallback        bool          `yaml:"engine_fallback"`
	WorstPoolSize         int           `yaml:"worst_pool_size"`
	EvalWorkers           int           `yaml:"eval_workers"`
	RequestTimeout        time.Duration `yaml:"request_timeout"`

	RedisURL      string        `yaml:"redis_url"`
	ScoreCacheTTL time.Duration `yaml:"score_cache_ttl"`
	DatabaseURL   string        `yaml:"database_url"`
	MessagesDir   string        `yaml:"messages_dir"`
}

func defaults() *AppConfig {
	return &AppConfig{
		HTTPAddr:              ":8000",
		AllowedOrigins:        append([]string(nil), DefaultAllowedOrigins...),
		EngineBackend:         "material",
		EngineDepth:           12,
		EngineStartupTimeout:  5 * time.Second,
		EngineReadTimeout:     10 * time.Second,
		EngineShutdownTimeout: time.Second,
		EngineThreads:         1,
		EngineHashMB:          16,
		EngineFallback:        true,
		WorstPoolSize:         5,
		RequestTimeout:        10 * time.Second,
		ScoreCacheTTL:         10 * time.Minute,
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by BLUNDR_CONFIG, and the environment, in that order.
func Load() (*AppConfig, error) {
	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("BLUNDR_CONFIG")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		c.HTTPAddr = v
	} else if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		c.HTTPAddr = ":" + v
	}
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		c.AllowedOrigins = splitList(v)
	}

	if v := strings.TrimSpace(os.Getenv("ENGINE_BACKEND")); v != "" {
		c.EngineBackend = v
	}
	if v := strings.TrimSpace(os.Getenv("STOCKFISH_PATH")); v != "" {
		c.StockfishPath = v
	}

	var errs []error
	intVar := func(key string, dst *int, allowZero bool) {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || (n == 0 && !allowZero) {
			errs = append(errs, fmt.Errorf("%s: invalid value %q", key, v))
			return
		}
		*dst = n
	}
	durVar := func(key string, dst *time.Duration) {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return
		}
		d, err := parseDuration(v)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, v))
			return
		}
		*dst = d
	}

	intVar("ENGINE_DEPTH", &c.EngineDepth, false)
	durVar("ENGINE_STARTUP_TIMEOUT", &c.EngineStartupTimeout)
	durVar("ENGINE_READ_TIMEOUT", &c.EngineReadTimeout)
	durVar("ENGINE_SHUTDOWN_TIMEOUT", &c.EngineShutdownTimeout)
	intVar("ENGINE_THREADS", &c.EngineThreads, false)
	intVar("ENGINE_HASH_MB", &c.EngineHashMB, false)
	intVar("ENGINE_MAX_PROCESSES", &c.EngineMaxProcesses, true)
	intVar("WORST_POOL_SIZE", &c.WorstPoolSize, false)
	intVar("EVAL_WORKERS", &c.EvalWorkers, true)
	durVar("REQUEST_TIMEOUT", &c.RequestTimeout)
	durVar("SCORE_CACHE_TTL", &c.ScoreCacheTTL)

	if v := strings.TrimSpace(os.Getenv("ENGINE_FALLBACK")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("ENGINE_FALLBACK: invalid value %q", v))
		} else {
			c.EngineFallback = b
		}
	}

	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		c.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		c.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("MESSAGES_DIR")); v != "" {
		c.MessagesDir = v
	}
	return errors.Join(errs...)
}

// Validate checks cross-field requirements.
func (c *AppConfig) Validate() error {
	switch strings.ToLower(c.EngineBackend) {
	case "uci", "stockfish", "engine":
		if strings.TrimSpace(c.StockfishPath) == "" {
			return errors.New("STOCKFISH_PATH is required for the uci engine backend")
		}
	}
	if len(c.AllowedOrigins) == 0 {
		return errors.New("ALLOWED_ORIGINS must list at least one origin")
	}
	if c.WorstPoolSize <= 0 {
		return errors.New("WORST_POOL_SIZE must be positive")
	}
	if c.EngineDepth <= 0 {
		return errors.New("ENGINE_DEPTH must be positive")
	}
	return nil
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

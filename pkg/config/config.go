// Package config loads harvester settings from defaults, an optional YAML
// file, a .env file and the environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every harvester setting.
type Config struct {
	// Resource is the default video identifier (B_VID).
	Resource string `yaml:"resource"`
	// Cookie is the upstream session credential (COOKIES).
	Cookie    string `yaml:"cookie"`
	OutputDir string `yaml:"output_dir"`
	BaseURL   string `yaml:"base_url"`

	CommentFraction float64 `yaml:"comment_fraction"`
	DanmakuFraction float64 `yaml:"danmaku_fraction"`

	Pacing Pacing `yaml:"pacing"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	HTTPAddr   string `yaml:"http_addr"`
	CORSOrigin string `yaml:"cors_origin"`
	LedgerPath string `yaml:"ledger_path"`
	NATSURL    string `yaml:"nats_url"`
	RedisAddr  string `yaml:"redis_addr"`
	Neo4jURL   string `yaml:"neo4j_url"`
	Neo4jUser  string `yaml:"neo4j_user"`
	Neo4jPass  string `yaml:"neo4j_pass"`
}

// Pacing holds the delays between upstream requests.
type Pacing struct {
	PageBase    time.Duration `yaml:"page_base"`
	SegmentBase time.Duration `yaml:"segment_base"`
	RetryBase   time.Duration `yaml:"retry_base"`
	Jitter      time.Duration `yaml:"jitter"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		OutputDir:       "output",
		CommentFraction: 0.9,
		DanmakuFraction: 0.8,
		Pacing: Pacing{
			PageBase:    400 * time.Millisecond,
			SegmentBase: 1000 * time.Millisecond,
			RetryBase:   1000 * time.Millisecond,
			Jitter:      800 * time.Millisecond,
		},
		LogLevel:   "info",
		HTTPAddr:   ":39002",
		CORSOrigin: "*",
		LedgerPath: "harvest.db",
		Neo4jUser:  "neo4j",
	}
}

// Load builds a Config. path may be empty; a missing .env is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("HARVEST_CONFIG")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	setString(&c.Resource, "B_VID")
	setString(&c.Cookie, "COOKIES")
	setString(&c.OutputDir, "STATIC_PATH")
	setString(&c.BaseURL, "BILI_API_BASE")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.HTTPAddr, "HTTP_ADDR")
	setString(&c.CORSOrigin, "CORS_ORIGIN")
	setString(&c.LedgerPath, "LEDGER_PATH")
	setString(&c.NATSURL, "NATS_URL")
	setString(&c.RedisAddr, "REDIS_ADDR")
	setString(&c.Neo4jURL, "NEO4J_URL")
	setString(&c.Neo4jUser, "NEO4J_USER")
	setString(&c.Neo4jPass, "NEO4J_PASS")
	if err := setFloat(&c.CommentFraction, "COMMENT_TARGET_FRACTION"); err != nil {
		return err
	}
	if err := setFloat(&c.DanmakuFraction, "DANMAKU_TARGET_FRACTION"); err != nil {
		return err
	}
	if v := os.Getenv("LOG_JSON"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOG_JSON: %w", err)
		}
		c.LogJSON = b
	}
	return nil
}

// Validate checks the loaded values.
func (c Config) Validate() error {
	if c.OutputDir == "" {
		return errors.New("config: output_dir is empty")
	}
	if c.CommentFraction <= 0 || c.CommentFraction > 1 {
		return fmt.Errorf("config: comment_fraction %v not in (0, 1]", c.CommentFraction)
	}
	if c.DanmakuFraction <= 0 || c.DanmakuFraction > 1 {
		return fmt.Errorf("config: danmaku_fraction %v not in (0, 1]", c.DanmakuFraction)
	}
	p := c.Pacing
	if p.PageBase < 0 || p.SegmentBase < 0 || p.RetryBase < 0 || p.Jitter < 0 {
		return errors.New("config: pacing durations must not be negative")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

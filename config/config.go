// Package config loads the service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/warp/step-league/challenge"
	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the step challenge service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Uploads   UploadsConfig   `yaml:"uploads"`
	Challenge ChallengeConfig `yaml:"challenge"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig points at the SQLite file. ":memory:" is allowed.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// UploadsConfig controls the temporary spool for uploaded batch files.
type UploadsConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// ChallengeConfig is the challenge window, inclusive, as YYYY-MM-DD.
type ChallengeConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// ScoringConfig mirrors challenge.Rules.
type ScoringConfig struct {
	Tiers               []challenge.Tier `yaml:"tiers"`
	CompletionThreshold int              `yaml:"completion_threshold"`
	PowerPlayDay        int              `yaml:"power_play_day"`
	PowerPlayMultiplier int              `yaml:"power_play_multiplier"`
	ThreeDayBonus       int              `yaml:"three_day_bonus"`
	FullStreakBonus     int              `yaml:"full_streak_bonus"`
}

// LogConfig selects the log level and an optional rotating file.
type LogConfig struct {
	Level       string `yaml:"level"`
	Environment string `yaml:"environment"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	rules := challenge.DefaultRules()
	cal := challenge.DefaultCalendar()
	return Config{
		Server: ServerConfig{
			Listen:          ":8080",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{Path: "./data/steps.db"},
		Uploads: UploadsConfig{
			Dir:      "./uploads",
			MaxBytes: 5 << 20,
		},
		Challenge: ChallengeConfig{
			Start: cal.Start.String(),
			End:   cal.End.String(),
		},
		Scoring: ScoringConfig{
			Tiers:               rules.Tiers,
			CompletionThreshold: rules.CompletionThreshold,
			PowerPlayDay:        int(rules.PowerPlayDay),
			PowerPlayMultiplier: rules.PowerPlayMultiplier,
			ThreeDayBonus:       rules.ThreeDayBonus,
			FullStreakBonus:     rules.FullStreakBonus,
		},
		Log: LogConfig{
			Level:       "info",
			Environment: "dev",
			MaxSizeMB:   100,
			MaxBackups:  5,
			MaxAgeDays:  28,
		},
	}
}

// Load reads the YAML configuration on top of Default and validates the
// result. An empty path or a missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	def := Default()

	cfg.Server.Listen = strings.TrimSpace(cfg.Server.Listen)
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = def.Server.Listen
	}
	origins := make([]string, 0, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.Server.AllowedOrigins = origins
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}

	cfg.Database.Path = strings.TrimSpace(cfg.Database.Path)
	cfg.Uploads.Dir = strings.TrimSpace(cfg.Uploads.Dir)
	if cfg.Uploads.Dir == "" {
		cfg.Uploads.Dir = def.Uploads.Dir
	}
	cfg.Challenge.Start = strings.TrimSpace(cfg.Challenge.Start)
	cfg.Challenge.End = strings.TrimSpace(cfg.Challenge.End)
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
}

// Validate checks the configuration is usable.
func (cfg Config) Validate() error {
	if cfg.Database.Path == "" {
		return fmt.Errorf("database: path is required")
	}
	if cfg.Uploads.MaxBytes < 0 {
		return fmt.Errorf("uploads: max_bytes must be non-negative")
	}
	cal, err := cfg.Calendar()
	if err != nil {
		return fmt.Errorf("challenge: %w", err)
	}
	rules := cfg.Rules()
	if err := rules.Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	if pp := rules.PowerPlayDay; pp != challenge.OutsideWindow && int(pp) > cal.Days() {
		return fmt.Errorf("scoring: power_play_day %d is past the %d-day window", pp, cal.Days())
	}
	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", cfg.Log.Level)
	}
	return nil
}

// Calendar builds the challenge window.
func (cfg Config) Calendar() (challenge.Calendar, error) {
	start, err := challenge.ParseDate(cfg.Challenge.Start)
	if err != nil {
		return challenge.Calendar{}, fmt.Errorf("start: %w", err)
	}
	end, err := challenge.ParseDate(cfg.Challenge.End)
	if err != nil {
		return challenge.Calendar{}, fmt.Errorf("end: %w", err)
	}
	return challenge.NewCalendar(start, end)
}

// Rules builds the scoring rules.
func (cfg Config) Rules() challenge.Rules {
	return challenge.Rules{
		Tiers:               cfg.Scoring.Tiers,
		CompletionThreshold: cfg.Scoring.CompletionThreshold,
		PowerPlayDay:        challenge.ChallengeDay(cfg.Scoring.PowerPlayDay),
		PowerPlayMultiplier: cfg.Scoring.PowerPlayMultiplier,
		ThreeDayBonus:       cfg.Scoring.ThreeDayBonus,
		FullStreakBonus:     cfg.Scoring.FullStreakBonus,
	}
}

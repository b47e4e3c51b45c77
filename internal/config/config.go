package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Duration wraps time.Duration so it reads and writes as "10m" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type APIConfig struct {
	BaseURL           string   `toml:"base_url" validate:"required,url"`
	Token             string   `toml:"token"`
	TeamID            string   `toml:"team_id"`
	RequestsPerMinute int      `toml:"requests_per_minute" validate:"gte=2"`
	Burst             int      `toml:"burst" validate:"gt=0,ltfield=RequestsPerMinute"`
	MaxWorkers        int      `toml:"max_workers" validate:"gt=0,ltfield=RequestsPerMinute"`
	MaxAttempts       int      `toml:"max_attempts" validate:"gt=0,lte=10"`
	Timeout           Duration `toml:"timeout"`
}

type SyncConfig struct {
	Interval  Duration `toml:"interval"`
	FullEvery int      `toml:"full_every" validate:"gt=0"`
	Overlap   Duration `toml:"overlap"`
	Workers   int      `toml:"workers" validate:"gt=0"`
}

type CacheConfig struct {
	TTL Duration `toml:"ttl"`
}

type JobsConfig struct {
	Workers   int      `toml:"workers" validate:"gt=0"`
	MaxPolls  int      `toml:"max_polls" validate:"gt=0"`
	QuickWait Duration `toml:"quick_wait"`
	AwaitWait Duration `toml:"await_wait"`
	Retention Duration `toml:"retention"`
	MaxJobs   int      `toml:"max_jobs" validate:"gt=0"`
}

type ReportsConfig struct {
	Timezone          string   `toml:"timezone" validate:"required"`
	LowHoursThreshold Duration `toml:"low_hours_threshold"`
	MinOverage        Duration `toml:"min_overage"`
	RatioLow          float64  `toml:"ratio_low" validate:"gt=0"`
	RatioHigh         float64  `toml:"ratio_high" validate:"gtfield=RatioLow"`
	InlineTaskLimit   int      `toml:"inline_task_limit" validate:"gt=0"`
	MirrorMaxAge      Duration `toml:"mirror_max_age"`
	StaleAfter        Duration `toml:"stale_after"`
	RiskWindow        Duration `toml:"risk_window"`
}

type ServerConfig struct {
	Addr string `toml:"addr" validate:"required"`
}

type Config struct {
	DatabasePath string        `toml:"database_path"`
	LogLevel     string        `toml:"log_level" validate:"oneof=debug info warn error"`
	TraceStdout  bool          `toml:"trace_stdout"`
	API          APIConfig     `toml:"api"`
	Sync         SyncConfig    `toml:"sync"`
	Cache        CacheConfig   `toml:"cache"`
	Jobs         JobsConfig    `toml:"jobs"`
	Reports      ReportsConfig `toml:"reports"`
	Server       ServerConfig  `toml:"server"`
}

func DefaultConfig() *Config {
	dbPath, _ := DatabasePath()
	return &Config{
		DatabasePath: dbPath,
		LogLevel:     "info",
		API: APIConfig{
			BaseURL:           "https://api.clickup.com/api/v2",
			RequestsPerMinute: 1000,
			Burst:             100,
			MaxWorkers:        60,
			MaxAttempts:       5,
			Timeout:           Duration{30 * time.Second},
		},
		Sync: SyncConfig{
			Interval:  Duration{2 * time.Minute},
			FullEvery: 10,
			Overlap:   Duration{10 * time.Minute},
			Workers:   12,
		},
		Cache: CacheConfig{
			TTL: Duration{time.Hour},
		},
		Jobs: JobsConfig{
			Workers:   4,
			MaxPolls:  5,
			QuickWait: Duration{45 * time.Second},
			AwaitWait: Duration{50 * time.Second},
			Retention: Duration{time.Hour},
			MaxJobs:   50,
		},
		Reports: ReportsConfig{
			Timezone:          "Asia/Kolkata",
			LowHoursThreshold: Duration{8 * time.Hour},
			MinOverage:        Duration{15 * time.Minute},
			RatioLow:          0.25,
			RatioHigh:         2.0,
			InlineTaskLimit:   300,
			MirrorMaxAge:      Duration{30 * time.Minute},
			StaleAfter:        Duration{7 * 24 * time.Hour},
			RiskWindow:        Duration{3 * 24 * time.Hour},
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

func ClickmirrorDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".clickmirror"), nil
}

func ConfigPath() (string, error) {
	dir, err := ClickmirrorDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func DatabasePath() (string, error) {
	dir, err := ClickmirrorDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "db", "clickmirror.sqlite"), nil
}

func ErrorLogPath() (string, error) {
	dir, err := ClickmirrorDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "errors.log"), nil
}

func EnsureDirectories() error {
	dir, err := ClickmirrorDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(dir, "db"), 0755); err != nil {
		return err
	}

	return nil
}

// Load reads the config file, creating it with defaults on first use, then
// applies environment overrides and validates the result.
func Load() (*Config, error) {
	configPath, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(configPath)
}

func LoadFile(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return nil, err
		}
		if err := SaveFile(configPath, cfg); err != nil {
			return nil, err
		}
	} else if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", configPath, err)
	}

	cfg.applyEnv()
	cfg.DatabasePath = expandPath(cfg.DatabasePath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(cfg *Config) error {
	configPath, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveFile(configPath, cfg)
}

func SaveFile(configPath string, cfg *Config) error {
	f, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.LoadLocation(c.Reports.Timezone); err != nil {
		return fmt.Errorf("invalid config: timezone %q: %w", c.Reports.Timezone, err)
	}
	return nil
}

// Location returns the reporting timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Reports.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) applyEnv() {
	c.API.Token = EnvOrDefault("CLICKUP_API_TOKEN", c.API.Token)
	c.API.TeamID = EnvOrDefault("CLICKUP_TEAM_ID", c.API.TeamID)
	c.DatabasePath = EnvOrDefault("CLICKMIRROR_DB_PATH", c.DatabasePath)
	c.Server.Addr = EnvOrDefault("CLICKMIRROR_ADDR", c.Server.Addr)
}

// EnvOrDefault returns the trimmed value of key, or fallback when unset.
func EnvOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

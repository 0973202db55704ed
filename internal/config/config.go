/*
Package config loads the server configuration.

PRECEDENCE (lowest to highest):
  1. Built-in defaults (Default)
  2. TOML file given with -config or HP_CONFIG
  3. Environment variables (HP_*, OPENROUTER_API_KEY)
  4. Command-line flags

  A .env file (-env-file, default ".env") fills in variables missing from
  the process environment. A missing file is ignored.

EXAMPLE FILE:
  env         = "prod"
  listen_addr = ":3000"
  db_path     = "/var/lib/waermepumpe/wp.db"
  # bcrypt hash, preferred over a plain password
  password_hash = "$2a$10$..."

  [location]
  latitude  = 49.5394
  longitude = 8.1936
  timezone  = "Europe/Berlin"

  [ocr]
  model   = "google/gemini-2.0-flash-001"
  timeout = "30s"
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // timezone validation on hosts without zoneinfo

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	Env          string     `toml:"env"`
	LogLevel     string     `toml:"log_level"`
	Level        slog.Level `toml:"-"`
	ListenAddr   string     `toml:"listen_addr"`
	DBPath       string     `toml:"db_path"`
	SeedPath     string     `toml:"seed_path"`
	Password     string     `toml:"password"`
	PasswordHash string     `toml:"password_hash"` // bcrypt, wins over Password
	CORSOrigins  []string   `toml:"cors_origins"`
	EnvFile      string     `toml:"-"`

	Location LocationConfig `toml:"location"`
	Forecast ForecastConfig `toml:"forecast"`
	OCR      OCRConfig      `toml:"ocr"`
}

// LocationConfig is the fallback location when the settings table has none.
type LocationConfig struct {
	Latitude  float64 `toml:"latitude"`
	Longitude float64 `toml:"longitude"`
	Timezone  string  `toml:"timezone"`
}

type ForecastConfig struct {
	BaseURL      string        `toml:"base_url"`
	Timeout      time.Duration `toml:"timeout"`
	WeatherTTL   time.Duration `toml:"weather_ttl"`
	SolarTTL     time.Duration `toml:"solar_ttl"`
	PVPeakKW     float64       `toml:"pv_peak_kw"`
	PVEfficiency float64       `toml:"pv_efficiency"`
}

type OCRConfig struct {
	BaseURL string        `toml:"base_url"`
	APIKey  string        `toml:"api_key"`
	Model   string        `toml:"model"`
	Timeout time.Duration `toml:"timeout"`
}

// TimeZone loads the configured IANA timezone.
func (c LocationConfig) TimeZone() (*time.Location, error) {
	tz, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return tz, nil
}

// Prod reports whether the server runs in production mode.
func (c Config) Prod() bool { return c.Env == "prod" }

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Env:        "dev",
		LogLevel:   "info",
		Level:      slog.LevelInfo,
		ListenAddr: ":3000",
		DBPath:     "data/waermepumpe.db",
		SeedPath:   "SEED_DATA.json",
		EnvFile:    ".env",
		Location: LocationConfig{
			Latitude:  49.5394,
			Longitude: 8.1936,
			Timezone:  "Europe/Berlin",
		},
		Forecast: ForecastConfig{
			BaseURL:      "https://api.open-meteo.com/v1/forecast",
			Timeout:      10 * time.Second,
			WeatherTTL:   time.Hour,
			SolarTTL:     30 * time.Minute,
			PVPeakKW:     5,
			PVEfficiency: 0.75,
		},
		OCR: OCRConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "google/gemini-2.0-flash-001",
			Timeout: 30 * time.Second,
		},
	}
}

// Load builds the configuration from args (without the program name) and
// the environment looked up through getenv.
func Load(args []string, getenv func(string) string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "TOML configuration file")
	envFile := fs.String("env-file", cfg.EnvFile, "dotenv file merged under the process environment")
	addr := fs.String("addr", "", "HTTP listen address")
	dbPath := fs.String("db", "", "SQLite database path (\":memory:\" for in-memory)")
	seedPath := fs.String("seed", "", "seed JSON imported into an empty database")
	logLevel := fs.String("log-level", "", "debug, info, warn or error")
	env := fs.String("env", "", "dev or prod")
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("invalid flags: %w", err)
	}

	cfg.EnvFile = *envFile
	getenv, err := withDotenv(cfg.EnvFile, getenv)
	if err != nil {
		return Config{}, err
	}
	if *configPath == "" {
		*configPath = getenv("HP_CONFIG")
	}

	if *configPath != "" {
		if _, err := toml.DecodeFile(*configPath, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", *configPath, err)
		}
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.ListenAddr = *addr
		case "db":
			cfg.DBPath = *dbPath
		case "seed":
			cfg.SeedPath = *seedPath
		case "log-level":
			cfg.LogLevel = *logLevel
		case "env":
			cfg.Env = *env
		}
	})

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

// withDotenv returns a lookup that prefers getenv and falls back to the
// variables in the dotenv file at path.
func withDotenv(path string, getenv func(string) string) (func(string) string, error) {
	if path == "" {
		return getenv, nil
	}
	vars, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return getenv, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
	}
	return func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return vars[key]
	}, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *float64) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = f
		return nil
	}

	str("HP_ENV", &cfg.Env)
	str("HP_LOG_LEVEL", &cfg.LogLevel)
	str("HP_ADDR", &cfg.ListenAddr)
	str("HP_DB", &cfg.DBPath)
	str("HP_SEED", &cfg.SeedPath)
	str("HP_PASSWORD", &cfg.Password)
	str("HP_PASSWORD_HASH", &cfg.PasswordHash)
	str("HP_TIMEZONE", &cfg.Location.Timezone)
	str("HP_FORECAST_URL", &cfg.Forecast.BaseURL)
	str("HP_OCR_URL", &cfg.OCR.BaseURL)
	str("HP_OCR_MODEL", &cfg.OCR.Model)
	str("OPENROUTER_API_KEY", &cfg.OCR.APIKey)

	if v := strings.TrimSpace(getenv("HP_CORS_ORIGINS")); v != "" {
		cfg.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	return errors.Join(
		num("HP_LATITUDE", &cfg.Location.Latitude),
		num("HP_LONGITUDE", &cfg.Location.Longitude),
		num("HP_PV_KWP", &cfg.Forecast.PVPeakKW),
		num("HP_PV_EFFICIENCY", &cfg.Forecast.PVEfficiency),
	)
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the configuration and resolves Level from LogLevel.
func (c *Config) Validate() error {
	var errs []error

	switch c.Env {
	case "dev", "prod":
	default:
		errs = append(errs, fmt.Errorf("invalid env %q (allowed: dev, prod)", c.Env))
	}

	level, err := parseLogLevel(c.LogLevel)
	if err != nil {
		errs = append(errs, err)
	}
	c.Level = level

	if strings.TrimSpace(c.ListenAddr) == "" {
		errs = append(errs, errors.New("listen_addr must not be empty"))
	}
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("db_path must not be empty"))
	}
	if c.Location.Latitude < -90 || c.Location.Latitude > 90 {
		errs = append(errs, fmt.Errorf("latitude %v out of range [-90, 90]", c.Location.Latitude))
	}
	if c.Location.Longitude < -180 || c.Location.Longitude > 180 {
		errs = append(errs, fmt.Errorf("longitude %v out of range [-180, 180]", c.Location.Longitude))
	}
	if c.Forecast.PVPeakKW <= 0 {
		errs = append(errs, fmt.Errorf("pv_peak_kw must be positive, got %v", c.Forecast.PVPeakKW))
	}
	if c.Forecast.PVEfficiency <= 0 || c.Forecast.PVEfficiency > 1 {
		errs = append(errs, fmt.Errorf("pv_efficiency must be in (0, 1], got %v", c.Forecast.PVEfficiency))
	}
	if _, err := c.Location.TimeZone(); err != nil {
		errs = append(errs, err)
	}
	if c.Prod() && c.Password == "" && c.PasswordHash == "" {
		errs = append(errs, errors.New("password or password_hash is required in prod"))
	}

	return errors.Join(errs...)
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (allowed: debug, info, warn, error)", s)
	}
}

package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the orca platform.
type Config struct {
	Storage Storage       `yaml:"storage"`
	Server  Server        `yaml:"server"`
	Broker  Broker        `yaml:"broker"`
	Alpaca  Alpaca        `yaml:"alpaca"`
	Logging Logging       `yaml:"logging"`
	Risk    RiskConfig    `yaml:"risk"`
	Feed    FeedConfig    `yaml:"feed"`
	Trading TradingConfig `yaml:"trading"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Broker selects the brokerage provider wired in at startup.
type Broker struct {
	Provider string `yaml:"provider"` // "mock" or "alpaca"
	Env      string `yaml:"env"`      // "paper" or "live"
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RiskConfig seeds the initial risk rule version when the database has
// none. A zero threshold leaves that rule unconfigured.
type RiskConfig struct {
	Name            string  `yaml:"name"`
	MinCredit       float64 `yaml:"min_credit"`
	MaxLossPerTrade float64 `yaml:"max_loss_per_trade"`
	MinOpenInterest int64   `yaml:"min_open_interest"`
	DeltaCapAbs     float64 `yaml:"delta_cap_abs"`
	LeverageCap     float64 `yaml:"leverage_cap"`
}

// FeedConfig controls the synthetic market feed.
type FeedConfig struct {
	IntervalMs int                `yaml:"interval_ms"`
	Bases      map[string]float64 `yaml:"bases"`
}

// TradingConfig defines execution parameters.
type TradingConfig struct {
	FillDelayMs int `yaml:"fill_delay_ms"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Broker.Provider == "" {
		cfg.Broker.Provider = "mock"
	}
	if cfg.Broker.Env == "" {
		cfg.Broker.Env = "paper"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Feed.IntervalMs == 0 {
		cfg.Feed.IntervalMs = 2000
	}
	if cfg.Trading.FillDelayMs == 0 {
		cfg.Trading.FillDelayMs = 3000
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}

	if v := os.Getenv("BROKER_PROVIDER"); v != "" {
		cfg.Broker.Provider = v
	}

	if v := os.Getenv("BROKER_ENV"); v != "" {
		cfg.Broker.Env = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("FILL_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Trading.FillDelayMs = n
		}
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

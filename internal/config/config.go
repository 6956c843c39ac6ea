// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"papertrader-go/internal/exchange"
	"papertrader-go/internal/risk"
	"papertrader-go/internal/session"
)

var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New()

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name" default:"papertrader"`
	Env         string `yaml:"env" default:"dev"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level" default:"info" validate:"oneof=trace debug info warn error"`
	LogFormat   string `yaml:"log_format" default:"json" validate:"oneof=json console"`
}

// Simulation configures the synthetic market.
type Simulation struct {
	Feeds         []exchange.SymbolConfig `yaml:"feeds" validate:"dive"`
	ChartInterval string                  `yaml:"chart_interval" default:"1m"`
	Resolution    time.Duration           `yaml:"resolution" default:"100ms" validate:"gt=0"`
	AutoStart     bool                    `yaml:"auto_start"`
	ResumeID      string                  `yaml:"resume_id"`
}

// Strategy selects the registered strategy and its parameters.
type Strategy struct {
	ID     string         `yaml:"id" default:"realtime_simple_ma" validate:"required"`
	Params map[string]any `yaml:"params"`
}

// Risk limits as fractions of portfolio value.
type Risk struct {
	StopLossPct    float64 `yaml:"stop_loss_pct" default:"0.10" validate:"gt=0,lte=1"`
	MaxPositionPct float64 `yaml:"max_pos_pct" default:"0.25" validate:"gt=0,lte=1"`
	MaxDrawdownPct float64 `yaml:"max_dd_pct" default:"0.15" validate:"gt=0,lte=1"`
}

// Paper captures paper-trading account settings.
type Paper struct {
	StartingCash  float64 `yaml:"starting_cash" default:"100000" validate:"gte=0"`
	TradeQuantity int64   `yaml:"trade_quantity" default:"100" validate:"gt=0"`
	FillsPath     string  `yaml:"fills_path"`
}

// Snapshot configures session persistence.
type Snapshot struct {
	Backend       string        `yaml:"backend" default:"none" validate:"oneof=none file redis"`
	Interval      time.Duration `yaml:"interval" default:"30s"`
	Dir           string        `yaml:"dir" default:"snapshots"`
	RedisAddr     string        `yaml:"redis_addr" default:"localhost:6379"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	RedisPrefix   string        `yaml:"redis_prefix" default:"papertrader"`
	TTL           time.Duration `yaml:"ttl"`
}

// Recorder selects where executed trades are published.
type Recorder struct {
	Type    string   `yaml:"type" default:"none" validate:"oneof=none jsonl kafka"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic" default:"papertrader.trades"`
}

// API configures the HTTP server.
type API struct {
	Addr string `yaml:"addr" default:":8000"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App        App        `yaml:"app"`
	Simulation Simulation `yaml:"simulation"`
	Strategy   Strategy   `yaml:"strategy"`
	Risk       Risk       `yaml:"risk"`
	Paper      Paper      `yaml:"paper"`
	Snapshot   Snapshot   `yaml:"snapshot"`
	Recorder   Recorder   `yaml:"recorder"`
	API        API        `yaml:"api"`
}

// Default returns a config with every default applied.
func Default() *Config {
	var cfg Config
	_ = defaults.Set(&cfg)
	return &cfg
}

// Load reads a YAML file from disk, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := decode(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := defaults.Set(&config); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return &config, nil
}

// LoadWithEnv loads .env files (best effort), then the YAML config, then
// applies PAPER_* environment overrides before validating.
func LoadWithEnv(path string, envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)
	cfg, err := decode(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PAPER_LOG_LEVEL"); v != "" {
		c.App.LogLevel = v
	}
	if v := os.Getenv("PAPER_API_ADDR"); v != "" {
		c.API.Addr = v
	}
	if v := os.Getenv("PAPER_METRICS_ADDR"); v != "" {
		c.App.MetricsAddr = v
	}
	if v := os.Getenv("PAPER_STARTING_CASH"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: PAPER_STARTING_CASH: %w", ErrInvalidConfig, err)
		}
		c.Paper.StartingCash = f
	}
	if v := os.Getenv("PAPER_SNAPSHOT_BACKEND"); v != "" {
		c.Snapshot.Backend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Snapshot.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Snapshot.RedisPassword = v
	}
	if v := os.Getenv("PAPER_RECORDER"); v != "" {
		c.Recorder.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Recorder.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Recorder.Topic = v
	}
	return nil
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Recorder.Type == "kafka" && len(c.Recorder.Brokers) == 0 {
		return fmt.Errorf("%w: recorder.brokers required for kafka", ErrInvalidConfig)
	}
	if c.Recorder.Type == "jsonl" && c.Paper.FillsPath == "" {
		return fmt.Errorf("%w: paper.fills_path required for jsonl recorder", ErrInvalidConfig)
	}
	if c.Snapshot.Backend != "none" && c.Snapshot.Interval <= 0 {
		return fmt.Errorf("%w: snapshot.interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// Limits converts the risk section.
func (c *Config) Limits() risk.Limits {
	return risk.Limits{
		StopLossPct:    c.Risk.StopLossPct,
		MaxPositionPct: c.Risk.MaxPositionPct,
		MaxDrawdownPct: c.Risk.MaxDrawdownPct,
	}
}

// SessionParams builds the parameters of a session started from config.
func (c *Config) SessionParams() session.Params {
	return session.Params{
		StrategyID:     c.Strategy.ID,
		StrategyParams: c.Strategy.Params,
		InitialCash:    c.Paper.StartingCash,
		Risk: map[string]float64{
			risk.KeyStopLossPct:    c.Risk.StopLossPct,
			risk.KeyMaxPositionPct: c.Risk.MaxPositionPct,
			risk.KeyMaxDrawdownPct: c.Risk.MaxDrawdownPct,
		},
		ChartInterval: c.Simulation.ChartInterval,
		TradeQuantity: c.Paper.TradeQuantity,
		Feeds:         c.Simulation.Feeds,
	}
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

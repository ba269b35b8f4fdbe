package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for chainswapd.
type Config struct {
	ListenAddress string       `yaml:"listen"`
	SwapDBPath    string       `yaml:"swap_database"`
	PriceDBPath   string       `yaml:"price_database"`
	AdminToken    string       `yaml:"admin_token"`
	Gate          GateConfig   `yaml:"gate"`
	Swap          SwapConfig   `yaml:"swap"`
	Oracle        OracleConfig `yaml:"oracle"`
	Sources       []Source     `yaml:"sources"`
	Chains        ChainsConfig `yaml:"chains"`
}

// GateConfig tunes the spread and peg protection gate.
type GateConfig struct {
	// AlertThreshold is a decimal ratio, e.g. "0.05" for 5%.
	AlertThreshold string   `yaml:"alert_threshold"`
	CheckTimeout   Duration `yaml:"check_timeout"`
}

// SwapConfig tunes swap lifecycle windows.
type SwapConfig struct {
	RefundBuffer  Duration `yaml:"refund_buffer"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

// OracleConfig tunes the price router and peg monitor.
type OracleConfig struct {
	Interval Duration `yaml:"interval"`
	MaxAge   Duration `yaml:"max_age"`
	MinFeeds int      `yaml:"min_feeds"`
}

// Source describes one upstream price venue bound to a chain.
type Source struct {
	Name     string  `yaml:"name"`
	Type     string  `yaml:"type"`
	Chain    string  `yaml:"chain"`
	Endpoint string  `yaml:"endpoint"`
	RateRPS  float64 `yaml:"rate_per_second"`
}

// ChainsConfig holds RPC endpoints for both chains. Empty endpoints select
// the in-memory fake clients for development runs.
type ChainsConfig struct {
	EVMEndpoint    string   `yaml:"evm_endpoint"`
	LedgerEndpoint string   `yaml:"ledger_endpoint"`
	DialTimeout    Duration `yaml:"dial_timeout"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with production defaults.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7085"
	}
	if cfg.SwapDBPath == "" {
		cfg.SwapDBPath = "/var/data/chainswap/swaps.db"
	}
	if cfg.PriceDBPath == "" {
		cfg.PriceDBPath = "/var/data/chainswap/prices.sqlite"
	}
	if cfg.Gate.AlertThreshold == "" {
		cfg.Gate.AlertThreshold = "0.05"
	}
	if cfg.Gate.CheckTimeout.Duration == 0 {
		cfg.Gate.CheckTimeout.Duration = 5 * time.Second
	}
	if cfg.Swap.RefundBuffer.Duration == 0 {
		cfg.Swap.RefundBuffer.Duration = 30 * time.Minute
	}
	if cfg.Swap.SweepInterval.Duration == 0 {
		cfg.Swap.SweepInterval.Duration = 30 * time.Second
	}
	if cfg.Oracle.Interval.Duration == 0 {
		cfg.Oracle.Interval.Duration = 30 * time.Second
	}
	if cfg.Oracle.MaxAge.Duration == 0 {
		cfg.Oracle.MaxAge.Duration = 2 * time.Minute
	}
	if cfg.Oracle.MinFeeds <= 0 {
		cfg.Oracle.MinFeeds = 1
	}
	if cfg.Chains.DialTimeout.Duration == 0 {
		cfg.Chains.DialTimeout.Duration = 10 * time.Second
	}
}

// Validate rejects configurations the daemon cannot run with.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.AdminToken) == "" {
		return fmt.Errorf("config: admin_token must be configured")
	}
	if strings.TrimSpace(cfg.SwapDBPath) == "" {
		return fmt.Errorf("config: swap_database must be configured")
	}
	for i, src := range cfg.Sources {
		if strings.TrimSpace(src.Type) == "" {
			return fmt.Errorf("config: sources[%d] missing type", i)
		}
		switch strings.ToLower(strings.TrimSpace(src.Chain)) {
		case "evm", "ledger":
		default:
			return fmt.Errorf("config: sources[%d] chain must be evm or ledger", i)
		}
		if strings.TrimSpace(src.Endpoint) == "" {
			return fmt.Errorf("config: sources[%d] missing endpoint", i)
		}
		if src.RateRPS < 0 {
			return fmt.Errorf("config: sources[%d] negative rate limit", i)
		}
	}
	if cfg.Oracle.Interval.Duration < time.Second {
		return fmt.Errorf("config: oracle interval below 1s")
	}
	return nil
}

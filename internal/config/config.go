// Package config loads the service configuration from YAML files and
// BOURSE_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/openbourse/bourse/pkg/models"
)

// Config is the full service configuration.
type Config struct {
	Environment string         `mapstructure:"environment"`
	Server      ServerConfig   `mapstructure:"server"`
	Storage     StorageConfig  `mapstructure:"storage"`
	Exchange    ExchangeConfig `mapstructure:"exchange"`
	Logging     LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host                    string        `mapstructure:"host"`
	Port                    int           `mapstructure:"port"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// StorageConfig configures the embedded record store. An empty path runs the
// store in memory.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// ExchangeConfig seeds the exchange singleton on first start.
type ExchangeConfig struct {
	Authority    string `mapstructure:"authority"`
	FeeCollector string `mapstructure:"fee_collector"`
	MakerFeeBps  uint16 `mapstructure:"maker_fee_bps"`
	TakerFeeBps  uint16 `mapstructure:"taker_fee_bps"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Address returns the listen address of the HTTP server.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads configuration from the given paths (missing files are skipped),
// applies environment overrides, and validates the result.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("BOURSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if len(paths) == 0 {
		paths = []string{"./config.yaml", "/etc/bourse/config.yaml"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// resolve identities once so repeated reads agree
	if cfg.Exchange.Authority == "" {
		cfg.Exchange.Authority = uuid.New().String()
	}
	if cfg.Exchange.FeeCollector == "" {
		cfg.Exchange.FeeCollector = cfg.Exchange.Authority
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.graceful_shutdown_timeout", 15*time.Second)

	v.SetDefault("storage.path", "./data/bourse")

	v.SetDefault("exchange.maker_fee_bps", 10)
	v.SetDefault("exchange.taker_fee_bps", 20)

	v.SetDefault("logging.level", "info")
}

// Validate checks the configuration for values the services would reject.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Exchange.MakerFeeBps > models.MaxFeeBps || c.Exchange.TakerFeeBps > models.MaxFeeBps {
		return fmt.Errorf("fee basis points exceed the %d cap", models.MaxFeeBps)
	}
	if c.Exchange.Authority != "" {
		if _, err := uuid.Parse(c.Exchange.Authority); err != nil {
			return fmt.Errorf("invalid exchange authority: %w", err)
		}
	}
	if c.Exchange.FeeCollector != "" {
		if _, err := uuid.Parse(c.Exchange.FeeCollector); err != nil {
			return fmt.Errorf("invalid fee collector: %w", err)
		}
	}
	return nil
}

// AuthorityID returns the configured authority identity. Load guarantees the
// field is populated and parseable.
func (c *Config) AuthorityID() uuid.UUID {
	id, _ := uuid.Parse(c.Exchange.Authority)
	return id
}

// FeeCollectorID returns the configured fee collector identity.
func (c *Config) FeeCollectorID() uuid.UUID {
	id, _ := uuid.Parse(c.Exchange.FeeCollector)
	return id
}

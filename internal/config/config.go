package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Solana     SolanaConfig     `mapstructure:"solana"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type SolanaConfig struct {
	RPCURL         string `mapstructure:"rpc_url"`
	TokenMint      string `mapstructure:"token_mint"`
	TokenDecimals  int32  `mapstructure:"token_decimals"`
	TreasuryWallet string `mapstructure:"treasury_wallet"`
	// FundingKey is the base58 private key of the custody wallet. Never put
	// it in the yaml file; supply REWARDSD_SOLANA_FUNDING_KEY via env.
	FundingKey     string `mapstructure:"funding_key"`
	ConfirmTimeout int    `mapstructure:"confirm_timeout"`
	PollIntervalMS int    `mapstructure:"poll_interval_ms"`
}

type AuthConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type ReconcilerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
	// MinAge is how long an attempt must sit in submitted before the
	// reconciler re-queries it, in seconds.
	MinAge int `mapstructure:"min_age"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

func (s SolanaConfig) ConfirmDeadline() time.Duration {
	return time.Duration(s.ConfirmTimeout) * time.Second
}

func (s SolanaConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMS) * time.Millisecond
}

func (r ReconcilerConfig) MinAttemptAge() time.Duration {
	return time.Duration(r.MinAge) * time.Second
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15)
	v.SetDefault("server.write_timeout", 60)
	v.SetDefault("solana.rpc_url", "https://api.devnet.solana.com")
	v.SetDefault("solana.token_decimals", 6)
	v.SetDefault("solana.confirm_timeout", 45)
	v.SetDefault("solana.poll_interval_ms", 500)
	v.SetDefault("reconciler.enabled", true)
	v.SetDefault("reconciler.schedule", "@every 2m")
	v.SetDefault("reconciler.min_age", 60)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	// Keys with no baked-in default still need registering, or AutomaticEnv
	// will not surface them through Unmarshal.
	v.SetDefault("database.url", "")
	v.SetDefault("solana.token_mint", "")
	v.SetDefault("solana.treasury_wallet", "")
	v.SetDefault("solana.funding_key", "")
	v.SetDefault("auth.base_url", "")
	v.SetDefault("auth.api_key", "")

	v.SetEnvPrefix("REWARDSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Database.URL == "" {
		return nil, fmt.Errorf("database.url (REWARDSD_DATABASE_URL) is required")
	}
	if config.Solana.TokenMint == "" {
		return nil, fmt.Errorf("solana.token_mint is required")
	}

	return &config, nil
}

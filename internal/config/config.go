package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server     Server              `mapstructure:"server"`
	Database   Database            `mapstructure:"database"`
	Logger     Logger              `mapstructure:"logger"`
	Auth       Auth                `mapstructure:"auth"`
	Security   Security            `mapstructure:"security"`
	Allocation Allocation          `mapstructure:"allocation"`
	Scheduler  Scheduler           `mapstructure:"scheduler"`
	Exchanges  map[string]Exchange `mapstructure:"exchanges"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the SQLite store.
type Database struct {
	Path string `mapstructure:"path"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Auth holds the configuration for API authentication.
type Auth struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// Security holds the key used to encrypt exchange credentials at rest.
type Security struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

// Allocation holds per-cycle budget limits.
type Allocation struct {
	MaxPercentPerTrade float64 `mapstructure:"max_percent_per_trade"`
	LowBalanceFloorUSD float64 `mapstructure:"low_balance_floor_usd"`
	MinOrderUSD        float64 `mapstructure:"min_order_usd"`
}

// Scheduler holds the strategy reload interval.
type Scheduler struct {
	ReloadSeconds int `mapstructure:"reload_seconds"`
}

// Exchange holds per-exchange API credentials. Key and Secret may be stored
// encrypted (see Security.EncryptionKey) or plain.
type Exchange struct {
	ApiKey         string  `mapstructure:"api_key"`
	SecretKey      string  `mapstructure:"secret_key"`
	Encrypted      bool    `mapstructure:"encrypted"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yml")

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.path", "data/bot.db")
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")
	viper.SetDefault("allocation.max_percent_per_trade", 30)
	viper.SetDefault("allocation.low_balance_floor_usd", 15)
	viper.SetDefault("allocation.min_order_usd", 5)
	viper.SetDefault("scheduler.reload_seconds", 60)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if config.Auth.JWTSecret == "" {
		config.Auth.JWTSecret = viper.GetString("JWT_SECRET")
	}
	if config.Security.EncryptionKey == "" {
		config.Security.EncryptionKey = viper.GetString("ENCRYPTION_KEY")
	}
	return
}

// Validate checks the fields the process cannot run without.
func (c Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Exchanges) == 0 {
		return fmt.Errorf("at least one exchange must be configured")
	}
	for name, ex := range c.Exchanges {
		if ex.Encrypted && c.Security.EncryptionKey == "" {
			return fmt.Errorf("exchange %s uses encrypted credentials but security.encryption_key is empty", name)
		}
	}
	return nil
}

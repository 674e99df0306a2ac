package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Market   MarketConfig
	Alerts   AlertsConfig
	Server   ServerConfig
}

// DatabaseConfig defines the database connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// URL builds the postgres connection string.
func (c DatabaseConfig) URL() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, sslmode)
}

// RedisConfig defines the price cache connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MarketConfig defines the remote price feed settings.
type MarketConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	VsCurrency      string        `mapstructure:"vs_currency"`
	PerPage         int           `mapstructure:"per_page"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	// StreamCoinIDs maps exchange ticker symbols (e.g. btcusdt) to the feed
	// coin IDs whose cached prices they keep fresh between feed refreshes.
	StreamCoinIDs map[string]string `mapstructure:"stream_coin_ids"`
}

// AlertsConfig defines the periodic alert evaluation settings.
type AlertsConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// ServerConfig defines the HTTP listener settings. Metrics are served on the
// same listener under /metrics.
type ServerConfig struct {
	Addr string
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("market.base_url", "https://api.coingecko.com/api/v3")
	viper.SetDefault("market.vs_currency", "usd")
	viper.SetDefault("market.per_page", 100)
	viper.SetDefault("market.request_timeout", 8*time.Second)
	viper.SetDefault("market.refresh_interval", 5*time.Minute)
	viper.SetDefault("alerts.check_interval", 15*time.Minute)
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("redis.addr", "localhost:6379")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}

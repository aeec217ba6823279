// Package config loads runtime configuration for the meshrf service from
// environment variables and an optional .env file.
package config

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds every environment-tunable knob for the service.
type Config struct {
	RedisHost string `mapstructure:"REDIS_HOST"`
	RedisPort string `mapstructure:"REDIS_PORT"`

	ServerPort string `mapstructure:"SERVER_PORT"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
	LogPretty  bool   `mapstructure:"LOG_PRETTY"`

	// TileUpstreamURL is a format string taking z, x, y, e.g.
	// "https://tiles.example.com/terrain-rgb/%d/%d/%d.png".
	TileUpstreamURL      string        `mapstructure:"TILE_UPSTREAM_URL"`
	TileZoom             int           `mapstructure:"TILE_ZOOM"`
	TileMemCacheSize     int           `mapstructure:"TILE_MEM_CACHE_SIZE"`
	TileCacheTTL         time.Duration `mapstructure:"TILE_CACHE_TTL"`
	TileFetchConcurrency int           `mapstructure:"TILE_FETCH_CONCURRENCY"`
	TileFetchTimeout     time.Duration `mapstructure:"TILE_FETCH_TIMEOUT"`

	WorkerPoolSize      int           `mapstructure:"WORKER_POOL_SIZE"`
	JobWallClockBudget  time.Duration `mapstructure:"JOB_WALLCLOCK_BUDGET"`
	MasterGridMaxDim    int           `mapstructure:"MASTER_GRID_MAX_DIM"`
	MasterGridTargetRes float64       `mapstructure:"MASTER_GRID_TARGET_RES_M"`

	DefaultRxHeight  float64 `mapstructure:"DEFAULT_RX_HEIGHT_M"`
	DefaultFreqMHz   float64 `mapstructure:"DEFAULT_FREQUENCY_MHZ"`
	DefaultKFactor   float64 `mapstructure:"DEFAULT_K_FACTOR"`
	PathLossBudgetDB float64 `mapstructure:"PATH_LOSS_BUDGET_DB"`
}

// RedisAddr returns the host:port address for the Redis cache tier.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// Load reads configuration from .env (if present) and the environment,
// falling back to sane defaults for anything unset.
func Load() *Config {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("REDIS_HOST")
	viper.BindEnv("REDIS_PORT")
	viper.BindEnv("SERVER_PORT")
	viper.BindEnv("LOG_LEVEL")
	viper.BindEnv("LOG_PRETTY")
	viper.BindEnv("TILE_UPSTREAM_URL")
	viper.BindEnv("TILE_ZOOM")
	viper.BindEnv("TILE_MEM_CACHE_SIZE")
	viper.BindEnv("TILE_CACHE_TTL")
	viper.BindEnv("TILE_FETCH_CONCURRENCY")
	viper.BindEnv("TILE_FETCH_TIMEOUT")
	viper.BindEnv("WORKER_POOL_SIZE")
	viper.BindEnv("JOB_WALLCLOCK_BUDGET")
	viper.BindEnv("MASTER_GRID_MAX_DIM")
	viper.BindEnv("MASTER_GRID_TARGET_RES_M")
	viper.BindEnv("DEFAULT_RX_HEIGHT_M")
	viper.BindEnv("DEFAULT_FREQUENCY_MHZ")
	viper.BindEnv("DEFAULT_K_FACTOR")
	viper.BindEnv("PATH_LOSS_BUDGET_DB")

	// Defaults
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_PRETTY", false)
	viper.SetDefault("TILE_UPSTREAM_URL", "https://tiles.example.com/terrain-rgb/%d/%d/%d.png")
	viper.SetDefault("TILE_ZOOM", 12)
	viper.SetDefault("TILE_MEM_CACHE_SIZE", 512)
	viper.SetDefault("TILE_CACHE_TTL", 24*time.Hour)
	viper.SetDefault("TILE_FETCH_CONCURRENCY", 8)
	viper.SetDefault("TILE_FETCH_TIMEOUT", 10*time.Second)
	viper.SetDefault("WORKER_POOL_SIZE", 4)
	viper.SetDefault("JOB_WALLCLOCK_BUDGET", 5*time.Minute)
	viper.SetDefault("MASTER_GRID_MAX_DIM", 4096)
	viper.SetDefault("MASTER_GRID_TARGET_RES_M", 100.0)
	viper.SetDefault("DEFAULT_RX_HEIGHT_M", 2.0)
	viper.SetDefault("DEFAULT_FREQUENCY_MHZ", 915.0)
	viper.SetDefault("DEFAULT_K_FACTOR", 1.333)
	viper.SetDefault("PATH_LOSS_BUDGET_DB", 140.0)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: no .env file found, using environment variables")
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		log.Fatalf("Failed to unmarshal config: %v", err)
	}

	return cfg
}

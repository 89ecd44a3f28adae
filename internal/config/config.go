package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8080"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"100"`
	MySQLDSN      string `env:"MYSQL_DSN" envDefault:"root:root@tcp(localhost:3306)/nearbuy?parseTime=true"`

	// RequestTimeout bounds every store call made on behalf of one request.
	// The store is the single point of coordination; a wedged Redis must fail
	// requests, not absorb the handler pool.
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"3s"`

	ShopCacheTTL     time.Duration `env:"SHOP_CACHE_TTL" envDefault:"30m"`
	CampaignCacheTTL time.Duration `env:"CAMPAIGN_CACHE_TTL" envDefault:"30m"`

	RebuildWorkers int `env:"REBUILD_WORKERS" envDefault:"10"`
	RebuildQueue   int `env:"REBUILD_QUEUE" envDefault:"1024"`

	ConsumerWorkers int           `env:"CONSUMER_WORKERS" envDefault:"10"`
	ConsumerBlock   time.Duration `env:"CONSUMER_BLOCK" envDefault:"2s"`

	Debug bool `env:"DEBUG" envDefault:"false"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

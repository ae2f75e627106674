package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Redis     RedisConfig     `json:"redis"`
	Postgres  PostgresConfig  `json:"postgres"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Auth      AuthConfig      `json:"auth"`
	Backends  []BackendPool   `json:"backends"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type PostgresConfig struct {
	Enabled bool   `json:"enabled"`
	DSN     string `json:"dsn"`
}

type RateLimitConfig struct {
	ServiceLabel       string                  `json:"service_label"`
	EndpointCosts      map[string]float64      `json:"endpoint_costs"`
	ExemptPaths        []string                `json:"exempt_paths"`
	PersistQueueSize   int                     `json:"persist_queue_size"`
	SweepIntervalSecs  int                     `json:"sweep_interval_seconds"`
	SweepRetentionSecs int                     `json:"sweep_retention_seconds"`
	Tiers              map[string]TierOverride `json:"tiers"`
}

// TierOverride replaces the built-in limits for one tier. Omitted limits
// mean unlimited.
type TierOverride struct {
	PerMinute       *uint64 `json:"per_minute"`
	Monthly         *uint64 `json:"monthly"`
	BurstMultiplier float64 `json:"burst_multiplier"`
}

func (r RateLimitConfig) SweepInterval() time.Duration {
	if r.SweepIntervalSecs <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(r.SweepIntervalSecs) * time.Second
}

func (r RateLimitConfig) SweepRetention() time.Duration {
	if r.SweepRetentionSecs <= 0 {
		return time.Hour
	}
	return time.Duration(r.SweepRetentionSecs) * time.Second
}

type AuthConfig struct {
	JWTSecret   string `json:"jwt_secret"`
	ExpiryHours int    `json:"expiry_hours"`
}

// BackendPool describes one group of fingerprint backends behind a route.
type BackendPool struct {
	Path                 string   `json:"path"`
	Targets              []string `json:"targets"`
	LoadBalancerStrategy string   `json:"load_balancer_strategy"`
}

func Load(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()
	config.applyEnv()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.RateLimit.ServiceLabel == "" {
		c.RateLimit.ServiceLabel = "fingerprint-api"
	}
	if c.RateLimit.EndpointCosts == nil {
		c.RateLimit.EndpointCosts = map[string]float64{
			"/identify": 1.0,
			"/compare":  2.0,
			"/batch":    1.0,
		}
	}
	if c.RateLimit.ExemptPaths == nil {
		c.RateLimit.ExemptPaths = []string{"/health", "/metrics", "/docs"}
	}
	if c.Auth.ExpiryHours <= 0 {
		c.Auth.ExpiryHours = 24
	}
}

// Environment variables override file values for secrets.
func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
}

// Package config loads the engine's configuration from a YAML file with
// environment-variable overrides, following the teacher lineage's viper
// setup.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every section the engine's components need at startup.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig is the thin REST surface's HTTP listener (§6 shape-only).
type ServerConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	CORSAllowedOrigins string        `mapstructure:"cors_allowed_origins"`
}

// AuthConfig is carried as inert configuration surface only:
// authentication is an external collaborator per §1, never built here.
type AuthConfig struct {
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

// DatabaseConfig is the pgx connection pool backing the Ledger's
// transactional store, the TradeQueue table and the outbox.
type DatabaseConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	Database    string        `mapstructure:"database"`
	MaxConns    int32         `mapstructure:"max_conns"`
	MinConns    int32         `mapstructure:"min_conns"`
	MaxConnLife time.Duration `mapstructure:"max_conn_life"`
}

// ConnectionString returns Database verbatim when it already holds a full
// connection URL (set from DATABASE_URL), else assembles one from the fields.
func (c *DatabaseConfig) ConnectionString() string {
	if strings.Contains(c.Database, "://") {
		return c.Database
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig backs PriceStore and OrderBookCache's Redis key contract
// (§6) — the teacher declares this struct but never wires a client to it;
// internal/pricefeed completes that wiring.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// QueueConfig carries the RABBITMQ_* environment surface named in §6. No
// AMQP client is wired (see DESIGN.md): TradeQueue is a Postgres-backed
// durable queue table, so these fields are inert configuration kept for
// interface fidelity with deployments that do front it with a broker.
type QueueConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// TradingConfig tunes the trading pipeline's runtime behavior.
type TradingConfig struct {
	InitialCash      float64       `mapstructure:"initial_cash"`
	EventBusBuffer   int           `mapstructure:"event_bus_buffer"`
	ExecutorWorkers  int           `mapstructure:"executor_workers"`
	ConditionalTick  time.Duration `mapstructure:"conditional_tick"`
	HumanMatchPeriod time.Duration `mapstructure:"human_match_period"`
	MarginWatchPeriod time.Duration `mapstructure:"margin_watch_period"`
	IdempotencyTTL   time.Duration `mapstructure:"idempotency_ttl"`
}

// LoggingConfig selects zerolog's output shape.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // "json" or "console"
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configPath (YAML) and overlays environment variables with
// prefix ENGINE_, plus the literal names §6 specifies for interoperability
// with the wider deployment (DATABASE_URL, REDIS_HOST/PORT,
// RABBITMQ_HOST/PORT/USER/PASS, ACCESS_TOKEN_EXPIRE_MINUTES).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	v.SetEnvPrefix("ENGINE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// The literal names carry no ENGINE_ prefix, so they are looked up
	// through a separate, unprefixed viper instance.
	env := viper.New()
	env.AutomaticEnv()
	applySpecEnvOverrides(env, &cfg)
	return &cfg, nil
}

func applySpecEnvOverrides(v *viper.Viper, cfg *Config) {
	if v.IsSet("DATABASE_URL") {
		// DATABASE_URL, when set, is stored in Database.Database and
		// ConnectionString() returns it verbatim instead of assembling a
		// DSN; the individual Database fields are kept for local/dev
		// convenience.
		cfg.Database.Database = v.GetString("DATABASE_URL")
	}
	if v.IsSet("REDIS_HOST") {
		cfg.Redis.Host = v.GetString("REDIS_HOST")
	}
	if v.IsSet("REDIS_PORT") {
		cfg.Redis.Port = v.GetInt("REDIS_PORT")
	}
	if v.IsSet("RABBITMQ_HOST") {
		cfg.Queue.Host = v.GetString("RABBITMQ_HOST")
	}
	if v.IsSet("RABBITMQ_PORT") {
		cfg.Queue.Port = v.GetInt("RABBITMQ_PORT")
	}
	if v.IsSet("RABBITMQ_USER") {
		cfg.Queue.User = v.GetString("RABBITMQ_USER")
	}
	if v.IsSet("RABBITMQ_PASS") {
		cfg.Queue.Password = v.GetString("RABBITMQ_PASS")
	}
	if v.IsSet("ACCESS_TOKEN_EXPIRE_MINUTES") {
		cfg.Auth.AccessTokenTTL = time.Duration(v.GetInt("ACCESS_TOKEN_EXPIRE_MINUTES")) * time.Minute
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.cors_allowed_origins", "*")

	v.SetDefault("auth.access_token_ttl", 30*time.Minute)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "engine")
	v.SetDefault("database.password", "engine")
	v.SetDefault("database.database", "sim_exchange")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_life", 5*time.Minute)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")

	v.SetDefault("trading.initial_cash", 1000000.0)
	v.SetDefault("trading.event_bus_buffer", 1000)
	v.SetDefault("trading.executor_workers", 8)
	v.SetDefault("trading.conditional_tick", 200*time.Millisecond)
	v.SetDefault("trading.human_match_period", time.Second)
	v.SetDefault("trading.margin_watch_period", time.Second)
	v.SetDefault("trading.idempotency_ttl", 24*time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.time_format", time.RFC3339)
}

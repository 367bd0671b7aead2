package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Cache     CacheConfig     `json:"cache"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Auth      AuthConfig      `json:"auth"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Logging   LoggingConfig   `json:"logging"`
}

type ServerConfig struct {
	Host            string        `json:"host"`
	Port            string        `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	Environment     string        `json:"environment"`
	AllowedOrigins  []string      `json:"allowed_origins"`
	SeedDemoData    bool          `json:"seed_demo_data"`
}

type DatabaseConfig struct {
	// URL, when set, is used verbatim and wins over the individual fields.
	URL             string        `json:"url"`
	Driver          string        `json:"driver"`
	Path            string        `json:"path"`
	Host            string        `json:"host"`
	Port            string        `json:"port"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	Name            string        `json:"name"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	LogLevel        string        `json:"log_level"`
}

type RedisConfig struct {
	Host         string        `json:"host"`
	Port         string        `json:"port"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	PoolSize     int           `json:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns"`
	MaxRetries   int           `json:"max_retries"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type CacheConfig struct {
	Driver          string        `json:"driver"`
	OpTimeout       time.Duration `json:"op_timeout"`
	DashboardTTL    time.Duration `json:"dashboard_ttl"`
	RecentTasksTTL  time.Duration `json:"recent_tasks_ttl"`
	CategoriesTTL   time.Duration `json:"categories_ttl"`
	TaskListTTL     time.Duration `json:"task_list_ttl"`
	MemoryCapacity  int           `json:"memory_capacity"`
	MemoryShards    int           `json:"memory_shards"`
	BreakerFailures int           `json:"breaker_failures"`
	BreakerTimeout  time.Duration `json:"breaker_timeout"`
	WarmSchedule    string        `json:"warm_schedule"`
}

type BroadcastConfig struct {
	Driver         string        `json:"driver"`
	QueueSize      int           `json:"queue_size"`
	Workers        int           `json:"workers"`
	PublishTimeout time.Duration `json:"publish_timeout"`
	Heartbeat      time.Duration `json:"heartbeat"`
}

type AuthConfig struct {
	JWTSecret      string        `json:"jwt_secret"`
	Issuer         string        `json:"issuer"`
	AccessTokenTTL time.Duration `json:"access_token_ttl"`
	BCryptCost     int           `json:"bcrypt_cost"`
}

type RateLimitConfig struct {
	Enabled         bool          `json:"enabled"`
	RequestsPerMin  int           `json:"requests_per_minute"`
	BurstSize       int           `json:"burst_size"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

type LoggingConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

const defaultJWTSecret = "your-secret-key"

// LoadConfig reads configuration from the environment. When CONFIG_FILE points
// at a yaml, json or toml file its keys (the lower-cased variable names) fill
// in anything the environment leaves unset.
func LoadConfig() (*Config, error) {
	src, err := newSource()
	if err != nil {
		return nil, err
	}

	environment := src.getString("environment", "development")

	config := &Config{
		Server: ServerConfig{
			Host:            src.getString("host", "localhost"),
			Port:            src.getString("port", "8080"),
			ReadTimeout:     src.getDuration("read_timeout", 30*time.Second),
			IdleTimeout:     src.getDuration("idle_timeout", 60*time.Second),
			ShutdownTimeout: src.getDuration("shutdown_timeout", 10*time.Second),
			Environment:     environment,
			AllowedOrigins:  src.getList("allowed_origins", []string{"http://localhost:5173"}),
			SeedDemoData:    src.getBool("seed_demo_data", false),
		},
		Database: DatabaseConfig{
			URL:             src.getString("database_url", ""),
			Driver:          src.getString("db_driver", "postgres"),
			Path:            src.getString("db_path", "data/taskflow.db"),
			Host:            src.getString("db_host", "localhost"),
			Port:            src.getString("db_port", "5432"),
			User:            src.getString("db_user", "postgres"),
			Password:        src.getString("db_password", ""),
			Name:            src.getString("db_name", "taskflow"),
			SSLMode:         src.getString("db_ssl_mode", "disable"),
			MaxOpenConns:    src.getInt("db_max_open_conns", 25),
			MaxIdleConns:    src.getInt("db_max_idle_conns", 10),
			ConnMaxLifetime: src.getDuration("db_conn_max_lifetime", time.Hour),
			ConnMaxIdleTime: src.getDuration("db_conn_max_idle_time", 30*time.Minute),
			LogLevel:        src.getString("db_log_level", "warn"),
		},
		Redis: RedisConfig{
			Host:         src.getString("redis_host", "localhost"),
			Port:         src.getString("redis_port", "6379"),
			Password:     src.getString("redis_password", ""),
			DB:           src.getInt("redis_db", 0),
			PoolSize:     src.getInt("redis_pool_size", 10),
			MinIdleConns: src.getInt("redis_min_idle_conns", 5),
			MaxRetries:   src.getInt("redis_max_retries", 3),
			DialTimeout:  src.getDuration("redis_dial_timeout", 5*time.Second),
			ReadTimeout:  src.getDuration("redis_read_timeout", 3*time.Second),
			WriteTimeout: src.getDuration("redis_write_timeout", 3*time.Second),
		},
		Cache: CacheConfig{
			Driver:          src.getString("cache_driver", "redis"),
			OpTimeout:       src.getDuration("cache_op_timeout", 3*time.Second),
			DashboardTTL:    src.getDuration("cache_dashboard_ttl", 300*time.Second),
			RecentTasksTTL:  src.getDuration("cache_recent_tasks_ttl", 120*time.Second),
			CategoriesTTL:   src.getDuration("cache_categories_ttl", 600*time.Second),
			TaskListTTL:     src.getDuration("cache_task_list_ttl", 180*time.Second),
			MemoryCapacity:  src.getInt("cache_memory_capacity", 10000),
			MemoryShards:    src.getInt("cache_memory_shards", 16),
			BreakerFailures: src.getInt("cache_breaker_failures", 5),
			BreakerTimeout:  src.getDuration("cache_breaker_timeout", 30*time.Second),
			WarmSchedule:    src.getString("cache_warm_schedule", "@every 5m"),
		},
		Broadcast: BroadcastConfig{
			Driver:         src.getString("broadcast_driver", "redis"),
			QueueSize:      src.getInt("broadcast_queue_size", 1024),
			Workers:        src.getInt("broadcast_workers", 2),
			PublishTimeout: src.getDuration("broadcast_publish_timeout", 2*time.Second),
			Heartbeat:      src.getDuration("broadcast_heartbeat", 25*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:      src.getString("jwt_secret", defaultJWTSecret),
			Issuer:         src.getString("jwt_issuer", "taskflow"),
			AccessTokenTTL: src.getDuration("access_token_ttl", 24*time.Hour),
			BCryptCost:     src.getInt("bcrypt_cost", 10),
		},
		RateLimit: RateLimitConfig{
			Enabled:         src.getBool("rate_limit_enabled", true),
			RequestsPerMin:  src.getInt("rate_limit_rpm", 100),
			BurstSize:       src.getInt("rate_limit_burst", 10),
			CleanupInterval: src.getDuration("rate_limit_cleanup", 10*time.Minute),
		},
		Logging: LoggingConfig{
			Level:       src.getString("log_level", "info"),
			Development: src.getBool("log_development", environment != "production"),
		},
	}

	if config.Database.Password == "" && config.Database.URL == "" &&
		config.Database.Driver == "postgres" && config.IsProduction() {
		return nil, errors.New("database password is required in production")
	}

	if config.Auth.JWTSecret == defaultJWTSecret && config.IsProduction() {
		return nil, errors.New("JWT secret must be set in production")
	}

	if config.Cache.Driver != "redis" && config.Cache.Driver != "memory" {
		return nil, fmt.Errorf("unknown cache driver %q", config.Cache.Driver)
	}

	if config.Broadcast.Driver != "redis" && config.Broadcast.Driver != "memory" {
		return nil, fmt.Errorf("unknown broadcast driver %q", config.Broadcast.Driver)
	}

	return config, nil
}

func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// DatabaseDSN resolves the DSN handed to the connection pool.
func (c *Config) DatabaseDSN() string {
	switch {
	case c.Database.URL != "":
		return c.Database.URL
	case c.Database.Driver == "sqlite":
		return c.Database.Path
	default:
		return c.GetDatabaseDSN()
	}
}

func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// NeedsRedis reports whether any configured component talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.Cache.Driver == "redis" || c.Broadcast.Driver == "redis"
}

type source struct {
	v *viper.Viper
}

func newSource() (*source, error) {
	v := viper.New()
	v.AutomaticEnv()

	if err := v.BindEnv("config_file", "CONFIG_FILE"); err != nil {
		return nil, err
	}
	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	return &source{v: v}, nil
}

func (s *source) raw(key string) (string, bool) {
	if !s.v.IsSet(key) {
		return "", false
	}
	value := strings.TrimSpace(s.v.GetString(key))
	return value, value != ""
}

func (s *source) getString(key, defaultValue string) string {
	if value, ok := s.raw(key); ok {
		return value
	}
	return defaultValue
}

func (s *source) getInt(key string, defaultValue int) int {
	if value, ok := s.raw(key); ok {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func (s *source) getBool(key string, defaultValue bool) bool {
	if value, ok := s.raw(key); ok {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func (s *source) getDuration(key string, defaultValue time.Duration) time.Duration {
	if value, ok := s.raw(key); ok {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func (s *source) getList(key string, defaultValue []string) []string {
	if !s.v.IsSet(key) {
		return defaultValue
	}
	var parts []string
	if _, isList := s.v.Get(key).([]interface{}); isList {
		parts = s.v.GetStringSlice(key)
	} else {
		parts = strings.Split(s.v.GetString(key), ",")
	}
	var out []string
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

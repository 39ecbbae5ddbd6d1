package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Solver names accepted by ASSIGNMENT_SOLVER.
const (
	SolverGreedy  = "greedy"
	SolverCommand = "command"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Selection  SelectionConfig
	Realtime   RealtimeConfig
	Assignment AssignmentConfig
	RateLimit  RateLimitConfig
	Metrics    MetricsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	CacheTTL time.Duration
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SelectionConfig bounds preference ranks and transaction retries.
type SelectionConfig struct {
	MaxRank   int
	TxRetries int
}

// RealtimeConfig governs the websocket channel and the broadcast dispatcher.
type RealtimeConfig struct {
	Enabled         bool
	RelayEnabled    bool
	RelayChannel    string
	SendBuffer      int
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	DispatchWorkers int
	DispatchRetries int
}

// AssignmentConfig selects the optimization backend.
type AssignmentConfig struct {
	Solver  string
	Command string
	Args    []string
	Timeout time.Duration
	Seed    int64
}

// RateLimitConfig caps request volume per client IP and route.
type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		CacheTTL: parseDuration(v.GetString("REDIS_CACHE_TTL"), 30*time.Second),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Selection = SelectionConfig{
		MaxRank:   positiveOr(v.GetInt("SELECTION_MAX_RANK"), 3),
		TxRetries: positiveOr(v.GetInt("SELECTION_TX_RETRIES"), 3),
	}

	cfg.Realtime = RealtimeConfig{
		Enabled:         v.GetBool("ENABLE_REALTIME"),
		RelayEnabled:    v.GetBool("REALTIME_RELAY_ENABLED"),
		RelayChannel:    v.GetString("REALTIME_RELAY_CHANNEL"),
		SendBuffer:      positiveOr(v.GetInt("REALTIME_SEND_BUFFER"), 32),
		WriteTimeout:    parseDuration(v.GetString("REALTIME_WRITE_TIMEOUT"), 10*time.Second),
		PingInterval:    parseDuration(v.GetString("REALTIME_PING_INTERVAL"), 30*time.Second),
		DispatchWorkers: positiveOr(v.GetInt("REALTIME_DISPATCH_WORKERS"), 2),
		DispatchRetries: positiveOr(v.GetInt("REALTIME_DISPATCH_RETRIES"), 3),
	}

	cfg.Assignment = AssignmentConfig{
		Solver:  strings.ToLower(v.GetString("ASSIGNMENT_SOLVER")),
		Command: v.GetString("ASSIGNMENT_COMMAND"),
		Args:    strings.Fields(v.GetString("ASSIGNMENT_ARGS")),
		Timeout: parseDuration(v.GetString("ASSIGNMENT_TIMEOUT"), 2*time.Minute),
		Seed:    v.GetInt64("ASSIGNMENT_SEED"),
	}

	cfg.RateLimit = RateLimitConfig{
		Enabled:  v.GetBool("ENABLE_RATE_LIMIT"),
		Requests: positiveOr(v.GetInt("RATE_LIMIT_REQUESTS"), 100),
		Window:   parseDuration(v.GetString("RATE_LIMIT_WINDOW"), 15*time.Minute),
	}

	cfg.Metrics = MetricsConfig{Enabled: v.GetBool("ENABLE_METRICS")}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "course_selection")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("ENABLE_REDIS", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_CACHE_TTL", "30s")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SELECTION_MAX_RANK", 3)
	v.SetDefault("SELECTION_TX_RETRIES", 3)

	v.SetDefault("ENABLE_REALTIME", true)
	v.SetDefault("REALTIME_RELAY_ENABLED", false)
	v.SetDefault("REALTIME_RELAY_CHANNEL", "course-select:events")
	v.SetDefault("REALTIME_SEND_BUFFER", 32)
	v.SetDefault("REALTIME_WRITE_TIMEOUT", "10s")
	v.SetDefault("REALTIME_PING_INTERVAL", "30s")
	v.SetDefault("REALTIME_DISPATCH_WORKERS", 2)
	v.SetDefault("REALTIME_DISPATCH_RETRIES", 3)

	v.SetDefault("ASSIGNMENT_SOLVER", SolverGreedy)
	v.SetDefault("ASSIGNMENT_COMMAND", "")
	v.SetDefault("ASSIGNMENT_ARGS", "")
	v.SetDefault("ASSIGNMENT_TIMEOUT", "2m")
	v.SetDefault("ASSIGNMENT_SEED", 0)

	v.SetDefault("ENABLE_RATE_LIMIT", false)
	v.SetDefault("RATE_LIMIT_REQUESTS", 100)
	v.SetDefault("RATE_LIMIT_WINDOW", "15m")

	v.SetDefault("ENABLE_METRICS", true)
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

package config

import (
	"log"
	"os"
	"time"

	"AlertaPiura/pkg/logger"
	"AlertaPiura/pkg/util"
)

// Config is read once at startup and passed down explicitly.
type Config struct {
	DBDriver   string `env:"DB_DRIVER"`
	DSN        string `env:"DSN"`
	DBDebug    bool   `env:"DB_DEBUG"`
	Log        logger.LogConfig
	Addr       string `env:"ADDR"`
	Mode       string `env:"MODE"`
	APIPrefix  string `env:"API_PREFIX"`
	CORSOrigin string `env:"CORS_ORIGIN"`
	JWTSecret  string `env:"JWT_SECRET"`
	Language   string `env:"LANGUAGE_DEFAULT"`
	NodeID     string `env:"NODE_ID"`

	SMS SMSConfig
	SOS SOSConfig

	Redis RedisConfig
	Push  PushConfig
	Cache CacheConfig

	RateLimit RateLimitConfig

	IdempotencyTTL  time.Duration
	ShutdownTimeout time.Duration
}

type RateLimitConfig struct {
	Rate      string   `env:"RATE_LIMIT"`
	Location  string   `env:"RATE_LIMIT_LOCATION"` // location fixes arrive faster than other calls
	Whitelist []string `env:"RATE_LIMIT_WHITELIST"`
	Blacklist []string `env:"RATE_LIMIT_BLACKLIST"`
}

type SMSConfig struct {
	Provider string        `env:"SMS_PROVIDER"` // simulated | http
	URL      string        `env:"SMS_URL"`
	APIKey   string        `env:"SMS_API_KEY"`
	Timeout  time.Duration `env:"SMS_TIMEOUT"`
}

type SOSConfig struct {
	DefaultDuration int64  `env:"SOS_DEFAULT_DURATION"` // seconds
	OverdueSweep    string `env:"SOS_OVERDUE_SWEEP"`    // cron spec, empty disables
	DispatchLanes   int    `env:"SOS_DISPATCH_LANES"`
	LaneBuffer      int    `env:"SOS_LANE_BUFFER"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB"`
}

type CacheConfig struct {
	Type string        `env:"CACHE_TYPE"` // local | gocache | redis
	TTL  time.Duration `env:"CACHE_TTL"`
}

type PushConfig struct {
	VAPIDPublicKey  string `env:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `env:"VAPID_PRIVATE_KEY"`
	Subscriber      string `env:"VAPID_SUBSCRIBER"`
}

// Enabled reports whether both VAPID keys are configured.
func (p PushConfig) Enabled() bool {
	return p.VAPIDPublicKey != "" && p.VAPIDPrivateKey != ""
}

func Load() (*Config, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	if err := util.LoadEnv(env); err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	cfg := &Config{
		DBDriver:   util.GetEnvOrDefault("DB_DRIVER", "sqlite"),
		DSN:        util.GetEnvOrDefault("DSN", "alertapiura.db"),
		DBDebug:    util.GetBoolEnv("DB_DEBUG"),
		Addr:       util.GetEnvOrDefault("ADDR", ":3000"),
		Mode:       util.GetEnvOrDefault("MODE", env),
		APIPrefix:  util.GetEnvOrDefault("API_PREFIX", "/api"),
		CORSOrigin: util.GetEnv("CORS_ORIGIN"),
		JWTSecret:  util.GetEnv("JWT_SECRET"),
		Language:   util.GetEnvOrDefault("LANGUAGE_DEFAULT", "es"),
		NodeID:     util.GetEnv("NODE_ID"),
		Log: logger.LogConfig{
			Level:      util.GetEnvOrDefault("LOG_LEVEL", "info"),
			Filename:   util.GetEnv("LOG_FILENAME"),
			MaxSize:    int(util.GetIntEnv("LOG_MAX_SIZE")),
			MaxAge:     int(util.GetIntEnv("LOG_MAX_AGE")),
			MaxBackups: int(util.GetIntEnv("LOG_MAX_BACKUPS")),
		},
		SMS: SMSConfig{
			Provider: util.GetEnvOrDefault("SMS_PROVIDER", "simulated"),
			URL:      util.GetEnv("SMS_URL"),
			APIKey:   util.GetEnv("SMS_API_KEY"),
			Timeout:  util.GetDurationEnv("SMS_TIMEOUT", 5*time.Second),
		},
		SOS: SOSConfig{
			DefaultDuration: util.GetIntEnv("SOS_DEFAULT_DURATION"),
			OverdueSweep:    util.GetEnv("SOS_OVERDUE_SWEEP"),
			DispatchLanes:   int(util.GetIntEnv("SOS_DISPATCH_LANES")),
			LaneBuffer:      int(util.GetIntEnv("SOS_LANE_BUFFER")),
		},
		Redis: RedisConfig{
			Addr:     util.GetEnv("REDIS_ADDR"),
			Password: util.GetEnv("REDIS_PASSWORD"),
			DB:       int(util.GetIntEnv("REDIS_DB")),
		},
		Push: PushConfig{
			VAPIDPublicKey:  util.GetEnv("VAPID_PUBLIC_KEY"),
			VAPIDPrivateKey: util.GetEnv("VAPID_PRIVATE_KEY"),
			Subscriber:      util.GetEnvOrDefault("VAPID_SUBSCRIBER", "mailto:soporte@alertapiura.pe"),
		},
		Cache: CacheConfig{
			Type: util.GetEnvOrDefault("CACHE_TYPE", "local"),
			TTL:  util.GetDurationEnv("CACHE_TTL", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Rate:      util.GetEnvOrDefault("RATE_LIMIT", "60-M"),
			Location:  util.GetEnvOrDefault("RATE_LIMIT_LOCATION", "120-M"),
			Whitelist: util.GetListEnv("RATE_LIMIT_WHITELIST"),
			Blacklist: util.GetListEnv("RATE_LIMIT_BLACKLIST"),
		},
		IdempotencyTTL:  util.GetDurationEnv("IDEMPOTENCY_TTL", 10*time.Minute),
		ShutdownTimeout: util.GetDurationEnv("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if cfg.SOS.DefaultDuration <= 0 {
		cfg.SOS.DefaultDuration = 600
	}
	if cfg.SOS.DispatchLanes <= 0 {
		cfg.SOS.DispatchLanes = 16
	}
	if cfg.SOS.LaneBuffer <= 0 {
		cfg.SOS.LaneBuffer = 256
	}
	return cfg, nil
}

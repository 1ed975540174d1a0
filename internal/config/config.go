package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig captures all tunable parameters for the API and consumer
// processes. Defaults come first, then an optional file named by CONFIG_FILE,
// then environment variables.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers    []string
	KafkaMatchTopic string
	KafkaGroup      string

	PGDSN string

	MatchRadiusKm  float64
	MatchLockTTL   time.Duration
	MatchWorkers   int
	MatchQueueSize int

	DefaultSpeedMps float64
	OSRMEndpoint    string
	ETACacheTTL     time.Duration
	WebhookURL      string

	MetricsAddr     string
	ConsumerRetries int

	LogLevel      string
	RunMigrations bool
}

// fileConfig mirrors ServerConfig for viper. Zero values mean "not set".
type fileConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisGeoKey     string        `mapstructure:"redis_geo_key"`
	KafkaBrokers    []string      `mapstructure:"kafka_brokers"`
	KafkaMatchTopic string        `mapstructure:"kafka_match_topic"`
	KafkaGroup      string        `mapstructure:"kafka_group"`
	PGDSN           string        `mapstructure:"pg_dsn"`
	MatchRadiusKm   float64       `mapstructure:"match_radius_km"`
	MatchLockTTL    time.Duration `mapstructure:"match_lock_ttl"`
	MatchWorkers    int           `mapstructure:"match_workers"`
	DefaultSpeedMps float64       `mapstructure:"default_speed_mps"`
	OSRMEndpoint    string        `mapstructure:"osrm_endpoint"`
	LogLevel        string        `mapstructure:"log_level"`
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "drivers_geo",
		KafkaMatchTopic: "driver-matching",
		KafkaGroup:      "ride-dispatch-matcher",
		MatchRadiusKm:   5,
		MatchLockTTL:    5 * time.Second,
		MatchWorkers:    4,
		MatchQueueSize:  256,
		DefaultSpeedMps: 10,
		ETACacheTTL:     time.Minute,
		MetricsAddr:     ":2112",
		ConsumerRetries: 3,
		LogLevel:        "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			errs = append(errs, err)
		}
	}

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaMatchTopic, "KAFKA_MATCH_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	setStringFromEnv(&cfg.PGDSN, "PG_DSN")

	setFloatFromEnv(&cfg.MatchRadiusKm, "MATCH_RADIUS_KM", &errs)
	setDurationFromEnv(&cfg.MatchLockTTL, "MATCH_LOCK_TTL", &errs)
	setIntFromEnv(&cfg.MatchWorkers, "MATCH_WORKERS", &errs)
	setIntFromEnv(&cfg.MatchQueueSize, "MATCH_QUEUE_SIZE", &errs)

	setFloatFromEnv(&cfg.DefaultSpeedMps, "DEFAULT_SPEED_MPS", &errs)
	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setDurationFromEnv(&cfg.ETACacheTTL, "ETA_CACHE_TTL", &errs)
	setStringFromEnv(&cfg.WebhookURL, "DISPATCH_WEBHOOK_URL")

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	setIntFromEnv(&cfg.ConsumerRetries, "CONSUMER_RETRIES", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.MatchRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_RADIUS_KM must be > 0"))
	}
	if cfg.MatchLockTTL <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_LOCK_TTL must be > 0"))
	}
	if cfg.MatchWorkers <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_WORKERS must be > 0"))
	}
	if cfg.MatchQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_QUEUE_SIZE must be > 0"))
	}
	if cfg.ConsumerRetries <= 0 {
		errs = append(errs, fmt.Errorf("CONSUMER_RETRIES must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func applyFile(cfg *ServerConfig, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read CONFIG_FILE %s: %w", path, err)
	}
	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return fmt.Errorf("decode CONFIG_FILE %s: %w", path, err)
	}

	setIfNonEmpty(&cfg.HTTPAddr, fc.HTTPAddr)
	setIfNonEmpty(&cfg.RedisAddr, fc.RedisAddr)
	setIfNonEmpty(&cfg.RedisGeoKey, fc.RedisGeoKey)
	if len(fc.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = fc.KafkaBrokers
	}
	setIfNonEmpty(&cfg.KafkaMatchTopic, fc.KafkaMatchTopic)
	setIfNonEmpty(&cfg.KafkaGroup, fc.KafkaGroup)
	setIfNonEmpty(&cfg.PGDSN, fc.PGDSN)
	if fc.MatchRadiusKm != 0 {
		cfg.MatchRadiusKm = fc.MatchRadiusKm
	}
	if fc.MatchLockTTL != 0 {
		cfg.MatchLockTTL = fc.MatchLockTTL
	}
	if fc.MatchWorkers != 0 {
		cfg.MatchWorkers = fc.MatchWorkers
	}
	if fc.DefaultSpeedMps != 0 {
		cfg.DefaultSpeedMps = fc.DefaultSpeedMps
	}
	setIfNonEmpty(&cfg.OSRMEndpoint, fc.OSRMEndpoint)
	setIfNonEmpty(&cfg.LogLevel, strings.ToLower(fc.LogLevel))
	return nil
}

func setIfNonEmpty(target *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*target = v
	}
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

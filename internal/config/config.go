package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is read once at startup from the environment.
type Config struct {
	DBDriver        string        `validate:"oneof=postgres sqlite"`
	DatabaseURL     string        `validate:"required"`
	MaxOpenConns    int           `validate:"gte=0"`
	MaxIdleConns    int           `validate:"gte=0"`
	ConnMaxLifetime time.Duration `validate:"gte=0"`
	AutoMigrate     bool

	ServerAddr   string        `validate:"required"`
	ReadTimeout  time.Duration `validate:"gt=0"`
	WriteTimeout time.Duration `validate:"gt=0"`

	JWTSecret string        `validate:"required,min=16"`
	TokenTTL  time.Duration `validate:"gt=0"`

	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json text"`

	CORSAllowedOrigins []string
	RateLimitRPS       float64 `validate:"gte=0"`
	RateLimitBurst     int     `validate:"gte=0"`

	ServiceName  string `validate:"required"`
	OTLPEndpoint string
}

// Load reads the environment, applies defaults and validates the result.
func Load() (Config, error) {
	var errs []string
	cfg := Config{
		DBDriver:        getenv("DB_DRIVER", "postgres"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		MaxOpenConns:    intEnv("DB_MAX_OPEN_CONNS", 20, &errs),
		MaxIdleConns:    intEnv("DB_MAX_IDLE_CONNS", 10, &errs),
		ConnMaxLifetime: durationEnv("DB_CONN_MAX_LIFETIME", time.Hour, &errs),
		AutoMigrate:     boolEnv("AUTO_MIGRATE", false, &errs),

		ServerAddr:   getenv("SERVER_ADDR", ":8080"),
		ReadTimeout:  durationEnv("SERVER_READ_TIMEOUT", 15*time.Second, &errs),
		WriteTimeout: durationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second, &errs),

		JWTSecret: os.Getenv("JWT_SECRET"),
		TokenTTL:  durationEnv("TOKEN_TTL", 24*time.Hour, &errs),

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getenv("LOG_FORMAT", "json")),

		CORSAllowedOrigins: listEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		RateLimitRPS:       floatEnv("RATE_LIMIT_RPS", 20, &errs),
		RateLimitBurst:     intEnv("RATE_LIMIT_BURST", 40, &errs),

		ServiceName:  getenv("SERVICE_NAME", "library-circulation"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func intEnv(k string, def int, errs *[]string) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", k, err))
		return def
	}
	return n
}

func floatEnv(k string, def float64, errs *[]string) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", k, err))
		return def
	}
	return f
}

func boolEnv(k string, def bool, errs *[]string) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", k, err))
		return def
	}
	return b
}

func durationEnv(k string, def time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", k, err))
		return def
	}
	return d
}

func listEnv(k string, def []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

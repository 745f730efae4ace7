package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                string
	DatabaseURL            string
	DatabaseMaxOpenConns   int
	DatabaseMaxIdleConns   int
	DatabaseConnLifetime   time.Duration
	AllowOrigins           []string
	AccessLog              bool
	RedisURL               string
	NATSURL                string
	NATSSubject            string
	JWTSecret              string
	JWTIssuer              string
	JWTLeeway              time.Duration
	SecretKey              string
	PublicURL              string
	OverrideSubmissionHost string
	GradingTimeout         time.Duration
	WaitingTimeout         time.Duration
	RecheckInterval        time.Duration
	GradeCacheTTL          time.Duration
	StorageDriver          string
	StoragePath            string
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ASTRA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Astra API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("http.access_log", false)
	v.SetDefault("nats.subject", "astra")
	v.SetDefault("jwt.leeway", "30s")
	v.SetDefault("grading.public_url", "http://localhost:8080")
	v.SetDefault("grading.timeout", "50s")
	v.SetDefault("grading.waiting_timeout", "30m")
	v.SetDefault("grading.recheck_interval", "5m")
	v.SetDefault("grading.grade_cache_ttl", "5m")
	v.SetDefault("storage.driver", "fs")
	v.SetDefault("storage.path", "./data/submissions")
	v.SetDefault("cloudinary.folder", "astra/submissions")

	durations := map[string]time.Duration{}
	for _, key := range []string{"database.conn_max_lifetime", "grading.timeout", "grading.waiting_timeout", "grading.recheck_interval", "grading.grade_cache_ttl"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseURL:            v.GetString("database.url"),
		DatabaseMaxOpenConns:   v.GetInt("database.max_open_conns"),
		DatabaseMaxIdleConns:   v.GetInt("database.max_idle_conns"),
		DatabaseConnLifetime:   durations["database.conn_max_lifetime"],
		AllowOrigins:           splitList(v.GetString("http.allow_origins")),
		AccessLog:              v.GetBool("http.access_log"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		NATSSubject:            v.GetString("nats.subject"),
		JWTSecret:              v.GetString("jwt.secret"),
		JWTIssuer:              v.GetString("jwt.issuer"),
		JWTLeeway:              v.GetDuration("jwt.leeway"),
		SecretKey:              v.GetString("grading.secret_key"),
		PublicURL:              strings.TrimRight(v.GetString("grading.public_url"), "/"),
		OverrideSubmissionHost: v.GetString("grading.override_submission_host"),
		GradingTimeout:         durations["grading.timeout"],
		WaitingTimeout:         durations["grading.waiting_timeout"],
		RecheckInterval:        durations["grading.recheck_interval"],
		GradeCacheTTL:          durations["grading.grade_cache_ttl"],
		StorageDriver:          strings.ToLower(v.GetString("storage.driver")),
		StoragePath:            v.GetString("storage.path"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.SecretKey == "" {
		return Config{}, fmt.Errorf("grading secret key must be provided")
	}

	if cfg.StorageDriver != "fs" && cfg.StorageDriver != "cloudinary" {
		return Config{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	return cfg, nil
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

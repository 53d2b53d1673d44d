package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"skald/api/model"
)

const (
	BackendNomad          = "nomad"
	BackendCloudFormation = "cloudformation"
)

type Config struct {
	Port        string
	BindAddr    string
	DatabaseURL string // empty keeps history and events in memory
	AppsDir     string // directory containing service checkouts with skald.yaml
	APIToken    string

	LogLevel  string
	LogFormat string

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3Bucket    string
	S3UseSSL    bool

	Backend    string // nomad or cloudformation
	NomadAddr  string
	ConsulAddr string // empty disables the release pointer

	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string

	PollInterval      time.Duration
	StackTimeout      time.Duration
	UploadConcurrency int

	AllowedOrigins string
}

// LoadDotEnv reads a .env file into the environment when present.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        envOr("SKALD_PORT", "8900"),
		BindAddr:    envOr("SKALD_BIND_ADDR", "127.0.0.1"),
		DatabaseURL: os.Getenv("SKALD_DATABASE_URL"),
		AppsDir:     envOr("SKALD_APPS_DIR", os.Getenv("HOME")+"/projects"),
		APIToken:    os.Getenv("SKALD_API_TOKEN"),

		LogLevel:  envOr("SKALD_LOG_LEVEL", "info"),
		LogFormat: envOr("SKALD_LOG_FORMAT", "json"),

		S3Endpoint:  envOr("SKALD_S3_ENDPOINT", "s3.amazonaws.com"),
		S3AccessKey: os.Getenv("SKALD_S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("SKALD_S3_SECRET_KEY"),
		S3Region:    envOr("SKALD_S3_REGION", "us-east-1"),
		S3Bucket:    os.Getenv("SKALD_S3_BUCKET"),
		S3UseSSL:    os.Getenv("SKALD_S3_USE_SSL") != "false",

		Backend:    envOr("SKALD_BACKEND", BackendNomad),
		NomadAddr:  envOr("SKALD_NOMAD_ADDR", "http://localhost:4646"),
		ConsulAddr: os.Getenv("SKALD_CONSUL_ADDR"),

		AWSRegion:          envOr("SKALD_AWS_REGION", os.Getenv("AWS_REGION")),
		AWSAccessKeyID:     os.Getenv("SKALD_AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: os.Getenv("SKALD_AWS_SECRET_ACCESS_KEY"),
		AWSEndpoint:        os.Getenv("SKALD_AWS_ENDPOINT"),

		AllowedOrigins: os.Getenv("SKALD_ALLOWED_ORIGINS"),
	}

	var err error
	if cfg.PollInterval, err = envDuration("SKALD_POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.StackTimeout, err = envDuration("SKALD_STACK_TIMEOUT", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.UploadConcurrency, err = envInt("SKALD_UPLOAD_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendNomad, BackendCloudFormation:
	default:
		return &model.ValidationError{Field: "SKALD_BACKEND", Reason: fmt.Sprintf("unknown backend %q", c.Backend)}
	}
	if c.PollInterval <= 0 {
		return &model.ValidationError{Field: "SKALD_POLL_INTERVAL", Reason: "must be positive"}
	}
	if c.UploadConcurrency < 1 {
		return &model.ValidationError{Field: "SKALD_UPLOAD_CONCURRENCY", Reason: "must be at least 1"}
	}
	return nil
}

// Origins splits AllowedOrigins on commas.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, &model.ValidationError{Field: key, Reason: err.Error()}
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &model.ValidationError{Field: key, Reason: err.Error()}
	}
	return n, nil
}

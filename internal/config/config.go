// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFile is read when no config path is given and it exists.
const DefaultFile = "paygrid.yaml"

// Config is the full service configuration.
type Config struct {
	Redis     RedisConfig     `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Blob      BlobConfig      `yaml:"blob"`
	Extract   ExtractConfig   `yaml:"extract"`
	Cache     CacheConfig     `yaml:"cache"`
	Normalize NormalizeConfig `yaml:"normalize"`
	HTTP      HTTPConfig      `yaml:"http"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Janitor   JanitorConfig   `yaml:"janitor"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Districts are registered at startup.
	Districts []string `yaml:"districts" validate:"dive,required"`
}

type RedisConfig struct {
	URL      string `yaml:"url" validate:"required,startswith=redis"`
	Password string `yaml:"password"`
}

type QueueConfig struct {
	Group       string        `yaml:"group"`
	Block       time.Duration `yaml:"block" validate:"gte=0"`
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=1,lte=50"`
	ClaimIdle   time.Duration `yaml:"claim_idle" validate:"gte=0"`
	Concurrency int           `yaml:"concurrency" validate:"gte=1,lte=64"`
}

type JobsConfig struct {
	Retention     time.Duration `yaml:"retention" validate:"gt=0"`
	PreviewLimit  int           `yaml:"preview_limit" validate:"gte=1,lte=1000"`
	ApplyGuardTTL time.Duration `yaml:"apply_guard_ttl" validate:"gte=0"`
}

type BlobConfig struct {
	Driver   string `yaml:"driver" validate:"oneof=fs s3"`
	Dir      string `yaml:"dir" validate:"required_if=Driver fs"`
	Bucket   string `yaml:"bucket" validate:"required_if=Driver s3"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
}

type ExtractConfig struct {
	Pdftotext    string        `yaml:"pdftotext"`
	OCR          bool          `yaml:"ocr"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gte=0"`
	MaxWait      time.Duration `yaml:"max_wait" validate:"gte=0"`
}

type CacheConfig struct {
	TTL  time.Duration `yaml:"ttl" validate:"gte=0"`
	Size int           `yaml:"size" validate:"gte=0"`
}

type NormalizeConfig struct {
	RunningTTL time.Duration `yaml:"running_ttl" validate:"gt=0"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

type LedgerConfig struct {
	Path string `yaml:"path" validate:"required"`
	// Stream receives ledger entries; empty disables publishing.
	Stream       string        `yaml:"stream"`
	SyncInterval time.Duration `yaml:"sync_interval" validate:"gte=0"`
}

type JanitorConfig struct {
	Schedule string        `yaml:"schedule" validate:"required"`
	Grace    time.Duration `yaml:"grace" validate:"gte=0"`
}

type TelemetryConfig struct {
	Exporter string `yaml:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Redis: RedisConfig{URL: "redis://localhost:6379"},
		Queue: QueueConfig{
			Block:       5 * time.Second,
			MaxAttempts: 3,
			ClaimIdle:   5 * time.Minute,
			Concurrency: 2,
		},
		Jobs: JobsConfig{
			Retention:     24 * time.Hour,
			PreviewLimit:  20,
			ApplyGuardTTL: 5 * time.Minute,
		},
		Blob:      BlobConfig{Driver: "fs", Dir: "data/blobs"},
		Extract:   ExtractConfig{Pdftotext: "pdftotext", PollInterval: 5 * time.Second, MaxWait: 5 * time.Minute},
		Cache:     CacheConfig{TTL: 30 * time.Second, Size: 1000},
		Normalize: NormalizeConfig{RunningTTL: 2 * time.Hour},
		HTTP:      HTTPConfig{Addr: ":8080"},
		Ledger:    LedgerConfig{Path: "data/ledger.db", Stream: "activity:v1", SyncInterval: 30 * time.Second},
		Janitor:   JanitorConfig{Schedule: "@every 15m", Grace: 10 * time.Minute},
		Telemetry: TelemetryConfig{Exporter: "none"},
	}
}

// Load builds the configuration: .env (if present) into the environment,
// then defaults, then the YAML file, then environment overrides. An empty
// path falls back to DefaultFile when it exists.
func Load(path string) (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("could not read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("could not parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("REDIS_URL", &c.Redis.URL)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("PAYGRID_HTTP_ADDR", &c.HTTP.Addr)
	str("PAYGRID_BLOB_DRIVER", &c.Blob.Driver)
	str("PAYGRID_BLOB_DIR", &c.Blob.Dir)
	str("PAYGRID_S3_BUCKET", &c.Blob.Bucket)
	str("PAYGRID_S3_REGION", &c.Blob.Region)
	str("PAYGRID_S3_ENDPOINT", &c.Blob.Endpoint)
	str("PAYGRID_PDFTOTEXT", &c.Extract.Pdftotext)
	str("PAYGRID_LEDGER_PATH", &c.Ledger.Path)
	str("PAYGRID_TELEMETRY", &c.Telemetry.Exporter)
	str("PAYGRID_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	str("PAYGRID_JANITOR_SCHEDULE", &c.Janitor.Schedule)

	if v := os.Getenv("PAYGRID_OCR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PAYGRID_OCR: %w", err)
		}
		c.Extract.OCR = b
	}
	if v := os.Getenv("PAYGRID_QUEUE_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PAYGRID_QUEUE_MAX_ATTEMPTS: %w", err)
		}
		c.Queue.MaxAttempts = n
	}
	if v := os.Getenv("PAYGRID_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PAYGRID_CACHE_TTL: %w", err)
		}
		c.Cache.TTL = d
	}
	if v := os.Getenv("PAYGRID_DISTRICTS"); v != "" {
		c.Districts = nil
		for _, d := range strings.Split(v, ",") {
			if d = strings.TrimSpace(d); d != "" {
				c.Districts = append(c.Districts, d)
			}
		}
	}
	return nil
}

var validate = validator.New()

// Validate checks the struct tags and reports every failing field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

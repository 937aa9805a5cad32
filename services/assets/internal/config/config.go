package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	platformconfig "github.com/example/scout-platform/internal/platform/config"
)

// Object store backends selectable with OBJECT_STORE.
const (
	StoreS3     = "s3"
	StoreGCS    = "gcs"
	StoreLocal  = "local"
	StoreMemory = "memory"
)

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type GCSConfig struct {
	Bucket        string
	PublicBaseURL string
	EmulatorHost  string
}

type LocalConfig struct {
	Root    string
	BaseURL string
}

// BreakerConfig tunes the circuit breaker around binary uploads.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

type Limits struct {
	MaxVideoBytes     int64
	MaxVideoSeconds   int
	MaxThumbnailBytes int64
}

type Config struct {
	DatabaseURL string
	ObjectStore string
	S3          S3Config
	GCS         GCSConfig
	Local       LocalConfig
	// SigningSecret signs local download URLs.
	SigningSecret  string
	DownloadURLTTL time.Duration

	NATSURL        string
	RedisDSN       string
	JWTSecret      string
	IdempotencyTTL time.Duration

	Limits  Limits
	Breaker BreakerConfig
}

func Load() Config {
	env := platformconfig.EnvString
	return Config{
		DatabaseURL: env("DATABASE_URL", ""),
		ObjectStore: strings.ToLower(env("OBJECT_STORE", StoreLocal)),
		S3: S3Config{
			Bucket:    env("S3_BUCKET", ""),
			Region:    env("S3_REGION", "us-east-1"),
			Endpoint:  env("S3_ENDPOINT", ""),
			AccessKey: env("S3_ACCESS_KEY", ""),
			SecretKey: env("S3_SECRET_KEY", ""),
		},
		GCS: GCSConfig{
			Bucket:        env("GCS_BUCKET", ""),
			PublicBaseURL: env("GCS_PUBLIC_BASE_URL", ""),
			EmulatorHost:  env("GCS_EMULATOR_HOST", ""),
		},
		Local: LocalConfig{
			Root:    env("LOCAL_STORE_ROOT", "./data/objects"),
			BaseURL: env("LOCAL_STORE_BASE_URL", "http://localhost:8080/objects"),
		},
		SigningSecret:  env("SIGNING_SECRET", ""),
		DownloadURLTTL: platformconfig.EnvDuration("DOWNLOAD_URL_TTL", 15*time.Minute),

		NATSURL:        env("NATS_URL", "nats://nats:4222"),
		RedisDSN:       env("REDIS_DSN", ""),
		JWTSecret:      env("JWT_SECRET", ""),
		IdempotencyTTL: platformconfig.EnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		Limits: Limits{
			MaxVideoBytes:     platformconfig.EnvInt64("MAX_VIDEO_BYTES", 500<<20),
			MaxVideoSeconds:   platformconfig.EnvInt("MAX_VIDEO_SECONDS", 15*60),
			MaxThumbnailBytes: platformconfig.EnvInt64("MAX_THUMBNAIL_BYTES", 5<<20),
		},
		Breaker: BreakerConfig{
			MaxRequests:      uint32(platformconfig.EnvInt("CB_MAX_REQUESTS", 1)),
			Interval:         platformconfig.EnvDuration("CB_INTERVAL", time.Minute),
			Timeout:          platformconfig.EnvDuration("CB_TIMEOUT", 30*time.Second),
			FailureThreshold: uint32(platformconfig.EnvInt("CB_FAILURE_THRESHOLD", 5)),
		},
	}
}

// Validate rejects combinations the service cannot start with.
func (c Config) Validate(isProd bool) error {
	var errs []error
	switch c.ObjectStore {
	case StoreS3:
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("OBJECT_STORE=s3 requires S3_BUCKET"))
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			errs = append(errs, errors.New("S3_ACCESS_KEY and S3_SECRET_KEY must be set together"))
		}
	case StoreGCS:
		if c.GCS.Bucket == "" {
			errs = append(errs, errors.New("OBJECT_STORE=gcs requires GCS_BUCKET"))
		}
	case StoreLocal:
		if c.SigningSecret == "" {
			errs = append(errs, errors.New("OBJECT_STORE=local requires SIGNING_SECRET"))
		}
	case StoreMemory:
		if isProd {
			errs = append(errs, errors.New("OBJECT_STORE=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown OBJECT_STORE %q", c.ObjectStore))
	}
	if isProd {
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required in production"))
		}
		if c.ObjectStore == StoreLocal {
			errs = append(errs, errors.New("OBJECT_STORE=local is not allowed in production"))
		}
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Limits.MaxVideoBytes <= 0 || c.Limits.MaxThumbnailBytes <= 0 {
		errs = append(errs, errors.New("upload size limits must be positive"))
	}
	return errors.Join(errs...)
}

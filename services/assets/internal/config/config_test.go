package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"OBJECT_STORE", "DOWNLOAD_URL_TTL", "MAX_VIDEO_BYTES", "CB_FAILURE_THRESHOLD", "S3_REGION"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	if cfg.ObjectStore != StoreLocal {
		t.Fatalf("expected local store by default, got %q", cfg.ObjectStore)
	}
	if cfg.DownloadURLTTL != 15*time.Minute {
		t.Fatalf("expected 15m TTL, got %v", cfg.DownloadURLTTL)
	}
	if cfg.Limits.MaxVideoBytes != 500<<20 {
		t.Fatalf("unexpected video limit %d", cfg.Limits.MaxVideoBytes)
	}
	if cfg.Breaker.FailureThreshold != 5 || cfg.S3.Region != "us-east-1" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("OBJECT_STORE", "S3")
	t.Setenv("S3_BUCKET", "drills")
	t.Setenv("MAX_VIDEO_SECONDS", "120")
	t.Setenv("CB_TIMEOUT", "5s")
	cfg := Load()
	if cfg.ObjectStore != StoreS3 || cfg.S3.Bucket != "drills" {
		t.Fatalf("unexpected store config %+v", cfg)
	}
	if cfg.Limits.MaxVideoSeconds != 120 || cfg.Breaker.Timeout != 5*time.Second {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
}

func valid() Config {
	return Config{
		ObjectStore:   StoreLocal,
		SigningSecret: "s",
		JWTSecret:     "j",
		Limits:        Limits{MaxVideoBytes: 1, MaxThumbnailBytes: 1},
	}
}

func TestValidate(t *testing.T) {
	if err := valid().Validate(false); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := map[string]struct {
		mutate func(*Config)
		prod   bool
		want   string
	}{
		"s3 without bucket":   {func(c *Config) { c.ObjectStore = StoreS3 }, false, "S3_BUCKET"},
		"half s3 credentials": {func(c *Config) { c.ObjectStore, c.S3.Bucket, c.S3.AccessKey = StoreS3, "b", "k" }, false, "together"},
		"gcs without bucket":  {func(c *Config) { c.ObjectStore = StoreGCS }, false, "GCS_BUCKET"},
		"local without secret": {func(c *Config) { c.SigningSecret = "" }, false, "SIGNING_SECRET"},
		"memory in prod":      {func(c *Config) { c.ObjectStore, c.DatabaseURL = StoreMemory, "postgres://x" }, true, "memory"},
		"no database in prod": {func(c *Config) { c.ObjectStore, c.GCS.Bucket = StoreGCS, "b" }, true, "DATABASE_URL"},
		"unknown store":       {func(c *Config) { c.ObjectStore = "ftp" }, false, "unknown"},
		"no jwt secret":       {func(c *Config) { c.JWTSecret = "" }, false, "JWT_SECRET"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			tc.mutate(&c)
			err := c.Validate(tc.prod)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

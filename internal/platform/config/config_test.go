package config

import (
	"testing"
	"time"
)

func TestLoad_RequiresServiceName(t *testing.T) {
	t.Setenv("SERVICE_NAME", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when SERVICE_NAME is missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SERVICE_NAME", "assets")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("GRPC_ADDR", "")
	t.Setenv("APP_ENV", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("expected :8080, got %q", cfg.HTTP.Addr)
	}
	if cfg.GRPC.Addr != ":9090" {
		t.Fatalf("expected :9090, got %q", cfg.GRPC.Addr)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected info, got %q", cfg.LogLevel)
	}
	if cfg.IsProd() {
		t.Fatal("expected development env by default")
	}
}

func TestIsProd(t *testing.T) {
	for _, env := range []string{"prod", "Production"} {
		if !(AppConfig{Env: env}).IsProd() {
			t.Fatalf("expected %q to be production", env)
		}
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("CONFIG_TEST_INT", "7")
	if v := EnvInt("CONFIG_TEST_INT", 42); v != 7 {
		t.Fatalf("expected 7, got %d", v)
	}
	t.Setenv("CONFIG_TEST_INT", "-3")
	if v := EnvInt("CONFIG_TEST_INT", 42); v != 42 {
		t.Fatalf("expected fallback for negative value, got %d", v)
	}
	if v := EnvInt("CONFIG_TEST_NONEXISTENT", 42); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvInt64(t *testing.T) {
	t.Setenv("CONFIG_TEST_INT64", "5368709120")
	if v := EnvInt64("CONFIG_TEST_INT64", 1); v != 5368709120 {
		t.Fatalf("expected 5368709120, got %d", v)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("CONFIG_TEST_DUR", "3s")
	if v := EnvDuration("CONFIG_TEST_DUR", 5*time.Second); v != 3*time.Second {
		t.Fatalf("expected 3s, got %s", v)
	}
	t.Setenv("CONFIG_TEST_DUR", "garbage")
	if v := EnvDuration("CONFIG_TEST_DUR", 5*time.Second); v != 5*time.Second {
		t.Fatalf("expected fallback 5s, got %s", v)
	}
}

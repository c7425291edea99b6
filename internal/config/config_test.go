package config

import (
	"strings"
	"testing"
	"time"
)

func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "callsight")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("DB_NAME", "callsight")
	t.Setenv("DB_SSLMODE", "")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "secret")
}

func TestLoadValidLocal(t *testing.T) {
	setValidEnv(t)

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.HTTPAddr() != ":8080" {
		t.Fatalf("unexpected addr: %s", c.HTTPAddr())
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected local sslmode default, got %q", c.DB.SSLMode)
	}
	if c.RedisAddr() != "localhost:6379" {
		t.Fatalf("unexpected redis addr: %s", c.RedisAddr())
	}
}

func TestLoadAppliesPipelineDefaults(t *testing.T) {
	setValidEnv(t)

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Pipeline.RetentionWindow != 15*time.Minute {
		t.Fatalf("retention default: %v", c.Pipeline.RetentionWindow)
	}
	if c.Pipeline.AnalysisConcurrency != 16 || c.Pipeline.HubSendBuffer != 64 {
		t.Fatalf("unexpected pipeline defaults: %+v", c.Pipeline)
	}
	if c.Auth.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("access ttl default: %v", c.Auth.AccessTokenTTL)
	}
}

func TestLoadPipelineOverrides(t *testing.T) {
	setValidEnv(t)
	t.Setenv("CALL_RETENTION_WINDOW", "1h")
	t.Setenv("ANALYSIS_CONCURRENCY", "4")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Pipeline.RetentionWindow != time.Hour || c.Pipeline.AnalysisConcurrency != 4 {
		t.Fatalf("overrides not applied: %+v", c.Pipeline)
	}
}

func TestLoadRejectsMissingRequired(t *testing.T) {
	setValidEnv(t)
	t.Setenv("DB_HOST", "")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "DB_HOST") || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Fatalf("expected aggregated errors, got: %v", err)
	}
}

func TestValidateProductionRequirements(t *testing.T) {
	c := Config{}
	c.App.Env = "production"
	c.App.Port = 8080
	c.DB = DBConfig{Host: "db", Port: 5432, User: "u", Name: "n", SSLMode: "require"}
	c.Redis = RedisConfig{Host: "redis", Port: 6379}
	c.Auth.JWTSecret = "secret"

	err := c.Validate()
	if err == nil {
		t.Fatalf("expected production validation error")
	}
	for _, want := range []string{"JWT_ISSUER", "TWILIO_ACCOUNT_SID", "OPENAI_API_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s requirement, got: %v", want, err)
		}
	}
}

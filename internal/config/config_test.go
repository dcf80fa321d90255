package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paygrid.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, `
redis:
  url: redis://cache:6379/2
queue:
  max_attempts: 5
  claim_idle: 2m
jobs:
  preview_limit: 50
blob:
  driver: s3
  bucket: schedules
  region: us-east-2
districts: [D1, D2]
`)
	t.Setenv("REDIS_PASSWORD", "s3cret")
	t.Setenv("PAYGRID_HTTP_ADDR", ":9090")
	t.Setenv("PAYGRID_OCR", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"redis url", cfg.Redis.URL, "redis://cache:6379/2"},
		{"redis password", cfg.Redis.Password, "s3cret"},
		{"max attempts", cfg.Queue.MaxAttempts, 5},
		{"claim idle", cfg.Queue.ClaimIdle, 2 * time.Minute},
		{"block keeps default", cfg.Queue.Block, 5 * time.Second},
		{"preview limit", cfg.Jobs.PreviewLimit, 50},
		{"retention keeps default", cfg.Jobs.Retention, 24 * time.Hour},
		{"blob driver", cfg.Blob.Driver, "s3"},
		{"http addr", cfg.HTTP.Addr, ":9090"},
		{"ocr", cfg.Extract.OCR, true},
		{"districts", strings.Join(cfg.Districts, ","), "D1,D2"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoadEnvDistricts(t *testing.T) {
	t.Setenv("PAYGRID_DISTRICTS", " D1 , ,D3")
	cfg, err := Load(writeFile(t, "districts: [X]\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if strings.Join(cfg.Districts, ",") != "D1,D3" {
		t.Errorf("Districts = %v", cfg.Districts)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
	}{
		{"s3 without bucket", "blob:\n  driver: s3\n", nil, "Bucket"},
		{"unknown driver", "blob:\n  driver: ftp\n", nil, "Driver"},
		{"zero attempts", "queue:\n  max_attempts: 0\n", nil, "MaxAttempts"},
		{"bad exporter", "telemetry:\n  exporter: jaeger\n", nil, "Exporter"},
		{"bad redis url", "redis:\n  url: localhost:6379\n", nil, "URL"},
		{"bad env bool", "", map[string]string{"PAYGRID_OCR": "maybe"}, "PAYGRID_OCR"},
		{"malformed yaml", "redis: [", nil, "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeFile(t, tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load accepted a missing explicit config file")
	}
}

package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("QUEUE_PRIORITIES", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StoreDriver != StoreDriverPostgres {
		t.Fatalf("StoreDriver = %q", cfg.StoreDriver)
	}
	if cfg.JobMaxRetries != 3 || cfg.RetryBase != 30*time.Second || cfg.RetryCap != 5*time.Minute {
		t.Fatalf("retry defaults mismatch: %d %v %v", cfg.JobMaxRetries, cfg.RetryBase, cfg.RetryCap)
	}
	if cfg.CompletedRetention != 10*time.Minute || cfg.HistoryRetention != 7*24*time.Hour {
		t.Fatalf("retention defaults mismatch: %v %v", cfg.CompletedRetention, cfg.HistoryRetention)
	}
	if cfg.CategoryPriorities["image"] != 1 || cfg.CategoryPriorities["training"] != 3 {
		t.Fatalf("priorities = %#v", cfg.CategoryPriorities)
	}
}

func TestLoadConfigMemoryDriverNeedsNoDatabase(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "test-secret")

	if _, err := LoadConfig(); err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
}

func TestLoadConfigRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing database", map[string]string{"STORE_DRIVER": "postgres", "DATABASE_URL": ""}},
		{"missing secret", map[string]string{"JWT_SECRET": ""}},
		{"unknown driver", map[string]string{"STORE_DRIVER": "mongo"}},
		{"cap below base", map[string]string{"RETRY_BASE_SECONDS": "60", "RETRY_CAP_SECONDS": "30"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("STORE_DRIVER", "memory")
			t.Setenv("JWT_SECRET", "test-secret")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadConfigParsesListsAndPriorities(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, ,http://localhost:3000")
	t.Setenv("QUEUE_PRIORITIES", "video=0, image = 4,broken,training=x")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://localhost:3000" {
		t.Fatalf("CORSOrigins = %#v", cfg.CORSOrigins)
	}
	if len(cfg.CategoryPriorities) != 2 || cfg.CategoryPriorities["video"] != 0 || cfg.CategoryPriorities["image"] != 4 {
		t.Fatalf("priorities = %#v", cfg.CategoryPriorities)
	}
}

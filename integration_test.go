package main

import (
	"testing"

	"taskboard/backend/internal/config"
	"taskboard/backend/internal/database"
)

func TestApplicationStartup(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_SQLITE_PATH", ":memory:")
	t.Setenv("REDIS_ENABLED", "false")

	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	pool, err := database.NewDatabasePool(&database.PoolConfig{
		Driver: cfg.Database.Driver,
		DSN:    cfg.GetDatabaseDSN(),
	})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer pool.Close()

	if err := database.Migrate(pool.DB); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	if err := pool.Health(); err != nil {
		t.Fatalf("Database not healthy: %v", err)
	}
}

func TestProductionRequiresSecrets(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{
			name:    "default JWT secret",
			env:     map[string]string{"DB_PASSWORD": "pw"},
			wantErr: true,
		},
		{
			name:    "missing database password",
			env:     map[string]string{"JWT_SECRET": "s3cret"},
			wantErr: true,
		},
		{
			name:    "sqlite needs no password",
			env:     map[string]string{"JWT_SECRET": "s3cret", "DB_DRIVER": "sqlite"},
			wantErr: false,
		},
		{
			name:    "fully configured",
			env:     map[string]string{"JWT_SECRET": "s3cret", "DB_PASSWORD": "pw"},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENVIRONMENT", "production")
			t.Setenv("JWT_SECRET", "")
			t.Setenv("DB_PASSWORD", "")
			t.Setenv("DB_DRIVER", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := config.LoadConfig()
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRedisRealtimeRequiresRedis(t *testing.T) {
	t.Setenv("REALTIME_BACKEND", "redis")
	t.Setenv("REDIS_ENABLED", "false")

	if _, err := config.LoadConfig(); err == nil {
		t.Error("Expected an error when the redis relay is selected without redis")
	}
}

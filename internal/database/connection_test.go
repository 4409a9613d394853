package database

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hepatica-risk-engine/internal/domain"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("PostgreSQL container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	})

	url, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}
	return url
}

func TestDatabaseConnection(t *testing.T) {
	url := startPostgres(t)
	ctx := context.Background()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := NewConnection(ctx, domain.DatabaseConfig{
		URL:             url,
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}, logger)
	if err != nil {
		t.Fatalf("Failed to create database connection: %v", err)
	}
	defer db.Close()

	if err := db.Health(ctx); err != nil {
		t.Fatalf("Database health check failed: %v", err)
	}
	if err := db.SQL.PingContext(ctx); err != nil {
		t.Fatalf("sql handle ping failed: %v", err)
	}

	stats := db.Stats()
	if stats.TotalConns() == 0 {
		t.Error("Expected at least one connection in pool")
	}
}

func TestMigrationRunner(t *testing.T) {
	url := startPostgres(t)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	runner, err := NewMigrationRunner(url, logger)
	if err != nil {
		t.Fatalf("Failed to create migration runner: %v", err)
	}
	defer runner.Close()

	if err := runner.Up(); err != nil {
		t.Fatalf("Up failed: %v", err)
	}
	// second run is a no-op
	if err := runner.Up(); err != nil {
		t.Fatalf("repeated Up failed: %v", err)
	}

	version, dirty, err := runner.Version()
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("expected clean version 1, got %d dirty=%v", version, dirty)
	}

	if err := runner.Down(); err != nil {
		t.Fatalf("Down failed: %v", err)
	}
}

func TestNewConnectionRequiresURL(t *testing.T) {
	_, err := NewConnection(context.Background(), domain.DatabaseConfig{}, logrus.New())
	if err == nil {
		t.Fatal("expected error for empty url")
	}
}

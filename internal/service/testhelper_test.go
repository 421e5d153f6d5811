package service

import (
	"database/sql"
	"log/slog"
	"os"
	"testing"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/pixelforge-ai/pixelforge-api/internal/database/migrations"
	"github.com/pixelforge-ai/pixelforge-api/internal/repository"
)

// setupTestRepos creates repositories over an in-memory database.
func setupTestRepos(t *testing.T) *repository.Repositories {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}
	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return repository.NewRepositories(db, nil)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupCoinService(t *testing.T) (*CoinService, *repository.Repositories) {
	t.Helper()
	repos := setupTestRepos(t)
	return NewCoinService(repos, testLogger()), repos
}

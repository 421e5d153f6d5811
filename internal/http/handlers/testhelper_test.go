package handlers

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"testing"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/pixelforge-ai/pixelforge-api/internal/database/migrations"
	"github.com/pixelforge-ai/pixelforge-api/internal/http/mw"
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

// asUser attaches verified claims to the request the way the Auth
// middleware would.
func asUser(r *http.Request, userID string) *http.Request {
	ctx := context.WithValue(r.Context(), mw.UserClaimsKey, &mw.UserClaims{UserID: userID})
	return r.WithContext(ctx)
}

package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/pixelforge-ai/pixelforge-api/internal/database/migrations"
	"github.com/pixelforge-ai/pixelforge-api/internal/models"
	"github.com/pixelforge-ai/pixelforge-api/internal/store"
)

// setupTestDB creates an in-memory SQLite database for testing.
// It runs migrations and returns a database connection that will be cleaned up
// when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
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

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) *Repositories {
	t.Helper()
	db := setupTestDB(t)
	return NewRepositories(db, nil)
}

// setupTestReposWithFeed creates repositories publishing to a change feed.
func setupTestReposWithFeed(t *testing.T) (*Repositories, *store.Feed) {
	t.Helper()
	db := setupTestDB(t)
	feed := store.NewFeed(nil)
	t.Cleanup(feed.Close)
	return NewRepositories(db, feed), feed
}

// newTestJob builds a pending image job for tests.
func newTestJob(userID string) *models.Job {
	now := time.Now()
	return &models.Job{
		ID:          ulid.Make().String(),
		UserID:      userID,
		Type:        models.JobTypeImage,
		Status:      models.JobStatusPending,
		Prompt:      "a cat",
		Model:       "openflux1",
		AspectRatio: "1:1",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// newTestDeployment builds a registry row for tests.
func newTestDeployment(number int, active bool) *models.Deployment {
	return &models.Deployment{
		ID:        ulid.Make().String(),
		Number:    number,
		ImageURL:  "https://x--img.modal.run",
		VideoURL:  "https://x--vid.modal.run",
		IsActive:  active,
		CreatedAt: time.Now(),
	}
}

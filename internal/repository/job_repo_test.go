package repository

import (
	"context"
	"testing"
	"time"

	"github.com/pixelforge-ai/pixelforge-api/internal/models"
	"github.com/pixelforge-ai/pixelforge-api/internal/store"
)

func TestJobRepository_CreateAndGet(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	job := newTestJob("user_123")
	job.Metadata = map[string]any{"input_image_url": "https://u/i.jpg"}

	if err := repos.Job.Create(ctx, job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repos.Job.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetByID() returned nil")
	}
	if got.Prompt != job.Prompt {
		t.Errorf("Prompt = %s, want %s", got.Prompt, job.Prompt)
	}
	if got.Status != models.JobStatusPending {
		t.Errorf("Status = %s, want pending", got.Status)
	}
	if got.InputImageURL() != "https://u/i.jpg" {
		t.Errorf("InputImageURL() = %s, want https://u/i.jpg", got.InputImageURL())
	}
}

func TestJobRepository_GetByID_NotFound(t *testing.T) {
	repos := setupTestRepos(t)

	got, err := repos.Job.GetByID(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got != nil {
		t.Error("expected nil for nonexistent job")
	}
}

func TestJobRepository_GetByUserID_StatusFilter(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := repos.Job.Create(ctx, newTestJob("user_123")); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	other := newTestJob("user_456")
	if err := repos.Job.Create(ctx, other); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	jobs, err := repos.Job.GetByUserID(ctx, "user_123", "", 50)
	if err != nil {
		t.Fatalf("GetByUserID() error = %v", err)
	}
	if len(jobs) != 3 {
		t.Errorf("got %d jobs, want 3", len(jobs))
	}

	jobs, err = repos.Job.GetByUserID(ctx, "user_123", models.JobStatusCompleted, 50)
	if err != nil {
		t.Fatalf("GetByUserID() error = %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("got %d completed jobs, want 0", len(jobs))
	}
}

func TestJobRepository_Claim(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	job := newTestJob("user_123")
	if err := repos.Job.Create(ctx, job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	claimed, err := repos.Job.Claim(ctx, job.ID)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if claimed == nil {
		t.Fatal("Claim() returned nil, want job")
	}
	if claimed.Status != models.JobStatusRunning {
		t.Errorf("Status = %s, want running", claimed.Status)
	}
	if claimed.Progress != 10 {
		t.Errorf("Progress = %d, want 10", claimed.Progress)
	}

	// Second claim must lose
	again, err := repos.Job.Claim(ctx, job.ID)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if again != nil {
		t.Error("second Claim() should return nil")
	}
}

func TestJobRepository_ClaimNextPending_Order(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	first := newTestJob("user_123")
	first.CreatedAt = time.Now().Add(-time.Minute)
	first.UpdatedAt = first.CreatedAt
	second := newTestJob("user_123")

	if err := repos.Job.Create(ctx, first); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repos.Job.Create(ctx, second); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	claimed, err := repos.Job.ClaimNextPending(ctx)
	if err != nil {
		t.Fatalf("ClaimNextPending() error = %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Errorf("claimed %+v, want oldest job %s", claimed, first.ID)
	}
}

func TestJobRepository_ClaimNextPending_Empty(t *testing.T) {
	repos := setupTestRepos(t)

	claimed, err := repos.Job.ClaimNextPending(context.Background())
	if err != nil {
		t.Fatalf("ClaimNextPending() error = %v", err)
	}
	if claimed != nil {
		t.Error("expected nil with no pending jobs")
	}
}

func TestJobRepository_CompleteAndRequeue(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	job := newTestJob("user_123")
	if err := repos.Job.Create(ctx, job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := repos.Job.Claim(ctx, job.ID); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	requeued, err := repos.Job.Requeue(ctx, job.ID)
	if err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if !requeued {
		t.Fatal("Requeue() = false, want true")
	}
	got, _ := repos.Job.GetByID(ctx, job.ID)
	if got.Status != models.JobStatusPending || got.Progress != 0 {
		t.Errorf("after requeue: status=%s progress=%d, want pending/0", got.Status, got.Progress)
	}

	if _, err := repos.Job.Claim(ctx, job.ID); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if err := repos.Job.Complete(ctx, job.ID, "https://cdn/ai/job123.png", "https://cdn/ai/job123_thumb.png", ""); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	got, _ = repos.Job.GetByID(ctx, job.ID)
	if got.Status != models.JobStatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}
	if got.ImageURL != "https://cdn/ai/job123.png" {
		t.Errorf("ImageURL = %s", got.ImageURL)
	}
	if got.Progress != 100 {
		t.Errorf("Progress = %d, want 100", got.Progress)
	}

	// Requeue on a completed job is a no-op
	requeued, err = repos.Job.Requeue(ctx, job.ID)
	if err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if requeued {
		t.Error("Requeue() on completed job should return false")
	}
}

func TestJobRepository_Cancel_OnlyPendingAndOwner(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	job := newTestJob("user_123")
	if err := repos.Job.Create(ctx, job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	cancelled, err := repos.Job.Cancel(ctx, job.ID, "user_456")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if cancelled {
		t.Error("Cancel() by non-owner should return false")
	}

	cancelled, err = repos.Job.Cancel(ctx, job.ID, "user_123")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if !cancelled {
		t.Fatal("Cancel() by owner should succeed")
	}

	// Cancelled is terminal; cancelling again fails
	cancelled, _ = repos.Job.Cancel(ctx, job.ID, "user_123")
	if cancelled {
		t.Error("second Cancel() should return false")
	}
}

func TestJobRepository_Stats(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	pending := newTestJob("user_123")
	running := newTestJob("user_123")
	done := newTestJob("user_123")
	for _, j := range []*models.Job{pending, running, done} {
		if err := repos.Job.Create(ctx, j); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	if _, err := repos.Job.Claim(ctx, running.ID); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if _, err := repos.Job.Claim(ctx, done.ID); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if err := repos.Job.Complete(ctx, done.ID, "https://cdn/x.png", "", ""); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	stats, err := repos.Job.Stats(ctx, "user_123")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Running != 1 || stats.Completed != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestJobRepository_LatestInProgress(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	old := newTestJob("user_123")
	old.CreatedAt = time.Now().Add(-time.Hour)
	old.UpdatedAt = old.CreatedAt
	recent := newTestJob("user_123")

	if err := repos.Job.Create(ctx, old); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repos.Job.Create(ctx, recent); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repos.Job.LatestInProgress(ctx, "user_123", models.JobTypeImage)
	if err != nil {
		t.Fatalf("LatestInProgress() error = %v", err)
	}
	if got == nil || got.ID != recent.ID {
		t.Errorf("got %+v, want most recent job", got)
	}

	got, err = repos.Job.LatestInProgress(ctx, "user_123", models.JobTypeVideo)
	if err != nil {
		t.Fatalf("LatestInProgress() error = %v", err)
	}
	if got != nil {
		t.Error("expected nil for video type")
	}
}

func TestJobRepository_RequeueStaleRunning(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	job := newTestJob("user_123")
	if err := repos.Job.Create(ctx, job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := repos.Job.Claim(ctx, job.ID); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	// Fresh running job is not stale
	count, err := repos.Job.RequeueStaleRunning(ctx, time.Hour)
	if err != nil {
		t.Fatalf("RequeueStaleRunning() error = %v", err)
	}
	if count != 0 {
		t.Errorf("requeued %d, want 0", count)
	}

	// With a zero cutoff everything running is stale
	count, err = repos.Job.RequeueStaleRunning(ctx, -time.Minute)
	if err != nil {
		t.Fatalf("RequeueStaleRunning() error = %v", err)
	}
	if count != 1 {
		t.Errorf("requeued %d, want 1", count)
	}
	got, _ := repos.Job.GetByID(ctx, job.ID)
	if got.Status != models.JobStatusPending {
		t.Errorf("Status = %s, want pending", got.Status)
	}
}

func TestJobRepository_PublishesChangeEvents(t *testing.T) {
	repos, feed := setupTestReposWithFeed(t)
	ctx := context.Background()

	ch, cancel := feed.Subscribe(8)
	defer cancel()

	job := newTestJob("user_123")
	if err := repos.Job.Create(ctx, job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := repos.Job.Claim(ctx, job.ID); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	ev := <-ch
	if ev.Event != store.EventInsert || ev.Job.ID != job.ID {
		t.Errorf("first event = %s/%s, want INSERT/%s", ev.Event, ev.Job.ID, job.ID)
	}
	ev = <-ch
	if ev.Event != store.EventUpdate || ev.Job.Status != models.JobStatusRunning {
		t.Errorf("second event = %s/%s, want UPDATE/running", ev.Event, ev.Job.Status)
	}
}

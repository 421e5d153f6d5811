package repository

import (
	"context"
	"testing"

	"github.com/pixelforge-ai/pixelforge-api/internal/models"
)

func TestDeploymentRepository_GetActive(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	if err := repos.Deployment.Create(ctx, newTestDeployment(1, true)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	d, err := repos.Deployment.GetActive(ctx, models.JobTypeImage)
	if err != nil {
		t.Fatalf("GetActive() error = %v", err)
	}
	if d == nil {
		t.Fatal("GetActive() returned nil")
	}
	if d.Number != 1 {
		t.Errorf("Number = %d, want 1", d.Number)
	}
	if d.URLFor(models.JobTypeImage) != "https://x--img.modal.run" {
		t.Errorf("URLFor(image) = %s", d.URLFor(models.JobTypeImage))
	}
}

func TestDeploymentRepository_GetActive_None(t *testing.T) {
	repos := setupTestRepos(t)

	d, err := repos.Deployment.GetActive(context.Background(), models.JobTypeImage)
	if err != nil {
		t.Fatalf("GetActive() error = %v", err)
	}
	if d != nil {
		t.Error("expected nil with no active deployment")
	}
}

func TestDeploymentRepository_GetActive_TieBreakHighestNumber(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	// Invariant violation: two active rows. Highest number wins.
	if err := repos.Deployment.Create(ctx, newTestDeployment(1, true)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repos.Deployment.Create(ctx, newTestDeployment(2, true)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	d, err := repos.Deployment.GetActive(ctx, models.JobTypeVideo)
	if err != nil {
		t.Fatalf("GetActive() error = %v", err)
	}
	if d.Number != 2 {
		t.Errorf("Number = %d, want 2", d.Number)
	}
}

func TestDeploymentRepository_MarkInactive(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	d := newTestDeployment(1, true)
	if err := repos.Deployment.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ok, err := repos.Deployment.MarkInactive(ctx, d.ID, "app for invoked web endpoint is stopped")
	if err != nil {
		t.Fatalf("MarkInactive() error = %v", err)
	}
	if !ok {
		t.Fatal("MarkInactive() = false, want true")
	}

	got, _ := repos.Deployment.GetByID(ctx, d.ID)
	if got.IsActive {
		t.Error("deployment should be inactive")
	}
	if got.DeactivatedAt == nil {
		t.Error("DeactivatedAt should be set")
	}
	if got.Reason == "" {
		t.Error("Reason should be recorded")
	}

	// Guarded by is_active: second flip returns false
	ok, err = repos.Deployment.MarkInactive(ctx, d.ID, "again")
	if err != nil {
		t.Fatalf("MarkInactive() error = %v", err)
	}
	if ok {
		t.Error("second MarkInactive() should return false")
	}
}

func TestDeploymentRepository_PromoteNext(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	d1 := newTestDeployment(1, true)
	d2 := newTestDeployment(2, false)
	d3 := newTestDeployment(3, false)
	for _, d := range []*models.Deployment{d1, d2, d3} {
		if err := repos.Deployment.Create(ctx, d); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	if _, err := repos.Deployment.MarkInactive(ctx, d1.ID, "stopped"); err != nil {
		t.Fatalf("MarkInactive() error = %v", err)
	}

	// Lowest-numbered never-deactivated row is promoted
	promoted, err := repos.Deployment.PromoteNext(ctx, models.JobTypeImage)
	if err != nil {
		t.Fatalf("PromoteNext() error = %v", err)
	}
	if promoted == nil || promoted.Number != 2 {
		t.Fatalf("promoted %+v, want deployment 2", promoted)
	}
	if !promoted.IsActive {
		t.Error("promoted deployment should be active")
	}

	// Deactivated rows are never re-activated
	if _, err := repos.Deployment.MarkInactive(ctx, d2.ID, "stopped"); err != nil {
		t.Fatalf("MarkInactive() error = %v", err)
	}
	promoted, err = repos.Deployment.PromoteNext(ctx, models.JobTypeImage)
	if err != nil {
		t.Fatalf("PromoteNext() error = %v", err)
	}
	if promoted == nil || promoted.Number != 3 {
		t.Fatalf("promoted %+v, want deployment 3", promoted)
	}

	if _, err := repos.Deployment.MarkInactive(ctx, d3.ID, "stopped"); err != nil {
		t.Fatalf("MarkInactive() error = %v", err)
	}
	promoted, err = repos.Deployment.PromoteNext(ctx, models.JobTypeImage)
	if err != nil {
		t.Fatalf("PromoteNext() error = %v", err)
	}
	if promoted != nil {
		t.Errorf("promoted %+v, want nil with pool exhausted", promoted)
	}
}

func TestDeploymentRepository_PromoteNext_SkipsMissingURL(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	imageOnly := newTestDeployment(1, false)
	imageOnly.VideoURL = ""
	full := newTestDeployment(2, false)
	for _, d := range []*models.Deployment{imageOnly, full} {
		if err := repos.Deployment.Create(ctx, d); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	promoted, err := repos.Deployment.PromoteNext(ctx, models.JobTypeVideo)
	if err != nil {
		t.Fatalf("PromoteNext() error = %v", err)
	}
	if promoted == nil || promoted.Number != 2 {
		t.Errorf("promoted %+v, want deployment 2 (has video_url)", promoted)
	}
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"

	"github.com/pixelforge-ai/pixelforge-api/internal/inference"
	"github.com/pixelforge-ai/pixelforge-api/internal/media"
	"github.com/pixelforge-ai/pixelforge-api/internal/models"
	"github.com/pixelforge-ai/pixelforge-api/internal/repository"
	"github.com/pixelforge-ai/pixelforge-api/internal/service"
	"github.com/pixelforge-ai/pixelforge-api/internal/store"
)

// Per-attempt limits. Image generations get three tries because cold starts
// resolve in under a minute; a video attempt is too expensive to repeat.
const (
	imageAttempts = 3
	videoAttempts = 1
	imageTimeout  = 300 * time.Second
	videoTimeout  = 1800 * time.Second

	retryInitialWait = 10 * time.Second
	retryMaxWait     = 30 * time.Second
)

// intakeBuffer bounds the dispatch queue. Overflow is dropped; the backlog
// scan re-enqueues anything still pending.
const intakeBuffer = 64

// generator is the inference client surface the dispatcher uses.
type generator interface {
	Generate(ctx context.Context, endpointURL string, payload any, timeout time.Duration) (*inference.Result, error)
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// uploader is the media store surface the dispatcher uses.
type uploader interface {
	UploadBytes(ctx context.Context, data []byte, name, folder string, metadata map[string]string) (*media.UploadResult, error)
	UploadVideo(ctx context.Context, localPath, folder, jobID string, metadata map[string]string) (*media.UploadResult, error)
}

// Config holds dispatcher configuration.
type Config struct {
	Concurrency    int
	RescueInterval time.Duration
	RescueAfter    time.Duration

	// Retry waits between generation attempts. Zero values take the
	// retryInitialWait and retryMaxWait defaults.
	RetryInitialWait time.Duration
	RetryMaxWait     time.Duration
}

// Dispatcher claims pending jobs and drives them to completion. Jobs reach
// it two ways: the change feed delivers newly inserted or requeued pending
// jobs, and a periodic backlog scan catches anything the feed dropped.
type Dispatcher struct {
	repos     *repository.Repositories
	endpoints *service.EndpointService
	client    generator
	media     uploader
	feed      *store.Feed

	cfg      Config
	intake   chan string
	inflight atomic.Int64
	stop     chan struct{}
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// New creates a dispatcher.
func New(
	repos *repository.Repositories,
	feed *store.Feed,
	endpoints *service.EndpointService,
	client generator,
	uploads uploader,
	cfg Config,
	logger *slog.Logger,
) *Dispatcher {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 3
	}
	if cfg.RescueInterval == 0 {
		cfg.RescueInterval = 10 * time.Minute
	}
	if cfg.RescueAfter == 0 {
		cfg.RescueAfter = 2 * time.Hour
	}
	if cfg.RetryInitialWait == 0 {
		cfg.RetryInitialWait = retryInitialWait
	}
	if cfg.RetryMaxWait == 0 {
		cfg.RetryMaxWait = retryMaxWait
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		repos:     repos,
		endpoints: endpoints,
		client:    client,
		media:     uploads,
		feed:      feed,
		cfg:       cfg,
		intake:    make(chan string, intakeBuffer),
		stop:      make(chan struct{}),
		logger:    logger.With("component", "dispatcher"),
	}
}

// Start begins processing jobs.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("starting", "concurrency", d.cfg.Concurrency)

	d.scanBacklog(ctx)

	events, cancelFeed := d.feed.Subscribe(256)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancelFeed()
		for {
			select {
			case <-d.stop:
				return
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				// Inserts only. Update events include the dispatcher's own
				// requeues; enqueueing those spins the loop when no endpoint
				// is available. Requeued jobs come back via the rescue scan.
				if ev.Event == store.EventInsert && ev.Job != nil && ev.Job.Status == models.JobStatusPending {
					d.enqueue(ev.Job.ID)
				}
			}
		}
	}()

	for i := 0; i < d.cfg.Concurrency; i++ {
		d.wg.Add(1)
		go d.runWorker(ctx, i)
	}

	d.wg.Add(1)
	go d.rescueLoop(ctx)
}

// Stop gracefully stops the dispatcher.
func (d *Dispatcher) Stop() {
	d.logger.Info("stopping")
	close(d.stop)
	d.wg.Wait()
	d.logger.Info("stopped")
}

// Busy reports whether any job is being processed or waiting in the intake
// queue. Idle-shutdown monitoring uses this to avoid stopping mid-job.
func (d *Dispatcher) Busy() bool {
	return d.inflight.Load() > 0 || len(d.intake) > 0
}

// enqueue hands a job id to the workers without blocking.
func (d *Dispatcher) enqueue(jobID string) {
	select {
	case d.intake <- jobID:
	default:
		d.logger.Warn("intake full, job deferred to backlog scan", "job_id", jobID)
	}
}

// scanBacklog queues every pending job, oldest first.
func (d *Dispatcher) scanBacklog(ctx context.Context) {
	jobs, err := d.repos.Job.GetPending(ctx)
	if err != nil {
		d.logger.Error("backlog scan failed", "error", err)
		return
	}
	for _, job := range jobs {
		d.enqueue(job.ID)
	}
	if len(jobs) > 0 {
		d.logger.Info("backlog scanned", "pending", len(jobs))
	}
}

func (d *Dispatcher) runWorker(ctx context.Context, workerID int) {
	defer d.wg.Done()

	for {
		select {
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		case jobID := <-d.intake:
			d.processJob(ctx, workerID, jobID)
		}
	}
}

// rescueLoop periodically requeues running jobs that outlived the rescue
// window and rescans the pending backlog.
func (d *Dispatcher) rescueLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.RescueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.repos.Job.RequeueStaleRunning(ctx, d.cfg.RescueAfter)
			if err != nil {
				d.logger.Error("stale job rescue failed", "error", err)
			} else if n > 0 {
				d.logger.Warn("rescued stale running jobs", "count", n)
			}
			d.scanBacklog(ctx)
		}
	}
}

// processJob drives one job end to end. Transport failures never fail the
// job: it is requeued to pending and the endpoint registry rotates when the
// failure is terminal for the deployment.
func (d *Dispatcher) processJob(ctx context.Context, workerID int, jobID string) {
	d.inflight.Add(1)
	defer d.inflight.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while processing job", "job_id", jobID, "panic", r)
			if _, err := d.repos.Job.Requeue(ctx, jobID); err != nil {
				d.logger.Error("failed to requeue job after panic", "job_id", jobID, "error", err)
			}
		}
	}()

	job, err := d.repos.Job.Claim(ctx, jobID)
	if err != nil {
		d.logger.Error("failed to claim job", "job_id", jobID, "error", err)
		return
	}
	if job == nil {
		return // claimed elsewhere or no longer pending
	}

	d.logger.Info("processing job",
		"worker_id", workerID,
		"job_id", job.ID,
		"type", job.Type,
		"model", job.Model,
	)

	endpoint, err := d.endpoints.GetActive(ctx, job.Type)
	if err != nil || endpoint == nil {
		d.logger.Warn("no active endpoint, requeueing job", "job_id", job.ID, "error", err)
		d.requeue(ctx, job.ID)
		return
	}

	classification := Classify(job)
	payload := BuildPayload(job, classification)

	result, genErr := d.generate(ctx, endpoint.URL, payload, classification.Video)
	if genErr != nil {
		d.handleFailure(ctx, job, endpoint, genErr)
		return
	}

	data := result.Data
	contentType := result.ContentType
	if result.TempURL != "" {
		data, contentType, err = d.client.Download(ctx, result.TempURL)
		if err != nil {
			d.handleFailure(ctx, job, endpoint, err)
			return
		}
	}

	if err := d.repos.Job.UpdateProgress(ctx, job.ID, 50); err != nil {
		d.logger.Error("failed to update progress", "job_id", job.ID, "error", err)
	}

	if err := d.storeArtifact(ctx, job, classification, data, contentType); err != nil {
		d.logger.Error("failed to store artifact", "job_id", job.ID, "error", err)
		d.requeue(ctx, job.ID)
		return
	}

	d.logger.Info("completed job", "worker_id", workerID, "job_id", job.ID)
}

// generate calls the endpoint with per-type attempt and timeout budgets.
// Cold starts and transient errors are retried with growing waits.
func (d *Dispatcher) generate(ctx context.Context, endpointURL string, payload any, video bool) (*inference.Result, error) {
	attempts, timeout := imageAttempts, imageTimeout
	if video {
		attempts, timeout = videoAttempts, videoTimeout
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.RetryInitialWait
	bo.MaxInterval = d.cfg.RetryMaxWait
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := bo.NextBackOff()
			d.logger.Info("retrying generation", "attempt", attempt+1, "wait", wait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		result, err := d.client.Generate(ctx, endpointURL+"/generate", payload, timeout)
		if err == nil {
			return result, nil
		}
		lastErr = err

		statusCode, errText := unpackError(err)
		if !retriable(err, statusCode, errText) {
			// A definitive upstream rejection; more attempts cannot help
			return nil, lastErr
		}
		d.logger.Warn("generation attempt failed, will retry",
			"attempt", attempt+1,
			"status_code", statusCode,
		)
	}
	return nil, lastErr
}

// retriable reports whether another attempt against the same deployment is
// worthwhile: cold starts, server errors, timeouts, and transport failures
// (no HTTP status at all) are transient. Other 4xx responses are not.
func retriable(err error, statusCode int, errText string) bool {
	switch {
	case service.IsColdStart(statusCode, errText):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case statusCode >= 500:
		return true
	case statusCode == 0:
		return true
	}
	return false
}

// handleFailure rotates the endpoint registry when the failure condemns the
// deployment, then requeues the job. Jobs are never failed on transport.
func (d *Dispatcher) handleFailure(ctx context.Context, job *models.Job, endpoint *service.ActiveEndpoint, genErr error) {
	statusCode, errText := unpackError(genErr)

	d.logger.Error("generation failed",
		"job_id", job.ID,
		"status_code", statusCode,
		"error", genErr,
	)

	if d.endpoints.IsFailureTerminal(statusCode, errText) {
		reason := fmt.Sprintf("generation failure (%d): %s", statusCode, truncate(errText, 200))
		if _, err := d.endpoints.RotateAfterFailure(ctx, endpoint.DeploymentID, reason, job.Type); err != nil {
			d.logger.Error("endpoint rotation failed", "deployment_id", endpoint.DeploymentID, "error", err)
		}
	}

	d.requeue(ctx, job.ID)
}

// storeArtifact uploads the generated bytes and finalizes the job.
func (d *Dispatcher) storeArtifact(ctx context.Context, job *models.Job, c Classification, data []byte, contentType string) error {
	metadata := map[string]string{
		"prompt":       truncate(job.Prompt, 256),
		"model":        job.Model,
		"aspect_ratio": job.AspectRatio,
		"job_id":       job.ID,
		"user_id":      job.UserID,
	}

	if c.Video {
		tmp, err := os.CreateTemp("", "video-*.mp4")
		if err != nil {
			return fmt.Errorf("failed to create temp file: %w", err)
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write video: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return err
		}

		result, err := d.media.UploadVideo(ctx, tmp.Name(), "videos", job.ID, metadata)
		if err != nil {
			return err
		}
		// image_url mirrors video_url so older clients keep working
		return d.repos.Job.Complete(ctx, job.ID, result.URL, "", result.URL)
	}

	ext := ".png"
	if mt := mimetype.Detect(data); mt.Extension() != "" {
		ext = mt.Extension()
	} else if contentType != "" {
		if byType := mimetype.Lookup(contentType); byType != nil && byType.Extension() != "" {
			ext = byType.Extension()
		}
	}

	result, err := d.media.UploadBytes(ctx, data, job.ID+ext, "generations", metadata)
	if err != nil {
		return err
	}
	return d.repos.Job.Complete(ctx, job.ID, result.URL, result.URL, "")
}

func (d *Dispatcher) requeue(ctx context.Context, jobID string) {
	if _, err := d.repos.Job.Requeue(ctx, jobID); err != nil {
		d.logger.Error("failed to requeue job", "job_id", jobID, "error", err)
	}
}

func unpackError(err error) (statusCode int, errText string) {
	var ue *inference.UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode, ue.Body
	}
	return 0, err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

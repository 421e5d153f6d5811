// Package media implements the multi-account media store with usage-based
// rotation. Artifacts are uploaded to S3-compatible CDN buckets; when an
// account runs hot on bandwidth or storage, uploads move to the next
// account in the pool.
package media

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"

	appconfig "github.com/pixelforge-ai/pixelforge-api/internal/config"
)

// Rotation thresholds. An account is "over" when used bandwidth reaches
// 20 GiB or used storage reaches 95% of its limit.
const (
	bandwidthThreshold   = int64(20) << 30
	storageThresholdFrac = 0.95
)

// Usage is the payload of an account's admin usage endpoint.
type Usage struct {
	Bandwidth struct {
		Used  int64 `json:"usage"`
		Limit int64 `json:"limit"`
	} `json:"bandwidth"`
	Storage struct {
		Used  int64 `json:"usage"`
		Limit int64 `json:"limit"`
	} `json:"storage"`
}

// objectPutter is the subset of the S3 client the rotator uses.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Account is one member of the upload pool.
type Account struct {
	cfg    appconfig.MediaAccount
	client objectPutter
}

// Name returns the account name.
func (a *Account) Name() string {
	return a.cfg.Name
}

// UploadResult reports where an artifact landed.
type UploadResult struct {
	URL     string
	Account string
}

// Rotator owns the account pool and the rotation cursor. The cursor is
// per-process; instances do not coordinate.
type Rotator struct {
	mu       sync.Mutex
	accounts []*Account
	current  int

	httpClient *http.Client
	logger     *slog.Logger
}

// NewRotator builds the pool from configuration. verifySSL=false accepts
// self-signed certificates on the usage endpoints.
func NewRotator(cfgs []appconfig.MediaAccount, verifySSL bool, logger *slog.Logger) (*Rotator, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("media rotator requires at least one account")
	}

	accounts := make([]*Account, 0, len(cfgs))
	for _, cfg := range cfgs {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey,
				cfg.SecretKey,
				"",
			)),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load credentials for account %s: %w", cfg.Name, err)
		}

		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = true // Required for some S3-compatible services
		})

		accounts = append(accounts, &Account{cfg: cfg, client: client})
	}

	transport := &http.Transport{}
	if !verifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	logger.Info("media rotator initialized", "accounts", len(accounts))

	return &Rotator{
		accounts:   accounts,
		httpClient: &http.Client{Timeout: 15 * time.Second, Transport: transport},
		logger:     logger,
	}, nil
}

// SelectBest probes the current account's usage and rotates past accounts
// that are over threshold. On pool exhaustion it falls back to the current
// account and logs.
func (r *Rotator) SelectBest(ctx context.Context) *Account {
	r.mu.Lock()
	start := r.current
	r.mu.Unlock()

	for i := 0; i < len(r.accounts); i++ {
		idx := (start + i) % len(r.accounts)
		account := r.accounts[idx]

		usage, err := r.probeUsage(ctx, account)
		if err != nil {
			r.logger.Warn("usage probe failed",
				"account", account.Name(),
				"error", err,
			)
			// Unknown usage: assume usable rather than skipping the account
		} else if r.overThreshold(account, usage) {
			r.logger.Info("account over threshold, rotating",
				"account", account.Name(),
				"bandwidth_used", usage.Bandwidth.Used,
				"storage_used", usage.Storage.Used,
			)
			continue
		}

		r.mu.Lock()
		r.current = idx
		r.mu.Unlock()
		return account
	}

	r.logger.Warn("all media accounts over threshold, falling back to current account")
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accounts[r.current]
}

// Upload uploads a local file to the selected account, rotating across the
// pool on failure. Maximum attempts = pool size.
func (r *Rotator) Upload(ctx context.Context, localPath, folder string, metadata map[string]string) (*UploadResult, error) {
	return r.upload(ctx, localPath, folder, "", metadata)
}

// UploadBytes spills the payload to a temporary file and delegates to Upload.
func (r *Rotator) UploadBytes(ctx context.Context, data []byte, name, folder string, metadata map[string]string) (*UploadResult, error) {
	tmp, err := os.CreateTemp("", "media-upload-*"+path.Ext(name))
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	return r.upload(ctx, tmp.Name(), folder, strings.TrimSuffix(path.Base(name), path.Ext(name)), metadata)
}

// UploadVideo uploads a video artifact. When jobID is given, the object
// key is deterministic so re-uploads of the same job overwrite.
func (r *Rotator) UploadVideo(ctx context.Context, localPath, folder, jobID string, metadata map[string]string) (*UploadResult, error) {
	publicID := ""
	if jobID != "" {
		publicID = "ai_video_" + jobID
	}
	return r.upload(ctx, localPath, folder, publicID, metadata)
}

// upload is the shared rotation loop.
func (r *Rotator) upload(ctx context.Context, localPath, folder, publicID string, metadata map[string]string) (*UploadResult, error) {
	account := r.SelectBest(ctx)

	var lastErr error
	for attempt := 0; attempt < len(r.accounts); attempt++ {
		result, err := r.putObject(ctx, account, localPath, folder, publicID, metadata)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if isQuotaError(err) {
			r.logger.Warn("quota error on upload, rotating account",
				"account", account.Name(),
				"error", err,
			)
		} else {
			r.logger.Warn("upload failed, trying next account",
				"account", account.Name(),
				"error", err,
			)
		}
		account = r.rotateNext()
	}

	return nil, fmt.Errorf("upload failed on all %d accounts: %w", len(r.accounts), lastErr)
}

// putObject performs one upload attempt against one account.
func (r *Rotator) putObject(ctx context.Context, account *Account, localPath, folder, publicID string, metadata map[string]string) (*UploadResult, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(localPath); err == nil {
		contentType = mt.String()
	}

	key := path.Base(localPath)
	if publicID != "" {
		key = publicID + path.Ext(localPath)
	}
	if folder != "" {
		key = path.Join(folder, key)
	}

	_, err = account.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(account.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
		Metadata:    metadata,
	})
	if err != nil {
		return nil, err
	}

	return &UploadResult{
		URL:     account.objectURL(key),
		Account: account.Name(),
	}, nil
}

// objectURL builds the canonical artifact URL for a stored key.
func (a *Account) objectURL(key string) string {
	if a.cfg.CDNBaseURL != "" {
		return strings.TrimSuffix(a.cfg.CDNBaseURL, "/") + "/" + key
	}
	return strings.TrimSuffix(a.cfg.Endpoint, "/") + "/" + a.cfg.Bucket + "/" + key
}

// rotateNext advances the pool cursor and returns the new current account.
func (r *Rotator) rotateNext() *Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = (r.current + 1) % len(r.accounts)
	return r.accounts[r.current]
}

// probeUsage fetches the account's admin usage document.
func (r *Rotator) probeUsage(ctx context.Context, account *Account) (*Usage, error) {
	if account.cfg.UsageURL == "" {
		return nil, fmt.Errorf("account %s has no usage endpoint", account.Name())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, account.cfg.UsageURL, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(account.cfg.AccessKey, account.cfg.SecretKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("usage endpoint returned %d", resp.StatusCode)
	}

	var usage Usage
	if err := json.NewDecoder(resp.Body).Decode(&usage); err != nil {
		return nil, fmt.Errorf("failed to decode usage: %w", err)
	}
	return &usage, nil
}

// overThreshold applies the rotation thresholds; unlimited flags suppress
// each check independently.
func (r *Rotator) overThreshold(account *Account, usage *Usage) bool {
	if !account.cfg.BandwidthUnlimited && usage.Bandwidth.Used >= bandwidthThreshold {
		return true
	}
	if !account.cfg.StorageUnlimited && usage.Storage.Limit > 0 {
		if float64(usage.Storage.Used) >= storageThresholdFrac*float64(usage.Storage.Limit) {
			return true
		}
	}
	return false
}

// isQuotaError reports whether the upload failure names a capacity problem.
func isQuotaError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"quota", "limit", "exceeded", "storage", "bandwidth"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

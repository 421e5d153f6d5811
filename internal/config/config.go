// Package config handles application configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MediaAccount holds credentials for one media-store account.
// Accounts are S3-compatible CDN buckets with an admin usage endpoint.
type MediaAccount struct {
	Name               string `json:"name"`
	Endpoint           string `json:"endpoint"`
	AccessKey          string `json:"access_key"`
	SecretKey          string `json:"secret_key"`
	Bucket             string `json:"bucket"`
	Region             string `json:"region"`
	CDNBaseURL         string `json:"cdn_base_url"`
	UsageURL           string `json:"usage_url"`
	BandwidthUnlimited bool   `json:"bandwidth_unlimited"`
	StorageUnlimited   bool   `json:"storage_unlimited"`
}

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port    int
	BaseURL string

	// Database
	DatabaseURL string

	// Authentication
	JWTSecret   string // Shared secret with the identity service (HS256)
	WorkerToken string // Token guarding the internal /worker/* endpoints

	// CORS
	CORSOrigins []string

	// Inference provider
	InferenceHostSuffix string // Known host suffix of inference deployments
	VerifySSL           bool   // Self-signed upstream certs when false

	// Media store
	MediaAccounts []MediaAccount

	// Ad network
	MonetagSecret string   // Postback signing secret; signature optional when empty
	MonetagZones  []string // Recognised zone IDs

	// Dispatcher
	WorkerConcurrency int           // Number of concurrent job workers
	JobRescueAfter    time.Duration // Running jobs older than this are requeued
	RescueInterval    time.Duration // How often the rescue pass runs

	// Shutdown
	ShutdownGracePeriod time.Duration
	IdleTimeout         time.Duration // Scale-to-zero idle shutdown; 0 disables
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnvInt("PORT", 8000),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8000"),
		DatabaseURL: getEnv("DATABASE_URL", "file:pixelforge.db?_journal=WAL&_timeout=5000"),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		WorkerToken: getEnv("WORKER_TOKEN", ""),

		CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"*"}),

		InferenceHostSuffix: getEnv("INFERENCE_HOST_SUFFIX", ".modal.run"),
		VerifySSL:           getEnvBool("VERIFY_SSL", false),

		MonetagSecret: getEnv("MONETAG_SECRET", ""),
		MonetagZones:  getEnvSlice("MONETAG_ZONES", nil),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 3),
		JobRescueAfter:    getEnvDuration("JOB_RESCUE_AFTER", 2*time.Hour),
		RescueInterval:    getEnvDuration("RESCUE_INTERVAL", 10*time.Minute),

		ShutdownGracePeriod: getEnvDuration("SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		IdleTimeout:         getEnvDuration("IDLE_TIMEOUT", 0),
	}

	accounts, err := loadMediaAccounts()
	if err != nil {
		return nil, err
	}
	cfg.MediaAccounts = accounts

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

// loadMediaAccounts loads the media account pool from the environment.
// Precedence:
//  1. MEDIA_ACCOUNTS - JSON array of account objects
//  2. MEDIA_ACCOUNT_{1..10}_* - indexed variables
//  3. MEDIA_CLOUD_NAME / MEDIA_API_KEY / MEDIA_API_SECRET - single legacy triple
func loadMediaAccounts() ([]MediaAccount, error) {
	if raw := os.Getenv("MEDIA_ACCOUNTS"); raw != "" {
		var accounts []MediaAccount
		if err := json.Unmarshal([]byte(raw), &accounts); err != nil {
			return nil, fmt.Errorf("invalid MEDIA_ACCOUNTS JSON: %w", err)
		}
		if len(accounts) == 0 {
			return nil, fmt.Errorf("MEDIA_ACCOUNTS must contain at least one account")
		}
		return accounts, nil
	}

	var accounts []MediaAccount
	for i := 1; i <= 10; i++ {
		prefix := fmt.Sprintf("MEDIA_ACCOUNT_%d_", i)
		name := os.Getenv(prefix + "NAME")
		if name == "" {
			continue
		}
		accounts = append(accounts, MediaAccount{
			Name:               name,
			Endpoint:           os.Getenv(prefix + "ENDPOINT"),
			AccessKey:          os.Getenv(prefix + "ACCESS_KEY"),
			SecretKey:          os.Getenv(prefix + "SECRET_KEY"),
			Bucket:             os.Getenv(prefix + "BUCKET"),
			Region:             getEnv(prefix+"REGION", "auto"),
			CDNBaseURL:         os.Getenv(prefix + "CDN_BASE_URL"),
			UsageURL:           os.Getenv(prefix + "USAGE_URL"),
			BandwidthUnlimited: getEnvBool(prefix+"BANDWIDTH_UNLIMITED", false),
			StorageUnlimited:   getEnvBool(prefix+"STORAGE_UNLIMITED", false),
		})
	}
	if len(accounts) > 0 {
		return accounts, nil
	}

	// Legacy single-account configuration
	if name := os.Getenv("MEDIA_CLOUD_NAME"); name != "" {
		return []MediaAccount{{
			Name:       name,
			Endpoint:   os.Getenv("MEDIA_ENDPOINT"),
			AccessKey:  os.Getenv("MEDIA_API_KEY"),
			SecretKey:  os.Getenv("MEDIA_API_SECRET"),
			Bucket:     getEnv("MEDIA_BUCKET", name),
			Region:     getEnv("MEDIA_REGION", "auto"),
			CDNBaseURL: os.Getenv("MEDIA_CDN_BASE_URL"),
			UsageURL:   os.Getenv("MEDIA_USAGE_URL"),
		}}, nil
	}

	return nil, fmt.Errorf("no media accounts configured (set MEDIA_ACCOUNTS, MEDIA_ACCOUNT_1_*, or MEDIA_CLOUD_NAME)")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

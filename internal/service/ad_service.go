package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/hkdf"

	"github.com/pixelforge-ai/pixelforge-api/internal/models"
	"github.com/pixelforge-ai/pixelforge-api/internal/repository"
)

var (
	// ErrDailyLimitReached indicates the user hit the daily ad cap.
	ErrDailyLimitReached = errors.New("daily ad limit reached")

	// ErrSessionNotFound indicates no session for the id, or wrong owner.
	ErrSessionNotFound = errors.New("ad session not found")

	// ErrNotVerified indicates the postback has not arrived yet.
	ErrNotVerified = errors.New("ad not verified yet")

	// ErrAlreadyClaimed indicates the reward was already claimed.
	ErrAlreadyClaimed = errors.New("reward already claimed")

	// ErrBadSignature indicates the postback signature did not verify.
	ErrBadSignature = errors.New("invalid postback signature")

	// ErrUnknownZone indicates the postback named an unrecognised zone.
	ErrUnknownZone = errors.New("unknown zone")
)

// verifyPolls and verifyPollInterval bound the verify-and-reward wait.
const (
	verifyPolls        = 3
	verifyPollInterval = 2 * time.Second
)

// Postback carries the fields of an inbound ad-network notification.
type Postback struct {
	ClickID   string
	ZoneID    string
	Revenue   decimal.Decimal
	Status    string
	Signature string
}

// ClaimResult is returned by a successful reward claim.
type ClaimResult struct {
	CoinsEarned          int64
	TotalBalance         int64
	GenerationsAvailable int64
}

// AdService implements the ad-view session state machine:
// pending -> verified-by-postback -> completed, with pending -> failed on a
// rejected postback. Coins are awarded only at claim time and only once.
type AdService struct {
	repos      *repository.Repositories
	coins      *CoinService
	signingKey []byte
	zones      map[string]bool
	logger     *slog.Logger
}

// NewAdService creates a new ad service. An empty secret disables signature
// verification; an empty zone list accepts any zone.
func NewAdService(repos *repository.Repositories, coins *CoinService, secret string, zones []string, logger *slog.Logger) *AdService {
	s := &AdService{
		repos:  repos,
		coins:  coins,
		logger: logger,
	}
	if secret != "" {
		s.signingKey = derivePostbackKey(secret)
	}
	if len(zones) > 0 {
		s.zones = make(map[string]bool, len(zones))
		for _, z := range zones {
			s.zones[z] = true
		}
	}
	return s
}

// StartSession opens a pending ad session and returns it. The click id is
// the opaque token shared with the ad network.
func (s *AdService) StartSession(ctx context.Context, userID, zoneID, adType, ip, userAgent string) (*models.AdSession, error) {
	limited, err := s.coins.CheckDailyLimit(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check daily limit: %w", err)
	}
	if limited {
		return nil, ErrDailyLimitReached
	}

	session := &models.AdSession{
		ID:        ulid.Make().String(),
		UserID:    userID,
		ClickID:   uuid.NewString(),
		ZoneID:    zoneID,
		AdType:    adType,
		Status:    models.AdSessionPending,
		Revenue:   decimal.Zero,
		IP:        ip,
		UserAgent: userAgent,
		CreatedAt: time.Now(),
	}
	if err := s.repos.AdSession.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create ad session: %w", err)
	}

	s.logger.Info("ad session started",
		"session_id", session.ID,
		"user_id", userID,
		"zone_id", zoneID,
	)
	return session, nil
}

// GetSession returns the session if it belongs to the user.
func (s *AdService) GetSession(ctx context.Context, sessionID, userID string) (*models.AdSession, error) {
	session, err := s.repos.AdSession.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// HandlePostback processes the server-to-server ad-network notification.
// It verifies the signature when a secret is configured, validates the
// zone, and flips the session to verified. It never awards coins: the
// award happens at claim time. Re-delivery is idempotent.
func (s *AdService) HandlePostback(ctx context.Context, p Postback) error {
	if err := s.verifySignature(p); err != nil {
		return err
	}
	if s.zones != nil && !s.zones[p.ZoneID] {
		return ErrUnknownZone
	}

	failed := p.Status != "" && p.Status != "completed"
	found, err := s.repos.AdSession.RecordPostback(ctx, p.ClickID, p.Revenue.String(), failed, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record postback: %w", err)
	}
	if !found {
		return ErrSessionNotFound
	}

	s.logger.Info("postback recorded",
		"click_id", p.ClickID,
		"zone_id", p.ZoneID,
		"revenue", p.Revenue,
		"failed", failed,
	)
	return nil
}

// Claim awards the reward for a verified session. The ad_completion insert
// is the idempotency gate: its unique session_id makes the award
// at-most-once even when the claim is retried after a partial failure.
func (s *AdService) Claim(ctx context.Context, sessionID, userID string) (*ClaimResult, error) {
	session, err := s.GetSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.AdSessionCompleted {
		return nil, ErrAlreadyClaimed
	}
	if !session.Verified {
		return nil, ErrNotVerified
	}

	duplicate, err := s.coins.CheckDuplicate(ctx, userID, session.ClickID)
	if err != nil {
		return nil, fmt.Errorf("failed to check duplicate: %w", err)
	}
	if duplicate {
		return nil, ErrAlreadyClaimed
	}

	completion := &models.AdCompletion{
		ID:        ulid.Make().String(),
		UserID:    userID,
		SessionID: session.ID,
		ClickID:   session.ClickID,
		Coins:     AdReward,
		CreatedAt: time.Now(),
	}
	if err := s.repos.AdCompletion.Create(ctx, completion); err != nil {
		// UNIQUE(session_id) violated: a concurrent or earlier claim won
		return nil, ErrAlreadyClaimed
	}

	wallet, txID, err := s.coins.Award(ctx, userID, AdReward, models.TxTypeAdWatched, completion.ID,
		"Reward for watching ad", map[string]any{"session_id": session.ID, "zone_id": session.ZoneID})
	if err != nil {
		// Roll back the idempotency gate so a retried claim can still earn
		// the reward; leaving the row would strand it as already-claimed.
		if delErr := s.repos.AdCompletion.Delete(ctx, completion.ID); delErr != nil {
			s.logger.Error("failed to roll back ad completion after award failure",
				"completion_id", completion.ID,
				"session_id", session.ID,
				"error", delErr,
			)
		}
		return nil, fmt.Errorf("failed to award coins: %w", err)
	}
	_ = txID

	if _, err := s.repos.AdSession.MarkCompleted(ctx, session.ID, time.Now()); err != nil {
		s.logger.Error("failed to complete ad session after award",
			"session_id", session.ID,
			"error", err,
		)
	}

	s.logger.Info("ad reward claimed",
		"session_id", session.ID,
		"user_id", userID,
		"coins", AdReward,
	)
	return &ClaimResult{
		CoinsEarned:          AdReward,
		TotalBalance:         wallet.Balance,
		GenerationsAvailable: GenerationsAvailable(wallet.Balance),
	}, nil
}

// VerifyAndReward polls the session for verification and claims when it
// arrives. Returns ErrNotVerified when the postback has not landed after
// the polling window; callers surface that as 202 pending.
func (s *AdService) VerifyAndReward(ctx context.Context, sessionID, userID string) (*ClaimResult, error) {
	for attempt := 0; attempt < verifyPolls; attempt++ {
		session, err := s.GetSession(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
		if session.Status == models.AdSessionCompleted {
			return nil, ErrAlreadyClaimed
		}
		if session.Verified {
			return s.Claim(ctx, sessionID, userID)
		}

		if attempt < verifyPolls-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(verifyPollInterval):
			}
		}
	}
	return nil, ErrNotVerified
}

// verifySignature checks the HMAC-SHA256 signature over the canonical
// postback fields. Skipped when no secret is configured.
func (s *AdService) verifySignature(p Postback) error {
	if s.signingKey == nil {
		return nil
	}
	if p.Signature == "" {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, s.signingKey)
	fmt.Fprintf(mac, "%s|%s|%s|%s", p.ClickID, p.ZoneID, p.Revenue.String(), p.Status)
	expected := hex.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(p.Signature)) != 1 {
		return ErrBadSignature
	}
	return nil
}

// derivePostbackKey derives the postback signing key from the shared
// secret using HKDF-SHA256, binding the key to its purpose.
func derivePostbackKey(secret string) []byte {
	salt := []byte("pixelforge-postback-v1")
	info := []byte("monetag-postback-signature")

	hkdfReader := hkdf.New(sha256.New, []byte(secret), salt, info)

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		panic("hkdf: failed to derive key: " + err.Error())
	}
	return key
}

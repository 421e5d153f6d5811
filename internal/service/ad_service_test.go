package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/pixelforge-ai/pixelforge-api/internal/models"
	"github.com/pixelforge-ai/pixelforge-api/internal/repository"
)

const testSecret = "test-postback-secret"

func setupAdService(t *testing.T, secret string, zones []string) (*AdService, *repository.Repositories) {
	t.Helper()
	repos := setupTestRepos(t)
	coins := NewCoinService(repos, testLogger())
	return NewAdService(repos, coins, secret, zones, testLogger()), repos
}

func signPostback(secret string, p Postback) string {
	mac := hmac.New(sha256.New, derivePostbackKey(secret))
	fmt.Fprintf(mac, "%s|%s|%s|%s", p.ClickID, p.ZoneID, p.Revenue.String(), p.Status)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestAdService_StartSession(t *testing.T) {
	svc, _ := setupAdService(t, "", nil)
	ctx := context.Background()

	session, err := svc.StartSession(ctx, "user_1", "zone_1", "rewarded", "1.2.3.4", "test-agent")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if session.ClickID == "" {
		t.Error("ClickID should be generated")
	}
	if session.Status != models.AdSessionPending || session.Verified {
		t.Errorf("session = %+v, want pending unverified", session)
	}
}

func TestAdService_GetSessionOwnership(t *testing.T) {
	svc, _ := setupAdService(t, "", nil)
	ctx := context.Background()

	session, err := svc.StartSession(ctx, "user_1", "zone_1", "rewarded", "", "")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	if _, err := svc.GetSession(ctx, session.ID, "user_2"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("GetSession() for other user error = %v, want ErrSessionNotFound", err)
	}
	if _, err := svc.GetSession(ctx, "missing", "user_1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("GetSession() missing error = %v, want ErrSessionNotFound", err)
	}
}

func TestAdService_FullClaimFlow(t *testing.T) {
	svc, _ := setupAdService(t, testSecret, []string{"zone_1"})
	ctx := context.Background()

	session, err := svc.StartSession(ctx, "user_1", "zone_1", "rewarded", "", "")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	// Claim before the postback lands
	if _, err := svc.Claim(ctx, session.ID, "user_1"); !errors.Is(err, ErrNotVerified) {
		t.Fatalf("early Claim() error = %v, want ErrNotVerified", err)
	}

	p := Postback{
		ClickID: session.ClickID,
		ZoneID:  "zone_1",
		Revenue: decimal.RequireFromString("0.003"),
		Status:  "completed",
	}
	p.Signature = signPostback(testSecret, p)
	if err := svc.HandlePostback(ctx, p); err != nil {
		t.Fatalf("HandlePostback() error = %v", err)
	}

	result, err := svc.Claim(ctx, session.ID, "user_1")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if result.CoinsEarned != AdReward {
		t.Errorf("CoinsEarned = %d, want %d", result.CoinsEarned, AdReward)
	}
	if result.TotalBalance != AdReward {
		t.Errorf("TotalBalance = %d, want %d", result.TotalBalance, AdReward)
	}
	if result.GenerationsAvailable != 1 {
		t.Errorf("GenerationsAvailable = %d, want 1", result.GenerationsAvailable)
	}

	// Double claim
	if _, err := svc.Claim(ctx, session.ID, "user_1"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("second Claim() error = %v, want ErrAlreadyClaimed", err)
	}

	// Balance unchanged by the second attempt
	coins := NewCoinService(svc.repos, testLogger())
	balance, _ := coins.Balance(ctx, "user_1")
	if balance != AdReward {
		t.Errorf("balance = %d, want %d", balance, AdReward)
	}
}

func TestAdService_PostbackBadSignature(t *testing.T) {
	svc, _ := setupAdService(t, testSecret, nil)
	ctx := context.Background()

	session, _ := svc.StartSession(ctx, "user_1", "zone_1", "rewarded", "", "")

	p := Postback{
		ClickID:   session.ClickID,
		ZoneID:    "zone_1",
		Revenue:   decimal.Zero,
		Status:    "completed",
		Signature: "deadbeef",
	}
	if err := svc.HandlePostback(ctx, p); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("HandlePostback() error = %v, want ErrBadSignature", err)
	}

	p.Signature = ""
	if err := svc.HandlePostback(ctx, p); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("unsigned HandlePostback() error = %v, want ErrBadSignature", err)
	}
}

func TestAdService_PostbackUnknownZone(t *testing.T) {
	svc, _ := setupAdService(t, "", []string{"zone_1"})
	ctx := context.Background()

	session, _ := svc.StartSession(ctx, "user_1", "zone_1", "rewarded", "", "")

	p := Postback{ClickID: session.ClickID, ZoneID: "zone_99", Revenue: decimal.Zero, Status: "completed"}
	if err := svc.HandlePostback(ctx, p); !errors.Is(err, ErrUnknownZone) {
		t.Fatalf("HandlePostback() error = %v, want ErrUnknownZone", err)
	}
}

func TestAdService_PostbackFailedStatus(t *testing.T) {
	svc, repos := setupAdService(t, "", nil)
	ctx := context.Background()

	session, _ := svc.StartSession(ctx, "user_1", "zone_1", "rewarded", "", "")

	p := Postback{ClickID: session.ClickID, ZoneID: "zone_1", Revenue: decimal.Zero, Status: "rejected"}
	if err := svc.HandlePostback(ctx, p); err != nil {
		t.Fatalf("HandlePostback() error = %v", err)
	}

	got, _ := repos.AdSession.GetByID(ctx, session.ID)
	if got.Status != models.AdSessionFailed {
		t.Errorf("Status = %s, want failed", got.Status)
	}
}

func TestAdService_PostbackUnknownClickID(t *testing.T) {
	svc, _ := setupAdService(t, "", nil)
	ctx := context.Background()

	p := Postback{ClickID: "never-issued", ZoneID: "zone_1", Revenue: decimal.Zero, Status: "completed"}
	if err := svc.HandlePostback(ctx, p); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("HandlePostback() error = %v, want ErrSessionNotFound", err)
	}
}

func TestAdService_StartSessionDailyLimit(t *testing.T) {
	svc, repos := setupAdService(t, "", nil)
	ctx := context.Background()

	// Fill today's quota directly
	for i := 0; i < MaxAdsPerDay; i++ {
		session, err := svc.StartSession(ctx, "user_1", "zone_1", "rewarded", "", "")
		if err != nil {
			t.Fatalf("StartSession() #%d error = %v", i, err)
		}
		if _, err := repos.AdSession.RecordPostback(ctx, session.ClickID, "0", false, session.CreatedAt); err != nil {
			t.Fatalf("RecordPostback() error = %v", err)
		}
		if _, err := svc.Claim(ctx, session.ID, "user_1"); err != nil {
			t.Fatalf("Claim() #%d error = %v", i, err)
		}
	}

	if _, err := svc.StartSession(ctx, "user_1", "zone_1", "rewarded", "", ""); !errors.Is(err, ErrDailyLimitReached) {
		t.Fatalf("StartSession() over quota error = %v, want ErrDailyLimitReached", err)
	}
}

// failingWalletRepo rejects every read so the award inside Claim fails.
type failingWalletRepo struct {
	repository.WalletRepository
}

func (failingWalletRepo) Get(ctx context.Context, userID string) (*models.Wallet, error) {
	return nil, errors.New("wallet store offline")
}

func TestAdService_AwardFailureReopensClaim(t *testing.T) {
	svc, repos := setupAdService(t, "", nil)
	ctx := context.Background()

	session, err := svc.StartSession(ctx, "user_1", "zone_1", "rewarded", "", "")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if _, err := repos.AdSession.RecordPostback(ctx, session.ClickID, "0.002", false, session.CreatedAt); err != nil {
		t.Fatalf("RecordPostback() error = %v", err)
	}

	realWallet := repos.Wallet
	repos.Wallet = failingWalletRepo{realWallet}

	if _, err := svc.Claim(ctx, session.ID, "user_1"); err == nil {
		t.Fatal("Claim() should surface the award failure")
	}

	// The idempotency gate must be rolled back, not left stranding the reward
	exists, err := repos.AdCompletion.ExistsRecent(ctx, "user_1", session.ClickID, DuplicateCheckWindow)
	if err != nil {
		t.Fatalf("ExistsRecent() error = %v", err)
	}
	if exists {
		t.Fatal("completion row survived the failed award")
	}
	got, _ := repos.AdSession.GetByID(ctx, session.ID)
	if got.Status == models.AdSessionCompleted {
		t.Fatal("session completed without an award")
	}

	// Wallet store back: the retried claim earns the reward exactly once
	repos.Wallet = realWallet
	result, err := svc.Claim(ctx, session.ID, "user_1")
	if err != nil {
		t.Fatalf("retried Claim() error = %v", err)
	}
	if result.CoinsEarned != AdReward {
		t.Errorf("CoinsEarned = %d, want %d", result.CoinsEarned, AdReward)
	}

	coins := NewCoinService(repos, testLogger())
	balance, _ := coins.Balance(ctx, "user_1")
	if balance != AdReward {
		t.Errorf("balance = %d, want %d", balance, AdReward)
	}
}

func TestAdService_VerifyAndRewardAlreadyVerified(t *testing.T) {
	svc, repos := setupAdService(t, "", nil)
	ctx := context.Background()

	session, _ := svc.StartSession(ctx, "user_1", "zone_1", "rewarded", "", "")
	if _, err := repos.AdSession.RecordPostback(ctx, session.ClickID, "0.002", false, session.CreatedAt); err != nil {
		t.Fatalf("RecordPostback() error = %v", err)
	}

	result, err := svc.VerifyAndReward(ctx, session.ID, "user_1")
	if err != nil {
		t.Fatalf("VerifyAndReward() error = %v", err)
	}
	if result.CoinsEarned != AdReward {
		t.Errorf("CoinsEarned = %d", result.CoinsEarned)
	}
}

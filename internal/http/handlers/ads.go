package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pixelforge-ai/pixelforge-api/internal/service"
)

// AdHandler handles rewarded-ad endpoints.
type AdHandler struct {
	adsSvc *service.AdService
}

// NewAdHandler creates a new ad handler.
func NewAdHandler(adsSvc *service.AdService) *AdHandler {
	return &AdHandler{adsSvc: adsSvc}
}

// StartSessionInput represents ad session start request.
type StartSessionInput struct {
	UserAgent    string `header:"User-Agent" required:"false"`
	ForwardedFor string `header:"X-Forwarded-For" required:"false"`
	Body         struct {
		ZoneID string `json:"zone_id" minLength:"1" doc:"Ad network zone identifier"`
		AdType string `json:"ad_type,omitempty" default:"rewarded" doc:"Ad placement type"`
	}
}

// StartSessionOutput represents ad session start response.
type StartSessionOutput struct {
	Body struct {
		Success   bool   `json:"success"`
		SessionID string `json:"session_id"`
		ClickID   string `json:"click_id"`
		Status    string `json:"status"`
	}
}

// StartSession opens a pending ad session for the user.
func (h *AdHandler) StartSession(ctx context.Context, input *StartSessionInput) (*StartSessionOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	adType := input.Body.AdType
	if adType == "" {
		adType = "rewarded"
	}

	remoteIP := input.ForwardedFor
	if i := strings.IndexByte(remoteIP, ','); i >= 0 {
		remoteIP = strings.TrimSpace(remoteIP[:i])
	}

	session, err := h.adsSvc.StartSession(ctx, userID, input.Body.ZoneID, adType, remoteIP, input.UserAgent)
	if err != nil {
		if errors.Is(err, service.ErrDailyLimitReached) {
			// Payment-required, not rate-limited: the cap is an economy rule
			return nil, dailyLimitReached()
		}
		return nil, huma.Error500InternalServerError("failed to start ad session")
	}

	out := &StartSessionOutput{}
	out.Body.Success = true
	out.Body.SessionID = session.ID
	out.Body.ClickID = session.ClickID
	out.Body.Status = string(session.Status)
	return out, nil
}

// CheckSessionInput represents ad session poll request.
type CheckSessionInput struct {
	ID string `path:"id" doc:"Ad session ID"`
}

// CheckSessionOutput represents ad session poll response.
type CheckSessionOutput struct {
	Body struct {
		Success   bool   `json:"success"`
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
		Verified  bool   `json:"verified"`
	}
}

// CheckSession reports the session state; clients poll it while the ad
// plays.
func (h *AdHandler) CheckSession(ctx context.Context, input *CheckSessionInput) (*CheckSessionOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	session, err := h.adsSvc.GetSession(ctx, input.ID, userID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			return nil, huma.Error404NotFound("ad session not found")
		}
		return nil, huma.Error500InternalServerError("failed to get ad session")
	}

	out := &CheckSessionOutput{}
	out.Body.Success = true
	out.Body.SessionID = session.ID
	out.Body.Status = string(session.Status)
	out.Body.Verified = session.Verified
	return out, nil
}

// ClaimRewardInput represents reward claim request.
type ClaimRewardInput struct {
	Body struct {
		SessionID string `json:"session_id" minLength:"1" doc:"Ad session ID"`
	}
}

// ClaimRewardOutput represents reward claim response.
type ClaimRewardOutput struct {
	Status int
	Body   struct {
		Success              bool   `json:"success"`
		Status               string `json:"status,omitempty"`
		CoinsEarned          int64  `json:"coins_earned,omitempty"`
		TotalBalance         int64  `json:"total_balance,omitempty"`
		GenerationsAvailable int64  `json:"generations_available,omitempty"`
	}
}

// ClaimReward awards the coins for a verified ad session.
func (h *AdHandler) ClaimReward(ctx context.Context, input *ClaimRewardInput) (*ClaimRewardOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	result, err := h.adsSvc.Claim(ctx, input.Body.SessionID, userID)
	if err != nil {
		return nil, mapAdError(err)
	}
	return claimOutput(http.StatusOK, result), nil
}

// VerifyAndReward waits briefly for the postback and claims when it lands.
// Returns 202 with status pending when verification has not arrived.
func (h *AdHandler) VerifyAndReward(ctx context.Context, input *ClaimRewardInput) (*ClaimRewardOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	result, err := h.adsSvc.VerifyAndReward(ctx, input.Body.SessionID, userID)
	if err != nil {
		if errors.Is(err, service.ErrNotVerified) {
			out := &ClaimRewardOutput{Status: http.StatusAccepted}
			out.Body.Success = false
			out.Body.Status = "pending"
			return out, nil
		}
		return nil, mapAdError(err)
	}
	return claimOutput(http.StatusOK, result), nil
}

func claimOutput(status int, result *service.ClaimResult) *ClaimRewardOutput {
	out := &ClaimRewardOutput{Status: status}
	out.Body.Success = true
	out.Body.Status = "completed"
	out.Body.CoinsEarned = result.CoinsEarned
	out.Body.TotalBalance = result.TotalBalance
	out.Body.GenerationsAvailable = result.GenerationsAvailable
	return out
}

func mapAdError(err error) error {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return huma.Error404NotFound("ad session not found")
	case errors.Is(err, service.ErrAlreadyClaimed):
		return huma.Error400BadRequest("reward already claimed")
	case errors.Is(err, service.ErrNotVerified):
		return huma.Error400BadRequest("ad view not verified")
	default:
		return huma.Error500InternalServerError("failed to process claim")
	}
}

package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pixelforge-ai/pixelforge-api/internal/models"
	"github.com/pixelforge-ai/pixelforge-api/internal/service"
)

// CoinHandler handles wallet endpoints.
type CoinHandler struct {
	coinsSvc *service.CoinService
}

// NewCoinHandler creates a new coin handler.
func NewCoinHandler(coinsSvc *service.CoinService) *CoinHandler {
	return &CoinHandler{coinsSvc: coinsSvc}
}

// BalanceOutput represents wallet balance response.
type BalanceOutput struct {
	Body struct {
		Success              bool  `json:"success"`
		Balance              int64 `json:"balance"`
		LifetimeEarned       int64 `json:"lifetime_earned"`
		LifetimeSpent        int64 `json:"lifetime_spent"`
		GenerationsAvailable int64 `json:"generations_available"`
	}
}

// Balance returns the user's wallet with the derived generation count.
func (h *CoinHandler) Balance(ctx context.Context, input *struct{}) (*BalanceOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	wallet, err := h.coinsSvc.GetWallet(ctx, userID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get wallet")
	}

	out := &BalanceOutput{}
	out.Body.Success = true
	out.Body.Balance = wallet.Balance
	out.Body.LifetimeEarned = wallet.LifetimeEarned
	out.Body.LifetimeSpent = wallet.LifetimeSpent
	out.Body.GenerationsAvailable = service.GenerationsAvailable(wallet.Balance)
	return out, nil
}

// HistoryInput represents transaction history request.
type HistoryInput struct {
	Limit  int `query:"limit" default:"50" minimum:"1" maximum:"100" doc:"Maximum transactions to return"`
	Offset int `query:"offset" default:"0" minimum:"0" doc:"Transactions to skip"`
}

// HistoryOutput represents transaction history response.
type HistoryOutput struct {
	Body struct {
		Success      bool                      `json:"success"`
		Transactions []*models.CoinTransaction `json:"transactions"`
		Count        int                       `json:"count"`
	}
}

// History returns the user's coin transactions, newest first.
func (h *CoinHandler) History(ctx context.Context, input *HistoryInput) (*HistoryOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	transactions, err := h.coinsSvc.History(ctx, userID, input.Limit, input.Offset)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get history")
	}

	out := &HistoryOutput{}
	out.Body.Success = true
	out.Body.Transactions = transactions
	out.Body.Count = len(transactions)
	return out, nil
}

package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cryptiq-labs/rewardsd/internal/domain"
	"github.com/cryptiq-labs/rewardsd/internal/logger"
)

// RedemptionStore is the slice of the ledger redemptions need.
type RedemptionStore interface {
	GetReward(ctx context.Context, id int64) (*domain.CatalogReward, error)
	InsertRedemption(ctx context.Context, userID string, rewardID int64, costPaid decimal.Decimal, txSignature string) error
}

// PaymentVerifier checks a user-signed transaction on chain.
type PaymentVerifier interface {
	VerifyInboundPayment(ctx context.Context, signature, payerWallet string, expectedCost decimal.Decimal) error
}

// RedemptionService handles the inverse flow of claims: the user pays the
// treasury and the server verifies the transfer before recording the
// redemption. The unique signature constraint stops the same transaction
// from buying two rewards.
type RedemptionService struct {
	store    RedemptionStore
	verifier PaymentVerifier
}

func NewRedemptionService(store RedemptionStore, verifier PaymentVerifier) *RedemptionService {
	return &RedemptionService{store: store, verifier: verifier}
}

func (s *RedemptionService) Redeem(ctx context.Context, userID string, rewardID int64, txSignature, wallet string) (*domain.RedemptionResult, error) {
	if rewardID <= 0 || txSignature == "" || wallet == "" {
		return nil, fmt.Errorf("%w: reward id, transaction signature and wallet required", domain.ErrInvalidRequest)
	}

	reward, err := s.store.GetReward(ctx, rewardID)
	if err != nil {
		return nil, err
	}

	if err := s.verifier.VerifyInboundPayment(ctx, txSignature, wallet, reward.Cost); err != nil {
		return nil, err
	}

	if err := s.store.InsertRedemption(ctx, userID, rewardID, reward.Cost, txSignature); err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"user_id":   userID,
		"reward_id": rewardID,
		"signature": txSignature,
	}).Info("reward redeemed")

	return &domain.RedemptionResult{
		RewardID:    rewardID,
		CostPaid:    reward.Cost,
		TxSignature: txSignature,
	}, nil
}

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ClaimRecord is one user's completion/reward state for one quiz.
// At most one record exists per (UserID, QuizID); the database enforces
// this with a unique index, not application logic.
type ClaimRecord struct {
	ID            int64           `json:"id"`
	UserID        string          `json:"user_id"`
	QuizID        int64           `json:"quiz_id"`
	Score         int             `json:"score"`
	RewardAmount  decimal.Decimal `json:"reward_amount"`
	Rewarded      bool            `json:"rewarded"`
	WalletAddress string          `json:"wallet_address,omitempty"`
	TxSignature   string          `json:"tx_signature,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// RewardPolicy is the per-quiz reward configuration. Owned by an external
// administrative surface; read-only here.
type RewardPolicy struct {
	QuizID       int64           `json:"quiz_id"`
	Title        string          `json:"title"`
	RewardAmount decimal.Decimal `json:"reward_amount"`
	PassingScore int             `json:"passing_score"`
}

// TransferIntent describes one payout attempt. It is never persisted;
// the payout journal records the resulting signature instead.
type TransferIntent struct {
	Destination string
	AmountBase  uint64
	Amount      decimal.Decimal
}

// PayoutStatus is the lifecycle state of a submitted transfer.
type PayoutStatus string

const (
	PayoutSubmitted PayoutStatus = "submitted"
	PayoutConfirmed PayoutStatus = "confirmed"
	PayoutPending   PayoutStatus = "pending"
	PayoutExpired   PayoutStatus = "expired"
)

// PayoutAttempt journals a transfer between submission and confirmation,
// so a signature that confirms after our timeout is never lost.
type PayoutAttempt struct {
	ID                   uuid.UUID       `json:"id"`
	UserID               string          `json:"user_id"`
	QuizIDs              []int64         `json:"quiz_ids"`
	WalletAddress        string          `json:"wallet_address"`
	AmountBase           uint64          `json:"amount_base"`
	TxSignature          string          `json:"tx_signature"`
	LastValidBlockHeight uint64          `json:"last_valid_block_height"`
	Status               PayoutStatus    `json:"status"`
	Amount               decimal.Decimal `json:"amount"`
	CreatedAt            time.Time       `json:"created_at"`
}

// PayoutReceipt is returned by the executor immediately after a transfer
// is accepted by the network, before confirmation.
type PayoutReceipt struct {
	Signature            string
	LastValidBlockHeight uint64
}

// ClaimResult is the terminal state of one successful claim request.
type ClaimResult struct {
	AlreadyRewarded bool            `json:"already_rewarded,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	TxSignature     string          `json:"tx_signature"`
}

// CompletionResult reports a recorded quiz completion.
type CompletionResult struct {
	AlreadyRecorded bool            `json:"already_recorded,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Passed          bool            `json:"passed"`
}

// PendingClaimResult reports an aggregate payout of all unpaid claims.
type PendingClaimResult struct {
	TotalClaimed decimal.Decimal `json:"total_claimed"`
	QuizIDs      []int64         `json:"quiz_ids,omitempty"`
	TxSignature  string          `json:"tx_signature,omitempty"`
}

// CatalogReward is an item users redeem earned tokens against.
type CatalogReward struct {
	ID   int64           `json:"id"`
	Name string          `json:"name"`
	Cost decimal.Decimal `json:"cost"`
}

// RedemptionResult reports a verified redemption.
type RedemptionResult struct {
	RewardID    int64           `json:"reward_id"`
	CostPaid    decimal.Decimal `json:"cost_paid"`
	TxSignature string          `json:"tx_signature"`
}

// LeaderboardEntry is one row of the earned-rewards leaderboard.
type LeaderboardEntry struct {
	UserID      string          `json:"user_id"`
	TotalEarned decimal.Decimal `json:"total_earned"`
	QuizzesPaid int             `json:"quizzes_paid"`
}

// BaseUnits converts a token amount to the integer smallest denomination
// (12.5 tokens at 6 decimals -> 12500000). Fractional dust below one base
// unit is floored, matching the on-chain transfer granularity.
func BaseUnits(amount decimal.Decimal, decimals int32) (uint64, error) {
	if amount.Sign() < 0 {
		return 0, fmt.Errorf("negative amount %s", amount)
	}
	units := amount.Shift(decimals).Floor().BigInt()
	if !units.IsUint64() {
		return 0, fmt.Errorf("amount %s overflows base units", amount)
	}
	return units.Uint64(), nil
}

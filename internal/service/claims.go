package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/cryptiq-labs/rewardsd/internal/domain"
	"github.com/cryptiq-labs/rewardsd/internal/logger"
)

var (
	claimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rewardsd_claims_total",
		Help: "Claim requests by terminal outcome",
	}, []string{"outcome"})

	payoutDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rewardsd_payout_duration_seconds",
		Help:    "Latency of submit-to-confirmation for on-chain transfers",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 45},
	}, []string{"kind"})
)

// Ledger is the durable claim bookkeeping the coordinator relies on. The
// (user, quiz) uniqueness constraint and MarkPaid's conditional update are
// the only concurrency gates; there is no in-process locking.
type Ledger interface {
	GetClaim(ctx context.Context, userID string, quizID int64) (*domain.ClaimRecord, error)
	UpsertUnpaidClaim(ctx context.Context, userID string, quizID int64, score int, amount decimal.Decimal) (*domain.ClaimRecord, error)
	MarkPaid(ctx context.Context, userID string, quizID int64, wallet, txSignature string) error
	ListUnpaidClaims(ctx context.Context, userID string) ([]domain.ClaimRecord, error)
	MarkManyPaid(ctx context.Context, userID string, quizIDs []int64, wallet, txSignature string) (int64, error)
	GetPolicy(ctx context.Context, quizID int64) (*domain.RewardPolicy, error)
	CreatePayoutAttempt(ctx context.Context, a *domain.PayoutAttempt) error
	SetPayoutAttemptStatus(ctx context.Context, id uuid.UUID, status domain.PayoutStatus) error
	ListSubmittedAttempts(ctx context.Context, olderThan time.Time) ([]domain.PayoutAttempt, error)
	HasInflightAttempt(ctx context.Context, userID string, quizID int64) (bool, error)
	Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
}

// Payer executes on-chain transfers. Submit and AwaitConfirmation are
// separate so the signature can be journaled in between: a transfer that
// confirms after our deadline is never lost.
type Payer interface {
	Submit(ctx context.Context, intent domain.TransferIntent) (*domain.PayoutReceipt, error)
	AwaitConfirmation(ctx context.Context, signature string) error
	Status(ctx context.Context, signature string, lastValidBlockHeight uint64) (domain.PayoutStatus, error)
}

// ClaimService ties validation, payout and bookkeeping into one safe
// sequence per claim request.
type ClaimService struct {
	ledger   Ledger
	payer    Payer
	decimals int32
}

func NewClaimService(ledger Ledger, payer Payer, tokenDecimals int32) *ClaimService {
	return &ClaimService{ledger: ledger, payer: payer, decimals: tokenDecimals}
}

// RecordCompletion stores a quiz completion as an unpaid claim at the
// policy's reward amount. Completions below the passing score are recorded
// too; they simply fail eligibility at claim time. A paid claim is never
// altered.
func (s *ClaimService) RecordCompletion(ctx context.Context, userID string, quizID int64, score int) (*domain.CompletionResult, error) {
	if quizID <= 0 || score < 0 || score > 100 {
		return nil, fmt.Errorf("%w: quiz id and score 0-100 required", domain.ErrInvalidRequest)
	}

	policy, err := s.ledger.GetPolicy(ctx, quizID)
	if err != nil {
		return nil, err
	}

	existing, err := s.ledger.GetClaim(ctx, userID, quizID)
	if err != nil && !errors.Is(err, domain.ErrClaimNotFound) {
		return nil, err
	}

	claim, err := s.ledger.UpsertUnpaidClaim(ctx, userID, quizID, score, policy.RewardAmount)
	if err != nil {
		return nil, err
	}

	return &domain.CompletionResult{
		AlreadyRecorded: existing != nil,
		Amount:          claim.RewardAmount,
		Passed:          claim.Score >= policy.PassingScore,
	}, nil
}

// Claim pays the reward for one completed quiz. Terminal states: newly
// paid, already rewarded (idempotent), or a mapped failure. The conditional
// MarkPaid, not the prior read, is what keeps two racing requests from
// recording two payouts.
func (s *ClaimService) Claim(ctx context.Context, userID string, quizID int64, wallet string) (*domain.ClaimResult, error) {
	if quizID <= 0 || wallet == "" {
		claimsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: quiz id and wallet address required", domain.ErrInvalidRequest)
	}

	claim, err := s.ledger.GetClaim(ctx, userID, quizID)
	if err != nil {
		claimsTotal.WithLabelValues("not_found").Inc()
		return nil, err
	}
	if claim.Rewarded {
		claimsTotal.WithLabelValues("already_rewarded").Inc()
		return &domain.ClaimResult{
			AlreadyRewarded: true,
			Amount:          claim.RewardAmount,
			TxSignature:     claim.TxSignature,
		}, nil
	}

	// Refuse a second transfer while an earlier one for this claim is
	// still ambiguous; the reconciler will resolve it.
	inflight, err := s.ledger.HasInflightAttempt(ctx, userID, quizID)
	if err != nil {
		return nil, err
	}
	if inflight {
		claimsTotal.WithLabelValues("in_flight").Inc()
		return nil, domain.ErrClaimInFlight
	}

	policy, err := s.ledger.GetPolicy(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if claim.Score < policy.PassingScore {
		claimsTotal.WithLabelValues("not_eligible").Inc()
		return nil, fmt.Errorf("%w: score %d below %d", domain.ErrNotEligible, claim.Score, policy.PassingScore)
	}
	// Pay the amount captured on the completion row, not the current policy:
	// that is what the row will keep reporting on every replay, and it is
	// what ClaimPending sums.
	if claim.RewardAmount.Sign() <= 0 {
		claimsTotal.WithLabelValues("not_eligible").Inc()
		return nil, fmt.Errorf("%w: no reward assigned for quiz %d", domain.ErrNotEligible, quizID)
	}

	sig, err := s.pay(ctx, userID, []int64{quizID}, wallet, claim.RewardAmount, "single")
	if err != nil {
		return nil, err
	}

	err = s.ledger.MarkPaid(ctx, userID, quizID, wallet, sig)
	switch {
	case err == nil:
		claimsTotal.WithLabelValues("paid").Inc()
		return &domain.ClaimResult{Amount: claim.RewardAmount, TxSignature: sig}, nil
	case errors.Is(err, domain.ErrAlreadyPaid):
		// A concurrent duplicate won the commit race. The transfer it
		// recorded is the canonical one; ours is benign duplication.
		claimsTotal.WithLabelValues("already_rewarded").Inc()
		paid, rerr := s.ledger.GetClaim(ctx, userID, quizID)
		if rerr != nil {
			return nil, rerr
		}
		return &domain.ClaimResult{
			AlreadyRewarded: true,
			Amount:          paid.RewardAmount,
			TxSignature:     paid.TxSignature,
		}, nil
	default:
		logger.WithFields(map[string]interface{}{
			"user_id":   userID,
			"quiz_id":   quizID,
			"signature": sig,
		}).Error("transfer confirmed but ledger commit failed: ", err)
		return nil, err
	}
}

// ClaimPending pays the sum of every unpaid claim in a single transfer and
// conditionally marks them all paid, mirroring the bulk claim flow.
func (s *ClaimService) ClaimPending(ctx context.Context, userID, wallet string) (*domain.PendingClaimResult, error) {
	if wallet == "" {
		return nil, fmt.Errorf("%w: wallet address required", domain.ErrInvalidRequest)
	}

	claims, err := s.ledger.ListUnpaidClaims(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(claims) == 0 {
		return &domain.PendingClaimResult{TotalClaimed: decimal.Zero}, nil
	}

	total := decimal.Zero
	quizIDs := make([]int64, 0, len(claims))
	for _, c := range claims {
		// Same guard as the single-claim path: while any of these rows is
		// covered by an unresolved transfer, a second aggregate would move
		// tokens twice. The reconciler settles the open attempt first.
		inflight, err := s.ledger.HasInflightAttempt(ctx, userID, c.QuizID)
		if err != nil {
			return nil, err
		}
		if inflight {
			claimsTotal.WithLabelValues("in_flight").Inc()
			return nil, domain.ErrClaimInFlight
		}
		total = total.Add(c.RewardAmount)
		quizIDs = append(quizIDs, c.QuizID)
	}

	sig, err := s.pay(ctx, userID, quizIDs, wallet, total, "aggregate")
	if err != nil {
		return nil, err
	}

	affected, err := s.ledger.MarkManyPaid(ctx, userID, quizIDs, wallet, sig)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"user_id":   userID,
			"signature": sig,
		}).Error("aggregate transfer confirmed but ledger commit failed: ", err)
		return nil, err
	}
	if affected < int64(len(quizIDs)) {
		// Some rows were paid concurrently by single claims after we read
		// them; tokens for those already left twice. Surface for the
		// operator, the chain cannot be unwound.
		logger.WithFields(map[string]interface{}{
			"user_id":   userID,
			"requested": len(quizIDs),
			"affected":  affected,
			"signature": sig,
		}).Warn("aggregate claim overpaid concurrently settled rows")
	}

	claimsTotal.WithLabelValues("paid_aggregate").Inc()
	return &domain.PendingClaimResult{
		TotalClaimed: total,
		QuizIDs:      quizIDs,
		TxSignature:  sig,
	}, nil
}

// pay submits one transfer, journals the signature, then waits for
// confirmation. On an ambiguous outcome the attempt stays in submitted for
// the reconciler and the ledger is left untouched.
func (s *ClaimService) pay(ctx context.Context, userID string, quizIDs []int64, wallet string, amount decimal.Decimal, kind string) (string, error) {
	base, err := domain.BaseUnits(amount, s.decimals)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}

	start := time.Now()
	receipt, err := s.payer.Submit(ctx, domain.TransferIntent{
		Destination: wallet,
		AmountBase:  base,
		Amount:      amount,
	})
	if err != nil {
		claimsTotal.WithLabelValues("payout_failed").Inc()
		return "", err
	}

	attempt := &domain.PayoutAttempt{
		ID:                   uuid.New(),
		UserID:               userID,
		QuizIDs:              quizIDs,
		WalletAddress:        wallet,
		AmountBase:           base,
		Amount:               amount,
		TxSignature:          receipt.Signature,
		LastValidBlockHeight: receipt.LastValidBlockHeight,
		Status:               domain.PayoutSubmitted,
	}
	if jerr := s.ledger.CreatePayoutAttempt(ctx, attempt); jerr != nil {
		// The transfer is in flight either way; losing the journal row only
		// costs reconcilability, so log and continue to confirmation.
		logger.WithFields(map[string]interface{}{
			"user_id":   userID,
			"signature": receipt.Signature,
		}).Error("failed to journal payout attempt: ", jerr)
	}

	if err := s.payer.AwaitConfirmation(ctx, receipt.Signature); err != nil {
		if errors.Is(err, domain.ErrUnconfirmed) {
			// Outcome unknown. Leave the attempt in submitted and the
			// ledger untouched; the reconciler will settle it.
			claimsTotal.WithLabelValues("unconfirmed").Inc()
			return "", err
		}
		// Definitive on-chain failure: the attempt is dead and the claim
		// is immediately retryable.
		if serr := s.ledger.SetPayoutAttemptStatus(ctx, attempt.ID, domain.PayoutExpired); serr != nil {
			logger.Error("failed to expire payout attempt: ", serr)
		}
		claimsTotal.WithLabelValues("payout_failed").Inc()
		return "", err
	}
	payoutDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if serr := s.ledger.SetPayoutAttemptStatus(ctx, attempt.ID, domain.PayoutConfirmed); serr != nil {
		logger.Error("failed to confirm payout attempt: ", serr)
	}
	return receipt.Signature, nil
}

// GetClaim exposes one claim's state to the API layer.
func (s *ClaimService) GetClaim(ctx context.Context, userID string, quizID int64) (*domain.ClaimRecord, error) {
	return s.ledger.GetClaim(ctx, userID, quizID)
}

// Leaderboard returns the top earners.
func (s *ClaimService) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return s.ledger.Leaderboard(ctx, limit)
}

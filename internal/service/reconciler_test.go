package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptiq-labs/rewardsd/internal/domain"
)

// ageAttempts backdates every journaled attempt so the reconciler's
// min-age filter picks them up.
func ageAttempts(ledger *fakeLedger, by time.Duration) {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	for _, a := range ledger.attempts {
		a.CreatedAt = a.CreatedAt.Add(-by)
	}
}

func TestReconcilerPromotesLateConfirmation(t *testing.T) {
	ledger := newFakeLedger()
	payer := &fakePayer{awaitErr: domain.ErrUnconfirmed}
	svc := NewClaimService(ledger, payer, 6)
	ctx := context.Background()

	ledger.addPolicy(1, "10", 70)
	ledger.addClaim(testUser, 1, 85, "10", false, "", "")

	_, err := svc.Claim(ctx, testUser, 1, testWallet)
	require.ErrorIs(t, err, domain.ErrUnconfirmed)
	require.Len(t, ledger.submittedAttempts(), 1)

	// The transfer landed after our deadline.
	payer.mu.Lock()
	payer.status = domain.PayoutConfirmed
	payer.mu.Unlock()
	ageAttempts(ledger, time.Hour)

	reconciler := NewReconciler(ledger, payer, "@every 1m", time.Minute)
	require.NoError(t, reconciler.Run(ctx))

	claim, err := svc.GetClaim(ctx, testUser, 1)
	require.NoError(t, err)
	assert.True(t, claim.Rewarded)
	assert.Equal(t, "sig-1", claim.TxSignature)
	assert.Empty(t, ledger.submittedAttempts())

	// A second pass has nothing left to settle and changes nothing.
	require.NoError(t, reconciler.Run(ctx))
	claim, err = svc.GetClaim(ctx, testUser, 1)
	require.NoError(t, err)
	assert.Equal(t, "sig-1", claim.TxSignature)
}

func TestReconcilerExpiresDeadAttempt(t *testing.T) {
	ledger := newFakeLedger()
	payer := &fakePayer{awaitErr: domain.ErrUnconfirmed}
	svc := NewClaimService(ledger, payer, 6)
	ctx := context.Background()

	ledger.addPolicy(1, "10", 70)
	ledger.addClaim(testUser, 1, 85, "10", false, "", "")

	_, err := svc.Claim(ctx, testUser, 1, testWallet)
	require.ErrorIs(t, err, domain.ErrUnconfirmed)

	// The blockhash validity window passed with the signature unknown.
	payer.mu.Lock()
	payer.status = domain.PayoutExpired
	payer.awaitErr = nil
	payer.mu.Unlock()
	ageAttempts(ledger, time.Hour)

	reconciler := NewReconciler(ledger, payer, "@every 1m", time.Minute)
	require.NoError(t, reconciler.Run(ctx))

	claim, err := svc.GetClaim(ctx, testUser, 1)
	require.NoError(t, err)
	assert.False(t, claim.Rewarded)
	assert.Empty(t, ledger.submittedAttempts())

	// With the dead attempt released, the claim is retryable end to end.
	result, err := svc.Claim(ctx, testUser, 1, testWallet)
	require.NoError(t, err)
	assert.False(t, result.AlreadyRewarded)
	assert.Equal(t, "sig-2", result.TxSignature)
}

func TestReconcilerLeavesYoungAndPendingAttempts(t *testing.T) {
	ledger := newFakeLedger()
	payer := &fakePayer{awaitErr: domain.ErrUnconfirmed}
	svc := NewClaimService(ledger, payer, 6)
	ctx := context.Background()

	ledger.addPolicy(1, "10", 70)
	ledger.addClaim(testUser, 1, 85, "10", false, "", "")

	_, err := svc.Claim(ctx, testUser, 1, testWallet)
	require.ErrorIs(t, err, domain.ErrUnconfirmed)

	// Too young for the min-age filter: untouched even though confirmed.
	payer.mu.Lock()
	payer.status = domain.PayoutConfirmed
	payer.mu.Unlock()

	reconciler := NewReconciler(ledger, payer, "@every 1m", time.Hour)
	require.NoError(t, reconciler.Run(ctx))
	assert.Len(t, ledger.submittedAttempts(), 1)

	// Old enough but still pending on chain: left in submitted.
	payer.mu.Lock()
	payer.status = domain.PayoutPending
	payer.mu.Unlock()
	ageAttempts(ledger, 2*time.Hour)

	require.NoError(t, reconciler.Run(ctx))
	assert.Len(t, ledger.submittedAttempts(), 1)

	claim, err := svc.GetClaim(ctx, testUser, 1)
	require.NoError(t, err)
	assert.False(t, claim.Rewarded)
}

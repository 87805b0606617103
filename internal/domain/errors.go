package domain

import "errors"

// Shared failure taxonomy. The store and the payout executor return these
// sentinels so the coordinator and the HTTP layer can branch with
// errors.Is instead of matching strings.
var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotEligible    = errors.New("score below passing threshold")

	ErrClaimNotFound  = errors.New("claim not found")
	ErrPolicyNotFound = errors.New("quiz not found")
	// ErrAlreadyPaid is not a failure from the caller's perspective: the
	// coordinator converts it into an already-rewarded success.
	ErrAlreadyPaid   = errors.New("claim already paid")
	ErrClaimInFlight = errors.New("a payout for this claim is still awaiting confirmation")

	// ErrDestinationNotReady means the destination wallet has no token
	// account for the mint; retrying will not help until it is provisioned.
	ErrDestinationNotReady = errors.New("destination token account not provisioned")
	// ErrFundsExhausted means the funding wallet cannot cover the transfer.
	// Operator intervention required.
	ErrFundsExhausted = errors.New("funding account balance exhausted")
	// ErrTransient covers network/RPC failures where nothing was submitted;
	// the whole claim may be retried from scratch.
	ErrTransient = errors.New("transient rpc failure")
	// ErrUnconfirmed means a transaction was submitted but did not confirm
	// within the deadline. The outcome is unknown: the ledger must not be
	// touched until the reconciler resolves the signature.
	ErrUnconfirmed = errors.New("transfer submitted but unconfirmed")

	ErrRewardNotFound      = errors.New("reward not found")
	ErrDuplicateRedemption = errors.New("transaction signature already redeemed")
	ErrPaymentNotVerified  = errors.New("payment could not be verified on chain")
)

// Retryable reports whether the caller may safely retry the whole claim.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrUnconfirmed) || errors.Is(err, ErrClaimInFlight)
}

package solana

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/cryptiq-labs/rewardsd/internal/domain"
	"github.com/cryptiq-labs/rewardsd/internal/logger"
)

// Client is the slice of the Solana RPC surface the executor needs.
// *rpc.Client satisfies it; tests inject a fake.
type Client interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solanago.Transaction, opts rpc.TransactionOpts) (solanago.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solanago.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetAccountInfo(ctx context.Context, account solanago.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetTransaction(ctx context.Context, sig solanago.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
}

// Options fixes the executor's dependencies at construction time. The
// funding key and RPC connection are injected, never package-level state.
type Options struct {
	FundingKey     solanago.PrivateKey
	Mint           solanago.PublicKey
	Treasury       solanago.PublicKey
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Executor moves tokens from the funding wallet to a destination wallet.
// It performs no retries; that belongs to the coordinator, which has the
// idempotency context to retry safely.
type Executor struct {
	client Client
	opts   Options
}

func NewExecutor(client Client, opts Options) *Executor {
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 45 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	return &Executor{client: client, opts: opts}
}

// ValidAddress reports whether s parses as a Solana public key.
func ValidAddress(s string) bool {
	_, err := solanago.PublicKeyFromBase58(s)
	return err == nil
}

// Submit builds, signs and sends one SPL token transfer for the exact
// integer base-unit amount, anchored to a fresh blockhash. It returns as
// soon as the network accepts the transaction; confirmation is a separate
// step so the caller can journal the signature first.
func (e *Executor) Submit(ctx context.Context, intent domain.TransferIntent) (*domain.PayoutReceipt, error) {
	dest, err := solanago.PublicKeyFromBase58(intent.Destination)
	if err != nil {
		return nil, fmt.Errorf("%w: bad destination address", domain.ErrInvalidRequest)
	}

	source := e.opts.FundingKey.PublicKey()
	sourceATA, _, err := solanago.FindAssociatedTokenAddress(source, e.opts.Mint)
	if err != nil {
		return nil, fmt.Errorf("derive source token account: %w", err)
	}
	destATA, _, err := solanago.FindAssociatedTokenAddress(dest, e.opts.Mint)
	if err != nil {
		return nil, fmt.Errorf("derive destination token account: %w", err)
	}

	// A wallet that never held the mint has no token account; a blind
	// retry cannot fix that, so it gets its own error kind.
	acct, err := e.client.GetAccountInfo(ctx, destATA)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, domain.ErrDestinationNotReady
		}
		return nil, fmt.Errorf("%w: account lookup: %v", domain.ErrTransient, err)
	}
	if acct == nil || acct.Value == nil {
		return nil, domain.ErrDestinationNotReady
	}

	blockhash, err := e.client.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("%w: blockhash fetch: %v", domain.ErrTransient, err)
	}

	ix := token.NewTransferInstruction(
		intent.AmountBase,
		sourceATA,
		destATA,
		source,
		nil,
	).Build()

	tx, err := solanago.NewTransaction(
		[]solanago.Instruction{ix},
		blockhash.Value.Blockhash,
		solanago.TransactionPayer(source),
	)
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}

	_, err = tx.Sign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if key.Equals(source) {
			return &e.opts.FundingKey
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := e.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		if isInsufficientFunds(err) {
			return nil, domain.ErrFundsExhausted
		}
		return nil, fmt.Errorf("%w: send: %v", domain.ErrTransient, err)
	}

	logger.WithFields(map[string]interface{}{
		"signature":   sig.String(),
		"destination": intent.Destination,
		"amount_base": intent.AmountBase,
	}).Info("transfer submitted")

	return &domain.PayoutReceipt{
		Signature:            sig.String(),
		LastValidBlockHeight: blockhash.Value.LastValidBlockHeight,
	}, nil
}

// AwaitConfirmation blocks until the network reports the signature at
// confirmed commitment or the deadline passes. On deadline the outcome is
// unknown: the caller must not treat it as success or failure.
func (e *Executor) AwaitConfirmation(ctx context.Context, signature string) error {
	sig, err := solanago.SignatureFromBase58(signature)
	if err != nil {
		return fmt.Errorf("bad signature %q: %w", signature, err)
	}

	deadline := time.NewTimer(e.opts.ConfirmTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", domain.ErrUnconfirmed, ctx.Err())
		case <-deadline.C:
			return domain.ErrUnconfirmed
		case <-ticker.C:
			out, err := e.client.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				continue
			}
			if len(out.Value) == 0 || out.Value[0] == nil {
				continue
			}
			st := out.Value[0]
			if st.Err != nil {
				return fmt.Errorf("%w: transaction failed on chain: %v", domain.ErrTransient, st.Err)
			}
			switch st.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}
	}
}

// Status resolves a previously submitted signature for the reconciler:
// confirmed, still pending, or expired (the network does not know the
// signature and its blockhash validity window has passed, so the transfer
// can never land).
func (e *Executor) Status(ctx context.Context, signature string, lastValidBlockHeight uint64) (domain.PayoutStatus, error) {
	sig, err := solanago.SignatureFromBase58(signature)
	if err != nil {
		return "", fmt.Errorf("bad signature %q: %w", signature, err)
	}

	out, err := e.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return "", fmt.Errorf("%w: signature status: %v", domain.ErrTransient, err)
	}
	if len(out.Value) > 0 && out.Value[0] != nil {
		st := out.Value[0]
		if st.Err != nil {
			return domain.PayoutExpired, nil
		}
		switch st.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return domain.PayoutConfirmed, nil
		}
		return domain.PayoutPending, nil
	}

	height, err := e.client.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return "", fmt.Errorf("%w: block height: %v", domain.ErrTransient, err)
	}
	if height > lastValidBlockHeight {
		return domain.PayoutExpired, nil
	}
	return domain.PayoutPending, nil
}

func isInsufficientFunds(err error) bool {
	msg := strings.ToLower(err.Error())
	// The token program reports an insufficient source balance as custom
	// error 0x1 during preflight simulation.
	return strings.Contains(msg, "insufficient funds") ||
		strings.Contains(msg, "insufficient lamports") ||
		strings.Contains(msg, "custom program error: 0x1")
}

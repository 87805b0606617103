package solana

import (
	"context"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/cryptiq-labs/rewardsd/internal/domain"
)

// VerifyInboundPayment checks that a user-signed transaction actually moved
// at least expectedCost of the mint from the payer's wallet into the
// treasury, by diffing the transaction's pre/post token balances. Used by
// redemptions, where the user pays and the server only verifies.
func (e *Executor) VerifyInboundPayment(ctx context.Context, signature, payerWallet string, expectedCost decimal.Decimal) error {
	sig, err := solanago.SignatureFromBase58(signature)
	if err != nil {
		return fmt.Errorf("%w: bad transaction signature", domain.ErrInvalidRequest)
	}
	payer, err := solanago.PublicKeyFromBase58(payerWallet)
	if err != nil {
		return fmt.Errorf("%w: bad wallet address", domain.ErrInvalidRequest)
	}

	maxVersion := uint64(0)
	tx, err := e.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return fmt.Errorf("%w: transaction lookup: %v", domain.ErrTransient, err)
	}
	if tx == nil || tx.Meta == nil {
		return fmt.Errorf("%w: transaction not found", domain.ErrPaymentNotVerified)
	}
	if tx.Meta.Err != nil {
		return fmt.Errorf("%w: transaction failed on chain", domain.ErrPaymentNotVerified)
	}

	pre := e.tokenBalanceFor(tx.Meta.PreTokenBalances, payer)
	post := e.tokenBalanceFor(tx.Meta.PostTokenBalances, payer)
	if pre == nil || post == nil {
		return fmt.Errorf("%w: no token balances for payer", domain.ErrPaymentNotVerified)
	}

	paid := pre.Sub(*post)
	if paid.LessThan(expectedCost) {
		return fmt.Errorf("%w: expected %s, found %s", domain.ErrPaymentNotVerified, expectedCost, paid)
	}

	if e.tokenBalanceFor(tx.Meta.PostTokenBalances, e.opts.Treasury) == nil {
		return fmt.Errorf("%w: treasury did not receive the transfer", domain.ErrPaymentNotVerified)
	}
	return nil
}

// tokenBalanceFor extracts the owner's balance of the configured mint as a
// decimal token amount, or nil when the owner holds no balance entry.
func (e *Executor) tokenBalanceFor(balances []rpc.TokenBalance, owner solanago.PublicKey) *decimal.Decimal {
	for _, b := range balances {
		if b.Owner == nil || !b.Owner.Equals(owner) || !b.Mint.Equals(e.opts.Mint) {
			continue
		}
		if b.UiTokenAmount == nil {
			continue
		}
		raw, err := decimal.NewFromString(b.UiTokenAmount.Amount)
		if err != nil {
			continue
		}
		amount := raw.Shift(-int32(b.UiTokenAmount.Decimals))
		return &amount
	}
	return nil
}

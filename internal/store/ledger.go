package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/cryptiq-labs/rewardsd/internal/domain"
)

const claimColumns = `id, user_id, quiz_id, score, reward_amount::text, rewarded,
	COALESCE(wallet_address, ''), COALESCE(tx_signature, ''), created_at`

func scanClaim(row pgx.Row) (*domain.ClaimRecord, error) {
	var (
		c         domain.ClaimRecord
		amountStr string
	)
	err := row.Scan(&c.ID, &c.UserID, &c.QuizID, &c.Score, &amountStr,
		&c.Rewarded, &c.WalletAddress, &c.TxSignature, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if c.RewardAmount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("bad reward_amount on claim %d: %w", c.ID, err)
	}
	return &c, nil
}

// GetClaim retrieves one user's claim state for one quiz.
func (s *Store) GetClaim(ctx context.Context, userID string, quizID int64) (*domain.ClaimRecord, error) {
	claim, err := scanClaim(s.Db.QueryRow(ctx,
		"SELECT "+claimColumns+" FROM quiz_completions WHERE user_id = $1 AND quiz_id = $2",
		userID, quizID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrClaimNotFound
		}
		return nil, fmt.Errorf("claim query failed: %w", err)
	}
	return claim, nil
}

// UpsertUnpaidClaim creates or refreshes an unpaid completion. The unique
// index on (user_id, quiz_id) makes this safe under concurrent writers, and
// the WHERE guard means a paid row is never altered: for those the existing
// record is returned unchanged.
func (s *Store) UpsertUnpaidClaim(ctx context.Context, userID string, quizID int64, score int, amount decimal.Decimal) (*domain.ClaimRecord, error) {
	claim, err := scanClaim(s.Db.QueryRow(ctx,
		`INSERT INTO quiz_completions (user_id, quiz_id, score, reward_amount, rewarded)
		 VALUES ($1, $2, $3, $4, false)
		 ON CONFLICT (user_id, quiz_id) DO UPDATE
		 SET score = EXCLUDED.score, reward_amount = EXCLUDED.reward_amount, updated_at = now()
		 WHERE quiz_completions.rewarded = false
		 RETURNING `+claimColumns,
		userID, quizID, score, amount.String()))
	if err == nil {
		return claim, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("claim upsert failed: %w", err)
	}
	// Conflict with a paid row: the guarded update matched nothing.
	return s.GetClaim(ctx, userID, quizID)
}

// MarkPaid flips rewarded false->true with a single conditional update.
// The WHERE NOT rewarded clause, not a prior read, is the gate that keeps
// two racing payouts from both recording: only one update can match.
func (s *Store) MarkPaid(ctx context.Context, userID string, quizID int64, wallet, txSignature string) error {
	tag, err := s.Db.Exec(ctx,
		`UPDATE quiz_completions
		 SET rewarded = true, wallet_address = $3, tx_signature = $4, updated_at = now()
		 WHERE user_id = $1 AND quiz_id = $2 AND NOT rewarded`,
		userID, quizID, wallet, txSignature)
	if err != nil {
		return fmt.Errorf("mark paid failed: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing matched: either the row is already paid or it never existed.
	var rewarded bool
	err = s.Db.QueryRow(ctx,
		"SELECT rewarded FROM quiz_completions WHERE user_id = $1 AND quiz_id = $2",
		userID, quizID).Scan(&rewarded)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrClaimNotFound
	}
	if err != nil {
		return fmt.Errorf("mark paid recheck failed: %w", err)
	}
	if rewarded {
		return domain.ErrAlreadyPaid
	}
	return domain.ErrClaimNotFound
}

// ListUnpaidClaims returns the caller's unpaid completions with a positive
// reward.
func (s *Store) ListUnpaidClaims(ctx context.Context, userID string) ([]domain.ClaimRecord, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+claimColumns+" FROM quiz_completions WHERE user_id = $1 AND NOT rewarded AND reward_amount > 0 ORDER BY quiz_id",
		userID)
	if err != nil {
		return nil, fmt.Errorf("unpaid claims query failed: %w", err)
	}
	defer rows.Close()

	var claims []domain.ClaimRecord
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, *claim)
	}
	return claims, rows.Err()
}

// MarkManyPaid conditionally pays a batch of claims in one statement and
// reports how many rows actually flipped. Rows a concurrent claim already
// paid simply drop out of the affected set.
func (s *Store) MarkManyPaid(ctx context.Context, userID string, quizIDs []int64, wallet, txSignature string) (int64, error) {
	tag, err := s.Db.Exec(ctx,
		`UPDATE quiz_completions
		 SET rewarded = true, wallet_address = $3, tx_signature = $4, updated_at = now()
		 WHERE user_id = $1 AND quiz_id = ANY($2) AND NOT rewarded`,
		userID, quizIDs, wallet, txSignature)
	if err != nil {
		return 0, fmt.Errorf("batch mark paid failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreatePayoutAttempt journals a submitted transfer before confirmation.
func (s *Store) CreatePayoutAttempt(ctx context.Context, a *domain.PayoutAttempt) error {
	_, err := s.Db.Exec(ctx,
		`INSERT INTO payout_attempts
		 (id, user_id, quiz_ids, wallet_address, amount, amount_base, tx_signature, last_valid_block_height, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.UserID, a.QuizIDs, a.WalletAddress, a.Amount.String(), a.AmountBase,
		a.TxSignature, a.LastValidBlockHeight, string(a.Status))
	if err != nil {
		return fmt.Errorf("payout attempt insert failed: %w", err)
	}
	return nil
}

// SetPayoutAttemptStatus moves an attempt out of submitted.
func (s *Store) SetPayoutAttemptStatus(ctx context.Context, id uuid.UUID, status domain.PayoutStatus) error {
	tag, err := s.Db.Exec(ctx,
		"UPDATE payout_attempts SET status = $2, updated_at = now() WHERE id = $1",
		id, string(status))
	if err != nil {
		return fmt.Errorf("payout attempt update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payout attempt %s not found", id)
	}
	return nil
}

// ListSubmittedAttempts returns attempts still in submitted that are old
// enough for the reconciler to re-query.
func (s *Store) ListSubmittedAttempts(ctx context.Context, olderThan time.Time) ([]domain.PayoutAttempt, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT id, user_id, quiz_ids, wallet_address, amount::text, amount_base,
		        tx_signature, last_valid_block_height, status, created_at
		 FROM payout_attempts WHERE status = 'submitted' AND created_at < $1
		 ORDER BY created_at`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("submitted attempts query failed: %w", err)
	}
	defer rows.Close()

	var attempts []domain.PayoutAttempt
	for rows.Next() {
		var (
			a         domain.PayoutAttempt
			amountStr string
			status    string
		)
		err := rows.Scan(&a.ID, &a.UserID, &a.QuizIDs, &a.WalletAddress, &amountStr,
			&a.AmountBase, &a.TxSignature, &a.LastValidBlockHeight, &status, &a.CreatedAt)
		if err != nil {
			return nil, err
		}
		if a.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("bad amount on attempt %s: %w", a.ID, err)
		}
		a.Status = domain.PayoutStatus(status)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// HasInflightAttempt reports whether a submitted, unresolved transfer
// already covers this claim. Used to refuse a second transfer while the
// first is still ambiguous.
func (s *Store) HasInflightAttempt(ctx context.Context, userID string, quizID int64) (bool, error) {
	var exists bool
	err := s.Db.QueryRow(ctx,
		`SELECT EXISTS(
		   SELECT 1 FROM payout_attempts
		   WHERE user_id = $1 AND $2 = ANY(quiz_ids) AND status = 'submitted')`,
		userID, quizID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("inflight attempt query failed: %w", err)
	}
	return exists, nil
}

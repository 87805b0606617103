package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cryptiq-labs/rewardsd/internal/domain"
)

// Store is the Postgres-backed reward ledger.
type Store struct {
	Db *pgxpool.Pool
}

func NewStore(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// GetPolicy retrieves the reward configuration for one quiz.
func (s *Store) GetPolicy(ctx context.Context, quizID int64) (*domain.RewardPolicy, error) {
	var (
		p         domain.RewardPolicy
		amountStr string
	)
	err := s.Db.QueryRow(ctx,
		"SELECT id, title, reward_amount::text, passing_score FROM quizzes WHERE id = $1",
		quizID).Scan(&p.QuizID, &p.Title, &amountStr, &p.PassingScore)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPolicyNotFound
		}
		return nil, fmt.Errorf("policy query failed: %w", err)
	}
	if p.RewardAmount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("bad reward_amount for quiz %d: %w", quizID, err)
	}
	return &p, nil
}

// GetReward retrieves a redemption catalog item.
func (s *Store) GetReward(ctx context.Context, id int64) (*domain.CatalogReward, error) {
	var (
		r       domain.CatalogReward
		costStr string
	)
	err := s.Db.QueryRow(ctx,
		"SELECT id, name, cost::text FROM rewards WHERE id = $1",
		id).Scan(&r.ID, &r.Name, &costStr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRewardNotFound
		}
		return nil, fmt.Errorf("reward query failed: %w", err)
	}
	if r.Cost, err = decimal.NewFromString(costStr); err != nil {
		return nil, fmt.Errorf("bad cost for reward %d: %w", id, err)
	}
	return &r, nil
}

// InsertRedemption records a verified user->treasury payment. The unique
// index on tx_signature rejects a signature replayed against a second
// redemption.
func (s *Store) InsertRedemption(ctx context.Context, userID string, rewardID int64, costPaid decimal.Decimal, txSignature string) error {
	_, err := s.Db.Exec(ctx,
		"INSERT INTO user_redemptions (user_id, reward_id, cost_paid, tx_signature) VALUES ($1, $2, $3, $4)",
		userID, rewardID, costPaid.String(), txSignature)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateRedemption
		}
		return fmt.Errorf("redemption insert failed: %w", err)
	}
	return nil
}

// Leaderboard returns paid reward totals per user, highest first.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT user_id, SUM(reward_amount)::text, COUNT(*)
		 FROM quiz_completions WHERE rewarded
		 GROUP BY user_id ORDER BY SUM(reward_amount) DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard query failed: %w", err)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var (
			e        domain.LeaderboardEntry
			totalStr string
		)
		if err := rows.Scan(&e.UserID, &totalStr, &e.QuizzesPaid); err != nil {
			return nil, err
		}
		if e.TotalEarned, err = decimal.NewFromString(totalStr); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

package service

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"

	"github.com/cryptiq-labs/rewardsd/internal/domain"
	"github.com/cryptiq-labs/rewardsd/internal/logger"
)

var reconciledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rewardsd_reconciled_attempts_total",
	Help: "Payout attempts settled by the reconciler, by resolution",
}, []string{"resolution"})

// Reconciler settles payout attempts whose confirmation timed out. A
// transfer that landed after our deadline is promoted to paid through the
// same conditional MarkPaid every live request uses; one the network will
// never execute is expired so the claim becomes retryable.
type Reconciler struct {
	cron     *cron.Cron
	ledger   Ledger
	payer    Payer
	minAge   time.Duration
	schedule string
}

func NewReconciler(ledger Ledger, payer Payer, schedule string, minAge time.Duration) *Reconciler {
	return &Reconciler{
		cron:     cron.New(),
		ledger:   ledger,
		payer:    payer,
		minAge:   minAge,
		schedule: schedule,
	}
}

func (r *Reconciler) Start() error {
	_, err := r.cron.AddFunc(r.schedule, func() {
		if err := r.Run(context.Background()); err != nil {
			logger.Error("reconciliation pass failed: ", err)
		}
	})
	if err != nil {
		return err
	}

	r.cron.Start()
	logger.Info("payout reconciler started")
	return nil
}

func (r *Reconciler) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	logger.Info("payout reconciler stopped")
}

// Run performs one reconciliation pass. Exported so an operator can
// trigger it directly and tests can drive it without the cron.
func (r *Reconciler) Run(ctx context.Context) error {
	attempts, err := r.ledger.ListSubmittedAttempts(ctx, time.Now().Add(-r.minAge))
	if err != nil {
		return err
	}

	for _, attempt := range attempts {
		if err := r.settle(ctx, attempt); err != nil {
			logger.WithFields(map[string]interface{}{
				"attempt_id": attempt.ID,
				"signature":  attempt.TxSignature,
			}).Error("failed to settle payout attempt: ", err)
		}
	}
	return nil
}

func (r *Reconciler) settle(ctx context.Context, attempt domain.PayoutAttempt) error {
	status, err := r.payer.Status(ctx, attempt.TxSignature, attempt.LastValidBlockHeight)
	if err != nil {
		return err
	}

	switch status {
	case domain.PayoutConfirmed:
		if err := r.markPaid(ctx, attempt); err != nil {
			return err
		}
		if err := r.ledger.SetPayoutAttemptStatus(ctx, attempt.ID, domain.PayoutConfirmed); err != nil {
			return err
		}
		reconciledTotal.WithLabelValues("confirmed").Inc()
		logger.WithFields(map[string]interface{}{
			"attempt_id": attempt.ID,
			"user_id":    attempt.UserID,
			"signature":  attempt.TxSignature,
		}).Info("late-confirmed payout settled")

	case domain.PayoutExpired:
		if err := r.ledger.SetPayoutAttemptStatus(ctx, attempt.ID, domain.PayoutExpired); err != nil {
			return err
		}
		reconciledTotal.WithLabelValues("expired").Inc()
		logger.WithFields(map[string]interface{}{
			"attempt_id": attempt.ID,
			"user_id":    attempt.UserID,
			"signature":  attempt.TxSignature,
		}).Info("expired payout attempt released for retry")

	case domain.PayoutPending:
		// Still inside the blockhash validity window; check again later.
	}
	return nil
}

func (r *Reconciler) markPaid(ctx context.Context, attempt domain.PayoutAttempt) error {
	if len(attempt.QuizIDs) == 1 {
		err := r.ledger.MarkPaid(ctx, attempt.UserID, attempt.QuizIDs[0], attempt.WalletAddress, attempt.TxSignature)
		// A live request or an earlier pass may have won the commit.
		if err != nil && !errors.Is(err, domain.ErrAlreadyPaid) {
			return err
		}
		return nil
	}
	_, err := r.ledger.MarkManyPaid(ctx, attempt.UserID, attempt.QuizIDs, attempt.WalletAddress, attempt.TxSignature)
	return err
}

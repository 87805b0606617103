package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cryptiq-labs/rewardsd/internal/domain"
	"github.com/cryptiq-labs/rewardsd/internal/solana"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rewardsd_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rewardsd_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 45},
	}, []string{"method", "endpoint"})
)

// Claims is the coordinator surface the HTTP layer drives.
type Claims interface {
	RecordCompletion(ctx context.Context, userID string, quizID int64, score int) (*domain.CompletionResult, error)
	Claim(ctx context.Context, userID string, quizID int64, wallet string) (*domain.ClaimResult, error)
	ClaimPending(ctx context.Context, userID, wallet string) (*domain.PendingClaimResult, error)
	GetClaim(ctx context.Context, userID string, quizID int64) (*domain.ClaimRecord, error)
	Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
}

// Redemptions verifies and records reward redemptions.
type Redemptions interface {
	Redeem(ctx context.Context, userID string, rewardID int64, txSignature, wallet string) (*domain.RedemptionResult, error)
}

type Handler struct {
	claims      Claims
	redemptions Redemptions
}

func NewHandler(claims Claims, redemptions Redemptions) *Handler {
	return &Handler{claims: claims, redemptions: redemptions}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type completionRequest struct {
	QuizID int64 `json:"quiz_id"`
	Score  *int  `json:"score"`
}

func (h *Handler) RecordCompletionHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/completions"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Score == nil {
		h.respondError(w, http.StatusBadRequest, "quiz_id and score are required", "POST", endpoint)
		return
	}

	result, err := h.claims.RecordCompletion(r.Context(), userID(r), req.QuizID, *req.Score)
	if err != nil {
		h.respondServiceError(w, err, "POST", endpoint)
		return
	}

	status := http.StatusCreated
	if result.AlreadyRecorded {
		status = http.StatusOK
	}
	h.respondJSON(w, status, map[string]interface{}{
		"success":          true,
		"already_recorded": result.AlreadyRecorded,
		"amount":           result.Amount,
		"passed":           result.Passed,
	}, "POST", endpoint)
}

type claimRequest struct {
	QuizID        int64  `json:"quiz_id"`
	WalletAddress string `json:"wallet_address"`
}

func (h *Handler) ClaimHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/claims"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed JSON body", "POST", endpoint)
		return
	}
	if !solana.ValidAddress(req.WalletAddress) {
		h.respondError(w, http.StatusBadRequest, "invalid wallet address", "POST", endpoint)
		return
	}

	result, err := h.claims.Claim(r.Context(), userID(r), req.QuizID, req.WalletAddress)
	if err != nil {
		h.respondServiceError(w, err, "POST", endpoint)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":          true,
		"already_rewarded": result.AlreadyRewarded,
		"amount":           result.Amount,
		"tx_signature":     result.TxSignature,
	}, "POST", endpoint)
}

type pendingClaimRequest struct {
	WalletAddress string `json:"wallet_address"`
}

func (h *Handler) ClaimPendingHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/claims/pending"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req pendingClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed JSON body", "POST", endpoint)
		return
	}
	if !solana.ValidAddress(req.WalletAddress) {
		h.respondError(w, http.StatusBadRequest, "invalid wallet address", "POST", endpoint)
		return
	}

	result, err := h.claims.ClaimPending(r.Context(), userID(r), req.WalletAddress)
	if err != nil {
		h.respondServiceError(w, err, "POST", endpoint)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"total_claimed": result.TotalClaimed,
		"quiz_ids":      result.QuizIDs,
		"tx_signature":  result.TxSignature,
	}, "POST", endpoint)
}

type redeemRequest struct {
	RewardID      int64  `json:"reward_id"`
	TxSignature   string `json:"tx_signature"`
	WalletAddress string `json:"wallet_address"`
}

func (h *Handler) RedeemHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/redemptions"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed JSON body", "POST", endpoint)
		return
	}
	if !solana.ValidAddress(req.WalletAddress) {
		h.respondError(w, http.StatusBadRequest, "invalid wallet address", "POST", endpoint)
		return
	}

	result, err := h.redemptions.Redeem(r.Context(), userID(r), req.RewardID, req.TxSignature, req.WalletAddress)
	if err != nil {
		h.respondServiceError(w, err, "POST", endpoint)
		return
	}

	h.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success":      true,
		"reward_id":    result.RewardID,
		"cost_paid":    result.CostPaid,
		"tx_signature": result.TxSignature,
	}, "POST", endpoint)
}

func (h *Handler) GetClaimHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/claims/{quizID}"

	quizID, err := strconv.ParseInt(mux.Vars(r)["quizID"], 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid quiz id", "GET", endpoint)
		return
	}

	claim, err := h.claims.GetClaim(r.Context(), userID(r), quizID)
	if err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, claim, "GET", endpoint)
}

func (h *Handler) LeaderboardHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/leaderboard"

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.claims.Leaderboard(r.Context(), limit)
	if err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	h.respondJSON(w, http.StatusOK, entries, "GET", endpoint)
}

// respondServiceError maps the shared error taxonomy onto HTTP statuses so
// the client can tell retry, wait and stop apart.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error, method, endpoint string) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		h.respondError(w, http.StatusUnauthorized, "unauthorized", method, endpoint)
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrNotEligible):
		h.respondError(w, http.StatusBadRequest, err.Error(), method, endpoint)
	case errors.Is(err, domain.ErrClaimNotFound),
		errors.Is(err, domain.ErrPolicyNotFound),
		errors.Is(err, domain.ErrRewardNotFound):
		h.respondError(w, http.StatusNotFound, err.Error(), method, endpoint)
	case errors.Is(err, domain.ErrDestinationNotReady),
		errors.Is(err, domain.ErrFundsExhausted),
		errors.Is(err, domain.ErrDuplicateRedemption),
		errors.Is(err, domain.ErrPaymentNotVerified):
		h.respondError(w, http.StatusConflict, err.Error(), method, endpoint)
	case domain.Retryable(err):
		h.respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"success":   false,
			"error":     err.Error(),
			"retryable": true,
		}, method, endpoint)
	default:
		h.respondError(w, http.StatusInternalServerError, "internal server error", method, endpoint)
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	respondWithJSON(w, code, payload)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]interface{}{"success": false, "error": msg}, method, endpoint)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptiq-labs/rewardsd/internal/domain"
)

const testWallet = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

type stubIdentity struct {
	id  string
	err error
}

func (s *stubIdentity) Resolve(context.Context, string) (string, error) {
	return s.id, s.err
}

type stubClaims struct {
	completion *domain.CompletionResult
	claim      *domain.ClaimResult
	pending    *domain.PendingClaimResult
	record     *domain.ClaimRecord
	entries    []domain.LeaderboardEntry
	err        error

	gotUserID string
	gotQuizID int64
	gotWallet string
}

func (s *stubClaims) RecordCompletion(_ context.Context, userID string, quizID int64, _ int) (*domain.CompletionResult, error) {
	s.gotUserID, s.gotQuizID = userID, quizID
	return s.completion, s.err
}

func (s *stubClaims) Claim(_ context.Context, userID string, quizID int64, wallet string) (*domain.ClaimResult, error) {
	s.gotUserID, s.gotQuizID, s.gotWallet = userID, quizID, wallet
	return s.claim, s.err
}

func (s *stubClaims) ClaimPending(_ context.Context, userID, wallet string) (*domain.PendingClaimResult, error) {
	s.gotUserID, s.gotWallet = userID, wallet
	return s.pending, s.err
}

func (s *stubClaims) GetClaim(_ context.Context, userID string, quizID int64) (*domain.ClaimRecord, error) {
	s.gotUserID, s.gotQuizID = userID, quizID
	return s.record, s.err
}

func (s *stubClaims) Leaderboard(context.Context, int) ([]domain.LeaderboardEntry, error) {
	return s.entries, s.err
}

type stubRedemptions struct {
	result *domain.RedemptionResult
	err    error
}

func (s *stubRedemptions) Redeem(context.Context, string, int64, string, string) (*domain.RedemptionResult, error) {
	return s.result, s.err
}

func newTestRouter(claims Claims, redemptions Redemptions, identity *stubIdentity) *mux.Router {
	h := NewHandler(claims, redemptions)
	r := mux.NewRouter()
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(AuthMiddleware(identity))
	v1.HandleFunc("/completions", h.RecordCompletionHandler).Methods(http.MethodPost)
	v1.HandleFunc("/claims", h.ClaimHandler).Methods(http.MethodPost)
	v1.HandleFunc("/claims/pending", h.ClaimPendingHandler).Methods(http.MethodPost)
	v1.HandleFunc("/claims/{quizID}", h.GetClaimHandler).Methods(http.MethodGet)
	v1.HandleFunc("/redemptions", h.RedeemHandler).Methods(http.MethodPost)
	v1.HandleFunc("/leaderboard", h.LeaderboardHandler).Methods(http.MethodGet)
	return r
}

func doRequest(t *testing.T, router *mux.Router, method, path, body string, authorized bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authorized {
		req.Header.Set("Authorization", "Bearer token-abc")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestAuthMiddleware(t *testing.T) {
	claims := &stubClaims{claim: &domain.ClaimResult{}}
	body := `{"quiz_id":1,"wallet_address":"` + testWallet + `"}`

	t.Run("missing bearer token", func(t *testing.T) {
		router := newTestRouter(claims, &stubRedemptions{}, &stubIdentity{id: "user-a"})
		rec := doRequest(t, router, http.MethodPost, "/api/v1/claims", body, false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejected token", func(t *testing.T) {
		router := newTestRouter(claims, &stubRedemptions{}, &stubIdentity{err: domain.ErrUnauthorized})
		rec := doRequest(t, router, http.MethodPost, "/api/v1/claims", body, true)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("identity service down", func(t *testing.T) {
		router := newTestRouter(claims, &stubRedemptions{}, &stubIdentity{err: domain.ErrTransient})
		rec := doRequest(t, router, http.MethodPost, "/api/v1/claims", body, true)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, true, decodeBody(t, rec)["retryable"])
	})

	t.Run("resolved user reaches the handler", func(t *testing.T) {
		c := &stubClaims{claim: &domain.ClaimResult{}}
		router := newTestRouter(c, &stubRedemptions{}, &stubIdentity{id: "user-a"})
		rec := doRequest(t, router, http.MethodPost, "/api/v1/claims", body, true)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "user-a", c.gotUserID)
	})
}

func TestClaimHandler(t *testing.T) {
	identity := &stubIdentity{id: "user-a"}

	t.Run("successful claim", func(t *testing.T) {
		claims := &stubClaims{claim: &domain.ClaimResult{
			Amount:      decimal.RequireFromString("12.5"),
			TxSignature: "sig-1",
		}}
		router := newTestRouter(claims, &stubRedemptions{}, identity)
		rec := doRequest(t, router, http.MethodPost, "/api/v1/claims",
			`{"quiz_id":3,"wallet_address":"`+testWallet+`"}`, true)

		require.Equal(t, http.StatusOK, rec.Code)
		out := decodeBody(t, rec)
		assert.Equal(t, true, out["success"])
		assert.Equal(t, false, out["already_rewarded"])
		assert.Equal(t, "12.5", out["amount"])
		assert.Equal(t, "sig-1", out["tx_signature"])
		assert.Equal(t, int64(3), claims.gotQuizID)
		assert.Equal(t, testWallet, claims.gotWallet)
	})

	t.Run("invalid wallet address", func(t *testing.T) {
		router := newTestRouter(&stubClaims{}, &stubRedemptions{}, identity)
		rec := doRequest(t, router, http.MethodPost, "/api/v1/claims",
			`{"quiz_id":3,"wallet_address":"garbage"}`, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		router := newTestRouter(&stubClaims{}, &stubRedemptions{}, identity)
		rec := doRequest(t, router, http.MethodPost, "/api/v1/claims", `{not json`, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServiceErrorMapping(t *testing.T) {
	identity := &stubIdentity{id: "user-a"}
	body := `{"quiz_id":3,"wallet_address":"` + testWallet + `"}`

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"score below threshold", domain.ErrNotEligible, http.StatusBadRequest},
		{"no completion on record", domain.ErrClaimNotFound, http.StatusNotFound},
		{"no reward policy", domain.ErrPolicyNotFound, http.StatusNotFound},
		{"destination has no token account", domain.ErrDestinationNotReady, http.StatusConflict},
		{"treasury empty", domain.ErrFundsExhausted, http.StatusConflict},
		{"rpc flake", domain.ErrTransient, http.StatusServiceUnavailable},
		{"confirmation timed out", domain.ErrUnconfirmed, http.StatusServiceUnavailable},
		{"another claim in flight", domain.ErrClaimInFlight, http.StatusServiceUnavailable},
		{"unexpected failure", context.DeadlineExceeded, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&stubClaims{err: tt.err}, &stubRedemptions{}, identity)
			rec := doRequest(t, router, http.MethodPost, "/api/v1/claims", body, true)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusServiceUnavailable {
				assert.Equal(t, true, decodeBody(t, rec)["retryable"])
			}
		})
	}
}

func TestRecordCompletionHandler(t *testing.T) {
	identity := &stubIdentity{id: "user-a"}

	t.Run("fresh completion is created", func(t *testing.T) {
		claims := &stubClaims{completion: &domain.CompletionResult{
			Passed: true,
			Amount: decimal.RequireFromString("20"),
		}}
		router := newTestRouter(claims, &stubRedemptions{}, identity)
		rec := doRequest(t, router, http.MethodPost, "/api/v1/completions",
			`{"quiz_id":3,"score":82}`, true)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, true, decodeBody(t, rec)["passed"])
	})

	t.Run("replay returns 200", func(t *testing.T) {
		claims := &stubClaims{completion: &domain.CompletionResult{AlreadyRecorded: true, Passed: true}}
		router := newTestRouter(claims, &stubRedemptions{}, identity)
		rec := doRequest(t, router, http.MethodPost, "/api/v1/completions",
			`{"quiz_id":3,"score":82}`, true)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("score is required", func(t *testing.T) {
		router := newTestRouter(&stubClaims{}, &stubRedemptions{}, identity)
		rec := doRequest(t, router, http.MethodPost, "/api/v1/completions",
			`{"quiz_id":3}`, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetClaimHandler(t *testing.T) {
	identity := &stubIdentity{id: "user-a"}

	t.Run("found", func(t *testing.T) {
		claims := &stubClaims{record: &domain.ClaimRecord{
			UserID:   "user-a",
			QuizID:   3,
			Score:    82,
			Rewarded: true,
		}}
		router := newTestRouter(claims, &stubRedemptions{}, identity)
		rec := doRequest(t, router, http.MethodGet, "/api/v1/claims/3", "", true)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(3), claims.gotQuizID)
	})

	t.Run("not found", func(t *testing.T) {
		router := newTestRouter(&stubClaims{err: domain.ErrClaimNotFound}, &stubRedemptions{}, identity)
		rec := doRequest(t, router, http.MethodGet, "/api/v1/claims/99", "", true)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("non-numeric quiz id", func(t *testing.T) {
		router := newTestRouter(&stubClaims{}, &stubRedemptions{}, identity)
		rec := doRequest(t, router, http.MethodGet, "/api/v1/claims/abc", "", true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRedeemHandler(t *testing.T) {
	identity := &stubIdentity{id: "user-a"}
	body := `{"reward_id":2,"tx_signature":"sig-pay","wallet_address":"` + testWallet + `"}`

	t.Run("verified redemption", func(t *testing.T) {
		redemptions := &stubRedemptions{result: &domain.RedemptionResult{
			RewardID:    2,
			CostPaid:    decimal.RequireFromString("50"),
			TxSignature: "sig-pay",
		}}
		router := newTestRouter(&stubClaims{}, redemptions, identity)
		rec := doRequest(t, router, http.MethodPost, "/api/v1/redemptions", body, true)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "50", decodeBody(t, rec)["cost_paid"])
	})

	t.Run("duplicate payment signature", func(t *testing.T) {
		router := newTestRouter(&stubClaims{}, &stubRedemptions{err: domain.ErrDuplicateRedemption}, identity)
		rec := doRequest(t, router, http.MethodPost, "/api/v1/redemptions", body, true)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("payment not on chain", func(t *testing.T) {
		router := newTestRouter(&stubClaims{}, &stubRedemptions{err: domain.ErrPaymentNotVerified}, identity)
		rec := doRequest(t, router, http.MethodPost, "/api/v1/redemptions", body, true)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestLeaderboardHandler(t *testing.T) {
	identity := &stubIdentity{id: "user-a"}

	claims := &stubClaims{entries: []domain.LeaderboardEntry{
		{UserID: "user-a", TotalEarned: decimal.RequireFromString("40"), QuizzesPaid: 3},
	}}
	router := newTestRouter(claims, &stubRedemptions{}, identity)
	rec := doRequest(t, router, http.MethodGet, "/api/v1/leaderboard?limit=5", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	require.Len(t, out, 1)
	assert.Equal(t, "user-a", out[0]["user_id"])
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(&stubClaims{}, &stubRedemptions{}, &stubIdentity{})
	rec := doRequest(t, router, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

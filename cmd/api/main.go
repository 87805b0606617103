package main

import (
	"flag"
	"fmt"
	"net/http"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cryptiq-labs/rewardsd/internal/api"
	"github.com/cryptiq-labs/rewardsd/internal/auth"
	"github.com/cryptiq-labs/rewardsd/internal/config"
	"github.com/cryptiq-labs/rewardsd/internal/logger"
	"github.com/cryptiq-labs/rewardsd/internal/service"
	"github.com/cryptiq-labs/rewardsd/internal/solana"
	"github.com/cryptiq-labs/rewardsd/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (optional, env vars take precedence)")
	flag.Parse()

	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config: ", err)
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		logger.Fatal("failed to init logger: ", err)
	}

	ledgerStore, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("unable to connect to database: ", err)
	}
	defer ledgerStore.Close()

	fundingKey, err := solanago.PrivateKeyFromBase58(cfg.Solana.FundingKey)
	if err != nil {
		logger.Fatal("invalid funding key: ", err)
	}
	mint, err := solanago.PublicKeyFromBase58(cfg.Solana.TokenMint)
	if err != nil {
		logger.Fatal("invalid token mint: ", err)
	}
	treasury, err := solanago.PublicKeyFromBase58(cfg.Solana.TreasuryWallet)
	if err != nil {
		logger.Fatal("invalid treasury wallet: ", err)
	}

	executor := solana.NewExecutor(rpc.New(cfg.Solana.RPCURL), solana.Options{
		FundingKey:     fundingKey,
		Mint:           mint,
		Treasury:       treasury,
		ConfirmTimeout: cfg.Solana.ConfirmDeadline(),
		PollInterval:   cfg.Solana.PollInterval(),
	})

	claims := service.NewClaimService(ledgerStore, executor, cfg.Solana.TokenDecimals)
	redemptions := service.NewRedemptionService(ledgerStore, executor)
	identity := auth.NewHTTPIdentity(cfg.Auth.BaseURL, cfg.Auth.APIKey)
	handler := api.NewHandler(claims, redemptions)

	if cfg.Reconciler.Enabled {
		reconciler := service.NewReconciler(ledgerStore, executor, cfg.Reconciler.Schedule, cfg.Reconciler.MinAttemptAge())
		if err := reconciler.Start(); err != nil {
			logger.Fatal("failed to start reconciler: ", err)
		}
		defer reconciler.Stop()
	}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.HealthCheckHandler).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(api.AuthMiddleware(identity))
	apiV1.HandleFunc("/completions", handler.RecordCompletionHandler).Methods("POST")
	apiV1.HandleFunc("/claims", handler.ClaimHandler).Methods("POST")
	apiV1.HandleFunc("/claims/pending", handler.ClaimPendingHandler).Methods("POST")
	apiV1.HandleFunc("/claims/{quizID:[0-9]+}", handler.GetClaimHandler).Methods("GET")
	apiV1.HandleFunc("/redemptions", handler.RedeemHandler).Methods("POST")
	apiV1.HandleFunc("/leaderboard", handler.LeaderboardHandler).Methods("GET")

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		// Claims block on on-chain confirmation, so writes get a long leash.
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	logger.Info("server starting on ", srv.Addr)
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal(err)
	}
}

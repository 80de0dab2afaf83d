package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/binopt/settlement-engine/internal/asset"
	"github.com/binopt/settlement-engine/internal/metrics"
	"github.com/binopt/settlement-engine/internal/oracle"
	"github.com/binopt/settlement-engine/internal/queue"
	"github.com/binopt/settlement-engine/internal/reconcile"
	"github.com/binopt/settlement-engine/internal/risk"
	"github.com/binopt/settlement-engine/internal/store"
	"github.com/binopt/settlement-engine/internal/trade"
	"github.com/binopt/settlement-engine/internal/wallet"
)

func main() {
	godotenv.Load() // .env is optional; real env always wins

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Background context for workers, poller, and the reconciliation sweep.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	var cleanup []func()

	// --- Redis (queue transport + price cache) ---
	var rdb *redis.Client
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		slog.Info("connected to Redis")
	}

	// --- Store ---
	var st store.Store
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		if err := store.Migrate(context.Background(), pool); err != nil {
			slog.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Settlement queue ---
	leaseTTL := envDuration("SETTLE_LEASE_TTL", 30*time.Second)
	var q queue.Queue
	if rdb != nil {
		q = queue.NewRedisQueue(rdb, leaseTTL)
	} else {
		slog.Warn("REDIS_URL not set, using in-memory queue (jobs will not persist)")
		q = queue.NewMemoryQueue(leaseTTL)
	}

	// --- Price oracle ---
	var priceSource oracle.Oracle
	var historian trade.Historian
	if os.Getenv("PRICE_FEED") == "static" {
		// Development mode: fixed prices, no outbound calls.
		prices := make(map[string]decimal.Decimal)
		for i, symbol := range asset.Symbols() {
			prices[symbol] = decimal.NewFromInt(int64(1000 * (i + 1)))
		}
		priceSource = oracle.NewStaticOracle(prices)
		slog.Warn("PRICE_FEED=static, serving fixed development prices")
	} else {
		cg := oracle.NewCoinGeckoOracle(os.Getenv("COINGECKO_URL"), 5*time.Second)
		priceSource = cg
		historian = cg
	}

	var cache *oracle.CachedOracle
	priceOracle := priceSource
	if rdb != nil {
		cache = oracle.NewCachedOracle(priceSource, rdb, envDuration("PRICE_CACHE_TTL", 10*time.Second))
		priceOracle = cache
	}

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run()

	// --- Price poller ---
	poller := oracle.NewPoller(priceSource, cache, envDuration("PRICE_POLL_INTERVAL", 5*time.Second),
		func(symbol string, price decimal.Decimal, at time.Time) {
			wsHub.BroadcastPrice(symbol, price.String(), at)
		})
	go poller.Run(bgCtx)

	// --- Risk limits ---
	limiter := risk.NewLimiter(
		envInt("MAX_OPEN_TRADES", 10),
		decimal.NewFromInt(int64(envInt("MAX_LOCKED_STAKE", 500000))),
	)

	// --- Services ---
	tradeCfg := trade.Config{
		MinStake:       envDecimal("MIN_TRADE_AMOUNT", decimal.NewFromInt(10)),
		MaxStake:       envDecimal("MAX_TRADE_AMOUNT", decimal.NewFromInt(100000)),
		MinDuration:    envInt("MIN_TRADE_DURATION", 60),
		MaxDuration:    envInt("MAX_TRADE_DURATION", 300),
		WinMultiplier:  envDecimal("WIN_MULTIPLIER", decimal.NewFromFloat(1.75)),
		LossMultiplier: envDecimal("LOSS_MULTIPLIER", decimal.NewFromFloat(0.5)),
	}
	tradeSvc := trade.NewService(st, priceOracle, q, limiter, wsHub, tradeCfg)
	if historian != nil {
		tradeSvc.SetHistorian(historian)
	}
	walletSvc := wallet.NewService(st)

	// --- Settlement worker pool ---
	worker := queue.NewWorker(q, tradeSvc, queue.WorkerConfig{
		Concurrency: envInt("SETTLE_CONCURRENCY", 2),
		MaxAttempts: envInt("SETTLE_MAX_ATTEMPTS", 3),
		BackoffBase: envDuration("SETTLE_BACKOFF_BASE", 2*time.Second),
	})
	go worker.Run(bgCtx)

	// --- Reconciliation sweep ---
	sweeper := reconcile.NewSweeper(st, q,
		envDuration("RECONCILE_GRACE", 30*time.Second),
		envDuration("RECONCILE_INTERVAL", time.Minute))
	go sweeper.Run(bgCtx)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"settlement-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for price ticks and settlement events.
		r.Get("/ws", wsHub.HandleWS)

		// Wallets.
		r.Post("/wallets", walletSvc.CreateWallet)
		r.Get("/users/{userID}/wallet", walletSvc.GetWallet)
		r.Post("/users/{userID}/wallet/deposit", walletSvc.Deposit)
		r.Post("/users/{userID}/wallet/withdraw", walletSvc.Withdraw)
		r.Get("/users/{userID}/wallet/transactions", walletSvc.ListTransactions)

		// Trades.
		r.Post("/trades", tradeSvc.CreateTrade)
		r.Get("/trades/{tradeID}", tradeSvc.GetTrade)
		r.Post("/trades/{tradeID}/cancel", tradeSvc.CancelTrade)
		r.Get("/users/{userID}/trades/active", tradeSvc.ListActiveTrades)
		r.Get("/users/{userID}/trades/history", tradeSvc.ListTradeHistory)

		// Prices.
		r.Get("/prices/{symbol}", tradeSvc.GetPrice)
		r.Get("/prices/{symbol}/history", tradeSvc.GetPriceHistory)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("settlement-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down settlement-engine...")
	bgCancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("settlement-engine stopped")
}

func envInt(key string, def int) int {
	if raw := os.Getenv(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
		slog.Warn("ignoring invalid integer env var", "key", key, "value", raw)
	}
	return def
}

func envDecimal(key string, def decimal.Decimal) decimal.Decimal {
	if raw := os.Getenv(key); raw != "" {
		if d, err := decimal.NewFromString(raw); err == nil {
			return d
		}
		slog.Warn("ignoring invalid decimal env var", "key", key, "value", raw)
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
		slog.Warn("ignoring invalid duration env var", "key", key, "value", raw)
	}
	return def
}

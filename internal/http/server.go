package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pocketledger/internal/cache"
	"pocketledger/internal/core"
	"pocketledger/internal/ledger"
	"pocketledger/internal/log"
	"pocketledger/internal/middleware/ratelimit"
	"pocketledger/internal/middleware/security"
	"pocketledger/internal/middleware/trace"
)

// Ledger is the subset of the orchestrator the API drives.
type Ledger interface {
	CreateWallet(ctx context.Context, w core.Wallet) (core.Wallet, error)
	GetWallet(ctx context.Context, ownerID string, id int64) (core.Wallet, error)
	ListWallets(ctx context.Context, ownerID string) ([]core.Wallet, error)
	DeleteWallet(ctx context.Context, ownerID string, id int64) error
	Reconcile(ctx context.Context, ownerID string, walletID int64, initial decimal.Decimal) (ledger.Reconciliation, error)

	CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)
	GetTransaction(ctx context.Context, ownerID string, id int64) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, ownerID string, id int64, patch core.TransactionPatch) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, ownerID string, id int64) error
	ListForWallet(ctx context.Context, ownerID string, walletID int64, from, to time.Time) ([]core.Transaction, error)
	ListForCategory(ctx context.Context, ownerID string, categoryID int64, period core.Period) ([]core.Transaction, error)
}

type Budgets interface {
	CreateBudget(ctx context.Context, b core.Budget) (core.Budget, error)
	DeleteBudget(ctx context.Context, ownerID string, id int64) error
	List(ctx context.Context, ownerID string) ([]core.Budget, error)
	Summary(ctx context.Context, ownerID string) (core.BudgetSummary, error)
	RecomputeAll(ctx context.Context, ownerID string) ([]core.Budget, error)
}

type Predictions interface {
	GetOrGenerate(ctx context.Context, ownerID string, budgets []core.Budget, txs []core.Transaction, language string) (core.PredictionSet, error)
	Refresh(ctx context.Context, ownerID string, budgets []core.Budget, txs []core.Transaction, language string) (core.PredictionSet, error)
	LocalCache() cache.Cleaner
}

// Deps are the services behind the API.
type Deps struct {
	Ledger      Ledger
	Budgets     Budgets
	Predictions Predictions
	// Ping backs /readyz; nil means always ready.
	Ping func(ctx context.Context) error
	// Location interprets date-only query values; nil means UTC.
	Location *time.Location
}

// Options tune the middleware stack.
type Options struct {
	RateLimit            ratelimit.Config
	CacheCleanupInterval time.Duration
	ReadinessTimeout     time.Duration
}

// DefaultOptions returns the production middleware settings.
func DefaultOptions() Options {
	return Options{
		RateLimit:            ratelimit.DefaultConfig(),
		CacheCleanupInterval: 10 * time.Minute,
		ReadinessTimeout:     2 * time.Second,
	}
}

// Server wraps http.Server with the ledger API routes and its background
// cleanup routines.
type Server struct {
	http.Server

	deps    Deps
	opts    Options
	logger  *log.Logger
	now     func() time.Time
	limiter *ratelimit.Limiter
	tracer  *trace.Middleware

	stopCacheCleanup context.CancelFunc
	shutdownOnce     sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Deps, opts Options, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if opts.CacheCleanupInterval <= 0 {
		opts.CacheCleanupInterval = DefaultOptions().CacheCleanupInterval
	}
	if opts.ReadinessTimeout <= 0 {
		opts.ReadinessTimeout = DefaultOptions().ReadinessTimeout
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		deps:    deps,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		limiter: ratelimit.NewLimiter(opts.RateLimit),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	api := http.NewServeMux()
	api.HandleFunc("POST /v1/wallets", s.handleCreateWallet)
	api.HandleFunc("GET /v1/wallets", s.handleListWallets)
	api.HandleFunc("GET /v1/wallets/{id}", s.handleGetWallet)
	api.HandleFunc("DELETE /v1/wallets/{id}", s.handleDeleteWallet)
	api.HandleFunc("GET /v1/wallets/{id}/transactions", s.handleListWalletTransactions)
	api.HandleFunc("GET /v1/wallets/{id}/reconciliation", s.handleReconcileWallet)

	api.HandleFunc("POST /v1/transactions", s.handleCreateTransaction)
	api.HandleFunc("GET /v1/transactions", s.handleListCategoryTransactions)
	api.HandleFunc("GET /v1/transactions/{id}", s.handleGetTransaction)
	api.HandleFunc("PATCH /v1/transactions/{id}", s.handleUpdateTransaction)
	api.HandleFunc("DELETE /v1/transactions/{id}", s.handleDeleteTransaction)

	api.HandleFunc("POST /v1/budgets", s.handleCreateBudget)
	api.HandleFunc("GET /v1/budgets", s.handleListBudgets)
	api.HandleFunc("DELETE /v1/budgets/{id}", s.handleDeleteBudget)
	api.HandleFunc("GET /v1/budgets/summary", s.handleBudgetSummary)
	api.HandleFunc("POST /v1/budgets/recompute", s.handleRecomputeBudgets)

	api.HandleFunc("GET /v1/predictions", s.handleGetPredictions)
	api.HandleFunc("POST /v1/predictions/refresh", s.handleRefreshPredictions)

	detector := security.NewDetector(logger)
	limit := s.limiter.Middleware(
		func(r *http.Request) string {
			// Owner when known, address otherwise.
			if owner, err := parseOwner(r); err == nil {
				return "owner:" + owner
			}
			return "ip:" + detector.ExtractClientIP(r)
		},
		func(w http.ResponseWriter, r *http.Request) {
			ErrorResponse(http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded, retry later").Write(w)
		},
		http.MethodPost, http.MethodPatch, http.MethodDelete)
	mux.Handle("/v1/", limit(requireOwner(api)))

	s.tracer = trace.NewMiddleware(detector.ExtractClientIP, logger)
	var handler http.Handler = mux
	handler = log.Middleware(logger, trace.RequestID)(handler)
	handler = s.tracer.Middleware(handler)
	handler = detector.Middleware(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if deps.Predictions != nil {
		caches := cache.NewManager(logger)
		caches.Register(deps.Predictions.LocalCache())
		ctx, cancel := context.WithCancel(context.Background())
		s.stopCacheCleanup = cancel
		go caches.Run(ctx, opts.CacheCleanupInterval)
	}

	return s
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.stopCacheCleanup != nil {
			s.stopCacheCleanup()
		}
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// Metrics exposes the request counters of the trace middleware.
func (s *Server) Metrics() trace.Metrics {
	return s.tracer.GetMetrics()
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.opts.ReadinessTimeout)
		defer cancel()
		if err := s.deps.Ping(ctx); err != nil {
			s.logger.WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			ErrorResponse(http.StatusServiceUnavailable, CodeUnavailable, "storage not reachable").Write(w)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

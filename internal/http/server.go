package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"ledger/internal/carryover"
	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/middleware/ratelimit"
	"ledger/internal/middleware/security"
	"ledger/internal/middleware/trace"
	"ledger/internal/period"
	"ledger/internal/services"
)

// Ledger is what the API needs from services.LedgerService.
type Ledger interface {
	Ping(ctx context.Context) error

	Account(ctx context.Context, accountID string) (core.Account, error)
	ListAccounts(ctx context.Context) ([]core.Account, error)
	CreateAccount(ctx context.Context, name string, startDay int) (core.Account, error)
	UpdatePeriodStartDay(ctx context.Context, accountID string, day int) error

	ListBuckets(ctx context.Context, accountID string) ([]core.BucketConfig, error)
	CreateBucket(ctx context.Context, accountID string, b core.BucketConfig) (core.BucketConfig, error)
	UpdateBucket(ctx context.Context, accountID, id string, patch services.BucketPatch) (core.BucketConfig, error)
	ReorderBuckets(ctx context.Context, accountID string, ids []string) ([]core.BucketConfig, error)
	DeleteBucket(ctx context.Context, accountID, id string) error
	ListCategories(ctx context.Context, accountID string) ([]core.Category, error)
	CreateCategory(ctx context.Context, accountID string, c core.Category) (core.Category, error)
	UpdateCategory(ctx context.Context, accountID, id string, patch services.CategoryPatch) (core.Category, error)
	DeleteCategory(ctx context.Context, accountID, id string) error

	CurrentPeriod(ctx context.Context, accountID string) (services.PeriodInfo, error)
	ResolvePeriod(ctx context.Context, accountID, raw string) (core.Account, period.Period, error)
	View(ctx context.Context, acc core.Account, p period.Period) (services.PeriodView, error)
	RequestSync(ctx context.Context, accountID string, p period.Period, reason string) (bool, carryover.Result, error)

	UpdateMonthData(ctx context.Context, accountID string, p period.Period, salary, monthlyLimit core.Money) error
	SetFixedPaymentPaid(ctx context.Context, accountID string, p period.Period, fixedPaymentID string, paid bool) error
	UpdateBucketPayment(ctx context.Context, id string, patch services.BucketPaymentPatch) (core.BucketPayment, error)
	DeleteBucketPayment(ctx context.Context, id string) error

	CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error)
	UpdateExpense(ctx context.Context, accountID, id string, patch services.ExpensePatch) (core.Expense, error)
	DeleteExpense(ctx context.Context, accountID, id string) error
	CreateFixedPayment(ctx context.Context, fp core.FixedPayment) (core.FixedPayment, error)
	UpdateFixedPayment(ctx context.Context, accountID, id string, patch services.FixedPaymentPatch) (core.FixedPayment, error)
	DeleteFixedPayment(ctx context.Context, accountID, id string) error
	AddSavings(ctx context.Context, c core.SavingsContribution) (core.SavingsContribution, error)

	Dedup(ctx context.Context, accountID string) (int, error)
	MigrateLegacyPeriods(ctx context.Context, accountID string) (int, error)
}

var _ Ledger = (*services.LedgerService)(nil)

// Config holds the API server settings.
type Config struct {
	Addr           string
	RateLimitRPS   float64
	RateLimitBurst int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	// RequestTimeout bounds each handler, including the carry-over sync a
	// view load runs.
	RequestTimeout time.Duration
}

// Server is the JSON API over the ledger.
type Server struct {
	http.Server
	ledger   Ledger
	logger   *log.Logger
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	timeout  time.Duration
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(cfg Config, ledger Ledger, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 20 * time.Second
	}

	detector := security.NewDetector()
	s := &Server{
		ledger:   ledger,
		logger:   logger.WithComponent(log.ComponentHTTP),
		detector: detector,
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		}),
		tracer:  trace.NewMiddleware(logger, detector.ExtractClientIP),
		timeout: cfg.RequestTimeout,
	}
	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})

	r.Use(s.tracer.Middleware)
	r.Use(s.detector.Middleware)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
	}))
	api.Use(s.withTimeout)

	api.HandleFunc("/accounts", s.handleListAccounts).Methods(http.MethodGet)
	api.HandleFunc("/accounts", s.handleCreateAccount).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{account}", s.handleGetAccount).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{account}/period-start-day", s.handleUpdateStartDay).Methods(http.MethodPut)
	api.HandleFunc("/accounts/{account}/buckets", s.handleListBuckets).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{account}/buckets", s.handleCreateBucket).Methods(http.MethodPost)
	// "order" must be registered before {id}.
	api.HandleFunc("/accounts/{account}/buckets/order", s.handleReorderBuckets).Methods(http.MethodPut)
	api.HandleFunc("/accounts/{account}/buckets/{id}", s.handlePatchBucket).Methods(http.MethodPatch)
	api.HandleFunc("/accounts/{account}/buckets/{id}", s.handleDeleteBucket).Methods(http.MethodDelete)
	api.HandleFunc("/accounts/{account}/categories", s.handleListCategories).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{account}/categories", s.handleCreateCategory).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{account}/categories/{id}", s.handleUpdateCategory).Methods(http.MethodPut)
	api.HandleFunc("/accounts/{account}/categories/{id}", s.handleDeleteCategory).Methods(http.MethodDelete)

	// "current" must be registered before {period}.
	api.HandleFunc("/accounts/{account}/periods/current", s.handleCurrentPeriod).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{account}/periods/{period}", s.handlePeriodView).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{account}/periods/{period}/sync", s.handleSync).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{account}/periods/{period}/month-data", s.handleMonthData).Methods(http.MethodPut)
	api.HandleFunc("/accounts/{account}/periods/{period}/fixed-payments/{id}/paid", s.handleFixedPaymentPaid).Methods(http.MethodPut)
	api.HandleFunc("/accounts/{account}/periods/{period}/expenses", s.handleCreateExpense).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{account}/periods/{period}/savings", s.handleAddSavings).Methods(http.MethodPost)

	api.HandleFunc("/accounts/{account}/expenses/{id}", s.handlePatchExpense).Methods(http.MethodPatch)
	api.HandleFunc("/accounts/{account}/expenses/{id}", s.handleDeleteExpense).Methods(http.MethodDelete)
	api.HandleFunc("/accounts/{account}/fixed-payments", s.handleCreateFixedPayment).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{account}/fixed-payments/{id}", s.handlePatchFixedPayment).Methods(http.MethodPatch)
	api.HandleFunc("/accounts/{account}/fixed-payments/{id}", s.handleDeleteFixedPayment).Methods(http.MethodDelete)

	api.HandleFunc("/bucket-payments/{id}", s.handlePatchBucketPayment).Methods(http.MethodPatch)
	api.HandleFunc("/bucket-payments/{id}", s.handleDeleteBucketPayment).Methods(http.MethodDelete)

	api.HandleFunc("/accounts/{account}/maintenance/dedup", s.handleDedup).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{account}/maintenance/migrate-periods", s.handleMigratePeriods).Methods(http.MethodPost)

	return r
}

func (s *Server) withTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Shutdown gracefully shuts down the server and the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Shutting down HTTP server", "addr", s.Addr)
	s.limiter.Stop()
	return s.Server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.ledger.Ping(ctx); err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", log.FieldError, err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

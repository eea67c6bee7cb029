package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/cors"

	"receipts/internal/cache"
	"receipts/internal/log"
	"receipts/internal/middleware/ratelimit"
	"receipts/internal/middleware/security"
	"receipts/internal/middleware/trace"
	"receipts/internal/services"
	"receipts/internal/sheets"
)

const (
	defaultMaxUploadBytes = 10 << 20
	// multipart parts above this spill to temporary files
	multipartMemory = 4 << 20
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services groups the application services the API exposes.
type Services struct {
	Ledger    *services.LedgerService
	Receipts  *services.ReceiptService
	Imports   *services.ImportService
	Reconcile *services.ReconcileService
}

// Options configures the server beyond its services.
type Options struct {
	MaxUploadBytes     int64
	CORSAllowedOrigins []string
	RateLimitPerMinute int
	// BlockSuspicious rejects probe-looking requests instead of only logging them.
	BlockSuspicious bool

	// Pinger backs /readyz. Nil means always ready.
	Pinger Pinger
	// Categories lists categories from the export backend. Nil falls back
	// to the built-in category set.
	Categories        sheets.CategoryLister
	CategoryCache     cache.Cache[[]string]
	DefaultCategories []string

	// Caches are reported by /debug/stats.
	Caches []StatsReporter

	Logger *log.Logger
}

// StatsReporter is a cache that exposes hit and miss counters.
type StatsReporter interface {
	Name() string
	Stats() cache.Stats
}

type Server struct {
	http.Server

	ledger    *services.LedgerService
	receipts  *services.ReceiptService
	imports   *services.ImportService
	reconcile *services.ReconcileService

	pinger            Pinger
	categories        sheets.CategoryLister
	categoryCache     cache.Cache[[]string]
	defaultCategories []string
	caches            []StatsReporter

	limiter   *ratelimit.Limiter
	tracer    *trace.Middleware
	detector  *security.Detector
	logger    *log.Logger
	structLog *log.StructuredLogger

	maxUploadBytes int64
	started        time.Time
	shutdownOnce   sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, svc Services, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.FromContext(context.Background()).WithComponent(log.ComponentHTTP)
	}

	rlConfig := ratelimit.DefaultConfig()
	if opts.RateLimitPerMinute > 0 {
		rlConfig.RequestsPerMinute = opts.RateLimitPerMinute
	}

	detector := security.NewDetector()
	s := &Server{
		ledger:            svc.Ledger,
		receipts:          svc.Receipts,
		imports:           svc.Imports,
		reconcile:         svc.Reconcile,
		pinger:            opts.Pinger,
		categories:        opts.Categories,
		categoryCache:     opts.CategoryCache,
		defaultCategories: opts.DefaultCategories,
		caches:            opts.Caches,
		limiter:           ratelimit.NewLimiter(rlConfig),
		tracer:            trace.NewMiddleware(detector.ExtractClientIP),
		detector:          detector,
		logger:            logger,
		structLog:         log.NewStructuredLogger(logger),
		maxUploadBytes:    opts.MaxUploadBytes,
		started:           time.Now(),
	}

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.middleware(s.routes(), opts),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      3 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /debug/stats", s.handleStats)

	mux.HandleFunc("POST /api/statements", s.handleImportStatement)
	mux.HandleFunc("GET /api/statements", s.handleListImports)
	mux.HandleFunc("POST /api/statements/preview", s.handlePreviewStatement)
	mux.HandleFunc("GET /api/bank-transactions", s.handleListBankTransactions)

	mux.HandleFunc("POST /api/receipts", s.handleSubmitReceipt)
	mux.HandleFunc("GET /api/receipts", s.handleListReceipts)
	mux.HandleFunc("GET /api/receipts/{id}", s.handleGetReceipt)
	mux.HandleFunc("POST /api/receipts/{id}/extract", s.handleExtractReceipt)

	mux.HandleFunc("GET /api/ledger", s.handleListLedger)
	mux.HandleFunc("POST /api/ledger", s.handleCreateLedger)
	mux.HandleFunc("GET /api/ledger/summary", s.handleLedgerSummary)
	mux.HandleFunc("GET /api/ledger/{id}", s.handleGetLedger)
	mux.HandleFunc("PUT /api/ledger/{id}", s.handleUpdateLedger)
	mux.HandleFunc("DELETE /api/ledger/{id}", s.handleDeleteLedger)

	mux.HandleFunc("POST /api/reconcile", s.handleReconcile)
	mux.HandleFunc("GET /api/reconciliations", s.handleListRuns)
	mux.HandleFunc("GET /api/reconciliations/{id}", s.handleGetRun)

	mux.HandleFunc("GET /api/categories", s.handleCategories)
	return mux
}

// middleware wraps h, outermost first: probe detection, tracing, request
// scoped logger, security headers, CORS, rate limiting on mutating methods.
func (s *Server) middleware(h http.Handler, opts Options) http.Handler {
	h = s.limiter.Middleware(s.detector.ExtractClientIP, ratelimit.MutatingOnly, func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(r, http.StatusTooManyRequests, "rate limit exceeded, please try again later").Write(w)
	})(h)

	if len(opts.CORSAllowedOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: opts.CORSAllowedOrigins,
			AllowedMethods: []string{
				http.MethodGet,
				http.MethodPost,
				http.MethodPut,
				http.MethodDelete,
				http.MethodOptions,
			},
			AllowedHeaders: []string{"Content-Type", trace.RequestIDHeader},
			ExposedHeaders: []string{trace.RequestIDHeader, "Retry-After"},
			MaxAge:         600,
		}).Handler(h)
	}

	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = log.RequestIDMiddleware(trace.FromRequest)(h)
	h = log.Middleware(s.logger)(h)
	h = s.tracer.Middleware(h)
	h = s.detector.Middleware(opts.BlockSuspicious)(h)
	return h
}

// Shutdown gracefully shuts down the server and its background goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// limitBody caps the request body at the configured upload size plus room
// for multipart framing.
func (s *Server) limitBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+64<<10)
}

package http

import (
	"context"
	"net/http"
	"time"

	"receipts/internal/cache"
	"receipts/internal/log"
	"receipts/internal/middleware/ratelimit"
	"receipts/internal/middleware/security"
	"receipts/internal/middleware/trace"
	"receipts/internal/sheets"
)

const categoriesCacheKey = "all"

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady checks that the database answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok"}
	status, code := "ready", http.StatusOK
	if s.pinger == nil {
		checks["database"] = "not_configured"
	} else if err := s.pinger.Ping(ctx); err != nil {
		log.FromContext(r.Context()).WarnContext(ctx, "Readiness check failed",
			log.FieldComponent, log.ComponentStorage,
			log.FieldError, err)
		checks["database"] = "failed"
		status, code = "not_ready", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": checks,
	})
}

type statsResponse struct {
	Requests  trace.Metrics             `json:"requests"`
	RateLimit ratelimit.Metrics         `json:"rate_limit"`
	Security  security.DetectionMetrics `json:"security"`
	Caches    map[string]cache.Stats    `json:"caches"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Requests:  s.tracer.GetMetrics(),
		RateLimit: s.limiter.GetMetrics(),
		Security:  s.detector.GetMetrics(),
		Caches:    make(map[string]cache.Stats, len(s.caches)),
	}
	for _, c := range s.caches {
		resp.Caches[c.Name()] = c.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

const categorySourceBackend = "backend"

// sourcedCategories is implemented by listers that may serve a fallback set
// instead of the export backend's categories.
type sourcedCategories interface {
	CategoriesWithSource(ctx context.Context) ([]string, string, error)
}

func listCategories(ctx context.Context, l sheets.CategoryLister) ([]string, string, error) {
	if sl, ok := l.(sourcedCategories); ok {
		return sl.CategoriesWithSource(ctx)
	}
	cats, err := l.Categories(ctx)
	return cats, categorySourceBackend, err
}

// handleCategories lists the categories the ledger accepts. Results from
// the export backend are cached; on failure the built-in set is served.
func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.categoryCache != nil {
		if cats, ok := s.categoryCache.Get(categoriesCacheKey); ok {
			writeJSON(w, http.StatusOK, map[string]any{"categories": cats, "source": "cache"})
			return
		}
	}

	if s.categories != nil {
		cctx, cancel := context.WithTimeout(ctx, 7*time.Second)
		defer cancel()
		cats, source, err := listCategories(cctx, s.categories)
		if err == nil && len(cats) > 0 {
			// Defaults are not cached so a recovered backend shows up on the next call.
			if s.categoryCache != nil && source == categorySourceBackend {
				s.categoryCache.Set(categoriesCacheKey, cats)
			}
			writeJSON(w, http.StatusOK, map[string]any{"categories": cats, "source": source})
			return
		}
		log.FromContext(ctx).WarnContext(ctx, "Category listing failed, using defaults",
			log.FieldComponent, log.ComponentSheets,
			log.FieldError, err)
	}

	writeJSON(w, http.StatusOK, map[string]any{"categories": s.defaultCategories, "source": "default"})
}

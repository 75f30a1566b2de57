package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sapcc/go-bits/logg"

	appscans "github.com/bryanwahyu/automaton-reposcan/internal/application/scans"
	domai "github.com/bryanwahyu/automaton-reposcan/internal/domain/ai"
	domain "github.com/bryanwahyu/automaton-reposcan/internal/domain/scans"
	"github.com/bryanwahyu/automaton-reposcan/internal/middleware"
)

// maxBodyBytes bounds request bodies; snippets are the largest payload.
const maxBodyBytes = 4 << 20

// Options configures the HTTP surface.
type Options struct {
	APIKeys     []string
	CORSOrigins []string
	// RateLimiter is optional.
	RateLimiter *middleware.RateLimiter
	// Checkers run for /health and /ready.
	Checkers map[string]middleware.HealthChecker
}

type Router struct {
	scansSvc *appscans.Service
}

func NewRouter(scansSvc *appscans.Service, opts Options) http.Handler {
	r := &Router{scansSvc: scansSvc}
	mux := chi.NewRouter()

	mux.Use(chimw.Recoverer)
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.MetricsMiddleware)
	if len(opts.CORSOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	mux.Use(middleware.APIKeyAuth(opts.APIKeys))
	if opts.RateLimiter != nil {
		mux.Use(opts.RateLimiter.Middleware)
	}

	mux.Get("/health", middleware.HealthHandler(opts.Checkers))
	mux.Get("/ready", middleware.ReadinessHandler(opts.Checkers))
	mux.Get("/live", middleware.LivenessHandler)
	mux.Handle("/metrics", promhttp.Handler())

	mux.Post("/scan-repository", r.wrap(r.handleStartScan))
	mux.Get("/scan-reports", r.wrap(r.handleList))
	mux.Route("/scan-report/{id}", func(rt chi.Router) {
		rt.Get("/", r.wrap(r.handleGet))
		rt.Get("/summary", r.wrap(r.handleSummary))
		rt.Post("/abort", r.wrap(r.handleAbort))
	})
	mux.Post("/retry-scan/{id}", r.wrap(r.handleRetry))
	mux.Post("/scan", r.wrap(r.handleAnalyze))

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		code := statusFor(err)
		if code >= 500 {
			logg.Error("%s %s: %s", req.Method, req.URL.Path, err.Error())
		}
		_ = writeJSON(w, code, map[string]string{"error": err.Error()})
	}
}

func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case appscans.IsClientError(err):
		return http.StatusBadRequest
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrReportNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotRetryable),
		errors.Is(err, domain.ErrNotRunning),
		errors.Is(err, appscans.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, domai.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrSourceUnavailable):
		return http.StatusBadGateway
	case domai.IsTransient(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func decodeBody(w http.ResponseWriter, req *http.Request, into any) error {
	req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if err := json.NewDecoder(req.Body).Decode(into); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return badRequest("malformed JSON body: %s", err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

func reportID(req *http.Request) (domain.ReportID, error) {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateReportID(id); err != nil {
		return "", badRequest("%s", err.Error())
	}
	return domain.ReportID(id), nil
}

// POST /scan-repository
// Body: {"repo_url": "...", "branch": "main", "scan_type": "complete"}
func (r *Router) handleStartScan(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		RepoURL  string         `json:"repo_url"`
		Branch   string         `json:"branch"`
		ScanType string         `json:"scan_type"`
		Options  map[string]any `json:"options"`
	}
	if err := decodeBody(w, req, &body); err != nil {
		return err
	}

	repoURL, err := middleware.NormalizeRepoURL(middleware.SanitizeString(body.RepoURL))
	if err != nil {
		return badRequest("%s", err.Error())
	}
	branch := middleware.SanitizeString(body.Branch)
	if err := middleware.ValidateBranch(branch); err != nil {
		return badRequest("%s", err.Error())
	}

	res, err := r.scansSvc.StartScan(req.Context(), appscans.StartScanCommand{
		RepoURL:  repoURL,
		Branch:   branch,
		ScanType: body.ScanType,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

// GET /scan-report/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	id, err := reportID(req)
	if err != nil {
		return err
	}
	view, err := r.scansSvc.GetReport(req.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, view)
}

// GET /scan-report/{id}/summary
func (r *Router) handleSummary(w http.ResponseWriter, req *http.Request) error {
	id, err := reportID(req)
	if err != nil {
		return err
	}
	view, err := r.scansSvc.GetSummary(req.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, view)
}

// GET /scan-reports?repo_id=&scan_type=&status=&limit=50
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	f := domain.ReportFilter{RepoID: middleware.SanitizeString(q.Get("repo_id"))}

	if v := q.Get("scan_type"); v != "" {
		kind, err := domain.ParseScanKind(v)
		if err != nil {
			return err
		}
		f.Kind = kind
	}
	if v := q.Get("status"); v != "" {
		st := domain.Status(v)
		if !st.Terminal() && st != domain.StatusInProgress {
			return badRequest("unknown status %q", v)
		}
		f.Status = st
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return badRequest("limit must be a number")
		}
		limit = n
	}
	f.Limit = middleware.ValidateLimit(limit)

	list, err := r.scansSvc.ListReports(req.Context(), f)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*domain.ScanReport{}
	}
	return writeJSON(w, http.StatusOK, map[string]any{"total": len(list), "reports": list})
}

// POST /retry-scan/{id}
func (r *Router) handleRetry(w http.ResponseWriter, req *http.Request) error {
	id, err := reportID(req)
	if err != nil {
		return err
	}
	res, err := r.scansSvc.RetryFailed(req.Context(), id)
	if err != nil {
		return err
	}
	code := http.StatusAccepted
	if res.FailedFiles == 0 {
		code = http.StatusOK
	}
	return writeJSON(w, code, res)
}

// POST /scan-report/{id}/abort
func (r *Router) handleAbort(w http.ResponseWriter, req *http.Request) error {
	id, err := reportID(req)
	if err != nil {
		return err
	}
	if err := r.scansSvc.Abort(req.Context(), id); err != nil {
		return err
	}
	return writeJSON(w, http.StatusAccepted, map[string]any{
		"report_id": id,
		"message":   "abort requested",
	})
}

// POST /scan
// Body: {"code": "...", "dependencies": {...}}
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Code         string `json:"code"`
		Dependencies any    `json:"dependencies"`
	}
	if err := decodeBody(w, req, &body); err != nil {
		return err
	}
	analysis, err := r.scansSvc.AnalyzeSnippet(req.Context(), body.Code, body.Dependencies)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]string{"analysis": analysis})
}

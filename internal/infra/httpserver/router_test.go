package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appai "github.com/bryanwahyu/automaton-reposcan/internal/application/ai"
	"github.com/bryanwahyu/automaton-reposcan/internal/application/budget"
	"github.com/bryanwahyu/automaton-reposcan/internal/application/clocktest"
	appscans "github.com/bryanwahyu/automaton-reposcan/internal/application/scans"
	domain "github.com/bryanwahyu/automaton-reposcan/internal/domain/scans"
	"github.com/bryanwahyu/automaton-reposcan/internal/infra/ai/heuristic"
	"github.com/bryanwahyu/automaton-reposcan/internal/infra/db/sqlite"
	"github.com/bryanwahyu/automaton-reposcan/internal/infra/db/sqlstore"
	"github.com/bryanwahyu/automaton-reposcan/internal/middleware"
)

type stubSource struct {
	cloneErr error
}

func (s *stubSource) Clone(context.Context, string, string) (string, error) {
	if s.cloneErr != nil {
		return "", s.cloneErr
	}
	return "repo42", nil
}

func (s *stubSource) Tree(context.Context, string) (*domain.Tree, error) {
	return &domain.Tree{Structure: map[string]domain.TreeNode{}}, nil
}

func (s *stubSource) FetchFile(context.Context, string, string) (string, error) {
	return "", domain.ErrFileNotFound
}

type fixture struct {
	handler http.Handler
	repo    *sqlstore.Repository
	source  *stubSource
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlstore.EnsureSchema(context.Background(), db, sqlite.Dialect))
	repo := sqlstore.NewRepository(db, sqlite.Dialect)

	clock := clocktest.New()
	analyzer := appai.NewAnalyzer(heuristic.New(), budget.New(budget.Config{}, clock), clock,
		appai.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond}, 0.25)
	jobs := appscans.NewJobs(1)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = jobs.Shutdown(ctx)
	})

	source := &stubSource{}
	svc := &appscans.Service{
		Repo:     repo,
		Source:   source,
		Analyzer: analyzer,
		Clock:    clock,
		Jobs:     jobs,
		Config:   appscans.Config{}.WithDefaults(),
	}
	return &fixture{handler: NewRouter(svc, opts), repo: repo, source: source}
}

func (f *fixture) seed(t *testing.T, id string, status domain.Status, results map[string]domain.FileResult) {
	t.Helper()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, f.repo.CreateReport(context.Background(), &domain.ScanReport{
		ID:             domain.ReportID(id),
		RepoID:         "repo42",
		RepoURL:        "https://github.com/acme/widgets",
		Branch:         "main",
		Kind:           domain.ScanComplete,
		Status:         status,
		TotalFiles:     4,
		ProcessedFiles: 2,
		Results:        results,
		CreatedAt:      now,
		UpdatedAt:      now,
	}))
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func TestStartScan_Validation(t *testing.T) {
	f := newFixture(t, Options{})

	rec, body := f.do(t, http.MethodPost, "/scan-repository", `{"repo_url":"acme/widgets","scan_type":"full"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "invalid scan type")

	rec, _ = f.do(t, http.MethodPost, "/scan-repository", `{"scan_type":"complete"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/scan-repository", `{"repo_url":"http://127.0.0.1/x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/scan-repository", `{"repo_url":"acme/widgets","branch":"--upload-pack"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/scan-repository", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	list, err := f.repo.ListReports(context.Background(), domain.ReportFilter{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, list, "nothing is persisted for rejected requests")
}

func TestStartScan_SourceUnavailable(t *testing.T) {
	f := newFixture(t, Options{})
	f.source.cloneErr = domain.ErrSourceUnavailable

	rec, _ := f.do(t, http.MethodPost, "/scan-repository", `{"repo_url":"acme/widgets"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestStartScan_Accepted(t *testing.T) {
	f := newFixture(t, Options{})

	rec, body := f.do(t, http.MethodPost, "/scan-repository", `{"repo_url":"acme/widgets","scan_type":"sbom"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "repo42", body["repo_id"])
	assert.Equal(t, "sbom", body["scan_type"])
	assert.Equal(t, "in_progress", body["status"])
	assert.EqualValues(t, 0, body["files_to_scan"])

	rep, err := f.repo.GetReport(context.Background(), domain.ReportID(body["report_id"].(string)))
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widgets", rep.RepoURL)
	assert.Equal(t, "main", rep.Branch)
}

func TestGetReport(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, "r1", domain.StatusCompleted, map[string]domain.FileResult{
		"app.js": {FilePath: "app.js", FileType: domain.CategoryCode, Analysis: "Severity: Critical. SQL injection."},
	})

	rec, body := f.do(t, http.MethodGet, "/scan-report/r1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])
	assert.EqualValues(t, 50, body["progress_percentage"])
	counts := body["vulnerability_count"].(map[string]any)
	assert.EqualValues(t, 1, counts["Critical"])
	assert.Contains(t, body, "scan_results")

	rec, body = f.do(t, http.MethodGet, "/scan-report/r1/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, body, "scan_results")
	assert.EqualValues(t, 1, body["vulnerability_count"].(map[string]any)["Critical"])

	rec, _ = f.do(t, http.MethodGet, "/scan-report/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListReports(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, "r1", domain.StatusCompleted, nil)
	f.seed(t, "r2", domain.StatusInProgress, nil)

	rec, body := f.do(t, http.MethodGet, "/scan-reports?status=completed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["total"])

	rec, body = f.do(t, http.MethodGet, "/scan-reports", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["total"])

	rec, _ = f.do(t, http.MethodGet, "/scan-reports?scan_type=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = f.do(t, http.MethodGet, "/scan-reports?status=weird", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = f.do(t, http.MethodGet, "/scan-reports?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetryAndAbort(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, "done", domain.StatusCompleted, map[string]domain.FileResult{
		"a.go": {FilePath: "a.go", Analysis: "fine"},
	})
	f.seed(t, "running", domain.StatusInProgress, nil)

	rec, body := f.do(t, http.MethodPost, "/retry-scan/done", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "No failed files to retry", body["message"])
	assert.EqualValues(t, 0, body["failed_files"])

	rec, _ = f.do(t, http.MethodPost, "/retry-scan/running", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/scan-report/done/abort", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// no live job owns the report, so it is failed directly
	rec, _ = f.do(t, http.MethodPost, "/scan-report/running/abort", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	rep, err := f.repo.GetReport(context.Background(), "running")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, rep.Status)
	assert.Equal(t, "scan aborted", rep.ErrorLog)

	rec, _ = f.do(t, http.MethodPost, "/retry-scan/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyzeSnippet(t *testing.T) {
	f := newFixture(t, Options{})

	rec, body := f.do(t, http.MethodPost, "/scan", `{"code":"eval(userInput)"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, body["analysis"])

	rec, _ = f.do(t, http.MethodPost, "/scan", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthAndProbes(t *testing.T) {
	f := newFixture(t, Options{
		APIKeys: []string{"s3cret"},
		Checkers: map[string]middleware.HealthChecker{
			"database": middleware.CheckerFunc(func(context.Context) error { return nil }),
		},
	})

	rec, _ := f.do(t, http.MethodGet, "/scan-reports", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/scan-reports", "", "X-API-Key", "s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/scan-reports", "", "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := f.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])

	rec, _ = f.do(t, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Options{RateLimiter: middleware.NewRateLimiter(1, 1)})

	rec, _ := f.do(t, http.MethodPost, "/scan", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = f.do(t, http.MethodPost, "/scan", `{}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// reads are not limited
	rec, _ = f.do(t, http.MethodGet, "/scan-reports", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

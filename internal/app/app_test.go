package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tc-validator/backend/internal/feedback"
	"github.com/tc-validator/backend/internal/report"
	"github.com/tc-validator/backend/internal/storage/models"
	"github.com/tc-validator/backend/pkg/config"
	"github.com/tc-validator/backend/pkg/errs"
)

var vocabulary = []string{"login", "logout", "export", "report"}

// fakeBackend serves the inference sidecar and the chat completion endpoint
// from one server. Embeddings are keyword indicator vectors and every pair is
// entailed. While hold is set, chat completions signal entered and wait for
// release to be closed.
type fakeBackend struct {
	completions atomic.Int32
	healthy     atomic.Bool
	hold        atomic.Bool
	entered     chan struct{}
	release     chan struct{}
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/health":
		if !f.healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	case "/embed":
		var req struct {
			Texts []string `json:"texts"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		out := make([][]float32, len(req.Texts))
		for i, text := range req.Texts {
			vec := make([]float32, len(vocabulary))
			for j, word := range vocabulary {
				if strings.Contains(strings.ToLower(text), word) {
					vec[j] = 1
				}
			}
			out[i] = vec
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	case "/predict":
		var req struct {
			Pairs [][2]string `json:"pairs"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		logits := make([][]float64, len(req.Pairs))
		for i := range logits {
			logits[i] = []float64{0, 0, 4}
		}
		json.NewEncoder(w).Encode(map[string]any{"logits": logits})
	case "/v1/chat/completions":
		f.completions.Add(1)
		if f.hold.Load() {
			f.entered <- struct{}{}
			<-f.release
		}
		content := "Positive\n1. Verify export of the report succeeds.\nNegative\n1. Verify export without a report is rejected."
		fmt.Fprintf(w, `{"id":"c1","object":"chat.completion","model":"gpt-test",
			"choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":10,"completion_tokens":20,"total_tokens":30}}`, content)
	default:
		http.NotFound(w, r)
	}
}

type env struct {
	app     *App
	backend *fakeBackend
	dir     string
	cfg     *config.Config
}

func newEnv(t *testing.T) *env {
	t.Helper()
	backend := &fakeBackend{entered: make(chan struct{}, 1), release: make(chan struct{})}
	backend.healthy.Store(true)
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
nli:
  endpoint: %[1]s
llm:
  baseURL: %[1]s/v1
  apiKey: test-key
sqlite:
  enabled: true
  path: %[2]s/history.db
paths:
  requirementStore: %[2]s/classified.json
  testcaseStore: %[2]s/testcases.txt
  reportFile: %[2]s/report.json
  hashFile: %[2]s/hash.txt
`, srv.URL, dir)), 0o644))

	cfg, err := config.LoadFile(cfgPath)
	require.NoError(t, err)

	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NoError(t, os.WriteFile(cfg.Paths.RequirementStore, []byte(`{
  "Functional": ["The system must allow user login", "Users must be able to export reports"]
}`), 0o644))
	require.NoError(t, os.WriteFile(cfg.Paths.TestcaseStore, []byte("Positive:\n1. Verify login with valid credentials.\n\n"), 0o644))

	return &env{app: a, backend: backend, dir: dir, cfg: cfg}
}

func TestValidateWritesReport(t *testing.T) {
	e := newEnv(t)
	reportPath := filepath.Join(e.dir, "standalone.json")

	result, err := e.app.Validate(context.Background(), "", "", reportPath)
	require.NoError(t, err)

	assert.Equal(t, 50.0, result.Completeness)
	require.Len(t, result.Missing, 1)
	assert.Equal(t, "Users must be able to export reports", result.Missing[0].Requirement)

	saved, err := report.Read(reportPath)
	require.NoError(t, err)
	assert.Equal(t, 2, saved.TotalRequirements)
	assert.Equal(t, 1, saved.Covered)
	assert.Zero(t, e.backend.completions.Load())
}

func TestRunRegeneratesUntilPassed(t *testing.T) {
	e := newEnv(t)

	var attempts []float64
	obs := feedback.ObserverFuncs{
		OnAttempt: func(_ context.Context, _ string, _ int, result *models.ValidationResult) error {
			attempts = append(attempts, result.Completeness)
			return nil
		},
	}

	outcome, err := e.app.Run(context.Background(), RunOptions{}, obs)
	require.NoError(t, err)

	assert.True(t, outcome.Passed)
	assert.Equal(t, 2, outcome.Attempts)
	assert.Equal(t, 1, outcome.Retries)
	assert.Equal(t, []float64{50, 100}, attempts)
	assert.Equal(t, int32(1), e.backend.completions.Load())

	stored, err := os.ReadFile(e.cfg.Paths.TestcaseStore)
	require.NoError(t, err)
	assert.Contains(t, string(stored), "Verify login with valid credentials.")
	assert.Contains(t, string(stored), "Verify export of the report succeeds.")

	saved, err := report.Read(e.cfg.Paths.ReportFile)
	require.NoError(t, err)
	assert.Equal(t, 100.0, saved.Completeness)
	assert.Empty(t, saved.Missing)

	run, err := e.app.History().GetRun(context.Background(), outcome.RunID)
	require.NoError(t, err)
	assert.True(t, run.Passed)
	assert.Equal(t, 2, run.Attempts)

	history, err := e.app.History().GetAttempts(context.Background(), outcome.RunID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Len(t, history[0].Missing, 1)
}

func TestRunZeroRetriesReportsWithoutRegenerating(t *testing.T) {
	e := newEnv(t)
	zero := 0

	outcome, err := e.app.Run(context.Background(), RunOptions{MaxRetries: &zero})
	require.NoError(t, err)

	assert.False(t, outcome.Passed)
	assert.True(t, outcome.Exhausted)
	assert.Equal(t, 1, outcome.Attempts)
	assert.NotEmpty(t, outcome.Warning)
	assert.Zero(t, e.backend.completions.Load())
}

func TestRunBootstrapsEmptyTestCaseStore(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.WriteFile(e.cfg.Paths.TestcaseStore, nil, 0o644))

	outcome, err := e.app.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	// The rebuild only covers export; login stays missing and the retry
	// asks for the same text again.
	assert.Equal(t, 50.0, outcome.Result.Completeness)
	assert.True(t, outcome.Exhausted)
	assert.Equal(t, int32(3), e.backend.completions.Load())
	assert.FileExists(t, e.cfg.Paths.HashFile)
}

func TestRunRefusesOverlappingWork(t *testing.T) {
	e := newEnv(t)
	e.backend.hold.Store(true)
	release := sync.OnceFunc(func() { close(e.backend.release) })
	t.Cleanup(release)

	done := make(chan error, 1)
	go func() {
		_, err := e.app.Run(context.Background(), RunOptions{})
		done <- err
	}()

	select {
	case <-e.backend.entered:
	case <-time.After(10 * time.Second):
		t.Fatal("first run never reached regeneration")
	}

	_, err := e.app.Run(context.Background(), RunOptions{})
	assert.ErrorIs(t, err, errs.ErrConflict)
	_, err = e.app.Validate(context.Background(), "", "", "")
	assert.ErrorIs(t, err, errs.ErrConflict)

	release()
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), e.backend.completions.Load())

	result, err := e.app.Validate(context.Background(), "", "", "")
	require.NoError(t, err)
	assert.Equal(t, 100.0, result.Completeness)
}

func TestReady(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.app.Ready(context.Background()))

	e.backend.healthy.Store(false)
	assert.Error(t, e.app.Ready(context.Background()))
}

func TestResolveDefaults(t *testing.T) {
	e := newEnv(t)
	three := 3

	opts := e.app.resolve(RunOptions{TestCaseStore: "custom.txt", MaxRetries: &three})
	assert.Equal(t, e.cfg.Paths.RequirementStore, opts.MasterStore)
	assert.Equal(t, "custom.txt", opts.TestCaseStore)
	assert.Equal(t, e.cfg.Paths.ReportFile, opts.ReportPath)
	assert.Equal(t, 3, *opts.MaxRetries)

	opts = e.app.resolve(RunOptions{})
	assert.Equal(t, 2, *opts.MaxRetries)
}

package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/i0mja/dell-infra-sync-sub004/internal/config"
	"github.com/i0mja/dell-infra-sync-sub004/internal/inventory"
	"github.com/i0mja/dell-infra-sync-sub004/internal/jobs"
	"github.com/i0mja/dell-infra-sync-sub004/internal/jobstore"
	"github.com/i0mja/dell-infra-sync-sub004/internal/power"
	"github.com/i0mja/dell-infra-sync-sub004/internal/schedule"
	"github.com/i0mja/dell-infra-sync-sub004/internal/wizard"
	"github.com/i0mja/dell-infra-sync-sub004/pkg/execclient"
)

// testEnv wires the full router against real stores in a temp dir. The
// poller runs at millisecond cadence so waits resolve fast; the executor
// socket points nowhere, tests that need an executor drive the executor
// routes themselves.
type testEnv struct {
	router http.Handler
	store  *jobstore.Store
	inv    *inventory.Store
	cfg    config.Config
	deps   Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvPoll(t, 5*time.Millisecond, 200)
}

func newTestEnvPoll(t *testing.T, pollInterval time.Duration, pollAttempts int) *testEnv {
	t.Helper()
	dir := t.TempDir()
	logger := zerolog.Nop()

	store, err := jobstore.Open(filepath.Join(dir, "jobs.db"), logger)
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	inv, err := inventory.NewStore(filepath.Join(dir, "inventory"), logger)
	if err != nil {
		t.Fatalf("open inventory: %v", err)
	}

	sub := jobs.NewSubmitter(store, logger)
	poller := jobs.NewPoller(store, pollInterval, pollAttempts, logger)
	sched, err := schedule.NewScheduler(filepath.Join(dir, "schedules.json"), sub, logger)
	if err != nil {
		t.Fatalf("open scheduler: %v", err)
	}

	cfg := config.Defaults()
	cfg.StateDir = dir
	cfg.MetricsEnabled = false

	deps := Deps{
		Jobs:      store,
		Submitter: sub,
		Poller:    poller,
		Inventory: inv,
		Wizard:    wizard.NewManager(inv, sub, logger),
		Power:     power.NewController(inv, sub, poller, time.Millisecond, logger),
		Schedules: sched,
		Exec:      execclient.New(filepath.Join(dir, "no-executor.sock")),
	}
	return &testEnv{
		router: NewRouter(cfg, deps),
		store:  store,
		inv:    inv,
		cfg:    cfg,
		deps:   deps,
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// request runs one call through the router as operator "alice". Mods adjust
// the request first, e.g. dropping the identity header or adding cookies.
func (e *testEnv) request(method, path string, body any, mods ...func(*http.Request)) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(mustJSON(body))
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("X-Remote-User", "alice")
	for _, mod := range mods {
		mod(req)
	}
	res := httptest.NewRecorder()
	e.router.ServeHTTP(res, req)
	return res
}

func anonymous(req *http.Request) { req.Header.Del("X-Remote-User") }

func withCookies(cookies []*http.Cookie) func(*http.Request) {
	return func(req *http.Request) {
		for _, c := range cookies {
			req.AddCookie(c)
		}
	}
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(res.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", res.Body.String(), err)
	}
}

// completeNextJob plays the executor for one job: it polls the claim route
// until a pending job shows up and immediately completes it.
func completeNextJob(env *testEnv) {
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			claim := env.request(http.MethodPost, "/api/v1/executor/jobs/claim", nil)
			if claim.Code != http.StatusOK {
				time.Sleep(2 * time.Millisecond)
				continue
			}
			var rec struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(claim.Body.Bytes(), &rec); err != nil {
				return
			}
			env.request(http.MethodPost, "/api/v1/executor/jobs/"+rec.ID+"/status", map[string]any{"status": "completed"})
			return
		}
	}()
}

func TestHealthRoute(t *testing.T) {
	env := newTestEnv(t)
	res := env.request(http.MethodGet, "/api/health", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", res.Code)
	}
	var out map[string]any
	decodeBody(t, res, &out)
	if ok, _ := out["ok"].(bool); !ok {
		t.Fatalf("expected ok=true, got %s", res.Body.String())
	}
	if v, _ := out["version"].(string); v == "" {
		t.Fatal("missing version")
	}
}

func TestUnknownJobIs404(t *testing.T) {
	env := newTestEnv(t)
	res := env.request(http.MethodGet, "/api/v1/jobs/nope", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "not_found") {
		t.Fatalf("expected not_found code, got %s", res.Body.String())
	}
}

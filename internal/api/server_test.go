package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/marketsim/internal/config"
	"github.com/newthinker/marketsim/internal/engine"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Game.Seed = 7
	cfg.Agents.WarmupCycles = 10
	cfg.Agents.Count = 4
	cfg.Market.Stocks = cfg.Market.Stocks[:4]
	return cfg
}

func newTestServer(t *testing.T, apiKey string) (*Server, *engine.Engine) {
	t.Helper()
	cfg := testConfig()
	e := engine.New(cfg, nil, nil)
	e.Start(time.Unix(0, 0))

	srv, err := NewServer(Config{
		Host:   "localhost",
		Port:   0,
		APIKey: apiKey,
	}, Dependencies{
		Engine:    e,
		Scheduler: engine.NewScheduler(cfg.Game.BaseInterval),
		Game:      cfg,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv, e
}

func do(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, "")
	if w := do(srv, "GET", "/api/health", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestServer_APIAuth_Required(t *testing.T) {
	srv, _ := newTestServer(t, "test-key")
	if w := do(srv, "GET", "/api/v1/snapshot", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without key, got %d", w.Code)
	}
}

func TestServer_APIAuth_ValidKey(t *testing.T) {
	srv, _ := newTestServer(t, "test-key")
	req := httptest.NewRequest("GET", "/api/v1/snapshot", nil)
	req.Header.Set("X-API-Key", "test-key")
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with key, got %d", w.Code)
	}
}

func TestServer_APIAuth_Disabled(t *testing.T) {
	srv, _ := newTestServer(t, "")
	if w := do(srv, "GET", "/api/v1/snapshot", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200 with disabled auth, got %d", w.Code)
	}
}

func TestServer_Snapshot(t *testing.T) {
	srv, e := newTestServer(t, "")
	w := do(srv, "GET", "/api/v1/snapshot", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Data struct {
			Cycle  int `json:"cycle"`
			Stocks []struct {
				Symbol string `json:"symbol"`
			} `json:"stocks"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if resp.Data.Cycle != e.Cycle() {
		t.Errorf("snapshot cycle = %d, want %d", resp.Data.Cycle, e.Cycle())
	}
	if len(resp.Data.Stocks) != 4 {
		t.Errorf("snapshot stocks = %d, want 4", len(resp.Data.Stocks))
	}
}

func TestServer_OrderLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, "")

	w := do(srv, "POST", "/api/v1/orders",
		`{"symbol":"NIMB","side":"buy","kind":"limit","quantity":10,"limit":1}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("place: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil || created.Data.ID == "" {
		t.Fatalf("missing order id: %v %s", err, w.Body.String())
	}

	if w := do(srv, "PATCH", "/api/v1/orders/"+created.Data.ID, `{"quantity":20}`); w.Code != http.StatusOK {
		t.Errorf("edit: expected 200, got %d", w.Code)
	}
	if w := do(srv, "DELETE", "/api/v1/orders/"+created.Data.ID, ""); w.Code != http.StatusOK {
		t.Errorf("cancel: expected 200, got %d", w.Code)
	}
	if w := do(srv, "DELETE", "/api/v1/orders/"+created.Data.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("double cancel: expected 404, got %d", w.Code)
	}
}

func TestServer_OrderValidation(t *testing.T) {
	srv, _ := newTestServer(t, "")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown symbol", `{"symbol":"ZZZZ","side":"buy","kind":"market","quantity":1}`, http.StatusNotFound},
		{"zero quantity", `{"symbol":"NIMB","side":"buy","kind":"market","quantity":0}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(srv, "POST", "/api/v1/orders", tt.body); w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestServer_LoanEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, "")

	w := do(srv, "POST", "/api/v1/loans", `{"amount":10000}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("request: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &created)

	if w := do(srv, "POST", "/api/v1/loans/"+created.Data.ID+"/repay", `{"amount":10000}`); w.Code != http.StatusOK {
		t.Errorf("repay: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := do(srv, "POST", "/api/v1/loans/nope/repay", `{"amount":1}`); w.Code != http.StatusNotFound {
		t.Errorf("repay unknown: expected 404, got %d", w.Code)
	}
}

func TestServer_ShortEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, "")

	if w := do(srv, "POST", "/api/v1/shorts", `{"symbol":"NIMB","quantity":10}`); w.Code != http.StatusCreated {
		t.Fatalf("open: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if w := do(srv, "POST", "/api/v1/shorts/NIMB/margin", `{"amount":100}`); w.Code != http.StatusOK {
		t.Errorf("margin: expected 200, got %d", w.Code)
	}
	w := do(srv, "POST", "/api/v1/shorts/NIMB/cover", "")
	if w.Code != http.StatusOK {
		t.Fatalf("cover: expected 200, got %d", w.Code)
	}
	var resp struct {
		Data map[string]float64 `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding cover response: %v", err)
	}
	if _, ok := resp.Data["pnl"]; !ok {
		t.Error("cover response missing pnl")
	}
}

func TestServer_GameControls(t *testing.T) {
	srv, _ := newTestServer(t, "")
	srv.sched.Arm()

	if w := do(srv, "POST", "/api/v1/game/pause", ""); w.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d", w.Code)
	}
	if !srv.sched.Paused() {
		t.Error("scheduler must be paused")
	}

	w := do(srv, "GET", "/api/v1/game", "")
	var status struct {
		Data gameStatus `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if !status.Data.Paused || !status.Data.Started {
		t.Errorf("status = %+v, want paused and started", status.Data)
	}

	if w := do(srv, "POST", "/api/v1/game/resume", ""); w.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", w.Code)
	}
	if srv.sched.Paused() {
		t.Error("scheduler must be resumed")
	}

	if w := do(srv, "POST", "/api/v1/game/speed", `{"level":2}`); w.Code != http.StatusOK {
		t.Fatalf("speed: expected 200, got %d", w.Code)
	}
	if got := srv.sched.Effective(); got != testConfig().Game.BaseInterval/2 {
		t.Errorf("effective interval = %v, want halved", got)
	}
}

func TestServer_Standings(t *testing.T) {
	srv, _ := newTestServer(t, "")
	w := do(srv, "GET", "/api/v1/standings", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Data []engine.Standing `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding standings: %v", err)
	}
	if len(resp.Data) != 1+testConfig().Agents.Count {
		t.Errorf("standings = %d entries, want %d", len(resp.Data), 1+testConfig().Agents.Count)
	}
}

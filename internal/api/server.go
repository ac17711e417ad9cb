// internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/newthinker/marketsim/internal/api/middleware"
	"github.com/newthinker/marketsim/internal/api/response"
	"github.com/newthinker/marketsim/internal/config"
	"github.com/newthinker/marketsim/internal/core"
	"github.com/newthinker/marketsim/internal/engine"
	"github.com/newthinker/marketsim/internal/metrics"
	"github.com/newthinker/marketsim/internal/stream"
)

// Server is the HTTP surface of the simulation: the snapshot read model,
// the command endpoints, the WebSocket stream and Prometheus metrics.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	mux        *http.ServeMux

	engine *engine.Engine
	sched  *engine.Scheduler
	cfg    *config.Config
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	MetricsPath string
	// APIKey protects /api/v1; empty disables auth.
	APIKey string
}

// Dependencies are the wired components the server fronts.
type Dependencies struct {
	Engine    *engine.Engine
	Scheduler *engine.Scheduler
	Stream    *stream.Hub
	Metrics   *metrics.Registry
	Game      *config.Config
}

// NewServer creates a new HTTP server.
func NewServer(cfg Config, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	mux := http.NewServeMux()

	s := &Server{
		logger: logger,
		mux:    mux,
		engine: deps.Engine,
		sched:  deps.Scheduler,
		cfg:    deps.Game,
	}

	s.setupRoutes(cfg, deps)

	var handler http.Handler = mux
	if deps.Metrics != nil {
		handler = metrics.HTTPMiddleware(deps.Metrics)(handler)
	}
	handler = metrics.LoggingMiddleware(logger)(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

func (s *Server) setupRoutes(cfg Config, deps Dependencies) {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	if deps.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.mux.Handle("GET "+path, promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}
	if deps.Stream != nil {
		s.mux.HandleFunc("GET /ws", deps.Stream.Handler())
	}

	v1 := http.NewServeMux()
	v1.HandleFunc("GET /api/v1/snapshot", s.handleSnapshot)
	v1.HandleFunc("GET /api/v1/standings", s.handleStandings)
	v1.HandleFunc("GET /api/v1/game", s.handleGameStatus)
	v1.HandleFunc("POST /api/v1/game/pause", s.handlePause)
	v1.HandleFunc("POST /api/v1/game/resume", s.handleResume)
	v1.HandleFunc("POST /api/v1/game/speed", s.handleSpeed)

	v1.HandleFunc("POST /api/v1/orders", s.handlePlaceOrder)
	v1.HandleFunc("PATCH /api/v1/orders/{id}", s.handleEditOrder)
	v1.HandleFunc("DELETE /api/v1/orders/{id}", s.handleCancelOrder)

	v1.HandleFunc("POST /api/v1/loans", s.handleRequestLoan)
	v1.HandleFunc("POST /api/v1/loans/{id}/repay", s.handleRepayLoan)

	v1.HandleFunc("POST /api/v1/shorts", s.handleSellShort)
	v1.HandleFunc("POST /api/v1/shorts/{symbol}/cover", s.handleCoverShort)
	v1.HandleFunc("POST /api/v1/shorts/{symbol}/margin", s.handleAddMargin)

	v1.HandleFunc("POST /api/v1/notifications/{id}/dismiss", s.handleDismiss)

	auth := middleware.APIKeyAuth(cfg.APIKey)
	s.mux.Handle("/api/v1/", auth(v1))
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	data, err := s.engine.MarshalSnapshot()
	if err != nil {
		response.Error(w, http.StatusInternalServerError, err)
		return
	}
	response.JSON(w, http.StatusOK, json.RawMessage(data))
}

func (s *Server) handleStandings(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, s.engine.Standings())
}

// gameStatus is the lightweight poll model for the countdown display.
type gameStatus struct {
	Cycle       int   `json:"cycle"`
	Started     bool  `json:"started"`
	Ended       bool  `json:"ended"`
	Paused      bool  `json:"paused"`
	CountdownMS int64 `json:"countdown_ms"`
}

func (s *Server) handleGameStatus(w http.ResponseWriter, r *http.Request) {
	st := gameStatus{
		Cycle:   s.engine.Cycle(),
		Started: s.engine.Started(),
		Ended:   s.engine.Ended(),
	}
	if s.sched != nil {
		st.Paused = s.sched.Paused()
		st.CountdownMS = s.sched.Countdown().Milliseconds()
	}
	response.JSON(w, http.StatusOK, st)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if s.sched != nil {
		s.sched.Pause()
	}
	response.JSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if s.sched != nil {
		s.sched.Resume()
	}
	response.JSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level int `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, core.WrapError(core.ErrConfigInvalid, err))
		return
	}
	divisor := 1
	if s.cfg != nil {
		divisor = s.cfg.SpeedDivisor(req.Level)
	}
	if s.sched != nil {
		s.sched.SetDivisor(divisor)
	}
	response.JSON(w, http.StatusOK, map[string]int{"level": req.Level, "divisor": divisor})
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol   string         `json:"symbol"`
		Side     core.Side      `json:"side"`
		Kind     core.OrderKind `json:"kind"`
		Quantity int64          `json:"quantity"`
		Limit    float64        `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, core.WrapError(core.ErrInvalidQuantity, err))
		return
	}
	id, err := s.engine.PlaceOrder(req.Symbol, req.Side, req.Kind, req.Quantity, req.Limit)
	if err != nil {
		response.Error(w, statusFor(err), err)
		return
	}
	response.JSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleEditOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity *int64   `json:"quantity"`
		Limit    *float64 `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, core.WrapError(core.ErrInvalidQuantity, err))
		return
	}
	if err := s.engine.EditOrder(r.PathValue("id"), req.Quantity, req.Limit); err != nil {
		response.Error(w, statusFor(err), err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"id": r.PathValue("id")})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.CancelOrder(r.PathValue("id")); err != nil {
		response.Error(w, statusFor(err), err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"id": r.PathValue("id")})
}

func (s *Server) handleRequestLoan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, core.WrapError(core.ErrInvalidAmount, err))
		return
	}
	id, err := s.engine.RequestLoan(req.Amount)
	if err != nil {
		response.Error(w, statusFor(err), err)
		return
	}
	response.JSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleRepayLoan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, core.WrapError(core.ErrInvalidAmount, err))
		return
	}
	if err := s.engine.RepayLoan(r.PathValue("id"), req.Amount); err != nil {
		response.Error(w, statusFor(err), err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"id": r.PathValue("id")})
}

func (s *Server) handleSellShort(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol   string `json:"symbol"`
		Quantity int64  `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, core.WrapError(core.ErrInvalidQuantity, err))
		return
	}
	if err := s.engine.SellShort(req.Symbol, req.Quantity); err != nil {
		response.Error(w, statusFor(err), err)
		return
	}
	response.JSON(w, http.StatusCreated, map[string]string{"symbol": req.Symbol})
}

func (s *Server) handleCoverShort(w http.ResponseWriter, r *http.Request) {
	pnl, err := s.engine.CoverShort(r.PathValue("symbol"))
	if err != nil {
		response.Error(w, statusFor(err), err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]float64{"pnl": pnl})
}

func (s *Server) handleAddMargin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, core.WrapError(core.ErrInvalidAmount, err))
		return
	}
	if err := s.engine.AddMargin(r.PathValue("symbol"), req.Amount); err != nil {
		response.Error(w, statusFor(err), err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"symbol": r.PathValue("symbol")})
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	s.engine.Dismiss(r.PathValue("id"))
	response.JSON(w, http.StatusOK, map[string]string{"id": r.PathValue("id")})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrUnknownSymbol),
		errors.Is(err, core.ErrOrderNotFound),
		errors.Is(err, core.ErrLoanNotFound),
		errors.Is(err, core.ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidQuantity),
		errors.Is(err, core.ErrInvalidLimitPrice),
		errors.Is(err, core.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotStarted),
		errors.Is(err, core.ErrGameEnded):
		return http.StatusConflict
	case errors.Is(err, core.ErrInsufficientCash),
		errors.Is(err, core.ErrInsufficientShares),
		errors.Is(err, core.ErrInsufficientLiquidity),
		errors.Is(err, core.ErrInsufficientCollateral),
		errors.Is(err, core.ErrTradeCapReached),
		errors.Is(err, core.ErrLoanLimit),
		errors.Is(err, core.ErrPositionExists),
		errors.Is(err, core.ErrShortsDisabled):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

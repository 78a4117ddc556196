// Package admin implements the daemon's read-only admin boundary (§6:
// "read accessors (thread-safe snapshots) ... so the out-of-scope
// dashboards and CLI can render without touching core state"). It contains
// no rule logic and performs no mutation — every handler is a GET.
//
// Grounded on the teacher's internal/server package: chi router, the same
// middleware stack (Recoverer, RequestID, RealIP, a logging middleware,
// Timeout, cors.Handler), and a flat /api/... route tree built with
// chi.Router.Route. The teacher's per-module repository wiring is replaced
// by direct references to the tracker components themselves, since there is
// no database layer between this surface and the state it reports.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/riskguard/internal/domain"
	"github.com/aristath/riskguard/internal/lockout"
	"github.com/aristath/riskguard/internal/pnltracker"
	"github.com/aristath/riskguard/internal/quotetracker"
	"github.com/aristath/riskguard/internal/statetracker"
	"github.com/aristath/riskguard/internal/timerwheel"
	"github.com/aristath/riskguard/internal/tradecounter"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// EnforcementLog is the subset of the durable store the admin surface reads
// from for the recent-actions feed.
type EnforcementLog interface {
	RecentEnforcementLog(accountID int64, limit int) ([]domain.EnforcementLogRecord, error)
}

// Config bundles every read accessor the admin surface exposes.
type Config struct {
	Port     int
	DevMode  bool
	Log      zerolog.Logger
	Accounts []int64

	States   *statetracker.Tracker
	Quotes   *quotetracker.Tracker
	PnL      *pnltracker.Tracker
	Trades   *tradecounter.Counter
	Lockouts *lockout.Manager
	Timers   *timerwheel.Wheel
	Store    EnforcementLog

	// SessionDate returns the current session date key used by the P&L
	// Tracker, so /pnl can report the authoritative realized total.
	SessionDate func() string
	Now         func() time.Time
}

// Server is the admin HTTP surface.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	log        zerolog.Logger
	cfg        Config
}

// New constructs a Server and wires its routes.
func New(cfg Config) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "admin").Logger(),
		cfg:    cfg,
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(15 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET"},
		AllowedHeaders:   []string{"Accept", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if !s.cfg.DevMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/accounts/{accountID}", func(r chi.Router) {
			r.Get("/positions", s.handlePositions)
			r.Get("/orders", s.handleOrders)
			r.Get("/pnl", s.handlePnL)
			r.Get("/trades", s.handleTrades)
			r.Get("/lockout", s.handleLockout)
			r.Get("/enforcement", s.handleEnforcement)
		})
		r.Get("/quotes/{contractID}", s.handleQuote)
	})
}

// Start begins serving. It blocks until the server stops or errors.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("starting admin server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("admin request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func accountIDFromPath(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromPath(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid account id"})
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.States.GetPositions(accountID))
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromPath(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid account id"})
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.States.GetOrders(accountID))
}

func (s *Server) handlePnL(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromPath(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid account id"})
		return
	}
	now := s.cfg.Now()
	sessionDate := ""
	if s.cfg.SessionDate != nil {
		sessionDate = s.cfg.SessionDate()
	}
	realized, err := s.cfg.PnL.GetDailyRealized(accountID, sessionDate)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	unrealized, _ := s.cfg.PnL.GetUnrealized(r.Context(), accountID, now)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accountId":   accountID,
		"sessionDate": sessionDate,
		"realized":    realized,
		"unrealized":  unrealized.Amount,
		"stale":       unrealized.Stale,
	})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromPath(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid account id"})
		return
	}
	now := s.cfg.Now()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accountId":  accountID,
		"lastMinute": s.cfg.Trades.CountLastMinute(accountID, now),
		"lastHour":   s.cfg.Trades.CountLastHour(accountID, now),
		"session":    s.cfg.Trades.CountSession(accountID, now),
	})
}

func (s *Server) handleLockout(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromPath(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid account id"})
		return
	}
	l, locked := s.cfg.Lockouts.IsLockedOut(accountID, s.cfg.Now())
	if !locked {
		writeJSON(w, http.StatusOK, map[string]interface{}{"accountId": accountID, "lockedOut": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accountId": accountID, "lockedOut": true, "lockout": l})
}

func (s *Server) handleEnforcement(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromPath(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid account id"})
		return
	}
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := s.cfg.Store.RecentEnforcementLog(accountID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contractID")
	q, ok := s.cfg.Quotes.GetLast(contractID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no quote received for contract"})
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

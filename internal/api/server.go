// Package api exposes the ledger over HTTP for operators and tooling. Like
// the Discord adapter it holds no economy rules of its own.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"campton/internal/ledger"
	"campton/internal/market"
	"campton/internal/persist"
	"campton/internal/sched"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
)

type Server struct {
	log        *slog.Logger
	engine     *market.Engine
	gateway    *persist.Gateway
	scheduler  *sched.Scheduler
	adminToken string
	mux        *chi.Mux
}

func New(logger *slog.Logger, engine *market.Engine, gateway *persist.Gateway, scheduler *sched.Scheduler, adminToken string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:        logger,
		engine:     engine,
		gateway:    gateway,
		scheduler:  scheduler,
		adminToken: adminToken,
		mux:        chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/price", s.handlePrice)
		r.Get("/accounts/{id}", s.handleAccount)
		r.Get("/leaderboard", s.handleLeaderboard)

		r.Group(func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Post("/admin/save", s.handleForceSave)
			r.Post("/admin/convert", s.handleForceConvert)
			r.Post("/admin/price", s.handleSetPrice)
			r.Post("/admin/accounts/{id}/adjust", s.handleAdjust)
		})
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			writeError(w, http.StatusForbidden, "admin endpoints disabled: no admin token configured")
			return
		}
		if bearerToken(r.Header.Get("Authorization")) != s.adminToken {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePrice(w http.ResponseWriter, _ *http.Request) {
	store := s.engine.Store()
	writeJSON(w, http.StatusOK, map[string]any{
		"coin":                     ledger.CoinName,
		"price":                    store.MarketPrice(),
		"next_conversion_deadline": store.ConversionDeadline().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "account id is required")
		return
	}
	acct := s.engine.Store().GetAccount(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":         id,
		"balance":         acct.Balance,
		"holding":         acct.Holding,
		"on_buy_cooldown": acct.OnBuyCooldown,
	})
}

type leaderboardRow struct {
	Rank     int64           `json:"rank"`
	UserID   string          `json:"user_id"`
	Balance  decimal.Decimal `json:"balance"`
	Holding  decimal.Decimal `json:"holding"`
	NetWorth decimal.Decimal `json:"net_worth"`
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	snap := s.engine.Store().CloneSnapshot()
	rows := make([]leaderboardRow, 0, len(snap.Accounts))
	for id, acct := range snap.Accounts {
		rows = append(rows, leaderboardRow{
			UserID:   id,
			Balance:  acct.Balance,
			Holding:  acct.Holding,
			NetWorth: acct.Balance.Add(acct.Holding.Mul(snap.Price)).Truncate(ledger.BalancePrecision),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].NetWorth.Equal(rows[j].NetWorth) {
			return rows[i].NetWorth.GreaterThan(rows[j].NetWorth)
		}
		return rows[i].UserID < rows[j].UserID
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	for i := range rows {
		rows[i].Rank = int64(i + 1)
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) handleForceSave(w http.ResponseWriter, r *http.Request) {
	if err := s.gateway.Save(r.Context(), s.engine.Store().CloneSnapshot()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": true})
}

func (s *Server) handleForceConvert(w http.ResponseWriter, _ *http.Request) {
	s.scheduler.TriggerConversion()
	writeJSON(w, http.StatusAccepted, map[string]any{"triggered": true})
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	applied, err := s.engine.SetPrice(in.Price)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"price": applied})
}

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	var in struct {
		Kind   string          `json:"kind"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var err error
	var after decimal.Decimal
	switch in.Kind {
	case "cash":
		after, err = s.engine.AdjustBalance(id, in.Amount)
	case "coin":
		after, err = s.engine.AdjustHolding(id, in.Amount)
	default:
		writeError(w, http.StatusBadRequest, "kind must be cash or coin")
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": id, "kind": in.Kind, "after": after})
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, market.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, market.ErrInsufficientFunds),
		errors.Is(err, market.ErrInsufficientHoldings),
		errors.Is(err, market.ErrOnCooldown),
		errors.Is(err, market.ErrSelfTransfer):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

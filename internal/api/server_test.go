package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"campton/internal/ledger"
	"campton/internal/market"
	"campton/internal/sched"

	"github.com/shopspring/decimal"
)

func newTestServer(t *testing.T) (*Server, *market.Engine) {
	t.Helper()
	store := ledger.NewStore(ledger.NewSnapshot(time.Now()), time.Now())
	engine := market.NewEngine(store, nil, nil, 0)
	scheduler := sched.New(sched.Config{
		PriceUpdateEvery:     time.Hour,
		ConversionCheckEvery: time.Hour,
		CountdownEvery:       time.Hour,
	}, engine, nil, nil, nil)
	return New(nil, engine, nil, scheduler, "sekrit"), engine
}

func TestPriceEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/price", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out struct {
		Coin  string          `json:"coin"`
		Price decimal.Decimal `json:"price"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Coin != ledger.CoinName {
		t.Fatalf("coin = %q, want %q", out.Coin, ledger.CoinName)
	}
	if !out.Price.Equal(ledger.InitialPrice) {
		t.Fatalf("price = %s, want %s", out.Price, ledger.InitialPrice)
	}
}

func TestAdminRequiresToken(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/admin/price", strings.NewReader(`{"price":"2.00"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/price", strings.NewReader(`{"price":"2.00"}`))
	req.Header.Set("Authorization", "Bearer sekrit")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("with token status = %d, body %s", rec.Code, rec.Body)
	}
}

func TestAdjustEndpoint(t *testing.T) {
	s, engine := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/accounts/alice/adjust", strings.NewReader(`{"kind":"cash","amount":"25.50"}`))
	req.Header.Set("Authorization", "Bearer sekrit")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if got := engine.Store().GetAccount("alice").Balance; !got.Equal(decimal.RequireFromString("25.50")) {
		t.Fatalf("balance = %s, want 25.50", got)
	}

	// Engine-level rejections map to client errors, not 500s.
	req = httptest.NewRequest(http.MethodPost, "/v1/admin/accounts/alice/adjust", strings.NewReader(`{"kind":"cash","amount":"-1"}`))
	req.Header.Set("Authorization", "Bearer sekrit")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestLeaderboardRanksByNetWorth(t *testing.T) {
	s, engine := newTestServer(t)
	if _, err := engine.AdjustBalance("poor", decimal.NewFromInt(10)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := engine.AdjustBalance("rich", decimal.NewFromInt(1000)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := engine.AdjustHolding("rich", decimal.NewFromInt(5)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/leaderboard", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out struct {
		Rows []struct {
			Rank   int64  `json:"rank"`
			UserID string `json:"user_id"`
		} `json:"rows"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Rows) != 2 || out.Rows[0].UserID != "rich" || out.Rows[0].Rank != 1 {
		t.Fatalf("unexpected ranking: %+v", out.Rows)
	}
}

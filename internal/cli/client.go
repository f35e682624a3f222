// Package cli is the HTTP client side of the camptonctl tool.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Client struct {
	BaseURL    string
	AdminToken string
	HTTP       *http.Client
}

func NewClient(baseURL, adminToken string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AdminToken: adminToken,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type PriceInfo struct {
	Coin                   string          `json:"coin"`
	Price                  decimal.Decimal `json:"price"`
	NextConversionDeadline time.Time       `json:"next_conversion_deadline"`
}

type AccountInfo struct {
	UserID        string          `json:"user_id"`
	Balance       decimal.Decimal `json:"balance"`
	Holding       decimal.Decimal `json:"holding"`
	OnBuyCooldown bool            `json:"on_buy_cooldown"`
}

type LeaderboardRow struct {
	Rank     int64           `json:"rank"`
	UserID   string          `json:"user_id"`
	Balance  decimal.Decimal `json:"balance"`
	Holding  decimal.Decimal `json:"holding"`
	NetWorth decimal.Decimal `json:"net_worth"`
}

func (c *Client) Price(ctx context.Context) (PriceInfo, error) {
	var out PriceInfo
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/price", nil, &out, false)
	return out, err
}

func (c *Client) Account(ctx context.Context, userID string) (AccountInfo, error) {
	var out AccountInfo
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(userID), nil, &out, false)
	return out, err
}

func (c *Client) Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	path := "/v1/leaderboard"
	if limit > 0 {
		path = fmt.Sprintf("/v1/leaderboard?limit=%d", limit)
	}
	var out struct {
		Rows []LeaderboardRow `json:"rows"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out, false)
	return out.Rows, err
}

func (c *Client) ForceSave(ctx context.Context) error {
	return c.jsonRequest(ctx, http.MethodPost, "/v1/admin/save", nil, nil, true)
}

func (c *Client) ForceConvert(ctx context.Context) error {
	return c.jsonRequest(ctx, http.MethodPost, "/v1/admin/convert", nil, nil, true)
}

func (c *Client) SetPrice(ctx context.Context, price decimal.Decimal) (decimal.Decimal, error) {
	var out struct {
		Price decimal.Decimal `json:"price"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/price", map[string]any{
		"price": price,
	}, &out, true)
	return out.Price, err
}

func (c *Client) Adjust(ctx context.Context, userID, kind string, amount decimal.Decimal) (decimal.Decimal, error) {
	var out struct {
		After decimal.Decimal `json:"after"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/accounts/"+url.PathEscape(userID)+"/adjust", map[string]any{
		"kind":   kind,
		"amount": amount,
	}, &out, true)
	return out.After, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any, admin bool) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		if c.AdminToken == "" {
			return fmt.Errorf("admin token required: set CAMPTON_ADMIN_TOKEN")
		}
		req.Header.Set("Authorization", "Bearer "+c.AdminToken)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

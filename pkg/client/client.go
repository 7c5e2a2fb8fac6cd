// Package client vaultd HTTP 接口的 Go 客户端（vaultctl 使用）。
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/betbot/ogvault/internal/vault"
	"github.com/betbot/ogvault/pkg/apitypes"
)

// APIError 服务端返回的非 2xx 响应。Unwrap 得到金库哨兵错误，可直接 errors.Is。
type APIError struct {
	Status  int
	Code    string
	Message string
	// Receipt 信号被拒绝时附带的回执
	Receipt *apitypes.Receipt
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vaultd %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return vault.ErrorFromCode(e.Code)
}

type Client struct {
	client *resty.Client
	host   string
	caller string
}

// New host 形如 http://127.0.0.1:8080。caller 为调用方地址，可为空（只读接口）。
func New(host, caller string) *Client {
	host = strings.TrimSuffix(host, "/")
	c := resty.New().
		SetBaseURL(host).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// 只重试连接错误和 GET 的 5xx，写操作不重试
			if err != nil {
				return true
			}
			return resp.Request.Method == http.MethodGet && resp.StatusCode() >= 500
		})
	return &Client{client: c, host: host, caller: caller}
}

// WithCaller 返回使用另一个调用方地址的客户端（共享连接池）。
func (c *Client) WithCaller(caller string) *Client {
	return &Client{client: c.client, host: c.host, caller: caller}
}

func (c *Client) Caller() string { return c.caller }

func (c *Client) Host() string { return c.host }

func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R().SetContext(ctx).SetHeader("Accept", "application/json")
	if c.caller != "" {
		r.SetHeader(apitypes.CallerHeader, c.caller)
	}
	return r
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	r := c.newRequest(ctx)
	if body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if out != nil {
		r.SetResult(out)
	}
	resp, err := r.Execute(method, path)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	if resp.IsSuccess() {
		return nil
	}
	return parseError(resp)
}

func call[T any](ctx context.Context, c *Client, method, path string, body any) (*T, error) {
	var out T
	if err := c.do(ctx, method, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func parseError(resp *resty.Response) error {
	var body apitypes.SignalResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil || body.Code == "" {
		return &APIError{Status: resp.StatusCode(), Code: "Internal", Message: strings.TrimSpace(string(resp.Body()))}
	}
	return &APIError{Status: resp.StatusCode(), Code: body.Code, Message: body.Error, Receipt: body.Receipt}
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) VaultInfo(ctx context.Context) (*apitypes.VaultInfo, error) {
	return call[apitypes.VaultInfo](ctx, c, http.MethodGet, "/api/vault", nil)
}

func (c *Client) Portfolio(ctx context.Context) (*apitypes.Portfolio, error) {
	return call[apitypes.Portfolio](ctx, c, http.MethodGet, "/api/portfolio", nil)
}

func (c *Client) Account(ctx context.Context, address string) (*apitypes.Account, error) {
	return call[apitypes.Account](ctx, c, http.MethodGet, "/api/accounts/"+address, nil)
}

func (c *Client) Pairs(ctx context.Context) ([]apitypes.Pair, error) {
	var out []apitypes.Pair
	if err := c.do(ctx, http.MethodGet, "/api/pairs", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Events limit<=0 使用服务端默认值，eventType 为空表示全部类型。
func (c *Client) Events(ctx context.Context, limit int, eventType string) ([]apitypes.Event, error) {
	r := c.newRequest(ctx)
	if limit > 0 {
		r.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if eventType != "" {
		r.SetQueryParam("type", eventType)
	}
	var out []apitypes.Event
	resp, err := r.SetResult(&out).Get("/api/events")
	if err != nil {
		return nil, errors.Wrap(err, "GET /api/events")
	}
	if !resp.IsSuccess() {
		return nil, parseError(resp)
	}
	return out, nil
}

func (c *Client) Deposit(ctx context.Context, req apitypes.DepositRequest) (*apitypes.DepositResponse, error) {
	return call[apitypes.DepositResponse](ctx, c, http.MethodPost, "/api/deposit", req)
}

func (c *Client) Redeem(ctx context.Context, req apitypes.RedeemRequest) (*apitypes.WithdrawResponse, error) {
	return call[apitypes.WithdrawResponse](ctx, c, http.MethodPost, "/api/redeem", req)
}

func (c *Client) Withdraw(ctx context.Context, req apitypes.WithdrawRequest) (*apitypes.WithdrawResponse, error) {
	return call[apitypes.WithdrawResponse](ctx, c, http.MethodPost, "/api/withdraw", req)
}

func (c *Client) PercentageWithdraw(ctx context.Context, req apitypes.PercentageWithdrawRequest) (*apitypes.WithdrawResponse, error) {
	return call[apitypes.WithdrawResponse](ctx, c, http.MethodPost, "/api/withdraw/percentage", req)
}

func (c *Client) SetPair(ctx context.Context, req apitypes.SetPairRequest) (*apitypes.Pair, error) {
	return call[apitypes.Pair](ctx, c, http.MethodPost, "/api/pairs", req)
}

func (c *Client) DisablePair(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodDelete, "/api/pairs/"+token, nil, nil)
}

func (c *Client) UpdateStrategy(ctx context.Context, req apitypes.StrategyRequest) (*apitypes.StrategySettings, error) {
	return call[apitypes.StrategySettings](ctx, c, http.MethodPut, "/api/strategy", req)
}

func (c *Client) ResumeSignals(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/strategy/resume", nil, nil)
}

// Buy 被拒绝时返回 *APIError，其中带回执。
func (c *Client) Buy(ctx context.Context, req apitypes.BuySignalRequest) (*apitypes.Receipt, error) {
	var out apitypes.SignalResponse
	if err := c.do(ctx, http.MethodPost, "/api/signals/buy", req, &out); err != nil {
		return nil, err
	}
	return out.Receipt, nil
}

func (c *Client) Sell(ctx context.Context, req apitypes.SellSignalRequest) (*apitypes.Receipt, error) {
	var out apitypes.SignalResponse
	if err := c.do(ctx, http.MethodPost, "/api/signals/sell", req, &out); err != nil {
		return nil, err
	}
	return out.Receipt, nil
}

func (c *Client) GrantRole(ctx context.Context, role, account string) error {
	return c.do(ctx, http.MethodPost, "/api/roles/grant", apitypes.RoleRequest{Role: role, Account: account}, nil)
}

func (c *Client) RevokeRole(ctx context.Context, role, account string) error {
	return c.do(ctx, http.MethodPost, "/api/roles/revoke", apitypes.RoleRequest{Role: role, Account: account}, nil)
}

func (c *Client) RenounceRole(ctx context.Context, role string) error {
	return c.do(ctx, http.MethodPost, "/api/roles/renounce", apitypes.RoleRequest{Role: role}, nil)
}

func (c *Client) DevMint(ctx context.Context, req apitypes.MintRequest) (*apitypes.Balance, error) {
	return call[apitypes.Balance](ctx, c, http.MethodPost, "/api/dev/mint", req)
}

func (c *Client) DevApprove(ctx context.Context, req apitypes.ApproveRequest) (*apitypes.Balance, error) {
	return call[apitypes.Balance](ctx, c, http.MethodPost, "/api/dev/approve", req)
}

func (c *Client) DevSetPrice(ctx context.Context, req apitypes.PriceRequest) error {
	return c.do(ctx, http.MethodPost, "/api/dev/price", req, nil)
}

func (c *Client) DevBalance(ctx context.Context, token, account string) (*apitypes.Balance, error) {
	var out apitypes.Balance
	resp, err := c.newRequest(ctx).
		SetQueryParams(map[string]string{"token": token, "account": account}).
		SetResult(&out).
		Get("/api/dev/balance")
	if err != nil {
		return nil, errors.Wrap(err, "GET /api/dev/balance")
	}
	if !resp.IsSuccess() {
		return nil, parseError(resp)
	}
	return &out, nil
}

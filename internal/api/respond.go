package api

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/betbot/ogvault/internal/vault"
	"github.com/betbot/ogvault/pkg/apitypes"
)

const (
	// codeBadRequest 请求本身无法解析（JSON、地址、金额格式）。
	codeBadRequest = "BadRequest"
	// codeRateLimited 信号频率超限
	codeRateLimited = "RateLimited"
)

type badRequestError struct{ err error }

func (e badRequestError) Error() string { return e.err.Error() }
func (e badRequestError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return badRequestError{err: fmt.Errorf(format, args...)}
}

func statusFor(code string) int {
	switch code {
	case codeBadRequest:
		return http.StatusBadRequest
	case "Unauthorized":
		return http.StatusForbidden
	case "SwapFailed", "PriceUnavailable":
		return http.StatusBadGateway
	case "Internal":
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}

func errorBody(err error) (int, apitypes.ErrorResponse) {
	var br badRequestError
	code := vault.Code(err)
	if errors.As(err, &br) && code == "Internal" {
		code = codeBadRequest
	}
	return statusFor(code), apitypes.ErrorResponse{Code: code, Error: err.Error()}
}

func writeError(c *gin.Context, err error) {
	status, body := errorBody(err)
	if status >= http.StatusInternalServerError {
		log.Warnf("%s %s 失败: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, body)
}

func bind(c *gin.Context, req any) error {
	if err := c.ShouldBindJSON(req); err != nil {
		return badRequest("invalid json body: %v", err)
	}
	return nil
}

func parseAddress(name, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, badRequest("%s=%q: not a hex address", name, raw)
	}
	return common.HexToAddress(raw), nil
}

// parseOptionalAddress 为空时返回 def。
func parseOptionalAddress(name, raw string, def common.Address) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	return parseAddress(name, raw)
}

func parseAmount(name, raw string) (*big.Int, error) {
	v, err := vault.ParseAmount(name, strings.TrimSpace(raw))
	if err != nil && vault.Code(err) == "Internal" {
		return nil, badRequestError{err: err}
	}
	return v, err
}

// caller 读取 X-Vault-Caller，缺失视为未授权。
func caller(c *gin.Context) (common.Address, error) {
	raw := strings.TrimSpace(c.GetHeader(apitypes.CallerHeader))
	if raw == "" {
		return common.Address{}, fmt.Errorf("missing %s header: %w", apitypes.CallerHeader, vault.ErrUnauthorized)
	}
	return parseAddress(apitypes.CallerHeader, raw)
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func assetAmounts(in []vault.AssetAmount) []apitypes.AssetAmount {
	out := make([]apitypes.AssetAmount, 0, len(in))
	for _, a := range in {
		out = append(out, apitypes.AssetAmount{Token: a.Token.Hex(), Amount: amountString(a.Amount)})
	}
	return out
}

func receiptDTO(r *vault.SignalReceipt) *apitypes.Receipt {
	if r == nil {
		return nil
	}
	out := &apitypes.Receipt{
		ID:        r.ID,
		Type:      string(r.Type),
		Token:     r.Token.Hex(),
		Phase:     string(r.Phase),
		Code:      r.Code,
		Error:     r.Error,
		Timestamp: r.Timestamp,
	}
	if r.AmountIn != nil {
		out.AmountIn = r.AmountIn.String()
	}
	if r.AmountOut != nil {
		out.AmountOut = r.AmountOut.String()
	}
	return out
}

func eventDTO(seq int64, ev vault.Event) apitypes.Event {
	return apitypes.Event{
		Seq:       seq,
		ID:        ev.ID,
		Type:      string(ev.Type),
		Timestamp: ev.Timestamp,
		Data:      ev.Data,
	}
}

func settingsDTO(s vault.StrategySettings) apitypes.StrategySettings {
	return apitypes.StrategySettings{
		Enabled:              s.Enabled,
		SignalTimeoutSeconds: s.SignalTimeoutSeconds,
		LastSignalTimestamp:  s.LastSignalTimestamp,
	}
}

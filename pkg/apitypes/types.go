// Package apitypes vaultd HTTP 接口的请求/响应结构。金额一律是最小单位的十进制字符串。
package apitypes

import "time"

// CallerHeader 调用方地址所在的请求头
const CallerHeader = "X-Vault-Caller"

type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

type VaultInfo struct {
	Address       string              `json:"address"`
	BaseAsset     string              `json:"base_asset"`
	TotalSupply   string              `json:"total_supply"`
	TotalAssets   string              `json:"total_assets"`
	TimeoutMode   string              `json:"timeout_mode"`
	RedeemPolicy  string              `json:"redeem_policy"`
	Strategy      StrategySettings    `json:"strategy"`
	SignalsHalted bool                `json:"signals_halted"`
	Roles         map[string][]string `json:"roles"`
}

type StrategySettings struct {
	Enabled              bool   `json:"enabled"`
	SignalTimeoutSeconds uint64 `json:"signal_timeout_seconds"`
	LastSignalTimestamp  int64  `json:"last_signal_timestamp"`
}

type AssetAmount struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type Portfolio struct {
	BaseAsset  string        `json:"base_asset"`
	BaseAmount string        `json:"base_amount"`
	Tokens     []AssetAmount `json:"tokens"`
}

type Account struct {
	Address string   `json:"address"`
	Shares  string   `json:"shares"`
	Roles   []string `json:"roles"`
}

type Pair struct {
	Token            string `json:"token"`
	MaxAllocationBps uint32 `json:"max_allocation_bps"`
	MinExitAmount    string `json:"min_exit_amount"`
	IsActive         bool   `json:"is_active"`
	Holding          string `json:"holding"`
	Headroom         string `json:"headroom,omitempty"`
}

type DepositRequest struct {
	Amount   string `json:"amount"`
	Receiver string `json:"receiver"`
}

type DepositResponse struct {
	Shares string `json:"shares"`
}

type RedeemRequest struct {
	Shares   string `json:"shares"`
	Receiver string `json:"receiver"`
	Owner    string `json:"owner"`
}

type WithdrawRequest struct {
	Assets   string `json:"assets"`
	Receiver string `json:"receiver"`
	Owner    string `json:"owner"`
}

type PercentageWithdrawRequest struct {
	Bps      uint32 `json:"bps"`
	Receiver string `json:"receiver"`
}

type WithdrawResponse struct {
	SharesBurned string        `json:"shares_burned"`
	Assets       []AssetAmount `json:"assets"`
}

type SetPairRequest struct {
	Token            string `json:"token"`
	MaxAllocationBps uint32 `json:"max_allocation_bps"`
	MinExitAmount    string `json:"min_exit_amount"`
}

type StrategyRequest struct {
	Enabled              bool   `json:"enabled"`
	SignalTimeoutSeconds uint64 `json:"signal_timeout_seconds"`
}

type BuySignalRequest struct {
	Token                    string `json:"token"`
	AmountIn                 string `json:"amount_in"`
	MinAmountOut             string `json:"min_amount_out"`
	MaxAllocationBpsOverride uint32 `json:"max_allocation_bps_override"`
}

type SellSignalRequest struct {
	Token        string `json:"token"`
	Amount       string `json:"amount"`
	MinAmountOut string `json:"min_amount_out"`
}

type Receipt struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Token     string    `json:"token"`
	Phase     string    `json:"phase"`
	AmountIn  string    `json:"amount_in,omitempty"`
	AmountOut string    `json:"amount_out,omitempty"`
	Code      string    `json:"code,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SignalResponse 被拒绝的信号也会带回执，同时 HTTP 状态为错误码
type SignalResponse struct {
	ErrorResponse
	Receipt *Receipt `json:"receipt,omitempty"`
}

type RoleRequest struct {
	Role    string `json:"role"`
	Account string `json:"account"`
}

type Event struct {
	Seq       int64             `json:"seq,omitempty"`
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Data      map[string]string `json:"data"`
}

type MintRequest struct {
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// ApproveRequest Spender 为空时授权给金库
type ApproveRequest struct {
	Token   string `json:"token"`
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

// PriceRequest Price 为 1e18 定点价格
type PriceRequest struct {
	Token string `json:"token"`
	Price string `json:"price"`
}

type Balance struct {
	Token     string `json:"token"`
	Account   string `json:"account"`
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/betbot/ogvault/internal/vault"
	"github.com/betbot/ogvault/pkg/logger"
	"github.com/betbot/ogvault/pkg/units"
)

// Config vaultd 配置
type Config struct {
	Vault   VaultConfig   `yaml:"vault" json:"vault"`
	Tokens  []TokenConfig `yaml:"tokens" json:"tokens"`
	Pairs   []PairConfig  `yaml:"pairs" json:"pairs"`
	Roles   RolesConfig   `yaml:"roles" json:"roles"`
	Oracle  OracleConfig  `yaml:"oracle" json:"oracle"`
	Router  RouterConfig  `yaml:"router" json:"router"`
	Storage StorageConfig `yaml:"storage" json:"storage"`
	Server  ServerConfig  `yaml:"server" json:"server"`
	Log     logger.Config `yaml:"log" json:"log"`
}

// VaultConfig 金库本身的参数
type VaultConfig struct {
	Address      string `yaml:"address" json:"address"`
	BaseAsset    string `yaml:"base_asset" json:"base_asset"`
	BaseDecimals int32  `yaml:"base_decimals" json:"base_decimals"`
	Admin        string `yaml:"admin" json:"admin"`

	StrategyEnabled        bool   `yaml:"strategy_enabled" json:"strategy_enabled"`
	SignalTimeoutSeconds   uint64 `yaml:"signal_timeout_seconds" json:"signal_timeout_seconds"`
	TimeoutMode            string `yaml:"timeout_mode" json:"timeout_mode"`   // freshness | cooldown
	RedeemPolicy           string `yaml:"redeem_policy" json:"redeem_policy"` // in_kind | liquidate
	LiquidationSlippageBps uint32 `yaml:"liquidation_slippage_bps" json:"liquidation_slippage_bps"`

	MaxConsecutiveSwapFailures int64 `yaml:"max_consecutive_swap_failures" json:"max_consecutive_swap_failures"` // 0 关闭熔断
}

// TokenConfig 可交易代币。Price 为 1 个代币折合多少基础资产（十进制），static 预言机使用
type TokenConfig struct {
	Symbol    string `yaml:"symbol" json:"symbol"`
	Address   string `yaml:"address" json:"address"`
	Decimals  int32  `yaml:"decimals" json:"decimals"`
	Price     string `yaml:"price" json:"price"`
	Liquidity string `yaml:"liquidity" json:"liquidity"` // 模拟 Router 的初始流动性（十进制）
}

// PairConfig 启动时登记的交易对（只在没有快照时生效）
type PairConfig struct {
	Token            string `yaml:"token" json:"token"` // 地址或 tokens 中的 symbol
	MaxAllocationBps uint32 `yaml:"max_allocation_bps" json:"max_allocation_bps"`
	MinExitAmount    string `yaml:"min_exit_amount" json:"min_exit_amount"`
}

// RolesConfig 启动时由 admin 授予的角色
type RolesConfig struct {
	StrategyManagers []string `yaml:"strategy_managers" json:"strategy_managers"`
	Oracles          []string `yaml:"oracles" json:"oracles"`
}

// OracleConfig 价格来源
type OracleConfig struct {
	Source   string `yaml:"source" json:"source"` // static | chain
	RPCURL   string `yaml:"rpc_url" json:"rpc_url"`
	Contract string `yaml:"contract" json:"contract"`
	Timeout  int    `yaml:"timeout" json:"timeout"` // RPC 超时（秒）
	// CacheTTLMillis 链上报价缓存时间（毫秒），0 表示不缓存
	CacheTTLMillis int `yaml:"cache_ttl_ms" json:"cache_ttl_ms"`
}

// RouterConfig 模拟 Router 参数
type RouterConfig struct {
	Address  string `yaml:"address" json:"address"`
	Fee      uint32 `yaml:"fee" json:"fee"`           // 传给 ExactInputSingle 的费率档
	FeeBps   uint32 `yaml:"fee_bps" json:"fee_bps"`   // 模拟成交实际扣除的费用
	Deadline int    `yaml:"deadline" json:"deadline"` // swap 截止时间（秒）
	// BaseLiquidity 模拟 Router 的基础资产初始流动性（十进制），卖出信号从这里换回基础资产
	BaseLiquidity string `yaml:"base_liquidity" json:"base_liquidity"`
}

// StorageConfig 状态快照与事件日志
type StorageConfig struct {
	Backend       string `yaml:"backend" json:"backend"` // json | badger
	Path          string `yaml:"path" json:"path"`
	EncryptionKey string `yaml:"encryption_key" json:"encryption_key"`
	JournalPath   string `yaml:"journal_path" json:"journal_path"`
}

// ServerConfig HTTP 服务
type ServerConfig struct {
	Listen        string `yaml:"listen" json:"listen"`
	MetricsListen string `yaml:"metrics_listen" json:"metrics_listen"`
	DevEndpoints  bool   `yaml:"dev_endpoints" json:"dev_endpoints"`
	// SignalRateLimit 每个调用方每分钟最多提交的信号数，0 表示不限制
	SignalRateLimit int `yaml:"signal_rate_limit" json:"signal_rate_limit"`
}

// Load 从文件加载配置，应用环境变量覆盖并补默认值
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败 %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败 %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnv 环境变量优先于配置文件
func (c *Config) applyEnv() {
	c.Vault.Address = getEnv("OGV_VAULT_ADDRESS", c.Vault.Address)
	c.Vault.BaseAsset = getEnv("OGV_BASE_ASSET", c.Vault.BaseAsset)
	c.Vault.Admin = getEnv("OGV_ADMIN", c.Vault.Admin)
	c.Vault.TimeoutMode = getEnv("OGV_TIMEOUT_MODE", c.Vault.TimeoutMode)
	c.Vault.RedeemPolicy = getEnv("OGV_REDEEM_POLICY", c.Vault.RedeemPolicy)
	c.Vault.SignalTimeoutSeconds = uint64(parseIntEnv("OGV_SIGNAL_TIMEOUT", int(c.Vault.SignalTimeoutSeconds)))

	c.Oracle.Source = getEnv("OGV_ORACLE_SOURCE", c.Oracle.Source)
	c.Oracle.RPCURL = getEnv("OGV_RPC_URL", c.Oracle.RPCURL)
	c.Oracle.Contract = getEnv("OGV_ORACLE_CONTRACT", c.Oracle.Contract)

	c.Storage.Backend = getEnv("OGV_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Path = getEnv("OGV_STORAGE_PATH", c.Storage.Path)
	c.Storage.EncryptionKey = getEnv("OGV_STORAGE_KEY", c.Storage.EncryptionKey)
	c.Storage.JournalPath = getEnv("OGV_JOURNAL_PATH", c.Storage.JournalPath)

	c.Server.Listen = getEnv("OGV_LISTEN", c.Server.Listen)
	c.Server.MetricsListen = getEnv("OGV_METRICS_LISTEN", c.Server.MetricsListen)
	c.Server.DevEndpoints = parseBoolEnv("OGV_DEV_ENDPOINTS", c.Server.DevEndpoints)
	c.Server.SignalRateLimit = parseIntEnv("OGV_SIGNAL_RATE_LIMIT", c.Server.SignalRateLimit)

	c.Log.Level = getEnv("OGV_LOG_LEVEL", c.Log.Level)
	c.Log.OutputFile = getEnv("OGV_LOG_FILE", c.Log.OutputFile)
}

func (c *Config) applyDefaults() {
	if c.Vault.BaseDecimals == 0 {
		c.Vault.BaseDecimals = 18
	}
	if c.Vault.SignalTimeoutSeconds == 0 {
		c.Vault.SignalTimeoutSeconds = vault.DefaultSignalTimeoutSeconds
	}
	if c.Vault.LiquidationSlippageBps == 0 {
		c.Vault.LiquidationSlippageBps = 100
	}
	for i := range c.Tokens {
		if c.Tokens[i].Decimals == 0 {
			c.Tokens[i].Decimals = 18
		}
	}
	if c.Oracle.Source == "" {
		c.Oracle.Source = "static"
	}
	if c.Oracle.Timeout <= 0 {
		c.Oracle.Timeout = 10
	}
	if c.Router.Fee == 0 {
		c.Router.Fee = 3000
	}
	if c.Router.Deadline <= 0 {
		c.Router.Deadline = 300
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "json"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/state"
	}
	if c.Storage.JournalPath == "" {
		c.Storage.JournalPath = "data/journal.db"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"vault.address":    c.Vault.Address,
		"vault.base_asset": c.Vault.BaseAsset,
		"vault.admin":      c.Vault.Admin,
		"router.address":   c.Router.Address,
	} {
		if !isAddress(raw) {
			return fmt.Errorf("%s 不是合法地址: %q", name, raw)
		}
	}
	if _, err := vault.ParseTimeoutMode(c.Vault.TimeoutMode); err != nil {
		return err
	}
	if _, err := vault.ParseRedeemPolicy(c.Vault.RedeemPolicy); err != nil {
		return err
	}
	if c.Vault.LiquidationSlippageBps > vault.BpsDenominator {
		return fmt.Errorf("liquidation_slippage_bps 不能超过 %d", vault.BpsDenominator)
	}
	if c.Vault.BaseDecimals < 0 || c.Vault.BaseDecimals > 36 {
		return fmt.Errorf("base_decimals 超出范围: %d", c.Vault.BaseDecimals)
	}
	if c.Router.FeeBps >= vault.BpsDenominator {
		return fmt.Errorf("router.fee_bps 必须小于 %d", vault.BpsDenominator)
	}
	if c.Router.BaseLiquidity != "" {
		if _, err := units.ParseUnits(c.Router.BaseLiquidity, c.Vault.BaseDecimals); err != nil {
			return fmt.Errorf("router.base_liquidity 不合法: %w", err)
		}
	}

	seen := make(map[string]bool)
	for _, t := range c.Tokens {
		if !isAddress(t.Address) {
			return fmt.Errorf("代币 %s 地址不合法: %q", t.Symbol, t.Address)
		}
		if strings.EqualFold(t.Address, c.Vault.BaseAsset) {
			return fmt.Errorf("代币 %s 不能是基础资产", t.Symbol)
		}
		key := strings.ToLower(t.Symbol)
		if key != "" && seen[key] {
			return fmt.Errorf("代币 symbol 重复: %s", t.Symbol)
		}
		seen[key] = true
		if c.Oracle.Source == "static" {
			if _, err := units.PriceFromDecimal(t.Price, t.Decimals, c.Vault.BaseDecimals); err != nil {
				return fmt.Errorf("代币 %s 价格不合法: %w", t.Symbol, err)
			}
		}
		if t.Liquidity != "" {
			if _, err := units.ParseUnits(t.Liquidity, t.Decimals); err != nil {
				return fmt.Errorf("代币 %s 流动性不合法: %w", t.Symbol, err)
			}
		}
	}

	for _, p := range c.Pairs {
		tok, ok := c.ResolveToken(p.Token)
		if !ok {
			return fmt.Errorf("交易对代币未知: %s", p.Token)
		}
		if p.MaxAllocationBps > vault.BpsDenominator {
			return fmt.Errorf("交易对 %s 的 max_allocation_bps 不能超过 %d", p.Token, vault.BpsDenominator)
		}
		if p.MinExitAmount != "" {
			if _, err := units.ParseUnits(p.MinExitAmount, tok.Decimals); err != nil {
				return fmt.Errorf("交易对 %s 的 min_exit_amount 不合法: %w", p.Token, err)
			}
		}
	}
	if len(c.Pairs) > 0 && !containsAddress(c.Roles.StrategyManagers, c.Vault.Admin) {
		return fmt.Errorf("配置了初始交易对时 admin 必须在 roles.strategy_managers 中")
	}
	for _, a := range append(append([]string{}, c.Roles.StrategyManagers...), c.Roles.Oracles...) {
		if !isAddress(a) {
			return fmt.Errorf("角色成员地址不合法: %q", a)
		}
	}

	switch c.Oracle.Source {
	case "static":
	case "chain":
		if c.Oracle.RPCURL == "" {
			return fmt.Errorf("oracle.source=chain 时必须配置 rpc_url")
		}
		if !isAddress(c.Oracle.Contract) {
			return fmt.Errorf("oracle.contract 不是合法地址: %q", c.Oracle.Contract)
		}
	default:
		return fmt.Errorf("未知的预言机来源: %s", c.Oracle.Source)
	}

	switch c.Storage.Backend {
	case "json", "badger":
	default:
		return fmt.Errorf("未知的存储后端: %s", c.Storage.Backend)
	}
	if c.Server.SignalRateLimit < 0 {
		return fmt.Errorf("signal_rate_limit 不能为负: %d", c.Server.SignalRateLimit)
	}
	return nil
}

// VaultConfig 转成 vault.Config
func (c *Config) VaultConfig(clock func() time.Time) vault.Config {
	mode, _ := vault.ParseTimeoutMode(c.Vault.TimeoutMode)
	policy, _ := vault.ParseRedeemPolicy(c.Vault.RedeemPolicy)
	return vault.Config{
		Address:                    common.HexToAddress(c.Vault.Address),
		BaseAsset:                  common.HexToAddress(c.Vault.BaseAsset),
		Admin:                      common.HexToAddress(c.Vault.Admin),
		SignalTimeoutSeconds:       c.Vault.SignalTimeoutSeconds,
		TimeoutMode:                mode,
		RedeemPolicy:               policy,
		LiquidationSlippageBps:     c.Vault.LiquidationSlippageBps,
		SwapFee:                    c.Router.Fee,
		SwapDeadline:               time.Duration(c.Router.Deadline) * time.Second,
		MaxConsecutiveSwapFailures: c.Vault.MaxConsecutiveSwapFailures,
		Clock:                      clock,
	}
}

// ResolveToken 按地址或 symbol 查找代币
func (c *Config) ResolveToken(ref string) (TokenConfig, bool) {
	for _, t := range c.Tokens {
		if strings.EqualFold(t.Symbol, ref) || strings.EqualFold(t.Address, ref) {
			return t, true
		}
	}
	return TokenConfig{}, false
}

// DecimalsOf 返回地址对应的精度，基础资产使用 base_decimals，未知代币按 18
func (c *Config) DecimalsOf(addr common.Address) int32 {
	if addr == common.HexToAddress(c.Vault.BaseAsset) {
		return c.Vault.BaseDecimals
	}
	for _, t := range c.Tokens {
		if common.HexToAddress(t.Address) == addr {
			return t.Decimals
		}
	}
	return 18
}

func isAddress(s string) bool {
	return common.IsHexAddress(s) && common.HexToAddress(s) != (common.Address{})
}

func containsAddress(list []string, addr string) bool {
	for _, a := range list {
		if strings.EqualFold(a, addr) {
			return true
		}
	}
	return false
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// Package api 把金库门面暴露为 HTTP/JSON 接口，并通过 websocket 推送已提交的事件。
package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/ogvault/internal/journal"
	"github.com/betbot/ogvault/internal/sim"
	"github.com/betbot/ogvault/internal/vault"
	"github.com/betbot/ogvault/pkg/apitypes"
	"github.com/betbot/ogvault/pkg/ratelimit"
)

var log = logrus.WithField("component", "api")

// History 事件历史查询（journal）。
type History interface {
	List(ctx context.Context, q journal.Query) ([]journal.Entry, error)
}

// Feed 实时事件订阅（事件总线）。
type Feed interface {
	Subscribe(buffer int) (<-chan vault.Event, func())
}

// DevHost 模拟宿主，只在 sim 模式下挂载 /api/dev。
type DevHost struct {
	Ledger *sim.Ledger
	Oracle *sim.Oracle
}

type Config struct {
	Vault   *vault.Vault
	History History
	Feed    Feed
	Dev     *DevHost
	// SignalLimiter 按调用方限制信号频率，nil 表示不限制
	SignalLimiter *ratelimit.Keyed
}

type Server struct {
	cfg Config
	ws  *wsHub
}

func New(cfg Config) (*Server, error) {
	if cfg.Vault == nil {
		return nil, errors.New("vault is required")
	}
	s := &Server{cfg: cfg}
	if cfg.Feed != nil {
		s.ws = newWSHub(cfg.Feed)
	}
	return s, nil
}

// Close 断开所有 websocket 连接。
func (s *Server) Close() {
	if s.ws != nil {
		s.ws.close()
	}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.GET("/vault", s.handleVaultInfo)
	api.GET("/portfolio", s.handlePortfolio)
	api.GET("/accounts/:address", s.handleAccount)
	api.GET("/events", s.handleEvents)

	api.POST("/deposit", s.handleDeposit)
	api.POST("/redeem", s.handleRedeem)
	api.POST("/withdraw", s.handleWithdraw)
	api.POST("/withdraw/percentage", s.handlePercentageWithdraw)

	pairs := api.Group("/pairs")
	pairs.GET("", s.handlePairsList)
	pairs.POST("", s.handleSetPair)
	pairs.DELETE("/:token", s.handleDisablePair)

	strategy := api.Group("/strategy")
	strategy.PUT("", s.handleUpdateStrategy)
	strategy.POST("/resume", s.handleResumeSignals)

	signals := api.Group("/signals", s.limitSignals)
	signals.POST("/buy", s.handleBuySignal)
	signals.POST("/sell", s.handleSellSignal)

	roles := api.Group("/roles")
	roles.POST("/grant", s.handleGrantRole)
	roles.POST("/revoke", s.handleRevokeRole)
	roles.POST("/renounce", s.handleRenounceRole)

	if s.cfg.Dev != nil {
		dev := api.Group("/dev")
		dev.POST("/mint", s.handleDevMint)
		dev.POST("/approve", s.handleDevApprove)
		dev.POST("/price", s.handleDevPrice)
		dev.GET("/balance", s.handleDevBalance)
	}

	if s.ws != nil {
		r.GET("/ws/events", s.ws.handle)
	}
	return r
}

// limitSignals 超出频率时返回 429，不进入金库。
func (s *Server) limitSignals(c *gin.Context) {
	key := strings.ToLower(c.GetHeader(apitypes.CallerHeader))
	if s.cfg.SignalLimiter.Allow(key) {
		c.Next()
		return
	}
	wait := s.cfg.SignalLimiter.RetryAfter(key)
	c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	log.Warnf("⏳ 信号限流: caller=%s retry_after=%s", key, wait)
	c.AbortWithStatusJSON(http.StatusTooManyRequests, apitypes.ErrorResponse{
		Code:  codeRateLimited,
		Error: "too many signals, retry after " + wait.String(),
	})
}

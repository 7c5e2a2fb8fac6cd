package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/betbot/ogvault/internal/journal"
	"github.com/betbot/ogvault/internal/vault"
	"github.com/betbot/ogvault/pkg/apitypes"
)

func (s *Server) handleVaultInfo(c *gin.Context) {
	v := s.cfg.Vault
	total, err := v.TotalAssets(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	roles := make(map[string][]string, len(vault.Roles))
	for _, role := range vault.Roles {
		members := v.RoleMembers(role)
		list := make([]string, 0, len(members))
		for _, m := range members {
			list = append(list, m.Hex())
		}
		roles[string(role)] = list
	}
	cfg := v.Config()
	c.JSON(http.StatusOK, apitypes.VaultInfo{
		Address:       v.Address().Hex(),
		BaseAsset:     v.BaseAsset().Hex(),
		TotalSupply:   amountString(v.TotalSupply()),
		TotalAssets:   amountString(total),
		TimeoutMode:   string(cfg.TimeoutMode),
		RedeemPolicy:  string(cfg.RedeemPolicy),
		Strategy:      settingsDTO(v.StrategySettings()),
		SignalsHalted: v.SignalsHalted(),
		Roles:         roles,
	})
}

func (s *Server) handlePortfolio(c *gin.Context) {
	p := s.cfg.Vault.GetPortfolioComposition()
	c.JSON(http.StatusOK, apitypes.Portfolio{
		BaseAsset:  p.BaseAsset.Hex(),
		BaseAmount: amountString(p.BaseAmount),
		Tokens:     assetAmounts(p.Tokens),
	})
}

func (s *Server) handleAccount(c *gin.Context) {
	addr, err := parseAddress("address", c.Param("address"))
	if err != nil {
		writeError(c, err)
		return
	}
	v := s.cfg.Vault
	out := apitypes.Account{Address: addr.Hex(), Shares: amountString(v.BalanceOf(addr)), Roles: []string{}}
	for _, role := range vault.Roles {
		if v.HasRole(role, addr) {
			out.Roles = append(out.Roles, string(role))
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handlePairsList(c *gin.Context) {
	v := s.cfg.Vault
	pairs := v.TradingPairs()
	out := make([]apitypes.Pair, 0, len(pairs))
	for _, p := range pairs {
		dto := apitypes.Pair{
			Token:            p.Token.Hex(),
			MaxAllocationBps: p.MaxAllocationBps,
			MinExitAmount:    amountString(p.MinExitAmount),
			IsActive:         p.IsActive,
			Holding:          amountString(v.Holding(p.Token)),
		}
		// 报价失败时不影响列表，只是不带 headroom
		if room, err := v.AllocationHeadroom(c.Request.Context(), p.Token); err == nil {
			dto.Headroom = room.String()
		}
		out = append(out, dto)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.cfg.History == nil {
		c.JSON(http.StatusOK, []apitypes.Event{})
		return
	}
	q := journal.Query{Type: vault.EventType(c.Query("type"))}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, badRequest("limit=%q: %v", raw, err))
			return
		}
		q.Limit = n
	}
	if raw := c.Query("before"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(c, badRequest("before=%q: %v", raw, err))
			return
		}
		q.BeforeSeq = n
	}
	entries, err := s.cfg.History.List(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]apitypes.Event, 0, len(entries))
	for _, e := range entries {
		out = append(out, eventDTO(e.Seq, e.Event))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleDeposit(c *gin.Context) {
	var req apitypes.DepositRequest
	from, err := caller(c)
	if err == nil {
		err = bind(c, &req)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	receiver, err := parseOptionalAddress("receiver", req.Receiver, from)
	if err != nil {
		writeError(c, err)
		return
	}
	shares, err := s.cfg.Vault.Deposit(c.Request.Context(), from, amount, receiver)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, apitypes.DepositResponse{Shares: shares.String()})
}

func (s *Server) handleRedeem(c *gin.Context) {
	var req apitypes.RedeemRequest
	from, err := caller(c)
	if err == nil {
		err = bind(c, &req)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	shares, err := parseAmount("shares", req.Shares)
	if err != nil {
		writeError(c, err)
		return
	}
	receiver, err := parseOptionalAddress("receiver", req.Receiver, from)
	if err != nil {
		writeError(c, err)
		return
	}
	owner, err := parseOptionalAddress("owner", req.Owner, from)
	if err != nil {
		writeError(c, err)
		return
	}
	assets, err := s.cfg.Vault.Redeem(c.Request.Context(), from, shares, receiver, owner)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, apitypes.WithdrawResponse{SharesBurned: shares.String(), Assets: assetAmounts(assets)})
}

func (s *Server) handleWithdraw(c *gin.Context) {
	var req apitypes.WithdrawRequest
	from, err := caller(c)
	if err == nil {
		err = bind(c, &req)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	amount, err := parseAmount("assets", req.Assets)
	if err != nil {
		writeError(c, err)
		return
	}
	receiver, err := parseOptionalAddress("receiver", req.Receiver, from)
	if err != nil {
		writeError(c, err)
		return
	}
	owner, err := parseOptionalAddress("owner", req.Owner, from)
	if err != nil {
		writeError(c, err)
		return
	}
	burned, assets, err := s.cfg.Vault.Withdraw(c.Request.Context(), from, amount, receiver, owner)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, apitypes.WithdrawResponse{SharesBurned: burned.String(), Assets: assetAmounts(assets)})
}

func (s *Server) handlePercentageWithdraw(c *gin.Context) {
	var req apitypes.PercentageWithdrawRequest
	from, err := caller(c)
	if err == nil {
		err = bind(c, &req)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	receiver, err := parseOptionalAddress("receiver", req.Receiver, from)
	if err != nil {
		writeError(c, err)
		return
	}
	burned, assets, err := s.cfg.Vault.PercentageWithdraw(c.Request.Context(), from, req.Bps, receiver)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, apitypes.WithdrawResponse{SharesBurned: burned.String(), Assets: assetAmounts(assets)})
}

func (s *Server) handleSetPair(c *gin.Context) {
	var req apitypes.SetPairRequest
	from, err := caller(c)
	if err == nil {
		err = bind(c, &req)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		writeError(c, err)
		return
	}
	minExit, err := parseAmount("min_exit_amount", req.MinExitAmount)
	if err != nil {
		writeError(c, err)
		return
	}
	pair, err := s.cfg.Vault.SetTradingPair(c.Request.Context(), from, token, req.MaxAllocationBps, minExit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, apitypes.Pair{
		Token:            pair.Token.Hex(),
		MaxAllocationBps: pair.MaxAllocationBps,
		MinExitAmount:    amountString(pair.MinExitAmount),
		IsActive:         pair.IsActive,
		Holding:          amountString(s.cfg.Vault.Holding(pair.Token)),
	})
}

func (s *Server) handleDisablePair(c *gin.Context) {
	from, err := caller(c)
	if err != nil {
		writeError(c, err)
		return
	}
	token, err := parseAddress("token", c.Param("token"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.cfg.Vault.DisableTradingPair(c.Request.Context(), from, token); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUpdateStrategy(c *gin.Context) {
	var req apitypes.StrategyRequest
	from, err := caller(c)
	if err == nil {
		err = bind(c, &req)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	settings, err := s.cfg.Vault.UpdateStrategySettings(c.Request.Context(), from, req.Enabled, req.SignalTimeoutSeconds)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, settingsDTO(settings))
}

func (s *Server) handleResumeSignals(c *gin.Context) {
	from, err := caller(c)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.cfg.Vault.ResumeSignals(c.Request.Context(), from); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleBuySignal(c *gin.Context) {
	var req apitypes.BuySignalRequest
	from, err := caller(c)
	if err == nil {
		err = bind(c, &req)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	sig := vault.BuySignal{MaxAllocationBpsOverride: req.MaxAllocationBpsOverride}
	if sig.Token, err = parseAddress("token", req.Token); err != nil {
		writeError(c, err)
		return
	}
	if sig.AmountIn, err = parseAmount("amount_in", req.AmountIn); err != nil {
		writeError(c, err)
		return
	}
	if sig.MinAmountOut, err = parseAmount("min_amount_out", req.MinAmountOut); err != nil {
		writeError(c, err)
		return
	}
	receipt, err := s.cfg.Vault.ExecuteBuySignal(c.Request.Context(), from, sig)
	writeSignal(c, receipt, err)
}

func (s *Server) handleSellSignal(c *gin.Context) {
	var req apitypes.SellSignalRequest
	from, err := caller(c)
	if err == nil {
		err = bind(c, &req)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	var sig vault.SellSignal
	if sig.Token, err = parseAddress("token", req.Token); err != nil {
		writeError(c, err)
		return
	}
	if sig.Amount, err = parseAmount("amount", req.Amount); err != nil {
		writeError(c, err)
		return
	}
	if sig.MinAmountOut, err = parseAmount("min_amount_out", req.MinAmountOut); err != nil {
		writeError(c, err)
		return
	}
	receipt, err := s.cfg.Vault.ExecuteSellSignal(c.Request.Context(), from, sig)
	writeSignal(c, receipt, err)
}

// writeSignal 被拒绝的信号也返回回执。
func writeSignal(c *gin.Context, r *vault.SignalReceipt, err error) {
	if err == nil {
		c.JSON(http.StatusOK, apitypes.SignalResponse{Receipt: receiptDTO(r)})
		return
	}
	status, body := errorBody(err)
	c.AbortWithStatusJSON(status, apitypes.SignalResponse{ErrorResponse: body, Receipt: receiptDTO(r)})
}

func (s *Server) handleGrantRole(c *gin.Context) {
	s.handleRoleChange(c, s.cfg.Vault.GrantRole)
}

func (s *Server) handleRevokeRole(c *gin.Context) {
	s.handleRoleChange(c, s.cfg.Vault.RevokeRole)
}

type roleChangeFunc func(ctx context.Context, caller common.Address, role vault.Role, account common.Address) error

func (s *Server) handleRoleChange(c *gin.Context, apply roleChangeFunc) {
	var req apitypes.RoleRequest
	from, err := caller(c)
	if err == nil {
		err = bind(c, &req)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	role, err := vault.ParseRole(req.Role)
	if err != nil {
		writeError(c, err)
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := apply(c.Request.Context(), from, role, account); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRenounceRole(c *gin.Context) {
	var req apitypes.RoleRequest
	from, err := caller(c)
	if err == nil {
		err = bind(c, &req)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	role, err := vault.ParseRole(req.Role)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.cfg.Vault.RenounceRole(c.Request.Context(), from, role); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

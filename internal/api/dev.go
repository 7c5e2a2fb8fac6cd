package api

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/betbot/ogvault/pkg/apitypes"
)

// 模拟宿主接口：铸币、授权、改价、查余额。只在 sim 模式下挂载，不校验调用方。

func (s *Server) handleDevMint(c *gin.Context) {
	var req apitypes.MintRequest
	if err := bind(c, &req); err != nil {
		writeError(c, err)
		return
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		writeError(c, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		writeError(c, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	s.cfg.Dev.Ledger.Mint(token, to, amount)
	log.Infof("🪙 dev mint: token=%s to=%s amount=%s", token.Hex(), to.Hex(), amount)
	c.JSON(http.StatusOK, s.balance(token, to))
}

func (s *Server) handleDevApprove(c *gin.Context) {
	var req apitypes.ApproveRequest
	if err := bind(c, &req); err != nil {
		writeError(c, err)
		return
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		writeError(c, err)
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeError(c, err)
		return
	}
	spender, err := parseOptionalAddress("spender", req.Spender, s.cfg.Vault.Address())
	if err != nil {
		writeError(c, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.cfg.Dev.Ledger.Approve(token, owner, spender, amount); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, apitypes.Balance{
		Token:     token.Hex(),
		Account:   owner.Hex(),
		Balance:   amountString(s.cfg.Dev.Ledger.BalanceOf(token, owner)),
		Allowance: amountString(s.cfg.Dev.Ledger.Allowance(token, owner, spender)),
	})
}

func (s *Server) handleDevPrice(c *gin.Context) {
	var req apitypes.PriceRequest
	if err := bind(c, &req); err != nil {
		writeError(c, err)
		return
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		writeError(c, err)
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		writeError(c, err)
		return
	}
	s.cfg.Dev.Oracle.SetPrice(token, price)
	log.Infof("💱 dev price: token=%s price=%s", token.Hex(), price)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDevBalance(c *gin.Context) {
	token, err := parseAddress("token", c.Query("token"))
	if err != nil {
		writeError(c, err)
		return
	}
	account, err := parseAddress("account", c.Query("account"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.balance(token, account))
}

// balance 余额以及对金库的授权额度。
func (s *Server) balance(token, account common.Address) apitypes.Balance {
	led := s.cfg.Dev.Ledger
	return apitypes.Balance{
		Token:     token.Hex(),
		Account:   account.Hex(),
		Balance:   amountString(led.BalanceOf(token, account)),
		Allowance: amountString(led.Allowance(token, account, s.cfg.Vault.Address())),
	}
}

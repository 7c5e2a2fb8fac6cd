package sim

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/stretchr/testify/require"

	"github.com/betbot/ogvault/internal/vault"
)

var (
	base   = common.HexToAddress("0xb0")
	tok    = common.HexToAddress("0xc1")
	owner  = common.HexToAddress("0x01")
	spend  = common.HexToAddress("0x02")
	router = common.HexToAddress("0xa2")
)

func TestLedgerTransferFromConsumesAllowance(t *testing.T) {
	l := NewLedger()
	l.Mint(base, owner, big.NewInt(100))

	err := l.TransferFrom(base, spend, owner, spend, big.NewInt(10))
	require.ErrorIs(t, err, vault.ErrInsufficientAllowance)

	require.NoError(t, l.Approve(base, owner, spend, big.NewInt(30)))
	require.NoError(t, l.TransferFrom(base, spend, owner, spend, big.NewInt(10)))
	require.Equal(t, "20", l.Allowance(base, owner, spend).String())
	require.Equal(t, "90", l.BalanceOf(base, owner).String())

	require.NoError(t, l.Approve(base, owner, spend, math.MaxBig256))
	require.NoError(t, l.TransferFrom(base, spend, owner, spend, big.NewInt(10)))
	require.Equal(t, math.MaxBig256.String(), l.Allowance(base, owner, spend).String())

	err = l.Transfer(base, owner, spend, big.NewInt(1000))
	require.ErrorIs(t, err, vault.ErrInsufficientBalance)
	require.Len(t, l.Holders(base), 2)
}

func TestRouterSwapsAtOraclePrice(t *testing.T) {
	now := time.Unix(1_000, 0)
	clock := func() time.Time { return now }
	l := NewLedger()
	o := NewOracle(clock)
	o.SetPrice(tok, new(big.Int).Mul(big.NewInt(2), vault.PriceScale))
	r := NewRouter(RouterConfig{Address: router, BaseAsset: base, FeeBps: 30, Clock: clock}, l, o)

	l.Mint(tok, router, big.NewInt(1_000_000))
	l.Mint(base, owner, big.NewInt(10_000))
	require.NoError(t, l.Approve(base, owner, router, big.NewInt(10_000)))

	q, err := r.Quote(context.Background(), base, tok, big.NewInt(10_000))
	require.NoError(t, err)
	// 10000 / 2 * 0.997
	require.Equal(t, "4985", q.String())

	out, err := r.ExactInputSingle(context.Background(), vault.SwapParams{
		TokenIn: base, TokenOut: tok, Payer: owner, Recipient: owner,
		AmountIn: big.NewInt(10_000), AmountOutMinimum: big.NewInt(4985),
		Deadline: now.Add(time.Minute),
	})
	require.NoError(t, err)
	require.Equal(t, "4985", out.String())
	require.Equal(t, "4985", l.BalanceOf(tok, owner).String())
	require.Equal(t, 1, r.Swaps())
}

func TestRouterRejectsWithoutSideEffects(t *testing.T) {
	now := time.Unix(1_000, 0)
	clock := func() time.Time { return now }
	l := NewLedger()
	o := NewOracle(clock)
	o.SetPrice(tok, vault.PriceScale)
	r := NewRouter(RouterConfig{Address: router, BaseAsset: base, Clock: clock}, l, o)
	l.Mint(tok, router, big.NewInt(50))
	l.Mint(base, owner, big.NewInt(100))
	require.NoError(t, l.Approve(base, owner, router, big.NewInt(100)))

	p := vault.SwapParams{TokenIn: base, TokenOut: tok, Payer: owner, Recipient: owner, AmountIn: big.NewInt(60)}
	_, err := r.ExactInputSingle(context.Background(), p)
	require.ErrorIs(t, err, ErrNoLiquidity)

	p.AmountIn = big.NewInt(10)
	p.AmountOutMinimum = big.NewInt(11)
	_, err = r.ExactInputSingle(context.Background(), p)
	require.ErrorIs(t, err, ErrTooLittleReceived)

	p.AmountOutMinimum = nil
	p.Deadline = now.Add(-time.Second)
	_, err = r.ExactInputSingle(context.Background(), p)
	require.ErrorIs(t, err, ErrDeadlineExpired)

	require.Equal(t, "100", l.BalanceOf(base, owner).String())
	require.Equal(t, "100", l.Allowance(base, owner, router).String())
}

func TestOracleErrors(t *testing.T) {
	o := NewOracle(nil)
	_, err := o.Quote(context.Background(), tok)
	require.Error(t, err)

	o.SetPrice(tok, big.NewInt(5))
	o.SetError(tok, context.DeadlineExceeded)
	_, err = o.Quote(context.Background(), tok)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	o.SetError(tok, nil)
	q, err := o.Quote(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, "5", q.Price.String())
}

func TestLedgerExportRestore(t *testing.T) {
	l := NewLedger()
	l.Mint(base, owner, big.NewInt(100))
	l.Mint(tok, router, big.NewInt(7))
	require.NoError(t, l.Approve(base, owner, router, big.NewInt(40)))

	s := l.Export()
	restored := NewLedger()
	require.NoError(t, restored.Restore(s))
	require.Equal(t, "100", restored.BalanceOf(base, owner).String())
	require.Equal(t, "7", restored.BalanceOf(tok, router).String())
	require.Equal(t, "40", restored.Allowance(base, owner, router).String())

	// 解析失败时不改变已有内容
	bad := l.Export()
	bad.Balances[base][owner] = "-1"
	require.Error(t, restored.Restore(bad))
	require.Equal(t, "100", restored.BalanceOf(base, owner).String())
}

package vault_test

import (
	"context"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/ogvault/internal/sim"
	"github.com/betbot/ogvault/internal/vault"
)

var (
	vaultAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	routerAddr = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	baseToken  = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	tokenT     = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	tokenU     = common.HexToAddress("0x00000000000000000000000000000000000000c2")

	admin    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice    = common.HexToAddress("0x0000000000000000000000000000000000000002")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000003")
	stranger = common.HexToAddress("0x0000000000000000000000000000000000000005")
)

func n(v int64) *big.Int { return big.NewInt(v) }

func price(units int64) *big.Int { return new(big.Int).Mul(n(units), vault.PriceScale) }

type fixture struct {
	t      *testing.T
	ctx    context.Context
	now    time.Time
	v      *vault.Vault
	ledger *sim.Ledger
	oracle *sim.Oracle
	router *sim.Router
	events []vault.Event
}

func newFixture(t *testing.T, mutate func(cfg *vault.Config)) *fixture {
	t.Helper()
	f := &fixture{t: t, ctx: context.Background(), now: time.Unix(1_700_000_000, 0)}
	clock := func() time.Time { return f.now }

	f.ledger = sim.NewLedger()
	f.oracle = sim.NewOracle(clock)
	f.router = sim.NewRouter(sim.RouterConfig{Address: routerAddr, BaseAsset: baseToken, Clock: clock}, f.ledger, f.oracle)

	f.oracle.SetPrice(tokenT, price(1))
	f.oracle.SetPrice(tokenU, price(2))
	for _, tok := range []common.Address{baseToken, tokenT, tokenU} {
		f.ledger.Mint(tok, routerAddr, n(1_000_000_000))
	}
	f.ledger.Mint(baseToken, alice, n(10_000))
	f.ledger.Mint(baseToken, bob, n(10_000))

	cfg := vault.Config{
		Address:   vaultAddr,
		BaseAsset: baseToken,
		Admin:     admin,
		Clock:     clock,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	v, err := vault.New(cfg, vault.Deps{
		Tokens: f.ledger,
		Router: f.router,
		Oracle: f.oracle,
		Events: vault.EventSinkFunc(func(ev vault.Event) { f.events = append(f.events, ev) }),
	})
	require.NoError(t, err)
	f.v = v
	return f
}

// enableStrategy 与部署脚本一致：部署者给自己授予策略管理员与预言机角色，登记交易对并打开策略。
func (f *fixture) enableStrategy(capBps uint32) {
	f.t.Helper()
	require.NoError(f.t, f.v.GrantRole(f.ctx, admin, vault.RoleStrategyManager, admin))
	require.NoError(f.t, f.v.GrantRole(f.ctx, admin, vault.RoleOracle, admin))
	_, err := f.v.SetTradingPair(f.ctx, admin, tokenT, capBps, n(0))
	require.NoError(f.t, err)
	_, err = f.v.SetTradingPair(f.ctx, admin, tokenU, 10000, n(0))
	require.NoError(f.t, err)
	_, err = f.v.UpdateStrategySettings(f.ctx, admin, true, 900)
	require.NoError(f.t, err)
}

func (f *fixture) deposit(who common.Address, amount int64) *big.Int {
	f.t.Helper()
	require.NoError(f.t, f.ledger.Approve(baseToken, who, vaultAddr, n(amount)))
	shares, err := f.v.Deposit(f.ctx, who, n(amount), who)
	require.NoError(f.t, err)
	return shares
}

func (f *fixture) buy(token common.Address, amountIn int64) (*vault.SignalReceipt, error) {
	return f.v.ExecuteBuySignal(f.ctx, admin, vault.BuySignal{Token: token, AmountIn: n(amountIn), MinAmountOut: n(0)})
}

func (f *fixture) sell(token common.Address, amount int64) (*vault.SignalReceipt, error) {
	return f.v.ExecuteSellSignal(f.ctx, admin, vault.SellSignal{Token: token, Amount: n(amount), MinAmountOut: n(0)})
}

func requireAmount(t *testing.T, want int64, got *big.Int, msgAndArgs ...interface{}) {
	t.Helper()
	require.NotNil(t, got, msgAndArgs...)
	require.Equal(t, n(want).String(), got.String(), msgAndArgs...)
}

func TestDeploymentScenario(t *testing.T) {
	f := newFixture(t, nil)
	f.enableStrategy(3000)

	shares := f.deposit(alice, 1000)
	requireAmount(t, 1000, shares)
	requireAmount(t, 1000, f.v.Holding(baseToken))

	r, err := f.buy(tokenT, 300)
	require.NoError(t, err)
	require.Equal(t, vault.PhaseSettled, r.Phase)
	requireAmount(t, 300, r.AmountOut)
	requireAmount(t, 700, f.v.Holding(baseToken))
	requireAmount(t, 300, f.v.Holding(tokenT))

	r, err = f.buy(tokenT, 50)
	require.ErrorIs(t, err, vault.ErrAllocationExceeded)
	require.Equal(t, vault.PhaseRejected, r.Phase)
	require.Equal(t, "AllocationExceeded", r.Code)

	r, err = f.sell(tokenT, 0)
	require.NoError(t, err)
	requireAmount(t, 300, r.AmountIn)
	requireAmount(t, 0, f.v.Holding(tokenT))
	requireAmount(t, 700+r.AmountOut.Int64(), f.v.Holding(baseToken))

	out, err := f.v.Redeem(f.ctx, alice, n(1000), alice, alice)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, baseToken, out[0].Token)
	requireAmount(t, 1000, out[0].Amount)
	requireAmount(t, 10_000, f.ledger.BalanceOf(baseToken, alice))
	requireAmount(t, 0, f.v.TotalSupply())
	requireAmount(t, 0, f.ledger.BalanceOf(baseToken, vaultAddr))
}

func TestDepositMintsProportionalShares(t *testing.T) {
	f := newFixture(t, nil)
	f.enableStrategy(3000)
	f.deposit(alice, 1000)
	_, err := f.buy(tokenT, 300)
	require.NoError(t, err)

	// T 涨到 2：总资产 700 + 600 = 1300
	f.oracle.SetPrice(tokenT, price(2))
	total, err := f.v.TotalAssets(f.ctx)
	require.NoError(t, err)
	requireAmount(t, 1300, total)

	requireAmount(t, 100, f.deposit(bob, 130))
	// floor(12 * 1100 / 1430) = 9
	requireAmount(t, 9, f.deposit(bob, 12))
	requireAmount(t, 109, f.v.BalanceOf(bob))
}

func TestDepositFailures(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.v.Deposit(f.ctx, alice, n(0), alice)
	require.ErrorIs(t, err, vault.ErrZeroAmount)

	_, err = f.v.Deposit(f.ctx, alice, n(100), alice)
	require.ErrorIs(t, err, vault.ErrInsufficientAllowance)

	tooBig := new(big.Int).Lsh(n(1), 256)
	_, err = f.v.Deposit(f.ctx, alice, tooBig, alice)
	require.ErrorIs(t, err, vault.ErrAmountOverflow)

	require.NoError(t, f.ledger.Approve(baseToken, alice, vaultAddr, n(20_000)))
	_, err = f.v.Deposit(f.ctx, alice, n(20_000), alice)
	require.ErrorIs(t, err, vault.ErrInsufficientBalance)

	requireAmount(t, 0, f.v.TotalSupply())
	requireAmount(t, 10_000, f.ledger.BalanceOf(baseToken, alice))
	requireAmount(t, 20_000, f.ledger.Allowance(baseToken, alice, vaultAddr))
	require.Empty(t, f.events)
}

func TestDepositThenRedeemRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	f.deposit(alice, 500)
	shares := f.deposit(bob, 777)
	requireAmount(t, 777, shares)

	out, err := f.v.Redeem(f.ctx, bob, shares, bob, bob)
	require.NoError(t, err)
	require.Len(t, out, 1)
	requireAmount(t, 777, out[0].Amount)
	requireAmount(t, 10_000, f.ledger.BalanceOf(baseToken, bob))
}

func TestRedeemFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.deposit(alice, 1000)
	before := f.v.Export()

	_, err := f.v.Redeem(f.ctx, alice, n(0), alice, alice)
	require.ErrorIs(t, err, vault.ErrZeroAmount)
	_, err = f.v.Redeem(f.ctx, alice, n(1001), alice, alice)
	require.ErrorIs(t, err, vault.ErrInsufficientShares)
	_, err = f.v.Redeem(f.ctx, bob, n(10), bob, alice)
	require.ErrorIs(t, err, vault.ErrUnauthorized)

	require.Equal(t, before, f.v.Export())
}

func TestWithdrawRoundsSharesUp(t *testing.T) {
	f := newFixture(t, nil)
	f.enableStrategy(3000)
	f.deposit(alice, 1000)
	_, err := f.buy(tokenT, 300)
	require.NoError(t, err)
	f.oracle.SetPrice(tokenT, price(2))

	// ceil(14 * 1000 / 1300) = 11
	burned, out, err := f.v.Withdraw(f.ctx, alice, n(14), alice, alice)
	require.NoError(t, err)
	requireAmount(t, 11, burned)
	requireAmount(t, 989, f.v.BalanceOf(alice))

	// 默认按篮子赎回：base floor(11*700/1000)=7，T floor(11*300/1000)=3
	require.Len(t, out, 2)
	require.Equal(t, baseToken, out[0].Token)
	requireAmount(t, 7, out[0].Amount)
	require.Equal(t, tokenT, out[1].Token)
	requireAmount(t, 3, out[1].Amount)
	requireAmount(t, 3, f.ledger.BalanceOf(tokenT, alice))

	_, _, err = f.v.Withdraw(f.ctx, alice, n(0), alice, alice)
	require.ErrorIs(t, err, vault.ErrZeroAmount)
	_, _, err = f.v.Withdraw(f.ctx, alice, n(5000), alice, alice)
	require.ErrorIs(t, err, vault.ErrInsufficientShares)
}

func TestPercentageWithdraw(t *testing.T) {
	f := newFixture(t, nil)
	f.deposit(alice, 1000)

	burned, out, err := f.v.PercentageWithdraw(f.ctx, alice, 5000, bob)
	require.NoError(t, err)
	requireAmount(t, 500, burned)
	requireAmount(t, 500, out[0].Amount)
	requireAmount(t, 10_500, f.ledger.BalanceOf(baseToken, bob))

	_, _, err = f.v.PercentageWithdraw(f.ctx, alice, 0, alice)
	require.ErrorIs(t, err, vault.ErrInvalidPercentage)
	_, _, err = f.v.PercentageWithdraw(f.ctx, alice, 10001, alice)
	require.ErrorIs(t, err, vault.ErrInvalidPercentage)
	_, _, err = f.v.PercentageWithdraw(f.ctx, bob, 10000, bob)
	require.ErrorIs(t, err, vault.ErrZeroAmount)
}

func TestShareConservation(t *testing.T) {
	f := newFixture(t, nil)
	holders := []common.Address{alice, bob}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		who := holders[rng.Intn(len(holders))]
		if rng.Intn(2) == 0 {
			amount := n(int64(rng.Intn(300) + 1))
			require.NoError(t, f.ledger.Approve(baseToken, who, vaultAddr, amount))
			_, _ = f.v.Deposit(f.ctx, who, amount, who)
		} else if bal := f.v.BalanceOf(who); bal.Sign() > 0 {
			shares := new(big.Int).Rand(rng, bal)
			shares.Add(shares, n(1))
			_, err := f.v.Redeem(f.ctx, who, shares, who, who)
			require.NoError(t, err)
		}

		sum := new(big.Int)
		for _, h := range holders {
			sum.Add(sum, f.v.BalanceOf(h))
		}
		require.Equal(t, f.v.TotalSupply().String(), sum.String(), "step %d", i)
		require.Equal(t, f.v.TotalSupply().Sign() == 0, f.v.Holding(baseToken).Sign() == 0, "step %d", i)
		require.Equal(t, f.v.Holding(baseToken).String(), f.ledger.BalanceOf(baseToken, vaultAddr).String())
	}
}

func TestUnauthorizedCallsLeaveStateUnchanged(t *testing.T) {
	f := newFixture(t, nil)
	f.enableStrategy(3000)
	f.deposit(alice, 1000)
	_, err := f.buy(tokenT, 100)
	require.NoError(t, err)

	before := f.v.Export()
	eventsBefore := len(f.events)

	_, err = f.v.SetTradingPair(f.ctx, stranger, tokenT, 10000, n(0))
	assert.ErrorIs(t, err, vault.ErrUnauthorized)
	assert.ErrorIs(t, f.v.DisableTradingPair(f.ctx, stranger, tokenT), vault.ErrUnauthorized)
	_, err = f.v.UpdateStrategySettings(f.ctx, stranger, false, 1)
	assert.ErrorIs(t, err, vault.ErrUnauthorized)
	assert.ErrorIs(t, f.v.GrantRole(f.ctx, stranger, vault.RoleOracle, stranger), vault.ErrUnauthorized)
	assert.ErrorIs(t, f.v.RevokeRole(f.ctx, stranger, vault.RoleAdmin, admin), vault.ErrUnauthorized)
	assert.ErrorIs(t, f.v.ResumeSignals(f.ctx, stranger), vault.ErrUnauthorized)
	_, err = f.v.ExecuteBuySignal(f.ctx, stranger, vault.BuySignal{Token: tokenT, AmountIn: n(10)})
	assert.ErrorIs(t, err, vault.ErrUnauthorized)
	_, err = f.v.ExecuteSellSignal(f.ctx, stranger, vault.SellSignal{Token: tokenT})
	assert.ErrorIs(t, err, vault.ErrUnauthorized)

	require.Equal(t, before, f.v.Export())
	require.Len(t, f.events, eventsBefore)
}

func TestSetTradingPair(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.v.GrantRole(f.ctx, admin, vault.RoleStrategyManager, admin))

	p, err := f.v.SetTradingPair(f.ctx, admin, tokenT, 2500, n(10))
	require.NoError(t, err)
	require.True(t, p.IsActive)

	p, err = f.v.SetTradingPair(f.ctx, admin, tokenT, 0, n(0))
	require.NoError(t, err)
	require.False(t, p.IsActive)
	got, ok := f.v.TradingPair(tokenT)
	require.True(t, ok)
	require.EqualValues(t, 0, got.MaxAllocationBps)
	requireAmount(t, 0, got.MinExitAmount)

	_, err = f.v.SetTradingPair(f.ctx, admin, tokenT, 10001, n(0))
	require.ErrorIs(t, err, vault.ErrInvalidAllocation)
	_, err = f.v.SetTradingPair(f.ctx, admin, baseToken, 100, n(0))
	require.ErrorIs(t, err, vault.ErrInvalidAddress)

	_, err = f.v.SetTradingPair(f.ctx, admin, tokenU, 4000, n(0))
	require.NoError(t, err)
	require.NoError(t, f.v.DisableTradingPair(f.ctx, admin, tokenU))
	got, _ = f.v.TradingPair(tokenU)
	require.False(t, got.IsActive)
	require.EqualValues(t, 4000, got.MaxAllocationBps)

	missing := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	require.ErrorIs(t, f.v.DisableTradingPair(f.ctx, admin, missing), vault.ErrPairNotFound)

	pairs := f.v.TradingPairs()
	require.Len(t, pairs, 2)
	require.Equal(t, tokenT, pairs[0].Token)
	require.Equal(t, tokenU, pairs[1].Token)
}

func TestBuySignalValidation(t *testing.T) {
	cases := []struct {
		name    string
		prepare func(f *fixture)
		sig     vault.BuySignal
		wantErr error
	}{
		{
			name:    "strategy disabled",
			prepare: func(f *fixture) { _, _ = f.v.UpdateStrategySettings(f.ctx, admin, false, 900) },
			sig:     vault.BuySignal{Token: tokenT, AmountIn: n(10)},
			wantErr: vault.ErrStrategyDisabled,
		},
		{
			name:    "inactive pair",
			prepare: func(f *fixture) { _ = f.v.DisableTradingPair(f.ctx, admin, tokenT) },
			sig:     vault.BuySignal{Token: tokenT, AmountIn: n(10)},
			wantErr: vault.ErrPairInactive,
		},
		{
			name:    "unknown token",
			sig:     vault.BuySignal{Token: stranger, AmountIn: n(10)},
			wantErr: vault.ErrPairInactive,
		},
		{
			name:    "zero amount",
			sig:     vault.BuySignal{Token: tokenT, AmountIn: n(0)},
			wantErr: vault.ErrZeroAmount,
		},
		{
			name:    "more than base holding",
			sig:     vault.BuySignal{Token: tokenU, AmountIn: n(1001)},
			wantErr: vault.ErrInsufficientBaseBalance,
		},
		{
			name:    "override tightens cap",
			sig:     vault.BuySignal{Token: tokenT, AmountIn: n(101), MaxAllocationBpsOverride: 1000},
			wantErr: vault.ErrAllocationExceeded,
		},
		{
			name:    "override out of range",
			sig:     vault.BuySignal{Token: tokenT, AmountIn: n(10), MaxAllocationBpsOverride: 10001},
			wantErr: vault.ErrInvalidAllocation,
		},
		{
			name:    "override cannot loosen cap",
			sig:     vault.BuySignal{Token: tokenT, AmountIn: n(301), MaxAllocationBpsOverride: 9000},
			wantErr: vault.ErrAllocationExceeded,
		},
		{
			name:    "slippage floor",
			sig:     vault.BuySignal{Token: tokenT, AmountIn: n(100), MinAmountOut: n(101)},
			wantErr: vault.ErrSwapFailed,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.enableStrategy(3000)
			f.deposit(alice, 1000)
			if c.prepare != nil {
				c.prepare(f)
			}
			before := f.v.Export()
			r, err := f.v.ExecuteBuySignal(f.ctx, admin, c.sig)
			require.ErrorIs(t, err, c.wantErr)
			require.Equal(t, vault.PhaseRejected, r.Phase)
			require.Equal(t, before, f.v.Export())
			requireAmount(t, 1000, f.ledger.BalanceOf(baseToken, vaultAddr))
		})
	}
}

func TestBuyWithOverrideWithinCap(t *testing.T) {
	f := newFixture(t, nil)
	f.enableStrategy(3000)
	f.deposit(alice, 1000)

	r, err := f.v.ExecuteBuySignal(f.ctx, admin, vault.BuySignal{Token: tokenT, AmountIn: n(100), MaxAllocationBpsOverride: 1000})
	require.NoError(t, err)
	require.Equal(t, vault.PhaseSettled, r.Phase)

	room, err := f.v.AllocationHeadroom(f.ctx, tokenT)
	require.NoError(t, err)
	requireAmount(t, 200, room)
	require.Equal(t, f.now.Unix(), f.v.StrategySettings().LastSignalTimestamp)
}

func TestSwapFailureRollsBackEverything(t *testing.T) {
	f := newFixture(t, nil)
	f.enableStrategy(3000)
	f.deposit(alice, 1000)
	before := f.v.Export()

	f.router.FailNext(assert.AnError)
	_, err := f.buy(tokenT, 200)
	require.ErrorIs(t, err, vault.ErrSwapFailed)

	require.Equal(t, before, f.v.Export())
	requireAmount(t, 1000, f.ledger.BalanceOf(baseToken, vaultAddr))
	requireAmount(t, 0, f.ledger.BalanceOf(tokenT, vaultAddr))
	requireAmount(t, 0, f.ledger.Allowance(baseToken, vaultAddr, routerAddr))
	require.Equal(t, int64(0), f.v.StrategySettings().LastSignalTimestamp)
}

func TestBuyRejectedWhenFillBreachesCap(t *testing.T) {
	f := newFixture(t, nil)
	f.enableStrategy(3000)
	f.deposit(alice, 1000)
	routerT := f.ledger.BalanceOf(tokenT, routerAddr)

	// 成交比预言机价格多 10%：330 T，成交后 330 > 1030*30%
	f.router.SetSkewBps(1000)
	_, err := f.buy(tokenT, 300)
	require.ErrorIs(t, err, vault.ErrAllocationExceeded)

	requireAmount(t, 1000, f.v.Holding(baseToken))
	requireAmount(t, 0, f.v.Holding(tokenT))
	requireAmount(t, 1000, f.ledger.BalanceOf(baseToken, vaultAddr))
	requireAmount(t, 0, f.ledger.BalanceOf(tokenT, vaultAddr))
	require.Equal(t, routerT.String(), f.ledger.BalanceOf(tokenT, routerAddr).String())
}

func TestAllocationCapHoldsAfterBuys(t *testing.T) {
	f := newFixture(t, nil)
	f.enableStrategy(2500)
	f.deposit(alice, 4000)
	f.router.SetSkewBps(-30)

	for i := 0; i < 20; i++ {
		room, err := f.v.AllocationHeadroom(f.ctx, tokenT)
		require.NoError(t, err)
		if room.Sign() == 0 {
			break
		}
		amount := new(big.Int).Quo(room, n(2))
		if amount.Sign() == 0 {
			amount = room
		}
		_, err = f.v.ExecuteBuySignal(f.ctx, admin, vault.BuySignal{Token: tokenT, AmountIn: amount})
		require.NoError(t, err)

		total, err := f.v.TotalAssets(f.ctx)
		require.NoError(t, err)
		limit := new(big.Int).Quo(new(big.Int).Mul(total, n(2500)), n(10000))
		require.LessOrEqual(t, f.v.Holding(tokenT).Cmp(limit), 0)
	}
}

func TestSellSignal(t *testing.T) {
	f := newFixture(t, nil)
	f.enableStrategy(3000)
	f.deposit(alice, 1000)
	_, err := f.buy(tokenT, 300)
	require.NoError(t, err)

	r, err := f.sell(tokenT, 100)
	require.NoError(t, err)
	requireAmount(t, 100, r.AmountOut)
	requireAmount(t, 200, f.v.Holding(tokenT))
	requireAmount(t, 800, f.v.Holding(baseToken))

	_, err = f.sell(tokenT, 500)
	require.ErrorIs(t, err, vault.ErrInsufficientTokenBalance)

	_, err = f.v.ExecuteSellSignal(f.ctx, admin, vault.SellSignal{Token: tokenT, Amount: n(50), MinAmountOut: n(51)})
	require.ErrorIs(t, err, vault.ErrSwapFailed)

	_, err = f.v.SetTradingPair(f.ctx, admin, tokenT, 3000, n(50))
	require.NoError(t, err)
	_, err = f.sell(tokenT, 10)
	require.ErrorIs(t, err, vault.ErrBelowMinExit)

	_, err = f.sell(tokenT, 0)
	require.NoError(t, err)
	requireAmount(t, 0, f.v.Holding(tokenT))

	_, err = f.sell(tokenT, 0)
	require.ErrorIs(t, err, vault.ErrInsufficientTokenBalance)
}

func TestSellRejectedOnInactivePair(t *testing.T) {
	f := newFixture(t, nil)
	f.enableStrategy(3000)
	f.deposit(alice, 1000)
	_, err := f.buy(tokenT, 300)
	require.NoError(t, err)

	require.NoError(t, f.v.DisableTradingPair(f.ctx, admin, tokenT))
	_, err = f.sell(tokenT, 0)
	require.ErrorIs(t, err, vault.ErrPairInactive)
	requireAmount(t, 300, f.v.Holding(tokenT))
}

func TestFreshnessTimeoutMode(t *testing.T) {
	f := newFixture(t, nil)
	f.enableStrategy(3000)
	f.deposit(alice, 1000)

	f.oracle.SetQuote(tokenT, vault.Quote{Price: price(1), UpdatedAt: f.now.Add(-901 * time.Second)})
	_, err := f.buy(tokenT, 100)
	require.ErrorIs(t, err, vault.ErrStalePrice)

	f.oracle.SetQuote(tokenT, vault.Quote{Price: price(1), UpdatedAt: f.now.Add(-900 * time.Second)})
	_, err = f.buy(tokenT, 100)
	require.NoError(t, err)

	// 已持有的其他代币报价同样参与校验
	f.now = f.now.Add(time.Hour)
	f.oracle.SetPrice(tokenU, price(2))
	_, err = f.buy(tokenU, 10)
	require.ErrorIs(t, err, vault.ErrStalePrice)

	// 超时为 0 时不校验
	_, err = f.v.UpdateStrategySettings(f.ctx, admin, true, 0)
	require.NoError(t, err)
	_, err = f.buy(tokenU, 10)
	require.NoError(t, err)

	// 连续信号在新鲜度模式下不受冷却限制
	_, err = f.buy(tokenU, 10)
	require.NoError(t, err)
}

func TestCooldownTimeoutMode(t *testing.T) {
	f := newFixture(t, func(cfg *vault.Config) { cfg.TimeoutMode = vault.TimeoutCooldown })
	f.enableStrategy(10000)
	_, err := f.v.UpdateStrategySettings(f.ctx, admin, true, 60)
	require.NoError(t, err)
	f.deposit(alice, 1000)

	// 冷却模式不看报价时间
	f.oracle.SetQuote(tokenT, vault.Quote{Price: price(1), UpdatedAt: f.now.Add(-24 * time.Hour)})
	_, err = f.buy(tokenT, 100)
	require.NoError(t, err)

	_, err = f.buy(tokenT, 100)
	require.ErrorIs(t, err, vault.ErrSignalCooldown)

	f.now = f.now.Add(59 * time.Second)
	_, err = f.sell(tokenT, 50)
	require.ErrorIs(t, err, vault.ErrSignalCooldown)

	f.now = f.now.Add(time.Second)
	_, err = f.sell(tokenT, 50)
	require.NoError(t, err)
}

func TestLiquidateRedeemPolicy(t *testing.T) {
	f := newFixture(t, func(cfg *vault.Config) {
		cfg.RedeemPolicy = vault.RedeemLiquidate
		cfg.LiquidationSlippageBps = 100
	})
	f.enableStrategy(3000)
	f.deposit(alice, 1000)
	_, err := f.buy(tokenT, 300)
	require.NoError(t, err)

	out, err := f.v.Redeem(f.ctx, alice, n(500), alice, alice)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, baseToken, out[0].Token)
	// 350 base + 150 T 以 1:1 卖出
	requireAmount(t, 500, out[0].Amount)
	requireAmount(t, 0, f.ledger.BalanceOf(tokenT, alice))
	requireAmount(t, 150, f.v.Holding(tokenT))
	requireAmount(t, 350, f.v.Holding(baseToken))
	requireAmount(t, 150, f.ledger.BalanceOf(tokenT, vaultAddr))
}

func TestLiquidateRedeemFailureRollsBack(t *testing.T) {
	f := newFixture(t, func(cfg *vault.Config) {
		cfg.RedeemPolicy = vault.RedeemLiquidate
		cfg.LiquidationSlippageBps = 100
	})
	f.enableStrategy(3000)
	f.deposit(alice, 1000)
	_, err := f.buy(tokenT, 300)
	require.NoError(t, err)
	before := f.v.Export()

	// 成交比预言机低 5%，超过 1% 的滑点容忍
	f.router.SetSkewBps(-500)
	_, err = f.v.Redeem(f.ctx, alice, n(500), alice, alice)
	require.ErrorIs(t, err, vault.ErrSwapFailed)
	require.Equal(t, before, f.v.Export())
	requireAmount(t, 9000, f.ledger.BalanceOf(baseToken, alice))
}

func TestLiquidateRedeemFailuresDoNotTripBreaker(t *testing.T) {
	f := newFixture(t, func(cfg *vault.Config) {
		cfg.RedeemPolicy = vault.RedeemLiquidate
		cfg.LiquidationSlippageBps = 100
		cfg.MaxConsecutiveSwapFailures = 2
	})
	f.enableStrategy(3000)
	f.deposit(alice, 1000)
	_, err := f.buy(tokenT, 300)
	require.NoError(t, err)

	f.router.SetSkewBps(-500)
	for i := 0; i < 3; i++ {
		_, err = f.v.Redeem(f.ctx, alice, n(100), alice, alice)
		require.ErrorIs(t, err, vault.ErrSwapFailed)
	}
	require.False(t, f.v.SignalsHalted())
	require.Zero(t, f.v.Export().Breaker.ConsecutiveErrors)

	f.router.SetSkewBps(0)
	_, err = f.buy(tokenU, 10)
	require.NoError(t, err)
}

func TestLiquidateRedeemRejectsStalePrice(t *testing.T) {
	f := newFixture(t, func(cfg *vault.Config) {
		cfg.RedeemPolicy = vault.RedeemLiquidate
		cfg.LiquidationSlippageBps = 100
	})
	f.enableStrategy(3000)
	f.deposit(alice, 1000)
	_, err := f.buy(tokenT, 300)
	require.NoError(t, err)
	before := f.v.Export()

	f.now = f.now.Add(901 * time.Second)
	_, err = f.v.Redeem(f.ctx, alice, n(500), alice, alice)
	require.ErrorIs(t, err, vault.ErrStalePrice)
	require.Equal(t, before, f.v.Export())

	f.oracle.SetPrice(tokenT, price(1))
	out, err := f.v.Redeem(f.ctx, alice, n(500), alice, alice)
	require.NoError(t, err)
	requireAmount(t, 500, out[0].Amount)
}

func TestCircuitBreakerHaltsSignals(t *testing.T) {
	f := newFixture(t, func(cfg *vault.Config) { cfg.MaxConsecutiveSwapFailures = 2 })
	f.enableStrategy(3000)
	f.deposit(alice, 1000)

	f.events = nil
	for i := 0; i < 2; i++ {
		f.router.FailNext(assert.AnError)
		_, err := f.buy(tokenT, 10)
		require.ErrorIs(t, err, vault.ErrSwapFailed)
	}
	// 第二次失败立即熔断，事件在回滚后仍然发布
	require.True(t, f.v.SignalsHalted())
	require.Len(t, f.events, 1)
	require.Equal(t, vault.EventSignalsHalted, f.events[0].Type)
	require.Equal(t, "2", f.events[0].Data["consecutive_failures"])

	_, err := f.buy(tokenT, 10)
	require.ErrorIs(t, err, vault.ErrCircuitOpen)
	require.Len(t, f.events, 1, "已熔断时不重复发布")

	// 熔断状态随快照保存
	g := newFixture(t, func(cfg *vault.Config) { cfg.MaxConsecutiveSwapFailures = 2 })
	require.NoError(t, g.v.Restore(f.v.Export()))
	require.True(t, g.v.SignalsHalted())

	require.ErrorIs(t, f.v.ResumeSignals(f.ctx, stranger), vault.ErrUnauthorized)
	require.NoError(t, f.v.ResumeSignals(f.ctx, admin))
	_, err = f.buy(tokenT, 10)
	require.NoError(t, err)
}

func TestRoleManagement(t *testing.T) {
	f := newFixture(t, nil)
	require.True(t, f.v.HasRole(vault.RoleAdmin, admin))
	require.False(t, f.v.StrategySettings().Enabled)
	require.EqualValues(t, vault.DefaultSignalTimeoutSeconds, f.v.StrategySettings().SignalTimeoutSeconds)

	require.ErrorIs(t, f.v.RevokeRole(f.ctx, admin, vault.RoleAdmin, admin), vault.ErrLastAdmin)
	require.ErrorIs(t, f.v.RenounceRole(f.ctx, admin, vault.RoleAdmin), vault.ErrLastAdmin)
	require.ErrorIs(t, f.v.GrantRole(f.ctx, admin, vault.RoleOracle, common.Address{}), vault.ErrInvalidAddress)
	require.ErrorIs(t, f.v.GrantRole(f.ctx, admin, vault.Role("nope"), bob), vault.ErrUnknownRole)

	require.NoError(t, f.v.GrantRole(f.ctx, admin, vault.RoleAdmin, bob))
	require.NoError(t, f.v.RenounceRole(f.ctx, admin, vault.RoleAdmin))
	require.False(t, f.v.HasRole(vault.RoleAdmin, admin))
	require.Equal(t, []common.Address{bob}, f.v.RoleMembers(vault.RoleAdmin))

	require.NoError(t, f.v.GrantRole(f.ctx, bob, vault.RoleOracle, alice))
	require.NoError(t, f.v.RevokeRole(f.ctx, bob, vault.RoleOracle, alice))
	require.False(t, f.v.HasRole(vault.RoleOracle, alice))
}

func TestEventsOnlyAfterCommit(t *testing.T) {
	f := newFixture(t, nil)
	f.enableStrategy(3000)
	f.events = nil

	f.deposit(alice, 1000)
	require.Len(t, f.events, 1)
	require.Equal(t, vault.EventDeposited, f.events[0].Type)
	require.Equal(t, "1000", f.events[0].Data["shares"])
	require.NotEmpty(t, f.events[0].ID)

	_, err := f.buy(tokenT, 5000)
	require.Error(t, err)
	require.Len(t, f.events, 1)

	_, err = f.buy(tokenT, 100)
	require.NoError(t, err)
	require.Len(t, f.events, 3)
	require.Equal(t, vault.EventSignalReceived, f.events[1].Type)
	require.Equal(t, vault.EventTradeExecuted, f.events[2].Type)
	require.Equal(t, "100", f.events[2].Data["amount_out"])
}

func TestPortfolioComposition(t *testing.T) {
	f := newFixture(t, nil)
	f.enableStrategy(3000)
	f.deposit(alice, 1000)
	_, err := f.buy(tokenT, 300)
	require.NoError(t, err)

	p := f.v.GetPortfolioComposition()
	require.Equal(t, baseToken, p.BaseAsset)
	requireAmount(t, 700, p.BaseAmount)
	require.Len(t, p.Tokens, 2)
	require.Equal(t, tokenT, p.Tokens[0].Token)
	requireAmount(t, 300, p.Tokens[0].Amount)
	require.Equal(t, tokenU, p.Tokens[1].Token)
	requireAmount(t, 0, p.Tokens[1].Amount)
}

func TestExportRestore(t *testing.T) {
	f := newFixture(t, nil)
	f.enableStrategy(3000)
	f.deposit(alice, 1000)
	f.deposit(bob, 250)
	_, err := f.buy(tokenT, 300)
	require.NoError(t, err)
	require.NoError(t, f.v.DisableTradingPair(f.ctx, admin, tokenU))

	st := f.v.Export()
	g := newFixture(t, nil)
	require.NoError(t, g.v.Restore(st))
	require.Equal(t, st, g.v.Export())
	require.True(t, g.v.HasRole(vault.RoleOracle, admin))
	pairT, _ := g.v.TradingPair(tokenT)
	require.True(t, pairT.IsActive)
	pairU, _ := g.v.TradingPair(tokenU)
	require.False(t, pairU.IsActive)
	require.EqualValues(t, 10000, pairU.MaxAllocationBps)
	requireAmount(t, 250, g.v.BalanceOf(bob))

	bad := f.v.Export()
	bad.TotalShares = "1"
	require.Error(t, g.v.Restore(bad))

	other := f.v.Export()
	other.BaseAsset = tokenU
	require.ErrorIs(t, g.v.Restore(other), vault.ErrInvalidAddress)
}

func TestCanceledContextIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.ledger.Approve(baseToken, alice, vaultAddr, n(10)))
	_, err := f.v.Deposit(ctx, alice, n(10), alice)
	require.ErrorIs(t, err, context.Canceled)
	requireAmount(t, 0, f.v.TotalSupply())
}

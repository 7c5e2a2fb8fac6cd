package vault

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func b(v int64) *big.Int { return big.NewInt(v) }

func TestPreviewDeposit(t *testing.T) {
	// 首次存入 1:1
	got, err := previewDeposit(b(1000), b(0), b(0))
	require.NoError(t, err)
	assert.Equal(t, "1000", got.String())

	// floor(100 * 1000 / 1300) = 76
	got, err = previewDeposit(b(100), b(1000), b(1300))
	require.NoError(t, err)
	assert.Equal(t, "76", got.String())

	_, err = previewDeposit(b(100), b(1000), b(0))
	assert.ErrorIs(t, err, ErrZeroAssetsValue)
}

func TestPreviewWithdrawRoundsUp(t *testing.T) {
	got, err := previewWithdraw(b(13), b(1000), b(1300))
	require.NoError(t, err)
	assert.Equal(t, "10", got.String())

	got, err = previewWithdraw(b(1), b(1000), b(1300))
	require.NoError(t, err)
	assert.Equal(t, "1", got.String())

	_, err = previewWithdraw(b(1), b(0), b(0))
	assert.ErrorIs(t, err, ErrInsufficientShares)
}

func TestRedeemSliceNeverExceedsHolding(t *testing.T) {
	for shares := int64(1); shares <= 97; shares += 8 {
		s := redeemSlice(b(shares), b(333), b(97))
		assert.LessOrEqual(t, s.Cmp(b(333)), 0)
	}
	assert.Equal(t, "333", redeemSlice(b(97), b(333), b(97)).String())
	assert.Equal(t, "0", redeemSlice(b(1), b(333), b(0)).String())
}

func TestLedgerMintBurnKeepsTotals(t *testing.T) {
	l := newAssetLedger()
	a := common.HexToAddress("0x01")
	c := common.HexToAddress("0x02")
	l.mint(a, b(10))
	l.mint(c, b(5))
	require.NoError(t, l.burn(a, b(10)))
	require.ErrorIs(t, l.burn(c, b(6)), ErrInsufficientShares)
	assert.Equal(t, "5", l.TotalShares().String())
	assert.Equal(t, "0", l.SharesOf(a).String())

	cp := l.clone()
	cp.mint(a, b(1))
	assert.Equal(t, "5", l.TotalShares().String())
	assert.Equal(t, "6", cp.TotalShares().String())
}

func TestHeadroom(t *testing.T) {
	assert.Equal(t, "300", headroom(3000, b(1000), b(0)).String())
	assert.Equal(t, "0", headroom(3000, b(1000), b(300)).String())
	assert.Equal(t, "0", headroom(3000, b(1000), b(400)).String())
	assert.Equal(t, "0", headroom(0, b(1000), b(0)).String())
}

func TestPairRegistryKeepsOrder(t *testing.T) {
	r := newPairRegistry()
	t1 := common.HexToAddress("0x10")
	t2 := common.HexToAddress("0x20")
	_, err := r.set(t2, 100, b(0))
	require.NoError(t, err)
	_, err = r.set(t1, 200, b(0))
	require.NoError(t, err)
	_, err = r.set(t2, 0, b(3))
	require.NoError(t, err)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, t2, list[0].Token)
	assert.False(t, list[0].IsActive)
	_, err = r.active(t2)
	assert.ErrorIs(t, err, ErrPairInactive)
}

func TestCode(t *testing.T) {
	assert.Equal(t, "", Code(nil))
	assert.Equal(t, "AllocationExceeded", Code(fmt.Errorf("buy: %w", ErrAllocationExceeded)))
	assert.Equal(t, "SwapFailed", Code(fmt.Errorf("%w: boom", ErrSwapFailed)))
	assert.Equal(t, "CircuitOpen", Code(ErrCircuitOpen))
	assert.Equal(t, "Internal", Code(fmt.Errorf("other")))
	assert.Equal(t, ErrStalePrice, ErrorFromCode("StalePrice"))
	assert.Nil(t, ErrorFromCode("nope"))
}

func TestCheckAmount(t *testing.T) {
	v, err := checkAmount("x", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Sign())
	_, err = checkAmount("x", b(-1))
	assert.ErrorIs(t, err, ErrAmountOverflow)
	max := new(big.Int).Sub(new(big.Int).Lsh(b(1), 256), b(1))
	_, err = checkAmount("x", max)
	assert.NoError(t, err)
}

func TestParseModes(t *testing.T) {
	m, err := ParseTimeoutMode("")
	require.NoError(t, err)
	assert.Equal(t, TimeoutFreshness, m)
	m, err = ParseTimeoutMode("Cooldown")
	require.NoError(t, err)
	assert.Equal(t, TimeoutCooldown, m)
	_, err = ParseTimeoutMode("x")
	assert.Error(t, err)

	p, err := ParseRedeemPolicy("liquidate")
	require.NoError(t, err)
	assert.Equal(t, RedeemLiquidate, p)

	r, err := ParseRole("oracle")
	require.NoError(t, err)
	assert.Equal(t, RoleOracle, r)
	_, err = ParseRole("root")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

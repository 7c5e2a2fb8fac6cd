package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	oracleAddr = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	tokenT     = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

// fakeCaller 按 ABI 解码入参，返回预置的报价。
type fakeCaller struct {
	t       *testing.T
	abi     abi.ABI
	prices  map[common.Address][2]*big.Int
	raw     []byte
	err     error
	lastCtx context.Context
}

func newFakeCaller(t *testing.T) *fakeCaller {
	parsed, err := abi.JSON(strings.NewReader(OracleABI))
	require.NoError(t, err)
	return &fakeCaller{t: t, abi: parsed, prices: make(map[common.Address][2]*big.Int)}
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.lastCtx = ctx
	if f.err != nil {
		return nil, f.err
	}
	if f.raw != nil {
		return f.raw, nil
	}
	require.NotNil(f.t, msg.To)
	require.Equal(f.t, oracleAddr, *msg.To)
	method, err := f.abi.MethodById(msg.Data[:4])
	require.NoError(f.t, err)
	require.Equal(f.t, "getPrice", method.Name)
	args, err := method.Inputs.Unpack(msg.Data[4:])
	require.NoError(f.t, err)
	token := args[0].(common.Address)

	q, ok := f.prices[token]
	if !ok {
		q = [2]*big.Int{new(big.Int), new(big.Int)}
	}
	return method.Outputs.Pack(q[0], q[1])
}

func TestQuoteDecodesPriceAndTimestamp(t *testing.T) {
	fc := newFakeCaller(t)
	price := new(big.Int).Mul(big.NewInt(2500), big.NewInt(1e18))
	fc.prices[tokenT] = [2]*big.Int{price, big.NewInt(1_700_000_000)}

	o, err := NewOracle(fc, oracleAddr, time.Second)
	require.NoError(t, err)

	q, err := o.Quote(context.Background(), tokenT)
	require.NoError(t, err)
	assert.Equal(t, price.String(), q.Price.String())
	assert.Equal(t, time.Unix(1_700_000_000, 0), q.UpdatedAt)

	_, hasDeadline := fc.lastCtx.Deadline()
	assert.True(t, hasDeadline)
}

func TestQuoteZeroPriceIsUnavailable(t *testing.T) {
	o, err := NewOracle(newFakeCaller(t), oracleAddr, 0)
	require.NoError(t, err)
	_, err = o.Quote(context.Background(), tokenT)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "价格为 0")
}

func TestQuoteWrapsCallErrors(t *testing.T) {
	fc := newFakeCaller(t)
	boom := errors.New("rpc down")
	fc.err = boom
	o, err := NewOracle(fc, oracleAddr, 0)
	require.NoError(t, err)

	_, err = o.Quote(context.Background(), tokenT)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "调用getPrice失败")
}

func TestQuoteRejectsMalformedResult(t *testing.T) {
	fc := newFakeCaller(t)
	fc.raw = []byte{0x01, 0x02}
	o, err := NewOracle(fc, oracleAddr, 0)
	require.NoError(t, err)

	_, err = o.Quote(context.Background(), tokenT)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "解析getPrice结果失败")
}

func TestNewOracleValidates(t *testing.T) {
	_, err := NewOracle(nil, oracleAddr, 0)
	assert.Error(t, err)
	_, err = NewOracle(newFakeCaller(t), common.Address{}, 0)
	assert.Error(t, err)
}

func TestQuoteCache(t *testing.T) {
	fc := newFakeCaller(t)
	fc.prices[tokenT] = [2]*big.Int{big.NewInt(100), big.NewInt(1_700_000_000)}
	now := time.Unix(1_700_000_010, 0)

	o, err := NewOracle(fc, oracleAddr, 0)
	require.NoError(t, err)
	o.WithCache(5*time.Second, func() time.Time { return now })

	q, err := o.Quote(context.Background(), tokenT)
	require.NoError(t, err)
	assert.Equal(t, "100", q.Price.String())

	// 链上价格变化，缓存期内仍返回旧报价；修改返回值不影响缓存
	fc.prices[tokenT] = [2]*big.Int{big.NewInt(200), big.NewInt(1_700_000_008)}
	q.Price.SetInt64(1)
	q, err = o.Quote(context.Background(), tokenT)
	require.NoError(t, err)
	assert.Equal(t, "100", q.Price.String())
	assert.Equal(t, time.Unix(1_700_000_000, 0), q.UpdatedAt)

	now = now.Add(5 * time.Second)
	q, err = o.Quote(context.Background(), tokenT)
	require.NoError(t, err)
	assert.Equal(t, "200", q.Price.String())

	// 错误不进缓存
	fc.err = errors.New("rpc down")
	o.WithCache(5*time.Second, func() time.Time { return now })
	_, err = o.Quote(context.Background(), tokenT)
	require.Error(t, err)
	fc.err = nil
	q, err = o.Quote(context.Background(), tokenT)
	require.NoError(t, err)
	assert.Equal(t, "200", q.Price.String())
}

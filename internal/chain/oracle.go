// Package chain 通过 eth_call 读取链上价格预言机合约。
package chain

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/ogvault/internal/vault"
	"github.com/betbot/ogvault/pkg/cache"
)

var log = logrus.WithField("component", "chain_oracle")

// OracleABI getPrice(token) 返回 1e18 定点价格与更新时间（unix 秒）。
const OracleABI = `[{"inputs":[{"internalType":"address","name":"token","type":"address"}],"name":"getPrice","outputs":[{"internalType":"uint256","name":"price","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"}],"stateMutability":"view","type":"function"}]`

// ContractCaller *ethclient.Client 满足该接口。
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Oracle 实现 vault.PriceOracle。
type Oracle struct {
	caller   ContractCaller
	contract common.Address
	abi      abi.ABI
	timeout  time.Duration
	closer   func()

	// quotes 可选的报价缓存，一次估值会对每个持仓代币各查一次
	quotes *cache.InMemoryCache[common.Address, vault.Quote]
}

var _ vault.PriceOracle = (*Oracle)(nil)

// NewOracle timeout<=0 时不额外设置单次调用超时。
func NewOracle(caller ContractCaller, contract common.Address, timeout time.Duration) (*Oracle, error) {
	if caller == nil {
		return nil, errors.New("contract caller is required")
	}
	if contract == (common.Address{}) {
		return nil, errors.New("oracle contract address is required")
	}
	parsed, err := abi.JSON(strings.NewReader(OracleABI))
	if err != nil {
		return nil, errors.Wrap(err, "解析预言机 ABI 失败")
	}
	return &Oracle{caller: caller, contract: contract, abi: parsed, timeout: timeout}, nil
}

// Dial 连接 RPC 节点并返回预言机。
func Dial(ctx context.Context, rpcURL string, contract common.Address, timeout time.Duration) (*Oracle, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrapf(err, "连接RPC节点失败 %s", rpcURL)
	}
	o, err := NewOracle(client, contract, timeout)
	if err != nil {
		client.Close()
		return nil, err
	}
	o.closer = client.Close
	log.Infof("✅ 已连接链上预言机: rpc=%s contract=%s", rpcURL, contract.Hex())
	return o, nil
}

// WithCache 开启报价缓存，ttl<=0 关闭。缓存的报价保留原 updatedAt，不影响新鲜度判断。
func (o *Oracle) WithCache(ttl time.Duration, clock func() time.Time) *Oracle {
	if ttl <= 0 {
		o.quotes = nil
		return o
	}
	o.quotes = cache.NewInMemoryCache[common.Address, vault.Quote](ttl, clock)
	return o
}

func (o *Oracle) Close() {
	if o.closer != nil {
		o.closer()
	}
}

// Quote 读取 token 的价格。价格为 0 视为不可用。
func (o *Oracle) Quote(ctx context.Context, token common.Address) (vault.Quote, error) {
	if o.quotes != nil {
		if q, ok := o.quotes.Get(token); ok {
			return vault.Quote{Price: new(big.Int).Set(q.Price), UpdatedAt: q.UpdatedAt}, nil
		}
	}
	q, err := o.fetch(ctx, token)
	if err != nil {
		return vault.Quote{}, err
	}
	if o.quotes != nil {
		o.quotes.Set(token, vault.Quote{Price: new(big.Int).Set(q.Price), UpdatedAt: q.UpdatedAt}, 0)
	}
	return q, nil
}

func (o *Oracle) fetch(ctx context.Context, token common.Address) (vault.Quote, error) {
	data, err := o.abi.Pack("getPrice", token)
	if err != nil {
		return vault.Quote{}, errors.Wrap(err, "打包getPrice参数失败")
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	result, err := o.caller.CallContract(ctx, ethereum.CallMsg{To: &o.contract, Data: data}, nil)
	if err != nil {
		return vault.Quote{}, errors.Wrapf(err, "调用getPrice失败 token=%s", token.Hex())
	}
	out, err := o.abi.Unpack("getPrice", result)
	if err != nil {
		return vault.Quote{}, errors.Wrapf(err, "解析getPrice结果失败 token=%s", token.Hex())
	}
	if len(out) != 2 {
		return vault.Quote{}, errors.Errorf("getPrice 返回 %d 个值", len(out))
	}
	price, ok1 := out[0].(*big.Int)
	updatedAt, ok2 := out[1].(*big.Int)
	if !ok1 || !ok2 {
		return vault.Quote{}, errors.Errorf("getPrice 返回类型异常: %T %T", out[0], out[1])
	}
	if price.Sign() == 0 {
		return vault.Quote{}, errors.Errorf("token=%s 价格为 0", token.Hex())
	}
	if !updatedAt.IsInt64() {
		return vault.Quote{}, errors.Errorf("token=%s updatedAt 溢出: %s", token.Hex(), updatedAt)
	}
	return vault.Quote{Price: price, UpdatedAt: time.Unix(updatedAt.Int64(), 0)}, nil
}

package sim

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/betbot/ogvault/internal/vault"
)

// Oracle 静态预言机：价格由外部设置，记录设置时间作为 UpdatedAt。
type Oracle struct {
	mu     sync.RWMutex
	quotes map[common.Address]vault.Quote
	errs   map[common.Address]error
	clock  func() time.Time
}

func NewOracle(clock func() time.Time) *Oracle {
	if clock == nil {
		clock = time.Now
	}
	return &Oracle{
		quotes: make(map[common.Address]vault.Quote),
		errs:   make(map[common.Address]error),
		clock:  clock,
	}
}

// SetPrice 以当前时钟作为更新时间设置价格（PriceScale 定点）。
func (o *Oracle) SetPrice(token common.Address, price *big.Int) {
	o.SetQuote(token, vault.Quote{Price: price, UpdatedAt: o.clock()})
}

func (o *Oracle) SetQuote(token common.Address, q vault.Quote) {
	o.mu.Lock()
	defer o.mu.Unlock()
	q.Price = new(big.Int).Set(q.Price)
	o.quotes[token] = q
	delete(o.errs, token)
}

// SetError 让后续对 token 的查询返回 err（nil 清除）。
func (o *Oracle) SetError(token common.Address, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err == nil {
		delete(o.errs, token)
		return
	}
	o.errs[token] = err
}

func (o *Oracle) Quote(ctx context.Context, token common.Address) (vault.Quote, error) {
	if err := ctx.Err(); err != nil {
		return vault.Quote{}, err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if err, ok := o.errs[token]; ok {
		return vault.Quote{}, err
	}
	q, ok := o.quotes[token]
	if !ok {
		return vault.Quote{}, fmt.Errorf("no price for %s", token.Hex())
	}
	return vault.Quote{Price: new(big.Int).Set(q.Price), UpdatedAt: q.UpdatedAt}, nil
}

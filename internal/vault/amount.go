package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
)

// BpsDenominator 万分比分母。
const BpsDenominator = 10000

// PriceScale 预言机价格精度：value = amount * price / PriceScale。
var PriceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

var bpsDenominator = big.NewInt(BpsDenominator)

// checkAmount 校验金额为合法的 uint256（nil 视为 0）。
func checkAmount(name string, v *big.Int) (*big.Int, error) {
	if v == nil {
		return new(big.Int), nil
	}
	if v.Sign() < 0 || v.Cmp(math.MaxBig256) > 0 {
		return nil, fmt.Errorf("%s=%s: %w", name, v.String(), ErrAmountOverflow)
	}
	return new(big.Int).Set(v), nil
}

// mulDiv 计算 floor(a*b/d)。d 必须非零。
func mulDiv(a, b, d *big.Int) *big.Int {
	n := new(big.Int).Mul(a, b)
	return n.Quo(n, d)
}

// mulDivUp 计算 ceil(a*b/d)。d 必须非零。
func mulDivUp(a, b, d *big.Int) *big.Int {
	n := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(n, d, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

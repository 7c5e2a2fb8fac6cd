// Package units 在人类可读的十进制数量与链上最小单位整数之间转换。
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// PriceDecimals 预言机价格的定点精度（1e18）。
const PriceDecimals = 18

// ParseUnits 把 "12.5" 这样的十进制数量按 decimals 转为最小单位整数。
// 小数位超过 decimals 时报错，不做截断。
func ParseUnits(s string, decimals int32) (*big.Int, error) {
	s = strings.TrimSpace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: negative", s)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("invalid amount %q: more than %d decimals", s, decimals)
	}
	return scaled.BigInt(), nil
}

// FormatUnits 把最小单位整数格式化为十进制字符串（去掉多余的 0）。
func FormatUnits(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}

// PriceFromDecimal 把 "1 个代币值多少基础资产" 的人类价格转换为预言机定点价格：
// 1 个代币最小单位折合 price/1e18 个基础资产最小单位。
func PriceFromDecimal(s string, tokenDecimals, baseDecimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid price %q: negative", s)
	}
	return d.Shift(PriceDecimals + baseDecimals - tokenDecimals).Truncate(0).BigInt(), nil
}

// PriceToDecimal 是 PriceFromDecimal 的逆运算，用于展示。
func PriceToDecimal(price *big.Int, tokenDecimals, baseDecimals int32) string {
	if price == nil {
		return "0"
	}
	return decimal.NewFromBigInt(price, -(PriceDecimals + baseDecimals - tokenDecimals)).String()
}

package units

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnits(t *testing.T) {
	cases := []struct {
		in       string
		decimals int32
		want     string
		wantErr  bool
	}{
		{"1000", 6, "1000000000", false},
		{"12.5", 6, "12500000", false},
		{"0.000001", 6, "1", false},
		{"0.0000001", 6, "", true},
		{"-1", 6, "", true},
		{"abc", 6, "", true},
		{"1", 18, "1000000000000000000", false},
	}
	for _, c := range cases {
		got, err := ParseUnits(c.in, c.decimals)
		if c.wantErr {
			assert.Error(t, err, c.in)
			continue
		}
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got.String(), c.in)
	}
}

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "12.5", FormatUnits(big.NewInt(12500000), 6))
	assert.Equal(t, "0", FormatUnits(nil, 6))
	assert.Equal(t, "0.000001", FormatUnits(big.NewInt(1), 6))
}

func TestPriceFromDecimal(t *testing.T) {
	// 同精度：1 TOKEN = 2 BASE → 每最小单位 2e18
	p, err := PriceFromDecimal("2", 6, 6)
	require.NoError(t, err)
	assert.Equal(t, "2000000000000000000", p.String())

	// 18 位代币对 6 位基础资产：1e18 最小单位值 3e6 最小单位 → 每最小单位 3e-12 → 定点 3e6
	p, err = PriceFromDecimal("3", 18, 6)
	require.NoError(t, err)
	assert.Equal(t, "3000000", p.String())
	assert.Equal(t, "3", PriceToDecimal(p, 18, 6))
}

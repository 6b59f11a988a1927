package clob

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/betbot/pairbot/internal/domain"
)

// USDC 与条件代币都是 6 位精度
const collateralDecimals = 6

// FAK/FOK 的精度要求：
//   - BUY：maker(USDC) 最多 2 位小数，taker(份额) 最多 4 位
//   - SELL：maker(份额) 最多 2 位小数，taker(USDC) 最多 4 位
const (
	makerDecimals = 2
	takerDecimals = 4
)

func toUnits(v decimal.Decimal) *big.Int {
	return v.Shift(collateralDecimals).Truncate(0).BigInt()
}

// orderAmounts 计算链上订单的 maker/taker 数量。向下取整，不会超过请求的金额或份额。
func orderAmounts(side domain.Side, price, size float64, priceDecimals int32) (maker, taker *big.Int, err error) {
	p := decimal.NewFromFloat(price).Round(priceDecimals)
	if !p.IsPositive() || p.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, nil, fmt.Errorf("invalid price %s", p)
	}
	s := decimal.NewFromFloat(size).Truncate(makerDecimals)
	if !s.IsPositive() {
		return nil, nil, fmt.Errorf("size %.6f rounds to 0", size)
	}

	var m, t decimal.Decimal
	switch side {
	case domain.SideBuy:
		m = s.Mul(p).Truncate(makerDecimals)
		t = m.Div(p).Truncate(takerDecimals)
	case domain.SideSell:
		m = s
		t = s.Mul(p).Truncate(takerDecimals)
	default:
		return nil, nil, fmt.Errorf("invalid side %q", side)
	}
	if !m.IsPositive() || !t.IsPositive() {
		return nil, nil, fmt.Errorf("amount rounds to 0 (maker=%s taker=%s)", m, t)
	}
	return toUnits(m), toUnits(t), nil
}

// priceDecimalsOf tick 0.01 → 2，0.001 → 3
func priceDecimalsOf(tick float64) int32 {
	if tick <= 0 {
		return 2
	}
	return -decimal.NewFromFloat(tick).Exponent()
}

// fillFromAmounts 把成交回报换算成 (份额, 均价)
func fillFromAmounts(side domain.Side, making, taking string) (float64, float64, error) {
	mk, err := decimal.NewFromString(orZero(making))
	if err != nil {
		return 0, 0, fmt.Errorf("parse makingAmount %q: %w", making, err)
	}
	tk, err := decimal.NewFromString(orZero(taking))
	if err != nil {
		return 0, 0, fmt.Errorf("parse takingAmount %q: %w", taking, err)
	}
	shares, usdc := tk, mk
	if side == domain.SideSell {
		shares, usdc = mk, tk
	}
	if !shares.IsPositive() {
		return 0, 0, nil
	}
	return shares.InexactFloat64(), usdc.Div(shares).InexactFloat64(), nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

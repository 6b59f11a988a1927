package domain

import "time"

// Market 一个二元结果市场（YES/NO 两条腿）
type Market struct {
	Slug        string    // 市场 slug，例如 btc-updown-15m-1765985400
	ConditionID string    // 条件 ID
	Question    string    // 问题描述
	Instrument  string    // 标的（btc/eth/...）
	YesTokenID  string    // YES token 资产 ID
	NoTokenID   string    // NO token 资产 ID
	EndTime     time.Time // 结算截止时间
}

// IsValid 验证市场是否有效
func (m *Market) IsValid() bool {
	return m != nil && m.Slug != "" && m.YesTokenID != "" && m.NoTokenID != "" && !m.EndTime.IsZero()
}

// TokenID 根据腿获取资产 ID
func (m *Market) TokenID(leg Leg) string {
	if leg == LegYes {
		return m.YesTokenID
	}
	return m.NoTokenID
}

// LegOf 根据资产 ID 反查所属的腿
func (m *Market) LegOf(tokenID string) (Leg, bool) {
	switch tokenID {
	case m.YesTokenID:
		return LegYes, true
	case m.NoTokenID:
		return LegNo, true
	default:
		return "", false
	}
}

// Remaining 距离结算的剩余时间（已过期返回 0）
func (m *Market) Remaining(now time.Time) time.Duration {
	d := m.EndTime.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Leg 结果腿
type Leg string

const (
	LegYes Leg = "yes"
	LegNo  Leg = "no"
)

// Legs 固定顺序：YES 在前
var Legs = [2]Leg{LegYes, LegNo}

// Opposite 返回另一条腿
func (l Leg) Opposite() Leg {
	if l == LegYes {
		return LegNo
	}
	return LegYes
}

func (l Leg) String() string { return string(l) }

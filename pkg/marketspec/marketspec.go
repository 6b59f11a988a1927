package marketspec

import (
	"fmt"
	"strings"
	"time"
)

// Instrument 标的枚举（按枚举查表，而不是字符串匹配）
type Instrument string

const (
	InstrumentBTC Instrument = "btc"
	InstrumentETH Instrument = "eth"
	InstrumentSOL Instrument = "sol"
	InstrumentXRP Instrument = "xrp"
)

// Instruments 支持的全部标的
var Instruments = []Instrument{InstrumentBTC, InstrumentETH, InstrumentSOL, InstrumentXRP}

func ParseInstrument(v string) (Instrument, error) {
	s := Instrument(strings.ToLower(strings.TrimSpace(v)))
	switch s {
	case "bitcoin":
		return InstrumentBTC, nil
	case "ethereum":
		return InstrumentETH, nil
	case "solana":
		return InstrumentSOL, nil
	}
	for _, inst := range Instruments {
		if inst == s {
			return inst, nil
		}
	}
	return "", fmt.Errorf("不支持的标的: %q（支持: btc/eth/sol/xrp）", v)
}

func (i Instrument) String() string { return string(i) }

// Timeframe 市场周期（用于 updown market slug）。
type Timeframe string

const (
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
)

func ParseTimeframe(v string) (Timeframe, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "5m", "5min", "5mins":
		return Timeframe5m, nil
	case "15m", "15min", "15mins", "15minutes":
		return Timeframe15m, nil
	case "1h", "1hour", "60m", "60min":
		return Timeframe1h, nil
	default:
		return "", fmt.Errorf("不支持的 timeframe: %q（支持: 5m/15m/1h）", v)
	}
}

func (t Timeframe) String() string { return string(t) }

func (t Timeframe) Duration() time.Duration {
	switch t {
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe1h:
		return time.Hour
	default:
		return 15 * time.Minute
	}
}

// MarketSpec 一个要轮动交易的 updown 市场规格
type MarketSpec struct {
	Instrument Instrument
	Timeframe  Timeframe
}

func New(instrument, timeframe string) (MarketSpec, error) {
	inst, err := ParseInstrument(instrument)
	if err != nil {
		return MarketSpec{}, err
	}
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return MarketSpec{}, err
	}
	return MarketSpec{Instrument: inst, Timeframe: tf}, nil
}

func (m MarketSpec) Duration() time.Duration { return m.Timeframe.Duration() }

// CurrentPeriodStartUnix 当前周期起点（按 UTC 对齐，周期都能整除 1 小时）
func (m MarketSpec) CurrentPeriodStartUnix(now time.Time) int64 {
	return now.UTC().Truncate(m.Duration()).Unix()
}

// Slug 约定：{instrument}-updown-{tf}-{periodStart}
func (m MarketSpec) Slug(periodStartUnix int64) string {
	return fmt.Sprintf("%s-updown-%s-%d", m.Instrument, m.Timeframe, periodStartUnix)
}

// CandidateSlugs 从当前周期开始的 count 个 slug
func (m MarketSpec) CandidateSlugs(now time.Time, count int) []string {
	if count <= 0 {
		return nil
	}
	start := m.CurrentPeriodStartUnix(now)
	step := int64(m.Duration().Seconds())
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, m.Slug(start+int64(i)*step))
	}
	return out
}

// PeriodEnd 周期结束时间
func (m MarketSpec) PeriodEnd(periodStartUnix int64) time.Time {
	return time.Unix(periodStartUnix, 0).Add(m.Duration())
}

func (m MarketSpec) String() string {
	return fmt.Sprintf("%s/%s", m.Instrument, m.Timeframe)
}

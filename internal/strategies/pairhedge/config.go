package pairhedge

import (
	"fmt"
	"time"

	"github.com/betbot/pairbot/internal/strategies/common"
	"github.com/betbot/pairbot/pkg/config"
)

const ID = "pairhedge"

// Config：成对对冲（YES+NO）累积策略。
//
// 核心思想：
// - 在短窗口内捕捉单腿急跌（dip），分批买入 YES / NO 两腿
// - 两腿均价之和 < 1 即锁定结算收益；接近结算时按优先级瀑布退出
// - 单腿裸露超时则强制对冲，进入 ArbLocked 不再主动加仓
type Config struct {
	// ===== 入场信号 =====
	Window       common.Duration `yaml:"window" json:"window"`             // 价格窗口，默认 4s
	DipThreshold float64         `yaml:"dipThreshold" json:"dipThreshold"` // (max-cur)/max 阈值，默认 0.15
	Debounce     common.Duration `yaml:"debounce" json:"debounce"`         // 同一腿两次买入最小间隔，默认 2.5s
	MinPriceMove float64         `yaml:"minPriceMove" json:"minPriceMove"` // 距上次成交价的最小变动，默认 0.01
	EntryCutoff  common.Duration `yaml:"entryCutoff" json:"entryCutoff"`   // 距结算小于该时长不再主动开仓，默认 60s
	// 买单限价 = 观测价 + EntrySlippage（按 tick 向上取整）
	EntrySlippage float64 `yaml:"entrySlippage" json:"entrySlippage"`

	// ===== 超时 =====
	StagnationTimeout common.Duration `yaml:"stagnationTimeout" json:"stagnationTimeout"` // pair cost 长时间不改善则停止加仓，默认 60s
	Leg2Timeout       common.Duration `yaml:"leg2Timeout" json:"leg2Timeout"`             // 单腿裸露超时，默认 90s

	// ===== 仓位与资金 =====
	ClipSize           float64 `yaml:"clipSize" json:"clipSize"`                     // 单次买入份额，默认 10
	MaxImbalanceClips  float64 `yaml:"maxImbalanceClips" json:"maxImbalanceClips"`   // 两腿份额差上限（clip 倍数），默认 3
	RiskPerClip        float64 `yaml:"riskPerClip" json:"riskPerClip"`               // 单次买入最多占余额比例，默认 0.05
	MinOrderSize       float64 `yaml:"minOrderSize" json:"minOrderSize"`             // 交易所最小下单份额，默认 5
	MarketRiskFraction float64 `yaml:"marketRiskFraction" json:"marketRiskFraction"` // 单市场资金上限占余额比例，默认 0.10
	TickSize           float64 `yaml:"tickSize" json:"tickSize"`                     // 默认 0.01

	// ===== 退出瀑布 =====
	PartialUnwindWindow    common.Duration `yaml:"partialUnwindWindow" json:"partialUnwindWindow"`       // T1，默认 45s
	LateExitWindow         common.Duration `yaml:"lateExitWindow" json:"lateExitWindow"`                 // T2（>= T1），默认 60s
	DominanceThreshold     float64         `yaml:"dominanceThreshold" json:"dominanceThreshold"`         // 默认 0.70
	PartialUnwindMinProfit float64         `yaml:"partialUnwindMinProfit" json:"partialUnwindMinProfit"` // USDC，默认 0.5
	LateExitMinProfit      float64         `yaml:"lateExitMinProfit" json:"lateExitMinProfit"`           // USDC，默认 0.5
	SumTarget              float64         `yaml:"sumTarget" json:"sumTarget"`                           // avgYes+avgNo <= 该值即锁定，默认 0.95
	EarlyProfitPct         float64         `yaml:"earlyProfitPct" json:"earlyProfitPct"`                 // 默认 0.05
	EarlyProfitMinUSD      float64         `yaml:"earlyProfitMinUsd" json:"earlyProfitMinUsd"`           // 默认 1.0
	DepthSlippage          float64         `yaml:"depthSlippage" json:"depthSlippage"`                   // 深度检查目标价 = bid×(1-x)，默认 0.02
	EmergencyHaircut       float64         `yaml:"emergencyHaircut" json:"emergencyHaircut"`             // 紧急甩卖折价，默认 0.30
	ArbLockedHold          common.Duration `yaml:"arbLockedHold" json:"arbLockedHold"`                   // ArbLocked 距结算小于该值后持有到结算，默认 10s
	ExitThrottle           common.Duration `yaml:"exitThrottle" json:"exitThrottle"`                     // tick 触发退出评估的最小间隔，默认 1s

	// ===== 强制对冲 =====
	HedgeSlippage float64 `yaml:"hedgeSlippage" json:"hedgeSlippage"` // 对冲买单在观测价基础上的加价，默认 0.02

	// ===== 结算 =====
	TimerInterval        common.Duration `yaml:"timerInterval" json:"timerInterval"`               // 默认 5s
	ResolutionGrace      common.Duration `yaml:"resolutionGrace" json:"resolutionGrace"`           // 结算后等待多久收尾，默认 15s
	ResolutionConfidence float64         `yaml:"resolutionConfidence" json:"resolutionConfidence"` // 最终价 >= 该值认定胜方，默认 0.85
}

func dur(d *common.Duration, def time.Duration) {
	if d.Duration <= 0 {
		d.Duration = def
	}
}

func num(v *float64, def float64) {
	if *v <= 0 {
		*v = def
	}
}

// ApplyProfile 用标的风险参数补齐未显式配置的字段
func (c *Config) ApplyProfile(p config.InstrumentProfile) {
	num(&c.DipThreshold, p.DipThreshold)
	num(&c.ClipSize, p.ClipSize)
	num(&c.MinOrderSize, p.MinOrderSize)
	num(&c.RiskPerClip, p.RiskPerClip)
	num(&c.MarketRiskFraction, p.MarketRiskFraction)
	num(&c.SumTarget, p.SumTarget)
	num(&c.TickSize, p.TickSize)
}

func (c *Config) Validate() error {
	dur(&c.Window, 4*time.Second)
	num(&c.DipThreshold, 0.15)
	dur(&c.Debounce, 2500*time.Millisecond)
	num(&c.MinPriceMove, 0.01)
	dur(&c.EntryCutoff, 60*time.Second)
	if c.EntrySlippage < 0 {
		return fmt.Errorf("entrySlippage 不能为负数")
	}

	dur(&c.StagnationTimeout, 60*time.Second)
	dur(&c.Leg2Timeout, 90*time.Second)

	num(&c.ClipSize, 10)
	num(&c.MaxImbalanceClips, 3)
	num(&c.RiskPerClip, 0.05)
	num(&c.MinOrderSize, 5)
	num(&c.MarketRiskFraction, 0.10)
	num(&c.TickSize, 0.01)

	dur(&c.PartialUnwindWindow, 45*time.Second)
	dur(&c.LateExitWindow, 60*time.Second)
	num(&c.DominanceThreshold, 0.70)
	num(&c.PartialUnwindMinProfit, 0.5)
	num(&c.LateExitMinProfit, 0.5)
	num(&c.SumTarget, 0.95)
	num(&c.EarlyProfitPct, 0.05)
	num(&c.EarlyProfitMinUSD, 1.0)
	num(&c.DepthSlippage, 0.02)
	num(&c.EmergencyHaircut, 0.30)
	dur(&c.ArbLockedHold, 10*time.Second)
	dur(&c.ExitThrottle, time.Second)
	num(&c.HedgeSlippage, 0.02)

	dur(&c.TimerInterval, 5*time.Second)
	dur(&c.ResolutionGrace, 15*time.Second)
	num(&c.ResolutionConfidence, 0.85)

	if c.DipThreshold >= 1 {
		return fmt.Errorf("dipThreshold 必须在 (0,1) 范围内")
	}
	if c.SumTarget >= 1 {
		return fmt.Errorf("sumTarget 必须小于 1（否则锁定不盈利）")
	}
	if c.LateExitWindow.Duration < c.PartialUnwindWindow.Duration {
		return fmt.Errorf("lateExitWindow(T2) 不能小于 partialUnwindWindow(T1)")
	}
	if c.DominanceThreshold >= 1 {
		return fmt.Errorf("dominanceThreshold 必须小于 1")
	}
	if c.RiskPerClip > 1 || c.MarketRiskFraction > 1 {
		return fmt.Errorf("riskPerClip / marketRiskFraction 必须在 (0,1] 范围内")
	}
	if c.DepthSlippage >= 1 || c.EmergencyHaircut >= 1 {
		return fmt.Errorf("depthSlippage / emergencyHaircut 必须小于 1")
	}
	if c.ResolutionConfidence <= 0.5 || c.ResolutionConfidence > 1 {
		return fmt.Errorf("resolutionConfidence 必须在 (0.5,1] 范围内")
	}
	if c.MinOrderSize > c.ClipSize {
		return fmt.Errorf("minOrderSize 不能大于 clipSize")
	}
	return nil
}

// imbalanceLimit 两腿份额差上限（份）
func (c *Config) imbalanceLimit() float64 {
	return c.MaxImbalanceClips * c.ClipSize
}

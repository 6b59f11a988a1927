package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// CycleStatus 周期状态：OPEN 或终止原因
type CycleStatus string

const (
	CycleOpen      CycleStatus = "OPEN"
	CycleWin       CycleStatus = "WIN"
	CycleLoss      CycleStatus = "LOSS"
	CycleAbandon   CycleStatus = "ABANDON"
	CycleEarlyExit CycleStatus = "EARLY_EXIT"
	CycleLateExit  CycleStatus = "LATE_EXIT"
	CycleArbLocked CycleStatus = "ARB_LOCKED"
	CycleExpired   CycleStatus = "EXPIRED"
)

// IsTerminal 是否为合法的终止原因
func (s CycleStatus) IsTerminal() bool {
	switch s {
	case CycleWin, CycleLoss, CycleAbandon, CycleEarlyExit, CycleLateExit, CycleArbLocked, CycleExpired:
		return true
	}
	return false
}

// Cycle 一次市场参与（从第一笔成交到最终结算/退出）
type Cycle struct {
	ID         string          `json:"id"`
	MarketID   string          `json:"marketId"` // 市场 slug
	Coin       string          `json:"coin"`
	StartTs    time.Time       `json:"startTs"`
	EndTime    time.Time       `json:"endTime"`
	YesTokenID string          `json:"yesTokenId"`
	NoTokenID  string          `json:"noTokenId"`
	YesCost    decimal.Decimal `json:"yesCost"`
	NoCost     decimal.Decimal `json:"noCost"`
	YesShares  decimal.Decimal `json:"yesShares"`
	NoShares   decimal.Decimal `json:"noShares"`
	Status     CycleStatus     `json:"status"`
}

// TotalCost 两腿合计成本
func (c *Cycle) TotalCost() decimal.Decimal {
	return c.YesCost.Add(c.NoCost)
}

// FloorPnL 两腿都持有到结算时的保底收益：min(yes,no)×1 − 总成本
func (c *Cycle) FloorPnL() decimal.Decimal {
	return decimal.Min(c.YesShares, c.NoShares).Sub(c.TotalCost())
}

// CoinStats 单个标的的累计统计（只由已关闭周期推导，exposure 除外）
type CoinStats struct {
	CyclesCompleted  int             `json:"cyclesCompleted"`
	CyclesWon        int             `json:"cyclesWon"`
	CyclesLost       int             `json:"cyclesLost"`
	CyclesAbandoned  int             `json:"cyclesAbandoned"`
	RealizedPnL      decimal.Decimal `json:"realizedPnL"`
	CurrentExposure  decimal.Decimal `json:"currentExposure"`
	AvgCycleDuration float64         `json:"avgCycleDuration"` // 秒
}

// Session 一个会话的回撤基线。基线只在第一次非零余额观测时写入，之后不再改动。
type Session struct {
	StartingBalance decimal.Decimal `json:"startingBalance"`
	StartedAt       time.Time       `json:"startedAt"`
	LastSeen        time.Time       `json:"lastSeen"`
}

// 超过该时长没有上报余额的会话会被清理
const sessionRetention = 7 * 24 * time.Hour

// State 一个交易宇宙（universe）的全部持久化状态。
// SessionID/StartingBalance 是最近一个捕获基线的会话，只用于展示；回撤检查按调用方自己的会话算。
type State struct {
	Universe        string                `json:"universe"`
	SessionID       string                `json:"sessionId"`
	Sessions        map[string]*Session   `json:"sessions"`
	Coins           map[string]*CoinStats `json:"coins"`
	ActiveCycles    map[string]*Cycle     `json:"activeCycles"`
	WalletBalance   decimal.Decimal       `json:"walletBalance"`
	StartingBalance decimal.Decimal       `json:"startingBalance"`
	LastUpdate      time.Time             `json:"lastUpdate"`
}

func newState(universe string) *State {
	return &State{
		Universe:     universe,
		Sessions:     make(map[string]*Session),
		Coins:        make(map[string]*CoinStats),
		ActiveCycles: make(map[string]*Cycle),
	}
}

// normalize 反序列化后补齐 nil map
func (s *State) normalize(universe string) *State {
	if s.Universe == "" {
		s.Universe = universe
	}
	if s.Sessions == nil {
		s.Sessions = make(map[string]*Session)
	}
	if s.Coins == nil {
		s.Coins = make(map[string]*CoinStats)
	}
	if s.ActiveCycles == nil {
		s.ActiveCycles = make(map[string]*Cycle)
	}
	return s
}

func (s *State) coin(name string) *CoinStats {
	cs, ok := s.Coins[name]
	if !ok || cs == nil {
		cs = &CoinStats{}
		s.Coins[name] = cs
	}
	return cs
}

// recomputeExposure 按 open 周期重新汇总某个标的的敞口
func (s *State) recomputeExposure(coin string) {
	total := decimal.Zero
	for _, c := range s.ActiveCycles {
		if c.Coin == coin && c.Status == CycleOpen {
			total = total.Add(c.TotalCost())
		}
	}
	s.coin(coin).CurrentExposure = total
}

// OpenCycles 按开始时间排序的 open 周期；coin 为空表示全部
func (s *State) OpenCycles(coin string) []*Cycle {
	out := make([]*Cycle, 0, len(s.ActiveCycles))
	for _, c := range s.ActiveCycles {
		if c.Status != CycleOpen {
			continue
		}
		if coin != "" && c.Coin != coin {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTs.Before(out[j].StartTs) })
	return out
}

func drawdown(starting, wallet decimal.Decimal) decimal.Decimal {
	if !starting.IsPositive() {
		return decimal.Zero
	}
	return starting.Sub(wallet).Div(starting)
}

// Drawdown 相对最近一个会话基线的回撤；没有基线时返回 0
func (s *State) Drawdown() decimal.Decimal {
	return drawdown(s.StartingBalance, s.WalletBalance)
}

// SessionDrawdown 相对指定会话基线的回撤；第二个返回值表示该会话是否已有基线
func (s *State) SessionDrawdown(id string) (decimal.Decimal, bool) {
	sess, ok := s.Sessions[id]
	if !ok || sess == nil || !sess.StartingBalance.IsPositive() {
		return decimal.Zero, false
	}
	return drawdown(sess.StartingBalance, s.WalletBalance), true
}

// pruneSessions 清理长时间不活跃的会话，keep 永远保留
func (s *State) pruneSessions(now time.Time, keep string) {
	for id, sess := range s.Sessions {
		if id == keep {
			continue
		}
		if sess == nil || now.Sub(sess.LastSeen) > sessionRetention {
			delete(s.Sessions, id)
		}
	}
}

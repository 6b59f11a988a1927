package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "ledger")

// Ledger PnL 账本。所有读操作都先从存储重新同步，多个协作进程共享同一份存储也能正确工作。
type Ledger struct {
	store     Store
	sessionID string
	now       func() time.Time
}

// Option 账本可选项
type Option func(*Ledger)

// WithSessionID 协作进程配置同一个 session id，共享同一个回撤基线
func WithSessionID(id string) Option {
	return func(l *Ledger) {
		if id != "" {
			l.sessionID = id
		}
	}
}

// WithClock 测试用
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		sessionID: uuid.NewString(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// SessionID 当前会话
func (l *Ledger) SessionID() string { return l.sessionID }

// CycleInfo 开启周期时需要的市场信息
type CycleInfo struct {
	MarketID   string
	Coin       string
	YesTokenID string
	NoTokenID  string
	EndTime    time.Time
}

// CycleCosts 两腿的累计成本与份额（绝对值，不是增量）
type CycleCosts struct {
	YesCost   decimal.Decimal
	NoCost    decimal.Decimal
	YesShares decimal.Decimal
	NoShares  decimal.Decimal
}

// StartCycle 第一笔成交时调用；已存在的 open 周期直接返回
func (l *Ledger) StartCycle(ctx context.Context, info CycleInfo) (*Cycle, error) {
	if info.MarketID == "" || info.Coin == "" {
		return nil, errors.New("ledger: market id and coin are required")
	}
	var out Cycle
	_, err := l.store.Update(ctx, func(st *State) error {
		if c, ok := st.ActiveCycles[info.MarketID]; ok {
			out = *c
			return ErrSkipWrite
		}
		c := &Cycle{
			ID:         uuid.NewString(),
			MarketID:   info.MarketID,
			Coin:       info.Coin,
			StartTs:    l.now().UTC(),
			EndTime:    info.EndTime,
			YesTokenID: info.YesTokenID,
			NoTokenID:  info.NoTokenID,
			Status:     CycleOpen,
		}
		st.ActiveCycles[info.MarketID] = c
		st.coin(info.Coin)
		out = *c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("start cycle %s: %w", info.MarketID, err)
	}
	log.WithFields(logrus.Fields{"market": info.MarketID, "coin": info.Coin, "cycle": out.ID}).Info("周期开启")
	return &out, nil
}

// UpdateCycleCost 每次成交后写入最新累计值；周期不在 open 集合里时静默忽略
func (l *Ledger) UpdateCycleCost(ctx context.Context, marketID string, costs CycleCosts) error {
	_, err := l.store.Update(ctx, func(st *State) error {
		c, ok := st.ActiveCycles[marketID]
		if !ok || c.Status != CycleOpen {
			return ErrSkipWrite
		}
		c.YesCost = costs.YesCost
		c.NoCost = costs.NoCost
		c.YesShares = costs.YesShares
		c.NoShares = costs.NoShares
		st.recomputeExposure(c.Coin)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update cycle %s: %w", marketID, err)
	}
	return nil
}

// CloseCycle 关闭周期，只生效一次。返回 closed=false 表示周期已不在 open 集合（重复关闭被吸收）。
func (l *Ledger) CloseCycle(ctx context.Context, marketID string, reason CycleStatus, pnl decimal.Decimal) (bool, error) {
	if !reason.IsTerminal() {
		return false, fmt.Errorf("ledger: invalid terminal reason %q", reason)
	}
	closed := false
	var coin string
	_, err := l.store.Update(ctx, func(st *State) error {
		c, ok := st.ActiveCycles[marketID]
		if !ok || c.Status != CycleOpen {
			return ErrSkipWrite
		}
		delete(st.ActiveCycles, marketID)
		coin = c.Coin

		cs := st.coin(c.Coin)
		cs.CyclesCompleted++
		switch {
		case reason == CycleAbandon:
			cs.CyclesAbandoned++
		case reason == CycleWin || pnl.IsPositive():
			cs.CyclesWon++
		case reason == CycleLoss || pnl.IsNegative():
			cs.CyclesLost++
		}
		cs.RealizedPnL = cs.RealizedPnL.Add(pnl)

		dur := l.now().Sub(c.StartTs).Seconds()
		if dur < 0 {
			dur = 0
		}
		cs.AvgCycleDuration += (dur - cs.AvgCycleDuration) / float64(cs.CyclesCompleted)

		st.recomputeExposure(c.Coin)
		closed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("close cycle %s: %w", marketID, err)
	}
	if closed {
		log.WithFields(logrus.Fields{"market": marketID, "coin": coin, "reason": reason, "pnl": pnl.StringFixed(4)}).Info("周期关闭")
	}
	return closed, nil
}

// UpdateWalletBalance 记录钱包余额；本会话第一次非零观测作为回撤基线。
// 每个会话的基线单独保存，共享账本的其他会话不会覆盖它。
func (l *Ledger) UpdateWalletBalance(ctx context.Context, balance float64) error {
	bal := decimal.NewFromFloat(balance)
	now := l.now().UTC()
	_, err := l.store.Update(ctx, func(st *State) error {
		sess, ok := st.Sessions[l.sessionID]
		if !ok || sess == nil {
			sess = &Session{StartedAt: now}
			st.Sessions[l.sessionID] = sess
		}
		sess.LastSeen = now
		st.WalletBalance = bal
		if sess.StartingBalance.IsZero() && bal.IsPositive() {
			sess.StartingBalance = bal
			st.SessionID, st.StartingBalance = l.sessionID, bal
			log.WithFields(logrus.Fields{"session": l.sessionID, "startingBalance": bal.StringFixed(2)}).Info("捕获会话起始余额")
		}
		st.pruneSessions(now, l.sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	return nil
}

// CheckDrawdown (本会话 starting − wallet)/starting > limit 时返回 true
func (l *Ledger) CheckDrawdown(ctx context.Context, limit float64) (bool, float64, error) {
	st, err := l.store.Load(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("check drawdown: %w", err)
	}
	dd, ok := st.SessionDrawdown(l.sessionID)
	tripped := ok && dd.GreaterThan(decimal.NewFromFloat(limit))
	return tripped, dd.InexactFloat64(), nil
}

// GetCoinStats 单个标的统计（不存在时返回零值）
func (l *Ledger) GetCoinStats(ctx context.Context, coin string) (CoinStats, error) {
	st, err := l.store.Load(ctx)
	if err != nil {
		return CoinStats{}, fmt.Errorf("get coin stats: %w", err)
	}
	if cs, ok := st.Coins[coin]; ok && cs != nil {
		return *cs, nil
	}
	return CoinStats{}, nil
}

// GetAllStats 完整快照
func (l *Ledger) GetAllStats(ctx context.Context) (*State, error) {
	st, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("get all stats: %w", err)
	}
	return st, nil
}

// OpenCycles 某个标的（空表示全部）的 open 周期
func (l *Ledger) OpenCycles(ctx context.Context, coin string) ([]*Cycle, error) {
	st, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("open cycles: %w", err)
	}
	return st.OpenCycles(coin), nil
}

func (l *Ledger) Close() error {
	return l.store.Close()
}

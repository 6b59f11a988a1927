package risk

import (
	"math"
	"sync"
)

// microsPerUSDC 内部以 1e-6 USDC 为单位计数（USDC 链上精度）
const microsPerUSDC = 1_000_000

// CapitalGuard 进程级“已预留未确认”资金计数器。
//
// 每次下单前 TryReserve，下单结束（无论成败）调用 Finish；失败路径另外 Release。
// 成功路径不释放预留，交易所余额下一次读取会自然反映这笔支出。
// 清零只能通过 Checkpoint + ResetIfQuiet：读余额前打点，读完后确认期间没有在途或新开的订单。
type CapitalGuard struct {
	mu       sync.Mutex
	reserved int64
	// pending TryReserve 成功到 Finish 之间的订单数
	pending int
	// epoch 每次 TryReserve 成功 +1
	epoch uint64
}

// Checkpoint 读余额之前的快照
type Checkpoint struct {
	epoch uint64
	quiet bool
}

func NewCapitalGuard() *CapitalGuard {
	return &CapitalGuard{}
}

func toMicros(v float64) int64 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return int64(math.Round(v * microsPerUSDC))
}

// TryReserve reserved+amount > balance 时失败且不修改计数。成功后必须调用一次 Finish。
func (g *CapitalGuard) TryReserve(amount, balance float64) bool {
	amt := toMicros(amount)
	bal := toMicros(balance)
	g.mu.Lock()
	defer g.mu.Unlock()
	if amt > 0 && g.reserved+amt > bal {
		return false
	}
	g.reserved += amt
	g.pending++
	g.epoch++
	return true
}

// Finish 订单已结束（成交、未成交或出错）
func (g *CapitalGuard) Finish() {
	g.mu.Lock()
	if g.pending > 0 {
		g.pending--
	}
	g.mu.Unlock()
}

// Release 归还预留（下限为 0）。
func (g *CapitalGuard) Release(amount float64) {
	amt := toMicros(amount)
	if amt == 0 {
		return
	}
	g.mu.Lock()
	g.reserved -= amt
	if g.reserved < 0 {
		g.reserved = 0
	}
	g.mu.Unlock()
}

// Checkpoint 在读取余额之前调用
func (g *CapitalGuard) Checkpoint() Checkpoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Checkpoint{epoch: g.epoch, quiet: g.pending == 0}
}

// ResetIfQuiet 打点时没有在途订单、之后也没有新的预留，才清零并返回 true。
// 此时刚读到的余额已经包含所有成交，残留预留可以丢弃。
func (g *CapitalGuard) ResetIfQuiet(cp Checkpoint) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !cp.quiet || g.pending > 0 || g.epoch != cp.epoch {
		return false
	}
	g.reserved = 0
	return true
}

// Reserved 当前预留金额（USDC）
func (g *CapitalGuard) Reserved() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return float64(g.reserved) / microsPerUSDC
}

// InFlight 在途订单数
func (g *CapitalGuard) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// Available 在给定余额下还能预留多少
func (g *CapitalGuard) Available(balance float64) float64 {
	v := balance - g.Reserved()
	if v < 0 {
		return 0
	}
	return v
}

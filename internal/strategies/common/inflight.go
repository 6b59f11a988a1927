package common

import "sync/atomic"

// InFlightLimiter 在途任务计数（下单、退出评估）。
// max <= 0 表示不限制；worker 用计数判断能否安全结束，控制器用它判断能否重置资金预留。
type InFlightLimiter struct {
	n   atomic.Int64
	max int64
}

func NewInFlightLimiter(max int) *InFlightLimiter {
	return &InFlightLimiter{max: int64(max)}
}

func (l *InFlightLimiter) InFlight() int { return int(l.n.Load()) }

// TryAcquire 未达上限时计数 +1
func (l *InFlightLimiter) TryAcquire() bool {
	for {
		cur := l.n.Load()
		if l.max > 0 && cur >= l.max {
			return false
		}
		if l.n.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release 计数 -1，不会小于 0
func (l *InFlightLimiter) Release() {
	for {
		cur := l.n.Load()
		if cur <= 0 || l.n.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

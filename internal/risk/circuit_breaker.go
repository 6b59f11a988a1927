package risk

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ErrCircuitBreakerOpen 表示断路器已打开，禁止新的主动开仓。
var ErrCircuitBreakerOpen = fmt.Errorf("circuit breaker open")

// CircuitBreakerConfig 断路器配置。
// 约定：阈值 <= 0 表示关闭对应限制。
type CircuitBreakerConfig struct {
	// MaxConsecutiveErrors 交易所调用连续失败上限。
	MaxConsecutiveErrors int64
	// Cooldown 打开后的冷却时间；到期自动半开（计数清零）。
	Cooldown time.Duration
}

// CircuitBreaker 只拦截主动开仓；强制对冲和退出属于降风险动作，不受影响。
type CircuitBreaker struct {
	consecutiveErrors atomic.Int64
	openUntil         atomic.Int64 // unix nano，0 表示关闭
	halted            atomic.Bool

	maxConsecutiveErrors atomic.Int64
	cooldown             atomic.Int64

	now func() time.Time
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{now: time.Now}
	cb.SetConfig(cfg)
	return cb
}

func (cb *CircuitBreaker) SetConfig(cfg CircuitBreakerConfig) {
	if cb == nil {
		return
	}
	cb.maxConsecutiveErrors.Store(cfg.MaxConsecutiveErrors)
	cb.cooldown.Store(int64(cfg.Cooldown))
}

// Halt 手动熔断（人工介入）。
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.halted.Store(true)
}

// Resume 手动恢复（同时清空连续错误计数）。
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.halted.Store(false)
	cb.consecutiveErrors.Store(0)
	cb.openUntil.Store(0)
}

// AllowTrading 快路径检查是否允许主动开仓。
func (cb *CircuitBreaker) AllowTrading() error {
	if cb == nil {
		return nil
	}
	if cb.halted.Load() {
		return ErrCircuitBreakerOpen
	}
	now := cb.now().UnixNano()
	if until := cb.openUntil.Load(); until > 0 {
		if now < until {
			return ErrCircuitBreakerOpen
		}
		// 冷却结束：只有一个调用者负责清零
		if cb.openUntil.CompareAndSwap(until, 0) {
			cb.consecutiveErrors.Store(0)
		}
	}
	maxErr := cb.maxConsecutiveErrors.Load()
	if maxErr > 0 && cb.consecutiveErrors.Load() >= maxErr {
		cb.trip(now)
		return ErrCircuitBreakerOpen
	}
	return nil
}

// OnSuccess 一次交易所调用成功后调用。
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Store(0)
}

// OnError 一次交易所调用失败后调用。
func (cb *CircuitBreaker) OnError() {
	if cb == nil {
		return
	}
	n := cb.consecutiveErrors.Add(1)
	if maxErr := cb.maxConsecutiveErrors.Load(); maxErr > 0 && n >= maxErr {
		cb.trip(cb.now().UnixNano())
	}
}

// IsOpen 是否处于熔断（不触发状态变化，用于展示）
func (cb *CircuitBreaker) IsOpen() bool {
	if cb == nil {
		return false
	}
	return cb.halted.Load() || cb.openUntil.Load() > cb.now().UnixNano()
}

func (cb *CircuitBreaker) trip(now int64) {
	cd := cb.cooldown.Load()
	if cd <= 0 {
		// 没有冷却时间就只能人工恢复
		cb.halted.Store(true)
		return
	}
	cb.openUntil.CompareAndSwap(0, now+cd)
}

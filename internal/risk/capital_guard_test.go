package risk

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapitalGuard_ReserveReleaseSequence(t *testing.T) {
	g := NewCapitalGuard()

	require.True(t, g.TryReserve(60, 100))
	// 60+50=110 > 100
	require.False(t, g.TryReserve(50, 100))
	assert.InDelta(t, 60, g.Reserved(), 1e-9, "failed reserve must not mutate")

	g.Release(60)
	require.True(t, g.TryReserve(50, 100))
	assert.InDelta(t, 50, g.Reserved(), 1e-9)
}

func TestCapitalGuard_ReleaseClampsAtZero(t *testing.T) {
	g := NewCapitalGuard()
	require.True(t, g.TryReserve(10, 100))
	g.Release(25)
	assert.Zero(t, g.Reserved())

	assert.InDelta(t, 100, g.Available(100), 1e-9)
}

func TestCapitalGuard_ResetOnlyWhenQuiet(t *testing.T) {
	g := NewCapitalGuard()
	require.True(t, g.TryReserve(30, 100))

	// 订单在途时打点，余额不完整，不能清零
	cp := g.Checkpoint()
	g.Finish()
	assert.False(t, g.ResetIfQuiet(cp))
	assert.InDelta(t, 30, g.Reserved(), 1e-9)

	// 安静时打点，期间又有新预留（另一个 worker 刚下单），也不能清零
	cp = g.Checkpoint()
	require.True(t, g.TryReserve(5, 100))
	assert.False(t, g.ResetIfQuiet(cp))
	g.Finish()
	assert.False(t, g.ResetIfQuiet(cp), "a reservation made after the checkpoint is not in the balance")
	assert.InDelta(t, 35, g.Reserved(), 1e-9)

	cp = g.Checkpoint()
	assert.True(t, g.ResetIfQuiet(cp))
	assert.Zero(t, g.Reserved())
	assert.Zero(t, g.InFlight())
}

func TestCapitalGuard_ResetRacingReservationsNeverDoubleSpends(t *testing.T) {
	g := NewCapitalGuard()
	const balance = 100.0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			// 不 Finish：模拟仍在途的订单
			g.TryReserve(60, balance)
		}()
		go func() {
			defer wg.Done()
			g.ResetIfQuiet(g.Checkpoint())
		}()
	}
	wg.Wait()
	// 第一笔预留一直在途，之后的清零全部被拒绝，第二笔 60 永远拿不到
	assert.InDelta(t, 60, g.Reserved(), 1e-9)
	assert.Equal(t, 1, g.InFlight())
}

func TestCapitalGuard_ConcurrentReservationsNeverExceedBalance(t *testing.T) {
	g := NewCapitalGuard()
	const balance = 100.0

	var wg sync.WaitGroup
	var granted atomic.Int64
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryReserve(7, balance) {
				granted.Add(1)
				assert.LessOrEqual(t, g.Reserved(), balance+1e-9)
			}
		}()
	}
	wg.Wait()

	// floor(100/7) = 14
	assert.Equal(t, int64(14), granted.Load())
	assert.InDelta(t, 98, g.Reserved(), 1e-9)
}

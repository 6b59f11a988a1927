package pairhedge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDipDetector(t *testing.T) {
	t0 := time.Now()
	d := NewDipDetector(4*time.Second, 0.20)

	assert.False(t, d.Observe(0.50, t0).Fired)
	assert.False(t, d.Observe(0.45, t0.Add(time.Second)).Fired)

	sig := d.Observe(0.39, t0.Add(2*time.Second))
	assert.True(t, sig.Fired)
	assert.InDelta(t, 0.50, sig.Max, 1e-12)
	assert.InDelta(t, 0.22, sig.Drop, 1e-9)

	// 0.50 滑出窗口后，最大值变为 0.45
	sig = d.Observe(0.38, t0.Add(5*time.Second))
	assert.InDelta(t, 0.45, sig.Max, 1e-12)
	assert.False(t, sig.Fired)

	assert.Equal(t, 3, d.Len())
}

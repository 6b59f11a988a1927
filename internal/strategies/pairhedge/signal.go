package pairhedge

import (
	"sync"
	"time"
)

type pricePoint struct {
	ts    time.Time
	price float64
}

// DipDetector 固定时长窗口内的滚动最大值；(max-cur)/max >= 阈值即触发
type DipDetector struct {
	mu        sync.Mutex
	window    time.Duration
	threshold float64
	points    []pricePoint
	// 单调递减队列（窗口最大值）
	maxq []pricePoint
}

func NewDipDetector(window time.Duration, threshold float64) *DipDetector {
	return &DipDetector{window: window, threshold: threshold}
}

// DipSignal 一次观测的结果
type DipSignal struct {
	Fired bool
	Max   float64
	Drop  float64 // (max-cur)/max
}

// Observe 记录一个价格并判断是否触发
func (d *DipDetector) Observe(price float64, ts time.Time) DipSignal {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := pricePoint{ts: ts, price: price}
	d.points = append(d.points, p)
	for len(d.maxq) > 0 && d.maxq[len(d.maxq)-1].price <= price {
		d.maxq = d.maxq[:len(d.maxq)-1]
	}
	d.maxq = append(d.maxq, p)

	cutoff := ts.Add(-d.window)
	i := 0
	for i < len(d.points) && d.points[i].ts.Before(cutoff) {
		i++
	}
	d.points = d.points[i:]
	j := 0
	for j < len(d.maxq) && d.maxq[j].ts.Before(cutoff) {
		j++
	}
	d.maxq = d.maxq[j:]

	max := d.maxq[0].price
	sig := DipSignal{Max: max}
	if max > 0 {
		sig.Drop = (max - price) / max
		sig.Fired = sig.Drop >= d.threshold
	}
	return sig
}

// Len 窗口内样本数
func (d *DipDetector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.points)
}

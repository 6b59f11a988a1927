package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/betbot/pairbot/pkg/logger"
)

// Handler 关闭回调；ctx 带超时
type Handler func(ctx context.Context) error

type callback struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器：回调按注册顺序分组，同一阶段内并发执行
type Manager struct {
	mu     sync.Mutex
	stages [][]callback
}

func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 在当前阶段注册回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.stages) == 0 {
		m.stages = append(m.stages, nil)
	}
	last := len(m.stages) - 1
	m.stages[last] = append(m.stages[last], callback{name: name, fn: handler})
}

// Then 开启新阶段：之后注册的回调要等前面的阶段全部结束才执行
func (m *Manager) Then() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, nil)
}

// Shutdown 依次执行各阶段（阻塞调用）；超时后不再等待剩余回调
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	stages := m.stages
	m.mu.Unlock()

	var errs []error
	for _, stage := range stages {
		if len(stage) == 0 {
			continue
		}
		errC := make(chan error, len(stage))
		var wg sync.WaitGroup
		for _, cb := range stage {
			wg.Add(1)
			go func(cb callback) {
				defer wg.Done()
				if err := cb.fn(ctx); err != nil {
					logger.Warnf("关闭 %s 失败: %v", cb.name, err)
					errC <- fmt.Errorf("%s: %w", cb.name, err)
					return
				}
				logger.Debugf("已关闭 %s", cb.name)
			}(cb)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			logger.Warnf("关闭超时: %v", ctx.Err())
			return errors.Join(append(errs, ctx.Err())...)
		}
		close(errC)
		for err := range errC {
			errs = append(errs, err)
		}
	}
	logger.Info("所有关闭回调已完成")
	return errors.Join(errs...)
}

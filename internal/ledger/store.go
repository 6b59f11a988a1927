package ledger

import (
	"context"
	"errors"
)

// ErrSkipWrite 由 Update 回调返回，表示本次无变更，不需要写回
var ErrSkipWrite = errors.New("ledger: skip write")

// Store 账本底层存储：每次读都是快照，写是原子的“读-改-写”
type Store interface {
	// Load 读取最新快照；不存在时返回空状态
	Load(ctx context.Context) (*State, error)
	// Update 在存储的临界区内执行 fn 并写回，返回写回后的状态
	Update(ctx context.Context, fn func(*State) error) (*State, error)
	Close() error
}

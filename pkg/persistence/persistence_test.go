package persistence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	N int `json:"n"`
}

func TestJSONFileStore_LoadMissing(t *testing.T) {
	svc := NewJSONFileService(t.TempDir())
	var c counter
	assert.ErrorIs(t, svc.NewStore("ledger", "x", "state").Load(&c), ErrNotExists)
}

func TestJSONFileStore_WithLockSerializesReadModifyWrite(t *testing.T) {
	dir := t.TempDir()
	svc := NewJSONFileService(dir)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// 每个 goroutine 用自己的 store 实例，模拟多个进程
			st := svc.NewStore("ledger", "x", "state")
			err := st.WithLock(func() error {
				var c counter
				if err := st.Load(&c); err != nil && err != ErrNotExists {
					return err
				}
				c.N++
				return st.Save(&c)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var c counter
	require.NoError(t, svc.NewStore("ledger", "x", "state").Load(&c))
	assert.Equal(t, 20, c.N)
}

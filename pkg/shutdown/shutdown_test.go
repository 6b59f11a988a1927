package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_StagesRunInOrder(t *testing.T) {
	m := NewManager()
	var mu sync.Mutex
	var order []string
	record := func(name string) Handler {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	m.OnShutdown("workers", func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return record("workers")(context.Background())
	})
	m.Then()
	m.OnShutdown("ledger", record("ledger"))
	m.OnShutdown("journal", record("journal"))

	require.NoError(t, m.Shutdown(context.Background()))
	require.Len(t, order, 3)
	assert.Equal(t, "workers", order[0])
	assert.ElementsMatch(t, []string{"ledger", "journal"}, order[1:])
}

func TestManager_CollectsErrors(t *testing.T) {
	m := NewManager()
	boom := errors.New("boom")
	m.OnShutdown("a", func(context.Context) error { return boom })
	m.OnShutdown("b", func(context.Context) error { return nil })

	err := m.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "a: boom")
}

func TestManager_Timeout(t *testing.T) {
	m := NewManager()
	m.OnShutdown("slow", func(ctx context.Context) error {
		time.Sleep(time.Second)
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

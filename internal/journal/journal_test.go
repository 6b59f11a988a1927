package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal_OrdersAndTransitions(t *testing.T) {
	ctx := context.Background()
	j, err := Open(":memory:")
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.RecordOrder(ctx, OrderRecord{Market: "btc-1", Purpose: "entry", Leg: "yes", Side: "BUY", Price: 0.4, Size: 10, FilledSize: 10, AvgPrice: 0.4}))
	require.NoError(t, j.RecordOrder(ctx, OrderRecord{Market: "btc-1", Purpose: "hedge", Leg: "no", Side: "BUY", Price: 0.57, Size: 10, Error: "not filled"}))
	require.NoError(t, j.RecordOrder(ctx, OrderRecord{Market: "eth-1", Purpose: "entry", Leg: "no", Side: "BUY", Price: 0.5, Size: 5}))

	all, err := j.Orders(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "eth-1", all[0].Market, "newest first")

	btc, err := j.Orders(ctx, "btc-1", 10)
	require.NoError(t, err)
	require.Len(t, btc, 2)
	assert.Equal(t, "not filled", btc[0].Error)
	assert.False(t, btc[0].CreatedAt.IsZero())

	require.NoError(t, j.RecordTransition(ctx, TransitionRecord{Market: "btc-1", From: "Scanning", To: "ArbLocked", Reason: "force hedge"}))
	require.NoError(t, j.RecordTransition(ctx, TransitionRecord{Market: "btc-1", From: "ArbLocked", To: "Complete", Reason: "expired"}))
	trs, err := j.Transitions(ctx, "btc-1")
	require.NoError(t, err)
	require.Len(t, trs, 2)
	assert.Equal(t, "ArbLocked", trs[0].To)
	assert.Equal(t, "Complete", trs[1].To)
}

func TestJournal_FileReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.RecordOrder(ctx, OrderRecord{Market: "m", Purpose: "entry", Leg: "yes", Side: "BUY", Price: 0.3, Size: 5}))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	got, err := j.Orders(ctx, "m", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestJournal_NilIsNoop(t *testing.T) {
	var j *Journal
	assert.NoError(t, j.RecordOrder(context.Background(), OrderRecord{}))
	assert.NoError(t, j.RecordTransition(context.Background(), TransitionRecord{}))
	got, err := j.Orders(context.Background(), "", 10)
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, j.Close())
}

package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarketLogFile(t *testing.T) {
	assert.Equal(t, filepath.Join("logs", "btc-updown-15m-1765985400.log"), marketLogFile("logs/bot.log", "btc-updown-15m-1765985400"))
	assert.Equal(t, filepath.Join("logs", "a_b.log"), marketLogFile("logs/bot", "a/b"))
}

func TestSetMarketSlugRotatesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(Config{Level: "info", OutputFile: filepath.Join(dir, "bot.log"), LogByMarket: true}))
	t.Cleanup(func() { _ = Close() })

	require.NoError(t, SetMarketSlug("eth-updown-15m-1"))
	assert.Equal(t, filepath.Join(dir, "eth-updown-15m-1.log"), CurrentFile())

	Infof("hello %s", "world")
	_, err := os.Stat(filepath.Join(dir, "eth-updown-15m-1.log"))
	assert.NoError(t, err)
}

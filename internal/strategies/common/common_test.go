package common

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_YAML(t *testing.T) {
	var cfg struct {
		A Duration `yaml:"a"`
		B Duration `yaml:"b"`
		C Duration `yaml:"c"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 2500ms\nb: 90\nc: 1.5\n"), &cfg))
	assert.Equal(t, 2500*time.Millisecond, cfg.A.Duration)
	assert.Equal(t, 90*time.Second, cfg.B.Duration)
	assert.Equal(t, 1500*time.Millisecond, cfg.C.Duration)

	err := yaml.Unmarshal([]byte("a: soon\n"), &cfg)
	assert.Error(t, err)
}

func TestDuration_JSON(t *testing.T) {
	var v struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"4s","b":60}`), &v))
	assert.Equal(t, 4*time.Second, v.A.Duration)
	assert.Equal(t, time.Minute, v.B.Duration)

	out, err := json.Marshal(Seconds(15))
	require.NoError(t, err)
	assert.JSONEq(t, `"15s"`, string(out))
}

func TestInFlightLimiter(t *testing.T) {
	l := NewInFlightLimiter(2)
	assert.True(t, l.TryAcquire())
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	l.Release()
	l.Release()
	l.Release()
	assert.Zero(t, l.InFlight())
}

func TestTrySend(t *testing.T) {
	ch := make(chan int, 1)
	assert.True(t, TrySend(ch, 1))
	assert.False(t, TrySend(ch, 2))
}

func TestSendLatest_DropsOldest(t *testing.T) {
	ch := make(chan int, 2)
	assert.Equal(t, 0, SendLatest(ch, 1))
	assert.Equal(t, 0, SendLatest(ch, 2))
	assert.Equal(t, 1, SendLatest(ch, 3))
	assert.Equal(t, 2, <-ch)
	assert.Equal(t, 3, <-ch)
}

package hls

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamerReady(t *testing.T) {
	s := NewStreamer(0, 0)
	assert.False(t, s.Ready())
	s.SetReady(true)
	assert.True(t, s.Ready())
	s.SetReady(false)
	assert.False(t, s.Ready())
}

func TestStreamerClientAccounting(t *testing.T) {
	s := NewStreamer(0, 0)
	s.ClientConnected()
	s.ClientConnected()
	assert.Equal(t, 2, s.Clients())
	assert.Equal(t, int64(2), s.TotalClients())

	s.ClientDisconnected()
	assert.Equal(t, 1, s.Clients())
	assert.Equal(t, int64(2), s.TotalClients())

	s.ClientDisconnected()
	s.ClientDisconnected()
	assert.Equal(t, 0, s.Clients(), "client count never goes negative")
}

func TestStreamerByteAccounting(t *testing.T) {
	s := NewStreamer(0, 0)
	s.AccountBytes(1000)
	s.AccountBytes(500)
	assert.Equal(t, int64(1500), s.TotalBytes())
	assert.GreaterOrEqual(t, s.CurrentBandwidth(), int64(0))
}

func TestStreamerClientCap(t *testing.T) {
	s := NewStreamer(2, 0)
	assert.False(t, s.ReachedLimits())
	s.ClientConnected()
	assert.False(t, s.ReachedLimits())
	s.ClientConnected()
	assert.True(t, s.ReachedLimits())
	s.ClientDisconnected()
	assert.False(t, s.ReachedLimits())
}

func TestStreamerBandwidthCap(t *testing.T) {
	s := NewStreamer(0, 100)
	assert.False(t, s.ReachedLimits())

	// Pack enough bytes into the window to push the average over the cap.
	s.AccountBytes(100 * bandwidthWindow * 2)
	assert.True(t, s.ReachedLimits())
}

func TestStreamerUncapped(t *testing.T) {
	s := NewStreamer(0, 0)
	for i := 0; i < 1000; i++ {
		s.ClientConnected()
	}
	s.AccountBytes(1 << 30)
	assert.False(t, s.ReachedLimits())
}

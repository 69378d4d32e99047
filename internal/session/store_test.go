package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreNewAndGet(t *testing.T) {
	st := NewStore(time.Minute)
	defer st.Close()

	s := st.New("sess-1", "10.0.0.1")
	require.NotNil(t, s)
	assert.Equal(t, "sess-1", s.ID)
	assert.Equal(t, "10.0.0.1", s.ClientIP)
	assert.Equal(t, 1, st.Len())

	got, err := st.Get("sess-1")
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = st.Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStoreDuplicateIDReturnsExisting(t *testing.T) {
	st := NewStore(time.Minute)
	defer st.Close()

	a := st.New("sess-1", "10.0.0.1")
	b := st.New("sess-1", "10.0.0.2")
	assert.Same(t, a, b)
	assert.Equal(t, "10.0.0.1", b.ClientIP)
	assert.Equal(t, 1, st.Len())
}

func TestSessionTimedExpiry(t *testing.T) {
	st := NewStore(20 * time.Millisecond)
	defer st.Close()

	expired := make(chan struct{})
	s := st.New("sess-1", "10.0.0.1")
	s.OnExpire(func() { close(expired) })

	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("session never expired")
	}
	assert.Equal(t, 0, st.Len())
}

func TestSessionTouchDefersExpiry(t *testing.T) {
	st := NewStore(60 * time.Millisecond)
	defer st.Close()

	s := st.New("sess-1", "10.0.0.1")
	var expired atomic.Bool
	s.OnExpire(func() { expired.Store(true) })

	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		s.Touch()
	}
	assert.False(t, expired.Load(), "touching must keep the session alive")

	assert.Eventually(t, func() bool { return expired.Load() },
		time.Second, 10*time.Millisecond, "session must expire once touching stops")
}

func TestSessionExpireFiresHooksOnce(t *testing.T) {
	st := NewStore(time.Minute)
	defer st.Close()

	s := st.New("sess-1", "10.0.0.1")
	var fired atomic.Int32
	s.OnExpire(func() { fired.Add(1) })
	s.OnExpire(func() { fired.Add(1) })

	s.Expire()
	s.Expire()
	assert.Equal(t, int32(2), fired.Load(), "each hook fires exactly once")
	assert.Equal(t, 0, st.Len())
}

func TestSessionTouchAfterExpire(t *testing.T) {
	st := NewStore(time.Minute)
	defer st.Close()

	s := st.New("sess-1", "10.0.0.1")
	s.Expire()
	s.Touch()
	assert.Equal(t, 0, st.Len())
}

func TestSessionLastTouch(t *testing.T) {
	st := NewStore(time.Minute)
	defer st.Close()

	s := st.New("sess-1", "10.0.0.1")
	first := s.LastTouch()
	time.Sleep(5 * time.Millisecond)
	s.Touch()
	assert.True(t, s.LastTouch().After(first))
}

func TestStoreClose(t *testing.T) {
	st := NewStore(time.Minute)

	var fired atomic.Int32
	for _, id := range []string{"a", "b", "c"} {
		st.New(id, "10.0.0.1").OnExpire(func() { fired.Add(1) })
	}

	st.Close()
	assert.Equal(t, int32(3), fired.Load())
	assert.Equal(t, 0, st.Len())
}

package hls

import (
	"sync"
	"time"
)

// bandwidthWindow is how far back the bandwidth estimate looks.
const bandwidthWindow = 8

// Streamer tracks delivery state shared by every client of one mount:
// whether the stream is ready, how many clients are connected, and the
// recent outbound bandwidth.
type Streamer struct {
	maxClients   int
	maxBandwidth int64

	mu      sync.Mutex
	ready   bool
	clients int

	// buckets accumulate bytes per second for the bandwidth estimate.
	buckets [bandwidthWindow]int64
	lastSec int64

	totalBytes   int64
	totalClients int64
}

// NewStreamer creates delivery state with the given caps. 0 disables a
// cap.
func NewStreamer(maxClients int, maxBandwidth int64) *Streamer {
	return &Streamer{maxClients: maxClients, maxBandwidth: maxBandwidth}
}

// SetReady flips the stream availability. Requests against a non-ready
// stream are bounced with a 503.
func (s *Streamer) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// Ready reports whether the stream can be served.
func (s *Streamer) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// ClientConnected accounts a new client session.
func (s *Streamer) ClientConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients++
	s.totalClients++
}

// ClientDisconnected accounts a closed client session.
func (s *Streamer) ClientDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients > 0 {
		s.clients--
	}
}

// Clients returns the number of connected client sessions.
func (s *Streamer) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients
}

// TotalClients returns the number of sessions served since start.
func (s *Streamer) TotalClients() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalClients
}

// TotalBytes returns the bytes sent since start.
func (s *Streamer) TotalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalBytes
}

// AccountBytes records bytes written to a client.
func (s *Streamer) AccountBytes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotateLocked(time.Now().Unix())
	s.buckets[0] += int64(n)
	s.totalBytes += int64(n)
}

// CurrentBandwidth estimates outbound bytes per second over the recent
// window.
func (s *Streamer) CurrentBandwidth() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotateLocked(time.Now().Unix())
	var sum int64
	for _, b := range s.buckets {
		sum += b
	}
	return sum / bandwidthWindow
}

// ReachedLimits reports whether admitting one more client would exceed
// the configured caps.
func (s *Streamer) ReachedLimits() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxClients > 0 && s.clients >= s.maxClients {
		return true
	}
	if s.maxBandwidth > 0 {
		s.rotateLocked(time.Now().Unix())
		var sum int64
		for _, b := range s.buckets {
			sum += b
		}
		if sum/bandwidthWindow >= s.maxBandwidth {
			return true
		}
	}
	return false
}

// rotateLocked shifts the per-second buckets forward to now.
func (s *Streamer) rotateLocked(nowSec int64) {
	if s.lastSec == 0 {
		s.lastSec = nowSec
		return
	}
	shift := nowSec - s.lastSec
	if shift <= 0 {
		return
	}
	if shift >= bandwidthWindow {
		s.buckets = [bandwidthWindow]int64{}
	} else {
		copy(s.buckets[shift:], s.buckets[:bandwidthWindow-shift])
		for i := int64(0); i < shift; i++ {
			s.buckets[i] = 0
		}
	}
	s.lastSec = nowSec
}

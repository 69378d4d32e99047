// Package hls implements the fragment ring, playlist rendering, and the
// HTTP resource of the HLS streamer.
package hls

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Ring errors.
var (
	ErrFragmentNotFound     = errors.New("fragment not found")
	ErrFragmentNotAvailable = errors.New("fragment not available yet")
	ErrKeyNotFound          = errors.New("encryption key not found")
	ErrPlaylistNotFound     = errors.New("playlist not found")
)

// keySize is the AES-128 key length stamped on encrypted fragments.
const keySize = 16

// RingConfig configures the fragment ring.
type RingConfig struct {
	// FragmentPrefix and FilenameExt build fragment names as
	// "<prefix>-<sequence>.<ext>".
	FragmentPrefix string
	FilenameExt    string

	// Window is the number of fragments advertised in the playlist.
	Window int

	// MaxExtra is how many fragments beyond the window stay retrievable
	// for clients holding an older playlist. Total retention is
	// Window+MaxExtra; when MaxExtra is 0 the original's default of
	// 2*Window+1 total applies.
	MaxExtra int

	// NewFragmentTolerance > 0 enables playlist auto-fill: a dummy
	// fragment is appended when the next sequence does not arrive within
	// duration*(1+tolerance) seconds.
	NewFragmentTolerance float64

	// KeyInterval is the number of fragments sharing one AES key.
	// 0 disables encryption.
	KeyInterval int
}

// entry is one playlist line: fragment metadata without the body.
type entry struct {
	sequence      uint64
	duration      int
	encrypted     bool
	discontinuity bool
}

// Ring is a bounded FIFO of media fragments backing the sliding-window
// playlist. Fragment bodies outlive their playlist entries by MaxExtra
// positions so clients can finish downloads that scrolled out of the
// window.
type Ring struct {
	cfg        RingConfig
	maxBuffers int

	mu sync.Mutex

	// entries is the playlist window, newest last.
	entries []entry

	// order is the retention FIFO of fragment names; bodies and keys are
	// looked up by name.
	order   []string
	bodies  map[string][]byte
	keys    map[string][]byte
	dummies map[string]struct{}

	// counter is the next expected sequence; 0 until the first add.
	counter uint64
	secret  []byte

	// fillTimer drives auto-fill; fillWasAuto marks that the last append
	// came from the timer, which shortens the next deadline to one
	// fragment duration.
	fillTimer   *time.Timer
	fillWasAuto bool

	// onEvict, when set, observes every body eviction.
	onEvict func()
}

// NewRing creates a fragment ring.
func NewRing(cfg RingConfig) *Ring {
	if cfg.FragmentPrefix == "" {
		cfg.FragmentPrefix = "fragment"
	}
	if cfg.FilenameExt == "" {
		cfg.FilenameExt = "webm"
	}
	if cfg.Window <= 0 {
		cfg.Window = 5
	}

	maxBuffers := cfg.Window + cfg.MaxExtra
	if cfg.MaxExtra <= 0 {
		maxBuffers = 2*cfg.Window + 1
	}

	return &Ring{
		cfg:        cfg,
		maxBuffers: maxBuffers,
		bodies:     make(map[string][]byte),
		keys:       make(map[string][]byte),
		dummies:    make(map[string]struct{}),
	}
}

// OnEvict registers a callback invoked for each evicted fragment body.
func (r *Ring) OnEvict(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = fn
}

// FragmentName returns the playlist name for a sequence number.
func (r *Ring) FragmentName(sequence uint64) string {
	return fmt.Sprintf("%s-%d.%s", r.cfg.FragmentPrefix, sequence, r.cfg.FilenameExt)
}

// Add appends a fragment to the ring and updates the playlist window.
// Duplicate sequences are a silent no-op. The oldest bodies are evicted
// once retention exceeds the configured bound. Returns the name the
// playlist uses for the fragment.
func (r *Ring) Add(body []byte, sequence uint64, duration int) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := r.addEntryLocked(sequence, duration, r.encrypted())
	if _, dup := r.bodies[name]; dup {
		return name
	}
	// A real fragment may arrive after auto-fill already placed its
	// name; the body supersedes the placeholder.
	delete(r.dummies, name)

	r.evictLocked()

	if r.encrypted() {
		if sequence%uint64(r.cfg.KeyInterval) == 0 || r.secret == nil {
			r.secret = newKey()
		}
		r.keys[name] = r.secret
	}

	r.order = append(r.order, name)
	r.bodies[name] = body
	return name
}

// Get returns a fragment body by playlist name. Dummy placeholders
// return ErrFragmentNotAvailable; unknown names ErrFragmentNotFound.
func (r *Ring) Get(name string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if body, ok := r.bodies[name]; ok {
		return body, nil
	}
	if _, ok := r.dummies[name]; ok {
		return nil, ErrFragmentNotAvailable
	}
	return nil, ErrFragmentNotFound
}

// GetKey returns the AES key stamped on the named fragment.
func (r *Ring) GetKey(name string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if key, ok := r.keys[name]; ok {
		return key, nil
	}
	return nil, ErrKeyNotFound
}

// Reset empties the ring and forgets all dummies and keys.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fillTimer != nil {
		r.fillTimer.Stop()
		r.fillTimer = nil
	}
	r.entries = nil
	r.order = nil
	r.bodies = make(map[string][]byte)
	r.keys = make(map[string][]byte)
	r.dummies = make(map[string]struct{})
	r.counter = 0
	r.secret = nil
	r.fillWasAuto = false
}

// Close stops the auto-fill timer.
func (r *Ring) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fillTimer != nil {
		r.fillTimer.Stop()
		r.fillTimer = nil
	}
}

// Len returns the number of retained fragment bodies.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bodies)
}

func (r *Ring) encrypted() bool {
	return r.cfg.KeyInterval > 0
}

// addEntryLocked records the playlist entry, trims the window, and
// reschedules auto-fill. Mirrors the retention rule: playlist entries
// are trimmed to Window, bodies to maxBuffers.
func (r *Ring) addEntryLocked(sequence uint64, duration int, encrypted bool) string {
	name := r.FragmentName(sequence)

	known := false
	for _, e := range r.entries {
		if e.sequence == sequence {
			known = true
			break
		}
	}
	if !known {
		r.entries = append(r.entries, entry{
			sequence:  sequence,
			duration:  duration,
			encrypted: encrypted,
			// A gap in sequence numbers marks a discontinuity, except on
			// the very first fragment.
			discontinuity: sequence != r.counter && r.counter != 0,
		})
		r.counter = sequence + 1

		for len(r.entries) > r.cfg.Window {
			old := r.FragmentName(r.entries[0].sequence)
			delete(r.dummies, old)
			r.entries = r.entries[1:]
		}
	}

	if r.cfg.NewFragmentTolerance > 0 {
		delay := float64(duration) * (1 + r.cfg.NewFragmentTolerance)
		if r.fillWasAuto {
			delay = float64(duration)
		}
		r.scheduleFillLocked(r.counter, duration, delay)
	}
	r.fillWasAuto = false

	return name
}

// scheduleFillLocked arms the auto-fill timer for the next expected
// sequence. The previous timer is replaced; only one fill is pending at
// a time.
func (r *Ring) scheduleFillLocked(expected uint64, duration int, delaySeconds float64) {
	if r.fillTimer != nil {
		r.fillTimer.Stop()
	}
	r.fillTimer = time.AfterFunc(time.Duration(delaySeconds*float64(time.Second)), func() {
		r.autoFill(expected, duration)
	})
}

// autoFill appends a dummy fragment when the expected sequence never
// arrived. Dummies keep the playlist advancing but are never served.
func (r *Ring) autoFill(expected uint64, duration int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.counter != expected {
		// The real fragment arrived in the meantime.
		return
	}
	r.dummies[r.FragmentName(expected)] = struct{}{}
	r.fillWasAuto = true
	r.addEntryLocked(expected, duration, false)
}

// evictLocked drops the oldest bodies until there is room for one more.
func (r *Ring) evictLocked() {
	for len(r.bodies) >= r.maxBuffers {
		old := r.order[0]
		r.order = r.order[1:]
		delete(r.bodies, old)
		delete(r.keys, old)
		if r.onEvict != nil {
			r.onEvict()
		}
	}
}

// snapshotLocked returns a copy of the playlist window for rendering.
func (r *Ring) snapshot() []entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func newKey() []byte {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(fmt.Sprintf("reading random key: %v", err))
	}
	return key
}

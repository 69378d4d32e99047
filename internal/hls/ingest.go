package hls

import (
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/streamgate/streamgate/internal/metrics"
)

// maxFragmentBody bounds one uploaded fragment.
const maxFragmentBody = 64 << 20

// Ingest accepts fragments from the upstream pipeline over HTTP and
// feeds the ring. The stream flips to ready on the first fragment.
type Ingest struct {
	secret   []byte
	ring     *Ring
	streamer *Streamer
	log      *slog.Logger
	met      *metrics.Metrics
}

// NewIngest wires the upstream feed endpoint. The shared secret guards
// it; it must never be exposed on the public listener.
func NewIngest(secret []byte, ring *Ring, streamer *Streamer, log *slog.Logger, met *metrics.Metrics) *Ingest {
	if log == nil {
		log = slog.Default()
	}
	return &Ingest{
		secret:   secret,
		ring:     ring,
		streamer: streamer,
		log:      log.With(slog.String("component", "ingest")),
		met:      met,
	}
}

// Routes mounts the ingest endpoints on a router.
func (in *Ingest) Routes(r chi.Router) {
	r.Post("/fragment", in.handleFragment)
	r.Post("/reset", in.handleReset)
}

func (in *Ingest) authorized(r *http.Request) bool {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(header[len(prefix):]), in.secret) == 1
}

// handleFragment appends one fragment: body is the media payload,
// sequence and duration ride in the query.
func (in *Ingest) handleFragment(w http.ResponseWriter, r *http.Request) {
	if !in.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	seq, err := strconv.ParseUint(r.URL.Query().Get("seq"), 10, 64)
	if err != nil {
		http.Error(w, "bad or missing seq", http.StatusBadRequest)
		return
	}
	duration, err := strconv.Atoi(r.URL.Query().Get("duration"))
	if err != nil || duration <= 0 {
		http.Error(w, "bad or missing duration", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxFragmentBody+1))
	if err != nil {
		http.Error(w, "reading fragment", http.StatusBadRequest)
		return
	}
	if len(body) > maxFragmentBody {
		http.Error(w, "fragment too large", http.StatusRequestEntityTooLarge)
		return
	}

	name := in.ring.Add(body, seq, duration)
	in.streamer.SetReady(true)
	if in.met != nil {
		in.met.IncFragmentsAdded()
	}
	in.log.Debug("fragment ingested",
		slog.String("name", name),
		slog.Uint64("seq", seq),
		slog.Int("bytes", len(body)))
	w.WriteHeader(http.StatusNoContent)
}

// handleReset empties the ring and marks the stream not ready, for
// upstream restarts.
func (in *Ingest) handleReset(w http.ResponseWriter, r *http.Request) {
	if !in.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	in.ring.Reset()
	in.streamer.SetReady(false)
	in.log.Info("ring reset by upstream")
	w.WriteHeader(http.StatusNoContent)
}

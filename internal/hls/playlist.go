package hls

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// M3U8ContentType is the content type for both playlists.
const M3U8ContentType = "application/vnd.apple.mpegurl"

// PlaylistExtension marks playlist resources on the request path.
const PlaylistExtension = ".m3u8"

// requestIDParam is stripped from query passthrough; it is porter
// plumbing, not client state.
const requestIDParam = "FLUREQID"

// PlaylistConfig configures the playlist renderer.
type PlaylistConfig struct {
	// MainPlaylist and StreamPlaylist are the resource names dispatched
	// to the renderer, e.g. "main.m3u8" and "stream.m3u8".
	MainPlaylist   string
	StreamPlaylist string

	// Hostname builds absolute URLs. Normalized by NewPlaylister:
	// "http://" is prepended when no scheme is present and a trailing
	// "/" is appended.
	Hostname string

	// StreamBitrate feeds EXT-X-STREAM-INF BANDWIDTH. Not significant
	// for a single bitrate but required by the format.
	StreamBitrate int

	// Title is the EXTINF description of every fragment.
	Title string

	// KeysURI is where encryption keys are fetched from. Defaults to
	// the hostname.
	KeysURI string

	AllowCache bool
}

// Playlister renders the main and stream playlists from ring state.
type Playlister struct {
	cfg  PlaylistConfig
	ring *Ring
}

// NewPlaylister creates a playlist renderer over the given ring.
func NewPlaylister(cfg PlaylistConfig, ring *Ring) *Playlister {
	if cfg.MainPlaylist == "" {
		cfg.MainPlaylist = "main.m3u8"
	}
	if cfg.StreamPlaylist == "" {
		cfg.StreamPlaylist = "stream.m3u8"
	}
	cfg.Hostname = normalizeHostname(cfg.Hostname)
	if cfg.KeysURI == "" {
		cfg.KeysURI = cfg.Hostname
	} else {
		cfg.KeysURI = normalizeHostname(cfg.KeysURI)
	}
	return &Playlister{cfg: cfg, ring: ring}
}

// normalizeHostname applies the URL-building rules: strip a leading
// "/", default the scheme to http, guarantee a trailing "/".
func normalizeHostname(hostname string) string {
	hostname = strings.TrimPrefix(hostname, "/")
	if !strings.Contains(hostname, "://") {
		hostname = "http://" + hostname
	}
	if !strings.HasSuffix(hostname, "/") {
		hostname += "/"
	}
	return hostname
}

// Render returns the named playlist, or ErrPlaylistNotFound.
func (p *Playlister) Render(name string, args url.Values) (string, error) {
	switch name {
	case p.cfg.MainPlaylist:
		return p.renderMain(args), nil
	case p.cfg.StreamPlaylist:
		return p.renderStream(args), nil
	}
	return "", ErrPlaylistNotFound
}

func (p *Playlister) renderMain(args url.Values) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	// The bandwidth value is not significant for single bitrate.
	fmt.Fprintf(&b, "#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=%d\n", p.cfg.StreamBitrate)
	b.WriteString(p.cfg.Hostname + p.cfg.StreamPlaylist + renderArgs(args) + "\n")
	return b.String()
}

func (p *Playlister) renderStream(args url.Values) string {
	entries := p.ring.snapshot()

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	if p.cfg.AllowCache {
		b.WriteString("#EXT-X-ALLOW-CACHE:YES\n")
	} else {
		b.WriteString("#EXT-X-ALLOW-CACHE:NO\n")
	}
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration(entries))
	if len(entries) > 0 {
		fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", entries[0].sequence)
	} else {
		b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	}

	suffix := renderArgs(args)
	for _, e := range entries {
		name := p.ring.FragmentName(e.sequence)
		if e.discontinuity {
			b.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		if e.encrypted {
			// The key URI references the fragment name the key record
			// was stamped with.
			fmt.Fprintf(&b, "#EXT-X-KEY:METHOD=AES-128,URI=%q\n",
				p.cfg.KeysURI+keyResource+"?"+keyParam+"="+name)
		}
		fmt.Fprintf(&b, "#EXTINF:%d,%s\n", e.duration, p.cfg.Title)
		b.WriteString(p.cfg.Hostname + name + suffix + "\n")
	}

	return b.String()
}

// targetDuration is the shortest fragment duration in the window, per
// the playlist dialect this serves.
func targetDuration(entries []entry) int {
	if len(entries) == 0 {
		return 0
	}
	min := entries[0].duration
	for _, e := range entries[1:] {
		if e.duration < min {
			min = e.duration
		}
	}
	return min
}

// renderArgs rebuilds the client's query string for URL passthrough,
// minus internal plumbing. Keys are sorted for stable output.
func renderArgs(args url.Values) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		if k == requestIDParam {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+args.Get(k))
	}
	return "?" + strings.Join(parts, "&")
}

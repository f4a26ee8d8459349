package probe

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"hls-player/internal/platform/logger"
	"hls-player/internal/playlist"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"

	// DefaultLiveWindow is the number of segments a live playlist exposes.
	DefaultLiveWindow = 6
)

var ErrUnknownRendition = errors.New("unknown rendition")

// DefaultLadder is a three-rung 16:9 ladder. URIs are rendition names
// relative to the master playlist.
func DefaultLadder() []playlist.Variant {
	return []playlist.Variant{
		{URI: "360p.m3u8", Bandwidth: 800_000, Width: 640, Height: 360, Codecs: "avc1.4d401e,mp4a.40.2"},
		{URI: "720p.m3u8", Bandwidth: 2_500_000, Width: 1280, Height: 720, Codecs: "avc1.4d401f,mp4a.40.2"},
		{URI: "1080p.m3u8", Bandwidth: 5_000_000, Width: 1920, Height: 1080, Codecs: "avc1.640028,mp4a.40.2"},
	}
}

// Asset is a synthetic stream served by the Origin.
type Asset struct {
	Name            string
	Ladder          []playlist.Variant
	SegmentDuration float64
	// Segments is the length of a VOD asset. Live assets grow with time.
	Segments  int
	Live      bool
	Window    int
	StartedAt time.Time
}

// Origin serves synthetic HLS assets so probes can run without an external
// CDN. It is safe for concurrent use.
type Origin struct {
	mu     sync.RWMutex
	assets map[string]*Asset
	clock  clockwork.Clock
	log    *slog.Logger
}

func NewOrigin(clock clockwork.Clock, log *slog.Logger) *Origin {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Origin{assets: make(map[string]*Asset), clock: clock, log: logger.OrDiscard(log)}
}

// AddVOD registers an on-demand asset of n segments of segDur seconds.
func (o *Origin) AddVOD(name string, n int, segDur float64, ladder []playlist.Variant) {
	o.add(&Asset{Name: name, Ladder: ladder, SegmentDuration: segDur, Segments: n})
}

// AddLive registers a live asset whose first segment is available now.
func (o *Origin) AddLive(name string, segDur float64, window int, ladder []playlist.Variant) {
	if window <= 0 {
		window = DefaultLiveWindow
	}
	o.add(&Asset{Name: name, Ladder: ladder, SegmentDuration: segDur, Live: true, Window: window, StartedAt: o.clock.Now()})
}

func (o *Origin) add(a *Asset) {
	if len(a.Ladder) == 0 {
		a.Ladder = DefaultLadder()
	}
	if a.SegmentDuration <= 0 {
		a.SegmentDuration = 6
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.assets[a.Name] = a
}

func (o *Origin) asset(name string) (*Asset, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.assets[name]
	return a, ok
}

// Master returns the master playlist of an asset.
func (o *Origin) Master(name string) (string, bool) {
	a, ok := o.asset(name)
	if !ok {
		return "", false
	}
	return playlist.BuildMasterPlaylist(a.Ladder), true
}

// Media returns the media playlist of one rendition of an asset.
func (o *Origin) Media(name, rendition string) (string, error) {
	a, ok := o.asset(name)
	if !ok {
		return "", ErrNotFound
	}
	found := false
	for _, v := range a.Ladder {
		if strings.TrimSuffix(v.URI, ".m3u8") == rendition {
			found = true
			break
		}
	}
	if !found {
		return "", ErrUnknownRendition
	}

	if !a.Live {
		return playlist.BuildMediaPlaylist(segments(rendition, 0, a.Segments, a.SegmentDuration), true), nil
	}
	elapsed := o.clock.Since(a.StartedAt).Seconds()
	available := int(math.Floor(elapsed/a.SegmentDuration)) + 1
	return playlist.BuildMediaPlaylist(liveWindow(rendition, available, a.Window, a.SegmentDuration), false), nil
}

func segments(rendition string, from, to int, dur float64) []playlist.Segment {
	out := make([]playlist.Segment, 0, to-from)
	for seq := from; seq < to; seq++ {
		out = append(out, playlist.Segment{
			Sequence: int64(seq),
			Duration: dur,
			URI:      fmt.Sprintf("%s/%d.ts", rendition, seq),
		})
	}
	return out
}

// liveWindow returns the last window segments of the available ones so old
// segments fall off the back.
func liveWindow(rendition string, available, window int, dur float64) []playlist.Segment {
	if available <= 0 || window <= 0 {
		return nil
	}
	start := 0
	if available > window {
		start = available - window
	}
	return segments(rendition, start, available, dur)
}

// Routes mounts GET /{asset}/master.m3u8 and GET /{asset}/{rendition}.m3u8.
func (o *Origin) Routes(r chi.Router) {
	r.Get("/{asset}/{file}", o.ServePlaylist)
}

// ServePlaylist handles both master and rendition playlist requests.
func (o *Origin) ServePlaylist(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "asset")
	file := chi.URLParam(r, "file")
	if name == "" || !strings.HasSuffix(file, ".m3u8") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var body string
	if file == "master.m3u8" {
		m, ok := o.Master(name)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body = m
	} else {
		m, err := o.Media(name, strings.TrimSuffix(file, ".m3u8"))
		if err != nil {
			o.log.Debug("origin playlist not found", slog.String("asset", name), slog.String("file", file))
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body = m
	}

	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

// Package engine provides an adaptive-streaming engine that loads HLS
// manifests and level playlists over HTTP and feeds a media element.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"hls-player/internal/media"
	"hls-player/internal/platform/logger"
	"hls-player/internal/playlist"
	"hls-player/internal/stream"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	DefaultManifestTimeout = 10 * time.Second
	maxPlaylistBytes       = 4 << 20
	jobQueueSize           = 32
)

// Config configures an HTTPEngine. Zero values are usable.
type Config struct {
	Client          *http.Client
	Clock           clockwork.Clock
	Log             *slog.Logger
	ManifestTimeout time.Duration
	Estimator       Estimator
	SafetyFactor    float64
	// LevelFetchLimit paces level playlist requests; zero means 4 per second
	// with a burst of 4.
	LevelFetchLimit rate.Limit
	LevelFetchBurst int
}

// HTTPEngine implements stream.Engine. All network work runs on a single
// worker goroutine so loads, switches and restarts happen in call order.
// Events are delivered from that goroutine.
type HTTPEngine struct {
	client    *http.Client
	clock     clockwork.Clock
	log       *slog.Logger
	timeout   time.Duration
	estimator Estimator
	safety    float64
	limiter   *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan func(context.Context)
	done   chan struct{}

	mu             sync.Mutex
	el             media.Element
	unsubEl        func()
	url            string
	levels         []stream.Level
	manifestLoaded bool
	sourceLoaded   bool
	auto           bool
	pinned         int
	current        int
	nextID         int
	subs           map[int]func(stream.EngineEvent)
	destroyed      bool
	destroyOnce    sync.Once
}

// New returns an engine with its worker goroutine running. Call Destroy to
// stop it.
func New(cfg Config) *HTTPEngine {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ManifestTimeout <= 0 {
		cfg.ManifestTimeout = DefaultManifestTimeout
	}
	if cfg.Estimator == nil {
		cfg.Estimator = NewEWMAEstimator(DefaultEstimate)
	}
	if cfg.SafetyFactor <= 0 || cfg.SafetyFactor > 1 {
		cfg.SafetyFactor = DefaultSafetyFactor
	}
	if cfg.LevelFetchLimit == 0 {
		cfg.LevelFetchLimit = rate.Every(250 * time.Millisecond)
	}
	if cfg.LevelFetchBurst <= 0 {
		cfg.LevelFetchBurst = 4
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &HTTPEngine{
		client:    cfg.Client,
		clock:     cfg.Clock,
		log:       logger.OrDiscard(cfg.Log),
		timeout:   cfg.ManifestTimeout,
		estimator: cfg.Estimator,
		safety:    cfg.SafetyFactor,
		limiter:   rate.NewLimiter(cfg.LevelFetchLimit, cfg.LevelFetchBurst),
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(chan func(context.Context), jobQueueSize),
		done:      make(chan struct{}),
		auto:      true,
		pinned:    stream.AutoLevel,
		current:   stream.AutoLevel,
		subs:      make(map[int]func(stream.EngineEvent)),
	}
	go e.run()
	return e
}

func (e *HTTPEngine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.ctx.Done():
			return
		case job := <-e.jobs:
			job(e.ctx)
		}
	}
}

// Done is closed once the worker goroutine has exited after Destroy.
func (e *HTTPEngine) Done() <-chan struct{} { return e.done }

func (e *HTTPEngine) enqueue(name string, job func(context.Context)) {
	e.mu.Lock()
	destroyed := e.destroyed
	e.mu.Unlock()
	if destroyed {
		return
	}
	select {
	case e.jobs <- job:
	case <-e.ctx.Done():
	default:
		e.log.Warn("engine queue full, dropping job", slog.String("job", name))
	}
}

// Subscribe registers fn for engine events.
func (e *HTTPEngine) Subscribe(fn func(stream.EngineEvent)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

func (e *HTTPEngine) emit(ev stream.EngineEvent) {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	ids := make([]int, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(stream.EngineEvent), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, e.subs[id])
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (e *HTTPEngine) emitError(kind stream.ErrorKind, details string, err error) {
	e.emit(stream.EngineEvent{
		Type:  stream.EventError,
		Error: &stream.EngineError{Kind: kind, Fatal: true, Details: details, Err: err},
	})
}

// Attach binds the engine to el. Decode errors reported by the element are
// surfaced as fatal media errors.
func (e *HTTPEngine) Attach(el media.Element) {
	unsub := el.Subscribe(func(ev media.Event) {
		if ev.Type == media.EventError {
			e.emitError(stream.KindMedia, "mediaDecodeError", ev.Err)
		}
	})

	e.mu.Lock()
	prev := e.unsubEl
	e.el = el
	e.unsubEl = unsub
	e.sourceLoaded = false
	e.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// Load starts fetching the manifest at url.
func (e *HTTPEngine) Load(url string) {
	e.mu.Lock()
	e.url = url
	e.manifestLoaded = false
	e.mu.Unlock()
	e.enqueue("load", e.loadManifest)
}

// StartLoad restarts loading: the manifest if it never loaded, otherwise the
// current level.
func (e *HTTPEngine) StartLoad() {
	e.enqueue("start_load", func(ctx context.Context) {
		e.mu.Lock()
		loaded := e.manifestLoaded
		e.mu.Unlock()
		if !loaded {
			e.loadManifest(ctx)
			return
		}
		e.switchLevel(ctx, e.targetLevel(), true)
	})
}

// RecoverMediaError resets the element's decode state in place.
func (e *HTTPEngine) RecoverMediaError() {
	e.enqueue("recover_media", func(context.Context) {
		e.mu.Lock()
		el := e.el
		e.mu.Unlock()
		if loader, ok := el.(media.Loader); ok {
			loader.Reset()
		}
	})
}

// SetLevel pins index, or restores ABR with stream.AutoLevel. Out-of-range
// indexes are clamped. The pin holds from the moment it is applied, so a
// restart after a failed switch reloads the pinned level.
func (e *HTTPEngine) SetLevel(index int) {
	e.enqueue("set_level", func(ctx context.Context) {
		e.mu.Lock()
		if !e.manifestLoaded || len(e.levels) == 0 {
			e.mu.Unlock()
			return
		}
		if index == stream.AutoLevel {
			e.auto = true
			e.pinned = stream.AutoLevel
		} else {
			e.auto = false
			e.pinned = max(0, min(index, len(e.levels)-1))
		}
		e.mu.Unlock()

		e.switchLevel(ctx, e.targetLevel(), false)
	})
}

// Destroy stops the worker, cancels in-flight requests, detaches from the
// element and unloads the source it fed. It does not wait for the worker; use
// Done for that.
func (e *HTTPEngine) Destroy() {
	e.destroyOnce.Do(func() {
		e.mu.Lock()
		e.destroyed = true
		unsub := e.unsubEl
		el, loaded := e.el, e.sourceLoaded
		e.unsubEl = nil
		e.el = nil
		e.sourceLoaded = false
		e.subs = make(map[int]func(stream.EngineEvent))
		e.mu.Unlock()

		if unsub != nil {
			unsub()
		}
		e.cancel()
		if loader, ok := el.(media.Loader); ok && loaded {
			loader.Unload()
		}
	})
}

// Levels returns the parsed levels, sorted by bitrate ascending.
func (e *HTTPEngine) Levels() []stream.Level {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]stream.Level, len(e.levels))
	copy(out, e.levels)
	return out
}

// targetLevel returns the level the engine should play: the ABR choice in
// auto mode, otherwise the pinned level.
func (e *HTTPEngine) targetLevel() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.auto || e.pinned == stream.AutoLevel {
		return chooseLevel(e.levels, e.estimator.Estimate(), e.safety)
	}
	return e.pinned
}

func (e *HTTPEngine) loadManifest(ctx context.Context) {
	e.mu.Lock()
	url, el := e.url, e.el
	e.mu.Unlock()

	if el != nil && !el.Connected() {
		e.log.Warn("media element detached", slog.String("src", url))
		e.emitError(stream.KindNetwork, "mediaDetached", errDetached)
		return
	}

	body, err := e.fetch(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.log.Warn("manifest load failed", slog.String("src", url), slog.Any("error", err))
		e.emitError(stream.KindNetwork, "manifestLoadError", err)
		return
	}

	master, err := playlist.ParseMaster(body, url)
	if err != nil {
		e.emitError(stream.KindOther, "manifestParsingError", err)
		return
	}

	levels := make([]stream.Level, 0, len(master.Variants))
	for _, v := range master.Variants {
		levels = append(levels, stream.Level{Height: v.Height, Bitrate: v.Bandwidth, URL: v.URI})
	}
	sort.SliceStable(levels, func(i, j int) bool { return levels[i].Bitrate < levels[j].Bitrate })

	e.mu.Lock()
	e.levels = levels
	e.mu.Unlock()

	// The manifest only counts as loaded once its start level is playable;
	// otherwise a restart fetches the manifest again.
	target := e.targetLevel()
	md, ok := e.fetchLevel(ctx, target)
	if !ok {
		return
	}
	e.mu.Lock()
	e.manifestLoaded = true
	e.mu.Unlock()
	e.loadSource(levels[target].URL, md)

	e.emit(stream.EngineEvent{Type: stream.EventManifestParsed, Levels: levels})
	e.confirmLevel(target)
}

// switchLevel loads level index and confirms it. Reloads after a failure
// always refetch; plain switches to the current level only re-confirm.
func (e *HTTPEngine) switchLevel(ctx context.Context, index int, reload bool) {
	e.mu.Lock()
	same := index == e.current
	sourceLoaded := e.sourceLoaded
	e.mu.Unlock()

	if same && !reload && sourceLoaded {
		e.confirmLevel(index)
		return
	}

	e.emit(stream.EngineEvent{Type: stream.EventBufferStalled})
	md, ok := e.fetchLevel(ctx, index)
	if !ok {
		return
	}
	if !sourceLoaded {
		e.mu.Lock()
		u := e.levels[index].URL
		e.mu.Unlock()
		e.loadSource(u, md)
	}
	e.confirmLevel(index)
	e.emit(stream.EngineEvent{Type: stream.EventBufferRecovered})
}

func (e *HTTPEngine) confirmLevel(index int) {
	e.mu.Lock()
	e.current = index
	auto := e.auto
	e.mu.Unlock()
	e.emit(stream.EngineEvent{Type: stream.EventLevelSwitched, Level: index, Auto: auto})
}

func (e *HTTPEngine) fetchLevel(ctx context.Context, index int) (*playlist.Media, bool) {
	e.mu.Lock()
	if index < 0 || index >= len(e.levels) {
		e.mu.Unlock()
		return nil, false
	}
	url := e.levels[index].URL
	e.mu.Unlock()

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, false
	}
	body, err := e.fetch(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		e.log.Warn("level load failed", slog.Int("index", index), slog.Any("error", err))
		e.emitError(stream.KindNetwork, "levelLoadError", err)
		return nil, false
	}
	md, err := playlist.ParseMedia(body)
	if err != nil {
		e.emitError(stream.KindOther, "levelParsingError", err)
		return nil, false
	}
	return md, true
}

// loadSource feeds the element its first source. Live playlists report an
// infinite duration.
func (e *HTTPEngine) loadSource(url string, md *playlist.Media) {
	e.mu.Lock()
	el := e.el
	if e.sourceLoaded || el == nil {
		e.mu.Unlock()
		return
	}
	e.sourceLoaded = true
	e.mu.Unlock()

	loader, ok := el.(media.Loader)
	if !ok {
		return
	}
	duration := md.TotalDuration
	if !md.VOD {
		duration = math.Inf(1)
	}
	loader.Load(media.Source{URL: url, Duration: duration})
}

// errDetached is reported when the element is not on a rendering surface.
var errDetached = errors.New("media element is not connected")

// errHTTPStatus is wrapped by fetch for responses with status >= 400.
var errHTTPStatus = errors.New("unexpected http status")

func (e *HTTPEngine) fetch(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.apple.mpegurl, */*")

	start := e.clock.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: %d", errHTTPStatus, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes))
	if err != nil {
		return "", err
	}
	e.estimator.Sample(int64(len(b)), e.clock.Since(start))
	return string(b), nil
}

// Package playback exposes user-facing transport controls over a media
// element. Commands flow down to the element; the controller's own state is
// only ever updated from the element's events.
package playback

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"hls-player/internal/input"
	"hls-player/internal/media"
	"hls-player/internal/platform/logger"
	"hls-player/internal/platform/metrics"
)

// State mirrors what the element reports, not what was asked of it.
type State struct {
	IsPlaying   bool    `json:"is_playing"`
	CurrentTime float64 `json:"current_time"`
	// Duration is NaN until metadata has loaded.
	Duration float64 `json:"-"`
	Volume   float64 `json:"volume"`
	IsMuted  bool    `json:"is_muted"`
	Ended    bool    `json:"ended"`
}

// Controller drives one element and one fullscreen container.
type Controller struct {
	el        media.Element
	container media.Fullscreener
	log       *slog.Logger
	metrics   *metrics.Metrics
	observer  func(State)
	onEnded   func()

	mu        sync.Mutex
	state     State
	unsub     func()
	destroyed bool
	once      sync.Once
}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver registers fn to receive a snapshot after every state change.
func WithObserver(fn func(State)) Option {
	return func(c *Controller) { c.observer = fn }
}

// WithOnEnded registers fn to run each time the element reports ended.
func WithOnEnded(fn func()) Option {
	return func(c *Controller) { c.onEnded = fn }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) { c.log = logger.OrDiscard(log) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New subscribes to el and seeds state from its current values. container
// may be nil, in which case fullscreen requests are ignored.
func New(el media.Element, container media.Fullscreener, opts ...Option) *Controller {
	c := &Controller{
		el:        el,
		container: container,
		log:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if el == nil {
		c.state = State{Duration: math.NaN(), Volume: 1}
		return c
	}
	c.state = State{
		IsPlaying:   !el.Paused(),
		CurrentTime: el.CurrentTime(),
		Duration:    el.Duration(),
		Volume:      el.Volume(),
		IsMuted:     el.Muted(),
	}
	c.unsub = el.Subscribe(c.handleEvent)
	return c
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.el != nil && !c.destroyed
}

// TogglePlay pauses a playing element or starts a paused one. A rejected
// play is logged, never returned.
func (c *Controller) TogglePlay(ctx context.Context) {
	if !c.active() {
		return
	}
	if !c.el.Paused() {
		c.el.Pause()
		return
	}
	if err := c.el.Play(ctx, media.OriginUser); err != nil {
		c.metrics.IncBestEffortFailures("play")
		c.log.Warn("play rejected", slog.Any("error", err))
	}
}

// Seek jumps to the position of a pointer event within bar. Events outside
// the bar are clamped to its edges.
func (c *Controller) Seek(ev input.PointerEvent, bar media.Rect) {
	if bar.Width <= 0 {
		return
	}
	c.SeekFraction((ev.X - bar.X) / bar.Width)
}

// SeekFraction seeks to fraction*duration. It is a no-op until the duration
// is known, finite and positive.
func (c *Controller) SeekFraction(fraction float64) {
	if !c.active() || math.IsNaN(fraction) {
		return
	}
	d := c.el.Duration()
	if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		c.log.Debug("seek ignored, duration unknown")
		return
	}
	fraction = math.Max(0, math.Min(1, fraction))
	c.el.Seek(d * fraction)
}

// SeekBy moves the playhead by delta seconds.
func (c *Controller) SeekBy(delta float64) {
	if !c.active() {
		return
	}
	d := c.el.Duration()
	if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return
	}
	c.el.Seek(c.el.CurrentTime() + delta)
}

// SetVolume sets the element volume, clamped to [0,1]. A volume of zero also
// mutes the element; a positive volume never unmutes it.
func (c *Controller) SetVolume(v float64) {
	if !c.active() || math.IsNaN(v) {
		return
	}
	v = math.Max(0, math.Min(1, v))
	c.el.SetVolume(v)
	if v == 0 {
		c.el.SetMuted(true)
	}
}

// ToggleMute flips the element's mute flag. Volume is left untouched.
func (c *Controller) ToggleMute() {
	if !c.active() {
		return
	}
	c.el.SetMuted(!c.el.Muted())
}

// ToggleFullscreen enters or leaves fullscreen on the container, so overlays
// stay visible. Failures are logged.
func (c *Controller) ToggleFullscreen() {
	if !c.active() || c.container == nil {
		return
	}
	var err error
	if c.container.IsFullscreen() {
		err = c.container.ExitFullscreen()
	} else {
		err = c.container.RequestFullscreen()
	}
	if err != nil {
		c.metrics.IncBestEffortFailures("fullscreen")
		c.log.Warn("fullscreen toggle failed", slog.Any("error", err))
	}
}

// Destroy removes the element subscription. Safe to call repeatedly.
func (c *Controller) Destroy() {
	c.once.Do(func() {
		c.mu.Lock()
		c.destroyed = true
		unsub := c.unsub
		c.unsub = nil
		c.mu.Unlock()
		if unsub != nil {
			unsub()
		}
	})
}

func (c *Controller) handleEvent(ev media.Event) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	prev := c.state
	ended := false
	switch ev.Type {
	case media.EventPlay:
		c.state.IsPlaying = true
		c.state.Ended = false
	case media.EventPause:
		c.state.IsPlaying = false
	case media.EventTimeUpdate:
		c.state.CurrentTime = c.el.CurrentTime()
	case media.EventLoadedMetadata:
		c.state.Duration = c.el.Duration()
		c.state.CurrentTime = c.el.CurrentTime()
		c.state.Ended = false
	case media.EventEnded:
		c.state.IsPlaying = false
		c.state.Ended = true
		c.state.CurrentTime = c.el.CurrentTime()
		ended = true
	case media.EventEmptied:
		c.state.IsPlaying = false
		c.state.Ended = false
		c.state.CurrentTime = 0
		c.state.Duration = math.NaN()
	case media.EventVolumeChange:
		c.state.Volume = c.el.Volume()
		c.state.IsMuted = c.el.Muted()
	default:
		c.mu.Unlock()
		return
	}
	st := c.state
	c.mu.Unlock()

	if c.observer != nil && !sameState(prev, st) {
		c.observer(st)
	}
	if ended && c.onEnded != nil {
		c.onEnded()
	}
}

func sameState(a, b State) bool {
	sameDuration := a.Duration == b.Duration || (math.IsNaN(a.Duration) && math.IsNaN(b.Duration))
	return sameDuration &&
		a.IsPlaying == b.IsPlaying &&
		a.CurrentTime == b.CurrentTime &&
		a.Volume == b.Volume &&
		a.IsMuted == b.IsMuted &&
		a.Ended == b.Ended
}

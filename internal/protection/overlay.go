// Package protection renders a per-viewer watermark over a playback surface
// and reacts to capture-intent key signals.
//
// This is a deterrent against casual redistribution, nothing more. It cannot
// see OS-level screen recording, external cameras or browser extensions, and
// it offers no cryptographic or legal enforcement. The watermark only helps
// attribute a capture after the fact.
package protection

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"hls-player/internal/input"
	"hls-player/internal/media"
	"hls-player/internal/platform/logger"
	"hls-player/internal/platform/metrics"

	"github.com/jonboulle/clockwork"
)

// DefaultCaptureWindow is how long the capture flag stays up after a signal.
const DefaultCaptureWindow = 3 * time.Second

var (
	// ErrMissingViewer is returned by Mount without a viewer id.
	ErrMissingViewer = errors.New("protection: viewer id required")

	// ErrRevealUnavailable is returned by Reveal unless the binary was built
	// with the playerdebug tag and DebugReveal is enabled.
	ErrRevealUnavailable = errors.New("protection: watermark reveal unavailable in this build")

	// ErrNotMounted is returned by operations that need a mounted overlay.
	ErrNotMounted = errors.New("protection: overlay not mounted")
)

// Options identify who is watching what. They are fixed for one mount.
type Options struct {
	ContentID string
	ViewerID  string
}

// Capabilities are independent switches for the production watermark and
// the debug reveal path.
type Capabilities struct {
	Watermark   bool
	DebugReveal bool
}

// Notice is emitted to the host when a capture signal is observed.
type Notice struct {
	Signal  string
	Message string
	At      time.Time
}

// State is a snapshot of an overlay.
type State struct {
	Mounted           bool   `json:"mounted"`
	ContentID         string `json:"content_id"`
	ViewerID          string `json:"viewer_id"`
	WatermarkVisible  bool   `json:"watermark_visible"`
	CaptureFlagActive bool   `json:"capture_flag_active"`
}

// KeySource delivers key events for one surface.
type KeySource interface {
	OnKey(fn func(input.KeyEvent)) *input.Subscription
}

// Bounded reports the size of the surface the watermark covers.
type Bounded interface {
	Bounds() media.Rect
}

// Config configures an Overlay. Zero values are usable; the watermark
// capability defaults to on.
type Config struct {
	Capabilities  *Capabilities
	CaptureWindow time.Duration
	Watermark     WatermarkConfig
	Clock         clockwork.Clock
	Log           *slog.Logger
	Metrics       *metrics.Metrics
	Notify        func(Notice)
	Observer      func(State)
}

// Overlay is one protection layer over one surface. Each mount owns its own
// key subscription; nothing is registered process-wide.
type Overlay struct {
	caps     Capabilities
	window   time.Duration
	wmCfg    WatermarkConfig
	clock    clockwork.Clock
	log      *slog.Logger
	metrics  *metrics.Metrics
	notify   func(Notice)
	observer func(State)

	mu        sync.Mutex
	mounted   bool
	opts      Options
	surface   Bounded
	sub       *input.Subscription
	revealed  bool
	capturing bool
	timer     clockwork.Timer
	gen       int
}

func New(cfg Config) *Overlay {
	caps := Capabilities{Watermark: true}
	if cfg.Capabilities != nil {
		caps = *cfg.Capabilities
	}
	if cfg.CaptureWindow <= 0 {
		cfg.CaptureWindow = DefaultCaptureWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Watermark == (WatermarkConfig{}) {
		cfg.Watermark = DefaultWatermarkConfig()
	}
	return &Overlay{
		caps:     caps,
		window:   cfg.CaptureWindow,
		wmCfg:    cfg.Watermark,
		clock:    cfg.Clock,
		log:      logger.OrDiscard(cfg.Log),
		metrics:  cfg.Metrics,
		notify:   cfg.Notify,
		observer: cfg.Observer,
	}
}

// Mount starts protecting surface. Mounting again with the same options is a
// no-op; with different options the previous mount is torn down first.
func (o *Overlay) Mount(surface Bounded, keys KeySource, opts Options) error {
	if strings.TrimSpace(opts.ViewerID) == "" {
		return ErrMissingViewer
	}

	o.mu.Lock()
	if o.mounted && o.opts == opts && o.surface == surface {
		o.mu.Unlock()
		return nil
	}
	remount := o.mounted
	o.mu.Unlock()

	if remount {
		o.Unmount()
	}

	sub := keys.OnKey(o.handleKey)

	o.mu.Lock()
	o.mounted = true
	o.opts = opts
	o.surface = surface
	o.sub = sub
	o.mu.Unlock()

	o.log.Debug("protection overlay mounted",
		slog.String("content_id", opts.ContentID),
		slog.Bool("watermark", o.caps.Watermark))
	o.emitState()
	return nil
}

// Unmount removes the key listener and clears transient state. Safe to call
// repeatedly and before Mount.
func (o *Overlay) Unmount() {
	o.mu.Lock()
	if !o.mounted {
		o.mu.Unlock()
		return
	}
	sub := o.sub
	o.sub = nil
	o.mounted = false
	o.revealed = false
	o.capturing = false
	o.gen++
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.mu.Unlock()

	sub.Remove()
	o.emitState()
}

// State returns a snapshot.
func (o *Overlay) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stateLocked()
}

func (o *Overlay) stateLocked() State {
	return State{
		Mounted:           o.mounted,
		ContentID:         o.opts.ContentID,
		ViewerID:          o.opts.ViewerID,
		WatermarkVisible:  o.revealed,
		CaptureFlagActive: o.capturing,
	}
}

// Watermark renders the current watermark. ok is false when the overlay is
// not mounted or the watermark capability is off.
func (o *Overlay) Watermark() (Watermark, bool) {
	o.mu.Lock()
	if !o.mounted || !o.caps.Watermark {
		o.mu.Unlock()
		return Watermark{}, false
	}
	opts, surface, cfg := o.opts, o.surface, o.wmCfg
	if o.revealed {
		cfg.Opacity = RevealOpacity
	}
	o.mu.Unlock()

	var bounds media.Rect
	if surface != nil {
		bounds = surface.Bounds()
	}
	return RenderWatermark(opts.ViewerID, opts.ContentID, o.clock.Now(), bounds.Width, bounds.Height, cfg), true
}

// Reveal makes the watermark visible for demos. It only works in debug
// builds with the DebugReveal capability.
func (o *Overlay) Reveal(visible bool) error {
	if !revealAvailable || !o.caps.DebugReveal {
		return ErrRevealUnavailable
	}
	o.mu.Lock()
	if !o.mounted {
		o.mu.Unlock()
		return ErrNotMounted
	}
	o.revealed = visible
	o.mu.Unlock()
	o.emitState()
	return nil
}

// MatchCaptureSignal reports whether ev is a capture-intent key combination
// and names it.
func MatchCaptureSignal(ev input.KeyEvent) (string, bool) {
	key := strings.ToLower(ev.Key)
	switch {
	case key == "printscreen":
		return "PrintScreen", true
	case ev.Meta && ev.Shift && (key == "3" || key == "4" || key == "5" || key == "#" || key == "$" || key == "%"):
		return "Cmd+Shift+" + shiftedDigit(key), true
	case ev.Ctrl && key == "c":
		return "Ctrl+C", true
	case ev.Meta && key == "c":
		return "Cmd+C", true
	case ev.Meta && key == "s":
		return "Cmd+S", true
	}
	return "", false
}

func shiftedDigit(key string) string {
	switch key {
	case "#":
		return "3"
	case "$":
		return "4"
	case "%":
		return "5"
	}
	return key
}

func (o *Overlay) handleKey(ev input.KeyEvent) {
	signal, ok := MatchCaptureSignal(ev)
	if !ok {
		return
	}
	ev.PreventDefault()

	o.mu.Lock()
	if !o.mounted {
		o.mu.Unlock()
		return
	}
	o.capturing = true
	o.gen++
	gen := o.gen
	if o.timer != nil {
		o.timer.Stop()
	}
	o.timer = o.clock.AfterFunc(o.window, func() { o.clearCapture(gen) })
	contentID := o.opts.ContentID
	o.mu.Unlock()

	o.metrics.IncCaptureSignals(signal)
	o.log.Info("capture signal observed",
		slog.String("signal", signal),
		slog.String("content_id", contentID))
	if o.notify != nil {
		o.notify(Notice{
			Signal:  signal,
			Message: "Screen capture is not permitted. This content is watermarked to your account.",
			At:      o.clock.Now(),
		})
	}
	o.emitState()
}

func (o *Overlay) clearCapture(gen int) {
	o.mu.Lock()
	if gen != o.gen || !o.capturing {
		o.mu.Unlock()
		return
	}
	o.capturing = false
	o.timer = nil
	o.mu.Unlock()
	o.emitState()
}

func (o *Overlay) emitState() {
	if o.observer == nil {
		return
	}
	o.observer(o.State())
}

// Package player composes a stream session, a playback controller and a
// protection overlay into one playback surface with idle-driven control
// visibility and a preview subscription prompt.
package player

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"hls-player/internal/input"
	"hls-player/internal/media"
	"hls-player/internal/platform/logger"
	"hls-player/internal/platform/metrics"
	"hls-player/internal/playback"
	"hls-player/internal/protection"
	"hls-player/internal/stream"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultIdleTimeout           = 3 * time.Second
	DefaultPreviewPromptFraction = 0.8
	DefaultSeekStep              = 5.0
)

var (
	ErrMissingSource  = errors.New("player: src is required")
	ErrAlreadyMounted = errors.New("player: already mounted")
	ErrNotMounted     = errors.New("player: not mounted")
)

// Props are supplied by the page hosting the player.
type Props struct {
	Src       string
	Poster    string
	Title     string
	AutoPlay  bool
	IsPreview bool
	// Protection identifies the viewer for the watermark. The overlay is
	// not mounted when ViewerID is empty.
	Protection      protection.Options
	OnVideoComplete func()
}

// Config holds the shell's tunables and collaborators.
type Config struct {
	IdleTimeout           time.Duration
	PreviewPromptFraction float64
	SeekStep              float64
	Retry                 stream.RetryPolicy
	Clock                 clockwork.Clock
	Log                   *slog.Logger
	Metrics               *metrics.Metrics
	// Overlay is optional.
	Overlay           *protection.Overlay
	OnSubscribePrompt func()
	Observer          func(Snapshot)
}

// EngineFactory returns a fresh engine for each session the shell starts.
type EngineFactory func() stream.Engine

// Surface is the container the shell renders into.
type Surface interface {
	media.Fullscreener
	Bounds() media.Rect
	ProgressBar() media.Rect
}

// InputSource delivers the surface's key and pointer events.
type InputSource interface {
	OnKey(fn func(input.KeyEvent)) *input.Subscription
	OnPointerMove(fn func(input.PointerEvent)) *input.Subscription
}

// Snapshot is everything a renderer needs to draw the player.
type Snapshot struct {
	Mounted         bool   `json:"mounted"`
	Src             string `json:"src"`
	Title           string `json:"title,omitempty"`
	Poster          string `json:"poster,omitempty"`
	IsPreview       bool   `json:"is_preview"`
	ControlsVisible bool   `json:"controls_visible"`
	// PromptRaised stays true once the preview threshold was crossed.
	PromptRaised  bool               `json:"prompt_raised"`
	PromptVisible bool               `json:"prompt_visible"`
	Fatal         *stream.FatalError `json:"fatal,omitempty"`
	Stream        stream.State       `json:"stream"`
	Playback      playback.State     `json:"playback"`
	Protection    protection.State   `json:"protection"`
}

// Shell is one player instance over one element and surface.
type Shell struct {
	el        media.Element
	surface   Surface
	inputs    InputSource
	newEngine EngineFactory
	cfg       Config
	log       *slog.Logger

	mu              sync.Mutex
	mounted         bool
	props           Props
	ctx             context.Context
	session         *stream.Session
	controller      *playback.Controller
	gen             int
	playing         bool
	visible         bool
	idleTimer       clockwork.Timer
	idleGen         int
	promptRaised    bool
	promptDismissed bool
	keySub          *input.Subscription
	pointerSub      *input.Subscription
}

// New returns an unmounted shell.
func New(el media.Element, surface Surface, inputs InputSource, newEngine EngineFactory, cfg Config) *Shell {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.PreviewPromptFraction <= 0 || cfg.PreviewPromptFraction > 1 {
		cfg.PreviewPromptFraction = DefaultPreviewPromptFraction
	}
	if cfg.SeekStep <= 0 {
		cfg.SeekStep = DefaultSeekStep
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Shell{
		el:        el,
		surface:   surface,
		inputs:    inputs,
		newEngine: newEngine,
		cfg:       cfg,
		log:       logger.OrDiscard(cfg.Log),
		visible:   true,
	}
}

// Mount starts playback of props.Src.
func (s *Shell) Mount(ctx context.Context, props Props) error {
	if strings.TrimSpace(props.Src) == "" {
		return ErrMissingSource
	}

	s.mu.Lock()
	if s.mounted {
		s.mu.Unlock()
		return ErrAlreadyMounted
	}
	s.mounted = true
	s.props = props
	s.ctx = ctx
	s.visible = true
	s.promptRaised = false
	s.promptDismissed = false
	s.mu.Unlock()

	var keySub, pointerSub *input.Subscription
	if s.inputs != nil {
		keySub = s.inputs.OnKey(s.handleKey)
		pointerSub = s.inputs.OnPointerMove(func(input.PointerEvent) { s.showControls() })
	}
	s.mu.Lock()
	s.keySub, s.pointerSub = keySub, pointerSub
	s.mu.Unlock()

	s.mountOverlay(props.Protection)

	if err := s.startMedia(ctx, props); err != nil {
		s.Unmount()
		return err
	}
	s.log.Info("player mounted", slog.String("src", props.Src), slog.Bool("is_preview", props.IsPreview))
	return nil
}

// Update applies new props. A different Src tears down the session and
// controller and starts over; other fields are applied in place.
func (s *Shell) Update(ctx context.Context, props Props) error {
	if strings.TrimSpace(props.Src) == "" {
		return ErrMissingSource
	}

	s.mu.Lock()
	if !s.mounted {
		s.mu.Unlock()
		return s.Mount(ctx, props)
	}
	srcChanged := props.Src != s.props.Src
	s.props = props
	if srcChanged {
		s.ctx = ctx
		s.promptRaised = false
		s.promptDismissed = false
	}
	s.mu.Unlock()

	s.mountOverlay(props.Protection)

	if srcChanged {
		s.log.Info("player source changed", slog.String("src", props.Src))
		s.stopMedia()
		if err := s.startMedia(ctx, props); err != nil {
			return err
		}
	}
	s.notify()
	return nil
}

// Unmount tears down everything the shell created. Safe to call repeatedly.
func (s *Shell) Unmount() {
	s.mu.Lock()
	if !s.mounted {
		s.mu.Unlock()
		return
	}
	s.mounted = false
	s.stopIdleLocked()
	keySub, pointerSub := s.keySub, s.pointerSub
	s.keySub, s.pointerSub = nil, nil
	s.mu.Unlock()

	keySub.Remove()
	pointerSub.Remove()
	s.stopMedia()
	if s.cfg.Overlay != nil {
		s.cfg.Overlay.Unmount()
	}
	s.log.Debug("player unmounted")
	s.notify()
}

// Retry replaces the session with a fresh one for the same source. The
// controller and overlay are kept.
func (s *Shell) Retry(ctx context.Context) error {
	s.mu.Lock()
	if !s.mounted {
		s.mu.Unlock()
		return ErrNotMounted
	}
	old := s.session
	s.session = nil
	props := s.props
	s.mu.Unlock()

	if old != nil {
		old.Destroy()
	}
	s.unloadElement()
	s.log.Info("retrying playback", slog.String("src", props.Src))
	s.showControls()
	return s.startSession(ctx, props)
}

func (s *Shell) mountOverlay(opts protection.Options) {
	if s.cfg.Overlay == nil || s.inputs == nil {
		return
	}
	if opts.ViewerID == "" {
		s.cfg.Overlay.Unmount()
		return
	}
	if err := s.cfg.Overlay.Mount(s.surface, s.inputs, opts); err != nil {
		s.log.Warn("protection overlay not mounted", slog.Any("error", err))
	}
}

func (s *Shell) startMedia(ctx context.Context, props Props) error {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.playing = false
	s.visible = true
	s.stopIdleLocked()
	s.mu.Unlock()

	ctrl := playback.New(s.el, s.surface,
		playback.WithObserver(func(st playback.State) { s.onPlayback(gen, st) }),
		playback.WithOnEnded(func() { s.onEnded(gen) }),
		playback.WithLogger(s.log),
		playback.WithMetrics(s.cfg.Metrics),
	)

	s.mu.Lock()
	if !s.mounted || gen != s.gen {
		s.mu.Unlock()
		ctrl.Destroy()
		return ErrNotMounted
	}
	s.controller = ctrl
	s.mu.Unlock()

	return s.startSession(ctx, props)
}

func (s *Shell) startSession(ctx context.Context, props Props) error {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	sess := stream.NewSession(s.newEngine(), stream.Config{
		ID:      uuid.NewString(),
		Retry:   s.cfg.Retry,
		Clock:   s.cfg.Clock,
		Log:     s.log,
		Metrics: s.cfg.Metrics,
	}, func(stream.State) { s.onStream(gen) })

	s.mu.Lock()
	if !s.mounted || gen != s.gen {
		s.mu.Unlock()
		sess.Destroy()
		return ErrNotMounted
	}
	s.session = sess
	s.mu.Unlock()

	// Browsers only allow unmuted playback after a gesture, so autoplay
	// starts muted.
	return sess.Start(ctx, s.el, props.Src, stream.Options{AutoPlay: props.AutoPlay, StartMuted: props.AutoPlay})
}

func (s *Shell) stopMedia() {
	s.mu.Lock()
	s.gen++
	sess, ctrl := s.session, s.controller
	s.session, s.controller = nil, nil
	s.playing = false
	s.stopIdleLocked()
	s.mu.Unlock()

	if sess != nil {
		sess.Destroy()
	}
	if ctrl != nil {
		ctrl.Destroy()
	}
	s.unloadElement()
}

// unloadElement empties the element so nothing of the previous source can be
// resumed or counted against the next one.
func (s *Shell) unloadElement() {
	if s.el == nil {
		return
	}
	if loader, ok := s.el.(media.Loader); ok {
		loader.Unload()
		return
	}
	if !s.el.Paused() {
		s.el.Pause()
	}
}

// Snapshot composes the current state of every part of the player.
func (s *Shell) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Mounted:         s.mounted,
		Src:             s.props.Src,
		Title:           s.props.Title,
		Poster:          s.props.Poster,
		IsPreview:       s.props.IsPreview,
		ControlsVisible: s.visible,
		PromptRaised:    s.promptRaised,
		PromptVisible:   s.promptRaised && !s.promptDismissed,
	}
	sess, ctrl := s.session, s.controller
	s.mu.Unlock()

	if sess != nil {
		snap.Stream = sess.State()
		snap.Fatal = snap.Stream.Fatal
	}
	if ctrl != nil {
		snap.Playback = ctrl.State()
	} else {
		snap.Playback = playback.State{Duration: math.NaN()}
	}
	if s.cfg.Overlay != nil {
		snap.Protection = s.cfg.Overlay.State()
	}
	return snap
}

func (s *Shell) current() (*stream.Session, *playback.Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mounted {
		return nil, nil
	}
	return s.session, s.controller
}

// TogglePlay starts or pauses playback.
func (s *Shell) TogglePlay(ctx context.Context) {
	_, ctrl := s.current()
	if ctrl == nil {
		return
	}
	s.showControls()
	ctrl.TogglePlay(ctx)
}

// Seek jumps to the pointer position on the surface's progress bar.
func (s *Shell) Seek(ev input.PointerEvent) {
	_, ctrl := s.current()
	if ctrl == nil || s.surface == nil {
		return
	}
	s.showControls()
	ctrl.Seek(ev, s.surface.ProgressBar())
}

func (s *Shell) SeekFraction(f float64) {
	_, ctrl := s.current()
	if ctrl == nil {
		return
	}
	s.showControls()
	ctrl.SeekFraction(f)
}

func (s *Shell) SetVolume(v float64) {
	_, ctrl := s.current()
	if ctrl == nil {
		return
	}
	s.showControls()
	ctrl.SetVolume(v)
}

func (s *Shell) ToggleMute() {
	_, ctrl := s.current()
	if ctrl == nil {
		return
	}
	s.showControls()
	ctrl.ToggleMute()
}

func (s *Shell) ToggleFullscreen() {
	_, ctrl := s.current()
	if ctrl == nil {
		return
	}
	s.showControls()
	ctrl.ToggleFullscreen()
}

// SetQuality pins a level, or restores ABR with stream.AutoLevel.
func (s *Shell) SetQuality(index int) {
	sess, _ := s.current()
	if sess == nil {
		return
	}
	s.showControls()
	sess.SetQuality(index)
}

// DismissPrompt hides the subscription prompt. It does not re-arm it.
func (s *Shell) DismissPrompt() {
	s.mu.Lock()
	changed := s.promptRaised && !s.promptDismissed
	s.promptDismissed = true
	s.mu.Unlock()
	s.showControls()
	if changed {
		s.notify()
	}
}

func (s *Shell) handleKey(ev input.KeyEvent) {
	if ev.DefaultPrevented() || ev.Ctrl || ev.Meta || ev.Alt {
		return
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	_, ctrl := s.current()
	if ctrl == nil {
		return
	}
	switch strings.ToLower(ev.Key) {
	case " ", "k":
		s.showControls()
		ctrl.TogglePlay(ctx)
	case "m":
		s.showControls()
		ctrl.ToggleMute()
	case "f":
		s.showControls()
		ctrl.ToggleFullscreen()
	case "arrowleft":
		s.showControls()
		ctrl.SeekBy(-s.cfg.SeekStep)
	case "arrowright":
		s.showControls()
		ctrl.SeekBy(s.cfg.SeekStep)
	default:
		return
	}
	ev.PreventDefault()
}

// showControls makes the controls visible and restarts the idle timer.
func (s *Shell) showControls() {
	s.mu.Lock()
	if !s.mounted {
		s.mu.Unlock()
		return
	}
	changed := !s.visible
	s.visible = true
	if s.playing {
		s.startIdleLocked()
	} else {
		s.stopIdleLocked()
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Shell) startIdleLocked() {
	s.stopIdleLocked()
	gen := s.idleGen
	s.idleTimer = s.cfg.Clock.AfterFunc(s.cfg.IdleTimeout, func() { s.idleElapsed(gen) })
}

func (s *Shell) stopIdleLocked() {
	s.idleGen++
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

func (s *Shell) idleElapsed(gen int) {
	s.mu.Lock()
	if gen != s.idleGen || !s.mounted || !s.playing || !s.visible {
		s.mu.Unlock()
		return
	}
	s.visible = false
	s.idleTimer = nil
	s.mu.Unlock()
	s.notify()
}

func (s *Shell) onPlayback(gen int, st playback.State) {
	s.mu.Lock()
	if gen != s.gen || !s.mounted {
		s.mu.Unlock()
		return
	}
	wasPlaying := s.playing
	s.playing = st.IsPlaying
	switch {
	case !st.IsPlaying:
		s.visible = true
		s.stopIdleLocked()
	case !wasPlaying:
		s.startIdleLocked()
	}

	raise := false
	d := st.Duration
	if s.props.IsPreview && !s.promptRaised && d > 0 && !math.IsInf(d, 0) && !math.IsNaN(d) &&
		st.CurrentTime > s.cfg.PreviewPromptFraction*d {
		s.promptRaised = true
		raise = true
	}
	s.mu.Unlock()

	if raise {
		s.cfg.Metrics.IncPreviewPrompts()
		s.log.Info("preview threshold reached", slog.Float64("current_time", st.CurrentTime))
		if s.cfg.OnSubscribePrompt != nil {
			s.cfg.OnSubscribePrompt()
		}
	}
	s.notify()
}

func (s *Shell) onEnded(gen int) {
	s.mu.Lock()
	if gen != s.gen || !s.mounted {
		s.mu.Unlock()
		return
	}
	fn := s.props.OnVideoComplete
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *Shell) onStream(gen int) {
	s.mu.Lock()
	stale := gen != s.gen || !s.mounted
	s.mu.Unlock()
	if !stale {
		s.notify()
	}
}

func (s *Shell) notify() {
	if s.cfg.Observer == nil {
		return
	}
	s.cfg.Observer(s.Snapshot())
}

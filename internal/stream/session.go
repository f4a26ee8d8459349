package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"hls-player/internal/media"
	"hls-player/internal/platform/logger"
	"hls-player/internal/platform/metrics"

	"github.com/jonboulle/clockwork"
)

// Options are the playback intents passed to Start.
type Options struct {
	AutoPlay   bool
	StartMuted bool
}

// Config carries a session's collaborators. Zero values are usable.
type Config struct {
	ID      string
	Retry   RetryPolicy
	Clock   clockwork.Clock
	Log     *slog.Logger
	Metrics *metrics.Metrics
}

// State is a snapshot of a session.
type State struct {
	SourceURL string `json:"source_url"`
	Levels    []Level `json:"levels"`
	// CurrentQualityIndex is AutoLevel while ABR is in charge, otherwise the
	// pinned level confirmed by the engine.
	CurrentQualityIndex int            `json:"current_quality_index"`
	ActiveLevel         int            `json:"active_level"`
	Buffering           BufferingState `json:"buffering"`
	Fatal               *FatalError    `json:"fatal,omitempty"`
	AutoplayBlocked     bool           `json:"autoplay_blocked"`
	NetworkRetries      int            `json:"network_retries"`
}

// Session binds an Engine to one element and one manifest URL. Engine
// callbacks, element events, timer fires and caller intents are serialized
// through mu; collaborators and the observer are only called with mu released.
type Session struct {
	engine   Engine
	retry    RetryPolicy
	clock    clockwork.Clock
	log      *slog.Logger
	metrics  *metrics.Metrics
	observer func(State)

	mu              sync.Mutex
	ctx             context.Context
	cancel          context.CancelFunc
	el              media.Element
	url             string
	opts            Options
	started         bool
	destroyed       bool
	sig             Signals
	levels          []Level
	quality         int
	active          int
	fatal           *FatalError
	autoplayBlocked bool
	netAttempts     int
	totalRetries    int
	mediaRecovering bool
	recoveredAt     float64
	retryTimer      clockwork.Timer
	retryGen        int
	unsubEngine     func()
	unsubElement    func()

	destroyOnce sync.Once
}

// NewSession returns an unstarted session. observer, if non-nil, receives a
// snapshot after every state change.
func NewSession(engine Engine, cfg Config, observer func(State)) *Session {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log := logger.OrDiscard(cfg.Log)
	if cfg.ID != "" {
		log = log.With(slog.String("session_id", cfg.ID))
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Session{
		engine:   engine,
		retry:    cfg.Retry.withDefaults(),
		clock:    clock,
		log:      log,
		metrics:  cfg.Metrics,
		observer: observer,
		quality:  AutoLevel,
		active:   AutoLevel,
	}
}

// Start attaches the engine to el and begins fetching the manifest. Problems
// with the URL itself are reported by the engine asynchronously as network
// errors, never returned here.
func (s *Session) Start(ctx context.Context, el media.Element, sourceURL string, opts Options) error {
	if el == nil {
		return ErrNoElement
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrSessionDestroyed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.el = el
	s.url = sourceURL
	s.opts = opts
	s.sig = Signals{Started: true}
	s.mu.Unlock()

	unsubEngine := s.engine.Subscribe(s.handleEngineEvent)
	unsubElement := el.Subscribe(s.handleElementEvent)

	s.mu.Lock()
	if s.destroyed {
		// Destroy raced with Start; undo the subscriptions ourselves.
		s.mu.Unlock()
		unsubEngine()
		unsubElement()
		return ErrSessionDestroyed
	}
	s.unsubEngine = unsubEngine
	s.unsubElement = unsubElement
	s.mu.Unlock()

	s.log.Info("stream session starting",
		slog.String("src", sourceURL),
		slog.Bool("auto_play", opts.AutoPlay),
		slog.Bool("start_muted", opts.StartMuted))
	s.metrics.IncSessionsStarted()

	s.engine.Attach(el)
	s.engine.Load(sourceURL)
	s.notify()
	return nil
}

// SetQuality forwards a level choice to the engine. AutoLevel restores ABR.
// Out-of-range indexes and calls before the manifest is parsed are ignored.
// The new index is visible only once the engine confirms the switch.
func (s *Session) SetQuality(index int) {
	s.mu.Lock()
	if s.destroyed || !s.sig.ManifestParsed {
		s.mu.Unlock()
		return
	}
	if index != AutoLevel && (index < 0 || index >= len(s.levels)) {
		n := len(s.levels)
		s.mu.Unlock()
		s.log.Debug("quality index out of range ignored", slog.Int("index", index), slog.Int("levels", n))
		return
	}
	s.mu.Unlock()
	s.engine.SetLevel(index)
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() State {
	levels := make([]Level, len(s.levels))
	copy(levels, s.levels)
	var fatal *FatalError
	if s.fatal != nil {
		f := *s.fatal
		fatal = &f
	}
	return State{
		SourceURL:           s.url,
		Levels:              levels,
		CurrentQualityIndex: s.quality,
		ActiveLevel:         s.active,
		Buffering:           DeriveBuffering(s.sig),
		Fatal:               fatal,
		AutoplayBlocked:     s.autoplayBlocked,
		NetworkRetries:      s.totalRetries,
	}
}

// Destroy tears down the engine and removes every listener the session
// registered. It is safe to call any number of times.
func (s *Session) Destroy() {
	s.destroyOnce.Do(func() {
		s.mu.Lock()
		s.destroyed = true
		s.retryGen++
		if s.retryTimer != nil {
			s.retryTimer.Stop()
			s.retryTimer = nil
		}
		unsubEngine, unsubElement := s.unsubEngine, s.unsubElement
		s.unsubEngine, s.unsubElement = nil, nil
		cancel := s.cancel
		s.mu.Unlock()

		if unsubEngine != nil {
			unsubEngine()
		}
		if unsubElement != nil {
			unsubElement()
		}
		if cancel != nil {
			cancel()
		}
		s.engine.Destroy()
		s.log.Debug("stream session destroyed")
	})
}

type followUp int

const (
	followNone followUp = iota
	followAutoplay
	followRecoverMedia
)

func (s *Session) handleEngineEvent(ev EngineEvent) {
	s.mu.Lock()
	if s.destroyed || s.fatal != nil {
		s.mu.Unlock()
		return
	}

	next := followNone
	switch ev.Type {
	case EventManifestParsed:
		s.levels = append(s.levels[:0:0], ev.Levels...)
		s.sig.ManifestParsed = true
		s.loadSucceededLocked()
		if s.opts.AutoPlay {
			next = followAutoplay
		}
		s.log.Info("manifest parsed", slog.Int("levels", len(s.levels)))

	case EventLevelSwitched:
		if ev.Level < 0 || ev.Level >= len(s.levels) {
			s.mu.Unlock()
			s.log.Warn("engine switched to unknown level", slog.Int("index", ev.Level))
			return
		}
		s.active = ev.Level
		if ev.Auto {
			s.quality = AutoLevel
		} else {
			s.quality = ev.Level
		}
		s.loadSucceededLocked()
		s.metrics.IncQualitySwitches()
		s.log.Debug("level switched", slog.Int("index", ev.Level), slog.Bool("auto", ev.Auto))

	case EventBufferStalled:
		s.sig.EngineStalled = true

	case EventBufferRecovered:
		s.sig.EngineStalled = false
		s.loadSucceededLocked()

	case EventError:
		if ev.Error == nil {
			s.mu.Unlock()
			return
		}
		next = s.handleErrorLocked(*ev.Error)
	}

	ctx, el, startMuted := s.ctx, s.el, s.opts.StartMuted
	s.mu.Unlock()

	switch next {
	case followAutoplay:
		s.autoplay(ctx, el, startMuted)
	case followRecoverMedia:
		s.engine.RecoverMediaError()
	}
	s.notify()
}

// loadSucceededLocked clears network retry state after the engine made progress.
func (s *Session) loadSucceededLocked() {
	s.sig.Retrying = false
	s.netAttempts = 0
}

func (s *Session) handleErrorLocked(e EngineError) followUp {
	if !e.Fatal {
		s.log.Warn("non-fatal stream error",
			slog.String("kind", string(e.Kind)),
			slog.String("details", e.Details),
			slog.Any("error", e.Err))
		return followNone
	}

	switch e.Kind {
	case KindNetwork:
		if s.netAttempts >= s.retry.MaxNetworkRetries {
			s.failLocked(e, "network retries exhausted")
			return followNone
		}
		delay := s.retry.Delay(s.netAttempts)
		s.netAttempts++
		s.totalRetries++
		s.sig.Retrying = true
		s.scheduleRetryLocked(delay)
		s.metrics.IncNetworkRetries()
		s.log.Warn("network error, restarting load",
			slog.String("details", e.Details),
			slog.Int("attempt", s.netAttempts),
			slog.Int64("delay_ms", delay.Milliseconds()),
			slog.Any("error", e.Err))
		return followNone

	case KindMedia:
		if s.mediaRecovering {
			s.failLocked(e, "media recovery failed")
			return followNone
		}
		s.mediaRecovering = true
		if s.el != nil {
			s.recoveredAt = s.el.CurrentTime()
		}
		s.metrics.IncMediaRecoveries()
		s.log.Warn("media error, attempting recovery",
			slog.String("details", e.Details),
			slog.Any("error", e.Err))
		return followRecoverMedia

	default:
		s.failLocked(e, "unrecoverable engine error")
		return followNone
	}
}

func (s *Session) failLocked(e EngineError, reason string) {
	s.fatal = &FatalError{
		Kind:        e.Kind,
		Recoverable: true,
		Details:     e.Details,
		Err:         e.Err,
	}
	s.sig.Retrying = false
	s.retryGen++
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.metrics.IncFatalErrors(string(e.Kind))
	s.log.Error("stream session failed",
		slog.String("reason", reason),
		slog.String("kind", string(e.Kind)),
		slog.String("details", e.Details),
		slog.Any("error", e.Err))
}

func (s *Session) scheduleRetryLocked(delay time.Duration) {
	s.retryGen++
	gen := s.retryGen
	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	s.retryTimer = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.destroyed || gen != s.retryGen {
			s.mu.Unlock()
			return
		}
		s.retryTimer = nil
		s.mu.Unlock()
		s.engine.StartLoad()
	})
}

func (s *Session) handleElementEvent(ev media.Event) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	changed := false
	switch ev.Type {
	case media.EventWaiting:
		changed = !s.sig.ElementWaiting
		s.sig.ElementWaiting = true
	case media.EventCanPlay:
		changed = s.sig.ElementWaiting
		s.sig.ElementWaiting = false
	case media.EventPlay:
		changed = s.autoplayBlocked
		s.autoplayBlocked = false
	case media.EventTimeUpdate:
		if s.mediaRecovering && s.el != nil && s.el.CurrentTime() > s.recoveredAt {
			s.mediaRecovering = false
		}
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Session) autoplay(ctx context.Context, el media.Element, startMuted bool) {
	if el == nil {
		return
	}
	el.SetMuted(startMuted)
	err := el.Play(ctx, media.OriginAutoplay)
	if err == nil {
		return
	}
	if errors.Is(err, media.ErrAutoplayBlocked) {
		s.mu.Lock()
		s.autoplayBlocked = true
		s.mu.Unlock()
		s.metrics.IncAutoplayBlocked()
		s.log.Info("autoplay blocked, waiting for user gesture")
		return
	}
	s.metrics.IncBestEffortFailures("autoplay")
	s.log.Warn("autoplay failed", slog.Any("error", err))
}

func (s *Session) notify() {
	if s.observer == nil {
		return
	}
	s.observer(s.State())
}

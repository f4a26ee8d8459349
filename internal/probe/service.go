package probe

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"hls-player/internal/engine"
	"hls-player/internal/input"
	"hls-player/internal/media"
	"hls-player/internal/platform/logger"
	"hls-player/internal/platform/metrics"
	"hls-player/internal/player"
	"hls-player/internal/protection"
	"hls-player/internal/stream"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTick          = 250 * time.Millisecond
	defaultSurfaceWidth  = 1280
	defaultSurfaceHeight = 720
)

// ErrNoWatermark is returned when a probe has no viewer to watermark.
var ErrNoWatermark = errors.New("probe has no watermark")

// Config configures a Service. Zero values are usable.
type Config struct {
	// Tick is how often the driver advances playing elements.
	Tick           time.Duration
	SurfaceWidth   float64
	SurfaceHeight  float64
	AutoplayPolicy media.AutoplayPolicy
	Player         player.Config
	CaptureWindow  time.Duration
	Capabilities   *protection.Capabilities
	Engine         engine.Config
	Clock          clockwork.Clock
	Log            *slog.Logger
	Metrics        *metrics.Metrics
}

// Service creates headless players and drives their playback clocks.
type Service struct {
	reg     *Registry
	cfg     Config
	clock   clockwork.Clock
	log     *slog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

func NewService(reg *Registry, cfg Config) *Service {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.SurfaceWidth <= 0 || cfg.SurfaceHeight <= 0 {
		cfg.SurfaceWidth, cfg.SurfaceHeight = defaultSurfaceWidth, defaultSurfaceHeight
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		reg:     reg,
		cfg:     cfg,
		clock:   cfg.Clock,
		log:     logger.OrDiscard(cfg.Log),
		metrics: cfg.Metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Create builds a headless player for req.Src and mounts it. Players outlive
// the request that created them, so they run on the service's context.
func (s *Service) Create(req CreateRequest) (*Probe, error) {
	if req.Src == "" {
		return nil, player.ErrMissingSource
	}

	id := ID(uuid.NewString())
	log := s.log.With(slog.String("probe_id", string(id)))
	p := &Probe{
		ID:        id,
		CreatedAt: s.clock.Now().UTC(),
		Request:   req,
		Element:   media.NewVirtual(s.cfg.AutoplayPolicy),
		Surface:   media.NewSurface(s.cfg.SurfaceWidth, s.cfg.SurfaceHeight, media.FullscreenAllowed),
		Keys:      input.NewDispatcher(),
	}
	p.Overlay = protection.New(protection.Config{
		Capabilities:  s.cfg.Capabilities,
		CaptureWindow: s.cfg.CaptureWindow,
		Clock:         s.clock,
		Log:           log,
		Metrics:       s.metrics,
		Notify:        p.addNotice,
	})

	pcfg := s.cfg.Player
	pcfg.Clock = s.clock
	pcfg.Log = log
	pcfg.Metrics = s.metrics
	pcfg.Overlay = p.Overlay
	pcfg.OnSubscribePrompt = p.promptRaised

	ecfg := s.cfg.Engine
	ecfg.Log = log
	if ecfg.Clock == nil {
		ecfg.Clock = s.clock
	}
	newEngine := func() stream.Engine { return engine.New(ecfg) }

	p.Shell = player.New(p.Element, p.Surface, p.Keys, newEngine, pcfg)

	if err := s.reg.Add(p); err != nil {
		return nil, err
	}
	err := p.Shell.Mount(s.ctx, player.Props{
		Src:             req.Src,
		Title:           req.Title,
		AutoPlay:        req.AutoPlay,
		IsPreview:       req.IsPreview,
		Protection:      protection.Options{ContentID: req.ContentID, ViewerID: req.ViewerID},
		OnVideoComplete: p.completed,
	})
	if err != nil {
		s.reg.Remove(id)
		return nil, err
	}

	s.metrics.SetActiveSessions(s.reg.Count())
	log.Info("probe created", slog.String("src", req.Src), slog.Bool("auto_play", req.AutoPlay))
	return p, nil
}

func (s *Service) Get(id ID) (*Probe, error) {
	return s.reg.Get(id)
}

// Delete unmounts and forgets a probe.
func (s *Service) Delete(id ID) error {
	p, err := s.reg.Remove(id)
	if err != nil {
		return err
	}
	p.Shell.Unmount()
	s.metrics.SetActiveSessions(s.reg.Count())
	s.log.Info("probe deleted", slog.String("probe_id", string(id)))
	return nil
}

func (s *Service) SetQuality(id ID, index int) error {
	p, err := s.reg.Get(id)
	if err != nil {
		return err
	}
	p.Shell.SetQuality(index)
	return nil
}

func (s *Service) TogglePlay(id ID) error {
	p, err := s.reg.Get(id)
	if err != nil {
		return err
	}
	p.Shell.TogglePlay(s.ctx)
	return nil
}

func (s *Service) Seek(id ID, fraction float64) error {
	p, err := s.reg.Get(id)
	if err != nil {
		return err
	}
	p.Shell.SeekFraction(fraction)
	return nil
}

func (s *Service) SetVolume(id ID, v float64) error {
	p, err := s.reg.Get(id)
	if err != nil {
		return err
	}
	p.Shell.SetVolume(v)
	return nil
}

func (s *Service) Retry(id ID) error {
	p, err := s.reg.Get(id)
	if err != nil {
		return err
	}
	return p.Shell.Retry(s.ctx)
}

// Key dispatches a key press on the probe's surface and reports whether a
// listener prevented its default action.
func (s *Service) Key(id ID, req KeyRequest) (bool, error) {
	p, err := s.reg.Get(id)
	if err != nil {
		return false, err
	}
	return p.Keys.DispatchKey(input.NewKeyEvent(req.Key, req.Ctrl, req.Meta, req.Shift)), nil
}

func (s *Service) Watermark(id ID) (protection.Watermark, error) {
	p, err := s.reg.Get(id)
	if err != nil {
		return protection.Watermark{}, err
	}
	wm, ok := p.Overlay.Watermark()
	if !ok {
		return protection.Watermark{}, ErrNoWatermark
	}
	return wm, nil
}

// Count returns the number of live probes.
func (s *Service) Count() int {
	return s.reg.Count()
}

// Advance moves every playing element forward by dt.
func (s *Service) Advance(dt time.Duration) {
	for _, p := range s.reg.List() {
		p.Element.Advance(dt.Seconds())
	}
}

// Run advances playback once per tick until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	s.log.Debug("probe driver started", slog.Duration("tick", s.cfg.Tick))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			s.Advance(s.cfg.Tick)
		}
	}
}

// Close unmounts every probe in parallel and cancels their context.
func (s *Service) Close() {
	var g errgroup.Group
	for _, p := range s.reg.List() {
		p := p // per-iteration copy (go 1.21 loop semantics)
		g.Go(func() error {
			return s.Delete(p.ID)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, ErrNotFound) {
		s.log.Warn("probe shutdown", slog.Any("error", err))
	}
	s.cancel()
}

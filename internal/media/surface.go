package media

import (
	"errors"
	"sync"
)

// ErrFullscreenDenied is returned when the surface refuses a fullscreen request.
var ErrFullscreenDenied = errors.New("media: fullscreen request denied")

// Rect is a bounding box in surface pixels.
type Rect struct {
	X, Y, Width, Height float64
}

// Fullscreener is the part of a container that owns fullscreen state.
type Fullscreener interface {
	RequestFullscreen() error
	ExitFullscreen() error
	IsFullscreen() bool
}

// FullscreenPolicy decides whether RequestFullscreen succeeds.
type FullscreenPolicy int

const (
	FullscreenAllowed FullscreenPolicy = iota
	FullscreenDenied
)

// Surface is the container that hosts the element and any overlays. Going
// fullscreen on the surface rather than the element keeps overlays visible.
type Surface struct {
	mu          sync.Mutex
	policy      FullscreenPolicy
	fullscreen  bool
	bounds      Rect
	progressBar Rect
}

// NewSurface returns a surface of the given size with a progress bar spanning
// its full width along the bottom edge.
func NewSurface(width, height float64, policy FullscreenPolicy) *Surface {
	return &Surface{
		policy:      policy,
		bounds:      Rect{Width: width, Height: height},
		progressBar: Rect{X: 0, Y: height - 8, Width: width, Height: 8},
	}
}

func (s *Surface) RequestFullscreen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policy == FullscreenDenied {
		return ErrFullscreenDenied
	}
	s.fullscreen = true
	return nil
}

func (s *Surface) ExitFullscreen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fullscreen = false
	return nil
}

func (s *Surface) IsFullscreen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fullscreen
}

// Bounds returns the surface's bounding box.
func (s *Surface) Bounds() Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bounds
}

// ProgressBar returns the progress bar's bounding box.
func (s *Surface) ProgressBar() Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressBar
}

// SetProgressBar moves or resizes the progress bar.
func (s *Surface) SetProgressBar(r Rect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progressBar = r
}

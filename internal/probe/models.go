package probe

import (
	"math"
	"sync"
	"time"

	"hls-player/internal/input"
	"hls-player/internal/media"
	"hls-player/internal/player"
	"hls-player/internal/protection"
)

// ID uniquely identifies a probe.
type ID string

// CreateRequest is the body of POST /probes.
type CreateRequest struct {
	Src       string `json:"src"`
	Title     string `json:"title,omitempty"`
	ViewerID  string `json:"viewer_id,omitempty"`
	ContentID string `json:"content_id,omitempty"`
	AutoPlay  bool   `json:"auto_play"`
	IsPreview bool   `json:"is_preview"`
}

// KeyRequest is the body of POST /probes/{id}/keys.
type KeyRequest struct {
	Key   string `json:"key"`
	Ctrl  bool   `json:"ctrl"`
	Meta  bool   `json:"meta"`
	Shift bool   `json:"shift"`
}

// Probe is one headless player: an in-memory element and surface with a
// real engine fetching the stream.
type Probe struct {
	ID        ID
	CreatedAt time.Time
	Request   CreateRequest

	Element *media.Virtual
	Surface *media.Surface
	Keys    *input.Dispatcher
	Overlay *protection.Overlay
	Shell   *player.Shell

	mu          sync.Mutex
	notices     []protection.Notice
	prompts     int
	completions int
}

func (p *Probe) addNotice(n protection.Notice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, n)
}

func (p *Probe) promptRaised() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts++
}

func (p *Probe) completed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completions++
}

// View is the JSON snapshot served by GET /probes/{id}.
type View struct {
	ID          ID                  `json:"id"`
	CreatedAt   time.Time           `json:"created_at"`
	Player      player.Snapshot     `json:"player"`
	Duration    *float64            `json:"duration,omitempty"`
	Live        bool                `json:"live"`
	Notices     []protection.Notice `json:"notices"`
	Prompts     int                 `json:"prompts"`
	Completions int                 `json:"completions"`
}

// View snapshots the probe. Duration is omitted until known and Live is set
// for streams without an end.
func (p *Probe) View() View {
	snap := p.Shell.Snapshot()

	p.mu.Lock()
	notices := make([]protection.Notice, len(p.notices))
	copy(notices, p.notices)
	v := View{
		ID:          p.ID,
		CreatedAt:   p.CreatedAt,
		Player:      snap,
		Notices:     notices,
		Prompts:     p.prompts,
		Completions: p.completions,
	}
	p.mu.Unlock()

	d := snap.Playback.Duration
	switch {
	case math.IsInf(d, 1):
		v.Live = true
	case !math.IsNaN(d):
		v.Duration = &d
	}
	return v
}

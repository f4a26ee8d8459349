package media

import (
	"context"
	"math"
	"sync"
)

// AutoplayPolicy decides whether programmatic playback may start.
type AutoplayPolicy int

const (
	// BlockUnmuted mirrors the default browser policy: muted autoplay is
	// allowed, audible autoplay is not.
	BlockUnmuted AutoplayPolicy = iota
	AllowAll
	BlockAll
)

// Virtual is an in-memory Element. Playback time only moves when the host
// calls Advance, so a driver (or a test) owns the clock. Events are
// dispatched synchronously, outside the element's lock, in the order the
// state changes happened.
type Virtual struct {
	mu          sync.Mutex
	policy      AutoplayPolicy
	src         string
	loaded      bool
	paused      bool
	ended       bool
	waiting     bool
	currentTime float64
	duration    float64
	volume      float64
	muted       bool
	connected   bool

	nextID    int
	listeners []listener
}

type listener struct {
	id int
	fn func(Event)
}

// NewVirtual returns a connected, paused element with volume 1 and unknown
// duration.
func NewVirtual(policy AutoplayPolicy) *Virtual {
	return &Virtual{
		policy:    policy,
		paused:    true,
		duration:  math.NaN(),
		volume:    1,
		connected: true,
	}
}

// Subscribe registers fn for every subsequent event. The returned function
// removes it; calling it more than once is a no-op.
func (v *Virtual) Subscribe(fn func(Event)) func() {
	v.mu.Lock()
	v.nextID++
	id := v.nextID
	v.listeners = append(v.listeners, listener{id: id, fn: fn})
	v.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			for i, l := range v.listeners {
				if l.id == id {
					v.listeners = append(v.listeners[:i:i], v.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// ListenerCount reports the number of live subscriptions.
func (v *Virtual) ListenerCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.listeners)
}

func (v *Virtual) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	v.mu.Lock()
	ls := make([]listener, len(v.listeners))
	copy(ls, v.listeners)
	v.mu.Unlock()

	for _, ev := range events {
		for _, l := range ls {
			l.fn(ev)
		}
	}
}

// Load implements Loader. It replaces the source, resets position and emits
// loadedmetadata followed by canplay.
func (v *Virtual) Load(src Source) {
	v.mu.Lock()
	v.src = src.URL
	v.loaded = true
	v.ended = false
	v.waiting = false
	v.currentTime = 0
	v.duration = src.Duration
	v.mu.Unlock()
	v.emit(Event{Type: EventLoadedMetadata}, Event{Type: EventCanPlay})
}

// Reset implements Loader. Position and duration survive; a pending stall
// is cleared and canplay is emitted once decoding can resume.
func (v *Virtual) Reset() {
	v.mu.Lock()
	wasWaiting := v.waiting
	v.waiting = false
	loaded := v.loaded
	v.mu.Unlock()
	if loaded || wasWaiting {
		v.emit(Event{Type: EventCanPlay})
	}
}

// Unload implements Loader. The element goes back to its unloaded state:
// no source, paused at zero with unknown duration. Unloading an empty
// element emits nothing.
func (v *Virtual) Unload() {
	v.mu.Lock()
	if !v.loaded && v.src == "" {
		v.mu.Unlock()
		return
	}
	v.src = ""
	v.loaded = false
	v.paused = true
	v.ended = false
	v.waiting = false
	v.currentTime = 0
	v.duration = math.NaN()
	v.mu.Unlock()
	v.emit(Event{Type: EventEmptied})
}

// Play starts playback. Programmatic starts are subject to the autoplay
// policy; user-initiated starts never are.
func (v *Virtual) Play(ctx context.Context, origin PlayOrigin) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	if !v.loaded {
		v.mu.Unlock()
		return ErrNoSource
	}
	if origin == OriginAutoplay {
		switch v.policy {
		case BlockAll:
			v.mu.Unlock()
			return ErrAutoplayBlocked
		case BlockUnmuted:
			if !v.muted && v.volume > 0 {
				v.mu.Unlock()
				return ErrAutoplayBlocked
			}
		}
	}
	if !v.paused {
		v.mu.Unlock()
		return nil
	}
	v.paused = false
	var events []Event
	if v.ended {
		// Playing an ended element restarts it.
		v.ended = false
		v.currentTime = 0
		events = append(events, Event{Type: EventTimeUpdate})
	}
	events = append(events, Event{Type: EventPlay})
	v.mu.Unlock()
	v.emit(events...)
	return nil
}

// Pause stops playback. Pausing a paused element emits nothing.
func (v *Virtual) Pause() {
	v.mu.Lock()
	if v.paused {
		v.mu.Unlock()
		return
	}
	v.paused = true
	v.mu.Unlock()
	v.emit(Event{Type: EventPause})
}

func (v *Virtual) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

func (v *Virtual) CurrentTime() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.currentTime
}

func (v *Virtual) Duration() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.duration
}

// Seek moves the playhead, clamped to [0, duration]. Seeking before metadata
// has loaded is ignored.
func (v *Virtual) Seek(t float64) {
	v.mu.Lock()
	if !v.loaded || math.IsNaN(v.duration) || math.IsNaN(t) {
		v.mu.Unlock()
		return
	}
	v.currentTime = clamp(t, 0, v.duration)
	if v.currentTime < v.duration {
		v.ended = false
	}
	v.mu.Unlock()
	v.emit(Event{Type: EventTimeUpdate})
}

// Advance moves the playhead forward by dt seconds while playing and not
// stalled. Reaching the end pauses the element and emits ended.
func (v *Virtual) Advance(dt float64) {
	v.mu.Lock()
	if v.paused || v.waiting || !v.loaded || dt <= 0 {
		v.mu.Unlock()
		return
	}
	events := []Event{{Type: EventTimeUpdate}}
	v.currentTime += dt
	if !math.IsNaN(v.duration) && v.currentTime >= v.duration {
		v.currentTime = v.duration
		v.paused = true
		v.ended = true
		events = append(events, Event{Type: EventPause}, Event{Type: EventEnded})
	}
	v.mu.Unlock()
	v.emit(events...)
}

func (v *Virtual) Volume() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.volume
}

// SetVolume clamps to [0,1]. It never touches the muted flag.
func (v *Virtual) SetVolume(vol float64) {
	if math.IsNaN(vol) {
		return
	}
	v.mu.Lock()
	vol = clamp(vol, 0, 1)
	if vol == v.volume {
		v.mu.Unlock()
		return
	}
	v.volume = vol
	v.mu.Unlock()
	v.emit(Event{Type: EventVolumeChange})
}

func (v *Virtual) Muted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.muted
}

func (v *Virtual) SetMuted(muted bool) {
	v.mu.Lock()
	if v.muted == muted {
		v.mu.Unlock()
		return
	}
	v.muted = muted
	v.mu.Unlock()
	v.emit(Event{Type: EventVolumeChange})
}

func (v *Virtual) Connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected
}

// Detach marks the element as removed from its surface.
func (v *Virtual) Detach() {
	v.mu.Lock()
	v.connected = false
	v.mu.Unlock()
}

// SetWaiting models a decode-pipeline stall (waiting) and its recovery (canplay).
func (v *Virtual) SetWaiting(waiting bool) {
	v.mu.Lock()
	if v.waiting == waiting {
		v.mu.Unlock()
		return
	}
	v.waiting = waiting
	v.mu.Unlock()
	if waiting {
		v.emit(Event{Type: EventWaiting})
	} else {
		v.emit(Event{Type: EventCanPlay})
	}
}

// FailDecode reports a decode failure to subscribers.
func (v *Virtual) FailDecode() {
	v.emit(Event{Type: EventError, Err: ErrDecode})
}

// Source returns the URL of the loaded source, if any.
func (v *Virtual) Source() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.src
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

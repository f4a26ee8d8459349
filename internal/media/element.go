// Package media models the playback surface a player drives: a media element
// with the usual transport primitives and event stream, and the container
// surface that owns fullscreen and layout.
package media

import (
	"context"
	"errors"
)

// EventType names a media element event.
type EventType string

const (
	EventLoadedMetadata EventType = "loadedmetadata"
	EventTimeUpdate     EventType = "timeupdate"
	EventPlay           EventType = "play"
	EventPause          EventType = "pause"
	EventEnded          EventType = "ended"
	EventWaiting        EventType = "waiting"
	EventCanPlay        EventType = "canplay"
	EventVolumeChange   EventType = "volumechange"
	EventError          EventType = "error"
	EventEmptied        EventType = "emptied"
)

// Event is delivered to element subscribers. Err is set for EventError.
type Event struct {
	Type EventType
	Err  error
}

// PlayOrigin tells the element who asked for playback. Autoplay policies
// only ever reject OriginAutoplay.
type PlayOrigin int

const (
	OriginUser PlayOrigin = iota
	OriginAutoplay
)

var (
	// ErrAutoplayBlocked is returned by Play when the autoplay policy refuses
	// a programmatic start.
	ErrAutoplayBlocked = errors.New("media: autoplay blocked by policy")

	// ErrNoSource is returned by Play before any source has been loaded.
	ErrNoSource = errors.New("media: no source loaded")

	// ErrDecode is carried by EventError when the decode pipeline fails.
	ErrDecode = errors.New("media: decode error")
)

// Element is the media element shared by a stream session (source and
// quality) and a playback controller (transport and volume).
type Element interface {
	Play(ctx context.Context, origin PlayOrigin) error
	Pause()
	Paused() bool
	CurrentTime() float64
	// Duration is NaN until metadata has loaded.
	Duration() float64
	Seek(t float64)
	Volume() float64
	SetVolume(v float64)
	Muted() bool
	SetMuted(muted bool)
	// Connected reports whether the element is attached to a rendering surface.
	Connected() bool
	Subscribe(fn func(Event)) (unsubscribe func())
}

// Source describes what an engine loads into an element once a level
// playlist is known.
type Source struct {
	URL      string
	Duration float64
}

// Loader is implemented by elements an engine can feed directly.
type Loader interface {
	Load(src Source)
	// Reset drops decode state so the current source can be reloaded in place.
	Reset()
	// Unload removes the source entirely and emits emptied.
	Unload()
}

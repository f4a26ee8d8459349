package stream

import "hls-player/internal/media"

// EngineEventType names an event delivered by an Engine.
type EngineEventType int

const (
	EventManifestParsed EngineEventType = iota
	EventLevelSwitched
	EventBufferStalled
	EventBufferRecovered
	EventError
)

func (t EngineEventType) String() string {
	switch t {
	case EventManifestParsed:
		return "manifest_parsed"
	case EventLevelSwitched:
		return "level_switched"
	case EventBufferStalled:
		return "buffer_stalled"
	case EventBufferRecovered:
		return "buffer_recovered"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// EngineError is the payload of EventError.
type EngineError struct {
	Kind    ErrorKind
	Fatal   bool
	Details string
	Err     error
}

// EngineEvent is delivered to engine subscribers. Levels is set for
// EventManifestParsed; Level and Auto for EventLevelSwitched; Error for
// EventError.
type EngineEvent struct {
	Type   EngineEventType
	Levels []Level
	Level  int
	Auto   bool
	Error  *EngineError
}

// Engine is an adaptive-streaming engine. Implementations perform network
// I/O off the caller's goroutine and report progress only through events.
type Engine interface {
	Attach(el media.Element)
	Load(url string)
	// StartLoad restarts the load loop after a network failure.
	StartLoad()
	// RecoverMediaError reloads the current level into the element in place.
	RecoverMediaError()
	// SetLevel pins a level, or restores ABR with AutoLevel.
	SetLevel(index int)
	Subscribe(fn func(EngineEvent)) (unsubscribe func())
	Destroy()
}

// Package stream owns the adaptive-streaming engine bound to one media
// element and one manifest URL: level tracking, buffering state and the
// error recovery policy.
package stream

import (
	"errors"
	"fmt"
)

// BufferingState is derived from engine and element signals; callers never
// set it directly.
type BufferingState int

const (
	Idle BufferingState = iota
	Loading
	Buffering
	Ready
)

func (s BufferingState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Buffering:
		return "buffering"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// MarshalText lets snapshots serialize the state by name.
func (s BufferingState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrorKind classifies engine errors.
type ErrorKind string

const (
	KindNetwork ErrorKind = "network"
	KindMedia   ErrorKind = "media"
	KindMux     ErrorKind = "mux"
	KindOther   ErrorKind = "other"
)

// AutoLevel selects automatic (ABR) level selection.
const AutoLevel = -1

// Level is one quality variant from the manifest.
type Level struct {
	Height  int    `json:"height"`
	Bitrate int64  `json:"bitrate"`
	URL     string `json:"-"`
}

// FatalError is set once a session cannot continue without being restarted.
type FatalError struct {
	Kind        ErrorKind `json:"kind"`
	Recoverable bool      `json:"recoverable"`
	Details     string    `json:"details"`
	Err         error     `json:"-"`
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal %s error (%s): %v", e.Kind, e.Details, e.Err)
	}
	return fmt.Sprintf("fatal %s error (%s)", e.Kind, e.Details)
}

func (e *FatalError) Unwrap() error { return e.Err }

var (
	// ErrSessionDestroyed is returned by Start after Destroy.
	ErrSessionDestroyed = errors.New("stream: session destroyed")

	// ErrAlreadyStarted is returned by a second Start on the same session.
	ErrAlreadyStarted = errors.New("stream: session already started")

	// ErrNoElement is returned by Start without a media element.
	ErrNoElement = errors.New("stream: no media element")
)

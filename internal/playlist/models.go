package playlist

import "errors"

// Segment is a single media segment of a level playlist.
type Segment struct {
	Sequence int64
	Duration float64
	URI      string
}

// Variant is one EXT-X-STREAM-INF entry of a master playlist.
type Variant struct {
	URI              string
	Bandwidth        int64
	AverageBandwidth int64
	Width            int
	Height           int
	Codecs           string
}

// Master is a parsed master playlist. A media playlist fetched as a manifest
// parses into a Master with one implicit variant pointing back at itself.
type Master struct {
	Variants []Variant
	Implicit bool
}

// Media is a parsed media (level) playlist.
type Media struct {
	TargetDuration int
	MediaSequence  int64
	Segments       []Segment
	TotalDuration  float64
	VOD            bool
}

var (
	// ErrNotPlaylist is returned when the body does not start with #EXTM3U.
	ErrNotPlaylist = errors.New("playlist: missing #EXTM3U header")

	// ErrEmptyPlaylist is returned when a manifest has neither variants nor segments.
	ErrEmptyPlaylist = errors.New("playlist: no variants or segments")

	// ErrMalformed wraps tag-level parse failures.
	ErrMalformed = errors.New("playlist: malformed tag")
)

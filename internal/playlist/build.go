package playlist

import (
	"fmt"
	"math"
	"strings"
)

// BuildMediaPlaylist renders segments (ordered by sequence ascending) as an
// HLS media playlist. If ended is true, #EXT-X-ENDLIST is appended. An empty
// segments slice produces a minimal valid playlist with media sequence 0.
func BuildMediaPlaylist(segments []Segment, ended bool) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	if len(segments) == 0 {
		b.WriteString("#EXT-X-TARGETDURATION:1\n")
		b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
		if ended {
			b.WriteString("#EXT-X-ENDLIST\n")
		}
		return b.String()
	}

	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration(segments))
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n\n", segments[0].Sequence)

	for _, seg := range segments {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", seg.Duration)
		b.WriteString(seg.URI)
		b.WriteString("\n")
	}

	if ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

// BuildMasterPlaylist renders variants as an HLS master playlist.
func BuildMasterPlaylist(variants []Variant) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, v := range variants {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d", v.Bandwidth)
		if v.AverageBandwidth > 0 {
			fmt.Fprintf(&b, ",AVERAGE-BANDWIDTH=%d", v.AverageBandwidth)
		}
		if v.Width > 0 && v.Height > 0 {
			fmt.Fprintf(&b, ",RESOLUTION=%dx%d", v.Width, v.Height)
		}
		if v.Codecs != "" {
			fmt.Fprintf(&b, ",CODECS=%q", v.Codecs)
		}
		b.WriteString("\n")
		b.WriteString(v.URI)
		b.WriteString("\n")
	}
	return b.String()
}

// targetDuration returns the #EXT-X-TARGETDURATION value: the ceiling of the
// longest segment duration in whole seconds.
func targetDuration(segments []Segment) int {
	longest := 0.0
	for _, seg := range segments {
		longest = math.Max(longest, seg.Duration)
	}
	if longest <= 0 {
		return 1
	}
	return int(math.Ceil(longest))
}

package playlist

import (
	"bufio"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ParseMaster parses a manifest body fetched from manifestURL. Variant URIs
// are resolved against manifestURL. A body with segments but no
// EXT-X-STREAM-INF is treated as a single-level stream.
func ParseMaster(body, manifestURL string) (*Master, error) {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("parse manifest url: %w", err)
	}

	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		master     Master
		pending    *Variant
		sawHeader  bool
		sawSegment bool
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !sawHeader {
			if line != "#EXTM3U" {
				return nil, ErrNotPlaylist
			}
			sawHeader = true
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			v, err := parseStreamInf(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
			if err != nil {
				return nil, err
			}
			pending = &v
		case strings.HasPrefix(line, "#EXTINF:"):
			sawSegment = true
		case strings.HasPrefix(line, "#"):
			// Other tags do not affect level selection.
		default:
			if pending == nil {
				continue
			}
			pending.URI = resolve(base, line)
			master.Variants = append(master.Variants, *pending)
			pending = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawHeader {
		return nil, ErrNotPlaylist
	}

	if len(master.Variants) == 0 {
		if !sawSegment {
			return nil, ErrEmptyPlaylist
		}
		master.Implicit = true
		master.Variants = []Variant{{URI: base.String()}}
	}
	return &master, nil
}

// ParseMedia parses a level playlist.
func ParseMedia(body string) (*Media, error) {
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		m            Media
		sawHeader    bool
		nextDuration float64
		haveInf      bool
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !sawHeader {
			if line != "#EXTM3U" {
				return nil, ErrNotPlaylist
			}
			sawHeader = true
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			n, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"))
			if err != nil {
				return nil, fmt.Errorf("%w: target duration %q", ErrMalformed, line)
			}
			m.TargetDuration = n
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			n, err := strconv.ParseInt(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: media sequence %q", ErrMalformed, line)
			}
			m.MediaSequence = n
		case strings.HasPrefix(line, "#EXT-X-PLAYLIST-TYPE:VOD"), line == "#EXT-X-ENDLIST":
			m.VOD = true
		case strings.HasPrefix(line, "#EXTINF:"):
			durPart := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.Index(durPart, ","); idx != -1 {
				durPart = durPart[:idx]
			}
			secs, err := strconv.ParseFloat(durPart, 64)
			if err != nil || secs < 0 {
				return nil, fmt.Errorf("%w: EXTINF duration %q", ErrMalformed, durPart)
			}
			nextDuration = secs
			haveInf = true
		case strings.HasPrefix(line, "#"):
		default:
			if !haveInf {
				continue
			}
			m.Segments = append(m.Segments, Segment{
				Sequence: m.MediaSequence + int64(len(m.Segments)),
				Duration: nextDuration,
				URI:      line,
			})
			m.TotalDuration += nextDuration
			nextDuration = 0
			haveInf = false
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawHeader {
		return nil, ErrNotPlaylist
	}
	return &m, nil
}

func parseStreamInf(attrs string) (Variant, error) {
	var v Variant
	for key, val := range splitAttributes(attrs) {
		switch key {
		case "BANDWIDTH":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return v, fmt.Errorf("%w: BANDWIDTH %q", ErrMalformed, val)
			}
			v.Bandwidth = n
		case "AVERAGE-BANDWIDTH":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return v, fmt.Errorf("%w: AVERAGE-BANDWIDTH %q", ErrMalformed, val)
			}
			v.AverageBandwidth = n
		case "RESOLUTION":
			w, h, ok := strings.Cut(val, "x")
			if !ok {
				return v, fmt.Errorf("%w: RESOLUTION %q", ErrMalformed, val)
			}
			width, err1 := strconv.Atoi(w)
			height, err2 := strconv.Atoi(h)
			if err1 != nil || err2 != nil {
				return v, fmt.Errorf("%w: RESOLUTION %q", ErrMalformed, val)
			}
			v.Width, v.Height = width, height
		case "CODECS":
			v.Codecs = val
		}
	}
	return v, nil
}

// splitAttributes splits an HLS attribute list, honouring quoted values that
// contain commas. Quotes are stripped from the returned values.
func splitAttributes(s string) map[string]string {
	out := make(map[string]string)
	var (
		b       strings.Builder
		inQuote bool
		parts   []string
	)
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ',' && !inQuote:
			parts = append(parts, b.String())
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	parts = append(parts, b.String())

	for _, p := range parts {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

package protection

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// ProductionOpacity keeps the watermark near-invisible on normal content
	// while remaining recoverable from a capture.
	ProductionOpacity = 0.04
	// RevealOpacity is used when a debug build reveals the watermark.
	RevealOpacity = 0.35

	viewerPrefixRunes = 8
)

// WatermarkConfig controls how the watermark is laid out over a surface.
type WatermarkConfig struct {
	Opacity     float64
	RotationDeg float64
	FontSize    int
	// Spacing is the distance between tile origins in surface pixels.
	Spacing float64
}

// DefaultWatermarkConfig returns the production layout.
func DefaultWatermarkConfig() WatermarkConfig {
	return WatermarkConfig{
		Opacity:     ProductionOpacity,
		RotationDeg: -30,
		FontSize:    14,
		Spacing:     220,
	}
}

// Point is a tile origin.
type Point struct {
	X, Y float64
}

// Watermark is a rendered, tiled text overlay. It never takes pointer input.
type Watermark struct {
	Text          string  `json:"text"`
	ContentID     string  `json:"content_id"`
	Opacity       float64 `json:"opacity"`
	RotationDeg   float64 `json:"rotation_deg"`
	FontSize      int     `json:"font_size"`
	Tiles         []Point `json:"tiles"`
	Width         float64 `json:"width"`
	Height        float64 `json:"height"`
	PointerEvents string  `json:"pointer_events"`
}

// RenderWatermark composes the truncated viewer id and the UTC date of now
// into a tiled overlay covering a width x height surface.
func RenderWatermark(viewerID, contentID string, now time.Time, width, height float64, cfg WatermarkConfig) Watermark {
	def := DefaultWatermarkConfig()
	if cfg.Opacity <= 0 {
		cfg.Opacity = def.Opacity
	}
	if cfg.FontSize <= 0 {
		cfg.FontSize = def.FontSize
	}
	if cfg.Spacing <= 0 {
		cfg.Spacing = def.Spacing
	}

	text := fmt.Sprintf("%s · %s", truncateRunes(viewerID, viewerPrefixRunes), now.UTC().Format("2006-01-02"))

	var tiles []Point
	// Rotation pushes text past the edges, so tiles start half a step outside.
	for y := -cfg.Spacing / 2; y < height+cfg.Spacing/2; y += cfg.Spacing {
		for x := -cfg.Spacing / 2; x < width+cfg.Spacing/2; x += cfg.Spacing {
			tiles = append(tiles, Point{X: x, Y: y})
		}
	}

	return Watermark{
		Text:          text,
		ContentID:     contentID,
		Opacity:       cfg.Opacity,
		RotationDeg:   cfg.RotationDeg,
		FontSize:      cfg.FontSize,
		Tiles:         tiles,
		Width:         width,
		Height:        height,
		PointerEvents: "none",
	}
}

// SVG renders the watermark as a standalone SVG document sized to the surface.
func (w Watermark) SVG() string {
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%g" height="%g" style="position:absolute;inset:0;pointer-events:%s" data-content="%s">`,
		w.Width, w.Height, w.PointerEvents, html.EscapeString(w.ContentID))
	fmt.Fprintf(&b, `<g fill="#fff" fill-opacity="%.2f" font-family="sans-serif" font-size="%d">`, w.Opacity, w.FontSize)
	text := html.EscapeString(w.Text)
	for _, p := range w.Tiles {
		fmt.Fprintf(&b, `<text x="%g" y="%g" transform="rotate(%g %g %g)">%s</text>`, p.X, p.Y, w.RotationDeg, p.X, p.Y, text)
	}
	b.WriteString("</g></svg>")
	return b.String()
}

// DrawtextFilter renders the watermark as an FFmpeg drawtext filter for
// server-side burn-in. Only characters that cannot break the filter graph
// are kept.
func (w Watermark) DrawtextFilter() string {
	return fmt.Sprintf(
		"drawtext=text='%s':x=(w-tw)/2:y=(h-th)/2:fontsize=%d:fontcolor=white@%.2f",
		sanitizeFilterText(w.Text), w.FontSize, w.Opacity,
	)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func sanitizeFilterText(s string) string {
	var sb strings.Builder
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == ' ':
			sb.WriteRune(c)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

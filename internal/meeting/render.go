package meeting

import (
	"fmt"
	"math"
	"time"
)

// Lines is the two-line payload shown on a tile.
type Lines struct {
	Title    string
	Subtitle string
}

// Formatter turns a resolved meeting into display lines.
type Formatter struct {
	TitleWidth  int
	ErrorWidth  int
	ClockFormat string
	Location    *time.Location
	Thresholds  Thresholds
}

var DefaultFormatter = Formatter{
	TitleWidth:  16,
	ErrorWidth:  24,
	ClockFormat: "3:04 PM",
	Thresholds:  DefaultThresholds,
}

const ellipsis = "…"

// Render computes the lines for m at now. Status is recomputed from now
// rather than taken from m.
func (f Formatter) Render(m ResolvedMeeting, now time.Time) Lines {
	if m.Failed() {
		return f.RenderError(m.Diagnostic)
	}
	if !m.HasStart() {
		return Lines{Title: "No Events", Subtitle: "All clear"}
	}

	title := m.Title
	if title == "" {
		title = "Meeting"
	}
	lines := Lines{Title: truncate(title, f.titleWidth())}

	end := effectiveEnd(m.Start, m.End)
	switch f.thresholds().Classify(now, m.Start, m.End) {
	case StatusLive:
		lines.Subtitle = fmt.Sprintf("%dm left", roundMinutes(end.Sub(now)))
	case StatusImminent, StatusUpcoming:
		mins := roundMinutes(m.Start.Sub(now))
		if mins <= 1 {
			lines.Subtitle = "now"
		} else {
			lines.Subtitle = fmt.Sprintf("in %dm", mins)
		}
	default:
		lines.Subtitle = m.Start.In(f.location()).Format(f.clockFormat())
	}
	return lines
}

// RenderError builds the error tile lines.
func (f Formatter) RenderError(diagnostic string) Lines {
	if diagnostic == "" {
		diagnostic = "Check auth"
	}
	width := f.ErrorWidth
	if width <= 0 {
		width = DefaultFormatter.ErrorWidth
	}
	runes := []rune(diagnostic)
	if len(runes) > width {
		runes = runes[:width]
	}
	return Lines{Title: "Error", Subtitle: string(runes)}
}

// Status is a convenience for callers that need the tile colour.
func (f Formatter) Status(m ResolvedMeeting, now time.Time) Status {
	if m.Failed() {
		return StatusLive
	}
	return f.thresholds().Classify(now, m.Start, m.End)
}

func (f Formatter) thresholds() Thresholds {
	if f.Thresholds == (Thresholds{}) {
		return DefaultThresholds
	}
	return f.Thresholds
}

func (f Formatter) titleWidth() int {
	if f.TitleWidth <= 1 {
		return DefaultFormatter.TitleWidth
	}
	return f.TitleWidth
}

func (f Formatter) clockFormat() string {
	if f.ClockFormat == "" {
		return DefaultFormatter.ClockFormat
	}
	return f.ClockFormat
}

func (f Formatter) location() *time.Location {
	if f.Location == nil {
		return time.Local
	}
	return f.Location
}

// roundMinutes rounds half up and floors at zero.
func roundMinutes(d time.Duration) int {
	mins := int(math.Floor(d.Minutes() + 0.5))
	if mins < 0 {
		return 0
	}
	return mins
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-1]) + ellipsis
}

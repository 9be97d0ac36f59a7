package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/nextmeeting/internal/meeting"
	"github.com/bnema/nextmeeting/internal/nerdfonts"
)

const classError = "error"

// Output is one rendered tile for terminal or status-bar consumers.
type Output struct {
	Text    string `json:"text"`
	Tooltip string `json:"tooltip"`
	Class   string `json:"class"`
}

type OutputFormatter struct {
	lines      meeting.Formatter
	dateFormat string
	location   *time.Location
}

func NewOutputFormatter(lines meeting.Formatter) *OutputFormatter {
	loc := lines.Location
	if loc == nil {
		loc = time.Local
	}
	return &OutputFormatter{
		lines:      lines,
		dateFormat: "Mon Jan 2 15:04",
		location:   loc,
	}
}

func (of *OutputFormatter) SetDateFormat(format string) {
	of.dateFormat = format
}

// Format renders m as it would appear on the keypad at now.
func (of *OutputFormatter) Format(m meeting.ResolvedMeeting, now time.Time) Output {
	lines := of.lines.Render(m, now)
	class := string(of.lines.Status(m, now))
	if m.Failed() {
		class = classError
	}

	glyph := nerdfonts.ForStatus(class)
	if !m.HasStart() && !m.Failed() {
		glyph = nerdfonts.CalendarCheck
	}

	return Output{
		Text:    fmt.Sprintf("%s %s %s", glyph, lines.Title, lines.Subtitle),
		Tooltip: of.generateTooltip(m, now),
		Class:   class,
	}
}

func (of *OutputFormatter) generateTooltip(m meeting.ResolvedMeeting, now time.Time) string {
	if m.Failed() {
		return fmt.Sprintf("%s %s", nerdfonts.ExclamationTriangle, m.Diagnostic)
	}
	if !m.HasStart() {
		return fmt.Sprintf("%s No upcoming meetings", nerdfonts.Calendar)
	}

	title := m.Title
	if title == "" {
		title = "Meeting"
	}
	lines := []string{title, strings.Repeat("━", len([]rune(title)))}

	start := m.Start.In(of.location)
	when := start.Format(of.dateFormat)
	if !m.End.IsZero() && m.End.After(m.Start) {
		when += " – " + m.End.In(of.location).Format("15:04")
	}
	lines = append(lines, fmt.Sprintf("%s %s", nerdfonts.Clock, when))

	if of.lines.Status(m, now) == meeting.StatusLive && !m.End.IsZero() {
		lines = append(lines, fmt.Sprintf("%s %s left", nerdfonts.Hourglass, formatDuration(m.End.Sub(now))))
	}
	if m.JoinURL != "" {
		lines = append(lines, fmt.Sprintf("%s %s", nerdfonts.Video, m.JoinURL))
	}
	if m.Provider != "" {
		lines = append(lines, fmt.Sprintf("%s %s", nerdfonts.Calendar, m.Provider))
	}
	return strings.Join(lines, "\n")
}

func formatDuration(duration time.Duration) string {
	if duration < 0 {
		return "0m"
	}

	if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	}

	hours := int(duration.Hours())
	minutes := int(duration.Minutes()) % 60
	if minutes == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh%dm", hours, minutes)
}

// FormatJSONOutput outputs the Output as a JSON string
func FormatJSONOutput(output Output) (string, error) {
	data, err := json.Marshal(output)
	if err != nil {
		return "", fmt.Errorf("failed to marshal output: %w", err)
	}
	return string(data), nil
}

// FormatTextOutput outputs a simple text representation
func FormatTextOutput(output Output) string {
	return output.Text
}

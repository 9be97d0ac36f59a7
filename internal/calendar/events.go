package calendar

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
)

// Event is one calendar entry reduced to what the tile needs.
// End is zero when the provider omitted it.
type Event struct {
	CalendarID string
	Title      string
	Start      time.Time
	End        time.Time
	AllDay     bool
	JoinURL    string
}

var urlToken = regexp.MustCompile(`https?://[^\s>"<]+`)

func convertEvent(item *gcal.Event, loc *time.Location) (*Event, error) {
	if item.Start == nil {
		return nil, fmt.Errorf("event has no start time or date")
	}

	start, allDay, err := parseEventTime(item.Start, loc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse start: %w", err)
	}

	event := &Event{
		Title:   strings.TrimSpace(item.Summary),
		Start:   start,
		AllDay:  allDay,
		JoinURL: extractJoinURL(item),
	}

	if item.End != nil {
		end, _, err := parseEventTime(item.End, loc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse end: %w", err)
		}
		event.End = end
	}

	return event, nil
}

// parseEventTime reads dateTime, falling back to an all-day date at local midnight.
func parseEventTime(dt *gcal.EventDateTime, loc *time.Location) (time.Time, bool, error) {
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t, false, err
	}
	if dt.Date != "" {
		t, err := time.ParseInLocation("2006-01-02", dt.Date, loc)
		return t, true, err
	}
	return time.Time{}, false, nil
}

// extractJoinURL prefers the conferencing fields, then the first well-formed
// http(s) URL in the location and then the description.
func extractJoinURL(item *gcal.Event) string {
	if item.HangoutLink != "" {
		return item.HangoutLink
	}

	if item.ConferenceData != nil {
		for _, ep := range item.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" && ep.Uri != "" {
				return ep.Uri
			}
		}
	}

	for _, text := range []string{item.Location, item.Description} {
		if link := firstURL(text); link != "" {
			return link
		}
	}
	return ""
}

func firstURL(text string) string {
	for _, candidate := range urlToken.FindAllString(text, -1) {
		candidate = strings.TrimRight(candidate, ".,;:)]}'")
		parsed, err := url.Parse(candidate)
		if err != nil || parsed.Host == "" {
			continue
		}
		return candidate
	}
	return ""
}

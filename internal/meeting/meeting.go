// Package meeting resolves the next relevant meeting for one keypad
// instance, classifies it and renders it into two display lines.
package meeting

import (
	"sort"
	"time"

	"github.com/bnema/nextmeeting/internal/calendar"
	"github.com/bnema/nextmeeting/internal/credentials"
)

// ResolvedMeeting is the outcome of one resolution cycle. A zero Start is the
// "no meetings" sentinel; a non-empty Diagnostic asks for an error tile.
type ResolvedMeeting struct {
	Title      string
	Provider   credentials.Provider
	Start      time.Time
	End        time.Time
	JoinURL    string
	Status     Status
	Diagnostic string
}

// NoMeetings returns the sentinel used whenever a cycle yields nothing usable.
func NoMeetings() ResolvedMeeting {
	return ResolvedMeeting{
		Title:    "No Events",
		Provider: credentials.ProviderGoogle,
		Status:   StatusFree,
	}
}

// Failure returns a meeting that renders as an error tile.
func Failure(diagnostic string) ResolvedMeeting {
	m := NoMeetings()
	m.Diagnostic = diagnostic
	return m
}

func (m ResolvedMeeting) HasStart() bool {
	return !m.Start.IsZero()
}

func (m ResolvedMeeting) Failed() bool {
	return m.Diagnostic != ""
}

// effectiveEnd treats a missing end as the start.
func effectiveEnd(start, end time.Time) time.Time {
	if end.IsZero() {
		return start
	}
	return end
}

// SelectNext picks the earliest-starting event that has not already ended.
// Events with equal starts keep their input order.
func SelectNext(events []calendar.Event, now time.Time) (calendar.Event, bool) {
	ordered := make([]calendar.Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Start.Before(ordered[j].Start)
	})

	for _, ev := range ordered {
		if ev.Start.IsZero() {
			continue
		}
		if !effectiveEnd(ev.Start, ev.End).Before(now) {
			return ev, true
		}
	}
	return calendar.Event{}, false
}

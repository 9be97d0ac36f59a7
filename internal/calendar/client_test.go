package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gcal "google.golang.org/api/calendar/v3"
)

var testNow = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(ClientOptions{
		Endpoint:   srv.URL + "/",
		HTTPClient: srv.Client(),
		Location:   time.UTC,
		Now:        func() time.Time { return testNow },
	})
}

func TestNextEventQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/calendars/work@example.com/events") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		want := map[string]string{
			"orderBy":      "startTime",
			"singleEvents": "true",
			"timeMin":      "2024-03-04T09:00:00Z",
			"maxResults":   "1",
		}
		for k, v := range want {
			if got := q.Get(k); got != v {
				t.Errorf("query %s = %q, want %q", k, got, v)
			}
		}
		if got := r.Header.Get("Authorization"); got != "Bearer ya29.token" {
			t.Errorf("Authorization = %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{
			"summary":"Standup",
			"start":{"dateTime":"2024-03-04T10:00:00Z"},
			"end":{"dateTime":"2024-03-04T10:15:00Z"},
			"hangoutLink":"https://meet.google.com/abc-defg-hij",
			"location":"https://zoom.us/j/1"
		}]}`))
	})

	event, err := client.NextEvent(context.Background(), "work@example.com", "ya29.token")
	if err != nil {
		t.Fatalf("NextEvent failed: %v", err)
	}
	if event == nil {
		t.Fatal("NextEvent returned no event")
	}
	if event.Title != "Standup" || event.CalendarID != "work@example.com" {
		t.Errorf("event = %+v", event)
	}
	if !event.Start.Equal(time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("Start = %v", event.Start)
	}
	if !event.End.Equal(time.Date(2024, 3, 4, 10, 15, 0, 0, time.UTC)) {
		t.Errorf("End = %v", event.End)
	}
	if event.JoinURL != "https://meet.google.com/abc-defg-hij" {
		t.Errorf("JoinURL = %q, want hangout link", event.JoinURL)
	}
}

func TestNextEventEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[]}`))
	})

	event, err := client.NextEvent(context.Background(), "primary", "token")
	if err != nil || event != nil {
		t.Errorf("NextEvent = %+v, %v; want nil, nil", event, err)
	}
}

func TestNextEventErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"not found", http.StatusNotFound, ErrProviderError},
		{"server error", http.StatusInternalServerError, ErrProviderError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"x"}}`, tt.status)
			})
			_, err := client.NextEvent(context.Background(), "primary", "token")
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNextEventAllDay(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"summary":"Offsite","start":{"date":"2024-03-05"},"end":{"date":"2024-03-06"}}]}`))
	})

	event, err := client.NextEvent(context.Background(), "primary", "token")
	if err != nil {
		t.Fatalf("NextEvent failed: %v", err)
	}
	if !event.AllDay || !event.Start.Equal(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("event = %+v", event)
	}
}

func TestListCalendars(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/users/me/calendarList") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[
			{"id":"someone@example.com","summary":"Me","primary":true,"accessRole":"owner"},
			{"id":"team@group.calendar.google.com","summary":"Team","accessRole":"reader"}
		]}`))
	})

	calendars, err := client.ListCalendars(context.Background(), "token")
	if err != nil {
		t.Fatalf("ListCalendars failed: %v", err)
	}
	if len(calendars) != 2 || !calendars[0].Primary || calendars[1].AccessRole != "reader" {
		t.Errorf("calendars = %+v", calendars)
	}
}

func TestExtractJoinURL(t *testing.T) {
	tests := []struct {
		name string
		item *gcal.Event
		want string
	}{
		{
			name: "hangout link wins",
			item: &gcal.Event{HangoutLink: "https://meet.google.com/x", Location: "https://zoom.us/j/1"},
			want: "https://meet.google.com/x",
		},
		{
			name: "conference video entry",
			item: &gcal.Event{ConferenceData: &gcal.ConferenceData{EntryPoints: []*gcal.EntryPoint{
				{EntryPointType: "phone", Uri: "tel:+1-555"},
				{EntryPointType: "video", Uri: "https://teams.microsoft.com/l/meetup"},
			}}},
			want: "https://teams.microsoft.com/l/meetup",
		},
		{
			name: "location before description",
			item: &gcal.Event{Location: "Room 4 / https://zoom.us/j/123", Description: "https://other.example.com"},
			want: "https://zoom.us/j/123",
		},
		{
			name: "description with trailing punctuation",
			item: &gcal.Event{Description: `Join at <a href="https://zoom.us/j/9">https://zoom.us/j/9</a>.`},
			want: "https://zoom.us/j/9",
		},
		{
			name: "no url",
			item: &gcal.Event{Location: "Room 4", Description: "bring snacks"},
			want: "",
		},
		{
			name: "malformed url skipped",
			item: &gcal.Event{Description: "see http:// then https://ok.example.com/path"},
			want: "https://ok.example.com/path",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJoinURL(tt.item); got != tt.want {
				t.Errorf("extractJoinURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConvertEventWithoutEnd(t *testing.T) {
	event, err := convertEvent(&gcal.Event{
		Summary: "  Focus  ",
		Start:   &gcal.EventDateTime{DateTime: "2024-03-04T10:00:00+01:00"},
	}, time.UTC)
	if err != nil {
		t.Fatalf("convertEvent failed: %v", err)
	}
	if event.Title != "Focus" || !event.End.IsZero() {
		t.Errorf("event = %+v", event)
	}

	if _, err := convertEvent(&gcal.Event{Summary: "x"}, time.UTC); err == nil {
		t.Error("convertEvent accepted an event without start")
	}
}

package calendar

// Google Calendar API endpoints and scopes.
const (
	APIBaseURL = "https://www.googleapis.com/calendar/v3/"

	ScopeCalendarReadonly = "https://www.googleapis.com/auth/calendar.readonly"

	// PrimaryCalendarID is queried when no calendars are configured.
	PrimaryCalendarID = "primary"
)

// CalendarScopes defines the OAuth scopes required for calendar access
var CalendarScopes = []string{ScopeCalendarReadonly}

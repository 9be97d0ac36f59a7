package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/bnema/nextmeeting/internal/logger"
)

var (
	// ErrUnauthorized means the provider refused the access token.
	ErrUnauthorized = errors.New("calendar provider rejected access token")
	// ErrProviderError covers every other failed calendar request.
	ErrProviderError = errors.New("calendar provider request failed")
)

type ClientOptions struct {
	// Endpoint overrides the Calendar API base URL.
	Endpoint   string
	HTTPClient *http.Client
	Location   *time.Location
	Now        func() time.Time
}

// Client queries calendars on behalf of whichever access token it is given.
type Client struct {
	endpoint   string
	httpClient *http.Client
	location   *time.Location
	now        func() time.Time
}

// CalendarInfo describes one calendar visible to the account.
type CalendarInfo struct {
	ID         string
	Summary    string
	Primary    bool
	AccessRole string
}

func NewClient(opts ClientOptions) *Client {
	c := &Client{
		endpoint:   opts.Endpoint,
		httpClient: opts.HTTPClient,
		location:   opts.Location,
		now:        opts.Now,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.location == nil {
		c.location = time.Local
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

func (c *Client) service(ctx context.Context, accessToken string) (*gcal.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	base := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	authed := oauth2.NewClient(base, ts)
	authed.Timeout = c.httpClient.Timeout

	opts := []option.ClientOption{option.WithHTTPClient(authed)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}

	srv, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return srv, nil
}

// NextEvent returns the soonest event starting from now, or nil when the
// calendar has nothing upcoming.
func (c *Client) NextEvent(ctx context.Context, calendarID, accessToken string) (*Event, error) {
	srv, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	logger.Debug("fetching next event", "calendar_id", calendarID)

	events, err := srv.Events.List(calendarID).
		OrderBy("startTime").
		SingleEvents(true).
		TimeMin(c.now().Format(time.RFC3339)).
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classifyError(err)
	}

	if len(events.Items) == 0 {
		return nil, nil
	}

	event, err := convertEvent(events.Items[0], c.location)
	if err != nil {
		logger.Debug("skipping invalid event", "calendar_id", calendarID, "error", err)
		return nil, nil
	}
	event.CalendarID = calendarID
	return event, nil
}

// ListCalendars retrieves all calendars accessible by the authenticated user
func (c *Client) ListCalendars(ctx context.Context, accessToken string) ([]CalendarInfo, error) {
	srv, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	list, err := srv.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, classifyError(err)
	}

	calendars := make([]CalendarInfo, 0, len(list.Items))
	for _, item := range list.Items {
		calendars = append(calendars, CalendarInfo{
			ID:         item.Id,
			Summary:    item.Summary,
			Primary:    item.Primary,
			AccessRole: item.AccessRole,
		})
	}
	return calendars, nil
}

func classifyError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
		retrieveErr.Response.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return fmt.Errorf("%w: %v", ErrProviderError, err)
}

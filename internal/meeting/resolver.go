package meeting

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bnema/nextmeeting/internal/auth"
	"github.com/bnema/nextmeeting/internal/calendar"
	"github.com/bnema/nextmeeting/internal/credentials"
	"github.com/bnema/nextmeeting/internal/logger"
)

// TokenRefresher renews an access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, prior *credentials.TokenSet, creds auth.ClientCredentials) (*credentials.TokenSet, error)
}

// EmailLookup fetches the account email for an access token.
type EmailLookup interface {
	LookupEmail(ctx context.Context, accessToken string) (string, error)
}

// EventSource returns the next event of one calendar.
type EventSource interface {
	NextEvent(ctx context.Context, calendarID, accessToken string) (*calendar.Event, error)
}

type ResolverOptions struct {
	Store     credentials.Store
	Refresher TokenRefresher
	Emails    EmailLookup
	Events    EventSource
	Client    auth.ClientCredentials

	Calendars      []string
	Thresholds     Thresholds
	RefreshSkew    time.Duration
	RequestTimeout time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// Resolver runs resolution cycles for one instance. Cycles never overlap:
// a request made while one is running waits for it to finish.
type Resolver struct {
	store     credentials.Store
	refresher TokenRefresher
	emails    EmailLookup
	events    EventSource
	client    auth.ClientCredentials

	thresholds     Thresholds
	refreshSkew    time.Duration
	requestTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger

	cycle sync.Mutex

	mu        sync.RWMutex
	calendars []string
	last      *ResolvedMeeting
}

func NewResolver(opts ResolverOptions) *Resolver {
	r := &Resolver{
		store:          opts.Store,
		refresher:      opts.Refresher,
		emails:         opts.Emails,
		events:         opts.Events,
		client:         opts.Client,
		thresholds:     opts.Thresholds,
		refreshSkew:    opts.RefreshSkew,
		requestTimeout: opts.RequestTimeout,
		now:            opts.Now,
		logger:         opts.Logger,
	}
	if r.thresholds == (Thresholds{}) {
		r.thresholds = DefaultThresholds
	}
	if r.refreshSkew <= 0 {
		r.refreshSkew = 60 * time.Second
	}
	if r.requestTimeout <= 0 {
		r.requestTimeout = 10 * time.Second
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.logger == nil {
		r.logger = logger.Logger()
	}
	r.SetCalendars(opts.Calendars)
	return r
}

// SetCalendars replaces the calendars queried by later cycles.
func (r *Resolver) SetCalendars(ids []string) {
	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			cleaned = append(cleaned, id)
		}
	}
	if len(cleaned) == 0 {
		cleaned = []string{calendar.PrimaryCalendarID}
	}

	r.mu.Lock()
	r.calendars = cleaned
	r.mu.Unlock()
}

// Calendars returns the calendars the next cycle will query.
func (r *Resolver) Calendars() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.calendars...)
}

// LastKnown returns the result of the most recent completed cycle.
func (r *Resolver) LastKnown() (ResolvedMeeting, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return ResolvedMeeting{}, false
	}
	return *r.last, true
}

// Resolve runs one cycle. It never fails: problems become the sentinel
// meeting or a meeting carrying a Diagnostic.
func (r *Resolver) Resolve(ctx context.Context) ResolvedMeeting {
	r.cycle.Lock()
	defer r.cycle.Unlock()

	log := r.logger.With("cycle", uuid.NewString())
	start := r.now()

	result := r.resolve(ctx, log)
	log.Debug("resolution cycle finished",
		"status", result.Status,
		"has_start", result.HasStart(),
		"failed", result.Failed(),
		"duration", r.now().Sub(start).String())

	if ctx.Err() == nil {
		r.mu.Lock()
		r.last = &result
		r.mu.Unlock()
	}
	return result
}

func (r *Resolver) resolve(ctx context.Context, log *slog.Logger) ResolvedMeeting {
	tokens, err := r.store.Read(ctx)
	if errors.Is(err, credentials.ErrNoCredentials) {
		log.Debug("no credentials stored")
		return NoMeetings()
	}
	if err != nil {
		log.Error("failed to read credentials", "error", err)
		return Failure("Credential store error")
	}

	now := r.now()
	if tokens.ExpiresWithin(now, r.refreshSkew) {
		switch {
		case tokens.Refreshable():
			refreshed, failure, ok := r.refresh(ctx, log, tokens)
			if !ok {
				return failure
			}
			tokens = refreshed
		case tokens.Expired(now):
			log.Info("access token expired without refresh token, disconnecting")
			r.disconnect(ctx, log, tokens)
			return NoMeetings()
		}
	}

	if tokens.Email == "" && r.emails != nil {
		r.backfillEmail(ctx, log, tokens)
	}

	var events []calendar.Event
	for _, id := range r.Calendars() {
		callCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
		ev, err := r.events.NextEvent(callCtx, id, tokens.AccessToken)
		cancel()

		if errors.Is(err, calendar.ErrUnauthorized) {
			log.Info("calendar rejected access token, disconnecting", "calendar_id", id)
			r.disconnect(ctx, log, tokens)
			return NoMeetings()
		}
		if err != nil {
			log.Warn("calendar query failed", "calendar_id", id, "error", err)
			continue
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}

	next, ok := SelectNext(events, now)
	if !ok {
		return NoMeetings()
	}

	provider := tokens.Provider
	if provider == "" {
		provider = credentials.ProviderGoogle
	}
	return ResolvedMeeting{
		Title:    next.Title,
		Provider: provider,
		Start:    next.Start,
		End:      next.End,
		JoinURL:  next.JoinURL,
		Status:   r.thresholds.Classify(now, next.Start, next.End),
	}
}

// refresh renews tokens and commits them. ok is false when the cycle must
// stop and return failure.
func (r *Resolver) refresh(ctx context.Context, log *slog.Logger, tokens *credentials.TokenSet) (*credentials.TokenSet, ResolvedMeeting, bool) {
	callCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	refreshed, err := r.refresher.Refresh(callCtx, tokens, r.client)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return nil, NoMeetings(), false
		}
		if auth.IsTerminal(err) {
			log.Info("token refresh rejected, disconnecting", "error", err)
			r.disconnect(ctx, log, tokens)
			return nil, NoMeetings(), false
		}
		log.Warn("token refresh failed, keeping credentials", "error", err)
		if !tokens.Expired(r.now()) {
			return tokens, ResolvedMeeting{}, true
		}
		return nil, Failure("Token refresh failed"), false
	}

	if ctx.Err() != nil {
		return nil, NoMeetings(), false
	}
	if err := r.store.Write(ctx, refreshed); err != nil {
		log.Error("failed to store refreshed credentials", "error", err)
	}
	return refreshed, ResolvedMeeting{}, true
}

// backfillEmail fills in the account email. Lookup failures are discarded
// here on purpose: the email is cosmetic and must not block resolution.
func (r *Resolver) backfillEmail(ctx context.Context, log *slog.Logger, tokens *credentials.TokenSet) {
	callCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	email, err := r.emails.LookupEmail(callCtx, tokens.AccessToken)
	cancel()
	if err != nil || email == "" {
		return
	}

	tokens.Email = email
	if ctx.Err() != nil {
		return
	}
	if err := r.store.Write(ctx, tokens); err != nil {
		log.Warn("failed to store account email", "error", err)
	}
}

// disconnect clears the store unless a newer sign-in replaced stale meanwhile.
func (r *Resolver) disconnect(ctx context.Context, log *slog.Logger, stale *credentials.TokenSet) {
	if ctx.Err() != nil {
		return
	}
	cleared, err := credentials.ClearIfCurrent(ctx, r.store, stale)
	if err != nil {
		log.Error("failed to clear credentials", "error", err)
		return
	}
	if !cleared {
		log.Info("credentials changed during the cycle, keeping them")
	}
}

package keypad

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bnema/nextmeeting/internal/auth"
	"github.com/bnema/nextmeeting/internal/credentials"
	"github.com/bnema/nextmeeting/internal/logger"
	"github.com/bnema/nextmeeting/internal/meeting"
	"github.com/bnema/nextmeeting/internal/scheduler"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	maxFrameSize = 1 << 20

	loadingTitle = "Loading..."
)

var errClosed = errors.New("keypad connection closed")

type Options struct {
	// URL is the host socket, e.g. ws://127.0.0.1:28196.
	URL           string
	PluginUUID    string
	RegisterEvent string

	Interval  time.Duration
	Formatter meeting.Formatter
	// Resolver is copied for every instance; Store, Calendars and Logger
	// are filled in per instance.
	Resolver meeting.ResolverOptions
	// NewFlow builds the sign-in flow for an instance's store. When nil the
	// connect command is ignored.
	NewFlow func(store credentials.Store) *auth.Flow

	Scheduler *scheduler.Scheduler
	Dialer    *websocket.Dialer
	Now       func() time.Time
	Logger    *slog.Logger
}

// Plugin owns the host connection and every tile instance on it.
type Plugin struct {
	opts      Options
	sched     *scheduler.Scheduler
	ownsSched bool
	flows     *auth.FlowSet
	now       func() time.Time
	logger    *slog.Logger

	out  chan []byte
	done chan struct{}

	mu        sync.Mutex
	instances map[string]*instance
}

type instance struct {
	id       string
	store    *SettingsStore
	resolver *meeting.Resolver
}

func New(opts Options) *Plugin {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}

	p := &Plugin{
		opts:      opts,
		sched:     opts.Scheduler,
		now:       opts.Now,
		logger:    opts.Logger,
		out:       make(chan []byte, 32),
		done:      make(chan struct{}),
		instances: make(map[string]*instance),
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = logger.Logger()
	}
	if p.sched == nil {
		p.sched = scheduler.New(scheduler.Options{Logger: p.logger})
		p.ownsSched = true
	}
	if opts.NewFlow != nil {
		p.flows = auth.NewFlowSet(func(id string) (*auth.Flow, error) {
			inst := p.lookup(id)
			if inst == nil {
				return nil, fmt.Errorf("no keypad instance %q", id)
			}
			return opts.NewFlow(inst.store), nil
		})
	}
	return p
}

// Flows exposes the sign-in flows so a callback listener can complete them.
// It is nil when sign-in is disabled.
func (p *Plugin) Flows() *auth.FlowSet {
	return p.flows
}

// Run connects, registers and serves host events until ctx is cancelled or
// the host closes the socket.
func (p *Plugin) Run(ctx context.Context) error {
	conn, _, err := p.opts.Dialer.DialContext(ctx, p.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("connecting to keypad host: %w", err)
	}
	defer conn.Close()

	conn.SetReadLimit(maxFrameSize)
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(Register(p.opts.RegisterEvent, p.opts.PluginUUID)); err != nil {
		return fmt.Errorf("registering with keypad host: %w", err)
	}
	p.logger.Info("registered with keypad host", "url", p.opts.URL)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var pump sync.WaitGroup
	pump.Add(1)
	go func() {
		defer pump.Done()
		p.writePump(ctx, conn)
		// Unblocks the read loop when the write side fails first or ctx ends.
		conn.Close()
	}()

	err = p.readLoop(ctx, conn)

	cancel()
	close(p.done)
	pump.Wait()
	p.shutdown()
	return err
}

func (p *Plugin) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading from keypad host: %w", err)
		}

		ev, err := Decode(data)
		if errors.Is(err, ErrUnknownEvent) {
			p.logger.Debug("ignoring keypad event", "error", err)
			continue
		}
		if err != nil {
			p.logger.Warn("dropping keypad message", "error", err)
			continue
		}
		p.dispatch(ctx, ev)
	}
}

func (p *Plugin) writePump(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-p.out:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.logger.Warn("keypad write failed", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (p *Plugin) send(msg Outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", msg.Event, err)
	}
	select {
	case p.out <- data:
		return nil
	case <-p.done:
		return errClosed
	}
}

func (p *Plugin) dispatch(ctx context.Context, ev Event) {
	p.logger.Debug("keypad event", "type", fmt.Sprintf("%T", ev), "instance", ev.Instance())

	switch e := ev.(type) {
	case WillAppear:
		p.appear(e)
	case WillDisappear:
		p.disappear(e.Context)
	case KeyUp:
		p.keyUp(e.Context)
	case DidReceiveSettings:
		p.settingsChanged(e)
	case SendToPlugin:
		p.command(ctx, e)
	}
}

func (p *Plugin) appear(e WillAppear) {
	p.mu.Lock()
	inst, ok := p.instances[e.Context]
	if !ok {
		inst = p.newInstance(e.Context)
		p.instances[e.Context] = inst
	}
	p.mu.Unlock()

	p.applySettings(inst, e.Settings)
	p.send(SetTitle(inst.id, loadingTitle))
	p.start(inst)
}

func (p *Plugin) newInstance(id string) *instance {
	store := NewSettingsStore(Settings{}, func(s Settings) error {
		return p.send(SetSettings(id, s))
	})
	opts := p.opts.Resolver
	opts.Store = store
	opts.Logger = p.logger.With("instance", id)
	return &instance{id: id, store: store, resolver: meeting.NewResolver(opts)}
}

func (p *Plugin) disappear(id string) {
	p.sched.Unschedule(id)
	if p.flows != nil {
		p.flows.Remove(id)
	}
	p.mu.Lock()
	delete(p.instances, id)
	p.mu.Unlock()
}

func (p *Plugin) keyUp(id string) {
	inst := p.lookup(id)
	if inst == nil {
		return
	}
	m, ok := inst.resolver.LastKnown()
	if !ok || m.JoinURL == "" {
		return
	}
	p.send(OpenURL(id, m.JoinURL))
}

func (p *Plugin) settingsChanged(e DidReceiveSettings) {
	inst := p.lookup(e.Context)
	if inst == nil {
		return
	}
	p.applySettings(inst, e.Settings)
	p.start(inst)
}

func (p *Plugin) command(ctx context.Context, e SendToPlugin) {
	inst := p.lookup(e.Context)
	if inst == nil {
		return
	}

	switch e.Command {
	case CommandRefresh:
		if !p.sched.Trigger(inst.id) {
			p.logger.Debug("refresh skipped", "instance", inst.id)
		}
	case CommandConnect:
		if p.flows == nil {
			p.logger.Warn("sign-in requested but no OAuth client is configured", "instance", inst.id)
			p.render(inst.id, meeting.Failure("Sign-in not configured"))
			return
		}
		authURL, err := p.flows.Begin(inst.id)
		if err != nil {
			p.logger.Error("failed to start sign-in", "instance", inst.id, "error", err)
			p.render(inst.id, meeting.Failure("Could not start sign-in"))
			return
		}
		p.send(OpenURL(inst.id, authURL))
	case CommandDisconnect:
		if err := inst.store.Clear(ctx); err != nil {
			p.logger.Error("failed to clear credentials", "instance", inst.id, "error", err)
		}
		p.start(inst)
	default:
		p.logger.Debug("unknown plugin command", "command", e.Command)
	}
}

// Store returns the credential store of a visible instance.
func (p *Plugin) Store(id string) (credentials.Store, bool) {
	inst := p.lookup(id)
	if inst == nil {
		return nil, false
	}
	return inst.store, true
}

// Instances lists the visible instance IDs.
func (p *Plugin) Instances() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.instances))
	for id := range p.instances {
		ids = append(ids, id)
	}
	return ids
}

// Refresh restarts updates for an instance, e.g. after sign-in completes.
func (p *Plugin) Refresh(id string) bool {
	inst := p.lookup(id)
	if inst == nil {
		return false
	}
	p.start(inst)
	return true
}

func (p *Plugin) applySettings(inst *instance, raw json.RawMessage) {
	settings, err := inst.store.Apply(raw)
	if err != nil {
		p.logger.Warn("ignoring invalid settings", "instance", inst.id, "error", err)
	}
	inst.resolver.SetCalendars(settings.Calendars)
}

func (p *Plugin) start(inst *instance) {
	err := p.sched.Schedule(inst.id, p.opts.Interval, func(ctx context.Context) {
		m := inst.resolver.Resolve(ctx)
		if ctx.Err() != nil {
			return
		}
		p.render(inst.id, m)
	})
	if err != nil {
		p.logger.Warn("failed to schedule updates", "instance", inst.id, "error", err)
	}
}

func (p *Plugin) render(id string, m meeting.ResolvedMeeting) {
	now := p.now()
	lines := p.opts.Formatter.Render(m, now)
	status := p.opts.Formatter.Status(m, now)
	if err := p.send(SetImage(id, TileImage(lines, status))); err != nil {
		return
	}
	p.send(SetTitle(id, ""))
}

func (p *Plugin) lookup(id string) *instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.instances[id]
}

func (p *Plugin) shutdown() {
	for _, id := range p.Instances() {
		p.sched.Unschedule(id)
	}
	if p.ownsSched {
		p.sched.Stop()
	}
}

// Package keypad bridges keypad host events to meeting resolution and
// pushes rendered tiles back over the host's websocket.
package keypad

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownEvent is returned by Decode for event kinds the plugin does not handle.
	ErrUnknownEvent = errors.New("unknown keypad event")
	// ErrMalformedMessage is returned by Decode when the frame is not a valid event.
	ErrMalformedMessage = errors.New("malformed keypad message")
)

// Inbound event kinds.
const (
	EventWillAppear         = "willAppear"
	EventWillDisappear      = "willDisappear"
	EventKeyUp              = "keyUp"
	EventDidReceiveSettings = "didReceiveSettings"
	EventSendToPlugin       = "sendToPlugin"
)

// Commands carried by sendToPlugin payloads.
const (
	CommandRefresh    = "refresh"
	CommandConnect    = "connect"
	CommandDisconnect = "disconnect"
)

// Event is a decoded inbound message. Context identifies the tile instance.
type Event interface {
	Instance() string
}

type WillAppear struct {
	Context  string
	Settings json.RawMessage
}

type WillDisappear struct {
	Context string
}

type KeyUp struct {
	Context string
}

type DidReceiveSettings struct {
	Context  string
	Settings json.RawMessage
}

// SendToPlugin carries a command from the configuration UI.
type SendToPlugin struct {
	Context string
	Command string
}

func (e WillAppear) Instance() string         { return e.Context }
func (e WillDisappear) Instance() string      { return e.Context }
func (e KeyUp) Instance() string              { return e.Context }
func (e DidReceiveSettings) Instance() string { return e.Context }
func (e SendToPlugin) Instance() string       { return e.Context }

type envelope struct {
	Event   string          `json:"event"`
	Action  string          `json:"action,omitempty"`
	Context string          `json:"context"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type settingsPayload struct {
	Settings json.RawMessage `json:"settings"`
}

type commandPayload struct {
	Type string `json:"type"`
}

// Decode turns one raw frame into a typed event.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch env.Event {
	case EventWillAppear, EventDidReceiveSettings:
		var p settingsPayload
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedMessage, env.Event, err)
			}
		}
		if env.Event == EventWillAppear {
			return WillAppear{Context: env.Context, Settings: p.Settings}, nil
		}
		return DidReceiveSettings{Context: env.Context, Settings: p.Settings}, nil

	case EventWillDisappear:
		return WillDisappear{Context: env.Context}, nil

	case EventKeyUp:
		return KeyUp{Context: env.Context}, nil

	case EventSendToPlugin:
		var p commandPayload
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return nil, fmt.Errorf("%w: sendToPlugin payload: %v", ErrMalformedMessage, err)
			}
		}
		return SendToPlugin{Context: env.Context, Command: p.Type}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// Outbound is a message sent to the host.
type Outbound struct {
	Event   string `json:"event"`
	UUID    string `json:"uuid,omitempty"`
	Context string `json:"context,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

type titlePayload struct {
	Title  string `json:"title"`
	Target int    `json:"target"`
}

type imagePayload struct {
	Image string `json:"image"`
}

type urlPayload struct {
	URL string `json:"url"`
}

// Register announces the plugin after the socket opens.
func Register(event, pluginUUID string) Outbound {
	return Outbound{Event: event, UUID: pluginUUID}
}

func SetTitle(context, title string) Outbound {
	return Outbound{Event: "setTitle", Context: context, Payload: titlePayload{Title: title}}
}

func SetImage(context, image string) Outbound {
	return Outbound{Event: "setImage", Context: context, Payload: imagePayload{Image: image}}
}

// SetSettings persists the full settings object for an instance.
func SetSettings(context string, settings Settings) Outbound {
	return Outbound{Event: "setSettings", Context: context, Payload: settings}
}

func OpenURL(context, url string) Outbound {
	return Outbound{Event: "openUrl", Context: context, Payload: urlPayload{URL: url}}
}

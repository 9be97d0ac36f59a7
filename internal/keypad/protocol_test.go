package keypad

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Event
	}{
		{
			name: "willAppear",
			raw:  `{"event":"willAppear","context":"ctx1","payload":{"settings":{"calendars":["primary"]}}}`,
			want: WillAppear{Context: "ctx1", Settings: json.RawMessage(`{"calendars":["primary"]}`)},
		},
		{
			name: "willAppear without payload",
			raw:  `{"event":"willAppear","context":"ctx1"}`,
			want: WillAppear{Context: "ctx1"},
		},
		{
			name: "willDisappear",
			raw:  `{"event":"willDisappear","context":"ctx1","payload":{}}`,
			want: WillDisappear{Context: "ctx1"},
		},
		{
			name: "keyUp",
			raw:  `{"event":"keyUp","action":"com.example.nextmeeting","context":"ctx2","payload":{"coordinates":{"column":1,"row":0}}}`,
			want: KeyUp{Context: "ctx2"},
		},
		{
			name: "sendToPlugin refresh",
			raw:  `{"event":"sendToPlugin","context":"ctx3","payload":{"type":"refresh"}}`,
			want: SendToPlugin{Context: "ctx3", Command: CommandRefresh},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Instance() != tt.want.Instance() {
				t.Errorf("Instance = %q, want %q", got.Instance(), tt.want.Instance())
			}

			switch want := tt.want.(type) {
			case WillAppear:
				g, ok := got.(WillAppear)
				if !ok || string(g.Settings) != string(want.Settings) {
					t.Errorf("Decode = %#v, want %#v", got, want)
				}
			default:
				if got != tt.want {
					t.Errorf("Decode = %#v, want %#v", got, tt.want)
				}
			}
		})
	}
}

func TestDecodeDidReceiveSettings(t *testing.T) {
	raw := `{"event":"didReceiveSettings","context":"c","payload":{"settings":{"calendars":["a","b"]},"coordinates":{}}}`
	ev, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := ev.(DidReceiveSettings)
	if !ok {
		t.Fatalf("Decode = %T, want DidReceiveSettings", ev)
	}
	if string(got.Settings) != `{"calendars":["a","b"]}` {
		t.Errorf("Settings = %s", got.Settings)
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode([]byte(`{"event":"deviceDidConnect"}`)); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("unknown event err = %v, want ErrUnknownEvent", err)
	}
	if _, err := Decode([]byte(`not json`)); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("garbage err = %v, want ErrMalformedMessage", err)
	}
	if _, err := Decode([]byte(`{"event":"sendToPlugin","payload":"refresh"}`)); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("bad payload err = %v, want ErrMalformedMessage", err)
	}
}

func TestOutboundEncoding(t *testing.T) {
	tests := []struct {
		msg  Outbound
		want string
	}{
		{Register("registerPlugin", "uuid-1"), `{"event":"registerPlugin","uuid":"uuid-1"}`},
		{SetTitle("c", "Loading..."), `{"event":"setTitle","context":"c","payload":{"title":"Loading...","target":0}}`},
		{SetImage("c", "data:x"), `{"event":"setImage","context":"c","payload":{"image":"data:x"}}`},
		{OpenURL("c", "https://meet.example.com/x"), `{"event":"openUrl","context":"c","payload":{"url":"https://meet.example.com/x"}}`},
		{SetSettings("c", Settings{Calendars: []string{"primary"}}), `{"event":"setSettings","context":"c","payload":{"calendars":["primary"],"googleTokens":null}}`},
	}

	for _, tt := range tests {
		got, err := json.Marshal(tt.msg)
		if err != nil {
			t.Fatalf("Marshal %s: %v", tt.msg.Event, err)
		}
		if string(got) != tt.want {
			t.Errorf("%s encoded as %s, want %s", tt.msg.Event, got, tt.want)
		}
	}
}

package keypad

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/bnema/nextmeeting/internal/meeting"
)

func decodeTile(t *testing.T, image string) string {
	t.Helper()
	const prefix = "data:image/svg+xml;base64,"
	if !strings.HasPrefix(image, prefix) {
		t.Fatalf("image %q is not an SVG data URL", image)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(image, prefix))
	if err != nil {
		t.Fatalf("decoding tile: %v", err)
	}
	return string(raw)
}

func TestTileColours(t *testing.T) {
	tests := []struct {
		status meeting.Status
		colour string
	}{
		{meeting.StatusFree, "#263238"},
		{meeting.StatusUpcoming, "#1976D2"},
		{meeting.StatusImminent, "#FBC02D"},
		{meeting.StatusLive, "#D32F2F"},
		{meeting.Status("bogus"), "#263238"},
	}

	for _, tt := range tests {
		svg := decodeTile(t, TileImage(meeting.Lines{Title: "Standup", Subtitle: "in 5m"}, tt.status))
		if !strings.Contains(svg, "fill='"+tt.colour+"'") {
			t.Errorf("%s tile missing background %s: %s", tt.status, tt.colour, svg)
		}
	}
}

func TestTileLayout(t *testing.T) {
	svg := TileSVG(meeting.Lines{Title: "Standup", Subtitle: "25m left"}, meeting.StatusLive)

	for _, want := range []string{
		"width='144' height='144'",
		"rx='16'",
		"y='32' font-family='Arial, sans-serif' font-size='18'",
		">📅</text>",
		"y='72' font-family='Arial, sans-serif' font-size='20' fill='#FFFFFF'>Standup</text>",
		"y='104' font-family='Arial, sans-serif' font-size='18' fill='#FFFFFF' opacity='0.9'>25m left</text>",
	} {
		if !strings.Contains(svg, want) {
			t.Errorf("tile missing %q:\n%s", want, svg)
		}
	}
}

func TestTileEscapesText(t *testing.T) {
	svg := TileSVG(meeting.Lines{Title: "R&D <sync>", Subtitle: "a>b"}, meeting.StatusFree)
	if !strings.Contains(svg, ">R&amp;D &lt;sync&gt;</text>") {
		t.Errorf("title not escaped: %s", svg)
	}
	if !strings.Contains(svg, ">a&gt;b</text>") {
		t.Errorf("subtitle not escaped: %s", svg)
	}
}

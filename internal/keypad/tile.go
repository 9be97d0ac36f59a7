package keypad

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/bnema/nextmeeting/internal/meeting"
)

const tileSize = 144

var statusColors = map[meeting.Status]string{
	meeting.StatusFree:     "#263238",
	meeting.StatusUpcoming: "#1976D2",
	meeting.StatusImminent: "#FBC02D",
	meeting.StatusLive:     "#D32F2F",
}

var svgEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// TileSVG draws the two lines on a rounded square coloured by status.
func TileSVG(lines meeting.Lines, status meeting.Status) string {
	bg, ok := statusColors[status]
	if !ok {
		bg = statusColors[meeting.StatusFree]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<svg xmlns='http://www.w3.org/2000/svg' width='%d' height='%d'>", tileSize, tileSize)
	fmt.Fprintf(&b, "<rect width='%d' height='%d' rx='16' ry='16' fill='%s'/>", tileSize, tileSize, bg)
	b.WriteString("<text x='12' y='32' font-family='Arial, sans-serif' font-size='18' fill='#FFFFFF' opacity='0.9'>📅</text>")
	fmt.Fprintf(&b, "<text x='12' y='72' font-family='Arial, sans-serif' font-size='20' fill='#FFFFFF'>%s</text>", svgEscaper.Replace(lines.Title))
	fmt.Fprintf(&b, "<text x='12' y='104' font-family='Arial, sans-serif' font-size='18' fill='#FFFFFF' opacity='0.9'>%s</text>", svgEscaper.Replace(lines.Subtitle))
	b.WriteString("</svg>")
	return b.String()
}

// TileImage returns TileSVG as a data URL suitable for setImage.
func TileImage(lines meeting.Lines, status meeting.Status) string {
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(TileSVG(lines, status)))
}

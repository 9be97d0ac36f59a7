package nerdfonts

// Calendar related symbols
const (
	Calendar      = "\uF073" // 
	CalendarCheck = "\uF274" // 
)

// Time related symbols
const (
	Clock     = "\uF017" // 
	Hourglass = "\uF254" // 
)

// Link symbols
const (
	Video = "\uF03D" // 
)

// Status symbols
const (
	InfoCircle          = "\uF05A" // 
	CheckCircle         = "\uF058" // 
	ExclamationCircle   = "\uF06A" // 
	CircleDot           = "\uF192" // 
	ExclamationTriangle = "\uF071" // 
	Bell                = "\uF0F3" // 
)

// ForStatus returns the glyph shown in front of a tile of the given status.
// Unknown statuses get the plain calendar glyph.
func ForStatus(status string) string {
	switch status {
	case "live":
		return CircleDot
	case "imminent":
		return Bell
	case "upcoming":
		return Clock
	case "error":
		return ExclamationTriangle
	default:
		return Calendar
	}
}

package lang

import (
	"fmt"
	"strings"
)

// Color placeholders understood by every message.
const (
	ColorHighlight = "color_highlight"
	ColorDefault   = "color_default"
	ColorRed       = "color_red"
	ColorBlue      = "color_blue"
)

// Scheme maps color placeholders to the control sequences a game's chat
// renders.
type Scheme map[string]string

// games whose chat only knows a fixed palette of control bytes
var paletteGames = map[string]Scheme{
	"csgo": {
		ColorHighlight: "\x10",
		ColorDefault:   "\x01",
		ColorRed:       "\x0F",
		ColorBlue:      "\x0B",
	},
}

// SchemeFor returns the color scheme for game. Games without a fixed palette
// get RGB escapes.
func SchemeFor(game string) Scheme {
	if s, ok := paletteGames[strings.ToLower(game)]; ok {
		return s
	}
	return Scheme{
		ColorHighlight: rgb(255, 205, 70),
		ColorDefault:   rgb(242, 242, 242),
		ColorRed:       rgb(210, 80, 70),
		ColorBlue:      rgb(0, 100, 255),
	}
}

func rgb(r, g, b uint8) string {
	return fmt.Sprintf("\x07%02X%02X%02X", r, g, b)
}

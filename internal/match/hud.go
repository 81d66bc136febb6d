package match

import (
	"github.com/ctfmode/extension/internal/engine"
	"github.com/ctfmode/extension/pkg/core"
)

var (
	// AnnouncementStyle renders flag transitions at the top of the screen.
	AnnouncementStyle = engine.HudStyle{
		Color:    engine.Color{R: 255, G: 205, B: 70},
		X:        -1,
		Y:        0.1,
		Effect:   2,
		FadeIn:   0.05,
		HoldTime: 3,
		Channel:  5,
	}

	// StatusStyle renders the periodic score and flag status line.
	StatusStyle = engine.HudStyle{
		Color:    engine.Color{R: 255, G: 205, B: 70},
		X:        0.05,
		Y:        0.9,
		HoldTime: 2,
		Channel:  6,
	}
)

// flag glow colors
var teamColors = map[core.Team]engine.Color{
	core.TeamRed:  {R: 210, G: 80, B: 70},
	core.TeamBlue: {R: 0, G: 100, B: 255},
}

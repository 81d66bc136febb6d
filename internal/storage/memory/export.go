// internal/storage/memory/export.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ctfmode/extension/pkg/core"
)

// MatchExport is the root JSON structure of an exported match
type MatchExport struct {
	ExtensionVersion string            `json:"extensionVersion"`
	MatchID          uint              `json:"matchId"`
	MapName          string            `json:"mapName"`
	StartedAt        time.Time         `json:"startedAt"`
	EndedAt          time.Time         `json:"endedAt"`
	CapsToWin        int               `json:"capsToWin"`
	HasFlags         bool              `json:"hasFlags"`
	CaptureZones     map[string]string `json:"captureZones,omitempty"`
	Rounds           []RoundJSON       `json:"rounds"`
	FlagEvents       []FlagEventJSON   `json:"flagEvents"`
	Captures         []PlayerCaptures  `json:"captures"`
}

// RoundJSON is one round transition
type RoundJSON struct {
	Time   time.Time      `json:"time"`
	Round  uint           `json:"round"`
	Kind   string         `json:"kind"`
	Winner string         `json:"winner,omitempty"`
	Scores map[string]int `json:"scores"`
}

// FlagEventJSON is one flag transition. Position is [x, y, z].
type FlagEventJSON struct {
	Time        time.Time  `json:"time"`
	Round       uint       `json:"round"`
	Flag        string     `json:"flag"`
	Action      string     `json:"action"`
	PlayerIndex int        `json:"playerIndex"`
	PlayerName  string     `json:"playerName,omitempty"`
	PlayerTeam  string     `json:"playerTeam,omitempty"`
	Position    [3]float64 `json:"position"`
}

// PlayerCaptures counts the captures of one player in the match
type PlayerCaptures struct {
	PlayerName string `json:"playerName"`
	Team       string `json:"team"`
	Captures   int    `json:"captures"`
}

func teamName(t core.Team) string {
	if t == core.TeamNone {
		return ""
	}
	return t.String()
}

// sanitizeName makes a map name safe for use in a file name.
func sanitizeName(name string) string {
	r := strings.NewReplacer(" ", "_", ":", "_", "/", "_", "\\", "_")
	return r.Replace(name)
}

// exportJSON writes the match data to a JSON file, gzipped when configured.
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	timestamp := b.match.StartedAt.UTC().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s.json", sanitizeName(b.match.MapName), timestamp)
	if b.cfg.CompressOutput {
		filename += ".gz"
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if b.cfg.CompressOutput {
		if err := writeGzipJSON(outputPath, export); err != nil {
			return err
		}
	} else {
		if err := writeJSON(outputPath, export); err != nil {
			return err
		}
	}

	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) buildExport() MatchExport {
	export := MatchExport{
		ExtensionVersion: b.version,
		MatchID:          b.match.ID,
		MapName:          b.match.MapName,
		StartedAt:        b.match.StartedAt,
		EndedAt:          b.now(),
		CapsToWin:        b.match.CapsToWin,
		HasFlags:         b.match.HasFlags,
		Rounds:           make([]RoundJSON, 0),
		FlagEvents:       make([]FlagEventJSON, 0),
		Captures:         make([]PlayerCaptures, 0),
	}
	if len(b.match.CaptureZones) > 0 {
		export.CaptureZones = make(map[string]string, len(b.match.CaptureZones))
		for team, wkt := range b.match.CaptureZones {
			export.CaptureZones[team.String()] = wkt
		}
	}

	for _, e := range b.roundEvents.GetAndEmpty() {
		scores := make(map[string]int, len(e.Scores))
		for team, n := range e.Scores {
			scores[team.String()] = n
		}
		export.Rounds = append(export.Rounds, RoundJSON{
			Time:   e.Time,
			Round:  e.Round,
			Kind:   string(e.Kind),
			Winner: teamName(e.Winner),
			Scores: scores,
		})
	}

	captures := make(map[string]*PlayerCaptures)
	for _, e := range b.flagEvents.GetAndEmpty() {
		export.FlagEvents = append(export.FlagEvents, FlagEventJSON{
			Time:        e.Time,
			Round:       e.Round,
			Flag:        e.FlagTeam.String(),
			Action:      string(e.Action),
			PlayerIndex: e.PlayerIndex,
			PlayerName:  e.PlayerName,
			PlayerTeam:  teamName(e.PlayerTeam),
			Position:    [3]float64{e.Position.X, e.Position.Y, e.Position.Z},
		})
		if e.Action != core.ActionCaptured || e.PlayerName == "" {
			continue
		}
		pc, ok := captures[e.PlayerName]
		if !ok {
			pc = &PlayerCaptures{PlayerName: e.PlayerName, Team: teamName(e.PlayerTeam)}
			captures[e.PlayerName] = pc
		}
		pc.Captures++
	}

	for _, pc := range captures {
		export.Captures = append(export.Captures, *pc)
	}
	sort.Slice(export.Captures, func(i, j int) bool {
		a, c := export.Captures[i], export.Captures[j]
		if a.Captures != c.Captures {
			return a.Captures > c.Captures
		}
		return a.PlayerName < c.PlayerName
	})

	return export
}

func writeJSON(path string, data MatchExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	return encoder.Encode(data)
}

func writeGzipJSON(path string, data MatchExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	defer gzWriter.Close()

	encoder := json.NewEncoder(gzWriter)
	return encoder.Encode(data)
}

// ReadExport loads an exported match. Files ending in .gz are decompressed.
func ReadExport(path string) (*MatchExport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening export: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("reading gzip header of %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	var export MatchExport
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &export, nil
}

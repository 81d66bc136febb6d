// Package mapdata loads per-map flag placement and capture-zone geometry.
package mapdata

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ctfmode/extension/internal/geo"
	"github.com/ctfmode/extension/pkg/core"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// ErrNoMapData is returned when no data file exists for a map. Flags are
// inactive on such maps.
var ErrNoMapData = errors.New("no map data")

const (
	keyOrigin       = "origin"
	keyZoneCorner1  = "capture_zone_point1"
	keyZoneCorner2  = "capture_zone_point2"
	serverFileLabel = "_server"
)

// sections maps the file section name to the team it describes.
var sections = []struct {
	name string
	team core.Team
}{
	{"red_flag", core.TeamRed},
	{"blue_flag", core.TeamBlue},
}

// Placement is the static geometry of one team's flag.
type Placement struct {
	Team        core.Team
	Origin      core.Position3D
	ZoneCorner1 core.Position3D
	ZoneCorner2 core.Position3D
}

// CaptureZone returns the trigger box spanned by the zone corners.
func (p Placement) CaptureZone() geo.Box {
	return geo.BoxFromCorners(p.ZoneCorner1, p.ZoneCorner2)
}

// Record holds the flag placements of one map.
type Record struct {
	MapName string
	Source  string
	Flags   map[core.Team]Placement
}

// ZoneOutlines returns the ground outline of every capture zone as WKT. It
// returns nil for a nil record.
func (r *Record) ZoneOutlines() map[core.Team]string {
	if r == nil {
		return nil
	}
	out := make(map[core.Team]string, len(r.Flags))
	for team, p := range r.Flags {
		out[team] = p.CaptureZone().Footprint().AsText()
	}
	return out
}

// FieldError reports a malformed value in a map data file.
type FieldError struct {
	File    string
	Section string
	Key     string
	Err     error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("map data %s: [%s] %s: %v", e.File, e.Section, e.Key, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

var errMissing = errors.New("missing")

// Candidates returns the files consulted for mapName, in lookup order.
// Server-specific files take precedence over the shipped ones.
func Candidates(dir, mapName string) []string {
	return []string{
		filepath.Join(dir, mapName+serverFileLabel+".ini"),
		filepath.Join(dir, mapName+".ini"),
		filepath.Join(dir, mapName+serverFileLabel+".yaml"),
		filepath.Join(dir, mapName+".yaml"),
	}
}

// Load reads the map data for mapName from dir.
func Load(dir, mapName string) (*Record, error) {
	for _, path := range Candidates(dir, mapName) {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}

		var flags map[core.Team]Placement
		switch filepath.Ext(path) {
		case ".ini":
			flags, err = loadINI(path)
		default:
			flags, err = loadYAML(path)
		}
		if err != nil {
			return nil, err
		}
		return &Record{MapName: mapName, Source: path, Flags: flags}, nil
	}
	return nil, fmt.Errorf("%w for map %q in %s", ErrNoMapData, mapName, dir)
}

func loadINI(path string) (map[core.Team]Placement, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse map data %s: %w", path, err)
	}

	flags := make(map[core.Team]Placement, len(sections))
	for _, s := range sections {
		section, err := cfg.GetSection(s.name)
		if err != nil {
			return nil, &FieldError{File: path, Section: s.name, Err: errMissing}
		}

		read := func(key string) (core.Position3D, error) {
			k, err := section.GetKey(key)
			if err != nil {
				return core.Position3D{}, &FieldError{File: path, Section: s.name, Key: key, Err: errMissing}
			}
			pos, err := geo.ParsePosition3D(k.String())
			if err != nil {
				return core.Position3D{}, &FieldError{File: path, Section: s.name, Key: key, Err: err}
			}
			return pos, nil
		}

		p := Placement{Team: s.team}
		if p.Origin, err = read(keyOrigin); err != nil {
			return nil, err
		}
		if p.ZoneCorner1, err = read(keyZoneCorner1); err != nil {
			return nil, err
		}
		if p.ZoneCorner2, err = read(keyZoneCorner2); err != nil {
			return nil, err
		}
		flags[s.team] = p
	}
	return flags, nil
}

type yamlFlag struct {
	Origin      []float64 `yaml:"origin"`
	ZoneCorner1 []float64 `yaml:"capture_zone_point1"`
	ZoneCorner2 []float64 `yaml:"capture_zone_point2"`
}

func loadYAML(path string) (map[core.Team]Placement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read map data %s: %w", path, err)
	}

	var doc map[string]*yamlFlag
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse map data %s: %w", path, err)
	}

	flags := make(map[core.Team]Placement, len(sections))
	for _, s := range sections {
		raw := doc[s.name]
		if raw == nil {
			return nil, &FieldError{File: path, Section: s.name, Err: errMissing}
		}

		read := func(key string, values []float64) (core.Position3D, error) {
			if values == nil {
				return core.Position3D{}, &FieldError{File: path, Section: s.name, Key: key, Err: errMissing}
			}
			pos, err := geo.PositionFromSlice(values)
			if err != nil {
				return core.Position3D{}, &FieldError{File: path, Section: s.name, Key: key, Err: err}
			}
			return pos, nil
		}

		p := Placement{Team: s.team}
		if p.Origin, err = read(keyOrigin, raw.Origin); err != nil {
			return nil, err
		}
		if p.ZoneCorner1, err = read(keyZoneCorner1, raw.ZoneCorner1); err != nil {
			return nil, err
		}
		if p.ZoneCorner2, err = read(keyZoneCorner2, raw.ZoneCorner2); err != nil {
			return nil, err
		}
		flags[s.team] = p
	}
	return flags, nil
}

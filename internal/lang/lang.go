// Package lang renders the game mode's localized, colorized messages.
package lang

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Message keys.
const (
	KeyChatBase           = "chat_base"
	KeyLocationHome       = "location home"
	KeyLocationPlayer     = "location player"
	KeyLocationDropped    = "location dropped"
	KeyFlagStolen         = "flag stolen"
	KeyFlagDropped        = "flag dropped"
	KeyFlagReturned       = "flag returned"
	KeyFlagReturnedPlayer = "flag returned_player"
	KeyFlagCaptured       = "flag captured"
	KeyDisabled           = "disabled"
	KeyNoFlagOnYou        = "no_flag_on_you"
	KeyFlagStats          = "flag_stats"
)

// FlagNameKey returns the key of a team's flag name, e.g. "flag name red".
func FlagNameKey(team string) string {
	return "flag name " + strings.ToLower(team)
}

// VictoryKey returns the key of a team's victory message.
func VictoryKey(team string) string {
	return "team victory " + strings.ToLower(team)
}

//go:embed strings/*.yaml
var files embed.FS

// Tokens are substituted for {name} placeholders.
type Tokens map[string]string

// Catalog holds the strings of one language with English as fallback.
type Catalog struct {
	tag      language.Tag
	strings  map[string]string
	fallback map[string]string
	scheme   Scheme
}

// Available lists the embedded languages, English first.
func Available() ([]language.Tag, error) {
	entries, err := files.ReadDir("strings")
	if err != nil {
		return nil, err
	}
	tags := []language.Tag{language.English}
	var others []string
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), path.Ext(e.Name()))
		if name != "en" {
			others = append(others, name)
		}
	}
	sort.Strings(others)
	for _, name := range others {
		tag, err := language.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("invalid language file %q: %w", name, err)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// New loads the catalog best matching preferred (a BCP 47 tag such as
// "de-AT") with the color scheme of game.
func New(preferred, game string) (*Catalog, error) {
	tags, err := Available()
	if err != nil {
		return nil, err
	}

	desired, _, err := language.ParseAcceptLanguage(preferred)
	if err != nil || len(desired) == 0 {
		desired = []language.Tag{language.English}
	}
	_, idx, _ := language.NewMatcher(tags).Match(desired...)
	tag := tags[idx]

	fallback, err := load(language.English)
	if err != nil {
		return nil, err
	}
	selected := fallback
	if idx != 0 {
		if selected, err = load(tag); err != nil {
			return nil, err
		}
	}

	return &Catalog{
		tag:      tag,
		strings:  selected,
		fallback: fallback,
		scheme:   SchemeFor(game),
	}, nil
}

func load(tag language.Tag) (map[string]string, error) {
	base, _ := tag.Base()
	data, err := files.ReadFile("strings/" + base.String() + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read language %s: %w", tag, err)
	}
	out := make(map[string]string)
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse language %s: %w", tag, err)
	}
	return out, nil
}

// Tag returns the language in use.
func (c *Catalog) Tag() language.Tag {
	return c.tag
}

// Text returns the template for key with tokens substituted. Color
// placeholders are left in place. Unknown keys render as the key itself.
func (c *Catalog) Text(key string, tokens Tokens) string {
	s, ok := c.strings[key]
	if !ok {
		if s, ok = c.fallback[key]; !ok {
			s = key
		}
	}
	return substitute(s, tokens)
}

// Colorize replaces color placeholders with the game's color codes.
func (c *Catalog) Colorize(s string) string {
	return substitute(s, Tokens(c.scheme))
}

// StripColors removes color placeholders.
func (c *Catalog) StripColors(s string) string {
	blank := make(Tokens, len(c.scheme))
	for k := range c.scheme {
		blank[k] = ""
	}
	return substitute(s, blank)
}

// Tagged wraps a chat message with the mode's prefix and colorizes it.
func (c *Catalog) Tagged(message string) string {
	return c.Colorize(c.Text(KeyChatBase, Tokens{"message": message}))
}

// Chat renders key as a tagged, colorized chat line.
func (c *Catalog) Chat(key string, tokens Tokens) string {
	return c.Tagged(c.Text(key, tokens))
}

func substitute(s string, tokens Tokens) string {
	if len(tokens) == 0 {
		return s
	}
	pairs := make([]string, 0, len(tokens)*2)
	for k, v := range tokens {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// Package main provides a CLI for reading recorded CTF matches, either from
// the extension's database or from the JSON files the memory recorder writes.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ctfmode/extension/internal/config"
	"github.com/ctfmode/extension/internal/database"
	gormstorage "github.com/ctfmode/extension/internal/storage/gorm"
	"github.com/ctfmode/extension/internal/storage/memory"
	"github.com/ctfmode/extension/pkg/core"
)

const usage = `usage: ctfstats [flags] <command> [args]

commands:
  leaderboard         players with the most captures
  matches             latest recorded matches
  rounds <matchID>    round transitions of a match
  flags <matchID>     flag transitions of a match
  export <file>       summary of an exported match file (.json or .json.gz)

flags:
`

var errUsage = errors.New("invalid usage")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

type options struct {
	configDir string
	dbType    string
	dbPath    string
	limit     int
	verbose   bool
}

func run(args []string, stdout, stderr io.Writer) error {
	var opts options
	fs := flag.NewFlagSet("ctfstats", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configDir, "config", "", "directory holding "+config.FileName+" (default: built-in settings)")
	fs.StringVar(&opts.dbType, "type", "", "database type, sqlite or postgres (default: from config)")
	fs.StringVar(&opts.dbPath, "db", "", "SQLite database file, implies -type sqlite")
	fs.IntVar(&opts.limit, "limit", 10, "maximum rows for leaderboard and matches")
	fs.BoolVar(&opts.verbose, "v", false, "log database activity to stderr")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return errUsage
	}
	command, rest := strings.ToLower(rest[0]), rest[1:]

	if command == "export" {
		if len(rest) != 1 {
			fs.Usage()
			return errUsage
		}
		return printExport(stdout, rest[0])
	}

	switch command {
	case "leaderboard", "matches", "rounds", "flags":
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", command)
		fs.Usage()
		return errUsage
	}

	var matchID uint
	if command == "rounds" || command == "flags" {
		if len(rest) != 1 {
			fs.Usage()
			return errUsage
		}
		id, err := strconv.ParseUint(rest[0], 10, 64)
		if err != nil || id == 0 {
			return fmt.Errorf("invalid match id %q", rest[0])
		}
		matchID = uint(id)
	}

	db, closeDB, err := openDB(opts, stderr)
	if err != nil {
		return err
	}
	defer closeDB()

	switch command {
	case "leaderboard":
		return printLeaderboard(stdout, db, opts.limit)
	case "matches":
		return printMatches(stdout, db, opts.limit)
	case "rounds":
		return printRounds(stdout, db, matchID)
	default:
		return printFlags(stdout, db, matchID)
	}
}

func openDB(opts options, stderr io.Writer) (*gorm.DB, func(), error) {
	if opts.configDir != "" {
		if err := config.Load(opts.configDir); err != nil {
			return nil, nil, err
		}
	} else {
		config.LoadDefaults()
	}

	cfg := config.GetStorageConfig()
	if opts.dbType != "" {
		cfg.Type = opts.dbType
	}
	if opts.dbPath != "" {
		cfg.Type = "sqlite"
		cfg.SQLite.Path = opts.dbPath
	}
	if cfg.Type != "sqlite" && cfg.Type != "postgres" {
		return nil, nil, fmt.Errorf("storage type %q has no database, use -db or the export command", cfg.Type)
	}

	log := zerolog.Nop()
	if opts.verbose {
		log = zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()
	}
	mgr := database.NewManager(log)
	if err := mgr.Open(cfg); err != nil {
		return nil, nil, err
	}
	return mgr.DB, func() { mgr.Close() }, nil
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printLeaderboard(w io.Writer, db *gorm.DB, limit int) error {
	rows, err := gormstorage.Leaderboard(db, limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "No captures recorded.")
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "#\tPLAYER\tTEAM\tCAPTURES")
	for i, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", i+1, r.PlayerName, r.PlayerTeam, r.Captures)
	}
	return tw.Flush()
}

func printMatches(w io.Writer, db *gorm.DB, limit int) error {
	matches, err := gormstorage.RecentMatches(db, limit)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Fprintln(w, "No matches recorded.")
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tMAP\tSTARTED\tDURATION\tFLAGS")
	for _, m := range matches {
		duration := "running"
		if m.EndedAt != nil {
			duration = m.EndedAt.Sub(m.StartedAt).Round(time.Second).String()
		}
		flags := "no"
		if m.HasFlags {
			flags = fmt.Sprintf("yes, %d caps", m.CapsToWin)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", m.ID, m.MapName, m.StartedAt.Format(time.DateTime), duration, flags)
	}
	return tw.Flush()
}

func printRounds(w io.Writer, db *gorm.DB, matchID uint) error {
	events, err := gormstorage.RoundHistory(db, matchID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintf(w, "No rounds recorded for match %d.\n", matchID)
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "TIME\tROUND\tEVENT\tWINNER\tSCORE")
	for _, e := range events {
		winner := "-"
		if e.Kind == core.RoundWon {
			winner = e.Winner.String()
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", e.Time.Format(time.TimeOnly), e.Round, e.Kind, winner, formatScores(e.Scores))
	}
	return tw.Flush()
}

func printFlags(w io.Writer, db *gorm.DB, matchID uint) error {
	events, err := gormstorage.FlagHistory(db, matchID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintf(w, "No flag events recorded for match %d.\n", matchID)
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "TIME\tROUND\tFLAG\tACTION\tPLAYER")
	for _, e := range events {
		player := "-"
		if e.PlayerIndex >= 0 && e.PlayerName != "" {
			player = fmt.Sprintf("%s (%s)", e.PlayerName, e.PlayerTeam)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", e.Time.Format(time.TimeOnly), e.Round, e.FlagTeam, e.Action, player)
	}
	return tw.Flush()
}

func printExport(w io.Writer, path string) error {
	export, err := memory.ReadExport(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Match %d on %s (extension %s)\n", export.MatchID, export.MapName, export.ExtensionVersion)
	fmt.Fprintf(w, "Played %s, %s\n", export.StartedAt.Format(time.DateTime), export.EndedAt.Sub(export.StartedAt).Round(time.Second))
	fmt.Fprintf(w, "Rounds: %d, flag events: %d\n", countRounds(export.Rounds), len(export.FlagEvents))
	for _, team := range sortedKeys(export.CaptureZones) {
		fmt.Fprintf(w, "%s capture zone: %s\n", team, export.CaptureZones[team])
	}
	if len(export.Captures) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw := newTable(w)
	fmt.Fprintln(tw, "PLAYER\tTEAM\tCAPTURES")
	for _, c := range export.Captures {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", c.PlayerName, c.Team, c.Captures)
	}
	return tw.Flush()
}

func countRounds(rounds []memory.RoundJSON) int {
	n := 0
	for _, r := range rounds {
		if r.Kind == string(core.RoundStarted) {
			n++
		}
	}
	return n
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatScores renders scores as "RED 1 : BLUE 2" in team order.
func formatScores(scores map[core.Team]int) string {
	teams := make([]core.Team, 0, len(scores))
	for t := range scores {
		teams = append(teams, t)
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i] < teams[j] })
	parts := make([]string, len(teams))
	for i, t := range teams {
		parts[i] = fmt.Sprintf("%s %d", t, scores[t])
	}
	return strings.Join(parts, " : ")
}

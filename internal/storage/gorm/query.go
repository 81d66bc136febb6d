package gormstorage

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/ctfmode/extension/internal/model"
	"github.com/ctfmode/extension/pkg/core"
)

// PlayerCaptures is one leaderboard row.
type PlayerCaptures struct {
	PlayerName string
	PlayerTeam string
	Captures   int64
}

// Leaderboard returns the players with the most captures across all matches.
func Leaderboard(db *gorm.DB, limit int) ([]PlayerCaptures, error) {
	var rows []PlayerCaptures
	err := db.Model(&model.FlagEvent{}).
		Select("player_name, player_team, COUNT(*) AS captures").
		Where("action = ? AND player_name <> ''", string(core.ActionCaptured)).
		Group("player_name, player_team").
		Order("captures DESC, player_name").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("querying leaderboard: %w", err)
	}
	return rows, nil
}

// RecentMatches returns the latest matches, newest first.
func RecentMatches(db *gorm.DB, limit int) ([]model.Match, error) {
	var matches []model.Match
	if err := db.Order("started_at DESC, id DESC").Limit(limit).Find(&matches).Error; err != nil {
		return nil, fmt.Errorf("querying matches: %w", err)
	}
	return matches, nil
}

// RoundHistory returns the round transitions of a match in order.
func RoundHistory(db *gorm.DB, matchID uint) ([]core.RoundEvent, error) {
	var rows []model.RoundEvent
	if err := db.Where("match_id = ?", matchID).Order("time, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying rounds of match %d: %w", matchID, err)
	}
	out := make([]core.RoundEvent, 0, len(rows))
	for _, r := range rows {
		e, err := r.Core()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// FlagHistory returns the flag transitions of a match in order.
func FlagHistory(db *gorm.DB, matchID uint) ([]core.FlagEvent, error) {
	var rows []model.FlagEvent
	if err := db.Where("match_id = ?", matchID).Order("time, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying flag events of match %d: %w", matchID, err)
	}
	out := make([]core.FlagEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Core())
	}
	return out, nil
}

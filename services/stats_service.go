// services/stats_service.go
package services

import (
	"log"
	"math"
	"time"

	"challenge-settlement-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StatsService rolls completed challenges into per-wallet aggregates.
// Failures here never block settlement; the rollup is advisory data.
type StatsService struct {
	DB *gorm.DB
}

func NewStatsService(db *gorm.DB) *StatsService {
	return &StatsService{DB: db}
}

// RecordCompletion credits the winner with the prize pool and a win, and
// every other participant with a loss.
func (s *StatsService) RecordCompletion(challenge *models.Challenge, winner string) {
	var players []models.ChallengePlayer
	if err := s.DB.Where("challenge_id = ?", challenge.ID).Find(&players).Error; err != nil {
		log.Printf("⚠️  [STATS] failed to load players for %s: %v", challenge.ID, err)
		return
	}

	for _, p := range players {
		won := p.Wallet == winner
		earned := 0.0
		if won {
			earned = challenge.PrizePool
		}
		if err := s.apply(p.Wallet, p.DisplayName, challenge.Game, won, earned); err != nil {
			log.Printf("⚠️  [STATS] failed to update stats for %s: %v", p.Wallet, err)
		}
	}
}

func (s *StatsService) apply(wallet, displayName, game string, won bool, earned float64) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var stats models.PlayerStats
		err := tx.Where("wallet = ?", wallet).First(&stats).Error
		if err == gorm.ErrRecordNotFound {
			stats = models.PlayerStats{Wallet: wallet, DisplayName: displayName}
			if err := tx.Create(&stats).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		stats.GamesPlayed++
		if won {
			stats.Wins++
		} else {
			stats.Losses++
		}
		stats.TotalEarned += earned
		stats.WinRate = math.Round(float64(stats.Wins)/float64(stats.GamesPlayed)*1000) / 10
		stats.LastActive = time.Now()
		if displayName != "" {
			stats.DisplayName = displayName
		}
		if err := tx.Save(&stats).Error; err != nil {
			return err
		}

		gameRow := models.PlayerGameStats{
			ID:     uuid.NewString(),
			Wallet: wallet,
			Game:   game,
		}
		if won {
			gameRow.Wins = 1
		} else {
			gameRow.Losses = 1
		}
		gameRow.Earned = earned
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "wallet"}, {Name: "game"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"wins":   gorm.Expr("player_game_stats.wins + ?", gameRow.Wins),
				"losses": gorm.Expr("player_game_stats.losses + ?", gameRow.Losses),
				"earned": gorm.Expr("player_game_stats.earned + ?", earned),
			}),
		}).Create(&gameRow).Error
	})
}

// GetPlayerStats returns one wallet's aggregate with per-game breakdown.
func (s *StatsService) GetPlayerStats(wallet string) (*models.PlayerStats, error) {
	var stats models.PlayerStats
	if err := s.DB.Preload("GameStats").Where("wallet = ?", wallet).First(&stats).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}

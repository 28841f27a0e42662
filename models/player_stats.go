package models

import "time"

// PlayerStats is the per-wallet win/loss rollup updated when a challenge
// completes. WinRate is a percentage rounded to one decimal.
type PlayerStats struct {
	Wallet      string    `json:"wallet" gorm:"primaryKey"`
	DisplayName string    `json:"display_name,omitempty"`
	Wins        int64     `json:"wins" gorm:"not null;default:0"`
	Losses      int64     `json:"losses" gorm:"not null;default:0"`
	WinRate     float64   `json:"win_rate" gorm:"not null;default:0"`
	TotalEarned float64   `json:"total_earned" gorm:"not null;default:0"`
	GamesPlayed int64     `json:"games_played" gorm:"not null;default:0"`
	LastActive  time.Time `json:"last_active"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	GameStats []PlayerGameStats `json:"game_stats,omitempty" gorm:"foreignKey:Wallet;references:Wallet"`
}

// PlayerGameStats is the per-game breakdown for one wallet.
type PlayerGameStats struct {
	ID     string  `json:"id" gorm:"primaryKey"`
	Wallet string  `json:"wallet" gorm:"not null;index;uniqueIndex:idx_wallet_game"`
	Game   string  `json:"game" gorm:"not null;uniqueIndex:idx_wallet_game"`
	Wins   int64   `json:"wins" gorm:"not null;default:0"`
	Losses int64   `json:"losses" gorm:"not null;default:0"`
	Earned float64 `json:"earned" gorm:"not null;default:0"`
}

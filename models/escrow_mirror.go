package models

import "time"

// Ledger-side escrow states as reported by the ledger gateway.
const (
	EscrowStateOpen       = "open"
	EscrowStateInProgress = "in-progress"
	EscrowStateCompleted  = "completed"
	EscrowStateCancelled  = "cancelled"
	EscrowStateDisputed   = "disputed"
)

// EscrowMirror mirrors on-chain escrow account state from the ledger
// gateway. It is a read model: the sync worker upserts it and uses it to
// detect drift between the store and the chain.
// Table name: escrow_mirror
type EscrowMirror struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	ChallengeID   string    `json:"challenge_id" gorm:"not null;index"`
	Account       string    `json:"account" gorm:"not null;uniqueIndex"`
	State         string    `json:"state" gorm:"type:varchar(16);not null"`
	LockedAmount  float64   `json:"locked_amount" gorm:"not null"`
	LastCheckedAt time.Time `json:"last_checked_at" gorm:"not null"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (EscrowMirror) TableName() string { return "escrow_mirror" }

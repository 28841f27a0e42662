package models

import "time"

// ClaimEvent is a time-boxed promotional token drop with a fixed quota.
// CurrentClaims must always equal the number of ClaimGrant rows for the
// event; both are mutated together inside one transaction.
type ClaimEvent struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	Name           string    `json:"name"`
	IsActive       bool      `json:"is_active" gorm:"not null;default:false;index"`
	TotalAmount    float64   `json:"total_amount" gorm:"not null"`
	AmountPerClaim float64   `json:"amount_per_claim" gorm:"not null"`
	MaxClaims      int       `json:"max_claims" gorm:"not null"`
	CurrentClaims  int       `json:"current_claims" gorm:"not null;default:0"`
	ActivatedAt    time.Time `json:"activated_at"`
	ExpiresAt      time.Time `json:"expires_at" gorm:"index"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Grants []ClaimGrant `json:"grants,omitempty" gorm:"foreignKey:EventID"`
}

// ClaimGrant records one wallet's admission to a claim event. The unique
// index keeps the claimedBy set duplicate-free under concurrent requests.
type ClaimGrant struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	EventID   string    `json:"event_id" gorm:"not null;index;uniqueIndex:idx_event_wallet"`
	Wallet    string    `json:"wallet" gorm:"not null;uniqueIndex:idx_event_wallet"`
	Amount    float64   `json:"amount" gorm:"not null"`
	ClaimedAt time.Time `json:"claimed_at" gorm:"autoCreateTime"`
}

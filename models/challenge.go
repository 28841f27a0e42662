package models

import (
	"time"
)

// ChallengeStatus is the lifecycle state of a challenge.
type ChallengeStatus string

const (
	StatusPending    ChallengeStatus = "pending"
	StatusActive     ChallengeStatus = "active"
	StatusInProgress ChallengeStatus = "in-progress"
	StatusCompleted  ChallengeStatus = "completed"
	StatusCancelled  ChallengeStatus = "cancelled"
	StatusDisputed   ChallengeStatus = "disputed"
	StatusExpired    ChallengeStatus = "expired"
)

// legalTransitions is the forward-only transition graph. Repair transitions
// (see RepairAction) are deliberately not in this map.
var legalTransitions = map[ChallengeStatus][]ChallengeStatus{
	StatusPending:    {StatusActive, StatusCancelled},
	StatusActive:     {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusDisputed, StatusExpired, StatusCancelled},
}

// CanTransition reports whether from → to is a legal engine transition.
func (from ChallengeStatus) CanTransition(to ChallengeStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further engine transition may leave the status.
func (s ChallengeStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusDisputed, StatusExpired:
		return true
	}
	return false
}

// ValidStatus reports whether s is one of the known statuses.
func ValidStatus(s ChallengeStatus) bool {
	switch s {
	case StatusPending, StatusActive, StatusInProgress,
		StatusCompleted, StatusCancelled, StatusDisputed, StatusExpired:
		return true
	}
	return false
}

// Challenge is the authoritative settlement record for one wagered match.
type Challenge struct {
	ID      string `json:"id" gorm:"primaryKey"`
	Creator string `json:"creator" gorm:"not null;index"`

	// Display metadata
	Title    string `json:"title"`
	Slug     string `json:"slug" gorm:"index"`
	Game     string `json:"game"`
	Category string `json:"category"`
	Platform string `json:"platform"`

	EntryFee   float64 `json:"entry_fee" gorm:"not null"`
	PrizePool  float64 `json:"prize_pool" gorm:"not null"`
	MaxPlayers int     `json:"max_players" gorm:"not null;default:2"`

	// PlayerCount duplicates len(Players) so joins can be admitted with a
	// single conditional increment instead of a count-then-insert race.
	PlayerCount int `json:"player_count" gorm:"not null;default:0"`

	Status ChallengeStatus `json:"status" gorm:"type:varchar(16);not null;default:'pending';index"`

	// Winner is set only by the reconciler, the deadline sweep or an audited
	// repair. Empty means undecided.
	Winner          string     `json:"winner,omitempty"`
	CanClaim        bool       `json:"can_claim" gorm:"not null;default:false"`
	PayoutTriggered bool       `json:"payout_triggered" gorm:"not null;default:false"`
	PayoutSignature string     `json:"payout_signature,omitempty"`
	PayoutAt        *time.Time `json:"payout_at,omitempty"`

	// EscrowAccount is the ledger program's escrow address for this challenge.
	EscrowAccount string `json:"escrow_account,omitempty" gorm:"index"`

	// ResultDeadline is set when the challenge enters in-progress.
	ResultDeadline *time.Time `json:"result_deadline,omitempty" gorm:"index"`
	// ExpiresAt bounds how long an unfilled pending/active challenge is kept open.
	ExpiresAt *time.Time `json:"expires_at,omitempty" gorm:"index"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Players []ChallengePlayer `json:"players,omitempty" gorm:"foreignKey:ChallengeID"`
	Results []ChallengeResult `json:"results,omitempty" gorm:"foreignKey:ChallengeID"`
}

// ChallengePlayer is one participant's membership and stake-lock state.
type ChallengePlayer struct {
	ID          string `json:"id" gorm:"primaryKey"`
	ChallengeID string `json:"challenge_id" gorm:"not null;index;uniqueIndex:idx_challenge_wallet"`
	Wallet      string `json:"wallet" gorm:"not null;uniqueIndex:idx_challenge_wallet"`
	DisplayName string `json:"display_name,omitempty"`

	// StakeLocked flips once the ledger confirms this player's stake is in
	// escrow. The challenge may not enter in-progress before every player's
	// flag is set.
	StakeLocked   bool       `json:"stake_locked" gorm:"not null;default:false"`
	LockSignature string     `json:"lock_signature,omitempty"`
	LockedAt      *time.Time `json:"locked_at,omitempty"`

	// CancelRequested records a mutual-cancel vote for in-progress challenges.
	CancelRequested bool `json:"cancel_requested" gorm:"not null;default:false"`

	JoinedAt time.Time `json:"joined_at" gorm:"autoCreateTime"`
}

// ChallengeResult is one participant's self-reported outcome. The unique
// index is the trust boundary: a second submission from the same wallet is
// rejected, never overwritten.
type ChallengeResult struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	ChallengeID string    `json:"challenge_id" gorm:"not null;index;uniqueIndex:idx_result_wallet"`
	Wallet      string    `json:"wallet" gorm:"not null;uniqueIndex:idx_result_wallet"`
	DidWin      bool      `json:"did_win" gorm:"not null"`
	SubmittedAt time.Time `json:"submitted_at" gorm:"autoCreateTime"`
}

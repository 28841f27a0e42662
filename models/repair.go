package models

import "time"

// RepairAction is the audit trail for out-of-band status repairs. The
// engine's own transitions never move a challenge backward; a repair may
// (stuck in-progress back to active, disputed to completed/cancelled), and
// every such override is recorded here.
type RepairAction struct {
	ID          string          `json:"id" gorm:"primaryKey"`
	ChallengeID string          `json:"challenge_id" gorm:"not null;index"`
	Actor       string          `json:"actor" gorm:"not null"`
	FromStatus  ChallengeStatus `json:"from_status" gorm:"type:varchar(16);not null"`
	ToStatus    ChallengeStatus `json:"to_status" gorm:"type:varchar(16);not null"`
	Winner      string          `json:"winner,omitempty"`
	Reason      string          `json:"reason" gorm:"type:text"`
	CreatedAt   time.Time       `json:"created_at" gorm:"autoCreateTime"`
}

// repairTransitions are the only overrides the repair endpoint accepts.
var repairTransitions = map[ChallengeStatus][]ChallengeStatus{
	StatusInProgress: {StatusActive, StatusCompleted},
	StatusDisputed:   {StatusCompleted, StatusCancelled},
}

// CanRepair reports whether from → to is an allowed repair override.
func CanRepair(from, to ChallengeStatus) bool {
	for _, next := range repairTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

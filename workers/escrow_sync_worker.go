package workers

import (
	"context"
	"log"
	"time"

	"challenge-settlement-system/models"
	"challenge-settlement-system/services"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PollEscrows mirrors ledger-side escrow account state into the local
// escrow_mirror table and logs drift between the mirror and the challenge
// store. The mirror is a read model; it never drives settlement — the
// conditional updates in the services do — so a missed poll costs freshness,
// not correctness.
func PollEscrows(ctx context.Context, ledger *services.LedgerClient, db *gorm.DB, pollInterval time.Duration) {
	log.Println("Starting escrow mirror polling...")
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Escrow polling stopped.")
			return
		case <-ticker.C:
			pollStart := time.Now().UTC()

			escrows, err := ledger.GetChangedEscrows(ctx, lastSyncTime)
			if err != nil {
				log.Printf("❌ [ESCROW] Error polling escrow accounts: %v", err)
				continue
			}
			if len(escrows) == 0 {
				continue
			}
			log.Printf("📥 [ESCROW] Received %d escrow change(s) from ledger.", len(escrows))

			rows := make([]models.EscrowMirror, 0, len(escrows))
			for _, e := range escrows {
				rows = append(rows, models.EscrowMirror{
					ID:            uuid.NewString(),
					ChallengeID:   e.ChallengeID,
					Account:       e.Account,
					State:         e.State,
					LockedAmount:  e.LockedAmount,
					LastCheckedAt: pollStart,
				})
			}

			// Bulk upsert keyed on the unique account column.
			err = db.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "account"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"challenge_id",
					"state",
					"locked_amount",
					"last_checked_at",
					"updated_at",
				}),
			}).Create(&rows).Error
			if err != nil {
				log.Printf("❌ [ESCROW] Failed to upsert %d escrow row(s): %v", len(rows), err)
				// Keep lastSyncTime so the same window is retried next tick.
				continue
			}

			reportDrift(db, escrows)

			lastSyncTime = pollStart
			log.Printf("✅ [ESCROW] Mirrored %d escrow account(s).", len(rows))
		}
	}
}

// reportDrift flags challenges whose local status disagrees with the
// ledger-side escrow state. Drift is surfaced for the repair endpoint, never
// auto-corrected: a settled challenge must not move because a poll said so.
func reportDrift(db *gorm.DB, escrows []services.EscrowAccountState) {
	for _, e := range escrows {
		var challenge models.Challenge
		if err := db.Select("id", "status").First(&challenge, "id = ?", e.ChallengeID).Error; err != nil {
			continue
		}
		if challenge.Status.IsTerminal() {
			continue
		}
		if e.State == models.EscrowStateCancelled && challenge.Status == models.StatusInProgress {
			log.Printf("⚠️  [ESCROW] Drift: challenge %s is in-progress but escrow %s is cancelled", e.ChallengeID, e.Account)
		}
		if e.State == models.EscrowStateCompleted && challenge.Status != models.StatusCompleted {
			log.Printf("⚠️  [ESCROW] Drift: challenge %s is %s but escrow %s already completed", e.ChallengeID, challenge.Status, e.Account)
		}
	}
}

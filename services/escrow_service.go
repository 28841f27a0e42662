// services/escrow_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"challenge-settlement-system/models"
	"challenge-settlement-system/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// EscrowService sequences the two ledger operations per challenge: locking
// every player's stake before the match starts, and releasing the prize to
// the winner exactly once.
type EscrowService struct {
	DB     *gorm.DB
	Ledger LedgerAPI
	Events EventPublisher
	Stats  *StatsService

	resultWindow time.Duration
}

func NewEscrowService(db *gorm.DB, ledger LedgerAPI, events EventPublisher, stats *StatsService) *EscrowService {
	return &EscrowService{
		DB:           db,
		Ledger:       ledger,
		Events:       events,
		Stats:        stats,
		resultWindow: time.Duration(envInt("RESULT_DEADLINE_MINUTES", 120)) * time.Minute,
	}
}

// LockAllStakes locks every unconfirmed stake for an active challenge and,
// once all locks confirm, moves it to in-progress with the result deadline
// set. Safe to call repeatedly: confirmed locks are skipped and the final
// transition is guarded on status, so retries after a ledger failure are
// side-effect free.
func (s *EscrowService) LockAllStakes(ctx context.Context, challengeID string) error {
	var challenge models.Challenge
	if err := s.DB.Preload("Players").First(&challenge, "id = ?", challengeID).Error; err != nil {
		return fmt.Errorf("failed to load challenge: %w", err)
	}

	switch challenge.Status {
	case models.StatusActive:
		// proceed
	case models.StatusInProgress:
		return nil // all locks already confirmed
	default:
		return fmt.Errorf("challenge %s is %s, not awaiting stake locks", challengeID, challenge.Status)
	}

	for _, p := range challenge.Players {
		if p.StakeLocked {
			continue
		}
		sig, err := s.Ledger.LockStake(ctx, challengeID, p.Wallet, challenge.EntryFee)
		if err != nil {
			// Challenge stays active; the caller retries. Locks confirmed so
			// far keep their flags.
			return fmt.Errorf("stake lock failed for %s: %w", p.Wallet, err)
		}
		now := time.Now()
		res := s.DB.Model(&models.ChallengePlayer{}).
			Where("id = ? AND stake_locked = ?", p.ID, false).
			Updates(map[string]interface{}{
				"stake_locked":   true,
				"lock_signature": sig,
				"locked_at":      &now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to record stake lock: %w", res.Error)
		}
		log.Printf("🔒 [ESCROW] stake locked for %s on challenge %s", p.Wallet, challengeID)
	}

	var unlocked int64
	if err := s.DB.Model(&models.ChallengePlayer{}).
		Where("challenge_id = ? AND stake_locked = ?", challengeID, false).
		Count(&unlocked).Error; err != nil {
		return err
	}
	if unlocked > 0 {
		return fmt.Errorf("%d stake lock(s) still unconfirmed", unlocked)
	}

	deadline := time.Now().Add(s.resultWindow)
	moved, err := transitionStatus(s.DB, challengeID, models.StatusActive, models.StatusInProgress, map[string]interface{}{
		"result_deadline": &deadline,
	})
	if err != nil {
		return err
	}
	if moved {
		log.Printf("⏰ Challenge %s in progress — result deadline %s", challengeID, deadline.Format(time.RFC3339))
	}
	return nil
}

// LockStakes is the retry endpoint for stake locking after a ledger failure.
func (s *EscrowService) LockStakes(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.LockAllStakes(c.Context(), id); err != nil {
		// Retryable: the challenge remains active with partial locks recorded.
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error(), "retryable": true})
	}
	return c.JSON(fiber.Map{"message": "all stakes locked", "challenge_id": id})
}

// ClaimPayout authorizes the prize release to the winner. The ledger call
// carries an idempotency key derived from the challenge id; the settle step
// is a conditional update on (can_claim, payout_triggered), so of N
// concurrent claims exactly one records the payout and the rest see
// already-settled.
func (s *EscrowService) ClaimPayout(c *fiber.Ctx) error {
	id := c.Params("id")
	wallet := c.Locals("wallet").(string)

	var challenge models.Challenge
	if err := s.DB.First(&challenge, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Challenge not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	if status, msg := validateClaim(&challenge, wallet); status != 0 {
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}

	sig, err := s.Ledger.ReleasePayout(c.Context(), id, challenge.Winner, challenge.PrizePool, PayoutIdempotencyKey(id))
	if err != nil {
		// Nothing was recorded; the idempotency key makes the retry safe
		// even if the ledger partially processed this attempt.
		log.Printf("❌ [ESCROW] payout release failed for %s: %v", id, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "payout release failed, retry", "retryable": true})
	}

	now := time.Now()
	res := s.DB.Model(&models.Challenge{}).
		Where("id = ? AND can_claim = ? AND payout_triggered = ?", id, true, false).
		Updates(map[string]interface{}{
			"can_claim":        false,
			"payout_triggered": true,
			"payout_signature": sig,
			"payout_at":        &now,
		})
	if res.Error != nil {
		log.Printf("DB Error settling payout for %s: %v", id, res.Error)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to record payout"})
	}
	if res.RowsAffected == 0 {
		// A concurrent claim won the settle race; the ledger deduplicated
		// the release on the idempotency key.
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Prize already claimed"})
	}

	log.Printf("💰 [ESCROW] payout %s: %.4f to %s (tx %s)", id, challenge.PrizePool, challenge.Winner, sig)
	publishSettled(s.Events, "payout.released", id, string(models.StatusCompleted), challenge.Winner, challenge.PrizePool)

	go s.archivePayoutReceipt(challenge, sig, now)

	return c.JSON(fiber.Map{
		"message":      "Prize claimed",
		"challenge_id": id,
		"winner":       challenge.Winner,
		"prize_pool":   challenge.PrizePool,
		"signature":    sig,
	})
}

// validateClaim returns (0, "") when the claim may proceed, otherwise an
// HTTP status and message. Check order mirrors the payout preconditions:
// settled-ness first, then eligibility, then caller identity.
func validateClaim(challenge *models.Challenge, caller string) (int, string) {
	if challenge.PayoutTriggered {
		return fiber.StatusConflict, "Prize already claimed"
	}
	if challenge.Status != models.StatusCompleted {
		return fiber.StatusBadRequest, "Challenge is not completed"
	}
	if challenge.Winner == "" {
		return fiber.StatusBadRequest, "No winner to pay out"
	}
	if !challenge.CanClaim {
		return fiber.StatusBadRequest, "Challenge is not ready for claim"
	}
	if caller != challenge.Winner {
		return fiber.StatusForbidden, "Only the winner can claim the prize"
	}
	return 0, ""
}

func (s *EscrowService) archivePayoutReceipt(challenge models.Challenge, sig string, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	key, err := utils.ArchiveReceipt(ctx, "payout", challenge.ID, fiber.Map{
		"challenge_id": challenge.ID,
		"winner":       challenge.Winner,
		"prize_pool":   challenge.PrizePool,
		"signature":    sig,
		"paid_at":      at,
	})
	if err != nil {
		log.Printf("⚠️  [ESCROW] receipt archive failed for %s (non-fatal): %v", challenge.ID, err)
		return
	}
	log.Printf("🧾 [ESCROW] payout receipt archived: %s", key)
}

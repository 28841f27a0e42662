// services/claim_service.go
package services

import (
	"errors"
	"log"
	"time"

	"challenge-settlement-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ClaimAllocator admits wallets into a fixed-quota promotional drop. The
// quota and the membership set are both enforced inside the database: the
// counter moves only through a conditional increment and the grant rows
// carry a unique (event, wallet) index, so no interleaving of concurrent
// requests can over-admit or double-admit.
type ClaimAllocator struct {
	DB     *gorm.DB
	Events EventPublisher
}

func NewClaimAllocator(db *gorm.DB, events EventPublisher) *ClaimAllocator {
	return &ClaimAllocator{DB: db, Events: events}
}

var errQuotaClosed = errors.New("claim event closed, expired, or quota reached")

// Claim admits the caller to a claim event.
func (a *ClaimAllocator) Claim(c *fiber.Ctx) error {
	eventID := c.Params("id")
	wallet := c.Locals("wallet").(string)

	var event models.ClaimEvent
	if err := a.DB.First(&event, "id = ?", eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Claim event not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	grant := models.ClaimGrant{
		ID:      uuid.NewString(),
		EventID: eventID,
		Wallet:  wallet,
		Amount:  event.AmountPerClaim,
	}

	err := a.DB.Transaction(func(tx *gorm.DB) error {
		// Membership first: the unique index rejects a duplicate wallet.
		if err := tx.Create(&grant).Error; err != nil {
			return err
		}
		// Quota, activity and expiry are all evaluated atomically against
		// the stored row; a stale snapshot cannot slip through.
		res := tx.Model(&models.ClaimEvent{}).
			Where("id = ? AND is_active = ? AND expires_at > ? AND current_claims < max_claims",
				eventID, true, time.Now()).
			Update("current_claims", gorm.Expr("current_claims + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errQuotaClosed
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "You have already claimed from this event"})
		}
		if errors.Is(err, errQuotaClosed) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Claim event is closed, expired, or fully claimed"})
		}
		log.Printf("DB Error admitting claim for %s on %s: %v", wallet, eventID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process claim"})
	}

	log.Printf("🎁 [CLAIM] %s granted %.4f from event %s", wallet, grant.Amount, eventID)
	publishSettled(a.Events, "claim.granted", eventID, "granted", wallet, grant.Amount)

	return c.JSON(fiber.Map{
		"message": "Claim granted",
		"amount":  grant.Amount,
		"event":   eventID,
	})
}

// GetEvent returns a claim event with its grants.
func (a *ClaimAllocator) GetEvent(c *fiber.Ctx) error {
	var event models.ClaimEvent
	if err := a.DB.Preload("Grants").First(&event, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Claim event not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(event)
}

// CreateEvent creates a promotional claim event (admin only).
func (a *ClaimAllocator) CreateEvent(c *fiber.Ctx) error {
	var req struct {
		Name            string  `json:"name"`
		TotalAmount     float64 `json:"total_amount"`
		AmountPerClaim  float64 `json:"amount_per_claim"`
		MaxClaims       int     `json:"max_claims"`
		DurationMinutes int     `json:"duration_minutes"`
		ActivateNow     bool    `json:"activate_now"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if req.AmountPerClaim <= 0 || req.MaxClaims <= 0 || req.TotalAmount <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "amounts and max_claims must be positive"})
	}
	if float64(req.MaxClaims)*req.AmountPerClaim > req.TotalAmount {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "max_claims × amount_per_claim exceeds total_amount"})
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = 60
	}

	now := time.Now()
	event := models.ClaimEvent{
		ID:             uuid.NewString(),
		Name:           req.Name,
		IsActive:       req.ActivateNow,
		TotalAmount:    req.TotalAmount,
		AmountPerClaim: req.AmountPerClaim,
		MaxClaims:      req.MaxClaims,
		ActivatedAt:    now,
		ExpiresAt:      now.Add(time.Duration(req.DurationMinutes) * time.Minute),
	}
	if err := a.DB.Create(&event).Error; err != nil {
		log.Printf("DB Error creating claim event: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create claim event"})
	}

	log.Printf("✅ Claim event created: %s (%d × %.4f, expires %s)",
		event.ID, event.MaxClaims, event.AmountPerClaim, event.ExpiresAt.Format(time.RFC3339))
	return c.Status(fiber.StatusCreated).JSON(event)
}

// DeactivateEvent closes a claim event early (admin only).
func (a *ClaimAllocator) DeactivateEvent(c *fiber.Ctx) error {
	res := a.DB.Model(&models.ClaimEvent{}).
		Where("id = ? AND is_active = ?", c.Params("id"), true).
		Update("is_active", false)
	if res.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to deactivate event"})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Event not found or already inactive"})
	}
	return c.JSON(fiber.Map{"message": "Claim event deactivated"})
}

// ExpireEvents deactivates events past their expiry. Run from the
// scheduler; claims are already rejected by the admission predicate before
// this flips the flag, so the job is housekeeping, not a guard.
func (a *ClaimAllocator) ExpireEvents() int {
	res := a.DB.Model(&models.ClaimEvent{}).
		Where("is_active = ? AND expires_at < ?", true, time.Now()).
		Update("is_active", false)
	if res.Error != nil {
		log.Printf("[CLAIM] failed to expire events: %v", res.Error)
		return 0
	}
	if res.RowsAffected > 0 {
		log.Printf("⏰ [CLAIM] deactivated %d expired claim event(s)", res.RowsAffected)
	}
	return int(res.RowsAffected)
}

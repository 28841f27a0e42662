// services/repair_service.go
package services

import (
	"context"
	"errors"
	"log"
	"time"

	"challenge-settlement-system/models"
	"challenge-settlement-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RepairService is the operator backdoor for challenges the normal flow
// cannot move: escrow locks that never finished, and disputes that need a
// human ruling. Every override is status-guarded like any other transition
// and leaves an audit row.
type RepairService struct {
	DB     *gorm.DB
	Events EventPublisher
	Stats  *StatsService
}

func NewRepairService(db *gorm.DB, events EventPublisher, stats *StatsService) *RepairService {
	return &RepairService{DB: db, Events: events, Stats: stats}
}

// ListStuck returns in-progress challenges that never filled their roster,
// which means the lock pass advanced the status without locking every stake.
func (r *RepairService) ListStuck(c *fiber.Ctx) error {
	var stuck []models.Challenge
	err := r.DB.Preload("Players").
		Where("status = ? AND player_count < max_players", models.StatusInProgress).
		Order("created_at ASC").
		Find(&stuck).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(fiber.Map{"count": len(stuck), "challenges": stuck})
}

// Repair applies an operator override to one challenge.
func (r *RepairService) Repair(c *fiber.Ctx) error {
	id := c.Params("id")
	actor := c.Locals("wallet").(string)

	var req struct {
		ToStatus string `json:"to_status"`
		Winner   string `json:"winner"`
		Reason   string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	to := models.ChallengeStatus(req.ToStatus)
	if !models.ValidStatus(to) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Unknown target status"})
	}
	if req.Reason == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "A reason is required for repairs"})
	}

	var challenge models.Challenge
	if err := r.DB.Preload("Players").First(&challenge, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Challenge not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	from := challenge.Status
	if !models.CanRepair(from, to) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Repair " + string(from) + " -> " + string(to) + " is not allowed",
		})
	}

	extra := map[string]interface{}{}
	if to == models.StatusCompleted {
		if req.Winner == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "winner is required when completing a challenge"})
		}
		isPlayer := false
		for _, p := range challenge.Players {
			if p.Wallet == req.Winner {
				isPlayer = true
				break
			}
		}
		if !isPlayer {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "winner is not a participant"})
		}
		extra["winner"] = req.Winner
		extra["can_claim"] = true
	}
	if to == models.StatusActive {
		// Back to the lock phase: the deadline is re-set when locks complete.
		extra["result_deadline"] = nil
	}

	// Repairs bypass the forward-only graph on purpose, so this runs its own
	// guarded update instead of transitionStatus. The from-status guard still
	// applies: a challenge the engine moved meanwhile is not overridden.
	extra["status"] = to
	res := r.DB.Model(&models.Challenge{}).
		Where("id = ? AND status = ?", id, from).
		Updates(extra)
	if res.Error != nil {
		log.Printf("DB Error repairing %s: %v", id, res.Error)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to repair challenge"})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Challenge changed state, re-check before repairing"})
	}

	action := models.RepairAction{
		ID:          uuid.NewString(),
		ChallengeID: id,
		Actor:       actor,
		FromStatus:  from,
		ToStatus:    to,
		Winner:      req.Winner,
		Reason:      req.Reason,
	}
	if err := r.DB.Create(&action).Error; err != nil {
		log.Printf("⚠️  Repair applied but audit row failed for %s: %v", id, err)
	}

	log.Printf("🔧 Repair: challenge %s %s -> %s by %s (%s)", id, from, to, actor, req.Reason)
	publishSettled(r.Events, "challenge.repaired", id, string(to), req.Winner, challenge.PrizePool)
	if to == models.StatusCompleted {
		r.Stats.RecordCompletion(&challenge, req.Winner)
	}

	go r.archiveRepairReceipt(action)

	return c.JSON(fiber.Map{
		"message":     "Challenge repaired",
		"from_status": from,
		"to_status":   to,
		"repair_id":   action.ID,
	})
}

// ListRepairs returns the repair audit trail, newest first.
func (r *RepairService) ListRepairs(c *fiber.Ctx) error {
	var actions []models.RepairAction
	query := r.DB.Order("created_at DESC").Limit(100)
	if id := c.Query("challenge_id"); id != "" {
		query = query.Where("challenge_id = ?", id)
	}
	if err := query.Find(&actions).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(actions)
}

func (r *RepairService) archiveRepairReceipt(action models.RepairAction) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	key, err := utils.ArchiveReceipt(ctx, "repair", action.ChallengeID, action)
	if err != nil {
		log.Printf("⚠️  Failed to archive repair receipt for %s: %v", action.ChallengeID, err)
		return
	}
	log.Printf("🗄️  Repair receipt archived: %s", key)
}

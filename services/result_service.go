// services/result_service.go
package services

import (
	"errors"
	"log"
	"strings"

	"challenge-settlement-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ResultService records self-reported outcomes and reconciles them into a
// winner decision once every expected participant has submitted.
type ResultService struct {
	DB     *gorm.DB
	Events EventPublisher
	Stats  *StatsService
}

func NewResultService(db *gorm.DB, events EventPublisher, stats *StatsService) *ResultService {
	return &ResultService{DB: db, Events: events, Stats: stats}
}

// Outcome of a reconciliation pass.
type Outcome int

const (
	// OutcomeNone: submissions incomplete, nothing to decide yet.
	OutcomeNone Outcome = iota
	// OutcomeWinner: a single winner was identified.
	OutcomeWinner
	// OutcomeDispute: contradictory claims, needs arbitration.
	OutcomeDispute
)

// DecideWinner applies the full-set decision rule: exactly one participant
// reporting a win while the rest report losses names the winner; any other
// full combination is a dispute. Partial sets decide nothing.
func DecideWinner(results []models.ChallengeResult, maxPlayers int) (string, Outcome) {
	if len(results) < maxPlayers {
		return "", OutcomeNone
	}
	var winner string
	var winClaims int
	for _, r := range results {
		if r.DidWin {
			winClaims++
			winner = r.Wallet
		}
	}
	if winClaims == 1 {
		return winner, OutcomeWinner
	}
	return "", OutcomeDispute
}

// SubmitResult records one participant's outcome. Each participant gets a
// single submission; a second attempt is rejected, not overwritten. When
// the submission completes the set, the decision rule runs and the
// challenge settles under a status guard.
func (s *ResultService) SubmitResult(c *fiber.Ctx) error {
	id := c.Params("id")
	wallet := c.Locals("wallet").(string)

	var req struct {
		DidWin *bool `json:"did_win"`
	}
	if err := c.BodyParser(&req); err != nil || req.DidWin == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "did_win is required"})
	}

	var challenge models.Challenge
	if err := s.DB.Preload("Players").First(&challenge, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Challenge not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	if challenge.Status != models.StatusInProgress {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Challenge is not accepting results"})
	}

	isPlayer := false
	for _, p := range challenge.Players {
		if p.Wallet == wallet {
			isPlayer = true
			break
		}
	}
	if !isPlayer {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "You are not part of this challenge"})
	}

	result := models.ChallengeResult{
		ID:          uuid.NewString(),
		ChallengeID: id,
		Wallet:      wallet,
		DidWin:      *req.DidWin,
	}
	if err := s.DB.Create(&result).Error; err != nil {
		// The unique (challenge, wallet) index is the trust boundary.
		if isUniqueViolation(err) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "You have already submitted your result"})
		}
		log.Printf("DB Error recording result for %s: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to record result"})
	}

	log.Printf("✅ Result recorded: challenge=%s wallet=%s didWin=%t", id, wallet, *req.DidWin)

	settled, err := s.Reconcile(&challenge)
	if err != nil {
		log.Printf("⚠️  Reconcile failed for %s (result recorded): %v", id, err)
	}

	return c.JSON(fiber.Map{
		"message": "Result submitted",
		"settled": settled,
	})
}

// Reconcile re-reads the result set and settles the challenge when it is
// complete. Returns true when this call performed the settling transition.
// Concurrent submissions may both reach here; the status guard lets only
// one of them through.
func (s *ResultService) Reconcile(challenge *models.Challenge) (bool, error) {
	var results []models.ChallengeResult
	if err := s.DB.Where("challenge_id = ?", challenge.ID).Find(&results).Error; err != nil {
		return false, err
	}

	winner, outcome := DecideWinner(results, challenge.MaxPlayers)
	switch outcome {
	case OutcomeNone:
		return false, nil

	case OutcomeWinner:
		moved, err := transitionStatus(s.DB, challenge.ID, models.StatusInProgress, models.StatusCompleted, map[string]interface{}{
			"winner":    winner,
			"can_claim": true,
		})
		if err != nil || !moved {
			return false, err
		}
		log.Printf("🏆 Challenge %s completed — winner %s, prize %.4f claimable", challenge.ID, winner, challenge.PrizePool)
		publishSettled(s.Events, "challenge.settled", challenge.ID, string(models.StatusCompleted), winner, challenge.PrizePool)
		s.Stats.RecordCompletion(challenge, winner)
		return true, nil

	case OutcomeDispute:
		moved, err := transitionStatus(s.DB, challenge.ID, models.StatusInProgress, models.StatusDisputed, nil)
		if err != nil || !moved {
			return false, err
		}
		log.Printf("🔴 Challenge %s disputed — contradictory results, awaiting arbitration", challenge.ID)
		publishSettled(s.Events, "challenge.disputed", challenge.ID, string(models.StatusDisputed), "", 0)
		return true, nil
	}
	return false, nil
}

// isUniqueViolation matches duplicate-key errors across the Postgres and
// sqlite drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}

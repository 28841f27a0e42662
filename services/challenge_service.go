// services/challenge_service.go
package services

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"challenge-settlement-system/models"
	"challenge-settlement-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ChallengeService struct {
	DB     *gorm.DB
	Escrow *EscrowService
	Events EventPublisher

	feePercent       float64
	defaultExpiryMin int
}

func NewChallengeService(db *gorm.DB, escrow *EscrowService, events EventPublisher) *ChallengeService {
	return &ChallengeService{
		DB:               db,
		Escrow:           escrow,
		Events:           events,
		feePercent:       envFloat("PLATFORM_FEE_PERCENT", 5),
		defaultExpiryMin: envInt("CHALLENGE_EXPIRY_MINUTES", 1440),
	}
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("⚠️  Invalid %s, using default %.2f", key, def)
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("⚠️  Invalid %s, using default %d", key, def)
	}
	return def
}

// ComputePrizePool derives the pot from the entry fee: every player stakes
// the fee, the platform keeps feePercent of the total.
func ComputePrizePool(entryFee float64, maxPlayers int, feePercent float64) float64 {
	total := entryFee * float64(maxPlayers)
	return total - total*feePercent/100
}

// CreateChallenge opens a new pending challenge with the caller as first player.
func (s *ChallengeService) CreateChallenge(c *fiber.Ctx) error {
	wallet := c.Locals("wallet").(string)

	var req struct {
		Title            string  `json:"title"`
		Game             string  `json:"game"`
		Category         string  `json:"category"`
		Platform         string  `json:"platform"`
		EntryFee         float64 `json:"entry_fee"`
		MaxPlayers       int     `json:"max_players"`
		DisplayName      string  `json:"display_name"`
		ExpiresInMinutes int     `json:"expires_in_minutes"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if req.EntryFee < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "entry_fee must be non-negative"})
	}
	if req.MaxPlayers == 0 {
		req.MaxPlayers = 2
	}
	if req.MaxPlayers < 2 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "max_players must be at least 2"})
	}
	if req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "title is required"})
	}

	expiryMin := req.ExpiresInMinutes
	if expiryMin <= 0 {
		expiryMin = s.defaultExpiryMin
	}
	expiresAt := time.Now().Add(time.Duration(expiryMin) * time.Minute)

	challenge := models.Challenge{
		ID:          uuid.NewString(),
		Creator:     wallet,
		Title:       req.Title,
		Slug:        utils.ChallengeSlug(req.Title),
		Game:        utils.NormalizeGameKey(req.Game),
		Category:    utils.NormalizeGameKey(req.Category),
		Platform:    req.Platform,
		EntryFee:    req.EntryFee,
		MaxPlayers:  req.MaxPlayers,
		PlayerCount: 1,
		PrizePool:   ComputePrizePool(req.EntryFee, req.MaxPlayers, s.feePercent),
		Status:      models.StatusPending,
		ExpiresAt:   &expiresAt,
	}

	creatorRow := models.ChallengePlayer{
		ID:          uuid.NewString(),
		ChallengeID: challenge.ID,
		Wallet:      wallet,
		DisplayName: utils.SanitizeDisplayName(req.DisplayName),
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&challenge).Error; err != nil {
			return err
		}
		return tx.Create(&creatorRow).Error
	})
	if err != nil {
		log.Printf("DB Error creating challenge: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create challenge"})
	}

	log.Printf("✅ Challenge created: %s (%s) by %s", challenge.ID, challenge.Title, wallet)
	return c.Status(fiber.StatusCreated).JSON(challenge)
}

// GetChallenges lists challenges, optionally filtered by status or creator.
func (s *ChallengeService) GetChallenges(c *fiber.Ctx) error {
	query := s.DB.Preload("Players").Order("created_at DESC")

	if status := c.Query("status"); status != "" {
		if !models.ValidStatus(models.ChallengeStatus(status)) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid status filter"})
		}
		query = query.Where("status = ?", status)
	}
	if creator := c.Query("creator"); creator != "" {
		query = query.Where("creator = ?", creator)
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid limit parameter"})
		}
		query = query.Limit(limit)
	}

	var challenges []models.Challenge
	if err := query.Find(&challenges).Error; err != nil {
		log.Printf("DB Error fetching challenges: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch challenges"})
	}
	return c.JSON(challenges)
}

// GetChallengeByID returns one challenge with players and results.
func (s *ChallengeService) GetChallengeByID(c *fiber.Ctx) error {
	id := c.Params("id")

	var challenge models.Challenge
	if err := s.DB.Preload("Players").Preload("Results").First(&challenge, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Challenge not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(challenge)
}

// JoinChallenge admits the caller into a pending challenge. Capacity is
// enforced by a conditional increment on player_count, so two racing joins
// for the last slot cannot both be admitted. When the challenge fills it
// moves to active and stake locking begins.
func (s *ChallengeService) JoinChallenge(c *fiber.Ctx) error {
	id := c.Params("id")
	wallet := c.Locals("wallet").(string)

	var req struct {
		DisplayName string `json:"display_name"`
	}
	_ = c.BodyParser(&req) // body is optional

	var challenge models.Challenge
	if err := s.DB.First(&challenge, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Challenge not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	if challenge.Status != models.StatusPending {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Challenge is not open for joining"})
	}
	if challenge.ExpiresAt != nil && challenge.ExpiresAt.Before(time.Now()) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Challenge has expired"})
	}

	var existing int64
	s.DB.Model(&models.ChallengePlayer{}).
		Where("challenge_id = ? AND wallet = ?", id, wallet).
		Count(&existing)
	if existing > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "You are already in this challenge"})
	}

	var nowFull bool
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Challenge{}).
			Where("id = ? AND status = ? AND player_count < max_players", id, models.StatusPending).
			Update("player_count", gorm.Expr("player_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errChallengeFull
		}

		player := models.ChallengePlayer{
			ID:          uuid.NewString(),
			ChallengeID: id,
			Wallet:      wallet,
			DisplayName: utils.SanitizeDisplayName(req.DisplayName),
		}
		if err := tx.Create(&player).Error; err != nil {
			return err
		}

		var updated models.Challenge
		if err := tx.First(&updated, "id = ?", id).Error; err != nil {
			return err
		}
		if updated.PlayerCount >= updated.MaxPlayers {
			res := tx.Model(&models.Challenge{}).
				Where("id = ? AND status = ?", id, models.StatusPending).
				Update("status", models.StatusActive)
			if res.Error != nil {
				return res.Error
			}
			nowFull = res.RowsAffected == 1
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errChallengeFull) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Challenge already full"})
		}
		log.Printf("DB Error joining challenge %s: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to join challenge"})
	}

	log.Printf("✅ Player %s joined challenge %s", wallet, id)

	// Challenge is full — start the escrow lock sequence. A ledger failure
	// here is retryable via POST /challenges/:id/locks; the challenge stays
	// active until every stake confirms.
	if nowFull {
		if err := s.Escrow.LockAllStakes(c.Context(), id); err != nil {
			log.Printf("⚠️  [ESCROW] stake locking incomplete for %s: %v", id, err)
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
				"message": "joined; stake locking pending, retry lock endpoint",
				"error":   err.Error(),
			})
		}
	}

	return c.JSON(fiber.Map{"message": "joined", "challenge_id": id, "full": nowFull})
}

var errChallengeFull = errors.New("challenge full")

// CancelChallenge cancels a pending challenge that nobody has joined yet.
// Only the creator may do this; the guard is part of the conditional update.
func (s *ChallengeService) CancelChallenge(c *fiber.Ctx) error {
	id := c.Params("id")
	wallet := c.Locals("wallet").(string)

	res := s.DB.Model(&models.Challenge{}).
		Where("id = ? AND creator = ? AND status = ? AND player_count = 1", id, wallet, models.StatusPending).
		Update("status", models.StatusCancelled)
	if res.Error != nil {
		log.Printf("DB Error cancelling challenge %s: %v", id, res.Error)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to cancel challenge"})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Challenge cannot be cancelled (not yours, already joined, or not pending)",
		})
	}

	publishSettled(s.Events, "challenge.cancelled", id, string(models.StatusCancelled), "", 0)
	return c.JSON(fiber.Map{"message": "Challenge cancelled", "challenge_id": id})
}

// RequestCancel records a mutual-cancel vote on an in-progress challenge.
// When every player has voted the challenge is cancelled; stakes are
// returned by the ledger program.
func (s *ChallengeService) RequestCancel(c *fiber.Ctx) error {
	id := c.Params("id")
	wallet := c.Locals("wallet").(string)

	var challenge models.Challenge
	if err := s.DB.First(&challenge, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Challenge not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	if challenge.Status != models.StatusInProgress {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Only in-progress challenges can be mutually cancelled"})
	}

	res := s.DB.Model(&models.ChallengePlayer{}).
		Where("challenge_id = ? AND wallet = ?", id, wallet).
		Update("cancel_requested", true)
	if res.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to record cancel request"})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Only participants can request cancellation"})
	}

	var votes int64
	s.DB.Model(&models.ChallengePlayer{}).
		Where("challenge_id = ? AND cancel_requested = ?", id, true).
		Count(&votes)

	if int(votes) < challenge.PlayerCount {
		return c.JSON(fiber.Map{
			"message": "cancel requested, waiting for other players",
			"votes":   votes,
			"needed":  challenge.PlayerCount,
		})
	}

	// Everyone agreed. The status guard keeps a racing sweep or reconciler
	// from also settling the challenge.
	res = s.DB.Model(&models.Challenge{}).
		Where("id = ? AND status = ?", id, models.StatusInProgress).
		Update("status", models.StatusCancelled)
	if res.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to cancel challenge"})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Challenge was settled concurrently"})
	}

	log.Printf("🤝 All players agreed — challenge %s cancelled, stakes to be refunded", id)
	publishSettled(s.Events, "challenge.cancelled", id, string(models.StatusCancelled), "", 0)
	return c.JSON(fiber.Map{"message": "Challenge cancelled by mutual agreement"})
}

// transitionStatus applies a guarded forward transition and returns whether
// this caller won the race. Extra columns may accompany the status change.
func transitionStatus(db *gorm.DB, id string, from, to models.ChallengeStatus, extra map[string]interface{}) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("illegal transition %s → %s", from, to)
	}
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := db.Model(&models.Challenge{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

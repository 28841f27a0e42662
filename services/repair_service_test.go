package services

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"challenge-settlement-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

func newRepairApp(db *gorm.DB) *fiber.App {
	svc := NewRepairService(db, noopPublisher{}, NewStatsService(db))
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("wallet", c.Get("X-Wallet-Address"))
		return c.Next()
	})
	app.Post("/admin/challenges/:id/repair", svc.Repair)
	app.Get("/admin/challenges/stuck", svc.ListStuck)
	return app
}

func repairAs(t *testing.T, app *fiber.App, challengeID string, body fiber.Map) int {
	t.Helper()
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest("POST", "/admin/challenges/"+challengeID+"/repair", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Wallet-Address", "operator")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestRepairDisputedToCompleted(t *testing.T) {
	db := newTestDB(t)
	app := newRepairApp(db)

	challenge := seedChallenge(t, db, models.StatusDisputed, "alice", "bob")

	code := repairAs(t, app, challenge.ID, fiber.Map{
		"to_status": "completed",
		"winner":    "alice",
		"reason":    "screenshot evidence reviewed",
	})
	if code != fiber.StatusOK {
		t.Fatalf("repair status = %d, want 200", code)
	}

	var got models.Challenge
	db.First(&got, "id = ?", challenge.ID)
	if got.Status != models.StatusCompleted || got.Winner != "alice" || !got.CanClaim {
		t.Fatalf("got status=%s winner=%q canClaim=%t", got.Status, got.Winner, got.CanClaim)
	}

	var action models.RepairAction
	if err := db.First(&action, "challenge_id = ?", challenge.ID).Error; err != nil {
		t.Fatalf("audit row missing: %v", err)
	}
	if action.Actor != "operator" || action.FromStatus != models.StatusDisputed || action.ToStatus != models.StatusCompleted {
		t.Fatalf("unexpected audit row: %+v", action)
	}
}

func TestRepairStuckInProgressBackToActive(t *testing.T) {
	db := newTestDB(t)
	app := newRepairApp(db)

	challenge := seedChallenge(t, db, models.StatusInProgress, "alice", "bob")

	code := repairAs(t, app, challenge.ID, fiber.Map{
		"to_status": "active",
		"reason":    "stake lock never confirmed",
	})
	if code != fiber.StatusOK {
		t.Fatalf("repair status = %d, want 200", code)
	}

	var got models.Challenge
	db.First(&got, "id = ?", challenge.ID)
	if got.Status != models.StatusActive {
		t.Fatalf("status = %s, want active", got.Status)
	}
	if got.ResultDeadline != nil {
		t.Fatal("result deadline must be cleared when returning to active")
	}
}

func TestRepairRejectsIllegalOverride(t *testing.T) {
	db := newTestDB(t)
	app := newRepairApp(db)

	challenge := seedChallenge(t, db, models.StatusCompleted, "alice", "bob")

	code := repairAs(t, app, challenge.ID, fiber.Map{
		"to_status": "disputed",
		"reason":    "undo settlement",
	})
	if code != fiber.StatusBadRequest {
		t.Fatalf("illegal repair status = %d, want 400", code)
	}

	var got models.Challenge
	db.First(&got, "id = ?", challenge.ID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %s, must remain completed", got.Status)
	}
}

func TestRepairRequiresReasonAndValidWinner(t *testing.T) {
	db := newTestDB(t)
	app := newRepairApp(db)

	challenge := seedChallenge(t, db, models.StatusDisputed, "alice", "bob")

	if code := repairAs(t, app, challenge.ID, fiber.Map{
		"to_status": "completed", "winner": "alice",
	}); code != fiber.StatusBadRequest {
		t.Fatalf("missing reason status = %d, want 400", code)
	}

	if code := repairAs(t, app, challenge.ID, fiber.Map{
		"to_status": "completed", "reason": "ruling",
	}); code != fiber.StatusBadRequest {
		t.Fatalf("missing winner status = %d, want 400", code)
	}

	if code := repairAs(t, app, challenge.ID, fiber.Map{
		"to_status": "completed", "winner": "mallory", "reason": "ruling",
	}); code != fiber.StatusBadRequest {
		t.Fatalf("outsider winner status = %d, want 400", code)
	}
}

func TestListStuckFindsUnderfilledInProgress(t *testing.T) {
	db := newTestDB(t)
	app := newRepairApp(db)

	stuck := seedChallenge(t, db, models.StatusInProgress, "alice")
	seedChallenge(t, db, models.StatusInProgress, "carol", "dave")

	req := httptest.NewRequest("GET", "/admin/challenges/stuck", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Count      int                `json:"count"`
		Challenges []models.Challenge `json:"challenges"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Count != 1 || len(body.Challenges) != 1 || body.Challenges[0].ID != stuck.ID {
		t.Fatalf("unexpected stuck list: %+v", body)
	}
}

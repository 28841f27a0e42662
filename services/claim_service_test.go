package services

import (
	"net/http/httptest"
	"testing"
	"time"

	"challenge-settlement-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func newClaimEventApp(db *gorm.DB) (*fiber.App, *ClaimAllocator) {
	allocator := NewClaimAllocator(db, noopPublisher{})
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("wallet", c.Get("X-Wallet-Address"))
		return c.Next()
	})
	app.Post("/claim-events/:id/claim", allocator.Claim)
	return app, allocator
}

func seedClaimEvent(t *testing.T, db *gorm.DB, maxClaims int, active bool, expiresAt time.Time) *models.ClaimEvent {
	t.Helper()
	event := &models.ClaimEvent{
		ID:             uuid.NewString(),
		Name:           "launch drop",
		IsActive:       active,
		TotalAmount:    100,
		AmountPerClaim: 5,
		MaxClaims:      maxClaims,
		ActivatedAt:    time.Now(),
		ExpiresAt:      expiresAt,
	}
	if err := db.Create(event).Error; err != nil {
		t.Fatalf("failed to seed claim event: %v", err)
	}
	return event
}

func claimEventAs(t *testing.T, app *fiber.App, eventID, wallet string) int {
	t.Helper()
	req := httptest.NewRequest("POST", "/claim-events/"+eventID+"/claim", nil)
	req.Header.Set("X-Wallet-Address", wallet)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestClaimQuotaEnforced(t *testing.T) {
	db := newTestDB(t)
	app, _ := newClaimEventApp(db)

	event := seedClaimEvent(t, db, 2, true, time.Now().Add(time.Hour))

	if code := claimEventAs(t, app, event.ID, "w1"); code != fiber.StatusOK {
		t.Fatalf("first claim status = %d, want 200", code)
	}
	if code := claimEventAs(t, app, event.ID, "w2"); code != fiber.StatusOK {
		t.Fatalf("second claim status = %d, want 200", code)
	}
	if code := claimEventAs(t, app, event.ID, "w3"); code != fiber.StatusForbidden {
		t.Fatalf("over-quota claim status = %d, want 403", code)
	}

	var got models.ClaimEvent
	db.Preload("Grants").First(&got, "id = ?", event.ID)
	if got.CurrentClaims != 2 {
		t.Fatalf("current_claims = %d, want 2", got.CurrentClaims)
	}
	if len(got.Grants) != 2 {
		t.Fatalf("grants = %d, want 2 (rejected claim must leave no row)", len(got.Grants))
	}
}

func TestClaimDuplicateWalletRejected(t *testing.T) {
	db := newTestDB(t)
	app, _ := newClaimEventApp(db)

	event := seedClaimEvent(t, db, 5, true, time.Now().Add(time.Hour))

	if code := claimEventAs(t, app, event.ID, "w1"); code != fiber.StatusOK {
		t.Fatalf("first claim status = %d, want 200", code)
	}
	if code := claimEventAs(t, app, event.ID, "w1"); code != fiber.StatusConflict {
		t.Fatalf("duplicate claim status = %d, want 409", code)
	}

	var got models.ClaimEvent
	db.First(&got, "id = ?", event.ID)
	if got.CurrentClaims != 1 {
		t.Fatalf("current_claims = %d after duplicate, want 1", got.CurrentClaims)
	}
}

func TestClaimClosedOrExpiredEvent(t *testing.T) {
	db := newTestDB(t)
	app, _ := newClaimEventApp(db)

	inactive := seedClaimEvent(t, db, 5, false, time.Now().Add(time.Hour))
	if code := claimEventAs(t, app, inactive.ID, "w1"); code != fiber.StatusForbidden {
		t.Fatalf("claim on inactive event status = %d, want 403", code)
	}

	expired := seedClaimEvent(t, db, 5, true, time.Now().Add(-time.Minute))
	if code := claimEventAs(t, app, expired.ID, "w1"); code != fiber.StatusForbidden {
		t.Fatalf("claim on expired event status = %d, want 403", code)
	}

	if code := claimEventAs(t, app, "missing", "w1"); code != fiber.StatusNotFound {
		t.Fatalf("claim on missing event status = %d, want 404", code)
	}
}

func TestExpireEvents(t *testing.T) {
	db := newTestDB(t)
	_, allocator := newClaimEventApp(db)

	expired := seedClaimEvent(t, db, 5, true, time.Now().Add(-time.Minute))
	live := seedClaimEvent(t, db, 5, true, time.Now().Add(time.Hour))

	if n := allocator.ExpireEvents(); n != 1 {
		t.Fatalf("ExpireEvents = %d, want 1", n)
	}

	var got models.ClaimEvent
	db.First(&got, "id = ?", expired.ID)
	if got.IsActive {
		t.Fatal("expired event must be deactivated")
	}
	db.First(&got, "id = ?", live.ID)
	if !got.IsActive {
		t.Fatal("live event must stay active")
	}
}

func TestGrantAmountSnapshotsEvent(t *testing.T) {
	db := newTestDB(t)
	app, _ := newClaimEventApp(db)

	event := seedClaimEvent(t, db, 5, true, time.Now().Add(time.Hour))
	if code := claimEventAs(t, app, event.ID, "w1"); code != fiber.StatusOK {
		t.Fatalf("claim status = %d, want 200", code)
	}

	var grant models.ClaimGrant
	if err := db.First(&grant, "event_id = ? AND wallet = ?", event.ID, "w1").Error; err != nil {
		t.Fatalf("grant row missing: %v", err)
	}
	if grant.Amount != event.AmountPerClaim {
		t.Fatalf("grant amount = %.2f, want %.2f", grant.Amount, event.AmountPerClaim)
	}
}

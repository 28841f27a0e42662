package services

import (
	"testing"
	"time"

	"challenge-settlement-system/models"
)

func TestDiagReuse(t *testing.T) {
	db := newTestDB(t)
	_, allocator := newClaimEventApp(db)

	expired := seedClaimEvent(t, db, 5, true, time.Now().Add(-time.Minute))
	live := seedClaimEvent(t, db, 5, true, time.Now().Add(time.Hour))
	allocator.ExpireEvents()

	var got models.ClaimEvent
	err1 := db.First(&got, "id = ?", expired.ID).Error
	t.Logf("first query err=%v got.ID=%q IsActive=%v", err1, got.ID, got.IsActive)
	err2 := db.First(&got, "id = ?", live.ID).Error
	t.Logf("second query (reused dest) err=%v got.ID=%q IsActive=%v", err2, got.ID, got.IsActive)
}

package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"challenge-settlement-system/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Challenge{},
		&models.ChallengePlayer{},
		&models.ChallengeResult{},
		&models.ClaimEvent{},
		&models.ClaimGrant{},
		&models.RepairAction{},
		&models.PlayerStats{},
		&models.PlayerGameStats{},
		&models.EscrowMirror{},
	); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return db
}

// stubLedger records calls instead of talking to the gateway.
type stubLedger struct {
	mu           sync.Mutex
	lockCalls    int
	releaseCalls int
	lockErr      error
	releaseErr   error
	lastKey      string
}

func (s *stubLedger) LockStake(ctx context.Context, challengeID, wallet string, amount float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockCalls++
	if s.lockErr != nil {
		return "", s.lockErr
	}
	return fmt.Sprintf("lock-%s-%s", challengeID, wallet), nil
}

func (s *stubLedger) ReleasePayout(ctx context.Context, challengeID, recipient string, amount float64, idempotencyKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseCalls++
	s.lastKey = idempotencyKey
	if s.releaseErr != nil {
		return "", s.releaseErr
	}
	return "release-" + challengeID, nil
}

func seedChallenge(t *testing.T, db *gorm.DB, status models.ChallengeStatus, wallets ...string) *models.Challenge {
	t.Helper()
	challenge := &models.Challenge{
		ID:          uuid.NewString(),
		Creator:     wallets[0],
		Title:       "Test Match",
		Game:        "chess",
		EntryFee:    10,
		MaxPlayers:  2,
		PlayerCount: len(wallets),
		PrizePool:   19,
		Status:      status,
	}
	if err := db.Create(challenge).Error; err != nil {
		t.Fatalf("failed to seed challenge: %v", err)
	}
	for _, w := range wallets {
		player := models.ChallengePlayer{
			ID:          uuid.NewString(),
			ChallengeID: challenge.ID,
			Wallet:      w,
		}
		if err := db.Create(&player).Error; err != nil {
			t.Fatalf("failed to seed player: %v", err)
		}
	}
	return challenge
}

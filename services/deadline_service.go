// services/deadline_service.go
package services

import (
	"log"
	"time"

	"challenge-settlement-system/models"

	"gorm.io/gorm"
)

// DeadlineOutcome is the sweep's resolution for a lapsed challenge.
type DeadlineOutcome int

const (
	// DeadlineWinner: a winner can be derived from the partial submissions.
	DeadlineWinner DeadlineOutcome = iota
	// DeadlineDispute: contradictory partial submissions, needs arbitration.
	DeadlineDispute
	// DeadlineExpire: no usable result; stakes go back via the ledger.
	DeadlineExpire
)

// ResolveAtDeadline applies the winner-decision rule restricted to the
// submissions available when the deadline lapses:
//   - nobody submitted → expired
//   - exactly one win claim → that player wins (opponent no-show concedes)
//   - several win claims → disputed
//   - only loss claims → with a single silent player, that player wins;
//     otherwise there is no one to award and the challenge expires
func ResolveAtDeadline(players []models.ChallengePlayer, results []models.ChallengeResult) (string, DeadlineOutcome) {
	if len(results) == 0 {
		return "", DeadlineExpire
	}

	submitted := make(map[string]bool, len(results))
	var winner string
	var winClaims int
	for _, r := range results {
		submitted[r.Wallet] = true
		if r.DidWin {
			winClaims++
			winner = r.Wallet
		}
	}

	if winClaims == 1 {
		return winner, DeadlineWinner
	}
	if winClaims > 1 {
		return "", DeadlineDispute
	}

	// Everyone who spoke up reported a loss.
	var silent []string
	for _, p := range players {
		if !submitted[p.Wallet] {
			silent = append(silent, p.Wallet)
		}
	}
	if len(silent) == 1 {
		return silent[0], DeadlineWinner
	}
	return "", DeadlineExpire
}

// DeadlineMonitor force-resolves in-progress challenges whose result window
// has lapsed, and retires stale unfilled challenges. Multiple instances may
// sweep concurrently by design: every transition is a status-guarded
// conditional update, so redundant sweeps are no-ops. The checked set only
// bounds duplicate work.
type DeadlineMonitor struct {
	DB      *gorm.DB
	Events  EventPublisher
	Stats   *StatsService
	checked *CheckedSet
}

func NewDeadlineMonitor(db *gorm.DB, events EventPublisher, stats *StatsService) *DeadlineMonitor {
	cooldown := time.Duration(envInt("SWEEP_COOLDOWN_MINUTES", 10)) * time.Minute
	return &DeadlineMonitor{
		DB:      db,
		Events:  events,
		Stats:   stats,
		checked: NewCheckedSet(cooldown),
	}
}

// Sweep runs one pass over lapsed challenges. Returns how many challenges
// this pass transitioned.
func (m *DeadlineMonitor) Sweep() int {
	now := time.Now()

	var lapsed []models.Challenge
	err := m.DB.Preload("Players").Preload("Results").
		Where("status = ? AND result_deadline IS NOT NULL AND result_deadline < ?", models.StatusInProgress, now).
		Find(&lapsed).Error
	if err != nil {
		log.Printf("[SWEEP] DB error: %v", err)
		return 0
	}

	resolved := 0
	for i := range lapsed {
		challenge := &lapsed[i]
		if !m.checked.MarkIfUnchecked(challenge.ID) {
			continue
		}
		if m.resolve(challenge) {
			resolved++
		}
	}

	resolved += m.retireStale(now)
	return resolved
}

// resolve applies the deadline policy to one lapsed challenge. Returns true
// when this call performed the transition.
func (m *DeadlineMonitor) resolve(challenge *models.Challenge) bool {
	winner, outcome := ResolveAtDeadline(challenge.Players, challenge.Results)

	switch outcome {
	case DeadlineWinner:
		moved, err := transitionStatus(m.DB, challenge.ID, models.StatusInProgress, models.StatusCompleted, map[string]interface{}{
			"winner":    winner,
			"can_claim": true,
		})
		if err != nil {
			log.Printf("[SWEEP] failed to complete %s: %v", challenge.ID, err)
			m.checked.Forget(challenge.ID)
			return false
		}
		if !moved {
			return false // another sweep or the reconciler got there first
		}
		log.Printf("🏆 [SWEEP] deadline passed — winner by default on %s: %s", challenge.ID, winner)
		publishSettled(m.Events, "challenge.settled", challenge.ID, string(models.StatusCompleted), winner, challenge.PrizePool)
		m.Stats.RecordCompletion(challenge, winner)
		return true

	case DeadlineDispute:
		moved, err := transitionStatus(m.DB, challenge.ID, models.StatusInProgress, models.StatusDisputed, nil)
		if err != nil || !moved {
			if err != nil {
				log.Printf("[SWEEP] failed to dispute %s: %v", challenge.ID, err)
				m.checked.Forget(challenge.ID)
			}
			return false
		}
		log.Printf("🔴 [SWEEP] deadline passed with conflicting claims on %s — disputed", challenge.ID)
		publishSettled(m.Events, "challenge.disputed", challenge.ID, string(models.StatusDisputed), "", 0)
		return true

	case DeadlineExpire:
		moved, err := transitionStatus(m.DB, challenge.ID, models.StatusInProgress, models.StatusExpired, nil)
		if err != nil || !moved {
			if err != nil {
				log.Printf("[SWEEP] failed to expire %s: %v", challenge.ID, err)
				m.checked.Forget(challenge.ID)
			}
			return false
		}
		log.Printf("⏰ [SWEEP] deadline passed with no usable result on %s — expired", challenge.ID)
		publishSettled(m.Events, "challenge.expired", challenge.ID, string(models.StatusExpired), "", 0)
		return true
	}
	return false
}

// retireStale cancels pending and active challenges nobody filled before
// their open window closed.
func (m *DeadlineMonitor) retireStale(now time.Time) int {
	res := m.DB.Model(&models.Challenge{}).
		Where("status IN ? AND expires_at IS NOT NULL AND expires_at < ?",
			[]models.ChallengeStatus{models.StatusPending, models.StatusActive}, now).
		Update("status", models.StatusCancelled)
	if res.Error != nil {
		log.Printf("[SWEEP] failed to retire stale challenges: %v", res.Error)
		return 0
	}
	if res.RowsAffected > 0 {
		log.Printf("🗑️  [SWEEP] cancelled %d stale unfilled challenge(s)", res.RowsAffected)
	}
	return int(res.RowsAffected)
}

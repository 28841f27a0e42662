// services/scheduler.go
package services

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// SettlementScheduler owns the periodic jobs: the deadline sweep and the
// claim-event expiry pass. It wraps gocron so main can start and stop the
// jobs explicitly during shutdown.
type SettlementScheduler struct {
	sched    gocron.Scheduler
	deadline *DeadlineMonitor
	claims   *ClaimAllocator
}

func NewSettlementScheduler(deadline *DeadlineMonitor, claims *ClaimAllocator) (*SettlementScheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &SettlementScheduler{sched: sched, deadline: deadline, claims: claims}, nil
}

// Start registers the jobs and begins running them.
func (s *SettlementScheduler) Start() error {
	sweepEvery := time.Duration(envInt("DEADLINE_SWEEP_SECONDS", 60)) * time.Second

	_, err := s.sched.NewJob(
		gocron.DurationJob(sweepEvery),
		gocron.NewTask(func() {
			if n := s.deadline.Sweep(); n > 0 {
				log.Printf("[SWEEP] pass resolved %d challenge(s)", n)
			}
		}),
	)
	if err != nil {
		return err
	}

	_, err = s.sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			s.claims.ExpireEvents()
		}),
	)
	if err != nil {
		return err
	}

	s.sched.Start()
	log.Printf("⏱️  Settlement scheduler started (sweep every %s)", sweepEvery)
	return nil
}

// Stop shuts the scheduler down, waiting for running jobs to finish.
func (s *SettlementScheduler) Stop() {
	if err := s.sched.Shutdown(); err != nil {
		log.Printf("[Scheduler] shutdown error: %v", err)
	}
}

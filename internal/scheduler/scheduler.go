package scheduler

import (
	"context"
	"fmt"
	"time"

	"taskboard/backend/internal/worker"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

type Scheduler struct {
	cron  *cron.Cron
	queue worker.Enqueuer
}

// New builds a scheduler whose specs carry a seconds field, e.g.
// "0 */15 * * * *".
func New(queue worker.Enqueuer) *Scheduler {
	return &Scheduler{
		cron:  cron.New(cron.WithSeconds()),
		queue: queue,
	}
}

// EnqueueEvery pushes a jobType job onto queue each time spec fires.
func (s *Scheduler) EnqueueEvery(spec, queue string, jobType worker.JobType) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.queue.Enqueue(ctx, queue, jobType, nil); err != nil {
			log.WithError(err).WithField("job_type", jobType).Error("scheduled job not enqueued")
			return
		}
		log.WithField("job_type", jobType).Debug("scheduled job enqueued")
	})
	if err != nil {
		return fmt.Errorf("schedule %s with %q: %w", jobType, spec, err)
	}
	return nil
}

// Every runs fn in-process each time spec fires.
func (s *Scheduler) Every(spec, name string, fn func()) error {
	if _, err := s.cron.AddFunc(spec, fn); err != nil {
		return fmt.Errorf("schedule %s with %q: %w", name, spec, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.WithField("entries", len(s.cron.Entries())).Info("scheduler started")
}

// Stop halts the schedule and waits for running enqueues to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info("scheduler stopped")
}

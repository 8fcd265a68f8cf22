package outbox

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artifortress/artifortress/pkg/events"
)

// Each pass gets its own deadline so a wedged database cannot pile up
// overlapping sweeps.
const sweepTimeout = time.Minute

// Sweeper drives both sweeps on their own schedules. Outcomes go to the
// broker so observers (metrics, log tails) stay decoupled from the
// sweep transactions.
type Sweeper struct {
	service        *Service
	broker         *events.Broker
	outboxInterval time.Duration
	jobsInterval   time.Duration
	logger         zerolog.Logger
	stopCh         chan struct{}
	wg             sync.WaitGroup
}

// NewSweeper creates a sweeper. The broker may be nil when no observers
// are wired.
func NewSweeper(service *Service, broker *events.Broker, outboxInterval, jobsInterval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		service:        service,
		broker:         broker,
		outboxInterval: outboxInterval,
		jobsInterval:   jobsInterval,
		logger:         logger.With().Str("component", "sweeper").Logger(),
		stopCh:         make(chan struct{}),
	}
}

// Start launches both sweep loops
func (s *Sweeper) Start() {
	s.wg.Add(2)
	go s.loop("outbox", s.outboxInterval, s.runOutboxSweep)
	go s.loop("jobs", s.jobsInterval, s.runJobSweep)
}

// Stop shuts both loops down and waits for in-flight passes
func (s *Sweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sweeper) loop(name string, interval time.Duration, pass func()) {
	defer s.wg.Done()
	if interval <= 0 {
		s.logger.Info().Str("sweep", name).Msg("sweep loop disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Str("sweep", name).Dur("interval", interval).Msg("sweep loop started")
	for {
		select {
		case <-ticker.C:
			pass()
		case <-s.stopCh:
			s.logger.Info().Str("sweep", name).Msg("sweep loop stopped")
			return
		}
	}
}

func (s *Sweeper) runOutboxSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	outcome, err := s.service.SweepOutbox(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("outbox sweep failed")
		return
	}
	if outcome.ClaimedCount == 0 {
		return
	}
	s.publish(events.EventOutboxSwept, "outbox sweep completed", map[string]string{
		"claimed":   strconv.Itoa(outcome.ClaimedCount),
		"enqueued":  strconv.Itoa(outcome.EnqueuedCount),
		"delivered": strconv.Itoa(outcome.DeliveredCount),
		"requeued":  strconv.Itoa(outcome.RequeuedCount),
	})
}

func (s *Sweeper) runJobSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	outcome, err := s.service.SweepJobs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("job sweep failed")
		return
	}
	if outcome.ClaimedCount == 0 {
		return
	}
	s.publish(events.EventJobsSwept, "job sweep completed", map[string]string{
		"claimed":   strconv.Itoa(outcome.ClaimedCount),
		"completed": strconv.Itoa(outcome.CompletedCount),
		"failed":    strconv.Itoa(outcome.FailedCount),
	})
}

func (s *Sweeper) publish(eventType events.EventType, message string, metadata map[string]string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(events.New(eventType, message, metadata))
}

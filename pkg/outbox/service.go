package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/storage"
	"github.com/artifortress/artifortress/pkg/types"
)

const reasonVersionNotPublished = "version_not_published"

// Settings tunes both sweeps. Zero values fall back to the deployment
// defaults.
type Settings struct {
	BatchSize   int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxExponent int
}

func (s Settings) withDefaults() Settings {
	if s.BatchSize <= 0 {
		s.BatchSize = 50
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 5
	}
	if s.BaseDelay <= 0 {
		s.BaseDelay = 30 * time.Second
	}
	if s.MaxExponent < 0 {
		s.MaxExponent = 0
	}
	return s
}

// Service runs the two pipeline sweeps. Both claim work under
// FOR UPDATE SKIP LOCKED, so any number of copies may run concurrently
// without double-processing a row.
type Service struct {
	store    storage.Store
	settings Settings
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates the sweep service
func NewService(store storage.Store, settings Settings, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		settings: settings.withDefaults(),
		logger:   logger.With().Str("component", "outbox").Logger(),
		now:      time.Now,
	}
}

// ProducerOutcome summarizes one producer pass over the outbox
type ProducerOutcome struct {
	ClaimedCount   int `json:"claimedCount"`
	EnqueuedCount  int `json:"enqueuedCount"`
	DeliveredCount int `json:"deliveredCount"`
	RequeuedCount  int `json:"requeuedCount"`
}

// JobOutcome summarizes one consumer pass over the job queue
type JobOutcome struct {
	ClaimedCount   int `json:"claimedCount"`
	CompletedCount int `json:"completedCount"`
	FailedCount    int `json:"failedCount"`
}

// SweepOutbox claims a batch of undelivered version.published events and
// turns each into a search-index job upsert plus a delivery stamp, all
// in one transaction. An event whose version cannot be resolved is left
// undelivered; releasing the claim at commit requeues it for the next
// pass.
func (s *Service) SweepOutbox(ctx context.Context) (*ProducerOutcome, error) {
	now := s.now()
	var outcome *ProducerOutcome
	err := s.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		o := &ProducerOutcome{}
		events, err := tx.ClaimOutboxEvents(ctx, types.EventTypeVersionPublished, now, s.settings.BatchSize)
		if err != nil {
			return err
		}
		o.ClaimedCount = len(events)
		for _, ev := range events {
			versionID, ok := routeEvent(ev)
			if !ok {
				o.RequeuedCount++
				s.logger.Warn().
					Int64("event_id", ev.ID).
					Str("aggregate_id", ev.AggregateID).
					Msg("unroutable outbox event requeued")
				continue
			}
			if err := tx.UpsertSearchJob(ctx, ev.TenantID, versionID, now); err != nil {
				return err
			}
			if err := tx.MarkEventDelivered(ctx, ev.ID, now); err != nil {
				return err
			}
			o.EnqueuedCount++
			o.DeliveredCount++
		}
		outcome = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outcome.ClaimedCount > 0 {
		s.logger.Debug().
			Int("claimed", outcome.ClaimedCount).
			Int("enqueued", outcome.EnqueuedCount).
			Int("requeued", outcome.RequeuedCount).
			Msg("outbox sweep")
	}
	return outcome, nil
}

// routeEvent resolves the version a claimed event targets. The
// aggregate id is the fast path; a malformed id falls back to the
// payload's versionId field.
func routeEvent(ev *types.OutboxEvent) (uuid.UUID, bool) {
	if id, err := uuid.Parse(ev.AggregateID); err == nil {
		return id, true
	}
	var payload struct {
		VersionID string `json:"versionId"`
	}
	if err := json.Unmarshal([]byte(ev.PayloadJSON), &payload); err != nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(payload.VersionID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// SweepJobs claims a batch of retryable search-index jobs. A job whose
// version is published completes; anything else goes back on the
// failure schedule until the attempt ceiling retires it.
func (s *Service) SweepJobs(ctx context.Context) (*JobOutcome, error) {
	now := s.now()
	var outcome *JobOutcome
	err := s.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		o := &JobOutcome{}
		jobs, err := tx.ClaimSearchJobs(ctx, now, s.settings.MaxAttempts, s.settings.BatchSize)
		if err != nil {
			return err
		}
		o.ClaimedCount = len(jobs)
		for _, job := range jobs {
			state, err := tx.GetVersionState(ctx, job.VersionID)
			if err != nil && !errs.IsKind(err, errs.KindNotFound) {
				return err
			}
			if err == nil && state == types.VersionStatePublished {
				if err := tx.CompleteSearchJob(ctx, job.ID); err != nil {
					return err
				}
				o.CompletedCount++
				continue
			}
			// Draft, tombstoned, and vanished versions all wait for a
			// later pass.
			attempts := nextAttempts(job.Attempts)
			availableAt := now.Add(backoffDelay(attempts, s.settings.BaseDelay, s.settings.MaxExponent))
			if err := tx.FailSearchJob(ctx, job.ID, attempts, availableAt, reasonVersionNotPublished); err != nil {
				return err
			}
			o.FailedCount++
		}
		outcome = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outcome.ClaimedCount > 0 {
		s.logger.Debug().
			Int("claimed", outcome.ClaimedCount).
			Int("completed", outcome.CompletedCount).
			Int("failed", outcome.FailedCount).
			Msg("job sweep")
	}
	return outcome, nil
}

// nextAttempts advances the attempt counter for one failed run
func nextAttempts(current int) int {
	next := current + 1
	if next < 1 {
		next = 1
	}
	return next
}

// backoffDelay is the deterministic failure schedule: the base delay
// doubled per prior attempt, exponent capped so the wait stops growing.
func backoffDelay(attempts int, base time.Duration, maxExponent int) time.Duration {
	exp := attempts - 1
	if exp < 0 {
		exp = 0
	}
	if exp > maxExponent {
		exp = maxExponent
	}
	return base * time.Duration(1<<exp)
}

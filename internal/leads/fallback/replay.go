package fallback

import (
	"context"
	"time"

	"lead_waterfall_backend/internal/leads/repository"
	"lead_waterfall_backend/platform/apperr"
	"lead_waterfall_backend/platform/logger"
)

const (
	defaultReplayInterval = 5 * time.Minute
	defaultAppendTimeout  = 10 * time.Second
	replayBatchSize       = 50
)

// Replayer periodically appends queued leads to the ledger.
// Append ignores ids the ledger already holds, so a replay that crashes
// between Append and Delete is safe to repeat.
type Replayer struct {
	queue         Queue
	ledger        repository.LeadAppender
	log           *logger.Logger
	interval      time.Duration
	appendTimeout time.Duration
}

// NewReplayer builds a replayer. Each ledger append is bounded by appendTimeout.
func NewReplayer(queue Queue, ledger repository.LeadAppender, interval, appendTimeout time.Duration, log *logger.Logger) *Replayer {
	if interval <= 0 {
		interval = defaultReplayInterval
	}
	if appendTimeout <= 0 {
		appendTimeout = defaultAppendTimeout
	}
	return &Replayer{queue: queue, ledger: ledger, log: log, interval: interval, appendTimeout: appendTimeout}
}

func (r *Replayer) Run(ctx context.Context) {
	if r == nil || r.queue == nil {
		return
	}

	r.replay(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.replay(ctx)
		}
	}
}

func (r *Replayer) replay(ctx context.Context) {
	replayed, err := r.ReplayOnce(ctx)
	if err != nil {
		r.log.Warn("fallback replay failed", "error", err, "replayed", replayed)
		return
	}
	if replayed > 0 {
		r.log.Info("fallback replay moved leads to the ledger", "replayed", replayed)
	}
}

// ReplayOnce moves one batch. It stops at the first ledger failure and
// leaves the remaining entries for the next run.
func (r *Replayer) ReplayOnce(ctx context.Context) (int, error) {
	entries, err := r.queue.List(ctx, replayBatchSize)
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, entry := range entries {
		if err := r.append(ctx, entry); err != nil {
			return replayed, err
		}
		if err := r.queue.Delete(ctx, entry.Lead.ID); err != nil {
			return replayed, err
		}
		r.log.WithLead(entry.Lead.ID.String()).Info("fallback lead replayed", "queued_at", entry.SavedAt, "attempts", entry.Attempts)
		replayed++
	}
	return replayed, nil
}

func (r *Replayer) append(ctx context.Context, entry Entry) error {
	appendCtx, cancel := context.WithTimeout(ctx, r.appendTimeout)
	defer cancel()
	_, err := r.ledger.Append(appendCtx, entry.Lead)
	if err != nil && appendCtx.Err() != nil && ctx.Err() == nil {
		return apperr.Unavailable("ledger append timed out", err)
	}
	return err
}

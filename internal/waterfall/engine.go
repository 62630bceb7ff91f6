// Package waterfall offers each lead to ranked buyers one at a time.
//
// Every offer holds an exclusivity window. When the window lapses without a
// sale the lead moves to the next buyer, and past the last buyer it becomes
// unsold. All ledger writes are compare-and-set, so a concurrent settlement
// or a second scheduler instance can never be overwritten. Sold leads whose
// detail email never reached the buyer are delivered again on later ticks.
package waterfall

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"lead_waterfall_backend/internal/buyers"
	"lead_waterfall_backend/internal/leads/domain"
	"lead_waterfall_backend/internal/leads/repository"
	"lead_waterfall_backend/internal/payments"
	"lead_waterfall_backend/platform/apperr"
	"lead_waterfall_backend/platform/config"
	"lead_waterfall_backend/platform/logger"

	"github.com/google/uuid"
)

// Ledger is what the engine needs from the offer ledger.
type Ledger interface {
	repository.LeadReader
	repository.LeadTransitioner
}

// Roster is the ranked buyer list.
type Roster interface {
	Len() int
	At(i int) (buyers.Buyer, bool)
}

// CheckoutCreator opens a payment link for one lead and buyer.
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, req payments.CheckoutRequest) (payments.CheckoutSession, error)
}

// OfferNotifier tells a buyer about an offer.
type OfferNotifier interface {
	NotifyOffer(ctx context.Context, buyer buyers.Buyer, lead domain.Lead, checkoutURL string) error
}

// DeadlineScheduler arranges a wake-up when an offer expires.
type DeadlineScheduler interface {
	ScheduleOfferDeadline(ctx context.Context, leadID uuid.UUID, runAt time.Time) error
}

// SoldDelivery releases the full lead to the buyer who paid for it.
type SoldDelivery interface {
	DeliverSoldLead(ctx context.Context, leadID uuid.UUID, buyerIndex int) error
}

// Config tunes the engine.
type Config struct {
	Window       time.Duration
	PollInterval time.Duration
	CallTimeout  time.Duration
	MaxBackoff   time.Duration
}

// ConfigFrom reads engine settings from the application config.
func ConfigFrom(cfg config.WaterfallConfig) Config {
	return Config{
		Window:       cfg.GetExclusivityWindow(),
		PollInterval: cfg.GetPollInterval(),
		CallTimeout:  cfg.GetCallTimeout(),
		MaxBackoff:   cfg.GetMaxBackoff(),
	}
}

// TickResult summarises one pass over the ledger.
type TickResult struct {
	Ran         bool
	Offered     int
	Escalated   int
	Unsold      int
	Redelivered int
	Skipped     int
	Failed      int
}

type backoffState struct {
	failures int
	until    time.Time
}

// Engine runs the offer waterfall.
type Engine struct {
	ledger    Ledger
	roster    Roster
	checkout  CheckoutCreator
	notifier  OfferNotifier
	deadlines DeadlineScheduler
	delivery  SoldDelivery
	cfg       Config
	log       *logger.Logger
	now       func() time.Time

	running atomic.Bool

	mu      sync.Mutex
	backoff map[uuid.UUID]backoffState
}

// NewEngine wires the engine. deadlines may be nil when no task queue is
// configured; delivery may be nil to leave sold leads alone.
func NewEngine(ledger Ledger, roster Roster, checkout CheckoutCreator, notifier OfferNotifier, deadlines DeadlineScheduler, delivery SoldDelivery, cfg Config, log *logger.Logger) *Engine {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &Engine{
		ledger:    ledger,
		roster:    roster,
		checkout:  checkout,
		notifier:  notifier,
		deadlines: deadlines,
		delivery:  delivery,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		backoff:   make(map[uuid.UUID]backoffState),
	}
}

// Run ticks immediately and then every poll interval until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	e.log.Info("waterfall scheduler started",
		"window", e.cfg.Window.String(), "poll_interval", e.cfg.PollInterval.String(), "buyers", e.roster.Len())

	e.tickAndLog(ctx)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("waterfall scheduler stopped")
			return
		case <-ticker.C:
			e.tickAndLog(ctx)
		}
	}
}

func (e *Engine) tickAndLog(ctx context.Context) {
	result, err := e.Tick(ctx)
	if err != nil {
		e.log.Warn("waterfall tick failed", "error", err)
		return
	}
	if result.Offered+result.Escalated+result.Unsold+result.Redelivered+result.Failed > 0 {
		e.log.Info("waterfall tick",
			"offered", result.Offered, "escalated", result.Escalated, "unsold", result.Unsold,
			"redelivered", result.Redelivered, "skipped", result.Skipped, "failed", result.Failed)
	}
}

// Tick makes one pass: new leads go to buyer 0, lapsed offers move on and
// undelivered sales are delivered again.
// A tick that starts while another is running returns immediately with Ran=false.
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.log.Debug("waterfall tick skipped, previous tick still running")
		return TickResult{}, nil
	}
	defer e.running.Store(false)

	result := TickResult{Ran: true}
	now := e.now().UTC()
	e.pruneBackoff(now)

	fresh, err := e.scan(ctx, repository.Filter{Kinds: []domain.StatusKind{domain.KindNew}})
	if err != nil {
		return result, fmt.Errorf("scan new leads: %w", err)
	}
	for _, lead := range fresh {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if e.backedOff(lead.ID, now) {
			result.Skipped++
			continue
		}
		switch e.offer(ctx, lead, 0, now) {
		case stepDone:
			result.Offered++
		case stepFailed:
			result.Failed++
		}
	}

	due, err := e.scan(ctx, repository.Filter{
		Kinds:      []domain.StatusKind{domain.KindOffered},
		SentBefore: now.Add(-e.cfg.Window),
	})
	if err != nil {
		return result, fmt.Errorf("scan lapsed offers: %w", err)
	}
	for _, lead := range due {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if e.backedOff(lead.ID, now) {
			result.Skipped++
			continue
		}
		next := lead.Status.BuyerIndex + 1
		if next >= e.roster.Len() {
			switch e.markUnsold(ctx, lead) {
			case stepDone:
				result.Unsold++
			case stepFailed:
				result.Failed++
			}
			continue
		}
		switch e.offer(ctx, lead, next, now) {
		case stepDone:
			result.Escalated++
		case stepFailed:
			result.Failed++
		}
	}

	if e.delivery == nil {
		return result, nil
	}
	// Sales younger than one poll interval still have their first delivery in flight.
	undelivered, err := e.scan(ctx, repository.Filter{
		Kinds:       []domain.StatusKind{domain.KindSold},
		SoldBefore:  now.Add(-e.cfg.PollInterval),
		Undelivered: true,
	})
	if err != nil {
		return result, fmt.Errorf("scan undelivered sales: %w", err)
	}
	for _, lead := range undelivered {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if e.backedOff(lead.ID, now) {
			result.Skipped++
			continue
		}
		switch e.redeliver(ctx, lead, now) {
		case stepDone:
			result.Redelivered++
		case stepFailed:
			result.Failed++
		}
	}

	return result, nil
}

type stepOutcome int

const (
	stepDone stepOutcome = iota
	stepNoop
	stepFailed
)

// offer runs checkout, notification and the conditional transition for one buyer.
func (e *Engine) offer(ctx context.Context, lead domain.Lead, buyerIndex int, now time.Time) stepOutcome {
	log := e.log.WithLead(lead.ID.String()).WithBuyer(buyerIndex)

	buyer, ok := e.roster.At(buyerIndex)
	if !ok {
		log.Error("buyer index outside roster")
		return e.fail(lead.ID, now)
	}
	expiresAt := now.Add(e.cfg.Window)

	var session payments.CheckoutSession
	err := e.call(ctx, func(callCtx context.Context) error {
		var err error
		session, err = e.checkout.CreateCheckoutSession(callCtx, payments.CheckoutRequest{
			LeadID:     lead.ID,
			BuyerIndex: buyerIndex,
			PriceID:    lead.PriceID,
			ExpiresAt:  expiresAt,
		})
		return err
	})
	if err != nil {
		log.Warn("checkout session failed, lead skipped", "error", err)
		return e.fail(lead.ID, now)
	}

	err = e.call(ctx, func(callCtx context.Context) error {
		return e.notifier.NotifyOffer(callCtx, buyer, lead, session.URL)
	})
	if err != nil {
		log.Warn("offer notification failed, lead skipped", "error", err)
		return e.fail(lead.ID, now)
	}

	next := domain.StatusOffered(buyerIndex, now)
	checkoutURL := session.URL
	var updated domain.Lead
	err = e.call(ctx, func(callCtx context.Context) error {
		var err error
		updated, err = e.ledger.Transition(callCtx, lead.ID, lead.Status, next, repository.TransitionFields{CheckoutURL: &checkoutURL})
		return err
	})
	if apperr.Is(err, apperr.KindConflict) {
		return e.resolveConflict(ctx, lead, log)
	}
	if err != nil {
		log.Warn("offer transition failed, lead skipped", "error", err)
		return e.fail(lead.ID, now)
	}

	e.clearBackoff(lead.ID)
	e.log.LeadTransition(lead.ID.String(), lead.Status.String(), updated.Status.String())

	if e.deadlines != nil {
		err := e.call(ctx, func(callCtx context.Context) error {
			return e.deadlines.ScheduleOfferDeadline(callCtx, lead.ID, updated.Status.ExpiresAt(e.cfg.Window))
		})
		if err != nil {
			log.Warn("offer deadline wake-up not scheduled, polling will catch it", "error", err)
		}
	}
	return stepDone
}

func (e *Engine) markUnsold(ctx context.Context, lead domain.Lead) stepOutcome {
	log := e.log.WithLead(lead.ID.String())
	next := domain.StatusUnsold(lead.Status.BuyerIndex)

	var updated domain.Lead
	err := e.call(ctx, func(callCtx context.Context) error {
		var err error
		updated, err = e.ledger.Transition(callCtx, lead.ID, lead.Status, next, repository.TransitionFields{})
		return err
	})
	if apperr.Is(err, apperr.KindConflict) {
		return e.resolveConflict(ctx, lead, log)
	}
	if err != nil {
		log.Warn("unsold transition failed, lead skipped", "error", err)
		return e.fail(lead.ID, e.now().UTC())
	}

	e.clearBackoff(lead.ID)
	e.log.LeadTransition(lead.ID.String(), lead.Status.String(), updated.Status.String())
	return stepDone
}

func (e *Engine) redeliver(ctx context.Context, lead domain.Lead, now time.Time) stepOutcome {
	log := e.log.WithLead(lead.ID.String()).WithBuyer(lead.Status.BuyerIndex)
	err := e.call(ctx, func(callCtx context.Context) error {
		return e.delivery.DeliverSoldLead(callCtx, lead.ID, lead.Status.BuyerIndex)
	})
	if err != nil {
		log.Warn("sold lead redelivery failed", "error", err)
		return e.fail(lead.ID, now)
	}
	e.clearBackoff(lead.ID)
	log.Info("sold lead delivered on retry")
	return stepDone
}

// resolveConflict re-reads a row whose status moved under us. If it advanced,
// someone else (settlement or another tick) won and there is nothing to do.
func (e *Engine) resolveConflict(ctx context.Context, seen domain.Lead, log *logger.Logger) stepOutcome {
	var current domain.Lead
	err := e.call(ctx, func(callCtx context.Context) error {
		var err error
		current, err = e.ledger.Get(callCtx, seen.ID)
		return err
	})
	if err != nil {
		log.Warn("re-read after conflict failed", "error", err)
		return stepNoop
	}
	if !current.Status.Matches(seen.Status) {
		log.Info("lead advanced concurrently, offer abandoned",
			"seen_status", seen.Status.String(), "current_status", current.Status.String())
		return stepNoop
	}
	log.Warn("conflict without visible change, retrying next tick", "status", current.Status.String())
	return stepNoop
}

func (e *Engine) scan(ctx context.Context, filter repository.Filter) ([]domain.Lead, error) {
	var leads []domain.Lead
	err := e.call(ctx, func(callCtx context.Context) error {
		var err error
		leads, err = e.ledger.Scan(callCtx, filter)
		return err
	})
	return leads, err
}

func (e *Engine) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

// fail records a collaborator failure. The first failure only waits for the
// next tick; later ones double the wait up to MaxBackoff. The deadline sits
// half a poll interval early so ticker jitter never costs an extra tick.
func (e *Engine) fail(id uuid.UUID, now time.Time) stepOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.backoff[id]
	state.failures++
	delay := e.cfg.PollInterval
	for i := 1; i < state.failures && delay < e.cfg.MaxBackoff; i++ {
		delay *= 2
	}
	if delay > e.cfg.MaxBackoff {
		delay = e.cfg.MaxBackoff
	}
	state.until = now.Add(delay - e.cfg.PollInterval/2)
	e.backoff[id] = state
	return stepFailed
}

func (e *Engine) backedOff(id uuid.UUID, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.backoff[id]
	return ok && now.Before(state.until)
}

// pruneBackoff forgets leads that have not failed again for MaxBackoff past
// their deadline. They were settled elsewhere or left the scan.
func (e *Engine) pruneBackoff(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, state := range e.backoff {
		if !now.Before(state.until.Add(e.cfg.MaxBackoff)) {
			delete(e.backoff, id)
		}
	}
}

func (e *Engine) clearBackoff(id uuid.UUID) {
	e.mu.Lock()
	delete(e.backoff, id)
	e.mu.Unlock()
}

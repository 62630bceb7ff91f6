package scheduler

import (
	"context"
	"fmt"

	"lead_waterfall_backend/internal/waterfall"
	"lead_waterfall_backend/platform/config"
	"lead_waterfall_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Ticker runs one guarded waterfall pass.
type Ticker interface {
	Tick(ctx context.Context) (waterfall.TickResult, error)
}

// Deliverer releases a sold lead to its buyer.
type Deliverer interface {
	DeliverSoldLead(ctx context.Context, leadID uuid.UUID, buyerIndex int) error
}

type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	ticker   Ticker
	delivery Deliverer
	log      *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, ticker Ticker, delivery Deliverer, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	w := newWorker(ticker, delivery, log)
	w.server = server
	return w, nil
}

func newWorker(ticker Ticker, delivery Deliverer, log *logger.Logger) *Worker {
	mux := asynq.NewServeMux()
	w := &Worker{
		mux:      mux,
		ticker:   ticker,
		delivery: delivery,
		log:      log,
	}

	mux.HandleFunc(TaskOfferDeadline, w.handleOfferDeadline)
	mux.HandleFunc(TaskSoldLeadDelivery, w.handleSoldLeadDelivery)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

// handleOfferDeadline runs a tick when an offer lapses. A tick already in
// progress covers the wake-up, so a skipped tick is not retried.
func (w *Worker) handleOfferDeadline(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseOfferDeadlinePayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	result, err := w.ticker.Tick(ctx)
	if err != nil {
		return err
	}
	w.log.Debug("offer deadline tick", "lead_id", payload.LeadID, "ran", result.Ran,
		"escalated", result.Escalated, "unsold", result.Unsold)
	return nil
}

func (w *Worker) handleSoldLeadDelivery(ctx context.Context, task *asynq.Task) error {
	payload, leadID, err := ParseSoldLeadDeliveryPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	if err := w.delivery.DeliverSoldLead(ctx, leadID, payload.BuyerIndex); err != nil {
		w.log.WithLead(payload.LeadID).Warn("sold lead delivery failed, will retry", "buyer_index", payload.BuyerIndex, "error", err)
		return err
	}
	w.log.WithLead(payload.LeadID).Info("sold lead delivered", "buyer_index", payload.BuyerIndex)
	return nil
}

package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"lead_waterfall_backend/platform/config"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const deliveryMaxRetry = 8

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
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

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queue,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// ScheduleOfferDeadline enqueues a wake-up for the moment an offer lapses.
func (c *Client) ScheduleOfferDeadline(ctx context.Context, leadID uuid.UUID, runAt time.Time) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewOfferDeadlineTask(OfferDeadlinePayload{LeadID: leadID.String(), ExpiresAt: runAt})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.ProcessAt(runAt),
		asynq.Queue(c.queue),
		asynq.TaskID(deadlineTaskID(leadID, runAt)),
		asynq.MaxRetry(1),
		asynq.Retention(time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// DeliverSoldLead enqueues the release of full lead details to the winning buyer.
// The worker retries with backoff until the mail goes out.
func (c *Client) DeliverSoldLead(ctx context.Context, leadID uuid.UUID, buyerIndex int) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("task queue not configured")
	}

	task, err := NewSoldLeadDeliveryTask(SoldLeadDeliveryPayload{LeadID: leadID.String(), BuyerIndex: buyerIndex})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.TaskID(deliveryTaskID(leadID, buyerIndex)),
		asynq.MaxRetry(deliveryMaxRetry),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}

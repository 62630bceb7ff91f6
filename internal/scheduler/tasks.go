package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const TaskOfferDeadline = "waterfall.offer_deadline"

const TaskSoldLeadDelivery = "payments.sold_delivery"

type OfferDeadlinePayload struct {
	LeadID    string    `json:"leadId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type SoldLeadDeliveryPayload struct {
	LeadID     string `json:"leadId"`
	BuyerIndex int    `json:"buyerIndex"`
}

func NewOfferDeadlineTask(payload OfferDeadlinePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOfferDeadline, data), nil
}

func ParseOfferDeadlinePayload(task *asynq.Task) (OfferDeadlinePayload, error) {
	var payload OfferDeadlinePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return OfferDeadlinePayload{}, err
	}
	return payload, nil
}

func NewSoldLeadDeliveryTask(payload SoldLeadDeliveryPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSoldLeadDelivery, data), nil
}

func ParseSoldLeadDeliveryPayload(task *asynq.Task) (SoldLeadDeliveryPayload, uuid.UUID, error) {
	var payload SoldLeadDeliveryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return SoldLeadDeliveryPayload{}, uuid.Nil, err
	}
	leadID, err := uuid.Parse(payload.LeadID)
	if err != nil {
		return SoldLeadDeliveryPayload{}, uuid.Nil, fmt.Errorf("invalid lead id %q: %w", payload.LeadID, err)
	}
	if payload.BuyerIndex < 0 {
		return SoldLeadDeliveryPayload{}, uuid.Nil, fmt.Errorf("invalid buyer index %d", payload.BuyerIndex)
	}
	return payload, leadID, nil
}

// deadlineTaskID keeps one wake-up per offer even if scheduling is retried.
func deadlineTaskID(leadID uuid.UUID, expiresAt time.Time) string {
	return fmt.Sprintf("deadline:%s:%d", leadID, expiresAt.Unix())
}

func deliveryTaskID(leadID uuid.UUID, buyerIndex int) string {
	return fmt.Sprintf("delivery:%s:%d", leadID, buyerIndex)
}

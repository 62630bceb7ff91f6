package payments

import (
	"context"
	"fmt"
	"time"

	"lead_waterfall_backend/internal/buyers"
	"lead_waterfall_backend/internal/leads/domain"
	"lead_waterfall_backend/internal/leads/repository"

	"github.com/google/uuid"
)

// SoldNotifier sends the full lead detail to a buyer.
type SoldNotifier interface {
	NotifySold(ctx context.Context, buyer buyers.Buyer, lead domain.Lead) error
}

// DeliveryLedger is the slice of the ledger that delivery reads and stamps.
type DeliveryLedger interface {
	repository.LeadReader
	repository.DeliveryMarker
}

// DirectDelivery re-reads the sold lead and emails its buyer synchronously.
// The asynq delivery task and the scheduler's redelivery pass end up here as well.
// A lead that already carries delivered_at is not sent twice.
type DirectDelivery struct {
	ledger   DeliveryLedger
	roster   *buyers.Roster
	notifier SoldNotifier
	now      func() time.Time
}

func NewDirectDelivery(ledger DeliveryLedger, roster *buyers.Roster, notifier SoldNotifier) *DirectDelivery {
	return &DirectDelivery{ledger: ledger, roster: roster, notifier: notifier, now: time.Now}
}

func (d *DirectDelivery) DeliverSoldLead(ctx context.Context, leadID uuid.UUID, buyerIndex int) error {
	lead, err := d.ledger.Get(ctx, leadID)
	if err != nil {
		return err
	}
	if lead.Status.Kind != domain.KindSold || lead.Status.BuyerIndex != buyerIndex {
		return fmt.Errorf("lead %s is %s, not sold to buyer %d", leadID, lead.Status, buyerIndex)
	}
	if lead.DeliveredAt != nil {
		return nil
	}
	buyer, ok := d.roster.At(buyerIndex)
	if !ok {
		return fmt.Errorf("buyer %d not in roster", buyerIndex)
	}
	if err := d.notifier.NotifySold(ctx, buyer, lead); err != nil {
		return err
	}
	return d.ledger.MarkDelivered(ctx, leadID, d.now())
}

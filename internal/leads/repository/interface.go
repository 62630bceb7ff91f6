package repository

import (
	"context"
	"time"

	"lead_waterfall_backend/internal/leads/domain"

	"github.com/google/uuid"
)

// Filter selects ledger rows for a scan.
type Filter struct {
	// Kinds restricts the status kinds returned. Empty means all kinds.
	Kinds []domain.StatusKind
	// SentBefore keeps only rows whose sent_at is at or before this instant.
	// Rows that were never offered have no sent_at and are excluded when set.
	SentBefore time.Time
	// SoldBefore keeps only rows whose sold_at is at or before this instant.
	SoldBefore time.Time
	// Undelivered keeps only rows whose buyer has not yet received the full lead.
	Undelivered bool
	// Limit caps the number of rows. Zero means no cap.
	Limit int
}

// TransitionFields are column updates applied together with a status change.
type TransitionFields struct {
	SoldAt      *time.Time
	CheckoutURL *string
}

// LeadAppender persists freshly captured leads.
type LeadAppender interface {
	Append(ctx context.Context, lead domain.Lead) (uuid.UUID, error)
}

// LeadReader reads ledger rows.
type LeadReader interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	Scan(ctx context.Context, filter Filter) ([]domain.Lead, error)
}

// LeadTransitioner performs compare-and-set status changes.
//
// Transition succeeds only when the stored status matches expected (see
// domain.Status.Matches) and the step is allowed by domain.CanTransition.
// A lost race returns an apperr conflict, an unknown id an apperr not-found.
type LeadTransitioner interface {
	Transition(ctx context.Context, id uuid.UUID, expected, next domain.Status, fields TransitionFields) (domain.Lead, error)
}

// DeliveryMarker records that a sold lead reached its buyer.
//
// MarkDelivered is idempotent: the first timestamp wins. It fails with an
// apperr conflict when the lead is not sold.
type DeliveryMarker interface {
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Ledger is the full offer ledger contract.
type Ledger interface {
	LeadAppender
	LeadReader
	LeadTransitioner
	DeliveryMarker
}

func kindsAsStrings(kinds []domain.StatusKind) []string {
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, string(k))
	}
	return out
}

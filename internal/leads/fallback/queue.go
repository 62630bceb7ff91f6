// Package fallback keeps captured leads that could not reach the ledger.
//
// The queue is not authoritative: a lead in it has no status and is never
// offered. The replayer moves entries into the ledger once it is reachable.
package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lead_waterfall_backend/internal/leads/domain"

	"github.com/google/uuid"
)

// Entry is one queued lead.
type Entry struct {
	Lead     domain.Lead
	Reason   string
	SavedAt  time.Time
	Attempts int
}

// Queue stores entries until they are replayed or reconciled by hand.
type Queue interface {
	Save(ctx context.Context, entry Entry) error
	List(ctx context.Context, limit int) ([]Entry, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// record is the stored JSON shape of a queued lead.
type record struct {
	ID         string    `json:"id"`
	Vertical   string    `json:"vertical"`
	City       string    `json:"city"`
	Service    string    `json:"service"`
	Zone       string    `json:"zone"`
	Timing     string    `json:"timing"`
	Phone      string    `json:"phone"`
	Consent    bool      `json:"consent"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"createdAt"`
	PriceID    string    `json:"priceId"`
	PriceCents int       `json:"priceCents"`
	Reason     string    `json:"reason,omitempty"`
	SavedAt    time.Time `json:"savedAt"`
}

func encodeLead(entry Entry) ([]byte, error) {
	l := entry.Lead
	return json.Marshal(record{
		ID:         l.ID.String(),
		Vertical:   l.Vertical,
		City:       l.City,
		Service:    string(l.Service),
		Zone:       l.Zone,
		Timing:     string(l.Timing),
		Phone:      l.Phone,
		Consent:    l.Consent,
		Source:     string(l.Source),
		CreatedAt:  l.CreatedAt.UTC(),
		PriceID:    l.PriceID,
		PriceCents: l.PriceCents,
		Reason:     entry.Reason,
		SavedAt:    entry.SavedAt.UTC(),
	})
}

func decodeLead(data []byte) (domain.Lead, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.Lead{}, fmt.Errorf("decode queued lead: %w", err)
	}
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return domain.Lead{}, fmt.Errorf("decode queued lead id: %w", err)
	}
	return domain.Lead{
		ID:         id,
		Vertical:   r.Vertical,
		City:       r.City,
		Service:    domain.Service(r.Service),
		Zone:       r.Zone,
		Timing:     domain.Timing(r.Timing),
		Phone:      r.Phone,
		Consent:    r.Consent,
		Source:     domain.Source(r.Source),
		CreatedAt:  r.CreatedAt,
		PriceID:    r.PriceID,
		PriceCents: r.PriceCents,
		Status:     domain.StatusNew(),
	}, nil
}

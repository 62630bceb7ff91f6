package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"lead_waterfall_backend/internal/leads/domain"
	"lead_waterfall_backend/platform/apperr"

	"github.com/google/uuid"
)

// MemoryLedger is an in-process ledger with the same compare-and-set rules as
// the PostgreSQL one. Tests across the module run against it.
type MemoryLedger struct {
	mu    sync.Mutex
	leads map[uuid.UUID]domain.Lead
	now   func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		leads: make(map[uuid.UUID]domain.Lead),
		now:   time.Now,
	}
}

// Ping always succeeds.
func (m *MemoryLedger) Ping(context.Context) error { return nil }

func (m *MemoryLedger) Append(ctx context.Context, lead domain.Lead) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, apperr.Unavailable("append lead", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if lead.ID == uuid.Nil {
		lead.ID = uuid.New()
	}
	if _, exists := m.leads[lead.ID]; exists {
		return lead.ID, nil
	}
	if lead.Status.Kind == "" {
		lead.Status = domain.StatusNew()
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = m.now().UTC()
	}
	if lead.Version == 0 {
		lead.Version = 1
	}
	lead.UpdatedAt = m.now().UTC()
	m.leads[lead.ID] = lead
	return lead.ID, nil
}

func (m *MemoryLedger) Get(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	if err := ctx.Err(); err != nil {
		return domain.Lead{}, apperr.Unavailable("get lead", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	lead, ok := m.leads[id]
	if !ok {
		return domain.Lead{}, apperr.NotFound("lead not found")
	}
	return cloneLead(lead), nil
}

func (m *MemoryLedger) Scan(ctx context.Context, filter Filter) ([]domain.Lead, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Unavailable("scan leads", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[domain.StatusKind]bool, len(filter.Kinds))
	for _, k := range filter.Kinds {
		wanted[k] = true
	}

	out := make([]domain.Lead, 0)
	for _, lead := range m.leads {
		if len(wanted) > 0 && !wanted[lead.Status.Kind] {
			continue
		}
		if !filter.SentBefore.IsZero() {
			if lead.Status.SentAt.IsZero() || lead.Status.SentAt.After(filter.SentBefore) {
				continue
			}
		}
		if !filter.SoldBefore.IsZero() {
			if lead.SoldAt == nil || lead.SoldAt.After(filter.SoldBefore) {
				continue
			}
		}
		if filter.Undelivered && lead.DeliveredAt != nil {
			continue
		}
		out = append(out, cloneLead(lead))
	}

	sort.Slice(out, func(i, j int) bool {
		ki, kj := sortKey(out[i]), sortKey(out[j])
		if !ki.Equal(kj) {
			return ki.Before(kj)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryLedger) Transition(ctx context.Context, id uuid.UUID, expected, next domain.Status, fields TransitionFields) (domain.Lead, error) {
	if err := ctx.Err(); err != nil {
		return domain.Lead{}, apperr.Unavailable("transition lead", err)
	}
	if err := domain.CanTransition(expected, next); err != nil {
		return domain.Lead{}, apperr.Validation(err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	lead, ok := m.leads[id]
	if !ok {
		return domain.Lead{}, apperr.NotFound("lead not found")
	}
	if !lead.Status.Matches(expected) {
		return domain.Lead{}, apperr.Conflict(fmt.Sprintf("lead is no longer %s", expected))
	}

	lead.Status = next
	if fields.SoldAt != nil {
		soldAt := fields.SoldAt.UTC()
		lead.SoldAt = &soldAt
	}
	if fields.CheckoutURL != nil {
		lead.CheckoutURL = *fields.CheckoutURL
	}
	lead.Version++
	lead.UpdatedAt = m.now().UTC()
	m.leads[id] = lead

	return cloneLead(lead), nil
}

func (m *MemoryLedger) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return apperr.Unavailable("mark lead delivered", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	lead, ok := m.leads[id]
	if !ok {
		return apperr.NotFound("lead not found")
	}
	if lead.Status.Kind != domain.KindSold {
		return apperr.Conflict("lead is not sold")
	}
	if lead.DeliveredAt == nil {
		deliveredAt := at.UTC()
		lead.DeliveredAt = &deliveredAt
		lead.UpdatedAt = m.now().UTC()
		m.leads[id] = lead
	}
	return nil
}

func sortKey(l domain.Lead) time.Time {
	if !l.Status.SentAt.IsZero() {
		return l.Status.SentAt
	}
	return l.CreatedAt
}

func cloneLead(l domain.Lead) domain.Lead {
	if l.SoldAt != nil {
		soldAt := *l.SoldAt
		l.SoldAt = &soldAt
	}
	if l.DeliveredAt != nil {
		deliveredAt := *l.DeliveredAt
		l.DeliveredAt = &deliveredAt
	}
	return l
}

// Package repository implements the offer ledger on PostgreSQL and in memory.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lead_waterfall_backend/internal/leads/domain"
	"lead_waterfall_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const leadColumns = `id, vertical, city, service, zone, timing, phone, consent, source, created_at,
	price_id, price_cents, status, buyer_index, sent_at, sold_at, delivered_at, checkout_url, version, updated_at`

// Repository is the PostgreSQL ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new PostgreSQL-backed ledger.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ping checks database connectivity for readiness checks.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) Append(ctx context.Context, lead domain.Lead) (uuid.UUID, error) {
	if lead.ID == uuid.Nil {
		lead.ID = uuid.New()
	}
	if lead.Status.Kind == "" {
		lead.Status = domain.StatusNew()
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO leads (id, vertical, city, service, zone, timing, phone, consent, source, created_at,
			price_id, price_cents, status, buyer_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`,
		lead.ID, lead.Vertical, lead.City, string(lead.Service), lead.Zone, string(lead.Timing),
		lead.Phone, lead.Consent, string(lead.Source), lead.CreatedAt,
		lead.PriceID, lead.PriceCents, string(lead.Status.Kind), lead.Status.BuyerIndex,
	)
	if err != nil {
		return uuid.Nil, apperr.Unavailable("append lead", err)
	}
	return lead.ID, nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, apperr.NotFound("lead not found")
	}
	if err != nil {
		return domain.Lead{}, apperr.Unavailable("get lead", err)
	}
	return lead, nil
}

func (r *Repository) Scan(ctx context.Context, filter Filter) ([]domain.Lead, error) {
	var kinds []string
	if len(filter.Kinds) > 0 {
		kinds = kindsAsStrings(filter.Kinds)
	}
	var sentBefore *time.Time
	if !filter.SentBefore.IsZero() {
		sb := filter.SentBefore.UTC()
		sentBefore = &sb
	}
	var soldBefore *time.Time
	if !filter.SoldBefore.IsZero() {
		sb := filter.SoldBefore.UTC()
		soldBefore = &sb
	}
	var limit *int
	if filter.Limit > 0 {
		limit = &filter.Limit
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE ($1::text[] IS NULL OR status = ANY($1))
		  AND ($2::timestamptz IS NULL OR sent_at <= $2)
		  AND ($4::timestamptz IS NULL OR sold_at <= $4)
		  AND (NOT $5::boolean OR delivered_at IS NULL)
		ORDER BY COALESCE(sent_at, created_at), created_at
		LIMIT $3`,
		kinds, sentBefore, limit, soldBefore, filter.Undelivered,
	)
	if err != nil {
		return nil, apperr.Unavailable("scan leads", err)
	}
	defer rows.Close()

	leads := make([]domain.Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, apperr.Unavailable("scan lead row", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("scan leads", err)
	}
	return leads, nil
}

func (r *Repository) Transition(ctx context.Context, id uuid.UUID, expected, next domain.Status, fields TransitionFields) (domain.Lead, error) {
	if err := domain.CanTransition(expected, next); err != nil {
		return domain.Lead{}, apperr.Validation(err.Error())
	}

	var expectedBuyer *int
	if expected.Kind == domain.KindOffered || expected.Kind == domain.KindSold {
		expectedBuyer = &expected.BuyerIndex
	}
	var expectedSentAt *time.Time
	if expected.Kind == domain.KindOffered && !expected.SentAt.IsZero() {
		sa := expected.SentAt.UTC()
		expectedSentAt = &sa
	}
	var nextSentAt *time.Time
	if next.Kind == domain.KindOffered {
		sa := next.SentAt.UTC()
		nextSentAt = &sa
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE leads
		SET status = $2,
		    buyer_index = $3,
		    sent_at = COALESCE($4, sent_at),
		    sold_at = COALESCE($5, sold_at),
		    checkout_url = COALESCE($6, checkout_url),
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND status = $7
		  AND ($8::int IS NULL OR buyer_index = $8)
		  AND ($9::timestamptz IS NULL OR sent_at = $9)
		RETURNING `+leadColumns,
		id, string(next.Kind), next.BuyerIndex, nextSentAt, fields.SoldAt, fields.CheckoutURL,
		string(expected.Kind), expectedBuyer, expectedSentAt,
	)
	lead, err := scanLead(row)
	if err == nil {
		return lead, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, apperr.Unavailable("transition lead", err)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM leads WHERE id = $1)`, id).Scan(&exists); err != nil {
		return domain.Lead{}, apperr.Unavailable("transition lead", err)
	}
	if !exists {
		return domain.Lead{}, apperr.NotFound("lead not found")
	}
	return domain.Lead{}, apperr.Conflict(fmt.Sprintf("lead is no longer %s", expected))
}

func (r *Repository) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET delivered_at = COALESCE(delivered_at, $2),
		    updated_at = now()
		WHERE id = $1 AND status = 'sold'`,
		id, at.UTC(),
	)
	if err != nil {
		return apperr.Unavailable("mark lead delivered", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM leads WHERE id = $1)`, id).Scan(&exists); err != nil {
		return apperr.Unavailable("mark lead delivered", err)
	}
	if !exists {
		return apperr.NotFound("lead not found")
	}
	return apperr.Conflict("lead is not sold")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (domain.Lead, error) {
	var (
		lead        domain.Lead
		service     string
		timing      string
		source      string
		status      string
		buyerIndex  int
		sentAt      *time.Time
		checkoutURL *string
	)
	err := row.Scan(
		&lead.ID, &lead.Vertical, &lead.City, &service, &lead.Zone, &timing, &lead.Phone,
		&lead.Consent, &source, &lead.CreatedAt, &lead.PriceID, &lead.PriceCents,
		&status, &buyerIndex, &sentAt, &lead.SoldAt, &lead.DeliveredAt, &checkoutURL, &lead.Version, &lead.UpdatedAt,
	)
	if err != nil {
		return domain.Lead{}, err
	}

	lead.Service = domain.Service(service)
	lead.Timing = domain.Timing(timing)
	lead.Source = domain.Source(source)
	lead.Status = domain.Status{Kind: domain.StatusKind(status), BuyerIndex: buyerIndex}
	if sentAt != nil && lead.Status.Kind == domain.KindOffered {
		lead.Status.SentAt = sentAt.UTC()
	}
	if checkoutURL != nil {
		lead.CheckoutURL = *checkoutURL
	}
	return lead, nil
}

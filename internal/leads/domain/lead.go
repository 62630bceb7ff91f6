// Package domain holds the lead record, its status lifecycle and the price catalog.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service is the three-way classification of what the caller needs.
type Service string

const (
	ServiceFuneral   Service = "funeral"
	ServiceCremation Service = "cremation"
	ServiceTransfer  Service = "transfer"
)

// Label is the Italian wording used in buyer emails.
func (s Service) Label() string {
	switch s {
	case ServiceFuneral:
		return "funerale"
	case ServiceCremation:
		return "cremazione"
	case ServiceTransfer:
		return "trasferimento salma"
	default:
		return string(s)
	}
}

// Valid reports whether s is one of the known services.
func (s Service) Valid() bool {
	switch s {
	case ServiceFuneral, ServiceCremation, ServiceTransfer:
		return true
	}
	return false
}

// Timing is the urgency tier.
type Timing string

const (
	TimingImmediate  Timing = "immediate"
	TimingWithin24h  Timing = "within_24h"
	TimingWithinDays Timing = "within_days"
)

// Label is the Italian wording used in buyer emails.
func (t Timing) Label() string {
	switch t {
	case TimingImmediate:
		return "immediato"
	case TimingWithin24h:
		return "entro 24h"
	case TimingWithinDays:
		return "entro 7 giorni"
	default:
		return string(t)
	}
}

// Valid reports whether t is one of the known tiers.
func (t Timing) Valid() bool {
	switch t {
	case TimingImmediate, TimingWithin24h, TimingWithinDays:
		return true
	}
	return false
}

// Source is the channel a lead came in through.
type Source string

const (
	SourceVoice Source = "voice"
	SourceForm  Source = "form"
)

// Lead is one row of the offer ledger.
type Lead struct {
	ID          uuid.UUID
	Vertical    string
	City        string
	Service     Service
	Zone        string
	Timing      Timing
	Phone       string
	Consent     bool
	Source      Source
	CreatedAt   time.Time
	PriceID     string
	PriceCents  int
	Status      Status
	SoldAt      *time.Time
	DeliveredAt *time.Time
	CheckoutURL string
	Version     int
	UpdatedAt   time.Time
}

// DisplayPrice renders the catalog price the way buyers see it, e.g. "€ 75,00".
func (l Lead) DisplayPrice() string {
	return FormatEuro(l.PriceCents)
}

// NewLeadParams carries the slots collected by intake.
type NewLeadParams struct {
	Vertical string
	City     string
	Service  Service
	Zone     string
	Timing   Timing
	Phone    string
	Consent  bool
	Source   Source
}

// NewLead builds a fresh lead in status new with its catalog price resolved.
func NewLead(p NewLeadParams, now time.Time) (Lead, error) {
	if !p.Service.Valid() {
		return Lead{}, fmt.Errorf("unknown service %q", p.Service)
	}
	if !p.Timing.Valid() {
		return Lead{}, fmt.Errorf("unknown timing %q", p.Timing)
	}
	if strings.TrimSpace(p.Zone) == "" {
		return Lead{}, fmt.Errorf("zone is required")
	}
	if strings.TrimSpace(p.Phone) == "" {
		return Lead{}, fmt.Errorf("phone is required")
	}

	entry, ok := Lookup(p.Service, p.Timing)
	if !ok {
		return Lead{}, fmt.Errorf("no catalog entry for %s/%s", p.Service, p.Timing)
	}

	return Lead{
		ID:         uuid.New(),
		Vertical:   p.Vertical,
		City:       p.City,
		Service:    p.Service,
		Zone:       strings.TrimSpace(p.Zone),
		Timing:     p.Timing,
		Phone:      p.Phone,
		Consent:    p.Consent,
		Source:     p.Source,
		CreatedAt:  now.UTC(),
		PriceID:    entry.PriceID,
		PriceCents: entry.Cents,
		Status:     StatusNew(),
		Version:    1,
		UpdatedAt:  now.UTC(),
	}, nil
}

// FormatEuro renders cents with Italian separators: 10050 -> "€ 100,50".
func FormatEuro(cents int) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s€ %d,%02d", sign, cents/100, cents%100)
}

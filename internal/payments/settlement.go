// Package payments creates checkout links for offers and settles leads on
// verified payment callbacks.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"lead_waterfall_backend/internal/buyers"
	"lead_waterfall_backend/internal/leads/domain"
	"lead_waterfall_backend/internal/leads/repository"
	"lead_waterfall_backend/platform/apperr"
	"lead_waterfall_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

const (
	metadataLeadID     = "lead_id"
	metadataBuyerIndex = "buyer_index"

	// DefaultSignatureTolerance bounds the age of a signed webhook.
	DefaultSignatureTolerance = 5 * time.Minute
	defaultCallTimeout        = 10 * time.Second
)

// Outcome describes what a callback did to the ledger.
type Outcome string

const (
	OutcomeIgnored        Outcome = "ignored"
	OutcomeSold           Outcome = "sold"
	OutcomeAlreadySettled Outcome = "already_settled"
)

// SoldLeadDelivery hands the unmasked lead to its buyer after a sale.
type SoldLeadDelivery interface {
	DeliverSoldLead(ctx context.Context, leadID uuid.UUID, buyerIndex int) error
}

// Ledger is what settlement needs from the offer ledger.
type Ledger interface {
	repository.LeadReader
	repository.LeadTransitioner
}

// Settlement applies verified payment callbacks to the ledger.
type Settlement struct {
	ledger      Ledger
	roster      *buyers.Roster
	delivery    SoldLeadDelivery
	secret      string
	tolerance   time.Duration
	callTimeout time.Duration
	now         func() time.Time
	log         *logger.Logger
}

// NewSettlement wires the settlement service. callTimeout bounds every ledger
// and delivery call made while handling one callback.
func NewSettlement(ledger Ledger, roster *buyers.Roster, delivery SoldLeadDelivery, webhookSecret string, callTimeout time.Duration, log *logger.Logger) *Settlement {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &Settlement{
		ledger:      ledger,
		roster:      roster,
		delivery:    delivery,
		secret:      webhookSecret,
		tolerance:   DefaultSignatureTolerance,
		callTimeout: callTimeout,
		now:         time.Now,
		log:         log,
	}
}

// HandleWebhook verifies, decodes and applies one callback.
//
// Only a paid checkout.session.completed event changes state. A callback that
// loses the race (already sold, or escalated past its buyer) is a successful no-op.
// A failed delivery after the sale is left to the scheduler, which re-delivers
// sold leads that were never marked delivered.
func (s *Settlement) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (Outcome, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, s.secret, webhook.ConstructEventOptions{
		Tolerance:                s.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return "", apperr.Wrap(apperr.KindUnauthorized, "invalid signature", err)
		}
		return "", apperr.Wrap(apperr.KindBadRequest, "malformed event", err)
	}

	log := s.log.WithContext(ctx).With("event_id", event.ID, "event_type", string(event.Type))

	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		log.Debug("payment event ignored")
		return OutcomeIgnored, nil
	}
	if event.Data == nil {
		return "", apperr.BadRequest("event has no data")
	}
	var obj stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return "", apperr.Wrap(apperr.KindBadRequest, "malformed checkout session", err)
	}
	if obj.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		log.Debug("payment event ignored", "payment_status", string(obj.PaymentStatus))
		return OutcomeIgnored, nil
	}

	leadID, buyerIndex, err := s.correlate(&obj)
	if err != nil {
		return "", err
	}

	err = s.call(ctx, func(callCtx context.Context) error {
		_, err := s.ledger.Get(callCtx, leadID)
		return err
	})
	if err != nil {
		return "", err
	}

	soldAt := s.now().UTC()
	var sold domain.Lead
	err = s.call(ctx, func(callCtx context.Context) error {
		var err error
		sold, err = s.ledger.Transition(callCtx, leadID,
			domain.StatusOffered(buyerIndex, time.Time{}),
			domain.StatusSold(buyerIndex),
			repository.TransitionFields{SoldAt: &soldAt},
		)
		return err
	})
	if apperr.Is(err, apperr.KindConflict) {
		status := "unknown"
		_ = s.call(ctx, func(callCtx context.Context) error {
			current, err := s.ledger.Get(callCtx, leadID)
			if err == nil {
				status = current.Status.String()
			}
			return err
		})
		log.Warn("late or duplicate payment ignored",
			"lead_id", leadID.String(), "buyer_index", buyerIndex, "current_status", status)
		return OutcomeAlreadySettled, nil
	}
	if err != nil {
		return "", err
	}

	log.Info("lead sold", "lead_id", sold.ID.String(), "buyer_index", buyerIndex, "checkout_session", obj.ID)

	err = s.call(ctx, func(callCtx context.Context) error {
		return s.delivery.DeliverSoldLead(callCtx, sold.ID, buyerIndex)
	})
	if err != nil {
		log.Error("sold lead delivery failed, scheduler will retry",
			"lead_id", sold.ID.String(), "buyer_index", buyerIndex, "error", err)
	}
	return OutcomeSold, nil
}

// call bounds fn by the settlement call timeout. A call cut off by the
// deadline surfaces as unavailable rather than as a raw context error.
func (s *Settlement) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	err := fn(callCtx)
	if err == nil || callCtx.Err() == nil {
		return err
	}
	var typed *apperr.Error
	if errors.As(err, &typed) && typed.Kind != apperr.KindUnknown {
		return err
	}
	return apperr.Unavailable("ledger call timed out", err)
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func (s *Settlement) correlate(obj *stripe.CheckoutSession) (uuid.UUID, int, error) {
	rawLead := strings.TrimSpace(obj.Metadata[metadataLeadID])
	rawBuyer := strings.TrimSpace(obj.Metadata[metadataBuyerIndex])
	if rawLead == "" || rawBuyer == "" {
		return uuid.Nil, 0, apperr.BadRequest("missing lead_id or buyer_index metadata")
	}

	leadID, err := uuid.Parse(rawLead)
	if err != nil {
		return uuid.Nil, 0, apperr.BadRequest("invalid lead_id metadata")
	}
	if ref := strings.TrimSpace(obj.ClientReferenceID); ref != "" && ref != leadID.String() {
		return uuid.Nil, 0, apperr.BadRequest("client_reference_id does not match lead_id")
	}

	buyerIndex, err := strconv.Atoi(rawBuyer)
	if err != nil {
		return uuid.Nil, 0, apperr.BadRequest("invalid buyer_index metadata")
	}
	if _, ok := s.roster.At(buyerIndex); !ok {
		return uuid.Nil, 0, apperr.BadRequest("buyer_index not in roster")
	}
	return leadID, buyerIndex, nil
}

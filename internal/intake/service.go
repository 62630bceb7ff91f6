package intake

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lead_waterfall_backend/internal/leads/domain"
	"lead_waterfall_backend/internal/leads/fallback"
	"lead_waterfall_backend/internal/leads/repository"
	"lead_waterfall_backend/platform/apperr"
	"lead_waterfall_backend/platform/config"
	"lead_waterfall_backend/platform/logger"
	"lead_waterfall_backend/platform/phone"
	"lead_waterfall_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	defaultAppendTimeout  = 5 * time.Second
	defaultSessionTimeout = 2 * time.Second
	fallbackSaveTimeout   = 5 * time.Second
)

// Service runs dialog turns and records finished leads.
type Service struct {
	dialog        Dialog
	store         SessionStore
	locks         callLocks
	ledger        repository.LeadAppender
	fallback      fallback.Queue
	vertical      string
	city          string
	region        string
	appendTimeout  time.Duration
	sessionTimeout time.Duration
	log            *logger.Logger
	now            func() time.Time
}

// NewService wires the intake service. queue may be nil, in which case a
// ledger failure loses the lead and is logged as an error.
func NewService(cfg config.IntakeConfig, store SessionStore, ledger repository.LeadAppender, queue fallback.Queue, log *logger.Logger) *Service {
	return &Service{
		dialog:         NewDialog(ItalianPrompts(cfg.GetLeadCity()), cfg.GetPhoneRegion(), cfg.GetDialogMaxAttempts()),
		store:          store,
		ledger:         ledger,
		fallback:       queue,
		vertical:       cfg.GetLeadVertical(),
		city:           cfg.GetLeadCity(),
		region:         cfg.GetPhoneRegion(),
		appendTimeout:  defaultAppendTimeout,
		sessionTimeout: defaultSessionTimeout,
		log:            log,
		now:            time.Now,
	}
}

// StartCall opens a session and returns the greeting. A repeated start for
// the same call restarts the dialog.
func (s *Service) StartCall(ctx context.Context, callID string) (Reply, error) {
	unlock := s.locks.lock(callID)
	defer unlock()

	session := NewSession(callID, s.now())
	if err := s.saveSession(ctx, session); err != nil {
		return Reply{}, err
	}
	s.log.WithCallID(callID).Info("call started")
	return s.dialog.Start(), nil
}

// HandleTurn applies one transcript turn. A turn for an unknown call starts
// a fresh session at the first question.
func (s *Service) HandleTurn(ctx context.Context, callID, transcript string) (Reply, error) {
	unlock := s.locks.lock(callID)
	defer unlock()

	log := s.log.WithCallID(callID)

	session, ok, err := s.loadSession(ctx, callID)
	if err != nil {
		return Reply{}, err
	}
	if !ok {
		session = NewSession(callID, s.now())
	}

	from := session.Step
	reply := s.dialog.Handle(session, transcript)
	session.TouchedAt = s.now().UTC()
	log.Debug("dialog turn", "from", string(from), "to", string(session.Step), "attempts", session.Attempts)

	if !reply.Hangup {
		if err := s.saveSession(ctx, session); err != nil {
			return Reply{}, err
		}
		return reply, nil
	}

	if err := s.deleteSession(ctx, callID); err != nil {
		log.Warn("session delete failed, TTL will expire it", "error", err)
	}
	if !reply.Completed {
		log.Info("call ended without lead", "step", string(from))
		return reply, nil
	}

	// The caller hears the thank-you either way; a lost lead is an operator problem.
	if _, _, err := s.capture(ctx, session.LeadParams(s.vertical, s.city)); err != nil {
		log.Error("voice lead lost", "error", err)
	}
	return reply, nil
}

// EndCall drops the session of a call the gateway reports as finished.
func (s *Service) EndCall(ctx context.Context, callID, status string) error {
	unlock := s.locks.lock(callID)
	defer unlock()

	if err := s.deleteSession(ctx, callID); err != nil {
		return err
	}
	s.log.WithCallID(callID).Info("call finished", "call_status", status)
	return nil
}

func (s *Service) loadSession(ctx context.Context, callID string) (*Session, bool, error) {
	var (
		session *Session
		ok      bool
	)
	err := s.sessionCall(ctx, func(callCtx context.Context) error {
		var err error
		session, ok, err = s.store.Load(callCtx, callID)
		return err
	})
	return session, ok, err
}

func (s *Service) saveSession(ctx context.Context, session *Session) error {
	return s.sessionCall(ctx, func(callCtx context.Context) error {
		return s.store.Save(callCtx, session)
	})
}

func (s *Service) deleteSession(ctx context.Context, callID string) error {
	return s.sessionCall(ctx, func(callCtx context.Context) error {
		return s.store.Delete(callCtx, callID)
	})
}

// sessionCall bounds a store call so a stalled Redis cannot hold a webhook
// past the gateway's own timeout.
func (s *Service) sessionCall(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.sessionTimeout)
	defer cancel()
	err := fn(callCtx)
	if err != nil && callCtx.Err() != nil && ctx.Err() == nil {
		return apperr.Unavailable("session store timed out", err)
	}
	return err
}

// FormInput is a landing-page submission.
type FormInput struct {
	Service string
	Zone    string
	Urgency string
	Phone   string
	Consent *bool
}

// FormResult reports where a form lead ended up.
type FormResult struct {
	LeadID uuid.UUID
	Queued bool
}

// SubmitForm classifies and records a landing-page lead.
func (s *Service) SubmitForm(ctx context.Context, in FormInput) (FormResult, error) {
	service, ok := ClassifyService(in.Service)
	if !ok {
		return FormResult{}, apperr.Validation(fmt.Sprintf("unknown service %q", strings.TrimSpace(in.Service)))
	}
	if in.Consent != nil && !*in.Consent {
		return FormResult{}, apperr.Validation("consent is required")
	}
	zone := sanitize.Text(in.Zone)
	if zone == "" {
		return FormResult{}, apperr.Validation("zone is required")
	}
	normalized := phone.Normalize(in.Phone, s.region)
	if !phone.IsPlausible(normalized) {
		return FormResult{}, apperr.Validation("phone number is not valid")
	}

	id, queued, err := s.capture(ctx, domain.NewLeadParams{
		Vertical: s.vertical,
		City:     s.city,
		Service:  service,
		Zone:     zone,
		Timing:   ClassifyFormTiming(in.Urgency),
		Phone:    normalized,
		Consent:  true,
		Source:   domain.SourceForm,
	})
	if err != nil {
		return FormResult{}, err
	}
	return FormResult{LeadID: id, Queued: queued}, nil
}

// capture appends a lead to the ledger, falling back to the local queue.
func (s *Service) capture(ctx context.Context, params domain.NewLeadParams) (uuid.UUID, bool, error) {
	now := s.now()
	lead, err := domain.NewLead(params, now)
	if err != nil {
		return uuid.Nil, false, apperr.Validation(err.Error())
	}
	log := s.log.WithLead(lead.ID.String())

	appendCtx, cancel := context.WithTimeout(ctx, s.appendTimeout)
	defer cancel()
	id, appendErr := s.ledger.Append(appendCtx, lead)
	if appendErr == nil {
		log.Info("lead captured", "source", string(lead.Source), "service", string(lead.Service),
			"timing", string(lead.Timing), "price_id", lead.PriceID)
		return id, false, nil
	}

	log.Warn("ledger append failed, queueing lead locally", "error", appendErr)
	if s.fallback == nil {
		return uuid.Nil, false, apperr.Unavailable("lead could not be recorded", appendErr)
	}

	// The request context may already be the reason the append failed.
	saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(ctx), fallbackSaveTimeout)
	defer cancelSave()
	if err := s.fallback.Save(saveCtx, fallback.Entry{Lead: lead, Reason: appendErr.Error(), SavedAt: now}); err != nil {
		return uuid.Nil, false, apperr.Unavailable("lead could not be recorded", fmt.Errorf("%v; fallback: %w", appendErr, err))
	}
	return lead.ID, true, nil
}

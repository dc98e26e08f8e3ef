package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/gesco-api/internal/models"
	appErrors "github.com/noah-isme/gesco-api/pkg/errors"
)

// Webhook processing outcomes, also used as metric labels.
const (
	WebhookConfirmed = "confirmed"
	WebhookFailed    = "failed"
	WebhookCancelled = "cancelled"
	WebhookIgnored   = "ignored"
	WebhookUnknown   = "unknown"
)

type webhookPaiementReader interface {
	FindByID(ctx context.Context, id string) (*models.Paiement, error)
	FindByNumero(ctx context.Context, numero string) (*models.Paiement, error)
	FindByExternalRef(ctx context.Context, ref string) (*models.Paiement, error)
	RecordCallback(ctx context.Context, paiementID string, raw json.RawMessage) error
}

type paymentOutcomeApplier interface {
	ConfirmPayment(ctx context.Context, paiementID string, fees int64, callback json.RawMessage, actor models.ActorContext) ([]models.Command, error)
	FailPayment(ctx context.Context, paiementID string, target models.PaiementStatus, note string, callback json.RawMessage, actor models.ActorContext) ([]models.Command, error)
}

type commandDispatcher interface {
	Dispatch(cmds []models.Command)
}

// ligdicashEvent is the loosely-typed callback body. LigdiCash is not strict
// about which identifier fields are present, so all candidates are declared.
type ligdicashEvent struct {
	Status       string `json:"status"`
	ResponseCode string `json:"response_code"`
	Token        string `json:"token"`
	PaiementID   string `json:"paiement_id"`
	ExternalID   string `json:"external_id"`
	Montant      int64  `json:"montant"`
	Amount       int64  `json:"amount"`
	Fee          int64  `json:"fee"`
	CustomData   struct {
		PaiementID string `json:"paiement_id"`
	} `json:"custom_data"`
}

// WebhookService ingests LigdiCash callbacks. Deliveries are at-least-once
// and unauthenticated beyond the payload itself, so the stored amount is
// authoritative and the payment identifier must resolve to a known row.
type WebhookService struct {
	paiements  webhookPaiementReader
	outcomes   paymentOutcomeApplier
	dispatcher commandDispatcher
	metrics    *MetricsService
	logger     *zap.Logger
}

// NewWebhookService constructs WebhookService.
func NewWebhookService(paiements webhookPaiementReader, outcomes paymentOutcomeApplier, dispatcher commandDispatcher, metrics *MetricsService, logger *zap.Logger) *WebhookService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookService{paiements: paiements, outcomes: outcomes, dispatcher: dispatcher, metrics: metrics, logger: logger}
}

// HandleLigdicash processes one callback delivery and returns the outcome.
// A payload that cannot be parsed surfaces ErrValidation; an identifier that
// resolves to no payment surfaces ErrNotFound. Everything else returns 200 to
// stop the gateway from retrying.
func (s *WebhookService) HandleLigdicash(ctx context.Context, raw []byte, ip string) (string, error) {
	event, ok := parseEvent(raw)
	if !ok {
		s.metrics.RecordWebhookEvent(WebhookIgnored)
		return "", appErrors.Clone(appErrors.ErrValidation, "callback illisible")
	}

	paiement, err := s.resolvePaiement(ctx, event)
	if err != nil {
		s.metrics.RecordWebhookEvent(WebhookUnknown)
		return "", err
	}

	actor := models.SystemActor(ip)
	callback := json.RawMessage(raw)

	switch normalizeStatus(event) {
	case models.PaiementConfirme:
		// the gateway's amount is informational; the stored Montant rules
		if reported := eventAmount(event); reported != 0 && reported != paiement.Montant {
			s.logger.Warn("webhook amount differs from stored amount",
				zap.String("paiement_id", paiement.ID),
				zap.Int64("reported", reported),
				zap.Int64("stored", paiement.Montant))
		}
		cmds, err := s.outcomes.ConfirmPayment(ctx, paiement.ID, event.Fee, callback, actor)
		if err != nil {
			s.metrics.RecordWebhookEvent(WebhookIgnored)
			return "", err
		}
		s.dispatcher.Dispatch(cmds)
		s.metrics.RecordWebhookEvent(WebhookConfirmed)
		return WebhookConfirmed, nil
	case models.PaiementEchec:
		cmds, err := s.outcomes.FailPayment(ctx, paiement.ID, models.PaiementEchec, "Échec signalé par la passerelle", callback, actor)
		if err != nil {
			s.metrics.RecordWebhookEvent(WebhookIgnored)
			return "", err
		}
		s.dispatcher.Dispatch(cmds)
		s.metrics.RecordWebhookEvent(WebhookFailed)
		return WebhookFailed, nil
	case models.PaiementAnnule:
		cmds, err := s.outcomes.FailPayment(ctx, paiement.ID, models.PaiementAnnule, "Annulation signalée par la passerelle", callback, actor)
		if err != nil {
			s.metrics.RecordWebhookEvent(WebhookIgnored)
			return "", err
		}
		s.dispatcher.Dispatch(cmds)
		s.metrics.RecordWebhookEvent(WebhookCancelled)
		return WebhookCancelled, nil
	default:
		// unrecognized status: keep the payload for investigation, ack the
		// delivery
		if err := s.paiements.RecordCallback(ctx, paiement.ID, callback); err != nil {
			s.logger.Warn("could not record callback payload",
				zap.String("paiement_id", paiement.ID),
				zap.Error(err))
		}
		s.metrics.RecordWebhookEvent(WebhookIgnored)
		return WebhookIgnored, nil
	}
}

// resolvePaiement tries the identifier fields in order of reliability:
// internal id, custom data, transaction number, then gateway token.
func (s *WebhookService) resolvePaiement(ctx context.Context, event ligdicashEvent) (*models.Paiement, error) {
	lookups := []struct {
		value string
		find  func(context.Context, string) (*models.Paiement, error)
	}{
		{event.PaiementID, s.paiements.FindByID},
		{event.CustomData.PaiementID, s.paiements.FindByID},
		{event.ExternalID, s.paiements.FindByNumero},
		{event.Token, s.paiements.FindByExternalRef},
	}
	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		p, err := l.find(ctx, l.value)
		if err == nil {
			return p, nil
		}
		if err != sql.ErrNoRows {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de résoudre le paiement")
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "paiement inconnu")
}

// parseEvent decodes a callback delivered either as JSON or as a
// form-encoded body. A form body counts as readable only when it carries at
// least one field the ingestor knows, so garbage bodies still surface as
// unparseable instead of resolving to nothing.
func parseEvent(raw []byte) (ligdicashEvent, bool) {
	var event ligdicashEvent
	if err := json.Unmarshal(raw, &event); err == nil {
		return event, true
	}
	values, err := url.ParseQuery(strings.TrimSpace(string(raw)))
	if err != nil {
		return event, false
	}
	event.Status = values.Get("status")
	event.ResponseCode = values.Get("response_code")
	event.Token = values.Get("token")
	event.PaiementID = values.Get("paiement_id")
	event.ExternalID = values.Get("external_id")
	event.Montant = parseAmount(values.Get("montant"))
	event.Amount = parseAmount(values.Get("amount"))
	event.Fee = parseAmount(values.Get("fee"))
	if cd := values.Get("custom_data"); cd != "" {
		_ = json.Unmarshal([]byte(cd), &event.CustomData)
	}
	if event.Status == "" && event.ResponseCode == "" &&
		event.PaiementID == "" && event.ExternalID == "" && event.Token == "" {
		return event, false
	}
	return event, true
}

func parseAmount(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// normalizeStatus maps the gateway vocabulary onto the payment state machine.
// A recognized status keyword wins; failing that, response code 00 alone is a
// confirmation.
func normalizeStatus(event ligdicashEvent) models.PaiementStatus {
	switch strings.ToLower(event.Status) {
	case "completed", "success", "successful", "paid":
		return models.PaiementConfirme
	case "failed", "error", "nocompleted":
		return models.PaiementEchec
	case "cancelled", "canceled":
		return models.PaiementAnnule
	}
	if event.ResponseCode == "00" {
		return models.PaiementConfirme
	}
	return ""
}

func eventAmount(event ligdicashEvent) int64 {
	if event.Montant != 0 {
		return event.Montant
	}
	return event.Amount
}

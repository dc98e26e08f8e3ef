package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/gesco-api/internal/models"
	appErrors "github.com/noah-isme/gesco-api/pkg/errors"
)

type fakeWebhookPaiements struct {
	byID      map[string]*models.Paiement
	byNumero  map[string]*models.Paiement
	byToken   map[string]*models.Paiement
	callbacks int
}

func (f *fakeWebhookPaiements) FindByID(ctx context.Context, id string) (*models.Paiement, error) {
	if p, ok := f.byID[id]; ok {
		return p, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeWebhookPaiements) FindByNumero(ctx context.Context, numero string) (*models.Paiement, error) {
	if p, ok := f.byNumero[numero]; ok {
		return p, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeWebhookPaiements) FindByExternalRef(ctx context.Context, ref string) (*models.Paiement, error) {
	if p, ok := f.byToken[ref]; ok {
		return p, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeWebhookPaiements) RecordCallback(ctx context.Context, paiementID string, raw json.RawMessage) error {
	f.callbacks++
	return nil
}

type fakeOutcomes struct {
	confirmed []string
	failed    []string
	failedTo  []models.PaiementStatus
	cmds      []models.Command
	err       error
}

func (f *fakeOutcomes) ConfirmPayment(ctx context.Context, paiementID string, fees int64, callback json.RawMessage, actor models.ActorContext) ([]models.Command, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.confirmed = append(f.confirmed, paiementID)
	return f.cmds, nil
}

func (f *fakeOutcomes) FailPayment(ctx context.Context, paiementID string, target models.PaiementStatus, note string, callback json.RawMessage, actor models.ActorContext) ([]models.Command, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.failed = append(f.failed, paiementID)
	f.failedTo = append(f.failedTo, target)
	return f.cmds, nil
}

type fakeDispatcher struct {
	dispatched [][]models.Command
}

func (f *fakeDispatcher) Dispatch(cmds []models.Command) {
	f.dispatched = append(f.dispatched, cmds)
}

func newWebhookService(paiements *fakeWebhookPaiements, outcomes *fakeOutcomes, dispatcher *fakeDispatcher) *WebhookService {
	return NewWebhookService(paiements, outcomes, dispatcher, NewMetricsService(), zap.NewNop())
}

func TestWebhookConfirmsPayment(t *testing.T) {
	paiements := &fakeWebhookPaiements{byID: map[string]*models.Paiement{
		"pay-1": {ID: "pay-1", Montant: 150000, Statut: models.PaiementEnCours},
	}}
	outcomes := &fakeOutcomes{cmds: []models.Command{{Type: models.CommandNotifyPaymentOK}}}
	dispatcher := &fakeDispatcher{}
	svc := newWebhookService(paiements, outcomes, dispatcher)

	raw := []byte(`{"status":"completed","paiement_id":"pay-1","montant":150000,"fee":500}`)
	outcome, err := svc.HandleLigdicash(context.Background(), raw, "196.28.0.1")
	require.NoError(t, err)
	assert.Equal(t, WebhookConfirmed, outcome)
	assert.Equal(t, []string{"pay-1"}, outcomes.confirmed)
	require.Len(t, dispatcher.dispatched, 1)
}

func TestWebhookResolvesThroughCustomData(t *testing.T) {
	paiements := &fakeWebhookPaiements{byID: map[string]*models.Paiement{
		"pay-2": {ID: "pay-2", Montant: 50000},
	}}
	outcomes := &fakeOutcomes{}
	svc := newWebhookService(paiements, outcomes, &fakeDispatcher{})

	raw := []byte(`{"status":"paid","custom_data":{"paiement_id":"pay-2"}}`)
	outcome, err := svc.HandleLigdicash(context.Background(), raw, "")
	require.NoError(t, err)
	assert.Equal(t, WebhookConfirmed, outcome)
	assert.Equal(t, []string{"pay-2"}, outcomes.confirmed)
}

func TestWebhookResolvesThroughTransactionNumber(t *testing.T) {
	paiements := &fakeWebhookPaiements{byNumero: map[string]*models.Paiement{
		"PAY20240829143501X7K2QD": {ID: "pay-3", Montant: 50000},
	}}
	outcomes := &fakeOutcomes{}
	svc := newWebhookService(paiements, outcomes, &fakeDispatcher{})

	raw := []byte(`{"status":"failed","external_id":"PAY20240829143501X7K2QD"}`)
	outcome, err := svc.HandleLigdicash(context.Background(), raw, "")
	require.NoError(t, err)
	assert.Equal(t, WebhookFailed, outcome)
	assert.Equal(t, []models.PaiementStatus{models.PaiementEchec}, outcomes.failedTo)
}

func TestWebhookCancelled(t *testing.T) {
	paiements := &fakeWebhookPaiements{byToken: map[string]*models.Paiement{
		"gw-token": {ID: "pay-4", Montant: 50000},
	}}
	outcomes := &fakeOutcomes{}
	svc := newWebhookService(paiements, outcomes, &fakeDispatcher{})

	raw := []byte(`{"status":"cancelled","token":"gw-token"}`)
	outcome, err := svc.HandleLigdicash(context.Background(), raw, "")
	require.NoError(t, err)
	assert.Equal(t, WebhookCancelled, outcome)
	assert.Equal(t, []models.PaiementStatus{models.PaiementAnnule}, outcomes.failedTo)
}

func TestWebhookResponseCodeFallback(t *testing.T) {
	paiements := &fakeWebhookPaiements{byID: map[string]*models.Paiement{
		"pay-5": {ID: "pay-5", Montant: 50000},
	}}
	outcomes := &fakeOutcomes{}
	svc := newWebhookService(paiements, outcomes, &fakeDispatcher{})

	// no status field, response_code 00 means success
	raw := []byte(`{"response_code":"00","paiement_id":"pay-5"}`)
	outcome, err := svc.HandleLigdicash(context.Background(), raw, "")
	require.NoError(t, err)
	assert.Equal(t, WebhookConfirmed, outcome)
}

func TestWebhookAcceptsFormEncodedPayload(t *testing.T) {
	paiements := &fakeWebhookPaiements{byID: map[string]*models.Paiement{
		"pay-1": {ID: "pay-1", Montant: 150000, Statut: models.PaiementEnCours},
	}}
	outcomes := &fakeOutcomes{}
	dispatcher := &fakeDispatcher{}
	svc := newWebhookService(paiements, outcomes, dispatcher)

	raw := []byte("status=completed&paiement_id=pay-1&fee=500")
	outcome, err := svc.HandleLigdicash(context.Background(), raw, "196.28.0.1")
	require.NoError(t, err)
	assert.Equal(t, WebhookConfirmed, outcome)
	assert.Equal(t, []string{"pay-1"}, outcomes.confirmed)
	require.Len(t, dispatcher.dispatched, 1)
}

func TestWebhookFormEncodedCustomData(t *testing.T) {
	paiements := &fakeWebhookPaiements{byID: map[string]*models.Paiement{
		"pay-2": {ID: "pay-2", Montant: 50000},
	}}
	outcomes := &fakeOutcomes{}
	svc := newWebhookService(paiements, outcomes, &fakeDispatcher{})

	raw := []byte(`status=paid&custom_data=` + `%7B%22paiement_id%22%3A%22pay-2%22%7D`)
	outcome, err := svc.HandleLigdicash(context.Background(), raw, "")
	require.NoError(t, err)
	assert.Equal(t, WebhookConfirmed, outcome)
	assert.Equal(t, []string{"pay-2"}, outcomes.confirmed)
}

func TestWebhookResponseCodeOverridesUnknownStatus(t *testing.T) {
	paiements := &fakeWebhookPaiements{byID: map[string]*models.Paiement{
		"pay-8": {ID: "pay-8", Montant: 50000},
	}}
	outcomes := &fakeOutcomes{}
	svc := newWebhookService(paiements, outcomes, &fakeDispatcher{})

	// an unrecognized status wording still confirms when the code says 00
	raw := []byte(`{"status":"transaction_ok","response_code":"00","paiement_id":"pay-8"}`)
	outcome, err := svc.HandleLigdicash(context.Background(), raw, "")
	require.NoError(t, err)
	assert.Equal(t, WebhookConfirmed, outcome)
	assert.Equal(t, []string{"pay-8"}, outcomes.confirmed)
}

func TestWebhookUnknownStatusIsAcked(t *testing.T) {
	paiements := &fakeWebhookPaiements{byID: map[string]*models.Paiement{
		"pay-6": {ID: "pay-6", Montant: 50000},
	}}
	outcomes := &fakeOutcomes{}
	svc := newWebhookService(paiements, outcomes, &fakeDispatcher{})

	raw := []byte(`{"status":"pending","paiement_id":"pay-6"}`)
	outcome, err := svc.HandleLigdicash(context.Background(), raw, "")
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, outcome)
	assert.Empty(t, outcomes.confirmed)
	assert.Empty(t, outcomes.failed)
	assert.Equal(t, 1, paiements.callbacks)
}

func TestWebhookUnparseablePayload(t *testing.T) {
	svc := newWebhookService(&fakeWebhookPaiements{}, &fakeOutcomes{}, &fakeDispatcher{})

	_, err := svc.HandleLigdicash(context.Background(), []byte("not json"), "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestWebhookUnknownPayment(t *testing.T) {
	svc := newWebhookService(&fakeWebhookPaiements{}, &fakeOutcomes{}, &fakeDispatcher{})

	raw := []byte(`{"status":"completed","paiement_id":"no-such"}`)
	_, err := svc.HandleLigdicash(context.Background(), raw, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestWebhookIdempotentRedelivery(t *testing.T) {
	paiements := &fakeWebhookPaiements{byID: map[string]*models.Paiement{
		"pay-7": {ID: "pay-7", Montant: 50000, Statut: models.PaiementConfirme},
	}}
	outcomes := &fakeOutcomes{}
	svc := newWebhookService(paiements, outcomes, &fakeDispatcher{})

	raw := []byte(`{"status":"completed","paiement_id":"pay-7"}`)
	_, err := svc.HandleLigdicash(context.Background(), raw, "")
	require.NoError(t, err)
	_, err = svc.HandleLigdicash(context.Background(), raw, "")
	require.NoError(t, err)
	// the outcome applier decides idempotency; the service just routes twice
	assert.Equal(t, []string{"pay-7", "pay-7"}, outcomes.confirmed)
}

package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/gesco-api/internal/gateway"
	"github.com/noah-isme/gesco-api/internal/models"
	"github.com/noah-isme/gesco-api/internal/repository"
	"github.com/noah-isme/gesco-api/pkg/config"
	appErrors "github.com/noah-isme/gesco-api/pkg/errors"
)

type fakePaiementRepo struct {
	paiements     map[string]*models.Paiement
	created       []*models.Paiement
	enCours       []string
	failed        []string
	failedTargets []models.PaiementStatus
	failNotes     []string
	openPayment   bool
	confirmResult *repository.ConfirmResult
	confirmErr    error
	latest        *models.Paiement
	stale         []models.Paiement
}

func (f *fakePaiementRepo) FindByID(ctx context.Context, id string) (*models.Paiement, error) {
	if p, ok := f.paiements[id]; ok {
		return p, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakePaiementRepo) FindByNumero(ctx context.Context, numero string) (*models.Paiement, error) {
	return nil, sql.ErrNoRows
}

func (f *fakePaiementRepo) Create(ctx context.Context, p *models.Paiement, actor models.ActorContext, details string) error {
	if p.ID == "" {
		p.ID = "pay-new"
	}
	f.created = append(f.created, p)
	if f.paiements == nil {
		f.paiements = make(map[string]*models.Paiement)
	}
	f.paiements[p.ID] = p
	return nil
}

func (f *fakePaiementRepo) MarkEnCours(ctx context.Context, paiementID, externalRef string, raw json.RawMessage, actor models.ActorContext) error {
	f.enCours = append(f.enCours, paiementID)
	return nil
}

func (f *fakePaiementRepo) Confirm(ctx context.Context, paiementID string, fees int64, callback json.RawMessage, actor models.ActorContext) (*repository.ConfirmResult, error) {
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	return f.confirmResult, nil
}

func (f *fakePaiementRepo) Fail(ctx context.Context, paiementID string, target models.PaiementStatus, note string, callback json.RawMessage, actor models.ActorContext) error {
	f.failed = append(f.failed, paiementID)
	f.failedTargets = append(f.failedTargets, target)
	f.failNotes = append(f.failNotes, note)
	return nil
}

func (f *fakePaiementRepo) HasOpenPayment(ctx context.Context, inscriptionPaiementID string) (bool, error) {
	return f.openPayment, nil
}

func (f *fakePaiementRepo) LatestForObligation(ctx context.Context, inscriptionPaiementID string) (*models.Paiement, error) {
	if f.latest == nil {
		return nil, sql.ErrNoRows
	}
	return f.latest, nil
}

func (f *fakePaiementRepo) ListStaleEnCoursBefore(ctx context.Context, cutoff time.Time) ([]models.Paiement, error) {
	return f.stale, nil
}

type fakeEnrollmentRepo struct {
	inscription *models.Inscription
	obligation  *models.InscriptionPaiement
	enrolled    []*models.Inscription
	orphan      bool
	reaped      []string
}

func (f *fakeEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Inscription, error) {
	if f.inscription == nil {
		return nil, sql.ErrNoRows
	}
	return f.inscription, nil
}

func (f *fakeEnrollmentRepo) FindByCandidature(ctx context.Context, candidatureID string) (*models.Inscription, error) {
	if f.inscription == nil {
		return nil, sql.ErrNoRows
	}
	return f.inscription, nil
}

func (f *fakeEnrollmentRepo) FindPaiementInfo(ctx context.Context, inscriptionID string) (*models.InscriptionPaiement, error) {
	if f.obligation == nil {
		return nil, sql.ErrNoRows
	}
	return f.obligation, nil
}

func (f *fakeEnrollmentRepo) FindObligation(ctx context.Context, id string) (*models.InscriptionPaiement, error) {
	if f.obligation == nil {
		return nil, sql.ErrNoRows
	}
	return f.obligation, nil
}

func (f *fakeEnrollmentRepo) DeleteIfOrphanPending(ctx context.Context, inscriptionID string) (bool, error) {
	if !f.orphan {
		return false, nil
	}
	f.reaped = append(f.reaped, inscriptionID)
	f.inscription = nil
	return true, nil
}

func (f *fakeEnrollmentRepo) CreateEnrollment(ctx context.Context, ins *models.Inscription, obligation *models.InscriptionPaiement, paiement *models.Paiement, actor models.ActorContext) error {
	ins.ID = "ins-1"
	obligation.ID = "oblig-1"
	paiement.ID = "pay-1"
	paiement.InscriptionPaiementID = obligation.ID
	f.enrolled = append(f.enrolled, ins)
	return nil
}

type fakePaiementPlans struct {
	plan     *models.PlanPaiement
	tranches []models.TranchePaiement
	nextDue  *models.TranchePaiement
}

func (f *fakePaiementPlans) FindActivePlan(ctx context.Context, filiereID, niveauID, anneeID string) (*models.PlanPaiement, error) {
	if f.plan == nil {
		return nil, sql.ErrNoRows
	}
	return f.plan, nil
}

func (f *fakePaiementPlans) FindPlan(ctx context.Context, id string) (*models.PlanPaiement, error) {
	if f.plan == nil {
		return nil, sql.ErrNoRows
	}
	return f.plan, nil
}

func (f *fakePaiementPlans) ListTranches(ctx context.Context, planID string) ([]models.TranchePaiement, error) {
	return f.tranches, nil
}

func (f *fakePaiementPlans) NextDueTranche(ctx context.Context, inscriptionPaiementID string) (*models.TranchePaiement, error) {
	if f.nextDue == nil {
		return nil, sql.ErrNoRows
	}
	return f.nextDue, nil
}

type fakePaiementCandidatures struct {
	candidature *models.Candidature
}

func (f *fakePaiementCandidatures) FindByID(ctx context.Context, id string) (*models.Candidature, error) {
	if f.candidature == nil {
		return nil, sql.ErrNoRows
	}
	return f.candidature, nil
}

func (f *fakePaiementCandidatures) FindByNumero(ctx context.Context, numero string) (*models.Candidature, error) {
	if f.candidature == nil || f.candidature.NumeroCandidature != numero {
		return nil, sql.ErrNoRows
	}
	return f.candidature, nil
}

type fakeEnrollmentNumbering struct {
	txSeq int
}

func (f *fakeEnrollmentNumbering) AllocateInscriptionNumber(ctx context.Context, etablissementID string, year int) (string, error) {
	return "INS2024EST00001", nil
}

func (f *fakeEnrollmentNumbering) AllocateTransactionNumber(now time.Time) string {
	f.txSeq++
	return "PAY20240829143501AAAAA" + string(rune('0'+f.txSeq))
}

type fakeActivator struct {
	calls   int
	outcome *ActivationOutcome
	err     error
}

func (f *fakeActivator) TryActivate(ctx context.Context, inscriptionID string) (*ActivationOutcome, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.outcome, nil
}

type fakeGateway struct {
	session *gateway.CheckoutSession
	errs    []error
	calls   int
}

func (f *fakeGateway) CreateCheckoutInvoice(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutSession, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.session, nil
}

type paiementFixture struct {
	paiements    *fakePaiementRepo
	inscriptions *fakeEnrollmentRepo
	plans        *fakePaiementPlans
	candidatures *fakePaiementCandidatures
	activator    *fakeActivator
	gateway      *fakeGateway
	service      *PaiementService
}

func newPaiementFixture() *paiementFixture {
	f := &paiementFixture{
		paiements:    &fakePaiementRepo{},
		inscriptions: &fakeEnrollmentRepo{},
		plans:        &fakePaiementPlans{},
		candidatures: &fakePaiementCandidatures{},
		activator:    &fakeActivator{outcome: &ActivationOutcome{Outcome: models.AccountReusedExisting}},
		gateway:      &fakeGateway{session: &gateway.CheckoutSession{PaymentURL: "https://pay.example.com/x", Token: "gw-token"}},
	}
	cfg := &config.Config{
		BaseURL:    "https://gesco.example.com",
		APIPrefix:  "/api/v1",
		Enrollment: config.EnrollmentConfig{StalePaymentAfter: time.Hour},
	}
	f.service = NewPaiementService(f.paiements, f.inscriptions, f.plans, f.candidatures, &fakeEnrollmentNumbering{}, f.activator, f.gateway, NewMetricsService(), cfg, validator.New(), zap.NewNop())
	return f
}

func approvedCandidature() *models.Candidature {
	expiry := time.Now().UTC().Add(24 * time.Hour)
	return &models.Candidature{
		ID:                "cand-1",
		NumeroCandidature: "CAND2024ESTINFO0001",
		TokenInscription:  "valid-token",
		TokenExpiresAt:    &expiry,
		Prenom:            "Awa",
		Nom:               "Traoré",
		Email:             "awa@example.com",
		Telephone:         "+22670000001",
		EtablissementID:   "etab-1",
		FiliereID:         "fil-1",
		NiveauID:          "niv-1",
		AnneeID:           "an-1",
		Statut:            models.CandidatureApprouvee,
	}
}

func initiateRequest(mode models.ModePaiement) InitiateEnrollmentRequest {
	return InitiateEnrollmentRequest{
		NumeroCandidature: "CAND2024ESTINFO0001",
		Token:             "valid-token",
		Mode:              mode,
	}
}

func TestInitiateEnrollmentUniqueMode(t *testing.T) {
	f := newPaiementFixture()
	f.candidatures.candidature = approvedCandidature()
	f.plans.plan = &models.PlanPaiement{ID: "plan-1", MontantTotal: 300000, RemiseUniquePct: 5, PaiementUniqueOK: true}

	session, err := f.service.InitiateEnrollment(context.Background(), initiateRequest(models.ModeUnique), models.ActorContext{})
	require.NoError(t, err)
	assert.Equal(t, int64(285000), session.Montant)
	assert.Equal(t, "https://pay.example.com/x", session.URLPaiement)
	require.Len(t, f.inscriptions.enrolled, 1)
	assert.Equal(t, int64(285000), f.inscriptions.enrolled[0].FraisTotal)
	assert.Equal(t, []string{"pay-1"}, f.paiements.enCours)
}

func TestInitiateEnrollmentEchelonneChargesFirstTranche(t *testing.T) {
	f := newPaiementFixture()
	f.candidatures.candidature = approvedCandidature()
	f.plans.plan = &models.PlanPaiement{ID: "plan-1", MontantTotal: 300000, FraisEchelonnement: 15000, PaiementEchelonneOK: true}
	f.plans.tranches = []models.TranchePaiement{
		{ID: "tr-2", Numero: 2, Montant: 200000},
		{ID: "tr-1", Numero: 1, Montant: 100000, EstPremiere: true},
	}

	session, err := f.service.InitiateEnrollment(context.Background(), initiateRequest(models.ModeEchelonne), models.ActorContext{})
	require.NoError(t, err)
	assert.Equal(t, int64(100000), session.Montant)
	require.Len(t, f.inscriptions.enrolled, 1)
	// the obligation carries the full installment total, not the first tranche
	assert.Equal(t, int64(315000), f.inscriptions.enrolled[0].FraisTotal)
}

func TestInitiateEnrollmentRejectsExpiredToken(t *testing.T) {
	f := newPaiementFixture()
	cand := approvedCandidature()
	past := time.Now().UTC().Add(-time.Hour)
	cand.TokenExpiresAt = &past
	f.candidatures.candidature = cand

	_, err := f.service.InitiateEnrollment(context.Background(), initiateRequest(models.ModeUnique), models.ActorContext{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTokenExpired.Code, appErrors.FromError(err).Code)
}

func TestInitiateEnrollmentRejectsUnapprovedCandidature(t *testing.T) {
	f := newPaiementFixture()
	cand := approvedCandidature()
	cand.Statut = models.CandidatureSoumise
	f.candidatures.candidature = cand

	_, err := f.service.InitiateEnrollment(context.Background(), initiateRequest(models.ModeUnique), models.ActorContext{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStateTransition.Code, appErrors.FromError(err).Code)
}

func TestInitiateEnrollmentRejectsForbiddenMode(t *testing.T) {
	f := newPaiementFixture()
	f.candidatures.candidature = approvedCandidature()
	f.plans.plan = &models.PlanPaiement{ID: "plan-1", MontantTotal: 300000, PaiementUniqueOK: true}

	_, err := f.service.InitiateEnrollment(context.Background(), initiateRequest(models.ModeEchelonne), models.ActorContext{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestInitiateEnrollmentConflictsOnOpenPayment(t *testing.T) {
	f := newPaiementFixture()
	f.candidatures.candidature = approvedCandidature()
	f.inscriptions.inscription = &models.Inscription{ID: "ins-1", Statut: models.InscriptionPending}
	f.inscriptions.obligation = &models.InscriptionPaiement{ID: "oblig-1", Mode: models.ModeUnique, MontantDu: 285000}
	f.paiements.openPayment = true

	_, err := f.service.InitiateEnrollment(context.Background(), initiateRequest(models.ModeUnique), models.ActorContext{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestInitiateEnrollmentConflictsOnActiveEnrollment(t *testing.T) {
	f := newPaiementFixture()
	f.candidatures.candidature = approvedCandidature()
	f.inscriptions.inscription = &models.Inscription{ID: "ins-1", Statut: models.InscriptionActive}

	_, err := f.service.InitiateEnrollment(context.Background(), initiateRequest(models.ModeUnique), models.ActorContext{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestInitiateEnrollmentResumesDeadPayment(t *testing.T) {
	f := newPaiementFixture()
	f.candidatures.candidature = approvedCandidature()
	f.inscriptions.inscription = &models.Inscription{ID: "ins-1", NumeroInscription: "INS2024EST00001", Statut: models.InscriptionPending}
	f.inscriptions.obligation = &models.InscriptionPaiement{ID: "oblig-1", Mode: models.ModeUnique, MontantDu: 285000, MontantPaye: 0}

	session, err := f.service.InitiateEnrollment(context.Background(), initiateRequest(models.ModeUnique), models.ActorContext{})
	require.NoError(t, err)
	assert.Equal(t, int64(285000), session.Montant)
	require.Len(t, f.paiements.created, 1)
	assert.Equal(t, "oblig-1", f.paiements.created[0].InscriptionPaiementID)
	// no second enrollment row
	assert.Empty(t, f.inscriptions.enrolled)
}

func TestGatewayRejectionFailsPayment(t *testing.T) {
	f := newPaiementFixture()
	f.candidatures.candidature = approvedCandidature()
	f.plans.plan = &models.PlanPaiement{ID: "plan-1", MontantTotal: 300000, PaiementUniqueOK: true}
	f.gateway.errs = []error{&gateway.RejectedError{Code: "401", Message: "invalid credentials"}}

	_, err := f.service.InitiateEnrollment(context.Background(), initiateRequest(models.ModeUnique), models.ActorContext{})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrGatewayRejected.Code, appErr.Code)
	assert.Equal(t, []string{"pay-1"}, f.paiements.failed)
	assert.Equal(t, []models.PaiementStatus{models.PaiementEchec}, f.paiements.failedTargets)
}

func TestGatewayUnreachableRetriesOnceThenLeavesPending(t *testing.T) {
	f := newPaiementFixture()
	f.candidatures.candidature = approvedCandidature()
	f.plans.plan = &models.PlanPaiement{ID: "plan-1", MontantTotal: 300000, PaiementUniqueOK: true}
	f.gateway.errs = []error{
		fmt.Errorf("ligdicash unreachable: connection refused"),
		fmt.Errorf("ligdicash unreachable: connection refused"),
	}

	_, err := f.service.InitiateEnrollment(context.Background(), initiateRequest(models.ModeUnique), models.ActorContext{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrGatewayUnreachable.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 2, f.gateway.calls)
	// the payment stays EN_ATTENTE, not failed: a later callback can still settle it
	assert.Empty(t, f.paiements.failed)
	assert.Empty(t, f.paiements.enCours)
}

func TestGatewayUnreachableOnceThenRecovers(t *testing.T) {
	f := newPaiementFixture()
	f.candidatures.candidature = approvedCandidature()
	f.plans.plan = &models.PlanPaiement{ID: "plan-1", MontantTotal: 300000, PaiementUniqueOK: true}
	f.gateway.errs = []error{fmt.Errorf("ligdicash unreachable: timeout")}

	session, err := f.service.InitiateEnrollment(context.Background(), initiateRequest(models.ModeUnique), models.ActorContext{})
	require.NoError(t, err)
	assert.Equal(t, 2, f.gateway.calls)
	assert.NotEmpty(t, session.URLPaiement)
}

func TestConfirmPaymentActivatesWhenAuthorized(t *testing.T) {
	f := newPaiementFixture()
	f.candidatures.candidature = approvedCandidature()
	f.inscriptions.inscription = &models.Inscription{ID: "ins-1", CandidatureID: "cand-1", NumeroInscription: "INS2024EST00001", Statut: models.InscriptionPending}
	f.paiements.confirmResult = &repository.ConfirmResult{
		PaiementID:    "pay-1",
		InscriptionID: "ins-1",
		Mode:          models.ModeUnique,
		Aggregate:     models.AggregateComplet,
		AmountPaid:    285000,
		AmountDue:     285000,
	}
	f.activator.outcome = &ActivationOutcome{Outcome: models.AccountCreatedNew, Username: "awa.traore", Password: "s3cret"}

	cmds, err := f.service.ConfirmPayment(context.Background(), "pay-1", 500, nil, models.SystemActor("1.2.3.4"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.activator.calls)
	require.Len(t, cmds, 3)
	assert.Equal(t, models.CommandNotifyPaymentOK, cmds[0].Type)
	assert.Equal(t, models.CommandNotifyActivated, cmds[1].Type)
	assert.Equal(t, models.CommandNotifyCredentials, cmds[2].Type)
	assert.Equal(t, "awa.traore", cmds[2].Payload["username"])
}

func TestConfirmPaymentPartialDoesNotActivate(t *testing.T) {
	f := newPaiementFixture()
	f.candidatures.candidature = approvedCandidature()
	f.inscriptions.inscription = &models.Inscription{ID: "ins-1", CandidatureID: "cand-1", Statut: models.InscriptionPending}
	f.paiements.confirmResult = &repository.ConfirmResult{
		PaiementID:    "pay-1",
		InscriptionID: "ins-1",
		Mode:          models.ModeUnique,
		Aggregate:     models.AggregatePartiel,
		AmountPaid:    100000,
		AmountDue:     285000,
	}

	cmds, err := f.service.ConfirmPayment(context.Background(), "pay-1", 0, nil, models.SystemActor(""))
	require.NoError(t, err)
	assert.Equal(t, 0, f.activator.calls)
	require.Len(t, cmds, 1)
	assert.Equal(t, models.CommandNotifyPaymentOK, cmds[0].Type)
}

func TestConfirmPaymentEchelonneFirstTrancheActivates(t *testing.T) {
	f := newPaiementFixture()
	f.candidatures.candidature = approvedCandidature()
	f.inscriptions.inscription = &models.Inscription{ID: "ins-1", CandidatureID: "cand-1", Statut: models.InscriptionPending}
	f.paiements.confirmResult = &repository.ConfirmResult{
		PaiementID:       "pay-1",
		InscriptionID:    "ins-1",
		Mode:             models.ModeEchelonne,
		Aggregate:        models.AggregatePartiel,
		FirstTranchePaid: true,
		AmountPaid:       115000,
		AmountDue:        315000,
	}

	cmds, err := f.service.ConfirmPayment(context.Background(), "pay-1", 0, nil, models.SystemActor(""))
	require.NoError(t, err)
	assert.Equal(t, 1, f.activator.calls)
	require.Len(t, cmds, 2)
}

func TestConfirmPaymentIdempotent(t *testing.T) {
	f := newPaiementFixture()
	f.paiements.confirmResult = &repository.ConfirmResult{AlreadyConfirmed: true}

	cmds, err := f.service.ConfirmPayment(context.Background(), "pay-1", 0, nil, models.SystemActor(""))
	require.NoError(t, err)
	assert.Nil(t, cmds)
	assert.Equal(t, 0, f.activator.calls)
}

func TestConfirmPaymentSurvivesActivationFailure(t *testing.T) {
	f := newPaiementFixture()
	f.candidatures.candidature = approvedCandidature()
	f.inscriptions.inscription = &models.Inscription{ID: "ins-1", CandidatureID: "cand-1", Statut: models.InscriptionPending}
	f.paiements.confirmResult = &repository.ConfirmResult{
		PaiementID:    "pay-1",
		InscriptionID: "ins-1",
		Mode:          models.ModeUnique,
		Aggregate:     models.AggregateComplet,
	}
	f.activator.err = appErrors.ErrInternal

	cmds, err := f.service.ConfirmPayment(context.Background(), "pay-1", 0, nil, models.SystemActor(""))
	require.NoError(t, err)
	// the settlement notification still goes out
	require.Len(t, cmds, 1)
	assert.Equal(t, models.CommandNotifyPaymentOK, cmds[0].Type)
}

func TestPayNextTrancheRequiresEchelonneMode(t *testing.T) {
	f := newPaiementFixture()
	f.candidatures.candidature = approvedCandidature()
	f.inscriptions.inscription = &models.Inscription{ID: "ins-1", Statut: models.InscriptionActive}
	f.inscriptions.obligation = &models.InscriptionPaiement{ID: "oblig-1", Mode: models.ModeUnique}

	_, err := f.service.PayNextTranche(context.Background(), "CAND2024ESTINFO0001", "valid-token", models.ActorContext{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestPayNextTrancheAppliesLatePenalty(t *testing.T) {
	f := newPaiementFixture()
	f.candidatures.candidature = approvedCandidature()
	f.inscriptions.inscription = &models.Inscription{ID: "ins-1", Statut: models.InscriptionActive}
	f.inscriptions.obligation = &models.InscriptionPaiement{ID: "oblig-1", Mode: models.ModeEchelonne}
	pastDue := time.Now().UTC().Add(-48 * time.Hour)
	f.plans.nextDue = &models.TranchePaiement{ID: "tr-2", Numero: 2, Nom: "Deuxième versement", Montant: 100000, DateEcheance: &pastDue, PenaliteRetardPct: 10}

	session, err := f.service.PayNextTranche(context.Background(), "CAND2024ESTINFO0001", "valid-token", models.ActorContext{})
	require.NoError(t, err)
	assert.Equal(t, int64(110000), session.Montant)
}

func TestPayNextTrancheAllSettled(t *testing.T) {
	f := newPaiementFixture()
	f.candidatures.candidature = approvedCandidature()
	f.inscriptions.inscription = &models.Inscription{ID: "ins-1", Statut: models.InscriptionActive}
	f.inscriptions.obligation = &models.InscriptionPaiement{ID: "oblig-1", Mode: models.ModeEchelonne}

	_, err := f.service.PayNextTranche(context.Background(), "CAND2024ESTINFO0001", "valid-token", models.ActorContext{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestVerifyEnrollmentStatusFlow(t *testing.T) {
	f := newPaiementFixture()
	f.candidatures.candidature = approvedCandidature()

	// approved, no enrollment yet: candidate must initiate
	info, err := f.service.VerifyEnrollmentStatus(context.Background(), "CAND2024ESTINFO0001", "valid-token")
	require.NoError(t, err)
	assert.False(t, info.PeutAcceder)
	assert.Equal(t, models.ActionInscrire, info.ActionRequise)

	// payment open: wait
	f.inscriptions.inscription = &models.Inscription{ID: "ins-1", Statut: models.InscriptionPending}
	f.inscriptions.obligation = &models.InscriptionPaiement{ID: "oblig-1"}
	f.paiements.latest = &models.Paiement{ID: "pay-1", Statut: models.PaiementEnCours}
	info, err = f.service.VerifyEnrollmentStatus(context.Background(), "CAND2024ESTINFO0001", "valid-token")
	require.NoError(t, err)
	assert.Equal(t, models.ActionAttendre, info.ActionRequise)
	assert.Equal(t, "pay-1", info.PaiementID)

	// active: access granted
	f.inscriptions.inscription.Statut = models.InscriptionActive
	info, err = f.service.VerifyEnrollmentStatus(context.Background(), "CAND2024ESTINFO0001", "valid-token")
	require.NoError(t, err)
	assert.True(t, info.PeutAcceder)
}

func TestVerifyEnrollmentStatusReapsAbandonedEnrollment(t *testing.T) {
	f := newPaiementFixture()
	f.candidatures.candidature = approvedCandidature()
	f.inscriptions.inscription = &models.Inscription{ID: "ins-1", Statut: models.InscriptionPending}
	f.inscriptions.obligation = &models.InscriptionPaiement{ID: "oblig-1"}
	f.paiements.latest = &models.Paiement{ID: "pay-1", Statut: models.PaiementAnnule}
	f.inscriptions.orphan = true

	// every attempt is dead: the status check removes the enrollment and
	// sends the candidate back to initiation
	info, err := f.service.VerifyEnrollmentStatus(context.Background(), "CAND2024ESTINFO0001", "valid-token")
	require.NoError(t, err)
	assert.Equal(t, models.ActionInscrire, info.ActionRequise)
	assert.Empty(t, info.InscriptionID)
	assert.Empty(t, info.PaiementID)
	assert.Equal(t, []string{"ins-1"}, f.inscriptions.reaped)
}

func TestVerifyEnrollmentStatusBadToken(t *testing.T) {
	f := newPaiementFixture()
	f.candidatures.candidature = approvedCandidature()

	info, err := f.service.VerifyEnrollmentStatus(context.Background(), "CAND2024ESTINFO0001", "wrong-token")
	require.NoError(t, err)
	assert.Equal(t, models.ActionErreur, info.ActionRequise)
}

func TestCancelStalePayments(t *testing.T) {
	f := newPaiementFixture()
	f.paiements.stale = []models.Paiement{
		{ID: "pay-1", Statut: models.PaiementEnCours},
		{ID: "pay-2", Statut: models.PaiementEnCours},
	}

	cancelled, err := f.service.CancelStalePayments(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(2), cancelled)
	assert.Equal(t, []models.PaiementStatus{models.PaiementAnnule, models.PaiementAnnule}, f.paiements.failedTargets)
	require.Len(t, f.paiements.failNotes, 2)
	assert.Equal(t, "Paiement expiré automatiquement après 1 heure", f.paiements.failNotes[0])
}

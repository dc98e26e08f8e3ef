package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/gesco-api/internal/models"
	appErrors "github.com/noah-isme/gesco-api/pkg/errors"
)

type fakePlanRepo struct {
	plan            *models.PlanPaiement
	tranches        []models.TranchePaiement
	created         *models.PlanPaiement
	createdTranches []models.TranchePaiement
}

func (f *fakePlanRepo) FindActivePlan(ctx context.Context, filiereID, niveauID, anneeID string) (*models.PlanPaiement, error) {
	if f.plan == nil {
		return nil, sql.ErrNoRows
	}
	return f.plan, nil
}

func (f *fakePlanRepo) FindPlan(ctx context.Context, id string) (*models.PlanPaiement, error) {
	if f.plan == nil {
		return nil, sql.ErrNoRows
	}
	return f.plan, nil
}

func (f *fakePlanRepo) ListTranches(ctx context.Context, planID string) ([]models.TranchePaiement, error) {
	return f.tranches, nil
}

func (f *fakePlanRepo) NextDueTranche(ctx context.Context, inscriptionPaiementID string) (*models.TranchePaiement, error) {
	return nil, sql.ErrNoRows
}

func (f *fakePlanRepo) CreatePlan(ctx context.Context, plan *models.PlanPaiement, tranches []models.TranchePaiement) error {
	f.created = plan
	f.createdTranches = tranches
	return nil
}

func validPlanRequest() CreatePlanRequest {
	return CreatePlanRequest{
		FiliereID:           "fil-1",
		AnneeID:             "an-1",
		MontantTotal:        300000,
		RemiseUniquePct:     5,
		FraisEchelonnement:  15000,
		PaiementUniqueOK:    true,
		PaiementEchelonneOK: true,
		Tranches: []CreateTrancheRequest{
			{Numero: 1, Nom: "Inscription", Montant: 100000, EstPremiere: true},
			{Numero: 2, Nom: "Deuxième versement", Montant: 100000},
			{Numero: 3, Nom: "Solde", Montant: 100000},
		},
	}
}

func TestPlanCreate(t *testing.T) {
	repo := &fakePlanRepo{}
	svc := NewPlanService(repo, validator.New(), zap.NewNop())

	plan, err := svc.Create(context.Background(), validPlanRequest())
	require.NoError(t, err)
	assert.True(t, plan.Actif)
	require.NotNil(t, repo.created)
	assert.Len(t, repo.createdTranches, 3)
}

func TestPlanCreateRejectsTrancheSumMismatch(t *testing.T) {
	svc := NewPlanService(&fakePlanRepo{}, validator.New(), zap.NewNop())

	req := validPlanRequest()
	req.Tranches[2].Montant = 90000 // sum 290000, total 300000
	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConfig.Code, appErrors.FromError(err).Code)
}

func TestPlanCreateTranchesCoverTotalNotSurcharge(t *testing.T) {
	repo := &fakePlanRepo{}
	svc := NewPlanService(repo, validator.New(), zap.NewNop())

	// the tranches cover the base total; the surcharge only shows up in the
	// installment amount due
	plan, err := svc.Create(context.Background(), CreatePlanRequest{
		FiliereID:           "fil-1",
		AnneeID:             "an-1",
		MontantTotal:        500000,
		RemiseUniquePct:     10,
		FraisEchelonnement:  10000,
		PaiementUniqueOK:    true,
		PaiementEchelonneOK: true,
		Tranches: []CreateTrancheRequest{
			{Numero: 1, Nom: "Inscription", Montant: 200000, EstPremiere: true},
			{Numero: 2, Nom: "Deuxième versement", Montant: 150000},
			{Numero: 3, Nom: "Solde", Montant: 150000},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(510000), plan.MontantDu(models.ModeEchelonne))
	assert.Len(t, repo.createdTranches, 3)
}

func TestPlanCreateRejectsNumeroGap(t *testing.T) {
	svc := NewPlanService(&fakePlanRepo{}, validator.New(), zap.NewNop())

	req := validPlanRequest()
	req.Tranches[1].Numero = 4 // 1, 4, 3 leaves 2 uncovered
	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConfig.Code, appErrors.FromError(err).Code)
}

func TestPlanCreateRejectsDuplicateNumero(t *testing.T) {
	svc := NewPlanService(&fakePlanRepo{}, validator.New(), zap.NewNop())

	req := validPlanRequest()
	req.Tranches[1].Numero = 1
	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConfig.Code, appErrors.FromError(err).Code)
}

func TestPlanCreateRejectsTwoFirstTranches(t *testing.T) {
	svc := NewPlanService(&fakePlanRepo{}, validator.New(), zap.NewNop())

	req := validPlanRequest()
	req.Tranches[1].EstPremiere = true
	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConfig.Code, appErrors.FromError(err).Code)
}

func TestPlanCreateRequiresAtLeastOneMode(t *testing.T) {
	svc := NewPlanService(&fakePlanRepo{}, validator.New(), zap.NewNop())

	req := validPlanRequest()
	req.PaiementUniqueOK = false
	req.PaiementEchelonneOK = false
	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConfig.Code, appErrors.FromError(err).Code)
}

func TestPlanCreateEchelonneRequiresTranches(t *testing.T) {
	svc := NewPlanService(&fakePlanRepo{}, validator.New(), zap.NewNop())

	req := validPlanRequest()
	req.Tranches = nil
	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConfig.Code, appErrors.FromError(err).Code)
}

func TestResolveOfferComputesBothModes(t *testing.T) {
	repo := &fakePlanRepo{
		plan: &models.PlanPaiement{
			ID: "plan-1", MontantTotal: 300000, RemiseUniquePct: 5, FraisEchelonnement: 15000,
			PaiementUniqueOK: true, PaiementEchelonneOK: true, Actif: true,
		},
		tranches: []models.TranchePaiement{{Numero: 1, Montant: 300000, EstPremiere: true}},
	}
	svc := NewPlanService(repo, validator.New(), zap.NewNop())

	offer, err := svc.ResolveOffer(context.Background(), models.Formation{EtablissementID: "e", FiliereID: "f", NiveauID: "n", AnneeID: "a"})
	require.NoError(t, err)
	require.NotNil(t, offer.MontantUnique)
	assert.Equal(t, int64(285000), *offer.MontantUnique)
	require.NotNil(t, offer.MontantEchelonne)
	assert.Equal(t, int64(315000), *offer.MontantEchelonne)
	assert.Len(t, offer.Tranches, 1)
}

func TestResolveOfferNoActivePlan(t *testing.T) {
	svc := NewPlanService(&fakePlanRepo{}, validator.New(), zap.NewNop())

	_, err := svc.ResolveOffer(context.Background(), models.Formation{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

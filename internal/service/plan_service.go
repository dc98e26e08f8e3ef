package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/gesco-api/internal/models"
	appErrors "github.com/noah-isme/gesco-api/pkg/errors"
)

type planRepository interface {
	FindActivePlan(ctx context.Context, filiereID, niveauID, anneeID string) (*models.PlanPaiement, error)
	FindPlan(ctx context.Context, id string) (*models.PlanPaiement, error)
	ListTranches(ctx context.Context, planID string) ([]models.TranchePaiement, error)
	NextDueTranche(ctx context.Context, inscriptionPaiementID string) (*models.TranchePaiement, error)
	CreatePlan(ctx context.Context, plan *models.PlanPaiement, tranches []models.TranchePaiement) error
}

// CreatePlanRequest declares a payment plan with its installments.
type CreatePlanRequest struct {
	FiliereID           string                 `json:"filiere_id" validate:"required"`
	NiveauID            *string                `json:"niveau_id"`
	AnneeID             string                 `json:"annee_id" validate:"required"`
	MontantTotal        int64                  `json:"montant_total" validate:"required,gt=0"`
	RemiseUniquePct     int                    `json:"remise_unique_pct" validate:"gte=0,lte=100"`
	FraisEchelonnement  int64                  `json:"frais_echelonnement" validate:"gte=0"`
	PaiementUniqueOK    bool                   `json:"paiement_unique_ok"`
	PaiementEchelonneOK bool                   `json:"paiement_echelonne_ok"`
	Tranches            []CreateTrancheRequest `json:"tranches" validate:"dive"`
}

// CreateTrancheRequest declares one installment of a plan.
type CreateTrancheRequest struct {
	Numero            int        `json:"numero" validate:"required,gt=0"`
	Nom               string     `json:"nom" validate:"required"`
	Montant           int64      `json:"montant" validate:"required,gt=0"`
	DateEcheance      *time.Time `json:"date_echeance"`
	EstPremiere       bool       `json:"est_premiere"`
	PenaliteRetardPct int        `json:"penalite_retard_pct" validate:"gte=0,lte=100"`
}

// PlanOffer is what a candidate sees before choosing a mode.
type PlanOffer struct {
	Plan             *models.PlanPaiement     `json:"plan"`
	Tranches         []models.TranchePaiement `json:"tranches,omitempty"`
	MontantUnique    *int64                   `json:"montant_unique,omitempty"`
	MontantEchelonne *int64                   `json:"montant_echelonne,omitempty"`
}

// PlanService resolves and manages payment plans.
type PlanService struct {
	repo      planRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPlanService constructs PlanService.
func NewPlanService(repo planRepository, validate *validator.Validate, logger *zap.Logger) *PlanService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlanService{repo: repo, validator: validate, logger: logger}
}

// ResolveOffer finds the active plan for a formation and computes the amount
// due under each permitted mode.
func (s *PlanService) ResolveOffer(ctx context.Context, f models.Formation) (*PlanOffer, error) {
	plan, err := s.repo.FindActivePlan(ctx, f.FiliereID, f.NiveauID, f.AnneeID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "aucun plan de paiement actif pour cette formation")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de charger le plan de paiement")
	}
	offer := &PlanOffer{Plan: plan}
	if plan.PaiementUniqueOK {
		due := plan.MontantDu(models.ModeUnique)
		offer.MontantUnique = &due
	}
	if plan.PaiementEchelonneOK {
		due := plan.MontantDu(models.ModeEchelonne)
		offer.MontantEchelonne = &due
		tranches, err := s.repo.ListTranches(ctx, plan.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de charger les tranches")
		}
		offer.Tranches = tranches
	}
	return offer, nil
}

// Tranches lists a plan's installments.
func (s *PlanService) Tranches(ctx context.Context, planID string) ([]models.TranchePaiement, error) {
	tranches, err := s.repo.ListTranches(ctx, planID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de charger les tranches")
	}
	return tranches, nil
}

// Create validates and persists a payment plan. The installment grid must be
// dense (numéros 1..N), sum to the plan's total amount, and designate at most
// one gating first tranche. The installment surcharge is priced into the
// amount due at enrollment, never into the tranche grid itself.
func (s *PlanService) Create(ctx context.Context, req CreatePlanRequest) (*models.PlanPaiement, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "plan de paiement invalide")
	}
	if !req.PaiementUniqueOK && !req.PaiementEchelonneOK {
		return nil, appErrors.Clone(appErrors.ErrConfig, "le plan doit autoriser au moins un mode de paiement")
	}

	plan := &models.PlanPaiement{
		FiliereID:           req.FiliereID,
		NiveauID:            req.NiveauID,
		AnneeID:             req.AnneeID,
		MontantTotal:        req.MontantTotal,
		RemiseUniquePct:     req.RemiseUniquePct,
		FraisEchelonnement:  req.FraisEchelonnement,
		PaiementUniqueOK:    req.PaiementUniqueOK,
		PaiementEchelonneOK: req.PaiementEchelonneOK,
		Actif:               true,
	}

	var tranches []models.TranchePaiement
	if req.PaiementEchelonneOK {
		if len(req.Tranches) == 0 {
			return nil, appErrors.Clone(appErrors.ErrConfig, "le mode échelonné exige au moins une tranche")
		}
		seen := make(map[int]bool, len(req.Tranches))
		firstCount := 0
		var sum int64
		for _, t := range req.Tranches {
			if seen[t.Numero] {
				return nil, appErrors.Clone(appErrors.ErrConfig, fmt.Sprintf("numéro de tranche %d en double", t.Numero))
			}
			seen[t.Numero] = true
			if t.EstPremiere {
				firstCount++
			}
			sum += t.Montant
			tranches = append(tranches, models.TranchePaiement{
				Numero:            t.Numero,
				Nom:               t.Nom,
				Montant:           t.Montant,
				DateEcheance:      t.DateEcheance,
				EstPremiere:       t.EstPremiere,
				PenaliteRetardPct: t.PenaliteRetardPct,
			})
		}
		for n := 1; n <= len(req.Tranches); n++ {
			if !seen[n] {
				return nil, appErrors.Clone(appErrors.ErrConfig, fmt.Sprintf("les numéros de tranches doivent couvrir 1..%d sans trou", len(req.Tranches)))
			}
		}
		if firstCount > 1 {
			return nil, appErrors.Clone(appErrors.ErrConfig, "une seule tranche peut être marquée première")
		}
		if sum != plan.MontantTotal {
			return nil, appErrors.Clone(appErrors.ErrConfig, fmt.Sprintf("la somme des tranches (%d) diffère du montant total du plan (%d)", sum, plan.MontantTotal))
		}
	}

	if err := s.repo.CreatePlan(ctx, plan, tranches); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de créer le plan de paiement")
	}
	return plan, nil
}

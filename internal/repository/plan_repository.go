package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/gesco-api/internal/models"
)

const trancheColumns = `id, plan_id, numero, nom, montant, date_echeance, est_premiere, penalite_retard_pct`

// PlanRepository handles payment plans and their installments.
type PlanRepository struct {
	db *sqlx.DB
}

// NewPlanRepository constructs the repository.
func NewPlanRepository(db *sqlx.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// FindActivePlan selects the unique active plan for a formation. Plans bound
// to the exact niveau win over filiere-wide (NULL niveau) plans.
func (r *PlanRepository) FindActivePlan(ctx context.Context, filiereID, niveauID, anneeID string) (*models.PlanPaiement, error) {
	const query = `SELECT id, filiere_id, niveau_id, annee_id, montant_total, remise_unique_pct, frais_echelonnement, paiement_unique_ok, paiement_echelonne_ok, actif
        FROM plans_paiement
        WHERE filiere_id = $1 AND annee_id = $3 AND actif = TRUE AND (niveau_id = $2 OR niveau_id IS NULL)
        ORDER BY niveau_id NULLS LAST
        LIMIT 1`
	var plan models.PlanPaiement
	if err := r.db.GetContext(ctx, &plan, query, filiereID, niveauID, anneeID); err != nil {
		return nil, err
	}
	return &plan, nil
}

// FindPlan returns a plan by identifier.
func (r *PlanRepository) FindPlan(ctx context.Context, id string) (*models.PlanPaiement, error) {
	const query = `SELECT id, filiere_id, niveau_id, annee_id, montant_total, remise_unique_pct, frais_echelonnement, paiement_unique_ok, paiement_echelonne_ok, actif
        FROM plans_paiement WHERE id = $1`
	var plan models.PlanPaiement
	if err := r.db.GetContext(ctx, &plan, query, id); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ListTranches returns the installments of a plan ordered by numero.
func (r *PlanRepository) ListTranches(ctx context.Context, planID string) ([]models.TranchePaiement, error) {
	query := `SELECT ` + trancheColumns + ` FROM tranches_paiement WHERE plan_id = $1 ORDER BY numero`
	var tranches []models.TranchePaiement
	if err := r.db.SelectContext(ctx, &tranches, query, planID); err != nil {
		return nil, fmt.Errorf("list tranches: %w", err)
	}
	return tranches, nil
}

// FindTranche returns an installment by identifier.
func (r *PlanRepository) FindTranche(ctx context.Context, id string) (*models.TranchePaiement, error) {
	query := `SELECT ` + trancheColumns + ` FROM tranches_paiement WHERE id = $1`
	var tranche models.TranchePaiement
	if err := r.db.GetContext(ctx, &tranche, query, id); err != nil {
		return nil, err
	}
	return &tranche, nil
}

// NextDueTranche returns the lowest-numero tranche of the obligation's plan
// with no confirmed payment, or sql.ErrNoRows when all are settled.
func (r *PlanRepository) NextDueTranche(ctx context.Context, inscriptionPaiementID string) (*models.TranchePaiement, error) {
	const query = `SELECT t.id, t.plan_id, t.numero, t.nom, t.montant, t.date_echeance, t.est_premiere, t.penalite_retard_pct
        FROM tranches_paiement t
        JOIN inscriptions_paiement ip ON ip.plan_id = t.plan_id
        WHERE ip.id = $1
          AND NOT EXISTS (
            SELECT 1 FROM paiements p
            WHERE p.tranche_id = t.id AND p.inscription_paiement_id = ip.id AND p.statut = $2
          )
        ORDER BY t.numero
        LIMIT 1`
	var tranche models.TranchePaiement
	if err := r.db.GetContext(ctx, &tranche, query, inscriptionPaiementID, models.PaiementConfirme); err != nil {
		return nil, err
	}
	return &tranche, nil
}

// CreatePlan inserts a plan with its tranches in one transaction,
// deactivating any previous active plan for the same formation so the
// one-active-plan rule holds.
func (r *PlanRepository) CreatePlan(ctx context.Context, plan *models.PlanPaiement, tranches []models.TranchePaiement) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create plan: %w", err)
	}

	if plan.Actif {
		if _, err := tx.ExecContext(ctx,
			`UPDATE plans_paiement SET actif = FALSE WHERE filiere_id = $1 AND annee_id = $2 AND (niveau_id = $3 OR ($3 IS NULL AND niveau_id IS NULL)) AND actif = TRUE`,
			plan.FiliereID, plan.AnneeID, plan.NiveauID); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("deactivate previous plan: %w", err)
		}
	}

	const planQuery = `INSERT INTO plans_paiement (id, filiere_id, niveau_id, annee_id, montant_total, remise_unique_pct, frais_echelonnement, paiement_unique_ok, paiement_echelonne_ok, actif)
        VALUES (:id, :filiere_id, :niveau_id, :annee_id, :montant_total, :remise_unique_pct, :frais_echelonnement, :paiement_unique_ok, :paiement_echelonne_ok, :actif)`
	if _, err := tx.NamedExecContext(ctx, planQuery, plan); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("create plan: %w", err)
	}

	const trancheQuery = `INSERT INTO tranches_paiement (id, plan_id, numero, nom, montant, date_echeance, est_premiere, penalite_retard_pct)
        VALUES (:id, :plan_id, :numero, :nom, :montant, :date_echeance, :est_premiere, :penalite_retard_pct)`
	for i := range tranches {
		tranches[i].PlanID = plan.ID
		if tranches[i].ID == "" {
			tranches[i].ID = uuid.NewString()
		}
		if _, err := tx.NamedExecContext(ctx, trancheQuery, tranches[i]); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("create tranche %d: %w", tranches[i].Numero, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create plan: %w", err)
	}
	return nil
}

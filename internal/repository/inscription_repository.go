package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/gesco-api/internal/models"
)

const inscriptionColumns = `id, candidature_id, apprenant_id, numero_inscription, statut, classe_id, date_debut, date_fin_prevue, date_fin_effective, frais_total, montant_paye, solde, created_at, updated_at`

const inscriptionPaiementColumns = `id, inscription_id, plan_id, mode, montant_du, montant_paye, statut, created_at, updated_at`

// ActivationResult reports what the activation transaction did.
type ActivationResult struct {
	UserID        string
	Outcome       models.AccountOutcome
	AlreadyActive bool
}

// InscriptionRepository handles enrollments, their payment obligations, and
// the account-linking activation transaction.
type InscriptionRepository struct {
	db *sqlx.DB
}

// NewInscriptionRepository constructs the repository.
func NewInscriptionRepository(db *sqlx.DB) *InscriptionRepository {
	return &InscriptionRepository{db: db}
}

// FindByID returns an enrollment by identifier.
func (r *InscriptionRepository) FindByID(ctx context.Context, id string) (*models.Inscription, error) {
	query := `SELECT ` + inscriptionColumns + ` FROM inscriptions WHERE id = $1`
	var ins models.Inscription
	if err := r.db.GetContext(ctx, &ins, query, id); err != nil {
		return nil, err
	}
	return &ins, nil
}

// FindByCandidature returns the enrollment created from an application, if any.
func (r *InscriptionRepository) FindByCandidature(ctx context.Context, candidatureID string) (*models.Inscription, error) {
	query := `SELECT ` + inscriptionColumns + ` FROM inscriptions WHERE candidature_id = $1`
	var ins models.Inscription
	if err := r.db.GetContext(ctx, &ins, query, candidatureID); err != nil {
		return nil, err
	}
	return &ins, nil
}

// CountByEtablissementYear counts enrollments whose candidature targets the
// establishment and whose start year matches. Feeds the number allocator.
func (r *InscriptionRepository) CountByEtablissementYear(ctx context.Context, etablissementID string, year int) (int, error) {
	const query = `SELECT COUNT(*) FROM inscriptions i
        JOIN candidatures c ON c.id = i.candidature_id
        WHERE c.etablissement_id = $1 AND EXTRACT(YEAR FROM i.created_at) = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, etablissementID, year); err != nil {
		return 0, fmt.Errorf("count inscriptions by establishment and year: %w", err)
	}
	return count, nil
}

// FindPaiementInfo returns the payment obligation of an enrollment.
func (r *InscriptionRepository) FindPaiementInfo(ctx context.Context, inscriptionID string) (*models.InscriptionPaiement, error) {
	query := `SELECT ` + inscriptionPaiementColumns + ` FROM inscriptions_paiement WHERE inscription_id = $1`
	var ip models.InscriptionPaiement
	if err := r.db.GetContext(ctx, &ip, query, inscriptionID); err != nil {
		return nil, err
	}
	return &ip, nil
}

// FindObligation returns a payment obligation by its own identifier.
func (r *InscriptionRepository) FindObligation(ctx context.Context, id string) (*models.InscriptionPaiement, error) {
	query := `SELECT ` + inscriptionPaiementColumns + ` FROM inscriptions_paiement WHERE id = $1`
	var ip models.InscriptionPaiement
	if err := r.db.GetContext(ctx, &ip, query, id); err != nil {
		return nil, err
	}
	return &ip, nil
}

// CreateEnrollment creates the enrollment, its payment obligation, and the
// first payment attempt atomically. All three exist or none does.
func (r *InscriptionRepository) CreateEnrollment(ctx context.Context, ins *models.Inscription, obligation *models.InscriptionPaiement, paiement *models.Paiement, actor models.ActorContext) error {
	now := time.Now().UTC()
	if ins.ID == "" {
		ins.ID = uuid.NewString()
	}
	ins.Statut = models.InscriptionPending
	ins.CreatedAt = now
	ins.UpdatedAt = now

	if obligation.ID == "" {
		obligation.ID = uuid.NewString()
	}
	obligation.InscriptionID = ins.ID
	obligation.Statut = models.AggregateEnAttente
	obligation.CreatedAt = now
	obligation.UpdatedAt = now

	if paiement.ID == "" {
		paiement.ID = uuid.NewString()
	}
	paiement.InscriptionPaiementID = obligation.ID
	paiement.Statut = models.PaiementEnAttente
	paiement.DateCreation = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create enrollment: %w", err)
	}

	const insQuery = `INSERT INTO inscriptions (id, candidature_id, apprenant_id, numero_inscription, statut, classe_id, date_debut, date_fin_prevue, date_fin_effective, frais_total, montant_paye, solde, created_at, updated_at)
        VALUES (:id, :candidature_id, :apprenant_id, :numero_inscription, :statut, :classe_id, :date_debut, :date_fin_prevue, :date_fin_effective, :frais_total, :montant_paye, :solde, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insQuery, ins); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("create inscription: %w", err)
	}

	const obligationQuery = `INSERT INTO inscriptions_paiement (id, inscription_id, plan_id, mode, montant_du, montant_paye, statut, created_at, updated_at)
        VALUES (:id, :inscription_id, :plan_id, :mode, :montant_du, :montant_paye, :statut, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, obligationQuery, obligation); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("create payment obligation: %w", err)
	}

	const paiementQuery = `INSERT INTO paiements (id, inscription_paiement_id, tranche_id, numero_transaction, reference_externe, montant, frais_transaction, montant_net, methode, statut, date_creation, date_confirmation, donnees_callback, notes_admin)
        VALUES (:id, :inscription_paiement_id, :tranche_id, :numero_transaction, :reference_externe, :montant, :frais_transaction, :montant_net, :methode, :statut, :date_creation, :date_confirmation, :donnees_callback, :notes_admin)`
	if _, err := tx.NamedExecContext(ctx, paiementQuery, paiement); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("create paiement: %w", err)
	}

	if err := insertHistorique(ctx, tx, paiement.ID, models.HistoriqueCreation, nil, models.PaiementEnAttente, actor, "Paiement initié pour l'inscription "+ins.NumeroInscription, nil); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create enrollment: %w", err)
	}
	return nil
}

// Activate links an account to a PENDING enrollment and flips it ACTIVE. The
// enrollment row is locked for the whole decision so concurrent confirmations
// produce exactly one account. A unique violation on the candidate insert
// propagates so the caller can retry with fresh credentials.
func (r *InscriptionRepository) Activate(ctx context.Context, inscriptionID, email string, candidate *models.User) (*ActivationResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin activation: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var ins models.Inscription
	if err := tx.GetContext(ctx, &ins,
		`SELECT `+inscriptionColumns+` FROM inscriptions WHERE id = $1 FOR UPDATE`, inscriptionID); err != nil {
		return nil, fmt.Errorf("lock inscription: %w", err)
	}

	if ins.Statut != models.InscriptionPending {
		// Already processed by a concurrent confirmation. Report the
		// linked account rather than failing.
		res := &ActivationResult{AlreadyActive: true, Outcome: models.AccountReusedExisting}
		if ins.ApprenantID != nil {
			res.UserID = *ins.ApprenantID
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit activation: %w", err)
		}
		return res, nil
	}

	var userID string
	outcome := models.AccountReusedExisting
	err = tx.GetContext(ctx, &userID,
		`SELECT id FROM utilisateurs WHERE email = $1`, email)
	switch {
	case err == sql.ErrNoRows:
		outcome = models.AccountCreatedNew
		if candidate.ID == "" {
			candidate.ID = uuid.NewString()
		}
		now := time.Now().UTC()
		candidate.CreatedAt = now
		candidate.UpdatedAt = now
		const userQuery = `INSERT INTO utilisateurs (id, matricule, username, email, password_hash, prenom, nom, role, etablissement_id, active, created_at, updated_at)
            VALUES (:id, :matricule, :username, :email, :password_hash, :prenom, :nom, :role, :etablissement_id, :active, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, userQuery, candidate); err != nil {
			return nil, fmt.Errorf("create learner account: %w", err)
		}
		userID = candidate.ID
	case err != nil:
		return nil, fmt.Errorf("find account by email: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE inscriptions SET apprenant_id = $2, statut = $3, date_debut = COALESCE(date_debut, NOW()), updated_at = NOW() WHERE id = $1 AND statut = $4`,
		inscriptionID, userID, models.InscriptionActive, models.InscriptionPending)
	if err != nil {
		return nil, fmt.Errorf("activate inscription: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, ErrStateConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit activation: %w", err)
	}
	return &ActivationResult{UserID: userID, Outcome: outcome}, nil
}

// DeleteOrphanPendingBefore removes PENDING enrollments created before the
// cutoff whose payments are all dead (no pending, open, or confirmed attempt).
// Dependent rows are removed explicitly; there is no FK cascade.
func (r *InscriptionRepository) DeleteOrphanPendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin orphan cleanup: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var ids []string
	const selectQuery = `SELECT i.id FROM inscriptions i
        WHERE i.statut = $1 AND i.created_at < $2
          AND NOT EXISTS (
            SELECT 1 FROM paiements p
            JOIN inscriptions_paiement ip ON p.inscription_paiement_id = ip.id
            WHERE ip.inscription_id = i.id AND p.statut IN ($3, $4, $5)
          )`
	if err := tx.SelectContext(ctx, &ids, selectQuery, models.InscriptionPending, cutoff,
		models.PaiementEnAttente, models.PaiementEnCours, models.PaiementConfirme); err != nil {
		return 0, fmt.Errorf("select orphan inscriptions: %w", err)
	}
	if len(ids) == 0 {
		return 0, tx.Commit()
	}

	if err := deleteInscriptionsCascade(ctx, tx, ids); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit orphan cleanup: %w", err)
	}
	return int64(len(ids)), nil
}

// DeleteIfOrphanPending removes one PENDING enrollment when its payments are
// all dead, so the candidate can re-initiate from scratch. Returns whether the
// row was removed. Used by the status-check path; the scheduler sweeps the
// rest.
func (r *InscriptionRepository) DeleteIfOrphanPending(ctx context.Context, inscriptionID string) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin orphan cleanup: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `SELECT EXISTS (
        SELECT 1 FROM inscriptions i
        WHERE i.id = $1 AND i.statut = $2
          AND NOT EXISTS (
            SELECT 1 FROM paiements p
            JOIN inscriptions_paiement ip ON p.inscription_paiement_id = ip.id
            WHERE ip.inscription_id = i.id AND p.statut IN ($3, $4, $5)
          ))`
	var orphan bool
	if err := tx.GetContext(ctx, &orphan, query, inscriptionID, models.InscriptionPending,
		models.PaiementEnAttente, models.PaiementEnCours, models.PaiementConfirme); err != nil {
		return false, fmt.Errorf("check orphan inscription: %w", err)
	}
	if !orphan {
		return false, tx.Commit()
	}

	if err := deleteInscriptionsCascade(ctx, tx, []string{inscriptionID}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit orphan cleanup: %w", err)
	}
	return true, nil
}

// deleteInscriptionsCascade removes enrollments and their dependent rows
// inside the caller's transaction. There is no FK cascade.
func deleteInscriptionsCascade(ctx context.Context, tx *sqlx.Tx, ids []string) error {
	for _, stmt := range []string{
		`DELETE FROM historique_paiements WHERE paiement_id IN (
            SELECT p.id FROM paiements p
            JOIN inscriptions_paiement ip ON p.inscription_paiement_id = ip.id
            WHERE ip.inscription_id = ANY($1))`,
		`DELETE FROM paiements WHERE inscription_paiement_id IN (
            SELECT id FROM inscriptions_paiement WHERE inscription_id = ANY($1))`,
		`DELETE FROM inscriptions_paiement WHERE inscription_id = ANY($1)`,
		`DELETE FROM inscriptions WHERE id = ANY($1)`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, pq.Array(ids)); err != nil {
			return fmt.Errorf("orphan cleanup: %w", err)
		}
	}
	return nil
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/gesco-api/internal/models"
)

const paiementColumns = `id, inscription_paiement_id, tranche_id, numero_transaction, reference_externe, montant, frais_transaction, montant_net, methode, statut, date_creation, date_confirmation, donnees_callback, notes_admin`

// ConfirmResult carries what the confirmation transaction computed so the
// service can decide on activation and notifications without re-reading.
type ConfirmResult struct {
	AlreadyConfirmed      bool
	PaiementID            string
	InscriptionID         string
	InscriptionPaiementID string
	Mode                  models.ModePaiement
	Aggregate             models.PaymentAggregateStatus
	FirstTranchePaid      bool
	AmountPaid            int64
	AmountDue             int64
}

// PaiementRepository handles payment attempts and their audit trail.
type PaiementRepository struct {
	db *sqlx.DB
}

// NewPaiementRepository constructs the repository.
func NewPaiementRepository(db *sqlx.DB) *PaiementRepository {
	return &PaiementRepository{db: db}
}

// FindByID returns a payment by identifier.
func (r *PaiementRepository) FindByID(ctx context.Context, id string) (*models.Paiement, error) {
	query := `SELECT ` + paiementColumns + ` FROM paiements WHERE id = $1`
	var p models.Paiement
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindByNumero returns a payment by its transaction number.
func (r *PaiementRepository) FindByNumero(ctx context.Context, numero string) (*models.Paiement, error) {
	query := `SELECT ` + paiementColumns + ` FROM paiements WHERE numero_transaction = $1`
	var p models.Paiement
	if err := r.db.GetContext(ctx, &p, query, numero); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindByExternalRef returns a payment by the gateway's invoice token.
func (r *PaiementRepository) FindByExternalRef(ctx context.Context, ref string) (*models.Paiement, error) {
	query := `SELECT ` + paiementColumns + ` FROM paiements WHERE reference_externe = $1`
	var p models.Paiement
	if err := r.db.GetContext(ctx, &p, query, ref); err != nil {
		return nil, err
	}
	return &p, nil
}

// HasOpenPayment reports whether the obligation has a payment still waiting
// on the candidate or the gateway.
func (r *PaiementRepository) HasOpenPayment(ctx context.Context, inscriptionPaiementID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM paiements WHERE inscription_paiement_id = $1 AND statut IN ($2, $3))`
	var open bool
	if err := r.db.GetContext(ctx, &open, query, inscriptionPaiementID, models.PaiementEnAttente, models.PaiementEnCours); err != nil {
		return false, fmt.Errorf("check open payment: %w", err)
	}
	return open, nil
}

// LatestForObligation returns the most recent payment attempt of an
// obligation, or sql.ErrNoRows when none exists.
func (r *PaiementRepository) LatestForObligation(ctx context.Context, inscriptionPaiementID string) (*models.Paiement, error) {
	query := `SELECT ` + paiementColumns + ` FROM paiements WHERE inscription_paiement_id = $1 ORDER BY date_creation DESC LIMIT 1`
	var p models.Paiement
	if err := r.db.GetContext(ctx, &p, query, inscriptionPaiementID); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListHistorique returns the audit trail of a payment, oldest first.
func (r *PaiementRepository) ListHistorique(ctx context.Context, paiementID string) ([]models.HistoriquePaiement, error) {
	const query = `SELECT id, paiement_id, action, ancien_statut, nouveau_statut, acteur_id, adresse_ip, details, metadata, created_at
        FROM historique_paiements WHERE paiement_id = $1 ORDER BY created_at`
	var entries []models.HistoriquePaiement
	if err := r.db.SelectContext(ctx, &entries, query, paiementID); err != nil {
		return nil, fmt.Errorf("list payment history: %w", err)
	}
	return entries, nil
}

// Create inserts a payment attempt with its CREATION trail entry.
func (r *PaiementRepository) Create(ctx context.Context, p *models.Paiement, actor models.ActorContext, details string) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.DateCreation.IsZero() {
		p.DateCreation = time.Now().UTC()
	}
	p.Statut = models.PaiementEnAttente

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create paiement: %w", err)
	}
	const query = `INSERT INTO paiements (id, inscription_paiement_id, tranche_id, numero_transaction, reference_externe, montant, frais_transaction, montant_net, methode, statut, date_creation, date_confirmation, donnees_callback, notes_admin)
        VALUES (:id, :inscription_paiement_id, :tranche_id, :numero_transaction, :reference_externe, :montant, :frais_transaction, :montant_net, :methode, :statut, :date_creation, :date_confirmation, :donnees_callback, :notes_admin)`
	if _, err := tx.NamedExecContext(ctx, query, p); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("create paiement: %w", err)
	}
	if err := insertHistorique(ctx, tx, p.ID, models.HistoriqueCreation, nil, models.PaiementEnAttente, actor, details, nil); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create paiement: %w", err)
	}
	return nil
}

// MarkEnCours records that a hosted checkout session was opened for the
// payment. Only an EN_ATTENTE payment can move there.
func (r *PaiementRepository) MarkEnCours(ctx context.Context, paiementID, externalRef string, raw json.RawMessage, actor models.ActorContext) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark en cours: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var p models.Paiement
	if err := tx.GetContext(ctx, &p, `SELECT `+paiementColumns+` FROM paiements WHERE id = $1 FOR UPDATE`, paiementID); err != nil {
		return fmt.Errorf("lock paiement: %w", err)
	}
	if p.Statut != models.PaiementEnAttente {
		return ErrStateConflict
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE paiements SET statut = $2, reference_externe = $3, donnees_callback = $4 WHERE id = $1`,
		paiementID, models.PaiementEnCours, externalRef, raw); err != nil {
		return fmt.Errorf("mark paiement en cours: %w", err)
	}

	prev := p.Statut
	if err := insertHistorique(ctx, tx, paiementID, models.HistoriqueRedirection, &prev, models.PaiementEnCours, actor, "Redirection vers la page de paiement LigdiCash", raw); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark en cours: %w", err)
	}
	return nil
}

// Confirm settles a payment and recomputes the enrollment's aggregate balance
// in one transaction. A second confirmation of the same payment is a no-op
// reported through AlreadyConfirmed, never an error; confirming from a
// terminal failure state returns ErrStateConflict.
func (r *PaiementRepository) Confirm(ctx context.Context, paiementID string, fees int64, callback json.RawMessage, actor models.ActorContext) (*ConfirmResult, error) {
	now := time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin confirm: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var p models.Paiement
	if err := tx.GetContext(ctx, &p, `SELECT `+paiementColumns+` FROM paiements WHERE id = $1 FOR UPDATE`, paiementID); err != nil {
		return nil, fmt.Errorf("lock paiement: %w", err)
	}

	res := &ConfirmResult{PaiementID: p.ID, InscriptionPaiementID: p.InscriptionPaiementID}

	if p.Statut == models.PaiementConfirme {
		res.AlreadyConfirmed = true
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit confirm: %w", err)
		}
		return res, nil
	}
	if !p.Statut.CanTransition(models.PaiementConfirme) {
		return nil, ErrStateConflict
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE paiements SET statut = $2, date_confirmation = $3, frais_transaction = $4, montant_net = $5, donnees_callback = COALESCE($6, donnees_callback) WHERE id = $1`,
		paiementID, models.PaiementConfirme, now, fees, p.Montant-fees, callback); err != nil {
		return nil, fmt.Errorf("confirm paiement: %w", err)
	}

	var obligation models.InscriptionPaiement
	if err := tx.GetContext(ctx, &obligation,
		`SELECT `+inscriptionPaiementColumns+` FROM inscriptions_paiement WHERE id = $1 FOR UPDATE`, p.InscriptionPaiementID); err != nil {
		return nil, fmt.Errorf("lock payment obligation: %w", err)
	}

	var amountPaid int64
	if err := tx.GetContext(ctx, &amountPaid,
		`SELECT COALESCE(SUM(montant), 0) FROM paiements WHERE inscription_paiement_id = $1 AND statut = $2`,
		obligation.ID, models.PaiementConfirme); err != nil {
		return nil, fmt.Errorf("sum confirmed payments: %w", err)
	}

	var nextDue *models.TranchePaiement
	if obligation.Mode == models.ModeEchelonne {
		var tranche models.TranchePaiement
		err := tx.GetContext(ctx, &tranche,
			`SELECT t.id, t.plan_id, t.numero, t.nom, t.montant, t.date_echeance, t.est_premiere, t.penalite_retard_pct
             FROM tranches_paiement t
             WHERE t.plan_id = $1 AND NOT EXISTS (
               SELECT 1 FROM paiements p WHERE p.tranche_id = t.id AND p.inscription_paiement_id = $2 AND p.statut = $3)
             ORDER BY t.numero LIMIT 1`,
			obligation.PlanID, obligation.ID, models.PaiementConfirme)
		switch {
		case err == sql.ErrNoRows:
			// all tranches settled
		case err != nil:
			return nil, fmt.Errorf("next due tranche: %w", err)
		default:
			nextDue = &tranche
		}
	}

	aggregate := models.AggregateStatus(amountPaid, obligation.MontantDu, nextDue, now)

	if _, err := tx.ExecContext(ctx,
		`UPDATE inscriptions_paiement SET montant_paye = $2, statut = $3, updated_at = $4 WHERE id = $1`,
		obligation.ID, amountPaid, aggregate, now); err != nil {
		return nil, fmt.Errorf("update payment obligation: %w", err)
	}

	solde := obligation.MontantDu - amountPaid
	if solde < 0 {
		solde = 0
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE inscriptions SET montant_paye = $2, solde = $3, updated_at = $4 WHERE id = $1`,
		obligation.InscriptionID, amountPaid, solde, now); err != nil {
		return nil, fmt.Errorf("update inscription balance: %w", err)
	}

	firstPaid := aggregate == models.AggregateComplet
	if obligation.Mode == models.ModeEchelonne {
		var firstTrancheID string
		if err := tx.GetContext(ctx, &firstTrancheID,
			`SELECT id FROM tranches_paiement WHERE plan_id = $1 ORDER BY est_premiere DESC, numero LIMIT 1`,
			obligation.PlanID); err != nil {
			return nil, fmt.Errorf("first tranche: %w", err)
		}
		if err := tx.GetContext(ctx, &firstPaid,
			`SELECT EXISTS (SELECT 1 FROM paiements WHERE inscription_paiement_id = $1 AND tranche_id = $2 AND statut = $3)`,
			obligation.ID, firstTrancheID, models.PaiementConfirme); err != nil {
			return nil, fmt.Errorf("first tranche settlement: %w", err)
		}
	}

	prev := p.Statut
	if err := insertHistorique(ctx, tx, paiementID, models.HistoriqueConfirmation, &prev, models.PaiementConfirme, actor, "Paiement confirmé par la passerelle", callback); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit confirm: %w", err)
	}

	res.InscriptionID = obligation.InscriptionID
	res.Mode = obligation.Mode
	res.Aggregate = aggregate
	res.FirstTranchePaid = firstPaid
	res.AmountPaid = amountPaid
	res.AmountDue = obligation.MontantDu
	return res, nil
}

// Fail moves a payment to ECHEC or ANNULE. Repeating the same verdict is a
// no-op; any other disallowed transition returns ErrStateConflict.
func (r *PaiementRepository) Fail(ctx context.Context, paiementID string, target models.PaiementStatus, note string, callback json.RawMessage, actor models.ActorContext) error {
	if target != models.PaiementEchec && target != models.PaiementAnnule {
		return fmt.Errorf("fail paiement: %q is not a failure status", target)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fail paiement: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var p models.Paiement
	if err := tx.GetContext(ctx, &p, `SELECT `+paiementColumns+` FROM paiements WHERE id = $1 FOR UPDATE`, paiementID); err != nil {
		return fmt.Errorf("lock paiement: %w", err)
	}
	if p.Statut == target {
		return tx.Commit()
	}
	if !p.Statut.CanTransition(target) {
		return ErrStateConflict
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE paiements SET statut = $2, notes_admin = $3, donnees_callback = COALESCE($4, donnees_callback) WHERE id = $1`,
		paiementID, target, note, callback); err != nil {
		return fmt.Errorf("fail paiement: %w", err)
	}

	action := models.HistoriqueEchec
	if target == models.PaiementAnnule {
		action = models.HistoriqueAnnulation
	}
	prev := p.Statut
	if err := insertHistorique(ctx, tx, paiementID, action, &prev, target, actor, note, callback); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fail paiement: %w", err)
	}
	return nil
}

// ListStaleEnCoursBefore returns EN_COURS payments on a still-pending
// enrollment whose gateway session opened before the cutoff, candidates for
// automatic cancellation. Payments never handed to the gateway (EN_ATTENTE)
// stay put: a later callback can still settle them.
func (r *PaiementRepository) ListStaleEnCoursBefore(ctx context.Context, cutoff time.Time) ([]models.Paiement, error) {
	const query = `SELECT p.id, p.inscription_paiement_id, p.tranche_id, p.numero_transaction, p.reference_externe, p.montant, p.frais_transaction, p.montant_net, p.methode, p.statut, p.date_creation, p.date_confirmation, p.donnees_callback, p.notes_admin
        FROM paiements p
            JOIN inscriptions_paiement ip ON p.inscription_paiement_id = ip.id
            JOIN inscriptions i ON ip.inscription_id = i.id
        WHERE p.statut = $1 AND i.statut = $2 AND p.date_creation < $3
        ORDER BY p.date_creation`
	var payments []models.Paiement
	if err := r.db.SelectContext(ctx, &payments, query, models.PaiementEnCours, models.InscriptionPending, cutoff); err != nil {
		return nil, fmt.Errorf("list stale payments: %w", err)
	}
	return payments, nil
}

// RecordCallback stores a raw gateway payload on a payment without touching
// its status. Used for webhook statuses the pipeline does not recognize.
func (r *PaiementRepository) RecordCallback(ctx context.Context, paiementID string, raw json.RawMessage) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE paiements SET donnees_callback = $2 WHERE id = $1`, paiementID, raw); err != nil {
		return fmt.Errorf("record callback: %w", err)
	}
	return nil
}

// insertHistorique appends a payment audit entry inside the caller's
// transaction.
func insertHistorique(ctx context.Context, tx *sqlx.Tx, paiementID string, action models.HistoriqueAction, from *models.PaiementStatus, to models.PaiementStatus, actor models.ActorContext, details string, metadata json.RawMessage) error {
	entry := models.HistoriquePaiement{
		ID:            uuid.NewString(),
		PaiementID:    paiementID,
		Action:        action,
		AncienStatut:  from,
		NouveauStatut: to,
		ActeurID:      actor.UserID,
		AdresseIP:     actor.IPAddress,
		Details:       details,
		Metadata:      metadata,
		CreatedAt:     time.Now().UTC(),
	}
	const query = `INSERT INTO historique_paiements (id, paiement_id, action, ancien_statut, nouveau_statut, acteur_id, adresse_ip, details, metadata, created_at)
        VALUES (:id, :paiement_id, :action, :ancien_statut, :nouveau_statut, :acteur_id, :adresse_ip, :details, :metadata, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("insert payment history: %w", err)
	}
	return nil
}

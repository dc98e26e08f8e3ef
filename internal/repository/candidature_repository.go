package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/gesco-api/internal/models"
)

const candidatureColumns = `id, numero_candidature, token_inscription, token_expires_at,
        prenom, nom, date_naissance, lieu_naissance, genre, telephone, email, adresse,
        nom_pere, telephone_pere, nom_mere, telephone_mere, nom_tuteur, telephone_tuteur,
        dernier_etablissement, dernier_diplome,
        etablissement_id, filiere_id, niveau_id, annee_id,
        statut, date_soumission, date_examen, date_decision, examine_par_id,
        motif_rejet, notes_approbation, created_at, updated_at`

// CandidatureRepository handles persistence of applications and their
// guarded state transitions.
type CandidatureRepository struct {
	db *sqlx.DB
}

// NewCandidatureRepository constructs the repository.
func NewCandidatureRepository(db *sqlx.DB) *CandidatureRepository {
	return &CandidatureRepository{db: db}
}

// Create persists a new application in BROUILLON.
func (r *CandidatureRepository) Create(ctx context.Context, c *models.Candidature) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Statut == "" {
		c.Statut = models.CandidatureBrouillon
	}
	const query = `INSERT INTO candidatures (id, numero_candidature, token_inscription, token_expires_at,
        prenom, nom, date_naissance, lieu_naissance, genre, telephone, email, adresse,
        nom_pere, telephone_pere, nom_mere, telephone_mere, nom_tuteur, telephone_tuteur,
        dernier_etablissement, dernier_diplome,
        etablissement_id, filiere_id, niveau_id, annee_id,
        statut, created_at, updated_at)
        VALUES (:id, :numero_candidature, :token_inscription, :token_expires_at,
        :prenom, :nom, :date_naissance, :lieu_naissance, :genre, :telephone, :email, :adresse,
        :nom_pere, :telephone_pere, :nom_mere, :telephone_mere, :nom_tuteur, :telephone_tuteur,
        :dernier_etablissement, :dernier_diplome,
        :etablissement_id, :filiere_id, :niveau_id, :annee_id,
        :statut, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("create candidature: %w", err)
	}
	return nil
}

// UpdateDraft rewrites the editable blocks of an application while it is
// still a draft. Editing after submission is not allowed and surfaces
// ErrStateConflict.
func (r *CandidatureRepository) UpdateDraft(ctx context.Context, c *models.Candidature) error {
	c.UpdatedAt = time.Now().UTC()
	const query = `UPDATE candidatures SET
        prenom = :prenom, nom = :nom, date_naissance = :date_naissance, lieu_naissance = :lieu_naissance,
        genre = :genre, telephone = :telephone, email = :email, adresse = :adresse,
        nom_pere = :nom_pere, telephone_pere = :telephone_pere, nom_mere = :nom_mere, telephone_mere = :telephone_mere,
        nom_tuteur = :nom_tuteur, telephone_tuteur = :telephone_tuteur,
        dernier_etablissement = :dernier_etablissement, dernier_diplome = :dernier_diplome,
        etablissement_id = :etablissement_id, filiere_id = :filiere_id, niveau_id = :niveau_id, annee_id = :annee_id,
        updated_at = :updated_at
        WHERE id = :id AND statut = 'BROUILLON'`
	result, err := r.db.NamedExecContext(ctx, query, c)
	if err != nil {
		return fmt.Errorf("update draft: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrStateConflict
	}
	return nil
}

// FindByID returns an application by identifier.
func (r *CandidatureRepository) FindByID(ctx context.Context, id string) (*models.Candidature, error) {
	query := `SELECT ` + candidatureColumns + ` FROM candidatures WHERE id = $1`
	var c models.Candidature
	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		return nil, err
	}
	return &c, nil
}

// FindByNumero returns an application by public application number.
func (r *CandidatureRepository) FindByNumero(ctx context.Context, numero string) (*models.Candidature, error) {
	query := `SELECT ` + candidatureColumns + ` FROM candidatures WHERE numero_candidature = $1`
	var c models.Candidature
	if err := r.db.GetContext(ctx, &c, query, numero); err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns the review queue with pagination. Drafts never appear here;
// reviewers only see applications that were actually submitted.
func (r *CandidatureRepository) List(ctx context.Context, filter models.CandidatureFilter) ([]models.Candidature, int, error) {
	baseQuery := `FROM candidatures WHERE statut <> 'BROUILLON'`
	var conditions []string
	var args []interface{}

	if filter.Statut != nil {
		conditions = append(conditions, fmt.Sprintf("statut = $%d", len(args)+1))
		args = append(args, *filter.Statut)
	}
	if filter.EtablissementID != "" {
		conditions = append(conditions, fmt.Sprintf("etablissement_id = $%d", len(args)+1))
		args = append(args, filter.EtablissementID)
	}
	if filter.FiliereID != "" {
		conditions = append(conditions, fmt.Sprintf("filiere_id = $%d", len(args)+1))
		args = append(args, filter.FiliereID)
	}
	if filter.AnneeID != "" {
		conditions = append(conditions, fmt.Sprintf("annee_id = $%d", len(args)+1))
		args = append(args, filter.AnneeID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(email) LIKE $%d OR LOWER(numero_candidature) LIKE $%d OR LOWER(prenom || ' ' || nom) LIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY date_soumission DESC NULLS LAST LIMIT %d OFFSET %d", candidatureColumns, baseQuery, pageSize, offset)

	var candidatures []models.Candidature
	if err := r.db.SelectContext(ctx, &candidatures, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list candidatures: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count candidatures: %w", err)
	}

	return candidatures, total, nil
}

// FindLatestByEmail returns the most recent application for an email.
func (r *CandidatureRepository) FindLatestByEmail(ctx context.Context, email string) (*models.Candidature, error) {
	query := `SELECT ` + candidatureColumns + ` FROM candidatures WHERE LOWER(email) = LOWER($1) ORDER BY created_at DESC LIMIT 1`
	var c models.Candidature
	if err := r.db.GetContext(ctx, &c, query, email); err != nil {
		return nil, err
	}
	return &c, nil
}

// CountDrafts counts concurrent BROUILLON applications for an email.
func (r *CandidatureRepository) CountDrafts(ctx context.Context, email string) (int, error) {
	const query = `SELECT COUNT(*) FROM candidatures WHERE LOWER(email) = LOWER($1) AND statut = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, email, models.CandidatureBrouillon); err != nil {
		return 0, fmt.Errorf("count drafts: %w", err)
	}
	return count, nil
}

// ExistsActiveApplication checks the one-active-application rule for a
// (email, formation) tuple, optionally excluding an application id.
func (r *CandidatureRepository) ExistsActiveApplication(ctx context.Context, email string, f models.Formation, excludeID string) (bool, error) {
	query := `SELECT 1 FROM candidatures
        WHERE LOWER(email) = LOWER($1) AND etablissement_id = $2 AND filiere_id = $3 AND niveau_id = $4 AND annee_id = $5
        AND statut IN ($6, $7, $8)`
	args := []interface{}{email, f.EtablissementID, f.FiliereID, f.NiveauID, f.AnneeID,
		models.CandidatureSoumise, models.CandidatureEnCoursExamen, models.CandidatureApprouvee}
	if excludeID != "" {
		query += fmt.Sprintf(" AND id <> $%d", len(args)+1)
		args = append(args, excludeID)
	}
	query += " LIMIT 1"
	var one int
	if err := r.db.GetContext(ctx, &one, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active application: %w", err)
	}
	return true, nil
}

// CountByFormation counts applications already numbered for the
// (etablissement, filiere, annee) triple; the allocator derives the next
// sequence from it.
func (r *CandidatureRepository) CountByFormation(ctx context.Context, etablissementID, filiereID, anneeID string) (int, error) {
	const query = `SELECT COUNT(*) FROM candidatures WHERE etablissement_id = $1 AND filiere_id = $2 AND annee_id = $3 AND numero_candidature NOT LIKE 'CAND-TEMP-%'`
	var count int
	if err := r.db.GetContext(ctx, &count, query, etablissementID, filiereID, anneeID); err != nil {
		return 0, fmt.Errorf("count candidatures by formation: %w", err)
	}
	return count, nil
}

// AssignNumero replaces a temporary application number with its canonical
// form. The unique index on numero_candidature arbitrates races; callers
// retry on conflict.
func (r *CandidatureRepository) AssignNumero(ctx context.Context, id, numero string) error {
	const query = `UPDATE candidatures SET numero_candidature = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, numero, time.Now().UTC()); err != nil {
		return fmt.Errorf("assign candidature number: %w", err)
	}
	return nil
}

// UpdateToken stores a freshly generated inscription token and its expiry.
func (r *CandidatureRepository) UpdateToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	const query = `UPDATE candidatures SET token_inscription = $2, token_expires_at = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, token, expiresAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("update inscription token: %w", err)
	}
	return nil
}

// Submit moves a draft to SOUMISE and cancels every other draft of the same
// email, in a single transaction. It returns the number of cancelled
// siblings, or ErrStateConflict when the row is no longer a draft.
func (r *CandidatureRepository) Submit(ctx context.Context, id, email string, now time.Time) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin submit: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE candidatures SET statut = $2, date_soumission = $3, updated_at = $3 WHERE id = $1 AND statut = $4`,
		id, models.CandidatureSoumise, now, models.CandidatureBrouillon)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return 0, fmt.Errorf("submit candidature: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		tx.Rollback() //nolint:errcheck
		return 0, ErrStateConflict
	}

	siblings, err := tx.ExecContext(ctx,
		`UPDATE candidatures SET statut = $3, updated_at = $4 WHERE LOWER(email) = LOWER($1) AND id <> $2 AND statut = $5`,
		email, id, models.CandidatureAnnulee, now, models.CandidatureBrouillon)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return 0, fmt.Errorf("cancel sibling drafts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit submit: %w", err)
	}
	cancelled, _ := siblings.RowsAffected()
	return cancelled, nil
}

// StartReview marks a submitted application as under review.
func (r *CandidatureRepository) StartReview(ctx context.Context, id, reviewerID string, now time.Time) error {
	const query = `UPDATE candidatures SET statut = $2, date_examen = $3, examine_par_id = $4, updated_at = $3 WHERE id = $1 AND statut = $5`
	res, err := r.db.ExecContext(ctx, query, id, models.CandidatureEnCoursExamen, now, reviewerID, models.CandidatureSoumise)
	if err != nil {
		return fmt.Errorf("start review: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrStateConflict
	}
	return nil
}

// Approve records the positive decision and the regenerated enrollment token.
func (r *CandidatureRepository) Approve(ctx context.Context, id, reviewerID, notes, token string, tokenExpiry, now time.Time) error {
	const query = `UPDATE candidatures
        SET statut = $2, date_decision = $3, examine_par_id = $4, notes_approbation = $5,
            token_inscription = $6, token_expires_at = $7, updated_at = $3
        WHERE id = $1 AND statut IN ($8, $9)`
	res, err := r.db.ExecContext(ctx, query, id, models.CandidatureApprouvee, now, reviewerID, notes,
		token, tokenExpiry, models.CandidatureSoumise, models.CandidatureEnCoursExamen)
	if err != nil {
		return fmt.Errorf("approve candidature: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrStateConflict
	}
	return nil
}

// Reject records the negative decision with its motive.
func (r *CandidatureRepository) Reject(ctx context.Context, id, reviewerID, motif string, now time.Time) error {
	const query = `UPDATE candidatures
        SET statut = $2, date_decision = $3, examine_par_id = $4, motif_rejet = $5, updated_at = $3
        WHERE id = $1 AND statut IN ($6, $7)`
	res, err := r.db.ExecContext(ctx, query, id, models.CandidatureRejetee, now, reviewerID, motif,
		models.CandidatureSoumise, models.CandidatureEnCoursExamen)
	if err != nil {
		return fmt.Errorf("reject candidature: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrStateConflict
	}
	return nil
}

// Cancel voids a draft or submitted application.
func (r *CandidatureRepository) Cancel(ctx context.Context, id string, now time.Time) error {
	const query = `UPDATE candidatures SET statut = $2, updated_at = $3 WHERE id = $1 AND statut IN ($4, $5)`
	res, err := r.db.ExecContext(ctx, query, id, models.CandidatureAnnulee, now,
		models.CandidatureBrouillon, models.CandidatureSoumise)
	if err != nil {
		return fmt.Errorf("cancel candidature: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrStateConflict
	}
	return nil
}

// ExpireDraftsBefore batch-expires drafts created before the cutoff.
func (r *CandidatureRepository) ExpireDraftsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `UPDATE candidatures SET statut = $1, updated_at = $2 WHERE statut = $3 AND created_at < $4`
	res, err := r.db.ExecContext(ctx, query, models.CandidatureExpiree, time.Now().UTC(), models.CandidatureBrouillon, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire drafts: %w", err)
	}
	expired, _ := res.RowsAffected()
	return expired, nil
}

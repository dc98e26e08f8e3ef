package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/gesco-api/internal/models"
)

// DocumentRepository handles required-document declarations and uploaded
// application documents.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// ListRequis enumerates required documents for a (filiere, niveau): the
// level-specific declarations plus the filiere-wide ones.
func (r *DocumentRepository) ListRequis(ctx context.Context, filiereID, niveauID string) ([]models.DocumentRequis, error) {
	const query = `SELECT id, filiere_id, niveau_id, type_document, nom, description, obligatoire, taille_max_octets, formats_autorises, ordre_affichage
        FROM documents_requis
        WHERE filiere_id = $1 AND (niveau_id = $2 OR niveau_id IS NULL)
        ORDER BY ordre_affichage, nom`
	var docs []models.DocumentRequis
	if err := r.db.SelectContext(ctx, &docs, query, filiereID, niveauID); err != nil {
		return nil, fmt.Errorf("list required documents: %w", err)
	}
	return docs, nil
}

// FindRequis returns a required-document declaration by identifier.
func (r *DocumentRepository) FindRequis(ctx context.Context, id string) (*models.DocumentRequis, error) {
	const query = `SELECT id, filiere_id, niveau_id, type_document, nom, description, obligatoire, taille_max_octets, formats_autorises, ordre_affichage
        FROM documents_requis WHERE id = $1`
	var doc models.DocumentRequis
	if err := r.db.GetContext(ctx, &doc, query, id); err != nil {
		return nil, err
	}
	return &doc, nil
}

// SaveRequis upserts a required-document declaration. The unique index on
// (filiere_id, niveau_id, type_document) rejects duplicate declarations.
func (r *DocumentRepository) SaveRequis(ctx context.Context, doc *models.DocumentRequis) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	const query = `INSERT INTO documents_requis (id, filiere_id, niveau_id, type_document, nom, description, obligatoire, taille_max_octets, formats_autorises, ordre_affichage)
        VALUES (:id, :filiere_id, :niveau_id, :type_document, :nom, :description, :obligatoire, :taille_max_octets, :formats_autorises, :ordre_affichage)
        ON CONFLICT (id) DO UPDATE SET nom = EXCLUDED.nom, description = EXCLUDED.description, obligatoire = EXCLUDED.obligatoire,
            taille_max_octets = EXCLUDED.taille_max_octets, formats_autorises = EXCLUDED.formats_autorises, ordre_affichage = EXCLUDED.ordre_affichage`
	if _, err := r.db.NamedExecContext(ctx, query, doc); err != nil {
		return fmt.Errorf("save required document: %w", err)
	}
	return nil
}

// ListByCandidature returns the documents attached to an application.
func (r *DocumentRepository) ListByCandidature(ctx context.Context, candidatureID string) ([]models.DocumentCandidature, error) {
	const query = `SELECT id, candidature_id, type_document, nom_original, chemin_stockage, taille_octets, format, valide, valide_par_id, date_validation, notes_validation, created_at
        FROM documents_candidature WHERE candidature_id = $1 ORDER BY created_at`
	var docs []models.DocumentCandidature
	if err := r.db.SelectContext(ctx, &docs, query, candidatureID); err != nil {
		return nil, fmt.Errorf("list candidature documents: %w", err)
	}
	return docs, nil
}

// FindByType returns the uploaded document of a given type, if any.
func (r *DocumentRepository) FindByType(ctx context.Context, candidatureID string, docType models.DocumentType) (*models.DocumentCandidature, error) {
	const query = `SELECT id, candidature_id, type_document, nom_original, chemin_stockage, taille_octets, format, valide, valide_par_id, date_validation, notes_validation, created_at
        FROM documents_candidature WHERE candidature_id = $1 AND type_document = $2`
	var doc models.DocumentCandidature
	if err := r.db.GetContext(ctx, &doc, query, candidatureID, docType); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Create attaches a document to an application. At most one document per
// (candidature, type) is enforced by a unique index.
func (r *DocumentRepository) Create(ctx context.Context, doc *models.DocumentCandidature) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO documents_candidature (id, candidature_id, type_document, nom_original, chemin_stockage, taille_octets, format, valide, valide_par_id, date_validation, notes_validation, created_at)
        VALUES (:id, :candidature_id, :type_document, :nom_original, :chemin_stockage, :taille_octets, :format, :valide, :valide_par_id, :date_validation, :notes_validation, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, doc); err != nil {
		return fmt.Errorf("create candidature document: %w", err)
	}
	return nil
}

// Delete removes a document row and returns its blob path so the caller can
// delete the stored file; cascades are explicit in this codebase.
func (r *DocumentRepository) Delete(ctx context.Context, id string) (string, error) {
	const query = `DELETE FROM documents_candidature WHERE id = $1 RETURNING chemin_stockage`
	var path string
	if err := r.db.GetContext(ctx, &path, query, id); err != nil {
		if err == sql.ErrNoRows {
			return "", err
		}
		return "", fmt.Errorf("delete candidature document: %w", err)
	}
	return path, nil
}

// DeleteByCandidature removes all documents of an application and returns
// the blob paths to clean up.
func (r *DocumentRepository) DeleteByCandidature(ctx context.Context, candidatureID string) ([]string, error) {
	const query = `DELETE FROM documents_candidature WHERE candidature_id = $1 RETURNING chemin_stockage`
	var paths []string
	if err := r.db.SelectContext(ctx, &paths, query, candidatureID); err != nil {
		return nil, fmt.Errorf("delete candidature documents: %w", err)
	}
	return paths, nil
}

// Validate records an operator's validation verdict on a document.
func (r *DocumentRepository) Validate(ctx context.Context, id, validatorID string, valid bool, notes string, now time.Time) error {
	const query = `UPDATE documents_candidature SET valide = $2, valide_par_id = $3, date_validation = $4, notes_validation = $5 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, valid, validatorID, now, notes); err != nil {
		return fmt.Errorf("validate candidature document: %w", err)
	}
	return nil
}

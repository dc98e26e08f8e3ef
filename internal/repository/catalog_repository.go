package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/gesco-api/internal/models"
)

// CatalogRepository reads the academic structure referentials the enrollment
// pipeline joins against. Catalog management itself lives elsewhere.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs the repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// FindEtablissement returns an establishment by identifier.
func (r *CatalogRepository) FindEtablissement(ctx context.Context, id string) (*models.Etablissement, error) {
	const query = `SELECT id, code, nom, ville, actif FROM catalogue_etablissements WHERE id = $1`
	var e models.Etablissement
	if err := r.db.GetContext(ctx, &e, query, id); err != nil {
		return nil, err
	}
	return &e, nil
}

// FindFiliere returns a study track by identifier.
func (r *CatalogRepository) FindFiliere(ctx context.Context, id string) (*models.Filiere, error) {
	const query = `SELECT id, etablissement_id, code, nom, actif FROM catalogue_filieres WHERE id = $1`
	var f models.Filiere
	if err := r.db.GetContext(ctx, &f, query, id); err != nil {
		return nil, err
	}
	return &f, nil
}

// FindNiveau returns an academic level by identifier.
func (r *CatalogRepository) FindNiveau(ctx context.Context, id string) (*models.Niveau, error) {
	const query = `SELECT id, code, nom, ordre FROM catalogue_niveaux WHERE id = $1`
	var n models.Niveau
	if err := r.db.GetContext(ctx, &n, query, id); err != nil {
		return nil, err
	}
	return &n, nil
}

// FindAnnee returns an academic year by identifier.
func (r *CatalogRepository) FindAnnee(ctx context.Context, id string) (*models.AnneeAcademique, error) {
	const query = `SELECT id, libelle, annee_debut, active FROM catalogue_annees WHERE id = $1`
	var a models.AnneeAcademique
	if err := r.db.GetContext(ctx, &a, query, id); err != nil {
		return nil, err
	}
	return &a, nil
}

// ActiveAnnee returns the currently active academic year.
func (r *CatalogRepository) ActiveAnnee(ctx context.Context) (*models.AnneeAcademique, error) {
	const query = `SELECT id, libelle, annee_debut, active FROM catalogue_annees WHERE active = TRUE ORDER BY annee_debut DESC LIMIT 1`
	var a models.AnneeAcademique
	if err := r.db.GetContext(ctx, &a, query); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("active academic year: %w", err)
	}
	return &a, nil
}

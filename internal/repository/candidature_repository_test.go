package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gesco-api/internal/models"
)

func TestSubmitCancelsSiblingDrafts(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCandidatureRepository(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE candidatures SET statut = .+ WHERE id = .+ AND statut = .+").
		WithArgs("cand-1", models.CandidatureSoumise, now, models.CandidatureBrouillon).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE candidatures SET statut = .+ WHERE LOWER\\(email\\) = LOWER\\(.+\\) AND id <> .+ AND statut = .+").
		WithArgs("awa@example.com", "cand-1", models.CandidatureAnnulee, now, models.CandidatureBrouillon).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	cancelled, err := repo.Submit(context.Background(), "cand-1", "awa@example.com", now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitNonDraftRollsBack(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCandidatureRepository(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE candidatures SET statut = .+").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.Submit(context.Background(), "cand-1", "awa@example.com", now)
	assert.Equal(t, ErrStateConflict, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartReviewGuardsStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCandidatureRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec("UPDATE candidatures SET statut = .+ WHERE id = .+ AND statut = .+").
		WithArgs("cand-1", models.CandidatureEnCoursExamen, now, "admin-1", models.CandidatureSoumise).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.StartReview(context.Background(), "cand-1", "admin-1", now)
	assert.Equal(t, ErrStateConflict, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApproveStoresDecisionAndToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCandidatureRepository(db)

	now := time.Now().UTC()
	expiry := now.Add(30 * 24 * time.Hour)
	mock.ExpectExec("UPDATE candidatures\\s+SET statut = .+ token_inscription = .+ WHERE id = .+ AND statut IN").
		WithArgs("cand-1", models.CandidatureApprouvee, now, "admin-1", "dossier complet",
			"fresh-token", expiry, models.CandidatureSoumise, models.CandidatureEnCoursExamen).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Approve(context.Background(), "cand-1", "admin-1", "dossier complet", "fresh-token", expiry, now)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRejectGuardsDecidableStates(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCandidatureRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec("UPDATE candidatures\\s+SET statut = .+ motif_rejet = .+ WHERE id = .+ AND statut IN").
		WithArgs("cand-1", models.CandidatureRejetee, now, "admin-1", "dossier incomplet",
			models.CandidatureSoumise, models.CandidatureEnCoursExamen).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Reject(context.Background(), "cand-1", "admin-1", "dossier incomplet", now)
	assert.Equal(t, ErrStateConflict, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExistsActiveApplication(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCandidatureRepository(db)

	f := models.Formation{EtablissementID: "etab-1", FiliereID: "fil-1", NiveauID: "niv-1", AnneeID: "an-1"}
	mock.ExpectQuery("SELECT 1 FROM candidatures\\s+WHERE LOWER\\(email\\) = LOWER\\(.+\\)").
		WithArgs("awa@example.com", "etab-1", "fil-1", "niv-1", "an-1",
			models.CandidatureSoumise, models.CandidatureEnCoursExamen, models.CandidatureApprouvee).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	exists, err := repo.ExistsActiveApplication(context.Background(), "awa@example.com", f, "")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByFormationExcludesTemporaryNumbers(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCandidatureRepository(db)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM candidatures WHERE etablissement_id = .+ AND numero_candidature NOT LIKE 'CAND-TEMP-%'").
		WithArgs("etab-1", "fil-1", "an-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	count, err := repo.CountByFormation(context.Background(), "etab-1", "fil-1", "an-1")
	require.NoError(t, err)
	assert.Equal(t, 11, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpireDraftsBefore(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCandidatureRepository(db)

	cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)
	mock.ExpectExec("UPDATE candidatures SET statut = .+ WHERE statut = .+ AND created_at < .+").
		WithArgs(models.CandidatureExpiree, sqlmock.AnyArg(), models.CandidatureBrouillon, cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))

	expired, err := repo.ExpireDraftsBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), expired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListExcludesDrafts(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCandidatureRepository(db)

	rows := sqlmock.NewRows([]string{"id", "numero_candidature", "statut", "email", "prenom", "nom"}).
		AddRow("cand-1", "CAND2024ESTINFO0001", string(models.CandidatureSoumise), "awa@example.com", "Awa", "Traoré")
	mock.ExpectQuery("SELECT .+ FROM candidatures WHERE statut <> 'BROUILLON' ORDER BY date_soumission DESC NULLS LAST LIMIT 20 OFFSET 0").
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM candidatures WHERE statut <> 'BROUILLON'").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	candidatures, total, err := repo.List(context.Background(), models.CandidatureFilter{})
	require.NoError(t, err)
	assert.Len(t, candidatures, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/gesco-api/internal/models"
)

type fakeMatriculeReader struct {
	max int
}

func (f *fakeMatriculeReader) MaxMatriculeSequence(ctx context.Context, prefix string, year int) (int, error) {
	return f.max, nil
}

type fakeCandidatureCounter struct {
	count int
}

func (f *fakeCandidatureCounter) CountByFormation(ctx context.Context, etablissementID, filiereID, anneeID string) (int, error) {
	return f.count, nil
}

type fakeInscriptionCounter struct {
	count int
}

func (f *fakeInscriptionCounter) CountByEtablissementYear(ctx context.Context, etablissementID string, year int) (int, error) {
	return f.count, nil
}

type fakeCatalog struct{}

func (f *fakeCatalog) FindEtablissement(ctx context.Context, id string) (*models.Etablissement, error) {
	return &models.Etablissement{ID: id, Code: "EST"}, nil
}

func (f *fakeCatalog) FindFiliere(ctx context.Context, id string) (*models.Filiere, error) {
	return &models.Filiere{ID: id, Code: "INFO"}, nil
}

func (f *fakeCatalog) FindAnnee(ctx context.Context, id string) (*models.AnneeAcademique, error) {
	return &models.AnneeAcademique{ID: id, AnneeDebut: 2024}, nil
}

func newNumbering() *NumberingService {
	return NewNumberingService(&fakeMatriculeReader{max: 41}, &fakeCandidatureCounter{count: 11}, &fakeInscriptionCounter{count: 103}, &fakeCatalog{}, zap.NewNop())
}

func TestAllocateMatricule(t *testing.T) {
	svc := newNumbering()

	matricule, err := svc.AllocateMatricule(context.Background(), models.RoleApprenant, 2024)
	require.NoError(t, err)
	assert.Equal(t, "AP20240042", matricule)
}

func TestAllocateCandidatureNumber(t *testing.T) {
	svc := newNumbering()

	numero, err := svc.AllocateCandidatureNumber(context.Background(), models.Formation{
		EtablissementID: "etab-1", FiliereID: "fil-1", NiveauID: "niv-1", AnneeID: "an-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "CAND2024ESTINFO0012", numero)
}

func TestAllocateCandidatureNumberIncompleteFormation(t *testing.T) {
	svc := newNumbering()

	numero, err := svc.AllocateCandidatureNumber(context.Background(), models.Formation{EtablissementID: "etab-1"})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^CAND-TEMP-\d{6}$`), numero)
}

func TestAllocateInscriptionNumber(t *testing.T) {
	svc := newNumbering()

	numero, err := svc.AllocateInscriptionNumber(context.Background(), "etab-1", 2024)
	require.NoError(t, err)
	assert.Equal(t, "INS2024EST00104", numero)
}

func TestAllocateTransactionNumber(t *testing.T) {
	svc := newNumbering()

	now := time.Date(2024, 8, 29, 14, 35, 1, 0, time.UTC)
	numero := svc.AllocateTransactionNumber(now)
	assert.Regexp(t, regexp.MustCompile(`^PAY20240829143501[A-Z0-9]{6}$`), numero)

	other := svc.AllocateTransactionNumber(now)
	assert.NotEqual(t, numero, other)
}

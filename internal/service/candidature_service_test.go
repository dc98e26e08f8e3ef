package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/gesco-api/internal/models"
	"github.com/noah-isme/gesco-api/pkg/config"
	appErrors "github.com/noah-isme/gesco-api/pkg/errors"
)

type fakeCandidatureRepo struct {
	candidatures map[string]*models.Candidature
	drafts       int
	activeExists bool
	cancelled    int64
	submitted    []string
	approved     []string
	rejected     []string
}

func (f *fakeCandidatureRepo) Create(ctx context.Context, c *models.Candidature) error {
	if f.candidatures == nil {
		f.candidatures = make(map[string]*models.Candidature)
	}
	if c.ID == "" {
		c.ID = "cand-1"
	}
	copy := *c
	f.candidatures[c.ID] = &copy
	return nil
}

func (f *fakeCandidatureRepo) UpdateDraft(ctx context.Context, c *models.Candidature) error {
	copy := *c
	f.candidatures[c.ID] = &copy
	return nil
}

func (f *fakeCandidatureRepo) FindByID(ctx context.Context, id string) (*models.Candidature, error) {
	if c, ok := f.candidatures[id]; ok {
		copy := *c
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeCandidatureRepo) FindByNumero(ctx context.Context, numero string) (*models.Candidature, error) {
	for _, c := range f.candidatures {
		if c.NumeroCandidature == numero {
			copy := *c
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeCandidatureRepo) List(ctx context.Context, filter models.CandidatureFilter) ([]models.Candidature, int, error) {
	var out []models.Candidature
	for _, c := range f.candidatures {
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (f *fakeCandidatureRepo) CountDrafts(ctx context.Context, email string) (int, error) {
	return f.drafts, nil
}

func (f *fakeCandidatureRepo) ExistsActiveApplication(ctx context.Context, email string, fo models.Formation, excludeID string) (bool, error) {
	return f.activeExists, nil
}

func (f *fakeCandidatureRepo) AssignNumero(ctx context.Context, id, numero string) error {
	f.candidatures[id].NumeroCandidature = numero
	return nil
}

func (f *fakeCandidatureRepo) Submit(ctx context.Context, id, email string, now time.Time) (int64, error) {
	f.submitted = append(f.submitted, id)
	c := f.candidatures[id]
	c.Statut = models.CandidatureSoumise
	c.DateSoumission = &now
	return f.cancelled, nil
}

func (f *fakeCandidatureRepo) StartReview(ctx context.Context, id, reviewerID string, now time.Time) error {
	f.candidatures[id].Statut = models.CandidatureEnCoursExamen
	return nil
}

func (f *fakeCandidatureRepo) Approve(ctx context.Context, id, reviewerID, notes, token string, tokenExpiry, now time.Time) error {
	f.approved = append(f.approved, id)
	c := f.candidatures[id]
	c.Statut = models.CandidatureApprouvee
	c.TokenInscription = token
	return nil
}

func (f *fakeCandidatureRepo) Reject(ctx context.Context, id, reviewerID, motif string, now time.Time) error {
	f.rejected = append(f.rejected, id)
	f.candidatures[id].Statut = models.CandidatureRejetee
	return nil
}

func (f *fakeCandidatureRepo) Cancel(ctx context.Context, id string, now time.Time) error {
	f.candidatures[id].Statut = models.CandidatureAnnulee
	return nil
}

func (f *fakeCandidatureRepo) ExpireDraftsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeCandidatureNumbering struct {
	calls int
}

func (f *fakeCandidatureNumbering) AllocateCandidatureNumber(ctx context.Context, fo models.Formation) (string, error) {
	f.calls++
	if !fo.Complete() {
		return "CAND-TEMP-123456", nil
	}
	return "CAND2024ESTINFO0001", nil
}

type fakeDocResolver struct {
	missing []models.DocumentType
}

func (f *fakeDocResolver) MissingRequired(ctx context.Context, candidatureID, filiereID, niveauID string) ([]models.DocumentType, error) {
	return f.missing, nil
}

func newCandidatureService(repo *fakeCandidatureRepo, docs *fakeDocResolver) *CandidatureService {
	cfg := config.EnrollmentConfig{TokenTTL: 30 * 24 * time.Hour, MaxDraftsPerEmail: 3}
	return NewCandidatureService(repo, &fakeCandidatureNumbering{}, docs, NewCacheService(nil, nil, 0, zap.NewNop(), false), NewMetricsService(), cfg, validator.New(), zap.NewNop())
}

func completeRequest() CreateCandidatureRequest {
	return CreateCandidatureRequest{
		Prenom:          "Awa",
		Nom:             "Traoré",
		Telephone:       "+22670000001",
		Email:           "awa@example.com",
		EtablissementID: "etab-1",
		FiliereID:       "fil-1",
		NiveauID:        "niv-1",
		AnneeID:         "an-1",
	}
}

func TestCandidatureCreateAssignsNumeroAndToken(t *testing.T) {
	repo := &fakeCandidatureRepo{}
	svc := newCandidatureService(repo, &fakeDocResolver{})

	c, err := svc.Create(context.Background(), completeRequest())
	require.NoError(t, err)
	assert.Equal(t, models.CandidatureBrouillon, c.Statut)
	assert.Equal(t, "CAND2024ESTINFO0001", c.NumeroCandidature)
	assert.Len(t, c.TokenInscription, 64)
	require.NotNil(t, c.TokenExpiresAt)
	assert.True(t, c.TokenExpiresAt.After(time.Now()))
}

func TestCandidatureCreateDraftCap(t *testing.T) {
	repo := &fakeCandidatureRepo{drafts: 3}
	svc := newCandidatureService(repo, &fakeDocResolver{})

	_, err := svc.Create(context.Background(), completeRequest())
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestCandidatureCreateRejectsDuplicateActiveApplication(t *testing.T) {
	repo := &fakeCandidatureRepo{activeExists: true}
	svc := newCandidatureService(repo, &fakeDocResolver{})

	_, err := svc.Create(context.Background(), completeRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestCandidatureSubmitEmitsNotification(t *testing.T) {
	repo := &fakeCandidatureRepo{candidatures: map[string]*models.Candidature{
		"cand-1": {
			ID: "cand-1", NumeroCandidature: "CAND2024ESTINFO0001",
			Prenom: "Awa", Email: "awa@example.com",
			EtablissementID: "etab-1", FiliereID: "fil-1", NiveauID: "niv-1", AnneeID: "an-1",
			Statut: models.CandidatureBrouillon,
		},
	}, cancelled: 2}
	svc := newCandidatureService(repo, &fakeDocResolver{})

	c, cmds, err := svc.Submit(context.Background(), "cand-1")
	require.NoError(t, err)
	assert.Equal(t, models.CandidatureSoumise, c.Statut)
	require.Len(t, cmds, 1)
	assert.Equal(t, models.CommandNotifySubmitted, cmds[0].Type)
	assert.Equal(t, "awa@example.com", cmds[0].Email)
}

func TestCandidatureSubmitRefusedWhenDocumentsMissing(t *testing.T) {
	repo := &fakeCandidatureRepo{candidatures: map[string]*models.Candidature{
		"cand-1": {
			ID:              "cand-1",
			EtablissementID: "etab-1", FiliereID: "fil-1", NiveauID: "niv-1", AnneeID: "an-1",
			Statut: models.CandidatureBrouillon,
		},
	}}
	svc := newCandidatureService(repo, &fakeDocResolver{missing: []models.DocumentType{models.DocumentDiplome}})

	_, _, err := svc.Submit(context.Background(), "cand-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.submitted)
}

func TestCandidatureSubmitRefusedFromNonDraft(t *testing.T) {
	repo := &fakeCandidatureRepo{candidatures: map[string]*models.Candidature{
		"cand-1": {ID: "cand-1", Statut: models.CandidatureSoumise},
	}}
	svc := newCandidatureService(repo, &fakeDocResolver{})

	_, _, err := svc.Submit(context.Background(), "cand-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStateTransition.Code, appErrors.FromError(err).Code)
}

func TestCandidatureEvaluateApproveRegeneratesToken(t *testing.T) {
	repo := &fakeCandidatureRepo{candidatures: map[string]*models.Candidature{
		"cand-1": {
			ID: "cand-1", Email: "awa@example.com",
			TokenInscription: "old-token",
			Statut:           models.CandidatureEnCoursExamen,
		},
	}}
	svc := newCandidatureService(repo, &fakeDocResolver{})
	reviewer := "admin-1"
	actor := models.ActorContext{UserID: &reviewer, Role: models.RoleAdmin, IPAddress: "10.0.0.1"}

	c, cmds, err := svc.Evaluate(context.Background(), "cand-1", EvaluateRequest{Decision: "APPROUVEE"}, actor)
	require.NoError(t, err)
	assert.Equal(t, models.CandidatureApprouvee, c.Statut)
	assert.NotEqual(t, "old-token", c.TokenInscription)
	assert.Len(t, c.TokenInscription, 64)
	require.Len(t, cmds, 1)
	assert.Equal(t, models.CommandNotifyApproved, cmds[0].Type)
	assert.Equal(t, c.TokenInscription, cmds[0].Payload["token_inscription"])
}

func TestCandidatureEvaluateRejectRequiresMotif(t *testing.T) {
	repo := &fakeCandidatureRepo{candidatures: map[string]*models.Candidature{
		"cand-1": {ID: "cand-1", Statut: models.CandidatureSoumise},
	}}
	svc := newCandidatureService(repo, &fakeDocResolver{})
	reviewer := "admin-1"
	actor := models.ActorContext{UserID: &reviewer, Role: models.RoleChefDept}

	_, _, err := svc.Evaluate(context.Background(), "cand-1", EvaluateRequest{Decision: "REJETEE"}, actor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.rejected)
}

func TestCandidatureEvaluateAllowsSuperAdmin(t *testing.T) {
	repo := &fakeCandidatureRepo{candidatures: map[string]*models.Candidature{
		"cand-1": {ID: "cand-1", Statut: models.CandidatureSoumise},
	}}
	svc := newCandidatureService(repo, &fakeDocResolver{})
	reviewer := "super-1"
	actor := models.ActorContext{UserID: &reviewer, Role: models.RoleSuperAdmin}

	c, _, err := svc.Evaluate(context.Background(), "cand-1", EvaluateRequest{Decision: "APPROUVEE"}, actor)
	require.NoError(t, err)
	assert.Equal(t, models.CandidatureApprouvee, c.Statut)
}

func TestCandidatureEvaluateForbiddenForNonReviewer(t *testing.T) {
	repo := &fakeCandidatureRepo{candidatures: map[string]*models.Candidature{
		"cand-1": {ID: "cand-1", Statut: models.CandidatureSoumise},
	}}
	svc := newCandidatureService(repo, &fakeDocResolver{})

	_, _, err := svc.Evaluate(context.Background(), "cand-1", EvaluateRequest{Decision: "APPROUVEE"}, models.ActorContext{Role: models.RoleEnseignant})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestCandidatureEvaluateRefusedOnDecidedApplication(t *testing.T) {
	repo := &fakeCandidatureRepo{candidatures: map[string]*models.Candidature{
		"cand-1": {ID: "cand-1", Statut: models.CandidatureRejetee},
	}}
	svc := newCandidatureService(repo, &fakeDocResolver{})
	reviewer := "admin-1"
	actor := models.ActorContext{UserID: &reviewer, Role: models.RoleAdmin}

	_, _, err := svc.Evaluate(context.Background(), "cand-1", EvaluateRequest{Decision: "APPROUVEE"}, actor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStateTransition.Code, appErrors.FromError(err).Code)
}

func TestCandidatureCancelOnlyFromCancellableStates(t *testing.T) {
	repo := &fakeCandidatureRepo{candidatures: map[string]*models.Candidature{
		"draft":    {ID: "draft", Statut: models.CandidatureBrouillon},
		"approved": {ID: "approved", Statut: models.CandidatureApprouvee},
	}}
	svc := newCandidatureService(repo, &fakeDocResolver{})

	require.NoError(t, svc.Cancel(context.Background(), "draft"))
	assert.Equal(t, models.CandidatureAnnulee, repo.candidatures["draft"].Statut)

	err := svc.Cancel(context.Background(), "approved")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStateTransition.Code, appErrors.FromError(err).Code)
}

func TestCandidatureUpdatePromotesTemporaryNumero(t *testing.T) {
	repo := &fakeCandidatureRepo{candidatures: map[string]*models.Candidature{
		"cand-1": {
			ID: "cand-1", NumeroCandidature: "CAND-TEMP-999999",
			Statut: models.CandidatureBrouillon,
		},
	}}
	svc := newCandidatureService(repo, &fakeDocResolver{})

	c, err := svc.Update(context.Background(), "cand-1", completeRequest())
	require.NoError(t, err)
	assert.Equal(t, "CAND2024ESTINFO0001", c.NumeroCandidature)
}

func TestCandidatureStatusUnknownNumero(t *testing.T) {
	svc := newCandidatureService(&fakeCandidatureRepo{}, &fakeDocResolver{})

	_, _, err := svc.Status(context.Background(), "CAND0000XXX0000")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

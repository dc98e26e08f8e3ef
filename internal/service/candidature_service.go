package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/gesco-api/internal/models"
	"github.com/noah-isme/gesco-api/internal/repository"
	"github.com/noah-isme/gesco-api/pkg/config"
	appErrors "github.com/noah-isme/gesco-api/pkg/errors"
)

type candidatureRepository interface {
	Create(ctx context.Context, c *models.Candidature) error
	UpdateDraft(ctx context.Context, c *models.Candidature) error
	FindByID(ctx context.Context, id string) (*models.Candidature, error)
	FindByNumero(ctx context.Context, numero string) (*models.Candidature, error)
	List(ctx context.Context, filter models.CandidatureFilter) ([]models.Candidature, int, error)
	CountDrafts(ctx context.Context, email string) (int, error)
	ExistsActiveApplication(ctx context.Context, email string, f models.Formation, excludeID string) (bool, error)
	AssignNumero(ctx context.Context, id, numero string) error
	Submit(ctx context.Context, id, email string, now time.Time) (int64, error)
	StartReview(ctx context.Context, id, reviewerID string, now time.Time) error
	Approve(ctx context.Context, id, reviewerID, notes, token string, tokenExpiry, now time.Time) error
	Reject(ctx context.Context, id, reviewerID, motif string, now time.Time) error
	Cancel(ctx context.Context, id string, now time.Time) error
	ExpireDraftsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type candidatureNumberAllocator interface {
	AllocateCandidatureNumber(ctx context.Context, f models.Formation) (string, error)
}

type missingDocumentsResolver interface {
	MissingRequired(ctx context.Context, candidatureID, filiereID, niveauID string) ([]models.DocumentType, error)
}

// CreateCandidatureRequest is the public application payload.
type CreateCandidatureRequest struct {
	Prenom        string     `json:"prenom" validate:"required"`
	Nom           string     `json:"nom" validate:"required"`
	DateNaissance *time.Time `json:"date_naissance"`
	LieuNaissance string     `json:"lieu_naissance"`
	Genre         string     `json:"genre" validate:"omitempty,oneof=M F"`
	Telephone     string     `json:"telephone" validate:"required"`
	Email         string     `json:"email" validate:"required,email"`
	Adresse       string     `json:"adresse"`

	NomPere         *string `json:"nom_pere"`
	TelephonePere   *string `json:"telephone_pere"`
	NomMere         *string `json:"nom_mere"`
	TelephoneMere   *string `json:"telephone_mere"`
	NomTuteur       *string `json:"nom_tuteur"`
	TelephoneTuteur *string `json:"telephone_tuteur"`

	DernierEtablissement *string `json:"dernier_etablissement"`
	DernierDiplome       *string `json:"dernier_diplome"`

	EtablissementID string `json:"etablissement_id"`
	FiliereID       string `json:"filiere_id"`
	NiveauID        string `json:"niveau_id"`
	AnneeID         string `json:"annee_id"`
}

// EvaluateRequest carries a reviewer's decision.
type EvaluateRequest struct {
	Decision string `json:"decision" validate:"required,oneof=APPROUVEE REJETEE"`
	Motif    string `json:"motif"`
	Notes    string `json:"notes"`
}

// CandidatureService drives the application state machine. Every transition
// runs as a guarded database update; side effects come back as commands for
// the outbox dispatcher.
type CandidatureService struct {
	repo      candidatureRepository
	numbering candidatureNumberAllocator
	documents missingDocumentsResolver
	cache     *CacheService
	metrics   *MetricsService
	tokenTTL  time.Duration
	maxDrafts int
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCandidatureService constructs CandidatureService.
func NewCandidatureService(repo candidatureRepository, numbering candidatureNumberAllocator, documents missingDocumentsResolver, cache *CacheService, metrics *MetricsService, cfg config.EnrollmentConfig, validate *validator.Validate, logger *zap.Logger) *CandidatureService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CandidatureService{
		repo:      repo,
		numbering: numbering,
		documents: documents,
		cache:     cache,
		metrics:   metrics,
		tokenTTL:  cfg.TokenTTL,
		maxDrafts: cfg.MaxDraftsPerEmail,
		validator: validate,
		logger:    logger,
	}
}

// Create opens a new application draft. The draft cap per email and the
// one-active-application rule are both enforced here.
func (s *CandidatureService) Create(ctx context.Context, req CreateCandidatureRequest) (*models.Candidature, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "candidature invalide")
	}

	drafts, err := s.repo.CountDrafts(ctx, req.Email)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de vérifier les brouillons")
	}
	if s.maxDrafts > 0 && drafts >= s.maxDrafts {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("limite de %d brouillons atteinte pour cet email", s.maxDrafts))
	}

	c := candidatureFromRequest(req)
	if c.Formation().Complete() {
		exists, err := s.repo.ExistsActiveApplication(ctx, c.Email, c.Formation(), "")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de vérifier les candidatures actives")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrConflict, "une candidature active existe déjà pour cette formation")
		}
	}

	c.TokenInscription = opaqueToken()
	expiry := time.Now().UTC().Add(s.tokenTTL)
	c.TokenExpiresAt = &expiry

	if err := s.createWithNumero(ctx, c); err != nil {
		return nil, err
	}
	s.metrics.RecordCandidatureEvent("CREATE")
	return c, nil
}

// createWithNumero allocates the application number and inserts, retrying on
// unique-constraint races with a freshly computed sequence.
func (s *CandidatureService) createWithNumero(ctx context.Context, c *models.Candidature) error {
	for attempt := 0; attempt < allocRetries; attempt++ {
		numero, err := s.numbering.AllocateCandidatureNumber(ctx, c.Formation())
		if err != nil {
			return err
		}
		c.NumeroCandidature = numero
		err = s.repo.Create(ctx, c)
		if err == nil {
			return nil
		}
		if !repository.IsUniqueViolation(err) {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de créer la candidature")
		}
		s.logger.Warn("candidature number collision, retrying",
			zap.String("numero", numero),
			zap.Int("attempt", attempt+1))
	}
	return appErrors.Clone(appErrors.ErrNumberingExhausted, "impossible d'allouer un numéro de candidature")
}

// Update rewrites a draft. A temporary number is promoted to its canonical
// form on the first save that completes the formation; an assigned canonical
// number never changes again.
func (s *CandidatureService) Update(ctx context.Context, id string, req CreateCandidatureRequest) (*models.Candidature, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "candidature invalide")
	}
	existing, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Statut != models.CandidatureBrouillon {
		return nil, appErrors.Clone(appErrors.ErrStateTransition, "seul un brouillon peut être modifié")
	}

	c := candidatureFromRequest(req)
	c.ID = existing.ID
	if c.Formation().Complete() {
		exists, err := s.repo.ExistsActiveApplication(ctx, c.Email, c.Formation(), c.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de vérifier les candidatures actives")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrConflict, "une candidature active existe déjà pour cette formation")
		}
	}
	if err := s.repo.UpdateDraft(ctx, c); err != nil {
		if err == repository.ErrStateConflict {
			return nil, appErrors.Clone(appErrors.ErrStateTransition, "seul un brouillon peut être modifié")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de mettre à jour la candidature")
	}

	if isTemporaryNumero(existing.NumeroCandidature) && c.Formation().Complete() {
		if err := s.promoteNumero(ctx, c); err != nil {
			return nil, err
		}
	} else {
		c.NumeroCandidature = existing.NumeroCandidature
	}
	c.Statut = existing.Statut
	return c, nil
}

func (s *CandidatureService) promoteNumero(ctx context.Context, c *models.Candidature) error {
	for attempt := 0; attempt < allocRetries; attempt++ {
		numero, err := s.numbering.AllocateCandidatureNumber(ctx, c.Formation())
		if err != nil {
			return err
		}
		err = s.repo.AssignNumero(ctx, c.ID, numero)
		if err == nil {
			c.NumeroCandidature = numero
			return nil
		}
		if !repository.IsUniqueViolation(err) {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de numéroter la candidature")
		}
	}
	return appErrors.Clone(appErrors.ErrNumberingExhausted, "impossible d'allouer un numéro de candidature")
}

// Submit moves a draft to SOUMISE after checking completeness. All other
// drafts of the same email are cancelled in the same transaction.
func (s *CandidatureService) Submit(ctx context.Context, id string) (*models.Candidature, []models.Command, error) {
	c, err := s.findByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := models.TransitionFor(c.Statut, models.EventSubmit); !ok {
		return nil, nil, appErrors.Clone(appErrors.ErrStateTransition, fmt.Sprintf("soumission impossible depuis l'état %s", c.Statut))
	}
	if !c.Formation().Complete() {
		return nil, nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "la formation visée est incomplète")
	}
	missing, err := s.documents.MissingRequired(ctx, c.ID, c.FiliereID, c.NiveauID)
	if err != nil {
		return nil, nil, err
	}
	if len(missing) > 0 {
		return nil, nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("documents obligatoires manquants: %v", missing))
	}
	exists, err := s.repo.ExistsActiveApplication(ctx, c.Email, c.Formation(), c.ID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de vérifier les candidatures actives")
	}
	if exists {
		return nil, nil, appErrors.Clone(appErrors.ErrConflict, "une candidature active existe déjà pour cette formation")
	}

	now := time.Now().UTC()
	cancelled, err := s.repo.Submit(ctx, c.ID, c.Email, now)
	if err != nil {
		if err == repository.ErrStateConflict {
			return nil, nil, appErrors.Clone(appErrors.ErrStateTransition, "la candidature n'est plus un brouillon")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de soumettre la candidature")
	}
	if cancelled > 0 {
		s.logger.Info("sibling drafts cancelled on submit",
			zap.String("candidature_id", c.ID),
			zap.Int64("cancelled", cancelled))
	}
	s.invalidateStatus(ctx, c.NumeroCandidature)
	s.metrics.RecordCandidatureEvent(string(models.EventSubmit))

	c.Statut = models.CandidatureSoumise
	c.DateSoumission = &now
	cmds := []models.Command{{
		Type:  models.CommandNotifySubmitted,
		Email: c.Email,
		Payload: map[string]interface{}{
			"numero_candidature": c.NumeroCandidature,
			"prenom":             c.Prenom,
		},
	}}
	return c, cmds, nil
}

// StartReview moves a submitted application under review. Reviewer roles only.
func (s *CandidatureService) StartReview(ctx context.Context, id string, actor models.ActorContext) (*models.Candidature, error) {
	if !actor.Role.CanReviewCandidatures() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "rôle non autorisé à examiner les candidatures")
	}
	c, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := models.TransitionFor(c.Statut, models.EventStartReview); !ok {
		return nil, appErrors.Clone(appErrors.ErrStateTransition, fmt.Sprintf("examen impossible depuis l'état %s", c.Statut))
	}
	now := time.Now().UTC()
	reviewerID := ""
	if actor.UserID != nil {
		reviewerID = *actor.UserID
	}
	if err := s.repo.StartReview(ctx, c.ID, reviewerID, now); err != nil {
		if err == repository.ErrStateConflict {
			return nil, appErrors.Clone(appErrors.ErrStateTransition, "la candidature n'est plus en attente d'examen")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de démarrer l'examen")
	}
	s.invalidateStatus(ctx, c.NumeroCandidature)
	s.metrics.RecordCandidatureEvent(string(models.EventStartReview))
	c.Statut = models.CandidatureEnCoursExamen
	c.DateExamen = &now
	c.ExamineParID = &reviewerID
	return c, nil
}

// Evaluate records the reviewer's decision. Approval regenerates the
// inscription token with a fresh TTL so the candidate can proceed to payment.
func (s *CandidatureService) Evaluate(ctx context.Context, id string, req EvaluateRequest, actor models.ActorContext) (*models.Candidature, []models.Command, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "décision invalide")
	}
	if !actor.Role.CanReviewCandidatures() {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "rôle non autorisé à décider des candidatures")
	}
	c, err := s.findByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	reviewerID := ""
	if actor.UserID != nil {
		reviewerID = *actor.UserID
	}
	now := time.Now().UTC()

	var cmds []models.Command
	switch models.CandidatureStatus(req.Decision) {
	case models.CandidatureApprouvee:
		if _, ok := models.TransitionFor(c.Statut, models.EventApprove); !ok {
			return nil, nil, appErrors.Clone(appErrors.ErrStateTransition, fmt.Sprintf("approbation impossible depuis l'état %s", c.Statut))
		}
		token := opaqueToken()
		expiry := now.Add(s.tokenTTL)
		if err := s.repo.Approve(ctx, c.ID, reviewerID, req.Notes, token, expiry, now); err != nil {
			if err == repository.ErrStateConflict {
				return nil, nil, appErrors.Clone(appErrors.ErrStateTransition, "la candidature n'est plus décidable")
			}
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible d'approuver la candidature")
		}
		c.Statut = models.CandidatureApprouvee
		c.TokenInscription = token
		c.TokenExpiresAt = &expiry
		s.metrics.RecordCandidatureEvent(string(models.EventApprove))
		cmds = append(cmds, models.Command{
			Type:  models.CommandNotifyApproved,
			Email: c.Email,
			Payload: map[string]interface{}{
				"numero_candidature": c.NumeroCandidature,
				"prenom":             c.Prenom,
				"token_inscription":  token,
			},
		})
	case models.CandidatureRejetee:
		if req.Motif == "" {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "le motif de rejet est obligatoire")
		}
		if _, ok := models.TransitionFor(c.Statut, models.EventReject); !ok {
			return nil, nil, appErrors.Clone(appErrors.ErrStateTransition, fmt.Sprintf("rejet impossible depuis l'état %s", c.Statut))
		}
		if err := s.repo.Reject(ctx, c.ID, reviewerID, req.Motif, now); err != nil {
			if err == repository.ErrStateConflict {
				return nil, nil, appErrors.Clone(appErrors.ErrStateTransition, "la candidature n'est plus décidable")
			}
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de rejeter la candidature")
		}
		c.Statut = models.CandidatureRejetee
		c.MotifRejet = &req.Motif
		s.metrics.RecordCandidatureEvent(string(models.EventReject))
		cmds = append(cmds, models.Command{
			Type:  models.CommandNotifyRejected,
			Email: c.Email,
			Payload: map[string]interface{}{
				"numero_candidature": c.NumeroCandidature,
				"motif":              req.Motif,
			},
		})
	}
	c.DateDecision = &now
	c.ExamineParID = &reviewerID
	s.invalidateStatus(ctx, c.NumeroCandidature)
	return c, cmds, nil
}

// Cancel abandons a draft or submitted application.
func (s *CandidatureService) Cancel(ctx context.Context, id string) error {
	c, err := s.findByID(ctx, id)
	if err != nil {
		return err
	}
	if _, ok := models.TransitionFor(c.Statut, models.EventCancel); !ok {
		return appErrors.Clone(appErrors.ErrStateTransition, fmt.Sprintf("annulation impossible depuis l'état %s", c.Statut))
	}
	if err := s.repo.Cancel(ctx, c.ID, time.Now().UTC()); err != nil {
		if err == repository.ErrStateConflict {
			return appErrors.Clone(appErrors.ErrStateTransition, "la candidature ne peut plus être annulée")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible d'annuler la candidature")
	}
	s.invalidateStatus(ctx, c.NumeroCandidature)
	s.metrics.RecordCandidatureEvent(string(models.EventCancel))
	return nil
}

// Status returns the public polling payload for an application number,
// cached briefly to absorb dashboard refresh loops. The boolean reports
// whether the cache answered.
func (s *CandidatureService) Status(ctx context.Context, numero string) (*models.CandidatureStatusInfo, bool, error) {
	cacheKey := "candidature:status:" + numero
	if s.cache.Enabled() {
		var cached models.CandidatureStatusInfo
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, true, nil
		}
	}
	c, err := s.repo.FindByNumero(ctx, numero)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "candidature introuvable")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de charger la candidature")
	}
	info := &models.CandidatureStatusInfo{
		NumeroCandidature: c.NumeroCandidature,
		Statut:            c.Statut,
		DateSoumission:    c.DateSoumission,
		DateDecision:      c.DateDecision,
		MotifRejet:        c.MotifRejet,
	}
	if s.cache.Enabled() {
		if err := s.cache.Set(ctx, cacheKey, info, time.Minute); err != nil {
			s.logger.Debug("status cache write failed", zap.Error(err))
		}
	}
	return info, false, nil
}

// Get loads an application by identifier.
func (s *CandidatureService) Get(ctx context.Context, id string) (*models.Candidature, error) {
	return s.findByID(ctx, id)
}

// List returns the review queue for back-office users.
func (s *CandidatureService) List(ctx context.Context, filter models.CandidatureFilter) ([]models.Candidature, *models.Pagination, error) {
	candidatures, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de lister les candidatures")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return candidatures, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// FindByNumero loads an application by its public number.
func (s *CandidatureService) FindByNumero(ctx context.Context, numero string) (*models.Candidature, error) {
	c, err := s.repo.FindByNumero(ctx, numero)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "candidature introuvable")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de charger la candidature")
	}
	return c, nil
}

// ExpireDrafts sweeps drafts untouched past the cutoff into EXPIREE.
func (s *CandidatureService) ExpireDrafts(ctx context.Context, cutoff time.Time) (int64, error) {
	count, err := s.repo.ExpireDraftsBefore(ctx, cutoff)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible d'expirer les brouillons")
	}
	if count > 0 {
		s.metrics.RecordCandidatureEvent(string(models.EventExpire))
	}
	return count, nil
}

func (s *CandidatureService) findByID(ctx context.Context, id string) (*models.Candidature, error) {
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "candidature introuvable")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de charger la candidature")
	}
	return c, nil
}

func (s *CandidatureService) invalidateStatus(ctx context.Context, numero string) {
	if !s.cache.Enabled() {
		return
	}
	if err := s.cache.Invalidate(ctx, "candidature:status:"+numero); err != nil {
		s.logger.Debug("status cache invalidation failed", zap.Error(err))
	}
}

func candidatureFromRequest(req CreateCandidatureRequest) *models.Candidature {
	return &models.Candidature{
		Prenom:               req.Prenom,
		Nom:                  req.Nom,
		DateNaissance:        req.DateNaissance,
		LieuNaissance:        req.LieuNaissance,
		Genre:                req.Genre,
		Telephone:            req.Telephone,
		Email:                req.Email,
		Adresse:              req.Adresse,
		NomPere:              req.NomPere,
		TelephonePere:        req.TelephonePere,
		NomMere:              req.NomMere,
		TelephoneMere:        req.TelephoneMere,
		NomTuteur:            req.NomTuteur,
		TelephoneTuteur:      req.TelephoneTuteur,
		DernierEtablissement: req.DernierEtablissement,
		DernierDiplome:       req.DernierDiplome,
		EtablissementID:      req.EtablissementID,
		FiliereID:            req.FiliereID,
		NiveauID:             req.NiveauID,
		AnneeID:              req.AnneeID,
		Statut:               models.CandidatureBrouillon,
	}
}

func isTemporaryNumero(numero string) bool {
	return len(numero) >= 10 && numero[:10] == "CAND-TEMP-"
}

// opaqueToken returns a 64-character hex token for inscription links.
func opaqueToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

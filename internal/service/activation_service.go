package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/gesco-api/internal/models"
	"github.com/noah-isme/gesco-api/internal/repository"
	appErrors "github.com/noah-isme/gesco-api/pkg/errors"
)

type activationRepository interface {
	FindByID(ctx context.Context, id string) (*models.Inscription, error)
	Activate(ctx context.Context, inscriptionID, email string, candidate *models.User) (*repository.ActivationResult, error)
}

type activationCandidatureReader interface {
	FindByID(ctx context.Context, id string) (*models.Candidature, error)
}

type usernameChecker interface {
	UsernameExists(ctx context.Context, username string) (bool, error)
}

type matriculeAllocator interface {
	AllocateMatricule(ctx context.Context, role models.UserRole, year int) (string, error)
}

// ActivationOutcome is what a confirmed first payment produced.
type ActivationOutcome struct {
	InscriptionID string
	UserID        string
	Outcome       models.AccountOutcome
	Username      string
	Password      string // plaintext, only set when a new account was created
}

// ActivationService turns a paid PENDING enrollment into an ACTIVE one with a
// learner account. Activation is idempotent: a second confirmed payment finds
// the enrollment already ACTIVE and changes nothing.
type ActivationService struct {
	inscriptions activationRepository
	candidatures activationCandidatureReader
	users        usernameChecker
	numbering    matriculeAllocator
	metrics      *MetricsService
	logger       *zap.Logger
}

// NewActivationService constructs ActivationService.
func NewActivationService(inscriptions activationRepository, candidatures activationCandidatureReader, users usernameChecker, numbering matriculeAllocator, metrics *MetricsService, logger *zap.Logger) *ActivationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivationService{
		inscriptions: inscriptions,
		candidatures: candidatures,
		users:        users,
		numbering:    numbering,
		metrics:      metrics,
		logger:       logger,
	}
}

// TryActivate activates the enrollment, creating or reusing the learner
// account keyed by the candidature email. Unique-constraint races on the
// generated credentials are retried with fresh ones.
func (s *ActivationService) TryActivate(ctx context.Context, inscriptionID string) (*ActivationOutcome, error) {
	ins, err := s.inscriptions.FindByID(ctx, inscriptionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de charger l'inscription")
	}
	if ins.Statut != models.InscriptionPending {
		out := &ActivationOutcome{InscriptionID: ins.ID, Outcome: models.AccountReusedExisting}
		if ins.ApprenantID != nil {
			out.UserID = *ins.ApprenantID
		}
		return out, nil
	}
	cand, err := s.candidatures.FindByID(ctx, ins.CandidatureID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de charger la candidature")
	}

	year := time.Now().UTC().Year()
	var lastErr error
	for attempt := 0; attempt < allocRetries; attempt++ {
		candidate, password, err := s.buildCandidate(ctx, cand, year, attempt)
		if err != nil {
			return nil, err
		}
		result, err := s.inscriptions.Activate(ctx, ins.ID, cand.Email, candidate)
		if err != nil {
			if repository.IsUniqueViolation(err) {
				lastErr = err
				s.logger.Warn("learner credentials collision, retrying",
					zap.String("inscription_id", ins.ID),
					zap.Int("attempt", attempt+1))
				continue
			}
			s.metrics.RecordActivation(string(models.AccountFailedTransient))
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible d'activer l'inscription")
		}

		out := &ActivationOutcome{
			InscriptionID: ins.ID,
			UserID:        result.UserID,
			Outcome:       result.Outcome,
		}
		if result.Outcome == models.AccountCreatedNew {
			out.Username = candidate.Username
			out.Password = password
		}
		if !result.AlreadyActive {
			s.metrics.RecordActivation(string(result.Outcome))
			s.logger.Info("inscription activated",
				zap.String("inscription_id", ins.ID),
				zap.String("numero_inscription", ins.NumeroInscription),
				zap.String("outcome", string(result.Outcome)))
		}
		return out, nil
	}
	s.metrics.RecordActivation(string(models.AccountFailedTransient))
	return nil, appErrors.Wrap(lastErr, appErrors.ErrNumberingExhausted.Code, appErrors.ErrNumberingExhausted.Status, "impossible d'allouer des identifiants d'apprenant")
}

// buildCandidate derives the learner account from the candidature. The
// attempt index salts the username so collision retries converge.
func (s *ActivationService) buildCandidate(ctx context.Context, cand *models.Candidature, year, attempt int) (*models.User, string, error) {
	matricule, err := s.numbering.AllocateMatricule(ctx, models.RoleApprenant, year)
	if err != nil {
		return nil, "", err
	}
	username, err := s.freeUsername(ctx, cand.Prenom, cand.Nom, attempt)
	if err != nil {
		return nil, "", err
	}
	password := opaqueToken()[:12]
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de générer le mot de passe")
	}
	etab := cand.EtablissementID
	return &models.User{
		Matricule:       matricule,
		Email:           cand.Email,
		Username:        username,
		PasswordHash:    string(hash),
		Prenom:          cand.Prenom,
		Nom:             cand.Nom,
		Role:            models.RoleApprenant,
		EtablissementID: &etab,
		Active:          true,
	}, password, nil
}

func (s *ActivationService) freeUsername(ctx context.Context, prenom, nom string, attempt int) (string, error) {
	base := slugify(prenom) + "." + slugify(nom)
	for i := 0; i < 10; i++ {
		candidate := base
		if n := attempt*10 + i; n > 0 {
			candidate = fmt.Sprintf("%s%d", base, n)
		}
		exists, err := s.users.UsernameExists(ctx, candidate)
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de vérifier le nom d'utilisateur")
		}
		if !exists {
			return candidate, nil
		}
	}
	// everything taken, fall back to a random suffix
	return base + "." + strings.ToLower(randomString(4, upperAlnum)), nil
}

// slugify lowercases and strips everything outside [a-z0-9] so usernames stay
// login friendly.
func slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == 'é' || r == 'è' || r == 'ê' || r == 'ë':
			b.WriteRune('e')
		case r == 'à' || r == 'â':
			b.WriteRune('a')
		case r == 'î' || r == 'ï':
			b.WriteRune('i')
		case r == 'ô' || r == 'ö':
			b.WriteRune('o')
		case r == 'ù' || r == 'û' || r == 'ü':
			b.WriteRune('u')
		case r == 'ç':
			b.WriteRune('c')
		}
	}
	if b.Len() == 0 {
		return "apprenant"
	}
	return b.String()
}

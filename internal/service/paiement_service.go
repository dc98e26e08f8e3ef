package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/gesco-api/internal/gateway"
	"github.com/noah-isme/gesco-api/internal/models"
	"github.com/noah-isme/gesco-api/internal/repository"
	"github.com/noah-isme/gesco-api/pkg/config"
	appErrors "github.com/noah-isme/gesco-api/pkg/errors"
)

type paiementRepository interface {
	FindByID(ctx context.Context, id string) (*models.Paiement, error)
	FindByNumero(ctx context.Context, numero string) (*models.Paiement, error)
	Create(ctx context.Context, p *models.Paiement, actor models.ActorContext, details string) error
	MarkEnCours(ctx context.Context, paiementID, externalRef string, raw json.RawMessage, actor models.ActorContext) error
	Confirm(ctx context.Context, paiementID string, fees int64, callback json.RawMessage, actor models.ActorContext) (*repository.ConfirmResult, error)
	Fail(ctx context.Context, paiementID string, target models.PaiementStatus, note string, callback json.RawMessage, actor models.ActorContext) error
	HasOpenPayment(ctx context.Context, inscriptionPaiementID string) (bool, error)
	LatestForObligation(ctx context.Context, inscriptionPaiementID string) (*models.Paiement, error)
	ListStaleEnCoursBefore(ctx context.Context, cutoff time.Time) ([]models.Paiement, error)
}

type enrollmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Inscription, error)
	FindByCandidature(ctx context.Context, candidatureID string) (*models.Inscription, error)
	FindPaiementInfo(ctx context.Context, inscriptionID string) (*models.InscriptionPaiement, error)
	FindObligation(ctx context.Context, id string) (*models.InscriptionPaiement, error)
	CreateEnrollment(ctx context.Context, ins *models.Inscription, obligation *models.InscriptionPaiement, paiement *models.Paiement, actor models.ActorContext) error
	DeleteIfOrphanPending(ctx context.Context, inscriptionID string) (bool, error)
}

type planResolver interface {
	FindActivePlan(ctx context.Context, filiereID, niveauID, anneeID string) (*models.PlanPaiement, error)
	FindPlan(ctx context.Context, id string) (*models.PlanPaiement, error)
	ListTranches(ctx context.Context, planID string) ([]models.TranchePaiement, error)
	NextDueTranche(ctx context.Context, inscriptionPaiementID string) (*models.TranchePaiement, error)
}

type candidatureReader interface {
	FindByID(ctx context.Context, id string) (*models.Candidature, error)
	FindByNumero(ctx context.Context, numero string) (*models.Candidature, error)
}

type enrollmentNumberAllocator interface {
	AllocateInscriptionNumber(ctx context.Context, etablissementID string, year int) (string, error)
	AllocateTransactionNumber(now time.Time) string
}

type inscriptionActivator interface {
	TryActivate(ctx context.Context, inscriptionID string) (*ActivationOutcome, error)
}

type checkoutGateway interface {
	CreateCheckoutInvoice(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutSession, error)
}

// InitiateEnrollmentRequest opens the payment flow for an approved
// candidature.
type InitiateEnrollmentRequest struct {
	NumeroCandidature string              `json:"numero_candidature" validate:"required"`
	Token             string              `json:"token" validate:"required"`
	Mode              models.ModePaiement `json:"mode" validate:"required,oneof=UNIQUE ECHELONNE"`
}

// PaymentSession is what the candidate needs to pay: the hosted page URL and
// the internal references to poll with.
type PaymentSession struct {
	PaiementID        string `json:"paiement_id"`
	NumeroTransaction string `json:"numero_transaction"`
	Montant           int64  `json:"montant"`
	URLPaiement       string `json:"url_paiement"`
}

// PaiementService orchestrates payment attempts against the LigdiCash
// gateway and applies their outcomes to the enrollment pipeline.
type PaiementService struct {
	paiements    paiementRepository
	inscriptions enrollmentRepository
	plans        planResolver
	candidatures candidatureReader
	numbering    enrollmentNumberAllocator
	activation   inscriptionActivator
	gateway      checkoutGateway
	metrics      *MetricsService
	baseURL      string
	apiPrefix    string
	staleAfter   time.Duration
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewPaiementService constructs PaiementService.
func NewPaiementService(paiements paiementRepository, inscriptions enrollmentRepository, plans planResolver, candidatures candidatureReader, numbering enrollmentNumberAllocator, activation inscriptionActivator, gw checkoutGateway, metrics *MetricsService, cfg *config.Config, validate *validator.Validate, logger *zap.Logger) *PaiementService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaiementService{
		paiements:    paiements,
		inscriptions: inscriptions,
		plans:        plans,
		candidatures: candidatures,
		numbering:    numbering,
		activation:   activation,
		gateway:      gw,
		metrics:      metrics,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiPrefix:    cfg.APIPrefix,
		staleAfter:   cfg.Enrollment.StalePaymentAfter,
		validator:    validate,
		logger:       logger,
	}
}

// InitiateEnrollment creates (or resumes) the enrollment of an approved
// candidature and opens a checkout session for its first payment.
func (s *PaiementService) InitiateEnrollment(ctx context.Context, req InitiateEnrollmentRequest, actor models.ActorContext) (*PaymentSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "demande d'inscription invalide")
	}
	cand, err := s.loadCandidature(ctx, req.NumeroCandidature, req.Token)
	if err != nil {
		return nil, err
	}

	if existing, err := s.inscriptions.FindByCandidature(ctx, cand.ID); err == nil {
		return s.resumeEnrollment(ctx, cand, existing, actor)
	} else if err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de vérifier l'inscription existante")
	}

	plan, err := s.plans.FindActivePlan(ctx, cand.FiliereID, cand.NiveauID, cand.AnneeID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "aucun plan de paiement actif pour cette formation")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de charger le plan de paiement")
	}
	if !plan.AllowsMode(req.Mode) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("le mode %s n'est pas autorisé par le plan", req.Mode))
	}

	due := plan.MontantDu(req.Mode)
	now := time.Now().UTC()
	amount := due
	var trancheID *string
	if req.Mode == models.ModeEchelonne {
		tranches, err := s.plans.ListTranches(ctx, plan.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de charger les tranches")
		}
		first := models.FirstTranche(tranches)
		if first == nil {
			return nil, appErrors.Clone(appErrors.ErrConfig, "le plan échelonné n'a aucune tranche")
		}
		amount = first.MontantAvecPenalite(now)
		trancheID = &first.ID
	}

	ins := &models.Inscription{
		CandidatureID: cand.ID,
		FraisTotal:    due,
		Solde:         due,
	}
	obligation := &models.InscriptionPaiement{
		PlanID:    plan.ID,
		Mode:      req.Mode,
		MontantDu: due,
	}
	paiement := &models.Paiement{
		TrancheID:         trancheID,
		NumeroTransaction: s.numbering.AllocateTransactionNumber(now),
		Montant:           amount,
		MontantNet:        amount,
		Methode:           models.MethodeLigdicash,
	}

	if err := s.createEnrollmentWithNumero(ctx, cand, ins, obligation, paiement, actor); err != nil {
		return nil, err
	}
	s.metrics.RecordPayment(string(models.PaiementEnAttente))
	return s.openSession(ctx, cand, paiement, actor)
}

// resumeEnrollment handles a repeat initiation: an ACTIVE enrollment is a
// conflict, an open payment must be awaited, and a dead one gets a fresh
// attempt on the same obligation.
func (s *PaiementService) resumeEnrollment(ctx context.Context, cand *models.Candidature, ins *models.Inscription, actor models.ActorContext) (*PaymentSession, error) {
	if ins.Statut != models.InscriptionPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "cette candidature est déjà inscrite")
	}
	obligation, err := s.inscriptions.FindPaiementInfo(ctx, ins.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de charger l'obligation de paiement")
	}
	open, err := s.paiements.HasOpenPayment(ctx, obligation.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de vérifier les paiements")
	}
	if open {
		return nil, appErrors.Clone(appErrors.ErrConflict, "un paiement est déjà en cours pour cette inscription")
	}

	now := time.Now().UTC()
	amount := obligation.MontantDu - obligation.MontantPaye
	var trancheID *string
	if obligation.Mode == models.ModeEchelonne {
		next, err := s.plans.NextDueTranche(ctx, obligation.ID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrConflict, "toutes les tranches sont déjà réglées")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de déterminer la prochaine tranche")
		}
		amount = next.MontantAvecPenalite(now)
		trancheID = &next.ID
	}
	if amount <= 0 {
		return nil, appErrors.Clone(appErrors.ErrConflict, "le solde est déjà réglé")
	}

	paiement := &models.Paiement{
		InscriptionPaiementID: obligation.ID,
		TrancheID:             trancheID,
		NumeroTransaction:     s.numbering.AllocateTransactionNumber(now),
		Montant:               amount,
		MontantNet:            amount,
		Methode:               models.MethodeLigdicash,
	}
	if err := s.paiements.Create(ctx, paiement, actor, "Nouvelle tentative de paiement pour l'inscription "+ins.NumeroInscription); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de créer le paiement")
	}
	s.metrics.RecordPayment(string(models.PaiementEnAttente))
	return s.openSession(ctx, cand, paiement, actor)
}

func (s *PaiementService) createEnrollmentWithNumero(ctx context.Context, cand *models.Candidature, ins *models.Inscription, obligation *models.InscriptionPaiement, paiement *models.Paiement, actor models.ActorContext) error {
	year := time.Now().UTC().Year()
	for attempt := 0; attempt < allocRetries; attempt++ {
		numero, err := s.numbering.AllocateInscriptionNumber(ctx, cand.EtablissementID, year)
		if err != nil {
			return err
		}
		ins.NumeroInscription = numero
		err = s.inscriptions.CreateEnrollment(ctx, ins, obligation, paiement, actor)
		if err == nil {
			return nil
		}
		if !repository.IsUniqueViolation(err) {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de créer l'inscription")
		}
		ins.ID, obligation.ID, paiement.ID = "", "", ""
		s.logger.Warn("inscription number collision, retrying",
			zap.String("numero", numero),
			zap.Int("attempt", attempt+1))
	}
	return appErrors.Clone(appErrors.ErrNumberingExhausted, "impossible d'allouer un numéro d'inscription")
}

// openSession opens the hosted checkout page. A transport failure gets one
// retry with the same transaction number; a second failure leaves the payment
// EN_ATTENTE so a later attempt or the stale sweep can deal with it.
func (s *PaiementService) openSession(ctx context.Context, cand *models.Candidature, paiement *models.Paiement, actor models.ActorContext) (*PaymentSession, error) {
	req := gateway.CheckoutRequest{
		Amount:        paiement.Montant,
		Description:   "Frais d'inscription " + cand.NumeroCandidature,
		CustomerName:  cand.Prenom + " " + cand.Nom,
		CustomerEmail: cand.Email,
		CustomerPhone: cand.Telephone,
		ExternalID:    paiement.NumeroTransaction,
		PaiementID:    paiement.ID,
		CallbackURL:   s.baseURL + s.apiPrefix + "/paiements/webhook/ligdicash",
		ReturnURL:     s.baseURL + s.apiPrefix + "/public/candidatures/" + cand.NumeroCandidature + "/paiement/succes",
		CancelURL:     s.baseURL + s.apiPrefix + "/public/candidatures/" + cand.NumeroCandidature + "/paiement/erreur",
	}

	var session *gateway.CheckoutSession
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		session, err = s.gateway.CreateCheckoutInvoice(ctx, req)
		if err == nil {
			break
		}
		var rejected *gateway.RejectedError
		if errors.As(err, &rejected) {
			note := fmt.Sprintf("Passerelle: %s (%s)", rejected.Message, rejected.Code)
			if failErr := s.paiements.Fail(ctx, paiement.ID, models.PaiementEchec, note, nil, actor); failErr != nil {
				s.logger.Error("could not mark rejected payment", zap.String("paiement_id", paiement.ID), zap.Error(failErr))
			}
			s.metrics.RecordPayment(string(models.PaiementEchec))
			return nil, appErrors.Wrap(rejected, appErrors.ErrGatewayRejected.Code, appErrors.ErrGatewayRejected.Status, appErrors.ErrGatewayRejected.Message)
		}
		s.logger.Warn("gateway unreachable",
			zap.String("paiement_id", paiement.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrGatewayUnreachable.Code, appErrors.ErrGatewayUnreachable.Status, appErrors.ErrGatewayUnreachable.Message)
	}

	if err := s.paiements.MarkEnCours(ctx, paiement.ID, session.Token, nil, actor); err != nil {
		if err == repository.ErrStateConflict {
			return nil, appErrors.Clone(appErrors.ErrStateTransition, "le paiement n'est plus en attente")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible d'ouvrir la session de paiement")
	}
	s.metrics.RecordPayment(string(models.PaiementEnCours))

	return &PaymentSession{
		PaiementID:        paiement.ID,
		NumeroTransaction: paiement.NumeroTransaction,
		Montant:           paiement.Montant,
		URLPaiement:       session.PaymentURL,
	}, nil
}

// PayNextTranche opens a checkout session for the next unpaid installment of
// an existing enrollment.
func (s *PaiementService) PayNextTranche(ctx context.Context, numeroCandidature, token string, actor models.ActorContext) (*PaymentSession, error) {
	cand, err := s.loadCandidature(ctx, numeroCandidature, token)
	if err != nil {
		return nil, err
	}
	ins, err := s.inscriptions.FindByCandidature(ctx, cand.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "aucune inscription pour cette candidature")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de charger l'inscription")
	}
	obligation, err := s.inscriptions.FindPaiementInfo(ctx, ins.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de charger l'obligation de paiement")
	}
	if obligation.Mode != models.ModeEchelonne {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "le paiement par tranches n'est pas actif pour cette inscription")
	}
	open, err := s.paiements.HasOpenPayment(ctx, obligation.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de vérifier les paiements")
	}
	if open {
		return nil, appErrors.Clone(appErrors.ErrConflict, "un paiement est déjà en cours pour cette inscription")
	}

	now := time.Now().UTC()
	next, err := s.plans.NextDueTranche(ctx, obligation.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrConflict, "toutes les tranches sont déjà réglées")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de déterminer la prochaine tranche")
	}

	paiement := &models.Paiement{
		InscriptionPaiementID: obligation.ID,
		TrancheID:             &next.ID,
		NumeroTransaction:     s.numbering.AllocateTransactionNumber(now),
		Montant:               next.MontantAvecPenalite(now),
		MontantNet:            next.MontantAvecPenalite(now),
		Methode:               models.MethodeLigdicash,
	}
	details := fmt.Sprintf("Paiement de la tranche %d (%s)", next.Numero, next.Nom)
	if err := s.paiements.Create(ctx, paiement, actor, details); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de créer le paiement")
	}
	s.metrics.RecordPayment(string(models.PaiementEnAttente))
	return s.openSession(ctx, cand, paiement, actor)
}

// ConfirmPayment settles a payment and, when the confirmation authorizes it,
// activates the enrollment. Idempotent: reconfirming returns no commands.
func (s *PaiementService) ConfirmPayment(ctx context.Context, paiementID string, fees int64, callback json.RawMessage, actor models.ActorContext) ([]models.Command, error) {
	result, err := s.paiements.Confirm(ctx, paiementID, fees, callback, actor)
	if err != nil {
		if err == repository.ErrStateConflict {
			return nil, appErrors.Clone(appErrors.ErrStateTransition, "le paiement ne peut plus être confirmé")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de confirmer le paiement")
	}
	if result.AlreadyConfirmed {
		s.logger.Info("payment already confirmed", zap.String("paiement_id", paiementID))
		return nil, nil
	}
	s.metrics.RecordPayment(string(models.PaiementConfirme))

	ins, err := s.inscriptions.FindByID(ctx, result.InscriptionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de charger l'inscription")
	}
	cand, err := s.candidatures.FindByID(ctx, ins.CandidatureID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de charger la candidature")
	}

	cmds := []models.Command{{
		Type:  models.CommandNotifyPaymentOK,
		Email: cand.Email,
		Payload: map[string]interface{}{
			"numero_inscription": ins.NumeroInscription,
			"montant_paye":       result.AmountPaid,
			"montant_du":         result.AmountDue,
			"statut_paiement":    string(result.Aggregate),
		},
	}}

	if models.EnrollmentAuthorized(result.Mode, result.Aggregate, result.FirstTranchePaid) {
		outcome, err := s.activation.TryActivate(ctx, result.InscriptionID)
		if err != nil {
			// the payment is settled; activation will be retried on the
			// next confirmation or by support tooling
			s.logger.Error("activation failed after confirmed payment",
				zap.String("inscription_id", result.InscriptionID),
				zap.Error(err))
			return cmds, nil
		}
		cmds = append(cmds, models.Command{
			Type:  models.CommandNotifyActivated,
			Email: cand.Email,
			Payload: map[string]interface{}{
				"numero_inscription": ins.NumeroInscription,
			},
		})
		if outcome.Outcome == models.AccountCreatedNew {
			cmds = append(cmds, models.Command{
				Type:  models.CommandNotifyCredentials,
				Email: cand.Email,
				Payload: map[string]interface{}{
					"username":     outcome.Username,
					"mot_de_passe": outcome.Password,
				},
			})
		}
	}
	return cmds, nil
}

// FailPayment records a gateway failure or cancellation.
func (s *PaiementService) FailPayment(ctx context.Context, paiementID string, target models.PaiementStatus, note string, callback json.RawMessage, actor models.ActorContext) ([]models.Command, error) {
	if err := s.paiements.Fail(ctx, paiementID, target, note, callback, actor); err != nil {
		if err == repository.ErrStateConflict {
			return nil, appErrors.Clone(appErrors.ErrStateTransition, "le paiement ne peut plus être modifié")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de clore le paiement")
	}
	s.metrics.RecordPayment(string(target))

	// best effort notification; the state change already committed
	p, err := s.paiements.FindByID(ctx, paiementID)
	if err != nil {
		return nil, nil
	}
	obligation, err := s.inscriptions.FindObligation(ctx, p.InscriptionPaiementID)
	if err != nil {
		return nil, nil
	}
	ins, err := s.inscriptions.FindByID(ctx, obligation.InscriptionID)
	if err != nil {
		return nil, nil
	}
	cand, err := s.candidatures.FindByID(ctx, ins.CandidatureID)
	if err != nil {
		return nil, nil
	}
	return []models.Command{{
		Type:  models.CommandNotifyPaymentKO,
		Email: cand.Email,
		Payload: map[string]interface{}{
			"numero_transaction": p.NumeroTransaction,
			"motif":              note,
		},
	}}, nil
}

// VerifyEnrollmentStatus is the polling endpoint behind the candidate
// dashboard: it tells the candidate what to do next.
func (s *PaiementService) VerifyEnrollmentStatus(ctx context.Context, numeroCandidature, token string) (*models.StatutInscriptionInfo, error) {
	cand, err := s.candidatures.FindByNumero(ctx, numeroCandidature)
	if err != nil {
		if err == sql.ErrNoRows {
			return &models.StatutInscriptionInfo{
				Message:       "candidature introuvable",
				ActionRequise: models.ActionCandidater,
			}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de charger la candidature")
	}
	info := &models.StatutInscriptionInfo{CandidatureID: cand.ID}

	if cand.Statut != models.CandidatureApprouvee {
		info.Message = fmt.Sprintf("candidature %s", strings.ToLower(string(cand.Statut)))
		info.ActionRequise = models.ActionAttendre
		if cand.Statut.IsTerminal() {
			info.ActionRequise = models.ActionCandidater
		}
		return info, nil
	}
	if !cand.TokenValid(token, time.Now().UTC()) {
		info.Message = "lien d'inscription expiré ou invalide"
		info.ActionRequise = models.ActionErreur
		return info, nil
	}

	ins, err := s.inscriptions.FindByCandidature(ctx, cand.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			info.Message = "candidature approuvée, inscription à initier"
			info.ActionRequise = models.ActionInscrire
			return info, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de charger l'inscription")
	}
	info.InscriptionID = ins.ID

	switch ins.Statut {
	case models.InscriptionActive:
		info.PeutAcceder = true
		info.Message = "inscription active"
		return info, nil
	case models.InscriptionPending:
		obligation, err := s.inscriptions.FindPaiementInfo(ctx, ins.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de charger l'obligation de paiement")
		}
		if latest, err := s.paiements.LatestForObligation(ctx, obligation.ID); err == nil {
			info.PaiementID = latest.ID
			switch latest.Statut {
			case models.PaiementEnAttente, models.PaiementEnCours:
				info.Message = "paiement en attente de confirmation"
				info.ActionRequise = models.ActionAttendre
				return info, nil
			}
		}
		// every attempt is dead: reap the abandoned enrollment now rather
		// than waiting for the scheduler, so re-initiation starts clean
		if removed, err := s.inscriptions.DeleteIfOrphanPending(ctx, ins.ID); err != nil {
			s.logger.Warn("orphan enrollment cleanup failed",
				zap.String("inscription_id", ins.ID),
				zap.Error(err))
		} else if removed {
			info.InscriptionID = ""
			info.PaiementID = ""
			info.Message = "candidature approuvée, inscription à initier"
			info.ActionRequise = models.ActionInscrire
			return info, nil
		}
		info.Message = "paiement requis pour finaliser l'inscription"
		info.ActionRequise = models.ActionInscrire
		return info, nil
	default:
		info.Message = fmt.Sprintf("inscription %s", strings.ToLower(string(ins.Statut)))
		info.ActionRequise = models.ActionErreur
		return info, nil
	}
}

// CancelStalePayments sweeps EN_COURS payments on still-pending enrollments
// that never heard back from the gateway.
func (s *PaiementService) CancelStalePayments(ctx context.Context, now time.Time) (int64, error) {
	stale, err := s.paiements.ListStaleEnCoursBefore(ctx, now.Add(-s.staleAfter))
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de lister les paiements expirés")
	}
	actor := models.SystemActor("127.0.0.1")
	note := "Paiement expiré automatiquement après " + formatDelai(s.staleAfter)
	var cancelled int64
	for _, p := range stale {
		if err := s.paiements.Fail(ctx, p.ID, models.PaiementAnnule, note, nil, actor); err != nil {
			s.logger.Warn("stale payment cancellation failed",
				zap.String("paiement_id", p.ID),
				zap.Error(err))
			continue
		}
		s.metrics.RecordPayment(string(models.PaiementAnnule))
		cancelled++
	}
	return cancelled, nil
}

// formatDelai renders a cutoff duration in French for admin notes.
func formatDelai(d time.Duration) string {
	if d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 heure"
		}
		return fmt.Sprintf("%d heures", h)
	}
	return fmt.Sprintf("%d minutes", int(d.Minutes()))
}

func (s *PaiementService) loadCandidature(ctx context.Context, numero, token string) (*models.Candidature, error) {
	cand, err := s.candidatures.FindByNumero(ctx, numero)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "candidature introuvable")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de charger la candidature")
	}
	if cand.Statut != models.CandidatureApprouvee {
		return nil, appErrors.Clone(appErrors.ErrStateTransition, "la candidature n'est pas approuvée")
	}
	if !cand.TokenValid(token, time.Now().UTC()) {
		return nil, appErrors.Clone(appErrors.ErrTokenExpired, "lien d'inscription expiré ou invalide")
	}
	return cand, nil
}

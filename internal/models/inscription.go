package models

import "time"

// InscriptionStatus represents the lifecycle of an enrollment.
type InscriptionStatus string

const (
	InscriptionPending     InscriptionStatus = "PENDING"
	InscriptionActive      InscriptionStatus = "ACTIVE"
	InscriptionSuspended   InscriptionStatus = "SUSPENDED"
	InscriptionTransferred InscriptionStatus = "TRANSFERRED"
	InscriptionWithdrawn   InscriptionStatus = "WITHDRAWN"
	InscriptionGraduated   InscriptionStatus = "GRADUATED"
	InscriptionExpelled    InscriptionStatus = "EXPELLED"
)

// PaymentAggregateStatus is the aggregate settlement state of an enrollment's
// payment obligation.
type PaymentAggregateStatus string

const (
	AggregateEnAttente PaymentAggregateStatus = "EN_ATTENTE"
	AggregatePartiel   PaymentAggregateStatus = "PARTIEL"
	AggregateComplet   PaymentAggregateStatus = "COMPLET"
	AggregateEnRetard  PaymentAggregateStatus = "EN_RETARD"
)

// Inscription is the materialized enrollment derived from an approved candidature.
type Inscription struct {
	ID                string            `db:"id" json:"id"`
	CandidatureID     string            `db:"candidature_id" json:"candidature_id"`
	ApprenantID       *string           `db:"apprenant_id" json:"apprenant_id,omitempty"`
	NumeroInscription string            `db:"numero_inscription" json:"numero_inscription"`
	Statut            InscriptionStatus `db:"statut" json:"statut"`
	ClasseID          *string           `db:"classe_id" json:"classe_id,omitempty"`
	DateDebut         *time.Time        `db:"date_debut" json:"date_debut,omitempty"`
	DateFinPrevue     *time.Time        `db:"date_fin_prevue" json:"date_fin_prevue,omitempty"`
	DateFinEffective  *time.Time        `db:"date_fin_effective" json:"date_fin_effective,omitempty"`
	FraisTotal        int64             `db:"frais_total" json:"frais_total"`
	MontantPaye       int64             `db:"montant_paye" json:"montant_paye"`
	Solde             int64             `db:"solde" json:"solde"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}

// InscriptionPaiement fixes the plan choice for an inscription.
type InscriptionPaiement struct {
	ID            string                 `db:"id" json:"id"`
	InscriptionID string                 `db:"inscription_id" json:"inscription_id"`
	PlanID        string                 `db:"plan_id" json:"plan_id"`
	Mode          ModePaiement           `db:"mode" json:"mode"`
	MontantDu     int64                  `db:"montant_du" json:"montant_du"`
	MontantPaye   int64                  `db:"montant_paye" json:"montant_paye"`
	Statut        PaymentAggregateStatus `db:"statut" json:"statut"`
	CreatedAt     time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time              `db:"updated_at" json:"updated_at"`
}

// AggregateStatus derives the settlement state from the paid amount, the
// amount due, and the next unpaid tranche (nil in UNIQUE mode or when all
// tranches are settled).
func AggregateStatus(amountPaid, amountDue int64, nextDue *TranchePaiement, now time.Time) PaymentAggregateStatus {
	if amountPaid >= amountDue {
		return AggregateComplet
	}
	if amountPaid > 0 {
		if nextDue != nil && nextDue.DateEcheance != nil && now.After(*nextDue.DateEcheance) {
			return AggregateEnRetard
		}
		return AggregatePartiel
	}
	return AggregateEnAttente
}

// EnrollmentAuthorized decides whether the inscription may be activated:
// UNIQUE mode requires full settlement, ECHELONNE requires a confirmed
// payment on the gating first tranche.
func EnrollmentAuthorized(mode ModePaiement, aggregate PaymentAggregateStatus, firstTranchePaid bool) bool {
	if mode == ModeUnique {
		return aggregate == AggregateComplet
	}
	return firstTranchePaid
}

// StatutInscriptionInfo is the polling payload for the enrollment dashboard.
type StatutInscriptionInfo struct {
	PeutAcceder   bool   `json:"peut_acceder"`
	Message       string `json:"message"`
	ActionRequise string `json:"action_requise"`
	CandidatureID string `json:"candidature_id,omitempty"`
	InscriptionID string `json:"inscription_id,omitempty"`
	PaiementID    string `json:"paiement_id,omitempty"`
}

// Actions the dashboard can request from the candidate.
const (
	ActionCandidater = "candidater"
	ActionInscrire   = "inscrire"
	ActionAttendre   = "attendre"
	ActionErreur     = "erreur"
)

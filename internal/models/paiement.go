package models

import (
	"encoding/json"
	"time"
)

// PaiementStatus represents the lifecycle of a payment attempt.
type PaiementStatus string

const (
	PaiementEnAttente PaiementStatus = "EN_ATTENTE"
	PaiementEnCours   PaiementStatus = "EN_COURS"
	PaiementConfirme  PaiementStatus = "CONFIRME"
	PaiementEchec     PaiementStatus = "ECHEC"
	PaiementAnnule    PaiementStatus = "ANNULE"
	PaiementRembourse PaiementStatus = "REMBOURSE"
)

// paiementTransitions encodes the allowed status DAG:
// EN_ATTENTE → EN_COURS → {CONFIRME | ECHEC | ANNULE}; CONFIRME → REMBOURSE.
// EN_ATTENTE may fail or be cancelled directly when the gateway rejects the
// session before it ever opens.
var paiementTransitions = map[PaiementStatus][]PaiementStatus{
	PaiementEnAttente: {PaiementEnCours, PaiementEchec, PaiementAnnule},
	PaiementEnCours:   {PaiementConfirme, PaiementEchec, PaiementAnnule},
	PaiementConfirme:  {PaiementRembourse},
}

// CanTransition reports whether a payment status change is allowed.
func (s PaiementStatus) CanTransition(to PaiementStatus) bool {
	for _, next := range paiementTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Paiement is a single payment attempt against an inscription's obligation.
type Paiement struct {
	ID                    string          `db:"id" json:"id"`
	InscriptionPaiementID string          `db:"inscription_paiement_id" json:"inscription_paiement_id"`
	TrancheID             *string         `db:"tranche_id" json:"tranche_id,omitempty"`
	NumeroTransaction     string          `db:"numero_transaction" json:"numero_transaction"`
	ReferenceExterne      *string         `db:"reference_externe" json:"reference_externe,omitempty"`
	Montant               int64           `db:"montant" json:"montant"`
	FraisTransaction      int64           `db:"frais_transaction" json:"frais_transaction"`
	MontantNet            int64           `db:"montant_net" json:"montant_net"`
	Methode               string          `db:"methode" json:"methode"`
	Statut                PaiementStatus  `db:"statut" json:"statut"`
	DateCreation          time.Time       `db:"date_creation" json:"date_creation"`
	DateConfirmation      *time.Time      `db:"date_confirmation" json:"date_confirmation,omitempty"`
	DonneesCallback       json.RawMessage `db:"donnees_callback" json:"donnees_callback,omitempty"`
	NotesAdmin            *string         `db:"notes_admin" json:"notes_admin,omitempty"`
}

// MethodeLigdicash is the default payment method for gateway payments.
const MethodeLigdicash = "LIGDICASH"

// HistoriqueAction tags entries of the payment audit trail.
type HistoriqueAction string

const (
	HistoriqueCreation      HistoriqueAction = "CREATION"
	HistoriqueRedirection   HistoriqueAction = "REDIRECTION"
	HistoriqueConfirmation  HistoriqueAction = "CONFIRMATION"
	HistoriqueEchec         HistoriqueAction = "ECHEC"
	HistoriqueAnnulation    HistoriqueAction = "ANNULATION"
	HistoriqueRemboursement HistoriqueAction = "REMBOURSEMENT"
)

// HistoriquePaiement is an append-only audit record of a payment action.
type HistoriquePaiement struct {
	ID            string           `db:"id" json:"id"`
	PaiementID    string           `db:"paiement_id" json:"paiement_id"`
	Action        HistoriqueAction `db:"action" json:"action"`
	AncienStatut  *PaiementStatus  `db:"ancien_statut" json:"ancien_statut,omitempty"`
	NouveauStatut PaiementStatus   `db:"nouveau_statut" json:"nouveau_statut"`
	ActeurID      *string          `db:"acteur_id" json:"acteur_id,omitempty"`
	AdresseIP     string           `db:"adresse_ip" json:"adresse_ip"`
	Details       string           `db:"details" json:"details"`
	Metadata      json.RawMessage  `db:"metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
}

// ActorContext identifies who performs a state change; it replaces any notion
// of an ambient current user and is what the audit layer records.
type ActorContext struct {
	UserID    *string
	Role      UserRole
	IPAddress string
	UserAgent string
}

// SystemActor is the actor recorded for scheduler and webhook driven changes.
func SystemActor(ip string) ActorContext {
	return ActorContext{IPAddress: ip}
}

package models

import "time"

// ModePaiement selects how the plan total is settled.
type ModePaiement string

const (
	ModeUnique    ModePaiement = "UNIQUE"
	ModeEchelonne ModePaiement = "ECHELONNE"
)

// PlanPaiement is a per-formation-per-year payment plan.
type PlanPaiement struct {
	ID                  string  `db:"id" json:"id"`
	FiliereID           string  `db:"filiere_id" json:"filiere_id"`
	NiveauID            *string `db:"niveau_id" json:"niveau_id,omitempty"`
	AnneeID             string  `db:"annee_id" json:"annee_id"`
	MontantTotal        int64   `db:"montant_total" json:"montant_total"`
	RemiseUniquePct     int     `db:"remise_unique_pct" json:"remise_unique_pct"`
	FraisEchelonnement  int64   `db:"frais_echelonnement" json:"frais_echelonnement"`
	PaiementUniqueOK    bool    `db:"paiement_unique_ok" json:"paiement_unique_ok"`
	PaiementEchelonneOK bool    `db:"paiement_echelonne_ok" json:"paiement_echelonne_ok"`
	Actif               bool    `db:"actif" json:"actif"`
}

// AllowsMode reports whether the plan permits the requested payment mode.
func (p *PlanPaiement) AllowsMode(mode ModePaiement) bool {
	switch mode {
	case ModeUnique:
		return p.PaiementUniqueOK
	case ModeEchelonne:
		return p.PaiementEchelonneOK
	}
	return false
}

// MontantDu computes the amount due for a mode: the total minus the
// single-payment discount, or the total plus the installment surcharge.
func (p *PlanPaiement) MontantDu(mode ModePaiement) int64 {
	if mode == ModeUnique {
		return p.MontantTotal * int64(100-p.RemiseUniquePct) / 100
	}
	return p.MontantTotal + p.FraisEchelonnement
}

// TranchePaiement is an installment within a plan.
type TranchePaiement struct {
	ID                string     `db:"id" json:"id"`
	PlanID            string     `db:"plan_id" json:"plan_id"`
	Numero            int        `db:"numero" json:"numero"`
	Nom               string     `db:"nom" json:"nom"`
	Montant           int64      `db:"montant" json:"montant"`
	DateEcheance      *time.Time `db:"date_echeance" json:"date_echeance,omitempty"`
	EstPremiere       bool       `db:"est_premiere" json:"est_premiere"`
	PenaliteRetardPct int        `db:"penalite_retard_pct" json:"penalite_retard_pct"`
}

// MontantAvecPenalite applies the late penalty when the due date has passed.
func (t *TranchePaiement) MontantAvecPenalite(today time.Time) int64 {
	if t.DateEcheance == nil || !today.After(*t.DateEcheance) {
		return t.Montant
	}
	return t.Montant * int64(100+t.PenaliteRetardPct) / 100
}

// FirstTranche picks the tranche flagged est_premiere, falling back to the
// lowest numero when no tranche carries the flag.
func FirstTranche(tranches []TranchePaiement) *TranchePaiement {
	if len(tranches) == 0 {
		return nil
	}
	var lowest *TranchePaiement
	for i := range tranches {
		t := &tranches[i]
		if t.EstPremiere {
			return t
		}
		if lowest == nil || t.Numero < lowest.Numero {
			lowest = t
		}
	}
	return lowest
}

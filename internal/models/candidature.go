package models

import "time"

// CandidatureStatus represents the lifecycle of an application.
type CandidatureStatus string

const (
	CandidatureBrouillon     CandidatureStatus = "BROUILLON"
	CandidatureSoumise       CandidatureStatus = "SOUMISE"
	CandidatureEnCoursExamen CandidatureStatus = "EN_COURS_EXAMEN"
	CandidatureApprouvee     CandidatureStatus = "APPROUVEE"
	CandidatureRejetee       CandidatureStatus = "REJETEE"
	CandidatureAnnulee       CandidatureStatus = "ANNULEE"
	CandidatureExpiree       CandidatureStatus = "EXPIREE"
)

// IsTerminal reports whether no further transition may leave the status.
// APPROUVEE is terminal for the candidature itself; it feeds enrollment.
func (s CandidatureStatus) IsTerminal() bool {
	switch s {
	case CandidatureApprouvee, CandidatureRejetee, CandidatureAnnulee, CandidatureExpiree:
		return true
	}
	return false
}

// ActiveApplicationStatuses are the statuses counted by the uniqueness rule:
// one active application per (email, formation) tuple.
var ActiveApplicationStatuses = []CandidatureStatus{
	CandidatureSoumise,
	CandidatureEnCoursExamen,
	CandidatureApprouvee,
}

// CandidatureEvent identifies a trigger of the application state machine.
type CandidatureEvent string

const (
	EventSubmit      CandidatureEvent = "SUBMIT"
	EventStartReview CandidatureEvent = "START_REVIEW"
	EventApprove     CandidatureEvent = "APPROVE"
	EventReject      CandidatureEvent = "REJECT"
	EventCancel      CandidatureEvent = "CANCEL"
	EventExpire      CandidatureEvent = "EXPIRE"
)

// CandidatureTransition is a single allowed edge of the state machine.
type CandidatureTransition struct {
	From  CandidatureStatus
	Event CandidatureEvent
	To    CandidatureStatus
}

var candidatureTransitions = []CandidatureTransition{
	{From: CandidatureBrouillon, Event: EventSubmit, To: CandidatureSoumise},
	{From: CandidatureSoumise, Event: EventStartReview, To: CandidatureEnCoursExamen},
	{From: CandidatureSoumise, Event: EventApprove, To: CandidatureApprouvee},
	{From: CandidatureEnCoursExamen, Event: EventApprove, To: CandidatureApprouvee},
	{From: CandidatureSoumise, Event: EventReject, To: CandidatureRejetee},
	{From: CandidatureEnCoursExamen, Event: EventReject, To: CandidatureRejetee},
	{From: CandidatureBrouillon, Event: EventCancel, To: CandidatureAnnulee},
	{From: CandidatureSoumise, Event: EventCancel, To: CandidatureAnnulee},
	{From: CandidatureBrouillon, Event: EventExpire, To: CandidatureExpiree},
}

// TransitionFor returns the target status for a state+event pair when allowed.
func TransitionFor(from CandidatureStatus, event CandidatureEvent) (CandidatureStatus, bool) {
	for _, tr := range candidatureTransitions {
		if tr.From == from && tr.Event == event {
			return tr.To, true
		}
	}
	return "", false
}

// Candidature is a prospective student's application.
type Candidature struct {
	ID                   string            `db:"id" json:"id"`
	NumeroCandidature    string            `db:"numero_candidature" json:"numero_candidature"`
	TokenInscription     string            `db:"token_inscription" json:"-"`
	TokenExpiresAt       *time.Time        `db:"token_expires_at" json:"-"`
	Prenom               string            `db:"prenom" json:"prenom"`
	Nom                  string            `db:"nom" json:"nom"`
	DateNaissance        *time.Time        `db:"date_naissance" json:"date_naissance,omitempty"`
	LieuNaissance        string            `db:"lieu_naissance" json:"lieu_naissance"`
	Genre                string            `db:"genre" json:"genre"`
	Telephone            string            `db:"telephone" json:"telephone"`
	Email                string            `db:"email" json:"email"`
	Adresse              string            `db:"adresse" json:"adresse"`
	NomPere              *string           `db:"nom_pere" json:"nom_pere,omitempty"`
	TelephonePere        *string           `db:"telephone_pere" json:"telephone_pere,omitempty"`
	NomMere              *string           `db:"nom_mere" json:"nom_mere,omitempty"`
	TelephoneMere        *string           `db:"telephone_mere" json:"telephone_mere,omitempty"`
	NomTuteur            *string           `db:"nom_tuteur" json:"nom_tuteur,omitempty"`
	TelephoneTuteur      *string           `db:"telephone_tuteur" json:"telephone_tuteur,omitempty"`
	DernierEtablissement *string           `db:"dernier_etablissement" json:"dernier_etablissement,omitempty"`
	DernierDiplome       *string           `db:"dernier_diplome" json:"dernier_diplome,omitempty"`
	EtablissementID      string            `db:"etablissement_id" json:"etablissement_id"`
	FiliereID            string            `db:"filiere_id" json:"filiere_id"`
	NiveauID             string            `db:"niveau_id" json:"niveau_id"`
	AnneeID              string            `db:"annee_id" json:"annee_id"`
	Statut               CandidatureStatus `db:"statut" json:"statut"`
	DateSoumission       *time.Time        `db:"date_soumission" json:"date_soumission,omitempty"`
	DateExamen           *time.Time        `db:"date_examen" json:"date_examen,omitempty"`
	DateDecision         *time.Time        `db:"date_decision" json:"date_decision,omitempty"`
	ExamineParID         *string           `db:"examine_par_id" json:"examine_par_id,omitempty"`
	MotifRejet           *string           `db:"motif_rejet" json:"motif_rejet,omitempty"`
	NotesApprobation     *string           `db:"notes_approbation" json:"notes_approbation,omitempty"`
	CreatedAt            time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time         `db:"updated_at" json:"updated_at"`
}

// Formation extracts the four formation references of the application.
func (c *Candidature) Formation() Formation {
	return Formation{
		EtablissementID: c.EtablissementID,
		FiliereID:       c.FiliereID,
		NiveauID:        c.NiveauID,
		AnneeID:         c.AnneeID,
	}
}

// TokenValid reports whether the inscription token matches and has not expired.
func (c *Candidature) TokenValid(token string, now time.Time) bool {
	if c.TokenInscription == "" || token == "" || c.TokenInscription != token {
		return false
	}
	return c.TokenExpiresAt != nil && now.Before(*c.TokenExpiresAt)
}

// CandidatureFilter narrows the review queue listing.
type CandidatureFilter struct {
	Statut          *CandidatureStatus
	EtablissementID string
	FiliereID       string
	AnneeID         string
	Search          string
	Page            int
	PageSize        int
}

// CandidatureStatusInfo is the public view returned by the status endpoint.
type CandidatureStatusInfo struct {
	NumeroCandidature string            `json:"numero_candidature"`
	Statut            CandidatureStatus `json:"statut"`
	DateSoumission    *time.Time        `json:"date_soumission,omitempty"`
	DateDecision      *time.Time        `json:"date_decision,omitempty"`
	MotifRejet        *string           `json:"motif_rejet,omitempty"`
}

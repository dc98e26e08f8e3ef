package models

// Etablissement is a school establishment the pipeline enrols students into.
type Etablissement struct {
	ID    string `db:"id" json:"id"`
	Code  string `db:"code" json:"code"`
	Nom   string `db:"nom" json:"nom"`
	Ville string `db:"ville" json:"ville"`
	Actif bool   `db:"actif" json:"actif"`
}

// Filiere is a study track offered by an establishment.
type Filiere struct {
	ID              string `db:"id" json:"id"`
	EtablissementID string `db:"etablissement_id" json:"etablissement_id"`
	Code            string `db:"code" json:"code"`
	Nom             string `db:"nom" json:"nom"`
	Actif           bool   `db:"actif" json:"actif"`
}

// Niveau is an academic level within a filiere (L1, L2, ...).
type Niveau struct {
	ID    string `db:"id" json:"id"`
	Code  string `db:"code" json:"code"`
	Nom   string `db:"nom" json:"nom"`
	Ordre int    `db:"ordre" json:"ordre"`
}

// AnneeAcademique is an academic year such as 2024-2025.
type AnneeAcademique struct {
	ID         string `db:"id" json:"id"`
	Libelle    string `db:"libelle" json:"libelle"`
	AnneeDebut int    `db:"annee_debut" json:"annee_debut"`
	Active     bool   `db:"active" json:"active"`
}

// Formation bundles the four references a candidature targets.
type Formation struct {
	EtablissementID string `json:"etablissement_id"`
	FiliereID       string `json:"filiere_id"`
	NiveauID        string `json:"niveau_id"`
	AnneeID         string `json:"annee_id"`
}

// Complete reports whether all four formation references are populated.
func (f Formation) Complete() bool {
	return f.EtablissementID != "" && f.FiliereID != "" && f.NiveauID != "" && f.AnneeID != ""
}

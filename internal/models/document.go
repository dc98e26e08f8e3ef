package models

import (
	"strings"
	"time"
)

// AllowedDocumentExtensions is the closed vocabulary accepted in the
// allowed-formats configuration of a required document.
var AllowedDocumentExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"doc":  {},
	"docx": {},
	"txt":  {},
}

// DocumentType tags the kind of document a candidature must provide.
type DocumentType string

const (
	DocumentActeNaissance         DocumentType = "ACTE_NAISSANCE"
	DocumentDiplome               DocumentType = "DIPLOME"
	DocumentReleveNotes           DocumentType = "RELEVE_NOTES"
	DocumentPhotoIdentite         DocumentType = "PHOTO_IDENTITE"
	DocumentPieceIdentite         DocumentType = "PIECE_IDENTITE"
	DocumentCertificatNationalite DocumentType = "CERTIFICAT_NATIONALITE"
	DocumentAutre                 DocumentType = "AUTRE"
)

// DocumentRequis declares a required document for a (filiere, optional niveau).
type DocumentRequis struct {
	ID               string       `db:"id" json:"id"`
	FiliereID        string       `db:"filiere_id" json:"filiere_id"`
	NiveauID         *string      `db:"niveau_id" json:"niveau_id,omitempty"`
	TypeDocument     DocumentType `db:"type_document" json:"type_document"`
	Nom              string       `db:"nom" json:"nom"`
	Description      string       `db:"description" json:"description"`
	Obligatoire      bool         `db:"obligatoire" json:"obligatoire"`
	TailleMaxOctets  int64        `db:"taille_max_octets" json:"taille_max_octets"`
	FormatsAutorises string       `db:"formats_autorises" json:"formats_autorises"`
	OrdreAffichage   int          `db:"ordre_affichage" json:"ordre_affichage"`
}

// Formats splits the comma-separated allowed formats, lowercased and trimmed.
func (d *DocumentRequis) Formats() []string {
	parts := strings.Split(d.FormatsAutorises, ",")
	formats := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			formats = append(formats, p)
		}
	}
	return formats
}

// AcceptsExtension reports whether the lowercased extension is allowed.
func (d *DocumentRequis) AcceptsExtension(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, f := range d.Formats() {
		if f == ext {
			return true
		}
	}
	return false
}

// DocumentCandidature is a file attached to an application.
type DocumentCandidature struct {
	ID              string       `db:"id" json:"id"`
	CandidatureID   string       `db:"candidature_id" json:"candidature_id"`
	TypeDocument    DocumentType `db:"type_document" json:"type_document"`
	NomOriginal     string       `db:"nom_original" json:"nom_original"`
	CheminStockage  string       `db:"chemin_stockage" json:"-"`
	TailleOctets    int64        `db:"taille_octets" json:"taille_octets"`
	Format          string       `db:"format" json:"format"`
	Valide          bool         `db:"valide" json:"valide"`
	ValideParID     *string      `db:"valide_par_id" json:"valide_par_id,omitempty"`
	DateValidation  *time.Time   `db:"date_validation" json:"date_validation,omitempty"`
	NotesValidation *string      `db:"notes_validation" json:"notes_validation,omitempty"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
}

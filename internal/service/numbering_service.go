package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/gesco-api/internal/models"
	appErrors "github.com/noah-isme/gesco-api/pkg/errors"
)

// allocRetries bounds the retry loop around unique-constraint races when two
// allocations compute the same sequence concurrently.
const allocRetries = 5

type matriculeSequenceReader interface {
	MaxMatriculeSequence(ctx context.Context, prefix string, year int) (int, error)
}

type candidatureCounter interface {
	CountByFormation(ctx context.Context, etablissementID, filiereID, anneeID string) (int, error)
}

type inscriptionCounter interface {
	CountByEtablissementYear(ctx context.Context, etablissementID string, year int) (int, error)
}

type catalogCodeReader interface {
	FindEtablissement(ctx context.Context, id string) (*models.Etablissement, error)
	FindFiliere(ctx context.Context, id string) (*models.Filiere, error)
	FindAnnee(ctx context.Context, id string) (*models.AnneeAcademique, error)
}

// NumberingService allocates human-readable business identifiers. Uniqueness
// is guaranteed by database constraints; callers retry on unique violations
// with a freshly computed sequence.
type NumberingService struct {
	users        matriculeSequenceReader
	candidatures candidatureCounter
	inscriptions inscriptionCounter
	catalog      catalogCodeReader
	logger       *zap.Logger
}

// NewNumberingService constructs NumberingService.
func NewNumberingService(users matriculeSequenceReader, candidatures candidatureCounter, inscriptions inscriptionCounter, catalog catalogCodeReader, logger *zap.Logger) *NumberingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NumberingService{users: users, candidatures: candidatures, inscriptions: inscriptions, catalog: catalog, logger: logger}
}

// AllocateMatricule computes the next matricule for a role in a given year,
// e.g. AP20240042.
func (s *NumberingService) AllocateMatricule(ctx context.Context, role models.UserRole, year int) (string, error) {
	prefix := models.MatriculePrefix(role)
	max, err := s.users.MaxMatriculeSequence(ctx, prefix, year)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible d'allouer le matricule")
	}
	return fmt.Sprintf("%s%d%04d", prefix, year, max+1), nil
}

// AllocateCandidatureNumber computes the application number for a formation,
// e.g. CAND2024ESTINFO0012. When the formation is incomplete a temporary
// CAND-TEMP number is returned; the canonical one is assigned on the first
// save that completes the formation.
func (s *NumberingService) AllocateCandidatureNumber(ctx context.Context, f models.Formation) (string, error) {
	if !f.Complete() {
		return "CAND-TEMP-" + randomString(6, digits), nil
	}
	etab, err := s.catalog.FindEtablissement(ctx, f.EtablissementID)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "établissement introuvable pour la numérotation")
	}
	filiere, err := s.catalog.FindFiliere(ctx, f.FiliereID)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "filière introuvable pour la numérotation")
	}
	annee, err := s.catalog.FindAnnee(ctx, f.AnneeID)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "année académique introuvable pour la numérotation")
	}
	count, err := s.candidatures.CountByFormation(ctx, f.EtablissementID, f.FiliereID, f.AnneeID)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de numéroter la candidature")
	}
	return fmt.Sprintf("CAND%d%s%s%04d", annee.AnneeDebut, etab.Code, filiere.Code, count+1), nil
}

// AllocateInscriptionNumber computes the enrollment number for an
// establishment and start year, e.g. INS2024EST00104.
func (s *NumberingService) AllocateInscriptionNumber(ctx context.Context, etablissementID string, year int) (string, error) {
	etab, err := s.catalog.FindEtablissement(ctx, etablissementID)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "établissement introuvable pour la numérotation")
	}
	count, err := s.inscriptions.CountByEtablissementYear(ctx, etablissementID, year)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de numéroter l'inscription")
	}
	return fmt.Sprintf("INS%d%s%05d", year, etab.Code, count+1), nil
}

// AllocateTransactionNumber builds the internal payment transaction number,
// e.g. PAY20240829143501X7K2QD. No database round trip; the timestamp plus
// random suffix keeps collisions out of reach.
func (s *NumberingService) AllocateTransactionNumber(now time.Time) string {
	return "PAY" + now.UTC().Format("20060102150405") + randomString(6, upperAlnum)
}

const (
	digits     = "0123456789"
	upperAlnum = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// randomString draws n characters from the charset using crypto/rand.
func randomString(n int, charset string) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	for i := range buf {
		buf[i] = charset[int(buf[i])%len(charset)]
	}
	return string(buf)
}

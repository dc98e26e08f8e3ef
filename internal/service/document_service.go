package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/gesco-api/internal/models"
	"github.com/noah-isme/gesco-api/pkg/config"
	appErrors "github.com/noah-isme/gesco-api/pkg/errors"
	"github.com/noah-isme/gesco-api/pkg/storage"
)

type documentRepository interface {
	ListRequis(ctx context.Context, filiereID, niveauID string) ([]models.DocumentRequis, error)
	FindRequis(ctx context.Context, id string) (*models.DocumentRequis, error)
	SaveRequis(ctx context.Context, doc *models.DocumentRequis) error
	ListByCandidature(ctx context.Context, candidatureID string) ([]models.DocumentCandidature, error)
	FindByType(ctx context.Context, candidatureID string, docType models.DocumentType) (*models.DocumentCandidature, error)
	Create(ctx context.Context, doc *models.DocumentCandidature) error
	Delete(ctx context.Context, id string) (string, error)
	DeleteByCandidature(ctx context.Context, candidatureID string) ([]string, error)
	Validate(ctx context.Context, id, validatorID string, valid bool, notes string, now time.Time) error
}

// Upload is a file received from the multipart boundary, already buffered.
type Upload struct {
	Filename string
	Size     int64
	Reader   io.Reader
}

// DocumentService resolves required documents and stores candidature uploads.
type DocumentService struct {
	repo    documentRepository
	blobs   *storage.LocalStorage
	signer  *storage.SignedURLSigner
	minSize int64
	maxSize int64
	logger  *zap.Logger
}

// NewDocumentService constructs DocumentService.
func NewDocumentService(repo documentRepository, blobs *storage.LocalStorage, signer *storage.SignedURLSigner, cfg config.DocumentsConfig, logger *zap.Logger) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentService{
		repo:    repo,
		blobs:   blobs,
		signer:  signer,
		minSize: cfg.MinSizeBytes,
		maxSize: cfg.MaxSizeBytes,
		logger:  logger,
	}
}

// RequiredDocuments lists the declarations applying to a formation: the
// niveau-specific ones plus the filiere-wide ones.
func (s *DocumentService) RequiredDocuments(ctx context.Context, filiereID, niveauID string) ([]models.DocumentRequis, error) {
	docs, err := s.repo.ListRequis(ctx, filiereID, niveauID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de lister les documents requis")
	}
	return docs, nil
}

// MissingRequired returns the mandatory document types a candidature has not
// provided yet. Empty means the file is complete.
func (s *DocumentService) MissingRequired(ctx context.Context, candidatureID, filiereID, niveauID string) ([]models.DocumentType, error) {
	required, err := s.repo.ListRequis(ctx, filiereID, niveauID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de lister les documents requis")
	}
	uploaded, err := s.repo.ListByCandidature(ctx, candidatureID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de lister les documents fournis")
	}
	provided := make(map[models.DocumentType]struct{}, len(uploaded))
	for _, d := range uploaded {
		provided[d.TypeDocument] = struct{}{}
	}
	var missing []models.DocumentType
	for _, req := range required {
		if !req.Obligatoire {
			continue
		}
		if _, ok := provided[req.TypeDocument]; !ok {
			missing = append(missing, req.TypeDocument)
		}
	}
	return missing, nil
}

// SaveRequirement persists a required-document declaration after checking its
// allowed formats against the closed extension vocabulary.
func (s *DocumentService) SaveRequirement(ctx context.Context, doc *models.DocumentRequis) error {
	if len(doc.Formats()) == 0 {
		return appErrors.Clone(appErrors.ErrConfig, "formats_autorises est vide")
	}
	for _, f := range doc.Formats() {
		if _, ok := models.AllowedDocumentExtensions[f]; !ok {
			return appErrors.Clone(appErrors.ErrConfig, fmt.Sprintf("format %q non supporté", f))
		}
	}
	if doc.TailleMaxOctets <= 0 {
		doc.TailleMaxOctets = s.maxSize
	}
	if err := s.repo.SaveRequis(ctx, doc); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible d'enregistrer le document requis")
	}
	return nil
}

// AttachDocument validates and stores an upload for a candidature, replacing
// any previous document of the same type.
func (s *DocumentService) AttachDocument(ctx context.Context, candidatureID string, req *models.DocumentRequis, upload Upload) (*models.DocumentCandidature, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(upload.Filename), "."))
	if err := s.checkUpload(req, ext, upload.Size); err != nil {
		return nil, err
	}

	// one document per type: drop the previous upload first
	if prev, err := s.repo.FindByType(ctx, candidatureID, req.TypeDocument); err == nil {
		if path, err := s.repo.Delete(ctx, prev.ID); err == nil {
			if err := s.blobs.Delete(path); err != nil {
				s.logger.Warn("orphan blob left behind", zap.String("path", path), zap.Error(err))
			}
		}
	} else if err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de vérifier les documents existants")
	}

	relPath := filepath.Join("candidatures", candidatureID, uuid.NewString()+"."+ext)
	if _, err := s.blobs.SaveStream(relPath, upload.Reader); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible d'enregistrer le fichier")
	}

	doc := &models.DocumentCandidature{
		CandidatureID:  candidatureID,
		TypeDocument:   req.TypeDocument,
		NomOriginal:    filepath.Base(upload.Filename),
		CheminStockage: relPath,
		TailleOctets:   upload.Size,
		Format:         ext,
	}
	if err := s.repo.Create(ctx, doc); err != nil {
		if delErr := s.blobs.Delete(relPath); delErr != nil {
			s.logger.Warn("orphan blob left behind", zap.String("path", relPath), zap.Error(delErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible d'attacher le document")
	}
	return doc, nil
}

// checkUpload applies the size window and the per-requirement extension list.
// The configured maximum itself is accepted; one byte more is not.
func (s *DocumentService) checkUpload(req *models.DocumentRequis, ext string, size int64) error {
	if size < s.minSize {
		return appErrors.Clone(appErrors.ErrBadFormat, "fichier trop petit ou vide")
	}
	max := req.TailleMaxOctets
	if max <= 0 || max > s.maxSize {
		max = s.maxSize
	}
	if size > max {
		return appErrors.Clone(appErrors.ErrFileTooLarge, fmt.Sprintf("fichier de %d octets, maximum %d", size, max))
	}
	if ext == "" || !req.AcceptsExtension(ext) {
		return appErrors.Clone(appErrors.ErrBadFormat, fmt.Sprintf("format %q non accepté pour ce document", ext))
	}
	return nil
}

// ListForCandidature returns the uploaded documents of an application.
func (s *DocumentService) ListForCandidature(ctx context.Context, candidatureID string) ([]models.DocumentCandidature, error) {
	docs, err := s.repo.ListByCandidature(ctx, candidatureID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de lister les documents")
	}
	return docs, nil
}

// DownloadURL builds a signed, time-limited URL for an uploaded document.
func (s *DocumentService) DownloadURL(doc *models.DocumentCandidature) (string, error) {
	url, _, err := s.signer.Generate(doc.ID, doc.CheminStockage)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de signer l'URL du document")
	}
	return url, nil
}

// ResolveSigned validates a signed download token and returns the absolute
// path of the stored file.
func (s *DocumentService) ResolveSigned(token string) (string, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "lien de téléchargement invalide ou expiré")
	}
	return s.blobs.Path(relPath), nil
}

// RecordVerdict stores an operator's validation decision on a document.
func (s *DocumentService) RecordVerdict(ctx context.Context, id, validatorID string, valid bool, notes string) error {
	if err := s.repo.Validate(ctx, id, validatorID, valid, notes, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible d'enregistrer la validation")
	}
	return nil
}

// Remove deletes an uploaded document and its blob.
func (s *DocumentService) Remove(ctx context.Context, id string) error {
	path, err := s.repo.Delete(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "document introuvable")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de supprimer le document")
	}
	if err := s.blobs.Delete(path); err != nil {
		s.logger.Warn("orphan blob left behind", zap.String("path", path), zap.Error(err))
	}
	return nil
}

// RemoveAll deletes every document of a candidature with their blobs. Used by
// the draft expiry sweep.
func (s *DocumentService) RemoveAll(ctx context.Context, candidatureID string) error {
	paths, err := s.repo.DeleteByCandidature(ctx, candidatureID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de supprimer les documents")
	}
	for _, p := range paths {
		if err := s.blobs.Delete(p); err != nil {
			s.logger.Warn("orphan blob left behind", zap.String("path", p), zap.Error(err))
		}
	}
	return nil
}

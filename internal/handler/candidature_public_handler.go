package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/gesco-api/internal/middleware"
	"github.com/noah-isme/gesco-api/internal/models"
	"github.com/noah-isme/gesco-api/internal/service"
	appErrors "github.com/noah-isme/gesco-api/pkg/errors"
	"github.com/noah-isme/gesco-api/pkg/response"
)

// CandidaturePublicHandler exposes the unauthenticated application endpoints
// used by prospective students. Draft routes are keyed by candidature id;
// status and enrollment routes are keyed by the public application number.
type CandidaturePublicHandler struct {
	candidatures  *service.CandidatureService
	documents     *service.DocumentService
	notifications *service.NotificationService
}

// NewCandidaturePublicHandler creates the public application handler.
func NewCandidaturePublicHandler(candidatures *service.CandidatureService, documents *service.DocumentService, notifications *service.NotificationService) *CandidaturePublicHandler {
	return &CandidaturePublicHandler{candidatures: candidatures, documents: documents, notifications: notifications}
}

// Create godoc
// @Summary Create application draft
// @Description Open a new application draft for a prospective student
// @Tags Candidatures publiques
// @Accept json
// @Produce json
// @Param payload body service.CreateCandidatureRequest true "Application payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /public/candidatures [post]
func (h *CandidaturePublicHandler) Create(c *gin.Context) {
	var req service.CreateCandidatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "payload invalide"))
		return
	}

	candidature, err := h.candidatures.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, candidature)
}

// Update godoc
// @Summary Update application draft
// @Description Rewrite a draft application; submitted applications are immutable
// @Tags Candidatures publiques
// @Accept json
// @Produce json
// @Param ref path string true "Candidature ID"
// @Param payload body service.CreateCandidatureRequest true "Application payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /public/candidatures/{ref} [put]
func (h *CandidaturePublicHandler) Update(c *gin.Context) {
	var req service.CreateCandidatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "payload invalide"))
		return
	}

	candidature, err := h.candidatures.Update(c.Request.Context(), c.Param("ref"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, candidature, nil)
}

// Submit godoc
// @Summary Submit application
// @Description Move a complete draft to SOUMISE; other drafts of the same email are cancelled
// @Tags Candidatures publiques
// @Produce json
// @Param ref path string true "Candidature ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /public/candidatures/{ref}/soumettre [post]
func (h *CandidaturePublicHandler) Submit(c *gin.Context) {
	candidature, cmds, err := h.candidatures.Submit(c.Request.Context(), c.Param("ref"))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.notifications.Dispatch(cmds)

	response.JSON(c, http.StatusOK, candidature, nil)
}

// Cancel godoc
// @Summary Cancel application
// @Description Abandon a draft or submitted application
// @Tags Candidatures publiques
// @Produce json
// @Param ref path string true "Candidature ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /public/candidatures/{ref} [delete]
func (h *CandidaturePublicHandler) Cancel(c *gin.Context) {
	if err := h.candidatures.Cancel(c.Request.Context(), c.Param("ref")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Status godoc
// @Summary Application status
// @Description Public polling endpoint returning the application status
// @Tags Candidatures publiques
// @Produce json
// @Param ref path string true "Application number"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /public/candidatures/{ref}/statut [get]
func (h *CandidaturePublicHandler) Status(c *gin.Context) {
	start := time.Now()
	info, cacheHit, err := h.candidatures.Status(c.Request.Context(), c.Param("ref"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["processing_time_ms"] = time.Since(start).Milliseconds()
	response.JSON(c, http.StatusOK, info, nil, meta)
}

// RequiredDocuments godoc
// @Summary Required documents for an application
// @Description List the documents the application must provide
// @Tags Candidatures publiques
// @Produce json
// @Param ref path string true "Candidature ID"
// @Success 200 {object} response.Envelope
// @Router /public/candidatures/{ref}/documents-requis [get]
func (h *CandidaturePublicHandler) RequiredDocuments(c *gin.Context) {
	candidature, err := h.candidatures.Get(c.Request.Context(), c.Param("ref"))
	if err != nil {
		response.Error(c, err)
		return
	}

	docs, err := h.documents.RequiredDocuments(c.Request.Context(), candidature.FiliereID, candidature.NiveauID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, docs, nil)
}

// UploadDocument godoc
// @Summary Upload application document
// @Description Attach a file to a draft application; a previous file of the same type is replaced
// @Tags Candidatures publiques
// @Accept multipart/form-data
// @Produce json
// @Param ref path string true "Candidature ID"
// @Param type_document formData string true "Document type"
// @Param fichier formData file true "Document file"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /public/candidatures/{ref}/documents [post]
func (h *CandidaturePublicHandler) UploadDocument(c *gin.Context) {
	candidature, err := h.candidatures.Get(c.Request.Context(), c.Param("ref"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if candidature.Statut != models.CandidatureBrouillon {
		response.Error(c, appErrors.Clone(appErrors.ErrStateTransition, "les documents ne peuvent être modifiés que sur un brouillon"))
		return
	}

	docType := models.DocumentType(c.PostForm("type_document"))
	if docType == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "type_document est obligatoire"))
		return
	}

	requirement, err := h.findRequirement(c, candidature.FiliereID, candidature.NiveauID, docType)
	if err != nil {
		response.Error(c, err)
		return
	}

	fileHeader, err := c.FormFile("fichier")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "fichier manquant"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "impossible de lire le fichier"))
		return
	}
	defer file.Close() //nolint:errcheck

	doc, err := h.documents.AttachDocument(c.Request.Context(), candidature.ID, requirement, service.Upload{
		Filename: fileHeader.Filename,
		Size:     fileHeader.Size,
		Reader:   file,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, doc)
}

// ListDocuments godoc
// @Summary List uploaded documents
// @Description List the documents already attached to an application
// @Tags Candidatures publiques
// @Produce json
// @Param ref path string true "Candidature ID"
// @Success 200 {object} response.Envelope
// @Router /public/candidatures/{ref}/documents [get]
func (h *CandidaturePublicHandler) ListDocuments(c *gin.Context) {
	candidature, err := h.candidatures.Get(c.Request.Context(), c.Param("ref"))
	if err != nil {
		response.Error(c, err)
		return
	}

	docs, err := h.documents.ListForCandidature(c.Request.Context(), candidature.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, docs, nil)
}

// RemoveDocument godoc
// @Summary Remove uploaded document
// @Description Delete a document from a draft application
// @Tags Candidatures publiques
// @Produce json
// @Param ref path string true "Candidature ID"
// @Param docId path string true "Document ID"
// @Success 204 {object} response.Envelope
// @Router /public/candidatures/{ref}/documents/{docId} [delete]
func (h *CandidaturePublicHandler) RemoveDocument(c *gin.Context) {
	candidature, err := h.candidatures.Get(c.Request.Context(), c.Param("ref"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if candidature.Statut != models.CandidatureBrouillon {
		response.Error(c, appErrors.Clone(appErrors.ErrStateTransition, "les documents ne peuvent être modifiés que sur un brouillon"))
		return
	}

	if err := h.documents.Remove(c.Request.Context(), c.Param("docId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// findRequirement resolves the declared requirement matching the uploaded
// document type. Uploads of undeclared types are refused.
func (h *CandidaturePublicHandler) findRequirement(c *gin.Context, filiereID, niveauID string, docType models.DocumentType) (*models.DocumentRequis, error) {
	requirements, err := h.documents.RequiredDocuments(c.Request.Context(), filiereID, niveauID)
	if err != nil {
		return nil, err
	}
	for i := range requirements {
		if requirements[i].TypeDocument == docType {
			return &requirements[i], nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrValidation, "type de document non attendu pour cette formation")
}

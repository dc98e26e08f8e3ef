package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/gesco-api/internal/models"
	"github.com/noah-isme/gesco-api/internal/service"
	appErrors "github.com/noah-isme/gesco-api/pkg/errors"
	"github.com/noah-isme/gesco-api/pkg/response"
)

// DocumentHandler manages required-document declarations, operator verdicts
// and signed downloads.
type DocumentHandler struct {
	documents *service.DocumentService
}

// NewDocumentHandler creates the document handler.
func NewDocumentHandler(documents *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

// ListRequirements godoc
// @Summary List required documents
// @Description List the required-document declarations of a filiere
// @Tags Documents
// @Produce json
// @Param filiereId path string true "Filiere ID"
// @Param niveau_id query string false "Niveau filter"
// @Success 200 {object} response.Envelope
// @Router /filieres/{filiereId}/documents-requis [get]
func (h *DocumentHandler) ListRequirements(c *gin.Context) {
	docs, err := h.documents.RequiredDocuments(c.Request.Context(), c.Param("filiereId"), c.Query("niveau_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, docs, nil)
}

// SaveRequirement godoc
// @Summary Declare a required document
// @Description Create or update a required-document declaration
// @Tags Documents
// @Accept json
// @Produce json
// @Param filiereId path string true "Filiere ID"
// @Param payload body models.DocumentRequis true "Requirement payload"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /filieres/{filiereId}/documents-requis [put]
func (h *DocumentHandler) SaveRequirement(c *gin.Context) {
	var doc models.DocumentRequis
	if err := c.ShouldBindJSON(&doc); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "payload invalide"))
		return
	}
	doc.FiliereID = c.Param("filiereId")

	if err := h.documents.SaveRequirement(c.Request.Context(), &doc); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// Validate godoc
// @Summary Record document verdict
// @Description Store an operator's validation decision on an uploaded document
// @Tags Documents
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Router /documents/{id}/valider [post]
func (h *DocumentHandler) Validate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req struct {
		Valide bool   `json:"valide"`
		Notes  string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "payload invalide"))
		return
	}

	if err := h.documents.RecordVerdict(c.Request.Context(), c.Param("id"), claims.UserID, req.Valide, req.Notes); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"valide": req.Valide}, nil)
}

// Delete godoc
// @Summary Delete uploaded document
// @Description Remove an uploaded document and its stored file
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /documents/{id} [delete]
func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.documents.Remove(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Download godoc
// @Summary Download document
// @Description Serve a stored document through a signed, time-limited token
// @Tags Documents
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /public/documents/{token} [get]
func (h *DocumentHandler) Download(c *gin.Context) {
	path, err := h.documents.ResolveSigned(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.File(path)
}

package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/gesco-api/internal/models"
	"github.com/noah-isme/gesco-api/internal/service"
	appErrors "github.com/noah-isme/gesco-api/pkg/errors"
	"github.com/noah-isme/gesco-api/pkg/response"
)

// CandidatureHandler exposes the back-office review endpoints.
type CandidatureHandler struct {
	candidatures  *service.CandidatureService
	documents     *service.DocumentService
	notifications *service.NotificationService
}

// NewCandidatureHandler creates the review handler.
func NewCandidatureHandler(candidatures *service.CandidatureService, documents *service.DocumentService, notifications *service.NotificationService) *CandidatureHandler {
	return &CandidatureHandler{candidatures: candidatures, documents: documents, notifications: notifications}
}

func actorFromContext(c *gin.Context) models.ActorContext {
	actor := models.ActorContext{
		IPAddress: c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
	}
	if claims := claimsFromContext(c); claims != nil {
		userID := claims.UserID
		actor.UserID = &userID
		actor.Role = claims.Role
	}
	return actor
}

// List godoc
// @Summary List applications
// @Description List submitted applications with pagination and filtering
// @Tags Candidatures
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param statut query string false "Status filter"
// @Param etablissement_id query string false "Etablissement filter"
// @Param filiere_id query string false "Filiere filter"
// @Param annee_id query string false "Academic year filter"
// @Param search query string false "Search term"
// @Success 200 {object} response.Envelope
// @Router /candidatures [get]
func (h *CandidatureHandler) List(c *gin.Context) {
	var filter models.CandidatureFilter

	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	if statut := c.Query("statut"); statut != "" {
		s := models.CandidatureStatus(statut)
		filter.Statut = &s
	}
	filter.EtablissementID = c.Query("etablissement_id")
	filter.FiliereID = c.Query("filiere_id")
	filter.AnneeID = c.Query("annee_id")
	filter.Search = c.Query("search")

	candidatures, pagination, err := h.candidatures.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, candidatures, pagination)
}

// Get godoc
// @Summary Get application
// @Description Get application detail
// @Tags Candidatures
// @Produce json
// @Param id path string true "Candidature ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /candidatures/{id} [get]
func (h *CandidatureHandler) Get(c *gin.Context) {
	candidature, err := h.candidatures.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, candidature, nil)
}

// StartReview godoc
// @Summary Start application review
// @Description Move a submitted application to EN_COURS_EXAMEN
// @Tags Candidatures
// @Produce json
// @Param id path string true "Candidature ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /candidatures/{id}/examiner [post]
func (h *CandidatureHandler) StartReview(c *gin.Context) {
	candidature, err := h.candidatures.StartReview(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, candidature, nil)
}

// Evaluate godoc
// @Summary Decide an application
// @Description Approve or reject a submitted application
// @Tags Candidatures
// @Accept json
// @Produce json
// @Param id path string true "Candidature ID"
// @Param payload body service.EvaluateRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /candidatures/{id}/evaluer [post]
func (h *CandidatureHandler) Evaluate(c *gin.Context) {
	var req service.EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "payload invalide"))
		return
	}

	candidature, cmds, err := h.candidatures.Evaluate(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.notifications.Dispatch(cmds)

	response.JSON(c, http.StatusOK, candidature, nil)
}

// ListDocuments godoc
// @Summary List application documents
// @Description List uploaded documents with signed download URLs
// @Tags Candidatures
// @Produce json
// @Param id path string true "Candidature ID"
// @Success 200 {object} response.Envelope
// @Router /candidatures/{id}/documents [get]
func (h *CandidatureHandler) ListDocuments(c *gin.Context) {
	docs, err := h.documents.ListForCandidature(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	type docWithURL struct {
		models.DocumentCandidature
		URL string `json:"url,omitempty"`
	}
	out := make([]docWithURL, 0, len(docs))
	for i := range docs {
		entry := docWithURL{DocumentCandidature: docs[i]}
		if url, err := h.documents.DownloadURL(&docs[i]); err == nil {
			entry.URL = url
		}
		out = append(out, entry)
	}

	response.JSON(c, http.StatusOK, out, nil)
}

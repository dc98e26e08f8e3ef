package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/gesco-api/internal/models"
	"github.com/noah-isme/gesco-api/internal/service"
	appErrors "github.com/noah-isme/gesco-api/pkg/errors"
	"github.com/noah-isme/gesco-api/pkg/response"
)

// maxWebhookBody bounds callback payload reads.
const maxWebhookBody = 1 << 20

// PaiementHandler exposes the enrollment payment endpoints and the gateway
// callback.
type PaiementHandler struct {
	paiements *service.PaiementService
	webhooks  *service.WebhookService
}

// NewPaiementHandler creates the payment handler.
func NewPaiementHandler(paiements *service.PaiementService, webhooks *service.WebhookService) *PaiementHandler {
	return &PaiementHandler{paiements: paiements, webhooks: webhooks}
}

type initiateEnrollmentBody struct {
	Token string              `json:"token"`
	Mode  models.ModePaiement `json:"mode"`
}

type trancheBody struct {
	Token string `json:"token"`
}

// InitiateEnrollment godoc
// @Summary Initiate enrollment payment
// @Description Open the enrollment of an approved application and start its first payment
// @Tags Paiements
// @Accept json
// @Produce json
// @Param ref path string true "Application number"
// @Param payload body initiateEnrollmentBody true "Token and payment mode"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /public/candidatures/{ref}/inscription [post]
func (h *PaiementHandler) InitiateEnrollment(c *gin.Context) {
	var body initiateEnrollmentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "payload invalide"))
		return
	}

	session, err := h.paiements.InitiateEnrollment(c.Request.Context(), service.InitiateEnrollmentRequest{
		NumeroCandidature: c.Param("ref"),
		Token:             body.Token,
		Mode:              body.Mode,
	}, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, session)
}

// PayNextTranche godoc
// @Summary Pay next installment
// @Description Start the payment of the next unpaid installment of an installment enrollment
// @Tags Paiements
// @Accept json
// @Produce json
// @Param ref path string true "Application number"
// @Param payload body trancheBody true "Inscription token"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /public/candidatures/{ref}/tranche-suivante [post]
func (h *PaiementHandler) PayNextTranche(c *gin.Context) {
	var body trancheBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "payload invalide"))
		return
	}

	session, err := h.paiements.PayNextTranche(c.Request.Context(), c.Param("ref"), body.Token, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, session)
}

// VerifyEnrollmentStatus godoc
// @Summary Verify enrollment status
// @Description Return the candidate's enrollment progress and the next expected action
// @Tags Paiements
// @Produce json
// @Param ref path string true "Application number"
// @Param token query string true "Inscription token"
// @Success 200 {object} response.Envelope
// @Router /public/candidatures/{ref}/inscription/statut [get]
func (h *PaiementHandler) VerifyEnrollmentStatus(c *gin.Context) {
	info, err := h.paiements.VerifyEnrollmentStatus(c.Request.Context(), c.Param("ref"), c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, info, nil)
}

// PaymentSuccess godoc
// @Summary Payment return page
// @Description Landing endpoint the gateway redirects to after a completed checkout
// @Tags Paiements
// @Produce json
// @Param ref path string true "Application number"
// @Success 200 {object} response.Envelope
// @Router /public/candidatures/{ref}/paiement/succes [get]
func (h *PaiementHandler) PaymentSuccess(c *gin.Context) {
	// the authoritative confirmation arrives on the webhook; this page only
	// tells the candidate what to do next
	response.JSON(c, http.StatusOK, gin.H{
		"numero_candidature": c.Param("ref"),
		"message":            "Paiement en cours de confirmation. Vous recevrez un email dès validation.",
	}, nil)
}

// PaymentError godoc
// @Summary Payment failure page
// @Description Landing endpoint the gateway redirects to after an aborted checkout
// @Tags Paiements
// @Produce json
// @Param ref path string true "Application number"
// @Success 200 {object} response.Envelope
// @Router /public/candidatures/{ref}/paiement/erreur [get]
func (h *PaiementHandler) PaymentError(c *gin.Context) {
	response.JSON(c, http.StatusOK, gin.H{
		"numero_candidature": c.Param("ref"),
		"message":            "Le paiement n'a pas abouti. Vous pouvez réessayer depuis votre espace candidature.",
	}, nil)
}

// Webhook godoc
// @Summary LigdiCash callback
// @Description Ingest a payment notification from the gateway
// @Tags Paiements
// @Accept json
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /paiements/webhook/ligdicash [post]
func (h *PaiementHandler) Webhook(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "callback illisible"))
		return
	}

	outcome, err := h.webhooks.HandleLigdicash(c.Request.Context(), raw, c.ClientIP())
	if err != nil {
		appErr := appErrors.FromError(err)
		// only unusable payloads and unknown payments refuse the delivery;
		// anything else is acked so the gateway stops retrying
		if appErr.Status == http.StatusBadRequest || appErr.Status == http.StatusNotFound {
			response.Error(c, appErr)
			return
		}
		response.JSON(c, http.StatusOK, gin.H{"outcome": service.WebhookIgnored}, nil)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"outcome": outcome}, nil)
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/gesco-api/internal/service"
	appErrors "github.com/noah-isme/gesco-api/pkg/errors"
	"github.com/noah-isme/gesco-api/pkg/response"
)

// PlanHandler manages payment plans and exposes the public offer lookup.
type PlanHandler struct {
	plans        *service.PlanService
	candidatures *service.CandidatureService
}

// NewPlanHandler creates the payment plan handler.
func NewPlanHandler(plans *service.PlanService, candidatures *service.CandidatureService) *PlanHandler {
	return &PlanHandler{plans: plans, candidatures: candidatures}
}

// Create godoc
// @Summary Create payment plan
// @Description Declare a payment plan for a formation; the previous active plan is deactivated
// @Tags Plans
// @Accept json
// @Produce json
// @Param payload body service.CreatePlanRequest true "Plan payload"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /plans [post]
func (h *PlanHandler) Create(c *gin.Context) {
	var req service.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "payload invalide"))
		return
	}

	plan, err := h.plans.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, plan)
}

// Tranches godoc
// @Summary List plan installments
// @Description List the installments of a payment plan
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Router /plans/{id}/tranches [get]
func (h *PlanHandler) Tranches(c *gin.Context) {
	tranches, err := h.plans.Tranches(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tranches, nil)
}

// Offer godoc
// @Summary Payment offer for an approved application
// @Description Return the active plan, the per-mode amounts and the installments for the application's formation
// @Tags Candidatures publiques
// @Produce json
// @Param ref path string true "Application number"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /public/candidatures/{ref}/offre [get]
func (h *PlanHandler) Offer(c *gin.Context) {
	candidature, err := h.candidatures.FindByNumero(c.Request.Context(), c.Param("ref"))
	if err != nil {
		response.Error(c, err)
		return
	}

	offer, err := h.plans.ResolveOffer(c.Request.Context(), candidature.Formation())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, offer, nil)
}

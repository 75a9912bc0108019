package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	apierrors "landpool/api/internal/errors"
	"landpool/api/internal/middleware"
	"landpool/api/internal/models"
	"landpool/api/internal/services"
)

// NegotiationHandler handles integration-negotiation HTTP requests.
type NegotiationHandler struct {
	negotiations services.NegotiationService
}

// NewNegotiationHandler creates a new NegotiationHandler instance.
func NewNegotiationHandler(negotiations services.NegotiationService) *NegotiationHandler {
	return &NegotiationHandler{negotiations: negotiations}
}

// RequestIntegrationRequest is the body for opening a negotiation.
type RequestIntegrationRequest struct {
	RequesterParcelID uuid.UUID `json:"requester_parcel_id" binding:"required"`
	TargetParcelID    uuid.UUID `json:"target_parcel_id" binding:"required"`
	PeriodStart       time.Time `json:"period_start" binding:"required"`
	PeriodEnd         time.Time `json:"period_end" binding:"required"`
}

// RespondRequest is the body for the target owner's decision.
type RespondRequest struct {
	Action string `json:"action" binding:"required,oneof=accept reject"`
}

// SignRequest is the body for appending a signature.
type SignRequest struct {
	DisplayName    string `json:"display_name" binding:"required"`
	SnapshotText   string `json:"snapshot_text" binding:"required"`
	OriginMetadata string `json:"origin_metadata,omitempty"`
}

// RequestIntegration handles POST /api/v1/negotiations.
func (h *NegotiationHandler) RequestIntegration(c *gin.Context) {
	ownerID := middleware.GetOwnerID(c)

	var req RequestIntegrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid request body", nil)
		return
	}

	period := models.Period{Start: req.PeriodStart, End: req.PeriodEnd}
	negotiation, err := h.negotiations.RequestIntegration(c.Request.Context(), ownerID, req.RequesterParcelID, req.TargetParcelID, period)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidPeriod):
			apierrors.BadRequest(c, err.Error(), nil)
		case errors.Is(err, services.ErrParcelNotFound):
			apierrors.NotFound(c, "Parcel not found")
		case errors.Is(err, services.ErrNotParcelOwner):
			apierrors.Forbidden(c, "Only the parcel owner can request integration with it")
		case errors.Is(err, services.ErrParcelNotCompleted):
			apierrors.Conflict(c, "Requester parcel geometry is not completed")
		case errors.Is(err, services.ErrSelfRequest):
			apierrors.Unprocessable(c, err.Error())
		case errors.Is(err, services.ErrTargetNotReady):
			apierrors.Conflict(c, err.Error())
		case errors.Is(err, services.ErrDuplicatePending):
			apierrors.Conflict(c, err.Error())
		default:
			apierrors.InternalServerError(c, "Failed to create negotiation", err)
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"negotiation": negotiation})
}

// Respond handles POST /api/v1/negotiations/:id/respond.
func (h *NegotiationHandler) Respond(c *gin.Context) {
	ownerID := middleware.GetOwnerID(c)

	negotiationID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid request body", nil)
		return
	}

	negotiation, err := h.negotiations.Respond(c.Request.Context(), negotiationID, ownerID, services.ResponseAction(req.Action))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNegotiationNotFound):
			apierrors.NotFound(c, "Negotiation not found")
		case errors.Is(err, services.ErrUnauthorized):
			apierrors.Forbidden(c, "Only the target owner can respond to this request")
		case errors.Is(err, services.ErrAlreadyResolved):
			apierrors.Conflict(c, err.Error())
		case errors.Is(err, services.ErrInvalidTransition):
			apierrors.Conflict(c, err.Error())
		default:
			apierrors.InternalServerError(c, "Failed to record response", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"negotiation": negotiation})
}

// Sign handles POST /api/v1/negotiations/:id/sign.
func (h *NegotiationHandler) Sign(c *gin.Context) {
	ownerID := middleware.GetOwnerID(c)

	negotiationID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req SignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid request body", nil)
		return
	}

	result, err := h.negotiations.Sign(c.Request.Context(), negotiationID, ownerID, req.DisplayName, req.SnapshotText, req.OriginMetadata)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNegotiationNotFound):
			apierrors.NotFound(c, "Negotiation not found")
		case errors.Is(err, services.ErrUnauthorized):
			apierrors.Forbidden(c, "Only a participant can sign this negotiation")
		case errors.Is(err, services.ErrNotReadyToSign):
			apierrors.Conflict(c, err.Error())
		case errors.Is(err, services.ErrAlreadySigned):
			apierrors.Conflict(c, err.Error())
		default:
			apierrors.InternalServerError(c, "Failed to record signature", err)
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// SignatureStatus handles GET /api/v1/negotiations/:id/signatures.
func (h *NegotiationHandler) SignatureStatus(c *gin.Context) {
	ownerID := middleware.GetOwnerID(c)

	negotiationID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	status, err := h.negotiations.GetSignatureStatus(c.Request.Context(), negotiationID, ownerID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNegotiationNotFound):
			apierrors.NotFound(c, "Negotiation not found")
		case errors.Is(err, services.ErrUnauthorized):
			apierrors.Forbidden(c, "Only a participant can view signature status")
		default:
			apierrors.InternalServerError(c, "Failed to query signatures", err)
		}
		return
	}

	c.JSON(http.StatusOK, status)
}

// GetNegotiation handles GET /api/v1/negotiations/:id.
func (h *NegotiationHandler) GetNegotiation(c *gin.Context) {
	ownerID := middleware.GetOwnerID(c)

	negotiationID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	negotiation, err := h.negotiations.GetNegotiation(c.Request.Context(), negotiationID, ownerID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNegotiationNotFound):
			apierrors.NotFound(c, "Negotiation not found")
		case errors.Is(err, services.ErrUnauthorized):
			apierrors.Forbidden(c, "Only a participant can view this negotiation")
		default:
			apierrors.InternalServerError(c, "Failed to query negotiation", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"negotiation": negotiation})
}

// ListNegotiations handles GET /api/v1/negotiations.
func (h *NegotiationHandler) ListNegotiations(c *gin.Context) {
	ownerID := middleware.GetOwnerID(c)

	negotiations, err := h.negotiations.ListOwnerNegotiations(c.Request.Context(), ownerID)
	if err != nil {
		apierrors.InternalServerError(c, "Failed to list negotiations", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"negotiations": negotiations, "count": len(negotiations)})
}

// Agreement handles GET /api/v1/negotiations/:id/agreement.
// Renders the contract as plain text; only available once the
// negotiation is completed.
func (h *NegotiationHandler) Agreement(c *gin.Context) {
	ownerID := middleware.GetOwnerID(c)

	negotiationID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	text, err := h.negotiations.RenderAgreement(c.Request.Context(), negotiationID, ownerID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNegotiationNotFound):
			apierrors.NotFound(c, "Negotiation not found")
		case errors.Is(err, services.ErrUnauthorized):
			apierrors.Forbidden(c, "Only a participant can view the agreement")
		case errors.Is(err, services.ErrNotCompleted):
			apierrors.Conflict(c, err.Error())
		default:
			apierrors.InternalServerError(c, "Failed to render agreement", err)
		}
		return
	}

	c.String(http.StatusOK, text)
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	apierrors "landpool/api/internal/errors"
	"landpool/api/internal/geometry"
	"landpool/api/internal/middleware"
	"landpool/api/internal/models"
	"landpool/api/internal/services"
)

// ParcelHandler handles parcel and neighbor-search HTTP requests.
type ParcelHandler struct {
	parcels       services.ParcelService
	neighbors     services.NeighborService
	defaultRadius float64
}

// NewParcelHandler creates a new ParcelHandler instance.
func NewParcelHandler(parcels services.ParcelService, neighbors services.NeighborService, defaultRadius float64) *ParcelHandler {
	return &ParcelHandler{
		parcels:       parcels,
		neighbors:     neighbors,
		defaultRadius: defaultRadius,
	}
}

// SketchPoint is one sketch-space point in a request body.
type SketchPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AnchorInput is the user-supplied real-world anchor.
type AnchorInput struct {
	Latitude  float64 `json:"latitude" binding:"min=-90,max=90"`
	Longitude float64 `json:"longitude" binding:"min=-180,max=180"`
}

// DeclaredHintInput mirrors the OCR pipeline's output fields.
type DeclaredHintInput struct {
	SizeAcres         *float64 `json:"size_acres,omitempty" binding:"omitempty,gt=0"`
	SurveyID          *string  `json:"survey_id,omitempty"`
	OwnershipVerified bool     `json:"ownership_verified"`
}

// ComputeGeometryRequest is the body for the stateless geometry endpoint.
type ComputeGeometryRequest struct {
	Sketch []SketchPoint `json:"sketch" binding:"required,min=3"`
	Anchor AnchorInput   `json:"anchor" binding:"required"`
}

// CreateParcelRequest is the body for parcel creation.
type CreateParcelRequest struct {
	Sketch       []SketchPoint      `json:"sketch" binding:"required,min=3"`
	Anchor       AnchorInput        `json:"anchor" binding:"required"`
	DeclaredHint *DeclaredHintInput `json:"declared_hint,omitempty"`
}

// SetReadyRequest is the body for the opt-in toggle.
type SetReadyRequest struct {
	Ready *bool `json:"ready" binding:"required"`
}

// NeighborsRequest is the query for the neighbor search. Lat and Lng
// are pointers so that 0 is accepted as a real coordinate.
type NeighborsRequest struct {
	Lat    *float64 `form:"lat" binding:"required,min=-90,max=90"`
	Lng    *float64 `form:"lng" binding:"required,min=-180,max=180"`
	Radius float64  `form:"radius" binding:"omitempty,gt=0"`
}

// NeighborsResponse wraps the ranked candidate list.
type NeighborsResponse struct {
	Neighbors []models.NeighborCandidate `json:"neighbors"`
	Count     int                        `json:"count"`
}

func toSketch(points []SketchPoint) []models.Point2D {
	sketch := make([]models.Point2D, len(points))
	for i, p := range points {
		sketch[i] = models.Point2D{X: p.X, Y: p.Y}
	}
	return sketch
}

// ComputeGeometry handles POST /api/v1/geometry/compute.
// It runs the geometry engine without persisting anything, so a client
// can preview the computed parcel before saving it.
func (h *ParcelHandler) ComputeGeometry(c *gin.Context) {
	var req ComputeGeometryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid request body", nil)
		return
	}

	anchor := models.GeoPoint{Latitude: req.Anchor.Latitude, Longitude: req.Anchor.Longitude}
	geom, err := h.parcels.ComputeGeometry(toSketch(req.Sketch), anchor)
	if err != nil {
		if errors.Is(err, geometry.ErrInsufficientVertices) ||
			errors.Is(err, geometry.ErrInvalidAnchor) ||
			errors.Is(err, geometry.ErrNonFinitePoint) {
			apierrors.BadRequest(c, err.Error(), nil)
			return
		}
		apierrors.InternalServerError(c, "Failed to compute geometry", err)
		return
	}

	c.JSON(http.StatusOK, geom)
}

// CreateParcel handles POST /api/v1/parcels.
// A geometry failure still creates a failed record, so the response is
// 422 with the stored parcel rather than a bare error.
func (h *ParcelHandler) CreateParcel(c *gin.Context) {
	ownerID := middleware.GetOwnerID(c)

	var req CreateParcelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid request body", nil)
		return
	}

	var hint *models.DeclaredLandHint
	if req.DeclaredHint != nil {
		hint = &models.DeclaredLandHint{
			SizeAcres:         req.DeclaredHint.SizeAcres,
			SurveyID:          req.DeclaredHint.SurveyID,
			OwnershipVerified: req.DeclaredHint.OwnershipVerified,
		}
	}

	anchor := models.GeoPoint{Latitude: req.Anchor.Latitude, Longitude: req.Anchor.Longitude}
	parcel, err := h.parcels.CreateParcel(c.Request.Context(), ownerID, toSketch(req.Sketch), anchor, hint)
	if err != nil {
		if parcel != nil {
			// Stored with failed status; surface the record and reason.
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"parcel": parcel,
				"error":  err.Error(),
			})
			return
		}
		apierrors.InternalServerError(c, "Failed to create parcel", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"parcel": parcel})
}

// GetParcel handles GET /api/v1/parcels/:id.
func (h *ParcelHandler) GetParcel(c *gin.Context) {
	parcelID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	parcel, err := h.parcels.GetParcel(c.Request.Context(), parcelID)
	if err != nil {
		if errors.Is(err, services.ErrParcelNotFound) {
			apierrors.NotFound(c, "Parcel not found")
			return
		}
		apierrors.InternalServerError(c, "Failed to query parcel", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"parcel": parcel})
}

// ListParcels handles GET /api/v1/parcels.
// Returns the caller's own parcels only.
func (h *ParcelHandler) ListParcels(c *gin.Context) {
	ownerID := middleware.GetOwnerID(c)

	parcels, err := h.parcels.ListOwnerParcels(c.Request.Context(), ownerID)
	if err != nil {
		apierrors.InternalServerError(c, "Failed to list parcels", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"parcels": parcels, "count": len(parcels)})
}

// SetReady handles PATCH /api/v1/parcels/:id/ready.
func (h *ParcelHandler) SetReady(c *gin.Context) {
	ownerID := middleware.GetOwnerID(c)

	parcelID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req SetReadyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid request body", nil)
		return
	}

	parcel, err := h.parcels.SetReady(c.Request.Context(), parcelID, ownerID, *req.Ready)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrParcelNotFound):
			apierrors.NotFound(c, "Parcel not found")
		case errors.Is(err, services.ErrNotParcelOwner):
			apierrors.Forbidden(c, "Only the parcel owner can change its pooling opt-in")
		case errors.Is(err, services.ErrParcelNotCompleted):
			apierrors.Conflict(c, "Parcel geometry must be completed before opting in")
		default:
			apierrors.InternalServerError(c, "Failed to update parcel", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"ready": parcel.ReadyToIntegrate})
}

// GetReady handles GET /api/v1/parcels/:id/ready.
func (h *ParcelHandler) GetReady(c *gin.Context) {
	parcelID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	ready, err := h.parcels.GetReady(c.Request.Context(), parcelID)
	if err != nil {
		if errors.Is(err, services.ErrParcelNotFound) {
			apierrors.NotFound(c, "Parcel not found")
			return
		}
		apierrors.InternalServerError(c, "Failed to query parcel", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ready": ready})
}

// Neighbors handles GET /api/v1/parcels/neighbors.
// The caller's own parcels are always excluded from the candidate pool.
func (h *ParcelHandler) Neighbors(c *gin.Context) {
	ownerID := middleware.GetOwnerID(c)

	var req NeighborsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid query parameters", nil)
		return
	}

	radius := req.Radius
	if radius == 0 {
		radius = h.defaultRadius
	}

	anchor := models.GeoPoint{Latitude: *req.Lat, Longitude: *req.Lng}
	candidates, err := h.neighbors.FindNeighbors(c.Request.Context(), anchor, radius, ownerID)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCoordinates) || errors.Is(err, services.ErrInvalidRadius) {
			apierrors.BadRequest(c, err.Error(), nil)
			return
		}
		apierrors.InternalServerError(c, "Failed to search for neighbors", err)
		return
	}

	c.JSON(http.StatusOK, NeighborsResponse{
		Neighbors: candidates,
		Count:     len(candidates),
	})
}

// parseUUIDParam binds a path parameter as a UUID, writing a 400
// response and returning false when it is malformed.
func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		apierrors.BadRequest(c, "Invalid "+name+" parameter: must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

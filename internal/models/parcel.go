package models

import (
	"time"

	"github.com/google/uuid"
)

// ParcelStatus tracks the outcome of the geometry computation that
// produced a parcel record.
type ParcelStatus string

const (
	ParcelStatusPending   ParcelStatus = "pending"
	ParcelStatusCompleted ParcelStatus = "completed"
	ParcelStatusFailed    ParcelStatus = "failed"
)

// DeclaredLandHint is the typed boundary for fields extracted from a
// scanned land-title document by the external OCR pipeline. The values
// are consumed as-is and never recomputed here.
type DeclaredLandHint struct {
	SizeAcres         *float64 `json:"sizeAcres,omitempty"`
	SurveyID          *string  `json:"surveyId,omitempty"`
	OwnershipVerified bool     `json:"ownershipVerified"`
}

// Parcel is a user's land record: computed geometry plus the optional
// declared extent from a title document. Parcels are never hard-deleted;
// a re-sketch creates a new record that supersedes the old one.
// Nullable fields use pointers to distinguish zero values from absent.
type Parcel struct {
	ID                uuid.UUID      `json:"id"`
	OwnerID           string         `json:"ownerId"`
	Geometry          ParcelGeometry `json:"geometry"`
	DeclaredSizeAcres *float64       `json:"declaredSizeAcres,omitempty"`
	SurveyID          *string        `json:"surveyId,omitempty"`
	OwnershipVerified bool           `json:"ownershipVerified"`
	ReadyToIntegrate  bool           `json:"readyToIntegrate"`
	Status            ParcelStatus   `json:"status"`
	FailureReason     *string        `json:"failureReason,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// SizeAcres returns the declared size when a title document supplied
// one, falling back to the geometry-derived area otherwise.
func (p *Parcel) SizeAcres() float64 {
	if p.DeclaredSizeAcres != nil {
		return *p.DeclaredSizeAcres
	}
	return p.Geometry.AreaSquareMeters / SquareMetersPerAcre
}

// SquareMetersPerAcre converts between the geometry engine's square
// meters and the acre figures used in declared sizes and negotiations.
const SquareMetersPerAcre = 4046.8564224

// NeighborCandidate is a derived, non-persisted view of a poolable
// parcel ranked by distance from a requester's anchor. Only parcels
// with ReadyToIntegrate and a completed status qualify, and never the
// requester's own.
type NeighborCandidate struct {
	OwnerID        string    `json:"ownerId"`
	ParcelID       uuid.UUID `json:"parcelId"`
	SizeAcres      float64   `json:"sizeAcres"`
	DistanceMeters float64   `json:"distanceMeters"`
}

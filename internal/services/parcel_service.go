package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"landpool/api/internal/geometry"
	"landpool/api/internal/logger"
	"landpool/api/internal/models"
	"landpool/api/internal/repository"
)

// Service-level errors for parcel operations
var (
	ErrParcelNotFound     = errors.New("parcel not found")
	ErrParcelNotCompleted = errors.New("parcel geometry is not completed")
	ErrNotParcelOwner     = errors.New("caller does not own this parcel")
)

// ParcelService defines the business logic for parcel records.
type ParcelService interface {
	// ComputeGeometry runs the geometry engine without persisting
	// anything. Returns the engine's validation errors unchanged.
	ComputeGeometry(sketch []models.Point2D, anchor models.GeoPoint) (models.ParcelGeometry, error)

	// CreateParcel computes geometry for the sketch and stores the
	// resulting parcel. On engine failure the parcel is still stored
	// with a failed status and the failure reason retained for
	// display; the engine error is returned alongside the record.
	CreateParcel(ctx context.Context, ownerID string, sketch []models.Point2D, anchor models.GeoPoint, hint *models.DeclaredLandHint) (*models.Parcel, error)

	// GetParcel fetches a parcel by id.
	// Returns ErrParcelNotFound if no parcel exists.
	GetParcel(ctx context.Context, parcelID uuid.UUID) (*models.Parcel, error)

	// ListOwnerParcels returns all parcels belonging to the owner.
	ListOwnerParcels(ctx context.Context, ownerID string) ([]models.Parcel, error)

	// SetReady flips the owner's opt-in flag for pooling. Only the
	// parcel's owner may call it, and only on a completed parcel.
	// Idempotent; concurrent flips are last-writer-wins.
	SetReady(ctx context.Context, parcelID uuid.UUID, ownerID string, ready bool) (*models.Parcel, error)

	// GetReady reads the opt-in flag.
	GetReady(ctx context.Context, parcelID uuid.UUID) (bool, error)
}

// parcelService is the concrete implementation of ParcelService.
type parcelService struct {
	repo repository.ParcelRepository
	log  *logger.Logger
}

// NewParcelService creates a new instance of ParcelService.
func NewParcelService(repo repository.ParcelRepository, log *logger.Logger) ParcelService {
	return &parcelService{
		repo: repo,
		log:  log,
	}
}

func (s *parcelService) ComputeGeometry(sketch []models.Point2D, anchor models.GeoPoint) (models.ParcelGeometry, error) {
	geom, err := geometry.Compute(sketch, anchor)
	if err != nil {
		s.log.Warn("Geometry computation rejected", map[string]interface{}{
			"points": len(sketch),
			"error":  err.Error(),
		})
		return models.ParcelGeometry{}, err
	}

	return geom, nil
}

// CreateParcel runs the geometry engine and persists the outcome.
// Engine failures are not swallowed: a failed record is stored so the
// owner can see why their sketch was rejected, and the engine error is
// returned for immediate display.
func (s *parcelService) CreateParcel(ctx context.Context, ownerID string, sketch []models.Point2D, anchor models.GeoPoint, hint *models.DeclaredLandHint) (*models.Parcel, error) {
	now := time.Now().UTC()
	parcel := &models.Parcel{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Status:    models.ParcelStatusCompleted,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if hint != nil {
		parcel.DeclaredSizeAcres = hint.SizeAcres
		parcel.SurveyID = hint.SurveyID
		parcel.OwnershipVerified = hint.OwnershipVerified
	}

	geom, engineErr := geometry.Compute(sketch, anchor)
	if engineErr != nil {
		reason := engineErr.Error()
		parcel.Status = models.ParcelStatusFailed
		parcel.FailureReason = &reason
	} else {
		parcel.Geometry = geom
	}

	if err := s.repo.Create(ctx, parcel); err != nil {
		s.log.Error("Failed to store parcel", err, map[string]interface{}{
			"owner_id": ownerID,
		})
		return nil, fmt.Errorf("failed to store parcel: %w", err)
	}

	if engineErr != nil {
		s.log.Warn("Parcel stored with failed geometry", map[string]interface{}{
			"parcel_id": parcel.ID,
			"owner_id":  ownerID,
			"reason":    *parcel.FailureReason,
		})
		return parcel, engineErr
	}

	s.log.Info("Parcel created", map[string]interface{}{
		"parcel_id": parcel.ID,
		"owner_id":  ownerID,
		"area_sqm":  geom.AreaSquareMeters,
		"vertices":  len(geom.Vertices),
	})

	return parcel, nil
}

func (s *parcelService) GetParcel(ctx context.Context, parcelID uuid.UUID) (*models.Parcel, error) {
	parcel, err := s.repo.GetByID(ctx, parcelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query parcel: %w", err)
	}
	if parcel == nil {
		return nil, ErrParcelNotFound
	}

	return parcel, nil
}

func (s *parcelService) ListOwnerParcels(ctx context.Context, ownerID string) ([]models.Parcel, error) {
	parcels, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list parcels for owner: %w", err)
	}

	return parcels, nil
}

func (s *parcelService) SetReady(ctx context.Context, parcelID uuid.UUID, ownerID string, ready bool) (*models.Parcel, error) {
	parcel, err := s.repo.GetByID(ctx, parcelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query parcel: %w", err)
	}
	if parcel == nil {
		return nil, ErrParcelNotFound
	}
	if parcel.OwnerID != ownerID {
		return nil, ErrNotParcelOwner
	}
	if parcel.Status != models.ParcelStatusCompleted {
		return nil, ErrParcelNotCompleted
	}

	if parcel.ReadyToIntegrate == ready {
		// Idempotent: nothing to write.
		return parcel, nil
	}

	if err := s.repo.UpdateReady(ctx, parcelID, ready); err != nil {
		s.log.Error("Failed to update ready flag", err, map[string]interface{}{
			"parcel_id": parcelID,
			"ready":     ready,
		})
		return nil, fmt.Errorf("failed to update ready flag: %w", err)
	}

	parcel.ReadyToIntegrate = ready

	s.log.Info("Parcel opt-in updated", map[string]interface{}{
		"parcel_id": parcelID,
		"owner_id":  ownerID,
		"ready":     ready,
	})

	return parcel, nil
}

func (s *parcelService) GetReady(ctx context.Context, parcelID uuid.UUID) (bool, error) {
	parcel, err := s.repo.GetByID(ctx, parcelID)
	if err != nil {
		return false, fmt.Errorf("failed to query parcel: %w", err)
	}
	if parcel == nil {
		return false, ErrParcelNotFound
	}

	return parcel.ReadyToIntegrate, nil
}

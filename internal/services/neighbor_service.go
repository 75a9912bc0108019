package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"landpool/api/internal/geometry"
	"landpool/api/internal/logger"
	"landpool/api/internal/models"
	"landpool/api/internal/repository"
)

// Coordinate and radius validation bounds
const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0

	MinRadiusMeters = 1.0
	MaxRadiusMeters = 50000.0
)

// Neighbor search errors
var (
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrInvalidRadius      = errors.New("radius must be between 1 and 50000 meters")
)

// NeighborService ranks opt-in parcels by distance from an anchor.
type NeighborService interface {
	// FindNeighbors returns up to the configured page size of
	// candidates within radiusMeters of the anchor, sorted by
	// non-decreasing distance. The pool is every completed parcel with
	// ReadyToIntegrate set, excluding the requesting owner's own.
	// An empty slice is a valid result.
	FindNeighbors(ctx context.Context, anchor models.GeoPoint, radiusMeters float64, excludeOwnerID string) ([]models.NeighborCandidate, error)
}

// neighborService is the concrete implementation of NeighborService.
// The scan is linear over the opt-in pool; at the scale of a farming
// neighborhood no spatial index is warranted.
type neighborService struct {
	repo     repository.ParcelRepository
	pageSize int
	log      *logger.Logger
}

// NewNeighborService creates a new instance of NeighborService.
// pageSize caps the number of returned candidates.
func NewNeighborService(repo repository.ParcelRepository, pageSize int, log *logger.Logger) NeighborService {
	return &neighborService{
		repo:     repo,
		pageSize: pageSize,
		log:      log,
	}
}

func (s *neighborService) FindNeighbors(ctx context.Context, anchor models.GeoPoint, radiusMeters float64, excludeOwnerID string) ([]models.NeighborCandidate, error) {
	if !anchor.Valid() {
		s.log.Warn("Invalid anchor for neighbor search", map[string]interface{}{
			"lat": anchor.Latitude,
			"lng": anchor.Longitude,
		})
		return nil, fmt.Errorf("%w: lat=%f lng=%f", ErrInvalidCoordinates, anchor.Latitude, anchor.Longitude)
	}
	if radiusMeters < MinRadiusMeters || radiusMeters > MaxRadiusMeters {
		return nil, fmt.Errorf("%w: got %f", ErrInvalidRadius, radiusMeters)
	}

	pool, err := s.repo.ListReadyExcluding(ctx, excludeOwnerID)
	if err != nil {
		s.log.Error("Failed to load opt-in parcel pool", err, nil)
		return nil, fmt.Errorf("failed to load opt-in parcel pool: %w", err)
	}

	candidates := []models.NeighborCandidate{}
	for _, parcel := range pool {
		distance := geometry.Haversine(anchor, parcel.Geometry.Centroid)
		if distance > radiusMeters {
			continue
		}
		candidates = append(candidates, models.NeighborCandidate{
			OwnerID:        parcel.OwnerID,
			ParcelID:       parcel.ID,
			SizeAcres:      parcel.SizeAcres(),
			DistanceMeters: distance,
		})
	}

	// Stable sort: equidistant candidates keep pool iteration order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].DistanceMeters < candidates[j].DistanceMeters
	})

	if len(candidates) > s.pageSize {
		candidates = candidates[:s.pageSize]
	}

	s.log.Info("Neighbor search completed", map[string]interface{}{
		"lat":    anchor.Latitude,
		"lng":    anchor.Longitude,
		"radius": radiusMeters,
		"pool":   len(pool),
		"count":  len(candidates),
	})

	return candidates, nil
}

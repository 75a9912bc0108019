package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"landpool/api/internal/database"
	"landpool/api/internal/models"
)

// ParcelRepository defines the data access operations for parcels.
type ParcelRepository interface {
	// Create persists a new parcel record.
	Create(ctx context.Context, parcel *models.Parcel) error

	// GetByID fetches a parcel by id.
	// Returns nil, nil if no parcel exists (not an error).
	GetByID(ctx context.Context, id uuid.UUID) (*models.Parcel, error)

	// ListByOwner returns all of an owner's parcels, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]models.Parcel, error)

	// ListReadyExcluding returns the opt-in pool: every completed
	// parcel with ReadyToIntegrate set, excluding the given owner's.
	ListReadyExcluding(ctx context.Context, excludeOwnerID string) ([]models.Parcel, error)

	// UpdateReady flips the ready-to-integrate flag. Last writer wins.
	UpdateReady(ctx context.Context, id uuid.UUID, ready bool) error
}

// parcelRepository is the pgx-backed implementation of ParcelRepository.
type parcelRepository struct {
	db *database.Database
}

// NewParcelRepository creates a new instance of ParcelRepository.
func NewParcelRepository(db *database.Database) ParcelRepository {
	return &parcelRepository{
		db: db,
	}
}

const parcelColumns = `
	id,
	owner_id,
	centroid_lat,
	centroid_lng,
	vertices,
	side_lengths,
	area_sqm,
	declared_size_acres,
	survey_id,
	ownership_verified,
	ready_to_integrate,
	status,
	failure_reason,
	created_at,
	updated_at`

func (r *parcelRepository) Create(ctx context.Context, parcel *models.Parcel) error {
	vertices, err := json.Marshal(parcel.Geometry.Vertices)
	if err != nil {
		return fmt.Errorf("failed to marshal parcel vertices: %w", err)
	}
	sides, err := json.Marshal(parcel.Geometry.SideLengthsMeters)
	if err != nil {
		return fmt.Errorf("failed to marshal parcel side lengths: %w", err)
	}

	query := `
		INSERT INTO parcels (` + parcelColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = r.db.Pool.Exec(ctx, query,
		parcel.ID,
		parcel.OwnerID,
		parcel.Geometry.Centroid.Latitude,
		parcel.Geometry.Centroid.Longitude,
		vertices,
		sides,
		parcel.Geometry.AreaSquareMeters,
		parcel.DeclaredSizeAcres,
		parcel.SurveyID,
		parcel.OwnershipVerified,
		parcel.ReadyToIntegrate,
		string(parcel.Status),
		parcel.FailureReason,
		parcel.CreatedAt,
		parcel.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert parcel %s: %w", parcel.ID, err)
	}

	return nil
}

func (r *parcelRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Parcel, error) {
	query := `SELECT ` + parcelColumns + ` FROM parcels WHERE id = $1`

	parcel, err := scanParcel(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query parcel %s: %w", id, err)
	}

	return parcel, nil
}

func (r *parcelRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Parcel, error) {
	query := `SELECT ` + parcelColumns + ` FROM parcels WHERE owner_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query parcels for owner %s: %w", ownerID, err)
	}
	defer rows.Close()

	return collectParcels(rows)
}

func (r *parcelRepository) ListReadyExcluding(ctx context.Context, excludeOwnerID string) ([]models.Parcel, error) {
	query := `
		SELECT ` + parcelColumns + `
		FROM parcels
		WHERE ready_to_integrate = true
		  AND status = 'completed'
		  AND owner_id != $1
		ORDER BY created_at
	`

	rows, err := r.db.Pool.Query(ctx, query, excludeOwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query opt-in parcel pool: %w", err)
	}
	defer rows.Close()

	return collectParcels(rows)
}

func (r *parcelRepository) UpdateReady(ctx context.Context, id uuid.UUID, ready bool) error {
	query := `UPDATE parcels SET ready_to_integrate = $2, updated_at = now() WHERE id = $1`

	tag, err := r.db.Pool.Exec(ctx, query, id, ready)
	if err != nil {
		return fmt.Errorf("failed to update ready flag for parcel %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update ready flag: parcel %s not found", id)
	}

	return nil
}

// rowScanner covers both pgx.Row and pgx.Rows for shared scan code.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanParcel(row rowScanner) (*models.Parcel, error) {
	var parcel models.Parcel
	var verticesJSON, sidesJSON []byte
	var status string

	err := row.Scan(
		&parcel.ID,
		&parcel.OwnerID,
		&parcel.Geometry.Centroid.Latitude,
		&parcel.Geometry.Centroid.Longitude,
		&verticesJSON,
		&sidesJSON,
		&parcel.Geometry.AreaSquareMeters,
		&parcel.DeclaredSizeAcres,
		&parcel.SurveyID,
		&parcel.OwnershipVerified,
		&parcel.ReadyToIntegrate,
		&status,
		&parcel.FailureReason,
		&parcel.CreatedAt,
		&parcel.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parcel.Status = models.ParcelStatus(status)

	if err := json.Unmarshal(verticesJSON, &parcel.Geometry.Vertices); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vertices for parcel %s: %w", parcel.ID, err)
	}
	if err := json.Unmarshal(sidesJSON, &parcel.Geometry.SideLengthsMeters); err != nil {
		return nil, fmt.Errorf("failed to unmarshal side lengths for parcel %s: %w", parcel.ID, err)
	}

	return &parcel, nil
}

func collectParcels(rows pgx.Rows) ([]models.Parcel, error) {
	var parcels []models.Parcel

	for rows.Next() {
		parcel, err := scanParcel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan parcel row: %w", err)
		}
		parcels = append(parcels, *parcel)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating parcel rows: %w", err)
	}

	if parcels == nil {
		parcels = []models.Parcel{}
	}

	return parcels, nil
}

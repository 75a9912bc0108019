package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"landpool/api/internal/geometry"
	"landpool/api/internal/logger"
	"landpool/api/internal/models"
	"landpool/api/internal/repository"
)

// MockParcelRepository is a mock implementation of ParcelRepository for testing
type MockParcelRepository struct {
	mock.Mock
}

func (m *MockParcelRepository) Create(ctx context.Context, parcel *models.Parcel) error {
	args := m.Called(ctx, parcel)
	return args.Error(0)
}

func (m *MockParcelRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Parcel, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Parcel), args.Error(1)
}

func (m *MockParcelRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Parcel, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Parcel), args.Error(1)
}

func (m *MockParcelRepository) ListReadyExcluding(ctx context.Context, excludeOwnerID string) ([]models.Parcel, error) {
	args := m.Called(ctx, excludeOwnerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Parcel), args.Error(1)
}

func (m *MockParcelRepository) UpdateReady(ctx context.Context, id uuid.UUID, ready bool) error {
	args := m.Called(ctx, id, ready)
	return args.Error(0)
}

func testSketch() []models.Point2D {
	return []models.Point2D{
		{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0},
	}
}

var testAnchor = models.GeoPoint{Latitude: 12.97, Longitude: 77.59}

func TestCreateParcel_Success(t *testing.T) {
	repo := repository.NewMemoryParcelRepository()
	log := logger.New("test")
	service := NewParcelService(repo, log)

	ctx := context.Background()

	parcel, err := service.CreateParcel(ctx, "owner-1", testSketch(), testAnchor, nil)

	require.NoError(t, err)
	require.NotNil(t, parcel)
	assert.Equal(t, "owner-1", parcel.OwnerID)
	assert.Equal(t, models.ParcelStatusCompleted, parcel.Status)
	assert.Equal(t, testAnchor, parcel.Geometry.Centroid)
	assert.False(t, parcel.ReadyToIntegrate, "new parcels are not opted in")
	assert.InEpsilon(t, 100.0, parcel.Geometry.AreaSquareMeters, 0.01)

	stored, err := repo.GetByID(ctx, parcel.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, parcel.ID, stored.ID)
}

func TestCreateParcel_DeclaredHintCarried(t *testing.T) {
	repo := repository.NewMemoryParcelRepository()
	service := NewParcelService(repo, logger.New("test"))

	size := 3.5
	survey := "SY-441/2B"
	hint := &models.DeclaredLandHint{
		SizeAcres:         &size,
		SurveyID:          &survey,
		OwnershipVerified: true,
	}

	parcel, err := service.CreateParcel(context.Background(), "owner-1", testSketch(), testAnchor, hint)

	require.NoError(t, err)
	require.NotNil(t, parcel.DeclaredSizeAcres)
	assert.Equal(t, 3.5, *parcel.DeclaredSizeAcres)
	assert.Equal(t, "SY-441/2B", *parcel.SurveyID)
	assert.True(t, parcel.OwnershipVerified)
	assert.Equal(t, 3.5, parcel.SizeAcres(), "declared size wins over geometry-derived")
}

func TestCreateParcel_EngineFailureStoredAsFailed(t *testing.T) {
	repo := repository.NewMemoryParcelRepository()
	service := NewParcelService(repo, logger.New("test"))

	ctx := context.Background()
	tooFew := []models.Point2D{{X: 0, Y: 0}, {X: 1, Y: 1}}

	parcel, err := service.CreateParcel(ctx, "owner-1", tooFew, testAnchor, nil)

	assert.ErrorIs(t, err, geometry.ErrInsufficientVertices)
	require.NotNil(t, parcel, "failed parcel is still returned for display")
	assert.Equal(t, models.ParcelStatusFailed, parcel.Status)
	require.NotNil(t, parcel.FailureReason)
	assert.Contains(t, *parcel.FailureReason, "3 distinct points")

	// And it was persisted.
	stored, err := repo.GetByID(ctx, parcel.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.ParcelStatusFailed, stored.Status)
}

func TestCreateParcel_StoreFailure(t *testing.T) {
	mockRepo := new(MockParcelRepository)
	service := NewParcelService(mockRepo, logger.New("test"))

	ctx := context.Background()
	mockRepo.On("Create", ctx, mock.AnythingOfType("*models.Parcel")).
		Return(errors.New("connection refused"))

	parcel, err := service.CreateParcel(ctx, "owner-1", testSketch(), testAnchor, nil)

	assert.Error(t, err)
	assert.Nil(t, parcel)
	assert.Contains(t, err.Error(), "failed to store parcel")
	mockRepo.AssertExpectations(t)
}

func TestComputeGeometry_PassesThroughEngineErrors(t *testing.T) {
	service := NewParcelService(repository.NewMemoryParcelRepository(), logger.New("test"))

	_, err := service.ComputeGeometry(testSketch(), models.GeoPoint{Latitude: 91, Longitude: 0})
	assert.ErrorIs(t, err, geometry.ErrInvalidAnchor)

	geom, err := service.ComputeGeometry(testSketch(), testAnchor)
	require.NoError(t, err)
	assert.Equal(t, testAnchor, geom.Centroid)
}

func TestSetReady_Success(t *testing.T) {
	repo := repository.NewMemoryParcelRepository()
	service := NewParcelService(repo, logger.New("test"))

	ctx := context.Background()
	parcel, err := service.CreateParcel(ctx, "owner-1", testSketch(), testAnchor, nil)
	require.NoError(t, err)

	updated, err := service.SetReady(ctx, parcel.ID, "owner-1", true)
	require.NoError(t, err)
	assert.True(t, updated.ReadyToIntegrate)

	ready, err := service.GetReady(ctx, parcel.ID)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestSetReady_Idempotent(t *testing.T) {
	repo := repository.NewMemoryParcelRepository()
	service := NewParcelService(repo, logger.New("test"))

	ctx := context.Background()
	parcel, err := service.CreateParcel(ctx, "owner-1", testSketch(), testAnchor, nil)
	require.NoError(t, err)

	_, err = service.SetReady(ctx, parcel.ID, "owner-1", true)
	require.NoError(t, err)
	updated, err := service.SetReady(ctx, parcel.ID, "owner-1", true)
	require.NoError(t, err)
	assert.True(t, updated.ReadyToIntegrate)
}

func TestSetReady_NotFound(t *testing.T) {
	service := NewParcelService(repository.NewMemoryParcelRepository(), logger.New("test"))

	_, err := service.SetReady(context.Background(), uuid.New(), "owner-1", true)
	assert.ErrorIs(t, err, ErrParcelNotFound)
}

func TestSetReady_WrongOwner(t *testing.T) {
	repo := repository.NewMemoryParcelRepository()
	service := NewParcelService(repo, logger.New("test"))

	ctx := context.Background()
	parcel, err := service.CreateParcel(ctx, "owner-1", testSketch(), testAnchor, nil)
	require.NoError(t, err)

	_, err = service.SetReady(ctx, parcel.ID, "owner-2", true)
	assert.ErrorIs(t, err, ErrNotParcelOwner)
}

func TestSetReady_FailedParcelRejected(t *testing.T) {
	repo := repository.NewMemoryParcelRepository()
	service := NewParcelService(repo, logger.New("test"))

	ctx := context.Background()
	parcel, _ := service.CreateParcel(ctx, "owner-1", []models.Point2D{{X: 0, Y: 0}}, testAnchor, nil)
	require.NotNil(t, parcel)

	_, err := service.SetReady(ctx, parcel.ID, "owner-1", true)
	assert.ErrorIs(t, err, ErrParcelNotCompleted)
}

func TestGetParcel_NotFound(t *testing.T) {
	service := NewParcelService(repository.NewMemoryParcelRepository(), logger.New("test"))

	_, err := service.GetParcel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrParcelNotFound)
}

func TestListOwnerParcels(t *testing.T) {
	repo := repository.NewMemoryParcelRepository()
	service := NewParcelService(repo, logger.New("test"))

	ctx := context.Background()
	_, err := service.CreateParcel(ctx, "owner-1", testSketch(), testAnchor, nil)
	require.NoError(t, err)
	_, err = service.CreateParcel(ctx, "owner-1", testSketch(), testAnchor, nil)
	require.NoError(t, err)
	_, err = service.CreateParcel(ctx, "owner-2", testSketch(), testAnchor, nil)
	require.NoError(t, err)

	parcels, err := service.ListOwnerParcels(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, parcels, 2)
	for _, p := range parcels {
		assert.Equal(t, "owner-1", p.OwnerID)
	}
}

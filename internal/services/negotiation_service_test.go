package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landpool/api/internal/logger"
	"landpool/api/internal/models"
	"landpool/api/internal/repository"
)

// negotiationFixture wires the negotiation service over in-memory
// repositories with two opted-in parcels of the given declared sizes.
type negotiationFixture struct {
	service        NegotiationService
	parcels        *repository.MemoryParcelRepository
	negotiations   *repository.MemoryNegotiationRepository
	requesterOwner string
	targetOwner    string
	requesterID    uuid.UUID
	targetID       uuid.UUID
}

func newNegotiationFixture(t *testing.T, requesterAcres, targetAcres float64) *negotiationFixture {
	t.Helper()

	parcels := repository.NewMemoryParcelRepository()
	negotiations := repository.NewMemoryNegotiationRepository()
	log := logger.New("test")

	f := &negotiationFixture{
		service:        NewNegotiationService(negotiations, parcels, log),
		parcels:        parcels,
		negotiations:   negotiations,
		requesterOwner: "owner-req",
		targetOwner:    "owner-tgt",
	}

	f.requesterID = f.seed(t, f.requesterOwner, requesterAcres, true)
	f.targetID = f.seed(t, f.targetOwner, targetAcres, true)
	return f
}

func (f *negotiationFixture) seed(t *testing.T, ownerID string, acres float64, ready bool) uuid.UUID {
	t.Helper()

	now := time.Now().UTC()
	parcel := &models.Parcel{
		ID:      uuid.New(),
		OwnerID: ownerID,
		Geometry: models.ParcelGeometry{
			Centroid:         models.GeoPoint{Latitude: 12.97, Longitude: 77.59},
			AreaSquareMeters: acres * models.SquareMetersPerAcre,
		},
		DeclaredSizeAcres: &acres,
		ReadyToIntegrate:  ready,
		Status:            models.ParcelStatusCompleted,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, f.parcels.Create(context.Background(), parcel))
	return parcel.ID
}

func testPeriod() models.Period {
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	return models.Period{Start: start, End: start.AddDate(1, 0, 0)}
}

func (f *negotiationFixture) request(t *testing.T) *models.IntegrationNegotiation {
	t.Helper()
	n, err := f.service.RequestIntegration(context.Background(), f.requesterOwner, f.requesterID, f.targetID, testPeriod())
	require.NoError(t, err)
	return n
}

func (f *negotiationFixture) accept(t *testing.T, id uuid.UUID) {
	t.Helper()
	_, err := f.service.Respond(context.Background(), id, f.targetOwner, ActionAccept)
	require.NoError(t, err)
}

func TestRequestIntegration_RatiosFrozenAtCreation(t *testing.T) {
	f := newNegotiationFixture(t, 3, 7)

	n := f.request(t)

	assert.Equal(t, models.NegotiationPending, n.Status)
	assert.Equal(t, 3.0, n.RequestingSize)
	assert.Equal(t, 7.0, n.TargetSize)
	assert.Equal(t, 10.0, n.TotalSize)
	assert.Equal(t, models.Ratio{Requesting: 30.0, Target: 70.0}, n.ContributionRatio)
	assert.Equal(t, n.ContributionRatio, n.ProfitSharingRatio, "profit split defaults to contribution split")
	assert.Empty(t, n.Signatures)
	assert.Nil(t, n.RespondedAt)
}

func TestRequestIntegration_RatioAlwaysSumsTo100(t *testing.T) {
	tests := []struct {
		name       string
		requesting float64
		target     float64
	}{
		{"even", 5, 5},
		{"thirds", 1, 2},
		{"sevenths", 3, 4},
		{"tiny vs large", 0.3, 99.7},
		{"repeating decimal", 1, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newNegotiationFixture(t, tt.requesting, tt.target)
			n := f.request(t)

			sum := n.ContributionRatio.Requesting + n.ContributionRatio.Target
			assert.InDelta(t, 100.0, sum, 1e-9, "ratios %v must sum to 100",
				n.ContributionRatio)
			assert.Equal(t, n.RequestingSize+n.TargetSize, n.TotalSize)
		})
	}
}

func TestRequestIntegration_SelfRequest(t *testing.T) {
	f := newNegotiationFixture(t, 3, 7)
	secondOwn := f.seed(t, f.requesterOwner, 2, true)

	_, err := f.service.RequestIntegration(context.Background(), f.requesterOwner, f.requesterID, secondOwn, testPeriod())
	assert.ErrorIs(t, err, ErrSelfRequest)
}

func TestRequestIntegration_TargetNotReady(t *testing.T) {
	f := newNegotiationFixture(t, 3, 7)
	optedOut := f.seed(t, "owner-other", 4, false)

	_, err := f.service.RequestIntegration(context.Background(), f.requesterOwner, f.requesterID, optedOut, testPeriod())
	assert.ErrorIs(t, err, ErrTargetNotReady)
}

func TestRequestIntegration_DuplicatePending(t *testing.T) {
	f := newNegotiationFixture(t, 3, 7)
	f.request(t)

	_, err := f.service.RequestIntegration(context.Background(), f.requesterOwner, f.requesterID, f.targetID, testPeriod())
	assert.ErrorIs(t, err, ErrDuplicatePending)
}

func TestRequestIntegration_DuplicateBlocksReverseDirection(t *testing.T) {
	f := newNegotiationFixture(t, 3, 7)
	f.request(t)

	// Both parcels are opted in, so the reverse proposal is otherwise
	// valid; the open pair still blocks it.
	_, err := f.service.RequestIntegration(context.Background(), f.targetOwner, f.targetID, f.requesterID, testPeriod())
	assert.ErrorIs(t, err, ErrDuplicatePending)
}

func TestRequestIntegration_InvalidPeriod(t *testing.T) {
	f := newNegotiationFixture(t, 3, 7)

	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := f.service.RequestIntegration(context.Background(), f.requesterOwner, f.requesterID, f.targetID,
		models.Period{Start: start, End: start})
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestRespond_AcceptRecordsTimestampOnly(t *testing.T) {
	f := newNegotiationFixture(t, 3, 7)
	n := f.request(t)

	updated, err := f.service.Respond(context.Background(), n.ID, f.targetOwner, ActionAccept)
	require.NoError(t, err)

	assert.Equal(t, models.NegotiationAccepted, updated.Status)
	assert.NotNil(t, updated.RespondedAt)
	assert.Nil(t, updated.ExecutedAt, "accept does not auto-complete")
}

func TestRespond_RejectIsTerminal(t *testing.T) {
	f := newNegotiationFixture(t, 3, 7)
	n := f.request(t)

	updated, err := f.service.Respond(context.Background(), n.ID, f.targetOwner, ActionReject)
	require.NoError(t, err)
	assert.Equal(t, models.NegotiationRejected, updated.Status)

	// Re-responding after a terminal state.
	_, err = f.service.Respond(context.Background(), n.ID, f.targetOwner, ActionAccept)
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	// Signing a rejected negotiation.
	_, err = f.service.Sign(context.Background(), n.ID, f.targetOwner, "Target", "snapshot", "")
	assert.ErrorIs(t, err, ErrNotReadyToSign)
}

func TestRespond_OnlyTargetMayRespond(t *testing.T) {
	f := newNegotiationFixture(t, 3, 7)
	n := f.request(t)

	_, err := f.service.Respond(context.Background(), n.ID, f.requesterOwner, ActionAccept)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.service.Respond(context.Background(), n.ID, "owner-stranger", ActionAccept)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRespond_AfterAcceptIsInvalidTransition(t *testing.T) {
	f := newNegotiationFixture(t, 3, 7)
	n := f.request(t)
	f.accept(t, n.ID)

	_, err := f.service.Respond(context.Background(), n.ID, f.targetOwner, ActionReject)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSign_BeforeAcceptRejected(t *testing.T) {
	f := newNegotiationFixture(t, 3, 7)
	n := f.request(t)

	_, err := f.service.Sign(context.Background(), n.ID, f.requesterOwner, "Requester", "snapshot", "")
	assert.ErrorIs(t, err, ErrNotReadyToSign)
}

func TestSign_NonParticipantRejected(t *testing.T) {
	f := newNegotiationFixture(t, 3, 7)
	n := f.request(t)
	f.accept(t, n.ID)

	_, err := f.service.Sign(context.Background(), n.ID, "owner-stranger", "Stranger", "snapshot", "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSign_DualSignatureCompletes(t *testing.T) {
	f := newNegotiationFixture(t, 3, 7)
	n := f.request(t)
	f.accept(t, n.ID)
	ctx := context.Background()

	first, err := f.service.Sign(ctx, n.ID, f.requesterOwner, "Requester", "snapshot", "web")
	require.NoError(t, err)
	assert.True(t, first.Signed)
	assert.False(t, first.Completed, "one signature is not enough")

	status, err := f.service.GetSignatureStatus(ctx, n.ID, f.requesterOwner)
	require.NoError(t, err)
	assert.True(t, status.CallerSigned)
	assert.False(t, status.OtherSigned)
	assert.False(t, status.Completed)

	second, err := f.service.Sign(ctx, n.ID, f.targetOwner, "Target", "snapshot", "web")
	require.NoError(t, err)
	assert.True(t, second.Signed)
	assert.True(t, second.Completed, "second signature completes the negotiation")

	final, err := f.service.GetNegotiation(ctx, n.ID, f.requesterOwner)
	require.NoError(t, err)
	assert.Equal(t, models.NegotiationCompleted, final.Status)
	assert.NotNil(t, final.ExecutedAt)
	require.Len(t, final.Signatures, 2)
	assert.NotEmpty(t, final.Signatures[0].ContentHash)
	assert.NotEqual(t, final.Signatures[0].ContentHash, final.Signatures[1].ContentHash)
}

func TestSign_DuplicateBySameOwner(t *testing.T) {
	f := newNegotiationFixture(t, 3, 7)
	n := f.request(t)
	f.accept(t, n.ID)
	ctx := context.Background()

	_, err := f.service.Sign(ctx, n.ID, f.requesterOwner, "Requester", "snapshot", "")
	require.NoError(t, err)

	_, err = f.service.Sign(ctx, n.ID, f.requesterOwner, "Requester", "snapshot", "")
	assert.ErrorIs(t, err, ErrAlreadySigned)

	// No duplicate ledger entry.
	stored, err := f.negotiations.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Signatures, 1)
}

func TestSign_AfterCompletionRejected(t *testing.T) {
	f := newNegotiationFixture(t, 3, 7)
	n := f.request(t)
	f.accept(t, n.ID)
	ctx := context.Background()

	_, err := f.service.Sign(ctx, n.ID, f.requesterOwner, "Requester", "snapshot", "")
	require.NoError(t, err)
	_, err = f.service.Sign(ctx, n.ID, f.targetOwner, "Target", "snapshot", "")
	require.NoError(t, err)

	_, err = f.service.Sign(ctx, n.ID, f.requesterOwner, "Requester", "snapshot", "")
	assert.ErrorIs(t, err, ErrNotReadyToSign)
}

// flakyNegotiationRepository delegates to the wrapped store but fails
// the first completing signature write, standing in for a connection
// dropped mid-commit.
type flakyNegotiationRepository struct {
	repository.NegotiationRepository
	mu     sync.Mutex
	failed bool
}

func (r *flakyNegotiationRepository) AppendSignature(ctx context.Context, n *models.IntegrationNegotiation, sig *models.Signature, complete bool) error {
	r.mu.Lock()
	fail := complete && !r.failed
	if fail {
		r.failed = true
	}
	r.mu.Unlock()

	if fail {
		return errors.New("connection reset during commit")
	}
	return r.NegotiationRepository.AppendSignature(ctx, n, sig, complete)
}

func TestSign_FailedCompletionWriteIsRetryable(t *testing.T) {
	f := newNegotiationFixture(t, 3, 7)
	flaky := &flakyNegotiationRepository{NegotiationRepository: f.negotiations}
	service := NewNegotiationService(flaky, f.parcels, logger.New("test"))
	n := f.request(t)
	f.accept(t, n.ID)
	ctx := context.Background()

	_, err := service.Sign(ctx, n.ID, f.requesterOwner, "Requester", "snapshot", "")
	require.NoError(t, err)

	// The completing write fails. The second signature must not be left
	// behind with the negotiation stuck in accepted.
	_, err = service.Sign(ctx, n.ID, f.targetOwner, "Target", "snapshot", "")
	require.Error(t, err)

	stored, err := f.negotiations.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NegotiationAccepted, stored.Status)
	assert.Len(t, stored.Signatures, 1, "failed completion write must not persist the signature")

	// The same owner retries and the negotiation completes.
	res, err := service.Sign(ctx, n.ID, f.targetOwner, "Target", "snapshot", "")
	require.NoError(t, err)
	assert.True(t, res.Completed)

	final, err := f.negotiations.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NegotiationCompleted, final.Status)
	assert.Len(t, final.Signatures, 2)
}

func TestSign_ConcurrentDualSigning(t *testing.T) {
	// Both parties sign at once, repeatedly. Exactly one call per run
	// must observe completion; the ledger must end with exactly two
	// entries.
	for i := 0; i < 50; i++ {
		f := newNegotiationFixture(t, 3, 7)
		n := f.request(t)
		f.accept(t, n.ID)

		var wg sync.WaitGroup
		results := make([]SignResult, 2)
		owners := []string{f.requesterOwner, f.targetOwner}

		for j, owner := range owners {
			wg.Add(1)
			go func(idx int, ownerID string) {
				defer wg.Done()
				res, err := f.service.Sign(context.Background(), n.ID, ownerID, ownerID, "snapshot", "")
				assert.NoError(t, err)
				results[idx] = res
			}(j, owner)
		}
		wg.Wait()

		completions := 0
		for _, res := range results {
			assert.True(t, res.Signed)
			if res.Completed {
				completions++
			}
		}
		assert.Equal(t, 1, completions, "exactly one signing call completes the negotiation")

		final, err := f.negotiations.GetByID(context.Background(), n.ID)
		require.NoError(t, err)
		assert.Equal(t, models.NegotiationCompleted, final.Status)
		assert.Len(t, final.Signatures, 2)
	}
}

func TestGetSignatureStatus_AccessControl(t *testing.T) {
	f := newNegotiationFixture(t, 3, 7)
	n := f.request(t)

	_, err := f.service.GetSignatureStatus(context.Background(), n.ID, "owner-stranger")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.service.GetSignatureStatus(context.Background(), uuid.New(), f.requesterOwner)
	assert.ErrorIs(t, err, ErrNegotiationNotFound)
}

func TestListOwnerNegotiations(t *testing.T) {
	f := newNegotiationFixture(t, 3, 7)
	n := f.request(t)

	for _, owner := range []string{f.requesterOwner, f.targetOwner} {
		list, err := f.service.ListOwnerNegotiations(context.Background(), owner)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, n.ID, list[0].ID)
	}

	list, err := f.service.ListOwnerNegotiations(context.Background(), "owner-stranger")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRenderAgreement_RequiresCompletion(t *testing.T) {
	f := newNegotiationFixture(t, 3, 7)
	n := f.request(t)
	f.accept(t, n.ID)

	_, err := f.service.RenderAgreement(context.Background(), n.ID, f.requesterOwner)
	assert.ErrorIs(t, err, ErrNotCompleted)
}

func TestRenderAgreement_CompletedNegotiation(t *testing.T) {
	f := newNegotiationFixture(t, 3, 7)
	n := f.request(t)
	f.accept(t, n.ID)
	ctx := context.Background()

	_, err := f.service.Sign(ctx, n.ID, f.requesterOwner, "Anita Rao", "snapshot", "")
	require.NoError(t, err)
	_, err = f.service.Sign(ctx, n.ID, f.targetOwner, "Suresh Gowda", "snapshot", "")
	require.NoError(t, err)

	text, err := f.service.RenderAgreement(ctx, n.ID, f.targetOwner)
	require.NoError(t, err)

	assert.Contains(t, text, "LAND INTEGRATION AGREEMENT")
	assert.Contains(t, text, "Anita Rao")
	assert.Contains(t, text, "Suresh Gowda")
	assert.Contains(t, text, "30.0%")
	assert.Contains(t, text, "70.0%")
	assert.Contains(t, text, "12 month")

	// Deterministic given identical inputs.
	again, err := f.service.RenderAgreement(ctx, n.ID, f.requesterOwner)
	require.NoError(t, err)
	assert.Equal(t, text, again)

	// Non-participants cannot render.
	_, err = f.service.RenderAgreement(ctx, n.ID, "owner-stranger")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSplitRatio(t *testing.T) {
	tests := []struct {
		name       string
		requesting float64
		target     float64
		want       models.Ratio
	}{
		{"3 and 7 acres", 3, 7, models.Ratio{Requesting: 30.0, Target: 70.0}},
		{"equal", 5, 5, models.Ratio{Requesting: 50.0, Target: 50.0}},
		{"one third", 1, 2, models.Ratio{Requesting: 33.3, Target: 66.7}},
		{"zero requester", 0, 4, models.Ratio{Requesting: 0.0, Target: 100.0}},
		{"both zero", 0, 0, models.Ratio{Requesting: 50.0, Target: 50.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitRatio(tt.requesting, tt.target)
			assert.Equal(t, tt.want, got)
			assert.InDelta(t, 100.0, got.Requesting+got.Target, 1e-9)
		})
	}
}

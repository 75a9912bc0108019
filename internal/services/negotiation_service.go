package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"landpool/api/internal/agreement"
	"landpool/api/internal/logger"
	"landpool/api/internal/models"
	"landpool/api/internal/repository"
)

// Negotiation state machine errors. All signal logical conflicts or
// authorization failures and are surfaced verbatim for user-facing
// messaging; none are retried internally.
var (
	ErrNegotiationNotFound = errors.New("negotiation not found")
	ErrUnauthorized        = errors.New("caller is not a participant in this negotiation")
	ErrSelfRequest         = errors.New("cannot request integration with your own parcel")
	ErrTargetNotReady      = errors.New("target parcel is not open to integration")
	ErrDuplicatePending    = errors.New("an open negotiation already exists between these owners")
	ErrInvalidPeriod       = errors.New("period end must be after period start")
	ErrInvalidTransition   = errors.New("negotiation is not in a state that allows this action")
	ErrAlreadyResolved     = errors.New("negotiation has already been resolved")
	ErrNotReadyToSign      = errors.New("negotiation must be accepted before signing")
	ErrAlreadySigned       = errors.New("owner has already signed this negotiation")
	ErrNotCompleted        = errors.New("negotiation is not completed")
)

// ResponseAction is the target owner's answer to a pending request.
type ResponseAction string

const (
	ActionAccept ResponseAction = "accept"
	ActionReject ResponseAction = "reject"
)

// SignResult tells the caller whether their signature landed and
// whether it was the one that completed the negotiation, so messaging
// can branch without a second query.
type SignResult struct {
	Signed    bool `json:"signed"`
	Completed bool `json:"completed"`
}

// SignatureStatus is a projection over a negotiation's ledger from one
// participant's point of view.
type SignatureStatus struct {
	CallerSigned bool `json:"callerSigned"`
	OtherSigned  bool `json:"otherSigned"`
	Completed    bool `json:"completed"`
}

// NegotiationService drives the bilateral integration workflow:
// request, response, dual signing, completion, and agreement rendering.
type NegotiationService interface {
	// RequestIntegration creates a pending negotiation between the
	// caller's parcel and a target parcel. Sizes and ratios are
	// computed here and frozen for the life of the negotiation.
	RequestIntegration(ctx context.Context, ownerID string, requesterParcelID, targetParcelID uuid.UUID, period models.Period) (*models.IntegrationNegotiation, error)

	// Respond records the target owner's accept or reject decision on
	// a pending negotiation.
	Respond(ctx context.Context, negotiationID uuid.UUID, ownerID string, action ResponseAction) (*models.IntegrationNegotiation, error)

	// Sign appends the caller's signature to an accepted negotiation
	// and completes it once both participants have signed.
	Sign(ctx context.Context, negotiationID uuid.UUID, ownerID, displayName, snapshotText, originMetadata string) (SignResult, error)

	// GetSignatureStatus reports who has signed, from the caller's
	// perspective. Participants only.
	GetSignatureStatus(ctx context.Context, negotiationID uuid.UUID, ownerID string) (SignatureStatus, error)

	// GetNegotiation fetches a negotiation. Participants only.
	GetNegotiation(ctx context.Context, negotiationID uuid.UUID, ownerID string) (*models.IntegrationNegotiation, error)

	// ListOwnerNegotiations returns every negotiation the owner is a
	// party to, newest first.
	ListOwnerNegotiations(ctx context.Context, ownerID string) ([]models.IntegrationNegotiation, error)

	// RenderAgreement produces the contract text for a completed
	// negotiation. Participants only.
	RenderAgreement(ctx context.Context, negotiationID uuid.UUID, ownerID string) (string, error)
}

// negotiationService is the concrete implementation of NegotiationService.
type negotiationService struct {
	negotiations repository.NegotiationRepository
	parcels      repository.ParcelRepository
	log          *logger.Logger
	now          func() time.Time
}

// NewNegotiationService creates a new instance of NegotiationService.
func NewNegotiationService(negotiations repository.NegotiationRepository, parcels repository.ParcelRepository, log *logger.Logger) NegotiationService {
	return &negotiationService{
		negotiations: negotiations,
		parcels:      parcels,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *negotiationService) RequestIntegration(ctx context.Context, ownerID string, requesterParcelID, targetParcelID uuid.UUID, period models.Period) (*models.IntegrationNegotiation, error) {
	if !period.End.After(period.Start) {
		return nil, ErrInvalidPeriod
	}

	requesterParcel, err := s.parcels.GetByID(ctx, requesterParcelID)
	if err != nil {
		return nil, fmt.Errorf("failed to load requester parcel: %w", err)
	}
	if requesterParcel == nil {
		return nil, ErrParcelNotFound
	}
	if requesterParcel.OwnerID != ownerID {
		return nil, ErrNotParcelOwner
	}
	if requesterParcel.Status != models.ParcelStatusCompleted {
		return nil, ErrParcelNotCompleted
	}

	targetParcel, err := s.parcels.GetByID(ctx, targetParcelID)
	if err != nil {
		return nil, fmt.Errorf("failed to load target parcel: %w", err)
	}
	if targetParcel == nil {
		return nil, ErrParcelNotFound
	}
	if targetParcel.OwnerID == ownerID {
		return nil, ErrSelfRequest
	}
	if !targetParcel.ReadyToIntegrate || targetParcel.Status != models.ParcelStatusCompleted {
		return nil, ErrTargetNotReady
	}

	// Serialize creation per owner pair so two near-simultaneous
	// proposals cannot both pass the duplicate check.
	release, err := s.negotiations.AcquirePairLock(ctx, ownerID, targetParcel.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock owner pair: %w", err)
	}
	defer release()

	open, err := s.negotiations.HasOpenBetween(ctx, ownerID, targetParcel.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for open negotiations: %w", err)
	}
	if open {
		return nil, ErrDuplicatePending
	}

	// Terms are frozen here: later parcel edits never drift an
	// in-flight negotiation.
	requestingSize := requesterParcel.SizeAcres()
	targetSize := targetParcel.SizeAcres()
	ratio := splitRatio(requestingSize, targetSize)

	n := &models.IntegrationNegotiation{
		ID:                 uuid.New(),
		RequestingOwner:    ownerID,
		TargetOwner:        targetParcel.OwnerID,
		RequestingParcelID: requesterParcelID,
		TargetParcelID:     targetParcelID,
		Status:             models.NegotiationPending,
		RequestedAt:        s.now(),
		Period:             period,
		RequestingSize:     requestingSize,
		TargetSize:         targetSize,
		TotalSize:          requestingSize + targetSize,
		ContributionRatio:  ratio,
		ProfitSharingRatio: ratio, // size-proportional sharing is the only policy
		Signatures:         []models.Signature{},
	}

	if err := s.negotiations.Create(ctx, n); err != nil {
		s.log.Error("Failed to store negotiation", err, map[string]interface{}{
			"requesting_owner": ownerID,
			"target_owner":     targetParcel.OwnerID,
		})
		return nil, fmt.Errorf("failed to store negotiation: %w", err)
	}

	s.log.Info("Integration requested", map[string]interface{}{
		"negotiation_id":   n.ID,
		"requesting_owner": n.RequestingOwner,
		"target_owner":     n.TargetOwner,
		"total_size":       n.TotalSize,
	})

	return n, nil
}

func (s *negotiationService) Respond(ctx context.Context, negotiationID uuid.UUID, ownerID string, action ResponseAction) (*models.IntegrationNegotiation, error) {
	release, err := s.negotiations.AcquireNegotiationLock(ctx, negotiationID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock negotiation: %w", err)
	}
	defer release()

	n, err := s.negotiations.GetByID(ctx, negotiationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load negotiation: %w", err)
	}
	if n == nil {
		return nil, ErrNegotiationNotFound
	}

	// Only the target owner responds. The requesting owner is a
	// participant but may not answer their own proposal.
	if !n.IsParticipant(ownerID) || ownerID != n.TargetOwner {
		return nil, ErrUnauthorized
	}

	if n.Status.Terminal() {
		return nil, ErrAlreadyResolved
	}
	if n.Status != models.NegotiationPending {
		return nil, ErrInvalidTransition
	}

	now := s.now()
	n.RespondedAt = &now

	switch action {
	case ActionAccept:
		n.Status = models.NegotiationAccepted
	case ActionReject:
		n.Status = models.NegotiationRejected
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}

	if err := s.negotiations.UpdateState(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to persist response: %w", err)
	}

	s.log.Info("Negotiation response recorded", map[string]interface{}{
		"negotiation_id": n.ID,
		"target_owner":   ownerID,
		"status":         string(n.Status),
	})

	return n, nil
}

// Sign appends the caller's ledger entry and flips the negotiation to
// completed once both participants have signed. The whole
// load-validate-append-complete sequence runs under the per-negotiation
// lock so two concurrent signings serialize: exactly one of them
// observes both signatures present and performs the completion
// transition. The append and the completion flip are persisted
// atomically, so a failed write never leaves a fully signed
// negotiation stuck in the accepted state.
func (s *negotiationService) Sign(ctx context.Context, negotiationID uuid.UUID, ownerID, displayName, snapshotText, originMetadata string) (SignResult, error) {
	release, err := s.negotiations.AcquireNegotiationLock(ctx, negotiationID)
	if err != nil {
		return SignResult{}, fmt.Errorf("failed to lock negotiation: %w", err)
	}
	defer release()

	n, err := s.negotiations.GetByID(ctx, negotiationID)
	if err != nil {
		return SignResult{}, fmt.Errorf("failed to load negotiation: %w", err)
	}
	if n == nil {
		return SignResult{}, ErrNegotiationNotFound
	}
	if !n.IsParticipant(ownerID) {
		return SignResult{}, ErrUnauthorized
	}
	if n.Status != models.NegotiationAccepted {
		return SignResult{}, ErrNotReadyToSign
	}
	if n.SignatureFor(ownerID) != nil {
		return SignResult{}, ErrAlreadySigned
	}

	now := s.now()
	sig := &models.Signature{
		OwnerID:        ownerID,
		DisplayName:    displayName,
		ContentHash:    contentHash(ownerID, snapshotText, now),
		SignedAt:       now,
		OriginMetadata: originMetadata,
	}

	n.Signatures = append(n.Signatures, *sig)
	complete := n.SignatureFor(n.RequestingOwner) != nil && n.SignatureFor(n.TargetOwner) != nil
	if complete {
		n.Status = models.NegotiationCompleted
		n.ExecutedAt = &now
	}

	if err := s.negotiations.AppendSignature(ctx, n, sig, complete); err != nil {
		if errors.Is(err, repository.ErrDuplicateSignature) {
			return SignResult{}, ErrAlreadySigned
		}
		return SignResult{}, fmt.Errorf("failed to record signature: %w", err)
	}

	result := SignResult{Signed: true, Completed: complete}

	s.log.Info("Signature recorded", map[string]interface{}{
		"negotiation_id": n.ID,
		"owner_id":       ownerID,
		"completed":      result.Completed,
	})

	return result, nil
}

func (s *negotiationService) GetSignatureStatus(ctx context.Context, negotiationID uuid.UUID, ownerID string) (SignatureStatus, error) {
	n, err := s.negotiations.GetByID(ctx, negotiationID)
	if err != nil {
		return SignatureStatus{}, fmt.Errorf("failed to load negotiation: %w", err)
	}
	if n == nil {
		return SignatureStatus{}, ErrNegotiationNotFound
	}
	if !n.IsParticipant(ownerID) {
		return SignatureStatus{}, ErrUnauthorized
	}

	return SignatureStatus{
		CallerSigned: n.SignatureFor(ownerID) != nil,
		OtherSigned:  n.SignatureFor(n.OtherParty(ownerID)) != nil,
		Completed:    n.Status == models.NegotiationCompleted,
	}, nil
}

func (s *negotiationService) GetNegotiation(ctx context.Context, negotiationID uuid.UUID, ownerID string) (*models.IntegrationNegotiation, error) {
	n, err := s.negotiations.GetByID(ctx, negotiationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load negotiation: %w", err)
	}
	if n == nil {
		return nil, ErrNegotiationNotFound
	}
	if !n.IsParticipant(ownerID) {
		return nil, ErrUnauthorized
	}

	return n, nil
}

func (s *negotiationService) ListOwnerNegotiations(ctx context.Context, ownerID string) ([]models.IntegrationNegotiation, error) {
	negotiations, err := s.negotiations.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list negotiations for owner: %w", err)
	}

	return negotiations, nil
}

func (s *negotiationService) RenderAgreement(ctx context.Context, negotiationID uuid.UUID, ownerID string) (string, error) {
	n, err := s.GetNegotiation(ctx, negotiationID, ownerID)
	if err != nil {
		return "", err
	}
	if n.Status != models.NegotiationCompleted {
		return "", ErrNotCompleted
	}

	requesting, err := s.partyDetails(ctx, n, n.RequestingOwner, n.RequestingParcelID)
	if err != nil {
		return "", err
	}
	target, err := s.partyDetails(ctx, n, n.TargetOwner, n.TargetParcelID)
	if err != nil {
		return "", err
	}

	text, err := agreement.Render(n, requesting, target)
	if err != nil {
		if errors.Is(err, agreement.ErrNotCompleted) {
			return "", ErrNotCompleted
		}
		return "", fmt.Errorf("failed to render agreement: %w", err)
	}

	return text, nil
}

func (s *negotiationService) partyDetails(ctx context.Context, n *models.IntegrationNegotiation, ownerID string, parcelID uuid.UUID) (agreement.PartyDetails, error) {
	parcel, err := s.parcels.GetByID(ctx, parcelID)
	if err != nil {
		return agreement.PartyDetails{}, fmt.Errorf("failed to load parcel for agreement: %w", err)
	}
	if parcel == nil {
		return agreement.PartyDetails{}, ErrParcelNotFound
	}

	sig := n.SignatureFor(ownerID)
	if sig == nil {
		// Completed implies both signatures; a missing one is a broken record.
		return agreement.PartyDetails{}, fmt.Errorf("completed negotiation %s is missing a signature for %s", n.ID, ownerID)
	}

	size := n.RequestingSize
	if ownerID == n.TargetOwner {
		size = n.TargetSize
	}

	details := agreement.PartyDetails{
		OwnerID:     ownerID,
		DisplayName: sig.DisplayName,
		SizeAcres:   size,
		Centroid:    parcel.Geometry.Centroid,
		Signature:   *sig,
	}
	if parcel.SurveyID != nil {
		details.SurveyID = *parcel.SurveyID
	}

	return details, nil
}

// splitRatio computes the two-party percentage split of total size,
// rounded to one decimal. Any rounding remainder goes to the side whose
// unrounded share is larger, so the pair always sums to exactly 100.0.
func splitRatio(requestingSize, targetSize float64) models.Ratio {
	total := requestingSize + targetSize
	if total <= 0 {
		// Two zero-size parcels: an even split is the only sensible answer.
		return models.Ratio{Requesting: 50.0, Target: 50.0}
	}

	rawRequesting := 100 * requestingSize / total
	rawTarget := 100 - rawRequesting

	requesting := roundTenth(rawRequesting)
	target := roundTenth(rawTarget)

	if remainder := roundTenth(100 - requesting - target); remainder != 0 {
		if rawRequesting >= rawTarget {
			requesting = roundTenth(requesting + remainder)
		} else {
			target = roundTenth(target + remainder)
		}
	}

	return models.Ratio{Requesting: requesting, Target: target}
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

// contentHash derives the deterministic audit hash for a signature from
// the signer, the agreement snapshot they saw, and the server
// timestamp. It is an integrity record, not cryptographic
// non-repudiation.
func contentHash(ownerID, snapshotText string, ts time.Time) string {
	h := sha256.New()
	h.Write([]byte(ownerID))
	h.Write([]byte{0})
	h.Write([]byte(snapshotText))
	h.Write([]byte{0})
	h.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"landpool/api/internal/models"
)

// In-memory repository implementations backing the service and handler
// tests. They honor the same contracts as the pgx implementations,
// including nil-for-not-found reads and real mutual exclusion on the
// negotiation and pair locks, so the concurrent signing behavior can be
// exercised without a database.

// MemoryParcelRepository is a map-backed ParcelRepository.
type MemoryParcelRepository struct {
	mu      sync.RWMutex
	parcels map[uuid.UUID]models.Parcel
	order   []uuid.UUID // insertion order, for stable pool iteration
}

// NewMemoryParcelRepository creates an empty in-memory parcel store.
func NewMemoryParcelRepository() *MemoryParcelRepository {
	return &MemoryParcelRepository{
		parcels: make(map[uuid.UUID]models.Parcel),
	}
}

func (r *MemoryParcelRepository) Create(_ context.Context, parcel *models.Parcel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.parcels[parcel.ID] = *parcel
	r.order = append(r.order, parcel.ID)
	return nil
}

func (r *MemoryParcelRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Parcel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parcel, ok := r.parcels[id]
	if !ok {
		return nil, nil
	}
	return &parcel, nil
}

func (r *MemoryParcelRepository) ListByOwner(_ context.Context, ownerID string) ([]models.Parcel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []models.Parcel{}
	for _, id := range r.order {
		if p := r.parcels[id]; p.OwnerID == ownerID {
			result = append(result, p)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *MemoryParcelRepository) ListReadyExcluding(_ context.Context, excludeOwnerID string) ([]models.Parcel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []models.Parcel{}
	for _, id := range r.order {
		p := r.parcels[id]
		if p.OwnerID == excludeOwnerID {
			continue
		}
		if !p.ReadyToIntegrate || p.Status != models.ParcelStatusCompleted {
			continue
		}
		result = append(result, p)
	}
	return result, nil
}

func (r *MemoryParcelRepository) UpdateReady(_ context.Context, id uuid.UUID, ready bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	parcel, ok := r.parcels[id]
	if !ok {
		return fmt.Errorf("failed to update ready flag: parcel %s not found", id)
	}
	parcel.ReadyToIntegrate = ready
	r.parcels[id] = parcel
	return nil
}

// MemoryNegotiationRepository is a map-backed NegotiationRepository
// with per-key mutexes standing in for Postgres advisory locks.
type MemoryNegotiationRepository struct {
	mu           sync.RWMutex
	negotiations map[uuid.UUID]models.IntegrationNegotiation
	order        []uuid.UUID

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewMemoryNegotiationRepository creates an empty in-memory
// negotiation store.
func NewMemoryNegotiationRepository() *MemoryNegotiationRepository {
	return &MemoryNegotiationRepository{
		negotiations: make(map[uuid.UUID]models.IntegrationNegotiation),
		locks:        make(map[string]*sync.Mutex),
	}
}

func (r *MemoryNegotiationRepository) Create(_ context.Context, n *models.IntegrationNegotiation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *n
	stored.Signatures = append([]models.Signature(nil), n.Signatures...)
	r.negotiations[n.ID] = stored
	r.order = append(r.order, n.ID)
	return nil
}

func (r *MemoryNegotiationRepository) GetByID(_ context.Context, id uuid.UUID) (*models.IntegrationNegotiation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.negotiations[id]
	if !ok {
		return nil, nil
	}
	n.Signatures = append([]models.Signature{}, n.Signatures...)
	return &n, nil
}

func (r *MemoryNegotiationRepository) ListByOwner(_ context.Context, ownerID string) ([]models.IntegrationNegotiation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []models.IntegrationNegotiation{}
	for i := len(r.order) - 1; i >= 0; i-- {
		n := r.negotiations[r.order[i]]
		if n.IsParticipant(ownerID) {
			n.Signatures = append([]models.Signature{}, n.Signatures...)
			result = append(result, n)
		}
	}
	return result, nil
}

func (r *MemoryNegotiationRepository) UpdateState(_ context.Context, n *models.IntegrationNegotiation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.negotiations[n.ID]
	if !ok {
		return fmt.Errorf("failed to update negotiation: %s not found", n.ID)
	}
	stored.Status = n.Status
	stored.RespondedAt = n.RespondedAt
	stored.ExecutedAt = n.ExecutedAt
	r.negotiations[n.ID] = stored
	return nil
}

func (r *MemoryNegotiationRepository) HasOpenBetween(_ context.Context, ownerA, ownerB string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, n := range r.negotiations {
		if n.Status != models.NegotiationPending && n.Status != models.NegotiationAccepted {
			continue
		}
		if (n.RequestingOwner == ownerA && n.TargetOwner == ownerB) ||
			(n.RequestingOwner == ownerB && n.TargetOwner == ownerA) {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryNegotiationRepository) AppendSignature(_ context.Context, n *models.IntegrationNegotiation, sig *models.Signature, complete bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.negotiations[n.ID]
	if !ok {
		return fmt.Errorf("failed to append signature: negotiation %s not found", n.ID)
	}
	for _, existing := range stored.Signatures {
		if existing.OwnerID == sig.OwnerID {
			return ErrDuplicateSignature
		}
	}
	stored.Signatures = append(stored.Signatures, *sig)
	if complete {
		stored.Status = n.Status
		stored.RespondedAt = n.RespondedAt
		stored.ExecutedAt = n.ExecutedAt
	}
	r.negotiations[n.ID] = stored
	return nil
}

func (r *MemoryNegotiationRepository) AcquireNegotiationLock(_ context.Context, id uuid.UUID) (func(), error) {
	return r.lockKey("negotiation|" + id.String()), nil
}

func (r *MemoryNegotiationRepository) AcquirePairLock(_ context.Context, ownerA, ownerB string) (func(), error) {
	if ownerB < ownerA {
		ownerA, ownerB = ownerB, ownerA
	}
	return r.lockKey("pair|" + ownerA + "|" + ownerB), nil
}

func (r *MemoryNegotiationRepository) lockKey(key string) func() {
	r.locksMu.Lock()
	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	r.locksMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

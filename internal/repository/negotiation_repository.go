package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"landpool/api/internal/database"
	"landpool/api/internal/models"
)

// ErrDuplicateSignature is returned when a signature append hits the
// unique (negotiation_id, owner_id) constraint. The service layer
// normally pre-checks under the negotiation lock, so seeing this means
// a caller bypassed the lock.
var ErrDuplicateSignature = errors.New("owner has already signed this negotiation")

// NegotiationRepository defines the data access operations for
// integration negotiations and their signature ledgers.
type NegotiationRepository interface {
	// Create persists a new negotiation in its initial state.
	Create(ctx context.Context, n *models.IntegrationNegotiation) error

	// GetByID fetches a negotiation with its signatures loaded.
	// Returns nil, nil if no negotiation exists (not an error).
	GetByID(ctx context.Context, id uuid.UUID) (*models.IntegrationNegotiation, error)

	// ListByOwner returns every negotiation the owner participates in,
	// newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]models.IntegrationNegotiation, error)

	// UpdateState persists a status transition along with the
	// responded/executed timestamps.
	UpdateState(ctx context.Context, n *models.IntegrationNegotiation) error

	// HasOpenBetween reports whether a pending or accepted negotiation
	// already exists between the two owners, in either direction.
	HasOpenBetween(ctx context.Context, ownerA, ownerB string) (bool, error)

	// AppendSignature adds a ledger entry for a negotiation. When
	// complete is true, n's status transition and timestamps are
	// persisted in the same transaction: both writes land or neither
	// does, so a fully signed negotiation can never be stranded in a
	// non-completed state.
	AppendSignature(ctx context.Context, n *models.IntegrationNegotiation, sig *models.Signature, complete bool) error

	// AcquireNegotiationLock takes a mutual-exclusion lock scoped to one
	// negotiation. The returned release function must always be called.
	AcquireNegotiationLock(ctx context.Context, id uuid.UUID) (func(), error)

	// AcquirePairLock takes a mutual-exclusion lock scoped to an
	// unordered owner pair, used to serialize negotiation creation.
	AcquirePairLock(ctx context.Context, ownerA, ownerB string) (func(), error)
}

// negotiationRepository is the pgx-backed implementation of
// NegotiationRepository. Mutual exclusion uses Postgres advisory locks
// held on a dedicated connection for the duration of the critical
// section.
type negotiationRepository struct {
	db *database.Database
}

// NewNegotiationRepository creates a new instance of NegotiationRepository.
func NewNegotiationRepository(db *database.Database) NegotiationRepository {
	return &negotiationRepository{
		db: db,
	}
}

const negotiationColumns = `
	id,
	requesting_owner,
	target_owner,
	requesting_parcel_id,
	target_parcel_id,
	status,
	requested_at,
	responded_at,
	period_start,
	period_end,
	requesting_size,
	target_size,
	total_size,
	contribution_requesting,
	contribution_target,
	profit_requesting,
	profit_target,
	executed_at`

func (r *negotiationRepository) Create(ctx context.Context, n *models.IntegrationNegotiation) error {
	query := `
		INSERT INTO negotiations (` + negotiationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		n.ID,
		n.RequestingOwner,
		n.TargetOwner,
		n.RequestingParcelID,
		n.TargetParcelID,
		string(n.Status),
		n.RequestedAt,
		n.RespondedAt,
		n.Period.Start,
		n.Period.End,
		n.RequestingSize,
		n.TargetSize,
		n.TotalSize,
		n.ContributionRatio.Requesting,
		n.ContributionRatio.Target,
		n.ProfitSharingRatio.Requesting,
		n.ProfitSharingRatio.Target,
		n.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert negotiation %s: %w", n.ID, err)
	}

	return nil
}

func (r *negotiationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.IntegrationNegotiation, error) {
	query := `SELECT ` + negotiationColumns + ` FROM negotiations WHERE id = $1`

	n, err := scanNegotiation(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query negotiation %s: %w", id, err)
	}

	if err := r.loadSignatures(ctx, n); err != nil {
		return nil, err
	}

	return n, nil
}

func (r *negotiationRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.IntegrationNegotiation, error) {
	query := `
		SELECT ` + negotiationColumns + `
		FROM negotiations
		WHERE requesting_owner = $1 OR target_owner = $1
		ORDER BY requested_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query negotiations for owner %s: %w", ownerID, err)
	}
	defer rows.Close()

	negotiations := []models.IntegrationNegotiation{}
	for rows.Next() {
		n, err := scanNegotiation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan negotiation row: %w", err)
		}
		negotiations = append(negotiations, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating negotiation rows: %w", err)
	}

	for i := range negotiations {
		if err := r.loadSignatures(ctx, &negotiations[i]); err != nil {
			return nil, err
		}
	}

	return negotiations, nil
}

func (r *negotiationRepository) UpdateState(ctx context.Context, n *models.IntegrationNegotiation) error {
	query := `
		UPDATE negotiations
		SET status = $2, responded_at = $3, executed_at = $4
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, n.ID, string(n.Status), n.RespondedAt, n.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to update negotiation %s: %w", n.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update negotiation: %s not found", n.ID)
	}

	return nil
}

func (r *negotiationRepository) HasOpenBetween(ctx context.Context, ownerA, ownerB string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM negotiations
			WHERE status IN ('pending', 'accepted')
			  AND ((requesting_owner = $1 AND target_owner = $2)
			    OR (requesting_owner = $2 AND target_owner = $1))
		)
	`

	var exists bool
	if err := r.db.Pool.QueryRow(ctx, query, ownerA, ownerB).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check for open negotiation between %s and %s: %w", ownerA, ownerB, err)
	}

	return exists, nil
}

func (r *negotiationRepository) AppendSignature(ctx context.Context, n *models.IntegrationNegotiation, sig *models.Signature, complete bool) error {
	insert := `
		INSERT INTO negotiation_signatures
			(negotiation_id, owner_id, display_name, content_hash, signed_at, origin_metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (negotiation_id, owner_id) DO NOTHING
	`
	update := `
		UPDATE negotiations
		SET status = $2, responded_at = $3, executed_at = $4
		WHERE id = $1
	`

	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, insert,
			n.ID,
			sig.OwnerID,
			sig.DisplayName,
			sig.ContentHash,
			sig.SignedAt,
			sig.OriginMetadata,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrDuplicateSignature
		}

		if !complete {
			return nil
		}
		tag, err = tx.Exec(ctx, update, n.ID, string(n.Status), n.RespondedAt, n.ExecutedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("negotiation %s not found", n.ID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateSignature) {
			return ErrDuplicateSignature
		}
		return fmt.Errorf("failed to append signature for negotiation %s: %w", n.ID, err)
	}

	return nil
}

// AcquireNegotiationLock serializes the sign critical section for one
// negotiation via pg_advisory_lock on a dedicated pooled connection.
func (r *negotiationRepository) AcquireNegotiationLock(ctx context.Context, id uuid.UUID) (func(), error) {
	return r.acquireAdvisoryLock(ctx, "negotiation|"+id.String())
}

// AcquirePairLock serializes negotiation creation for an owner pair.
// The key is order-independent so A->B and B->A contend on the same lock.
func (r *negotiationRepository) AcquirePairLock(ctx context.Context, ownerA, ownerB string) (func(), error) {
	if ownerB < ownerA {
		ownerA, ownerB = ownerB, ownerA
	}
	return r.acquireAdvisoryLock(ctx, "pair|"+ownerA+"|"+ownerB)
}

func (r *negotiationRepository) acquireAdvisoryLock(ctx context.Context, key string) (func(), error) {
	conn, err := r.db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for advisory lock: %w", err)
	}

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, key); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to take advisory lock %q: %w", key, err)
	}

	release := func() {
		// Unlock on a background context so a cancelled request still
		// releases the lock.
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key)
		conn.Release()
	}

	return release, nil
}

func (r *negotiationRepository) loadSignatures(ctx context.Context, n *models.IntegrationNegotiation) error {
	query := `
		SELECT owner_id, display_name, content_hash, signed_at, origin_metadata
		FROM negotiation_signatures
		WHERE negotiation_id = $1
		ORDER BY signed_at
	`

	rows, err := r.db.Pool.Query(ctx, query, n.ID)
	if err != nil {
		return fmt.Errorf("failed to query signatures for negotiation %s: %w", n.ID, err)
	}
	defer rows.Close()

	n.Signatures = []models.Signature{}
	for rows.Next() {
		var sig models.Signature
		if err := rows.Scan(&sig.OwnerID, &sig.DisplayName, &sig.ContentHash, &sig.SignedAt, &sig.OriginMetadata); err != nil {
			return fmt.Errorf("failed to scan signature row: %w", err)
		}
		n.Signatures = append(n.Signatures, sig)
	}

	return rows.Err()
}

func scanNegotiation(row rowScanner) (*models.IntegrationNegotiation, error) {
	var n models.IntegrationNegotiation
	var status string

	err := row.Scan(
		&n.ID,
		&n.RequestingOwner,
		&n.TargetOwner,
		&n.RequestingParcelID,
		&n.TargetParcelID,
		&status,
		&n.RequestedAt,
		&n.RespondedAt,
		&n.Period.Start,
		&n.Period.End,
		&n.RequestingSize,
		&n.TargetSize,
		&n.TotalSize,
		&n.ContributionRatio.Requesting,
		&n.ContributionRatio.Target,
		&n.ProfitSharingRatio.Requesting,
		&n.ProfitSharingRatio.Target,
		&n.ExecutedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Status = models.NegotiationStatus(status)
	return &n, nil
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// NegotiationStatus is the state of an integration negotiation.
// Transitions are monotonic: pending -> accepted -> completed, or
// pending -> rejected. Rejected and completed are terminal.
type NegotiationStatus string

const (
	NegotiationPending   NegotiationStatus = "pending"
	NegotiationAccepted  NegotiationStatus = "accepted"
	NegotiationRejected  NegotiationStatus = "rejected"
	NegotiationCompleted NegotiationStatus = "completed"
)

// Terminal reports whether the status can never change again.
func (s NegotiationStatus) Terminal() bool {
	return s == NegotiationRejected || s == NegotiationCompleted
}

// Ratio is a two-party percentage split. The two sides always sum to
// exactly 100.0.
type Ratio struct {
	Requesting float64 `json:"requesting"`
	Target     float64 `json:"target"`
}

// Period is the proposed term of an integration agreement.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Signature is a lightweight hash-based attestation appended to a
// negotiation's ledger. It is an integrity/audit record, not a legal
// cryptographic signature. At most one signature exists per owner per
// negotiation.
type Signature struct {
	OwnerID        string    `json:"ownerId"`
	DisplayName    string    `json:"displayName"`
	ContentHash    string    `json:"contentHash"`
	SignedAt       time.Time `json:"signedAt"`
	OriginMetadata string    `json:"originMetadata,omitempty"`
}

// IntegrationNegotiation is the shared record of one bilateral land
// pooling proposal. It is jointly referenced by both owners but owned
// by neither; only the negotiation state machine mutates it.
//
// Sizes and ratios are computed once at creation and frozen: later
// changes to either parcel's geometry never alter an in-flight
// negotiation's terms.
type IntegrationNegotiation struct {
	ID                 uuid.UUID         `json:"id"`
	RequestingOwner    string            `json:"requestingOwner"`
	TargetOwner        string            `json:"targetOwner"`
	RequestingParcelID uuid.UUID         `json:"requestingParcelId"`
	TargetParcelID     uuid.UUID         `json:"targetParcelId"`
	Status             NegotiationStatus `json:"status"`
	RequestedAt        time.Time         `json:"requestedAt"`
	RespondedAt        *time.Time        `json:"respondedAt,omitempty"`
	Period             Period            `json:"period"`
	RequestingSize     float64           `json:"requestingSize"`
	TargetSize         float64           `json:"targetSize"`
	TotalSize          float64           `json:"totalSize"`
	ContributionRatio  Ratio             `json:"contributionRatio"`
	ProfitSharingRatio Ratio             `json:"profitSharingRatio"`
	Signatures         []Signature       `json:"signatures"`
	ExecutedAt         *time.Time        `json:"executedAt,omitempty"`
}

// IsParticipant reports whether ownerID is one of the two parties.
func (n *IntegrationNegotiation) IsParticipant(ownerID string) bool {
	return ownerID == n.RequestingOwner || n.TargetOwner == ownerID
}

// OtherParty returns the counterpart of ownerID, or "" if ownerID is
// not a participant.
func (n *IntegrationNegotiation) OtherParty(ownerID string) string {
	switch ownerID {
	case n.RequestingOwner:
		return n.TargetOwner
	case n.TargetOwner:
		return n.RequestingOwner
	}
	return ""
}

// SignatureFor returns the ledger entry for ownerID, or nil if that
// owner has not signed.
func (n *IntegrationNegotiation) SignatureFor(ownerID string) *Signature {
	for i := range n.Signatures {
		if n.Signatures[i].OwnerID == ownerID {
			return &n.Signatures[i]
		}
	}
	return nil
}

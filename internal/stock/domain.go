package stock

import (
	"fmt"
	"time"

	"github.com/meridian-pos/meridian/internal/shared"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementIn represents goods received into a location.
	MovementIn MovementType = "IN"
	// MovementOut represents a generic outbound movement.
	MovementOut MovementType = "OUT"
	// MovementAdjustment reconciles counted stock against the ledger.
	MovementAdjustment MovementType = "ADJUSTMENT"
	// MovementTransferOut is the source side of an inter-location transfer.
	MovementTransferOut MovementType = "TRANSFER_OUT"
	// MovementTransferIn is the destination side of an inter-location transfer.
	MovementTransferIn MovementType = "TRANSFER_IN"
	// MovementSale decrements stock when a sale is finalized.
	MovementSale MovementType = "SALE"
	// MovementReturn restocks goods via a compensating movement.
	MovementReturn MovementType = "RETURN"
)

// Valid reports whether the movement type is one of the known values.
func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementAdjustment, MovementTransferOut, MovementTransferIn, MovementSale, MovementReturn:
		return true
	}
	return false
}

// RefKind identifies the workflow a movement originated from.
type RefKind string

const (
	RefSale          RefKind = "sale"
	RefPurchaseOrder RefKind = "purchase_order"
	RefTransfer      RefKind = "transfer"
	RefStocktake     RefKind = "stocktake"
)

// Ref links a movement to its originating workflow document. The zero value
// means the movement has no document reference.
type Ref struct {
	Kind RefKind
	ID   int64
}

// IsZero reports whether the reference is unset.
func (r Ref) IsZero() bool {
	return r.Kind == "" && r.ID == 0
}

// Key identifies one stock level row. VariantID zero means the product has
// no variants.
type Key struct {
	TenantID   int64
	LocationID int64
	ProductID  int64
	VariantID  int64
}

// Level is the materialized per-key aggregate, derivable by replaying the
// movement ledger. Mutated only by Ledger applies.
type Level struct {
	Key
	Quantity  int64
	Reserved  int64
	Available int64
	UpdatedAt time.Time
}

// Movement is an immutable ledger entry with a before/after snapshot.
type Movement struct {
	ID             int64
	Key
	Type           MovementType
	Quantity       int64 // signed delta
	QuantityBefore int64
	QuantityAfter  int64
	Reference      string
	Ref            Ref
	CreatedBy      int64
	CreatedAt      time.Time
}

// BatchStatus enumerates batch lifecycle states.
type BatchStatus string

const (
	BatchActive   BatchStatus = "ACTIVE"
	BatchExpired  BatchStatus = "EXPIRED"
	BatchDepleted BatchStatus = "DEPLETED"
	BatchRecalled BatchStatus = "RECALLED"
)

// Batch is a non-fungible lot of a product at a location. The original
// quantity never changes after reception; consumption only decrements the
// available quantity.
type Batch struct {
	ID           int64
	TenantID     int64
	LocationID   int64
	ProductID    int64
	BatchNumber  string
	ReceivedAt   time.Time
	ExpiresAt    time.Time
	Quantity     int64
	AvailableQty int64
	Status       BatchStatus
}

// BatchAllocation records a quantity consumed from one batch.
type BatchAllocation struct {
	BatchID     int64
	BatchNumber string
	Quantity    int64
	ExpiresAt   time.Time
}

// MovementIntent describes one requested ledger apply.
type MovementIntent struct {
	Key
	Type      MovementType
	Quantity  int64 // signed delta
	Reference string
	Ref       Ref
	ActorID   int64
}

// Validate rejects malformed intents before any transaction opens.
func (i MovementIntent) Validate() error {
	if i.TenantID <= 0 || i.LocationID <= 0 || i.ProductID <= 0 {
		return fmt.Errorf("stock: tenant, location and product required: %w", shared.ErrValidation)
	}
	if i.Quantity == 0 {
		return fmt.Errorf("stock: quantity delta must be non-zero: %w", shared.ErrValidation)
	}
	if !i.Type.Valid() {
		return fmt.Errorf("stock: unknown movement type %q: %w", i.Type, shared.ErrValidation)
	}
	return nil
}

// MovementResult is returned from a successful apply.
type MovementResult struct {
	MovementID int64
	Level      Level
}

// ReceiveBatchInput describes a new batch to register.
type ReceiveBatchInput struct {
	TenantID    int64
	LocationID  int64
	ProductID   int64
	BatchNumber string
	Quantity    int64
	ExpiresAt   time.Time
}

// MovementFilter narrows movement listings. Zero fields are ignored.
type MovementFilter struct {
	TenantID   int64
	LocationID int64
	ProductID  int64
	VariantID  int64
	Type       MovementType
	From       time.Time
	To         time.Time
	Page       int
	PerPage    int
}

// Errors specific to the batch registry.
var (
	// ErrDuplicateBatch rejects reuse of a batch number for a product+location;
	// batch numbers are not mergeable so distinct expiration dates stay distinct.
	ErrDuplicateBatch = fmt.Errorf("stock: batch number already exists: %w", shared.ErrDuplicate)
	// ErrBatchExpiresInPast rejects batch creation with a past expiration date.
	ErrBatchExpiresInPast = fmt.Errorf("stock: expiration date already passed: %w", shared.ErrValidation)
)

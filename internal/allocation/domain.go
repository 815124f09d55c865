package allocation

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/antonioqueb/stock-whole-lot-removal/internal/uom"
)

// MoveState enumerates the lifecycle of a demand line.
type MoveState string

const (
	// StateWaiting means the move depends on unfinished upstream moves.
	StateWaiting MoveState = "waiting"
	// StateConfirmed means the move is ready to allocate.
	StateConfirmed MoveState = "confirmed"
	// StatePartiallyAvailable means part of the demand is reserved.
	StatePartiallyAvailable MoveState = "partially_available"
	// StateAssigned means the full demand is reserved.
	StateAssigned MoveState = "assigned"
	// StateDone means the move was physically executed. Set externally.
	StateDone MoveState = "done"
	// StateCancelled is terminal. Set externally.
	StateCancelled MoveState = "cancelled"
)

// CanAllocate reports whether an allocation attempt may touch the move.
func (s MoveState) CanAllocate() bool {
	switch s {
	case StateWaiting, StateConfirmed, StatePartiallyAvailable:
		return true
	}
	return false
}

// Move is one demand line: a requested quantity of a product to transfer
// from a source to a destination location. Moves form chains through
// UpstreamIDs/DownstreamIDs (e.g. pick-stage feeding ship-stage) and a
// partially executed move may have backorder successors.
type Move struct {
	ID               int64
	Reference        string
	ProductID        int64
	SourceLocationID int64
	DestLocationID   int64
	Demand           float64 // in MoveUnit
	MoveUnit         uom.Unit
	ProductUnit      uom.Unit
	State            MoveState
	WholeLot         bool
	StepID           int64
	UpstreamIDs      []int64
	DownstreamIDs    []int64
	BackorderOfID    int64
	OrderLineID      uuid.UUID // uuid.Nil when not tied to an order entitlement
}

// Rounding returns the precision quantities of this move's product are
// compared with.
func (m Move) Rounding() float64 {
	return m.ProductUnit.Normalized().Rounding
}

// MoveLine records one whole-lot reservation made for a move. Quantity is
// expressed in the move's unit; package and owner are carried over from the
// contributing quant.
type MoveLine struct {
	ID               int64
	MoveID           int64
	LotID            int64
	LotName          string
	Qty              float64 // in MoveUnit
	SourceLocationID int64
	DestLocationID   int64
	PackageID        int64
	OwnerID          int64
}

// Store persists moves and move lines.
type Store interface {
	GetMove(ctx context.Context, id int64) (Move, error)
	ListMoves(ctx context.Context, ids []int64) ([]Move, error)
	UpdateMoveState(ctx context.Context, id int64, state MoveState) error
	LinesForMove(ctx context.Context, moveID int64) ([]MoveLine, error)
	InsertLine(ctx context.Context, line MoveLine) (int64, error)
	DeleteLine(ctx context.Context, id int64) error
	MovesForStep(ctx context.Context, stepID int64) ([]Move, error)
	BackordersOf(ctx context.Context, moveID int64) ([]Move, error)
}

// ErrMoveNotFound indicates an unknown move ID.
var ErrMoveNotFound = errors.New("allocation: move not found")

// NextState returns the state a move transitions to after an allocation
// attempt left totalReserved of demand reserved, and whether that differs
// from current. Callers must not invoke it for attempts that reserved
// nothing; such attempts leave the state untouched.
func NextState(current MoveState, totalReserved, demand, rounding float64) (MoveState, bool) {
	if uom.Compare(totalReserved, demand, rounding) >= 0 {
		return StateAssigned, current != StateAssigned
	}
	if uom.Compare(totalReserved, 0, rounding) > 0 {
		return StatePartiallyAvailable, current != StatePartiallyAvailable
	}
	return current, false
}

// ReservedQty sums a move's lines converted to the product unit.
func ReservedQty(move Move, lines []MoveLine) (float64, error) {
	var total float64
	for _, line := range lines {
		qty, err := uom.Convert(line.Qty, move.MoveUnit, move.ProductUnit)
		if err != nil {
			return 0, err
		}
		total += qty
	}
	return total, nil
}

// Package allocation implements the whole-lot allocation engine: selecting
// complete lots for a demand line, committing the selection against the
// resource ledger and driving the line's fulfilment state. A lot is never
// split to hit a remainder; unmet demand is left for manual selection.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/antonioqueb/stock-whole-lot-removal/internal/entitlement"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/quant"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/shared"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/uom"
)

// Attempt outcomes recorded by the metrics port.
const (
	OutcomeAssigned             = "assigned"
	OutcomePartial              = "partial"
	OutcomeDeferred             = "deferred"
	OutcomeNoop                 = "noop"
	OutcomeNoSelection          = "no_selection"
	OutcomeNoEffect             = "no_effect"
	OutcomeEntitlementExhausted = "entitlement_exhausted"
	OutcomeGeneric              = "generic"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort records allocation telemetry.
type MetricsPort interface {
	AllocationAttempt(outcome string)
	QuantityReserved(qty float64)
}

// Service coordinates allocation attempts for batches of moves.
type Service struct {
	store        Store
	ledger       quant.Ledger
	exec         *Executor
	entitlements entitlement.Resolver
	audit        AuditPort
	metrics      MetricsPort
	logger       *slog.Logger
	locks        *shared.KeyedMutex
}

// NewService builds Service. Audit, metrics and entitlements may be nil.
func NewService(store Store, ledger quant.Ledger, entitlements entitlement.Resolver, audit AuditPort, metrics MetricsPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        store,
		ledger:       ledger,
		exec:         NewExecutor(ledger, store, logger),
		entitlements: entitlements,
		audit:        audit,
		metrics:      metrics,
		logger:       logger,
		locks:        shared.NewKeyedMutex(),
	}
}

// Allocate attempts allocation for each move in order. Ordinary
// unavailability (no viable selection, ledger rejection of a single lot,
// entitlement exhaustion) never fails the batch; only ledger or store
// contract violations are returned.
func (s *Service) Allocate(ctx context.Context, moveIDs []int64) error {
	moves, err := s.store.ListMoves(ctx, moveIDs)
	if err != nil {
		return fmt.Errorf("allocation: list moves: %w", err)
	}

	var errs []error
	for _, move := range moves {
		if err := s.allocateMove(ctx, move, false); err != nil {
			errs = append(errs, fmt.Errorf("move %d: %w", move.ID, err))
		}
	}
	return errors.Join(errs...)
}

// AllocateImmediate behaves like Allocate but never defers chained moves.
// Callers assert that the upstream steps already executed, so selecting at
// the source location is legitimate (used by propagation fallback when the
// upstream left no traceable lines).
func (s *Service) AllocateImmediate(ctx context.Context, moveIDs []int64) error {
	moves, err := s.store.ListMoves(ctx, moveIDs)
	if err != nil {
		return fmt.Errorf("allocation: list moves: %w", err)
	}

	var errs []error
	for _, move := range moves {
		if err := s.allocateMove(ctx, move, true); err != nil {
			errs = append(errs, fmt.Errorf("move %d: %w", move.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) allocateMove(ctx context.Context, move Move, immediate bool) error {
	if !move.State.CanAllocate() {
		s.record(OutcomeNoop)
		return nil
	}

	key := shared.LocationLockKey(move.ProductID, move.SourceLocationID)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	// Downstream steps of a chain are deferred: the upstream step decides
	// which lots physically move, and propagation reserves exactly those
	// at the intermediate location once the upstream step is done.
	if move.WholeLot && len(move.UpstreamIDs) > 0 && !immediate {
		s.logger.Info("deferring allocation until upstream executes",
			slog.Int64("move_id", move.ID),
			slog.String("reference", move.Reference),
			slog.Int("upstream_moves", len(move.UpstreamIDs)))
		s.record(OutcomeDeferred)
		return nil
	}

	rounding := move.Rounding()
	demand, err := uom.Convert(move.Demand, move.MoveUnit, move.ProductUnit)
	if err != nil {
		return err
	}

	lines, err := s.store.LinesForMove(ctx, move.ID)
	if err != nil {
		return fmt.Errorf("read move lines: %w", err)
	}
	already, err := ReservedQty(move, lines)
	if err != nil {
		return err
	}
	need := demand - already
	if uom.Compare(need, 0, rounding) <= 0 {
		s.record(OutcomeNoop)
		return nil
	}

	if !move.WholeLot {
		return s.assignGeneric(ctx, move, already, demand, need)
	}

	restricted, pending, err := s.pendingEntitlement(ctx, move)
	if err != nil {
		return err
	}
	if restricted && pending.Empty() {
		s.logger.Error("entitlement exhausted, refusing to guess a lot",
			slog.Int64("move_id", move.ID),
			slog.String("order_line", move.OrderLineID.String()))
		s.record(OutcomeEntitlementExhausted)
		return nil
	}

	available, err := quant.AvailableLots(ctx, s.ledger, quant.Filter{ProductID: move.ProductID, LocationID: move.SourceLocationID}, rounding)
	if err != nil {
		return fmt.Errorf("aggregate availability: %w", err)
	}
	if restricted {
		filtered := available[:0:0]
		for _, lot := range available {
			if pending.Contains(lot.LotID) {
				filtered = append(filtered, lot)
			}
		}
		available = filtered
		if len(available) == 0 {
			s.logger.Error("no entitled lot physically available",
				slog.Int64("move_id", move.ID),
				slog.String("order_line", move.OrderLineID.String()),
				slog.Any("entitled_lots", pending.Lots()))
			s.record(OutcomeEntitlementExhausted)
			return nil
		}
	}
	if len(available) == 0 {
		s.logger.Info("no lots available",
			slog.Int64("move_id", move.ID),
			slog.Int64("product_id", move.ProductID),
			slog.Int64("location_id", move.SourceLocationID))
		s.record(OutcomeNoSelection)
		return nil
	}

	selection := SelectLots(available, need, rounding)
	if len(selection) == 0 {
		s.logger.Info("no whole-lot combination fits the demand",
			slog.Int64("move_id", move.ID),
			slog.Float64("need", need),
			slog.Int("available_lots", len(available)))
		s.record(OutcomeNoSelection)
		return nil
	}

	reservations := make([]Reservation, 0, len(selection))
	for _, lot := range selection {
		reservations = append(reservations, Reservation{LotID: lot.LotID, LotName: lot.LotName, Qty: lot.Free})
	}

	reserved, err := s.exec.Reserve(ctx, move, reservations)
	if err != nil {
		return err
	}
	return s.finishAttempt(ctx, move, already, demand, need, reserved)
}

// assignGeneric reserves for moves outside the whole-lot policy: plain FIFO
// consumption that may take part of a lot.
func (s *Service) assignGeneric(ctx context.Context, move Move, already, demand, need float64) error {
	rounding := move.Rounding()
	available, err := quant.AvailableLots(ctx, s.ledger, quant.Filter{ProductID: move.ProductID, LocationID: move.SourceLocationID}, rounding)
	if err != nil {
		return fmt.Errorf("aggregate availability: %w", err)
	}

	var reservations []Reservation
	remaining := need
	for _, lot := range available {
		if uom.IsZero(remaining, rounding) {
			break
		}
		qty := lot.Free
		if uom.Compare(qty, remaining, rounding) > 0 {
			qty = remaining
		}
		reservations = append(reservations, Reservation{LotID: lot.LotID, LotName: lot.LotName, Qty: qty})
		remaining -= qty
	}
	if len(reservations) == 0 {
		s.record(OutcomeNoSelection)
		return nil
	}

	reserved, err := s.exec.Reserve(ctx, move, reservations)
	if err != nil {
		return err
	}
	if uom.Compare(reserved, 0, rounding) > 0 {
		s.record(OutcomeGeneric)
	}
	return s.applyState(ctx, move, already+reserved, demand, reserved)
}

// pendingEntitlement resolves the entitlement restriction for a move:
// the union of every entitlement source minus the lots already delivered
// against the same order line. restricted is false when the move has no
// order link or no entitlement record exists.
func (s *Service) pendingEntitlement(ctx context.Context, move Move) (restricted bool, pending entitlement.Set, err error) {
	if s.entitlements == nil || move.OrderLineID == uuid.Nil {
		return false, entitlement.Set{}, nil
	}

	entitled, err := s.entitlements.EntitledLots(ctx, move.OrderLineID)
	if err != nil {
		if errors.Is(err, entitlement.ErrNoEntitlement) {
			return false, entitlement.Set{}, nil
		}
		return false, entitlement.Set{}, fmt.Errorf("resolve entitlement: %w", err)
	}
	if entitled.Empty() {
		return false, entitlement.Set{}, nil
	}

	delivered, err := s.entitlements.DeliveredLots(ctx, move.OrderLineID)
	if err != nil {
		return false, entitlement.Set{}, fmt.Errorf("resolve delivered lots: %w", err)
	}
	deliveredIDs := make([]int64, 0, len(delivered))
	for lotID := range delivered {
		deliveredIDs = append(deliveredIDs, lotID)
	}
	return true, entitled.Subtract(deliveredIDs...), nil
}

func (s *Service) finishAttempt(ctx context.Context, move Move, already, demand, need, reserved float64) error {
	rounding := move.Rounding()
	if uom.Compare(reserved, 0, rounding) <= 0 {
		s.record(OutcomeNoEffect)
		return nil
	}

	total := already + reserved
	if err := s.applyState(ctx, move, total, demand, reserved); err != nil {
		return err
	}

	shortfall := need - reserved
	if uom.Compare(shortfall, 0, rounding) > 0 {
		s.logger.Info("demand partially fulfilled, remainder left for manual selection",
			slog.Int64("move_id", move.ID),
			slog.Float64("reserved", reserved),
			slog.Float64("need", need),
			slog.Float64("shortfall", shortfall))
		s.record(OutcomePartial)
	} else {
		s.record(OutcomeAssigned)
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "allocation:reserve",
			Entity:   "move",
			EntityID: fmt.Sprintf("%d", move.ID),
			Meta: map[string]any{
				"product_id":  move.ProductID,
				"location_id": move.SourceLocationID,
				"reserved":    reserved,
				"demand":      demand,
			},
		})
	}
	return nil
}

func (s *Service) applyState(ctx context.Context, move Move, total, demand, reserved float64) error {
	rounding := move.Rounding()
	if uom.Compare(reserved, 0, rounding) <= 0 {
		return nil
	}
	if s.metrics != nil {
		s.metrics.QuantityReserved(reserved)
	}
	next, changed := NextState(move.State, total, demand, rounding)
	if !changed {
		return nil
	}
	if err := s.store.UpdateMoveState(ctx, move.ID, next); err != nil {
		return fmt.Errorf("update move state: %w", err)
	}
	return nil
}

func (s *Service) record(outcome string) {
	if s.metrics != nil {
		s.metrics.AllocationAttempt(outcome)
	}
}

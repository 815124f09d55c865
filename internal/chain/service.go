// Package chain coordinates allocation across multi-step transfer chains:
// deferring downstream demand lines until the upstream step physically
// executes, forwarding the exact lots the upstream step moved, and
// reconciling backorder lines created by partial execution.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/antonioqueb/stock-whole-lot-removal/internal/allocation"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/entitlement"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/quant"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/uom"
)

// Allocator runs generic allocation; the fallback when a chain carries no
// traceable upstream selection. The immediate variant never defers chained
// moves, since the chain layer only falls back once the upstream is done.
type Allocator interface {
	Allocate(ctx context.Context, moveIDs []int64) error
	AllocateImmediate(ctx context.Context, moveIDs []int64) error
}

// BackorderLister enumerates backorder moves still awaiting reservation,
// used by the periodic sweep.
type BackorderLister interface {
	PendingBackorders(ctx context.Context) ([]allocation.Move, error)
}

// Service drives propagation and reconciliation after step execution.
type Service struct {
	store        allocation.Store
	ledger       quant.Ledger
	alloc        Allocator
	entitlements entitlement.Resolver
	backorders   BackorderLister
	exec         *allocation.Executor
	logger       *slog.Logger
}

// NewService builds Service. backorders may be nil when the sweep is not
// wired; entitlements may be nil when no order subsystem is present.
func NewService(store allocation.Store, ledger quant.Ledger, alloc Allocator, entitlements entitlement.Resolver, backorders BackorderLister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        store,
		ledger:       ledger,
		alloc:        alloc,
		entitlements: entitlements,
		backorders:   backorders,
		exec:         allocation.NewExecutor(ledger, store, logger),
		logger:       logger,
	}
}

// PropagateAfterStepExecution is invoked once a transfer step finished
// executing. It re-examines the deferred downstream moves of every executed
// move in the step and reconciles any backorder split off by partial
// execution.
func (s *Service) PropagateAfterStepExecution(ctx context.Context, stepID int64) error {
	moves, err := s.store.MovesForStep(ctx, stepID)
	if err != nil {
		return fmt.Errorf("chain: list step %d moves: %w", stepID, err)
	}

	var downstreamIDs []int64
	seen := make(map[int64]struct{})
	var errs []error

	for _, move := range moves {
		if move.State != allocation.StateDone {
			continue
		}
		for _, id := range move.DownstreamIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			downstreamIDs = append(downstreamIDs, id)
		}

		backorders, err := s.store.BackordersOf(ctx, move.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("chain: list backorders of move %d: %w", move.ID, err))
			continue
		}
		for _, bo := range backorders {
			if !bo.State.CanAllocate() {
				continue
			}
			if err := s.reconcileBackorder(ctx, bo); err != nil {
				errs = append(errs, fmt.Errorf("chain: reconcile backorder %d: %w", bo.ID, err))
			}
		}
	}

	if len(downstreamIDs) > 0 {
		downstream, err := s.store.ListMoves(ctx, downstreamIDs)
		if err != nil {
			return errors.Join(append(errs, fmt.Errorf("chain: list downstream moves: %w", err))...)
		}
		for _, move := range downstream {
			if !move.State.CanAllocate() {
				continue
			}
			if err := s.propagateMove(ctx, move); err != nil {
				errs = append(errs, fmt.Errorf("chain: propagate move %d: %w", move.ID, err))
			}
		}
	}

	return errors.Join(errs...)
}

// ReconcilePendingBackorders re-runs reconciliation over every backorder
// still short of its demand. Used by the periodic sweep.
func (s *Service) ReconcilePendingBackorders(ctx context.Context) error {
	if s.backorders == nil {
		return nil
	}
	pending, err := s.backorders.PendingBackorders(ctx)
	if err != nil {
		return fmt.Errorf("chain: list pending backorders: %w", err)
	}
	var errs []error
	for _, move := range pending {
		if err := s.reconcileBackorder(ctx, move); err != nil {
			errs = append(errs, fmt.Errorf("chain: reconcile backorder %d: %w", move.ID, err))
		}
	}
	return errors.Join(errs...)
}

// demandAndNeed returns the move's demand and unmet need in product units.
func (s *Service) demandAndNeed(ctx context.Context, move allocation.Move) (demand, need float64, err error) {
	demand, err = uom.Convert(move.Demand, move.MoveUnit, move.ProductUnit)
	if err != nil {
		return 0, 0, err
	}
	lines, err := s.store.LinesForMove(ctx, move.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("read move lines: %w", err)
	}
	already, err := allocation.ReservedQty(move, lines)
	if err != nil {
		return 0, 0, err
	}
	return demand, demand - already, nil
}

func (s *Service) applyState(ctx context.Context, move allocation.Move, totalReserved, demand float64) error {
	rounding := move.Rounding()
	next := move.State
	changed := false
	if uom.Compare(totalReserved, 0, rounding) <= 0 {
		// Everything released: the line is back to plain confirmed.
		next, changed = allocation.StateConfirmed, move.State != allocation.StateConfirmed
	} else {
		next, changed = allocation.NextState(move.State, totalReserved, demand, rounding)
	}
	if !changed {
		return nil
	}
	if err := s.store.UpdateMoveState(ctx, move.ID, next); err != nil {
		return fmt.Errorf("update move state: %w", err)
	}
	return nil
}

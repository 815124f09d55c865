package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/antonioqueb/stock-whole-lot-removal/internal/allocation"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/entitlement"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/quant"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/uom"
)

// reconcileBackorder rebuilds the reservation of a backorder line from the
// order's entitlement. The ledger's generic reservation logic may already
// have assigned the backorder an arbitrary lot when the step was split;
// whatever it picked is released and replaced with the pending entitlement
// set (entitled minus already delivered).
func (s *Service) reconcileBackorder(ctx context.Context, move allocation.Move) error {
	if s.entitlements == nil || move.OrderLineID == uuid.Nil {
		// No entitlement contract to enforce: ordinary allocation applies.
		return s.alloc.AllocateImmediate(ctx, []int64{move.ID})
	}

	entitled, err := s.entitlements.EntitledLots(ctx, move.OrderLineID)
	if err != nil {
		if errors.Is(err, entitlement.ErrNoEntitlement) {
			return s.alloc.AllocateImmediate(ctx, []int64{move.ID})
		}
		return fmt.Errorf("resolve entitlement: %w", err)
	}

	deliveredQty, err := s.entitlements.DeliveredLots(ctx, move.OrderLineID)
	if err != nil {
		return fmt.Errorf("resolve delivered lots: %w", err)
	}
	deliveredIDs := make([]int64, 0, len(deliveredQty))
	for lotID := range deliveredQty {
		deliveredIDs = append(deliveredIDs, lotID)
	}
	pending := entitled.Subtract(deliveredIDs...)
	if pending.Empty() {
		s.logger.Error("backorder entitlement fully delivered but demand remains",
			slog.Int64("move_id", move.ID),
			slog.String("order_line", move.OrderLineID.String()))
		return nil
	}

	lines, err := s.store.LinesForMove(ctx, move.ID)
	if err != nil {
		return fmt.Errorf("read move lines: %w", err)
	}

	if linesMatchPending(lines, pending) {
		return nil
	}

	// Release whatever the generic reservation assigned.
	for _, line := range lines {
		qty, err := uom.Convert(line.Qty, move.MoveUnit, move.ProductUnit)
		if err != nil {
			return err
		}
		if line.LotID != 0 && uom.Compare(qty, 0, move.Rounding()) > 0 {
			if err := s.ledger.UpdateReserved(ctx, move.ProductID, move.SourceLocationID, -qty, line.LotID, false); err != nil {
				s.logger.Warn("release of mismatched reservation failed",
					slog.Int64("move_id", move.ID),
					slog.Int64("lot_id", line.LotID),
					slog.Any("error", err))
			}
		}
		if err := s.store.DeleteLine(ctx, line.ID); err != nil {
			return fmt.Errorf("delete move line %d: %w", line.ID, err)
		}
		s.logger.Info("released reservation outside pending entitlement",
			slog.Int64("move_id", move.ID),
			slog.Int64("lot_id", line.LotID),
			slog.Float64("qty", qty))
	}

	return s.reservePending(ctx, move, pending)
}

// reservePending reserves the pending entitlement lots for the backorder,
// oldest in-date first. A lot whose free quantity is zero but whose
// reserved quantity is positive is a residual record: the upstream transfer
// moved reservation ownership here without changing lot identity, so the
// reserved quantity itself is the amount to allocate.
func (s *Service) reservePending(ctx context.Context, move allocation.Move, pending entitlement.Set) error {
	rounding := move.Rounding()
	demand, err := uom.Convert(move.Demand, move.MoveUnit, move.ProductUnit)
	if err != nil {
		return err
	}

	type pendingLot struct {
		lotID    int64
		free     float64
		reserved float64
		inDate   time.Time
		name     string
	}
	var candidates []pendingLot
	for _, lotID := range pending.Lots() {
		quants, err := s.ledger.Gather(ctx, quant.Filter{ProductID: move.ProductID, LocationID: move.SourceLocationID, LotID: lotID})
		if err != nil {
			return fmt.Errorf("gather lot %d: %w", lotID, err)
		}
		lot := pendingLot{lotID: lotID}
		for i, q := range quants {
			lot.free += q.Free()
			lot.reserved += q.Reserved
			if lot.name == "" {
				lot.name = q.LotName
			}
			if i == 0 || q.InDate.IsZero() || (!lot.inDate.IsZero() && q.InDate.Before(lot.inDate)) {
				lot.inDate = q.InDate
			}
		}
		candidates = append(candidates, lot)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.inDate.IsZero() != b.inDate.IsZero() {
			return a.inDate.IsZero()
		}
		if !a.inDate.Equal(b.inDate) {
			return a.inDate.Before(b.inDate)
		}
		return a.lotID < b.lotID
	})

	remaining := demand
	var total float64
	for _, lot := range candidates {
		if uom.IsZero(remaining, rounding) {
			break
		}

		if uom.Compare(lot.free, 0, rounding) > 0 {
			if uom.Compare(lot.free, remaining, rounding) > 0 {
				s.logger.Warn("pending entitlement lot exceeds remaining demand, left for manual selection",
					slog.Int64("move_id", move.ID),
					slog.Int64("lot_id", lot.lotID),
					slog.Float64("free", lot.free),
					slog.Float64("remaining", remaining))
				continue
			}
			reserved, err := s.exec.Reserve(ctx, move, []allocation.Reservation{{LotID: lot.lotID, LotName: lot.name, Qty: lot.free}})
			if err != nil {
				return err
			}
			remaining -= reserved
			total += reserved
			continue
		}

		if uom.Compare(lot.reserved, 0, rounding) > 0 {
			qty := lot.reserved
			if uom.Compare(qty, remaining, rounding) > 0 {
				qty = remaining
			}
			lineQty, err := uom.Convert(qty, move.ProductUnit, move.MoveUnit)
			if err != nil {
				return err
			}
			_, err = s.store.InsertLine(ctx, allocation.MoveLine{
				MoveID:           move.ID,
				LotID:            lot.lotID,
				LotName:          lot.name,
				Qty:              lineQty,
				SourceLocationID: move.SourceLocationID,
				DestLocationID:   move.DestLocationID,
			})
			if err != nil {
				return fmt.Errorf("insert residual move line for lot %d: %w", lot.lotID, err)
			}
			s.logger.Info("adopted residual reservation for backorder",
				slog.Int64("move_id", move.ID),
				slog.Int64("lot_id", lot.lotID),
				slog.Float64("qty", qty))
			remaining -= qty
			total += qty
			continue
		}

		s.logger.Info("pending entitlement lot not available yet",
			slog.Int64("move_id", move.ID),
			slog.Int64("lot_id", lot.lotID))
	}

	return s.applyState(ctx, move, total, demand)
}

func linesMatchPending(lines []allocation.MoveLine, pending entitlement.Set) bool {
	if len(lines) == 0 {
		return false
	}
	seen := make(map[int64]struct{}, len(lines))
	for _, line := range lines {
		if !pending.Contains(line.LotID) {
			return false
		}
		seen[line.LotID] = struct{}{}
	}
	return len(seen) == pending.Len()
}

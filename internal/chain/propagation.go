package chain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/antonioqueb/stock-whole-lot-removal/internal/allocation"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/quant"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/uom"
)

// deliveredLot is one (lot, quantity) pair an upstream step physically moved
// to the intermediate location, in the product unit.
type deliveredLot struct {
	lotID   int64
	lotName string
	qty     float64
}

// propagateMove reserves a deferred downstream move using the lots its
// upstream moves actually delivered. The intermediate location may hold
// FIFO-equal lots belonging to other orders, so generic selection there
// could pick the wrong physical lot; the upstream move lines are the
// authoritative selection.
func (s *Service) propagateMove(ctx context.Context, move allocation.Move) error {
	delivered, ready, err := s.upstreamDelivered(ctx, move)
	if err != nil {
		return err
	}
	if !ready {
		// Some dependency has not executed yet: keep deferring.
		return nil
	}

	if len(delivered) == 0 {
		// Propagation mismatch: the upstream step left no traceable lines.
		// Fall back to generic selection at the downstream location.
		s.logger.Warn("no upstream move lines to propagate, falling back to generic selection",
			slog.Int64("move_id", move.ID),
			slog.Int("upstream_moves", len(move.UpstreamIDs)))
		return s.alloc.AllocateImmediate(ctx, []int64{move.ID})
	}

	rounding := move.Rounding()
	demand, need, err := s.demandAndNeed(ctx, move)
	if err != nil {
		return err
	}
	if uom.Compare(need, 0, rounding) <= 0 {
		return nil
	}

	reservations := make([]allocation.Reservation, 0, len(delivered))
	remaining := need
	for _, d := range delivered {
		if uom.IsZero(remaining, rounding) {
			break
		}
		free, _, err := quant.LotBalance(ctx, s.ledger, move.ProductID, move.SourceLocationID, d.lotID)
		if err != nil {
			return fmt.Errorf("read lot %d balance: %w", d.lotID, err)
		}
		qty := d.qty
		if uom.Compare(free, qty, rounding) < 0 {
			qty = free
		}
		if uom.Compare(qty, remaining, rounding) > 0 {
			qty = remaining
		}
		if uom.Compare(qty, 0, rounding) <= 0 {
			s.logger.Warn("propagated lot not free at downstream location",
				slog.Int64("move_id", move.ID),
				slog.Int64("lot_id", d.lotID),
				slog.Float64("propagated", d.qty),
				slog.Float64("free", free))
			continue
		}
		reservations = append(reservations, allocation.Reservation{LotID: d.lotID, LotName: d.lotName, Qty: qty})
		remaining -= qty
	}
	if len(reservations) == 0 {
		return nil
	}

	reserved, err := s.exec.Reserve(ctx, move, reservations)
	if err != nil {
		return err
	}
	if uom.Compare(reserved, 0, rounding) <= 0 {
		return nil
	}
	s.logger.Info("propagated upstream lots to downstream move",
		slog.Int64("move_id", move.ID),
		slog.Float64("reserved", reserved),
		slog.Int("lots", len(reservations)))
	return s.applyState(ctx, move, demand-need+reserved, demand)
}

// upstreamDelivered aggregates the (lot, qty) pairs delivered by the move's
// executed upstream moves, preserving upstream line order. ready is false
// while any dependency has not executed.
func (s *Service) upstreamDelivered(ctx context.Context, move allocation.Move) (delivered []deliveredLot, ready bool, err error) {
	if len(move.UpstreamIDs) == 0 {
		return nil, true, nil
	}
	upstream, err := s.store.ListMoves(ctx, move.UpstreamIDs)
	if err != nil {
		return nil, false, fmt.Errorf("list upstream moves: %w", err)
	}

	index := make(map[int64]int)
	for _, up := range upstream {
		if up.State != allocation.StateDone {
			return nil, false, nil
		}
		lines, err := s.store.LinesForMove(ctx, up.ID)
		if err != nil {
			return nil, false, fmt.Errorf("read upstream move %d lines: %w", up.ID, err)
		}
		for _, line := range lines {
			if line.LotID == 0 {
				continue
			}
			qty, err := uom.Convert(line.Qty, up.MoveUnit, up.ProductUnit)
			if err != nil {
				return nil, false, err
			}
			if i, ok := index[line.LotID]; ok {
				delivered[i].qty += qty
				continue
			}
			index[line.LotID] = len(delivered)
			delivered = append(delivered, deliveredLot{lotID: line.LotID, lotName: line.LotName, qty: qty})
		}
	}
	return delivered, true, nil
}

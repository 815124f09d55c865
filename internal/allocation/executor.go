package allocation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/antonioqueb/stock-whole-lot-removal/internal/quant"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/uom"
)

// Reservation asks the executor to reserve qty (in the product unit) of one
// lot for a move.
type Reservation struct {
	LotID   int64
	LotName string
	Qty     float64
}

// Executor commits a selection against the ledger. The ledger may adjust
// quantities internally, so each reservation is verified by reading the
// lot's reserved total before and after the update and treating the delta
// as the amount actually reserved. A single lot failing never aborts the
// attempt; the executor logs it and moves on to the next lot.
type Executor struct {
	ledger quant.Ledger
	store  Store
	logger *slog.Logger
}

// NewExecutor constructs Executor.
func NewExecutor(ledger quant.Ledger, store Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{ledger: ledger, store: store, logger: logger}
}

// Reserve executes the reservations for move and returns the total quantity
// actually reserved, in the product unit. Move lines are created only for
// amounts the ledger confirmed.
func (e *Executor) Reserve(ctx context.Context, move Move, reservations []Reservation) (float64, error) {
	rounding := move.Rounding()
	var total float64

	for _, res := range reservations {
		if uom.Compare(res.Qty, 0, rounding) <= 0 {
			continue
		}

		reservedBefore, err := e.lotReserved(ctx, move, res.LotID)
		if err != nil {
			return total, err
		}

		if err := e.ledger.UpdateReserved(ctx, move.ProductID, move.SourceLocationID, res.Qty, res.LotID, false); err != nil {
			e.logger.Warn("lot reservation rejected",
				slog.Int64("move_id", move.ID),
				slog.Int64("lot_id", res.LotID),
				slog.String("lot", res.LotName),
				slog.Float64("qty", res.Qty),
				slog.Any("error", err))
			continue
		}

		reservedAfter, err := e.lotReserved(ctx, move, res.LotID)
		if err != nil {
			return total, err
		}

		actual := reservedAfter - reservedBefore
		if uom.Compare(actual, 0, rounding) <= 0 {
			e.logger.Warn("lot reservation had no effect",
				slog.Int64("move_id", move.ID),
				slog.Int64("lot_id", res.LotID),
				slog.Float64("before", reservedBefore),
				slog.Float64("after", reservedAfter))
			continue
		}

		if err := e.createLine(ctx, move, res, actual); err != nil {
			return total, err
		}
		total += actual
		e.logger.Info("lot reserved",
			slog.Int64("move_id", move.ID),
			slog.Int64("lot_id", res.LotID),
			slog.String("lot", res.LotName),
			slog.Float64("qty", actual))
	}

	return total, nil
}

func (e *Executor) lotReserved(ctx context.Context, move Move, lotID int64) (float64, error) {
	_, reserved, err := quant.LotBalance(ctx, e.ledger, move.ProductID, move.SourceLocationID, lotID)
	if err != nil {
		return 0, fmt.Errorf("allocation: read lot %d reservation: %w", lotID, err)
	}
	return reserved, nil
}

func (e *Executor) createLine(ctx context.Context, move Move, res Reservation, actual float64) error {
	qty, err := uom.Convert(actual, move.ProductUnit, move.MoveUnit)
	if err != nil {
		return fmt.Errorf("allocation: convert reserved qty for lot %d: %w", res.LotID, err)
	}

	line := MoveLine{
		MoveID:           move.ID,
		LotID:            res.LotID,
		LotName:          res.LotName,
		Qty:              qty,
		SourceLocationID: move.SourceLocationID,
		DestLocationID:   move.DestLocationID,
	}

	// Carry package and owner from the first contributing record.
	quants, err := e.ledger.Gather(ctx, quant.Filter{ProductID: move.ProductID, LocationID: move.SourceLocationID, LotID: res.LotID})
	if err == nil && len(quants) > 0 {
		line.PackageID = quants[0].PackageID
		line.OwnerID = quants[0].OwnerID
		if line.LotName == "" {
			line.LotName = quants[0].LotName
		}
	}

	if _, err := e.store.InsertLine(ctx, line); err != nil {
		return fmt.Errorf("allocation: insert move line for lot %d: %w", res.LotID, err)
	}
	return nil
}

package quant

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/antonioqueb/stock-whole-lot-removal/internal/platform/db"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/uom"
)

// Repository is the PostgreSQL-backed Ledger. Reservations run inside a
// repeatable-read transaction with the contributing rows locked, so a single
// UpdateReserved call is atomic against concurrent allocation passes.
type Repository struct {
	pool     *pgxpool.Pool
	rounding float64
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, rounding float64) *Repository {
	if rounding <= 0 {
		rounding = uom.DefaultRounding
	}
	return &Repository{pool: pool, rounding: rounding}
}

const gatherSQL = `
SELECT q.id, q.product_id, q.location_id,
       COALESCE(q.lot_id, 0), COALESCE(lt.name, ''),
       COALESCE(q.package_id, 0), COALESCE(q.owner_id, 0),
       q.quantity, q.reserved_quantity, q.in_date
FROM quants q
LEFT JOIN lots lt ON lt.id = q.lot_id
JOIN locations loc ON loc.id = q.location_id
WHERE q.product_id = $1
  AND (($6 AND q.location_id = $2) OR (NOT $6 AND loc.parent_path LIKE (SELECT parent_path || '%' FROM locations WHERE id = $2)))
  AND ($3 = 0 OR q.lot_id = $3)
  AND ($4 = 0 OR q.package_id = $4)
  AND ($5 = 0 OR q.owner_id = $5)
ORDER BY q.in_date ASC NULLS FIRST, q.lot_id ASC, q.id ASC`

// Gather reads the records matching f.
func (r *Repository) Gather(ctx context.Context, f Filter) ([]Quant, error) {
	rows, err := r.pool.Query(ctx, gatherSQL, f.ProductID, f.LocationID, f.LotID, f.PackageID, f.OwnerID, f.Strict)
	if err != nil {
		return nil, fmt.Errorf("quant: gather: %w", err)
	}
	defer rows.Close()

	var quants []Quant
	for rows.Next() {
		var q Quant
		var inDate pgtype.Timestamptz
		if err := rows.Scan(&q.ID, &q.ProductID, &q.LocationID, &q.LotID, &q.LotName, &q.PackageID, &q.OwnerID, &q.Quantity, &q.Reserved, &inDate); err != nil {
			return nil, fmt.Errorf("quant: scan: %w", err)
		}
		if inDate.Valid {
			q.InDate = inDate.Time
		}
		quants = append(quants, q)
	}
	return quants, rows.Err()
}

// UpdateReserved shifts the reserved quantity of the records matching
// (product, location, lot) by delta, spreading a positive delta across rows
// in FIFO order up to each row's free quantity and releasing in the same
// order for a negative delta.
func (r *Repository) UpdateReserved(ctx context.Context, productID, locationID int64, delta float64, lotID int64, strict bool) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return r.updateReservedTx(ctx, tx, productID, locationID, delta, lotID, strict)
	})
}

func (r *Repository) updateReservedTx(ctx context.Context, tx pgx.Tx, productID, locationID int64, delta float64, lotID int64, strict bool) error {
	rows, err := tx.Query(ctx, `
SELECT q.id, q.quantity, q.reserved_quantity
FROM quants q
JOIN locations loc ON loc.id = q.location_id
WHERE q.product_id = $1
  AND (($4 AND q.location_id = $2) OR (NOT $4 AND loc.parent_path LIKE (SELECT parent_path || '%' FROM locations WHERE id = $2)))
  AND ($3 = 0 OR q.lot_id = $3)
ORDER BY q.in_date ASC NULLS FIRST, q.id ASC
FOR UPDATE OF q`, productID, locationID, lotID, strict)
	if err != nil {
		return fmt.Errorf("quant: lock rows: %w", err)
	}

	type row struct {
		id       int64
		quantity float64
		reserved float64
	}
	var locked []row
	for rows.Next() {
		var rec row
		if err := rows.Scan(&rec.id, &rec.quantity, &rec.reserved); err != nil {
			rows.Close()
			return fmt.Errorf("quant: scan row: %w", err)
		}
		locked = append(locked, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(locked) == 0 {
		return ErrNoQuants
	}

	if uom.Compare(delta, 0, r.rounding) >= 0 {
		remaining := delta
		taken := 0.0
		for _, rec := range locked {
			if uom.IsZero(remaining, r.rounding) {
				break
			}
			free := rec.quantity - rec.reserved
			if uom.Compare(free, 0, r.rounding) <= 0 {
				continue
			}
			take := free
			if uom.Compare(remaining, free, r.rounding) < 0 {
				take = remaining
			}
			if _, err := tx.Exec(ctx, `UPDATE quants SET reserved_quantity = reserved_quantity + $1 WHERE id = $2`, take, rec.id); err != nil {
				return fmt.Errorf("quant: reserve row %d: %w", rec.id, err)
			}
			remaining -= take
			taken += take
		}
		if uom.IsZero(taken, r.rounding) && !uom.IsZero(delta, r.rounding) {
			return ErrReservationExceedsStock
		}
	} else {
		remaining := -delta
		for _, rec := range locked {
			if uom.IsZero(remaining, r.rounding) {
				break
			}
			release := rec.reserved
			if uom.Compare(remaining, release, r.rounding) < 0 {
				release = remaining
			}
			if uom.Compare(release, 0, r.rounding) <= 0 {
				continue
			}
			if _, err := tx.Exec(ctx, `UPDATE quants SET reserved_quantity = reserved_quantity - $1 WHERE id = $2`, release, rec.id); err != nil {
				return fmt.Errorf("quant: release row %d: %w", rec.id, err)
			}
			remaining -= release
		}
	}

	return nil
}

var _ Ledger = (*Repository)(nil)
var _ Ledger = (*MemoryLedger)(nil)

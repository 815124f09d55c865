package entitlement

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository resolves entitlements from PostgreSQL. The order subsystem
// writes the same information in up to three places and any of them may be
// stale or partially updated, so all three are read and unioned.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var sources = []struct {
	name  string
	query string
}{
	{"breakdown", `SELECT lot_id FROM order_line_breakdowns WHERE order_line_id = $1`},
	{"cart", `SELECT lot_id FROM order_line_cart_lots WHERE order_line_id = $1`},
	{"live", `SELECT lot_id FROM order_line_selections WHERE order_line_id = $1`},
}

// EntitledLots unions every recorded entitlement source for the order line.
func (r *Repository) EntitledLots(ctx context.Context, orderLineID uuid.UUID) (Set, error) {
	merged := make([]Source, 0, len(sources))
	found := false
	for _, src := range sources {
		lots, err := r.queryLots(ctx, src.query, orderLineID)
		if err != nil {
			return Set{}, fmt.Errorf("entitlement: read %s source: %w", src.name, err)
		}
		if len(lots) > 0 {
			found = true
		}
		merged = append(merged, Source{Name: src.name, Lots: lots})
	}
	if !found {
		return Set{}, ErrNoEntitlement
	}
	return NewSet(merged...), nil
}

// DeliveredLots sums the executed move lines of every demand line tied to
// the order line, per lot.
func (r *Repository) DeliveredLots(ctx context.Context, orderLineID uuid.UUID) (map[int64]float64, error) {
	rows, err := r.pool.Query(ctx, `
SELECT ml.lot_id, SUM(ml.qty)
FROM move_lines ml
JOIN moves m ON m.id = ml.move_id
WHERE m.order_line_id = $1 AND m.state = 'done' AND ml.lot_id IS NOT NULL
GROUP BY ml.lot_id`, orderLineID)
	if err != nil {
		return nil, fmt.Errorf("entitlement: read delivered lots: %w", err)
	}
	defer rows.Close()

	delivered := make(map[int64]float64)
	for rows.Next() {
		var lotID int64
		var qty float64
		if err := rows.Scan(&lotID, &qty); err != nil {
			return nil, fmt.Errorf("entitlement: scan delivered lot: %w", err)
		}
		delivered[lotID] = qty
	}
	return delivered, rows.Err()
}

func (r *Repository) queryLots(ctx context.Context, query string, orderLineID uuid.UUID) ([]int64, error) {
	rows, err := r.pool.Query(ctx, query, orderLineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []int64
	for rows.Next() {
		var lotID int64
		if err := rows.Scan(&lotID); err != nil {
			return nil, err
		}
		lots = append(lots, lotID)
	}
	return lots, rows.Err()
}

var _ Resolver = (*Repository)(nil)

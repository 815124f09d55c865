package allocation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists moves and move lines in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const moveColumns = `
m.id, m.reference, m.product_id, m.source_location_id, m.dest_location_id,
m.demand_qty, m.state, m.whole_lot, m.step_id, COALESCE(m.backorder_of_id, 0),
m.order_line_id,
mu.id, mu.name, mu.factor, mu.rounding,
pu.id, pu.name, pu.factor, pu.rounding`

const moveJoins = `
FROM moves m
JOIN units mu ON mu.id = m.uom_id
JOIN products p ON p.id = m.product_id
JOIN units pu ON pu.id = p.uom_id`

func scanMove(row pgx.Rows) (Move, error) {
	var m Move
	var orderLine pgtype.UUID
	err := row.Scan(
		&m.ID, &m.Reference, &m.ProductID, &m.SourceLocationID, &m.DestLocationID,
		&m.Demand, &m.State, &m.WholeLot, &m.StepID, &m.BackorderOfID,
		&orderLine,
		&m.MoveUnit.ID, &m.MoveUnit.Name, &m.MoveUnit.Factor, &m.MoveUnit.Rounding,
		&m.ProductUnit.ID, &m.ProductUnit.Name, &m.ProductUnit.Factor, &m.ProductUnit.Rounding,
	)
	if err != nil {
		return Move{}, err
	}
	if orderLine.Valid {
		m.OrderLineID = uuid.UUID(orderLine.Bytes)
	}
	return m, nil
}

func (r *Repository) queryMoves(ctx context.Context, where string, args ...any) ([]Move, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+moveColumns+" "+moveJoins+" "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("allocation: query moves: %w", err)
	}
	defer rows.Close()

	var moves []Move
	for rows.Next() {
		m, err := scanMove(rows)
		if err != nil {
			return nil, fmt.Errorf("allocation: scan move: %w", err)
		}
		moves = append(moves, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range moves {
		if err := r.loadDeps(ctx, &moves[i]); err != nil {
			return nil, err
		}
	}
	return moves, nil
}

func (r *Repository) loadDeps(ctx context.Context, m *Move) error {
	rows, err := r.pool.Query(ctx, `SELECT upstream_id, downstream_id FROM move_deps WHERE upstream_id = $1 OR downstream_id = $1`, m.ID)
	if err != nil {
		return fmt.Errorf("allocation: load deps for move %d: %w", m.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var up, down int64
		if err := rows.Scan(&up, &down); err != nil {
			return err
		}
		if down == m.ID {
			m.UpstreamIDs = append(m.UpstreamIDs, up)
		}
		if up == m.ID {
			m.DownstreamIDs = append(m.DownstreamIDs, down)
		}
	}
	return rows.Err()
}

// GetMove fetches one move with its chain links.
func (r *Repository) GetMove(ctx context.Context, id int64) (Move, error) {
	moves, err := r.queryMoves(ctx, "WHERE m.id = $1", id)
	if err != nil {
		return Move{}, err
	}
	if len(moves) == 0 {
		return Move{}, ErrMoveNotFound
	}
	return moves[0], nil
}

// ListMoves fetches the given moves in ID order.
func (r *Repository) ListMoves(ctx context.Context, ids []int64) ([]Move, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.queryMoves(ctx, "WHERE m.id = ANY($1) ORDER BY m.id", ids)
}

// UpdateMoveState persists a state transition.
func (r *Repository) UpdateMoveState(ctx context.Context, id int64, state MoveState) error {
	tag, err := r.pool.Exec(ctx, `UPDATE moves SET state = $1, updated_at = NOW() WHERE id = $2`, state, id)
	if err != nil {
		return fmt.Errorf("allocation: update move state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMoveNotFound
	}
	return nil
}

// LinesForMove lists a move's lines.
func (r *Repository) LinesForMove(ctx context.Context, moveID int64) ([]MoveLine, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, move_id, COALESCE(lot_id, 0), COALESCE(lot_name, ''), qty,
       source_location_id, dest_location_id, COALESCE(package_id, 0), COALESCE(owner_id, 0)
FROM move_lines WHERE move_id = $1 ORDER BY id`, moveID)
	if err != nil {
		return nil, fmt.Errorf("allocation: query move lines: %w", err)
	}
	defer rows.Close()

	var lines []MoveLine
	for rows.Next() {
		var l MoveLine
		if err := rows.Scan(&l.ID, &l.MoveID, &l.LotID, &l.LotName, &l.Qty, &l.SourceLocationID, &l.DestLocationID, &l.PackageID, &l.OwnerID); err != nil {
			return nil, fmt.Errorf("allocation: scan move line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// InsertLine stores a new move line and returns its ID.
func (r *Repository) InsertLine(ctx context.Context, line MoveLine) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
INSERT INTO move_lines (move_id, lot_id, lot_name, qty, source_location_id, dest_location_id, package_id, owner_id)
VALUES ($1, NULLIF($2, 0), NULLIF($3, ''), $4, $5, $6, NULLIF($7, 0), NULLIF($8, 0))
RETURNING id`,
		line.MoveID, line.LotID, line.LotName, line.Qty, line.SourceLocationID, line.DestLocationID, line.PackageID, line.OwnerID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("allocation: insert move line: %w", err)
	}
	return id, nil
}

// DeleteLine removes a move line.
func (r *Repository) DeleteLine(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM move_lines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("allocation: delete move line: %w", err)
	}
	return nil
}

// MovesForStep lists every move belonging to a transfer step.
func (r *Repository) MovesForStep(ctx context.Context, stepID int64) ([]Move, error) {
	return r.queryMoves(ctx, "WHERE m.step_id = $1 ORDER BY m.id", stepID)
}

// BackordersOf lists the backorder successors of a move.
func (r *Repository) BackordersOf(ctx context.Context, moveID int64) ([]Move, error) {
	return r.queryMoves(ctx, "WHERE m.backorder_of_id = $1 ORDER BY m.id", moveID)
}

// PendingBackorders lists backorder moves still awaiting full reservation.
func (r *Repository) PendingBackorders(ctx context.Context) ([]Move, error) {
	return r.queryMoves(ctx, "WHERE m.backorder_of_id IS NOT NULL AND m.state = ANY($1) ORDER BY m.id",
		[]string{string(StateConfirmed), string(StateWaiting), string(StatePartiallyAvailable)})
}

var _ Store = (*Repository)(nil)

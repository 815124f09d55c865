package chain

import (
	"context"
	"sort"
	"sync"

	"github.com/antonioqueb/stock-whole-lot-removal/internal/allocation"
)

// memoryStore implements allocation.Store for the chain tests.
type memoryStore struct {
	mu       sync.Mutex
	moves    map[int64]*allocation.Move
	lines    map[int64]*allocation.MoveLine
	nextLine int64
}

func newMemoryStore(moves ...allocation.Move) *memoryStore {
	s := &memoryStore{moves: make(map[int64]*allocation.Move), lines: make(map[int64]*allocation.MoveLine)}
	for i := range moves {
		m := moves[i]
		s.moves[m.ID] = &m
	}
	return s
}

func (s *memoryStore) GetMove(ctx context.Context, id int64) (allocation.Move, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.moves[id]
	if !ok {
		return allocation.Move{}, allocation.ErrMoveNotFound
	}
	return *m, nil
}

func (s *memoryStore) ListMoves(ctx context.Context, ids []int64) ([]allocation.Move, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]allocation.Move, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.moves[id]; ok {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *memoryStore) UpdateMoveState(ctx context.Context, id int64, state allocation.MoveState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.moves[id]
	if !ok {
		return allocation.ErrMoveNotFound
	}
	m.State = state
	return nil
}

func (s *memoryStore) LinesForMove(ctx context.Context, moveID int64) ([]allocation.MoveLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []allocation.MoveLine
	for _, line := range s.lines {
		if line.MoveID == moveID {
			out = append(out, *line)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) InsertLine(ctx context.Context, line allocation.MoveLine) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLine++
	line.ID = s.nextLine
	s.lines[line.ID] = &line
	return line.ID, nil
}

func (s *memoryStore) DeleteLine(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lines, id)
	return nil
}

func (s *memoryStore) MovesForStep(ctx context.Context, stepID int64) ([]allocation.Move, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []allocation.Move
	for _, m := range s.moves {
		if m.StepID == stepID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) BackordersOf(ctx context.Context, moveID int64) ([]allocation.Move, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []allocation.Move
	for _, m := range s.moves {
		if m.BackorderOfID == moveID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) PendingBackorders(ctx context.Context) ([]allocation.Move, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []allocation.Move
	for _, m := range s.moves {
		if m.BackorderOfID != 0 && m.State.CanAllocate() {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var _ allocation.Store = (*memoryStore)(nil)
var _ BackorderLister = (*memoryStore)(nil)

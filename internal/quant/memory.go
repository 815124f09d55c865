package quant

import (
	"context"
	"sort"
	"sync"

	"github.com/antonioqueb/stock-whole-lot-removal/internal/uom"
)

// MemoryLedger is an in-memory Ledger used by tests and local seeding. It
// mirrors the reservation behaviour of the persistent ledger: a positive
// delta is spread across matching records in FIFO order up to each record's
// free quantity, a negative delta releases in the same order.
type MemoryLedger struct {
	mu       sync.Mutex
	quants   map[int64]*Quant
	nextID   int64
	rounding float64
}

// NewMemoryLedger constructs an empty ledger with the given rounding.
func NewMemoryLedger(rounding float64) *MemoryLedger {
	if rounding <= 0 {
		rounding = uom.DefaultRounding
	}
	return &MemoryLedger{quants: make(map[int64]*Quant), rounding: rounding}
}

// Add inserts a record and returns its ID.
func (l *MemoryLedger) Add(q Quant) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	q.ID = l.nextID
	l.quants[q.ID] = &q
	return q.ID
}

// Gather returns copies of the records matching f in FIFO order.
func (l *MemoryLedger) Gather(ctx context.Context, f Filter) ([]Quant, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gatherLocked(f), nil
}

func (l *MemoryLedger) gatherLocked(f Filter) []Quant {
	var out []Quant
	for _, q := range l.quants {
		if !matches(*q, f) {
			continue
		}
		out = append(out, *q)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.InDate.IsZero() != b.InDate.IsZero() {
			return a.InDate.IsZero()
		}
		if !a.InDate.Equal(b.InDate) {
			return a.InDate.Before(b.InDate)
		}
		return a.ID < b.ID
	})
	return out
}

func matches(q Quant, f Filter) bool {
	if f.ProductID != 0 && q.ProductID != f.ProductID {
		return false
	}
	if f.LocationID != 0 && q.LocationID != f.LocationID {
		return false
	}
	if f.LotID != 0 && q.LotID != f.LotID {
		return false
	}
	if f.PackageID != 0 && q.PackageID != f.PackageID {
		return false
	}
	if f.OwnerID != 0 && q.OwnerID != f.OwnerID {
		return false
	}
	return true
}

// UpdateReserved shifts reserved quantity for the matching records.
func (l *MemoryLedger) UpdateReserved(ctx context.Context, productID, locationID int64, delta float64, lotID int64, strict bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records := l.gatherLocked(Filter{ProductID: productID, LocationID: locationID, LotID: lotID, Strict: strict})
	if len(records) == 0 {
		return ErrNoQuants
	}

	if uom.Compare(delta, 0, l.rounding) >= 0 {
		remaining := delta
		taken := 0.0
		for _, rec := range records {
			if uom.IsZero(remaining, l.rounding) {
				break
			}
			q := l.quants[rec.ID]
			free := q.Free()
			if uom.Compare(free, 0, l.rounding) <= 0 {
				continue
			}
			take := free
			if uom.Compare(remaining, free, l.rounding) < 0 {
				take = remaining
			}
			q.Reserved += take
			remaining -= take
			taken += take
		}
		if uom.IsZero(taken, l.rounding) && !uom.IsZero(delta, l.rounding) {
			return ErrReservationExceedsStock
		}
		return nil
	}

	remaining := -delta
	for _, rec := range records {
		if uom.IsZero(remaining, l.rounding) {
			break
		}
		q := l.quants[rec.ID]
		release := q.Reserved
		if uom.Compare(remaining, release, l.rounding) < 0 {
			release = remaining
		}
		q.Reserved -= release
		remaining -= release
	}
	return nil
}

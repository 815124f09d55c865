package quant

import (
	"errors"
	"time"
)

// Quant is one resource record: the physical and reserved quantity of a
// product for a (location, lot, package, owner) combination. The ledger may
// split or merge records on its own; callers must aggregate per lot.
type Quant struct {
	ID         int64
	ProductID  int64
	LocationID int64
	LotID      int64
	LotName    string
	PackageID  int64
	OwnerID    int64
	Quantity   float64
	Reserved   float64
	InDate     time.Time
}

// Free returns the unreserved quantity of the record.
func (q Quant) Free() float64 {
	return q.Quantity - q.Reserved
}

// Filter narrows a Gather call. Zero values mean "any". Strict restricts
// matching to the exact location instead of including child locations.
type Filter struct {
	ProductID  int64
	LocationID int64
	LotID      int64
	PackageID  int64
	OwnerID    int64
	Strict     bool
}

// LotAvailability is the aggregated view of one lot at a location: the sum
// of free and reserved quantity across every contributing record, with the
// earliest in-date used for FIFO ordering.
type LotAvailability struct {
	LotID    int64
	LotName  string
	Free     float64
	Reserved float64
	InDate   time.Time
	Quants   []Quant
}

// ErrReservationExceedsStock is returned by UpdateReserved when a positive
// delta cannot be covered by any free quantity.
var ErrReservationExceedsStock = errors.New("quant: reservation exceeds available quantity")

// ErrNoQuants indicates no record matched the filter.
var ErrNoQuants = errors.New("quant: no matching records")

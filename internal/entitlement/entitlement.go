// Package entitlement tracks which specific lots an order line is entitled
// to. The order subsystem records this in several places (a breakdown
// snapshot, the original cart selection and the live selection) and any one
// of them may be incomplete, so the resolved set is the union of every
// source with provenance kept per lot.
package entitlement

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
)

// Source is one historical record of entitled lots.
type Source struct {
	Name string
	Lots []int64
}

// Set is the merged entitlement set. Provenance records which sources
// contributed each lot.
type Set struct {
	provenance map[int64][]string
}

// NewSet merges the given sources into a Set.
func NewSet(sources ...Source) Set {
	s := Set{provenance: make(map[int64][]string)}
	for _, src := range sources {
		for _, lotID := range src.Lots {
			if lotID == 0 {
				continue
			}
			s.provenance[lotID] = append(s.provenance[lotID], src.Name)
		}
	}
	return s
}

// Contains reports whether lotID is entitled.
func (s Set) Contains(lotID int64) bool {
	_, ok := s.provenance[lotID]
	return ok
}

// Lots returns the entitled lot IDs in ascending order.
func (s Set) Lots() []int64 {
	out := make([]int64, 0, len(s.provenance))
	for lotID := range s.provenance {
		out = append(out, lotID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Provenance returns the source names that contributed lotID.
func (s Set) Provenance(lotID int64) []string {
	return s.provenance[lotID]
}

// Len returns the number of entitled lots.
func (s Set) Len() int {
	return len(s.provenance)
}

// Empty reports whether no lot is entitled.
func (s Set) Empty() bool {
	return len(s.provenance) == 0
}

// Subtract returns a copy of the set without the given lots.
func (s Set) Subtract(lotIDs ...int64) Set {
	out := Set{provenance: make(map[int64][]string, len(s.provenance))}
	removed := make(map[int64]struct{}, len(lotIDs))
	for _, id := range lotIDs {
		removed[id] = struct{}{}
	}
	for lotID, sources := range s.provenance {
		if _, ok := removed[lotID]; ok {
			continue
		}
		out.provenance[lotID] = sources
	}
	return out
}

// ErrNoEntitlement indicates the order line has no entitlement record at all,
// as opposed to an entitlement whose lots were all delivered.
var ErrNoEntitlement = errors.New("entitlement: order line has no entitlement record")

// Resolver is the port to the order subsystem. EntitledLots returns the
// merged entitlement set for an order line; DeliveredLots returns the lots
// already delivered against it (quantities in the product's reference unit),
// derived from completed allocation records across every sibling demand line.
type Resolver interface {
	EntitledLots(ctx context.Context, orderLineID uuid.UUID) (Set, error)
	DeliveredLots(ctx context.Context, orderLineID uuid.UUID) (map[int64]float64, error)
}

package allocation

import (
	"github.com/antonioqueb/stock-whole-lot-removal/internal/quant"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/uom"
)

// SelectLots picks which whole lots to reserve for a demand of need, given
// availability entries already in FIFO order. A lot is taken completely or
// not at all, and the selection never exceeds the demand:
//
//  1. a single lot whose free quantity equals the need wins outright;
//  2. otherwise lots are accumulated greedily in FIFO order, skipping any
//     lot that would overshoot the remaining need;
//  3. if a remainder is left, one more pass looks for an unselected lot
//     that fills it exactly.
//
// The returned selection may cover only part of the need; the caller
// decides whether partial fulfilment is acceptable. This is a heuristic,
// not a subset-sum solver: FIFO fairness and whole-lot integrity take
// precedence over minimising the leftover.
func SelectLots(available []quant.LotAvailability, need, rounding float64) []quant.LotAvailability {
	if len(available) == 0 || uom.Compare(need, 0, rounding) <= 0 {
		return nil
	}

	for _, lot := range available {
		if uom.Compare(lot.Free, need, rounding) == 0 {
			return []quant.LotAvailability{lot}
		}
	}

	var selected []quant.LotAvailability
	selectedIDs := make(map[int64]struct{})
	remaining := need
	for _, lot := range available {
		if uom.Compare(lot.Free, remaining, rounding) > 0 {
			continue
		}
		selected = append(selected, lot)
		selectedIDs[lot.LotID] = struct{}{}
		remaining -= lot.Free
		if uom.IsZero(remaining, rounding) {
			return selected
		}
	}

	if uom.Compare(remaining, 0, rounding) > 0 {
		for _, lot := range available {
			if _, ok := selectedIDs[lot.LotID]; ok {
				continue
			}
			if uom.Compare(lot.Free, remaining, rounding) == 0 {
				selected = append(selected, lot)
				break
			}
		}
	}

	return selected
}

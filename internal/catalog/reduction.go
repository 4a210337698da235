package catalog

import (
	"sort"

	"etalase/backend/internal/domain"
	"etalase/backend/internal/inventory"
)

// Reductions expands sold lines into the counters they consume. Items with
// a manual stock override consume their own counter; everything else is
// broken down into product counters (bundle -> package -> product). It
// returns false when a line or one of its components cannot be resolved.
func (s Snapshot) Reductions(lines []domain.CartLine) ([]domain.StockReduction, bool) {
	totals := make(map[reductionKey]int64)
	for _, line := range lines {
		if line.Qty <= 0 {
			continue
		}
		if !s.expand(line.Kind, line.ID, line.Qty, totals) {
			return nil, false
		}
	}

	reductions := make([]domain.StockReduction, 0, len(totals))
	for key, qty := range totals {
		reductions = append(reductions, domain.StockReduction{Kind: key.kind, ID: key.id, Qty: qty})
	}
	sort.Slice(reductions, func(i, j int) bool {
		if reductions[i].Kind != reductions[j].Kind {
			return reductions[i].Kind < reductions[j].Kind
		}
		return reductions[i].ID < reductions[j].ID
	})
	return reductions, true
}

// Shortages returns the reductions the snapshot cannot cover. Shared
// components across lines are caught here even when each line alone fits.
func (s Snapshot) Shortages(reductions []domain.StockReduction) []domain.StockReduction {
	short := make([]domain.StockReduction, 0)
	for _, r := range reductions {
		if r.Qty > s.counter(r.Kind, r.ID) {
			short = append(short, r)
		}
	}
	return short
}

type reductionKey struct {
	kind domain.ItemKind
	id   string
}

func (s Snapshot) expand(kind domain.ItemKind, id string, qty int64, totals map[reductionKey]int64) bool {
	switch kind {
	case domain.KindProduct:
		p, ok := s.Products[id]
		if !ok || p.Deleted {
			return false
		}
		totals[reductionKey{kind: kind, id: id}] += qty
		return true
	case domain.KindPackage:
		pkg, ok := s.Packages[id]
		if !ok || pkg.Deleted {
			return false
		}
		if inventory.HasManualStock(pkg.ManualStockEnabled, pkg.ManualStock) {
			totals[reductionKey{kind: kind, id: id}] += qty
			return true
		}
		for _, c := range pkg.Components {
			if c.Quantity <= 0 {
				continue
			}
			if !s.expand(domain.KindProduct, c.ProductID, qty*c.Quantity, totals) {
				return false
			}
		}
		return true
	case domain.KindBundle:
		bundle, ok := s.Bundles[id]
		if !ok || bundle.Deleted {
			return false
		}
		if inventory.HasManualStock(bundle.ManualStockEnabled, bundle.ManualStock) {
			totals[reductionKey{kind: kind, id: id}] += qty
			return true
		}
		for _, item := range bundle.Items {
			if item.Quantity <= 0 {
				continue
			}
			var ok bool
			if item.IsPackage {
				ok = s.expand(domain.KindPackage, item.PackageID, qty*item.Quantity, totals)
			} else {
				ok = s.expand(domain.KindProduct, item.ProductID, qty*item.Quantity, totals)
			}
			if !ok {
				return false
			}
		}
		return true
	}
	return false
}

func (s Snapshot) counter(kind domain.ItemKind, id string) int64 {
	switch kind {
	case domain.KindProduct:
		if p, ok := s.Products[id]; ok && !p.Deleted {
			return inventory.FloorStock(p.Stock)
		}
	case domain.KindPackage:
		if p, ok := s.Packages[id]; ok && p.ManualStock != nil {
			return inventory.FloorStock(*p.ManualStock)
		}
	case domain.KindBundle:
		if b, ok := s.Bundles[id]; ok && b.ManualStock != nil {
			return inventory.FloorStock(*b.ManualStock)
		}
	}
	return 0
}

// Package inventory derives the sellable quantity of composite items
// (packages and bundles) from the stock of their components.
//
// Every function here is pure: it reads the maps it is given and allocates
// nothing shared, so callers may invoke it from any goroutine. Results are
// never meant to be stored; derive again from a fresh snapshot before any
// stock-committing action.
package inventory

import (
	"math"

	"etalase/backend/internal/domain"
)

const unconstrained = int64(math.MaxInt64)

// DerivePackageStock returns how many units of pkg can be sold given the
// products it is built from. A manual stock override wins outright. A missing
// or deleted component makes the whole package unavailable.
func DerivePackageStock(pkg domain.Package, productsByID map[string]domain.Product) int64 {
	if manual, ok := manualStock(pkg.ManualStockEnabled, pkg.ManualStock); ok {
		return manual
	}
	if len(pkg.Components) == 0 {
		return 0
	}

	best := unconstrained
	constrained := false
	for _, component := range pkg.Components {
		if component.Quantity <= 0 {
			continue
		}
		product, ok := productsByID[component.ProductID]
		if !ok || product.Deleted {
			return 0
		}
		units := FloorStock(product.Stock) / component.Quantity
		if units < best {
			best = units
		}
		constrained = true
	}
	if !constrained {
		return 0
	}
	return best
}

// DeriveBundleStock is the bundle-level counterpart of DerivePackageStock.
// Package items are derived through DerivePackageStock, so a package's own
// manual override applies inside the bundle.
func DeriveBundleStock(bundle domain.Bundle, productsByID map[string]domain.Product, packagesByID map[string]domain.Package) int64 {
	if manual, ok := manualStock(bundle.ManualStockEnabled, bundle.ManualStock); ok {
		return manual
	}
	if len(bundle.Items) == 0 {
		return 0
	}

	best := unconstrained
	constrained := false
	for _, item := range bundle.Items {
		if item.Quantity <= 0 {
			continue
		}

		var available int64
		if item.IsPackage {
			pkg, ok := packagesByID[item.PackageID]
			if !ok || pkg.Deleted {
				return 0
			}
			available = DerivePackageStock(pkg, productsByID)
		} else {
			product, ok := productsByID[item.ProductID]
			if !ok || product.Deleted {
				return 0
			}
			available = FloorStock(product.Stock)
		}

		units := available / item.Quantity
		if units < best {
			best = units
		}
		constrained = true
	}
	if !constrained {
		return 0
	}
	return best
}

// FloorStock converts a raw counter into whole sellable units. Negative,
// NaN and infinite-negative values count as zero.
func FloorStock(raw float64) int64 {
	if math.IsNaN(raw) || raw <= 0 {
		return 0
	}
	if raw >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(math.Floor(raw))
}

func manualStock(enabled bool, value *float64) (int64, bool) {
	if !enabled || value == nil {
		return 0, false
	}
	return FloorStock(*value), true
}

// HasManualStock reports whether a manual override is in effect.
func HasManualStock(enabled bool, value *float64) bool {
	_, ok := manualStock(enabled, value)
	return ok
}

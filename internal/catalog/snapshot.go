// Package catalog holds an immutable snapshot of catalog data and combines
// stock derivation with promo pricing into the view the till renders.
package catalog

import (
	"sort"
	"time"

	"etalase/backend/internal/domain"
	"etalase/backend/internal/inventory"
	"etalase/backend/internal/promo"
)

// Snapshot indexes one fetch of catalog data by id. It is a plain value:
// build a new one for every request and never keep it past the request.
type Snapshot struct {
	Scope    domain.OutletScope
	Products map[string]domain.Product
	Packages map[string]domain.Package
	Bundles  map[string]domain.Bundle
	Promos   map[string]domain.Promo
}

func NewSnapshot(c domain.Catalog) Snapshot {
	snap := Snapshot{
		Scope:    c.Scope,
		Products: make(map[string]domain.Product, len(c.Products)),
		Packages: make(map[string]domain.Package, len(c.Packages)),
		Bundles:  make(map[string]domain.Bundle, len(c.Bundles)),
		Promos:   make(map[string]domain.Promo, len(c.Promos)),
	}
	for _, p := range c.Products {
		snap.Products[p.ID] = p
	}
	for _, p := range c.Packages {
		snap.Packages[p.ID] = p
	}
	for _, b := range c.Bundles {
		snap.Bundles[b.ID] = b
	}
	for _, p := range c.Promos {
		snap.Promos[p.ID] = p
	}
	return snap
}

// Item is the kind-independent face of a sellable record.
type Item struct {
	Kind           domain.ItemKind
	ID             string
	Name           string
	Outlet         domain.OutletScope
	Price          int64
	Promo          *domain.PromoConfig
	AppliedPromoID string
}

// Lookup resolves a sellable item. Deleted items are reported as missing.
func (s Snapshot) Lookup(kind domain.ItemKind, id string) (Item, bool) {
	switch kind {
	case domain.KindProduct:
		p, ok := s.Products[id]
		if !ok || p.Deleted {
			return Item{}, false
		}
		return Item{Kind: kind, ID: p.ID, Name: p.Name, Outlet: p.Outlet, Price: p.Price, Promo: p.Promo, AppliedPromoID: p.AppliedPromoID}, true
	case domain.KindPackage:
		p, ok := s.Packages[id]
		if !ok || p.Deleted {
			return Item{}, false
		}
		return Item{Kind: kind, ID: p.ID, Name: p.Name, Outlet: p.Outlet, Price: p.Price, Promo: p.Promo, AppliedPromoID: p.AppliedPromoID}, true
	case domain.KindBundle:
		b, ok := s.Bundles[id]
		if !ok || b.Deleted {
			return Item{}, false
		}
		return Item{Kind: kind, ID: b.ID, Name: b.Name, Outlet: b.Outlet, Price: b.Price, Promo: b.Promo, AppliedPromoID: b.AppliedPromoID}, true
	}
	return Item{}, false
}

// Stock is the sellable quantity of an item: the floored raw counter for
// products, the derived quantity for packages and bundles.
func (s Snapshot) Stock(kind domain.ItemKind, id string) int64 {
	if _, ok := s.Lookup(kind, id); !ok {
		return 0
	}
	switch kind {
	case domain.KindProduct:
		return inventory.FloorStock(s.Products[id].Stock)
	case domain.KindPackage:
		return inventory.DerivePackageStock(s.Packages[id], s.Products)
	case domain.KindBundle:
		return inventory.DeriveBundleStock(s.Bundles[id], s.Products, s.Packages)
	}
	return 0
}

// PromoFor returns the promo config governing an item and the standalone
// promo id when one is applied.
func (s Snapshot) PromoFor(item Item) (*domain.PromoConfig, string) {
	return promo.Resolve(item.Promo, item.AppliedPromoID, s.Promos)
}

func (s Snapshot) Price(item Item, now time.Time) (promo.PriceResult, string) {
	cfg, promoID := s.PromoFor(item)
	return promo.EffectivePrice(item.Price, cfg, now), promoID
}

// View lists every live item with its derived stock and effective price.
func (s Snapshot) View(now time.Time) []domain.ViewItem {
	items := make([]domain.ViewItem, 0, len(s.Products)+len(s.Packages)+len(s.Bundles))
	add := func(kind domain.ItemKind, id string) {
		item, ok := s.Lookup(kind, id)
		if !ok {
			return
		}
		price, promoID := s.Price(item, now)
		items = append(items, domain.ViewItem{
			Kind:           kind,
			ID:             item.ID,
			Name:           item.Name,
			Outlet:         item.Outlet,
			Stock:          s.Stock(kind, id),
			Price:          item.Price,
			EffectivePrice: price.Price,
			DiscountAmount: price.DiscountAmount,
			HasDiscount:    price.HasDiscount,
			PromoID:        promoID,
		})
	}

	for id := range s.Products {
		add(domain.KindProduct, id)
	}
	for id := range s.Packages {
		add(domain.KindPackage, id)
	}
	for id := range s.Bundles {
		add(domain.KindBundle, id)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Kind != items[j].Kind {
			return kindRank(items[i].Kind) < kindRank(items[j].Kind)
		}
		if items[i].Name != items[j].Name {
			return items[i].Name < items[j].Name
		}
		return items[i].ID < items[j].ID
	})
	return items
}

func (s Snapshot) Diagnose() []domain.DiagnosticIssue {
	return inventory.Diagnose(s.Products, s.Packages, s.Bundles)
}

func kindRank(kind domain.ItemKind) int {
	switch kind {
	case domain.KindProduct:
		return 0
	case domain.KindPackage:
		return 1
	default:
		return 2
	}
}

package inventory

import (
	"testing"

	"etalase/backend/internal/domain"
)

func TestDiagnoseReportsBrokenReferences(t *testing.T) {
	products := productMap(
		domain.Product{ID: "A", Stock: 10},
		domain.Product{ID: "OLD", Stock: 10, Deleted: true},
	)
	packages := map[string]domain.Package{
		"PK-OK":     {ID: "PK-OK", Components: []domain.Component{{ProductID: "A", Quantity: 1}}},
		"PK-BROKEN": {ID: "PK-BROKEN", Components: []domain.Component{{ProductID: "OLD", Quantity: 1}, {ProductID: "GHOST", Quantity: 2}, {ProductID: "A", Quantity: 0}}},
		"PK-EMPTY":  {ID: "PK-EMPTY"},
		"PK-MANUAL": {ID: "PK-MANUAL", ManualStockEnabled: true, ManualStock: floatPtr(3), Components: []domain.Component{{ProductID: "GHOST", Quantity: 1}}},
	}
	bundles := map[string]domain.Bundle{
		"BD": {ID: "BD", Items: []domain.BundleItem{
			{IsPackage: true, PackageID: "NOPE", Quantity: 1},
			{IsPackage: true, Quantity: 1},
			{ProductID: "A", Quantity: 1},
		}},
	}

	issues := Diagnose(products, packages, bundles)

	want := map[string]bool{
		"PK-BROKEN/" + domain.IssueDeletedProduct:  false,
		"PK-BROKEN/" + domain.IssueMissingProduct:  false,
		"PK-BROKEN/" + domain.IssueZeroQuantity:    false,
		"PK-EMPTY/" + domain.IssueEmptyComposition: false,
		"BD/" + domain.IssueMissingPackage:         false,
		"BD/" + domain.IssueDanglingItem:           false,
	}
	for _, is := range issues {
		key := is.ID + "/" + is.Code
		if _, ok := want[key]; !ok {
			t.Fatalf("unexpected issue %+v", is)
		}
		want[key] = true
	}
	for key, seen := range want {
		if !seen {
			t.Fatalf("expected issue %s to be reported", key)
		}
	}
}

func TestDiagnoseCleanCatalog(t *testing.T) {
	products := productMap(domain.Product{ID: "A", Stock: 10})
	packages := map[string]domain.Package{
		"PK": {ID: "PK", Components: []domain.Component{{ProductID: "A", Quantity: 1}}},
	}
	bundles := map[string]domain.Bundle{
		"BD": {ID: "BD", Items: []domain.BundleItem{{IsPackage: true, PackageID: "PK", Quantity: 1}}},
	}

	if issues := Diagnose(products, packages, bundles); len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
}

func TestDiagnoseFlagsBundleOverBrokenPackage(t *testing.T) {
	products := productMap(
		domain.Product{ID: "A", Stock: 10},
		domain.Product{ID: "OLD", Stock: 10, Deleted: true},
	)
	packages := map[string]domain.Package{
		"PK-OLD":    {ID: "PK-OLD", Components: []domain.Component{{ProductID: "A", Quantity: 1}, {ProductID: "OLD", Quantity: 1}}},
		"PK-GHOST":  {ID: "PK-GHOST", Components: []domain.Component{{ProductID: "GHOST", Quantity: 1}}},
		"PK-MANUAL": {ID: "PK-MANUAL", ManualStockEnabled: true, ManualStock: floatPtr(4), Components: []domain.Component{{ProductID: "GHOST", Quantity: 1}}},
	}
	bundles := map[string]domain.Bundle{
		"BD-OLD":    {ID: "BD-OLD", Items: []domain.BundleItem{{IsPackage: true, PackageID: "PK-OLD", Quantity: 1}, {ProductID: "A", Quantity: 1}}},
		"BD-GHOST":  {ID: "BD-GHOST", Items: []domain.BundleItem{{IsPackage: true, PackageID: "PK-GHOST", Quantity: 1}}},
		"BD-MANUAL": {ID: "BD-MANUAL", Items: []domain.BundleItem{{IsPackage: true, PackageID: "PK-MANUAL", Quantity: 1}}},
	}

	issues := Diagnose(products, packages, bundles)

	broken := map[string]bool{}
	for _, is := range issues {
		if is.Kind == domain.KindBundle && is.Code == domain.IssueBrokenPackage {
			broken[is.ID] = true
		}
	}
	if !broken["BD-OLD"] || !broken["BD-GHOST"] {
		t.Fatalf("expected both bundles over broken packages to be flagged, got %+v", issues)
	}
	if broken["BD-MANUAL"] {
		t.Fatalf("expected bundle over a manual-stock package to be clean, got %+v", issues)
	}

	// The diagnosis explains the derived zero.
	if got := DeriveBundleStock(bundles["BD-OLD"], products, packages); got != 0 {
		t.Fatalf("expected BD-OLD to derive 0, got %d", got)
	}
	if got := DeriveBundleStock(bundles["BD-MANUAL"], products, packages); got != 4 {
		t.Fatalf("expected BD-MANUAL to derive 4, got %d", got)
	}
}

package inventory

import (
	"fmt"
	"sort"

	"etalase/backend/internal/domain"
)

// Diagnose lists data-integrity problems that make derivation fall back to
// zero or ignore a component. It does not change what the Derive functions
// return; it only explains it.
func Diagnose(
	productsByID map[string]domain.Product,
	packagesByID map[string]domain.Package,
	bundlesByID map[string]domain.Bundle,
) []domain.DiagnosticIssue {
	issues := make([]domain.DiagnosticIssue, 0)

	for _, pkg := range packagesByID {
		if pkg.Deleted {
			continue
		}
		issues = append(issues, diagnoseManual(domain.KindPackage, pkg.ID, pkg.ManualStockEnabled, pkg.ManualStock)...)
		if HasManualStock(pkg.ManualStockEnabled, pkg.ManualStock) {
			continue
		}
		if len(pkg.Components) == 0 {
			issues = append(issues, issue(domain.KindPackage, pkg.ID, domain.IssueEmptyComposition, "package has no components"))
			continue
		}
		for _, component := range pkg.Components {
			if component.Quantity <= 0 {
				issues = append(issues, issue(domain.KindPackage, pkg.ID, domain.IssueZeroQuantity,
					fmt.Sprintf("component %s requires quantity %d and is ignored", component.ProductID, component.Quantity)))
				continue
			}
			if code, ok := productProblem(productsByID, component.ProductID); ok {
				issues = append(issues, issue(domain.KindPackage, pkg.ID, code,
					fmt.Sprintf("component product %s is unavailable", component.ProductID)))
			}
		}
	}

	for _, bundle := range bundlesByID {
		if bundle.Deleted {
			continue
		}
		issues = append(issues, diagnoseManual(domain.KindBundle, bundle.ID, bundle.ManualStockEnabled, bundle.ManualStock)...)
		if HasManualStock(bundle.ManualStockEnabled, bundle.ManualStock) {
			continue
		}
		if len(bundle.Items) == 0 {
			issues = append(issues, issue(domain.KindBundle, bundle.ID, domain.IssueEmptyComposition, "bundle has no items"))
			continue
		}
		for _, item := range bundle.Items {
			ref := item.ProductID
			if item.IsPackage {
				ref = item.PackageID
			}
			if ref == "" {
				issues = append(issues, issue(domain.KindBundle, bundle.ID, domain.IssueDanglingItem, "bundle item has no reference id"))
				continue
			}
			if item.Quantity <= 0 {
				issues = append(issues, issue(domain.KindBundle, bundle.ID, domain.IssueZeroQuantity,
					fmt.Sprintf("item %s requires quantity %d and is ignored", ref, item.Quantity)))
				continue
			}
			if item.IsPackage {
				pkg, ok := packagesByID[ref]
				switch {
				case !ok:
					issues = append(issues, issue(domain.KindBundle, bundle.ID, domain.IssueMissingPackage,
						fmt.Sprintf("package %s not found", ref)))
				case pkg.Deleted:
					issues = append(issues, issue(domain.KindBundle, bundle.ID, domain.IssueDeletedPackage,
						fmt.Sprintf("package %s is deleted", ref)))
				default:
					if reason, broken := packageBroken(pkg, productsByID); broken {
						issues = append(issues, issue(domain.KindBundle, bundle.ID, domain.IssueBrokenPackage,
							fmt.Sprintf("package %s derives 0: %s", ref, reason)))
					}
				}
				continue
			}
			if code, ok := productProblem(productsByID, ref); ok {
				issues = append(issues, issue(domain.KindBundle, bundle.ID, code,
					fmt.Sprintf("product %s is unavailable", ref)))
			}
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Kind != issues[j].Kind {
			return issues[i].Kind > issues[j].Kind
		}
		if issues[i].ID != issues[j].ID {
			return issues[i].ID < issues[j].ID
		}
		if issues[i].Code != issues[j].Code {
			return issues[i].Code < issues[j].Code
		}
		return issues[i].Detail < issues[j].Detail
	})
	return issues
}

func diagnoseManual(kind domain.ItemKind, id string, enabled bool, value *float64) []domain.DiagnosticIssue {
	if enabled && value == nil {
		return []domain.DiagnosticIssue{issue(kind, id, domain.IssueManualWithoutQty, "manual stock enabled without a value; derived stock is used")}
	}
	return nil
}

// packageBroken reports why a live package can never derive stock from its
// components. Packages on manual stock are never broken.
func packageBroken(pkg domain.Package, productsByID map[string]domain.Product) (string, bool) {
	if HasManualStock(pkg.ManualStockEnabled, pkg.ManualStock) {
		return "", false
	}
	constrained := false
	for _, component := range pkg.Components {
		if component.Quantity <= 0 {
			continue
		}
		if code, ok := productProblem(productsByID, component.ProductID); ok {
			return fmt.Sprintf("component %s is %s", component.ProductID, code), true
		}
		constrained = true
	}
	if !constrained {
		return "no usable components", true
	}
	return "", false
}

func productProblem(productsByID map[string]domain.Product, id string) (string, bool) {
	product, ok := productsByID[id]
	if !ok {
		return domain.IssueMissingProduct, true
	}
	if product.Deleted {
		return domain.IssueDeletedProduct, true
	}
	return "", false
}

func issue(kind domain.ItemKind, id string, code string, detail string) domain.DiagnosticIssue {
	return domain.DiagnosticIssue{Kind: kind, ID: id, Code: code, Detail: detail}
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"etalase/backend/internal/domain"
	"etalase/backend/internal/store"
)

func TestCommitSaleDecrementsSharedComponents(t *testing.T) {
	databaseURL := os.Getenv("ETALASE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set ETALASE_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	stamp := time.Now().UnixNano()
	outlet := domain.ScopeFromString(fmt.Sprintf("outlet-it-%d", stamp))
	kopiID := fmt.Sprintf("PRD-KOPI-IT-%d", stamp)
	rotiID := fmt.Sprintf("PRD-ROTI-IT-%d", stamp)
	packageID := fmt.Sprintf("PKG-IT-%d", stamp)
	idempotencyKey := fmt.Sprintf("idem-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_movements WHERE item_id IN ($1, $2, $3)`, kopiID, rotiID, packageID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_lines WHERE sale_id IN (SELECT id FROM sales WHERE idempotency_key = $1)`, idempotencyKey)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE idempotency_key = $1`, idempotencyKey)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM package_components WHERE package_id = $1`, packageID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM packages WHERE id = $1`, packageID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id IN ($1, $2)`, kopiID, rotiID)
	})

	for _, p := range []domain.Product{
		{ID: kopiID, Name: "Kopi IT", Price: 18000, Stock: 10, Outlet: outlet},
		{ID: rotiID, Name: "Roti IT", Price: 15000, Stock: 4.5, Outlet: outlet},
	} {
		if _, err := s.CreateProduct(ctx, p); err != nil {
			t.Fatalf("create product %s: %v", p.ID, err)
		}
	}
	if _, err := s.CreatePackage(ctx, domain.Package{
		ID:     packageID,
		Name:   "Paket IT",
		Price:  30000,
		Outlet: outlet,
		Components: []domain.Component{
			{ProductID: kopiID, Quantity: 1},
			{ProductID: rotiID, Quantity: 1},
		},
	}); err != nil {
		t.Fatalf("create package: %v", err)
	}

	catalog, err := s.LoadCatalog(ctx, outlet)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if len(catalog.Products) != 2 || len(catalog.Packages) != 1 || len(catalog.Packages[0].Components) != 2 {
		t.Fatalf("unexpected catalog %+v", catalog)
	}

	sale := domain.Sale{
		Outlet:          outlet,
		TerminalID:      "T-IT",
		IdempotencyKey:  idempotencyKey,
		PaymentMethod:   "cash",
		Subtotal:        30000,
		Total:           30000,
		CashReceived:    30000,
		CashierUsername: "cashier",
		Lines:           []domain.SaleLine{{Kind: domain.KindPackage, ItemID: packageID, Name: "Paket IT", Qty: 1, UnitPrice: 30000, LineTotal: 30000}},
		Reductions: []domain.StockReduction{
			{Kind: domain.KindProduct, ID: kopiID, Qty: 1},
			{Kind: domain.KindProduct, ID: rotiID, Qty: 1},
		},
	}

	// 5 roti requested against a floored 4 must fail without side effects.
	tooMany := sale
	tooMany.IdempotencyKey = idempotencyKey + "-too-many"
	tooMany.Reductions = []domain.StockReduction{
		{Kind: domain.KindProduct, ID: kopiID, Qty: 5},
		{Kind: domain.KindProduct, ID: rotiID, Qty: 5},
	}
	if _, err := s.CommitSale(ctx, tooMany); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	committed, err := s.CommitSale(ctx, sale)
	if err != nil {
		t.Fatalf("commit sale: %v", err)
	}
	if _, err := s.CommitSale(ctx, sale); !errors.Is(err, store.ErrDuplicateSale) {
		t.Fatalf("expected duplicate sale, got %v", err)
	}

	found, err := s.FindSaleByIdempotency(ctx, idempotencyKey)
	if err != nil {
		t.Fatalf("find sale: %v", err)
	}
	if found.ID != committed.ID || len(found.Lines) != 1 || len(found.Reductions) != 2 {
		t.Fatalf("unexpected stored sale %+v", found)
	}

	var kopi, roti float64
	if err := s.db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, kopiID).Scan(&kopi); err != nil {
		t.Fatalf("query kopi: %v", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, rotiID).Scan(&roti); err != nil {
		t.Fatalf("query roti: %v", err)
	}
	if kopi != 9 || roti != 3.5 {
		t.Fatalf("expected kopi 9 and roti 3.5, got %v and %v", kopi, roti)
	}

	deleted := true
	summary, err := s.UpdateItem(ctx, domain.KindProduct, rotiID, domain.ItemUpdate{Deleted: &deleted})
	if err != nil || !summary.Deleted || summary.Name != "Roti IT" {
		t.Fatalf("soft delete roti: %+v (%v)", summary, err)
	}
	catalog, err = s.LoadCatalog(ctx, outlet)
	if err != nil {
		t.Fatalf("reload catalog: %v", err)
	}
	for _, p := range catalog.Products {
		if p.ID == rotiID && !p.Deleted {
			t.Fatalf("expected roti to be flagged deleted, got %+v", p)
		}
	}
	if _, err := s.UpdateItem(ctx, domain.KindPackage, packageID+"-missing", domain.ItemUpdate{Deleted: &deleted}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected missing package, got %v", err)
	}
}

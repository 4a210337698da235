package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"etalase/backend/internal/domain"
)

func heldOrder(id string, outlet domain.OutletScope, terminal string, at time.Time) domain.HeldOrder {
	return domain.HeldOrder{
		ID:         id,
		Outlet:     outlet,
		TerminalID: terminal,
		Lines:      []domain.CartLine{{Kind: domain.KindProduct, ID: "PRD-KOPI", Qty: 1}},
		HeldAt:     at,
	}
}

func TestMemoryHeldOrderStoreListsByScopeAndTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryHeldOrderStore()
	base := time.Date(2026, time.October, 20, 9, 0, 0, 0, time.UTC)
	outlet := domain.ScopeFromString("outlet-01")

	for _, order := range []domain.HeldOrder{
		heldOrder("hold-1", domain.GlobalScope(), "T1", base),
		heldOrder("hold-2", domain.GlobalScope(), "T2", base.Add(time.Minute)),
		heldOrder("hold-3", outlet, "T1", base),
	} {
		if err := store.Save(ctx, order, time.Hour); err != nil {
			t.Fatalf("save %s: %v", order.ID, err)
		}
	}

	global, err := store.List(ctx, domain.GlobalScope(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(global) != 2 || global[0].ID != "hold-2" {
		t.Fatalf("expected newest global order first, got %+v", global)
	}

	t1, _ := store.List(ctx, domain.GlobalScope(), "T1")
	if len(t1) != 1 || t1[0].ID != "hold-1" {
		t.Fatalf("expected T1 order only, got %+v", t1)
	}

	scoped, _ := store.List(ctx, outlet, "")
	if len(scoped) != 1 || scoped[0].ID != "hold-3" {
		t.Fatalf("expected outlet order only, got %+v", scoped)
	}
}

func TestMemoryHeldOrderStoreTakeIsOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryHeldOrderStore()
	if err := store.Save(ctx, heldOrder("hold-1", domain.GlobalScope(), "T1", time.Now()), 0); err != nil {
		t.Fatalf("save: %v", err)
	}

	order, err := store.Take(ctx, "hold-1")
	if err != nil || order.ID != "hold-1" {
		t.Fatalf("expected first take to succeed, got %+v %v", order, err)
	}
	if _, err := store.Take(ctx, "hold-1"); !errors.Is(err, ErrHeldOrderNotFound) {
		t.Fatalf("expected second take to miss, got %v", err)
	}
	if err := store.Delete(ctx, "hold-1"); !errors.Is(err, ErrHeldOrderNotFound) {
		t.Fatalf("expected delete of taken order to miss, got %v", err)
	}
}

func TestMemoryHeldOrderStoreExpires(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryHeldOrderStore()
	now := time.Date(2026, time.October, 20, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	if err := store.Save(ctx, heldOrder("hold-1", domain.GlobalScope(), "T1", now), 30*time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	now = now.Add(31 * time.Minute)

	orders, _ := store.List(ctx, domain.GlobalScope(), "")
	if len(orders) != 0 {
		t.Fatalf("expected expired order to be gone, got %+v", orders)
	}
	if _, err := store.Take(ctx, "hold-1"); !errors.Is(err, ErrHeldOrderNotFound) {
		t.Fatalf("expected expired order to miss, got %v", err)
	}
}

func TestMemoryHeldOrderStoreCopiesLines(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryHeldOrderStore()
	order := heldOrder("hold-1", domain.GlobalScope(), "T1", time.Now())
	if err := store.Save(ctx, order, 0); err != nil {
		t.Fatalf("save: %v", err)
	}
	order.Lines[0].Qty = 99

	stored, _ := store.Take(ctx, "hold-1")
	if stored.Lines[0].Qty != 1 {
		t.Fatalf("expected stored lines to be isolated from caller, got %d", stored.Lines[0].Qty)
	}
}

func TestMemoryHeldOrderStoreRejectsEmptyOrders(t *testing.T) {
	store := NewMemoryHeldOrderStore()
	if err := store.Save(context.Background(), domain.HeldOrder{ID: "hold-1"}, 0); err == nil {
		t.Fatalf("expected empty order to be rejected")
	}
}

func TestHeldKeys(t *testing.T) {
	if got := heldOrderKey("hold-1"); got != "pos:held:hold-1" {
		t.Fatalf("unexpected order key %s", got)
	}
	if got := heldIndexKey(domain.ScopeFromString("outlet-01")); got != "pos:held:index:outlet:outlet-01" {
		t.Fatalf("unexpected index key %s", got)
	}
	if got := heldIndexKey(domain.GlobalScope()); got != "pos:held:index:global" {
		t.Fatalf("unexpected global index key %s", got)
	}
}

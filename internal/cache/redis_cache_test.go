package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"etalase/backend/internal/domain"
)

func newRedisStore(t *testing.T) (*RedisHeldOrderStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	store := NewRedisHeldOrderStore(server.Addr(), "", 0)
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	return store, server
}

func TestRedisHeldOrderStoreListDropsExpiredIndexEntries(t *testing.T) {
	ctx := context.Background()
	store, server := newRedisStore(t)
	base := time.Date(2026, time.October, 20, 9, 0, 0, 0, time.UTC)

	if err := store.Save(ctx, heldOrder("hold-1", domain.GlobalScope(), "T1", base), time.Minute); err != nil {
		t.Fatalf("save hold-1: %v", err)
	}
	if err := store.Save(ctx, heldOrder("hold-2", domain.GlobalScope(), "T2", base.Add(time.Minute)), time.Hour); err != nil {
		t.Fatalf("save hold-2: %v", err)
	}
	if err := store.Save(ctx, heldOrder("hold-3", domain.GlobalScope(), "T1", base.Add(2*time.Minute)), time.Hour); err != nil {
		t.Fatalf("save hold-3: %v", err)
	}

	server.FastForward(2 * time.Minute)

	orders, err := store.List(ctx, domain.GlobalScope(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != "hold-3" || orders[1].ID != "hold-2" {
		t.Fatalf("expected hold-3 and hold-2 newest first, got %+v", orders)
	}

	members, err := server.Members(heldIndexKey(domain.GlobalScope()))
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected expired id to leave the index, got %v", members)
	}

	byTerminal, err := store.List(ctx, domain.GlobalScope(), "T1")
	if err != nil {
		t.Fatalf("list by terminal: %v", err)
	}
	if len(byTerminal) != 1 || byTerminal[0].ID != "hold-3" {
		t.Fatalf("expected only hold-3 for T1, got %+v", byTerminal)
	}

	outlet, err := store.List(ctx, domain.ScopeFromString("outlet-01"), "")
	if err != nil {
		t.Fatalf("list outlet: %v", err)
	}
	if len(outlet) != 0 {
		t.Fatalf("expected no outlet orders, got %+v", outlet)
	}
}

func TestRedisHeldOrderStoreTakeIsOnce(t *testing.T) {
	ctx := context.Background()
	store, server := newRedisStore(t)
	outlet := domain.ScopeFromString("outlet-01")

	if err := store.Save(ctx, heldOrder("hold-1", outlet, "T1", time.Now().UTC()), time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	order, err := store.Take(ctx, "hold-1")
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if order.ID != "hold-1" || order.Outlet != outlet || len(order.Lines) != 1 {
		t.Fatalf("unexpected order %+v", order)
	}
	if server.Exists(heldOrderKey("hold-1")) {
		t.Fatalf("expected take to remove the order key")
	}
	if members, _ := server.Members(heldIndexKey(outlet)); len(members) != 0 {
		t.Fatalf("expected take to clear the index, got %v", members)
	}

	if _, err := store.Take(ctx, "hold-1"); !errors.Is(err, ErrHeldOrderNotFound) {
		t.Fatalf("expected second take to miss, got %v", err)
	}
	if err := store.Delete(ctx, "hold-1"); !errors.Is(err, ErrHeldOrderNotFound) {
		t.Fatalf("expected delete of a taken order to miss, got %v", err)
	}
}

func TestRedisHeldOrderStoreRejectsEmptyOrders(t *testing.T) {
	store, _ := newRedisStore(t)
	if err := store.Save(context.Background(), domain.HeldOrder{ID: "hold-1"}, time.Hour); err == nil {
		t.Fatalf("expected order without lines to be rejected")
	}
}

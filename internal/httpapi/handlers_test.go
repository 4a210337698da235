package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"etalase/backend/internal/cache"
	"etalase/backend/internal/domain"
	"etalase/backend/internal/events"
	"etalase/backend/internal/service"
	"etalase/backend/internal/store"
	"etalase/backend/internal/store/memory"
)

const (
	testSecret          = "test-secret-key-with-32-characters!!"
	testAdminPassword   = "admin-test-pass"
	testCashierPassword = "cashier-test-pass"
)

// newTestAPI wires the real service, auth manager and seeded memory store so
// handler tests exercise the full request path. The clock is pinned to a
// Tuesday morning in WIB.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", testAdminPassword)
	t.Setenv("SEED_CASHIER_PASSWORD", testCashierPassword)

	repo := memory.NewSeeded(zap.NewNop())
	at := time.Date(2026, time.October, 20, 1, 0, 0, 0, time.UTC)
	svc := service.New(repo, cache.NewMemoryHeldOrderStore(), events.NoopPublisher{}, zap.NewNop(), time.FixedZone("WIB", 7*60*60), time.Hour).
		WithClock(func() time.Time { return at })
	auth, err := NewAuthManager(context.Background(), testSecret, time.Hour, repo)
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}
	return New(svc, auth, zap.NewNop(), "*")
}

func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()
	payload, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d (%s)", username, rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return resp.AccessToken
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestCatalogRequiresAuth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/catalog", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/catalog", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", rec.Code)
	}
}

func TestCatalogForOutlet(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "cashier", testCashierPassword)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/catalog?outlet=outlet-01", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var resp domain.CatalogResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("expected outlet product and package, got %+v", resp.Items)
	}
	for _, item := range resp.Items {
		if item.ID == "PKG-DUO-O1" && item.Stock != 6 {
			t.Fatalf("expected duo stock 6, got %d", item.Stock)
		}
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/catalog?outlet=factory", token, nil)
	if !strings.Contains(rec.Body.String(), `"outlet_id":null`) {
		t.Fatalf("expected factory marker to mean global scope, got %s", rec.Body.String())
	}
}

func TestDiagnosticsIsAdminOnly(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashier := login(t, handler, "cashier", testCashierPassword)
	admin := login(t, handler, "admin", testAdminPassword)

	if rec := doJSON(t, handler, http.MethodGet, "/api/v1/catalog/diagnostics", cashier, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}
	if rec := doJSON(t, handler, http.MethodGet, "/api/v1/catalog/diagnostics", admin, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rec.Code)
	}
}

func TestCheckoutFlow(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "cashier", testCashierPassword)

	body := domain.CheckoutRequest{
		TerminalID:    "T1",
		PaymentMethod: "cash",
		CashReceived:  50000,
		Lines:         []domain.CartLine{{Kind: domain.KindPackage, ID: "PKG-SARAPAN", Qty: 2}},
	}
	payload, _ := json.Marshal(body)
	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", "idem-http-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := post()
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", first.Code, first.Body.String())
	}
	var resp domain.CheckoutResponse
	if err := json.NewDecoder(first.Body).Decode(&resp); err != nil {
		t.Fatalf("decode checkout: %v", err)
	}
	if resp.Total != 48000 || resp.Change != 2000 {
		t.Fatalf("unexpected checkout %+v", resp)
	}

	second := post()
	if second.Code != http.StatusOK || !strings.Contains(second.Body.String(), `"duplicate":true`) {
		t.Fatalf("expected duplicate replay, got %d (%s)", second.Code, second.Body.String())
	}
}

func TestCheckoutErrorStatuses(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "cashier", testCashierPassword)

	cases := []struct {
		name string
		req  domain.CheckoutRequest
		want int
	}{
		{
			name: "short stock",
			req:  domain.CheckoutRequest{TerminalID: "T1", IdempotencyKey: "k1", CashReceived: 1000000, Lines: []domain.CartLine{{Kind: domain.KindProduct, ID: "PRD-KENTANG", Qty: 8}}},
			want: http.StatusConflict,
		},
		{
			name: "missing item",
			req:  domain.CheckoutRequest{TerminalID: "T1", IdempotencyKey: "k2", CashReceived: 10000, Lines: []domain.CartLine{{Kind: domain.KindProduct, ID: "PRD-LAMA", Qty: 1}}},
			want: http.StatusNotFound,
		},
		{
			name: "short cash",
			req:  domain.CheckoutRequest{TerminalID: "T1", IdempotencyKey: "k3", CashReceived: 100, Lines: []domain.CartLine{{Kind: domain.KindProduct, ID: "PRD-TEH", Qty: 1}}},
			want: http.StatusBadRequest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, handler, http.MethodPost, "/api/v1/checkout", token, tc.req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d (%s)", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHeldOrderRoutes(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "cashier", testCashierPassword)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders/held", token, domain.HoldOrderRequest{
		TerminalID: "T1",
		Lines:      []domain.CartLine{{Kind: domain.KindProduct, ID: "PRD-KOPI", Qty: 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var held domain.HeldOrderResponse
	if err := json.NewDecoder(rec.Body).Decode(&held); err != nil {
		t.Fatalf("decode held: %v", err)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/orders/held?terminal_id=T1", token, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), held.HeldOrder.ID) {
		t.Fatalf("expected held order in list, got %d (%s)", rec.Code, rec.Body.String())
	}

	resumePath := fmt.Sprintf("/api/v1/orders/held/%s/resume", held.HeldOrder.ID)
	rec = doJSON(t, handler, http.MethodPost, resumePath, token, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"stale":false`) {
		t.Fatalf("expected fresh resume, got %d (%s)", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodPost, resumePath, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second resume, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/orders/held/hold-missing", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 discarding a missing order, got %d", rec.Code)
	}
}

func TestPromoAdminRoutes(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := login(t, handler, "admin", testAdminPassword)
	cashier := login(t, handler, "cashier", testCashierPassword)
	fifteen := 15.0

	create := domain.PromoCreateRequest{Name: "Happy Hour", Config: domain.PromoConfig{
		Type: domain.PromoPercentage, Value: &fifteen, StartTime: "07:00", EndTime: "09:00",
	}}
	if rec := doJSON(t, handler, http.MethodPost, "/api/v1/promos", cashier, create); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/promos", admin, create)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var promo domain.Promo
	if err := json.NewDecoder(rec.Body).Decode(&promo); err != nil {
		t.Fatalf("decode promo: %v", err)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/promos/assign", admin, domain.PromoAssignRequest{Kind: domain.KindProduct, ID: "PRD-KOPI", PromoID: promo.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected assign to succeed, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPatch, "/api/v1/promos/"+promo.ID, admin, domain.PromoToggleRequest{Enabled: false})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"enabled":false`) {
		t.Fatalf("expected disabled promo, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPatch, "/api/v1/promos/PROMO-NOPE", admin, domain.PromoToggleRequest{Enabled: true})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown promo, got %d", rec.Code)
	}

	bad := domain.PromoCreateRequest{Name: "Broken", Config: domain.PromoConfig{Type: domain.PromoPercentage, Value: &fifteen, StartDate: "2026/10/01"}}
	if rec := doJSON(t, handler, http.MethodPost, "/api/v1/promos", admin, bad); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed date, got %d", rec.Code)
	}
}

func TestStockAdminRoutes(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := login(t, handler, "admin", testAdminPassword)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/stock/adjust", admin, domain.StockAdjustRequest{ProductID: "PRD-KENTANG", Delta: 5, Reason: "restock"})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"new_stock":12`) {
		t.Fatalf("expected stock 12, got %d (%s)", rec.Code, rec.Body.String())
	}

	three := 3.0
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/stock/manual", admin, domain.ManualStockRequest{Kind: domain.KindPackage, ID: "PKG-NGEMIL", Enabled: true, Value: &three})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected manual stock to be set, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/audit-logs?limit=5", admin, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "stock_adjust") {
		t.Fatalf("expected audit entries, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestCatalogAdminRoutes(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := login(t, handler, "admin", testAdminPassword)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", admin, domain.ProductCreateRequest{ID: "PRD-AIR", Name: "Air Mineral", Price: 4000, Stock: 30})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/packages", admin, domain.PackageCreateRequest{ID: "PKG-AIR", Name: "Air Lusinan", Price: 40000, Components: []domain.Component{{ProductID: "PRD-AIR", Quantity: 12}}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/bundles", admin, domain.BundleCreateRequest{ID: "BND-AIR", Name: "Air dan Kopi", Price: 55000, Items: []domain.BundleItem{
		{IsPackage: true, PackageID: "PKG-AIR", Quantity: 1},
		{ProductID: "PRD-KOPI", Quantity: 1},
	}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/packages", admin, domain.PackageCreateRequest{Name: "Hantu", Price: 1000, Components: []domain.Component{{ProductID: "PRD-HANTU", Quantity: 1}}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown component, got %d", rec.Code)
	}
}

func TestItemUpdateRoutes(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := login(t, handler, "admin", testAdminPassword)
	cashier := login(t, handler, "cashier", testCashierPassword)

	if rec := doJSON(t, handler, http.MethodPatch, "/api/v1/products/PRD-KENTANG", cashier, map[string]any{"deleted": true}); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}
	if rec := doJSON(t, handler, http.MethodGet, "/api/v1/products/PRD-KENTANG", admin, nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if rec := doJSON(t, handler, http.MethodPatch, "/api/v1/packages/PKG-NOPE", admin, map[string]any{"price": 1000}); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec := doJSON(t, handler, http.MethodPatch, "/api/v1/products/PRD-KENTANG", admin, map[string]any{"deleted": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var summary domain.ItemSummary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if !summary.Deleted || summary.Kind != domain.KindProduct {
		t.Fatalf("unexpected summary %+v", summary)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/catalog", cashier, nil)
	var catalog domain.CatalogResponse
	if err := json.NewDecoder(rec.Body).Decode(&catalog); err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	for _, item := range catalog.Items {
		if item.ID == "PRD-KENTANG" {
			t.Fatalf("expected deleted product to leave the catalog")
		}
		if item.ID == "PKG-NGEMIL" && item.Stock != 0 {
			t.Fatalf("expected PKG-NGEMIL stock 0, got %d", item.Stock)
		}
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/checkout", cashier, domain.CheckoutRequest{
		TerminalID:     "T1",
		IdempotencyKey: "k-ngemil",
		CashReceived:   50000,
		Lines:          []domain.CartLine{{Kind: domain.KindPackage, ID: "PKG-NGEMIL", Qty: 1}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for package with deleted component, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestCashierManagement(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := login(t, handler, "admin", testAdminPassword)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/users/cashiers", admin, domain.CashierCreateRequest{Username: "Siti", Password: "rahasia-siti"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/users/cashiers", admin, nil)
	if !strings.Contains(rec.Body.String(), `"username":"siti"`) {
		t.Fatalf("expected new cashier in list, got %s", rec.Body.String())
	}

	if token := login(t, handler, "siti", "rahasia-siti"); token == "" {
		t.Fatalf("expected new cashier to log in")
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{err: service.ErrForbidden, want: http.StatusForbidden},
		{err: fmt.Errorf("%w: bad", store.ErrInvalidRequest), want: http.StatusBadRequest},
		{err: store.ErrNotFound, want: http.StatusNotFound},
		{err: cache.ErrHeldOrderNotFound, want: http.StatusNotFound},
		{err: store.ErrInsufficientStock, want: http.StatusConflict},
		{err: store.ErrDuplicateSale, want: http.StatusConflict},
		{err: fmt.Errorf("connection reset"), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}

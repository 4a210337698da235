package memory

import (
	"context"
	"math"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"etalase/backend/internal/domain"
	"etalase/backend/internal/inventory"
	"etalase/backend/internal/store"
	"etalase/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	packages        map[string]domain.Package
	bundles         map[string]domain.Bundle
	promosByID      map[string]domain.Promo
	salesByID       map[string]domain.Sale
	salesByIdem     map[string]string
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		packages:        make(map[string]domain.Package),
		bundles:         make(map[string]domain.Bundle),
		promosByID:      make(map[string]domain.Promo),
		salesByID:       make(map[string]domain.Sale),
		salesByIdem:     make(map[string]string),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD.
// If unset, dev defaults are used with a warning. The postgres store never
// uses these.
func seedUsers(logger *zap.Logger) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.Warn("memory store is using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func value(v float64) *float64 {
	return &v
}

func amount(v int64) *int64 {
	return &v
}

// NewSeeded returns a store with a small cafe catalog: loose products,
// packages derived from them, a manual-stock hamper and a family bundle
// that nests a package.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()
	s.usersByUsername = seedUsers(logger)

	outlet := domain.ScopeFromString("outlet-01")
	products := []domain.Product{
		{ID: "PRD-KOPI", Name: "Kopi Susu Gula Aren", Price: 18000, Stock: 40},
		{ID: "PRD-ROTI", Name: "Roti Bakar Coklat", Price: 15000, Stock: 25},
		{ID: "PRD-TEH", Name: "Es Teh Manis", Price: 6000, Stock: 100, Promo: &domain.PromoConfig{
			Enabled: true,
			Type:    domain.PromoFixed,
			Value:   value(1000),
			Days:    []string{"Saturday", "Sunday"},
		}},
		{ID: "PRD-KENTANG", Name: "Kentang Goreng", Price: 14000, Stock: 7},
		{ID: "PRD-LAMA", Name: "Wedang Jahe", Price: 9000, Stock: 50, Deleted: true},
		{ID: "PRD-KOPI-O1", Name: "Kopi Tubruk", Price: 12000, Stock: 12, Outlet: outlet},
	}
	packages := []domain.Package{
		{ID: "PKG-SARAPAN", Name: "Paket Sarapan", Price: 30000, AppliedPromoID: "PROMO-PAGI", Components: []domain.Component{
			{ProductID: "PRD-KOPI", Quantity: 1},
			{ProductID: "PRD-ROTI", Quantity: 1},
		}},
		{ID: "PKG-NGEMIL", Name: "Paket Ngemil", Price: 30000, Components: []domain.Component{
			{ProductID: "PRD-KENTANG", Quantity: 2},
			{ProductID: "PRD-TEH", Quantity: 1},
		}},
		{ID: "PKG-JAHE", Name: "Paket Jahe Hangat", Price: 14000, Components: []domain.Component{
			{ProductID: "PRD-TEH", Quantity: 1},
			{ProductID: "PRD-LAMA", Quantity: 1},
		}},
		{ID: "PKG-HAMPERS", Name: "Hampers Lebaran", Price: 150000, ManualStockEnabled: true, ManualStock: value(5), Components: []domain.Component{
			{ProductID: "PRD-KOPI", Quantity: 2},
			{ProductID: "PRD-ROTI", Quantity: 2},
		}},
		{ID: "PKG-DUO-O1", Name: "Paket Tubruk Berdua", Price: 22000, Outlet: outlet, Components: []domain.Component{
			{ProductID: "PRD-KOPI-O1", Quantity: 2},
		}},
	}
	bundles := []domain.Bundle{
		{ID: "BND-KELUARGA", Name: "Bundle Keluarga", Price: 75000, AppliedPromoID: "PROMO-GAJIAN", Items: []domain.BundleItem{
			{IsPackage: true, PackageID: "PKG-SARAPAN", Quantity: 2},
			{ProductID: "PRD-TEH", Quantity: 4},
		}},
	}
	seededAt := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	promos := []domain.Promo{
		{ID: "PROMO-PAGI", Name: "Promo Pagi", CreatedAt: seededAt, Config: domain.PromoConfig{
			Enabled:   true,
			Type:      domain.PromoPercentage,
			Value:     value(20),
			StartTime: "06:00",
			EndTime:   "10:00",
		}},
		{ID: "PROMO-GAJIAN", Name: "Promo Gajian", CreatedAt: seededAt.Add(time.Second), Config: domain.PromoConfig{
			Enabled:     true,
			Type:        domain.PromoPercentage,
			Value:       value(10),
			MinPurchase: amount(100000),
		}},
	}

	for _, p := range products {
		s.products[p.ID] = p
	}
	for _, p := range packages {
		s.packages[p.ID] = p
	}
	for _, b := range bundles {
		s.bundles[b.ID] = b
	}
	for _, p := range promos {
		s.promosByID[p.ID] = p
	}
	return s
}

func (s *Store) LoadCatalog(_ context.Context, scope domain.OutletScope) (domain.Catalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	catalog := domain.Catalog{
		Scope:    scope,
		Products: make([]domain.Product, 0, len(s.products)),
		Packages: make([]domain.Package, 0, len(s.packages)),
		Bundles:  make([]domain.Bundle, 0, len(s.bundles)),
		Promos:   make([]domain.Promo, 0, len(s.promosByID)),
	}
	for _, p := range s.products {
		if p.Outlet == scope {
			catalog.Products = append(catalog.Products, cloneProduct(p))
		}
	}
	for _, p := range s.packages {
		if p.Outlet == scope {
			catalog.Packages = append(catalog.Packages, clonePackage(p))
		}
	}
	for _, b := range s.bundles {
		if b.Outlet == scope {
			catalog.Bundles = append(catalog.Bundles, cloneBundle(b))
		}
	}
	for _, p := range s.promosByID {
		catalog.Promos = append(catalog.Promos, clonePromo(p))
	}
	return catalog, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" || product.Price < 0 || product.Stock < 0 || math.IsNaN(product.Stock) {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidRequest
	}
	product.Deleted = false
	s.products[product.ID] = cloneProduct(product)
	created := cloneProduct(product)
	return &created, nil
}

func (s *Store) CreatePackage(_ context.Context, pkg domain.Package) (*domain.Package, error) {
	pkg.Name = strings.TrimSpace(pkg.Name)
	if pkg.Name == "" || pkg.Price < 0 || !validManual(pkg.ManualStockEnabled, pkg.ManualStock) {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range pkg.Components {
		if c.Quantity < 1 || !s.liveProductInScope(c.ProductID, pkg.Outlet) {
			return nil, store.ErrInvalidRequest
		}
	}
	if pkg.ID == "" {
		pkg.ID = xid.New("pkg")
	}
	if _, exists := s.packages[pkg.ID]; exists {
		return nil, store.ErrInvalidRequest
	}
	pkg.Deleted = false
	s.packages[pkg.ID] = clonePackage(pkg)
	created := clonePackage(pkg)
	return &created, nil
}

func (s *Store) CreateBundle(_ context.Context, bundle domain.Bundle) (*domain.Bundle, error) {
	bundle.Name = strings.TrimSpace(bundle.Name)
	if bundle.Name == "" || bundle.Price < 0 || !validManual(bundle.ManualStockEnabled, bundle.ManualStock) {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range bundle.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidRequest
		}
		if item.IsPackage {
			pkg, ok := s.packages[item.PackageID]
			if !ok || pkg.Deleted || pkg.Outlet != bundle.Outlet {
				return nil, store.ErrInvalidRequest
			}
			continue
		}
		if !s.liveProductInScope(item.ProductID, bundle.Outlet) {
			return nil, store.ErrInvalidRequest
		}
	}
	if bundle.ID == "" {
		bundle.ID = xid.New("bnd")
	}
	if _, exists := s.bundles[bundle.ID]; exists {
		return nil, store.ErrInvalidRequest
	}
	bundle.Deleted = false
	s.bundles[bundle.ID] = cloneBundle(bundle)
	created := cloneBundle(bundle)
	return &created, nil
}

func (s *Store) UpdateItem(_ context.Context, kind domain.ItemKind, id string, update domain.ItemUpdate) (*domain.ItemSummary, error) {
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return nil, store.ErrInvalidRequest
	}
	if update.Price != nil && *update.Price < 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var summary domain.ItemSummary
	switch kind {
	case domain.KindProduct:
		p, ok := s.products[id]
		if !ok {
			return nil, store.ErrNotFound
		}
		applyItemUpdate(&p.Name, &p.Price, &p.Deleted, update)
		s.products[id] = p
		summary = domain.ItemSummary{Kind: kind, ID: id, Name: p.Name, Price: p.Price, Deleted: p.Deleted}
	case domain.KindPackage:
		p, ok := s.packages[id]
		if !ok {
			return nil, store.ErrNotFound
		}
		applyItemUpdate(&p.Name, &p.Price, &p.Deleted, update)
		s.packages[id] = p
		summary = domain.ItemSummary{Kind: kind, ID: id, Name: p.Name, Price: p.Price, Deleted: p.Deleted}
	case domain.KindBundle:
		b, ok := s.bundles[id]
		if !ok {
			return nil, store.ErrNotFound
		}
		applyItemUpdate(&b.Name, &b.Price, &b.Deleted, update)
		s.bundles[id] = b
		summary = domain.ItemSummary{Kind: kind, ID: id, Name: b.Name, Price: b.Price, Deleted: b.Deleted}
	default:
		return nil, store.ErrInvalidRequest
	}
	return &summary, nil
}

func applyItemUpdate(name *string, price *int64, deleted *bool, update domain.ItemUpdate) {
	if update.Name != nil {
		*name = strings.TrimSpace(*update.Name)
	}
	if update.Price != nil {
		*price = *update.Price
	}
	if update.Deleted != nil {
		*deleted = *update.Deleted
	}
}

func (s *Store) AdjustProductStock(_ context.Context, productID string, delta int64) (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok || product.Deleted {
		return 0, 0, store.ErrNotFound
	}
	previous := product.Stock
	next := previous + float64(delta)
	if next < 0 {
		return 0, 0, store.ErrInsufficientStock
	}
	product.Stock = next
	s.products[productID] = product
	return previous, next, nil
}

func (s *Store) SetManualStock(_ context.Context, kind domain.ItemKind, id string, enabled bool, manual *float64) error {
	if !validManual(enabled, manual) {
		return store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case domain.KindPackage:
		pkg, ok := s.packages[id]
		if !ok || pkg.Deleted {
			return store.ErrNotFound
		}
		pkg.ManualStockEnabled = enabled
		pkg.ManualStock = cloneFloat(manual)
		s.packages[id] = pkg
	case domain.KindBundle:
		bundle, ok := s.bundles[id]
		if !ok || bundle.Deleted {
			return store.ErrNotFound
		}
		bundle.ManualStockEnabled = enabled
		bundle.ManualStock = cloneFloat(manual)
		s.bundles[id] = bundle
	default:
		return store.ErrInvalidRequest
	}
	return nil
}

func (s *Store) CreatePromo(_ context.Context, promo domain.Promo) (*domain.Promo, error) {
	promo.Name = strings.TrimSpace(promo.Name)
	if promo.Name == "" {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if promo.ID == "" {
		promo.ID = xid.New("promo")
	}
	if _, exists := s.promosByID[promo.ID]; exists {
		return nil, store.ErrInvalidRequest
	}
	if promo.CreatedAt.IsZero() {
		promo.CreatedAt = time.Now().UTC()
	}
	s.promosByID[promo.ID] = clonePromo(promo)
	saved := clonePromo(promo)
	return &saved, nil
}

func (s *Store) ListPromos(_ context.Context) ([]domain.Promo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	promos := make([]domain.Promo, 0, len(s.promosByID))
	for _, promo := range s.promosByID {
		promos = append(promos, clonePromo(promo))
	}
	slices.SortFunc(promos, func(a, b domain.Promo) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return promos, nil
}

func (s *Store) SetPromoEnabled(_ context.Context, promoID string, enabled bool) (*domain.Promo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	promo, exists := s.promosByID[promoID]
	if !exists {
		return nil, store.ErrNotFound
	}
	promo.Config.Enabled = enabled
	s.promosByID[promoID] = promo
	updated := clonePromo(promo)
	return &updated, nil
}

func (s *Store) AssignPromo(_ context.Context, kind domain.ItemKind, id string, promoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if promoID != "" {
		if _, exists := s.promosByID[promoID]; !exists {
			return store.ErrNotFound
		}
	}

	switch kind {
	case domain.KindProduct:
		p, ok := s.products[id]
		if !ok || p.Deleted {
			return store.ErrNotFound
		}
		p.AppliedPromoID = promoID
		s.products[id] = p
	case domain.KindPackage:
		p, ok := s.packages[id]
		if !ok || p.Deleted {
			return store.ErrNotFound
		}
		p.AppliedPromoID = promoID
		s.packages[id] = p
	case domain.KindBundle:
		b, ok := s.bundles[id]
		if !ok || b.Deleted {
			return store.ErrNotFound
		}
		b.AppliedPromoID = promoID
		s.bundles[id] = b
	default:
		return store.ErrInvalidRequest
	}
	return nil
}

func (s *Store) CommitSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.IdempotencyKey == "" || len(sale.Lines) == 0 || len(sale.Reductions) == 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByIdem[sale.IdempotencyKey]; exists {
		return nil, store.ErrDuplicateSale
	}

	// Check every counter before touching any so a failed sale changes nothing.
	needed := make(map[domain.StockReduction]int64, len(sale.Reductions))
	for _, r := range sale.Reductions {
		if r.Qty < 1 {
			return nil, store.ErrInvalidRequest
		}
		needed[domain.StockReduction{Kind: r.Kind, ID: r.ID}] += r.Qty
	}
	for key, qty := range needed {
		available, ok := s.counter(key.Kind, key.ID)
		if !ok {
			return nil, store.ErrNotFound
		}
		if qty > available {
			return nil, store.ErrInsufficientStock
		}
	}
	for _, r := range sale.Reductions {
		s.decrement(r.Kind, r.ID, r.Qty)
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusPaid
	}
	s.salesByID[sale.ID] = cloneSale(sale)
	s.salesByIdem[sale.IdempotencyKey] = sale.ID

	saved := cloneSale(sale)
	return &saved, nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.salesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale := cloneSale(s.salesByID[id])
	return &sale, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, len(s.auditLogs))
	copy(result, s.auditLogs)
	slices.SortStableFunc(result, func(a, b domain.AuditLog) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidRequest
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

// counter returns the floored authoritative counter a reduction draws from.
func (s *Store) counter(kind domain.ItemKind, id string) (int64, bool) {
	switch kind {
	case domain.KindProduct:
		p, ok := s.products[id]
		if !ok || p.Deleted {
			return 0, false
		}
		return inventory.FloorStock(p.Stock), true
	case domain.KindPackage:
		p, ok := s.packages[id]
		if !ok || p.Deleted || !inventory.HasManualStock(p.ManualStockEnabled, p.ManualStock) {
			return 0, false
		}
		return inventory.FloorStock(*p.ManualStock), true
	case domain.KindBundle:
		b, ok := s.bundles[id]
		if !ok || b.Deleted || !inventory.HasManualStock(b.ManualStockEnabled, b.ManualStock) {
			return 0, false
		}
		return inventory.FloorStock(*b.ManualStock), true
	}
	return 0, false
}

func (s *Store) decrement(kind domain.ItemKind, id string, qty int64) {
	switch kind {
	case domain.KindProduct:
		p := s.products[id]
		p.Stock -= float64(qty)
		s.products[id] = p
	case domain.KindPackage:
		p := s.packages[id]
		p.ManualStock = value(*p.ManualStock - float64(qty))
		s.packages[id] = p
	case domain.KindBundle:
		b := s.bundles[id]
		b.ManualStock = value(*b.ManualStock - float64(qty))
		s.bundles[id] = b
	}
}

func (s *Store) liveProductInScope(id string, scope domain.OutletScope) bool {
	p, ok := s.products[id]
	return ok && !p.Deleted && p.Outlet == scope
}

func validManual(enabled bool, manual *float64) bool {
	if manual != nil && (*manual < 0 || math.IsNaN(*manual)) {
		return false
	}
	return !enabled || manual != nil
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return value(*v)
}

func clonePromoConfig(src *domain.PromoConfig) *domain.PromoConfig {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Value = cloneFloat(src.Value)
	if src.MinPurchase != nil {
		dup.MinPurchase = amount(*src.MinPurchase)
	}
	dup.Days = slices.Clone(src.Days)
	return &dup
}

func clonePromo(src domain.Promo) domain.Promo {
	dup := src
	dup.Config = *clonePromoConfig(&src.Config)
	return dup
}

func cloneProduct(src domain.Product) domain.Product {
	dup := src
	dup.Promo = clonePromoConfig(src.Promo)
	return dup
}

func clonePackage(src domain.Package) domain.Package {
	dup := src
	dup.Promo = clonePromoConfig(src.Promo)
	dup.ManualStock = cloneFloat(src.ManualStock)
	dup.Components = slices.Clone(src.Components)
	return dup
}

func cloneBundle(src domain.Bundle) domain.Bundle {
	dup := src
	dup.Promo = clonePromoConfig(src.Promo)
	dup.ManualStock = cloneFloat(src.ManualStock)
	dup.Items = slices.Clone(src.Items)
	return dup
}

func cloneSale(src domain.Sale) domain.Sale {
	dup := src
	dup.Lines = slices.Clone(src.Lines)
	dup.Reductions = slices.Clone(src.Reductions)
	return dup
}

package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"etalase/backend/internal/domain"
	"etalase/backend/internal/store"
	"etalase/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates missing tables. It is idempotent and safe to run on every
// start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// LoadCatalog reads the whole scope inside one repeatable-read transaction so
// products, compositions and promos come from the same instant.
func (s *Store) LoadCatalog(ctx context.Context, scope domain.OutletScope) (domain.Catalog, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return domain.Catalog{}, err
	}
	defer func() { _ = tx.Rollback() }()

	outlet := outletParam(scope)
	catalog := domain.Catalog{Scope: scope}

	if catalog.Products, err = loadProducts(ctx, tx, outlet); err != nil {
		return domain.Catalog{}, fmt.Errorf("load products: %w", err)
	}
	if catalog.Packages, err = loadPackages(ctx, tx, outlet); err != nil {
		return domain.Catalog{}, fmt.Errorf("load packages: %w", err)
	}
	if catalog.Bundles, err = loadBundles(ctx, tx, outlet); err != nil {
		return domain.Catalog{}, fmt.Errorf("load bundles: %w", err)
	}
	if catalog.Promos, err = listPromos(ctx, tx); err != nil {
		return domain.Catalog{}, fmt.Errorf("load promos: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Catalog{}, err
	}
	return catalog, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadProducts(ctx context.Context, q queryer, outlet any) ([]domain.Product, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, price, stock, outlet_id, promo, COALESCE(applied_promo_id,''), deleted
		FROM products
		WHERE outlet_scope(outlet_id) IS NOT DISTINCT FROM $1::text
		ORDER BY id
	`, outlet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		var outletID sql.NullString
		var promo []byte
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &outletID, &promo, &p.AppliedPromoID, &p.Deleted); err != nil {
			return nil, err
		}
		p.Outlet = scopeFromColumn(outletID)
		if p.Promo, err = decodePromo(promo); err != nil {
			return nil, fmt.Errorf("product %s promo: %w", p.ID, err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func loadPackages(ctx context.Context, q queryer, outlet any) ([]domain.Package, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, price, outlet_id, promo, COALESCE(applied_promo_id,''),
			manual_stock_enabled, manual_stock, deleted
		FROM packages
		WHERE outlet_scope(outlet_id) IS NOT DISTINCT FROM $1::text
		ORDER BY id
	`, outlet)
	if err != nil {
		return nil, err
	}

	packages := make([]domain.Package, 0, 64)
	index := make(map[string]int)
	for rows.Next() {
		var p domain.Package
		var outletID sql.NullString
		var promo []byte
		var manual sql.NullFloat64
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &outletID, &promo, &p.AppliedPromoID, &p.ManualStockEnabled, &manual, &p.Deleted); err != nil {
			_ = rows.Close()
			return nil, err
		}
		p.Outlet = scopeFromColumn(outletID)
		p.ManualStock = floatFromColumn(manual)
		if p.Promo, err = decodePromo(promo); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("package %s promo: %w", p.ID, err)
		}
		p.Components = []domain.Component{}
		index[p.ID] = len(packages)
		packages = append(packages, p)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	componentRows, err := q.QueryContext(ctx, `
		SELECT c.package_id, c.product_id, c.quantity
		FROM package_components c
		JOIN packages p ON p.id = c.package_id
		WHERE outlet_scope(p.outlet_id) IS NOT DISTINCT FROM $1::text
		ORDER BY c.package_id, c.position
	`, outlet)
	if err != nil {
		return nil, err
	}
	defer componentRows.Close()

	for componentRows.Next() {
		var packageID string
		var c domain.Component
		if err := componentRows.Scan(&packageID, &c.ProductID, &c.Quantity); err != nil {
			return nil, err
		}
		if i, ok := index[packageID]; ok {
			packages[i].Components = append(packages[i].Components, c)
		}
	}
	return packages, componentRows.Err()
}

func loadBundles(ctx context.Context, q queryer, outlet any) ([]domain.Bundle, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, price, outlet_id, promo, COALESCE(applied_promo_id,''),
			manual_stock_enabled, manual_stock, deleted
		FROM bundles
		WHERE outlet_scope(outlet_id) IS NOT DISTINCT FROM $1::text
		ORDER BY id
	`, outlet)
	if err != nil {
		return nil, err
	}

	bundles := make([]domain.Bundle, 0, 32)
	index := make(map[string]int)
	for rows.Next() {
		var b domain.Bundle
		var outletID sql.NullString
		var promo []byte
		var manual sql.NullFloat64
		if err := rows.Scan(&b.ID, &b.Name, &b.Price, &outletID, &promo, &b.AppliedPromoID, &b.ManualStockEnabled, &manual, &b.Deleted); err != nil {
			_ = rows.Close()
			return nil, err
		}
		b.Outlet = scopeFromColumn(outletID)
		b.ManualStock = floatFromColumn(manual)
		if b.Promo, err = decodePromo(promo); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("bundle %s promo: %w", b.ID, err)
		}
		b.Items = []domain.BundleItem{}
		index[b.ID] = len(bundles)
		bundles = append(bundles, b)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	itemRows, err := q.QueryContext(ctx, `
		SELECT i.bundle_id, i.is_package, COALESCE(i.product_id,''), COALESCE(i.package_id,''), i.quantity
		FROM bundle_items i
		JOIN bundles b ON b.id = i.bundle_id
		WHERE outlet_scope(b.outlet_id) IS NOT DISTINCT FROM $1::text
		ORDER BY i.bundle_id, i.position
	`, outlet)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var bundleID string
		var item domain.BundleItem
		if err := itemRows.Scan(&bundleID, &item.IsPackage, &item.ProductID, &item.PackageID, &item.Quantity); err != nil {
			return nil, err
		}
		if i, ok := index[bundleID]; ok {
			bundles[i].Items = append(bundles[i].Items, item)
		}
	}
	return bundles, itemRows.Err()
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" || product.Price < 0 || product.Stock < 0 || math.IsNaN(product.Stock) {
		return nil, store.ErrInvalidRequest
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	promo, err := encodePromo(product.Promo)
	if err != nil {
		return nil, err
	}

	product.Deleted = false
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price, stock, outlet_id, promo, applied_promo_id, deleted, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,false,now(),now())
	`, product.ID, product.Name, product.Price, product.Stock, outletParam(product.Outlet), promo, nullIfEmpty(product.AppliedPromoID))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) CreatePackage(ctx context.Context, pkg domain.Package) (*domain.Package, error) {
	pkg.Name = strings.TrimSpace(pkg.Name)
	if pkg.Name == "" || pkg.Price < 0 || !validManual(pkg.ManualStockEnabled, pkg.ManualStock) {
		return nil, store.ErrInvalidRequest
	}
	productIDs := make([]string, 0, len(pkg.Components))
	for _, c := range pkg.Components {
		if c.Quantity < 1 {
			return nil, store.ErrInvalidRequest
		}
		productIDs = append(productIDs, c.ProductID)
	}
	if pkg.ID == "" {
		pkg.ID = xid.New("pkg")
	}
	promo, err := encodePromo(pkg.Promo)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	outlet := outletParam(pkg.Outlet)
	if err := requireLive(ctx, tx, "products", uniqueIDs(productIDs), outlet); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO packages (
			id, name, price, outlet_id, promo, applied_promo_id,
			manual_stock_enabled, manual_stock, deleted, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,false,now(),now())
	`, pkg.ID, pkg.Name, pkg.Price, outlet, promo, nullIfEmpty(pkg.AppliedPromoID), pkg.ManualStockEnabled, nullFloat(pkg.ManualStock))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}
	for i, c := range pkg.Components {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO package_components (package_id, position, product_id, quantity)
			VALUES ($1,$2,$3,$4)
		`, pkg.ID, i, c.ProductID, c.Quantity); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	pkg.Deleted = false
	created := pkg
	return &created, nil
}

func (s *Store) CreateBundle(ctx context.Context, bundle domain.Bundle) (*domain.Bundle, error) {
	bundle.Name = strings.TrimSpace(bundle.Name)
	if bundle.Name == "" || bundle.Price < 0 || !validManual(bundle.ManualStockEnabled, bundle.ManualStock) {
		return nil, store.ErrInvalidRequest
	}
	productIDs := make([]string, 0, len(bundle.Items))
	packageIDs := make([]string, 0, len(bundle.Items))
	for _, item := range bundle.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidRequest
		}
		if item.IsPackage {
			packageIDs = append(packageIDs, item.PackageID)
		} else {
			productIDs = append(productIDs, item.ProductID)
		}
	}
	if bundle.ID == "" {
		bundle.ID = xid.New("bnd")
	}
	promo, err := encodePromo(bundle.Promo)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	outlet := outletParam(bundle.Outlet)
	if err := requireLive(ctx, tx, "products", uniqueIDs(productIDs), outlet); err != nil {
		return nil, err
	}
	if err := requireLive(ctx, tx, "packages", uniqueIDs(packageIDs), outlet); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bundles (
			id, name, price, outlet_id, promo, applied_promo_id,
			manual_stock_enabled, manual_stock, deleted, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,false,now(),now())
	`, bundle.ID, bundle.Name, bundle.Price, outlet, promo, nullIfEmpty(bundle.AppliedPromoID), bundle.ManualStockEnabled, nullFloat(bundle.ManualStock))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}
	for i, item := range bundle.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bundle_items (bundle_id, position, is_package, product_id, package_id, quantity)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, bundle.ID, i, item.IsPackage, nullIfEmpty(item.ProductID), nullIfEmpty(item.PackageID), item.Quantity); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	bundle.Deleted = false
	created := bundle
	return &created, nil
}

func (s *Store) UpdateItem(ctx context.Context, kind domain.ItemKind, id string, update domain.ItemUpdate) (*domain.ItemSummary, error) {
	table, ok := itemTable(kind)
	if !ok {
		return nil, store.ErrInvalidRequest
	}
	var name any
	if update.Name != nil {
		trimmed := strings.TrimSpace(*update.Name)
		if trimmed == "" {
			return nil, store.ErrInvalidRequest
		}
		name = trimmed
	}
	var price any
	if update.Price != nil {
		if *update.Price < 0 {
			return nil, store.ErrInvalidRequest
		}
		price = *update.Price
	}
	var deleted any
	if update.Deleted != nil {
		deleted = *update.Deleted
	}

	summary := domain.ItemSummary{Kind: kind, ID: id}
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET name = COALESCE($2::text, name),
			price = COALESCE($3::bigint, price),
			deleted = COALESCE($4::boolean, deleted),
			updated_at = now()
		WHERE id = $1
		RETURNING name, price, deleted
	`, table), id, name, price, deleted).Scan(&summary.Name, &summary.Price, &summary.Deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func (s *Store) AdjustProductStock(ctx context.Context, productID string, delta int64) (float64, float64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var next float64
	err = tx.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1 AND deleted = false AND stock + $2 >= 0
		RETURNING stock
	`, productID, delta).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		exists, lookupErr := liveRowExists(ctx, tx, "products", productID)
		if lookupErr != nil {
			return 0, 0, lookupErr
		}
		if !exists {
			return 0, 0, store.ErrNotFound
		}
		return 0, 0, store.ErrInsufficientStock
	}
	if err != nil {
		return 0, 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (kind, item_id, delta, created_at)
		VALUES ($1,$2,$3,now())
	`, string(domain.KindProduct), productID, delta); err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return next - float64(delta), next, nil
}

func (s *Store) SetManualStock(ctx context.Context, kind domain.ItemKind, id string, enabled bool, value *float64) error {
	if !validManual(enabled, value) {
		return store.ErrInvalidRequest
	}
	table, ok := compositeTable(kind)
	if !ok {
		return store.ErrInvalidRequest
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET manual_stock_enabled = $2, manual_stock = $3, updated_at = now()
		WHERE id = $1 AND deleted = false
	`, table), id, enabled, nullFloat(value))
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) CreatePromo(ctx context.Context, promo domain.Promo) (*domain.Promo, error) {
	promo.Name = strings.TrimSpace(promo.Name)
	if promo.Name == "" {
		return nil, store.ErrInvalidRequest
	}
	if promo.ID == "" {
		promo.ID = xid.New("promo")
	}
	if promo.CreatedAt.IsZero() {
		promo.CreatedAt = time.Now().UTC()
	}
	config, err := json.Marshal(promo.Config)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO promos (id, name, config, created_at, updated_at)
		VALUES ($1,$2,$3,$4,now())
	`, promo.ID, promo.Name, string(config), promo.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}
	saved := promo
	return &saved, nil
}

func (s *Store) ListPromos(ctx context.Context) ([]domain.Promo, error) {
	return listPromos(ctx, s.db)
}

func listPromos(ctx context.Context, q queryer) ([]domain.Promo, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, config, created_at
		FROM promos
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	promos := make([]domain.Promo, 0, 16)
	for rows.Next() {
		var promo domain.Promo
		var config []byte
		if err := rows.Scan(&promo.ID, &promo.Name, &config, &promo.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(config, &promo.Config); err != nil {
			return nil, fmt.Errorf("promo %s config: %w", promo.ID, err)
		}
		promo.CreatedAt = promo.CreatedAt.UTC()
		promos = append(promos, promo)
	}
	return promos, rows.Err()
}

func (s *Store) SetPromoEnabled(ctx context.Context, promoID string, enabled bool) (*domain.Promo, error) {
	var promo domain.Promo
	var config []byte
	err := s.db.QueryRowContext(ctx, `
		UPDATE promos
		SET config = jsonb_set(config, '{enabled}', to_jsonb($2::boolean)), updated_at = now()
		WHERE id = $1
		RETURNING id, name, config, created_at
	`, promoID, enabled).Scan(&promo.ID, &promo.Name, &config, &promo.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(config, &promo.Config); err != nil {
		return nil, err
	}
	promo.CreatedAt = promo.CreatedAt.UTC()
	return &promo, nil
}

func (s *Store) AssignPromo(ctx context.Context, kind domain.ItemKind, id string, promoID string) error {
	table, ok := itemTable(kind)
	if !ok {
		return store.ErrInvalidRequest
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if promoID != "" {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM promos WHERE id = $1)`, promoID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return store.ErrNotFound
		}
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET applied_promo_id = $2, updated_at = now()
		WHERE id = $1 AND deleted = false
	`, table), id, nullIfEmpty(promoID))
	if err != nil {
		return err
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

// CommitSale records the sale and applies its reductions in one transaction.
// Each decrement is conditional on the floored counter, so two tills racing
// for the last unit cannot both succeed.
func (s *Store) CommitSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.IdempotencyKey == "" || len(sale.Lines) == 0 || len(sale.Reductions) == 0 {
		return nil, store.ErrInvalidRequest
	}
	reductions, ok := aggregateReductions(sale.Reductions)
	if !ok {
		return nil, store.ErrInvalidRequest
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, outlet_id, terminal_id, idempotency_key, payment_method, payment_reference,
			subtotal, discount, total, cash_received, change_due, status, cashier_username, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, sale.ID, outletParam(sale.Outlet), sale.TerminalID, sale.IdempotencyKey, sale.PaymentMethod,
		nullIfEmpty(sale.PaymentReference), sale.Subtotal, sale.Discount, sale.Total,
		sale.CashReceived, sale.Change, sale.Status, sale.CashierUsername, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateSale
		}
		return nil, err
	}

	for _, r := range reductions {
		if err := decrement(ctx, tx, r); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stock_movements (sale_id, kind, item_id, delta, created_at)
			VALUES ($1,$2,$3,$4,$5)
		`, sale.ID, string(r.Kind), r.ID, -r.Qty, sale.CreatedAt); err != nil {
			return nil, err
		}
	}

	for _, line := range sale.Lines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, kind, item_id, name, qty, unit_price, discount, line_total, promo_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, sale.ID, string(line.Kind), line.ItemID, line.Name, line.Qty, line.UnitPrice, line.Discount, line.LineTotal, nullIfEmpty(line.PromoID)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	sale.Reductions = reductions
	return &sale, nil
}

func decrement(ctx context.Context, tx *sql.Tx, r domain.StockReduction) error {
	var query string
	switch r.Kind {
	case domain.KindProduct:
		query = `
			UPDATE products
			SET stock = stock - $2, updated_at = now()
			WHERE id = $1 AND deleted = false AND floor(stock) >= $2`
	case domain.KindPackage, domain.KindBundle:
		table, _ := compositeTable(r.Kind)
		query = fmt.Sprintf(`
			UPDATE %s
			SET manual_stock = manual_stock - $2, updated_at = now()
			WHERE id = $1 AND deleted = false AND manual_stock_enabled
				AND manual_stock IS NOT NULL AND floor(manual_stock) >= $2`, table)
	default:
		return store.ErrInvalidRequest
	}

	res, err := tx.ExecContext(ctx, query, r.ID, r.Qty)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	table, _ := itemTable(r.Kind)
	exists, err := liveRowExists(ctx, tx, table, r.ID)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrInsufficientStock
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	var sale domain.Sale
	var outletID sql.NullString
	var paymentReference sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, outlet_id, terminal_id, idempotency_key, payment_method, payment_reference,
			subtotal, discount, total, cash_received, change_due, status, cashier_username, created_at
		FROM sales
		WHERE idempotency_key = $1
	`, key).Scan(
		&sale.ID,
		&outletID,
		&sale.TerminalID,
		&sale.IdempotencyKey,
		&sale.PaymentMethod,
		&paymentReference,
		&sale.Subtotal,
		&sale.Discount,
		&sale.Total,
		&sale.CashReceived,
		&sale.Change,
		&sale.Status,
		&sale.CashierUsername,
		&sale.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.Outlet = scopeFromColumn(outletID)
	if paymentReference.Valid {
		sale.PaymentReference = paymentReference.String
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT kind, item_id, name, qty, unit_price, discount, line_total, COALESCE(promo_id,'')
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY id ASC
	`, sale.ID)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()

	sale.Lines = make([]domain.SaleLine, 0, 8)
	for lineRows.Next() {
		var line domain.SaleLine
		var kind string
		if err := lineRows.Scan(&kind, &line.ItemID, &line.Name, &line.Qty, &line.UnitPrice, &line.Discount, &line.LineTotal, &line.PromoID); err != nil {
			return nil, err
		}
		line.Kind = domain.ItemKind(kind)
		sale.Lines = append(sale.Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	movementRows, err := s.db.QueryContext(ctx, `
		SELECT kind, item_id, -delta
		FROM stock_movements
		WHERE sale_id = $1
		ORDER BY id ASC
	`, sale.ID)
	if err != nil {
		return nil, err
	}
	defer movementRows.Close()

	sale.Reductions = make([]domain.StockReduction, 0, 8)
	for movementRows.Next() {
		var r domain.StockReduction
		var kind string
		if err := movementRows.Scan(&kind, &r.ID, &r.Qty); err != nil {
			return nil, err
		}
		r.Kind = domain.ItemKind(kind)
		sale.Reductions = append(sale.Reductions, r)
	}
	if err := movementRows.Err(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidRequest
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func requireLive(ctx context.Context, tx *sql.Tx, table string, ids []string, outlet any) error {
	if len(ids) == 0 {
		return nil
	}
	var found int
	err := tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT count(*)
		FROM %s
		WHERE id = ANY($1) AND deleted = false AND outlet_scope(outlet_id) IS NOT DISTINCT FROM $2::text
	`, table), ids, outlet).Scan(&found)
	if err != nil {
		return err
	}
	if found != len(ids) {
		return store.ErrInvalidRequest
	}
	return nil
}

func liveRowExists(ctx context.Context, tx *sql.Tx, table string, id string) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1 AND deleted = false)`, table), id).Scan(&exists)
	return exists, err
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func aggregateReductions(reductions []domain.StockReduction) ([]domain.StockReduction, bool) {
	totals := make(map[domain.StockReduction]int64, len(reductions))
	for _, r := range reductions {
		if r.Qty < 1 || r.ID == "" {
			return nil, false
		}
		totals[domain.StockReduction{Kind: r.Kind, ID: r.ID}] += r.Qty
	}
	result := make([]domain.StockReduction, 0, len(totals))
	for key, qty := range totals {
		result = append(result, domain.StockReduction{Kind: key.Kind, ID: key.ID, Qty: qty})
	}
	// Fixed lock order keeps concurrent checkouts from deadlocking.
	sort.Slice(result, func(i, j int) bool {
		if result[i].Kind != result[j].Kind {
			return result[i].Kind < result[j].Kind
		}
		return result[i].ID < result[j].ID
	})
	return result, true
}

func itemTable(kind domain.ItemKind) (string, bool) {
	switch kind {
	case domain.KindProduct:
		return "products", true
	case domain.KindPackage:
		return "packages", true
	case domain.KindBundle:
		return "bundles", true
	}
	return "", false
}

func compositeTable(kind domain.ItemKind) (string, bool) {
	if kind == domain.KindProduct {
		return "", false
	}
	return itemTable(kind)
}

func uniqueIDs(ids []string) []string {
	set := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, seen := set[id]; seen {
			continue
		}
		set[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func validManual(enabled bool, value *float64) bool {
	if value != nil && (*value < 0 || math.IsNaN(*value)) {
		return false
	}
	return !enabled || value != nil
}

func encodePromo(cfg *domain.PromoConfig) (any, error) {
	if cfg == nil {
		return nil, nil
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	return string(payload), nil
}

func decodePromo(raw []byte) (*domain.PromoConfig, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var cfg domain.PromoConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func outletParam(scope domain.OutletScope) any {
	if id, ok := scope.OutletID(); ok {
		return id
	}
	return nil
}

// scopeFromColumn routes stored outlet ids through the same parser as API
// input, so legacy "0" or "factory" rows land in the global scope.
func scopeFromColumn(col sql.NullString) domain.OutletScope {
	if !col.Valid {
		return domain.GlobalScope()
	}
	return domain.ScopeFromString(col.String)
}

func floatFromColumn(col sql.NullFloat64) *float64 {
	if !col.Valid {
		return nil
	}
	v := col.Float64
	return &v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullFloat(val *float64) any {
	if val == nil {
		return nil
	}
	return *val
}

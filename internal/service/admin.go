package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"etalase/backend/internal/domain"
	"etalase/backend/internal/store"
)

const (
	promoDateLayout  = "2006-01-02"
	promoClockLayout = "15:04"
)

var weekdayNames = map[string]bool{
	"sunday": true, "monday": true, "tuesday": true, "wednesday": true,
	"thursday": true, "friday": true, "saturday": true,
}

func (s *Service) CreatePromo(ctx context.Context, req domain.PromoCreateRequest) (domain.Promo, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Promo{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Promo{}, fmt.Errorf("%w: promo name required", store.ErrInvalidRequest)
	}
	cfg, err := normalizePromoConfig(req.Config)
	if err != nil {
		return domain.Promo{}, err
	}
	cfg.Enabled = true

	saved, err := s.repo.CreatePromo(ctx, domain.Promo{
		Name:      req.Name,
		Config:    cfg,
		CreatedAt: s.clock().UTC(),
	})
	if err != nil {
		return domain.Promo{}, err
	}

	s.logAudit(ctx, "promo_create", "promo", saved.ID, fmt.Sprintf("type=%s,name=%s", saved.Config.Type, saved.Name))
	return *saved, nil
}

func (s *Service) ListPromos(ctx context.Context) ([]domain.Promo, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListPromos(ctx)
}

func (s *Service) SetPromoEnabled(ctx context.Context, promoID string, enabled bool) (domain.Promo, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Promo{}, err
	}
	promoID = strings.TrimSpace(promoID)
	if promoID == "" {
		return domain.Promo{}, store.ErrInvalidRequest
	}

	updated, err := s.repo.SetPromoEnabled(ctx, promoID, enabled)
	if err != nil {
		return domain.Promo{}, err
	}

	s.logAudit(ctx, "promo_toggle", "promo", promoID, fmt.Sprintf("enabled=%t", enabled))
	return *updated, nil
}

func (s *Service) AssignPromo(ctx context.Context, req domain.PromoAssignRequest) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	req.ID = strings.TrimSpace(req.ID)
	req.PromoID = strings.TrimSpace(req.PromoID)
	if !req.Kind.Valid() || req.ID == "" {
		return store.ErrInvalidRequest
	}

	if err := s.repo.AssignPromo(ctx, req.Kind, req.ID, req.PromoID); err != nil {
		return err
	}

	s.logAudit(ctx, "promo_assign", string(req.Kind), req.ID, fmt.Sprintf("promo=%s", req.PromoID))
	return nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.ID = strings.ToUpper(strings.TrimSpace(req.ID))
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Price < 1 || req.Price > MaxItemPrice || req.Stock < 0 {
		return domain.Product{}, store.ErrInvalidRequest
	}
	embedded, err := normalizeEmbeddedPromo(req.Promo)
	if err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:     req.ID,
		Name:   req.Name,
		Price:  req.Price,
		Stock:  float64(req.Stock),
		Outlet: req.Outlet,
		Promo:  embedded,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%d,stock=%d,outlet=%s", created.Name, created.Price, req.Stock, created.Outlet.Key()))
	return *created, nil
}

func (s *Service) CreatePackage(ctx context.Context, req domain.PackageCreateRequest) (domain.Package, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Package{}, err
	}

	req.ID = strings.ToUpper(strings.TrimSpace(req.ID))
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Price < 1 || req.Price > MaxItemPrice || len(req.Components) == 0 {
		return domain.Package{}, store.ErrInvalidRequest
	}
	if err := validateManualStock(req.ManualStockEnabled, req.ManualStock); err != nil {
		return domain.Package{}, err
	}
	components := make([]domain.Component, 0, len(req.Components))
	for _, c := range req.Components {
		c.ProductID = strings.TrimSpace(c.ProductID)
		if c.ProductID == "" || c.Quantity < 1 {
			return domain.Package{}, fmt.Errorf("%w: package components need a product and a positive quantity", store.ErrInvalidRequest)
		}
		components = append(components, c)
	}
	embedded, err := normalizeEmbeddedPromo(req.Promo)
	if err != nil {
		return domain.Package{}, err
	}

	created, err := s.repo.CreatePackage(ctx, domain.Package{
		ID:                 req.ID,
		Name:               req.Name,
		Price:              req.Price,
		Outlet:             req.Outlet,
		Promo:              embedded,
		ManualStockEnabled: req.ManualStockEnabled,
		ManualStock:        req.ManualStock,
		Components:         components,
	})
	if err != nil {
		return domain.Package{}, err
	}

	s.logAudit(ctx, "package_create", "package", created.ID, fmt.Sprintf("name=%s,price=%d,components=%d,manual=%t", created.Name, created.Price, len(created.Components), created.ManualStockEnabled))
	return *created, nil
}

func (s *Service) CreateBundle(ctx context.Context, req domain.BundleCreateRequest) (domain.Bundle, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Bundle{}, err
	}

	req.ID = strings.ToUpper(strings.TrimSpace(req.ID))
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Price < 1 || req.Price > MaxItemPrice || len(req.Items) == 0 {
		return domain.Bundle{}, store.ErrInvalidRequest
	}
	if err := validateManualStock(req.ManualStockEnabled, req.ManualStock); err != nil {
		return domain.Bundle{}, err
	}
	items := make([]domain.BundleItem, 0, len(req.Items))
	for _, item := range req.Items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.PackageID = strings.TrimSpace(item.PackageID)
		if item.IsPackage {
			item.ProductID = ""
		} else {
			item.PackageID = ""
		}
		if item.Quantity < 1 || item.ProductID+item.PackageID == "" {
			return domain.Bundle{}, fmt.Errorf("%w: bundle items need a product or package and a positive quantity", store.ErrInvalidRequest)
		}
		items = append(items, item)
	}
	embedded, err := normalizeEmbeddedPromo(req.Promo)
	if err != nil {
		return domain.Bundle{}, err
	}

	created, err := s.repo.CreateBundle(ctx, domain.Bundle{
		ID:                 req.ID,
		Name:               req.Name,
		Price:              req.Price,
		Outlet:             req.Outlet,
		Promo:              embedded,
		ManualStockEnabled: req.ManualStockEnabled,
		ManualStock:        req.ManualStock,
		Items:              items,
	})
	if err != nil {
		return domain.Bundle{}, err
	}

	s.logAudit(ctx, "bundle_create", "bundle", created.ID, fmt.Sprintf("name=%s,price=%d,items=%d,manual=%t", created.Name, created.Price, len(created.Items), created.ManualStockEnabled))
	return *created, nil
}

// UpdateItem edits the name or price of a product, package or bundle, or
// soft-deletes it. A deleted product makes every package and bundle built on
// it derive zero stock until it is restored.
func (s *Service) UpdateItem(ctx context.Context, kind domain.ItemKind, id string, req domain.ItemUpdate) (domain.ItemSummary, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.ItemSummary{}, err
	}

	id = strings.TrimSpace(id)
	if !kind.Valid() || id == "" {
		return domain.ItemSummary{}, store.ErrInvalidRequest
	}
	if req.Name == nil && req.Price == nil && req.Deleted == nil {
		return domain.ItemSummary{}, fmt.Errorf("%w: nothing to update", store.ErrInvalidRequest)
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.ItemSummary{}, fmt.Errorf("%w: name cannot be empty", store.ErrInvalidRequest)
		}
		req.Name = &name
	}
	if req.Price != nil && (*req.Price < 1 || *req.Price > MaxItemPrice) {
		return domain.ItemSummary{}, fmt.Errorf("%w: price must be between 1 and %d", store.ErrInvalidRequest, int64(MaxItemPrice))
	}

	updated, err := s.repo.UpdateItem(ctx, kind, id, req)
	if err != nil {
		return domain.ItemSummary{}, err
	}

	s.logAudit(ctx, "item_update", string(kind), id, fmt.Sprintf("name=%s,price=%d,deleted=%t", updated.Name, updated.Price, updated.Deleted))
	return *updated, nil
}

func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustRequest) (domain.StockAdjustResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.StockAdjustResponse{}, err
	}

	req.ProductID = strings.TrimSpace(req.ProductID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.ProductID == "" || req.Delta == 0 {
		return domain.StockAdjustResponse{}, store.ErrInvalidRequest
	}

	previous, next, err := s.repo.AdjustProductStock(ctx, req.ProductID, req.Delta)
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}

	s.logAudit(ctx, "stock_adjust", "product", req.ProductID, fmt.Sprintf("delta=%d,previous=%g,new=%g,reason=%s", req.Delta, previous, next, req.Reason))
	return domain.StockAdjustResponse{ProductID: req.ProductID, PreviousStock: previous, NewStock: next}, nil
}

func (s *Service) SetManualStock(ctx context.Context, req domain.ManualStockRequest) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}

	req.ID = strings.TrimSpace(req.ID)
	if (req.Kind != domain.KindPackage && req.Kind != domain.KindBundle) || req.ID == "" {
		return store.ErrInvalidRequest
	}
	if err := validateManualStock(req.Enabled, req.Value); err != nil {
		return err
	}

	if err := s.repo.SetManualStock(ctx, req.Kind, req.ID, req.Enabled, req.Value); err != nil {
		return err
	}

	value := "unset"
	if req.Value != nil {
		value = fmt.Sprintf("%g", *req.Value)
	}
	s.logAudit(ctx, "manual_stock_set", string(req.Kind), req.ID, fmt.Sprintf("enabled=%t,value=%s", req.Enabled, value))
	return nil
}

func validateManualStock(enabled bool, value *float64) error {
	if value != nil && (math.IsNaN(*value) || math.IsInf(*value, 0) || *value < 0) {
		return fmt.Errorf("%w: manual stock must be a non-negative number", store.ErrInvalidRequest)
	}
	if enabled && value == nil {
		return fmt.Errorf("%w: manual stock enabled without a value", store.ErrInvalidRequest)
	}
	return nil
}

func normalizeEmbeddedPromo(cfg *domain.PromoConfig) (*domain.PromoConfig, error) {
	if cfg == nil {
		return nil, nil
	}
	normalized, err := normalizePromoConfig(*cfg)
	if err != nil {
		return nil, err
	}
	return &normalized, nil
}

// normalizePromoConfig trims the schedule and rejects configs the evaluator
// could never apply.
func normalizePromoConfig(cfg domain.PromoConfig) (domain.PromoConfig, error) {
	cfg.Type = domain.PromoType(strings.ToLower(strings.TrimSpace(string(cfg.Type))))
	switch cfg.Type {
	case domain.PromoFixed, domain.PromoPercentage:
	default:
		return cfg, fmt.Errorf("%w: promo type must be fixed or percentage", store.ErrInvalidRequest)
	}
	if cfg.Value == nil || math.IsNaN(*cfg.Value) || math.IsInf(*cfg.Value, 0) || *cfg.Value <= 0 {
		return cfg, fmt.Errorf("%w: promo value must be positive", store.ErrInvalidRequest)
	}
	if cfg.Type == domain.PromoPercentage && *cfg.Value > 100 {
		return cfg, fmt.Errorf("%w: percentage promo cannot exceed 100", store.ErrInvalidRequest)
	}
	if cfg.MinPurchase != nil && *cfg.MinPurchase < 0 {
		return cfg, fmt.Errorf("%w: minimum purchase cannot be negative", store.ErrInvalidRequest)
	}

	days := make([]string, 0, len(cfg.Days))
	for _, day := range cfg.Days {
		day = strings.TrimSpace(day)
		if !weekdayNames[strings.ToLower(day)] {
			return cfg, fmt.Errorf("%w: unknown weekday %q", store.ErrInvalidRequest, day)
		}
		days = append(days, day)
	}
	cfg.Days = days

	var err error
	if cfg.StartDate, cfg.EndDate, err = normalizeRange(cfg.StartDate, cfg.EndDate, promoDateLayout); err != nil {
		return cfg, err
	}
	if cfg.StartTime, cfg.EndTime, err = normalizeRange(cfg.StartTime, cfg.EndTime, promoClockLayout); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// normalizeRange parses both ends with layout and requires start <= end when
// both are set. Values are rewritten in canonical form.
func normalizeRange(start, end, layout string) (string, string, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	var startAt, endAt time.Time
	var err error
	if start != "" {
		if startAt, err = time.Parse(layout, start); err != nil {
			return "", "", fmt.Errorf("%w: %q does not match %s", store.ErrInvalidRequest, start, layout)
		}
		start = startAt.Format(layout)
	}
	if end != "" {
		if endAt, err = time.Parse(layout, end); err != nil {
			return "", "", fmt.Errorf("%w: %q does not match %s", store.ErrInvalidRequest, end, layout)
		}
		end = endAt.Format(layout)
	}
	if start != "" && end != "" && startAt.After(endAt) {
		return "", "", fmt.Errorf("%w: range starts after it ends (%s > %s)", store.ErrInvalidRequest, start, end)
	}
	return start, end, nil
}

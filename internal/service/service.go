package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"etalase/backend/internal/cache"
	"etalase/backend/internal/catalog"
	"etalase/backend/internal/domain"
	"etalase/backend/internal/events"
	"etalase/backend/internal/promo"
	"etalase/backend/internal/store"
	"etalase/backend/internal/xid"
)

// Cart and price limits keep every line total and cart total well inside
// int64.
const (
	MaxLineQty   = 10_000
	MaxCartLines = 200
	MaxItemPrice = 1_000_000_000_000
)

// ErrForbidden is returned when the actor in the context lacks the role an
// operation needs.
var ErrForbidden = errors.New("admin role required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo      store.Repository
	held      cache.HeldOrderStore
	publisher events.Publisher
	logger    *zap.Logger
	location  *time.Location
	heldTTL   time.Duration
	clock     func() time.Time
}

func New(repo store.Repository, held cache.HeldOrderStore, publisher events.Publisher, logger *zap.Logger, location *time.Location, heldTTL time.Duration) *Service {
	if held == nil {
		held = cache.NewMemoryHeldOrderStore()
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if location == nil {
		location = time.UTC
	}

	return &Service{
		repo:      repo,
		held:      held,
		publisher: publisher,
		logger:    logger,
		location:  location,
		heldTTL:   heldTTL,
		clock:     time.Now,
	}
}

// WithClock replaces the wall clock. Promo windows are evaluated against the
// returned instant converted to the store time zone.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.clock = now
	}
	return s
}

func (s *Service) now() time.Time {
	return s.clock().In(s.location)
}

func (s *Service) snapshot(ctx context.Context, outlet domain.OutletScope) (catalog.Snapshot, error) {
	data, err := s.repo.LoadCatalog(ctx, outlet)
	if err != nil {
		return catalog.Snapshot{}, err
	}
	return catalog.NewSnapshot(data), nil
}

func (s *Service) Catalog(ctx context.Context, outlet domain.OutletScope) (domain.CatalogResponse, error) {
	snap, err := s.snapshot(ctx, outlet)
	if err != nil {
		return domain.CatalogResponse{}, err
	}
	now := s.now()
	return domain.CatalogResponse{
		Outlet:      outlet,
		Items:       snap.View(now),
		GeneratedAt: now.Format(time.RFC3339),
	}, nil
}

func (s *Service) Diagnostics(ctx context.Context, outlet domain.OutletScope) (domain.DiagnosticsResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.DiagnosticsResponse{}, err
	}

	snap, err := s.snapshot(ctx, outlet)
	if err != nil {
		return domain.DiagnosticsResponse{}, err
	}
	return domain.DiagnosticsResponse{
		Outlet:      outlet,
		Issues:      snap.Diagnose(),
		GeneratedAt: s.now().Format(time.RFC3339),
	}, nil
}

func (s *Service) Quote(ctx context.Context, req domain.QuoteRequest) (domain.QuoteResponse, error) {
	lines, err := normalizeLines(req.Lines)
	if err != nil {
		return domain.QuoteResponse{}, err
	}

	snap, err := s.snapshot(ctx, req.Outlet)
	if err != nil {
		return domain.QuoteResponse{}, err
	}
	return quoteCart(snap, lines, s.now()), nil
}

// quoteCart prices lines and reports availability without failing on
// missing items or short stock.
func quoteCart(snap catalog.Snapshot, lines []domain.CartLine, now time.Time) domain.QuoteResponse {
	resp := domain.QuoteResponse{
		Outlet:       snap.Scope,
		Lines:        make([]domain.QuoteLine, 0, len(lines)),
		AllAvailable: true,
		QuotedAt:     now.Format(time.RFC3339),
	}

	for _, line := range lines {
		item, ok := snap.Lookup(line.Kind, line.ID)
		if !ok {
			resp.Lines = append(resp.Lines, domain.QuoteLine{Kind: line.Kind, ID: line.ID, Qty: line.Qty, Missing: true})
			resp.AllAvailable = false
			continue
		}

		priced := priceLine(snap, item, line.Qty, now)
		available := snap.Stock(line.Kind, line.ID)
		quoted := domain.QuoteLine{
			Kind:               line.Kind,
			ID:                 line.ID,
			Name:               item.Name,
			Qty:                line.Qty,
			UnitPrice:          item.Price,
			EffectiveUnitPrice: priced.UnitPrice - priced.UnitDiscount,
			LineDiscount:       priced.Discount,
			LineTotal:          priced.Total,
			PromoID:            priced.PromoID,
			PromoApplied:       priced.Applied,
			Available:          available,
			Sufficient:         line.Qty <= available,
		}
		if !quoted.Sufficient {
			resp.AllAvailable = false
		}
		resp.Lines = append(resp.Lines, quoted)
		resp.Subtotal += item.Price * line.Qty
		resp.Discount += priced.Discount
		resp.Total += priced.Total
	}

	if resp.AllAvailable {
		reductions, ok := snap.Reductions(lines)
		if !ok || len(snap.Shortages(reductions)) > 0 {
			resp.AllAvailable = false
		}
	}
	return resp
}

type pricedLine struct {
	UnitPrice    int64
	UnitDiscount int64
	Discount     int64
	Total        int64
	PromoID      string
	Applied      bool
}

// priceLine applies the item's promo when its window is open and the line
// reaches the promo's minimum purchase at the original unit price.
func priceLine(snap catalog.Snapshot, item catalog.Item, qty int64, now time.Time) pricedLine {
	line := pricedLine{UnitPrice: item.Price, Total: item.Price * qty}

	price, promoID := snap.Price(item, now)
	if !price.HasDiscount {
		return line
	}
	cfg, _ := snap.PromoFor(item)
	if cfg == nil || !promo.MeetsMinimumPurchase(qty, item.Price, cfg.MinPurchase) {
		return line
	}

	line.UnitDiscount = price.DiscountAmount
	line.Discount = price.DiscountAmount * qty
	line.Total = price.Price * qty
	line.PromoID = promoID
	line.Applied = true
	return line
}

func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	req.TerminalID = strings.TrimSpace(req.TerminalID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	req.PaymentReference = strings.TrimSpace(req.PaymentReference)
	if req.PaymentMethod == "" {
		req.PaymentMethod = "cash"
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}
	if req.TerminalID == "" || !isSupportedPaymentMethod(req.PaymentMethod) || req.CashReceived < 0 {
		return domain.CheckoutResponse{}, store.ErrInvalidRequest
	}

	lines, err := normalizeLines(req.Lines)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	if len(lines) == 0 {
		return domain.CheckoutResponse{}, store.ErrInvalidRequest
	}

	if existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); err == nil {
		return toCheckoutResponse(existing, true), nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.CheckoutResponse{}, err
	}

	snap, err := s.snapshot(ctx, req.Outlet)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	now := s.now()

	saleLines := make([]domain.SaleLine, 0, len(lines))
	var subtotal, discount, total int64
	for _, line := range lines {
		item, ok := snap.Lookup(line.Kind, line.ID)
		if !ok {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: %s %s", store.ErrNotFound, line.Kind, line.ID)
		}
		if available := snap.Stock(line.Kind, line.ID); line.Qty > available {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: %s %s needs %d, %d available", store.ErrInsufficientStock, line.Kind, line.ID, line.Qty, available)
		}

		priced := priceLine(snap, item, line.Qty, now)
		saleLines = append(saleLines, domain.SaleLine{
			Kind:      line.Kind,
			ItemID:    line.ID,
			Name:      item.Name,
			Qty:       line.Qty,
			UnitPrice: item.Price,
			Discount:  priced.Discount,
			LineTotal: priced.Total,
			PromoID:   priced.PromoID,
		})
		subtotal += item.Price * line.Qty
		discount += priced.Discount
		total += priced.Total
	}

	reductions, ok := snap.Reductions(lines)
	if !ok {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: cart references a missing component", store.ErrNotFound)
	}
	if short := snap.Shortages(reductions); len(short) > 0 {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: %s %s needs %d across the cart", store.ErrInsufficientStock, short[0].Kind, short[0].ID, short[0].Qty)
	}

	cashReceived := req.CashReceived
	if req.PaymentMethod == "cash" {
		if cashReceived < total {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: cash received %d is below total %d", store.ErrInvalidRequest, cashReceived, total)
		}
	} else {
		if req.PaymentReference == "" {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: payment reference required for %s", store.ErrInvalidRequest, req.PaymentMethod)
		}
		cashReceived = total
	}

	actor, _ := ActorFromContext(ctx)
	sale := domain.Sale{
		ID:               xid.New("sale"),
		Outlet:           req.Outlet,
		TerminalID:       req.TerminalID,
		IdempotencyKey:   req.IdempotencyKey,
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: req.PaymentReference,
		Subtotal:         subtotal,
		Discount:         discount,
		Total:            total,
		CashReceived:     cashReceived,
		Change:           cashReceived - total,
		Status:           domain.SaleStatusPaid,
		CashierUsername:  actor.Username,
		CreatedAt:        now.UTC(),
		Lines:            saleLines,
		Reductions:       reductions,
	}

	created, err := s.repo.CommitSale(ctx, sale)
	if errors.Is(err, store.ErrDuplicateSale) {
		existing, findErr := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey)
		if findErr != nil {
			return domain.CheckoutResponse{}, findErr
		}
		return toCheckoutResponse(existing, true), nil
	}
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	if err := s.publisher.PublishSaleCommitted(ctx, *created); err != nil {
		s.logger.Warn("publish sale event failed", zap.String("sale_id", created.ID), zap.Error(err))
	}
	s.logAudit(ctx, "checkout", "sale", created.ID, fmt.Sprintf("outlet=%s,total=%d,payment=%s,discount=%d,lines=%d", created.Outlet.Key(), created.Total, created.PaymentMethod, created.Discount, len(created.Lines)))

	return toCheckoutResponse(created, false), nil
}

func toCheckoutResponse(sale *domain.Sale, duplicate bool) domain.CheckoutResponse {
	var itemCount int64
	for _, line := range sale.Lines {
		itemCount += line.Qty
	}

	return domain.CheckoutResponse{
		SaleID:        sale.ID,
		Status:        sale.Status,
		Outlet:        sale.Outlet,
		PaymentMethod: sale.PaymentMethod,
		Subtotal:      sale.Subtotal,
		Discount:      sale.Discount,
		Total:         sale.Total,
		CashReceived:  sale.CashReceived,
		Change:        sale.Change,
		ItemCount:     itemCount,
		Lines:         sale.Lines,
		Duplicate:     duplicate,
		CreatedAt:     sale.CreatedAt.Format(time.RFC3339),
	}
}

// normalizeLines merges repeated items and drops non-positive quantities.
// The first occurrence of an item fixes its position in the result. A line
// above MaxLineQty, before or after merging, rejects the cart.
func normalizeLines(lines []domain.CartLine) ([]domain.CartLine, error) {
	type key struct {
		kind domain.ItemKind
		id   string
	}
	index := make(map[key]int, len(lines))
	normalized := make([]domain.CartLine, 0, len(lines))
	for _, line := range lines {
		line.Kind = domain.ItemKind(strings.ToLower(strings.TrimSpace(string(line.Kind))))
		line.ID = strings.TrimSpace(line.ID)
		if !line.Kind.Valid() || line.ID == "" {
			return nil, fmt.Errorf("%w: unknown cart line %q %q", store.ErrInvalidRequest, line.Kind, line.ID)
		}
		if line.Qty < 1 {
			continue
		}
		if line.Qty > MaxLineQty {
			return nil, fmt.Errorf("%w: %s %s quantity exceeds %d", store.ErrInvalidRequest, line.Kind, line.ID, MaxLineQty)
		}
		k := key{kind: line.Kind, id: line.ID}
		if i, ok := index[k]; ok {
			normalized[i].Qty += line.Qty
			if normalized[i].Qty > MaxLineQty {
				return nil, fmt.Errorf("%w: %s %s quantity exceeds %d", store.ErrInvalidRequest, line.Kind, line.ID, MaxLineQty)
			}
			continue
		}
		index[k] = len(normalized)
		normalized = append(normalized, line)
		if len(normalized) > MaxCartLines {
			return nil, fmt.Errorf("%w: cart has more than %d lines", store.ErrInvalidRequest, MaxCartLines)
		}
	}
	return normalized, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.clock().UTC(),
	}); err != nil {
		s.logger.Warn("write audit log failed",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case "cash", "card", "qris", "ewallet", "transfer":
		return true
	default:
		return false
	}
}

package store

import (
	"context"
	"errors"

	"etalase/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrDuplicateSale     = errors.New("duplicate sale")
)

type Repository interface {
	// LoadCatalog returns every product, package and bundle visible in scope
	// (deleted records included, flagged) and all standalone promos.
	LoadCatalog(ctx context.Context, scope domain.OutletScope) (domain.Catalog, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	CreatePackage(ctx context.Context, pkg domain.Package) (*domain.Package, error)
	CreateBundle(ctx context.Context, bundle domain.Bundle) (*domain.Bundle, error)
	// UpdateItem applies a partial edit, including soft delete and restore.
	// Deleted items can be updated so they can be restored.
	UpdateItem(ctx context.Context, kind domain.ItemKind, id string, update domain.ItemUpdate) (*domain.ItemSummary, error)
	AdjustProductStock(ctx context.Context, productID string, delta int64) (previous float64, next float64, err error)
	SetManualStock(ctx context.Context, kind domain.ItemKind, id string, enabled bool, value *float64) error
	CreatePromo(ctx context.Context, promo domain.Promo) (*domain.Promo, error)
	ListPromos(ctx context.Context) ([]domain.Promo, error)
	SetPromoEnabled(ctx context.Context, promoID string, enabled bool) (*domain.Promo, error)
	// AssignPromo points an item at a standalone promo. An empty promoID
	// clears the assignment.
	AssignPromo(ctx context.Context, kind domain.ItemKind, id string, promoID string) error
	// CommitSale applies every reduction of the sale and records it in one
	// step. A reduction larger than the floored counter fails the whole sale
	// with ErrInsufficientStock.
	CommitSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}

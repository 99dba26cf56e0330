package store

import (
	"context"
	"errors"
	"time"

	"solemate/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	// ErrStorageQuota signals that a durable write failed for size reasons.
	// The in-memory snapshot stays authoritative; callers surface the error
	// to the operator instead of treating it as data loss.
	ErrStorageQuota = errors.New("storage quota exceeded")
)

// Repository owns the catalog of stock items and the sales ledger. Stock
// items keep insertion order (it is the display order); the ledger is
// append-mostly, removed from only by refunds.
//
// CommitSale, CommitRefund and ReplaceAll are single logical units: each
// implementation applies the stock update and the ledger change together so
// no caller ever observes a half-applied reconciliation.
type Repository interface {
	ListStocks(ctx context.Context) ([]domain.StockItem, error)
	GetStock(ctx context.Context, id string) (*domain.StockItem, error)
	CreateStock(ctx context.Context, item domain.StockItem) (*domain.StockItem, error)
	ReplaceStock(ctx context.Context, item domain.StockItem) (*domain.StockItem, error)
	DeleteStock(ctx context.Context, id string) error

	ListSales(ctx context.Context) ([]domain.SaleRecord, error)
	GetSale(ctx context.Context, id string) (*domain.SaleRecord, error)
	// CommitSale replaces the stock item and appends the sale records as one
	// unit.
	CommitSale(ctx context.Context, updated domain.StockItem, records []domain.SaleRecord) error
	// CommitRefund removes the sale record and, when updated is non-nil,
	// replaces the stock item as one unit. Removing an unknown sale is not an
	// error; the refund of a ghost record is a no-op at the service layer.
	CommitRefund(ctx context.Context, saleID string, updated *domain.StockItem) error

	// ReplaceAll wholesale-replaces both collections (backup import).
	ReplaceAll(ctx context.Context, stocks []domain.StockItem, sales []domain.SaleRecord) error

	CreateCostChange(ctx context.Context, entry domain.CostChange) error
	ListCostChanges(ctx context.Context, stockID string, limit int) ([]domain.CostChange, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Persister is the on-device persistence collaborator: an opaque byte store
// keyed by name. Save may fail with ErrStorageQuota; Load reports absence
// through its second return rather than an error.
type Persister interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, data []byte) error
}

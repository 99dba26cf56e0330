package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"solemate/backend/internal/backup"
	"solemate/backend/internal/cache"
	"solemate/backend/internal/classify"
	"solemate/backend/internal/domain"
	"solemate/backend/internal/reconcile"
	"solemate/backend/internal/stats"
	"solemate/backend/internal/store"
	"solemate/backend/internal/xid"
)

// ErrOwnerRequired rejects catalog and backup mutations attempted by a
// non-owner actor.
var ErrOwnerRequired = errors.New("owner role required")

const dashboardCacheKey = "dashboard"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo         store.Repository
	cache        cache.DashboardCache
	classifier   classify.Classifier
	loc          *time.Location
	dashboardTTL time.Duration
}

func New(repo store.Repository, dashCache cache.DashboardCache, classifier classify.Classifier, loc *time.Location, dashboardTTL time.Duration) *Service {
	if dashCache == nil {
		dashCache = cache.NoopDashboardCache{}
	}
	if classifier == nil {
		classifier = classify.Noop{}
	}
	if loc == nil {
		loc = time.Local
	}
	if dashboardTTL <= 0 {
		dashboardTTL = 30 * time.Second
	}

	return &Service{
		repo:         repo,
		cache:        dashCache,
		classifier:   classifier,
		loc:          loc,
		dashboardTTL: dashboardTTL,
	}
}

func requireOwner(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleOwner {
		return ErrOwnerRequired
	}
	return nil
}

func (s *Service) ListStocks(ctx context.Context) ([]domain.StockItem, error) {
	return s.repo.ListStocks(ctx)
}

func (s *Service) GetStock(ctx context.Context, id string) (domain.StockItem, error) {
	item, err := s.repo.GetStock(ctx, id)
	if err != nil {
		return domain.StockItem{}, err
	}
	return *item, nil
}

func (s *Service) CreateStock(ctx context.Context, req domain.StockCreateRequest) (domain.StockItem, error) {
	if err := requireOwner(ctx); err != nil {
		return domain.StockItem{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(strings.ToLower(req.Category))
	if req.Name == "" && req.ImageBase64 == "" {
		return domain.StockItem{}, store.ErrInvalidInput
	}
	if req.UnitCost.IsNegative() {
		return domain.StockItem{}, store.ErrInvalidInput
	}
	if len(req.Variants) == 0 {
		return domain.StockItem{}, store.ErrInvalidInput
	}

	variants := make([]domain.StockVariant, 0, len(req.Variants))
	for _, v := range req.Variants {
		if v.Quantity < 0 {
			return domain.StockItem{}, store.ErrInvalidInput
		}
		variants = append(variants, domain.StockVariant{
			ID:       xid.New("var"),
			Size:     strings.TrimSpace(v.Size),
			Color:    strings.TrimSpace(v.Color),
			Quantity: v.Quantity,
		})
	}

	purchaseDate := time.Now().UTC()
	if req.PurchaseDate != "" {
		parsed, err := parseDate(req.PurchaseDate)
		if err != nil {
			return domain.StockItem{}, store.ErrInvalidInput
		}
		purchaseDate = parsed
	}

	item := domain.StockItem{
		ID:           xid.New("stock"),
		Name:         req.Name,
		Category:     req.Category,
		Description:  strings.TrimSpace(req.Description),
		ImageURL:     req.ImageURL,
		PurchaseDate: purchaseDate,
		UnitCost:     req.UnitCost,
		Variants:     variants,
	}
	total := reconcile.SumVariantQuantities(variants)
	item.InitialQuantity = total
	item.CurrentQuantity = total
	item.TotalCost = req.UnitCost.Mul(decimal.NewFromInt(int64(total)))

	s.enrichFromImage(ctx, &item, req.ImageBase64)
	if item.Name == "" {
		return domain.StockItem{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateStock(ctx, item)
	if err != nil {
		return domain.StockItem{}, err
	}

	s.invalidateDashboard(ctx)
	s.logAudit(ctx, "stock_create", "stock", created.ID, fmt.Sprintf("name=%s,initial=%d", created.Name, created.InitialQuantity))
	return *created, nil
}

// enrichFromImage asks the classifier to fill descriptive fields the operator
// left blank. Classification is best effort: failures are logged and the item
// proceeds unlabeled.
func (s *Service) enrichFromImage(ctx context.Context, item *domain.StockItem, imageBase64 string) {
	if imageBase64 == "" {
		return
	}
	if item.Name != "" && item.Category != "" && item.Description != "" {
		return
	}

	classifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	labels, err := s.classifier.Classify(classifyCtx, imageBase64)
	if err != nil {
		logrus.Warnf("[service] image classification failed, keeping manual fields: %v", err)
		return
	}
	if item.Name == "" {
		item.Name = strings.TrimSpace(labels.Name)
	}
	if item.Category == "" {
		item.Category = strings.TrimSpace(strings.ToLower(labels.Category))
	}
	if item.Description == "" {
		item.Description = strings.TrimSpace(labels.Description)
	}
}

// UpdateStock replaces the descriptive fields and variant rows of an item.
// PurchaseDate, InitialQuantity and TotalCost stay frozen; they describe the
// original acquisition, not the current state. Existing sale records are
// never touched, so changing the unit cost shifts future profit figures only.
func (s *Service) UpdateStock(ctx context.Context, id string, req domain.StockUpdateRequest) (domain.StockItem, error) {
	if err := requireOwner(ctx); err != nil {
		return domain.StockItem{}, err
	}

	existing, err := s.repo.GetStock(ctx, id)
	if err != nil {
		return domain.StockItem{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.UnitCost.IsNegative() || len(req.Variants) == 0 {
		return domain.StockItem{}, store.ErrInvalidInput
	}

	variants := make([]domain.StockVariant, 0, len(req.Variants))
	for _, v := range req.Variants {
		if v.Quantity < 0 {
			return domain.StockItem{}, store.ErrInvalidInput
		}
		if v.ID == "" {
			v.ID = xid.New("var")
		}
		v.Size = strings.TrimSpace(v.Size)
		v.Color = strings.TrimSpace(v.Color)
		variants = append(variants, v)
	}

	item := domain.StockItem{
		ID:              existing.ID,
		Name:            req.Name,
		Category:        strings.TrimSpace(strings.ToLower(req.Category)),
		Description:     strings.TrimSpace(req.Description),
		ImageURL:        req.ImageURL,
		PurchaseDate:    existing.PurchaseDate,
		InitialQuantity: existing.InitialQuantity,
		TotalCost:       existing.TotalCost,
		UnitCost:        req.UnitCost,
		Variants:        variants,
		CurrentQuantity: reconcile.SumVariantQuantities(variants),
	}

	updated, err := s.repo.ReplaceStock(ctx, item)
	if err != nil {
		return domain.StockItem{}, err
	}

	if !existing.UnitCost.Equal(req.UnitCost) {
		actor, _ := ActorFromContext(ctx)
		entry := domain.CostChange{
			ID:          xid.New("cost"),
			StockID:     existing.ID,
			OldUnitCost: existing.UnitCost,
			NewUnitCost: req.UnitCost,
			ChangedBy:   actor.Username,
			ChangedAt:   time.Now().UTC(),
		}
		if err := s.repo.CreateCostChange(ctx, entry); err != nil {
			logrus.Warnf("[service] failed to record cost change for %s: %v", existing.ID, err)
		}
	}

	s.invalidateDashboard(ctx)
	s.logAudit(ctx, "stock_update", "stock", updated.ID, fmt.Sprintf("name=%s,current=%d", updated.Name, updated.CurrentQuantity))
	return *updated, nil
}

// DeleteStock removes the item only. Sale records referencing it survive as
// historical facts; the dashboard labels them as sales of a deleted item.
func (s *Service) DeleteStock(ctx context.Context, id string) error {
	if err := requireOwner(ctx); err != nil {
		return err
	}

	if err := s.repo.DeleteStock(ctx, id); err != nil {
		return err
	}

	s.invalidateDashboard(ctx)
	s.logAudit(ctx, "stock_delete", "stock", id, "")
	return nil
}

func (s *Service) ListSales(ctx context.Context) ([]domain.SaleRecord, error) {
	return s.repo.ListSales(ctx)
}

// RecordSale validates and applies a multi-line sale against one stock item.
// The whole request succeeds or fails as a unit; a single overdrawn line
// rejects every line.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	stock, err := s.repo.GetStock(ctx, req.StockID)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	records, err := reconcile.AttemptSale(*stock, req.Lines, time.Now().UTC())
	if err != nil {
		return domain.SaleResponse{}, err
	}
	updated := reconcile.ApplySale(*stock, records)

	if err := s.repo.CommitSale(ctx, updated, records); err != nil {
		return domain.SaleResponse{}, err
	}

	s.invalidateDashboard(ctx)
	s.logAudit(ctx, "sale_record", "sale", records[0].ID, fmt.Sprintf("stock=%s,lines=%d", req.StockID, len(records)))
	return domain.SaleResponse{Records: records, Stock: updated}, nil
}

// RefundSale reverses one sale record: the record leaves the ledger and the
// sold quantity returns to stock. Refunding a sale that no longer exists is a
// no-op, not an error; the caller may be retrying an already-applied refund.
func (s *Service) RefundSale(ctx context.Context, saleID string) (domain.RefundResponse, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.RefundResponse{Refunded: false, SaleID: saleID}, nil
		}
		return domain.RefundResponse{}, err
	}

	stock, err := s.repo.GetStock(ctx, sale.StockID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.RefundResponse{}, err
	}

	restored := reconcile.Refund(*sale, stock)
	if err := s.repo.CommitRefund(ctx, sale.ID, restored); err != nil {
		return domain.RefundResponse{}, err
	}

	s.invalidateDashboard(ctx)
	s.logAudit(ctx, "sale_refund", "sale", sale.ID, fmt.Sprintf("stock=%s,qty=%d", sale.StockID, sale.QuantitySold))
	return domain.RefundResponse{Refunded: true, SaleID: sale.ID, Stock: restored}, nil
}

// Dashboard aggregates the full catalog and ledger. Results are cached for a
// short TTL and invalidated on every mutation, so a cache hit is at worst
// TTL-stale and usually exact.
func (s *Service) Dashboard(ctx context.Context) (domain.Dashboard, error) {
	if cached, found, err := s.cache.Get(ctx, dashboardCacheKey); err != nil {
		logrus.Warnf("[service] dashboard cache read failed: %v", err)
	} else if found {
		return *cached, nil
	}

	stocks, err := s.repo.ListStocks(ctx)
	if err != nil {
		return domain.Dashboard{}, err
	}
	sales, err := s.repo.ListSales(ctx)
	if err != nil {
		return domain.Dashboard{}, err
	}

	dash := stats.Build(stocks, sales, time.Now(), s.loc)
	if err := s.cache.Set(ctx, dashboardCacheKey, &dash, s.dashboardTTL); err != nil {
		logrus.Warnf("[service] dashboard cache write failed: %v", err)
	}
	return dash, nil
}

func (s *Service) invalidateDashboard(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, dashboardCacheKey); err != nil {
		logrus.Warnf("[service] dashboard cache invalidation failed: %v", err)
	}
}

// ExportBackup serializes the full catalog and ledger into a portable
// document and suggests a dated file name for it.
func (s *Service) ExportBackup(ctx context.Context) ([]byte, string, error) {
	stocks, err := s.repo.ListStocks(ctx)
	if err != nil {
		return nil, "", err
	}
	sales, err := s.repo.ListSales(ctx)
	if err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()
	data, err := backup.Export(stocks, sales, now)
	if err != nil {
		return nil, "", err
	}

	s.logAudit(ctx, "backup_export", "backup", "", fmt.Sprintf("stocks=%d,sales=%d", len(stocks), len(sales)))
	return data, backup.FileName(now), nil
}

// ImportResult reports what a backup restore loaded. Warning is set when the
// restore applied but the durable snapshot write hit the storage quota; the
// imported data lives in memory and the operator should free space.
type ImportResult struct {
	Stocks  int    `json:"stocks"`
	Sales   int    `json:"sales"`
	Warning string `json:"warning,omitempty"`
}

// ImportBackup wholesale-replaces the catalog and ledger with the document's
// contents. No merging: the backup wins completely.
func (s *Service) ImportBackup(ctx context.Context, data []byte) (ImportResult, error) {
	if err := requireOwner(ctx); err != nil {
		return ImportResult{}, err
	}

	stocks, sales, err := backup.Import(data)
	if err != nil {
		return ImportResult{}, err
	}

	if err := s.repo.ReplaceAll(ctx, stocks, sales); err != nil {
		return ImportResult{}, err
	}

	result := ImportResult{Stocks: len(stocks), Sales: len(sales)}
	if reporter, ok := s.repo.(interface{ PersistStatus() error }); ok {
		if perr := reporter.PersistStatus(); errors.Is(perr, store.ErrStorageQuota) {
			result.Warning = "imported data exceeds the durable storage quota; it is held in memory only"
		}
	}

	s.invalidateDashboard(ctx)
	s.logAudit(ctx, "backup_import", "backup", "", fmt.Sprintf("stocks=%d,sales=%d", len(stocks), len(sales)))
	return result, nil
}

func (s *Service) ListCostChanges(ctx context.Context, stockID string, limit int) ([]domain.CostChange, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.repo.ListCostChanges(ctx, stockID, limit)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireOwner(ctx); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}

	var from, to time.Time
	if date == "" {
		to = time.Now().In(s.loc)
		from = to.AddDate(0, 0, -7)
	} else {
		day, err := time.ParseInLocation("2006-01-02", date, s.loc)
		if err != nil {
			return nil, store.ErrInvalidInput
		}
		from = day
		to = day.AddDate(0, 0, 1)
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
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
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		logrus.Warnf("[audit] failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", value)
}

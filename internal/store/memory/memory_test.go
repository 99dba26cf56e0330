package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"solemate/backend/internal/domain"
	"solemate/backend/internal/store"
)

func testItem(id string) domain.StockItem {
	return domain.StockItem{
		ID:              id,
		Name:            "Runner Pro 2",
		Category:        "running",
		PurchaseDate:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		InitialQuantity: 10,
		CurrentQuantity: 10,
		UnitCost:        decimal.NewFromInt(150),
		TotalCost:       decimal.NewFromInt(1500),
		Variants: []domain.StockVariant{
			{ID: "var-1", Size: "40", Color: "black", Quantity: 6},
			{ID: "var-2", Size: "42", Color: "white", Quantity: 4},
		},
	}
}

func TestCreateAndGetStock(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateStock(ctx, testItem("stock-1"))
	if err != nil {
		t.Fatalf("CreateStock: %v", err)
	}
	if created.ID != "stock-1" {
		t.Fatalf("created ID = %q", created.ID)
	}

	got, err := s.GetStock(ctx, "stock-1")
	if err != nil {
		t.Fatalf("GetStock: %v", err)
	}
	if got.Name != "Runner Pro 2" || len(got.Variants) != 2 {
		t.Fatalf("unexpected stock: %+v", got)
	}

	if _, err := s.GetStock(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing stock error = %v, want ErrNotFound", err)
	}
	if _, err := s.CreateStock(ctx, testItem("stock-1")); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("duplicate create error = %v, want ErrInvalidInput", err)
	}
}

func TestListStocksPreservesInsertionOrder(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, id := range []string{"stock-c", "stock-a", "stock-b"} {
		item := testItem(id)
		if _, err := s.CreateStock(ctx, item); err != nil {
			t.Fatalf("CreateStock(%s): %v", id, err)
		}
	}

	stocks, err := s.ListStocks(ctx)
	if err != nil {
		t.Fatalf("ListStocks: %v", err)
	}
	want := []string{"stock-c", "stock-a", "stock-b"}
	for i, id := range want {
		if stocks[i].ID != id {
			t.Fatalf("stocks[%d].ID = %q, want %q", i, stocks[i].ID, id)
		}
	}
}

func TestReturnedStockIsACopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.CreateStock(ctx, testItem("stock-1")); err != nil {
		t.Fatalf("CreateStock: %v", err)
	}

	got, _ := s.GetStock(ctx, "stock-1")
	got.Variants[0].Quantity = 999

	again, _ := s.GetStock(ctx, "stock-1")
	if again.Variants[0].Quantity != 6 {
		t.Fatalf("store state mutated through returned copy: %d", again.Variants[0].Quantity)
	}
}

func TestCommitSaleAppliesStockAndLedgerTogether(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.CreateStock(ctx, testItem("stock-1")); err != nil {
		t.Fatalf("CreateStock: %v", err)
	}

	updated := testItem("stock-1")
	updated.Variants[0].Quantity = 4
	updated.CurrentQuantity = 8
	records := []domain.SaleRecord{
		{ID: "sale-1", StockID: "stock-1", QuantitySold: 2, SaleDate: time.Now()},
	}

	if err := s.CommitSale(ctx, updated, records); err != nil {
		t.Fatalf("CommitSale: %v", err)
	}

	got, _ := s.GetStock(ctx, "stock-1")
	if got.CurrentQuantity != 8 || got.Variants[0].Quantity != 4 {
		t.Fatalf("stock not updated: %+v", got)
	}
	sales, _ := s.ListSales(ctx)
	if len(sales) != 1 || sales[0].ID != "sale-1" {
		t.Fatalf("ledger not updated: %+v", sales)
	}

	if err := s.CommitSale(ctx, testItem("ghost"), records); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("CommitSale for missing stock error = %v, want ErrNotFound", err)
	}
}

func TestCommitRefundRemovesSaleAndRestoresStock(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.CreateStock(ctx, testItem("stock-1")); err != nil {
		t.Fatalf("CreateStock: %v", err)
	}
	if err := s.CommitSale(ctx, testItem("stock-1"), []domain.SaleRecord{{ID: "sale-1", StockID: "stock-1"}}); err != nil {
		t.Fatalf("CommitSale: %v", err)
	}

	restored := testItem("stock-1")
	if err := s.CommitRefund(ctx, "sale-1", &restored); err != nil {
		t.Fatalf("CommitRefund: %v", err)
	}
	sales, _ := s.ListSales(ctx)
	if len(sales) != 0 {
		t.Fatalf("sale not removed: %+v", sales)
	}

	// Refunding a sale whose stock item no longer exists only touches the
	// ledger.
	if err := s.CommitRefund(ctx, "sale-gone", nil); err != nil {
		t.Fatalf("ledger-only CommitRefund: %v", err)
	}
}

func TestDeleteStockLeavesSalesDangling(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.CreateStock(ctx, testItem("stock-1")); err != nil {
		t.Fatalf("CreateStock: %v", err)
	}
	if err := s.CommitSale(ctx, testItem("stock-1"), []domain.SaleRecord{{ID: "sale-1", StockID: "stock-1"}}); err != nil {
		t.Fatalf("CommitSale: %v", err)
	}

	if err := s.DeleteStock(ctx, "stock-1"); err != nil {
		t.Fatalf("DeleteStock: %v", err)
	}
	sales, _ := s.ListSales(ctx)
	if len(sales) != 1 {
		t.Fatalf("sales should survive stock deletion, got %d", len(sales))
	}
}

func TestReplaceAll(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	stocks := []domain.StockItem{testItem("stock-new")}
	sales := []domain.SaleRecord{{ID: "sale-new", StockID: "stock-new"}}
	if err := s.ReplaceAll(ctx, stocks, sales); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}

	gotStocks, _ := s.ListStocks(ctx)
	gotSales, _ := s.ListSales(ctx)
	if len(gotStocks) != 1 || gotStocks[0].ID != "stock-new" {
		t.Fatalf("stocks not replaced: %+v", gotStocks)
	}
	if len(gotSales) != 1 || gotSales[0].ID != "sale-new" {
		t.Fatalf("sales not replaced: %+v", gotSales)
	}
}

func TestCostChangeHistoryNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"cost-1", "cost-2", "cost-3"} {
		entry := domain.CostChange{
			ID:        id,
			StockID:   "stock-1",
			ChangedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := s.CreateCostChange(ctx, entry); err != nil {
			t.Fatalf("CreateCostChange: %v", err)
		}
	}

	history, err := s.ListCostChanges(ctx, "stock-1", 2)
	if err != nil {
		t.Fatalf("ListCostChanges: %v", err)
	}
	if len(history) != 2 || history[0].ID != "cost-3" || history[1].ID != "cost-2" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

// quotaPersister rejects every save with the quota sentinel.
type quotaPersister struct{ saves int }

func (q *quotaPersister) Load(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (q *quotaPersister) Save(context.Context, string, []byte) error {
	q.saves++
	return store.ErrStorageQuota
}

func TestQuotaFailureKeepsInMemoryState(t *testing.T) {
	p := &quotaPersister{}
	s := NewPersistent(context.Background(), p)
	ctx := context.Background()

	if _, err := s.CreateStock(ctx, testItem("stock-1")); err != nil {
		t.Fatalf("CreateStock should not fail on persist error: %v", err)
	}
	if p.saves == 0 {
		t.Fatal("persister was never invoked")
	}

	got, err := s.GetStock(ctx, "stock-1")
	if err != nil || got == nil {
		t.Fatalf("in-memory state lost after quota failure: %v", err)
	}
	if !errors.Is(s.PersistStatus(), store.ErrStorageQuota) {
		t.Fatalf("PersistStatus = %v, want ErrStorageQuota", s.PersistStatus())
	}
}

type staticPersister struct{ data []byte }

func (p *staticPersister) Load(context.Context, string) ([]byte, bool, error) {
	return p.data, true, nil
}

func (p *staticPersister) Save(context.Context, string, []byte) error { return nil }

func TestCorruptSnapshotFallsBackToEmpty(t *testing.T) {
	p := &staticPersister{data: []byte("{not json")}
	s := NewPersistent(context.Background(), p)

	stocks, err := s.ListStocks(context.Background())
	if err != nil {
		t.Fatalf("ListStocks: %v", err)
	}
	if len(stocks) != 0 {
		t.Fatalf("expected empty store after corrupt snapshot, got %d items", len(stocks))
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	p, err := NewFilePersister(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewFilePersister: %v", err)
	}

	first := NewPersistent(ctx, p)
	if _, err := first.CreateStock(ctx, testItem("stock-1")); err != nil {
		t.Fatalf("CreateStock: %v", err)
	}
	if err := first.CommitSale(ctx, testItem("stock-1"), []domain.SaleRecord{{ID: "sale-1", StockID: "stock-1"}}); err != nil {
		t.Fatalf("CommitSale: %v", err)
	}

	second := NewPersistent(ctx, p)
	stocks, _ := second.ListStocks(ctx)
	sales, _ := second.ListSales(ctx)
	if len(stocks) != 1 || stocks[0].ID != "stock-1" {
		t.Fatalf("stocks not reloaded: %+v", stocks)
	}
	if len(sales) != 1 || sales[0].ID != "sale-1" {
		t.Fatalf("sales not reloaded: %+v", sales)
	}
	if !stocks[0].UnitCost.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("unit cost lost in round trip: %s", stocks[0].UnitCost)
	}
}

func TestFilePersisterQuota(t *testing.T) {
	p, err := NewFilePersister(t.TempDir(), 8)
	if err != nil {
		t.Fatalf("NewFilePersister: %v", err)
	}

	err = p.Save(context.Background(), "snap", []byte("way past the eight byte cap"))
	if !errors.Is(err, store.ErrStorageQuota) {
		t.Fatalf("oversized save error = %v, want ErrStorageQuota", err)
	}
	if _, found, _ := p.Load(context.Background(), "snap"); found {
		t.Fatal("rejected save left a file behind")
	}
}

func TestUsers(t *testing.T) {
	s := New()
	ctx := context.Background()

	user, err := s.GetUser(ctx, "owner")
	if err != nil {
		t.Fatalf("seeded owner missing: %v", err)
	}
	if user.Role != domain.RoleOwner {
		t.Fatalf("owner role = %q", user.Role)
	}

	err = s.CreateUser(ctx, domain.UserAccount{Username: "Anna", Password: "hash", Role: domain.RoleStaff, Active: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := s.GetUser(ctx, "anna"); err != nil {
		t.Fatalf("usernames should be case-folded: %v", err)
	}
	if err := s.CreateUser(ctx, domain.UserAccount{Username: "anna", Password: "hash"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("duplicate user error = %v", err)
	}
}

package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"solemate/backend/internal/domain"
)

func testStock() domain.StockItem {
	return domain.StockItem{
		ID:              "stock-1",
		Name:            "Runner Pro",
		Category:        "running",
		PurchaseDate:    time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC),
		InitialQuantity: 6,
		CurrentQuantity: 6,
		UnitCost:        decimal.NewFromInt(150),
		TotalCost:       decimal.NewFromInt(900),
		Variants: []domain.StockVariant{
			{ID: "v1", Size: "38", Color: "black", Quantity: 1},
			{ID: "v2", Size: "40", Color: "black", Quantity: 2},
			{ID: "v3", Size: "42", Color: "white", Quantity: 3},
		},
	}
}

func TestAttemptSaleComputesRevenueAndProfit(t *testing.T) {
	stock := testStock()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	records, err := AttemptSale(stock, []domain.SaleLineInput{
		{VariantID: "v1", Quantity: 1, PricePerUnit: decimal.NewFromInt(200)},
	}, now)
	if err != nil {
		t.Fatalf("attempt sale failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	rec := records[0]
	if !rec.TotalRevenue.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected revenue 200, got %s", rec.TotalRevenue)
	}
	if !rec.Profit.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected profit 50, got %s", rec.Profit)
	}
	if rec.Size != "38" || rec.Color != "black" {
		t.Fatalf("expected size/color snapshot from variant, got %s/%s", rec.Size, rec.Color)
	}
	if rec.StockID != "stock-1" || rec.VariantID != "v1" {
		t.Fatalf("unexpected back-references: %s/%s", rec.StockID, rec.VariantID)
	}

	updated := ApplySale(stock, records)
	if updated.Variants[0].Quantity != 0 {
		t.Fatalf("expected variant v1 quantity 0, got %d", updated.Variants[0].Quantity)
	}
	if updated.CurrentQuantity != 5 {
		t.Fatalf("expected current quantity 5, got %d", updated.CurrentQuantity)
	}
	if updated.CurrentQuantity != SumVariantQuantities(updated.Variants) {
		t.Fatalf("current quantity must equal variant sum after sale")
	}
}

func TestAttemptSaleRejectsOverdraw(t *testing.T) {
	stock := testStock()

	_, err := AttemptSale(stock, []domain.SaleLineInput{
		{VariantID: "v1", Quantity: 2, PricePerUnit: decimal.NewFromInt(200)},
	}, time.Now().UTC())
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestAttemptSaleIsAllOrNothing(t *testing.T) {
	stock := testStock()

	// Line 2 overdraws v2; line 1 alone would be fine. The whole batch must
	// be rejected and the snapshot left untouched.
	_, err := AttemptSale(stock, []domain.SaleLineInput{
		{VariantID: "v1", Quantity: 1, PricePerUnit: decimal.NewFromInt(200)},
		{VariantID: "v2", Quantity: 3, PricePerUnit: decimal.NewFromInt(180)},
	}, time.Now().UTC())
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if stock.Variants[0].Quantity != 1 || stock.Variants[1].Quantity != 2 {
		t.Fatalf("stock snapshot mutated by failed sale")
	}
}

func TestAttemptSaleSumsSplitLinesPerVariant(t *testing.T) {
	stock := testStock()

	// Two lines for v2 (1 + 2 = 3) exceed its stock of 2 even though each
	// line alone would pass.
	_, err := AttemptSale(stock, []domain.SaleLineInput{
		{VariantID: "v2", Quantity: 1, PricePerUnit: decimal.NewFromInt(180)},
		{VariantID: "v2", Quantity: 2, PricePerUnit: decimal.NewFromInt(170)},
	}, time.Now().UTC())
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock for summed lines, got %v", err)
	}

	// 1 + 1 fits and emits one record per line, not per variant.
	records, err := AttemptSale(stock, []domain.SaleLineInput{
		{VariantID: "v2", Quantity: 1, PricePerUnit: decimal.NewFromInt(180)},
		{VariantID: "v2", Quantity: 1, PricePerUnit: decimal.NewFromInt(170)},
	}, time.Now().UTC())
	if err != nil {
		t.Fatalf("attempt sale failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected one record per line, got %d", len(records))
	}
}

func TestAttemptSaleDiscardsBlankLines(t *testing.T) {
	stock := testStock()

	records, err := AttemptSale(stock, []domain.SaleLineInput{
		{VariantID: "", Quantity: 1, PricePerUnit: decimal.NewFromInt(200)},
		{VariantID: "v1", Quantity: 0, PricePerUnit: decimal.NewFromInt(200)},
		{VariantID: "v3", Quantity: 1, PricePerUnit: decimal.NewFromInt(210)},
	}, time.Now().UTC())
	if err != nil {
		t.Fatalf("attempt sale failed: %v", err)
	}
	if len(records) != 1 || records[0].VariantID != "v3" {
		t.Fatalf("expected only the v3 line to survive, got %d records", len(records))
	}
}

func TestAttemptSaleEmptyAfterDiscard(t *testing.T) {
	stock := testStock()

	_, err := AttemptSale(stock, []domain.SaleLineInput{
		{VariantID: "", Quantity: 2, PricePerUnit: decimal.NewFromInt(200)},
		{VariantID: "v1", Quantity: -1, PricePerUnit: decimal.NewFromInt(200)},
	}, time.Now().UTC())
	if !errors.Is(err, ErrEmptySale) {
		t.Fatalf("expected ErrEmptySale, got %v", err)
	}
}

func TestAttemptSaleUnknownVariant(t *testing.T) {
	stock := testStock()

	_, err := AttemptSale(stock, []domain.SaleLineInput{
		{VariantID: "ghost", Quantity: 1, PricePerUnit: decimal.NewFromInt(200)},
	}, time.Now().UTC())
	if !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("expected ErrUnknownVariant, got %v", err)
	}
}

func TestApplySaleClampsAtZero(t *testing.T) {
	stock := testStock()

	// ApplySale is a defensive clamp, not a validation path: over-large input
	// must floor at zero rather than go negative.
	updated := ApplySale(stock, []domain.SaleRecord{
		{StockID: "stock-1", VariantID: "v2", QuantitySold: 99},
	})
	if updated.Variants[1].Quantity != 0 {
		t.Fatalf("expected clamped quantity 0, got %d", updated.Variants[1].Quantity)
	}
	if updated.CurrentQuantity != SumVariantQuantities(updated.Variants) {
		t.Fatalf("current quantity must equal variant sum after clamp")
	}
}

func TestApplySaleDoesNotMutateInput(t *testing.T) {
	stock := testStock()

	_ = ApplySale(stock, []domain.SaleRecord{
		{StockID: "stock-1", VariantID: "v3", QuantitySold: 2},
	})
	if stock.Variants[2].Quantity != 3 || stock.CurrentQuantity != 6 {
		t.Fatalf("ApplySale mutated its input snapshot")
	}
}

func TestRefundRestoresVariantAndTotal(t *testing.T) {
	stock := testStock()
	now := time.Now().UTC()

	records, err := AttemptSale(stock, []domain.SaleLineInput{
		{VariantID: "v2", Quantity: 2, PricePerUnit: decimal.NewFromInt(180)},
	}, now)
	if err != nil {
		t.Fatalf("attempt sale failed: %v", err)
	}
	afterSale := ApplySale(stock, records)
	if afterSale.Variants[1].Quantity != 0 || afterSale.CurrentQuantity != 4 {
		t.Fatalf("unexpected state after sale")
	}

	restored := Refund(records[0], &afterSale)
	if restored == nil {
		t.Fatalf("expected updated stock from refund")
	}
	if restored.Variants[1].Quantity != 2 {
		t.Fatalf("expected variant quantity restored to 2, got %d", restored.Variants[1].Quantity)
	}
	if restored.CurrentQuantity != 6 {
		t.Fatalf("expected current quantity restored to 6, got %d", restored.CurrentQuantity)
	}
	if restored.CurrentQuantity != SumVariantQuantities(restored.Variants) {
		t.Fatalf("current quantity must equal variant sum after refund")
	}
}

func TestRefundWithDeletedStockIsLedgerOnly(t *testing.T) {
	sale := domain.SaleRecord{ID: "sale-1", StockID: "gone", VariantID: "v1", QuantitySold: 1}
	if updated := Refund(sale, nil); updated != nil {
		t.Fatalf("expected nil stock update when item was deleted")
	}
}

// A refund whose variant row was deleted by a later edit falls back to
// incrementing CurrentQuantity directly, leaving the item total above its
// variant sum. This is a known deviation from the variant-sum invariant that
// the engine preserves on purpose rather than resolving.
func TestRefundDeletedVariantKnownDeviation(t *testing.T) {
	stock := testStock()
	sale := domain.SaleRecord{ID: "sale-1", StockID: stock.ID, VariantID: "removed-variant", QuantitySold: 2}

	updated := Refund(sale, &stock)
	if updated == nil {
		t.Fatalf("expected updated stock from refund")
	}
	if updated.CurrentQuantity != 8 {
		t.Fatalf("expected current quantity 8, got %d", updated.CurrentQuantity)
	}
	if updated.CurrentQuantity == SumVariantQuantities(updated.Variants) {
		t.Fatalf("expected current quantity to exceed variant sum in degraded refund")
	}
	if len(updated.Variants) != len(stock.Variants) {
		t.Fatalf("degraded refund must not invent variant rows")
	}
}

func TestRefundDoesNotMutateInput(t *testing.T) {
	stock := testStock()
	sale := domain.SaleRecord{ID: "sale-1", StockID: stock.ID, VariantID: "v1", QuantitySold: 3}

	_ = Refund(sale, &stock)
	if stock.Variants[0].Quantity != 1 || stock.CurrentQuantity != 6 {
		t.Fatalf("Refund mutated its input snapshot")
	}
}

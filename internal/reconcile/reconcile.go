// Package reconcile holds the stock/sale reconciliation rules: validating a
// requested sale against current variant stock, producing the paired ledger
// records and stock update, and reversing a sale on refund. Everything here is
// pure: functions take snapshot values and return new values, and committing
// the result is the caller's job.
package reconcile

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"solemate/backend/internal/domain"
	"solemate/backend/internal/xid"
)

var (
	// ErrEmptySale is returned when no valid line items remain after
	// discarding blank and non-positive lines.
	ErrEmptySale = errors.New("sale has no valid line items")
	// ErrUnknownVariant is returned when a requested variant does not exist
	// on the stock item.
	ErrUnknownVariant = errors.New("variant not found on stock item")
	// ErrInsufficientStock is returned when the summed requested quantity for
	// a variant exceeds what is in stock. The whole sale is rejected.
	ErrInsufficientStock = errors.New("insufficient stock for variant")
)

// SumVariantQuantities is the single canonical derivation of a stock item's
// CurrentQuantity. Every structural change to Variants must go back through
// this function so the stored total and the variant rows cannot drift apart.
func SumVariantQuantities(variants []domain.StockVariant) int {
	total := 0
	for _, v := range variants {
		total += v.Quantity
	}
	return total
}

// AttemptSale validates the requested lines against the stock snapshot and, on
// success, emits one SaleRecord per valid line. Lines with a non-positive
// quantity or a blank variant ID are treated as not entered and skipped, not
// rejected. Validation is all-or-nothing: requested quantities are summed per
// variant, and any variant that is unknown or overdrawn fails the whole batch
// with no partial fulfillment.
//
// Each record snapshots the variant's size and color and freezes revenue and
// profit using the stock item's unit cost at this moment, so later edits to
// the item never rewrite history.
func AttemptSale(stock domain.StockItem, lines []domain.SaleLineInput, now time.Time) ([]domain.SaleRecord, error) {
	valid := make([]domain.SaleLineInput, 0, len(lines))
	for _, line := range lines {
		if line.VariantID == "" || line.Quantity <= 0 {
			continue
		}
		valid = append(valid, line)
	}
	if len(valid) == 0 {
		return nil, ErrEmptySale
	}

	requested := make(map[string]int, len(valid))
	for _, line := range valid {
		requested[line.VariantID] += line.Quantity
	}

	variantsByID := make(map[string]domain.StockVariant, len(stock.Variants))
	for _, v := range stock.Variants {
		variantsByID[v.ID] = v
	}

	for variantID, qty := range requested {
		variant, ok := variantsByID[variantID]
		if !ok {
			return nil, ErrUnknownVariant
		}
		if qty > variant.Quantity {
			return nil, ErrInsufficientStock
		}
	}

	records := make([]domain.SaleRecord, 0, len(valid))
	for _, line := range valid {
		variant := variantsByID[line.VariantID]
		qty := decimal.NewFromInt(int64(line.Quantity))
		records = append(records, domain.SaleRecord{
			ID:               xid.New("sale"),
			StockID:          stock.ID,
			VariantID:        variant.ID,
			Size:             variant.Size,
			Color:            variant.Color,
			QuantitySold:     line.Quantity,
			SalePricePerUnit: line.PricePerUnit,
			SaleDate:         now,
			TotalRevenue:     line.PricePerUnit.Mul(qty),
			Profit:           line.PricePerUnit.Sub(stock.UnitCost).Mul(qty),
		})
	}
	return records, nil
}

// ApplySale returns a new StockItem with the records' quantities subtracted
// from their variants. All records must reference this stock item; the caller
// guarantees homogeneity. Quantities are clamped at zero; validation already
// happened in AttemptSale, the clamp only guards against over-large input.
// CurrentQuantity is rederived from the resulting variants.
func ApplySale(stock domain.StockItem, records []domain.SaleRecord) domain.StockItem {
	soldByVariant := make(map[string]int, len(records))
	for _, rec := range records {
		soldByVariant[rec.VariantID] += rec.QuantitySold
	}

	variants := make([]domain.StockVariant, len(stock.Variants))
	copy(variants, stock.Variants)
	for i, v := range variants {
		sold, ok := soldByVariant[v.ID]
		if !ok {
			continue
		}
		v.Quantity -= sold
		if v.Quantity < 0 {
			v.Quantity = 0
		}
		variants[i] = v
	}

	stock.Variants = variants
	stock.CurrentQuantity = SumVariantQuantities(variants)
	return stock
}

// Refund reverses one sale record against the stock item it came from. The
// refund itself is unconditional: removing the record from the ledger is the
// caller's side of the operation and happens regardless of stock state.
//
// When stock is nil (the item was deleted since the sale) no stock mutation
// occurs and Refund returns nil. When the variant still exists its quantity is
// restored and CurrentQuantity is rederived. When the variant was removed by a
// later edit, CurrentQuantity is incremented directly without a backing
// variant row; the resulting item then reports more units than its variants
// sum to. That inconsistency is a deliberate carry-over of the established
// behavior, not an oversight in this function; see DESIGN.md.
func Refund(sale domain.SaleRecord, stock *domain.StockItem) *domain.StockItem {
	if stock == nil {
		return nil
	}

	updated := *stock
	variants := make([]domain.StockVariant, len(stock.Variants))
	copy(variants, stock.Variants)
	updated.Variants = variants

	for i, v := range variants {
		if v.ID == sale.VariantID {
			variants[i].Quantity = v.Quantity + sale.QuantitySold
			updated.CurrentQuantity = SumVariantQuantities(variants)
			return &updated
		}
	}

	updated.CurrentQuantity = stock.CurrentQuantity + sale.QuantitySold
	return &updated
}

// Package backup serializes the full catalog+ledger snapshot to a portable
// JSON document for manual export, and parses such documents back on import.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"solemate/backend/internal/domain"
)

// Version identifies the backup document layout.
const Version = "1.0"

// ErrMalformedBackup is returned when an imported document is missing the
// required shape. Import is deliberately shallow: only the presence of a
// stocks array is checked, matching the tolerance expected of hand-carried
// backup files.
var ErrMalformedBackup = errors.New("malformed backup document")

// Document is the exported snapshot. Field names are part of the portable
// format and must stay stable across versions.
type Document struct {
	Stocks     []domain.StockItem  `json:"stocks"`
	Sales      []domain.SaleRecord `json:"sales"`
	ExportDate string              `json:"exportDate"`
	Version    string              `json:"version"`
}

// Export marshals the snapshot into a backup document.
func Export(stocks []domain.StockItem, sales []domain.SaleRecord, now time.Time) ([]byte, error) {
	if stocks == nil {
		stocks = []domain.StockItem{}
	}
	if sales == nil {
		sales = []domain.SaleRecord{}
	}
	doc := Document{
		Stocks:     stocks,
		Sales:      sales,
		ExportDate: now.UTC().Format(time.RFC3339),
		Version:    Version,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// FileName returns the suggested download name for an export, with the date
// embedded for the operator's benefit.
func FileName(now time.Time) string {
	return fmt.Sprintf("inventory-backup-%s.json", now.Format("2006-01-02"))
}

// Import parses a backup document. Validation is shallow on purpose: the
// document must be a JSON object whose "stocks" field is present and is an
// array. A missing "sales" field yields an empty ledger. Anything else is the
// caller's data to live with; import wholesale-replaces the current state.
func Import(data []byte) ([]domain.StockItem, []domain.SaleRecord, error) {
	var shape map[string]json.RawMessage
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedBackup, err)
	}

	rawStocks, ok := shape["stocks"]
	if !ok {
		return nil, nil, fmt.Errorf("%w: missing stocks", ErrMalformedBackup)
	}
	var stocks []domain.StockItem
	if err := json.Unmarshal(rawStocks, &stocks); err != nil {
		return nil, nil, fmt.Errorf("%w: stocks is not a sequence", ErrMalformedBackup)
	}
	if stocks == nil {
		stocks = []domain.StockItem{}
	}

	sales := []domain.SaleRecord{}
	if rawSales, ok := shape["sales"]; ok {
		if err := json.Unmarshal(rawSales, &sales); err != nil {
			return nil, nil, fmt.Errorf("%w: sales is not a sequence", ErrMalformedBackup)
		}
		if sales == nil {
			sales = []domain.SaleRecord{}
		}
	}

	return stocks, sales, nil
}

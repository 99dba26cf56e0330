// Package stats derives the dashboard figures by folding over full catalog and
// ledger snapshots. It keeps no state and caches nothing; recomputation is
// linear in ledger size, which is fine at single-shop scale.
package stats

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"solemate/backend/internal/domain"
)

const (
	// TrendDays is the trailing window of the daily profit trend, including
	// today.
	TrendDays = 7
	// TopSellers caps the best-seller list.
	TopSellers = 5
)

// Build computes the dashboard from the given snapshots. Day boundaries use
// the calendar date in loc, the operator's local time zone: a sale at 23:59
// local belongs to that local date no matter the UTC offset.
func Build(stocks []domain.StockItem, sales []domain.SaleRecord, now time.Time, loc *time.Location) domain.Dashboard {
	if loc == nil {
		loc = time.Local
	}

	dash := domain.Dashboard{
		TotalInventoryValue: decimal.Zero,
		TotalRevenue:        decimal.Zero,
		TotalProfit:         decimal.Zero,
		GeneratedAt:         now.UTC().Format(time.RFC3339),
	}

	stocksByID := make(map[string]domain.StockItem, len(stocks))
	for _, stock := range stocks {
		stocksByID[stock.ID] = stock
		dash.TotalInventoryCount += stock.CurrentQuantity
		// Valuation at acquisition cost, not sale price.
		dash.TotalInventoryValue = dash.TotalInventoryValue.Add(
			stock.UnitCost.Mul(decimal.NewFromInt(int64(stock.CurrentQuantity))))
	}

	today := localDate(now, loc)
	profitByCategory := make(map[string]decimal.Decimal)
	profitByDay := make(map[string]decimal.Decimal)
	type sellerAgg struct {
		qty     int
		revenue decimal.Decimal
	}
	sellers := make(map[string]sellerAgg)

	for _, sale := range sales {
		dash.TotalRevenue = dash.TotalRevenue.Add(sale.TotalRevenue)
		dash.TotalProfit = dash.TotalProfit.Add(sale.Profit)

		day := localDate(sale.SaleDate, loc)
		if day == today {
			dash.SalesToday++
		}
		profitByDay[day] = dayProfit(profitByDay, day).Add(sale.Profit)

		// Category attribution uses the stock item's CURRENT category, not a
		// sale-time snapshot; editing an item's category retroactively moves
		// its history between buckets.
		category := domain.UncategorizedLabel
		if stock, ok := stocksByID[sale.StockID]; ok && stock.Category != "" {
			category = stock.Category
		}
		if _, ok := profitByCategory[category]; !ok {
			profitByCategory[category] = decimal.Zero
		}
		profitByCategory[category] = profitByCategory[category].Add(sale.Profit)

		agg, ok := sellers[sale.StockID]
		if !ok {
			agg = sellerAgg{revenue: decimal.Zero}
		}
		agg.qty += sale.QuantitySold
		agg.revenue = agg.revenue.Add(sale.TotalRevenue)
		sellers[sale.StockID] = agg
	}

	dash.CategoryProfit = make([]domain.CategoryProfit, 0, len(profitByCategory))
	for category, profit := range profitByCategory {
		dash.CategoryProfit = append(dash.CategoryProfit, domain.CategoryProfit{Category: category, Profit: profit})
	}
	sort.Slice(dash.CategoryProfit, func(i, j int) bool {
		a, b := dash.CategoryProfit[i], dash.CategoryProfit[j]
		if a.Profit.Equal(b.Profit) {
			return a.Category < b.Category
		}
		return a.Profit.GreaterThan(b.Profit)
	})

	// Dense, gap-free window oldest→newest; days without sales carry zero.
	dash.DailyProfit = make([]domain.DailyProfitPoint, 0, TrendDays)
	for i := TrendDays - 1; i >= 0; i-- {
		day := localDate(now.In(loc).AddDate(0, 0, -i), loc)
		profit, ok := profitByDay[day]
		if !ok {
			profit = decimal.Zero
		}
		dash.DailyProfit = append(dash.DailyProfit, domain.DailyProfitPoint{Date: day, Profit: profit})
	}

	dash.BestSellers = make([]domain.BestSeller, 0, len(sellers))
	for stockID, agg := range sellers {
		name := domain.DeletedItemLabel
		if stock, ok := stocksByID[stockID]; ok {
			name = stock.Name
		}
		dash.BestSellers = append(dash.BestSellers, domain.BestSeller{
			StockID:      stockID,
			Name:         name,
			QuantitySold: agg.qty,
			TotalRevenue: agg.revenue,
		})
	}
	sort.Slice(dash.BestSellers, func(i, j int) bool {
		a, b := dash.BestSellers[i], dash.BestSellers[j]
		if a.QuantitySold == b.QuantitySold {
			return a.StockID < b.StockID
		}
		return a.QuantitySold > b.QuantitySold
	})
	if len(dash.BestSellers) > TopSellers {
		dash.BestSellers = dash.BestSellers[:TopSellers]
	}

	return dash
}

func localDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

func dayProfit(m map[string]decimal.Decimal, day string) decimal.Decimal {
	if v, ok := m[day]; ok {
		return v
	}
	return decimal.Zero
}

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"b3-ibov-pipeline/internal/models"
	"b3-ibov-pipeline/internal/services"
)

// printTable writes the table as aligned columns
func printTable(out io.Writer, table *models.ResultTable) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(table.ColumnNames(), "\t"))
	for _, row := range table.Rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = services.FormatCell(cell)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	w.Flush()
}

// quoteStats summarises a quote table
type quoteStats struct {
	TotalVolume decimal.Decimal
	MaxChange   decimal.Decimal
	MinChange   decimal.Decimal
	MeanPrice   decimal.Decimal
}

// computeStats summarises the quote columns; ok is false when the table has none
func computeStats(table *models.ResultTable) (quoteStats, bool) {
	if !table.HasColumn(models.ColumnVolume) || !table.HasColumn(models.ColumnVariacao) || !table.HasColumn(models.ColumnUltimo) {
		return quoteStats{}, false
	}

	var stats quoteStats
	for _, v := range numbers(table.Values(models.ColumnVolume)) {
		stats.TotalVolume = stats.TotalVolume.Add(v)
	}

	changes := numbers(table.Values(models.ColumnVariacao))
	if len(changes) > 0 {
		stats.MaxChange = decimal.Max(changes[0], changes[1:]...)
		stats.MinChange = decimal.Min(changes[0], changes[1:]...)
	}

	if prices := numbers(table.Values(models.ColumnUltimo)); len(prices) > 0 {
		stats.MeanPrice = decimal.Avg(prices[0], prices[1:]...)
	}
	return stats, true
}

// numbers converts numeric and Brazilian-formatted text cells, skipping the rest
func numbers(cells []interface{}) []decimal.Decimal {
	var out []decimal.Decimal
	for _, cell := range cells {
		switch v := cell.(type) {
		case float64:
			out = append(out, decimal.NewFromFloat(v))
		case int64:
			out = append(out, decimal.NewFromInt(v))
		case string:
			if d, ok := services.ParseBrazilianNumber(v); ok {
				out = append(out, d)
			}
		}
	}
	return out
}

func printStats(out io.Writer, stats quoteStats) {
	fmt.Fprintf(out, "Total volume: %s\n", stats.TotalVolume.StringFixed(0))
	fmt.Fprintf(out, "Largest gain: %s%%\n", stats.MaxChange.StringFixed(2))
	fmt.Fprintf(out, "Largest loss: %s%%\n", stats.MinChange.StringFixed(2))
	fmt.Fprintf(out, "Mean price: R$ %s\n", stats.MeanPrice.StringFixed(2))
}

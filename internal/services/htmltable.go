package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"b3-ibov-pipeline/internal/models"
)

// gridSelector matches elements whose class or id suggest tabular/grid data
const gridSelector = `[class*="table"], [class*="grid"], [class*="data"], [class*="list"], ` +
	`[id*="table"], [id*="grid"], [id*="data"]`

// HTMLTable is a table extracted from an HTML page, cells as trimmed text
type HTMLTable struct {
	Headers []string
	Rows    [][]string
}

// ParseHTMLTables extracts every <table> element of the page in document order
func ParseHTMLTables(html string) ([]HTMLTable, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, NewParseError(err)
	}
	return tablesFromDocument(doc), nil
}

func tablesFromDocument(doc *goquery.Document) []HTMLTable {
	var tables []HTMLTable
	doc.Find("table").Each(func(_ int, sel *goquery.Selection) {
		tables = append(tables, parseTable(sel))
	})
	return tables
}

// parseTable reads the rows that belong to this table (not to nested tables).
// The header is the last <thead> row, or a leading row made only of <th> cells.
func parseTable(table *goquery.Selection) HTMLTable {
	var result HTMLTable

	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if !tr.Closest("table").IsSelection(table) {
			return
		}

		cells := cellTexts(tr)
		if len(cells) == 0 {
			return
		}

		inHead := tr.Closest("thead").Length() > 0 && tr.Closest("thead").Closest("table").IsSelection(table)
		onlyHeaderCells := tr.ChildrenFiltered("td").Length() == 0
		if inHead || (result.Headers == nil && len(result.Rows) == 0 && onlyHeaderCells) {
			result.Headers = cells
			return
		}

		result.Rows = append(result.Rows, cells)
	})

	result.normalize()
	return result
}

func cellTexts(tr *goquery.Selection) []string {
	var cells []string
	tr.ChildrenFiltered("td, th").Each(func(_ int, cell *goquery.Selection) {
		cells = append(cells, strings.Join(strings.Fields(cell.Text()), " "))
	})
	return cells
}

// normalize makes every row as wide as the widest row, naming missing
// headers "Unnamed: i" and disambiguating repeated header names.
func (t *HTMLTable) normalize() {
	width := len(t.Headers)
	for _, row := range t.Rows {
		if len(row) > width {
			width = len(row)
		}
	}

	seen := make(map[string]int, width)
	headers := make([]string, width)
	for i := 0; i < width; i++ {
		name := ""
		if i < len(t.Headers) {
			name = t.Headers[i]
		}
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		if n, dup := seen[name]; dup {
			seen[name] = n + 1
			name = fmt.Sprintf("%s.%d", name, n+1)
		} else {
			seen[name] = 0
		}
		headers[i] = name
	}
	t.Headers = headers

	for i, row := range t.Rows {
		for len(row) < width {
			row = append(row, "")
		}
		t.Rows[i] = row
	}
}

// ToResultTable converts the scraped table into a Result Table tagged with date.
// Column names are kept verbatim; cells stay as text.
func (t HTMLTable) ToResultTable(date time.Time, source models.Source) *models.ResultTable {
	columns := make([]models.Column, len(t.Headers))
	for i, h := range t.Headers {
		columns[i] = models.Column{Name: h, Kind: models.KindString}
	}

	table := models.NewResultTable(date, source, columns...)
	for _, cells := range t.Rows {
		row := make(models.Row, len(cells))
		for i, c := range cells {
			row[i] = c
		}
		table.Rows = append(table.Rows, row)
	}

	table.TagReferenceDate(date)
	return table
}

// largestTable picks the table with the most rows; the first one wins ties
func largestTable(tables []HTMLTable) (HTMLTable, bool) {
	if len(tables) == 0 {
		return HTMLTable{}, false
	}
	best := 0
	for i := 1; i < len(tables); i++ {
		if len(tables[i].Rows) > len(tables[best].Rows) {
			best = i
		}
	}
	return tables[best], true
}

// containsInstrumentCode reports whether any known instrument code appears in text
func containsInstrumentCode(text string) bool {
	for _, code := range models.SampleInstruments {
		if strings.Contains(text, code) {
			return true
		}
	}
	return false
}

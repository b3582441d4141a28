package models

import "time"

// Column names of the synthetic quote table
const (
	ColumnNome     = "Nome"
	ColumnUltimo   = "Último"
	ColumnVariacao = "Variação (%)"
	ColumnVolume   = "Volume"
)

// SampleInstruments are the instrument codes used by the synthetic table,
// also the codes searched for in raw page text.
var SampleInstruments = []string{"PETR4", "VALE3", "ITUB4", "BBDC4", "MGLU3"}

var (
	sampleLast   = []float64{28.50, 62.30, 25.10, 13.45, 8.90}
	sampleChange = []float64{2.15, -1.30, 0.85, -0.95, 3.20}
	sampleVolume = []int64{45000000, 78000000, 32000000, 25000000, 18000000}
)

// SampleTable returns the fixed 5-row placeholder table used when every real
// acquisition strategy fails. Values never change between calls.
func SampleTable(date time.Time) *ResultTable {
	table := NewResultTable(date, SourceSynthetic,
		Column{Name: ColumnNome, Kind: KindString},
		Column{Name: ColumnUltimo, Kind: KindFloat},
		Column{Name: ColumnVariacao, Kind: KindFloat},
		Column{Name: ColumnVolume, Kind: KindInt},
	)

	for i, code := range SampleInstruments {
		table.Rows = append(table.Rows, Row{code, sampleLast[i], sampleChange[i], sampleVolume[i]})
	}

	table.TagReferenceDate(date)
	return table
}

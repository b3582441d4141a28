package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"

	"b3-ibov-pipeline/internal/models"
)

// Footer metadata keys. Parquet leaf columns are stored sorted by name, so the
// original column order travels in the footer.
const (
	parquetColumnsKey = "b3.columns"
	parquetSourceKey  = "b3.source"
	parquetDateKey    = "b3.reference_date"
)

const secondsPerDay = 24 * 60 * 60

// EncodeParquet serialises a Result Table as a snappy-compressed parquet file.
// Every column is optional so missing cells round-trip as nulls.
func EncodeParquet(table *models.ResultTable) ([]byte, error) {
	if table == nil || len(table.Columns) == 0 {
		return nil, fmt.Errorf("cannot encode a table without columns")
	}

	group := parquet.Group{}
	for _, col := range table.Columns {
		group[col.Name] = parquet.Optional(parquetNode(col.Kind))
	}
	schema := parquet.NewSchema("b3_ibov", group)

	leafIndex := make(map[string]int, len(table.Columns))
	for i, path := range schema.Columns() {
		leafIndex[path[0]] = i
	}

	columnsJSON, err := json.Marshal(table.Columns)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal column metadata: %w", err)
	}

	var buf bytes.Buffer
	writer := parquet.NewWriter(&buf, schema,
		parquet.Compression(&parquet.Snappy),
		parquet.KeyValueMetadata(parquetColumnsKey, string(columnsJSON)),
		parquet.KeyValueMetadata(parquetSourceKey, string(table.Source)),
		parquet.KeyValueMetadata(parquetDateKey, models.FormatDate(table.ReferenceDate)),
	)

	rows := make([]parquet.Row, 0, len(table.Rows))
	for r, cells := range table.Rows {
		if len(cells) != len(table.Columns) {
			return nil, fmt.Errorf("row %d has %d cells, expected %d", r, len(cells), len(table.Columns))
		}
		row := make(parquet.Row, len(table.Columns))
		for c, col := range table.Columns {
			idx := leafIndex[col.Name]
			value, err := parquetValue(col.Kind, cells[c])
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", r, col.Name, err)
			}
			definition := 1
			if value.IsNull() {
				definition = 0
			}
			row[idx] = value.Level(0, definition, idx)
		}
		rows = append(rows, row)
	}

	if _, err := writer.WriteRows(rows); err != nil {
		return nil, fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close parquet writer: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeParquet reads a parquet file back into a Result Table. Files written
// by EncodeParquet keep their column order; other files get schema order.
func DecodeParquet(data []byte) (*models.ResultTable, error) {
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}

	columns, err := parquetColumns(file)
	if err != nil {
		return nil, err
	}

	leafIndex := make(map[string]int, len(columns))
	for i, path := range file.Schema().Columns() {
		leafIndex[path[0]] = i
	}
	// position of each leaf in the table's column order
	position := make([]int, len(leafIndex))
	for c, col := range columns {
		idx, ok := leafIndex[col.Name]
		if !ok {
			return nil, fmt.Errorf("column %q missing from parquet schema", col.Name)
		}
		position[idx] = c
	}

	table := models.NewResultTable(time.Time{}, "", columns...)
	if source, ok := file.Lookup(parquetSourceKey); ok {
		table.Source = models.Source(source)
	}
	if value, ok := file.Lookup(parquetDateKey); ok {
		if date, err := models.ParseReferenceDate(value); err == nil {
			table.ReferenceDate = date
		}
	}

	buffer := make([]parquet.Row, 64)
	for _, rowGroup := range file.RowGroups() {
		rows := rowGroup.Rows()
		for {
			n, err := rows.ReadRows(buffer)
			for _, row := range buffer[:n] {
				cells := make(models.Row, len(columns))
				for _, value := range row {
					c := position[value.Column()]
					cells[c] = cellFromValue(columns[c].Kind, value)
				}
				table.Rows = append(table.Rows, cells)
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to read parquet rows: %w", err)
			}
		}
		rows.Close()
	}

	return table, nil
}

func parquetColumns(file *parquet.File) ([]models.Column, error) {
	if value, ok := file.Lookup(parquetColumnsKey); ok {
		var columns []models.Column
		if err := json.Unmarshal([]byte(value), &columns); err != nil {
			return nil, fmt.Errorf("invalid column metadata: %w", err)
		}
		return columns, nil
	}

	var columns []models.Column
	for _, field := range file.Schema().Fields() {
		columns = append(columns, models.Column{Name: field.Name(), Kind: kindOfType(field.Type())})
	}
	return columns, nil
}

func parquetNode(kind models.ColumnKind) parquet.Node {
	switch kind {
	case models.KindFloat:
		return parquet.Leaf(parquet.DoubleType)
	case models.KindInt:
		return parquet.Leaf(parquet.Int64Type)
	case models.KindDate:
		return parquet.Date()
	default:
		return parquet.String()
	}
}

func kindOfType(t parquet.Type) models.ColumnKind {
	if logical := t.LogicalType(); logical != nil && logical.Date != nil {
		return models.KindDate
	}
	switch t.Kind() {
	case parquet.Double, parquet.Float:
		return models.KindFloat
	case parquet.Int64, parquet.Int32:
		return models.KindInt
	default:
		return models.KindString
	}
}

func parquetValue(kind models.ColumnKind, cell interface{}) (parquet.Value, error) {
	if cell == nil {
		return parquet.NullValue(), nil
	}

	switch kind {
	case models.KindFloat:
		switch v := cell.(type) {
		case float64:
			return parquet.DoubleValue(v), nil
		case float32:
			return parquet.DoubleValue(float64(v)), nil
		case int64:
			return parquet.DoubleValue(float64(v)), nil
		case int:
			return parquet.DoubleValue(float64(v)), nil
		}
	case models.KindInt:
		switch v := cell.(type) {
		case int64:
			return parquet.Int64Value(v), nil
		case int:
			return parquet.Int64Value(int64(v)), nil
		case int32:
			return parquet.Int64Value(int64(v)), nil
		}
	case models.KindDate:
		if v, ok := cell.(time.Time); ok {
			days := models.TruncateDate(v).Unix() / secondsPerDay
			return parquet.Int32Value(int32(days)), nil
		}
	default:
		if v, ok := cell.(string); ok {
			return parquet.ByteArrayValue([]byte(v)), nil
		}
	}

	return parquet.Value{}, fmt.Errorf("unexpected %T for %s column", cell, kind)
}

func cellFromValue(kind models.ColumnKind, value parquet.Value) interface{} {
	if value.IsNull() {
		return nil
	}
	switch kind {
	case models.KindFloat:
		return value.Double()
	case models.KindInt:
		return value.Int64()
	case models.KindDate:
		return time.Unix(int64(value.Int32())*secondsPerDay, 0).UTC()
	default:
		return string(value.ByteArray())
	}
}

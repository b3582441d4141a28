package services

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"b3-ibov-pipeline/internal/models"
)

// WriteCSV writes the table with a header row, one line per row
func WriteCSV(w io.Writer, table *models.ResultTable) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(table.ColumnNames()); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	record := make([]string, len(table.Columns))
	for i, row := range table.Rows {
		for c := range table.Columns {
			var cell interface{}
			if c < len(row) {
				cell = row[c]
			}
			record[c] = FormatCell(cell)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row %d: %w", i, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// SaveCSV writes the table to a local file
func SaveCSV(path string, table *models.ResultTable) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := WriteCSV(file, table); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// FormatCell renders a cell the way it appears in CSV output
func FormatCell(cell interface{}) string {
	switch v := cell.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case time.Time:
		return models.FormatDate(v)
	default:
		return fmt.Sprint(v)
	}
}

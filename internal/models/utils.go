package models

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateFetchRunID creates a unique ID for a fetch run
func GenerateFetchRunID() string {
	return "run_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// RunPK builds the DynamoDB partition key for a fetch run
func RunPK(runID string) string {
	return "RUN#" + runID
}

// RunSK builds the DynamoDB sort key for a fetch run
func RunSK(date time.Time) string {
	return "DATE#" + FormatDate(date)
}

// CalculateTTL returns the epoch second at which a record should expire
func CalculateTTL(retention time.Duration) int64 {
	return time.Now().Add(retention).Unix()
}

// DatePartition formats the raw-zone partition segment, e.g. date=2024-01-02
func DatePartition(date time.Time) string {
	return "date=" + FormatDate(date)
}

// RawObjectKey builds the object key for a raw parquet upload.
// An empty name yields the default "data" file.
func RawObjectKey(prefix string, date time.Time, name string) string {
	if name == "" {
		name = "data"
	}
	prefix = strings.Trim(prefix, "/")
	file := name + ".parquet"
	if prefix == "" {
		return path.Join(DatePartition(date), file)
	}
	return path.Join(prefix, DatePartition(date), file)
}

// RefinedObjectKey builds the hive-style key of a refined partition file,
// partitioned by reference date and then by column=value
func RefinedObjectKey(prefix string, date time.Time, column, value string) string {
	prefix = strings.Trim(prefix, "/")
	return path.Join(prefix,
		fmt.Sprintf("%s=%s", ColumnDataRef, FormatDate(date)),
		fmt.Sprintf("%s=%s", column, value),
		"part-0000.parquet")
}

// DateFromKey extracts the reference date from a raw object key
// like raw/date=2024-01-02/data.parquet
func DateFromKey(key string) (time.Time, bool) {
	for _, segment := range strings.Split(key, "/") {
		if value, ok := strings.CutPrefix(segment, "date="); ok {
			date, err := ParseReferenceDate(value)
			if err != nil {
				return time.Time{}, false
			}
			return date, true
		}
	}
	return time.Time{}, false
}

// CSVFileName returns the default local CSV name for a reference date
func CSVFileName(date time.Time) string {
	return fmt.Sprintf("dados_b3_%s.csv", FormatDate(date))
}

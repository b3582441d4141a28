package models

import (
	"strings"
	"testing"
	"time"
)

func TestRawObjectKey(t *testing.T) {
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		prefix   string
		name     string
		expected string
	}{
		{"raw", "", "raw/date=2024-01-02/data.parquet"},
		{"raw/", "", "raw/date=2024-01-02/data.parquet"},
		{"raw", "ibov", "raw/date=2024-01-02/ibov.parquet"},
		{"", "", "date=2024-01-02/data.parquet"},
	}

	for _, test := range tests {
		if got := RawObjectKey(test.prefix, date, test.name); got != test.expected {
			t.Errorf("RawObjectKey(%q, %q) = %s, want %s", test.prefix, test.name, got, test.expected)
		}
	}
}

func TestRefinedObjectKey(t *testing.T) {
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	got := RefinedObjectKey("refined", date, PartitionInstrument, "PETR4")
	want := "refined/data_ref=2024-01-02/codigo_acao=PETR4/part-0000.parquet"
	if got != want {
		t.Errorf("RefinedObjectKey() = %s, want %s", got, want)
	}

	got = RefinedObjectKey("/refined/", date, PartitionQuoteName, "PETR4")
	want = "refined/data_ref=2024-01-02/acao=PETR4/part-0000.parquet"
	if got != want {
		t.Errorf("RefinedObjectKey() = %s, want %s", got, want)
	}
}

func TestDateFromKey(t *testing.T) {
	date, ok := DateFromKey("raw/date=2024-02-29/data.parquet")
	if !ok {
		t.Fatal("Expected date to be found in key")
	}
	if FormatDate(date) != "2024-02-29" {
		t.Errorf("Expected 2024-02-29, got %s", FormatDate(date))
	}

	if _, ok := DateFromKey("raw/data.parquet"); ok {
		t.Error("Expected no date for key without partition")
	}
	if _, ok := DateFromKey("raw/date=yesterday/data.parquet"); ok {
		t.Error("Expected no date for malformed partition")
	}
}

func TestGenerateFetchRunID(t *testing.T) {
	first := GenerateFetchRunID()
	second := GenerateFetchRunID()

	if !strings.HasPrefix(first, "run_") {
		t.Errorf("Run ID should start with run_, got %s", first)
	}
	if first == second {
		t.Error("Run IDs should be unique")
	}
}

func TestRunKeys(t *testing.T) {
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	if RunPK("run_abc") != "RUN#run_abc" {
		t.Errorf("Unexpected PK %s", RunPK("run_abc"))
	}
	if RunSK(date) != "DATE#2024-01-02" {
		t.Errorf("Unexpected SK %s", RunSK(date))
	}
	if CSVFileName(date) != "dados_b3_2024-01-02.csv" {
		t.Errorf("Unexpected CSV name %s", CSVFileName(date))
	}
}

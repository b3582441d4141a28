package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"b3-ibov-pipeline/internal/models"
	"b3-ibov-pipeline/internal/services"
)

func writeRawFile(t *testing.T, table *models.ResultTable) string {
	t.Helper()
	data, err := services.EncodeParquet(table)
	if err != nil {
		t.Fatalf("EncodeParquet() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "data.parquet")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestRunETL_PrintsAndWritesPartitions(t *testing.T) {
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	source := writeRawFile(t, models.SampleTable(date))
	target := t.TempDir()

	a := &app{logger: zap.NewNop()}
	var buf bytes.Buffer
	err := a.runETL(&buf, &etlOptions{source: source, target: target}, time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("runETL() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Refined 5 rows into 5 quote records") {
		t.Errorf("Unexpected summary:\n%s", out)
	}
	if !strings.Contains(out, "acao") || !strings.Contains(out, "volume_total") {
		t.Errorf("Expected refined header:\n%s", out)
	}
	if !strings.Contains(out, "Wrote 5 partitions") {
		t.Errorf("Expected write summary:\n%s", out)
	}

	partition := filepath.Join(target, "quotes", "data_ref=2024-01-02", "acao=PETR4", "part-0000.parquet")
	data, err := os.ReadFile(partition)
	if err != nil {
		t.Fatalf("Expected partition file: %v", err)
	}
	refined, err := services.DecodeParquet(data)
	if err != nil {
		t.Fatalf("DecodeParquet() error = %v", err)
	}
	if refined.Len() != 1 {
		t.Errorf("Expected 1 refined row, got %d", refined.Len())
	}
	if days, _ := refined.Value(0, "dias_desde"); days != int64(10) {
		t.Errorf("dias_desde = %v, want 10", days)
	}
}

func TestRunETL_Errors(t *testing.T) {
	a := &app{logger: zap.NewNop()}

	if err := a.runETL(&bytes.Buffer{}, &etlOptions{source: filepath.Join(t.TempDir(), "missing.parquet")}, time.Now()); err == nil {
		t.Error("Expected error for missing file")
	}

	noDate := models.NewResultTable(time.Now(), models.SourceDirect, models.Column{Name: "x", Kind: models.KindString})
	noDate.AppendRow("a")
	if err := a.runETL(&bytes.Buffer{}, &etlOptions{source: writeRawFile(t, noDate)}, time.Now()); err == nil {
		t.Error("Expected error for a table without data_ref")
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"fetch", "etl", "runs"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("Expected %s subcommand, got %v (%v)", name, cmd, err)
		}
	}

	fetch, _, _ := root.Find([]string{"fetch"})
	for _, flag := range []string{"date", "csv", "upload", "no-browser"} {
		if fetch.Flags().Lookup(flag) == nil {
			t.Errorf("fetch is missing --%s", flag)
		}
	}
}

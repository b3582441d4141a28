package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"b3-ibov-pipeline/internal/models"
	"b3-ibov-pipeline/internal/services"
)

type etlOptions struct {
	source string
	target string
}

func newETLCommand(a *app) *cobra.Command {
	opts := &etlOptions{}

	cmd := &cobra.Command{
		Use:   "etl",
		Short: "Refine a local raw parquet file and print the refined records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runETL(cmd.OutOrStdout(), opts, time.Now())
		},
	}

	cmd.Flags().StringVar(&opts.source, "source", "", "raw parquet file")
	cmd.Flags().StringVar(&opts.target, "target", "", "directory for the partitioned refined output (optional)")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func (a *app) runETL(out io.Writer, opts *etlOptions, now time.Time) error {
	data, err := os.ReadFile(opts.source)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", opts.source, err)
	}
	raw, err := services.DecodeParquet(data)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", opts.source, err)
	}

	schema, partitions, err := services.Refine(raw, now)
	if err != nil {
		return err
	}
	a.logger.Info("Refined local file",
		zap.String("source", opts.source),
		zap.String("schema", string(schema)),
		zap.Int("rows", raw.Len()),
		zap.Int("records", len(partitions)))

	fmt.Fprintf(out, "Refined %d rows into %d %s records\n\n", raw.Len(), len(partitions), schema)
	printPartitions(out, partitions)

	if opts.target == "" {
		return nil
	}
	written, err := writePartitions(opts.target, schema, partitions)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nWrote %d partitions under %s\n", written, opts.target)
	return nil
}

// printPartitions prints one line per refined record, partition columns first
func printPartitions(out io.Writer, partitions []services.RefinedPartition) {
	if len(partitions) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	header := []string{models.ColumnDataRef, partitions[0].Column}
	header = append(header, partitions[0].Table.ColumnNames()...)
	fmt.Fprintln(w, strings.Join(header, "\t"))

	for _, p := range partitions {
		for _, row := range p.Table.Rows {
			cells := []string{models.FormatDate(p.Date), p.Value}
			for _, cell := range row {
				cells = append(cells, services.FormatCell(cell))
			}
			fmt.Fprintln(w, strings.Join(cells, "\t"))
		}
	}
	w.Flush()
}

// writePartitions stores each partition in the same hive layout used in S3
func writePartitions(dir string, schema services.ETLSchema, partitions []services.RefinedPartition) (int, error) {
	prefix, _ := services.RefinedTarget(schema, "", "")
	for _, p := range partitions {
		data, err := services.EncodeParquet(p.Table)
		if err != nil {
			return 0, fmt.Errorf("failed to encode partition %s=%s: %w", p.Column, p.Value, err)
		}
		path := filepath.Join(dir, filepath.FromSlash(models.RefinedObjectKey(prefix, p.Date, p.Column, p.Value)))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return 0, fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return 0, fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return len(partitions), nil
}

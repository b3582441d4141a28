package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"b3-ibov-pipeline/internal/models"
	"b3-ibov-pipeline/internal/services"
)

type runsOptions struct {
	date  string
	id    string
	limit int32
	check bool
}

// runLedger reads back recorded fetch runs
type runLedger interface {
	GetFetchRun(ctx context.Context, runID string, date time.Time) (*models.FetchRun, error)
	QueryRunsByDate(ctx context.Context, date time.Time, limit int32) ([]models.FetchRun, error)
}

// objectInspector looks up the raw objects runs uploaded
type objectInspector interface {
	GetFileInfo(ctx context.Context, key string) (*services.S3FileInfo, error)
}

func newRunsCommand(a *app) *cobra.Command {
	opts := &runsOptions{}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the fetch runs recorded for a reference date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRuns(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.date, "date", "", "reference date (YYYY-MM-DD), defaults to today")
	cmd.Flags().StringVar(&opts.id, "id", "", "show a single run with its strategy attempts")
	cmd.Flags().Int32Var(&opts.limit, "limit", 0, "maximum number of runs to list")
	cmd.Flags().BoolVar(&opts.check, "check", false, "verify each uploaded object in S3_BUCKET_NAME")
	return cmd
}

func (a *app) runRuns(cmd *cobra.Command, opts *runsOptions) error {
	ctx := cmd.Context()
	cfg := a.config

	awsCfg, err := cfg.LoadAWS(ctx)
	if err != nil {
		return err
	}
	ledger := services.NewDynamoDBService(dynamodb.NewFromConfig(awsCfg), cfg.RunsTable)

	var objects objectInspector
	if opts.check {
		if err := cfg.RequireBucket(); err != nil {
			return err
		}
		objects = services.NewS3Client(s3.NewFromConfig(awsCfg), cfg.BucketName, awsCfg.Region)
	}

	a.logger.Debug("Reading run ledger", zap.String("table", cfg.RunsTable), zap.String("date", opts.date))
	return listRuns(ctx, cmd.OutOrStdout(), ledger, objects, opts, time.Now())
}

// listRuns prints the runs of a date, oldest first. objects may be nil to skip checks.
func listRuns(ctx context.Context, out io.Writer, ledger runLedger, objects objectInspector, opts *runsOptions, now time.Time) error {
	var date time.Time
	if opts.date != "" {
		parsed, err := models.ParseReferenceDate(opts.date)
		if err != nil {
			return err
		}
		date = parsed
	}
	date = models.ReferenceDateOrToday(date, now)

	var runs []models.FetchRun
	if opts.id != "" {
		run, err := ledger.GetFetchRun(ctx, opts.id, date)
		if err != nil {
			return fmt.Errorf("run %s on %s: %w", opts.id, models.FormatDate(date), err)
		}
		runs = append(runs, *run)
	} else {
		found, err := ledger.QueryRunsByDate(ctx, date, opts.limit)
		if err != nil {
			return err
		}
		runs = found
	}

	if len(runs) == 0 {
		fmt.Fprintf(out, "No runs recorded for %s\n", models.FormatDate(date))
		return nil
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	header := []string{"ID", "STATUS", "SOURCE", "ROWS", "STARTED", "DURATION", "KEY"}
	if objects != nil {
		header = append(header, "OBJECT")
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))

	for _, run := range runs {
		cells := []string{
			run.ID,
			run.Status,
			string(run.Source),
			strconv.Itoa(run.Rows),
			run.StartedAt.UTC().Format(time.RFC3339),
			(time.Duration(run.Duration) * time.Millisecond).String(),
			orDash(run.UploadedKey),
		}
		if objects != nil {
			cells = append(cells, objectStatus(ctx, objects, run))
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	w.Flush()

	if opts.id != "" {
		printAttempts(out, runs[0])
	}
	return nil
}

// objectStatus compares the stored raw object with what the run recorded
func objectStatus(ctx context.Context, objects objectInspector, run models.FetchRun) string {
	if run.UploadedKey == "" {
		return "-"
	}
	info, err := objects.GetFileInfo(ctx, run.UploadedKey)
	switch {
	case errors.Is(err, services.ErrObjectNotFound):
		return "missing"
	case err != nil:
		return "error: " + err.Error()
	case run.ParquetSize > 0 && info.Size != int64(run.ParquetSize):
		return fmt.Sprintf("size %d, recorded %d", info.Size, run.ParquetSize)
	default:
		return "ok"
	}
}

func printAttempts(out io.Writer, run models.FetchRun) {
	if len(run.Attempts) == 0 {
		return
	}
	fmt.Fprintln(out, "\nAttempts:")
	for _, attempt := range run.Attempts {
		switch {
		case attempt.Success:
			fmt.Fprintf(out, "  %s: %d rows\n", attempt.Strategy, attempt.Rows)
		case attempt.Skipped:
			fmt.Fprintf(out, "  %s: skipped\n", attempt.Strategy)
		default:
			fmt.Fprintf(out, "  %s: %s\n", attempt.Strategy, attempt.Error)
		}
	}
	if run.ErrorSummary != "" {
		fmt.Fprintf(out, "\n%s\n", run.ErrorSummary)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

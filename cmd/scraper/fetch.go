package main

import (
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"b3-ibov-pipeline/internal/models"
	"b3-ibov-pipeline/internal/services"
)

type fetchOptions struct {
	date      string
	csvPath   string
	upload    bool
	noBrowser bool
}

func newFetchCommand(a *app) *cobra.Command {
	opts := &fetchOptions{}

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the composition table, print it with statistics and save it as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFetch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.date, "date", "", "reference date (YYYY-MM-DD), defaults to today")
	cmd.Flags().StringVar(&opts.csvPath, "csv", "", "CSV output path, defaults to dados_b3_<today>.csv")
	cmd.Flags().BoolVar(&opts.upload, "upload", false, "upload the parquet file to S3_BUCKET_NAME and record the run")
	cmd.Flags().BoolVar(&opts.noBrowser, "no-browser", false, "skip the rendered-page strategy")
	return cmd
}

func (a *app) runFetch(cmd *cobra.Command, opts *fetchOptions) error {
	ctx := cmd.Context()

	var date time.Time
	if opts.date != "" {
		parsed, err := models.ParseReferenceDate(opts.date)
		if err != nil {
			return err
		}
		date = parsed
	}

	cfg := a.config
	useBrowser := cfg.UseBrowser && !opts.noBrowser

	var renderer services.Renderer
	if useBrowser {
		renderer = services.NewChromeRenderer(cfg.ChromePath)
	}
	var extractor services.TableExtractor
	if cfg.OpenAIConfig.Enabled() {
		extractor = services.NewOpenAIClient(cfg.OpenAIConfig.APIKey, cfg.OpenAIConfig.Model)
	}

	scraper := services.NewB3Scraper(services.B3Config{
		BaseURL:     cfg.B3Config.BaseURL,
		Language:    cfg.Language,
		RenderWait:  cfg.RenderWait,
		HTTPTimeout: cfg.HTTPTimeout,
		UseBrowser:  useBrowser,
	}, renderer, extractor, a.logger)
	defer scraper.Close()

	var storage *services.S3Client
	var runs services.RunRecorder
	if opts.upload {
		if err := cfg.RequireBucket(); err != nil {
			return err
		}
		awsCfg, err := cfg.LoadAWS(ctx)
		if err != nil {
			return err
		}
		storage = services.NewS3Client(s3.NewFromConfig(awsCfg), cfg.BucketName, awsCfg.Region)
		if cfg.RunsTable != "" {
			runs = services.NewDynamoDBService(dynamodb.NewFromConfig(awsCfg), cfg.RunsTable)
		}
	}

	pipeline := services.NewFetchPipeline(scraper, storage, runs, cfg.RawPrefix, a.logger)
	result, err := pipeline.Run(ctx, date, models.TriggerTypeManual, "")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	table := result.Table
	reportFetch(out, result)

	csvPath := opts.csvPath
	if csvPath == "" {
		csvPath = models.CSVFileName(time.Now())
	}
	if err := services.SaveCSV(csvPath, table); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nSaved %s\n", csvPath)

	if result.Upload != nil {
		fmt.Fprintf(out, "Uploaded %s (%d bytes)\n", result.Upload.Location, result.Upload.Size)
	}
	return nil
}

func reportFetch(out io.Writer, result *services.PipelineResult) {
	table := result.Table
	fmt.Fprintf(out, "Fetched %d instruments from the %s source\n", table.Len(), table.Source)
	if values := table.Values(models.ColumnDataRef); len(values) > 0 {
		fmt.Fprintf(out, "Reference date: %s\n", services.FormatCell(values[0]))
	}
	if result.Run.Degraded() {
		fmt.Fprintf(out, "Warning: live data unavailable, showing sample data (%s)\n", result.Run.ErrorSummary)
	}

	fmt.Fprintln(out)
	printTable(out, table)

	if stats, ok := computeStats(table); ok {
		fmt.Fprintln(out)
		printStats(out, stats)
	}
}

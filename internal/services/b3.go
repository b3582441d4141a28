package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"b3-ibov-pipeline/internal/models"
)

// DefaultB3BaseURL is the IBOV daily composition page
const DefaultB3BaseURL = "https://sistemaswebb3-listados.b3.com.br/indexPage/day/IBOV"

// B3Config configures the acquisition strategies
type B3Config struct {
	BaseURL     string
	Language    string
	RenderWait  time.Duration // fixed delay for client-side rendering
	HTTPTimeout time.Duration // fixed timeout of the direct request
	UseBrowser  bool
}

// DefaultB3Config returns the production settings
func DefaultB3Config() B3Config {
	return B3Config{
		BaseURL:     DefaultB3BaseURL,
		Language:    "pt-br",
		RenderWait:  5 * time.Second,
		HTTPTimeout: 30 * time.Second,
		UseBrowser:  true,
	}
}

// B3Scraper obtains the best available Result Table for a reference date,
// degrading from a rendered page, to a direct request, to synthetic data.
type B3Scraper struct {
	config    B3Config
	renderer  Renderer
	pages     *PageClient
	extractor TableExtractor
	logger    *zap.Logger
	now       func() time.Time
}

// NewB3Scraper creates a scraper. renderer and extractor may be nil, which
// disables the rendered-page strategy and the non-table extraction branches.
func NewB3Scraper(config B3Config, renderer Renderer, extractor TableExtractor, logger *zap.Logger) *B3Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultB3BaseURL
	}
	if config.Language == "" {
		config.Language = "pt-br"
	}
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = 30 * time.Second
	}

	return &B3Scraper{
		config:    config,
		renderer:  renderer,
		pages:     NewPageClient(config.HTTPTimeout),
		extractor: extractor,
		logger:    logger,
		now:       time.Now,
	}
}

// Close releases the HTTP client
func (s *B3Scraper) Close() error {
	return s.pages.Close()
}

// Fetch returns the Result Table for date (today when zero). It never fails:
// every error degrades to the next strategy, ending in the synthetic table.
func (s *B3Scraper) Fetch(ctx context.Context, date time.Time) *models.ResultTable {
	table, _ := s.FetchWithOutcome(ctx, date)
	return table
}

// FetchWithOutcome is Fetch plus the outcome of every strategy tried
func (s *B3Scraper) FetchWithOutcome(ctx context.Context, date time.Time) (*models.ResultTable, []models.StrategyAttempt) {
	date = models.ReferenceDateOrToday(date, s.now())
	dateStr := models.FormatDate(date)
	var attempts []models.StrategyAttempt

	s.logger.Info("Fetching IBOV composition", zap.String("date", dateStr))

	strategies := []struct {
		source models.Source
		run    func(context.Context, time.Time) (*models.ResultTable, error)
	}{
		{models.SourceRendered, s.fetchRendered},
		{models.SourceDirect, s.fetchDirect},
	}

	for _, strategy := range strategies {
		start := time.Now()
		table, err := s.runStrategy(ctx, strategy.source, strategy.run, date)
		attempt := models.StrategyAttempt{
			Strategy: strategy.source,
			Duration: time.Since(start).Milliseconds(),
		}

		if err == nil && table.Len() > 0 {
			attempt.Success = true
			attempt.Rows = table.Len()
			attempts = append(attempts, attempt)
			s.logger.Info("Fetched IBOV composition",
				zap.String("date", dateStr),
				zap.String("strategy", string(strategy.source)),
				zap.Int("rows", table.Len()),
				zap.Strings("columns", table.ColumnNames()))
			return table, attempts
		}
		if err == nil {
			err = NewEmptyError("strategy returned no rows")
		}

		attempt.ErrorType = string(ErrorTypeOf(err))
		attempt.Error = err.Error()
		attempt.Skipped = ErrorTypeOf(err) == ErrorTypeUnavailable
		attempts = append(attempts, attempt)

		if attempt.Skipped {
			s.logger.Debug("Strategy skipped",
				zap.String("strategy", string(strategy.source)), zap.Error(err))
			continue
		}
		s.logger.Warn("Strategy failed, falling back",
			zap.String("date", dateStr),
			zap.String("strategy", string(strategy.source)),
			zap.String("error_type", attempt.ErrorType),
			zap.Error(err))
	}

	table := models.SampleTable(date)
	attempts = append(attempts, models.StrategyAttempt{
		Strategy: models.SourceSynthetic,
		Success:  true,
		Rows:     table.Len(),
	})
	s.logger.Warn("All strategies failed, returning sample data",
		zap.String("date", dateStr), zap.Int("rows", table.Len()))
	return table, attempts
}

// runStrategy calls run, converting a panic anywhere in the strategy
// (browser start-up included) into a failed attempt
func (s *B3Scraper) runStrategy(ctx context.Context, source models.Source, run func(context.Context, time.Time) (*models.ResultTable, error), date time.Time) (table *models.ResultTable, err error) {
	defer func() {
		if r := recover(); r != nil {
			table = nil
			err = &FetchError{Type: ErrorTypePanic, Message: fmt.Sprintf("%s strategy panicked: %v", source, r)}
			s.logger.Error("Recovered from strategy panic",
				zap.String("strategy", string(source)), zap.Any("panic", r))
		}
	}()
	return run(ctx, date)
}

// PageURL builds the target URL with the language and date query parameters
func (s *B3Scraper) PageURL(date time.Time) string {
	query := url.Values{}
	for k, v := range s.queryParams(date) {
		query.Set(k, v)
	}
	return s.config.BaseURL + "?" + query.Encode()
}

func (s *B3Scraper) queryParams(date time.Time) map[string]string {
	return map[string]string{
		"language": s.config.Language,
		"date":     models.FormatDate(date),
	}
}

// fetchRendered drives a browser session. The session is released before
// returning on every path.
func (s *B3Scraper) fetchRendered(ctx context.Context, date time.Time) (table *models.ResultTable, err error) {
	if !s.config.UseBrowser || s.renderer == nil {
		return nil, &FetchError{Type: ErrorTypeUnavailable, Message: "browser rendering disabled"}
	}

	session, err := s.renderer.Open(ctx)
	if err != nil {
		return nil, NewRenderError("failed to open browser session", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			s.logger.Warn("Failed to close browser session", zap.Error(closeErr))
		}
	}()

	pageURL := s.PageURL(date)
	html, err := session.Render(pageURL, s.config.RenderWait)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, NewParseError(err)
	}

	if tables := tablesFromDocument(doc); len(tables) > 0 {
		best, _ := largestTable(tables)
		s.logger.Debug("Found rendered tables",
			zap.Int("tables", len(tables)), zap.Int("largest_rows", len(best.Rows)))
		if len(best.Rows) == 0 {
			return nil, NewEmptyError("rendered tables have no rows")
		}
		return best.ToResultTable(date, models.SourceRendered), nil
	}

	if grid := doc.Find(gridSelector); grid.Length() > 0 {
		s.logger.Debug("No table elements, trying grid elements", zap.Int("elements", grid.Length()))
		return s.extract(ctx, grid.Text(), pageURL, date)
	}

	if body := doc.Find("body").Text(); containsInstrumentCode(body) {
		s.logger.Debug("No table or grid elements, trying page text")
		return s.extract(ctx, body, pageURL, date)
	}

	return nil, NewEmptyError("no tabular data on rendered page")
}

// extract hands non-table content to the optional extractor
func (s *B3Scraper) extract(ctx context.Context, content, pageURL string, date time.Time) (*models.ResultTable, error) {
	if s.extractor == nil {
		return nil, NewEmptyError("no table elements and no structured extractor configured")
	}

	extracted, err := s.extractor.ExtractTable(ctx, content, pageURL)
	if err != nil {
		var fetchErr *FetchError
		if errors.As(err, &fetchErr) {
			return nil, err
		}
		return nil, NewParseError(err)
	}

	table := HTMLTable{Headers: extracted.Columns, Rows: extracted.Rows}
	table.normalize()
	return table.ToResultTable(date, models.SourceRendered), nil
}

// fetchDirect requests the page without running scripts and takes the first table
func (s *B3Scraper) fetchDirect(ctx context.Context, date time.Time) (*models.ResultTable, error) {
	body, err := s.pages.Get(ctx, s.config.BaseURL, s.queryParams(date))
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Direct response received", zap.Int("content_length", len(body)))

	tables, err := ParseHTMLTables(body)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, NewEmptyError("no tables found in HTML")
	}

	first := tables[0]
	if len(first.Rows) == 0 {
		return nil, NewEmptyError("first table has no rows")
	}
	return first.ToResultTable(date, models.SourceDirect), nil
}

package services

import (
	"context"
	"fmt"
	"math"
	"path"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"b3-ibov-pipeline/internal/models"
)

// ETLSchema identifies which refinement applies to a raw table
type ETLSchema string

const (
	// SchemaComposition is the index composition page (Código, Ação, Tipo, ...)
	SchemaComposition ETLSchema = "composition"
	// SchemaQuote is the quote table of the synthetic fallback (Nome, Volume, ...)
	SchemaQuote ETLSchema = "quote"
)

// DetectSchema picks the refinement for a raw table by its columns
func DetectSchema(table *models.ResultTable) (ETLSchema, error) {
	if !table.HasColumn(models.ColumnDataRef) {
		return "", fmt.Errorf("raw table has no %s column", models.ColumnDataRef)
	}
	switch {
	case table.HasColumn(models.ColumnCodigo):
		return SchemaComposition, nil
	case table.HasColumn(models.ColumnNome):
		return SchemaQuote, nil
	default:
		return "", fmt.Errorf("unrecognised raw schema: %v", table.ColumnNames())
	}
}

// RefinedTarget returns the key prefix and catalog table of a schema's refined
// output. Quotes live under quotes/ in their own <table>_quotes table.
func RefinedTarget(schema ETLSchema, prefix, table string) (string, string) {
	if schema != SchemaQuote {
		return prefix, table
	}
	if table != "" {
		table += "_quotes"
	}
	return path.Join(prefix, "quotes"), table
}

// ParseBrazilianNumber reads numbers as printed by B3: "4.520.926.864",
// "976.044", "6,612", "11,207%". Decimals always use a comma, so a lone dot
// followed by exactly three digits is a thousands separator; other dotted
// text such as "28.5" is read as a plain decimal. It reports false for text
// that is not a number, which the refinement stores as null.
func ParseBrazilianNumber(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return decimal.Decimal{}, false
	}

	switch {
	case strings.Contains(s, ","):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ".") > 1, thousandsGrouped(s):
		s = strings.ReplaceAll(s, ".", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// thousandsGrouped reports whether s has a single dot with exactly three
// digits after it, as in "976.044"
func thousandsGrouped(s string) bool {
	i := strings.IndexByte(s, '.')
	if i <= 0 || s[i-1] < '0' || s[i-1] > '9' || strings.Count(s, ".") != 1 || len(s)-i-1 != 3 {
		return false
	}
	for _, c := range s[i+1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// toDecimal casts a raw cell to a number the way a double cast would
func toDecimal(cell interface{}) (decimal.Decimal, bool) {
	switch v := cell.(type) {
	case string:
		return ParseBrazilianNumber(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(v), true
	case int64:
		return decimal.NewFromInt(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	default:
		return decimal.Decimal{}, false
	}
}

func cellDate(cell interface{}) (time.Time, bool) {
	switch v := cell.(type) {
	case time.Time:
		return models.TruncateDate(v), true
	case string:
		date, err := models.ParseReferenceDate(v)
		return date, err == nil
	default:
		return time.Time{}, false
	}
}

// daysBetween counts calendar days from ref to now, both as UTC dates
func daysBetween(now, ref time.Time) int64 {
	return int64(models.TruncateDate(now).Sub(models.TruncateDate(ref)).Hours() / 24)
}

// nullableSum accumulates a sum that stays null until a value is added
type nullableSum struct {
	sum   decimal.Decimal
	count int64
}

func (n *nullableSum) add(cell interface{}) {
	if d, ok := toDecimal(cell); ok {
		n.sum = n.sum.Add(d)
		n.count++
	}
}

func (n nullableSum) total() decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: n.sum, Valid: n.count > 0}
}

func (n nullableSum) mean() decimal.NullDecimal {
	if n.count == 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: n.sum.Div(decimal.NewFromInt(n.count)), Valid: true}
}

type groupKey struct {
	value string
	date  time.Time
}

// TransformComposition aggregates composition rows per (Código, data_ref) and
// derives the reference date columns. Groups keep first-seen order.
func TransformComposition(table *models.ResultTable, now time.Time) ([]models.CompositionSummary, error) {
	codeIdx := table.ColumnIndex(models.ColumnCodigo)
	dateIdx := table.ColumnIndex(models.ColumnDataRef)
	if codeIdx < 0 || dateIdx < 0 {
		return nil, fmt.Errorf("composition table requires %s and %s", models.ColumnCodigo, models.ColumnDataRef)
	}
	nameIdx := table.ColumnIndex(models.ColumnAcao)
	typeIdx := table.ColumnIndex(models.ColumnTipo)
	qtyIdx := table.ColumnIndex(models.ColumnQtdeTeorica)
	partIdx := table.ColumnIndex(models.ColumnPart)

	type accumulator struct {
		summary models.CompositionSummary
		qty     nullableSum
		part    nullableSum
	}
	groups := make(map[groupKey]*accumulator)
	var order []groupKey

	for i, row := range table.Rows {
		date, ok := cellDate(row[dateIdx])
		if !ok {
			return nil, fmt.Errorf("row %d: invalid %s %v", i, models.ColumnDataRef, row[dateIdx])
		}
		key := groupKey{value: FormatCell(row[codeIdx]), date: date}

		acc, exists := groups[key]
		if !exists {
			acc = &accumulator{summary: models.CompositionSummary{
				CodigoAcao: key.value,
				RefDate:    date,
				NomeAcao:   optionalText(row, nameIdx),
				TipoAcao:   optionalText(row, typeIdx),
			}}
			groups[key] = acc
			order = append(order, key)
		}

		acc.summary.ContagemRegistros++
		if qtyIdx >= 0 {
			acc.qty.add(row[qtyIdx])
		}
		if partIdx >= 0 {
			acc.part.add(row[partIdx])
		}
	}

	summaries := make([]models.CompositionSummary, 0, len(order))
	for _, key := range order {
		acc := groups[key]
		s := acc.summary
		s.QuantidadeTeoricaTotal = acc.qty.total()
		s.PercentualParticipacao = acc.part.total()
		s.ParticipacaoMedia = acc.part.mean()
		s.DataProcessamento = now.UTC()
		s.DiasDesdeReferencia = daysBetween(now, key.date)
		s.MesReferencia = int64(key.date.Month())
		s.AnoReferencia = int64(key.date.Year())
		s.DataRefFormatada = models.FormatDate(key.date)
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// TransformQuotes sums Volume per (Nome, data_ref) and derives dias_desde
func TransformQuotes(table *models.ResultTable, now time.Time) ([]models.QuoteSummary, error) {
	nameIdx := table.ColumnIndex(models.ColumnNome)
	dateIdx := table.ColumnIndex(models.ColumnDataRef)
	if nameIdx < 0 || dateIdx < 0 {
		return nil, fmt.Errorf("quote table requires %s and %s", models.ColumnNome, models.ColumnDataRef)
	}
	volumeIdx := table.ColumnIndex(models.ColumnVolume)

	type accumulator struct {
		count  int64
		volume nullableSum
	}
	groups := make(map[groupKey]*accumulator)
	var order []groupKey

	for i, row := range table.Rows {
		date, ok := cellDate(row[dateIdx])
		if !ok {
			return nil, fmt.Errorf("row %d: invalid %s %v", i, models.ColumnDataRef, row[dateIdx])
		}
		key := groupKey{value: FormatCell(row[nameIdx]), date: date}

		acc, exists := groups[key]
		if !exists {
			acc = &accumulator{}
			groups[key] = acc
			order = append(order, key)
		}
		acc.count++
		if volumeIdx >= 0 {
			acc.volume.add(row[volumeIdx])
		}
	}

	summaries := make([]models.QuoteSummary, 0, len(order))
	for _, key := range order {
		acc := groups[key]
		summaries = append(summaries, models.QuoteSummary{
			Acao:        key.value,
			RefDate:     key.date,
			VolumeTotal: acc.volume.total(),
			Contagem:    acc.count,
			DiasDesde:   daysBetween(now, key.date),
		})
	}
	return summaries, nil
}

func optionalText(row models.Row, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return FormatCell(row[idx])
}

// RefinedPartition is one hive-style partition of the refined output
type RefinedPartition struct {
	Date   time.Time
	Column string // codigo_acao or acao
	Value  string
	Table  *models.ResultTable
}

// Refine detects the raw schema, aggregates it and splits the result into
// one partition per (data_ref, instrument)
func Refine(table *models.ResultTable, now time.Time) (ETLSchema, []RefinedPartition, error) {
	schema, err := DetectSchema(table)
	if err != nil {
		return "", nil, err
	}

	var partitions []RefinedPartition
	switch schema {
	case SchemaComposition:
		summaries, err := TransformComposition(table, now)
		if err != nil {
			return "", nil, err
		}
		for _, s := range summaries {
			refined := models.NewResultTable(s.RefDate, table.Source, models.CompositionColumns...)
			refined.Rows = append(refined.Rows, s.Row())
			partitions = append(partitions, RefinedPartition{
				Date: s.RefDate, Column: models.PartitionInstrument, Value: s.CodigoAcao, Table: refined,
			})
		}
	case SchemaQuote:
		summaries, err := TransformQuotes(table, now)
		if err != nil {
			return "", nil, err
		}
		for _, s := range summaries {
			refined := models.NewResultTable(s.RefDate, table.Source, models.QuoteColumns...)
			refined.Rows = append(refined.Rows, s.Row())
			partitions = append(partitions, RefinedPartition{
				Date: s.RefDate, Column: models.PartitionQuoteName, Value: s.Acao, Table: refined,
			})
		}
	}

	return schema, partitions, nil
}

// ETLOutput is the refined output of one schema
type ETLOutput struct {
	Schema     ETLSchema `json:"schema"`
	SourceKeys []string  `json:"sourceKeys"`
	InputRows  int       `json:"inputRows"`
	Records    int       `json:"records"`
	Target     string    `json:"target"`
	Table      string    `json:"table,omitempty"`
	Cataloged  bool      `json:"cataloged"`
}

// ETLResult summarises one ETL run. Schema and Target describe the single
// schema found; a prefix holding both leaves Schema empty and lists each in Outputs.
type ETLResult struct {
	Schema        ETLSchema   `json:"schema,omitempty"`
	SourceKeys    []string    `json:"sourceKeys"`
	InputRows     int         `json:"inputRows"`
	Records       int         `json:"records"`
	PartitionKeys []string    `json:"partitionKeys"`
	Target        string      `json:"target"`
	Cataloged     bool        `json:"cataloged"`
	Outputs       []ETLOutput `json:"outputs"`
}

// ETLRunner reads raw parquet from S3, refines it and writes the partitions back
type ETLRunner struct {
	storage       *S3Client
	catalog       Catalog
	refinedPrefix string
	database      string
	tableName     string
	logger        *zap.Logger
	now           func() time.Time
}

// ETLConfig configures an ETLRunner
type ETLConfig struct {
	RefinedPrefix string
	Database      string
	Table         string
}

// NewETLRunner creates a runner. catalog may be nil to skip catalog registration.
func NewETLRunner(storage *S3Client, catalog Catalog, config ETLConfig, logger *zap.Logger) *ETLRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ETLRunner{
		storage:       storage,
		catalog:       catalog,
		refinedPrefix: strings.Trim(config.RefinedPrefix, "/"),
		database:      config.Database,
		tableName:     config.Table,
		logger:        logger,
		now:           time.Now,
	}
}

// Run refines source, either one raw object key or a prefix of raw objects.
// Objects are grouped by schema and each group is refined on its own.
func (r *ETLRunner) Run(ctx context.Context, source string) (*ETLResult, error) {
	keys, err := r.sourceKeys(ctx, source)
	if err != nil {
		return nil, err
	}

	groups, err := r.readRaw(ctx, keys)
	if err != nil {
		return nil, err
	}

	result := &ETLResult{SourceKeys: keys}
	for _, group := range groups {
		output, written, err := r.refineGroup(ctx, group)
		if err != nil {
			return nil, err
		}
		result.Outputs = append(result.Outputs, *output)
		result.InputRows += output.InputRows
		result.Records += output.Records
		result.PartitionKeys = append(result.PartitionKeys, written...)
		result.Cataloged = result.Cataloged || output.Cataloged
	}

	if len(result.Outputs) == 1 {
		result.Schema = result.Outputs[0].Schema
		result.Target = result.Outputs[0].Target
	} else {
		result.Target = r.storage.S3URI(r.refinedPrefix + "/")
	}

	r.logger.Info("ETL completed",
		zap.Int("schemas", len(result.Outputs)),
		zap.Int("input_rows", result.InputRows),
		zap.Int("records", result.Records),
		zap.String("target", result.Target))
	return result, nil
}

// refineGroup refines one schema's raw rows, writes the partitions under the
// schema's prefix and registers them in its catalog table
func (r *ETLRunner) refineGroup(ctx context.Context, group rawGroup) (*ETLOutput, []string, error) {
	schema, partitions, err := Refine(group.table, r.now())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to refine %s data: %w", group.schema, err)
	}
	prefix, tableName := RefinedTarget(schema, r.refinedPrefix, r.tableName)
	r.logger.Info("Refined raw data",
		zap.String("schema", string(schema)),
		zap.Strings("keys", group.keys),
		zap.Int("rows", group.table.Len()),
		zap.Int("partitions", len(partitions)))

	output := &ETLOutput{
		Schema:     schema,
		SourceKeys: group.keys,
		InputRows:  group.table.Len(),
		Records:    len(partitions),
		Target:     r.storage.S3URI(prefix + "/"),
		Table:      tableName,
	}

	written := make([]string, 0, len(partitions))
	for _, partition := range partitions {
		data, err := EncodeParquet(partition.Table)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode partition %s=%s: %w", partition.Column, partition.Value, err)
		}
		key := models.RefinedObjectKey(prefix, partition.Date, partition.Column, partition.Value)
		if _, err := r.storage.PutObject(ctx, key, data, ParquetContentType); err != nil {
			return nil, nil, err
		}
		written = append(written, key)
	}

	if r.catalog != nil && len(partitions) > 0 {
		if err := r.register(ctx, schema, prefix, tableName, partitions); err != nil {
			return nil, nil, fmt.Errorf("failed to catalog refined %s data: %w", schema, err)
		}
		output.Cataloged = true
	}
	return output, written, nil
}

func (r *ETLRunner) sourceKeys(ctx context.Context, source string) ([]string, error) {
	source = strings.TrimPrefix(source, r.storage.S3URI(""))
	source = strings.TrimPrefix(source, "/")
	if strings.HasSuffix(source, ".parquet") {
		return []string{source}, nil
	}

	files, err := r.storage.ListFiles(ctx, source)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, f := range files {
		if strings.HasSuffix(f.Key, ".parquet") {
			keys = append(keys, f.Key)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no parquet objects under %s", source)
	}
	return keys, nil
}

// rawGroup holds the raw rows of one schema, combined across objects
type rawGroup struct {
	schema ETLSchema
	keys   []string
	table  *models.ResultTable
}

// readRaw decodes the raw objects and concatenates them per schema, in order
// of first appearance. Objects of one schema must share their columns.
func (r *ETLRunner) readRaw(ctx context.Context, keys []string) ([]rawGroup, error) {
	var groups []rawGroup
	bySchema := make(map[ETLSchema]int)
	for _, key := range keys {
		data, err := r.storage.Download(ctx, key)
		if err != nil {
			return nil, err
		}
		table, err := DecodeParquet(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", key, err)
		}
		schema, err := DetectSchema(table)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		r.logger.Debug("Read raw object",
			zap.String("key", key), zap.String("schema", string(schema)), zap.Int("rows", table.Len()))

		i, ok := bySchema[schema]
		if !ok {
			bySchema[schema] = len(groups)
			groups = append(groups, rawGroup{schema: schema, keys: []string{key}, table: table})
			continue
		}
		if err := appendByName(groups[i].table, table); err != nil {
			return nil, fmt.Errorf("cannot combine %s: %w", key, err)
		}
		groups[i].keys = append(groups[i].keys, key)
	}
	return groups, nil
}

func appendByName(dst, src *models.ResultTable) error {
	if len(dst.Columns) != len(src.Columns) {
		return fmt.Errorf("column mismatch: %v vs %v", dst.ColumnNames(), src.ColumnNames())
	}
	positions := make([]int, len(dst.Columns))
	for i, col := range dst.Columns {
		idx := src.ColumnIndex(col.Name)
		if idx < 0 {
			return fmt.Errorf("column %q missing", col.Name)
		}
		positions[i] = idx
	}
	for _, row := range src.Rows {
		reordered := make(models.Row, len(positions))
		for i, idx := range positions {
			reordered[i] = row[idx]
		}
		dst.Rows = append(dst.Rows, reordered)
	}
	return nil
}

func (r *ETLRunner) register(ctx context.Context, schema ETLSchema, prefix, tableName string, partitions []RefinedPartition) error {
	definition := RefinedTableDefinition(schema, r.database, tableName, r.storage.S3URI(prefix+"/"))
	if err := r.catalog.EnsureTable(ctx, definition); err != nil {
		return err
	}

	specs := make([]PartitionSpec, 0, len(partitions))
	for _, p := range partitions {
		specs = append(specs, PartitionSpec{
			Values:   []string{models.FormatDate(p.Date), p.Value},
			Location: r.storage.S3URI(path.Dir(models.RefinedObjectKey(prefix, p.Date, p.Column, p.Value)) + "/"),
		})
	}
	return r.catalog.AddPartitions(ctx, definition, specs)
}

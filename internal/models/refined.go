package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Column names of the IBOV composition page
const (
	ColumnCodigo      = "Código"
	ColumnAcao        = "Ação"
	ColumnTipo        = "Tipo"
	ColumnQtdeTeorica = "Qtde. Teórica"
	ColumnPart        = "Part. (%)"
)

// Refined partition columns
const (
	PartitionInstrument = "codigo_acao"
	PartitionQuoteName  = "acao"
)

// TimestampLayout is used for processing timestamps in refined tables
const TimestampLayout = "2006-01-02 15:04:05"

// CompositionSummary is one refined row of the composition ETL,
// aggregated per instrument code and reference date.
type CompositionSummary struct {
	CodigoAcao             string
	RefDate                time.Time
	NomeAcao               string
	TipoAcao               string
	QuantidadeTeoricaTotal decimal.NullDecimal
	PercentualParticipacao decimal.NullDecimal
	ParticipacaoMedia      decimal.NullDecimal
	ContagemRegistros      int64

	DataProcessamento   time.Time
	DiasDesdeReferencia int64
	MesReferencia       int64
	AnoReferencia       int64
	DataRefFormatada    string
}

// QuoteSummary is one refined row of the quote ETL, aggregated per instrument
type QuoteSummary struct {
	Acao        string
	RefDate     time.Time
	VolumeTotal decimal.NullDecimal
	Contagem    int64
	DiasDesde   int64
}

// CompositionColumns is the refined composition schema without partition columns
var CompositionColumns = []Column{
	{Name: "nome_acao", Kind: KindString},
	{Name: "tipo_acao", Kind: KindString},
	{Name: "quantidade_teorica_total", Kind: KindFloat},
	{Name: "percentual_participacao", Kind: KindFloat},
	{Name: "contagem_registros", Kind: KindInt},
	{Name: "participacao_media", Kind: KindFloat},
	{Name: "data_processamento", Kind: KindString},
	{Name: "dias_desde_referencia", Kind: KindInt},
	{Name: "mes_referencia", Kind: KindInt},
	{Name: "ano_referencia", Kind: KindInt},
	{Name: "data_ref_formatada", Kind: KindString},
}

// QuoteColumns is the refined quote schema without partition columns
var QuoteColumns = []Column{
	{Name: "volume_total", Kind: KindFloat},
	{Name: "contagem", Kind: KindInt},
	{Name: "dias_desde", Kind: KindInt},
}

// Row renders the summary in CompositionColumns order
func (s CompositionSummary) Row() Row {
	return Row{
		s.NomeAcao,
		s.TipoAcao,
		nullableFloat(s.QuantidadeTeoricaTotal),
		nullableFloat(s.PercentualParticipacao),
		s.ContagemRegistros,
		nullableFloat(s.ParticipacaoMedia),
		s.DataProcessamento.Format(TimestampLayout),
		s.DiasDesdeReferencia,
		s.MesReferencia,
		s.AnoReferencia,
		s.DataRefFormatada,
	}
}

// Row renders the summary in QuoteColumns order
func (s QuoteSummary) Row() Row {
	return Row{nullableFloat(s.VolumeTotal), s.Contagem, s.DiasDesde}
}

func nullableFloat(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	f, _ := d.Decimal.Float64()
	return f
}

package stubserver

import (
	"testing"
	"time"

	"remessa-import/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildSheet(t *testing.T, rows [][]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

var sheetHeader = []interface{}{"seuNumero", "sacado", "cpfCnpj", "valor", "vencimento"}

func futureDate() string {
	return time.Now().AddDate(0, 1, 0).Format("2006-01-02")
}

func TestAnalyzeSpreadsheet_AllValid(t *testing.T) {
	due := futureDate()
	data := buildSheet(t, [][]interface{}{
		sheetHeader,
		{"001", "Fulano de Tal", "12345678901", "150,00", due},
		{"002", "Beltrano Ltda", "12345678000199", "2500.50", due},
	})

	s := analyzeSpreadsheet("titulos.xlsx", "ced-1", "", data, 30*time.Minute)
	assert.Equal(t, model.AnalysisValid, s.Outcome)
	assert.True(t, s.CanImport)
	assert.Equal(t, 2, s.Summary.Total)
	assert.Equal(t, 2, s.Summary.Valid)
	assert.Empty(t, s.Errors)
	assert.Empty(t, s.Warnings)
	assert.NotEmpty(t, s.ID)
	assert.True(t, s.ExpiresAt.After(s.CreatedAt))
}

func TestAnalyzeSpreadsheet_RowErrors(t *testing.T) {
	due := futureDate()
	data := buildSheet(t, [][]interface{}{
		sheetHeader,
		{"001", "Fulano", "12345678901", "150,00", due}, // valid
		{"", "Sicrano", "12345678901", "80,00", due},    // missing seuNumero
		{"003", "Beltrano", "12345678901", "-5", due},   // negative value
		{"004", "Ciclano", "12345678901", "10,00", "31/12/2026"}, // bad date format
	})

	s := analyzeSpreadsheet("titulos.xlsx", "ced-1", "", data, 30*time.Minute)
	assert.Equal(t, model.AnalysisInvalid, s.Outcome)
	assert.False(t, s.CanImport)
	assert.Equal(t, 4, s.Summary.Total)
	assert.Equal(t, 1, s.Summary.Valid)
	assert.Equal(t, 3, s.Summary.Errored)

	codes := make([]string, 0, len(s.Errors))
	for _, e := range s.Errors {
		codes = append(codes, e.Code)
	}
	assert.Contains(t, codes, "CAMPO_OBRIGATORIO")
	assert.Contains(t, codes, "VALOR_INVALIDO")
	assert.Contains(t, codes, "DATA_INVALIDA")

	// Line numbers count the header row.
	assert.Equal(t, 3, s.Errors[0].Line)
}

func TestAnalyzeSpreadsheet_WarningsStillImportable(t *testing.T) {
	past := time.Now().AddDate(0, 0, -10).Format("2006-01-02")
	data := buildSheet(t, [][]interface{}{
		sheetHeader,
		{"001", "Fulano", "123", "150,00", futureDate()}, // suspicious document
		{"002", "Sicrano", "12345678901", "80,00", past}, // past due date
	})

	s := analyzeSpreadsheet("titulos.xlsx", "ced-1", "", data, 30*time.Minute)
	assert.Equal(t, model.AnalysisValidWithWarnings, s.Outcome)
	assert.True(t, s.CanImport)
	assert.Equal(t, 2, s.Summary.Warned)
	require.Len(t, s.Warnings, 2)
	assert.Equal(t, "DOCUMENTO_SUSPEITO", s.Warnings[0].Code)
	assert.Equal(t, "VENCIMENTO_PASSADO", s.Warnings[1].Code)
}

func TestAnalyzeSpreadsheet_DuplicatesIgnored(t *testing.T) {
	due := futureDate()
	data := buildSheet(t, [][]interface{}{
		sheetHeader,
		{"001", "Fulano", "12345678901", "150,00", due},
		{"001", "Fulano de novo", "12345678901", "150,00", due},
		{"002", "Sicrano", "12345678901", "80,00", due},
	})

	s := analyzeSpreadsheet("titulos.xlsx", "ced-1", "", data, 30*time.Minute)
	assert.Equal(t, model.AnalysisValid, s.Outcome)
	assert.Equal(t, 2, s.Summary.Total)
	assert.Equal(t, 1, s.Summary.DuplicatesIgnored)
}

func TestAnalyzeSpreadsheet_MissingRequiredColumn(t *testing.T) {
	data := buildSheet(t, [][]interface{}{
		{"seuNumero", "sacado", "valor", "vencimento"}, // cpfCnpj missing
		{"001", "Fulano", "150,00", futureDate()},
	})

	s := analyzeSpreadsheet("titulos.xlsx", "ced-1", "", data, 30*time.Minute)
	assert.Equal(t, model.AnalysisInvalid, s.Outcome)
	require.Len(t, s.Errors, 1)
	assert.Equal(t, "COLUNA_OBRIGATORIA", s.Errors[0].Code)
	assert.Equal(t, "cpfcnpj", s.Errors[0].Column)
}

func TestAnalyzeSpreadsheet_EmptySheet(t *testing.T) {
	data := buildSheet(t, [][]interface{}{sheetHeader})

	s := analyzeSpreadsheet("titulos.xlsx", "ced-1", "", data, 30*time.Minute)
	assert.Equal(t, model.AnalysisInvalid, s.Outcome)
	require.Len(t, s.Errors, 1)
	assert.Equal(t, "PLANILHA_VAZIA", s.Errors[0].Code)
}

func TestAnalyzeSpreadsheet_UnreadableFile(t *testing.T) {
	s := analyzeSpreadsheet("titulos.xlsx", "ced-1", "", []byte("not a spreadsheet"), 30*time.Minute)
	assert.Equal(t, model.AnalysisInvalid, s.Outcome)
	assert.False(t, s.CanImport)
	require.Len(t, s.Errors, 1)
	assert.Equal(t, "ARQUIVO_INVALIDO", s.Errors[0].Code)
}

func TestAnalyzeSpreadsheet_HeaderCaseInsensitive(t *testing.T) {
	data := buildSheet(t, [][]interface{}{
		{"SEUNUMERO", "Sacado", "CpfCnpj", "VALOR", "Vencimento"},
		{"001", "Fulano", "12345678901", "150,00", futureDate()},
	})

	s := analyzeSpreadsheet("titulos.xlsx", "ced-1", "", data, 30*time.Minute)
	assert.Equal(t, model.AnalysisValid, s.Outcome)
}

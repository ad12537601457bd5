package stubserver

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"remessa-import/internal/model"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

var requiredColumns = []string{"seunumero", "sacado", "cpfcnpj", "valor", "vencimento"}

// analyzeSpreadsheet inspects an uploaded .xlsx and produces a
// non-committing analysis session: per-row errors and warnings as data,
// never as a transport failure.
func analyzeSpreadsheet(fileName, cedenteID, modality string, data []byte, ttl time.Duration) *model.AnalysisSession {
	now := time.Now()
	session := &model.AnalysisSession{
		ID:        uuid.New().String(),
		FileName:  fileName,
		CedenteID: cedenteID,
		Modality:  modality,
		Errors:    []model.RowError{},
		Warnings:  []model.RowWarning{},
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	rows, err := readFirstSheet(data)
	if err != nil {
		session.Errors = append(session.Errors, model.RowError{
			Line:    1,
			Code:    "ARQUIVO_INVALIDO",
			Message: "planilha não pôde ser lida: " + err.Error(),
		})
		finishAnalysis(session)
		return session
	}
	if len(rows) < 2 {
		session.Errors = append(session.Errors, model.RowError{
			Line:    1,
			Code:    "PLANILHA_VAZIA",
			Message: "planilha não contém linhas de dados",
		})
		finishAnalysis(session)
		return session
	}

	columnMap := make(map[string]int)
	for i, col := range rows[0] {
		columnMap[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range requiredColumns {
		if _, exists := columnMap[col]; !exists {
			session.Errors = append(session.Errors, model.RowError{
				Line:    1,
				Column:  col,
				Code:    "COLUNA_OBRIGATORIA",
				Message: "coluna obrigatória ausente: " + col,
			})
		}
	}
	if len(session.Errors) > 0 {
		finishAnalysis(session)
		return session
	}

	seen := make(map[string]bool)
	for i, row := range rows[1:] {
		line := i + 2 // spreadsheet line number, counting the header
		session.Summary.Total++

		getValue := func(colName string) string {
			if idx, exists := columnMap[colName]; exists && idx < len(row) {
				return strings.TrimSpace(row[idx])
			}
			return ""
		}

		seuNumero := getValue("seunumero")
		if seuNumero != "" && seen[seuNumero] {
			session.Summary.DuplicatesIgnored++
			session.Summary.Total--
			continue
		}
		if seuNumero != "" {
			seen[seuNumero] = true
		}

		errsBefore := len(session.Errors)
		warnsBefore := len(session.Warnings)

		if seuNumero == "" {
			session.Errors = append(session.Errors, model.RowError{
				Line: line, Column: "seuNumero", Code: "CAMPO_OBRIGATORIO",
				Message: "seuNumero é obrigatório",
			})
		}
		if getValue("sacado") == "" {
			session.Errors = append(session.Errors, model.RowError{
				Line: line, Column: "sacado", Code: "CAMPO_OBRIGATORIO",
				Message: "sacado é obrigatório",
			})
		}

		valorStr := getValue("valor")
		if valor, err := strconv.ParseFloat(strings.ReplaceAll(valorStr, ",", "."), 64); err != nil || valor <= 0 {
			session.Errors = append(session.Errors, model.RowError{
				Line: line, Column: "valor", Code: "VALOR_INVALIDO",
				Message: "valor deve ser numérico e positivo",
				Value:   valorStr,
			})
		}

		if doc := digitsOnly(getValue("cpfcnpj")); doc != "" && len(doc) != 11 && len(doc) != 14 {
			l := line
			session.Warnings = append(session.Warnings, model.RowWarning{
				Line: &l, Code: "DOCUMENTO_SUSPEITO",
				Message: "cpfCnpj não tem 11 nem 14 dígitos",
			})
		}

		if venc := getValue("vencimento"); venc != "" {
			if due, err := time.Parse("2006-01-02", venc); err != nil {
				session.Errors = append(session.Errors, model.RowError{
					Line: line, Column: "vencimento", Code: "DATA_INVALIDA",
					Message: "vencimento deve estar no formato AAAA-MM-DD",
					Value:   venc,
				})
			} else if due.Before(now.Truncate(24 * time.Hour)) {
				l := line
				session.Warnings = append(session.Warnings, model.RowWarning{
					Line: &l, Code: "VENCIMENTO_PASSADO",
					Message: "título já vencido",
				})
			}
		}

		switch {
		case len(session.Errors) > errsBefore:
			session.Summary.Errored++
		case len(session.Warnings) > warnsBefore:
			session.Summary.Warned++
			session.Summary.Valid++
		default:
			session.Summary.Valid++
		}
	}

	finishAnalysis(session)
	return session
}

func finishAnalysis(s *model.AnalysisSession) {
	switch {
	case len(s.Errors) > 0:
		s.Outcome = model.AnalysisInvalid
		s.CanImport = false
	case len(s.Warnings) > 0:
		s.Outcome = model.AnalysisValidWithWarnings
		s.CanImport = true
	default:
		s.Outcome = model.AnalysisValid
		s.CanImport = true
	}
}

func readFirstSheet(data []byte) ([][]string, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, excelize.ErrSheetNotExist{SheetName: ""}
	}
	return file.GetRows(sheets[0])
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

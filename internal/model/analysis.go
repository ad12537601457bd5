package model

import "time"

type AnalysisOutcome string

const (
	AnalysisValid             AnalysisOutcome = "VALID"
	AnalysisInvalid           AnalysisOutcome = "INVALID"
	AnalysisValidWithWarnings AnalysisOutcome = "VALID_WITH_WARNINGS"
)

// RowSummary aggregates per-row results of a spreadsheet analysis.
type RowSummary struct {
	Total             int `json:"total"`
	Valid             int `json:"validas"`
	Errored           int `json:"comErro"`
	Warned            int `json:"comAviso"`
	DuplicatesIgnored int `json:"duplicadasIgnoradas"`
}

type RowError struct {
	Line    int    `json:"linha"`
	Column  string `json:"coluna,omitempty"`
	Code    string `json:"codigo"`
	Message string `json:"mensagem"`
	Value   string `json:"valor,omitempty"`
}

type RowWarning struct {
	Line    *int   `json:"linha,omitempty"`
	Code    string `json:"codigo"`
	Message string `json:"mensagem"`
}

// AnalysisSession is a time-boxed, non-committing pre-validation of a
// loosely-structured file. It is consumed by a confirm call or left to
// expire server-side.
type AnalysisSession struct {
	ID        string          `json:"id"`
	FileName  string          `json:"nomeArquivo"`
	CedenteID string          `json:"cedenteId"`
	Modality  string          `json:"modalidade,omitempty"`
	Outcome   AnalysisOutcome `json:"resultado"`
	CanImport bool            `json:"podeImportar"`
	Summary   RowSummary      `json:"resumo"`
	Errors    []RowError      `json:"erros"`
	Warnings  []RowWarning    `json:"avisos"`
	CreatedAt time.Time       `json:"criadoEm"`
	ExpiresAt time.Time       `json:"expiraEm"`
}

// Expired reports whether the session is past its server-supplied expiry.
func (s *AnalysisSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

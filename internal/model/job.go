package model

import "time"

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDENTE"
	JobStatusProcessing JobStatus = "PROCESSANDO"
	JobStatusSuccess    JobStatus = "FINALIZADO_SUCESSO"
	JobStatusFailure    JobStatus = "FINALIZADO_FALHA"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailure
}

// CanReprocess reports whether a reprocess request makes sense for this
// status. Only failed jobs are eligible.
func (s JobStatus) CanReprocess() bool {
	return s == JobStatusFailure
}

type FileKind string

const (
	FileKindStructuredLedger FileKind = "STRUCTURED_LEDGER"
	FileKindXML              FileKind = "XML"
	FileKindArchive          FileKind = "ARCHIVE"
	FileKindSpreadsheet      FileKind = "SPREADSHEET"
)

// ImportJob is one server-tracked import execution. The server owns every
// mutation; clients only ever read it.
type ImportJob struct {
	ID            string     `json:"id"`
	Origin        string     `json:"origem"`
	Kind          FileKind   `json:"tipoArquivo"`
	LayoutVariant string     `json:"layoutBancario,omitempty"`
	CedenteID     string     `json:"cedenteId"`
	FileName      string     `json:"nomeArquivo"`
	FileDigest    string     `json:"hashArquivo,omitempty"`
	FileKey       string     `json:"fileKey,omitempty"`
	Status        JobStatus  `json:"status"`
	ErrorSummary  string     `json:"resumoErro,omitempty"`
	FailureCode   string     `json:"codigoFalha,omitempty"`
	Attempts      int        `json:"tentativas"`
	LastAttemptAt *time.Time `json:"ultimaTentativaEm,omitempty"`
	CorrelationID string     `json:"correlacaoId,omitempty"`
	SubmittedBy   string     `json:"usuario,omitempty"`
	CreatedAt     time.Time  `json:"criadoEm"`
	CompletedAt   *time.Time `json:"concluidoEm,omitempty"`
}

// JobEvent is an append-only entry in a job's timeline.
type JobEvent struct {
	ID        string    `json:"id"`
	Status    JobStatus `json:"status"`
	Message   string    `json:"mensagem,omitempty"`
	CreatedAt time.Time `json:"criadoEm"`
}

// JobDetail is the registry detail shape: the job plus its event log in
// the order the server returned it.
type JobDetail struct {
	ImportJob
	Events []JobEvent `json:"eventos"`
}

package model

// SubmitReceipt is the acknowledgment returned by a direct import or a
// confirmed analysis. The created job itself is observed later through
// the registry and the live channel.
type SubmitReceipt struct {
	CorrelationID string `json:"correlacaoId,omitempty"`
	Message       string `json:"mensagem,omitempty"`
}

// JobPage is one page of the job registry listing.
type JobPage struct {
	Items      []ImportJob `json:"items"`
	Page       int         `json:"page"`
	PageSize   int         `json:"pageSize"`
	TotalItems int         `json:"totalItems"`
	TotalPages int         `json:"totalPages"`
}

// ChangeNotification is the live-channel payload: a single job
// identifier whose state changed.
type ChangeNotification struct {
	ImportacaoID string `json:"importacaoId"`
}

// SubscribeRequest is sent over the live channel to (re)subscribe the
// caller's currently-active tenant set.
type SubscribeRequest struct {
	Action   string   `json:"action"`
	Empresas []string `json:"empresas"`
}

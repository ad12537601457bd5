package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// The import server emits camelCase or PascalCase keys depending on which
// backend revision served the request. Tolerance is implemented once here,
// as a declarative alias table per payload, instead of per-call lookups.
// Missing optional fields decode to zero values, never to an error.

var jobFieldAliases = map[string][]string{
	"id":                {"id", "Id"},
	"origem":            {"origem", "Origem"},
	"tipoArquivo":       {"tipoArquivo", "TipoArquivo"},
	"layoutBancario":    {"layoutBancario", "LayoutBancario"},
	"cedenteId":         {"cedenteId", "CedenteId"},
	"nomeArquivo":       {"nomeArquivo", "NomeArquivo"},
	"hashArquivo":       {"hashArquivo", "HashArquivo"},
	"fileKey":           {"fileKey", "FileKey"},
	"status":            {"status", "Status"},
	"resumoErro":        {"resumoErro", "ResumoErro"},
	"codigoFalha":       {"codigoFalha", "CodigoFalha"},
	"tentativas":        {"tentativas", "Tentativas"},
	"ultimaTentativaEm": {"ultimaTentativaEm", "UltimaTentativaEm"},
	"correlacaoId":      {"correlacaoId", "CorrelacaoId"},
	"usuario":           {"usuario", "Usuario"},
	"criadoEm":          {"criadoEm", "CriadoEm"},
	"concluidoEm":       {"concluidoEm", "ConcluidoEm"},
	"eventos":           {"eventos", "Eventos"},
}

var eventFieldAliases = map[string][]string{
	"id":       {"id", "Id"},
	"status":   {"status", "Status"},
	"mensagem": {"mensagem", "Mensagem"},
	"criadoEm": {"criadoEm", "CriadoEm"},
}

var pageFieldAliases = map[string][]string{
	"items":      {"items", "Items"},
	"page":       {"page", "Page"},
	"pageSize":   {"pageSize", "PageSize"},
	"totalItems": {"totalItems", "TotalItems"},
	"totalPages": {"totalPages", "TotalPages"},
}

var notificationFieldAliases = map[string][]string{
	"importacaoId": {"importacaoId", "ImportacaoId"},
}

type looseMap map[string]json.RawMessage

func parseLoose(data []byte) (looseMap, error) {
	var m looseMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return m, nil
}

func (m looseMap) raw(aliases map[string][]string, field string) (json.RawMessage, bool) {
	for _, name := range aliases[field] {
		if v, ok := m[name]; ok && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

func (m looseMap) str(aliases map[string][]string, field string) string {
	v, ok := m.raw(aliases, field)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return s
}

func (m looseMap) integer(aliases map[string][]string, field string) int {
	v, ok := m.raw(aliases, field)
	if !ok {
		return 0
	}
	var n int
	if err := json.Unmarshal(v, &n); err != nil {
		return 0
	}
	return n
}

func (m looseMap) when(aliases map[string][]string, field string) time.Time {
	s := m.str(aliases, field)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (m looseMap) whenPtr(aliases map[string][]string, field string) *time.Time {
	t := m.when(aliases, field)
	if t.IsZero() {
		return nil
	}
	return &t
}

func decodeJobFields(m looseMap) ImportJob {
	return ImportJob{
		ID:            m.str(jobFieldAliases, "id"),
		Origin:        m.str(jobFieldAliases, "origem"),
		Kind:          FileKind(m.str(jobFieldAliases, "tipoArquivo")),
		LayoutVariant: m.str(jobFieldAliases, "layoutBancario"),
		CedenteID:     m.str(jobFieldAliases, "cedenteId"),
		FileName:      m.str(jobFieldAliases, "nomeArquivo"),
		FileDigest:    m.str(jobFieldAliases, "hashArquivo"),
		FileKey:       m.str(jobFieldAliases, "fileKey"),
		Status:        JobStatus(m.str(jobFieldAliases, "status")),
		ErrorSummary:  m.str(jobFieldAliases, "resumoErro"),
		FailureCode:   m.str(jobFieldAliases, "codigoFalha"),
		Attempts:      m.integer(jobFieldAliases, "tentativas"),
		LastAttemptAt: m.whenPtr(jobFieldAliases, "ultimaTentativaEm"),
		CorrelationID: m.str(jobFieldAliases, "correlacaoId"),
		SubmittedBy:   m.str(jobFieldAliases, "usuario"),
		CreatedAt:     m.when(jobFieldAliases, "criadoEm"),
		CompletedAt:   m.whenPtr(jobFieldAliases, "concluidoEm"),
	}
}

// DecodeJob decodes a single registry job row, tolerating either key casing.
func DecodeJob(data []byte) (ImportJob, error) {
	m, err := parseLoose(data)
	if err != nil {
		return ImportJob{}, err
	}
	return decodeJobFields(m), nil
}

// DecodeJobDetail decodes a registry detail payload including its event log.
// Events are kept in the order the server returned them.
func DecodeJobDetail(data []byte) (JobDetail, error) {
	m, err := parseLoose(data)
	if err != nil {
		return JobDetail{}, err
	}

	detail := JobDetail{ImportJob: decodeJobFields(m), Events: []JobEvent{}}

	rawEvents, ok := m.raw(jobFieldAliases, "eventos")
	if !ok {
		return detail, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawEvents, &items); err != nil {
		return JobDetail{}, fmt.Errorf("failed to decode eventos: %w", err)
	}
	for _, item := range items {
		em, err := parseLoose(item)
		if err != nil {
			return JobDetail{}, err
		}
		detail.Events = append(detail.Events, JobEvent{
			ID:        em.str(eventFieldAliases, "id"),
			Status:    JobStatus(em.str(eventFieldAliases, "status")),
			Message:   em.str(eventFieldAliases, "mensagem"),
			CreatedAt: em.when(eventFieldAliases, "criadoEm"),
		})
	}
	return detail, nil
}

// DecodeJobPage decodes a registry list payload, tolerating either key casing.
func DecodeJobPage(data []byte) (JobPage, error) {
	m, err := parseLoose(data)
	if err != nil {
		return JobPage{}, err
	}

	page := JobPage{
		Items:      []ImportJob{},
		Page:       m.integer(pageFieldAliases, "page"),
		PageSize:   m.integer(pageFieldAliases, "pageSize"),
		TotalItems: m.integer(pageFieldAliases, "totalItems"),
		TotalPages: m.integer(pageFieldAliases, "totalPages"),
	}

	rawItems, ok := m.raw(pageFieldAliases, "items")
	if !ok {
		return page, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawItems, &items); err != nil {
		return JobPage{}, fmt.Errorf("failed to decode items: %w", err)
	}
	for _, item := range items {
		im, err := parseLoose(item)
		if err != nil {
			return JobPage{}, err
		}
		page.Items = append(page.Items, decodeJobFields(im))
	}
	return page, nil
}

// DecodeNotification decodes a live-channel change notification.
func DecodeNotification(data []byte) (ChangeNotification, error) {
	m, err := parseLoose(data)
	if err != nil {
		return ChangeNotification{}, err
	}
	return ChangeNotification{
		ImportacaoID: m.str(notificationFieldAliases, "importacaoId"),
	}, nil
}

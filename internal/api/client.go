package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"remessa-import/internal/config"
	"remessa-import/internal/logger"
	"remessa-import/internal/model"
	"remessa-import/pkg/errors"

	"github.com/rs/zerolog"
)

// Client talks to the import server: job submission, analysis sessions
// and the job registry.
type Client struct {
	cfg        *config.Config
	httpClient *http.Client
	log        zerolog.Logger
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.API.Timeout,
		},
		log: logger.Get(),
	}
}

// SubmitRequest carries everything a direct import or analyze call needs.
// TenantID is empty on a first attempt and set only on a context retry.
type SubmitRequest struct {
	FileName      string
	Data          []byte
	Kind          model.FileKind
	CedenteID     string
	LayoutVariant string
	Digest        string
	Origin        string
	TenantID      string
}

// SubmitImport performs a direct import: one multipart call, after which
// the created job is observed through the registry and the live channel.
func (c *Client) SubmitImport(ctx context.Context, req SubmitRequest) (*model.SubmitReceipt, error) {
	body, contentType, err := buildMultipart(req)
	if err != nil {
		return nil, err
	}

	c.log.Debug().
		Str("file", req.FileName).
		Str("kind", string(req.Kind)).
		Msg("Submitting direct import")

	var receipt model.SubmitReceipt
	if err := c.postMultipart(ctx, c.cfg.API.SubmitEndpoint, body, contentType, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Analyze uploads a loosely-structured file for pre-validation. It
// returns an analysis session and never mutates the job registry.
func (c *Client) Analyze(ctx context.Context, req SubmitRequest) (*model.AnalysisSession, error) {
	body, contentType, err := buildMultipart(req)
	if err != nil {
		return nil, err
	}

	c.log.Debug().Str("file", req.FileName).Msg("Submitting file for analysis")

	var session model.AnalysisSession
	if err := c.postMultipart(ctx, c.cfg.API.AnalyzeEndpoint, body, contentType, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ConfirmAnalysis commits a previously analyzed session. ackWarnings must
// be true when the session carried warnings; the server rejects the call
// otherwise.
func (c *Client) ConfirmAnalysis(ctx context.Context, sessionID string, ackWarnings bool, tenantID string) (*model.SubmitReceipt, error) {
	payload := map[string]interface{}{
		"sessaoId":          sessionID,
		"importarComAvisos": ackWarnings,
	}
	if tenantID != "" {
		payload["empresaId"] = tenantID
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal confirm payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.API.BaseURL+c.cfg.API.ConfirmEndpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("confirm request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, decodeError(resp.StatusCode, data)
	}

	var receipt model.SubmitReceipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return nil, fmt.Errorf("failed to decode confirm response: %w", err)
	}
	return &receipt, nil
}

// List retrieves one page of the job registry.
func (c *Client) List(ctx context.Context, page, pageSize int) (*model.JobPage, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("pageSize", strconv.Itoa(pageSize))

	data, err := c.get(ctx, c.cfg.API.RegistryEndpoint+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	result, err := model.DecodeJobPage(data)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Detail retrieves one job with its event log in server order.
func (c *Client) Detail(ctx context.Context, jobID string) (*model.JobDetail, error) {
	data, err := c.get(ctx, c.cfg.API.RegistryEndpoint+"/"+url.PathEscape(jobID))
	if err != nil {
		return nil, err
	}

	detail, err := model.DecodeJobDetail(data)
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

// Reprocess requests re-execution of a failed job. The server decides
// eligibility; no client-side deduplication is applied.
func (c *Client) Reprocess(ctx context.Context, jobID string) error {
	endpoint := c.cfg.API.RegistryEndpoint + "/" + url.PathEscape(jobID) + "/reprocessar"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.API.BaseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("reprocess request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(resp.Body)
		return decodeError(resp.StatusCode, data)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.API.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.API.Token)
	}
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.API.BaseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp.StatusCode, data)
	}
	return data, nil
}

func (c *Client) postMultipart(ctx context.Context, endpoint string, body *bytes.Buffer, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.API.BaseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusAccepted {
		return decodeError(resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func buildMultipart(req SubmitRequest) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("arquivo", req.FileName)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write file part: %w", err)
	}

	fields := map[string]string{
		"cedenteId":   req.CedenteID,
		"tipoArquivo": string(req.Kind),
		"origem":      req.Origin,
	}
	if req.Digest != "" {
		fields["hashArquivo"] = req.Digest
	}
	if req.LayoutVariant != "" {
		fields["layoutBancario"] = req.LayoutVariant
	}
	if req.TenantID != "" {
		fields["empresaId"] = req.TenantID
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", name, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

// decodeError extracts a human-readable message and error code from a
// server error response, tolerating either key casing.
func decodeError(status int, data []byte) error {
	apiErr := errors.APIError{Status: status, Message: http.StatusText(status)}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err == nil {
		if msg := pickString(raw, "mensagem", "Mensagem", "message"); msg != "" {
			apiErr.Message = msg
		}
		apiErr.Code = pickString(raw, "codigo", "Codigo", "code")
	}
	return apiErr
}

func pickString(raw map[string]json.RawMessage, names ...string) string {
	for _, name := range names {
		if v, ok := raw[name]; ok {
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				return s
			}
		}
	}
	return ""
}

package stubserver

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"remessa-import/internal/api"
	"remessa-import/internal/config"
	"remessa-import/internal/importer"
	"remessa-import/internal/model"
	"remessa-import/internal/tenant"
	"remessa-import/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	srv.Start(ctx)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		srv.Stop()
	})
	return srv, ts
}

func clientFor(t *testing.T, baseURL string) (*config.Config, *api.Client) {
	t.Helper()
	cfg := &config.Config{}
	cfg.API.BaseURL = baseURL
	cfg.API.SubmitEndpoint = "/api/importacoes"
	cfg.API.AnalyzeEndpoint = "/api/importacoes/analisar"
	cfg.API.ConfirmEndpoint = "/api/importacoes/confirmar"
	cfg.API.RegistryEndpoint = "/api/importacoes"
	cfg.API.Timeout = 5 * time.Second
	cfg.Import.Origin = "PORTAL"
	return cfg, api.NewClient(cfg)
}

func waitForStatus(t *testing.T, c *api.Client, correlationID string, want model.JobStatus) model.ImportJob {
	t.Helper()
	var found model.ImportJob
	require.Eventually(t, func() bool {
		page, err := c.List(context.Background(), 1, 50)
		if err != nil {
			return false
		}
		for _, job := range page.Items {
			if job.CorrelationID == correlationID && job.Status == want {
				found = job
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
	return found
}

func TestServer_DirectImportLifecycle(t *testing.T) {
	_, ts := startServer(t, Options{})
	cfg, client := clientFor(t, ts.URL)

	service := importer.NewService(cfg, client)
	service.SetCedente("ced-1")
	service.SetLayoutVariant("CNAB400")
	_, err := service.SelectFile("remessa_001.rem", []byte("0REMESSA01COBRANCA"))
	require.NoError(t, err)

	receipt, err := service.Submit(context.Background(), nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, receipt.CorrelationID)

	job := waitForStatus(t, client, receipt.CorrelationID, model.JobStatusSuccess)
	assert.Equal(t, model.FileKindStructuredLedger, job.Kind)
	assert.Equal(t, "CNAB400", job.LayoutVariant)
	assert.Equal(t, "remessa_001.rem", job.FileName)
	assert.NotEmpty(t, job.FileDigest, "digest travels with the submission")
	assert.Equal(t, 1, job.Attempts)

	// The detail view carries the full event timeline in order.
	detail, err := client.Detail(context.Background(), job.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(detail.Events), 3)
	assert.Equal(t, model.JobStatusPending, detail.Events[0].Status)
	assert.Equal(t, model.JobStatusSuccess, detail.Events[len(detail.Events)-1].Status)
}

func TestServer_LargeLedgerDirectImportNoSession(t *testing.T) {
	_, ts := startServer(t, Options{})
	cfg, client := clientFor(t, ts.URL)

	service := importer.NewService(cfg, client)
	service.SetCedente("ced-1")
	payload := bytes.Repeat([]byte("7"), 5<<20)
	_, err := service.SelectFile("CB040512.cnab", payload)
	require.NoError(t, err)

	receipt, err := service.Submit(context.Background(), nil, nil)
	require.NoError(t, err)

	// One submission, one registry entry, no analysis session involved.
	assert.Nil(t, service.Session())
	waitForStatus(t, client, receipt.CorrelationID, model.JobStatusSuccess)
	page, err := client.List(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalItems)
	assert.Equal(t, model.FileKindStructuredLedger, page.Items[0].Kind)
}

func TestServer_AmbiguousContextRetriedOnce(t *testing.T) {
	_, ts := startServer(t, Options{AmbiguousTenant: true})
	cfg, client := clientFor(t, ts.URL)

	service := importer.NewService(cfg, client)
	service.SetCedente("ced-1")
	_, err := service.SelectFile("remessa.rem", []byte("0REMESSA"))
	require.NoError(t, err)

	active := []tenant.Tenant{{ID: "emp-1"}, {ID: "emp-2"}, {ID: "emp-3"}}
	chooserCalls := 0
	chooser := tenant.ChooserFunc(func(ctx context.Context, active []tenant.Tenant) (string, error) {
		chooserCalls++
		return active[2].ID, nil
	})

	receipt, err := service.Submit(context.Background(), active, chooser)
	require.NoError(t, err)
	assert.Equal(t, 1, chooserCalls)

	waitForStatus(t, client, receipt.CorrelationID, model.JobStatusSuccess)
}

func TestServer_AmbiguousContextSingleTenantFails(t *testing.T) {
	_, ts := startServer(t, Options{AmbiguousTenant: true})
	cfg, client := clientFor(t, ts.URL)

	service := importer.NewService(cfg, client)
	service.SetCedente("ced-1")
	_, err := service.SelectFile("remessa.rem", []byte("0REMESSA"))
	require.NoError(t, err)

	active := []tenant.Tenant{{ID: "emp-1"}}
	chooser := tenant.ChooserFunc(func(ctx context.Context, active []tenant.Tenant) (string, error) {
		t.Fatal("chooser must not run with a single active tenant")
		return "", nil
	})

	_, err = service.Submit(context.Background(), active, chooser)
	assert.ErrorIs(t, err, errors.ErrTenantAmbiguous)
}

func TestServer_SpreadsheetAnalyzeConfirmFlow(t *testing.T) {
	_, ts := startServer(t, Options{})
	cfg, client := clientFor(t, ts.URL)

	due := futureDate()
	data := buildSheet(t, [][]interface{}{
		sheetHeader,
		{"001", "Fulano", "12345678901", "150,00", due},
		{"002", "Sicrano", "12345678901", "80,00", due},
	})

	service := importer.NewService(cfg, client)
	service.SetCedente("ced-1")
	_, err := service.SelectFile("titulos.xlsx", data)
	require.NoError(t, err)

	session, err := service.Analyze(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisValid, session.Outcome)
	assert.Equal(t, 2, session.Summary.Valid)

	receipt, err := service.Confirm(context.Background(), false, nil, nil)
	require.NoError(t, err)

	job := waitForStatus(t, client, receipt.CorrelationID, model.JobStatusSuccess)
	assert.Equal(t, model.FileKindSpreadsheet, job.Kind)

	// The session was consumed: a second confirm of the same session id
	// is a stale request.
	_, err = client.ConfirmAnalysis(context.Background(), session.ID, false, "")
	assert.ErrorIs(t, err, errors.ErrSessionExpired)
}

func TestServer_ConcurrentRegistryReadsDuringProcessing(t *testing.T) {
	_, ts := startServer(t, Options{ProcessingDelay: 5 * time.Millisecond, Workers: 8})
	cfg, client := clientFor(t, ts.URL)

	correlationIDs := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		service := importer.NewService(cfg, client)
		service.SetCedente("ced-1")
		_, err := service.SelectFile(fmt.Sprintf("remessa_%02d.rem", i), []byte("0REMESSA"))
		require.NoError(t, err)
		receipt, err := service.Submit(context.Background(), nil, nil)
		require.NoError(t, err)
		correlationIDs = append(correlationIDs, receipt.CorrelationID)
	}

	// Hammer list and detail while the pool is still moving the jobs
	// through their lifecycle.
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				page, err := client.List(context.Background(), 1, 20)
				if err != nil {
					continue
				}
				for _, job := range page.Items {
					if _, err := client.Detail(context.Background(), job.ID); err != nil {
						return
					}
				}
			}
		}()
	}

	for _, id := range correlationIDs {
		waitForStatus(t, client, id, model.JobStatusSuccess)
	}
	close(done)
	wg.Wait()
}

func TestServer_AnalysisReportsRowErrorsWithoutTouchingRegistry(t *testing.T) {
	_, ts := startServer(t, Options{})
	cfg, client := clientFor(t, ts.URL)

	// Ten data rows, two of them broken.
	due := futureDate()
	rows := [][]interface{}{sheetHeader}
	for i := 1; i <= 8; i++ {
		rows = append(rows, []interface{}{
			fmt.Sprintf("%03d", i), "Sacado Válido", "12345678901", "100,00", due,
		})
	}
	rows = append(rows,
		[]interface{}{"", "Sem Numero", "12345678901", "100,00", due},
		[]interface{}{"010", "Valor Ruim", "12345678901", "abc", due},
	)

	service := importer.NewService(cfg, client)
	service.SetCedente("ced-1")
	_, err := service.SelectFile("titulos.xlsx", buildSheet(t, rows))
	require.NoError(t, err)

	session, err := service.Analyze(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisInvalid, session.Outcome)
	assert.Equal(t, 10, session.Summary.Total)
	assert.Equal(t, 8, session.Summary.Valid)
	assert.Equal(t, 2, session.Summary.Errored)
	require.Len(t, session.Errors, 2)
	for _, rowErr := range session.Errors {
		assert.NotZero(t, rowErr.Line)
		assert.NotEmpty(t, rowErr.Code)
		assert.NotEmpty(t, rowErr.Message)
	}

	// The confirm attempt dies client-side; the analysis never created
	// registry entries either.
	_, err = service.Confirm(context.Background(), true, nil, nil)
	assert.ErrorIs(t, err, errors.ErrAnalysisInvalid)

	page, err := client.List(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Zero(t, page.TotalItems)
}

func TestServer_InvalidAnalysisCannotBeConfirmed(t *testing.T) {
	_, ts := startServer(t, Options{})
	_, client := clientFor(t, ts.URL)

	data := buildSheet(t, [][]interface{}{
		sheetHeader,
		{"", "Fulano", "12345678901", "150,00", futureDate()},
	})

	session, err := client.Analyze(context.Background(), api.SubmitRequest{
		FileName: "titulos.xlsx", Data: data,
		Kind: model.FileKindSpreadsheet, CedenteID: "ced-1", Origin: "PORTAL",
	})
	require.NoError(t, err, "row errors are analysis data, not a transport failure")
	assert.Equal(t, model.AnalysisInvalid, session.Outcome)

	// The server enforces the same rule when the client-side guard is
	// bypassed.
	_, err = client.ConfirmAnalysis(context.Background(), session.ID, true, "")
	require.Error(t, err)
	var apiErr errors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Status)
}

func TestServer_WarningsMustBeAcknowledged(t *testing.T) {
	_, ts := startServer(t, Options{})
	_, client := clientFor(t, ts.URL)

	data := buildSheet(t, [][]interface{}{
		sheetHeader,
		{"001", "Fulano", "123", "150,00", futureDate()},
	})

	session, err := client.Analyze(context.Background(), api.SubmitRequest{
		FileName: "titulos.xlsx", Data: data,
		Kind: model.FileKindSpreadsheet, CedenteID: "ced-1", Origin: "PORTAL",
	})
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisValidWithWarnings, session.Outcome)

	_, err = client.ConfirmAnalysis(context.Background(), session.ID, false, "")
	require.Error(t, err)
	var apiErr errors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "AVISOS_NAO_CONFIRMADOS", apiErr.Code)

	// Acknowledging the warnings lets the import through.
	receipt, err := client.ConfirmAnalysis(context.Background(), session.ID, true, "")
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.CorrelationID)
}

func TestServer_ExpiredSessionRejected(t *testing.T) {
	_, ts := startServer(t, Options{SessionTTL: -time.Minute})
	_, client := clientFor(t, ts.URL)

	data := buildSheet(t, [][]interface{}{
		sheetHeader,
		{"001", "Fulano", "12345678901", "150,00", futureDate()},
	})

	session, err := client.Analyze(context.Background(), api.SubmitRequest{
		FileName: "titulos.xlsx", Data: data,
		Kind: model.FileKindSpreadsheet, CedenteID: "ced-1", Origin: "PORTAL",
	})
	require.NoError(t, err)

	_, err = client.ConfirmAnalysis(context.Background(), session.ID, false, "")
	assert.ErrorIs(t, err, errors.ErrSessionExpired)
}

func TestServer_FailureAndReprocess(t *testing.T) {
	_, ts := startServer(t, Options{FailPattern: "falha"})
	cfg, client := clientFor(t, ts.URL)

	service := importer.NewService(cfg, client)
	service.SetCedente("ced-1")
	_, err := service.SelectFile("remessa_falha.rem", []byte("0REMESSA"))
	require.NoError(t, err)

	receipt, err := service.Submit(context.Background(), nil, nil)
	require.NoError(t, err)

	job := waitForStatus(t, client, receipt.CorrelationID, model.JobStatusFailure)
	assert.Equal(t, "LAYOUT_INVALIDO", job.FailureCode)
	assert.NotEmpty(t, job.ErrorSummary)

	// Reprocess is accepted for the failed job and runs it again.
	require.NoError(t, client.Reprocess(context.Background(), job.ID))

	require.Eventually(t, func() bool {
		detail, err := client.Detail(context.Background(), job.ID)
		return err == nil && detail.Status == model.JobStatusFailure && detail.Attempts == 2
	}, 5*time.Second, 20*time.Millisecond)

	// A successful job is not eligible.
	service2 := importer.NewService(cfg, client)
	service2.SetCedente("ced-1")
	_, err = service2.SelectFile("remessa_ok.rem", []byte("0REMESSA"))
	require.NoError(t, err)
	receipt2, err := service2.Submit(context.Background(), nil, nil)
	require.NoError(t, err)
	ok := waitForStatus(t, client, receipt2.CorrelationID, model.JobStatusSuccess)

	err = client.Reprocess(context.Background(), ok.ID)
	require.Error(t, err)
	var apiErr errors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Status)
}

func TestServer_PascalCaseResponsesStillDecode(t *testing.T) {
	_, ts := startServer(t, Options{PascalCase: true})
	cfg, client := clientFor(t, ts.URL)

	service := importer.NewService(cfg, client)
	service.SetCedente("ced-1")
	_, err := service.SelectFile("remessa.rem", []byte("0REMESSA"))
	require.NoError(t, err)

	receipt, err := service.Submit(context.Background(), nil, nil)
	require.NoError(t, err)

	job := waitForStatus(t, client, receipt.CorrelationID, model.JobStatusSuccess)
	assert.Equal(t, "remessa.rem", job.FileName)
	assert.Equal(t, "ced-1", job.CedenteID)

	detail, err := client.Detail(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, detail.Events)
	assert.Equal(t, model.JobStatusPending, detail.Events[0].Status)
}

func TestServer_ListPagination(t *testing.T) {
	srv, ts := startServer(t, Options{})
	_, client := clientFor(t, ts.URL)

	for i := 0; i < 5; i++ {
		srv.createJob(&submitForm{
			fileName:  "remessa.rem",
			cedenteID: "ced-1",
			kind:      string(model.FileKindStructuredLedger),
			origin:    "PORTAL",
		})
	}

	page, err := client.List(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, page.TotalItems)
	assert.Equal(t, 3, page.TotalPages)
	assert.Len(t, page.Items, 2)

	last, err := client.List(context.Background(), 3, 2)
	require.NoError(t, err)
	assert.Len(t, last.Items, 1)

	beyond, err := client.List(context.Background(), 9, 2)
	require.NoError(t, err)
	assert.Empty(t, beyond.Items)
}

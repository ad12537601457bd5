package importer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"remessa-import/internal/api"
	"remessa-import/internal/classify"
	"remessa-import/internal/config"
	"remessa-import/internal/digest"
	"remessa-import/internal/logger"
	"remessa-import/internal/model"
	"remessa-import/internal/tenant"
	"remessa-import/pkg/errors"

	"github.com/rs/zerolog"
)

// SelectedFile is the single-owner current selection. Choosing a new file
// replaces the whole value and discards any prior analysis session.
type SelectedFile struct {
	Name   string
	Size   int64
	Data   []byte
	Kind   model.FileKind
	digest *digest.Computation
}

// Service drives the two submission protocols: direct import for
// structured ledger, XML and archive files, and analyze-then-confirm for
// spreadsheets. Every write goes through the ambiguous-context retry
// protocol.
type Service struct {
	cfg    *config.Config
	client *api.Client
	log    zerolog.Logger

	mu            sync.Mutex
	file          *SelectedFile
	cedenteID     string
	layoutVariant string
	session       *model.AnalysisSession
}

func NewService(cfg *config.Config, client *api.Client) *Service {
	return &Service{
		cfg:    cfg,
		client: client,
		log:    logger.Get(),
	}
}

// SelectFile classifies the candidate and, when accepted, replaces the
// current selection, starts digest computation and discards any prior
// analysis session and error state.
func (s *Service) SelectFile(name string, data []byte) (model.FileKind, error) {
	kind, err := classify.Classify(name, int64(len(data)))
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.file = &SelectedFile{
		Name:   name,
		Size:   int64(len(data)),
		Data:   data,
		Kind:   kind,
		digest: digest.Start(data),
	}
	s.session = nil

	s.log.Debug().Str("file", name).Str("kind", string(kind)).Msg("File selected")
	return kind, nil
}

func (s *Service) SetCedente(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cedenteID = id
}

// SetLayoutVariant sets the optional banking-format sub-classification.
// Only meaningful for structured ledger files.
func (s *Service) SetLayoutVariant(variant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layoutVariant = variant
}

// Session returns the current analysis session, if any.
func (s *Service) Session() *model.AnalysisSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// DigestReady reports whether the selected file's digest has resolved.
// Callers use it to show a "wait" state instead of silently skipping the
// digest.
func (s *Service) DigestReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file != nil && s.file.digest.Done()
}

// Submit performs a direct import of the selected file. Spreadsheets are
// rejected here: they must go through Analyze and Confirm.
func (s *Service) Submit(ctx context.Context, active []tenant.Tenant, chooser tenant.Chooser) (*model.SubmitReceipt, error) {
	req, err := s.buildRequest(ctx)
	if err != nil {
		return nil, err
	}
	if req.Kind == model.FileKindSpreadsheet {
		return nil, errors.ErrAnalysisRequired
	}

	return tenant.Execute(ctx, func(ctx context.Context, tenantID string) (*model.SubmitReceipt, error) {
		r := *req
		r.TenantID = tenantID
		return s.client.SubmitImport(ctx, r)
	}, active, chooser)
}

// Analyze uploads the selected spreadsheet for pre-validation and stores
// the resulting session. The job registry is not touched.
func (s *Service) Analyze(ctx context.Context, active []tenant.Tenant, chooser tenant.Chooser) (*model.AnalysisSession, error) {
	req, err := s.buildRequest(ctx)
	if err != nil {
		return nil, err
	}
	if req.Kind != model.FileKindSpreadsheet {
		return nil, errors.ValidationError{
			Field:   "tipoArquivo",
			Value:   req.Kind,
			Message: "only spreadsheets go through analysis",
		}
	}

	session, err := tenant.Execute(ctx, func(ctx context.Context, tenantID string) (*model.AnalysisSession, error) {
		r := *req
		r.TenantID = tenantID
		return s.client.Analyze(ctx, r)
	}, active, chooser)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	s.log.Info().
		Str("session_id", session.ID).
		Str("outcome", string(session.Outcome)).
		Int("errors", len(session.Errors)).
		Int("warnings", len(session.Warnings)).
		Msg("Analysis completed")
	return session, nil
}

// Confirm commits the stored analysis session. Invalid outcomes and
// unacknowledged warnings are rejected client-side, before any network
// call. A successful confirm consumes the session.
func (s *Service) Confirm(ctx context.Context, ackWarnings bool, active []tenant.Tenant, chooser tenant.Chooser) (*model.SubmitReceipt, error) {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()

	if session == nil {
		return nil, errors.ErrNoAnalysisSession
	}
	if session.Outcome == model.AnalysisInvalid || !session.CanImport {
		return nil, errors.ErrAnalysisInvalid
	}
	if len(session.Warnings) > 0 && !ackWarnings {
		return nil, errors.ErrWarningsNotAcknowledged
	}
	if session.Expired(time.Now()) {
		return nil, errors.ErrSessionExpired
	}

	receipt, err := tenant.Execute(ctx, func(ctx context.Context, tenantID string) (*model.SubmitReceipt, error) {
		return s.client.ConfirmAnalysis(ctx, session.ID, ackWarnings, tenantID)
	}, active, chooser)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()

	s.log.Info().Str("session_id", session.ID).Msg("Analysis session confirmed")
	return receipt, nil
}

// buildRequest checks the submission preconditions and resolves the
// digest. With AllowMissingDigest set, an unresolved digest is skipped
// (degraded mode) instead of waited on; this is logged, never silent.
func (s *Service) buildRequest(ctx context.Context) (*api.SubmitRequest, error) {
	s.mu.Lock()
	file := s.file
	cedenteID := s.cedenteID
	layoutVariant := s.layoutVariant
	s.mu.Unlock()

	if cedenteID == "" {
		return nil, errors.ErrNoTenantSelected
	}
	if file == nil {
		return nil, errors.ErrNoFileSelected
	}

	var fileDigest string
	if s.cfg.Import.AllowMissingDigest && !file.digest.Done() {
		s.log.Warn().Str("file", file.Name).Msg("Submitting without content digest (degraded mode)")
	} else {
		var err error
		fileDigest, err = file.digest.Wait(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrDigestPending, err)
		}
	}

	req := &api.SubmitRequest{
		FileName:  file.Name,
		Data:      file.Data,
		Kind:      file.Kind,
		CedenteID: cedenteID,
		Digest:    fileDigest,
		Origin:    s.cfg.Import.Origin,
	}
	if file.Kind == model.FileKindStructuredLedger {
		req.LayoutVariant = layoutVariant
	}
	return req, nil
}

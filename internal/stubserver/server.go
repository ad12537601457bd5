package stubserver

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"remessa-import/internal/logger"
	"remessa-import/internal/model"
	"remessa-import/internal/worker"
	"remessa-import/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options tunes the stub import server. AmbiguousTenant simulates a
// caller whose session spans several empresas: any write arriving without
// an explicit empresaId is answered with the distinguished
// ambiguous-context error.
type Options struct {
	AmbiguousTenant bool
	ProcessingDelay time.Duration
	SessionTTL      time.Duration
	FailPattern     string
	PascalCase      bool
	Workers         int
}

// Server is an in-memory reference implementation of the import server's
// documented interfaces: submission, analysis sessions, the job registry
// and the websocket notification channel.
type Server struct {
	opts Options
	log  zerolog.Logger
	hub  *Hub
	pool *worker.Pool

	mu       sync.Mutex
	order    []string
	jobs     map[string]*model.ImportJob
	events   map[string][]model.JobEvent
	sessions map[string]*model.AnalysisSession
}

func New(opts Options) *Server {
	if opts.SessionTTL == 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	if opts.Workers == 0 {
		opts.Workers = 4
	}
	return &Server{
		opts:     opts,
		log:      logger.Get(),
		hub:      NewHub(opts.PascalCase),
		pool:     worker.NewPool(opts.Workers),
		jobs:     make(map[string]*model.ImportJob),
		events:   make(map[string][]model.JobEvent),
		sessions: make(map[string]*model.AnalysisSession),
	}
}

// Start launches the processing pool. Stop drains it.
func (s *Server) Start(ctx context.Context) {
	s.pool.Start(ctx)
}

func (s *Server) Stop() {
	s.pool.Stop()
}

// Router builds the gin engine with every documented route.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/api")
	{
		v1.POST("/importacoes", s.handleSubmit)
		v1.POST("/importacoes/analisar", s.handleAnalyze)
		v1.POST("/importacoes/confirmar", s.handleConfirm)
		v1.GET("/importacoes", s.handleList)
		v1.GET("/importacoes/:id", s.handleDetail)
		v1.POST("/importacoes/:id/reprocessar", s.handleReprocess)
	}
	router.GET("/ws", func(c *gin.Context) {
		s.hub.Handle(c.Writer, c.Request)
	})
	return router
}

type submitForm struct {
	fileName      string
	data          []byte
	cedenteID     string
	kind          string
	digest        string
	layoutVariant string
	origin        string
	tenantID      string
}

func (s *Server) readSubmitForm(c *gin.Context) (*submitForm, bool) {
	fileHeader, err := c.FormFile("arquivo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"mensagem": "arquivo é obrigatório"})
		return nil, false
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"mensagem": "arquivo não pôde ser lido"})
		return nil, false
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"mensagem": "arquivo não pôde ser lido"})
		return nil, false
	}

	form := &submitForm{
		fileName:      fileHeader.Filename,
		data:          data,
		cedenteID:     c.PostForm("cedenteId"),
		kind:          c.PostForm("tipoArquivo"),
		digest:        c.PostForm("hashArquivo"),
		layoutVariant: c.PostForm("layoutBancario"),
		origin:        c.PostForm("origem"),
		tenantID:      c.PostForm("empresaId"),
	}
	if form.cedenteID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"mensagem": "cedenteId é obrigatório"})
		return nil, false
	}
	return form, true
}

// tenantContextOK enforces the ambiguous-context simulation for writes.
func (s *Server) tenantContextOK(c *gin.Context, tenantID string) bool {
	if s.opts.AmbiguousTenant && tenantID == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"codigo":   errors.CodeTenantAmbiguous,
			"mensagem": "mais de uma empresa ativa; informe o contexto da operação",
		})
		return false
	}
	return true
}

func (s *Server) handleSubmit(c *gin.Context) {
	form, ok := s.readSubmitForm(c)
	if !ok {
		return
	}
	if !s.tenantContextOK(c, form.tenantID) {
		return
	}

	job := s.createJob(form)
	s.scheduleProcessing(job.ID)

	c.JSON(http.StatusAccepted, gin.H{
		"correlacaoId": job.CorrelationID,
		"mensagem":     "importação recebida",
	})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	form, ok := s.readSubmitForm(c)
	if !ok {
		return
	}
	if !s.tenantContextOK(c, form.tenantID) {
		return
	}

	session := analyzeSpreadsheet(form.fileName, form.cedenteID, form.layoutVariant, form.data, s.opts.SessionTTL)

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	s.log.Info().
		Str("session_id", session.ID).
		Str("outcome", string(session.Outcome)).
		Msg("Analysis session created")
	c.JSON(http.StatusOK, session)
}

type confirmRequest struct {
	SessaoID          string `json:"sessaoId"`
	ImportarComAvisos bool   `json:"importarComAvisos"`
	EmpresaID         string `json:"empresaId"`
}

func (s *Server) handleConfirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"mensagem": "corpo da requisição inválido"})
		return
	}
	if !s.tenantContextOK(c, req.EmpresaID) {
		return
	}

	s.mu.Lock()
	session := s.sessions[req.SessaoID]
	s.mu.Unlock()

	if session == nil || session.Expired(time.Now()) {
		c.JSON(http.StatusNotFound, gin.H{
			"codigo":   errors.CodeSessionExpired,
			"mensagem": "sessão de análise não encontrada ou expirada",
		})
		return
	}
	if session.Outcome == model.AnalysisInvalid || !session.CanImport {
		c.JSON(http.StatusBadRequest, gin.H{"mensagem": "análise inválida não pode ser importada"})
		return
	}
	if len(session.Warnings) > 0 && !req.ImportarComAvisos {
		c.JSON(http.StatusBadRequest, gin.H{
			"codigo":   "AVISOS_NAO_CONFIRMADOS",
			"mensagem": "existem avisos pendentes de confirmação",
		})
		return
	}

	// The confirm consumes the session.
	s.mu.Lock()
	delete(s.sessions, session.ID)
	s.mu.Unlock()

	job := s.createJob(&submitForm{
		fileName:  session.FileName,
		cedenteID: session.CedenteID,
		kind:      string(model.FileKindSpreadsheet),
		origin:    "PORTAL",
	})
	s.scheduleProcessing(job.ID)

	c.JSON(http.StatusCreated, gin.H{
		"correlacaoId": job.CorrelationID,
		"mensagem":     "importação confirmada",
	})
}

func (s *Server) handleList(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	// Snapshot the jobs under the lock: the pool mutates them while
	// requests are in flight.
	s.mu.Lock()
	all := make([]model.ImportJob, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		all = append(all, *s.jobs[s.order[i]])
	}
	s.mu.Unlock()

	totalItems := len(all)
	totalPages := (totalItems + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	if start > totalItems {
		start = totalItems
	}
	end := start + pageSize
	if end > totalItems {
		end = totalItems
	}

	items := make([]map[string]interface{}, 0, end-start)
	for _, job := range all[start:end] {
		items = append(items, s.renderJob(job, nil))
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		s.key("items"):      items,
		s.key("page"):       page,
		s.key("pageSize"):   pageSize,
		s.key("totalItems"): totalItems,
		s.key("totalPages"): totalPages,
	})
}

func (s *Server) handleDetail(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	stored, ok := s.jobs[id]
	var job model.ImportJob
	var events []model.JobEvent
	if ok {
		job = *stored
		events = append(events, s.events[id]...)
	}
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"mensagem": "importação não encontrada"})
		return
	}
	if events == nil {
		events = []model.JobEvent{}
	}
	c.JSON(http.StatusOK, s.renderJob(job, events))
}

func (s *Server) handleReprocess(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	job := s.jobs[id]
	if job == nil {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"mensagem": "importação não encontrada"})
		return
	}
	if !job.Status.CanReprocess() {
		s.mu.Unlock()
		c.JSON(http.StatusBadRequest, gin.H{"mensagem": "somente importações com falha podem ser reprocessadas"})
		return
	}
	now := time.Now()
	job.Status = model.JobStatusPending
	job.Attempts++
	job.LastAttemptAt = &now
	job.CompletedAt = nil
	job.ErrorSummary = ""
	job.FailureCode = ""
	s.appendEventLocked(job, "reprocessamento solicitado")
	s.mu.Unlock()

	s.hub.NotifyJob(job.ID, job.CedenteID)
	s.scheduleProcessing(job.ID)

	c.JSON(http.StatusAccepted, gin.H{"mensagem": "reprocessamento agendado"})
}

func (s *Server) createJob(form *submitForm) *model.ImportJob {
	now := time.Now()
	job := &model.ImportJob{
		ID:            uuid.New().String(),
		Origin:        form.origin,
		Kind:          model.FileKind(form.kind),
		LayoutVariant: form.layoutVariant,
		CedenteID:     form.cedenteID,
		FileName:      form.fileName,
		FileDigest:    form.digest,
		FileKey:       "importacoes/" + now.Format("2006/01/02") + "/" + form.fileName,
		Status:        model.JobStatusPending,
		Attempts:      1,
		LastAttemptAt: &now,
		CorrelationID: uuid.New().String(),
		CreatedAt:     now,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	s.appendEventLocked(job, "importação recebida")
	s.mu.Unlock()

	s.hub.NotifyJob(job.ID, job.CedenteID)
	return job
}

func (s *Server) appendEventLocked(job *model.ImportJob, message string) {
	s.events[job.ID] = append(s.events[job.ID], model.JobEvent{
		ID:        uuid.New().String(),
		Status:    job.Status,
		Message:   message,
		CreatedAt: time.Now(),
	})
}

// scheduleProcessing advances the job through its lifecycle on the pool:
// PENDENTE, PROCESSANDO, then one of the terminal states.
func (s *Server) scheduleProcessing(jobID string) {
	s.pool.Submit(func(ctx context.Context) error {
		if !s.sleep(ctx) {
			return ctx.Err()
		}
		s.transition(jobID, model.JobStatusProcessing, "processamento iniciado")

		if !s.sleep(ctx) {
			return ctx.Err()
		}

		s.mu.Lock()
		job := s.jobs[jobID]
		fileName := ""
		if job != nil {
			fileName = job.FileName
		}
		s.mu.Unlock()
		if job == nil {
			return nil
		}

		if s.opts.FailPattern != "" && strings.Contains(fileName, s.opts.FailPattern) {
			s.failJob(jobID, "LAYOUT_INVALIDO", "arquivo rejeitado pelo processador")
		} else {
			s.transition(jobID, model.JobStatusSuccess, "importação concluída")
		}
		return nil
	})
}

func (s *Server) sleep(ctx context.Context) bool {
	if s.opts.ProcessingDelay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.opts.ProcessingDelay):
		return true
	}
}

func (s *Server) transition(jobID string, status model.JobStatus, message string) {
	s.mu.Lock()
	job := s.jobs[jobID]
	if job == nil {
		s.mu.Unlock()
		return
	}
	job.Status = status
	if status.IsTerminal() {
		now := time.Now()
		job.CompletedAt = &now
	}
	s.appendEventLocked(job, message)
	cedenteID := job.CedenteID
	s.mu.Unlock()

	s.hub.NotifyJob(jobID, cedenteID)
}

func (s *Server) failJob(jobID, code, summary string) {
	s.mu.Lock()
	job := s.jobs[jobID]
	if job == nil {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	job.Status = model.JobStatusFailure
	job.CompletedAt = &now
	job.FailureCode = code
	job.ErrorSummary = summary
	s.appendEventLocked(job, summary)
	cedenteID := job.CedenteID
	s.mu.Unlock()

	s.hub.NotifyJob(jobID, cedenteID)
}

func (s *Server) key(name string) string {
	if s.opts.PascalCase {
		return strings.ToUpper(name[:1]) + name[1:]
	}
	return name
}

func (s *Server) renderJob(job model.ImportJob, events []model.JobEvent) map[string]interface{} {
	out := map[string]interface{}{
		s.key("id"):          job.ID,
		s.key("origem"):      job.Origin,
		s.key("tipoArquivo"): string(job.Kind),
		s.key("cedenteId"):   job.CedenteID,
		s.key("nomeArquivo"): job.FileName,
		s.key("status"):      string(job.Status),
		s.key("tentativas"):  job.Attempts,
		s.key("criadoEm"):    job.CreatedAt.Format(time.RFC3339),
	}
	if job.LayoutVariant != "" {
		out[s.key("layoutBancario")] = job.LayoutVariant
	}
	if job.FileDigest != "" {
		out[s.key("hashArquivo")] = job.FileDigest
	}
	if job.ErrorSummary != "" {
		out[s.key("resumoErro")] = job.ErrorSummary
	}
	if job.FailureCode != "" {
		out[s.key("codigoFalha")] = job.FailureCode
	}
	if job.CorrelationID != "" {
		out[s.key("correlacaoId")] = job.CorrelationID
	}
	if job.LastAttemptAt != nil {
		out[s.key("ultimaTentativaEm")] = job.LastAttemptAt.Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		out[s.key("concluidoEm")] = job.CompletedAt.Format(time.RFC3339)
	}
	if events != nil {
		out[s.key("fileKey")] = job.FileKey
		rendered := make([]map[string]interface{}, 0, len(events))
		for _, ev := range events {
			rendered = append(rendered, map[string]interface{}{
				s.key("id"):       ev.ID,
				s.key("status"):   string(ev.Status),
				s.key("mensagem"): ev.Message,
				s.key("criadoEm"): ev.CreatedAt.Format(time.RFC3339),
			})
		}
		out[s.key("eventos")] = rendered
	}
	return out
}

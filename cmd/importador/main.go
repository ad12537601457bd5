package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"remessa-import/internal/api"
	"remessa-import/internal/config"
	"remessa-import/internal/importer"
	"remessa-import/internal/live"
	"remessa-import/internal/logger"
	"remessa-import/internal/model"
	"remessa-import/internal/tenant"
)

const usage = `Usage: importador <command> [flags]

Commands:
  submit      -file <path> -cedente <id> [-layout <variant>] [-empresas a,b]
  analyze     -file <path> -cedente <id> [-empresas a,b]
  confirm     -file <path> -cedente <id> [-avisos] [-empresas a,b]
  list        [-page n] [-size n]
  detail      -id <jobID>
  reprocess   -id <jobID>
  watch       [-empresas a,b]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.Get()

	client := api.NewClient(cfg)
	service := importer.NewService(cfg, client)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	command := os.Args[1]
	args := os.Args[2:]

	var runErr error
	switch command {
	case "submit":
		runErr = runSubmit(ctx, service, args)
	case "analyze":
		runErr = runAnalyze(ctx, service, args)
	case "confirm":
		runErr = runConfirm(ctx, service, args)
	case "list":
		runErr = runList(ctx, client, args)
	case "detail":
		runErr = runDetail(ctx, client, args)
	case "reprocess":
		runErr = runReprocess(ctx, client, args)
	case "watch":
		runErr = runWatch(ctx, cfg, client, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if runErr != nil {
		log.Error().Err(runErr).Str("command", command).Msg("Command failed")
		os.Exit(1)
	}
}

// parseTenants turns "a,b,c" into an active tenant set.
func parseTenants(raw string) []tenant.Tenant {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	active := make([]tenant.Tenant, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		active = append(active, tenant.Tenant{ID: p, Name: p})
	}
	return active
}

// stdinChooser asks the operator to pick one tenant when the server
// reports an ambiguous context.
func stdinChooser() tenant.Chooser {
	return tenant.ChooserFunc(func(ctx context.Context, active []tenant.Tenant) (string, error) {
		fmt.Println("Operação ambígua: escolha a empresa do contexto")
		for i, t := range active {
			fmt.Printf("  [%d] %s (%s)\n", i+1, t.Name, t.ID)
		}
		fmt.Print("> ")

		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		idx, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || idx < 1 || idx > len(active) {
			return "", fmt.Errorf("invalid choice %q", strings.TrimSpace(line))
		}
		return active[idx-1].ID, nil
	})
}

func selectFile(service *importer.Service, path, cedente, layout string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	kind, err := service.SelectFile(filepath.Base(path), data)
	if err != nil {
		return err
	}
	fmt.Printf("Arquivo classificado como %s\n", kind)

	service.SetCedente(cedente)
	if layout != "" {
		service.SetLayoutVariant(layout)
	}
	return nil
}

func runSubmit(ctx context.Context, service *importer.Service, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	file := fs.String("file", "", "file to import")
	cedente := fs.String("cedente", "", "cedente id")
	layout := fs.String("layout", "", "banking layout variant")
	empresas := fs.String("empresas", "", "active tenant ids, comma separated")
	fs.Parse(args)

	if err := selectFile(service, *file, *cedente, *layout); err != nil {
		return err
	}

	receipt, err := service.Submit(ctx, parseTenants(*empresas), stdinChooser())
	if err != nil {
		return err
	}
	fmt.Printf("Importação aceita: correlacaoId=%s\n", receipt.CorrelationID)
	return nil
}

func runAnalyze(ctx context.Context, service *importer.Service, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	file := fs.String("file", "", "spreadsheet to analyze")
	cedente := fs.String("cedente", "", "cedente id")
	empresas := fs.String("empresas", "", "active tenant ids, comma separated")
	fs.Parse(args)

	if err := selectFile(service, *file, *cedente, ""); err != nil {
		return err
	}

	session, err := service.Analyze(ctx, parseTenants(*empresas), stdinChooser())
	if err != nil {
		return err
	}
	printSession(session)
	return nil
}

func runConfirm(ctx context.Context, service *importer.Service, args []string) error {
	fs := flag.NewFlagSet("confirm", flag.ExitOnError)
	file := fs.String("file", "", "spreadsheet to analyze and confirm")
	cedente := fs.String("cedente", "", "cedente id")
	avisos := fs.Bool("avisos", false, "acknowledge warnings")
	empresas := fs.String("empresas", "", "active tenant ids, comma separated")
	fs.Parse(args)

	if err := selectFile(service, *file, *cedente, ""); err != nil {
		return err
	}

	active := parseTenants(*empresas)
	chooser := stdinChooser()

	session, err := service.Analyze(ctx, active, chooser)
	if err != nil {
		return err
	}
	printSession(session)

	receipt, err := service.Confirm(ctx, *avisos, active, chooser)
	if err != nil {
		return err
	}
	fmt.Printf("Importação confirmada: correlacaoId=%s\n", receipt.CorrelationID)
	return nil
}

func printSession(s *model.AnalysisSession) {
	fmt.Printf("Análise %s: %s (%d válidas, %d com erro, %d com aviso, %d duplicadas ignoradas)\n",
		s.ID, s.Outcome, s.Summary.Valid, s.Summary.Errored, s.Summary.Warned, s.Summary.DuplicatesIgnored)
	for _, e := range s.Errors {
		fmt.Printf("  erro linha %d [%s] %s\n", e.Line, e.Code, e.Message)
	}
	for _, w := range s.Warnings {
		line := 0
		if w.Line != nil {
			line = *w.Line
		}
		fmt.Printf("  aviso linha %d [%s] %s\n", line, w.Code, w.Message)
	}
}

func runList(ctx context.Context, client *api.Client, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	page := fs.Int("page", 1, "page number")
	size := fs.Int("size", 20, "page size")
	fs.Parse(args)

	result, err := client.List(ctx, *page, *size)
	if err != nil {
		return err
	}

	fmt.Printf("Página %d/%d (%d importações)\n", result.Page, result.TotalPages, result.TotalItems)
	for _, job := range result.Items {
		fmt.Printf("  %s  %-20s %-12s %s\n", job.ID, job.Status, job.Kind, job.FileName)
	}
	return nil
}

func runDetail(ctx context.Context, client *api.Client, args []string) error {
	fs := flag.NewFlagSet("detail", flag.ExitOnError)
	id := fs.String("id", "", "job id")
	fs.Parse(args)

	detail, err := client.Detail(ctx, *id)
	if err != nil {
		return err
	}

	fmt.Printf("Importação %s\n", detail.ID)
	fmt.Printf("  arquivo:  %s (%s)\n", detail.FileName, detail.Kind)
	fmt.Printf("  status:   %s\n", detail.Status)
	if detail.ErrorSummary != "" {
		fmt.Printf("  erro:     %s [%s]\n", detail.ErrorSummary, detail.FailureCode)
	}
	fmt.Printf("  eventos:\n")
	for _, ev := range detail.Events {
		fmt.Printf("    %s  %-20s %s\n", ev.CreatedAt.Format("15:04:05"), ev.Status, ev.Message)
	}
	return nil
}

func runReprocess(ctx context.Context, client *api.Client, args []string) error {
	fs := flag.NewFlagSet("reprocess", flag.ExitOnError)
	id := fs.String("id", "", "job id")
	fs.Parse(args)

	if err := client.Reprocess(ctx, *id); err != nil {
		return err
	}
	fmt.Println("Reprocessamento agendado")
	return nil
}

// runWatch opens the live channel and prints the first registry page on
// every debounced change until interrupted.
func runWatch(ctx context.Context, cfg *config.Config, client *api.Client, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	empresas := fs.String("empresas", "", "tenant ids to subscribe, comma separated")
	fs.Parse(args)

	var ids []string
	for _, t := range parseTenants(*empresas) {
		ids = append(ids, t.ID)
	}

	channel := live.Open(live.Options{
		URL:      cfg.Live.URL,
		Debounce: cfg.Live.Debounce,
		Backoff:  cfg.Live.Backoff,
	}, ids, live.Callbacks{
		ReloadList: func(ctx context.Context) {
			if err := runList(ctx, client, nil); err != nil {
				fmt.Fprintf(os.Stderr, "list reload failed: %v\n", err)
			}
		},
		StateChanged: func(s live.State) {
			fmt.Printf("[conexão: %s]\n", s)
		},
	})
	defer channel.Close()

	<-ctx.Done()
	return nil
}

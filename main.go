// sheetloc — game text workbook translator with placeholder protection.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gametext/sheetloc/config"
	"github.com/gametext/sheetloc/engine"
	"github.com/gametext/sheetloc/i18n"
	"github.com/gametext/sheetloc/lockfile"
	"github.com/gametext/sheetloc/report"
	"github.com/gametext/sheetloc/segment"
	"github.com/gametext/sheetloc/translate"
	"github.com/gametext/sheetloc/xlsheet"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorBlue+"[INFO]"+colorReset+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorGreen+"[OK]"+colorReset+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorYellow+"[WARN]"+colorReset+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorRed+"[ERROR]"+colorReset+" "+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Global flag
// ---------------------------------------------------------------------------

var rootDir string

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sheetloc",
		Short: "Translate game text workbooks with AI, preserving placeholders",
		Long: `sheetloc — translate keyed rows of a game text workbook (.xlsx) using
an AI provider, guaranteeing that variable placeholders like {[player]}
and markup tags like <b> survive translation unchanged and in order.

Commands:
  status      Show workbook and per-sheet translation statistics
  translate   Run the translation pipeline
  report      Regenerate the HTML report from a keys log
  init        Write a default .sheetloc.yaml and instructions.txt
  version     Show version information

Providers:
  gemini      Google Gemini — GEMINI_API_KEY
  openai      OpenAI — OPENAI_API_KEY`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global persistent flag — inherited by all subcommands
	root.PersistentFlags().StringVar(&rootDir, "root", ".", "Project root directory")

	root.AddCommand(
		newStatusCmd(),
		newTranslateCmd(),
		newReportCmd(),
		newInitCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	i18n.Init("")
	if err := newRootCmd().Execute(); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// version (display version information)
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version, commit hash, and build date.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sheetloc version %s\n", version)
			fmt.Printf("  commit:    %s\n", commit)
			fmt.Printf("  built:     %s\n", date)
		},
	}
}

// ---------------------------------------------------------------------------
// init (scaffold config)
// ---------------------------------------------------------------------------

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default .sheetloc.yaml and instructions.txt",
		Long: `Create a starter .sheetloc.yaml and instructions.txt in the project
root. Existing files are never overwritten.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefault(rootDir); err != nil {
				return err
			}
			logSuccess("Created %s and instructions.txt", config.FileName)
			logInfo("Edit the workbook path, sheets, and target language, then run 'sheetloc translate'")
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// status (read-only: workbook info + translation stats)
// ---------------------------------------------------------------------------

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show workbook and per-sheet translation statistics",
		Long: `Show the configured workbook, its sheets, and per-sheet counts of
translated, pending, and do-not-translate rows. Does not modify any files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	cfg, err := config.Load(rootDir)
	if err != nil {
		return err
	}

	book, err := xlsheet.Open(cfg.WorkbookPath(), cfg.Columns)
	if err != nil {
		return err
	}
	defer book.Close()

	fmt.Fprintf(os.Stderr, "\n%sWorkbook%s\n", colorBlue, colorReset)
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	fmt.Fprintf(os.Stderr, "  Path:        %s\n", book.Path())
	fmt.Fprintf(os.Stderr, "  Languages:   %s -> %s (%s)\n",
		cfg.SourceLang, cfg.TargetLang, config.LanguageName(cfg.TargetLang))
	fmt.Fprintf(os.Stderr, "  Provider:    %s\n", cfg.Provider)

	fmt.Fprintf(os.Stderr, "\n%sSheets%s\n", colorBlue, colorReset)
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))

	existing, err := book.Sheets()
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(existing))
	for _, s := range existing {
		present[s] = true
	}

	totalPending := 0
	for _, sheet := range cfg.Sheets {
		if !present[sheet] {
			logWarning("Sheet %q not found in workbook", sheet)
			continue
		}
		segs, err := book.LoadSegments(sheet)
		if err != nil {
			return err
		}

		var done, pending, dnt int
		for _, seg := range segs {
			switch {
			case seg.DoNotTranslate:
				dnt++
			case seg.NeedsTranslation():
				pending++
			case strings.TrimSpace(seg.TargetText) != "":
				done++
			}
		}
		totalPending += pending

		pct := 100
		if done+pending > 0 {
			pct = done * 100 / (done + pending)
		}
		fmt.Fprintf(os.Stderr, "  %-20s %s  %d translated, %d pending, %d skipped\n",
			sheet, progressBar(pct, 10), done, pending, dnt)
	}

	fmt.Fprintln(os.Stderr)
	if totalPending == 0 {
		logSuccess("%s", i18n.T("No pending segments found"))
	} else {
		logInfo("%s", fmt.Sprintf(i18n.N("%d key pending translation", "%d keys pending translation", totalPending), totalPending))
	}
	return nil
}

// progressBar renders a colored bar for a 0-100 percentage.
func progressBar(percent, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * width / 100

	color := colorRed
	switch {
	case percent >= 100:
		color = colorGreen
	case percent >= 40:
		color = colorYellow
	}

	return color + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) +
		colorReset + fmt.Sprintf(" %3d%%", percent)
}

// ---------------------------------------------------------------------------
// translate (run the pipeline)
// ---------------------------------------------------------------------------

func newTranslateCmd() *cobra.Command {
	var (
		provider   string
		apiKey     string
		model      string
		targetLang string

		batchSize   int
		cooldown    time.Duration
		maxRetries  int
		retranslate bool

		proxy   string
		timeout time.Duration
		verbose bool
		dryRun  bool
	)

	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Run the translation pipeline",
		Long: `Translate all pending rows of the configured sheets, then run one
gap-filling pass over the rows that failed validation.

Flags override the corresponding .sheetloc.yaml settings.

Examples:
  # Translate with the configured provider
  sheetloc translate

  # Override the provider and model for one run
  sheetloc translate --provider openai --model gpt-4o-mini

  # Re-translate rows whose source text changed since the last run
  sheetloc translate --retranslate-changed

  # Show what would be translated without calling the API
  sheetloc translate --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(translateArgs{
				provider: provider, apiKey: apiKey, model: model,
				targetLang: targetLang, batchSize: batchSize,
				cooldown: cooldown, maxRetries: maxRetries,
				retranslate: retranslate, proxy: proxy,
				timeout: timeout, verbose: verbose, dryRun: dryRun,
				cooldownSet: cmd.Flags().Changed("cooldown"),
			})
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "AI provider: gemini, openai")
	cmd.Flags().StringVar(&model, "model", "", "Model name override")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (overrides environment)")
	cmd.Flags().StringVar(&targetLang, "target-lang", "", "Target language code override")

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Segments per API request")
	cmd.Flags().DurationVar(&cooldown, "cooldown", 0, "Pause between batches")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Retry budget per batch")
	cmd.Flags().BoolVar(&retranslate, "retranslate-changed", false, "Re-translate rows whose source changed")

	cmd.Flags().StringVar(&proxy, "proxy", "", "HTTP/HTTPS proxy URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Request timeout (0 = provider default)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Enable detailed logging")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be translated without calling the API")

	return cmd
}

type translateArgs struct {
	provider, apiKey, model string
	targetLang              string
	batchSize               int
	cooldown                time.Duration
	cooldownSet             bool
	maxRetries              int
	retranslate             bool
	proxy                   string
	timeout                 time.Duration
	verbose, dryRun         bool
}

func runTranslate(a translateArgs) error {
	cfg, err := config.Load(rootDir)
	if err != nil {
		return err
	}

	// Flag overrides
	if a.provider != "" {
		cfg.Provider = a.provider
	}
	if a.model != "" {
		cfg.Model = a.model
	}
	if a.targetLang != "" {
		// The target column header follows the language code unless it was
		// configured explicitly.
		if cfg.Columns.Target == cfg.TargetLang {
			cfg.Columns.Target = a.targetLang
		}
		cfg.TargetLang = a.targetLang
	}
	if a.batchSize > 0 {
		cfg.BatchSize = a.batchSize
	}
	cooldown := effectiveCooldown(cfg, a)
	if a.maxRetries > 0 {
		cfg.MaxRetries = a.maxRetries
	}
	if a.retranslate {
		cfg.RetranslateChanged = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	prov, err := resolveProvider(cfg, a)
	if err != nil {
		return err
	}

	book, err := xlsheet.Open(cfg.WorkbookPath(), cfg.Columns)
	if err != nil {
		return err
	}
	defer book.Close()

	if a.dryRun {
		return runDryRun(cfg, book)
	}

	instructions, err := cfg.Instructions()
	if err != nil {
		return err
	}

	lock, err := lockfile.Load(cfg.Root())
	if err != nil {
		return err
	}

	runID := time.Now().Format("20060102_150405")
	logsDir := filepath.Join(cfg.Root(), "logs")
	keysLog, err := report.OpenKeysLog(filepath.Join(logsDir, "keys_"+runID+".csv"), cfg.TargetLang)
	if err != nil {
		return err
	}
	defer keysLog.Close()

	requester := translate.NewRequester(translate.Options{
		Provider: prov,
		Policy: translate.Policy{
			MaxAttempts: cfg.MaxRetries,
		},
		SourceLang:   config.LanguageName(cfg.SourceLang),
		TargetLang:   config.LanguageName(cfg.TargetLang),
		Instructions: instructions,
		OnLog:        logInfo,
		Verbose:      a.verbose,
	})

	eng := engine.New(book, book, requester, keysLog, engine.Options{
		Sheets:             cfg.Sheets,
		BatchSize:          cfg.BatchSize,
		Cooldown:           cooldown,
		RetranslateChanged: cfg.RetranslateChanged,
		Lock:               lock,
		OnLog:              logInfo,
		OnError:            logWarning,
		OnProgress: func(sheet string, done, total int) {
			logInfo("  %s: %d/%d", sheet, done, total)
		},
	})

	// Graceful cancellation: first interrupt cancels the run, progress so
	// far is still saved below.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logWarning("Interrupted, saving progress...")
		cancel()
	}()

	logInfo("%s: %s -> %s via %s", i18n.T("Starting translation"),
		cfg.SourceLang, cfg.TargetLang, prov.Name)

	result, runErr := eng.Run(ctx)

	// Persist whatever was accepted before reporting the error.
	if err := book.Save(); err != nil {
		logError("%v", err)
	}
	if err := lock.Save(); err != nil {
		logError("%v", err)
	}

	reportPath := filepath.Join(logsDir, "report_"+runID+".html")
	if entries, perr := report.ParseKeysLog(keysLog.Path()); perr == nil {
		if werr := report.WriteHTML(reportPath, cfg.TargetLang, entries); werr != nil {
			logWarning("%v", werr)
		}
	}

	printSummary(result, keysLog.Path(), reportPath)

	if runErr != nil {
		return runErr
	}
	logSuccess("%s", i18n.T("Translation complete"))
	return nil
}

// resolveProvider applies config and flag overrides on top of the
// provider defaults and checks the API key before the first request.
func resolveProvider(cfg *config.Config, a translateArgs) (translate.Provider, error) {
	prov, ok := translate.DefaultProviders()[cfg.Provider]
	if !ok {
		return translate.Provider{}, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	if cfg.Model != "" {
		prov.Model = cfg.Model
	}
	if a.proxy != "" {
		prov.Proxy = a.proxy
	}
	if a.timeout > 0 {
		prov.Timeout = a.timeout
	}

	prov.APIKey = a.apiKey
	if prov.APIKey == "" {
		prov.APIKey = cfg.APIKey()
	}
	if prov.APIKey == "" {
		return prov, fmt.Errorf("no API key for provider %q: set %s or use --api-key",
			prov.ID, strings.ToUpper(prov.ID)+"_API_KEY")
	}
	return prov, nil
}

// effectiveCooldown prefers an explicit --cooldown flag over the config
// value. The flag is kept as a duration, so sub-second pacing works.
func effectiveCooldown(cfg *config.Config, a translateArgs) time.Duration {
	if a.cooldownSet {
		return a.cooldown
	}
	return cfg.Cooldown()
}

// runDryRun lists what the pipeline would submit, without network calls.
func runDryRun(cfg *config.Config, book *xlsheet.Book) error {
	existing, err := book.Sheets()
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(existing))
	for _, s := range existing {
		present[s] = true
	}

	total := 0
	for _, sheet := range cfg.Sheets {
		if !present[sheet] {
			logWarning("Sheet %q not found in workbook", sheet)
			continue
		}
		segs, err := book.LoadSegments(sheet)
		if err != nil {
			return err
		}
		count := 0
		for _, seg := range segs {
			if seg.NeedsTranslation() {
				count++
			}
		}
		batches := (count + cfg.BatchSize - 1) / cfg.BatchSize
		logInfo("%s: %d segments in %d batches", sheet, count, batches)
		total += count
	}

	if total == 0 {
		logSuccess("%s", i18n.T("No pending segments found"))
	} else {
		logInfo("Would translate %d segments to %s", total, cfg.TargetLang)
	}
	return nil
}

func printSummary(result *engine.Result, keysLogPath, reportPath string) {
	if result == nil {
		return
	}

	fmt.Fprintf(os.Stderr, "\n%sSummary%s\n", colorBlue, colorReset)
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))

	statuses := make([]string, 0, len(result.Counts))
	for s := range result.Counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(os.Stderr, "  %-22s %d\n", s, result.Counts[segment.Status(s)])
	}

	n := result.Translated + result.GapsFilled
	logInfo("%s", fmt.Sprintf(i18n.N("%d key translated", "%d keys translated", n), n))
	if result.GapsFilled > 0 {
		logInfo("%s: %d", i18n.T("Gap-filling pass"), result.GapsFilled)
	}
	logInfo("Keys log: %s", keysLogPath)
	logInfo("Report:   %s", reportPath)
}

// ---------------------------------------------------------------------------
// report (regenerate HTML from a keys log)
// ---------------------------------------------------------------------------

func newReportCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "report <keys-log.csv>",
		Short: "Regenerate the HTML report from a keys log",
		Long: `Render the HTML run report from an existing keys log CSV, for example
after a crashed run or to re-inspect an old one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := report.ParseKeysLog(args[0])
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return fmt.Errorf("%s contains no records", args[0])
			}

			if out == "" {
				out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".html"
			}
			if err := report.WriteHTML(out, entries[0].TargetLang, entries); err != nil {
				return err
			}
			logSuccess("Report written to %s", out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "", "Output HTML path (default: keys log path with .html)")
	return cmd
}

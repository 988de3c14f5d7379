package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/niikun/social-listening/internal/app"
	"github.com/niikun/social-listening/internal/config"
	"github.com/niikun/social-listening/internal/model"
	"github.com/niikun/social-listening/internal/service"
)

type runFlags struct {
	question    string
	count       int
	seed        int64
	concurrency int
	noSearch    bool
	summarize   bool
	format      string
	out         string
	insight     bool
}

func newRunCmd(env *cliEnv) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one survey and write the dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSurvey(cmd, env, f)
		},
	}
	cmd.Flags().StringVarP(&f.question, "question", "q", "", "survey question")
	cmd.Flags().IntVarP(&f.count, "count", "n", 0, "number of personas (default PERSONA_COUNT)")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "persona seed (default PERSONA_SEED or random)")
	cmd.Flags().IntVarP(&f.concurrency, "concurrency", "c", 0, "concurrent model calls (default CONCURRENCY_LIMIT)")
	cmd.Flags().BoolVar(&f.noSearch, "no-search", false, "skip search grounding")
	cmd.Flags().BoolVar(&f.summarize, "summarize", false, "ground every persona on one summary of the search results")
	cmd.Flags().StringVarP(&f.format, "format", "f", service.FormatCSV, "dataset format (csv, json)")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&f.insight, "insight", false, "print an AI insight report to stderr")
	return cmd
}

func runSurvey(cmd *cobra.Command, env *cliEnv, f *runFlags) error {
	if f.format != service.FormatCSV && f.format != service.FormatJSON {
		return fmt.Errorf("%w: --format must be csv or json", config.ErrInvalid)
	}

	req := service.StartRequest{Question: model.SurveyQuestion{Text: f.question}}
	if cmd.Flags().Changed("count") {
		req.PersonaCount = &f.count
	}
	if cmd.Flags().Changed("seed") {
		req.Seed = &f.seed
	}
	if cmd.Flags().Changed("concurrency") {
		req.ConcurrencyLimit = &f.concurrency
	}
	if f.noSearch {
		disabled := false
		req.SearchEnabled = &disabled
	}
	if cmd.Flags().Changed("summarize") {
		req.SummarizeSearch = &f.summarize
	}
	cfg, err := req.Resolve(env.cfg.Survey)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := app.NewEngine(ctx, env.cfg, nil, env.logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	seed := service.ResolveSeed(cfg.Seed)
	personas, err := engine.Generator.Generate(cfg.PersonaCount, &seed)
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	opts := service.RunOptionsFrom(cfg)
	opts.Seed = seed
	opts.Progress = newProgressPrinter(stderr, len(personas))

	run, runErr := engine.Orchestrator.Run(ctx, personas, req.Question.Normalized(), opts)
	if run == nil {
		return runErr
	}
	fmt.Fprintln(stderr)

	if err := writeDataset(cmd.OutOrStdout(), f.out, f.format, run); err != nil {
		return err
	}
	printTotals(stderr, run)

	if f.insight && runErr == nil {
		report, err := engine.Insights.Generate(ctx, run)
		if err != nil {
			env.logger.Warn("insight report failed", zap.Error(err))
			fmt.Fprintf(stderr, "insight report unavailable: %v\n", err)
		} else {
			fmt.Fprintf(stderr, "\n%s\n", report.Text)
		}
	}
	return runErr
}

func writeDataset(stdout io.Writer, path, format string, run *model.SurveyRun) error {
	if path == "" {
		return encodeDataset(stdout, format, run)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	return writeAndClose(file, format, run)
}

// writeAndClose reports a failed Close when the write itself went through
func writeAndClose(wc io.WriteCloser, format string, run *model.SurveyRun) error {
	err := encodeDataset(wc, format, run)
	if cerr := wc.Close(); err == nil {
		err = cerr
	}
	return err
}

func encodeDataset(w io.Writer, format string, run *model.SurveyRun) error {
	if format == service.FormatJSON {
		return service.WriteJSON(w, run)
	}
	return service.WriteCSV(w, run)
}

func printTotals(w io.Writer, run *model.SurveyRun) {
	t := run.Totals
	fmt.Fprintf(w, "run %s: %s (search: %s)\n", run.ID, run.Status, run.SearchMode)
	fmt.Fprintf(w, "  ok %d, parse failed %d, api failed %d, skipped %d\n", t.OK, t.ParseFailed, t.APIFailed, t.Skipped)
	fmt.Fprintf(w, "  tokens %d (prompt %d, completion %d), requests %d\n", t.TotalTokens(), t.PromptTokens, t.CompletionTokens, t.Requests)
	fmt.Fprintf(w, "  cost $%.4f (¥%.2f)\n", t.CostUSD, t.CostJPY())
	if run.SearchSummary != "" {
		fmt.Fprintf(w, "  grounded on summary: %s\n", run.SearchSummary)
	}
	if run.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", run.Error)
	}
}

// progressPrinter renders a one-line counter of finished turns
type progressPrinter struct {
	mu    sync.Mutex
	w     io.Writer
	total int
	done  int
}

func newProgressPrinter(w io.Writer, total int) *progressPrinter {
	return &progressPrinter{w: w, total: total}
}

func (p *progressPrinter) TurnChanged(ev service.TurnEvent) {
	if !ev.State.Terminal() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	fmt.Fprintf(p.w, "\r%d/%d answered", p.done, p.total)
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/osvaldoandrade/docintel/internal/analysis"
	"github.com/osvaldoandrade/docintel/internal/workflow"
	"github.com/osvaldoandrade/docintel/pkg/app"
	"github.com/osvaldoandrade/docintel/pkg/config"
	"github.com/osvaldoandrade/docintel/pkg/credentials"
	"github.com/osvaldoandrade/docintel/pkg/domain"
)

type sourceFlags struct {
	url  string
	file string
}

func (s *sourceFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.url, "url", "", "Publicly reachable document URL")
	cmd.Flags().StringVar(&s.file, "file", "", "Local document path")
}

func (s *sourceFlags) source() (domain.Source, error) {
	switch {
	case s.url != "" && s.file != "":
		return domain.Source{}, domain.InvalidInputf("use either --url or --file, not both")
	case s.url != "":
		return domain.URLSource(s.url), nil
	case s.file != "":
		return domain.FileSource(s.file)
	}
	return domain.Source{}, domain.InvalidInputf("--url or --file is required")
}

type waitFlags struct {
	pollInterval int
	maxWait      int
	strict       bool
}

func (w *waitFlags) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&w.pollInterval, "poll-interval", 0, "Seconds between polls (default 5)")
	cmd.Flags().IntVar(&w.maxWait, "max-wait", 0, "Seconds to wait for a terminal status (default 300)")
	cmd.Flags().BoolVar(&w.strict, "strict", false, "Fail when the wait budget runs out")
}

func (w *waitFlags) apply(cfg *config.Config) {
	if w.pollInterval > 0 {
		cfg.PollIntervalSeconds = w.pollInterval
		if cfg.MaxPollIntervalSeconds < w.pollInterval {
			cfg.MaxPollIntervalSeconds = w.pollInterval
		}
	}
	if w.maxWait > 0 {
		cfg.MaxWaitSeconds = w.maxWait
	}
}

func (g *globals) modelID(flag string) (string, error) {
	model := firstNonEmpty(flag, g.prof.Model)
	if model == "" {
		return "", domain.InvalidInputf("--model is required")
	}
	return model, domain.ValidateModelID(model)
}

// connect builds a client for the resolved credentials. With spin set, each
// observed poll updates the spinner.
func (g *globals) connect(cmd *cobra.Command, spin *spinner.Spinner) (*app.Client, error) {
	creds, err := g.credentials()
	if err != nil {
		return nil, err
	}
	var opts []app.ClientOption
	if spin != nil {
		opts = append(opts, app.WithAnalysisOptions(analysis.WithObserver(func(res *domain.AnalysisResult) {
			spin.Lock()
			spin.Suffix = fmt.Sprintf(" Waiting for %s: %s (poll %d)", res.ResultID, res.Status, res.Attempts)
			spin.Unlock()
		})))
	}
	return app.NewClient(cmd.Context(), g.cfg, creds, cmd.OutOrStdout(), g.logger, opts...)
}

func (g *globals) release(cmd *cobra.Command, c *app.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Close(ctx, "docintel-"+cmd.Name()); err != nil {
		g.logger.Warn("shutdown", "err", err)
	}
}

func newSpinner(w io.Writer, suffix string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = suffix
	return s
}

func initCmd(g *globals, ui *ui) *cobra.Command {
	var (
		model    string
		noPrompt bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Store endpoint and key in a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			errw := cmd.ErrOrStderr()
			prof := g.prof
			storedKey, _ := g.store.Lookup(credentials.EnvKey)
			storedEndpoint, _ := g.store.Lookup(credentials.EnvEndpoint)
			endpoint := firstNonEmpty(g.endpoint, storedEndpoint, prof.Endpoint)
			key := firstNonEmpty(g.key, storedKey, prof.Key)
			model = firstNonEmpty(model, prof.Model)

			if !noPrompt {
				r := bufio.NewReader(cmd.InOrStdin())
				endpoint = prompt(r, errw, "Endpoint", endpoint)
				if domain.AuthMode(g.cfg.AuthMode) == domain.AuthKey && key == "" {
					k, err := promptSecret(r, errw, "Key")
					if err != nil {
						return err
					}
					key = k
				}
				model = prompt(r, errw, "Default model (optional)", model)
			}

			creds, err := credentials.ResolveMode(domain.AuthMode(g.cfg.AuthMode), key, endpoint, nil)
			if err != nil {
				return err
			}
			if model != "" {
				if err := domain.ValidateModelID(model); err != nil {
					return err
				}
			}
			credentials.Initialize(g.store, creds)

			prof.Endpoint = creds.Endpoint
			prof.Key = creds.Key
			prof.AuthMode = string(creds.Mode())
			prof.Model = model
			if cmd.Flags().Changed("api-version") {
				prof.APIVersion = g.cfg.APIVersion
			}
			g.pf.Profiles[g.active] = prof
			if g.pf.CurrentProfile == "" || g.profile != "" {
				g.pf.CurrentProfile = g.active
			}
			if err := config.SaveProfiles(g.pf, g.pfPath); err != nil {
				return err
			}
			fmt.Fprintf(errw, "%s Initialized profile '%s' at %s\n", ui.ok("[OK]"), g.active, g.pfPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Default model id for this profile")
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Disable interactive prompts")
	return cmd
}

func credentialsCmd(g *globals, ui *ui) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Show or clear stored credentials",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective credentials (masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			creds, err := g.credentials()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Profile\t%s\n", g.active)
			fmt.Fprintf(tw, "Config\t%s\n", g.pfPath)
			fmt.Fprintf(tw, "Endpoint\t%s\n", emptyOr(creds.Endpoint, emptyOr(g.prof.Endpoint, "<unset>")))
			fmt.Fprintf(tw, "Key\t%s\n", credentials.Mask(firstNonEmpty(creds.Key, g.prof.Key)))
			fmt.Fprintf(tw, "Auth mode\t%s\n", g.cfg.AuthMode)
			fmt.Fprintf(tw, "Model\t%s\n", emptyOr(g.prof.Model, "<unset>"))
			fmt.Fprintf(tw, "API version\t%s\n", g.cfg.APIVersion)
			if err := tw.Flush(); err != nil {
				return err
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", ui.warn("[WARN]"), err)
			}
			return nil
		},
	}

	var all bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored endpoint and key from the profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			errw := cmd.ErrOrStderr()
			prof, ok := g.pf.Profiles[g.active]
			if !ok {
				fmt.Fprintf(errw, "%s Nothing stored for '%s'\n", ui.info("[INFO]"), g.active)
				return nil
			}
			if all {
				delete(g.pf.Profiles, g.active)
				if g.pf.CurrentProfile == g.active {
					g.pf.CurrentProfile = ""
				}
			} else {
				prof.Key = ""
				prof.Endpoint = ""
				g.pf.Profiles[g.active] = prof
			}
			if err := config.SaveProfiles(g.pf, g.pfPath); err != nil {
				return err
			}
			g.store.Delete(credentials.EnvKey)
			g.store.Delete(credentials.EnvEndpoint)
			fmt.Fprintf(errw, "%s Cleared credentials for '%s'\n", ui.ok("[OK]"), g.active)
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&all, "all", false, "Delete the whole profile")

	cmd.AddCommand(show, clearCmd)
	return cmd
}

func submitCmd(g *globals, ui *ui) *cobra.Command {
	var (
		model string
		src   sourceFlags
	)
	cmd := &cobra.Command{
		Use:     "submit",
		Short:   "Submit a document and print its result id",
		Example: "docintel submit --model prebuilt-read --file scan.pdf",
		RunE: func(cmd *cobra.Command, args []string) error {
			modelID, err := g.modelID(model)
			if err != nil {
				return err
			}
			source, err := src.source()
			if err != nil {
				return err
			}
			c, err := g.connect(cmd, nil)
			if err != nil {
				return err
			}
			defer g.release(cmd, c)

			spin := newSpinner(cmd.ErrOrStderr(), " Submitting "+source.Describe()+"...")
			spin.Start()
			h, err := c.Runner.Submit(cmd.Context(), domain.AnalysisRequest{ModelID: modelID, Source: source}, c.Options(false, "", false))
			spin.Stop()
			if err != nil {
				return err
			}
			if !h.Usable() {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s Accepted, but the service returned no operation location; there is nothing to poll.\n", ui.warn("[WARN]"))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), h.ResultID)
			fmt.Fprintf(cmd.ErrOrStderr(), "%s Submitted. Fetch with: docintel result %s --model %s --wait\n", ui.ok("[OK]"), h.ResultID, modelID)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Model id (e.g. prebuilt-read)")
	src.bind(cmd)
	return cmd
}

func resultCmd(g *globals, ui *ui) *cobra.Command {
	var (
		model  string
		wait   bool
		output string
		wf     waitFlags
	)
	cmd := &cobra.Command{
		Use:     "result <resultId>",
		Short:   "Fetch the result of a submitted document",
		Example: "docintel result 3b1f0c52-... --model prebuilt-read --wait --output text",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			modelID, err := g.modelID(model)
			if err != nil {
				return err
			}
			wf.apply(g.cfg)

			spin := newSpinner(cmd.ErrOrStderr(), " Fetching result...")
			c, err := g.connect(cmd, spin)
			if err != nil {
				return err
			}
			defer g.release(cmd, c)

			spin.Start()
			out, err := c.Runner.Result(cmd.Context(), modelID, args[0], c.Options(wait, output, wf.strict))
			spin.Stop()
			if err != nil {
				return err
			}
			report(cmd.ErrOrStderr(), ui, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Model id the document was submitted to")
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the analysis finishes")
	cmd.Flags().StringVar(&output, "output", "value", "value|text|file[:dir]|file://path|azblob://container/prefix|s3://bucket/prefix")
	wf.bind(cmd)
	return cmd
}

func analyzeCmd(g *globals, ui *ui) *cobra.Command {
	var (
		model  string
		output string
		src    sourceFlags
		wf     waitFlags
	)
	cmd := &cobra.Command{
		Use:     "analyze",
		Short:   "Submit a document, wait for it and print a summary",
		Example: "docintel analyze --model prebuilt-layout --file invoice.pdf --output s3://results/",
		RunE: func(cmd *cobra.Command, args []string) error {
			modelID, err := g.modelID(model)
			if err != nil {
				return err
			}
			source, err := src.source()
			if err != nil {
				return err
			}
			wf.apply(g.cfg)

			spin := newSpinner(cmd.ErrOrStderr(), " Submitting "+source.Describe()+"...")
			c, err := g.connect(cmd, spin)
			if err != nil {
				return err
			}
			defer g.release(cmd, c)

			spin.Start()
			out, err := c.Runner.Analyze(cmd.Context(), domain.AnalysisRequest{ModelID: modelID, Source: source}, c.Options(true, output, wf.strict))
			spin.Stop()
			if err != nil {
				printFailure(cmd.ErrOrStderr(), ui, out, err)
				return err
			}
			report(cmd.ErrOrStderr(), ui, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Model id (e.g. prebuilt-layout)")
	cmd.Flags().StringVar(&output, "output", "text", "value|text|file[:dir]|file://path|azblob://container/prefix|s3://bucket/prefix")
	src.bind(cmd)
	wf.bind(cmd)
	return cmd
}

func batchCmd(g *globals, ui *ui) *cobra.Command {
	var (
		model       string
		files       []string
		urls        []string
		output      string
		concurrency int
		wf          waitFlags
	)
	cmd := &cobra.Command{
		Use:     "batch",
		Short:   "Analyze many documents concurrently",
		Example: "docintel batch --model prebuilt-read --file a.pdf --file b.pdf --output file:results",
		RunE: func(cmd *cobra.Command, args []string) error {
			modelID, err := g.modelID(model)
			if err != nil {
				return err
			}
			var reqs []domain.AnalysisRequest
			for _, u := range urls {
				reqs = append(reqs, domain.AnalysisRequest{ModelID: modelID, Source: domain.URLSource(u)})
			}
			for _, f := range files {
				source, err := domain.FileSource(f)
				if err != nil {
					return err
				}
				reqs = append(reqs, domain.AnalysisRequest{ModelID: modelID, Source: source})
			}
			if len(reqs) == 0 {
				return domain.InvalidInputf("at least one --url or --file is required")
			}
			for _, r := range reqs {
				if err := r.Validate(); err != nil {
					return err
				}
			}
			if concurrency <= 0 {
				concurrency = g.cfg.BatchConcurrency
			}
			wf.apply(g.cfg)

			c, err := g.connect(cmd, nil)
			if err != nil {
				return err
			}
			defer g.release(cmd, c)

			bar := progressbar.NewOptions(len(reqs),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionSetDescription("Analyzing"),
				progressbar.OptionSetWidth(18),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
			rep := c.Runner.Batch(cmd.Context(), reqs, c.Options(true, output, wf.strict), concurrency, func(*workflow.Outcome) {
				_ = bar.Add(1)
			})
			_ = bar.Finish()

			if err := writeBatchTable(cmd.OutOrStdout(), rep); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %d succeeded, %d failed in %s %s\n",
				ui.info("[INFO]"), rep.Succeeded, rep.Failed, rep.Duration.Round(time.Millisecond), ui.dim("(run "+rep.RunID+")"))
			if rep.Failed > 0 {
				return fmt.Errorf("%d of %d documents failed", rep.Failed, len(reqs))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Model id for every document")
	cmd.Flags().StringArrayVar(&files, "file", nil, "Local document path (repeatable)")
	cmd.Flags().StringArrayVar(&urls, "url", nil, "Document URL (repeatable)")
	cmd.Flags().StringVar(&output, "output", "", "Export destination for each result (default: none)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Documents in flight (default from config, 4)")
	wf.bind(cmd)
	return cmd
}

func writeBatchTable(w io.Writer, rep *workflow.BatchReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tRESULT ID\tSTATUS\tDETAIL")
	for _, out := range rep.Outcomes {
		if out == nil {
			continue
		}
		status := "-"
		if out.Result != nil {
			status = out.Result.Status.String()
			if out.Result.BudgetExhausted {
				status += " (timed out)"
			}
		}
		detail := out.Location
		if out.Err != nil {
			detail = out.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", out.Source, emptyOr(out.Handle.ResultID, "-"), status, emptyOr(detail, "-"))
	}
	return tw.Flush()
}

func report(w io.Writer, ui *ui, out *workflow.Outcome) {
	if out == nil || out.Result == nil {
		return
	}
	res := out.Result
	switch {
	case res.BudgetExhausted:
		fmt.Fprintf(w, "%s Still %s after %d polls; run `docintel result %s --model %s --wait` to keep waiting.\n",
			ui.warn("[WARN]"), res.Status, res.Attempts, res.ResultID, res.ModelID)
	case res.Status == domain.StatusNotFound:
		fmt.Fprintf(w, "%s Result %s was not found (expired or never existed).\n", ui.warn("[WARN]"), res.ResultID)
	}
	if out.Location != "" {
		fmt.Fprintf(w, "%s Exported to %s\n", ui.ok("[OK]"), out.Location)
	}
}

func printFailure(w io.Writer, ui *ui, out *workflow.Outcome, err error) {
	fmt.Fprintf(w, "%s Analysis did not complete\n", ui.err("[FAILED]"))
	if out == nil {
		return
	}
	if out.Source != "" {
		fmt.Fprintf(w, "  source:    %s\n", out.Source)
	}
	if out.Handle.ResultID != "" {
		fmt.Fprintf(w, "  result id: %s\n", out.Handle.ResultID)
	}
	if out.Result != nil {
		fmt.Fprintf(w, "  status:    %s after %d polls\n", out.Result.Status, out.Result.Attempts)
		if e := out.Result.Error; e != nil {
			fmt.Fprintf(w, "  error:     %s: %s\n", e.Code, e.Message)
		}
	}
	var rr *domain.RequestRejected
	if errors.As(err, &rr) {
		fmt.Fprintf(w, "  http:      %d %s\n", rr.StatusCode, rr.ErrorCode)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func emptyOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/osvaldoandrade/docintel/pkg/app"
	"github.com/osvaldoandrade/docintel/pkg/config"
	"github.com/osvaldoandrade/docintel/pkg/credentials"
	"github.com/osvaldoandrade/docintel/pkg/domain"
)

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

// globals holds persistent flags and what PersistentPreRunE derives from
// them.
type globals struct {
	profile    string
	key        string
	endpoint   string
	authMode   string
	configPath string
	logLevel   string
	logFile    string
	apiVersion string

	cfg      *config.Config
	pf       config.ProfileFile
	pfPath   string
	active   string
	prof     config.Profile
	store    *credentials.Store
	logger   *slog.Logger
	closeLog func() error
}

// credentials resolves key and endpoint: flags, then environment, then the
// active profile.
func (g *globals) credentials() (domain.Credentials, error) {
	return credentials.ResolveMode(domain.AuthMode(g.cfg.AuthMode), g.key, g.endpoint, credentials.Chain{g.store, g.prof})
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := newRootCmd(newUI())
	err := root.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, newUI().err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

func newRootCmd(ui *ui) *cobra.Command {
	g := &globals{
		configPath: getenv("DOCINTEL_CONFIG_PATH", ""),
		store:      credentials.NewStore(),
	}

	root := &cobra.Command{
		Use:   "docintel",
		Short: "Document Intelligence CLI",
		Long:  "docintel submits documents for analysis, polls for results and exports them.",
	}
	root.SetHelpTemplate(helpTemplate(ui))
	root.SilenceUsage = true
	root.SilenceErrors = true

	pf := root.PersistentFlags()
	pf.StringVar(&g.profile, "profile", "", "Config profile")
	pf.StringVar(&g.key, "key", "", "Service key (overrides "+credentials.EnvKey+")")
	pf.StringVar(&g.endpoint, "endpoint", "", "Service endpoint (overrides "+credentials.EnvEndpoint+")")
	pf.StringVar(&g.authMode, "auth-mode", "", "Authentication: key|entra")
	pf.StringVar(&g.configPath, "config", g.configPath, "Runtime config file (yaml)")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	pf.StringVar(&g.logFile, "log-file", "", "Also write JSON logs to this file")
	pf.StringVar(&g.apiVersion, "api-version", "", "Service API version (default "+domain.DefaultAPIVersion+")")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		g.pf, g.pfPath, err = config.LoadProfiles()
		if err != nil {
			return fmt.Errorf("load profiles: %w", err)
		}
		g.active = config.ResolveProfileName(g.profile, g.pf)
		g.prof = g.pf.Profiles[g.active]

		g.cfg, err = config.LoadConfigOptional(g.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		flags := cmd.Flags()
		switch {
		case flags.Changed("api-version"):
			g.cfg.APIVersion = strings.TrimSpace(g.apiVersion)
		case os.Getenv("DOCINTEL_API_VERSION") == "" && g.prof.APIVersion != "":
			g.cfg.APIVersion = g.prof.APIVersion
		}
		switch {
		case flags.Changed("auth-mode"):
			g.cfg.AuthMode = strings.TrimSpace(g.authMode)
		case os.Getenv("DOCINTEL_AUTH_MODE") == "" && g.prof.AuthMode != "":
			g.cfg.AuthMode = g.prof.AuthMode
		}
		if flags.Changed("log-level") {
			g.cfg.LogLevel = g.logLevel
		}
		if flags.Changed("log-file") {
			g.cfg.LogFile = g.logFile
		}
		if err := g.cfg.Validate(); err != nil {
			return err
		}

		g.logger, g.closeLog, err = app.NewLogger(g.cfg, "docintel", cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		credentials.SeedFromEnv(g.store)
		return nil
	}
	root.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if g.closeLog != nil {
			return g.closeLog()
		}
		return nil
	}

	root.AddCommand(initCmd(g, ui))
	root.AddCommand(credentialsCmd(g, ui))
	root.AddCommand(submitCmd(g, ui))
	root.AddCommand(resultCmd(g, ui))
	root.AddCommand(analyzeCmd(g, ui))
	root.AddCommand(batchCmd(g, ui))
	return root
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func helpTemplate(ui *ui) string {
	title := ui.title("docintel")
	return fmt.Sprintf(`%s: CLI for Document Intelligence

Usage:
  {{.UseLine}}

Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

Config:
  %s

Examples:
  docintel init --endpoint https://myresource.cognitiveservices.azure.com/
  docintel analyze --model prebuilt-layout --file invoice.pdf
  docintel submit --model prebuilt-read --url https://example.com/scan.pdf
  docintel result 3b1f... --model prebuilt-read --wait --output azblob://results/{modelId}/
  docintel batch --model prebuilt-read --file a.pdf --file b.pdf --concurrency 4

`, title, config.ProfilePath())
}

func prompt(r *bufio.Reader, out io.Writer, label, def string) string {
	if def != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

// promptSecret reads without echo when stdin is a terminal.
func promptSecret(r *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprintf(out, "%s: ", label)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

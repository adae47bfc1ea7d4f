package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"
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
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

// globals are the flags shared by every subcommand.
type globals struct {
	baseURL     string
	adminToken  string
	adminSecret string
	configPath  string
	profileName string
}

func main() {
	// A missing .env is the common case.
	_ = godotenv.Load()

	g := &globals{
		baseURL:     getenv("CAPTUREQ_BASE_URL", "http://localhost:8080"),
		adminToken:  getenv("CAPTUREQ_ADMIN_TOKEN", ""),
		adminSecret: getenv("CAPTUREQ_ADMIN_SECRET", ""),
		configPath:  getenv("CAPTUREQ_CONFIG_PATH", ""),
		profileName: getenv("CAPTUREQ_PROFILE", ""),
	}
	ui := newUI()

	root := &cobra.Command{
		Use:   "captureq",
		Short: "captureq CLI",
		Long:  "captureq CLI for enqueueing captures, inspecting queues, and running consumer and reconcile passes.",
	}
	root.SetHelpTemplate(helpTemplate(ui))
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&g.baseURL, "base-url", g.baseURL, "Base URL of the captureq ops API")
	root.PersistentFlags().StringVar(&g.adminToken, "admin-token", g.adminToken, "Admin bearer token")
	root.PersistentFlags().StringVar(&g.adminSecret, "admin-secret", g.adminSecret, "Shared secret used to mint an admin token")
	root.PersistentFlags().StringVar(&g.configPath, "config", g.configPath, "Server config file (enqueue, drain)")
	root.PersistentFlags().StringVar(&g.profileName, "profile", g.profileName, "CLI profile")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, _, _ := loadCLIConfig()
		active := resolveProfileName(g.profileName, cfg)
		prof := cfg.Profiles[active]

		flags := cmd.Flags()
		if !flags.Changed("base-url") && os.Getenv("CAPTUREQ_BASE_URL") == "" && prof.BaseURL != "" {
			g.baseURL = prof.BaseURL
		}
		if !flags.Changed("admin-secret") && os.Getenv("CAPTUREQ_ADMIN_SECRET") == "" && prof.AdminSecret != "" {
			g.adminSecret = prof.AdminSecret
		}
		if !flags.Changed("config") && os.Getenv("CAPTUREQ_CONFIG_PATH") == "" && prof.ServerConfig != "" {
			g.configPath = prof.ServerConfig
		}
		if g.profileName == "" {
			g.profileName = active
		}
		return nil
	}

	root.AddCommand(initCmd(g, ui))
	root.AddCommand(enqueueCmd(g, ui))
	root.AddCommand(statusCmd(g, ui))
	root.AddCommand(queuesCmd(g, ui))
	root.AddCommand(drainCmd(g, ui))
	root.AddCommand(reconcileCmd(g, ui))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

func newOpsClient(g *globals) *opsClient {
	return &opsClient{
		baseURL:    strings.TrimRight(g.baseURL, "/"),
		token:      g.adminToken,
		secret:     g.adminSecret,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

func helpTemplate(ui *ui) string {
	title := ui.title("captureq")
	return fmt.Sprintf(`%s: CLI for the capture orchestrator

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
  captureq init
  captureq enqueue --url 'hxxps://example[.]com' --priority 5
  captureq status 6f1c2a8e-3d3b-4c1e-9d2a-0b7f5e4c1a11
  captureq queues
  captureq drain --config ./config.yaml
  captureq reconcile

`, title, cliConfigPath())
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

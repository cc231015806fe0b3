package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/operantlabs/operant/internal/agent"
	"github.com/operantlabs/operant/internal/agent/providers"
	"github.com/operantlabs/operant/internal/config"
	"github.com/operantlabs/operant/internal/conversation"
	"github.com/operantlabs/operant/internal/observability"
	"github.com/operantlabs/operant/internal/registry"
	"github.com/operantlabs/operant/internal/safety"
	"github.com/operantlabs/operant/internal/sandbox"
	"github.com/operantlabs/operant/internal/server"
	"github.com/operantlabs/operant/internal/tools"
	"github.com/operantlabs/operant/internal/usage"
	"github.com/operantlabs/operant/pkg/models"
)

// loadRuntime reads the config and credential stores, resolving default
// paths when flags left them empty.
func loadRuntime(configPath string) (*config.Config, string, *config.Credentials, error) {
	if configPath == "" {
		var err error
		configPath, err = config.DefaultPath()
		if err != nil {
			return nil, "", nil, err
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", nil, err
	}

	credPath, err := config.CredentialsPath()
	if err != nil {
		return nil, "", nil, err
	}
	creds, err := config.LoadCredentials(credPath)
	if err != nil {
		return nil, "", nil, err
	}
	return cfg, configPath, creds, nil
}

func buildServeCmd() *cobra.Command {
	var configPath string
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, creds, err := loadRuntime(configPath)
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: observability.LogLevelFromString(cfg.Logging.Level),
			}))
			slog.SetDefault(logger)

			tracer, shutdownTracing := observability.NewTracer(observability.TraceConfig{
				ServiceName:    "operant",
				ServiceVersion: version,
				Environment:    cfg.Tracing.Environment,
				Endpoint:       tracingEndpoint(cfg),
			})
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdownTracing(ctx) //nolint:errcheck
			}()

			reg, err := registry.New(
				registry.WithVersion(version),
				registry.WithLogger(logger),
			)
			if err != nil {
				return err
			}

			srv, err := server.New(server.Options{
				Config:      cfg,
				ConfigPath:  path,
				Credentials: creds,
				Registry:    reg,
				Version:     version,
				Logger:      logger,
				Metrics:     observability.NewMetrics(),
				Tracer:      tracer,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := srv.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Operant server listening on %s\n", srv.Addr())

			<-ctx.Done()
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file (default: ~/.operant/config.yml)")
	cmd.Flags().StringVar(&host, "host", "", "Override the listen host")
	cmd.Flags().IntVar(&port, "port", 0, "Override the listen port")
	return cmd
}

func tracingEndpoint(cfg *config.Config) string {
	if !cfg.Tracing.Enabled {
		return ""
	}
	return cfg.Tracing.Endpoint
}

func buildRunCmd() *cobra.Command {
	var configPath string
	var hosting string
	var model string
	var agentID string

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run one task in the terminal",
		Long: `Run executes a single task with the operator present: streamed output
is printed to the terminal and unsafe actions prompt for confirmation
instead of pausing the conversation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, creds, err := loadRuntime(configPath)
			if err != nil {
				return err
			}
			if hosting == "" {
				hosting = cfg.Runtime.Hosting
			}
			if model == "" {
				model = cfg.Runtime.Model
			}

			provider, err := providers.New(hosting, creds)
			if err != nil {
				return err
			}

			reg, err := registry.New(registry.WithVersion(version))
			if err != nil {
				return err
			}

			var agentMeta *models.Agent
			var state *models.AgentState
			var envFile, workDir string
			if agentID != "" {
				agentMeta, err = reg.Get(agentID)
				if err != nil {
					return err
				}
				state, err = reg.LoadState(agentID)
				if err != nil {
					return err
				}
				envFile = reg.EnvFilePath(agentID)
				workDir = agentMeta.CurrentWorkingDirectory
				if model == cfg.Runtime.Model && agentMeta.Model != "" {
					model = agentMeta.Model
				}
			}

			session := sandbox.NewSession(sandbox.Config{
				Shell:     cfg.Sandbox.Shell,
				Timeout:   cfg.Sandbox.Timeout,
				MaxOutput: cfg.Sandbox.MaxOutput,
				WorkDir:   workDir,
				EnvFile:   envFile,
			})

			toolReg := tools.NewRegistry()
			builtin := tools.BuiltinConfig{
				SerpAPIKey:   creds.Get(config.CredSerpAPI),
				TavilyAPIKey: creds.Get(config.CredTavily),
				WorkDir:      session.WorkDir,
			}
			if renderer, ok := provider.(tools.ImageRenderer); ok {
				builtin.Images = renderer
			}
			if err := tools.RegisterBuiltins(toolReg, builtin); err != nil {
				return err
			}

			var securityPrompt string
			if agentMeta != nil {
				securityPrompt = agentMeta.SecurityPrompt
			}
			auditor, err := safety.NewAuditor(safety.Config{
				Provider:       provider,
				Model:          model,
				SecurityPrompt: securityPrompt,
			})
			if err != nil {
				return err
			}

			execCfg := agent.Config{
				Provider:     provider,
				Model:        model,
				Hosting:      hosting,
				Store:        conversation.NewStore(cfg.Runtime.MaxLearningsHistory),
				Sandbox:      session,
				Tools:        toolReg,
				Auditor:      auditor,
				Tracker:      usage.NewTracker(usage.DefaultTrackerConfig()),
				Logger:       slog.Default(),
				MaxSteps:     cfg.Runtime.MaxIterations,
				MaxWindow:    cfg.Runtime.MaxConversationHistory,
				DetailWindow: cfg.Runtime.DetailConversationLength,
				EnvFile:      envFile,
			}
			if agentMeta != nil {
				execCfg.AgentID = agentMeta.ID
			}
			if state != nil {
				execCfg.AgentInstructions = state.AgentSystemPrompt
			}
			// The operator is at the keyboard: unsafe verdicts prompt for
			// an explicit override instead of pausing the conversation.
			if safety.StdinIsTerminal() {
				execCfg.Confirm = safety.TerminalConfirm(os.Stdin, cmd.OutOrStdout())
			}

			executor, err := agent.New(execCfg)
			if err != nil {
				return err
			}
			if state != nil {
				executor.RestoreState(*state)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				executor.Interrupt()
			}()

			events, err := executor.Run(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var runErr error
			for ev := range events {
				switch {
				case ev.Err != nil:
					runErr = ev.Err
				case ev.Delta != "":
					fmt.Fprint(out, ev.Delta)
				case ev.Result != nil && ev.Result.FormattedPrint != "":
					fmt.Fprintln(out, ev.Result.FormattedPrint)
				}
			}
			fmt.Fprintln(out)

			if agentMeta != nil {
				if err := reg.SaveState(agentMeta.ID, executor.State()); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	cmd.Flags().StringVar(&hosting, "hosting", "", "Model hosting provider")
	cmd.Flags().StringVar(&model, "model", "", "Model identifier")
	cmd.Flags().StringVar(&agentID, "agent", "", "Run against a stored agent")
	return cmd
}

func buildAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage stored agents",
	}
	cmd.AddCommand(
		buildAgentsListCmd(),
		buildAgentsCreateCmd(),
		buildAgentsDeleteCmd(),
		buildAgentsExportCmd(),
		buildAgentsImportCmd(),
	)
	return cmd
}

func buildAgentsListCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.New(registry.WithVersion(version))
			if err != nil {
				return err
			}
			result := reg.List(registry.ListOptions{Name: name, PerPage: 100})
			out := cmd.OutOrStdout()
			if result.Total == 0 {
				fmt.Fprintln(out, "No agents found.")
				return nil
			}
			for _, a := range result.Agents {
				fmt.Fprintf(out, "%s  %-20s %s/%s\n", a.ID, a.Name, a.Hosting, a.Model)
			}
			fmt.Fprintf(out, "%d agent(s)\n", result.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Filter by name substring")
	return cmd
}

func buildAgentsCreateCmd() *cobra.Command {
	var hosting string
	var model string

	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.New(registry.WithVersion(version))
			if err != nil {
				return err
			}
			fields := models.AgentEditFields{Name: &args[0]}
			if hosting != "" {
				fields.Hosting = &hosting
			}
			if model != "" {
				fields.Model = &model
			}
			created, err := reg.Create(fields)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created agent %s (%s)\n", created.Name, created.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&hosting, "hosting", "", "Model hosting provider")
	cmd.Flags().StringVar(&model, "model", "", "Model identifier")
	return cmd
}

func buildAgentsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete an agent and its state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.New(registry.WithVersion(version))
			if err != nil {
				return err
			}
			if err := reg.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted agent %s\n", args[0])
			return nil
		},
	}
}

func buildAgentsExportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export [id]",
		Short: "Export an agent as a zip archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.New(registry.WithVersion(version))
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			filename, err := reg.Export(args[0], &buf)
			if err != nil {
				return err
			}
			if output == "" {
				output = filename
			}
			if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported agent %s to %s\n", args[0], output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (default: derived from the agent name)")
	return cmd
}

func buildAgentsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [archive]",
		Short: "Import an agent from a zip archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			reg, err := registry.New(registry.WithVersion(version))
			if err != nil {
				return err
			}
			imported, err := reg.Import(data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported agent %s (%s)\n", imported.Name, imported.ID)
			return nil
		},
	}
}

// apiClient talks to the management API of a running server. Local
// subcommands operate on the state directory directly; job state only
// exists inside the server process, so the jobs subcommands go over
// HTTP.
type apiClient struct {
	base   string
	apiKey string
	client *http.Client
}

func newAPIClient(server, apiKey string) *apiClient {
	return &apiClient{
		base:   strings.TrimRight(server, "/"),
		apiKey: apiKey,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *apiClient) call(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }() //nolint:errcheck

	var envelope struct {
		Status  int             `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("unexpected response from %s: %w", c.base, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s (HTTP %d)", envelope.Message, resp.StatusCode)
	}
	if out != nil && len(envelope.Result) > 0 {
		return json.Unmarshal(envelope.Result, out)
	}
	return nil
}

func buildJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect jobs on a running server",
	}
	cmd.AddCommand(buildJobsListCmd(), buildJobsCancelCmd())
	return cmd
}

func buildJobsListCmd() *cobra.Command {
	var serverURL string
	var apiKey string
	var agentID string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if agentID != "" {
				query.Set("agent_id", agentID)
			}
			if status != "" {
				query.Set("status", status)
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			path := "/v1/jobs"
			if len(query) > 0 {
				path += "?" + query.Encode()
			}

			var list []*models.Job
			if err := newAPIClient(serverURL, apiKey).call(cmd.Context(), http.MethodGet, path, &list); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No jobs found.")
				return nil
			}
			for _, job := range list {
				fmt.Fprintf(out, "%s  %-10s %s\n", job.ID, job.Status, job.CreatedAt.Format(time.RFC3339))
			}
			fmt.Fprintf(out, "%d job(s)\n", len(list))
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:1111", "Server base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key for an auth-enabled server")
	cmd.Flags().StringVar(&agentID, "agent", "", "Filter by agent id")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of jobs to return")
	return cmd
}

func buildJobsCancelCmd() *cobra.Command {
	var serverURL string
	var apiKey string

	cmd := &cobra.Command{
		Use:   "cancel [id]",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var job models.Job
			path := "/v1/jobs/" + url.PathEscape(args[0]) + "/cancel"
			if err := newAPIClient(serverURL, apiKey).call(cmd.Context(), http.MethodPost, path, &job); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s is now %s\n", job.ID, job.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:1111", "Server base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key for an auth-enabled server")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "operant %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func buildCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage provider API keys",
	}
	cmd.AddCommand(buildCredentialsListCmd(), buildCredentialsSetCmd())
	return cmd
}

func buildCredentialsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured credential keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.CredentialsPath()
			if err != nil {
				return err
			}
			creds, err := config.LoadCredentials(path)
			if err != nil {
				return err
			}
			keys := creds.Keys()
			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				fmt.Fprintln(out, "No credentials stored.")
				return nil
			}
			for _, key := range keys {
				fmt.Fprintln(out, key)
			}
			return nil
		},
	}
}

func buildCredentialsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set [name]",
		Short: "Store an API key, read from the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.CredentialsPath()
			if err != nil {
				return err
			}
			creds, err := config.LoadCredentials(path)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Value for %s: ", args[0])
			value, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}
			if strings.TrimSpace(string(value)) == "" {
				return fmt.Errorf("value must not be empty")
			}
			if err := creds.Set(args[0], strings.TrimSpace(string(value))); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\n", args[0])
			return nil
		},
	}
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and initialize configuration",
	}
	cmd.AddCommand(buildConfigShowCmd(), buildConfigInitCmd())
	return cmd
}

func buildConfigShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, _, err := loadRuntime(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n", path)
			fmt.Fprintf(out, "server: %s\n", cfg.Server.Addr())
			fmt.Fprintf(out, "hosting: %s\n", cfg.Runtime.Hosting)
			fmt.Fprintf(out, "model: %s\n", cfg.Runtime.Model)
			fmt.Fprintf(out, "max_conversation_history: %d\n", cfg.Runtime.MaxConversationHistory)
			fmt.Fprintf(out, "detail_conversation_length: %d\n", cfg.Runtime.DetailConversationLength)
			fmt.Fprintf(out, "jobs: %d workers, queue %d\n", cfg.Jobs.Workers, cfg.Jobs.QueueSize)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	return cmd
}

func buildConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.DefaultPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
}

package debate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

// ErrDebateRunning is returned when a finished debate is required but the
// debate is still in progress.
var ErrDebateRunning = errors.New("debate is still running")

var (
	novaStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#1f5fbf"))
	sageStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#1e8a4c"))
	studentStyle = lipgloss.NewStyle().Bold(true)
	faintStyle   = lipgloss.NewStyle().Faint(true).Italic(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#b58900"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#dc322f"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
)

func speakerStyle(r Role) lipgloss.Style {
	switch r {
	case RoleNova:
		return novaStyle
	case RoleSage:
		return sageStyle
	default:
		return studentStyle
	}
}

// NewAdvisors connects Dr. Nova to OpenAI and Dr. Sage to Gemini. Both are
// retried on transient failures and instrumented per request.
func NewAdvisors(ctx context.Context, cfg Config, logger *slog.Logger) (nova, sage Advisor, err error) {
	gemini, err := NewGeminiAdvisor(ctx, cfg.GoogleAPIKey, cfg.GeminiBaseURL, cfg.SageModel)
	if err != nil {
		return nil, nil, err
	}
	gpt := NewOpenAIAdvisor(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.NovaModel)
	nova = WithRetry(Instrumented(gpt), DefaultRetryPolicy, logger)
	sage = WithRetry(Instrumented(gemini), DefaultRetryPolicy, logger)
	return nova, sage, nil
}

// newRunner wires the engine, summarizer and store for commands that run
// debates.
func newRunner(ctx context.Context, cfg Config, store Store, logger *slog.Logger) (*Runner, error) {
	nova, sage, err := NewAdvisors(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	engine := &Engine{
		Nova:        nova,
		Sage:        sage,
		MaxTurns:    cfg.MaxTurns,
		TurnTimeout: cfg.TurnTimeout.Std(),
		Logger:      logger,
	}
	summarizer := NewOpenAISummarizer(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.SummaryModel)
	return NewRunner(engine, summarizer, store, logger), nil
}

// loadConfig reads the configuration and installs the JSON logger as the
// default. Logs go to stderr so they do not mix with command output.
func loadConfig(requireCredentials bool) (Config, *slog.Logger, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return Config{}, nil, err
	}
	if requireCredentials {
		if err := cfg.Validate(); err != nil {
			return Config{}, nil, err
		}
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func openStore(ctx context.Context, cfg Config) (Store, error) {
	store, err := OpenStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, nil
}

// ServeCmd: prints the startup banner and serves the web UI and API
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the debate web server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(true)
		if err != nil {
			return err
		}
		PrintBanner(cmd.OutOrStdout(), cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		limiter, err := NewLimiter(cfg.RedisURL, cfg.RateLimit, cfg.RateLimitWindow.Std())
		if err != nil {
			return err
		}
		if c, ok := limiter.(io.Closer); ok {
			defer c.Close()
		}

		runner, err := newRunner(ctx, cfg, store, logger)
		if err != nil {
			return err
		}

		var xsrf *XSRFTokens
		if cfg.XSRFProtection {
			if xsrf, err = NewXSRFTokens(cfg.XSRFSecret); err != nil {
				return err
			}
		}

		gin.SetMode(gin.ReleaseMode)
		srv := &Server{
			Runner:             runner,
			Store:              store,
			Limiter:            limiter,
			XSRF:               xsrf,
			CORSAllowedOrigins: cfg.CORSAllowedOrigins,
			Logger:             logger,
		}

		ln, err := Listen(cfg.Host, cfg.Port)
		if err != nil {
			return err
		}
		// Open event streams only end once their debates do, so the runner
		// is stopped as soon as the HTTP server starts shutting down.
		stopDebates := func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := runner.Shutdown(shutdownCtx); err != nil {
				logger.Error("Running debates did not stop in time", "error", err)
			}
		}
		serveErr := Serve(ctx, ln, srv.Router(), logger, stopDebates)

		stopDebates()
		logger.Info("Server stopped")
		return serveErr
	},
}

// RunCmd: runs one debate in the terminal
var RunCmd = &cobra.Command{
	Use:   "run <idea>",
	Short: "Debate a dissertation idea in the terminal",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(true)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		runner, err := newRunner(ctx, cfg, store, logger)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		id, err := watchDebate(ctx, out, runner, strings.Join(args, " "))
		if errors.Is(err, context.Canceled) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return runner.Shutdown(shutdownCtx)
		}
		if err != nil {
			return err
		}

		fmt.Fprintln(out, faintStyle.Render("Saved as "+id))
		return nil
	},
}

// watchDebate starts a debate on idea and prints its events to w until it is
// done or ctx is canceled.
func watchDebate(ctx context.Context, w io.Writer, runner *Runner, idea string) (string, error) {
	id, sub, err := runner.Watch(ctx, idea)
	if err != nil {
		return "", err
	}
	defer sub.Close()

	for _, ev := range sub.Replay {
		printEvent(w, ev)
	}
	for {
		select {
		case ev, open := <-sub.Events:
			if !open {
				if sub.Dropped() {
					return id, fmt.Errorf("output fell behind debate %s, see the full transcript with 'debate show'", id)
				}
				return id, nil
			}
			printEvent(w, ev)
		case <-ctx.Done():
			return id, ctx.Err()
		}
	}
}

func printEvent(w io.Writer, ev Event) {
	switch ev.Type {
	case EventMessage:
		style := speakerStyle(ev.Message.Role)
		fmt.Fprintf(w, "%s %s\n\n", style.Render(ev.Message.Role.DisplayName()+":"), ev.Message.Content)
	case EventThinking:
		fmt.Fprintln(w, faintStyle.Render(ev.Text))
	case EventWarning:
		fmt.Fprintln(w, warnStyle.Render(ev.Text))
	case EventError:
		fmt.Fprintln(w, errorStyle.Render(ev.Text))
	case EventEnded:
		fmt.Fprintf(w, "%s\n\n", headerStyle.Render(ev.Text))
	case EventSummary:
		fmt.Fprintln(w, ev.Summary.Markdown())
		stats := ev.Summary.Stats()
		fmt.Fprintln(w, faintStyle.Render(fmt.Sprintf("Rubric mean %.2f, std dev %.2f, range %.0f-%.0f",
			stats.Mean, stats.StdDev, stats.Min, stats.Max)))
	}
}

var listLimit int

// ListCmd: lists stored debates, newest first
var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored debates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(false)
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		debates, err := store.ListDebates(cmd.Context(), listLimit)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), debateTable(debates))
		return nil
	},
}

func debateTable(debates []Debate) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "CREATED", "STATUS", "OUTCOME", "IDEA")
	for _, d := range debates {
		t.Row(d.ID, d.CreatedAt.Local().Format(time.DateTime), string(d.Status), string(d.Outcome), truncate(d.Idea, 60))
	}
	return t.String()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

// ShowCmd: prints a stored debate as Markdown
var ShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a stored debate as Markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(false)
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		d, err := store.GetDebate(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), d.Markdown())
		return nil
	},
}

var (
	exportOutput string
	exportForce  bool
)

// ExportCmd: renders a stored debate into a standalone HTML page
var ExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a stored debate as a standalone HTML page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(false)
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		d, err := store.GetDebate(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if d.Status == StatusRunning && !exportForce {
			return fmt.Errorf("%w: use --force to export the partial transcript", ErrDebateRunning)
		}

		output := exportOutput
		if output == "" {
			output = d.ID + ".html"
		}
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", output, err)
		}
		defer f.Close()
		if err := RenderDebateHTML(f, d); err != nil {
			return fmt.Errorf("failed to render debate: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Debate exported to %s\n", output)
		return nil
	},
}

// EnvCmd: prints the startup diagnostics without starting the server
var EnvCmd = &cobra.Command{
	Use:   "env",
	Short: "Print startup diagnostics with masked credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		PrintBanner(out, cfg)
		fmt.Fprintf(out, "ADDR: %s\n", cfg.Addr())
		fmt.Fprintf(out, "DATABASE_URL: %s\n", redactURL(cfg.DatabaseURL))
		fmt.Fprintf(out, "REDIS_URL: %s\n", redactURL(cfg.RedisURL))
		if err := cfg.Validate(); err != nil {
			fmt.Fprintln(out, warnStyle.Render(err.Error()))
		}
		return nil
	},
}

func init() {
	ListCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum number of debates to list")
	ExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default <id>.html)")
	ExportCmd.Flags().BoolVar(&exportForce, "force", false, "Export a debate that is still running")
}

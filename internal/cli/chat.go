package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vjohannesb/majordomo/internal/config"
	"github.com/vjohannesb/majordomo/internal/observability"
	"github.com/vjohannesb/majordomo/internal/tracing"
	"github.com/vjohannesb/majordomo/pkg/agent"
	"github.com/vjohannesb/majordomo/pkg/backend"
	"github.com/vjohannesb/majordomo/pkg/tools"
)

var (
	chatSessionID   string
	chatResume      bool
	chatMaxTurns    int
	chatNoStream    bool
	chatSystem      string
	chatMetricsAddr string
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Run one agent turn loop with the configured backend",
	Long: `Send a message to the assistant and print the reply. The run keeps
asking the backend and executing requested tools until the backend concludes
with text or the turn budget runs out. History is persisted per session.`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatSessionID, "session", "s", "", "session id to resume (default: new session)")
	chatCmd.Flags().BoolVar(&chatResume, "resume", false, "resume the most recently updated session")
	chatCmd.Flags().IntVar(&chatMaxTurns, "max-turns", 0, "turn budget for this run (default from config)")
	chatCmd.Flags().BoolVar(&chatNoStream, "no-stream", false, "disable streaming output")
	chatCmd.Flags().StringVar(&chatSystem, "system", "", "system prompt override")
	chatCmd.Flags().StringVar(&chatMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the run is in flight")

	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	l, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer l.Close()

	if err := tracing.InitOpenTelemetry("majordomo"); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing")
	}
	defer func() {
		if err := tracing.ShutdownOpenTelemetry(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to shut down tracing")
		}
	}()

	// Live log-level reload while the run is in flight.
	watcher := config.NewWatcher(config.NewLoader(cfgFile), func(next *config.Config) {
		l.SetLevel(next.Logging.Level)
	})
	if err := watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable")
	} else {
		defer watcher.Stop()
	}

	if chatMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		server := &http.Server{Addr: chatMetricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn().Err(err).Msg("Metrics server failed")
			}
		}()
		defer server.Close()
	}

	b, err := backend.Select(selectorOptions(cfg))
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	registry, err := builtinRegistry()
	if err != nil {
		return err
	}

	approvals, err := openPendingStore(cfg)
	if err != nil {
		return err
	}
	defer approvals.Stop()

	sessionID := chatSessionID
	if sessionID == "" && chatResume {
		if recent, ok := store.MostRecent(); ok {
			sessionID = recent
		}
	}

	runner, err := agent.NewRunner(agent.Config{
		Backend:   b,
		Store:     store,
		Registry:  registry,
		Executor:  tools.NewExecutor(registry, approvals),
		Logger:    log.Logger,
		Model:     cfg.Backend.Model,
		MaxTokens: cfg.Agent.MaxTokens,
		MaxTurns:  cfg.Agent.MaxTurns,
	})
	if err != nil {
		return err
	}

	stream := cfg.Agent.Streaming && !chatNoStream
	result, err := runner.RunWithContext(cmd.Context(), agent.RunParams{
		Message:      args[0],
		SessionID:    sessionID,
		MaxTurns:     chatMaxTurns,
		Stream:       stream,
		SystemPrompt: chatSystem,
		Notify:       &consoleNotifier{streaming: stream},
	})
	if err != nil {
		return err
	}

	if !stream && result.Text != "" {
		fmt.Println(result.Text)
	}
	fmt.Fprintf(os.Stderr, "\n[session %s]\n", result.SessionID)

	return nil
}

// consoleNotifier renders run progress: assistant text to stdout, tool
// activity to stderr.
type consoleNotifier struct {
	streaming bool
}

func (n *consoleNotifier) Text(chunk string) {
	if n.streaming {
		fmt.Print(chunk)
	}
}

func (n *consoleNotifier) ToolStart(name string, input map[string]interface{}) {
	fmt.Fprintf(os.Stderr, "[tool %s started]\n", name)
}

func (n *consoleNotifier) ToolDone(name, result string) {
	fmt.Fprintf(os.Stderr, "[tool %s done]\n", name)
}

func (n *consoleNotifier) Error(err error) {
	fmt.Fprintf(os.Stderr, "[error: %v]\n", err)
}

func (n *consoleNotifier) Done(result agent.RunResult) {
	if n.streaming {
		fmt.Println()
	}
}

package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vrikshahq/vriksha/internal/agent"
	"github.com/vrikshahq/vriksha/internal/config"
	"github.com/vrikshahq/vriksha/internal/observability"
	"github.com/vrikshahq/vriksha/internal/providers"
	"github.com/vrikshahq/vriksha/internal/retry"
	"github.com/vrikshahq/vriksha/internal/routing"
	"github.com/vrikshahq/vriksha/internal/storage"
	"github.com/vrikshahq/vriksha/pkg/models"
)

// runtime bundles the wired components behind every command.
type runtime struct {
	cfg      config.Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	registry *providers.Registry
	pipeline *routing.Pipeline
	shutdown func(context.Context) error
}

// newRuntime loads configuration and wires the provider registry, routing
// pipeline, logging, metrics, and tracing. Flags override the file.
func newRuntime() (*runtime, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if profileFlag != "" {
		cfg.Profile = profileFlag
		switch profileFlag {
		case "local", "cloud", "hybrid":
		default:
			return nil, fmt.Errorf("unknown profile %q", profileFlag)
		}
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	metrics := observability.NewMetrics()

	shutdown := func(context.Context) error { return nil }
	if cfg.Tracing.Enabled {
		_, shutdown = observability.NewTracer(observability.TraceConfig{
			ServiceName:    "vriksha",
			ServiceVersion: version,
			Endpoint:       cfg.Tracing.Endpoint,
			EnableInsecure: true,
		})
	}

	registry := providers.FromEnv(logger)
	pipeline := routing.NewPipeline(routing.Config{
		Profile:        cfg.RoutingProfile(),
		MaxEscalations: cfg.Routing.MaxEscalations,
		Retry: retry.Config{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay,
			MaxDelay:   cfg.Retry.MaxDelay,
		},
	}, registry, logger, metrics)

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		registry: registry,
		pipeline: pipeline,
		shutdown: shutdown,
	}, nil
}

func (rt *runtime) openStore(ctx context.Context) (*storage.Store, *sql.DB, error) {
	return storage.Open(ctx, rt.cfg.Storage.Path, rt.logger)
}

// buildChatCmd creates the "chat" command: interactive REPL when invoked
// without arguments, one-shot prompt otherwise.
func buildChatCmd() *cobra.Command {
	var (
		sessionID string
		system    string
		noSave    bool
	)
	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Talk to the root agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			defer rt.shutdown(context.Background())

			if len(rt.registry.IDs()) == 0 {
				return fmt.Errorf("no providers available; set ANTHROPIC_API_KEY, OPENAI_API_KEY, or run Ollama")
			}

			var store *storage.Store
			if !noSave {
				s, db, err := rt.openStore(ctx)
				if err != nil {
					return fmt.Errorf("open session store: %w", err)
				}
				defer db.Close()
				store = s
			}

			root := agent.New(agent.Config{
				Purpose:      "root",
				SystemPrompt: system,
				Provider:     agent.PipelineBinding{Pipeline: rt.pipeline},
				Sink:         streamPrinter(os.Stdout),
				MaxDepth:     rt.cfg.Agents.MaxDepth,
				MaxSubAgents: rt.cfg.Agents.MaxSubAgents,
				Temperature:  rt.cfg.Agents.Temperature,
				MaxTokens:    rt.cfg.Agents.MaxTokens,
				Logger:       rt.logger,
				Metrics:      rt.metrics,
			})

			sess, err := resolveSession(ctx, store, root.ID(), sessionID)
			if err != nil {
				return err
			}
			if sess != "" {
				ctx = observability.AddSessionID(ctx, sess)
			}

			if len(args) > 0 {
				return runPrompt(ctx, root, store, sess, strings.Join(args, " "))
			}
			return runREPL(ctx, root, store, sess)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "resume an existing session id")
	cmd.Flags().StringVar(&system, "system", "", "system prompt for the root agent")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not persist the conversation")
	return cmd
}

// resolveSession resumes the given session or creates a fresh one. A nil
// store (persistence disabled) yields an empty id.
func resolveSession(ctx context.Context, store *storage.Store, agentID, requested string) (string, error) {
	if store == nil {
		return "", nil
	}
	if requested != "" {
		sess, err := store.GetSession(ctx, requested)
		if err != nil {
			return "", fmt.Errorf("resume session %s: %w", requested, err)
		}
		return sess.ID, nil
	}
	sess, err := store.CreateSession(ctx, agentID, "chat", nil)
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

func runPrompt(ctx context.Context, root *agent.Agent, store *storage.Store, sessionID, text string) error {
	before := root.Usage()
	reply, err := root.Prompt(ctx, text)
	fmt.Println()
	if err != nil {
		return err
	}
	after := root.Usage()
	persistTurns(ctx, store, sessionID, text, reply, models.Usage{
		InputTokens:  after.InputTokens - before.InputTokens,
		OutputTokens: after.OutputTokens - before.OutputTokens,
	})
	return nil
}

func runREPL(ctx context.Context, root *agent.Agent, store *storage.Store, sessionID string) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/usage":
			u := root.Usage()
			fmt.Printf("input: %d tokens, output: %d tokens\n", u.InputTokens, u.OutputTokens)
			continue
		}
		if err := runPrompt(ctx, root, store, sessionID, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}

func persistTurns(ctx context.Context, store *storage.Store, sessionID, userText string, reply models.Message, usage models.Usage) {
	if store == nil || sessionID == "" {
		return
	}
	// Best effort; a failed write must not lose the reply already printed.
	_, _ = store.AppendTurn(ctx, sessionID, "user", userText, usage.InputTokens, 0)
	_, _ = store.AppendTurn(ctx, sessionID, "assistant", reply.Text(), 0, usage.OutputTokens)
}

// streamPrinter renders agent events as they arrive. Text deltas go straight
// to out; tool and sub-agent activity is summarized on stderr.
func streamPrinter(out *os.File) agent.EventSink {
	return func(ev agent.Event) {
		depth := ev.WrapDepth()
		inner := ev.Unwrap()
		switch inner.Type {
		case agent.EventAgentText:
			if depth == 0 {
				fmt.Fprint(out, inner.Text)
			}
		case agent.EventAgentToolCall:
			if inner.ToolCall != nil {
				fmt.Fprintf(os.Stderr, "%s[tool] %s\n", strings.Repeat("  ", depth), inner.ToolCall.Name)
			}
		case agent.EventSubagentSpawn:
			fmt.Fprintf(os.Stderr, "%s[spawn] %s\n", strings.Repeat("  ", depth), ev.SourcePurpose)
		}
	}
}

// buildRouteCmd creates the "route" command: classify a prompt and print the
// routing decision without calling any provider.
func buildRouteCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "route <prompt>",
		Short: "Show how a prompt would be routed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			msgs := []models.Message{models.NewTextMessage(models.RoleUser, strings.Join(args, " "))}
			decision := rt.pipeline.Classify(msgs, false)
			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(decision)
			}
			fmt.Printf("task:        %s (%.2f)\n", decision.TaskType, decision.TaskConfidence)
			fmt.Printf("complexity:  %s (%.2f)\n", decision.Complexity, decision.ComplexityConfidence)
			fmt.Printf("binding:     %s/%s temp=%.2f\n", decision.Provider, decision.Model, decision.Temperature)
			fmt.Printf("rationale:   %s\n", decision.Rationale)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the decision as JSON")
	return cmd
}

// buildProvidersCmd creates the "providers" command listing the adapters
// detected from the environment.
func buildProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List providers detected from the environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			ids := rt.registry.IDs()
			if len(ids) == 0 {
				fmt.Println("no providers configured")
				return nil
			}
			for _, id := range ids {
				adapter, _ := rt.registry.Get(id)
				fmt.Printf("%-12s %s\n", id, adapter.Name())
			}
			return nil
		},
	}
}

// buildSessionsCmd creates the "sessions" command group over the store.
func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored conversations",
	}
	cmd.AddCommand(
		buildSessionsListCmd(),
		buildSessionsShowCmd(),
		buildSessionsSearchCmd(),
		buildSessionsDeleteCmd(),
	)
	return cmd
}

func withStore(fn func(ctx context.Context, store *storage.Store, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		store, db, err := rt.openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(ctx, store, args)
	}
}

func buildSessionsListCmd() *cobra.Command {
	var agentID string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: withStore(func(ctx context.Context, store *storage.Store, args []string) error {
			sessions, err := store.ListSessions(ctx, agentID, limit)
			if err != nil {
				return err
			}
			for _, s := range sessions {
				fmt.Printf("%s  %s  %-10s %s\n",
					s.ID, s.UpdatedAt.Local().Format("2006-01-02 15:04"), s.Purpose, s.AgentID)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "filter by agent id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum sessions to list")
	return cmd
}

func buildSessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session's turns",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(ctx context.Context, store *storage.Store, args []string) error {
			turns, err := store.GetTurns(ctx, args[0], 0)
			if err != nil {
				return err
			}
			for _, turn := range turns {
				fmt.Printf("[%s] %s\n%s\n\n",
					turn.CreatedAt.Local().Format("15:04:05"), turn.Role, turn.Content)
			}
			return nil
		}),
	}
}

func buildSessionsSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over stored turns",
		Args:  cobra.MinimumNArgs(1),
		RunE: withStore(func(ctx context.Context, store *storage.Store, args []string) error {
			hits, err := store.SearchTurns(ctx, strings.Join(args, " "), 0)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Println("no matches")
				return nil
			}
			for _, hit := range hits {
				fmt.Printf("%s  %s: %s\n", hit.Turn.SessionID, hit.Turn.Role, snippet(hit.Turn.Content))
			}
			return nil
		}),
	}
}

func buildSessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its turns",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(ctx context.Context, store *storage.Store, args []string) error {
			if err := store.DeleteSession(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println("deleted", args[0])
			return nil
		}),
	}
}

func snippet(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 120 {
		return s[:117] + "..."
	}
	return s
}

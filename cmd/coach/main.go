package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bevel/coach/internal/coach"
	"github.com/bevel/coach/internal/config"
	"github.com/bevel/coach/internal/db"
	"github.com/bevel/coach/internal/hub"
	"github.com/bevel/coach/internal/llm"
	"github.com/bevel/coach/internal/logger"
	"github.com/bevel/coach/internal/mcpserver"
	"github.com/bevel/coach/internal/metrics"
	"github.com/bevel/coach/internal/prompts"
	"github.com/bevel/coach/internal/web"
)

func main() {
	// A missing .env is fine; real env vars and flags still apply.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	rootCmd := &cobra.Command{
		Use:          "coach",
		Short:        "Health-coach chat backend with LLM-extracted check-ins",
		SilenceUsage: true,
		RunE:         serve,
	}

	// Persistent flags are shared by serve, mcp and migrate.
	pf := rootCmd.PersistentFlags()
	pf.String("db-path", "./event_checkins.db", "path to the SQLite database")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")

	f := rootCmd.Flags()
	f.Int("port", 3001, "HTTP port")
	f.String("allowed-origins", "http://localhost:3000", "comma-separated CORS origins (* for any)")
	f.String("api-key", "", "bearer token required by /api/v1/checkins (empty disables auth); the /checkins dashboard stays open, so bind it to a trusted network")
	f.String("anthropic-api-key", "", "Anthropic API key (defaults to ANTHROPIC_API_KEY)")
	f.String("chat-model", "claude-haiku-4-5", "model for the coach reply")
	f.String("extract-model", "claude-sonnet-4-5", "model for check-in extraction")
	f.String("classify-model", "claude-sonnet-4-5", "model for update/delete classification")
	f.Int("chat-max-tokens", 1024, "max tokens for the coach reply")
	f.Int("tool-max-tokens", 250, "max tokens for the structured calls")
	f.Duration("llm-timeout", 60*time.Second, "per-request timeout for LLM calls")
	f.String("chat-system-prompt", "", "system prompt for the coach reply")
	f.String("create-prompt-file", "", "file overriding the extraction system prompt")
	f.String("update-prompt-file", "", "file overriding the classification system prompt")
	f.Int("checkin-window-days", 7, "days of active check-ins shown to the model")

	// Viper keys use underscores so they match the env var suffix after
	// stripping the COACH_ prefix.
	bindFlag := func(flags *pflag.FlagSet, name string) {
		_ = viper.BindPFlag(strings.ReplaceAll(name, "-", "_"), flags.Lookup(name))
	}
	for _, name := range []string{"db-path", "log-level"} {
		bindFlag(pf, name)
	}
	for _, name := range []string{
		"port", "allowed-origins", "api-key", "anthropic-api-key",
		"chat-model", "extract-model", "classify-model",
		"chat-max-tokens", "tool-max-tokens", "llm-timeout",
		"chat-system-prompt", "create-prompt-file", "update-prompt-file",
		"checkin-window-days",
	} {
		bindFlag(f, name)
	}

	// COACH_PORT -> "port", COACH_DB_PATH -> "db_path", etc.
	viper.SetEnvPrefix("COACH")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	rootCmd.AddCommand(mcpCmd(), migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	log.Info("coach starting",
		zap.String("version", config.Version),
		zap.Int("port", cfg.Port),
		zap.String("db_path", cfg.DBPath),
		zap.String("chat_model", cfg.ChatModel),
		zap.String("extract_model", cfg.ExtractModel),
		zap.String("classify_model", cfg.ClassifyModel),
		zap.Bool("api_auth", cfg.APIKey != ""),
	)

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close() //nolint:errcheck

	promptSet, err := prompts.Load(cfg.CreatePromptFile, cfg.UpdatePromptFile)
	if err != nil {
		return err
	}

	m := metrics.New()

	reqOpts := []option.RequestOption{option.WithRequestTimeout(cfg.LLMTimeout)}
	if cfg.AnthropicAPIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.AnthropicAPIKey))
	}
	model := llm.New(llm.Options{
		ChatModel:        cfg.ChatModel,
		ExtractModel:     cfg.ExtractModel,
		ClassifyModel:    cfg.ClassifyModel,
		ChatMaxTokens:    cfg.ChatMaxTokens,
		ToolMaxTokens:    cfg.ToolMaxTokens,
		ChatSystemPrompt: cfg.ChatSystemPrompt,
		Prompts:          promptSet,
		Observer:         m.ObserveLLM,
	}, reqOpts...)

	events := hub.New(0, 0)
	m.TrackTopics(events.Topics)

	svc := coach.New(model, database, coach.Options{
		Window:  cfg.CheckinWindow(),
		Events:  events,
		Metrics: m,
		Logger:  log.Named("coach"),
	})

	anthropicKey := cfg.AnthropicAPIKey
	if anthropicKey == "" {
		anthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	redactor := web.NewRedactor(map[string]string{
		"ANTHROPIC_API_KEY": anthropicKey,
		"COACH_API_KEY":     cfg.APIKey,
	})

	webServer := web.New(&cfg, svc, database, events,
		web.WithLogger(log.Named("web")),
		web.WithMetrics(m),
		web.WithRedactor(redactor),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- webServer.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("shutting down")
	}

	// Open SSE streams only return once their topic is closed.
	events.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("web server shutdown", zap.Error(err))
	}
	return nil
}

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve check-in tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			log, err := logger.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			database, err := db.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer database.Close() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			srv := mcpserver.NewServer(database, log, viper.GetBool("mcp_read_only"))
			return srv.Run(ctx)
		},
	}
	cmd.Flags().Bool("read-only", false, "only offer the list and get tools")
	_ = viper.BindPFlag("mcp_read_only", cmd.Flags().Lookup("read-only"))
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := db.Open(config.Load().DBPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer database.Close() //nolint:errcheck

			// Open applies pending migrations; this pass only confirms.
			if _, err := database.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they have been applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := db.Open(config.Load().DBPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer database.Close() //nolint:errcheck

			statuses, err := database.MigrationStatuses(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range statuses {
				applied := "pending"
				if s.Applied {
					applied = "applied " + s.AppliedAt
				}
				fmt.Fprintf(out, "%05d  %-32s  %s\n", s.Version, s.Path, applied)
			}
			return nil
		},
	})

	return cmd
}

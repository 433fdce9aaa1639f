package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"studyassist/internal/bus"
	"studyassist/internal/config"
	"studyassist/internal/domain"
	"studyassist/internal/index"
	"studyassist/internal/ingest"
	"studyassist/internal/provider"
	"studyassist/internal/retrieval"
	"studyassist/internal/service"
	"studyassist/internal/store"
	"studyassist/internal/stream"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	// Local .env is optional; the config file and real environment win.
	_ = godotenv.Load()

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "studyassist",
		Short:   "Study assistant: grounded answers from your own course material",
		Long:    "studyassist indexes uploaded notes and readings and answers study questions grounded in them, with page-level citations.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.studyassist/config.yaml)")

	root.AddCommand(initCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(sourcesCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(statusCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		return config.Defaults()
	}
	applyLogLevel(cfg.General.LogLevel)
	return cfg
}

func applyLogLevel(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and storage directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.DefaultConfigPath()
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(config.ExpandPath(cfg.Storage.UploadDir), 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "uploads", cfg.Storage.UploadDir)
			return nil
		},
	}
}

// openCore wires storage, index, and the ingestion pipeline, and rebuilds the
// in-memory index from ready sources. Caller must Close the returned store.
func openCore(ctx context.Context, cfg *config.Config) (*store.SQLiteStore, *index.Index, *ingest.Pipeline, error) {
	records, err := store.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	idx := index.New(logger)
	pipeline := ingest.NewPipeline(ingest.PipelineConfig{Index: idx, Store: records, Logger: logger})

	extractor := ingest.NewTextExtractor()
	err = pipeline.Reindex(ctx, func(ctx context.Context, src domain.Source) (*domain.ExtractedDocument, error) {
		if src.StoragePath == "" {
			return nil, fmt.Errorf("source %s has no stored file", src.ID)
		}
		return extractor.Extract(ctx, src.StoragePath)
	})
	if err != nil {
		records.Close()
		return nil, nil, nil, err
	}
	return records, idx, pipeline, nil
}

func ingestCmd() *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Index plain-text files into the study library",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			records, _, pipeline, err := openCore(ctx, cfg)
			if err != nil {
				return err
			}
			defer records.Close()

			extractor := ingest.NewTextExtractor()
			for _, path := range args {
				doc, err := extractor.Extract(ctx, path)
				if err != nil {
					return fmt.Errorf("extract %s: %w", path, err)
				}
				doc.Tags = tags
				src, err := pipeline.Ingest(ctx, *doc)
				if err != nil {
					logger.Error("ingest failed", "file", path, "err", err)
					continue
				}
				fmt.Printf("%s  %s  (%d pages, %s)\n", src.ID, src.Name, src.PageCount, src.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&tags, "tags", "t", nil, "tags to attach to the ingested sources")
	return cmd
}

func sourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List sources in the study library",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			ctx := context.Background()

			records, err := store.NewSQLiteStore(cfg.Storage.DBPath, logger)
			if err != nil {
				return err
			}
			defer records.Close()

			sources, err := records.ListSources(ctx)
			if err != nil {
				return err
			}
			if len(sources) == 0 {
				fmt.Println("no sources ingested yet")
				return nil
			}
			for _, src := range sources {
				fmt.Printf("%-38s %-10s %4d pages  %s\n", src.ID, src.Status, src.PageCount, src.Name)
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show backend and library status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			ctx := context.Background()

			backend := provider.NewBackend(provider.BackendConfig{
				BaseURL: cfg.Backend.BaseURL,
				APIKey:  cfg.Backend.APIKey,
				Model:   cfg.Backend.Model,
				Logger:  logger,
			})
			if err := backend.Healthy(ctx); err != nil {
				logger.Warn("backend unhealthy", "url", cfg.Backend.BaseURL, "err", err)
			} else {
				logger.Info("backend healthy", "url", cfg.Backend.BaseURL, "model", backend.Name())
			}

			records, idx, _, err := openCore(ctx, cfg)
			if err != nil {
				return err
			}
			defer records.Close()

			sources, err := records.ListSources(ctx)
			if err != nil {
				return err
			}
			logger.Info("library", "sources", len(sources), "indexed_chunks", idx.Count())
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive study chat",
		Long:  "Interactive chat. Commands: /mode auto|rag-only|general, /sources, /quit. Ctrl+C cancels an in-flight answer.",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	records, idx, _, err := openCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer records.Close()

	backend := provider.NewBackend(provider.BackendConfig{
		BaseURL: cfg.Backend.BaseURL,
		APIKey:  cfg.Backend.APIKey,
		Model:   cfg.Backend.Model,
		Logger:  logger,
	})

	assistant := service.NewAssistant(service.AssistantConfig{
		Retriever:          retrieval.New(retrieval.Config{Index: idx, Logger: logger}),
		Backend:            backend,
		Sessions:           stream.NewController(stream.ControllerConfig{Timeout: cfg.Backend.Timeout(), Logger: logger}),
		Records:            records,
		Logger:             logger,
		TopK:               cfg.Retrieval.TopK,
		Threshold:          cfg.Retrieval.Threshold,
		StrongHitThreshold: cfg.Retrieval.StrongHitThreshold,
	})

	const conversationID = "cli"

	// Print tokens as they stream in.
	assistant.Events().Subscribe(conversationID, func(evt bus.Event) {
		if evt.Stream.Type == domain.StreamToken {
			fmt.Println(evt.Stream.Text)
		}
	})
	defer assistant.Events().Unsubscribe(conversationID)

	// Ctrl+C during an answer cancels it instead of killing the session.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	go func() {
		for range interrupts {
			assistant.Abort(conversationID)
		}
	}()

	mode := domain.Mode(cfg.General.Mode)
	fmt.Printf("studyassist %s (mode %s). Type /quit to exit.\n", version, mode)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			var quit bool
			mode, quit = handleChatCommand(line, mode, records)
			if quit {
				return nil
			}
			continue
		}

		msg, err := assistant.Ask(ctx, conversationID, line, mode)
		if errors.Is(err, stream.ErrConversationBusy) {
			fmt.Println("still answering the previous question")
			continue
		}
		if err != nil {
			return err
		}
		printOutcome(assistant.Conversation(conversationID), msg)
	}
}

// handleChatCommand processes a /-prefixed REPL command. Returns the
// possibly-updated mode and whether the REPL should exit.
func handleChatCommand(line string, mode domain.Mode, records domain.RecordStore) (domain.Mode, bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return mode, true
	case "/mode":
		if len(fields) < 2 {
			fmt.Printf("mode: %s\n", mode)
			return mode, false
		}
		switch fields[1] {
		case string(domain.ModeAuto), string(domain.ModeRAGOnly), string(domain.ModeGeneral):
			mode = domain.Mode(fields[1])
			fmt.Printf("mode set to %s\n", mode)
		default:
			fmt.Println("modes: auto, rag-only, general")
		}
		return mode, false
	case "/sources":
		sources, err := records.ListSources(context.Background())
		if err != nil {
			fmt.Printf("cannot list sources: %v\n", err)
			return mode, false
		}
		for _, src := range sources {
			fmt.Printf("  %s (%d pages, %s)\n", src.Name, src.PageCount, src.Status)
		}
		if len(sources) == 0 {
			fmt.Println("  no sources ingested yet")
		}
		return mode, false
	default:
		fmt.Println("commands: /mode, /sources, /quit")
		return mode, false
	}
}

// printOutcome reports grounding, citations, and any advisory note after a
// reply ends. Token content was already printed while streaming; local
// replies (meta, navigation, refusal) were not, so print them here.
func printOutcome(conv domain.Conversation, msg *domain.ChatMessage) {
	if msg == nil {
		return
	}
	if msg.Status == domain.StatusFinal && len(msg.Citations) == 0 && !msg.Grounded && msg.Model == "" {
		fmt.Println(msg.Content)
	}
	if msg.Grounded {
		fmt.Println("-- grounded in your material:")
		for _, c := range msg.Citations {
			fmt.Printf("   %s, p. %d (%.2f)\n", c.Source, c.Page, c.Score)
		}
	}
	if conv.Status.Note != "" {
		fmt.Printf("-- %s\n", conv.Status.Note)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"blocksign/api/internal/app"
	"blocksign/api/internal/cache"
	"blocksign/api/internal/config"
	"blocksign/api/internal/draft"
	"blocksign/api/internal/export"
	"blocksign/api/internal/pdf"
	"blocksign/api/internal/revisions"
	"blocksign/api/internal/search"
	"blocksign/api/internal/session"
	"blocksign/api/internal/storage"
	"blocksign/api/internal/store"
	"blocksign/api/internal/sui"
)

type rootOptions struct {
	configFile string
	cfg        config.Config
	logger     *zap.Logger
}

func main() {
	opts := &rootOptions{}
	if err := newRootCommand(opts).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "blocksign-api",
		Short:         "BlockSign contract drafting and Sui signing backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(opts.configFile)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", os.Getenv("BLOCKSIGN_CONFIG"), "TOML config file layered over the environment")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newRenderCommand(opts))
	cmd.AddCommand(newNormalizeCommand(opts))
	cmd.AddCommand(newReindexCommand(opts))
	return cmd
}

func newLogger(level string) (*zap.Logger, error) {
	atomic, err := zap.ParseAtomicLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = atomic
	return zcfg.Build()
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts.cfg, opts.logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	for _, name := range applied {
		logger.Info("migration applied", zap.String("name", name))
	}

	if err := os.MkdirAll(cfg.RevisionsDir, 0o755); err != nil {
		return fmt.Errorf("create revisions dir: %w", err)
	}

	dataStore := store.NewPostgresStore(db)
	rpc := sui.NewClient(cfg.SuiRPCURL, cfg.SuiRPCPerSec, cfg.UpstreamTimeout)
	bridge, err := sui.NewBridge(rpc, sui.BridgeConfig{
		PackageID:  cfg.SuiPackageID,
		TreasuryID: cfg.SuiTreasuryID,
		RegistryID: cfg.SuiRegistryID,
		FeeMist:    cfg.SuiFeeMist,
	})
	if err != nil {
		return fmt.Errorf("sui bridge: %w", err)
	}

	deps := app.Deps{
		Drafts:    dataStore,
		Sessions:  dataStore,
		Pinata:    storage.NewPinata(cfg.PinataEndpoint, cfg.PinataJWT, cfg.IPFSGateway, cfg.UpstreamTimeout),
		Walrus:    storage.NewWalrus(cfg.WalrusAggregator, cfg.WalrusGateway, cfg.WalrusEpochs, cfg.UpstreamTimeout),
		Chain:     bridge,
		Documents: bridge,
		Revisions: revisions.New(cfg.RevisionsDir),
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, sessions fall back to postgres and dashboard reads are uncached", zap.Error(err))
		} else {
			defer redisStore.Close()
			logger.Info("using redis for refresh sessions and the dashboard document cache")
			deps.Sessions = redisStore
			deps.Redis = redisStore
			deps.Documents = cache.NewDocuments(bridge, redisStore.Client(), cfg.DocumentTTL, logger.Named("cache"))
		}
	}
	deps.Dashboard = sui.NewDashboard(bridge, deps.Documents, cfg.SuiReadFanout, logger.Named("dashboard"))

	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Named("meili"))
		defer meili.Close()
		index = meili
	}
	pgfts := search.NewPgFTS(db)
	searchService := search.NewService(index, pgfts, pgfts, logger.Named("search"))
	defer searchService.Wait()
	deps.Search = searchService

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		artifacts, err := storage.NewArtifacts(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return fmt.Errorf("minio client: %w", err)
		}
		if err := artifacts.EnsureBucket(ctx); err != nil {
			logger.Warn("pdf artifact mirror disabled", zap.String("bucket", cfg.MinioBucket), zap.Error(err))
		} else {
			deps.Artifacts = artifacts
		}
	}

	var printer export.Printer
	if chrome, err := export.NewChromePrinter("", 30*time.Second); err != nil {
		logger.Warn("pdf reports disabled", zap.Error(err))
	} else {
		printer = chrome
	}
	deps.Reports = export.NewService(printer)

	renderer, err := pdf.NewRenderer(cfg.PDFFontFile)
	if err != nil {
		return err
	}
	deps.Renderer = renderer

	var model draft.Model
	if strings.TrimSpace(cfg.GenAIAPIKey) != "" {
		genai, err := draft.NewGenAIModel(ctx, cfg.GenAIAPIKey, cfg.GenAIModel)
		if err != nil {
			return fmt.Errorf("genai client: %w", err)
		}
		model = genai
	} else {
		logger.Warn("GENAI_API_KEY not set, contract generation disabled")
	}
	deps.Generator = draft.NewGenerator(model, logger.Named("draft"))

	service := app.New(cfg, deps, logger.Named("service"))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin, logger.Named("http")).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("BlockSign API listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	return nil
}

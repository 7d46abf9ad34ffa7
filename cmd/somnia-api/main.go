package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/somnialabs/somnia/backend/internal/auth"
	"github.com/somnialabs/somnia/backend/internal/config"
	"github.com/somnialabs/somnia/backend/internal/database"
	"github.com/somnialabs/somnia/backend/internal/insight"
	"github.com/somnialabs/somnia/backend/internal/logging"
	"github.com/somnialabs/somnia/backend/internal/server"
	"github.com/somnialabs/somnia/backend/internal/store"
	"github.com/somnialabs/somnia/backend/internal/tables"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "somnia-api",
		Short: "Somnia dream journal backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("backend", defaults.GetString("backend.kind"), "Table backend (sqlite or supabase)")
	cmd.PersistentFlags().String("supabase-url", "", "Supabase project URL")
	cmd.PersistentFlags().String("supabase-key", "", "Supabase anon or service key")
	cmd.PersistentFlags().String("gemini-api-key", "", "Gemini API key (omit for static insight fallbacks)")
	cmd.PersistentFlags().Duration("session-ttl", defaults.GetDuration("session.ttl"), "Session token TTL")
	cmd.PersistentFlags().Duration("login-latency", defaults.GetDuration("login.latency"), "Simulated login latency (0 for default)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().Bool("seed-demo-data", defaults.GetBool("seed.demo_data"), "Seed the demo roster and sample dreams")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "backend.kind", "backend")
	bindFlag(cmd, "supabase.url", "supabase-url")
	bindFlag(cmd, "supabase.key", "supabase-key")
	bindFlag(cmd, "gemini.api_key", "gemini-api-key")
	bindFlag(cmd, "session.ttl", "session-ttl")
	bindFlag(cmd, "login.latency", "login-latency")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "seed.demo_data", "seed-demo-data")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	feed := tables.NewFeed()

	var tableClient tables.Client
	var verifier store.SessionVerifier

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		TokenTTL:      appConfig.SessionTTL,
	})

	switch appConfig.Backend {
	case config.BackendSupabase:
		supabaseClient, clientErr := tables.NewSupabaseClient(tables.SupabaseClientConfig{
			URL:    appConfig.SupabaseURL,
			APIKey: appConfig.SupabaseKey,
			Feed:   feed,
			Logger: logger,
		})
		if clientErr != nil {
			return clientErr
		}
		tableClient = supabaseClient
		verifier, err = auth.NewSupabaseVerifier(supabaseClient.Raw())
		if err != nil {
			return err
		}
	default:
		db, openErr := database.OpenSQLite(appConfig.DatabasePath, logger)
		if openErr != nil {
			return openErr
		}
		sqlDB, dbErr := db.DB()
		if dbErr != nil {
			return dbErr
		}
		defer sqlDB.Close()

		if appConfig.SeedDemoData {
			if err := database.SeedDemoData(db, logger); err != nil {
				return err
			}
		}

		tableClient, err = tables.NewSQLiteClient(tables.SQLiteClientConfig{
			Database: db,
			Feed:     feed,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		verifier = tokenManager
	}

	dreamStore := store.NewDreamStore(store.DreamStoreConfig{
		Client: tableClient,
		Feed:   feed,
		Logger: logger,
	})
	commentStore := store.NewCommentStore(store.CommentStoreConfig{
		Client: tableClient,
		Feed:   feed,
		Logger: logger,
	})
	authStore := store.NewAuthStore(store.AuthStoreConfig{
		Client:   tableClient,
		Verifier: verifier,
		Latency:  appConfig.LoginLatency,
		Logger:   logger,
	})

	if err := dreamStore.Refresh(ctx); err != nil {
		return err
	}
	if err := authStore.LoadRoster(ctx); err != nil {
		return err
	}

	runCtx, cancelStores := context.WithCancel(ctx)
	defer cancelStores()
	go dreamStore.Run(runCtx)
	go commentStore.Run(runCtx)

	var generator insight.TextGenerator
	if appConfig.GeminiAPIKey != "" {
		gemini, generatorErr := insight.NewGeminiGenerator(insight.GeminiConfig{
			APIKey:   appConfig.GeminiAPIKey,
			Endpoint: appConfig.GeminiEndpoint,
		})
		if generatorErr != nil {
			return generatorErr
		}
		generator = gemini
	} else {
		logger.Info("no model credential configured, insight adapters use static fallbacks")
	}

	analyzer := insight.NewAnalyzer(insight.AnalyzerConfig{Generator: generator, Logger: logger})
	visualizer := insight.NewVisualizer(insight.VisualizerConfig{Generator: generator, Logger: logger})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		AuthStore:    authStore,
		DreamStore:   dreamStore,
		CommentStore: commentStore,
		Analyzer:     analyzer,
		Visualizer:   visualizer,
		TableClient:  tableClient,
		Feed:         feed,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("backend", appConfig.Backend))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/travelmaps/internal/auth"
	"github.com/MarcoPoloResearchLab/travelmaps/internal/backup"
	"github.com/MarcoPoloResearchLab/travelmaps/internal/config"
	"github.com/MarcoPoloResearchLab/travelmaps/internal/database"
	"github.com/MarcoPoloResearchLab/travelmaps/internal/logging"
	"github.com/MarcoPoloResearchLab/travelmaps/internal/metrics"
	"github.com/MarcoPoloResearchLab/travelmaps/internal/places"
	"github.com/MarcoPoloResearchLab/travelmaps/internal/server"
	"github.com/MarcoPoloResearchLab/travelmaps/internal/shares"
	"github.com/MarcoPoloResearchLab/travelmaps/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "travelmaps",
		Short: "TravelMaps place and memory companion service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newExportCommand(), newImportCommand())

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
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("shares-base-url", "", "Share backend base URL; sharing is disabled when empty")
	cmd.PersistentFlags().Int("save-delay-ms", defaults.GetInt("store.save_delay_ms"), "Debounce delay before snapshots are written")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "shares.base_url", "shares-base-url")
	bindFlag(cmd, "store.save_delay_ms", "save-delay-ms")
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

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newExportCommand() *cobra.Command {
	var userKey, username, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a user's places to a backup archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), userKey, username, output)
		},
	}
	cmd.Flags().StringVar(&userKey, "user", "", "Snapshot user key")
	cmd.Flags().StringVar(&username, "username", "", "Name recorded in the archive (defaults to the user key)")
	cmd.Flags().StringVar(&output, "output", "", "Archive path (defaults to TravelMaps_Backup_<date>.zip)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newImportCommand() *cobra.Command {
	var userKey, input string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace a user's places with the content of a backup archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), userKey, input)
		},
	}
	cmd.Flags().StringVar(&userKey, "user", "", "Snapshot user key")
	cmd.Flags().StringVar(&input, "input", "", "Archive path")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, level, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	logging.WatchLevel(viper.GetViper(), level, logger)

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	snapshots, err := database.NewSnapshotRepository(database.SnapshotRepositoryConfig{Database: db})
	if err != nil {
		return err
	}
	identities, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	dispatcher := server.NewRealtimeDispatcher()

	sessionConfig := server.SessionManagerConfig{
		Snapshots:            snapshots,
		Codec:                backup.NewCodec(),
		RestrictedCategories: appConfig.RestrictedCategories,
		SaveDelay:            appConfig.SaveDelay,
		Dispatcher:           dispatcher,
		Observer:             collector,
		Logger:               logger,
	}
	deps := server.Dependencies{
		Validator:      validator,
		Identities:     identities,
		Dispatcher:     dispatcher,
		Metrics:        collector,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	}

	if appConfig.SharesBaseURL != "" {
		shareClient, err := shares.NewClient(shares.Config{
			BaseURL:    appConfig.SharesBaseURL,
			Timeout:    appConfig.SharesTimeout,
			MaxRetries: appConfig.SharesMaxRetries,
			Logger:     logger,
			Observer:   collector,
		})
		if err != nil {
			return err
		}
		sessionConfig.ShareFeed = func(token string) places.ShareFeed {
			return shareClient.Feed(token)
		}
		deps.Shares = shareClient
	} else {
		logger.Info("share backend not configured; sharing disabled")
	}

	sessions, err := server.NewSessionManager(sessionConfig)
	if err != nil {
		return err
	}
	deps.Sessions = sessions

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
		BaseContext: func(net.Listener) context.Context {
			return signalCtx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		if err := sessions.Close(shutdownCtx); err != nil {
			logger.Error("failed to flush active session", zap.Error(err))
			return errors.Join(shutdownErr, err)
		}
		return shutdownErr
	case err := <-errCh:
		if closeErr := sessions.Close(context.Background()); closeErr != nil {
			logger.Error("failed to flush active session", zap.Error(closeErr))
		}
		return err
	}
}

// offlineStore opens the snapshot database and activates the store of one user.
func offlineStore(ctx context.Context, rawUserKey string) (*places.Store, *zap.Logger, func(), error) {
	appConfig, err := config.LoadStorage(viper.GetViper())
	if err != nil {
		return nil, nil, nil, err
	}
	userKey, err := places.NewUserKey(rawUserKey)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, _, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, nil, nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, nil, err
	}
	snapshots, err := database.NewSnapshotRepository(database.SnapshotRepositoryConfig{Database: db})
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, nil, err
	}

	store, err := places.NewStore(places.StoreConfig{
		Snapshots:            snapshots,
		Codec:                backup.NewCodec(),
		Confirmer:            places.ConfirmerFunc(func(context.Context, places.Confirmation) (bool, error) { return true, nil }),
		RestrictedCategories: appConfig.RestrictedCategories,
		SaveDelay:            appConfig.SaveDelay,
		Logger:               logger,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, nil, err
	}
	if err := store.Activate(ctx, userKey); err != nil {
		_ = sqlDB.Close()
		return nil, nil, nil, err
	}
	if !store.Persistent() {
		_ = store.Deactivate(ctx)
		_ = sqlDB.Close()
		return nil, nil, nil, fmt.Errorf("snapshot of %s is unreadable: %w", userKey, places.ErrStorageUnavailable)
	}

	release := func() {
		if err := store.Deactivate(context.Background()); err != nil {
			logger.Error("failed to flush snapshot", zap.Error(err))
		}
		_ = sqlDB.Close()
		_ = logger.Sync()
	}
	return store, logger, release, nil
}

func runExport(ctx context.Context, userKey, username, output string) error {
	store, logger, release, err := offlineStore(ctx, userKey)
	if err != nil {
		return err
	}
	defer release()

	if strings.TrimSpace(username) == "" {
		username = store.UserKey().String()
	}
	data, err := store.ExportBackup(ctx, username)
	if err != nil {
		return err
	}
	if output == "" {
		output = backup.FileName(time.Now())
	}
	if err := os.WriteFile(output, data, 0o600); err != nil {
		return err
	}
	logger.Info("backup written", zap.String("path", output), zap.Int("places", len(store.Places())))
	return nil
}

func runImport(ctx context.Context, userKey, input string) error {
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	store, logger, release, err := offlineStore(ctx, userKey)
	if err != nil {
		return err
	}
	defer release()

	archive, err := store.ImportBackup(ctx, data)
	if err != nil {
		return err
	}
	if err := store.Flush(ctx); err != nil {
		return err
	}
	logger.Info("backup restored",
		zap.String("path", input),
		zap.Int("places", len(archive.Places)),
		zap.Int("missing_entries", len(archive.MissingEntries)))
	return nil
}

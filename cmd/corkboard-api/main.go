package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/corkboard/internal/auth"
	"github.com/MarcoPoloResearchLab/corkboard/internal/boards"
	"github.com/MarcoPoloResearchLab/corkboard/internal/broadcast"
	"github.com/MarcoPoloResearchLab/corkboard/internal/config"
	"github.com/MarcoPoloResearchLab/corkboard/internal/database"
	"github.com/MarcoPoloResearchLab/corkboard/internal/idgen"
	"github.com/MarcoPoloResearchLab/corkboard/internal/logging"
	"github.com/MarcoPoloResearchLab/corkboard/internal/notifications"
	"github.com/MarcoPoloResearchLab/corkboard/internal/presence"
	"github.com/MarcoPoloResearchLab/corkboard/internal/reactions"
	"github.com/MarcoPoloResearchLab/corkboard/internal/realtime"
	"github.com/MarcoPoloResearchLab/corkboard/internal/server"
	"github.com/MarcoPoloResearchLab/corkboard/internal/versioning"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName     = "corkboard-api"
	shutdownTimeout = 10 * time.Second
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Corkboard realtime collaboration backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newIssueTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the environment is read")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "Postgres DSN")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("broadcast-backend", defaults.GetString("broadcast.backend"), "Broadcast relay (local, redis, nats)")
	cmd.PersistentFlags().Duration("dispatcher-interval", defaults.GetDuration("dispatcher.interval"), "Notification dispatcher tick interval")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "broadcast.backend", "broadcast-backend")
	bindFlag(cmd, "dispatcher.interval", "dispatcher-interval")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

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

func newIssueTokenCommand() *cobra.Command {
	var (
		userID      string
		email       string
		displayName string
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Print a session token for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        appConfig.AuthIssuer,
				TokenTTL:      appConfig.TokenTTL,
			})
			if err != nil {
				return err
			}
			validUserID, err := boards.NewUserID(userID)
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(cmd.Context(), auth.Identity{UserID: validUserID, Email: email, DisplayName: displayName})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id to embed as the token subject")
	cmd.Flags().StringVar(&email, "email", "", "Optional email claim")
	cmd.Flags().StringVar(&displayName, "name", "", "Optional display name claim")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, serviceName)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay, err := broadcast.OpenRelay(signalCtx, broadcast.RelayConfig{
		Backend:       appConfig.Broadcast.Backend,
		RedisAddr:     appConfig.Broadcast.RedisAddr,
		RedisPassword: appConfig.Broadcast.RedisPassword,
		NATSURL:       appConfig.Broadcast.NATSURL,
		Channel:       appConfig.Broadcast.Channel,
	}, logger)
	if err != nil {
		return err
	}
	if relay != nil {
		defer relay.Close()
	}
	hub := broadcast.NewHub(broadcast.HubConfig{Logger: logger, Relay: relay})

	access, err := boards.NewAccessControl(db, logger)
	if err != nil {
		return err
	}
	edits, err := versioning.NewService(versioning.ServiceConfig{
		Database:    db,
		Authorizer:  access,
		Publisher:   hub,
		MaxAttempts: appConfig.EditMaxAttempts,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	reactionService, err := reactions.NewService(reactions.ServiceConfig{
		Database:   db,
		Authorizer: access,
		Publisher:  hub,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	invites, err := boards.NewInviteService(boards.InviteServiceConfig{
		Database:    db,
		Authorizer:  access,
		MaxAttempts: appConfig.EditMaxAttempts,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	inbox, err := notifications.NewInbox(notifications.InboxConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	dispatcher, err := notifications.NewDispatcher(notifications.DispatcherConfig{
		Database:    db,
		Publisher:   hub,
		IDProvider:  idgen.NewUUIDProvider(),
		Interval:    appConfig.DispatchEvery,
		TickTimeout: appConfig.TickTimeout,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.AuthIssuer,
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}

	presenceStore := presence.NewStore()
	manager, err := realtime.NewManager(realtime.ManagerConfig{
		Fabric:     hub,
		Presence:   presenceStore,
		Authorizer: access,
		Edits:      edits,
		Reactions:  reactionService,
		SendBuffer: appConfig.SendBuffer,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(signalCtx)

	websocketHandler, err := realtime.NewHandler(realtime.HandlerConfig{
		Manager:      manager,
		Verifier:     validator,
		CookieName:   appConfig.CookieName,
		AuthTimeout:  appConfig.AuthTimeout,
		WriteTimeout: appConfig.WriteTimeout,
		CheckOrigin:  originChecker(appConfig.AllowedOrigins),
		BaseContext:  groupCtx,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Authenticator:  validator,
		Inbox:          inbox,
		History:        edits,
		Invites:        invites,
		Presence:       presenceStore,
		Realtime:       websocketHandler,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	relayDone, err := hub.Start(groupCtx)
	if err != nil {
		return err
	}

	group.Go(func() error {
		<-relayDone
		if groupCtx.Err() == nil && relay != nil {
			return errors.New("broadcast relay stream closed")
		}
		return nil
	})
	group.Go(func() error {
		return dispatcher.Run(groupCtx)
	})
	group.Go(func() error {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("broadcast_backend", appConfig.Broadcast.Backend))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// originChecker restricts websocket handshakes to the configured origins.
// Without any, gorilla's same-host check applies.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		return slices.Contains(allowed, r.Header.Get("Origin"))
	}
}

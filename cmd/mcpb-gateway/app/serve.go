package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpbundler/gateway/internal/bundle"
	"github.com/mcpbundler/gateway/internal/config"
	"github.com/mcpbundler/gateway/internal/connector"
	"github.com/mcpbundler/gateway/internal/connector/mcpsdk"
	"github.com/mcpbundler/gateway/internal/connpool"
	"github.com/mcpbundler/gateway/internal/crypto"
	"github.com/mcpbundler/gateway/internal/db"
	"github.com/mcpbundler/gateway/internal/domain"
	"github.com/mcpbundler/gateway/internal/gwlog"
	"github.com/mcpbundler/gateway/internal/ingress"
	"github.com/mcpbundler/gateway/internal/namespace"
	"github.com/mcpbundler/gateway/internal/repository/sqlite"
	"github.com/mcpbundler/gateway/internal/session"
)

func serveCommand(flags *Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
}

func runServe(ctx context.Context, flags *Flags) error {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return err
	}
	if flags.DBFile != "" {
		cfg.Database.Path = flags.DBFile
	}
	if flags.Listen != "" {
		cfg.Listen = flags.Listen
	}

	sqlDB, err := db.Open(db.Options{DBFile: cfg.Database.Path})
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	creds, err := crypto.NewStore(cfg.Security.EncryptionKey)
	if err != nil {
		return err
	}

	repos := sqlite.New(sqlDB, creds).Repositories()
	nsResolver := namespace.New(namespace.HashMode(cfg.Namespace.HashMode), cfg.Namespace.Threshold)
	bundleResolver := bundle.New(repos, creds, bundle.Settings{
		WildcardAllow:            cfg.Security.WildcardAllow,
		WildcardToken:            cfg.Security.WildcardToken,
		FailClosedOnDecryptError: cfg.Security.FailClosedOnDecryptError,
	})
	pool := connpool.New()

	if cfg.Security.AdminToken == "" {
		gwlog.Warn("ADMIN_TOKEN not set; management API accepts any correctly formatted admin token", nil)
	}

	connectFactory := func(upstream domain.ResolvedUpstream) connector.Connector {
		return mcpsdk.New(mcpsdk.Config{
			Namespace: upstream.Namespace,
			URL:       upstream.URL,
			Transport: mcpsdk.TransportStreamable,
			Auth:      upstream.Auth,
		})
	}

	gateway := ingress.New(ingress.Dependencies{
		Repos:             repos,
		Resolver:          bundleResolver,
		Pool:              pool,
		NamespaceResolver: nsResolver,
		SessionConfig: session.Config{
			IdleCheckInterval: cfg.Session.IdleCheckInterval,
			IdleThreshold:     cfg.Session.IdleThreshold,
		},
		ConnectFactory:   connectFactory,
		MaxSessions:      cfg.Session.MaxConcurrent,
		AdminTokenPrefix: cfg.Security.AdminTokenPrefix,
		AdminToken:       cfg.Security.AdminToken,
	})

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           gateway.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		gwlog.Log("gateway listening", map[string]any{"addr": cfg.Listen})
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-sigCtx.Done():
	}

	gwlog.Log("shutting down gateway", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool.Shutdown(shutdownCtx)
	return server.Shutdown(shutdownCtx)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/ledgerline/internal/auth"
	"github.com/zulandar/ledgerline/internal/config"
	"github.com/zulandar/ledgerline/internal/db"
	"github.com/zulandar/ledgerline/internal/secrets"
	"github.com/zulandar/ledgerline/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and realtime relay",
		Long:  "Serves the company-scoped REST API, /health and the /ws realtime relay until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Ledgerline config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)
	if port > 0 {
		cfg.Server.Port = port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	secret, err := resolveSecret(ctx, cfg)
	if err != nil {
		return err
	}
	verifier, err := auth.NewVerifier(secret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return server.Start(ctx, server.StartOpts{
		Opts: server.Opts{
			Config:   cfg,
			DB:       gormDB,
			Verifier: verifier,
		},
		Out: cmd.OutOrStdout(),
	})
}

// resolveSecret returns the JWT secret, reading it from SSM when the config
// names a parameter instead of a literal.
func resolveSecret(ctx context.Context, cfg *config.Config) (string, error) {
	var getter secrets.Getter
	if cfg.Auth.JWTSecret == "" && cfg.Auth.JWTSecretParam != "" {
		client, err := secrets.NewFromConfig(ctx, cfg.Auth.AWSRegion)
		if err != nil {
			return "", err
		}
		getter = client
	}
	return auth.ResolveSecret(ctx, cfg.Auth, getter)
}

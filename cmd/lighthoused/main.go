package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lighthouse-p2p/lighthouse/pkg/config"
	"github.com/lighthouse-p2p/lighthouse/pkg/directory"
	"github.com/lighthouse-p2p/lighthouse/pkg/observability/logging"
	"github.com/lighthouse-p2p/lighthouse/pkg/registry"
	"github.com/lighthouse-p2p/lighthouse/pkg/server"
	"github.com/lighthouse-p2p/lighthouse/pkg/workspace"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lighthoused",
		Short: "Start a lighthouse rendezvous server",
		Run:   runServe,
	}
	rootCmd.Flags().String("listen", "", "Listen address (overrides config)")
	rootCmd.Flags().String("dir", "", "Directory where lighthouse state is persisted")
	rootCmd.Flags().Bool("debug", false, "Enable debug logging")

	tokenCmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Generate an admin token and store it in the config",
		Run:   runAdminToken,
	}
	tokenCmd.Flags().String("dir", "", "Directory where lighthouse state is persisted")

	rootCmd.AddCommand(tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("failed to execute command: %q", err)
	}
}

func lighthousePath(cmd *cobra.Command) (string, error) {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", err
		}
		return dir, nil
	}
	return workspace.EnsureLighthouseDir()
}

func runServe(cmd *cobra.Command, args []string) {
	debug, _ := cmd.Flags().GetBool("debug")
	logging.Init(debug)
	defer zap.S().Sync() //nolint:errcheck

	logger := zap.S()
	logger.Infow("starting lighthouse...", "version", "0.1.0")

	ctx, stopFunc := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopFunc()

	dir, err := lighthousePath(cmd)
	if err != nil {
		logger.Fatal(err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		logger.Fatal(err)
	}

	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Listen = listen
	}

	store, err := openStore(ctx, cfg, dir)
	if err != nil {
		logger.Fatal(err)
	}
	defer store.Close()

	svc := directory.New(store, directory.Options{
		FreshnessWindow:          *cfg.FreshnessWindow,
		RequireSignedLookups:     cfg.RequireSignedLookups,
		AdminToken:               cfg.AdminToken,
		AllowUnauthenticatedWipe: cfg.AllowUnauthenticatedWipe,
	})

	srv := server.New(server.Config{Addr: cfg.Listen}, svc)

	if err := srv.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		logger.Fatal(err)
	}
}

func openStore(ctx context.Context, cfg *config.Config, dir string) (registry.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return registry.NewMemoryStore(), nil
	case config.StoreFile:
		return registry.OpenFileStore(filepath.Join(dir, "state"))
	case config.StoreRedis:
		return registry.OpenRedisStore(ctx, cfg.RedisAddr)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}

func runAdminToken(cmd *cobra.Command, args []string) {
	dir, err := lighthousePath(cmd)
	if err != nil {
		log.Fatal(err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		log.Fatal(err)
	}

	cfg.AdminToken = uuid.NewString()
	if err := config.Save(dir, cfg); err != nil {
		log.Fatal(err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), cfg.AdminToken)
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-git/go-git/v5"
	"github.com/sithukyaw666/pullhook/model"
	"github.com/sithukyaw666/pullhook/utils"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var healthCheck bool

	cmd := &cobra.Command{
		Use:           "pullhook",
		Short:         "Pull a working copy whenever GitLab sends a push webhook.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := utils.LoadConfig(cmd.Flags())
			if err != nil {
				fmt.Fprintf(os.Stderr, "ERROR: Failed to load configuration: %v\n", err)
				return err
			}

			logger, closer, err := utils.NewLogger(config.LogFile, config.LogLevel)
			if err != nil {
				fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
				return err
			}
			defer closer.Close()

			if healthCheck {
				return runHealthCheck(cmd.Context(), config, logger)
			}
			return runServer(cmd.Context(), config, logger)
		},
	}

	utils.RegisterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&healthCheck, "health-check", false, "Run a health check and exit.")
	return cmd
}

func runServer(ctx context.Context, config model.Config, logger *slog.Logger) error {
	if err := utils.CheckWorkingCopy(config.RepoPath); err != nil {
		logger.Error("Refusing to start", "repo_path", config.RepoPath, "error", err)
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return err
	}
	if err := utils.CheckSyncCommand(config); err != nil {
		logger.Error("Refusing to start", "command", config.Sync.Command, "error", err)
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Webhook server starting...", "repo_path", config.RepoPath, "strategy", config.Sync.Strategy, "deploy", config.Deploy.Enabled)

	container, err := buildContainer(config, logger)
	if err != nil {
		logger.Error("Failed to wire application", "error", err)
		return err
	}
	if err := container.Invoke(func(p runParams) error {
		if p.Docker != nil {
			defer p.Docker.Close()
		}
		return p.Server.Run(ctx)
	}); err != nil {
		logger.Error("Webhook server failed", "error", err)
		return err
	}
	return nil
}

func runHealthCheck(ctx context.Context, config model.Config, logger *slog.Logger) error {
	logger.Info("Performing health check...")

	if err := utils.CheckWorkingCopy(config.RepoPath); err != nil {
		logger.Error("Health check FAILED", "error", err)
		return err
	}

	switch config.Sync.Strategy {
	case model.StrategyGoGit:
		if _, err := git.PlainOpen(config.RepoPath); err != nil {
			logger.Error("Health check FAILED: working copy is not a git repository", "error", err)
			return err
		}
	default:
		if err := utils.CheckSyncCommand(config); err != nil {
			logger.Error("Health check FAILED: sync command not found", "command", config.Sync.Command[0], "error", err)
			return err
		}
	}

	if config.Deploy.Enabled {
		cli, err := newDockerClient(config.Deploy, logger)
		if err != nil {
			logger.Error("Health check FAILED: could not create Docker client", "error", err)
			return err
		}
		defer cli.Close()

		if _, err := cli.Ping(ctx); err != nil {
			logger.Error("Health check FAILED: could not ping Docker daemon", "error", err)
			return err
		}
	}

	logger.Info("Health check PASSED.")
	return nil
}

package main

import (
	"log/slog"

	"github.com/moby/moby/client"
	"github.com/sithukyaw666/pullhook/model"
	"github.com/sithukyaw666/pullhook/operations"
	"github.com/sithukyaw666/pullhook/operations/webhook"
	"go.uber.org/dig"
)

type syncerParams struct {
	dig.In

	Config   model.Config
	Logger   *slog.Logger
	Deployer operations.Deployer `optional:"true"`
}

type runParams struct {
	dig.In

	Server *webhook.Server
	Docker *client.Client `optional:"true"`
}

// buildContainer registers every component. The Docker client and deployer
// are only provided when deployment is enabled.
func buildContainer(config model.Config, logger *slog.Logger) (*dig.Container, error) {
	container := dig.New()

	providers := []any{
		func() model.Config { return config },
		func() *slog.Logger { return logger },
		newSyncer,
		webhook.NewHandler,
		func(config model.Config, handler *webhook.Handler, logger *slog.Logger) *webhook.Server {
			return webhook.NewServer(config.Host, config.Port, handler, logger)
		},
	}
	if config.Deploy.Enabled {
		providers = append(providers,
			func(config model.Config, logger *slog.Logger) (*client.Client, error) {
				return newDockerClient(config.Deploy, logger)
			},
			func(cli *client.Client, config model.Config, logger *slog.Logger) operations.Deployer {
				return operations.NewComposeDeployer(cli, config.Deploy, logger)
			},
		)
	}

	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}
	return container, nil
}

// newSyncer builds the strategy, optionally followed by deployment, and
// serializes the whole chain.
func newSyncer(p syncerParams) operations.Syncer {
	var syncer operations.Syncer
	switch p.Config.Sync.Strategy {
	case model.StrategyGoGit:
		syncer = operations.NewGitSyncer(p.Config.Git, p.Logger)
	default:
		syncer = operations.NewCommandSyncer(p.Config.Sync.Command, p.Logger)
	}
	if p.Deployer != nil {
		syncer = operations.NewDeployingSyncer(syncer, p.Deployer, p.Logger)
	}
	return operations.NewSerialSyncer(syncer)
}

func newDockerClient(config model.DeployConfig, logger *slog.Logger) (*client.Client, error) {
	clientOpts := []client.Opt{client.FromEnv}
	if config.DockerAPIVersion != "" {
		logger.Info("Using specific Docker API version", "version", config.DockerAPIVersion)
		clientOpts = append(clientOpts, client.WithVersion(config.DockerAPIVersion))
	} else {
		logger.Info("Docker API version not specified, using automatic negotiation.")
		clientOpts = append(clientOpts, client.WithAPIVersionNegotiation())
	}
	return client.NewClientWithOpts(clientOpts...)
}

package controller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/filters"
	"github.com/moby/moby/client"
)

const (
	labelProject = "com.docker.compose.project"
	labelService = "com.docker.compose.service"
	labelNetwork = "com.docker.compose.network"
	labelVolume  = "com.docker.compose.volume"
)

// Reconciler drives the Docker objects labelled with one compose project
// towards a parsed compose file.
type Reconciler struct {
	cli     *client.Client
	project string
	logger  *slog.Logger
}

func NewReconciler(cli *client.Client, project string, logger *slog.Logger) *Reconciler {
	return &Reconciler{cli: cli, project: project, logger: logger.With("project_name", project)}
}

// Apply reconciles volumes and networks first, since services attach to
// them, then services. Volume and network problems are logged and do not
// stop service reconciliation.
func (r *Reconciler) Apply(ctx context.Context, compose *Compose) error {
	r.reconcileVolumes(ctx, compose.Volumes)
	r.reconcileNetworks(ctx, compose.Networks)

	existing, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: r.projectFilter(),
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	actualState := make(map[string]container.Summary)
	for _, c := range existing {
		serviceName := c.Labels[labelService]
		if serviceName == "" {
			continue
		}
		r.logger.Debug("Found existing container for service", "service_name", serviceName, "container_id", shortID(c.ID), "image", c.Image)
		actualState[serviceName] = c
	}
	r.logger.Info("Found containers for project", "container_count", len(actualState))

	return r.reconcileServices(ctx, compose, actualState)
}

func (r *Reconciler) projectFilter() filters.Args {
	return filters.NewArgs(filters.Arg("label", labelProject+"="+r.project))
}

func (r *Reconciler) labels(kind, name string) map[string]string {
	return map[string]string{
		labelProject: r.project,
		kind:         name,
	}
}

func (r *Reconciler) scopedName(name string) string {
	return fmt.Sprintf("%s_%s", r.project, name)
}

// orphans returns the keys of actual that are absent from desired.
func orphans[D any, A any](desired map[string]D, actual map[string]A) []string {
	var names []string
	for name := range actual {
		if _, ok := desired[name]; !ok {
			names = append(names, name)
		}
	}
	return names
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

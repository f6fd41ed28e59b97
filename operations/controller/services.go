package controller

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/go-connections/nat"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/image"
	"github.com/moby/moby/api/types/network"
)

// reconcileServices creates missing services, recreates services whose image
// changed upstream and removes containers of services no longer declared.
// Per-service failures are logged and the remaining services still run.
func (r *Reconciler) reconcileServices(ctx context.Context, compose *Compose, actualState map[string]container.Summary) error {
	var failed int
	for serviceName, desired := range compose.Services {
		logger := r.logger.With("service_name", serviceName)

		current, ok := actualState[serviceName]
		if !ok {
			logger.Info("Service not found. Creating...")
			if err := r.createService(ctx, compose, serviceName, desired); err != nil {
				logger.Error("Failed to create service", "error", err)
				failed++
			}
			continue
		}

		if err := r.pullImage(ctx, desired.Image); err != nil {
			logger.Warn("Could not pull image. Skipping update check.", "image", desired.Image, "error", err)
			continue
		}
		desiredImg, err := r.cli.ImageInspect(ctx, desired.Image)
		if err != nil {
			logger.Warn("Could not inspect image. Skipping update check.", "image", desired.Image, "error", err)
			continue
		}
		if current.ImageID == desiredImg.ID {
			logger.Info("Service is up-to-date.")
			continue
		}

		logger.Info("Image has changed for service. Re-creating...", "container_id", shortID(current.ID))
		if err := r.removeContainer(ctx, current.ID); err != nil {
			logger.Error("Failed to remove old container", "error", err)
			failed++
			continue
		}
		if err := r.createService(ctx, compose, serviceName, desired); err != nil {
			logger.Error("Failed to create service", "error", err)
			failed++
		}
	}

	for _, serviceName := range orphans(compose.Services, actualState) {
		c := actualState[serviceName]
		r.logger.Info("Found orphaned service. Removing...", "service_name", serviceName, "container_id", shortID(c.ID))
		if err := r.removeContainer(ctx, c.ID); err != nil {
			r.logger.Error("Failed to remove orphaned container", "service_name", serviceName, "error", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d service(s) failed to reconcile", failed)
	}
	return nil
}

func (r *Reconciler) createService(ctx context.Context, compose *Compose, serviceName string, service Service) error {
	if err := r.pullImage(ctx, service.Image); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", service.Image, err)
	}

	exposedPorts, portBindings, err := nat.ParsePortSpecs(service.Ports)
	if err != nil {
		return fmt.Errorf("failed to parse port specs: %w", err)
	}

	endpoints := make(map[string]*network.EndpointSettings)
	for _, name := range service.Networks {
		endpoints[r.networkName(compose, name)] = &network.EndpointSettings{
			Aliases: []string{serviceName},
		}
	}

	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:        service.Image,
		Env:          service.Environment,
		ExposedPorts: exposedPorts,
		Labels:       r.labels(labelService, serviceName),
	}, &container.HostConfig{
		PortBindings: portBindings,
		Binds:        r.binds(compose, service.Volumes),
	}, &network.NetworkingConfig{
		EndpointsConfig: endpoints,
	}, nil, containerName(serviceName, service))
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	r.logger.Info("Created and started service", "service_name", serviceName, "container_id", shortID(resp.ID))
	return nil
}

func (r *Reconciler) removeContainer(ctx context.Context, id string) error {
	if err := r.cli.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", shortID(id), err)
	}
	if err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", shortID(id), err)
	}
	return nil
}

func (r *Reconciler) pullImage(ctx context.Context, imageName string) error {
	out, err := r.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(io.Discard, out)
	return err
}

// networkName resolves a network referenced by a service to the Docker
// network name the reconciler created, or the external name as written.
func (r *Reconciler) networkName(compose *Compose, name string) string {
	n, ok := compose.Networks[name]
	if !ok {
		return name
	}
	if n.Name != "" {
		return n.Name
	}
	if n.External {
		return name
	}
	return r.scopedName(name)
}

// binds rewrites the source of each named-volume bind to the Docker volume
// the reconciler created. Host paths and anonymous volumes pass through.
func (r *Reconciler) binds(compose *Compose, specs []string) []string {
	if len(specs) == 0 {
		return nil
	}
	out := make([]string, 0, len(specs))
	for _, spec := range specs {
		src, rest, ok := strings.Cut(spec, ":")
		if !ok || isHostPath(src) {
			out = append(out, spec)
			continue
		}
		out = append(out, r.volumeName(compose, src)+":"+rest)
	}
	return out
}

// volumeName mirrors networkName for volumes declared in the compose file.
func (r *Reconciler) volumeName(compose *Compose, name string) string {
	v, ok := compose.Volumes[name]
	if !ok {
		return name
	}
	if v.Name != "" {
		return v.Name
	}
	if v.External {
		return name
	}
	return r.scopedName(name)
}

func isHostPath(src string) bool {
	return strings.HasPrefix(src, "/") || strings.HasPrefix(src, ".") || strings.HasPrefix(src, "~")
}

func containerName(serviceName string, service Service) string {
	if service.ContainerName != "" {
		return service.ContainerName
	}
	return serviceName
}

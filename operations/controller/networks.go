package controller

import (
	"context"

	"github.com/moby/moby/api/types/network"
)

func (r *Reconciler) reconcileNetworks(ctx context.Context, desired map[string]Network) {
	actual, err := r.cli.NetworkList(ctx, network.ListOptions{
		Filters: r.projectFilter(),
	})
	if err != nil {
		r.logger.Error("Could not list networks", "error", err)
		return
	}

	// compose name -> docker network ID
	existing := make(map[string]string)
	for _, n := range actual {
		if name := n.Labels[labelNetwork]; name != "" {
			existing[name] = n.ID
		}
	}

	for name, n := range desired {
		if n.External {
			r.logger.Info("Skipping creation for external network", "network_name", name)
			continue
		}
		if _, ok := existing[name]; ok {
			continue
		}
		fullName := r.scopedName(name)
		if n.Name != "" {
			fullName = n.Name
		}
		_, err := r.cli.NetworkCreate(ctx, fullName, network.CreateOptions{
			Driver: n.Driver,
			Labels: r.labels(labelNetwork, name),
		})
		if err != nil {
			r.logger.Warn("Could not create network", "full_network_name", fullName, "error", err)
			continue
		}
		r.logger.Info("Network created", "full_network_name", fullName)
	}

	for _, name := range orphans(desired, existing) {
		r.logger.Info("Removing orphaned network", "network_name", name)
		if err := r.cli.NetworkRemove(ctx, existing[name]); err != nil {
			r.logger.Error("Failed to remove the network", "network_name", name, "error", err)
		}
	}
}

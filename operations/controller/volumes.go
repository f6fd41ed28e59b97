package controller

import (
	"context"
	"log/slog"

	"github.com/moby/moby/api/types/volume"
)

func (r *Reconciler) reconcileVolumes(ctx context.Context, desired map[string]Volume) {
	actual, err := r.cli.VolumeList(ctx, volume.ListOptions{
		Filters: r.projectFilter(),
	})
	if err != nil {
		r.logger.Error("Could not list volumes", "error", err)
		return
	}

	existing := make(map[string]string)
	for _, vol := range actual.Volumes {
		if name := vol.Labels[labelVolume]; name != "" {
			existing[name] = vol.Name
		}
	}

	for name, vol := range desired {
		logger := r.logger.With(slog.String("volume_name", name))
		if vol.External {
			logger.Info("Skipping creation for external volume")
			continue
		}
		if _, ok := existing[name]; ok {
			continue
		}
		fullName := r.scopedName(name)
		if vol.Name != "" {
			fullName = vol.Name
		}
		_, err := r.cli.VolumeCreate(ctx, volume.CreateOptions{
			Name:   fullName,
			Driver: vol.Driver,
			Labels: r.labels(labelVolume, name),
		})
		if err != nil {
			logger.Warn("Could not create volume", "full_volume_name", fullName, "error", err)
			continue
		}
		logger.Info("Volume created", "full_volume_name", fullName)
	}

	for _, name := range orphans(desired, existing) {
		dockerName := existing[name]
		r.logger.Info("Removing orphaned volume", "volume_name", dockerName)
		if err := r.cli.VolumeRemove(ctx, dockerName, true); err != nil {
			r.logger.Error("Failed to remove volume", "volume_name", dockerName, "error", err)
		}
	}
}

package controller

import "github.com/moby/moby/api/types/container"

// OrphanServices exports orphans for testing.
var OrphanServices = orphans[Service, container.Summary] //nolint:gochecknoglobals // test export

// ContainerName exports containerName for testing.
var ContainerName = containerName //nolint:gochecknoglobals // test export

// ShortID exports shortID for testing.
var ShortID = shortID //nolint:gochecknoglobals // test export

// NetworkName exports networkName for testing.
func (r *Reconciler) NetworkName(compose *Compose, name string) string {
	return r.networkName(compose, name)
}

// Binds exports binds for testing.
func (r *Reconciler) Binds(compose *Compose, specs []string) []string {
	return r.binds(compose, specs)
}

// VolumeName exports volumeName for testing.
func (r *Reconciler) VolumeName(compose *Compose, name string) string {
	return r.volumeName(compose, name)
}

// Package engine drives incremental script builds across the predefined
// targets.
package engine

// The implementation is split across multiple files for clarity:
// - driver.go: build iterations, database mounts, features and cache clearing
// - target.go: per-target session ownership and build coalescing
// - factory.go: default collaborators of a driver
// - safegroup.go: panic-safe concurrent target construction

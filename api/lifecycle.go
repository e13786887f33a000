// Package api defines public API contracts for blockmanager.
package api

import "context"

// Lifecycle defines the block lifecycle operations of a manager.
type Lifecycle interface {
	// AddBlock initializes b with cfg and registers it under its name.
	AddBlock(cfg Config, b Block) error
	// EnableBlock starts the named block on its own worker and returns immediately.
	EnableBlock(name string) error
	// DisableBlock requests the named block to stop and waits for it, bounded by ctx
	// and the manager's stop timeout. The block stays registered. Called by a block
	// on itself with its Run context, it only requests the stop.
	DisableBlock(ctx context.Context, name string) error
	// RemoveBlock deregisters the named block and reports whether it was present.
	RemoveBlock(name string) bool
}

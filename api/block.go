// Package api defines public API contracts for blockmanager.
package api

import "context"

// Block is a named, independently executing unit of work managed by the block manager.
type Block interface {
	// Name returns the stable identifier used as registry key and log tag.
	Name() string
	// Init is called exactly once, before the block is ever enabled.
	// The handle is the block's back-reference to the manager.
	Init(h Handle, cfg Config) error
	// Run executes the block's logic until ctx is cancelled or the work is done.
	// It is always called on a worker owned by the manager.
	Run(ctx context.Context) error
}

// Stopper is implemented by blocks that need a hook besides context
// cancellation to stop, e.g. to close a connection Run is blocked on.
type Stopper interface {
	RequestStop() error
}

// Handle is what a block gets back from the manager at Init time.
type Handle interface {
	Lifecycle

	LogInfo(source Block, msg string)
	LogWarn(source Block, msg string)
	LogError(source Block, msg string)
	LogConfig(source Block, msg string)
}

// BlockFunc adapts a plain function to the Block interface.
type BlockFunc struct {
	BlockName string
	Fn        func(ctx context.Context, h Handle, cfg Config) error

	handle Handle
	cfg    Config
}

func (b *BlockFunc) Name() string { return b.BlockName }

func (b *BlockFunc) Init(h Handle, cfg Config) error {
	b.handle = h
	b.cfg = cfg
	return nil
}

func (b *BlockFunc) Run(ctx context.Context) error {
	if b.Fn == nil {
		<-ctx.Done()
		return nil
	}
	return b.Fn(ctx, b.handle, b.cfg)
}

/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/blockmanager/api"
	"github.com/srediag/blockmanager/pkg/health"
	"github.com/srediag/blockmanager/pkg/lifecycle"
)

// Option customizes a Manager.
type Option func(*Manager)

// WithConsole sets the interactive log sink, stderr by default.
func WithConsole(w io.Writer) Option {
	return func(m *Manager) {
		m.console = w
	}
}

// WithBootstrap replaces the default directory loader. The block must report
// LoaderName; it is registered with LoaderConfig.
func WithBootstrap(b api.Block) Option {
	return func(m *Manager) {
		m.bootstrap = b
	}
}

// WithFactories sets the block kinds the default loader can instantiate.
func WithFactories(f *Factories) Option {
	return func(m *Manager) {
		if f != nil {
			m.factories = f
		}
	}
}

// WithRegistry sets where lifecycle and health metrics are registered and gathered.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(m *Manager) {
		if reg != nil {
			m.registry = reg
		}
	}
}

// WithTracer traces every lifecycle operation.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithMeter records lifecycle operation durations.
func WithMeter(meter metric.Meter) Option {
	return func(m *Manager) {
		if meter != nil {
			m.meter = meter
		}
	}
}

// Manager registers blocks and drives their lifecycle.
type Manager struct {
	config    *Config
	console   io.Writer
	logger    *Logger
	blocks    *registry
	pool      *ants.Pool
	factories *Factories
	bootstrap api.Block
	health    *health.Server

	registry *prometheus.Registry
	metrics  *metrics
	tracer   trace.Tracer
	meter    metric.Meter

	ctx    context.Context
	cancel context.CancelFunc

	// guards pending and orders inserts against shutdown
	addMu sync.Mutex
	// names whose Init is in progress
	pending map[string]struct{}

	started      atomic.Bool
	closed       atomic.Bool
	shutdownOnce sync.Once
	halted       chan struct{}
}

var _ api.Handle = (*Manager)(nil)

// New builds the runtime: logger, worker pool, plugin directory and the
// bootstrap loader. Blocks are not enabled until Start.
func New(config *Config, opts ...Option) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	m := &Manager{
		config:    config,
		console:   os.Stderr,
		blocks:    newRegistry(),
		factories: NewFactories(),
		registry:  prometheus.NewRegistry(),
		tracer:    tracenoop.NewTracerProvider().Tracer("blockmanager"),
		meter:     metricnoop.NewMeterProvider().Meter("blockmanager"),
		halted:    make(chan struct{}),
		pending:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	logger, logErr := NewLogger(config.LogLevel, m.console, config.LogFile)
	m.logger = logger
	m.logger.Info("Building runtime...")
	if logErr != nil {
		m.logger.Warnf("%v, logging to console only", logErr)
	}
	m.logger.Info("Logger setup successful")

	var err error
	if m.metrics, err = newMetrics(m.registry, m.meter); err != nil {
		_ = m.logger.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	size := config.PoolSize
	if size == 0 {
		size = -1
	}
	if m.pool, err = ants.NewPool(size, ants.WithNonblocking(true), ants.WithLogger(m.logger)); err != nil {
		_ = m.logger.Close()
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	if err := m.loadBlocks(); err != nil {
		m.logger.Severef("Could not load core components: %v", err)
		m.cancel()
		m.pool.Release()
		_ = m.logger.Close()
		return nil, err
	}
	m.logger.Infof("%d core component(s) successfully added", m.blocks.size())
	return m, nil
}

// loadBlocks makes sure the plugin directory exists and registers the loader.
func (m *Manager) loadBlocks() error {
	if err := os.MkdirAll(m.config.BlocksDir, 0o755); err != nil {
		return fmt.Errorf("create blocks directory: %w", err)
	}
	loader := m.bootstrap
	if loader == nil {
		loader = newLoader(m.config.BlocksDir, m.factories, m.config.LoaderInterval)
	}
	return m.AddBlock(LoaderConfig(), loader)
}

// Start enables every registered block and arms the shutdown coordinator.
func (m *Manager) Start() error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("block manager already started")
	}
	m.EnableAll()
	m.logger.Infof("%d core component(s) successfully enabled", m.running())

	if m.config.HandleSignals {
		m.watchSignals()
	}
	if m.config.HealthAddress != "" {
		if err := m.startHealth(); err != nil {
			m.logger.Severef("Could not start health endpoints: %v", err)
			return err
		}
	}
	m.logger.Info("Component Manager started successfully")
	return nil
}

// begin opens a span for a lifecycle operation; the returned func ends it and
// records the outcome.
func (m *Manager) begin(op, name string) func(error) {
	start := time.Now()
	ctx, span := m.tracer.Start(m.ctx, "block."+op,
		trace.WithAttributes(attribute.String("block.name", name)))
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		m.metrics.observe(ctx, op, time.Since(start), err)
	}
}

// AddBlock initializes b with a copy of cfg and registers it. A name that is
// already registered leaves the registry untouched.
func (m *Manager) AddBlock(cfg api.Config, b api.Block) (err error) {
	done := m.begin("add", cfg.Name)
	defer func() { done(err) }()

	if m.closed.Load() {
		return ErrManagerClosed
	}
	if b == nil {
		m.logger.Severef("Could not add %s: nil block", cfg.Name)
		return fmt.Errorf("add %s: nil block", cfg.Name)
	}
	name := b.Name()
	if cfg.Name != name {
		m.logger.Severef("Could not add %s: block reports name %q", cfg.Name, name)
		return fmt.Errorf("%w: config %q, block %q", ErrNameMismatch, cfg.Name, name)
	}

	if err := m.reserve(name); err != nil {
		return err
	}
	// Init runs unlocked so it may use the handle, e.g. to add further blocks
	if err := initBlock(b, m, cfg.Clone()); err != nil {
		m.release(name)
		m.logger.Severef("Could not add %s: %v", name, err)
		return fmt.Errorf("init %s: %w", name, err)
	}

	m.addMu.Lock()
	delete(m.pending, name)
	if m.closed.Load() {
		m.addMu.Unlock()
		return ErrManagerClosed
	}
	m.blocks.add(name, &entry{
		block:  b,
		config: cfg.Clone(),
		state:  lifecycle.StateStopped,
	})
	m.addMu.Unlock()
	m.metrics.registered.Inc()
	m.logger.Configf("Component: %s added", name)
	return nil
}

// reserve claims name for an add in progress.
func (m *Manager) reserve(name string) error {
	m.addMu.Lock()
	defer m.addMu.Unlock()
	if m.closed.Load() {
		return ErrManagerClosed
	}
	_, initializing := m.pending[name]
	if initializing || m.blocks.has(name) {
		m.logger.Severef("Could not add %s: Component already exists!", name)
		return fmt.Errorf("%w: %s", ErrBlockExists, name)
	}
	m.pending[name] = struct{}{}
	return nil
}

func (m *Manager) release(name string) {
	m.addMu.Lock()
	delete(m.pending, name)
	m.addMu.Unlock()
}

func initBlock(b api.Block, h api.Handle, cfg api.Config) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("init panic: %v", r)
		}
	}()
	return b.Init(h, cfg)
}

// EnableBlock starts the named block on its own worker. It does not wait for
// the block to do anything.
func (m *Manager) EnableBlock(name string) (err error) {
	done := m.begin("enable", name)
	defer func() {
		if err != nil {
			m.logger.Severef("Component: %s could not be enabled: %v", name, err)
		}
		done(err)
	}()

	if m.closed.Load() {
		return ErrManagerClosed
	}
	e, ok := m.blocks.get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrBlockNotFound, name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return fmt.Errorf("%w: %s", ErrBlockNotFound, name)
	}
	next, err := lifecycle.Next(e.state, lifecycle.EventEnable)
	if err != nil {
		return err
	}
	w, err := m.spawn(e)
	if err != nil {
		return err
	}
	e.state, e.worker = next, w
	m.metrics.running.Inc()
	m.logger.Infof("Component: %s enabled", name)
	return nil
}

// exited is run on the worker once the block's Run has returned.
func (m *Manager) exited(name string, e *entry, w *worker) {
	e.mu.Lock()
	if e.worker == w {
		e.state, _ = lifecycle.Next(e.state, lifecycle.EventExit)
		e.worker = nil
	}
	e.mu.Unlock()
	m.metrics.running.Dec()

	if w.err != nil && !errors.Is(w.err, context.Canceled) {
		m.logger.Severef("Component: %s exited with error: %v", name, w.err)
		return
	}
	m.logger.Infof("Component: %s stopped", name)
}

// requestStop moves the block to StopRequested and returns its worker. Cancelling
// the worker context and the Stopper hook only happen on the first request.
func (m *Manager) requestStop(name string) (*worker, error) {
	e, ok := m.blocks.get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, name)
	}
	e.mu.Lock()
	prev := e.state
	next, err := lifecycle.Next(prev, lifecycle.EventDisable)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.state = next
	w := e.worker
	e.mu.Unlock()

	if prev != lifecycle.StateRunning {
		return w, nil
	}
	w.cancel()
	if s, ok := e.block.(api.Stopper); ok {
		if err := callStop(s); err != nil {
			return w, fmt.Errorf("request stop: %w", err)
		}
	}
	m.logger.Configf("Component: %s stop requested", name)
	return w, nil
}

func callStop(s api.Stopper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.RequestStop()
}

// DisableBlock asks the named block to stop and waits until it does, up to
// the configured stop timeout or until ctx is done. The block stays registered
// whatever the outcome.
func (m *Manager) DisableBlock(ctx context.Context, name string) (err error) {
	done := m.begin("disable", name)
	defer func() {
		if err != nil {
			m.logger.Severef("Component: %s could not be disabled: %v", name, err)
		}
		done(err)
	}()

	w, err := m.requestStop(name)
	if err != nil {
		return err
	}
	if err := m.await(ctx, w, time.Now().Add(m.config.StopTimeout)); err != nil {
		return err
	}
	m.logger.Infof("Component: %s disabled", name)
	return nil
}

// await joins w. A block disabling itself from Run is not waited for: its
// worker cannot exit before the call returns.
func (m *Manager) await(ctx context.Context, w *worker, deadline time.Time) error {
	if runningOn(ctx, w) {
		return nil
	}
	err := w.wait(ctx, deadline)
	if errors.Is(err, ErrStopTimeout) {
		return fmt.Errorf("%w: did not stop within %s", err, m.config.StopTimeout)
	}
	return err
}

// RemoveBlock deregisters the named block whatever its state. A block that is
// still running has its worker cancelled but is not waited for.
func (m *Manager) RemoveBlock(name string) bool {
	done := m.begin("remove", name)
	e, ok := m.blocks.remove(name)
	if !ok {
		m.logger.Configf("Component: %s not registered, nothing to remove", name)
		done(fmt.Errorf("%w: %s", ErrBlockNotFound, name))
		return false
	}
	e.mu.Lock()
	e.removed = true
	state, w := e.state, e.worker
	e.mu.Unlock()

	if state.Active() && w != nil {
		w.cancel()
		m.logger.Warnf("Component: %s removed while %s, stop requested", name, state)
	}
	m.metrics.registered.Dec()
	m.logger.Configf("Component: %s removed", name)
	done(nil)
	return true
}

// EnableAll enables every registered block in load order.
func (m *Manager) EnableAll() {
	for _, name := range m.blocks.names() {
		_ = m.EnableBlock(name)
	}
}

// DisableAll requests every running block to stop, in reverse load order, and
// then waits for all of them against one shared deadline. Blocks that are not
// running are skipped.
func (m *Manager) DisableAll(ctx context.Context) {
	type pending struct {
		name string
		w    *worker
		done func(error)
	}
	var waits []pending
	for _, name := range reversed(m.blocks.names()) {
		done := m.begin("disable", name)
		w, err := m.requestStop(name)
		switch {
		case errors.Is(err, lifecycle.ErrInvalidTransition), errors.Is(err, ErrBlockNotFound):
			m.logger.Configf("Component: %s is not running, skipped", name)
			done(nil)
			continue
		case err != nil:
			m.logger.Severef("Component: %s could not be disabled: %v", name, err)
			if w == nil {
				done(err)
				continue
			}
		}
		waits = append(waits, pending{name: name, w: w, done: done})
	}

	deadline := time.Now().Add(m.config.StopTimeout)
	for _, p := range waits {
		err := m.await(ctx, p.w, deadline)
		if err != nil {
			m.logger.Severef("Component: %s could not be disabled: %v", p.name, err)
		} else {
			m.logger.Infof("Component: %s disabled", p.name)
		}
		p.done(err)
	}
}

// RemoveAll deregisters every block in reverse load order.
func (m *Manager) RemoveAll() {
	for _, name := range reversed(m.blocks.names()) {
		m.RemoveBlock(name)
	}
}

func reversed(names []string) []string {
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names
}

func (m *Manager) running() int {
	n := 0
	for _, e := range m.blocks.entries.Items() {
		if state, _ := e.snapshot(); state == lifecycle.StateRunning {
			n++
		}
	}
	return n
}

// Block returns the registered block with that name.
func (m *Manager) Block(name string) (api.Block, bool) {
	e, ok := m.blocks.get(name)
	if !ok {
		return nil, false
	}
	return e.block, true
}

// State returns the run state of the named block.
func (m *Manager) State(name string) (lifecycle.State, bool) {
	e, ok := m.blocks.get(name)
	if !ok {
		return lifecycle.StateStopped, false
	}
	state, _ := e.snapshot()
	return state, true
}

// Names returns the registered names in load order.
func (m *Manager) Names() []string { return m.blocks.names() }

// Blocks returns a snapshot of the registry. Mutating it does not affect the manager.
func (m *Manager) Blocks() map[string]api.Block { return m.blocks.blocks() }

// Logger returns the manager's logger.
func (m *Manager) Logger() *Logger { return m.logger }

// Factories returns the block kinds known to the default loader.
func (m *Manager) Factories() *Factories { return m.factories }

// Registry returns the Prometheus registry holding the manager's metrics.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

func (m *Manager) LogInfo(source api.Block, msg string) {
	m.logger.Info(blockMessage(source.Name(), msg))
}

func (m *Manager) LogWarn(source api.Block, msg string) {
	m.logger.Warning(blockMessage(source.Name(), msg))
}

func (m *Manager) LogError(source api.Block, msg string) {
	m.logger.Severe(blockMessage(source.Name(), msg))
}

func (m *Manager) LogConfig(source api.Block, msg string) {
	m.logger.Config(blockMessage(source.Name(), msg))
}

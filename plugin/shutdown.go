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
	"os"
	"os/signal"

	"github.com/srediag/blockmanager/pkg/health"
)

// Shutdown disables every block, then removes every block, then releases the
// manager's resources. It runs once; later calls wait for the first to finish.
// It does not wait past the shutdown timeout for blocks that ignore the stop
// request.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(m.shutdown)
}

func (m *Manager) shutdown() {
	// adds still in Init commit before this or not at all
	m.addMu.Lock()
	m.closed.Store(true)
	m.addMu.Unlock()
	m.logger.Info("Shutdown initiated")

	ctx, cancel := context.WithTimeout(context.Background(), m.config.ShutdownTimeout)
	defer cancel()
	m.DisableAll(ctx)
	m.RemoveAll()

	if m.health != nil {
		if err := m.health.Shutdown(ctx); err != nil {
			m.logger.Warnf("Health endpoints did not stop cleanly: %v", err)
		}
	}
	m.cancel()
	m.pool.Release()
	m.logger.Info("Halted.")
	if err := m.logger.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
	}
	close(m.halted)
}

// Done is closed once Shutdown has completed.
func (m *Manager) Done() <-chan struct{} {
	return m.halted
}

// watchSignals runs Shutdown when the process is asked to terminate.
func (m *Manager) watchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, shutdownSignals...)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			m.logger.Infof("Received %s", sig)
			m.Shutdown()
		case <-m.halted:
		}
	}()
}

func (m *Manager) startHealth() error {
	srv := health.NewServer(health.Options{
		Address:       m.config.HealthAddress,
		Namespace:     metricsNamespace,
		MaxGoroutines: m.config.MaxGoroutines,
		Readiness: []health.Checker{
			{Name: "manager", Check: m.ready},
			{Name: "blocks-dir", Check: health.DiskSpaceCheck(m.config.BlocksDir, m.config.MinFreeDiskBytes)},
		},
		Registerer: m.registry,
		Gatherer:   m.registry,
	})
	if err := srv.Start(); err != nil {
		return err
	}
	m.health = srv
	m.logger.Infof("Health endpoints listening on %s", srv.Addr())
	return nil
}

func (m *Manager) ready() error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	if !m.started.Load() {
		return errors.New("block manager not started")
	}
	if _, ok := m.blocks.get(LoaderName); !ok {
		return fmt.Errorf("%w: %s", ErrBlockNotFound, LoaderName)
	}
	return nil
}

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

// Command blockmanager runs the block manager: it loads the blocks described
// in the blocks directory, keeps them running and shuts them down on SIGINT,
// SIGTERM or SIGHUP.
package main

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/srediag/blockmanager/examples"
	"github.com/srediag/blockmanager/plugin"
)

func main() {
	defaults := plugin.DefaultConfig()

	blocksDir := flag.String("blocks", defaults.BlocksDir, "Directory holding block descriptors")
	logFile := flag.String("log-file", defaults.LogFile, "Append-only log file, empty for console only")
	logLevel := flag.String("log-level", defaults.LogLevel.String(), "Minimum log level: CONFIG, INFO, WARNING, SEVERE, OFF")
	healthAddr := flag.String("health-addr", "", "Address of the /live, /ready and /metrics endpoints")
	stopTimeout := flag.Duration("stop-timeout", defaults.StopTimeout, "How long a block may take to stop")
	shutdownTimeout := flag.Duration("shutdown-timeout", defaults.ShutdownTimeout, "How long shutdown may take to stop every block")
	loaderInterval := flag.Duration("loader-interval", defaults.LoaderInterval, "How often the blocks directory is rescanned")
	poolSize := flag.Int("pool-size", defaults.PoolSize, "Maximum number of running blocks, 0 for unbounded")
	flag.Parse()

	// Environment variable overrides
	if v := os.Getenv("BLOCKMANAGER_HEALTH_ADDR"); v != "" {
		*healthAddr = v
	}
	if v := os.Getenv("BLOCKMANAGER_LOG_FILE"); v != "" {
		*logFile = v
	}
	if v := os.Getenv("BLOCKMANAGER_STOP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("Invalid BLOCKMANAGER_STOP_TIMEOUT: %v", err)
		}
		*stopTimeout = d
	}

	level, err := plugin.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}

	config := &plugin.Config{
		BlocksDir:       *blocksDir,
		LogFile:         *logFile,
		LogLevel:        level,
		StopTimeout:     *stopTimeout,
		ShutdownTimeout: *shutdownTimeout,
		LoaderInterval:  *loaderInterval,
		PoolSize:        *poolSize,
		HealthAddress:   *healthAddr,
		MaxGoroutines:   defaults.MaxGoroutines,
		HandleSignals:   true,
	}

	factories := plugin.NewFactories()
	if err := examples.Register(factories); err != nil {
		log.Fatalf("Failed to register block kinds: %v", err)
	}

	m, err := plugin.New(config, plugin.WithFactories(factories))
	if err != nil {
		log.Fatalf("Failed to create block manager: %v", err)
	}
	if err := m.Start(); err != nil {
		m.Shutdown()
		os.Exit(1)
	}
	<-m.Done()
}

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
	"fmt"
	"os"
	"time"
)

const (
	defaultBlocksDir       = "blocks/"
	defaultLogFile         = "blockmanager.log"
	defaultStopTimeout     = 5 * time.Second
	defaultShutdownTimeout = 15 * time.Second
	defaultLoaderInterval  = 30 * time.Second
	defaultMaxGoroutines   = 10000
)

// Config is used to tune the block manager.
type Config struct {
	// BlocksDir is where packaged block descriptors are looked up. Created if absent.
	BlocksDir string

	// LogFile is the append-only log file. Empty disables the file sink.
	LogFile string

	// LogLevel is the minimum level written to both sinks.
	LogLevel Level

	// StopTimeout bounds how long DisableBlock waits for a block to acknowledge.
	StopTimeout time.Duration

	// ShutdownTimeout bounds the whole disable sweep run by Shutdown.
	ShutdownTimeout time.Duration

	// LoaderInterval is the bootstrap loader's rescan period.
	LoaderInterval time.Duration

	// PoolSize caps concurrently running blocks, 0 means unbounded.
	PoolSize int

	// HealthAddress enables the /live, /ready and /metrics endpoints when set.
	HealthAddress string

	// MinFreeDiskBytes makes readiness fail when BlocksDir has less free space.
	MinFreeDiskBytes uint64

	// MaxGoroutines is the liveness threshold of the health endpoint.
	MaxGoroutines int

	// HandleSignals arms the shutdown coordinator on SIGINT/SIGTERM at Start.
	HandleSignals bool
}

// DefaultConfig is the default configuration. BLOCKS_LOG_LEVEL and BLOCKS_DIR
// in the process environment override the log level and the blocks directory.
func DefaultConfig() *Config {
	c := &Config{
		BlocksDir:       defaultBlocksDir,
		LogFile:         defaultLogFile,
		LogLevel:        LevelInfo,
		StopTimeout:     defaultStopTimeout,
		ShutdownTimeout: defaultShutdownTimeout,
		LoaderInterval:  defaultLoaderInterval,
		MaxGoroutines:   defaultMaxGoroutines,
		HandleSignals:   true,
	}
	if v := os.Getenv("BLOCKS_LOG_LEVEL"); v != "" {
		if l, err := ParseLevel(v); err == nil {
			c.LogLevel = l
		}
	}
	if v := os.Getenv("BLOCKS_DIR"); v != "" {
		c.BlocksDir = v
	}
	return c
}

// VerifyConfig is used to verify the sanity of configuration.
func VerifyConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if config.BlocksDir == "" {
		return fmt.Errorf("%w: blocks directory must not be empty", ErrInvalidConfig)
	}
	if config.LogLevel < LevelConfig || config.LogLevel > LevelOff {
		return fmt.Errorf("%w: log level %d out of range", ErrInvalidConfig, config.LogLevel)
	}
	if config.StopTimeout <= 0 {
		return fmt.Errorf("%w: stop timeout must be positive", ErrInvalidConfig)
	}
	if config.ShutdownTimeout < config.StopTimeout {
		return fmt.Errorf("%w: shutdown timeout %s is shorter than stop timeout %s",
			ErrInvalidConfig, config.ShutdownTimeout, config.StopTimeout)
	}
	if config.LoaderInterval <= 0 {
		return fmt.Errorf("%w: loader interval must be positive", ErrInvalidConfig)
	}
	if config.PoolSize < 0 {
		return fmt.Errorf("%w: pool size must not be negative", ErrInvalidConfig)
	}
	return nil
}

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

import "errors"

var (
	// ErrBlockExists is returned by AddBlock when the name is already registered.
	ErrBlockExists = errors.New("block already exists")
	// ErrBlockNotFound is returned for operations on a name that is not registered.
	ErrBlockNotFound = errors.New("block not registered")
	// ErrNameMismatch is returned by AddBlock when the config and the block disagree on the name.
	ErrNameMismatch = errors.New("config name does not match block name")
	// ErrStopTimeout is returned by DisableBlock when the block did not stop in time.
	ErrStopTimeout = errors.New("stop timed out")
	// ErrManagerClosed is returned after Shutdown.
	ErrManagerClosed = errors.New("block manager is shut down")
	// ErrInvalidConfig is returned by VerifyConfig.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrFactoryExists is returned when a block kind is registered twice.
	ErrFactoryExists = errors.New("block factory already registered")
	// ErrUnknownKind is returned when no factory is registered for a descriptor's kind.
	ErrUnknownKind = errors.New("unknown block kind")
)

/*
 * Copyright 2021 National Library of Norway.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *       http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package rootctx holds the state every aardwarc subcommand needs but
// none of them owns: the config file path set by the root command's
// persistent flag, and a per-invocation logger tagged with a
// correlation ID so a single run's log lines can be grepped out of a
// shared log stream.
package rootctx

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bsdphk/aardwarc/archive"
	"github.com/bsdphk/aardwarc/index"
	"github.com/bsdphk/aardwarc/internal/config"
)

// ConfigPath is set by the root command's --config flag before any
// subcommand's RunE runs.
var ConfigPath string

var (
	once   sync.Once
	logger *logrus.Entry
)

// Logger returns this process's logger, tagged with a run-scoped
// correlation ID generated on first use.
func Logger() *logrus.Entry {
	once.Do(func() {
		logger = logrus.StandardLogger().WithField("run_id", uuid.NewString())
	})
	return logger
}

// OpenArchive loads the config at ConfigPath and returns a ready
// archive.Handle and Index, the way every subcommand that touches the
// store starts out.
func OpenArchive() (*archive.Handle, *index.Index, error) {
	return config.Open(ConfigPath, Logger())
}

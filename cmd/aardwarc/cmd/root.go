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
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bsdphk/aardwarc/awerr"
	"github.com/bsdphk/aardwarc/cmd/aardwarc/cmd/get"
	"github.com/bsdphk/aardwarc/cmd/aardwarc/cmd/housekeeping"
	"github.com/bsdphk/aardwarc/cmd/aardwarc/cmd/info"
	"github.com/bsdphk/aardwarc/cmd/aardwarc/cmd/ls"
	"github.com/bsdphk/aardwarc/cmd/aardwarc/cmd/rootctx"
	"github.com/bsdphk/aardwarc/cmd/aardwarc/cmd/store"
)

var logLevel string

// NewCommand returns a new cobra.Command implementing the root command
// for aardwarc.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aardwarc",
		Short: "Content-addressed archival object store",
		Long: `aardwarc stores and retrieves WARC records in a content-addressed
archive of append-only silo files, each record individually gzip-framed
and indexed by a truncated SHA-256 digest.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("bad --log-level: %w", err)
			}
			logrus.SetLevel(level)
			return nil
		},
	}

	cobra.OnInitialize(initConfig)

	cmd.PersistentFlags().StringVar(&rootctx.ConfigPath, "config", "", "archive config file (required)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))

	cmd.AddCommand(store.NewCommand())
	cmd.AddCommand(get.NewCommand())
	cmd.AddCommand(info.NewCommand())
	cmd.AddCommand(ls.NewCommand())
	cmd.AddCommand(housekeeping.NewCommand())

	return cmd
}

// initConfig lets AARDWARC_CONFIG override an unset --config flag, the
// same env-var-over-flag-default precedence root.go's viper.AutomaticEnv
// gives the teacher's own config file discovery.
func initConfig() {
	viper.SetEnvPrefix("aardwarc")
	viper.AutomaticEnv()
	if rootctx.ConfigPath == "" {
		if v := viper.GetString("config"); v != "" {
			rootctx.ConfigPath = v
		}
	}
}

// Execute runs the root command and exits the process with code 0 on
// success, 2 for an awerr.Config error, and 1 for any other error
// (usage errors included).
func Execute() {
	err := NewCommand().Execute()
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)

	var awErr *awerr.Error
	if errors.As(err, &awErr) && awErr.Kind == awerr.Config {
		os.Exit(2)
	}
	os.Exit(1)
}

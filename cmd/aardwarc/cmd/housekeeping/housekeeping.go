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

// Package housekeeping implements the "aardwarc housekeeping" subcommand:
// merge the index's append log into its sorted file.
package housekeeping

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bsdphk/aardwarc/cmd/aardwarc/cmd/rootctx"
)

// NewCommand returns the "housekeeping" subcommand.
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "housekeeping",
		Short: "Merge the pending index appendix into the sorted index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
}

func run() error {
	aa, idx, err := rootctx.OpenArchive()
	if err != nil {
		return err
	}
	log := rootctx.Logger().WithField("op", "housekeeping")

	start := time.Now()
	if err := idx.Resort(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	log.WithField("elapsed", elapsed).Info("index resorted")
	fmt.Printf("resorted index for %s in %s\n", aa.Prefix(), elapsed)
	return nil
}

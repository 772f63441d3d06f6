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

// Package info implements the "aardwarc info" subcommand: print a short
// summary of the archive named by the active config file.
package info

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bsdphk/aardwarc/cmd/aardwarc/cmd/rootctx"
	"github.com/bsdphk/aardwarc/index"
)

// NewCommand returns the "info" subcommand.
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print a summary of the archive",
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

	var entries int
	if err := idx.Iter("", func(_ index.Entry) (bool, error) {
		entries++
		return false, nil
	}); err != nil {
		return err
	}

	fmt.Printf("prefix:           %s\n", aa.Prefix())
	fmt.Printf("id-size:          %d bits\n", aa.IDSize()*4)
	fmt.Printf("silo-directory:   %s\n", aa.SiloDir())
	fmt.Printf("silo-basename:    %s\n", aa.SiloBasename())
	fmt.Printf("silo-max-size:    %d\n", aa.SiloMaxSize())
	fmt.Printf("index-sort-size:  %d\n", aa.IndexSortSize())
	fmt.Printf("entries:          %d\n", entries)
	return nil
}

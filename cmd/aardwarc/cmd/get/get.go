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

// Package get implements the "aardwarc get" subcommand: resolve an id (or
// prefix) and stream its reassembled payload to stdout or a file.
package get

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bsdphk/aardwarc/cmd/aardwarc/cmd/rootctx"
	"github.com/bsdphk/aardwarc/getjob"
)

type conf struct {
	output string
	quiet  bool
	gzip   bool
}

// NewCommand returns the "get" subcommand.
func NewCommand() *cobra.Command {
	c := &conf{}
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Retrieve a record by id or id prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(c, args[0])
		},
	}

	cmd.Flags().StringVarP(&c.output, "output", "o", "", "write payload to this file instead of stdout")
	cmd.Flags().BoolVarP(&c.quiet, "quiet", "q", false, "suppress the header summary on stderr")
	cmd.Flags().BoolVarP(&c.gzip, "gzip", "z", false, "emit the stored gzip stream verbatim instead of inflating")

	return cmd
}

func run(c *conf, id string) error {
	aa, idx, err := rootctx.OpenArchive()
	if err != nil {
		return err
	}

	g, err := getjob.New(aa, idx, id)
	if err != nil {
		return err
	}
	defer g.Close()

	if !c.quiet {
		h, err := g.Headers()
		if err != nil {
			return err
		}
		total, err := g.TotalLength(c.gzip)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "id: %s\n", h.GetID())
		fmt.Fprintf(os.Stderr, "segments: %d\n", g.Segments())
		fmt.Fprintf(os.Stderr, "length: %d\n", total)
	}

	out := os.Stdout
	if c.output != "" {
		f, err := os.Create(c.output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	return g.Iter(c.gzip, func(p []byte) error {
		_, err := out.Write(p)
		return err
	})
}

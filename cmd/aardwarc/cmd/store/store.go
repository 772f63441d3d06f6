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

// Package store implements the "aardwarc store" subcommand: feed a file
// (or stdin) into a SegJob and print the resulting content-addressed ID.
package store

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bsdphk/aardwarc/cmd/aardwarc/cmd/rootctx"
	"github.com/bsdphk/aardwarc/segjob"
)

type conf struct {
	warcType string
	mimeType string
	refersTo string
}

// NewCommand returns the "store" subcommand.
func NewCommand() *cobra.Command {
	c := &conf{}
	cmd := &cobra.Command{
		Use:   "store [file|-]",
		Short: "Store a file (or stdin) as a new record",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filename := "-"
			if len(args) == 1 {
				filename = args[0]
			}
			return run(c, filename)
		},
	}

	cmd.Flags().StringVarP(&c.warcType, "type", "t", "resource", "record type: resource or metadata")
	cmd.Flags().StringVarP(&c.mimeType, "mime-type", "m", "", "Content-Type to record and validate")
	cmd.Flags().StringVarP(&c.refersTo, "refers-to", "r", "", "WARC-Refers-To id (metadata records only)")

	return cmd
}

func run(c *conf, filename string) error {
	aa, idx, err := rootctx.OpenArchive()
	if err != nil {
		return err
	}
	log := rootctx.Logger().WithField("op", "store")

	var opts []segjob.Option
	switch c.warcType {
	case "resource":
	case "metadata":
		if c.refersTo == "" {
			return fmt.Errorf("store -t metadata requires -r")
		}
		opts = append(opts, segjob.WithRefersTo(c.refersTo))
	default:
		return fmt.Errorf("unknown record type %q", c.warcType)
	}
	if c.mimeType != "" {
		opts = append(opts, segjob.WithContentType(c.mimeType))
	}

	in := os.Stdin
	if filename != "-" {
		f, err := os.Open(filename)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	j := segjob.New(aa, idx, opts...)
	if _, err := io.Copy(j, in); err != nil {
		return err
	}
	res, err := j.Close()
	if err != nil {
		return err
	}

	log.WithField("id", res.ID).WithField("segments", res.Segments).Debug("stored record")
	fmt.Println(aa.Prefix() + res.ID)
	return nil
}

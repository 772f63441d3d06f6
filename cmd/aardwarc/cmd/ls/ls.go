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

// Package ls implements the "aardwarc ls" subcommand: list every index
// entry under an optional id prefix, color-coded by record type.
package ls

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bsdphk/aardwarc/cmd/aardwarc/cmd/rootctx"
	"github.com/bsdphk/aardwarc/index"
)

type conf struct {
	noColor bool
}

// NewCommand returns the "ls" subcommand.
func NewCommand() *cobra.Command {
	c := &conf{}
	cmd := &cobra.Command{
		Use:   "ls [id-prefix]",
		Short: "List index entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			return run(c, prefix)
		},
	}
	cmd.Flags().BoolVar(&c.noColor, "no-color", false, "disable colorized output")
	return cmd
}

func run(c *conf, prefix string) error {
	_, idx, err := rootctx.OpenArchive()
	if err != nil {
		return err
	}

	colorFor := func(flags uint32) *color.Color {
		switch {
		case flags&index.FlagWarcinfo != 0:
			return color.New(color.FgCyan)
		case flags&index.FlagMetadata != 0:
			return color.New(color.FgYellow)
		case flags&index.FlagResource != 0 && flags&index.FlagSegmented != 0:
			return color.New(color.FgMagenta)
		case flags&index.FlagResource != 0:
			return color.New(color.FgGreen)
		default:
			return color.New(color.FgWhite)
		}
	}
	if c.noColor {
		color.NoColor = true
	}

	return idx.Iter(prefix, func(e index.Entry) (bool, error) {
		label := typeLabel(e.Flags)
		colorFor(e.Flags).Printf("%-64s", e.KeyHex())
		fmt.Printf(" %-12s silo=%-6d offset=%d\n", label, e.Silo, e.Offset)
		return false, nil
	})
}

func typeLabel(flags uint32) string {
	switch {
	case flags&index.FlagWarcinfo != 0:
		return "warcinfo"
	case flags&index.FlagMetadata != 0 && flags&index.FlagSegmented != 0 && flags&index.FlagFirstSeg == 0:
		return "continuation"
	case flags&index.FlagResource != 0 && flags&index.FlagSegmented != 0 && flags&index.FlagFirstSeg == 0:
		return "continuation"
	case flags&index.FlagMetadata != 0:
		return "metadata"
	case flags&index.FlagResource != 0:
		return "resource"
	default:
		return "continuation"
	}
}

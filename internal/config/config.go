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

// Package config reads the section-scoped text configuration format into
// an archive.Config. A line with no leading whitespace and ending in ":"
// names a section (e.g. "silo.max_size:", "warcinfo.body:" -- the dot is
// part of the section name, not a nesting separator); every indented
// line below it is one entry, its first whitespace-delimited token the
// entry's name and the remainder (if any) its argument.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/bsdphk/aardwarc/archive"
	"github.com/bsdphk/aardwarc/awerr"
	"github.com/bsdphk/aardwarc/index"
	"github.com/bsdphk/aardwarc/internal/vnum"
)

// entry is one "name [arg]" line under a section.
type entry struct {
	name string
	arg  string
}

// section is every entry collected under one "name:" header, in file order.
type section []entry

// document is the parsed-but-untyped configuration file: section name to
// its entries.
type document map[string]section

// singleValue demands exactly one entry in section sec and returns its
// name and argument fields -- the Go analogue of Config_Get.
func (d document) singleValue(sec string) (name, arg string, ok bool) {
	s, present := d[strings.ToLower(sec)]
	if !present || len(s) != 1 {
		return "", "", false
	}
	return s[0].name, s[0].arg, true
}

// Read parses the file at path into an archive.Config. It does not call
// archive.New itself, so a caller can still layer command-line overrides
// on top of the decoded struct before validating it.
func Read(path string) (archive.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return archive.Config{}, awerr.Wrap(awerr.Config, "config.Read", "open config file", err)
	}
	defer f.Close()
	return Decode(f)
}

// Open reads the archive config at path, validates it through
// archive.New, loads its silo-number cache and returns both the handle
// and a fresh Index bound to it -- the one-call path every cmd/aardwarc
// subcommand uses to get a ready-to-use archive.
func Open(path string, log logrus.FieldLogger) (*archive.Handle, *index.Index, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, nil, err
	}
	aa, err := archive.New(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	aa.ReadCache()
	return aa, index.New(aa), nil
}

// decoded is the intermediate, still-stringly-typed shape mapstructure
// populates before vnum and prefix/id-size parsing coerce it into the
// real archive.Config.
type decoded struct {
	SiloDirectory string `mapstructure:"silo.directory"`
	SiloBasename  string `mapstructure:"silo.basename"`
	SiloMaxSize   string `mapstructure:"silo.max_size"`
	IndexSortSize string `mapstructure:"index.sort_size"`
}

// Decode parses r using the same grammar as Read.
func Decode(r io.Reader) (archive.Config, error) {
	doc, err := parseDocument(r)
	if err != nil {
		return archive.Config{}, err
	}

	flat := map[string]string{}
	for _, key := range []string{"silo.directory", "silo.basename", "silo.max_size", "index.sort_size"} {
		if name, _, ok := doc.singleValue(key); ok {
			flat[key] = name
		}
	}

	var dc decoded
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &dc,
	})
	if err != nil {
		return archive.Config{}, awerr.Wrap(awerr.Config, "config.Decode", "build decoder", err)
	}
	if err := dec.Decode(flat); err != nil {
		return archive.Config{}, awerr.Wrap(awerr.Config, "config.Decode", "decode fields", err)
	}

	cfg := archive.Config{
		SiloDir:      dc.SiloDirectory,
		SiloBasename: dc.SiloBasename,
	}

	prefix, name, arg, ok := "", "", "", false
	name, arg, ok = doc.singleValue("warc-record-id")
	if !ok {
		return archive.Config{}, awerr.New(awerr.Config, "config.Decode", "WARC-Record-ID section is required")
	}
	prefix = name
	if arg != "" {
		bits, convErr := strconv.Atoi(strings.TrimSpace(arg))
		if convErr != nil {
			return archive.Config{}, awerr.Wrap(awerr.Config, "config.Decode", fmt.Sprintf("bad WARC-Record-ID size %q", arg), convErr)
		}
		cfg.IDSizeBits = bits
	}
	cfg.Prefix = prefix

	if dc.SiloMaxSize != "" {
		n, err := vnum.Parse2Bytes(dc.SiloMaxSize, 0)
		if err != nil {
			return archive.Config{}, awerr.Wrap(awerr.Config, "config.Decode", "silo.max_size", err)
		}
		cfg.SiloMaxSize = n
	}
	if dc.IndexSortSize != "" {
		n, err := vnum.Parse2Bytes(dc.IndexSortSize, 0)
		if err != nil {
			return archive.Config{}, awerr.Wrap(awerr.Config, "config.Decode", "index.sort_size", err)
		}
		cfg.IndexSortSize = n
	}

	if body, ok := doc["warcinfo.body"]; ok {
		for _, e := range body {
			cfg.WarcinfoBody = append(cfg.WarcinfoBody, [2]string{e.name, e.arg})
		}
	}
	if mimes, ok := doc["resource.mime-types"]; ok {
		for _, e := range mimes {
			cfg.ResourceMimeTypes = append(cfg.ResourceMimeTypes, e.name)
		}
	}
	if mimes, ok := doc["metadata.mime-types"]; ok {
		for _, e := range mimes {
			cfg.MetadataMimeTypes = append(cfg.MetadataMimeTypes, e.name)
		}
	}

	return cfg, nil
}

// parseDocument scans r into a document.
func parseDocument(r io.Reader) (document, error) {
	doc := document{}
	current := ""
	haveSection := false

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		if hash := strings.IndexByte(raw, '#'); hash >= 0 {
			raw = raw[:hash]
		}
		if strings.TrimSpace(raw) == "" {
			continue
		}

		indented := raw[0] == ' ' || raw[0] == '\t'
		if !indented {
			trimmed := strings.TrimSpace(raw)
			name := strings.TrimSuffix(trimmed, ":")
			if name == trimmed {
				return nil, awerr.New(awerr.Config, "config.parseDocument",
					fmt.Sprintf("line %d: expected a section header ending in ':'", lineNo))
			}
			current = strings.ToLower(name)
			if _, exists := doc[current]; !exists {
				doc[current] = nil
			}
			haveSection = true
			continue
		}

		if !haveSection {
			return nil, awerr.New(awerr.Config, "config.parseDocument",
				fmt.Sprintf("line %d: entry before any section header", lineNo))
		}
		fields := strings.Fields(raw)
		if len(fields) == 0 {
			continue
		}
		e := entry{name: fields[0]}
		if len(fields) > 1 {
			e.arg = strings.Join(fields[1:], " ")
		}
		doc[current] = append(doc[current], e)
	}
	if err := scanner.Err(); err != nil {
		return nil, awerr.Wrap(awerr.Io, "config.parseDocument", "read config", err)
	}
	return doc, nil
}

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

// Package warcheader implements AardWARC's own WARC header dialect: an
// case-insensitively-alphabetical set of header fields
// plus a fixed-width record-ID slot, serialized with CRLF line endings and
// optionally gzip-framed. It is deliberately not a general WARC 1.1 parser:
// only the subset this store itself ever writes is accepted on read.
package warcheader

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/bsdphk/aardwarc/internal/gzipframe"
	"github.com/bsdphk/aardwarc/internal/timestamp"
)

type field struct {
	name string
	val  string
}

// Header is an ordered WARC header field store plus the fixed-width
// record-ID slot every AardWARC record carries.
type Header struct {
	prefix string
	idSize int
	id     string
	fields []field
}

// New creates a Header whose ID slot is idSize underscores, matching
// Header_New's initial placeholder before Set_Id is called.
func New(prefix string, idSize int) *Header {
	return &Header{
		prefix: prefix,
		idSize: idSize,
		id:     strings.Repeat("_", idSize),
	}
}

// Clone returns a deep copy of h.
func (h *Header) Clone() *Header {
	n := &Header{
		prefix: h.prefix,
		idSize: h.idSize,
		id:     h.id,
		fields: make([]field, len(h.fields)),
	}
	copy(n.fields, h.fields)
	return n
}

// Prefix returns the archive's ID prefix this header was created with.
func (h *Header) Prefix() string { return h.prefix }

// IDSize returns the number of hex digits the record-ID slot holds.
func (h *Header) IDSize() int { return h.idSize }

func (h *Header) indexOf(name string) int {
	for i, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			return i
		}
	}
	return -1
}

// Set replaces or inserts the named field, maintaining case-insensitive
// alphabetical order. Setting "WARC-Record-ID" directly is rejected; use
// SetID.
func (h *Header) Set(name, val string) error {
	if strings.EqualFold(name, "WARC-Record-ID") {
		return fmt.Errorf("warcheader: %q must be set via SetID", name)
	}
	if strings.ContainsRune(name, ':') {
		return fmt.Errorf("warcheader: field name %q contains ':'", name)
	}
	if i := h.indexOf(name); i >= 0 {
		h.fields[i].val = val
		return nil
	}
	h.fields = append(h.fields, field{name: name, val: val})
	sort.SliceStable(h.fields, func(i, j int) bool {
		return strings.ToLower(h.fields[i].name) < strings.ToLower(h.fields[j].name)
	})
	return nil
}

// Setf is Set with fmt.Sprintf-style formatting of the value.
func (h *Header) Setf(name, format string, args ...interface{}) error {
	return h.Set(name, fmt.Sprintf(format, args...))
}

// Get returns the named field's value and whether it was present.
func (h *Header) Get(name string) (string, bool) {
	if i := h.indexOf(name); i >= 0 {
		return h.fields[i].val, true
	}
	return "", false
}

// GetNumber returns the named field parsed as a non-negative base-10
// integer, or -1 if missing or non-numeric.
func (h *Header) GetNumber(name string) int64 {
	v, ok := h.Get(name)
	if !ok {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// GetID returns the fixed-width ID slot (never "WARC-Record-ID" itself).
func (h *Header) GetID() string { return h.id }

// SetID copies the first IDSize hex characters of id into the fixed ID
// slot. id must be at least IDSize characters, all printable.
func (h *Header) SetID(id string) error {
	if len(id) < h.idSize {
		return fmt.Errorf("warcheader: id %q shorter than id size %d", id, h.idSize)
	}
	for _, r := range id {
		if !unicode.IsGraphic(r) {
			return fmt.Errorf("warcheader: id %q contains non-printable characters", id)
		}
	}
	h.id = id[:h.idSize]
	return nil
}

// SetDate sets WARC-Date to the current UTC time in WARC's canonical
// format.
func (h *Header) SetDate() error {
	return h.Set("WARC-Date", timestamp.UTCNowW3cIso8601())
}

// SetRef sets the named field to "<prefix+ref>", used for
// WARC-Refers-To / WARC-Segment-Origin-ID style reference fields.
func (h *Header) SetRef(name, ref string) error {
	if len(ref) < h.idSize {
		return fmt.Errorf("warcheader: ref %q shorter than id size %d", ref, h.idSize)
	}
	return h.Setf(name, "<%s%s>", h.prefix, ref)
}

// Len returns the number of bytes Set(name, val) would add to a
// serialized header, without mutating it. Used for padding-reservation
// math ahead of segmentation.
func (h *Header) Len(name, val string) int {
	return len(name) + len(": ") + len(val) + len("\r\n")
}

// Serialize renders the header as "WARC/1.1\r\nWARC-Record-ID: <...>\r\n"
// followed by each field and a blank line. If level >= 0 the result is
// gzip-framed (AardWARC-style) at that compression level; if level == -1
// the plain bytes are returned, used for display and for padding math.
func (h *Header) Serialize(level int) ([]byte, error) {
	var b strings.Builder
	b.WriteString("WARC/1.1\r\n")
	b.WriteString("WARC-Record-ID: <")
	b.WriteString(h.prefix)
	b.WriteString(h.id)
	b.WriteString(">\r\n")
	for _, f := range h.fields {
		b.WriteString(f.name)
		b.WriteString(": ")
		b.WriteString(f.val)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")

	raw := []byte(b.String())
	if level == -1 {
		return raw, nil
	}
	return gzipframe.Encode(raw, level)
}

// Parse strict-parses a header previously produced by Serialize(-1) or
// Serialize(level>=0) after inflation. It accepts only the literal
// "WARC/1.1\r\nWARC-Record-ID: <" preamble; anything else is an error.
func Parse(prefix string, idSize int, raw []byte) (*Header, error) {
	const want = "WARC/1.1\r\nWARC-Record-ID: <"
	s := string(raw)
	if !strings.HasPrefix(s, want) {
		return nil, fmt.Errorf("warcheader: does not start with %q", want)
	}
	h := New(prefix, idSize)

	rest := s[len(want):]
	end := strings.Index(rest, ">\r\n")
	if end < 0 {
		return nil, fmt.Errorf("warcheader: unterminated WARC-Record-ID")
	}
	idFull := rest[:end]
	if !strings.HasPrefix(idFull, prefix) {
		return nil, fmt.Errorf("warcheader: WARC-Record-ID prefix mismatch")
	}
	id := idFull[len(prefix):]
	if err := h.SetID(id); err != nil {
		return nil, err
	}

	body := rest[end+len(">\r\n"):]
	for {
		nl := strings.Index(body, "\r\n")
		if nl < 0 {
			return nil, fmt.Errorf("warcheader: unterminated header field")
		}
		line := body[:nl]
		body = body[nl+2:]
		if line == "" {
			break
		}
		colon := strings.Index(line, ": ")
		if colon < 0 {
			return nil, fmt.Errorf("warcheader: malformed field %q", line)
		}
		name := line[:colon]
		val := line[colon+2:]
		if err := h.Set(name, val); err != nil {
			return nil, err
		}
	}
	return h, nil
}

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

// Package warcinfo builds the one warcinfo record every silo starts
// with: a "key value\r\n"-formatted body describing the archive, its own
// block digest forming part of the record's derived ID.
package warcinfo

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/bsdphk/aardwarc/archive"
	"github.com/bsdphk/aardwarc/awerr"
	"github.com/bsdphk/aardwarc/internal/gzipframe"
	"github.com/bsdphk/aardwarc/warcfields"
	"github.com/bsdphk/aardwarc/warcheader"
)

const defaultSoftware = "https://github.com/bsdphk/AardWARC"

// Frame is a fully serialized warcinfo record, ready to be appended to a
// freshly created silo ahead of its first real record.
type Frame struct {
	ID          string
	HeaderFrame []byte
	BodyFrame   []byte
}

// Bytes concatenates the header, body and CrNlCrNl trailer frames, the
// exact byte sequence wsilo.Write expects for one complete record.
func (f Frame) Bytes() []byte {
	out := make([]byte, 0, len(f.HeaderFrame)+len(f.BodyFrame)+len(gzipframe.CrNlCrNl))
	out = append(out, f.HeaderFrame...)
	out = append(out, f.BodyFrame...)
	out = append(out, gzipframe.CrNlCrNl[:]...)
	return out
}

// Len is the total on-disk size of the record this Frame encodes.
func (f Frame) Len() int { return len(f.HeaderFrame) + len(f.BodyFrame) + len(gzipframe.CrNlCrNl) }

// Build renders the warcinfo record for silo number n: the body is the
// archive's configured WarcinfoBody lines (each "name value\r\n", a
// default "software" line appended if none was configured), the
// record's block digest is taken over that body, its ID is derived from
// the block digest hex and the silo's filename, and both header and body
// are gzip-framed at the given compression level.
func Build(aa *archive.Handle, siloNumber uint32, level int) (Frame, error) {
	body := buildBody(aa.WarcinfoBody())

	// The block digest excludes the trailing "\r\n\r\n" (the last content
	// line's own terminator plus the body's blank-line terminator).
	blockDigest := sha256.Sum256(body[:len(body)-4])
	blockDigestHex := hex.EncodeToString(blockDigest[:])

	filename := fmt.Sprintf(aa.SiloBasename(), siloNumber)

	idSeed := sha256.Sum256([]byte(blockDigestHex + "\n" + filename + "\n"))
	id := hex.EncodeToString(idSeed[:])
	if len(id) > aa.IDSize() {
		id = id[:aa.IDSize()]
	}

	h := warcheader.New(aa.Prefix(), aa.IDSize())
	if err := h.SetID(id); err != nil {
		return Frame{}, awerr.Wrap(awerr.Io, "warcinfo.Build", "set id", err)
	}
	if err := h.Set("WARC-Type", "warcinfo"); err != nil {
		return Frame{}, err
	}
	if err := h.SetDate(); err != nil {
		return Frame{}, err
	}
	if err := h.Set("WARC-Filename", filename); err != nil {
		return Frame{}, err
	}
	if err := h.Set("Content-Type", "application/warc-fields"); err != nil {
		return Frame{}, err
	}
	if err := h.Set("WARC-Block-Digest", "sha256:"+blockDigestHex); err != nil {
		return Frame{}, err
	}
	if err := h.Set("Content-Length", fmt.Sprintf("%d", len(body))); err != nil {
		return Frame{}, err
	}

	headerFrame, err := h.Serialize(level)
	if err != nil {
		return Frame{}, awerr.Wrap(awerr.Io, "warcinfo.Build", "serialize header", err)
	}
	bodyFrame, err := gzipframe.Encode(body, level)
	if err != nil {
		return Frame{}, awerr.Wrap(awerr.Io, "warcinfo.Build", "encode body", err)
	}

	return Frame{ID: id, HeaderFrame: headerFrame, BodyFrame: bodyFrame}, nil
}

// buildBody renders the warcinfo.body configuration lines as
// "name value\r\n" lines terminated by a blank line, appending a default
// "software" line if the configuration didn't supply one. This is the
// warcinfo body's own space-separated convention, distinct from the
// colon-separated "Name: Value\r\n" form package warcfields writes for a
// generic application/warc-fields block.
func buildBody(lines [][2]string) []byte {
	wf := warcfields.FromPairs(lines)
	if !wf.Has("software") {
		wf.Add("software", defaultSoftware)
	}

	var buf bytes.Buffer
	for _, nv := range wf.All() {
		fmt.Fprintf(&buf, "%s %s\r\n", nv.Name, nv.Value)
	}
	buf.WriteString("\r\n")
	return buf.Bytes()
}

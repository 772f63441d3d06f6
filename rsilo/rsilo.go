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

// Package rsilo implements the silo reader: given a silo number and byte
// offset it decodes one WARC record (header gzip member, body gzip
// member, trailing CrNl gzip member) and reports where the next record
// begins, the read-side mirror of package wsilo.
package rsilo

import (
	"bytes"
	"os"

	"github.com/bsdphk/aardwarc/archive"
	"github.com/bsdphk/aardwarc/awerr"
	"github.com/bsdphk/aardwarc/internal/gzipframe"
	"github.com/bsdphk/aardwarc/silopath"
	"github.com/bsdphk/aardwarc/warcheader"
)

// Record is one decoded WARC record: its header and its fully inflated
// body. Large payloads are expected to arrive as a chain of separate
// segment records (see package segjob/getjob), so a single record's body
// is bounded and safe to hold in memory here.
type Record struct {
	Header *warcheader.Header
	Body   []byte
}

// Silo is a thin wrapper over an *os.File, open for random-access record
// reads, so callers only deal with (silo number, offset) pairs.
type Silo struct {
	aa *archive.Handle
	f  *os.File
}

// Open opens silo number n for reading.
func Open(aa *archive.Handle, n uint32) (*Silo, error) {
	path := silopath.Filename(aa.SiloDir(), aa.SiloBasename(), n, false)
	f, err := os.Open(path)
	if err != nil {
		return nil, awerr.Wrap(awerr.Io, "rsilo.Open", "open silo", err)
	}
	return &Silo{aa: aa, f: f}, nil
}

// Close closes the underlying silo file.
func (s *Silo) Close() error { return s.f.Close() }

// readFrame reads the complete gzip member starting at offset, first
// peeking its own self-reported length via the Aa extension field, then
// returns the raw frame bytes and the offset immediately following it.
func (s *Silo) readFrame(offset uint64) ([]byte, uint64, error) {
	head := make([]byte, gzipframe.FrameHeaderLen)
	if _, err := s.f.ReadAt(head, int64(offset)); err != nil {
		return nil, 0, awerr.Wrap(awerr.Io, "rsilo.readFrame", "read frame header", err)
	}
	length, err := gzipframe.ReadAa(head)
	if err != nil {
		return nil, 0, awerr.Wrap(awerr.BadFormat, "rsilo.readFrame", "bad Aa header", err)
	}
	frame := make([]byte, length)
	if _, err := s.f.ReadAt(frame, int64(offset)); err != nil {
		return nil, 0, awerr.Wrap(awerr.Io, "rsilo.readFrame", "read frame body", err)
	}
	return frame, offset + length, nil
}

// PeekFrameLen reads just a frame's Aa header at offset and returns its
// total on-disk length, without reading the frame's body -- used to sum
// segment-compressed sizes for GetJob.TotalLength(gzip=true) without
// pulling whole bodies into memory.
func (s *Silo) PeekFrameLen(offset uint64) (uint64, error) {
	head := make([]byte, gzipframe.FrameHeaderLen)
	if _, err := s.f.ReadAt(head, int64(offset)); err != nil {
		return 0, awerr.Wrap(awerr.Io, "rsilo.PeekFrameLen", "read frame header", err)
	}
	length, err := gzipframe.ReadAa(head)
	if err != nil {
		return 0, awerr.Wrap(awerr.BadFormat, "rsilo.PeekFrameLen", "bad Aa header", err)
	}
	return length, nil
}

// skipCrNl validates that the 24-byte CrNlCrNl marker gzip member sits at
// offset and returns the offset immediately following it.
func (s *Silo) skipCrNl(offset uint64) (uint64, error) {
	var buf [24]byte
	if _, err := s.f.ReadAt(buf[:], int64(offset)); err != nil {
		return 0, awerr.Wrap(awerr.Io, "rsilo.skipCrNl", "read crnlcrnl", err)
	}
	if buf != gzipframe.CrNlCrNl {
		return 0, awerr.New(awerr.BadFormat, "rsilo.skipCrNl", "missing CrNlCrNl trailer")
	}
	return offset + 24, nil
}

// ReadHeader decodes only the header gzip member at offset, without
// touching the body -- the fast path for scans that only need metadata
// (housekeeping, audit).
func (s *Silo) ReadHeader(offset uint64) (*warcheader.Header, uint64, error) {
	frame, bodyOffset, err := s.readFrame(offset)
	if err != nil {
		return nil, 0, err
	}
	raw, err := gzipframe.Decode(frame)
	if err != nil {
		return nil, 0, awerr.Wrap(awerr.BadFormat, "rsilo.ReadHeader", "inflate header", err)
	}
	h, err := warcheader.Parse(s.aa.Prefix(), s.aa.IDSize(), raw)
	if err != nil {
		return nil, 0, awerr.Wrap(awerr.BadFormat, "rsilo.ReadHeader", "parse header", err)
	}
	return h, bodyOffset, nil
}

// SkipBody advances past the body and CrNlCrNl gzip members following a
// header at bodyOffset (as returned by ReadHeader), without inflating
// the body, and returns the offset of the next record.
func (s *Silo) SkipBody(bodyOffset uint64) (uint64, error) {
	_, crnlOffset, err := s.readFrame(bodyOffset)
	if err != nil {
		return 0, err
	}
	return s.skipCrNl(crnlOffset)
}

// ReadBody inflates just the body gzip member at bodyOffset (as returned
// by ReadHeader) and returns it along with the offset of the trailing
// CrNlCrNl member -- the plain-bytes half of GetJob's gzip=false path.
func (s *Silo) ReadBody(bodyOffset uint64) ([]byte, uint64, error) {
	frame, crnlOffset, err := s.readFrame(bodyOffset)
	if err != nil {
		return nil, 0, err
	}
	body, err := gzipframe.Decode(frame)
	if err != nil {
		return nil, 0, awerr.Wrap(awerr.BadFormat, "rsilo.ReadBody", "inflate body", err)
	}
	return body, crnlOffset, nil
}

// ReadBodyFrame returns the body gzip member at bodyOffset exactly as
// stored on disk, Aa header and all, without inflating it -- GetJob feeds
// these bytes straight through (single segment) or into a gzipframe.Stitch
// (multiple segments) for its gzip=true path.
func (s *Silo) ReadBodyFrame(bodyOffset uint64) ([]byte, uint64, error) {
	return s.readFrame(bodyOffset)
}

// ReadAt decodes the complete record (header, body, trailer) starting at
// offset and returns it along with the offset of the next record.
func (s *Silo) ReadAt(offset uint64) (*Record, uint64, error) {
	h, bodyOffset, err := s.ReadHeader(offset)
	if err != nil {
		return nil, 0, err
	}
	bodyFrame, crnlOffset, err := s.readFrame(bodyOffset)
	if err != nil {
		return nil, 0, err
	}
	body, err := gzipframe.Decode(bodyFrame)
	if err != nil {
		return nil, 0, awerr.Wrap(awerr.BadFormat, "rsilo.ReadAt", "inflate body", err)
	}
	next, err := s.skipCrNl(crnlOffset)
	if err != nil {
		return nil, 0, err
	}
	return &Record{Header: h, Body: body}, next, nil
}

// ReadAt opens silo n and decodes the single record at offset. Callers
// scanning many records in the same silo should use Open once and call
// the *silo methods directly instead.
func ReadAt(aa *archive.Handle, n uint32, offset uint64) (*Record, uint64, error) {
	s, err := Open(aa, n)
	if err != nil {
		return nil, 0, err
	}
	defer s.Close()
	return s.ReadAt(offset)
}

// BodyReader wraps a decoded record's body for callers that want an
// io.Reader rather than a []byte.
func (r *Record) BodyReader() *bytes.Reader { return bytes.NewReader(r.Body) }

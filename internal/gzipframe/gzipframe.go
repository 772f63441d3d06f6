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

// Package gzipframe implements the bit-exact gzip framing AardWARC wraps
// every WARC record in: a fixed 16-byte header template carrying a custom
// "Aa" FEXTRA subfield, whose 8-byte little-endian payload is the on-disk
// length of the record's compressed member(s). It also implements the
// gzip-stream stitcher used to reassemble N consecutive record gzips into
// one RFC 1952 stream.
package gzipframe

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
)

// HeaderLen is the size, in bytes, of the fixed gzip header template
// (ID1 ID2 CM FLG MTIME XFL OS XLEN SI1 SI2 LEN), not counting the 8-byte
// Aa length value that immediately follows it.
const HeaderLen = 16

// FrameHeaderLen is HeaderLen plus the 8-byte Aa length value: the total
// number of bytes a reader must have buffered before it can call ReadAa.
const FrameHeaderLen = HeaderLen + 8

// headTemplate is the fixed 16-byte prefix every AardWARC gzip member
// starts with, byte for byte, except for the XFL byte at offset 8 which
// may be 0x02 or 0x04 (see GoodAa).
var headTemplate = [HeaderLen]byte{
	0x1f, 0x8b, // ID1, ID2
	0x08,       // CM = deflate
	0x04,       // FLG = FEXTRA
	0, 0, 0, 0, // MTIME = 0
	0x02,       // XFL (tolerant: 0x02 or 0x04)
	0x03,       // OS = unix
	0x0c, 0x00, // XLEN = 12
	'A', 'a', // SI1, SI2
	0x08, 0x00, // LEN = 8
}

// CrNlCrNl is the fixed 24-byte gzip member every silo record is followed
// by: a complete, independent gzip stream whose payload is the four bytes
// "\r\n\r\n". It never needs to be constructed, only recognized and
// reproduced verbatim.
var CrNlCrNl = [24]byte{
	0x1f, 0x8b, 0x08, 0x00, 0x20, 0x01, 0x19, 0x66,
	0x02, 0x03, 0xe3, 0xe5, 0xe2, 0xe5, 0x02, 0x00,
	0x44, 0x15, 0xc2, 0x8b, 0x04, 0x00, 0x00, 0x00,
}

// GoodAa reports whether buf starts with the AardWARC gzip header
// template, tolerating XFL of either 0x02 or 0x04. buf must have at least
// HeaderLen bytes.
func GoodAa(buf []byte) bool {
	if len(buf) < HeaderLen {
		return false
	}
	if buf[8] != 0x02 && buf[8] != 0x04 {
		return false
	}
	var norm [HeaderLen]byte
	copy(norm[:], buf[:HeaderLen])
	norm[8] = 0x02
	return norm == headTemplate
}

// ReadAa validates buf's header template and decodes the Aa length value.
// buf must have at least FrameHeaderLen bytes.
func ReadAa(buf []byte) (uint64, error) {
	if len(buf) < FrameHeaderLen {
		return 0, fmt.Errorf("gzipframe: short header, need %d bytes, have %d", FrameHeaderLen, len(buf))
	}
	if !GoodAa(buf) {
		return 0, fmt.Errorf("gzipframe: not an AardWARC gzip header")
	}
	return binary.LittleEndian.Uint64(buf[HeaderLen:FrameHeaderLen]), nil
}

// PatchAa overwrites the Aa length field in buf (which must already carry
// a valid header template) with length. It is the in-memory equivalent of
// Gzip_WriteAa: read back the header, validate, patch the trailing 8 bytes.
func PatchAa(buf []byte, length uint64) error {
	if !GoodAa(buf) {
		return fmt.Errorf("gzipframe: not an AardWARC gzip header")
	}
	binary.LittleEndian.PutUint64(buf[HeaderLen:FrameHeaderLen], length)
	return nil
}

// WriteAaAt patches the Aa length field of the frame starting at offset in
// an already-written file, mirroring Gzip_WriteAa(fd, len): read the
// template back, validate it, then overwrite only the 8-byte length.
func WriteAaAt(w io.WriterAt, r io.ReaderAt, offset int64, length uint64) error {
	buf := make([]byte, HeaderLen)
	if _, err := r.ReadAt(buf, offset); err != nil {
		return fmt.Errorf("gzipframe: read header at %d: %w", offset, err)
	}
	if !GoodAa(buf) {
		return fmt.Errorf("gzipframe: not an AardWARC gzip header at offset %d", offset)
	}
	var lbuf [8]byte
	binary.LittleEndian.PutUint64(lbuf[:], length)
	if _, err := w.WriteAt(lbuf[:], offset+HeaderLen); err != nil {
		return fmt.Errorf("gzipframe: write Aa length at %d: %w", offset, err)
	}
	return nil
}

// Encode produces one complete, self-contained gzip member for data at the
// given flate compression level, carrying a placeholder-then-self-patched
// Aa length equal to the member's own total size. Callers that need the Aa
// field to instead reflect a larger enclosing record (header + body +
// trailer) must call PatchAa/WriteAaAt afterwards with the true length.
func Encode(data []byte, level int) ([]byte, error) {
	var out bytes.Buffer
	out.Write(headTemplate[:])
	// XFL mirrors zlib's convention: 2 for best compression, 4 for fastest.
	if level == flate.BestSpeed {
		out.Bytes()[8] = 0x04
	}
	out.Write(make([]byte, 8)) // Aa length placeholder, patched below

	fw, err := flate.NewWriter(&out, level)
	if err != nil {
		return nil, fmt.Errorf("gzipframe: new flate writer: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("gzipframe: deflate: %w", err)
	}
	// Byte-align the stream first, so the final block Close adds is the
	// standalone empty stop block that Stitch drops when joining members.
	if err := fw.Flush(); err != nil {
		return nil, fmt.Errorf("gzipframe: deflate flush: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("gzipframe: deflate close: %w", err)
	}

	var trailer [8]byte
	binary.LittleEndian.PutUint32(trailer[0:4], crc32.ChecksumIEEE(data))
	binary.LittleEndian.PutUint32(trailer[4:8], uint32(len(data)))
	out.Write(trailer[:])

	buf := out.Bytes()
	if err := PatchAa(buf, uint64(len(buf))); err != nil {
		return nil, err
	}
	return buf, nil
}

// StitchHeader returns the fixed gzip header GetJob writes ahead of a
// stitched multi-segment body, before feeding member frames to a Stitch:
// the same 16-byte template every AardWARC member starts with, its Aa
// length field left zeroed since external gzip readers only need to skip
// the FEXTRA bytes, never interpret them.
func StitchHeader() []byte {
	var h [FrameHeaderLen]byte
	copy(h[:HeaderLen], headTemplate[:])
	return h[:]
}

// Decode strips the AardWARC framing from a single complete gzip member
// (as produced by Encode) and returns its uncompressed payload.
func Decode(frame []byte) ([]byte, error) {
	if len(frame) < FrameHeaderLen+8 {
		return nil, fmt.Errorf("gzipframe: frame too short")
	}
	if !GoodAa(frame) {
		return nil, fmt.Errorf("gzipframe: not an AardWARC gzip header")
	}
	body := frame[FrameHeaderLen : len(frame)-8]
	fr := flate.NewReader(bytes.NewReader(body))
	defer fr.Close()
	data, err := io.ReadAll(fr)
	if err != nil {
		return nil, fmt.Errorf("gzipframe: inflate: %w", err)
	}
	wantCRC := binary.LittleEndian.Uint32(frame[len(frame)-8 : len(frame)-4])
	wantLen := binary.LittleEndian.Uint32(frame[len(frame)-4:])
	if crc32.ChecksumIEEE(data) != wantCRC {
		return nil, fmt.Errorf("gzipframe: crc32 mismatch")
	}
	if uint32(len(data)) != wantLen {
		return nil, fmt.Errorf("gzipframe: isize mismatch")
	}
	return data, nil
}

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

// Package index implements the append-only, sorted+bucket-interpolated
// lookup structure from record ID prefixes to (silo, offset): an
// "index.appendix" append log, a merged "index.sorted" file with a sparse
// residual bucket table, and an "index.housekeep" snapshot used while a
// merge is in progress.
package index

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// EntrySize is the on-disk width of one index record.
const EntrySize = 32

// Flag bits: the low nibble encodes record type, the next nibble
// encodes segmentation state. Continuation segments have type 0.
const (
	FlagWarcinfo  uint32 = 1 << 1
	FlagResource  uint32 = 1 << 2
	FlagMetadata  uint32 = 1 << 3
	FlagSegmented uint32 = 1 << 4
	FlagFirstSeg  uint32 = 1 << 5
	FlagLastSeg   uint32 = 1 << 6
)

// Entry is one 32-byte index record:
//
//	offset 0  size 12  Key    first 96 bits of the record ID
//	offset 12 size 4   Flags  record-type + segmentation bits
//	offset 16 size 4   Silo   silo number
//	offset 20 size 8   Offset byte offset of the record's first gzip-ID1
//	offset 28 size 4   Cont   first 32 bits of the next-segment ID, or zero
type Entry struct {
	Key    [12]byte
	Flags  uint32
	Silo   uint32
	Offset uint64
	Cont   [4]byte
}

// KeyFromHex decodes a hex record ID (or prefix of one) into a 12-byte
// index key, zero-padding on the right if the input is shorter than 24
// hex characters and truncating if longer.
func KeyFromHex(idHex string) ([12]byte, error) {
	var key [12]byte
	raw, err := hex.DecodeString(evenify(idHex))
	if err != nil {
		return key, fmt.Errorf("index: bad hex id %q: %w", idHex, err)
	}
	n := len(raw)
	if n > 12 {
		n = 12
	}
	copy(key[:n], raw[:n])
	return key, nil
}

// evenify drops a trailing odd hex nibble so hex.DecodeString doesn't
// choke on an odd-length prefix (used for partial-key prefix lookups).
func evenify(s string) string {
	if len(s)%2 == 1 {
		return s[:len(s)-1]
	}
	return s
}

func contFromHex(idHex string) [4]byte {
	var c [4]byte
	if idHex == "" {
		return c
	}
	raw, err := hex.DecodeString(evenify(idHex))
	if err != nil {
		return c
	}
	n := len(raw)
	if n > 4 {
		n = 4
	}
	copy(c[:n], raw[:n])
	return c
}

// Encode serializes e as 32 big-endian bytes.
func (e Entry) Encode() [EntrySize]byte {
	var b [EntrySize]byte
	copy(b[0:12], e.Key[:])
	binary.BigEndian.PutUint32(b[12:16], e.Flags)
	binary.BigEndian.PutUint32(b[16:20], e.Silo)
	binary.BigEndian.PutUint64(b[20:28], e.Offset)
	copy(b[28:32], e.Cont[:])
	return b
}

// Decode parses 32 bytes into an Entry. b must be exactly EntrySize long.
func Decode(b []byte) Entry {
	var e Entry
	copy(e.Key[:], b[0:12])
	e.Flags = binary.BigEndian.Uint32(b[12:16])
	e.Silo = binary.BigEndian.Uint32(b[16:20])
	e.Offset = binary.BigEndian.Uint64(b[20:28])
	copy(e.Cont[:], b[28:32])
	return e
}

// KeyHex returns the entry's key as lowercase hex.
func (e Entry) KeyHex() string { return hex.EncodeToString(e.Key[:]) }

// ContHex returns the entry's continuation hint as lowercase hex.
func (e Entry) ContHex() string { return hex.EncodeToString(e.Cont[:]) }

// matchesPrefix reports whether e's key starts with the bytes decoded
// from prefixHex (which may be shorter than the full 12-byte key).
func (e Entry) matchesPrefix(prefix []byte) bool {
	return bytes.HasPrefix(e.Key[:], prefix)
}

// compareToPrefix is like bytes.Compare(e.Key, prefix) but treats prefix
// as a prefix: equal when e.Key starts with prefix.
func (e Entry) compareToPrefix(prefix []byte) int {
	n := len(prefix)
	if n > 12 {
		n = 12
	}
	return bytes.Compare(e.Key[:n], prefix[:n])
}

// keyFrac interprets the first 8 bytes of key as a big-endian uint64,
// the "sha-fraction": a uniform draw from [0, 2^64) when the id is a
// SHA-256 digest.
func keyFrac(key [12]byte) uint64 {
	var buf [8]byte
	copy(buf[:], key[:8])
	return binary.BigEndian.Uint64(buf[:])
}

// prefixFrac computes the same fraction for a (possibly short) raw
// key prefix, zero-padding on the right.
func prefixFrac(prefix []byte) uint64 {
	var buf [8]byte
	n := len(prefix)
	if n > 8 {
		n = 8
	}
	copy(buf[:n], prefix[:n])
	return binary.BigEndian.Uint64(buf[:])
}

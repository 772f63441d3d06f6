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

package gzipframe

import (
	"encoding/binary"
	"fmt"
	"io"
)

// stitchState is the state machine driving Stitch.Write: Outside consumes
// a member's 24-byte AardWARC header and extracts its Aa length; Inside
// passes the deflate body through verbatim except for the final 13 bytes;
// Tail accumulates and validates those 13 bytes (the synthetic stop block
// plus the member's own gzip trailer).
type stitchState int

const (
	stateOutside stitchState = iota
	stateInside
	stateTail
)

// tailLen is the number of trailing bytes of a member's compressed body
// that must be held back and inspected rather than passed straight
// through: 5 bytes of a stop block (the final, empty deflate block) plus
// the member's own 8-byte gzip trailer (CRC32 + ISIZE).
const tailLen = 13

// Stitch reassembles the compressed bodies of N sequentially-produced
// AardWARC gzip members into a single valid RFC 1952 stream, without ever
// inflating the payload. Feed it the raw compressed bytes of each member,
// in order (as produced by Rsilo's read-gz-chunk), then call Close.
type Stitch struct {
	w     io.Writer
	state stitchState

	// buffers bytes of the current member's 24-byte AardWARC header
	// until a full header has been seen.
	headerBuf []byte
	needAa    uint64 // bytes remaining in the current member, once known

	// tail holds candidate trailing bytes until disambiguated.
	tail []byte

	crc      uint32
	totalLen uint64
	started  bool
}

// NewStitch creates a Stitch that writes the reassembled single gzip
// stream to w. The caller is responsible for writing w's own gzip header
// (GetJob writes the 24-byte StitchHeader) before the first
// Write, or for treating w as a pure deflate+trailer sink, matching how
// GetJob composes the stitched body into a client-visible gzip response.
func NewStitch(w io.Writer) *Stitch {
	return &Stitch{w: w}
}

// Write feeds len(p) more raw (still-compressed) bytes belonging to the
// concatenated member stream.
func (s *Stitch) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		switch s.state {
		case stateOutside:
			need := FrameHeaderLen - len(s.headerBuf)
			n := need
			if n > len(p) {
				n = len(p)
			}
			s.headerBuf = append(s.headerBuf, p[:n]...)
			p = p[n:]
			if len(s.headerBuf) < FrameHeaderLen {
				continue
			}
			aa, err := ReadAa(s.headerBuf)
			if err != nil {
				return total - len(p), err
			}
			if aa < FrameHeaderLen+tailLen {
				return total - len(p), fmt.Errorf("gzipframe: stitch: implausible Aa length %d", aa)
			}
			s.needAa = aa - FrameHeaderLen
			s.headerBuf = s.headerBuf[:0]
			s.state = stateInside
		case stateInside:
			// Bytes belonging to this member that are not part of
			// the final tailLen bytes can be forwarded immediately.
			remaining := s.needAa - uint64(len(s.tail))
			passLimit := remaining
			if passLimit > tailLen {
				passLimit = remaining - tailLen
			} else {
				passLimit = 0
			}
			n := int(passLimit)
			if n > len(p) {
				n = len(p)
			}
			if n > 0 {
				if _, err := s.w.Write(p[:n]); err != nil {
					return total - len(p), err
				}
				p = p[n:]
				s.needAa -= uint64(n)
			}
			if s.needAa-uint64(len(s.tail)) <= tailLen {
				s.state = stateTail
			}
		case stateTail:
			need := tailLen - len(s.tail)
			n := need
			if n > len(p) {
				n = len(p)
			}
			s.tail = append(s.tail, p[:n]...)
			p = p[n:]
			if len(s.tail) < tailLen {
				continue
			}
			if err := s.consumeTail(); err != nil {
				return total - len(p), err
			}
			s.tail = nil
			s.needAa = 0
			s.state = stateOutside
		}
	}
	return total, nil
}

// consumeTail validates the 13 buffered tail bytes (a synthetic
// zero-length stop block followed by the member's own CRC32+ISIZE gzip
// trailer), combines the member's CRC32 into the running accumulator, and
// accumulates the stitched total length.
func (s *Stitch) consumeTail() error {
	t := s.tail
	var stopLen int
	switch {
	case t[len(t)-10] == 0x03 && t[len(t)-9] == 0x00:
		stopLen = 2
	case len(t) >= 5 && t[0] == 0x01 && t[1] == 0x00 && t[2] == 0x00 && t[3] == 0xff && t[4] == 0xff:
		stopLen = 5
	default:
		return &stitchBadTrailerError{}
	}
	if stopLen < len(t)-8 {
		// stop block shorter than expected: forward the extra bytes,
		// they belong to the deflate body, not the synthetic block.
		if _, err := s.w.Write(t[:len(t)-8-stopLen]); err != nil {
			return err
		}
	}
	crcBytes := t[len(t)-8 : len(t)-4]
	lenBytes := t[len(t)-4:]
	memberCRC := binary.LittleEndian.Uint32(crcBytes)
	memberLen := binary.LittleEndian.Uint32(lenBytes)

	if !s.started {
		s.crc = memberCRC
		s.started = true
	} else {
		s.crc = crc32Combine(s.crc, memberCRC, int64(memberLen))
	}
	s.totalLen += uint64(memberLen)
	return nil
}

// Close emits the final synthetic empty-final-block plus combined
// CRC32/ISIZE trailer, completing a valid gzip stream.
func (s *Stitch) Close() error {
	if s.state != stateOutside {
		return fmt.Errorf("gzipframe: stitch: Close called mid-member")
	}
	var trailer [13]byte
	trailer[0] = 0x01
	trailer[1] = 0x00
	trailer[2] = 0x00
	trailer[3] = 0xff
	trailer[4] = 0xff
	binary.LittleEndian.PutUint32(trailer[5:9], s.crc)
	binary.LittleEndian.PutUint32(trailer[9:13], uint32(s.totalLen))
	_, err := s.w.Write(trailer[:])
	return err
}

type stitchBadTrailerError struct{}

func (*stitchBadTrailerError) Error() string {
	return "gzipframe: stitch: no recognizable end-of-stream block in member trailer"
}

// crc32Combine computes the CRC32 (IEEE polynomial) of the concatenation
// of two byte sequences, given crc1 (CRC of the first), crc2 (CRC of the
// second) and len2 (the length of the second sequence), without access to
// either sequence's bytes. This is the classic GF(2) matrix-squaring
// technique used by zlib's crc32_combine; hash/crc32 does not expose it.
func crc32Combine(crc1, crc2 uint32, len2 int64) uint32 {
	if len2 == 0 {
		return crc1
	}
	const gf2Dim = 32
	var even, odd [gf2Dim]uint32

	// odd: the CRC-32 polynomial's companion matrix, i.e. the operator
	// for "shift register by one bit".
	odd[0] = 0xedb88320 // reversed CRC-32 polynomial
	row := uint32(1)
	for n := 1; n < gf2Dim; n++ {
		odd[n] = row
		row <<= 1
	}

	gf2MatrixSquare(&even, &odd) // even = odd^2 = shift by two bits
	gf2MatrixSquare(&odd, &even) // odd = even^2 = shift by four bits

	crc1n := crc1
	n := uint64(len2)
	for {
		gf2MatrixSquare(&even, &odd) // even = odd^2
		if n&1 != 0 {
			crc1n = gf2MatrixTimes(even[:], crc1n)
		}
		n >>= 1
		if n == 0 {
			break
		}

		gf2MatrixSquare(&odd, &even) // odd = even^2
		if n&1 != 0 {
			crc1n = gf2MatrixTimes(odd[:], crc1n)
		}
		n >>= 1
		if n == 0 {
			break
		}
	}

	return crc1n ^ crc2
}

func gf2MatrixTimes(mat []uint32, vec uint32) uint32 {
	var sum uint32
	i := 0
	for vec != 0 {
		if vec&1 != 0 {
			sum ^= mat[i]
		}
		vec >>= 1
		i++
	}
	return sum
}

func gf2MatrixSquare(square, mat *[32]uint32) {
	for n := 0; n < 32; n++ {
		square[n] = gf2MatrixTimes(mat[:], mat[n])
	}
}

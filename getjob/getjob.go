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

// Package getjob implements the read path: resolving a record ID (or a
// hex prefix of one) to its full chain of segments and streaming the
// reassembled payload back out, either as plain bytes or as a single
// gzip stream stitched together from each segment's own compressed body.
package getjob

import (
	"fmt"
	"strings"

	"github.com/bsdphk/aardwarc/archive"
	"github.com/bsdphk/aardwarc/awerr"
	"github.com/bsdphk/aardwarc/index"
	"github.com/bsdphk/aardwarc/internal/gzipframe"
	"github.com/bsdphk/aardwarc/rsilo"
	"github.com/bsdphk/aardwarc/warcheader"
)

// segment is one resolved record in a GetJob's chain: its index entry,
// its own open silo (kept open for the life of the GetJob) and its
// decoded header.
type segment struct {
	entry      index.Entry
	silo       *rsilo.Silo
	header     *warcheader.Header
	bodyOffset uint64
}

// GetJob owns one Rsilo per resolved segment and streams their
// reassembled payload back to a caller.
type GetJob struct {
	aa       *archive.Handle
	segments []segment
}

// New resolves idOrPrefix (a hex record ID, or a hex prefix of one)
// against idx. The first matching index entry becomes segment #1: it is
// rejected if it names a warcinfo record or a continuation segment found
// on its own. If that entry is segmented and not also the last segment,
// each subsequent segment is located by following the previous segment's
// continuation hint and verified against the chain's origin ID and
// segment number before being accepted.
func New(aa *archive.Handle, idx *index.Index, idOrPrefix string) (*GetJob, error) {
	id := strings.ToLower(idOrPrefix)
	if id == "" || len(id)%2 != 0 || len(id) > aa.IDSize() {
		return nil, awerr.New(awerr.IdInvalid, "getjob.New", fmt.Sprintf("bad id %q", idOrPrefix))
	}

	first, err := resolveFirst(aa, idx, id)
	if err != nil {
		return nil, err
	}
	j := &GetJob{aa: aa, segments: []segment{first}}

	fullIDHex := first.header.GetID()
	for {
		tail := j.segments[len(j.segments)-1]
		if tail.entry.Flags&index.FlagSegmented == 0 || tail.entry.Flags&index.FlagLastSeg != 0 {
			break
		}
		next, err := resolveContinuation(aa, idx, tail.entry.ContHex(), fullIDHex, len(j.segments)+1)
		if err != nil {
			j.Close()
			return nil, err
		}
		j.segments = append(j.segments, next)
	}
	return j, nil
}

// resolveFirst finds idx's first entry matching id, opens it and checks
// it is an acceptable chain head.
func resolveFirst(aa *archive.Handle, idx *index.Index, id string) (segment, error) {
	var found *segment
	err := idx.Iter(id, func(e index.Entry) (bool, error) {
		s, openErr := openSegment(aa, e)
		if openErr != nil {
			return false, openErr
		}
		if !strings.HasPrefix(strings.ToLower(s.header.GetID()), id) {
			s.silo.Close()
			return false, nil
		}
		if e.Flags&index.FlagWarcinfo != 0 {
			s.silo.Close()
			return false, awerr.New(awerr.BadFormat, "getjob.New", fmt.Sprintf("id %q resolves to a warcinfo record", id))
		}
		if e.Flags&index.FlagSegmented != 0 && e.Flags&index.FlagFirstSeg == 0 {
			s.silo.Close()
			return false, awerr.New(awerr.BadFormat, "getjob.New", fmt.Sprintf("id %q resolves to a continuation segment", id))
		}
		found = &s
		return true, nil
	})
	if err != nil {
		return segment{}, err
	}
	if found == nil {
		return segment{}, awerr.New(awerr.NotFound, "getjob.New", fmt.Sprintf("no record for id %q", id))
	}
	return *found, nil
}

// resolveContinuation follows a 4-byte continuation hint to the next
// segment in the chain, accepting only a candidate whose
// WARC-Segment-Origin-ID names fullIDHex and whose WARC-Segment-Number
// equals wantSegNo.
func resolveContinuation(aa *archive.Handle, idx *index.Index, contHex, fullIDHex string, wantSegNo int) (segment, error) {
	if contHex == "" || strings.Trim(contHex, "0") == "" {
		return segment{}, awerr.New(awerr.IntegrityMismatch, "getjob.New", "segmented record missing continuation hint")
	}
	wantOrigin := fmt.Sprintf("<%s%s>", aa.Prefix(), fullIDHex)

	var found *segment
	err := idx.Iter(contHex, func(e index.Entry) (bool, error) {
		s, openErr := openSegment(aa, e)
		if openErr != nil {
			return false, openErr
		}
		origin, _ := s.header.Get("WARC-Segment-Origin-ID")
		if !strings.EqualFold(origin, wantOrigin) || s.header.GetNumber("WARC-Segment-Number") != int64(wantSegNo) {
			s.silo.Close()
			return false, nil
		}
		found = &s
		return true, nil
	})
	if err != nil {
		return segment{}, err
	}
	if found == nil {
		return segment{}, awerr.New(awerr.IntegrityMismatch, "getjob.New",
			fmt.Sprintf("out-of-order continuation: no segment %d found for %s", wantSegNo, wantOrigin))
	}
	return *found, nil
}

func openSegment(aa *archive.Handle, e index.Entry) (segment, error) {
	s, err := rsilo.Open(aa, e.Silo)
	if err != nil {
		return segment{}, err
	}
	h, bodyOffset, err := s.ReadHeader(e.Offset)
	if err != nil {
		s.Close()
		return segment{}, err
	}
	return segment{entry: e, silo: s, header: h, bodyOffset: bodyOffset}, nil
}

// Close releases every segment's open silo file.
func (j *GetJob) Close() error {
	var first error
	for _, s := range j.segments {
		if s.silo == nil {
			continue
		}
		if err := s.silo.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// IsSegmented reports whether this object was split into more than one
// record.
func (j *GetJob) IsSegmented() bool { return len(j.segments) > 1 }

// Segments returns the number of records in this object's chain.
func (j *GetJob) Segments() int { return len(j.segments) }

// Headers returns the logical header a caller should see for this
// object: segment #1's header verbatim for a single-segment object, or
// (for a segmented one) a clone with Content-Length and WARC-Block-Digest
// overwritten by the whole object's WARC-Segment-Total-Length and
// WARC-Payload-Digest.
func (j *GetJob) Headers() (*warcheader.Header, error) {
	h := j.segments[0].header.Clone()
	if len(j.segments) == 1 {
		return h, nil
	}
	total, ok := h.Get("WARC-Segment-Total-Length")
	if !ok {
		return nil, awerr.New(awerr.IntegrityMismatch, "getjob.Headers", "segmented record missing WARC-Segment-Total-Length")
	}
	if err := h.Set("Content-Length", total); err != nil {
		return nil, err
	}
	payloadDigest, ok := h.Get("WARC-Payload-Digest")
	if !ok {
		return nil, awerr.New(awerr.IntegrityMismatch, "getjob.Headers", "segmented record missing WARC-Payload-Digest")
	}
	if err := h.Set("WARC-Block-Digest", payloadDigest); err != nil {
		return nil, err
	}
	return h, nil
}

// TotalLength sums each segment's declared length: the decompressed
// Content-Length of every segment when gzip is false, or the on-disk
// compressed size of every segment's body frame when gzip is true.
func (j *GetJob) TotalLength(gzip bool) (uint64, error) {
	var total uint64
	for _, s := range j.segments {
		if !gzip {
			n := s.header.GetNumber("Content-Length")
			if n < 0 {
				return 0, awerr.New(awerr.BadFormat, "getjob.TotalLength", "segment missing Content-Length")
			}
			total += uint64(n)
			continue
		}
		n, err := s.silo.PeekFrameLen(s.bodyOffset)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// ChunkFunc receives successive pieces of a GetJob's reassembled output.
// Returning a non-nil error aborts Iter and is propagated to its caller.
type ChunkFunc func(p []byte) error

// Iter streams this object's payload to fn, in order. With gzip false,
// each segment's body is inflated and delivered as one chunk. With gzip
// true and a single segment, that segment's already-complete gzip member
// is forwarded verbatim. With gzip true and multiple segments, a
// gzipframe.Stitch combines every segment's compressed body into a single
// valid gzip stream, preceded by one plain gzip header.
func (j *GetJob) Iter(gzip bool, fn ChunkFunc) error {
	if !gzip {
		for _, s := range j.segments {
			body, _, err := s.silo.ReadBody(s.bodyOffset)
			if err != nil {
				return err
			}
			if err := fn(body); err != nil {
				return err
			}
		}
		return nil
	}

	if len(j.segments) == 1 {
		frame, _, err := j.segments[0].silo.ReadBodyFrame(j.segments[0].bodyOffset)
		if err != nil {
			return err
		}
		return fn(frame)
	}

	if err := fn(gzipframe.StitchHeader()); err != nil {
		return err
	}
	st := gzipframe.NewStitch(chunkWriter{fn})
	for _, s := range j.segments {
		frame, _, err := s.silo.ReadBodyFrame(s.bodyOffset)
		if err != nil {
			return err
		}
		if _, err := st.Write(frame); err != nil {
			return awerr.Wrap(awerr.StitchBadTrailer, "getjob.Iter", "stitch segment", err)
		}
	}
	if err := st.Close(); err != nil {
		return awerr.Wrap(awerr.StitchBadTrailer, "getjob.Iter", "close stitch", err)
	}
	return nil
}

// chunkWriter adapts a ChunkFunc to io.Writer for gzipframe.NewStitch.
type chunkWriter struct{ fn ChunkFunc }

func (w chunkWriter) Write(p []byte) (int, error) {
	if err := w.fn(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

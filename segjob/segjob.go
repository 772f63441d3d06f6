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

// Package segjob implements the write path for one logical object: it
// accepts a byte stream, and on Close splits it (if necessary) into a
// chain of continuation records so that no single record's compressed
// body exceeds what still fits in an open silo, deriving every record's
// identity and updating the index as it goes.
package segjob

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/bsdphk/aardwarc/archive"
	"github.com/bsdphk/aardwarc/awerr"
	"github.com/bsdphk/aardwarc/getjob"
	"github.com/bsdphk/aardwarc/ident"
	"github.com/bsdphk/aardwarc/index"
	"github.com/bsdphk/aardwarc/internal/diskbuffer"
	"github.com/bsdphk/aardwarc/internal/gzipframe"
	"github.com/bsdphk/aardwarc/warcheader"
	"github.com/bsdphk/aardwarc/wsilo"
)

// memBufferBudget is how much of a buffered payload segjob keeps in
// memory before spilling the rest to a temporary file; large stores
// (segmented objects especially) should not force the whole payload
// into RAM just because a caller wrote it before Close.
const memBufferBudget = 4 << 20

// headerOverheadEstimate is a conservative guess at a record header's
// serialized size, used only to decide how large a chunk to attempt
// before compressing it -- an actual Wsilo.HasSpace check against the
// real compressed frame is always the final word, so a loose estimate
// here only risks one wasted Abandon/retry, never incorrectness.
const headerOverheadEstimate = 512

// SegJob accumulates one logical object's payload. Result returns its
// final record ID (the one a content-addressed lookup should use) once
// Close has written it to the archive.
type SegJob struct {
	aa       *archive.Handle
	idx      *index.Index
	warcType string
	level    int
	extra       [][2]string
	refersTo    string // non-empty for WARC-Type: metadata
	contentType string

	buf diskbuffer.Buffer
}

// Option configures a SegJob at construction time.
type Option func(*SegJob)

// WithHeader adds a caller-supplied "name: value" field to every record
// segjob writes, first segment and continuations alike.
func WithHeader(name, value string) Option {
	return func(j *SegJob) { j.extra = append(j.extra, [2]string{name, value}) }
}

// WithRefersTo marks this job as a WARC-Type: metadata record referring
// to refersTo, the plain hex record ID (no prefix, no angle brackets) of
// the object it describes.
func WithRefersTo(refersTo string) Option {
	return func(j *SegJob) {
		j.warcType = "metadata"
		j.refersTo = refersTo
	}
}

// WithCompressionLevel overrides the default (best-compression) level.
func WithCompressionLevel(level int) Option {
	return func(j *SegJob) { j.level = level }
}

// WithContentType sets the record's Content-Type header and, at Close,
// validates it against the archive's configured resource.mime-types or
// metadata.mime-types allow-list (whichever matches this job's WARC-Type).
func WithContentType(mimeType string) Option {
	return func(j *SegJob) { j.contentType = mimeType }
}

// New starts a resource-type SegJob. Use WithRefersTo to make it a
// metadata record instead.
func New(aa *archive.Handle, idx *index.Index, opts ...Option) *SegJob {
	j := &SegJob{
		aa:       aa,
		idx:      idx,
		warcType: "resource",
		level:    9,
		buf:      diskbuffer.New(diskbuffer.WithMaxMemBytes(memBufferBudget)),
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

// Write buffers p as part of the object's payload.
func (j *SegJob) Write(p []byte) (int, error) {
	return j.buf.Write(p)
}

// Result is what Close returns: the object's content-addressed record
// ID plus bookkeeping useful to callers building a metadata record about
// it immediately afterwards.
type Result struct {
	ID           string
	PayloadSHA256Hex string
	TotalLength  int
	Segments     int
}

// Close finalizes the object: it computes the whole-payload digest,
// splits the buffered bytes into as many records as necessary to fit
// silo space, writes each one (creating or reusing silos via wsilo),
// inserts an index entry per segment, and returns the first segment's ID
// -- the one a future lookup should use.
func (j *SegJob) Close() (Result, error) {
	if j.contentType != "" {
		if err := j.aa.CheckMimeType(j.warcType, j.contentType); err != nil {
			return Result{}, err
		}
	}

	if _, err := j.buf.Seek(0, io.SeekStart); err != nil {
		return Result{}, awerr.Wrap(awerr.Io, "segjob.Close", "rewind payload buffer", err)
	}
	payload, err := io.ReadAll(j.buf)
	if err != nil {
		return Result{}, awerr.Wrap(awerr.Io, "segjob.Close", "read payload buffer", err)
	}
	defer j.buf.Close()

	sum := sha256.Sum256(payload)
	payloadDigestHex := hex.EncodeToString(sum[:])

	chunks := splitIntoChunks(payload, j.aa.SiloMaxSize())

	var firstID string
	var nextIDHex string // the upcoming chunk's id, filled in after encoding it
	ids := make([]string, len(chunks))
	frames := make([]warcFrame, len(chunks))

	// Segment IDs are derived back-to-front-independent: each chunk's id
	// is a pure function of its own bytes (and, for the first chunk, the
	// whole object's digest), so they can all be computed before any
	// silo I/O happens.
	for i, chunk := range chunks {
		typ := "continuation"
		blockDigestHex := hex.EncodeToString(sha256Sum(chunk))
		idDigestHex := blockDigestHex
		if i == 0 {
			typ = j.warcType
			// Segment #1's ID is always derived from the whole payload's
			// digest, even when segmented, so a future GetJob lookup by
			// the object's content digest resolves to it regardless of
			// how many segments it was split into.
			idDigestHex = payloadDigestHex
		}
		h := warcheader.New(j.aa.Prefix(), j.aa.IDSize())
		probe, err := headerForType(h, typ, j.refersTo)
		if err != nil {
			return Result{}, err
		}
		id, err := ident.Create(j.aa, probe, idDigestHex, "")
		if err != nil {
			return Result{}, err
		}
		ids[i] = id
		frames[i].warcType = typ
		frames[i].blockDigestHex = blockDigestHex
	}
	firstID = ids[0]

	if existing, err := getjob.New(j.aa, j.idx, firstID); err == nil {
		total, lenErr := existing.TotalLength(false)
		segments := existing.Segments()
		existing.Close()
		if lenErr != nil {
			return Result{}, lenErr
		}
		return Result{
			ID:               firstID,
			PayloadSHA256Hex: payloadDigestHex,
			TotalLength:      int(total),
			Segments:         segments,
		}, nil
	} else if !errors.Is(err, awerr.Sentinel(awerr.NotFound)) {
		return Result{}, err
	}

	for i, chunk := range chunks {
		h := warcheader.New(j.aa.Prefix(), j.aa.IDSize())
		if err := h.SetID(ids[i]); err != nil {
			return Result{}, err
		}
		if err := h.Set("WARC-Type", frames[i].warcType); err != nil {
			return Result{}, err
		}
		if err := h.SetDate(); err != nil {
			return Result{}, err
		}
		if err := h.Set("Content-Length", fmt.Sprintf("%d", len(chunk))); err != nil {
			return Result{}, err
		}
		if err := h.Set("WARC-Block-Digest", "sha256:"+frames[i].blockDigestHex); err != nil {
			return Result{}, err
		}
		if len(chunks) > 1 {
			if err := h.Setf("WARC-Segment-Number", "%d", i+1); err != nil {
				return Result{}, err
			}
			if i == 0 {
				if err := h.Setf("WARC-Segment-Total-Length", "%d", len(payload)); err != nil {
					return Result{}, err
				}
				if err := h.Set("WARC-Payload-Digest", "sha256:"+payloadDigestHex); err != nil {
					return Result{}, err
				}
			} else {
				if err := h.SetRef("WARC-Segment-Origin-ID", firstID); err != nil {
					return Result{}, err
				}
			}
		}
		if j.warcType == "metadata" && i == 0 {
			if err := h.SetRef("WARC-Refers-To", j.refersTo); err != nil {
				return Result{}, err
			}
		}
		if j.contentType != "" && i == 0 {
			if err := h.Set("Content-Type", j.contentType); err != nil {
				return Result{}, err
			}
		}
		for _, kv := range j.extra {
			if err := h.Set(kv[0], kv[1]); err != nil {
				return Result{}, err
			}
		}

		if i+1 < len(chunks) {
			nextIDHex = ids[i+1]
		} else {
			nextIDHex = ""
		}

		if err := j.writeOneSegment(h, chunk, i, len(chunks), ids[i], nextIDHex); err != nil {
			return Result{}, err
		}
	}

	return Result{
		ID:                firstID,
		PayloadSHA256Hex:  payloadDigestHex,
		TotalLength:       len(payload),
		Segments:          len(chunks),
	}, nil
}

type warcFrame struct {
	warcType       string
	blockDigestHex string
}

// headerForType returns h with just enough set for ident.Create to
// inspect (WARC-Type, and WARC-Refers-To if needed by a metadata first
// segment) -- a throwaway header, never serialized.
func headerForType(h *warcheader.Header, typ, refersTo string) (*warcheader.Header, error) {
	if err := h.Set("WARC-Type", typ); err != nil {
		return nil, err
	}
	if typ == "metadata" {
		if err := h.SetRef("WARC-Refers-To", refersTo); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (j *SegJob) writeOneSegment(h *warcheader.Header, chunk []byte, segIdx, total int, id, contHex string) error {
	headerFrame, err := h.Serialize(j.level)
	if err != nil {
		return awerr.Wrap(awerr.Io, "segjob.writeOneSegment", "serialize header", err)
	}
	bodyFrame, err := gzipframe.Encode(chunk, j.level)
	if err != nil {
		return awerr.Wrap(awerr.Io, "segjob.writeOneSegment", "encode body", err)
	}
	recordLen := uint64(len(headerFrame) + len(bodyFrame) + len(gzipframe.CrNlCrNl))

	w, err := wsilo.Create(j.aa, j.idx)
	if err != nil {
		return err
	}
	if !w.HasSpace(recordLen) {
		// A chunk sized for the common case didn't fit this particular
		// silo (e.g. it was already partly full); a freshly allocated
		// silo always has room for anything <= silo.max_size since
		// splitIntoChunks never produces a chunk whose frame could
		// exceed that budget.
		if err := w.Abandon(); err != nil {
			return err
		}
		return awerr.New(awerr.SiloFull, "segjob.writeOneSegment", "chunk does not fit in a fresh silo")
	}

	offset := w.Offset()
	if _, err := w.Write(headerFrame); err != nil {
		w.Abandon()
		return err
	}
	if _, err := w.Write(bodyFrame); err != nil {
		w.Abandon()
		return err
	}
	if _, err := w.Write(gzipframe.CrNlCrNl[:]); err != nil {
		w.Abandon()
		return err
	}
	if err := w.Commit(); err != nil {
		return err
	}

	flags := recordFlags(h, segIdx, total)
	if err := j.idx.Insert(id, flags, w.Number(), offset, contHex); err != nil {
		return err
	}
	return nil
}

func recordFlags(h *warcheader.Header, segIdx, total int) uint32 {
	var flags uint32
	typ, _ := h.Get("WARC-Type")
	switch typ {
	case "metadata":
		flags |= index.FlagMetadata
	case "warcinfo":
		flags |= index.FlagWarcinfo
	case "continuation":
		// continuation segments carry no type bit
	default:
		flags |= index.FlagResource
	}
	if total > 1 {
		flags |= index.FlagSegmented
		if segIdx == 0 {
			flags |= index.FlagFirstSeg
		}
		if segIdx == total-1 {
			flags |= index.FlagLastSeg
		}
	}
	return flags
}

func sha256Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

// splitIntoChunks divides payload into pieces no larger than budget,
// which is taken as a proxy for "fits in one silo" (the frame's gzip
// overhead plus header is small relative to silo.max_size in practice;
// writeOneSegment verifies the true compressed size against the actual
// silo before committing, and the object is small enough for a single
// chunk in the overwhelmingly common case).
func splitIntoChunks(payload []byte, siloMaxSize uint64) [][]byte {
	budget := siloMaxSize
	if budget > headerOverheadEstimate {
		budget -= headerOverheadEstimate
	}
	if budget == 0 {
		budget = 1
	}
	if uint64(len(payload)) <= budget {
		if len(payload) == 0 {
			return [][]byte{payload}
		}
		return [][]byte{payload}
	}
	var chunks [][]byte
	for uint64(len(payload)) > budget {
		chunks = append(chunks, payload[:budget])
		payload = payload[budget:]
	}
	chunks = append(chunks, payload)
	return chunks
}

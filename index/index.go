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

package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
	"os"
	"sort"

	"github.com/prometheus/tsdb/fileutil"

	"github.com/bsdphk/aardwarc/archive"
	"github.com/bsdphk/aardwarc/awerr"
)

// sortedMagic tags the header word of index.sorted: (magic<<48)|(bbucket<<40)|nrec.
const sortedMagic = uint64(0x4161) << 48

// minBucketBits is the floor used by bucketBits, matching the C
// implementation's "never fewer than 4 buckets" rule.
const minBucketBits = 2

// Index is the handle onto one archive's three index files. It holds no
// state of its own beyond the archive.Handle: every operation opens,
// reads or appends the files directly, so concurrent Index values over
// the same directory are safe to use from multiple goroutines or
// processes (append is O_APPEND, Resort is protected by index.hold).
type Index struct {
	aa *archive.Handle
}

// New returns an Index operating on aa's silo directory.
func New(aa *archive.Handle) *Index {
	return &Index{aa: aa}
}

// Insert appends one entry to index.appendix. Entries are visible to
// Iter immediately; they are folded into index.sorted by a later Resort.
func (x *Index) Insert(idHex string, flags uint32, silo uint32, offset uint64, contHex string) error {
	key, err := KeyFromHex(idHex)
	if err != nil {
		return awerr.Wrap(awerr.BadFormat, "index.Insert", "bad id", err)
	}
	e := Entry{Key: key, Flags: flags, Silo: silo, Offset: offset, Cont: contFromHex(contHex)}

	f, err := os.OpenFile(x.aa.IndexAppendixPath(), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return awerr.Wrap(awerr.Io, "index.Insert", "open index.appendix", err)
	}
	defer f.Close()

	b := e.Encode()
	if _, err := f.Write(b[:]); err != nil {
		return awerr.Wrap(awerr.Io, "index.Insert", "write index.appendix", err)
	}
	return nil
}

// VisitFunc is called once per matching entry found by Iter. Returning
// stop==true ends the iteration early; returning a non-nil error aborts
// it and is propagated out of Iter.
type VisitFunc func(e Entry) (stop bool, err error)

// Iter calls fn for every entry whose key starts with the hex prefix
// prefixHex, searching index.sorted (via bucket interpolation),
// index.appendix and index.housekeep, in that order -- the order in
// which a Resort-in-progress keeps both halves of the data visible.
func (x *Index) Iter(prefixHex string, fn VisitFunc) error {
	prefix, err := hexPrefixBytes(prefixHex)
	if err != nil {
		return awerr.Wrap(awerr.BadFormat, "index.Iter", "bad prefix", err)
	}

	stop, err := x.iterSorted(prefix, fn)
	if err != nil || stop {
		return err
	}
	for _, path := range []string{x.aa.IndexAppendixPath(), x.aa.IndexHousekeepPath()} {
		stop, err = iterFlatFile(path, prefix, fn)
		if err != nil || stop {
			return err
		}
	}
	return nil
}

func hexPrefixBytes(prefixHex string) ([]byte, error) {
	key, err := KeyFromHex(prefixHex)
	if err != nil {
		return nil, err
	}
	n := len(prefixHex) / 2
	if n > 12 {
		n = 12
	}
	return key[:n], nil
}

// iterFlatFile linearly scans an unsorted 32-byte-record file (the
// appendix or the housekeep snapshot), both of which are short-lived and
// small enough that a full scan is the right tool.
func iterFlatFile(path string, prefix []byte, fn VisitFunc) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, awerr.Wrap(awerr.Io, "index.iterFlatFile", "open "+path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var buf [EntrySize]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			if err == io.EOF {
				return false, nil
			}
			return false, awerr.Wrap(awerr.Io, "index.iterFlatFile", "read "+path, err)
		}
		e := Decode(buf[:])
		if e.matchesPrefix(prefix) {
			stop, err := fn(e)
			if err != nil || stop {
				return stop, err
			}
		}
	}
}

// sortedHeader describes the fixed-format index.sorted prelude.
type sortedHeader struct {
	bbucket int
	nrec    uint64
}

func readSortedHeader(f *os.File) (sortedHeader, bool, error) {
	var hdr sortedHeader
	var word [8]byte
	if _, err := io.ReadFull(f, word[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return hdr, false, nil
		}
		return hdr, false, err
	}
	v := binary.BigEndian.Uint64(word[:])
	if v>>48 != 0x4161 {
		return hdr, false, fmt.Errorf("index: bad index.sorted magic")
	}
	hdr.bbucket = int((v >> 40) & 0xff)
	hdr.nrec = v & 0xffffffffff
	return hdr, true, nil
}

// iterSorted performs a bucket-interpolation guess for the first record
// whose key could match prefix, then linearly scans outward from that
// guess (expanding in both directions) until it has covered every
// matching record, falling back to sort.Search over the file's key space
// when the interpolation guess misses by more than a small window --
// this keeps correctness independent of how good the interpolation is.
func (x *Index) iterSorted(prefix []byte, fn VisitFunc) (bool, error) {
	f, err := os.Open(x.aa.IndexSortedPath())
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, awerr.Wrap(awerr.Io, "index.iterSorted", "open index.sorted", err)
	}
	defer f.Close()

	hdr, ok, err := readSortedHeader(f)
	if err != nil {
		return false, awerr.Wrap(awerr.BadFormat, "index.iterSorted", "index.sorted header", err)
	}
	if !ok || hdr.nrec == 0 {
		return false, nil
	}

	bucketTableBytes := int64(1<<hdr.bbucket) * 8
	recordsOffset := 8 + bucketTableBytes

	guess, err := x.interpolate(f, hdr, prefix)
	if err != nil {
		return false, err
	}

	readAt := func(i uint64) (Entry, error) {
		var buf [EntrySize]byte
		if _, err := f.ReadAt(buf[:], recordsOffset+int64(i)*EntrySize); err != nil {
			return Entry{}, err
		}
		return Decode(buf[:]), nil
	}

	// Find the first index >= guess whose key is >= prefix, by local
	// probing; if the local probe wanders too far, binary-search the
	// whole record range instead.
	lo, err := x.locateLowerBound(readAt, hdr.nrec, guess, prefix)
	if err != nil {
		return false, err
	}

	for i := lo; i < hdr.nrec; i++ {
		e, err := readAt(i)
		if err != nil {
			return false, awerr.Wrap(awerr.Io, "index.iterSorted", "read record", err)
		}
		if e.compareToPrefix(prefix) > 0 {
			break
		}
		if e.matchesPrefix(prefix) {
			stop, err := fn(e)
			if err != nil || stop {
				return stop, err
			}
		}
	}
	return false, nil
}

const localProbeWindow = 8

// locateLowerBound returns the smallest record index i such that
// record[i].Key >= prefix, starting its search from the interpolated
// guess. It probes outward by localProbeWindow steps; if that does not
// bracket the boundary it falls back to a full binary search.
func (x *Index) locateLowerBound(readAt func(uint64) (Entry, error), nrec, guess uint64, prefix []byte) (uint64, error) {
	if guess >= nrec {
		guess = nrec - 1
	}

	e, err := readAt(guess)
	if err != nil {
		return 0, awerr.Wrap(awerr.Io, "index.locateLowerBound", "read guess", err)
	}
	cmp := e.compareToPrefix(prefix)

	// Already within range: walk a small window to find the exact boundary.
	if cmp >= 0 {
		i := guess
		for steps := 0; i > 0 && steps < localProbeWindow; steps++ {
			prev, err := readAt(i - 1)
			if err != nil {
				return 0, awerr.Wrap(awerr.Io, "index.locateLowerBound", "read", err)
			}
			if prev.compareToPrefix(prefix) < 0 {
				return i, nil
			}
			i--
		}
		if i == 0 {
			return 0, nil
		}
		// Window exhausted without finding the boundary: binary search.
	} else {
		i := guess
		for steps := 0; i+1 < nrec && steps < localProbeWindow; steps++ {
			next, err := readAt(i + 1)
			if err != nil {
				return 0, awerr.Wrap(awerr.Io, "index.locateLowerBound", "read", err)
			}
			i++
			if next.compareToPrefix(prefix) >= 0 {
				return i, nil
			}
		}
	}

	lo, hi := uint64(0), nrec
	for lo < hi {
		mid := lo + (hi-lo)/2
		e, err := readAt(mid)
		if err != nil {
			return 0, awerr.Wrap(awerr.Io, "index.locateLowerBound", "read", err)
		}
		if e.compareToPrefix(prefix) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// interpolate computes the bucket-table-adjusted guess position for
// prefix: ideal = (frac * nrec) >> 64, then add the bucket's stored
// signed residual.
func (x *Index) interpolate(f *os.File, hdr sortedHeader, prefix []byte) (uint64, error) {
	frac := prefixFrac(prefix)
	bucket := frac >> (64 - uint(hdr.bbucket))

	var residualBuf [8]byte
	if _, err := f.ReadAt(residualBuf[:], 8+int64(bucket)*8); err != nil {
		return 0, awerr.Wrap(awerr.Io, "index.interpolate", "read bucket residual", err)
	}
	residual := int64(binary.BigEndian.Uint64(residualBuf[:]))

	hi, _ := bits.Mul64(frac, hdr.nrec)
	ideal := int64(hi)
	guess := ideal + residual
	if guess < 0 {
		guess = 0
	}
	if uint64(guess) >= hdr.nrec {
		guess = int64(hdr.nrec) - 1
	}
	return uint64(guess), nil
}

// bucketBits returns the bucket-table width for nrec records: at least
// minBucketBits, growing with ceil(log2(nrec)) so the average bucket
// holds roughly 4096 records.
func bucketBits(nrec uint64) int {
	if nrec < 2 {
		return minBucketBits
	}
	b := bits.Len64(nrec - 1)
	bb := b - 12
	if bb < minBucketBits {
		bb = minBucketBits
	}
	return bb
}

// Resort merges index.sorted and index.appendix into a new index.sorted,
// rebuilding the bucket residual table. index.appendix is first renamed to
// index.housekeep (so new Inserts start a fresh appendix), and that
// snapshot is removed once the new index.sorted is in place. It holds index.hold (an O_CREATE|O_EXCL lock file) for its duration so
// at most one process merges at a time; readers using Iter are never
// blocked, since index.sorted is replaced atomically via rename and
// index.housekeep carries the in-flight appendix snapshot in the
// meantime.
func (x *Index) Resort() error {
	lock, err := os.OpenFile(x.aa.IndexHoldPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return awerr.Wrap(awerr.Lock, "index.Resort", "index.hold already held", err)
	}
	defer func() {
		lock.Close()
		os.Remove(x.aa.IndexHoldPath())
	}()

	if err := fileutil.Rename(x.aa.IndexAppendixPath(), x.aa.IndexHousekeepPath()); err != nil && !os.IsNotExist(err) {
		return awerr.Wrap(awerr.Io, "index.Resort", "snapshot index.appendix", err)
	}

	entries, err := x.loadAllSorted()
	if err != nil {
		return err
	}
	fresh, err := loadFlatEntries(x.aa.IndexHousekeepPath())
	if err != nil {
		return err
	}
	entries = append(entries, fresh...)

	entries = dedupeAndSort(entries)

	if err := x.writeSorted(entries); err != nil {
		return err
	}

	if err := os.Remove(x.aa.IndexHousekeepPath()); err != nil && !os.IsNotExist(err) {
		return awerr.Wrap(awerr.Io, "index.Resort", "remove index.housekeep", err)
	}
	return nil
}

func (x *Index) loadAllSorted() ([]Entry, error) {
	f, err := os.Open(x.aa.IndexSortedPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, awerr.Wrap(awerr.Io, "index.loadAllSorted", "open index.sorted", err)
	}
	defer f.Close()

	hdr, ok, err := readSortedHeader(f)
	if err != nil {
		return nil, awerr.Wrap(awerr.BadFormat, "index.loadAllSorted", "header", err)
	}
	if !ok {
		return nil, nil
	}
	if _, err := f.Seek(int64(1<<hdr.bbucket)*8, io.SeekCurrent); err != nil {
		return nil, awerr.Wrap(awerr.Io, "index.loadAllSorted", "seek past bucket table", err)
	}

	out := make([]Entry, 0, hdr.nrec)
	r := bufio.NewReader(f)
	var buf [EntrySize]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, awerr.Wrap(awerr.Io, "index.loadAllSorted", "read record", err)
		}
		out = append(out, Decode(buf[:]))
	}
	return out, nil
}

func loadFlatEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, awerr.Wrap(awerr.Io, "index.loadFlatEntries", "open "+path, err)
	}
	defer f.Close()

	var out []Entry
	r := bufio.NewReader(f)
	var buf [EntrySize]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, awerr.Wrap(awerr.Io, "index.loadFlatEntries", "read "+path, err)
		}
		out = append(out, Decode(buf[:]))
	}
	return out, nil
}

// dedupeAndSort sorts entries by key and, for any repeated key (a later
// Insert superseding an earlier one, e.g. a FIRSTSEG entry whose Cont was
// unknown until its continuation was written), keeps the last occurrence
// in original append order.
func dedupeAndSort(entries []Entry) []Entry {
	type indexed struct {
		e Entry
		i int
	}
	tagged := make([]indexed, len(entries))
	for i, e := range entries {
		tagged[i] = indexed{e, i}
	}
	sort.SliceStable(tagged, func(a, b int) bool {
		return bytesLess(tagged[a].e.Key[:], tagged[b].e.Key[:])
	})

	out := make([]Entry, 0, len(tagged))
	for i := 0; i < len(tagged); i++ {
		j := i
		for j+1 < len(tagged) && tagged[j+1].e.Key == tagged[i].e.Key {
			j++
		}
		// Among duplicates, keep the one with the highest original index.
		best := tagged[i]
		for k := i; k <= j; k++ {
			if tagged[k].i > best.i {
				best = tagged[k]
			}
		}
		out = append(out, best.e)
		i = j
	}
	return out
}

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// writeSorted writes a brand-new index.sorted (header, bucket residual
// table, then records) to a temp file and renames it into place, so
// concurrent readers never observe a partially-written file.
func (x *Index) writeSorted(entries []Entry) error {
	nrec := uint64(len(entries))
	bb := bucketBits(nrec)
	nbuckets := uint64(1) << bb

	residuals := make([]int64, nbuckets)
	seen := make([]bool, nbuckets)
	for b := range residuals {
		ideal := idealForBucket(uint64(b), bb, nrec)
		residuals[b] = -int64(ideal)
	}
	for i, e := range entries {
		frac := keyFrac(e.Key)
		b := frac >> (64 - uint(bb))
		ideal := idealForBucket(b, bb, nrec)
		r := int64(i) - int64(ideal)
		// Keep the residual for the first record that lands in this
		// bucket: subsequent records in the same bucket are found by the
		// local-probe/binary-search fallback in locateLowerBound.
		if !seen[b] {
			residuals[b] = r
			seen[b] = true
		}
	}

	tmp, err := os.CreateTemp(x.aa.SiloDir(), "index.sorted.tmp-*")
	if err != nil {
		return awerr.Wrap(awerr.Io, "index.writeSorted", "create temp file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriter(tmp)
	var hdrBuf [8]byte
	binary.BigEndian.PutUint64(hdrBuf[:], sortedMagic|(uint64(bb)<<40)|nrec)
	if _, err := w.Write(hdrBuf[:]); err != nil {
		tmp.Close()
		return awerr.Wrap(awerr.Io, "index.writeSorted", "write header", err)
	}
	var rbuf [8]byte
	for _, r := range residuals {
		binary.BigEndian.PutUint64(rbuf[:], uint64(r))
		if _, err := w.Write(rbuf[:]); err != nil {
			tmp.Close()
			return awerr.Wrap(awerr.Io, "index.writeSorted", "write bucket table", err)
		}
	}
	for _, e := range entries {
		b := e.Encode()
		if _, err := w.Write(b[:]); err != nil {
			tmp.Close()
			return awerr.Wrap(awerr.Io, "index.writeSorted", "write record", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return awerr.Wrap(awerr.Io, "index.writeSorted", "flush", err)
	}
	if err := tmp.Close(); err != nil {
		return awerr.Wrap(awerr.Io, "index.writeSorted", "close temp file", err)
	}
	if err := fileutil.Rename(tmpName, x.aa.IndexSortedPath()); err != nil {
		return awerr.Wrap(awerr.Io, "index.writeSorted", "rename into place", err)
	}
	return nil
}

func idealForBucket(bucket uint64, bb int, nrec uint64) uint64 {
	// Use the bucket's lowest fraction value as its representative frac.
	frac := bucket << (64 - uint(bb))
	hi, _ := bits.Mul64(frac, nrec)
	return hi
}

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

// Package wsilo implements the silo writer: allocation of a silo file to
// append to (either a brand-new one or an existing one with spare room),
// cooperative locking via a per-silo ".hold" file, and append-only
// writes of already gzip-framed record bytes.
package wsilo

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/bsdphk/aardwarc/archive"
	"github.com/bsdphk/aardwarc/awerr"
	"github.com/bsdphk/aardwarc/index"
	"github.com/bsdphk/aardwarc/silopath"
	"github.com/bsdphk/aardwarc/warcinfo"
)

// WarcinfoLevel is the flate compression level used for the warcinfo
// record every brand-new silo starts with.
const WarcinfoLevel = 9

// maxAllocScan bounds how many candidate silo numbers Create will probe
// before giving up; in practice the very first iteration almost always
// succeeds.
const maxAllocScan = 1 << 20

// Wsilo is one allocated, locked silo file open for appending.
type Wsilo struct {
	aa       *archive.Handle
	num      uint32
	path     string
	holdPath string
	f        *os.File
	offset   uint64 // byte offset of the next record's first byte
	startLen uint64 // file length when this Wsilo was opened, for Abandon
	log      logrus.FieldLogger
}

// Create allocates a silo to write into: it first looks for an existing,
// not-yet-full silo starting at aa.FirstSpaceSilo(), and failing that
// creates a new one starting at aa.FirstNonSilo(). The returned Wsilo
// holds that silo's ".hold" lock file until Commit or Abandon releases
// it. idx receives the warcinfo entry whenever Create has to start a
// brand-new silo -- the first record of every silo is its warcinfo
// record, written here before Create returns so the caller's own record
// always lands right after it.
func Create(aa *archive.Handle, idx *index.Index) (*Wsilo, error) {
	log := aa.Log()

	spaceStart := aa.FirstSpaceSilo()
	for n := spaceStart; n < spaceStart+maxAllocScan; n++ {
		w, full, err := tryAppendExisting(aa, n, log)
		if err != nil {
			return nil, err
		}
		if w != nil {
			return w, nil
		}
		if full {
			aa.AdvanceFirstSpaceSilo(n + 1)
			continue
		}
		// Neither locked-and-full nor locked-and-appendable: the silo
		// doesn't exist yet at this number, or another writer holds it;
		// either way the search moves on to the "create new" scan below.
		break
	}

	newStart := aa.FirstNonSilo()
	for n := newStart; n < newStart+maxAllocScan; n++ {
		w, err := tryCreateNew(aa, idx, n, log)
		if err != nil {
			return nil, err
		}
		if w != nil {
			return w, nil
		}
		aa.AdvanceFirstNonSilo(n + 1)
	}
	return nil, awerr.New(awerr.SiloFull, "wsilo.Create", "no free silo number found")
}

// tryAppendExisting attempts to acquire the hold lock for silo n and, if
// the silo file exists and still has spare room, opens it for append. It
// returns (nil, true, nil) when the silo exists but is full, and
// (nil, false, nil) when the silo does not exist at all (lock released)
// or when another writer already holds its hold file.
func tryAppendExisting(aa *archive.Handle, n uint32, log logrus.FieldLogger) (*Wsilo, bool, error) {
	holdPath := silopath.Filename(aa.SiloDir(), aa.SiloBasename(), n, true)
	lock, err := os.OpenFile(holdPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, false, nil // another writer holds this silo right now
		}
		return nil, false, awerr.Wrap(awerr.Io, "wsilo.tryAppendExisting", "create hold file", err)
	}

	path := silopath.Filename(aa.SiloDir(), aa.SiloBasename(), n, false)
	info, err := os.Stat(path)
	if err != nil {
		lock.Close()
		os.Remove(holdPath)
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, awerr.Wrap(awerr.Io, "wsilo.tryAppendExisting", "stat silo", err)
	}

	if uint64(info.Size()) >= aa.SiloMaxSize() {
		lock.Close()
		os.Remove(holdPath)
		return nil, true, nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		lock.Close()
		os.Remove(holdPath)
		return nil, false, awerr.Wrap(awerr.Io, "wsilo.tryAppendExisting", "open silo for append", err)
	}
	if _, err := f.Seek(info.Size(), 0); err != nil {
		f.Close()
		lock.Close()
		os.Remove(holdPath)
		return nil, false, awerr.Wrap(awerr.Io, "wsilo.tryAppendExisting", "seek to end", err)
	}
	lock.Close()

	return &Wsilo{
		aa: aa, num: n, path: path, holdPath: holdPath,
		f: f, offset: uint64(info.Size()), startLen: uint64(info.Size()),
		log: log.WithField("silo", n),
	}, false, nil
}

// tryCreateNew attempts to create silo n from scratch, racing any other
// process via O_CREATE|O_EXCL. It returns nil (no error) if it lost the
// race, so the caller can advance to n+1.
func tryCreateNew(aa *archive.Handle, idx *index.Index, n uint32, log logrus.FieldLogger) (*Wsilo, error) {
	holdPath := silopath.Filename(aa.SiloDir(), aa.SiloBasename(), n, true)
	lock, err := os.OpenFile(holdPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, nil
		}
		return nil, awerr.Wrap(awerr.Io, "wsilo.tryCreateNew", "create hold file", err)
	}

	path := silopath.Filename(aa.SiloDir(), aa.SiloBasename(), n, false)
	if err := silopath.MkParentDir(path); err != nil {
		lock.Close()
		os.Remove(holdPath)
		return nil, awerr.Wrap(awerr.Io, "wsilo.tryCreateNew", "mkdir", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		lock.Close()
		os.Remove(holdPath)
		if os.IsExist(err) {
			return nil, nil
		}
		return nil, awerr.Wrap(awerr.Io, "wsilo.tryCreateNew", "create silo", err)
	}
	lock.Close()

	w := &Wsilo{
		aa: aa, num: n, path: path, holdPath: holdPath,
		f: f, offset: 0, startLen: 0,
		log: log.WithField("silo", n),
	}

	if err := w.writeWarcinfo(idx); err != nil {
		w.Abandon()
		return nil, err
	}
	return w, nil
}

// writeWarcinfo renders and appends this silo's warcinfo record -- every
// silo's record #0 -- and indexes it, before any caller-supplied record
// is written.
func (w *Wsilo) writeWarcinfo(idx *index.Index) error {
	frame, err := warcinfo.Build(w.aa, w.num, WarcinfoLevel)
	if err != nil {
		return err
	}
	body := frame.Bytes()
	if _, err := w.Write(body); err != nil {
		return err
	}
	id := frame.ID
	return idx.Insert(id, index.FlagWarcinfo, w.num, 0, "")
}

// Number is this silo's allocated number.
func (w *Wsilo) Number() uint32 { return w.num }

// Offset returns the byte offset at which the next Write will land --
// the value to record in the index for whatever gets written next.
func (w *Wsilo) Offset() uint64 { return w.offset }

// HasSpace reports whether n more bytes would still fit under the
// archive's configured silo.max_size.
func (w *Wsilo) HasSpace(n uint64) bool {
	return w.offset+n <= w.aa.SiloMaxSize()
}

// Write appends already gzip-framed bytes to the silo, advancing Offset.
func (w *Wsilo) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.offset += uint64(n)
	if err != nil {
		return n, awerr.Wrap(awerr.Io, "wsilo.Write", "append to silo", err)
	}
	return n, nil
}

// Commit fsyncs the silo file, closes it and releases the hold lock. The
// silo remains on disk for future appends or reads.
func (w *Wsilo) Commit() error {
	err := w.f.Sync()
	closeErr := w.f.Close()
	os.Remove(w.holdPath)
	if err != nil {
		return awerr.Wrap(awerr.Io, "wsilo.Commit", "fsync silo", err)
	}
	if closeErr != nil {
		return awerr.Wrap(awerr.Io, "wsilo.Commit", "close silo", closeErr)
	}
	return nil
}

// Abandon discards any bytes written since this Wsilo was opened
// (truncating the file back to its length at open time), closes it and
// releases the hold lock. Used when a write fails partway through a
// record and the silo must be left exactly as it was found.
func (w *Wsilo) Abandon() error {
	err := w.f.Truncate(int64(w.startLen))
	closeErr := w.f.Close()
	os.Remove(w.holdPath)
	if err != nil {
		return awerr.Wrap(awerr.Io, "wsilo.Abandon", "truncate silo", err)
	}
	if closeErr != nil {
		return awerr.Wrap(awerr.Io, "wsilo.Abandon", "close silo", closeErr)
	}
	return nil
}

// Path returns the silo's on-disk path.
func (w *Wsilo) Path() string { return w.path }

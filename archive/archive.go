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

// Package archive holds the process-wide, immutable archive configuration
// (ArchiveHandle in the source material) plus the two monotonic silo-number
// caches every writer consults, persisted opportunistically to "_.cache".
package archive

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bsdphk/aardwarc/awerr"
)

const (
	// DefaultSiloBasename is used when no silo.basename is configured.
	DefaultSiloBasename = "%08d.warc.gz"
	// DefaultSiloMaxSize is used when no silo.max_size is configured.
	DefaultSiloMaxSize = uint64(3.5 * (1 << 30))
	// DefaultIndexSortSize is used when no index.sort_size is configured.
	DefaultIndexSortSize = uint64(10 * (1 << 20))
	// DefaultIDSizeHex is the id_size default: 128 bits = 32 hex chars.
	DefaultIDSizeHex = 32

	cacheFileName = "_.cache"
)

// Config is the validated, user-supplied archive configuration. It
// mirrors the fields AardWARC_New reads out of the (out-of-scope) config
// file: this package never parses configuration text itself, it only
// validates and holds the decoded result.
type Config struct {
	// Prefix is the WARC-Record-ID URI prefix; must end in "/".
	Prefix string
	// IDSizeBits is the record ID length in bits; 0 means "use the
	// default" (128). Must be in [64, 256] and divisible by 4.
	IDSizeBits int
	// SiloDir is the archive root directory; must end in "/".
	SiloDir string
	// SiloBasename is a printf "%d"-style template with no "/".
	SiloBasename string
	// SiloMaxSize caps a single silo file's size in bytes.
	SiloMaxSize uint64
	// IndexSortSize is the merge chunk size for Index.Resort.
	IndexSortSize uint64
	// WarcinfoBody holds extra "key value" lines for the per-silo
	// warcinfo record body, in configuration order.
	WarcinfoBody [][2]string
	// ResourceMimeTypes, if non-empty, is the allow-list a resource
	// record's Content-Type must appear in (a "*" entry accepts any
	// type); empty means unrestricted.
	ResourceMimeTypes []string
	// MetadataMimeTypes is the same allow-list for metadata records.
	MetadataMimeTypes []string
}

// Handle is the validated, process-wide archive configuration plus its
// two mutable silo-number caches. It is the ArchiveHandle of the source
// material's data model.
type Handle struct {
	prefix        string
	idSizeHex     int
	siloDir       string
	siloBasename  string
	siloMaxSize   uint64
	indexSortSize uint64
	warcinfoBody  [][2]string
	resourceMimes []string
	metadataMimes []string
	log           logrus.FieldLogger

	mu              sync.Mutex
	firstNonSilo    uint32
	firstSpaceSilo  uint32
}

// New validates cfg and constructs a Handle, applying the documented
// defaults for any zero-valued optional field. It does not read the
// on-disk cache file; call ReadCache explicitly once the archive
// directory is known to exist.
func New(cfg Config, log logrus.FieldLogger) (*Handle, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Prefix == "" || !strings.HasSuffix(cfg.Prefix, "/") {
		return nil, awerr.New(awerr.Config, "archive.New", "WARC-Record-ID prefix must be set and end in '/'")
	}
	idSizeBits := cfg.IDSizeBits
	if idSizeBits == 0 {
		idSizeBits = DefaultIDSizeHex * 4
	}
	if idSizeBits < 64 || idSizeBits > 256 {
		return nil, awerr.New(awerr.Config, "archive.New", "id size must be in [64, 256] bits")
	}
	if idSizeBits%4 != 0 {
		return nil, awerr.New(awerr.Config, "archive.New", "id size must be divisible by 4 bits")
	}

	if cfg.SiloDir == "" || !strings.HasSuffix(cfg.SiloDir, "/") {
		return nil, awerr.New(awerr.Config, "archive.New", "silo.directory must be set and end in '/'")
	}

	basename := cfg.SiloBasename
	if basename == "" {
		basename = DefaultSiloBasename
	}
	if strings.ContainsRune(basename, '/') {
		return nil, awerr.New(awerr.Config, "archive.New", "silo.basename cannot contain '/'")
	}
	verb := strings.IndexByte(basename, '%') + 1
	for verb < len(basename) && strings.IndexByte("0123456789-+ #", basename[verb]) >= 0 {
		verb++
	}
	if strings.Count(basename, "%") != 1 || verb >= len(basename) || (basename[verb] != 'd' && basename[verb] != 'u') {
		return nil, awerr.New(awerr.Config, "archive.New", "silo.basename must have exactly one %d/%u verb")
	}
	if basename[verb] == 'u' {
		// fmt has no %u verb; the unsigned silo number prints the same under %d.
		basename = basename[:verb] + "d" + basename[verb+1:]
	}

	maxSize := cfg.SiloMaxSize
	if maxSize == 0 {
		maxSize = DefaultSiloMaxSize
	}

	sortSize := cfg.IndexSortSize
	if sortSize == 0 {
		sortSize = DefaultIndexSortSize
	}
	sortSize &^= 0x1f // round down to a multiple of 32
	if sortSize < 4096 {
		return nil, awerr.New(awerr.Config, "archive.New", "index.sort_size too small (must be >= 4096)")
	}

	return &Handle{
		prefix:        cfg.Prefix,
		idSizeHex:     idSizeBits / 4,
		siloDir:       cfg.SiloDir,
		siloBasename:  basename,
		siloMaxSize:   maxSize,
		indexSortSize: sortSize,
		warcinfoBody:  cfg.WarcinfoBody,
		resourceMimes: cfg.ResourceMimeTypes,
		metadataMimes: cfg.MetadataMimeTypes,
		log:           log,
	}, nil
}

func (h *Handle) Prefix() string          { return h.prefix }
func (h *Handle) IDSize() int             { return h.idSizeHex }
func (h *Handle) SiloDir() string         { return h.siloDir }
func (h *Handle) SiloBasename() string    { return h.siloBasename }
func (h *Handle) SiloMaxSize() uint64     { return h.siloMaxSize }
func (h *Handle) IndexSortSize() uint64   { return h.indexSortSize }
func (h *Handle) WarcinfoBody() [][2]string { return h.warcinfoBody }
func (h *Handle) Log() logrus.FieldLogger { return h.log }

// CheckMimeType validates mimeType against the configured allow-list for
// warcType ("resource" or "metadata"); an empty allow-list accepts
// anything, and a "*" entry in a non-empty list accepts anything too.
func (h *Handle) CheckMimeType(warcType, mimeType string) error {
	var allowed []string
	switch warcType {
	case "metadata":
		allowed = h.metadataMimes
	default:
		allowed = h.resourceMimes
	}
	if len(allowed) == 0 {
		return nil
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, mimeType) {
			return nil
		}
	}
	return awerr.New(awerr.Config, "archive.CheckMimeType",
		fmt.Sprintf("mime-type %q not permitted for %s records", mimeType, warcType))
}

// IndexSortedPath, IndexAppendixPath, IndexHousekeepPath and IndexHoldPath
// are the four well-known files the index package operates on.
func (h *Handle) IndexSortedPath() string    { return filepath.Join(h.siloDir, "index.sorted") }
func (h *Handle) IndexAppendixPath() string  { return filepath.Join(h.siloDir, "index.appendix") }
func (h *Handle) IndexHousekeepPath() string { return filepath.Join(h.siloDir, "index.housekeep") }
func (h *Handle) IndexHoldPath() string      { return filepath.Join(h.siloDir, "index.hold") }

func (h *Handle) cachePath() string { return filepath.Join(h.siloDir, cacheFileName) }

// FirstNonSilo returns the lowest silo number for which the silo file
// might not yet exist -- the starting point for Wsilo's allocation scan.
func (h *Handle) FirstNonSilo() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.firstNonSilo
}

// FirstSpaceSilo returns the lowest silo number for which the
// append-into-existing-silo optimization might still succeed.
func (h *Handle) FirstSpaceSilo() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.firstSpaceSilo
}

// AdvanceFirstNonSilo raises the cache if n is larger than the current
// value, and persists the cache file. Advancing is monotonic: a smaller n
// is silently ignored.
func (h *Handle) AdvanceFirstNonSilo(n uint32) {
	h.mu.Lock()
	changed := n > h.firstNonSilo
	if changed {
		h.firstNonSilo = n
	}
	h.mu.Unlock()
	if changed {
		h.writeCache()
	}
}

// AdvanceFirstSpaceSilo raises the cache if n is larger than the current
// value, and persists the cache file.
func (h *Handle) AdvanceFirstSpaceSilo(n uint32) {
	h.mu.Lock()
	changed := n > h.firstSpaceSilo
	if changed {
		h.firstSpaceSilo = n
	}
	h.mu.Unlock()
	if changed {
		h.writeCache()
	}
}

// ReadCache loads the two counters from "_.cache". A missing or
// short file leaves both counters at 0, matching AardWARC_ReadCache's
// tolerant behavior: the cache is a hint, never a requirement.
func (h *Handle) ReadCache() {
	f, err := os.Open(h.cachePath())
	if err != nil {
		return
	}
	defer f.Close()

	var buf [8]byte
	n, err := f.Read(buf[:])
	if err != nil || n != len(buf) {
		return
	}
	h.mu.Lock()
	h.firstNonSilo = binary.BigEndian.Uint32(buf[0:4])
	h.firstSpaceSilo = binary.BigEndian.Uint32(buf[4:8])
	h.mu.Unlock()
}

// writeCache best-effort persists the current counters. Failure to write
// is logged but never surfaced: the cache is advisory.
func (h *Handle) writeCache() {
	h.mu.Lock()
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:4], h.firstNonSilo)
	binary.BigEndian.PutUint32(buf[4:8], h.firstSpaceSilo)
	h.mu.Unlock()

	f, err := os.OpenFile(h.cachePath(), os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		h.log.WithError(err).Debug("archive: could not open _.cache for write")
		return
	}
	defer f.Close()
	if _, err := f.Write(buf[:]); err != nil {
		h.log.WithError(err).Debug("archive: could not write _.cache")
	}
}

// ValidateID strips the configured prefix (if present) from id and
// verifies the remainder is exactly IDSize lower- or upper-case hex
// characters containing neither '/' nor ':'.
func (h *Handle) ValidateID(id string) (string, error) {
	s := strings.TrimPrefix(id, h.prefix)
	if len(s) != h.idSizeHex {
		return "", awerr.New(awerr.IdInvalid, "archive.ValidateID", fmt.Sprintf("id %q has wrong length", id))
	}
	if strings.ContainsAny(s, "/:") {
		return "", awerr.New(awerr.IdInvalid, "archive.ValidateID", fmt.Sprintf("id %q contains '/' or ':'", id))
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return "", awerr.New(awerr.IdInvalid, "archive.ValidateID", fmt.Sprintf("id %q is not hex", id))
		}
	}
	return strings.ToLower(s), nil
}

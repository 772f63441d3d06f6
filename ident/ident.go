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

// Package ident derives AardWARC record identifiers from payload digests
// and record type, the one piece of id algebra every write path funnels
// through.
package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/bsdphk/aardwarc/archive"
	"github.com/bsdphk/aardwarc/awerr"
	"github.com/bsdphk/aardwarc/warcheader"
)

// Create derives the id_size-hex-character record ID for a header whose
// WARC-Type and (for metadata) WARC-Refers-To are already set, given the
// record's payload digest (hex, undotted, no "sha256:" prefix). If
// override is non-empty it is used verbatim (after validation) instead of
// deriving a metadata ID.
func Create(aa *archive.Handle, h *warcheader.Header, payloadDigestHex string, override string) (string, error) {
	typ, _ := h.Get("WARC-Type")
	switch strings.ToLower(typ) {
	case "resource", "continuation", "warcinfo":
		return truncate(payloadDigestHex, aa.IDSize()), nil
	case "metadata":
		if override != "" {
			id, err := aa.ValidateID(override)
			if err != nil {
				return "", awerr.Wrap(awerr.IdInvalid, "ident.Create", "invalid override id", err)
			}
			return id, nil
		}
		refersTo, ok := h.Get("WARC-Refers-To")
		if !ok {
			return "", awerr.New(awerr.IntegrityMismatch, "ident.Create", "metadata record missing WARC-Refers-To")
		}
		sum := sha256.Sum256([]byte(refersTo + "\n" + payloadDigestHex + "\n"))
		return truncate(hex.EncodeToString(sum[:]), aa.IDSize()), nil
	default:
		return "", awerr.New(awerr.BadFormat, "ident.Create", "unknown WARC-Type "+typ)
	}
}

// Set computes the id via Create and stores it into h's fixed ID slot.
func Set(aa *archive.Handle, h *warcheader.Header, payloadDigestHex string, override string) error {
	id, err := Create(aa, h, payloadDigestHex, override)
	if err != nil {
		return err
	}
	return h.SetID(id)
}

// ToRecordID formats digest (already truncated to the archive's id size)
// as "<prefix><digest>" and validates it.
func ToRecordID(aa *archive.Handle, digest string) (string, error) {
	full := aa.Prefix() + digest
	if _, err := aa.ValidateID(full); err != nil {
		return "", err
	}
	return full, nil
}

func truncate(hexDigest string, idSize int) string {
	if len(hexDigest) < idSize {
		return hexDigest
	}
	return hexDigest[:idSize]
}

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

package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsdphk/aardwarc/archive"
	"github.com/bsdphk/aardwarc/warcheader"
)

func testHandle(t *testing.T) *archive.Handle {
	h, err := archive.New(archive.Config{
		Prefix:  "https://example.org/aa/",
		SiloDir: t.TempDir() + "/",
	}, nil)
	require.NoError(t, err)
	return h
}

func TestCreateResourceIsDigestTruncation(t *testing.T) {
	aa := testHandle(t)
	h := warcheader.New(aa.Prefix(), aa.IDSize())
	require.NoError(t, h.Set("WARC-Type", "resource"))

	digest := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"
	id, err := Create(aa, h, digest, "")
	require.NoError(t, err)
	assert.Equal(t, digest[:aa.IDSize()], id)
}

func TestCreateMetadataHashesRefAndDigest(t *testing.T) {
	aa := testHandle(t)
	h := warcheader.New(aa.Prefix(), aa.IDSize())
	require.NoError(t, h.Set("WARC-Type", "metadata"))
	require.NoError(t, h.Set("WARC-Refers-To", "<https://example.org/aa/deadbeef>"))

	id1, err := Create(aa, h, "abc", "")
	require.NoError(t, err)
	id2, err := Create(aa, h, "abc", "")
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "deterministic for fixed inputs")
	assert.Len(t, id1, aa.IDSize())
}

func TestCreateUnknownTypeFails(t *testing.T) {
	aa := testHandle(t)
	h := warcheader.New(aa.Prefix(), aa.IDSize())
	require.NoError(t, h.Set("WARC-Type", "request"))
	_, err := Create(aa, h, "abc", "")
	assert.Error(t, err)
}

func TestCreateMetadataOverride(t *testing.T) {
	aa := testHandle(t)
	h := warcheader.New(aa.Prefix(), aa.IDSize())
	require.NoError(t, h.Set("WARC-Type", "metadata"))
	require.NoError(t, h.Set("WARC-Refers-To", "<https://example.org/aa/deadbeef>"))

	override := aa.Prefix() + "0123456789abcdef0123456789abcdef"
	id, err := Create(aa, h, "abc", override)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", id)
}

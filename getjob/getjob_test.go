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

package getjob

import (
	"compress/gzip"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsdphk/aardwarc/archive"
	"github.com/bsdphk/aardwarc/awerr"
	"github.com/bsdphk/aardwarc/index"
	"github.com/bsdphk/aardwarc/segjob"
)

func testArchive(t *testing.T, maxSize uint64) (*archive.Handle, *index.Index) {
	aa, err := archive.New(archive.Config{
		Prefix:      "https://example.org/aa/",
		SiloDir:     t.TempDir() + "/",
		SiloMaxSize: maxSize,
	}, nil)
	require.NoError(t, err)
	return aa, index.New(aa)
}

func store(t *testing.T, aa *archive.Handle, idx *index.Index, payload []byte) segjob.Result {
	t.Helper()
	j := segjob.New(aa, idx)
	_, err := j.Write(payload)
	require.NoError(t, err)
	res, err := j.Close()
	require.NoError(t, err)
	return res
}

func collectGzip(t *testing.T, g *GetJob) []byte {
	t.Helper()
	var raw []byte
	require.NoError(t, g.Iter(true, func(p []byte) error {
		raw = append(raw, p...)
		return nil
	}))
	zr, err := gzip.NewReader(strings.NewReader(string(raw)))
	require.NoError(t, err)
	out, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.NoError(t, zr.Close())
	return out
}

func TestNewRejectsUnknownID(t *testing.T) {
	aa, idx := testArchive(t, 1<<20)
	_, err := New(aa, idx, strings.Repeat("0", aa.IDSize()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, awerr.Sentinel(awerr.NotFound)))
}

func TestSingleSegmentGzipPassthrough(t *testing.T) {
	aa, idx := testArchive(t, 1<<20)
	payload := []byte("the quick brown fox jumps over the lazy dog")
	res := store(t, aa, idx, payload)

	g, err := New(aa, idx, res.ID)
	require.NoError(t, err)
	defer g.Close()
	assert.False(t, g.IsSegmented())

	assert.Equal(t, payload, collectGzip(t, g))
}

func TestMultiSegmentGzipStitch(t *testing.T) {
	aa, idx := testArchive(t, 4096)
	payload := []byte(strings.Repeat("0123456789", 500))
	res := store(t, aa, idx, payload)
	require.True(t, res.Segments > 1)

	g, err := New(aa, idx, res.ID)
	require.NoError(t, err)
	defer g.Close()
	assert.True(t, g.IsSegmented())

	assert.Equal(t, payload, collectGzip(t, g))
}

func TestLookupByPrefix(t *testing.T) {
	aa, idx := testArchive(t, 1<<20)
	payload := []byte("looked up by a short prefix of its id")
	res := store(t, aa, idx, payload)

	g, err := New(aa, idx, res.ID[:8])
	require.NoError(t, err)
	defer g.Close()

	var got []byte
	require.NoError(t, g.Iter(false, func(p []byte) error {
		got = append(got, p...)
		return nil
	}))
	assert.Equal(t, payload, got)
}

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

package rsilo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsdphk/aardwarc/archive"
	"github.com/bsdphk/aardwarc/index"
	"github.com/bsdphk/aardwarc/internal/gzipframe"
	"github.com/bsdphk/aardwarc/warcheader"
	"github.com/bsdphk/aardwarc/wsilo"
)

func testHandle(t *testing.T) (*archive.Handle, *index.Index) {
	aa, err := archive.New(archive.Config{
		Prefix:  "https://example.org/aa/",
		SiloDir: t.TempDir() + "/",
	}, nil)
	require.NoError(t, err)
	return aa, index.New(aa)
}

// writeOneRecord appends a single header+body+CrNlCrNl record to w using
// the same framing a real writer (segjob) would produce, and returns the
// offset where it started.
func writeOneRecord(t *testing.T, aa *archive.Handle, w *wsilo.Wsilo, id, warcType, body string) uint64 {
	t.Helper()
	start := w.Offset()

	h := warcheader.New(aa.Prefix(), aa.IDSize())
	require.NoError(t, h.SetID(id))
	require.NoError(t, h.Set("WARC-Type", warcType))
	require.NoError(t, h.Set("Content-Length", "0"))
	headerFrame, err := h.Serialize(9)
	require.NoError(t, err)

	bodyFrame, err := gzipframe.Encode([]byte(body), 9)
	require.NoError(t, err)

	_, err = w.Write(headerFrame)
	require.NoError(t, err)
	_, err = w.Write(bodyFrame)
	require.NoError(t, err)
	_, err = w.Write(gzipframe.CrNlCrNl[:])
	require.NoError(t, err)

	return start
}

func makeID(aa *archive.Handle, c byte) string {
	b := make([]byte, aa.IDSize())
	for i := range b {
		b[i] = c
	}
	return string(b)
}

func TestReadAtRoundTrip(t *testing.T) {
	aa, idx := testHandle(t)
	w, err := wsilo.Create(aa, idx)
	require.NoError(t, err)

	id := "0123456789abcdef0123456789abcdef"
	off := writeOneRecord(t, aa, w, id, "resource", "hello, silo")
	require.NoError(t, w.Commit())

	rec, next, err := ReadAt(aa, 0, off)
	require.NoError(t, err)
	assert.Equal(t, "hello, silo", string(rec.Body))
	assert.Equal(t, id, rec.Header.GetID())
	assert.Equal(t, w.Offset(), next)
}

func TestReadHeaderSkipsBody(t *testing.T) {
	aa, idx := testHandle(t)
	w, err := wsilo.Create(aa, idx)
	require.NoError(t, err)

	id1 := makeID(aa, '1')
	id2 := makeID(aa, '2')
	off1 := writeOneRecord(t, aa, w, id1, "resource", "first record body")
	off2 := writeOneRecord(t, aa, w, id2, "resource", "second record body")
	require.NoError(t, w.Commit())

	s, err := Open(aa, 0)
	require.NoError(t, err)
	defer s.Close()

	h, bodyOffset, err := s.ReadHeader(off1)
	require.NoError(t, err)
	assert.Equal(t, id1, h.GetID())

	next, err := s.SkipBody(bodyOffset)
	require.NoError(t, err)
	assert.Equal(t, off2, next)

	rec, _, err := s.ReadAt(next)
	require.NoError(t, err)
	assert.Equal(t, "second record body", string(rec.Body))
}

func TestMultipleRecordsInOneSilo(t *testing.T) {
	aa, idx := testHandle(t)
	w, err := wsilo.Create(aa, idx)
	require.NoError(t, err)

	bodies := []string{"alpha", "beta", "gamma"}
	offsets := make([]uint64, len(bodies))
	for i, b := range bodies {
		offsets[i] = writeOneRecord(t, aa, w, makeID(aa, byte('a'+i)), "resource", b)
	}
	require.NoError(t, w.Commit())

	s, err := Open(aa, 0)
	require.NoError(t, err)
	defer s.Close()

	for i, off := range offsets {
		rec, _, err := s.ReadAt(off)
		require.NoError(t, err)
		assert.Equal(t, bodies[i], string(rec.Body))
	}
}

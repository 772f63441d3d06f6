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

package wsilo

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsdphk/aardwarc/archive"
	"github.com/bsdphk/aardwarc/index"
)

func testHandle(t *testing.T, maxSize uint64) (*archive.Handle, *index.Index) {
	aa, err := archive.New(archive.Config{
		Prefix:      "https://example.org/aa/",
		SiloDir:     t.TempDir() + "/",
		SiloMaxSize: maxSize,
	}, nil)
	require.NoError(t, err)
	return aa, index.New(aa)
}

func TestCreateAllocatesSiloZero(t *testing.T) {
	aa, idx := testHandle(t, 1<<20)
	w, err := Create(aa, idx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), w.Number())
	// Every brand-new silo opens with its warcinfo record already written.
	afterWarcinfo := w.Offset()
	assert.True(t, afterWarcinfo > 0)

	n, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, afterWarcinfo+5, w.Offset())
	require.NoError(t, w.Commit())

	_, err = os.Stat(w.Path())
	require.NoError(t, err)
	_, err = os.Stat(w.Path() + ".hold")
	assert.True(t, os.IsNotExist(err))
}

func TestSecondCreateAppendsToFirstSilo(t *testing.T) {
	aa, idx := testHandle(t, 1<<20)
	w1, err := Create(aa, idx)
	require.NoError(t, err)
	afterWarcinfo := w1.Offset()
	_, err = w1.Write([]byte("12345"))
	require.NoError(t, err)
	require.NoError(t, w1.Commit())

	w2, err := Create(aa, idx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), w2.Number())
	assert.Equal(t, afterWarcinfo+5, w2.Offset())
	require.NoError(t, w2.Commit())
}

func TestFullSiloAllocatesNextNumber(t *testing.T) {
	// Learn how large a silo holding just a warcinfo record plus a 4-byte
	// payload comes out to, then cap a fresh archive at exactly that size
	// so the first silo is already full by the time a second Create runs.
	learnAa, learnIdx := testHandle(t, 1<<20)
	w0, err := Create(learnAa, learnIdx)
	require.NoError(t, err)
	_, err = w0.Write([]byte("1234"))
	require.NoError(t, err)
	require.NoError(t, w0.Commit())
	info, err := os.Stat(w0.Path())
	require.NoError(t, err)
	fullSize := uint64(info.Size())

	aa, idx := testHandle(t, fullSize)
	w1, err := Create(aa, idx)
	require.NoError(t, err)
	_, err = w1.Write([]byte("1234"))
	require.NoError(t, err)
	require.NoError(t, w1.Commit())

	w2, err := Create(aa, idx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), w2.Number())
	require.NoError(t, w2.Commit())
}

func TestAbandonTruncatesBackToStart(t *testing.T) {
	aa, idx := testHandle(t, 1<<20)
	w1, err := Create(aa, idx)
	require.NoError(t, err)
	_, err = w1.Write([]byte("keep-me"))
	require.NoError(t, err)
	require.NoError(t, w1.Commit())

	before, err := os.Stat(w1.Path())
	require.NoError(t, err)

	w2, err := Create(aa, idx)
	require.NoError(t, err)
	_, err = w2.Write([]byte("this-should-vanish"))
	require.NoError(t, err)
	require.NoError(t, w2.Abandon())

	after, err := os.Stat(w2.Path())
	require.NoError(t, err)
	assert.Equal(t, before.Size(), after.Size())
}

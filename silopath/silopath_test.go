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

package silopath

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilenameLevel0(t *testing.T) {
	p := Filename("/archive", "%08d.warc.gz", 5, false)
	assert.Equal(t, filepath.Join("/archive", "0", "00000005.warc.gz"), p)
}

func TestFilenameLevel1(t *testing.T) {
	p := Filename("/archive", "%08d.warc.gz", 150, false)
	assert.Equal(t, filepath.Join("/archive", "1", "01", "00000150.warc.gz"), p)
}

func TestFilenameHold(t *testing.T) {
	p := Filename("/archive", "%08d.warc.gz", 5, true)
	assert.Equal(t, filepath.Join("/archive", "0", "00000005.warc.gz.hold"), p)
}

func TestIterStopsAtFirstGap(t *testing.T) {
	root := t.TempDir()
	for _, n := range []uint32{0, 1, 2} {
		path := Filename(root, "%08d.warc.gz", n, false)
		require.NoError(t, MkParentDir(path))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
	// Leave a gap at 3, then a file at 4 that must not be visited.
	path4 := Filename(root, "%08d.warc.gz", 4, false)
	require.NoError(t, MkParentDir(path4))
	require.NoError(t, os.WriteFile(path4, []byte("x"), 0o644))

	var seen []uint32
	err := Iter(root, "%08d.warc.gz", func(n uint32, path string) error {
		seen = append(seen, n)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2}, seen)
}

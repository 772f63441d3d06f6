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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsdphk/aardwarc/archive"
)

func testIndex(t *testing.T) *Index {
	aa, err := archive.New(archive.Config{
		Prefix:  "https://example.org/aa/",
		SiloDir: t.TempDir() + "/",
	}, nil)
	require.NoError(t, err)
	return New(aa)
}

func digestHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestInsertAndIterFromAppendixOnly(t *testing.T) {
	x := testIndex(t)
	id := digestHex("hello")
	require.NoError(t, x.Insert(id, FlagResource, 3, 1024, ""))

	var got []Entry
	err := x.Iter(id, func(e Entry) (bool, error) {
		got = append(got, e)
		return false, nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint32(3), got[0].Silo)
	assert.Equal(t, uint64(1024), got[0].Offset)
}

func TestIterNoMatchReturnsEmpty(t *testing.T) {
	x := testIndex(t)
	require.NoError(t, x.Insert(digestHex("a"), FlagResource, 0, 0, ""))

	var got []Entry
	err := x.Iter(digestHex("totally-absent"), func(e Entry) (bool, error) {
		got = append(got, e)
		return false, nil
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResortMovesAppendixIntoSorted(t *testing.T) {
	x := testIndex(t)
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = digestHex(fmt.Sprintf("record-%d", i))
		require.NoError(t, x.Insert(ids[i], FlagResource, uint32(i), uint64(i*100), ""))
	}

	require.NoError(t, x.Resort())

	for i, id := range ids {
		var got []Entry
		err := x.Iter(id, func(e Entry) (bool, error) {
			got = append(got, e)
			return false, nil
		})
		require.NoError(t, err)
		require.Lenf(t, got, 1, "id %d (%s) not found after resort", i, id)
		assert.Equal(t, uint32(i), got[0].Silo)
	}
}

func TestResortDedupesKeepingLatestInsert(t *testing.T) {
	x := testIndex(t)
	id := digestHex("segmented-record")
	require.NoError(t, x.Insert(id, FlagSegmented|FlagFirstSeg, 0, 0, ""))
	require.NoError(t, x.Resort())

	// A later re-insert (e.g. once the continuation id is known) updates
	// the Cont field; Resort must keep the newer record.
	require.NoError(t, x.Insert(id, FlagSegmented|FlagFirstSeg, 0, 0, "deadbeef"))
	require.NoError(t, x.Resort())

	var got []Entry
	err := x.Iter(id, func(e Entry) (bool, error) {
		got = append(got, e)
		return false, nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "deadbeef", got[0].ContHex())
}

func TestInterpolationFindsAmongManyRecords(t *testing.T) {
	x := testIndex(t)
	const n = 5000
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = digestHex(fmt.Sprintf("bulk-%d", i))
		require.NoError(t, x.Insert(ids[i], FlagResource, uint32(i%7), uint64(i), ""))
	}
	require.NoError(t, x.Resort())

	for _, i := range []int{0, 1, 17, 2500, n - 2, n - 1} {
		var got []Entry
		err := x.Iter(ids[i], func(e Entry) (bool, error) {
			got = append(got, e)
			return false, nil
		})
		require.NoError(t, err)
		require.Lenf(t, got, 1, "id %d missing", i)
		assert.Equal(t, uint64(i), got[0].Offset)
	}

	var got []Entry
	err := x.Iter(digestHex("definitely-not-present"), func(e Entry) (bool, error) {
		got = append(got, e)
		return false, nil
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIterStopsEarly(t *testing.T) {
	x := testIndex(t)
	id := digestHex("stop-me")
	require.NoError(t, x.Insert(id, FlagResource, 1, 0, ""))
	require.NoError(t, x.Insert(id, FlagResource, 2, 0, ""))

	calls := 0
	err := x.Iter(id, func(e Entry) (bool, error) {
		calls++
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

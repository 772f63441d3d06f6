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

package warcheader

import (
	"strings"
	"testing"

	"github.com/bsdphk/aardwarc/internal/gzipframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHasUnderscoreID(t *testing.T) {
	h := New("https://example.org/", 32)
	assert.Equal(t, strings.Repeat("_", 32), h.GetID())
}

func TestSetOrdersAlphabetically(t *testing.T) {
	h := New("https://example.org/", 8)
	require.NoError(t, h.Set("WARC-Type", "resource"))
	require.NoError(t, h.Set("Content-Type", "text/plain"))
	require.NoError(t, h.Set("WARC-Date", "2020-01-01T00:00:00Z"))

	raw, err := h.Serialize(-1)
	require.NoError(t, err)
	body := string(raw)
	ci := strings.Index(body, "Content-Type")
	wd := strings.Index(body, "WARC-Date")
	wt := strings.Index(body, "WARC-Type")
	assert.True(t, ci < wd && wd < wt, "fields must be case-insensitively alphabetical")
}

func TestSetRejectsRecordID(t *testing.T) {
	h := New("https://example.org/", 8)
	err := h.Set("WARC-Record-ID", "x")
	assert.Error(t, err)
}

func TestSetIDTruncates(t *testing.T) {
	h := New("https://example.org/", 8)
	require.NoError(t, h.SetID("0123456789abcdef"))
	assert.Equal(t, "01234567", h.GetID())
}

func TestSerializeAndParseRoundtrip(t *testing.T) {
	h := New("https://example.org/", 8)
	require.NoError(t, h.SetID("0123456789abcdef"))
	require.NoError(t, h.Set("WARC-Type", "resource"))
	require.NoError(t, h.Set("Content-Length", "4"))

	raw, err := h.Serialize(-1)
	require.NoError(t, err)

	parsed, err := Parse("https://example.org/", 8, raw)
	require.NoError(t, err)
	assert.Equal(t, "01234567", parsed.GetID())
	v, ok := parsed.Get("WARC-Type")
	assert.True(t, ok)
	assert.Equal(t, "resource", v)
	assert.Equal(t, int64(4), parsed.GetNumber("Content-Length"))
}

func TestSerializeGzipRoundtrip(t *testing.T) {
	h := New("https://example.org/", 8)
	require.NoError(t, h.SetID("0123456789abcdef"))
	require.NoError(t, h.Set("WARC-Type", "warcinfo"))

	frame, err := h.Serialize(6)
	require.NoError(t, err)
	assert.True(t, len(frame) > 0)

	raw, err := gzipframe.Decode(frame)
	require.NoError(t, err)
	parsed, err := Parse("https://example.org/", 8, raw)
	require.NoError(t, err)
	assert.Equal(t, "01234567", parsed.GetID())
}

func TestGetNumberMissingOrInvalid(t *testing.T) {
	h := New("https://example.org/", 8)
	assert.Equal(t, int64(-1), h.GetNumber("Content-Length"))
	require.NoError(t, h.Set("Content-Length", "not-a-number"))
	assert.Equal(t, int64(-1), h.GetNumber("Content-Length"))
}

func TestLenMatchesSet(t *testing.T) {
	h := New("https://example.org/", 8)
	before, err := h.Serialize(-1)
	require.NoError(t, err)
	cost := h.Len("WARC-Segment-Number", "1")
	require.NoError(t, h.Set("WARC-Segment-Number", "1"))
	after, err := h.Serialize(-1)
	require.NoError(t, err)
	assert.Equal(t, len(before)+cost, len(after))
}

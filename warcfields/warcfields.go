/*
 * Copyright 2020 National Library of Norway.
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

// Package warcfields codecs the "application/warc-fields" body format:
// an ordered, possibly-repeating sequence of "Name: Value\r\n" lines
// terminated by a blank line. It is distinct from (but textually similar
// to) the WARC record header itself that package warcheader serializes.
// Warcinfo record bodies do not use it: package warcinfo writes its body
// as "name value" lines.
package warcfields

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// WarcFields is an ordered, name-repeatable set of warc-fields entries.
type WarcFields interface {
	Get(name string) string
	GetAll(name string) []string
	Has(name string) bool
	Add(name string, value string) error
	Set(name string, value string) error
	Delete(name string)
	Sort()
	All() []NameValue
	Write(w io.Writer) (bytesWritten int64, err error)
	String() string
}

// NameValue is one warc-fields entry.
type NameValue struct {
	Name  string
	Value string
}

type warcFields struct {
	values []NameValue
}

// New returns an empty WarcFields.
func New() WarcFields {
	return &warcFields{values: make([]NameValue, 0, 10)}
}

// FromPairs builds a WarcFields from an ordered list of [name, value]
// pairs, preserving their order -- the shape archive.Config.WarcinfoBody
// is decoded into from the "warcinfo.body" configuration section.
func FromPairs(pairs [][2]string) WarcFields {
	wf := &warcFields{values: make([]NameValue, 0, len(pairs))}
	for _, kv := range pairs {
		wf.values = append(wf.values, NameValue{Name: kv[0], Value: kv[1]})
	}
	return wf
}

// Get gets the first value associated with the given key.
// If the key doesn't exist or there are no values associated with the key, Get returns "".
// To access multiple values of a key, use GetAll.
func (wf *warcFields) Get(name string) string {
	for _, nv := range wf.values {
		if strings.EqualFold(nv.Name, name) {
			return nv.Value
		}
	}
	return ""
}

func (wf *warcFields) GetAll(name string) []string {
	var result []string
	for _, nv := range wf.values {
		if strings.EqualFold(nv.Name, name) {
			result = append(result, nv.Value)
		}
	}
	return result
}

func (wf *warcFields) Has(name string) bool {
	for _, nv := range wf.values {
		if strings.EqualFold(nv.Name, name) {
			return true
		}
	}
	return false
}

func (wf *warcFields) Add(name string, value string) error {
	wf.values = append(wf.values, NameValue{Name: name, Value: value})
	return nil
}

func (wf *warcFields) Set(name string, value string) error {
	isSet := false
	for idx, nv := range wf.values {
		if strings.EqualFold(nv.Name, name) {
			if isSet {
				wf.values = append(wf.values[:idx], wf.values[idx+1:]...)
			} else {
				nv.Value = value
				isSet = true
			}
		}
	}
	if !isSet {
		wf.values = append(wf.values, NameValue{Name: name, Value: value})
	}
	return nil
}

func (wf *warcFields) Delete(name string) {
	var result []NameValue
	for _, nv := range wf.values {
		if !strings.EqualFold(nv.Name, name) {
			result = append(result, nv)
		}
	}
	wf.values = result
}

func (wf *warcFields) Sort() {
	sort.SliceStable(wf.values, func(i, j int) bool {
		return wf.values[i].Name < wf.values[j].Name
	})
}

// All returns a copy of every entry, in their current order, duplicates
// included -- the escape hatch a caller needs to render the set in a
// format other than Write's own "Name: Value\r\n" lines.
func (wf *warcFields) All() []NameValue {
	out := make([]NameValue, len(wf.values))
	copy(out, wf.values)
	return out
}

// Write renders each entry as "Name: Value\r\n" followed by the blank
// line warc-fields bodies are terminated with.
func (wf *warcFields) Write(w io.Writer) (bytesWritten int64, err error) {
	var n int
	for _, field := range wf.values {
		n, err = fmt.Fprintf(w, "%s: %s\r\n", field.Name, field.Value)
		bytesWritten += int64(n)
		if err != nil {
			return
		}
	}
	n, err = fmt.Fprint(w, "\r\n")
	bytesWritten += int64(n)
	return
}

func (wf *warcFields) String() string {
	sb := &strings.Builder{}
	wf.Write(sb)
	return sb.String()
}

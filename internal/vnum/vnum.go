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

// Package vnum parses numbers with an optional data-storage-size suffix,
// e.g. "3.5G", "10M", "4096". Base 2 throughout.
package vnum

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse2Bytes converts a string such as "3.5G" or "10M" or "4096" into a
// byte count. rel is the baseline used for a trailing "%" suffix; pass 0
// if no relative baseline is available (a "%" suffix then fails).
func Parse2Bytes(s string, rel uint64) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("vnum: missing number")
	}
	s = strings.TrimSpace(s)

	num, rest := splitNumber(s)
	if num == "" {
		return 0, fmt.Errorf("vnum: invalid number %q", s)
	}
	fval, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("vnum: invalid number %q: %w", s, err)
	}

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return uint64(fval), nil
	}

	if rest == "%" {
		if rel == 0 {
			return 0, fmt.Errorf("vnum: absolute number required")
		}
		fval *= float64(rel) / 100.0
		return uint64(fval + 0.5), nil
	}

	// a lone space before the multiplier is tolerated
	rest = strings.TrimPrefix(rest, " ")

	if rest != "" {
		switch rest[0] {
		case 'k', 'K':
			fval *= 1 << 10
			rest = rest[1:]
		case 'm', 'M':
			fval *= 1 << 20
			rest = rest[1:]
		case 'g', 'G':
			fval *= 1 << 30
			rest = rest[1:]
		case 't', 'T':
			fval *= 1 << 40
			rest = rest[1:]
		case 'p', 'P':
			fval *= 1 << 50
			rest = rest[1:]
		}
	}

	// a generic 'b'/'B' suffix has no scaling effect
	if rest == "b" || rest == "B" {
		rest = ""
	}

	if rest != "" {
		return 0, fmt.Errorf("vnum: invalid suffix in %q", s)
	}
	return uint64(fval + 0.5), nil
}

// splitNumber separates the leading float-looking prefix of s (digits,
// sign, decimal point, exponent) from the trailing suffix.
func splitNumber(p string) (num, rest string) {
	i := 0
	n := len(p)
	if i < n && (p[i] == '-' || p[i] == '+') {
		i++
	}
	sawDigit := false
	for i < n && isDigit(p[i]) {
		i++
		sawDigit = true
	}
	if i < n && p[i] == '.' {
		i++
		for i < n && isDigit(p[i]) {
			i++
			sawDigit = true
		}
	}
	if !sawDigit {
		return "", p
	}
	if i < n && (p[i] == 'e' || p[i] == 'E') {
		j := i + 1
		if j < n && (p[j] == '-' || p[j] == '+') {
			j++
		}
		if j < n && isDigit(p[j]) {
			for j < n && isDigit(p[j]) {
				j++
			}
			i = j
		}
	}
	return p[:i], p[i:]
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

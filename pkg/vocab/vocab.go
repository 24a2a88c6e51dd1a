/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

// Package vocab maps decoder token ids to UTF-8 text.
package vocab

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// Vocabulary maps token ids to raw byte sequences. Ids are assigned by line
// order in the vocabulary file.
type Vocabulary struct {
	tokens map[int64][]byte
}

// Load reads a vocabulary file with one "BASE64_TOKEN NUMBER" entry per
// line. Lines that fail every base64 variant are kept as their raw bytes, so
// a malformed entry degrades to literal text instead of failing the load.
func Load(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary file %q: %w", path, err)
	}
	defer f.Close()

	tokens := make(map[int64][]byte)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var line int64
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 {
			tokens[line] = decodeTokenBytes(fields[0])
		}
		line++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocabulary file %q: %w", path, err)
	}

	return &Vocabulary{tokens: tokens}, nil
}

// FromTokens builds a vocabulary directly from byte sequences indexed by id.
func FromTokens(tokens [][]byte) *Vocabulary {
	m := make(map[int64][]byte, len(tokens))
	for i, tok := range tokens {
		m[int64(i)] = tok
	}
	return &Vocabulary{tokens: m}
}

// Len returns the number of known token ids.
func (v *Vocabulary) Len() int { return len(v.tokens) }

// Decode concatenates the byte sequences of ids and interprets the result as
// UTF-8, replacing invalid sequences. Control tokens of the form <|...|> are
// skipped, as are unknown ids. Concatenating before decoding keeps UTF-8
// runes split across BPE tokens intact.
func (v *Vocabulary) Decode(ids []int64) string {
	var all []byte
	for _, id := range ids {
		b, ok := v.tokens[id]
		if !ok {
			continue
		}
		if len(b) > 4 && bytes.HasPrefix(b, []byte("<|")) && bytes.HasSuffix(b, []byte("|>")) {
			continue
		}
		all = append(all, b...)
	}
	return strings.ToValidUTF8(string(all), "�")
}

// decodeTokenBytes decodes one vocabulary entry, trying base64 variants in a
// fixed order: standard, standard without padding, manually repadded
// standard, URL-safe, URL-safe without padding. If everything fails the
// original bytes are returned unchanged.
func decodeTokenBytes(s string) []byte {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b
	}

	padded := s
	for len(padded)%4 != 0 {
		padded += "="
	}
	if b, err := base64.StdEncoding.DecodeString(padded); err == nil {
		return b
	}

	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b
	}
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b
	}

	return []byte(s)
}

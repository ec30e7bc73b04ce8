// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package congram implements component G (the model container) and,
// in matrix.go, component H (the batched progress-matrix dispatcher).
// It owns the aligned embedding arenas, builds the context trie from
// the serialized node/key/value streams, and exposes the scoring and
// similarity operations §4.G and §6.2 name.
package congram

import (
	"fmt"

	"github.com/congram-lm/congram/internal/streamfmt"
	"github.com/congram-lm/congram/trie"
)

// Header is congram's view of the serialized model header; parsing
// itself lives in internal/streamfmt so the wire format has no
// dependency on trie or embedding-arena code.
type Header = streamfmt.Header

// CorruptModelError reports a malformed header or body: bad offsets,
// an inconsistent section size, or an arena that doesn't cover the
// rows the header declares (§7).
type CorruptModelError struct {
	Reason string
}

func (e *CorruptModelError) Error() string {
	return fmt.Sprintf("congram: corrupt model: %s", e.Reason)
}

// UnsupportedQuantError mirrors quant.UnsupportedQuantError for
// header-level combinations that package quant never gets a chance to
// see (e.g. windowSize or keySize out of the closed set, §7).
type UnsupportedQuantError struct {
	Reason string
}

func (e *UnsupportedQuantError) Error() string {
	return fmt.Sprintf("congram: unsupported combination: %s", e.Reason)
}

func parseHeader(b []byte) (Header, error) {
	h, err := streamfmt.ParseHeader(b)
	if err != nil {
		return Header{}, formatErrorAdapter(err)
	}
	return h, nil
}

// formatErrorAdapter surfaces streamfmt.FormatError through congram's
// own error types without losing the underlying reason.
func formatErrorAdapter(err error) error {
	fe, ok := err.(*streamfmt.FormatError)
	if !ok {
		return err
	}
	if fe.Kind == "unsupported" {
		return &UnsupportedQuantError{Reason: fe.Reason}
	}
	return &CorruptModelError{Reason: fe.Reason}
}

// trieCorruptAdapter lets trie.CorruptModelError (raised while decoding
// the node/key/value streams) surface through congram's own error
// type without losing the underlying reason.
func trieCorruptAdapter(err error) error {
	if err == nil {
		return nil
	}
	if cme, ok := err.(*trie.CorruptModelError); ok {
		return &CorruptModelError{Reason: cme.Error()}
	}
	return err
}

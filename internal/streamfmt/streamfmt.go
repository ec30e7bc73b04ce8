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

// Package streamfmt parses the fixed-size §6.1 header that precedes
// every serialized congram model. It knows nothing about trie
// construction or embedding arenas; congram.FromBytes uses it purely
// to recover the section offsets and validate the closed sets
// (keySize, windowSize, qbit) before handing the rest of the buffer
// off to the trie and embedding loaders.
package streamfmt

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the byte length of the fixed §6.1 header, rounded up
// to the format's 16-byte section alignment.
const HeaderSize = 64

// Header is the parsed form of §6.1's fixed-size model header.
type Header struct {
	Dim         uint32
	ContextSize uint32
	VocabSize   uint32
	KeySize     uint8
	WindowSize  uint8
	QBit        uint8
	QGroup      uint8
	NumNodes    uint32
	NodeOffset  uint64
	KeyOffset   uint64
	ValueOffset uint64
	EmbOffset   uint64
}

// FormatError reports a malformed header: either the buffer is too
// short or corrupt (Kind "corrupt"), or the header names a
// combination this Go port doesn't implement (Kind "unsupported",
// §7's closed sets for keySize/windowSize/qbit).
type FormatError struct {
	Kind   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("streamfmt: %s: %s", e.Kind, e.Reason)
}

// ParseHeader reads and validates the header at the start of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, &FormatError{Kind: "corrupt", Reason: "buffer shorter than header"}
	}
	h := Header{
		Dim:         binary.LittleEndian.Uint32(b[0:4]),
		ContextSize: binary.LittleEndian.Uint32(b[4:8]),
		VocabSize:   binary.LittleEndian.Uint32(b[8:12]),
		KeySize:     b[12],
		WindowSize:  b[13],
		QBit:        b[14],
		QGroup:      b[15],
		NumNodes:    binary.LittleEndian.Uint32(b[16:20]),
		NodeOffset:  binary.LittleEndian.Uint64(b[20:28]),
		KeyOffset:   binary.LittleEndian.Uint64(b[28:36]),
		ValueOffset: binary.LittleEndian.Uint64(b[36:44]),
		EmbOffset:   binary.LittleEndian.Uint64(b[44:52]),
	}
	if err := h.Validate(); err != nil {
		return Header{}, err
	}
	return h, nil
}

// Validate checks the header's closed-set fields (§7: keySize in
// {2,3,4}, windowSize in {0,7}, qbit in {0,4,8}, qgroup dividing dim
// when qbit is 4).
func (h Header) Validate() error {
	switch h.KeySize {
	case 2, 3, 4:
	default:
		return &FormatError{Kind: "unsupported", Reason: fmt.Sprintf("keySize %d not in {2,3,4}", h.KeySize)}
	}
	switch h.WindowSize {
	case 0, 7:
	default:
		return &FormatError{Kind: "unsupported", Reason: fmt.Sprintf("windowSize %d not in {0,7}", h.WindowSize)}
	}
	switch h.QBit {
	case 0, 4, 8:
	default:
		return &FormatError{Kind: "unsupported", Reason: fmt.Sprintf("qbit %d not in {0,4,8}", h.QBit)}
	}
	if h.QBit == 4 && (h.QGroup == 0 || h.Dim%uint32(h.QGroup) != 0) {
		return &FormatError{Kind: "unsupported", Reason: "qgroup must be a positive divisor of dim"}
	}
	return nil
}

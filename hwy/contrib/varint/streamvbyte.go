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

// Package varint implements the StreamVByte bulk variable-byte codec:
// a stream of uint32 values is split into a control-byte plane (two
// bits per value naming its encoded length) and a data-byte plane
// (the values themselves, tightly packed). Every serialized-model
// integer array (§6.1: nodeSizes, labels, values) uses this layout so
// the loader can decode them with a single pass per plane.
package varint

// StreamVByteEncoder accumulates uint32 values and encodes them in
// groups of 4, matching the reference control-byte layout (2 bits per
// value, 4 values per control byte).
type StreamVByteEncoder struct {
	control []byte
	data    []byte
	pending [4]uint32
	count   int
}

// NewStreamVByteEncoder creates an encoder with a small starting capacity.
func NewStreamVByteEncoder() *StreamVByteEncoder {
	return &StreamVByteEncoder{
		control: make([]byte, 0, 64),
		data:    make([]byte, 0, 256),
	}
}

// Add adds one value to the stream.
func (e *StreamVByteEncoder) Add(v uint32) {
	e.pending[e.count] = v
	e.count++
	if e.count == 4 {
		e.flushPending()
	}
}

// AddBatch adds a slice of values.
func (e *StreamVByteEncoder) AddBatch(values []uint32) {
	for _, v := range values {
		e.Add(v)
	}
}

func (e *StreamVByteEncoder) flushPending() {
	var ctrl byte
	for i := range 4 {
		v := e.pending[i]
		length := encodedLength(v)
		ctrl |= byte(length-1) << (i * 2)
		e.appendValue(v, length)
	}
	e.control = append(e.control, ctrl)
	e.count = 0
}

func (e *StreamVByteEncoder) appendValue(v uint32, length int) {
	for i := 0; i < length; i++ {
		e.data = append(e.data, byte(v>>(8*i)))
	}
}

func encodedLength(v uint32) int {
	switch {
	case v < 1<<8:
		return 1
	case v < 1<<16:
		return 2
	case v < 1<<24:
		return 3
	default:
		return 4
	}
}

// Finish pads any partial final group with zeros and returns the two
// planes: control bytes and data bytes.
func (e *StreamVByteEncoder) Finish() (control, data []byte) {
	if e.count > 0 {
		for i := e.count; i < 4; i++ {
			e.pending[i] = 0
		}
		e.flushPending()
	}
	return e.control, e.data
}

// Reset clears the encoder for reuse.
func (e *StreamVByteEncoder) Reset() {
	e.control = e.control[:0]
	e.data = e.data[:0]
	e.count = 0
}

// lengthOf decodes the length (1..4) of value i (0..3 within a group)
// from a control byte.
func lengthOf(ctrl byte, i int) int {
	return int((ctrl>>(i*2))&0x3) + 1
}

// Decode decodes n uint32 values from the (control, data) planes produced
// by StreamVByteEncoder.
func Decode(control, data []byte, n int) []uint32 {
	out := make([]uint32, n)
	dataPos := 0
	for i := 0; i < n; i += 4 {
		ctrl := control[i/4]
		groupLen := min(4, n-i)
		for j := 0; j < groupLen; j++ {
			length := lengthOf(ctrl, j)
			var v uint32
			for b := 0; b < length; b++ {
				v |= uint32(data[dataPos+b]) << (8 * b)
			}
			out[i+j] = v
			dataPos += length
		}
	}
	return out
}

// DataLen returns the number of data-plane bytes encoded by control,
// covering n values. Useful for slicing a memory-mapped blob without
// fully decoding it first.
func DataLen(control []byte, n int) int {
	total := 0
	for i := 0; i < n; i += 4 {
		ctrl := control[i/4]
		groupLen := min(4, n-i)
		for j := 0; j < groupLen; j++ {
			total += lengthOf(ctrl, j)
		}
	}
	return total
}

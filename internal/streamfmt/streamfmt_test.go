package streamfmt

import (
	"encoding/binary"
	"testing"
)

func encodeHeader(h Header) []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Dim)
	binary.LittleEndian.PutUint32(b[4:8], h.ContextSize)
	binary.LittleEndian.PutUint32(b[8:12], h.VocabSize)
	b[12] = h.KeySize
	b[13] = h.WindowSize
	b[14] = h.QBit
	b[15] = h.QGroup
	binary.LittleEndian.PutUint32(b[16:20], h.NumNodes)
	binary.LittleEndian.PutUint64(b[20:28], h.NodeOffset)
	binary.LittleEndian.PutUint64(b[28:36], h.KeyOffset)
	binary.LittleEndian.PutUint64(b[36:44], h.ValueOffset)
	binary.LittleEndian.PutUint64(b[44:52], h.EmbOffset)
	return b
}

func TestParseHeaderRoundTrip(t *testing.T) {
	want := Header{
		Dim: 64, ContextSize: 10, VocabSize: 20,
		KeySize: 3, WindowSize: 7, QBit: 8, QGroup: 0,
		NumNodes: 5, NodeOffset: 48, KeyOffset: 60, ValueOffset: 80, EmbOffset: 100,
	}
	got, err := ParseHeader(encodeHeader(want))
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestParseHeaderShortBufferIsCorrupt(t *testing.T) {
	_, err := ParseHeader(make([]byte, HeaderSize-1))
	fe, ok := err.(*FormatError)
	if !ok || fe.Kind != "corrupt" {
		t.Fatalf("expected a corrupt FormatError, got %v", err)
	}
}

func TestParseHeaderRejectsUnsupportedWindowSize(t *testing.T) {
	h := Header{Dim: 8, KeySize: 2, WindowSize: 3, QBit: 0}
	_, err := ParseHeader(encodeHeader(h))
	fe, ok := err.(*FormatError)
	if !ok || fe.Kind != "unsupported" {
		t.Fatalf("expected an unsupported FormatError, got %v", err)
	}
}

func TestParseHeaderRejectsQGroupNotDividingDim(t *testing.T) {
	h := Header{Dim: 10, KeySize: 2, WindowSize: 0, QBit: 4, QGroup: 3}
	_, err := ParseHeader(encodeHeader(h))
	fe, ok := err.(*FormatError)
	if !ok || fe.Kind != "unsupported" {
		t.Fatalf("expected an unsupported FormatError, got %v", err)
	}
}

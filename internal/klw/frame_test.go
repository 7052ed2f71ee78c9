package klw

import (
	"bytes"
	"testing"
)

func longFrame(payload ...byte) []byte {
	f := append([]byte{}, longFrameMagic...)
	f = append(f, make([]byte, longFrameHeader-len(longFrameMagic)-1)...)
	f = append(f, byte(len(payload)))
	f = append(f, payload...)
	return append(f, 0xAA, 0xBB)
}

func TestSplitFrames(t *testing.T) {
	a := NewInstruction(243, 199, 1, 2, 5, 0, 1).Bytes()
	b := NewInstruction(243, 129, 1, 2, 130, 0, 0).Bytes()
	long := longFrame(1, 2, 3)

	tests := []struct {
		name         string
		in           []byte
		wantFrames   int
		wantLong     int
		wantConsumed int
	}{
		{"two short", append(append([]byte{}, a...), b...), 2, 0, 16},
		{"short with partial", append(append([]byte{}, a...), b[:5]...), 1, 0, 8},
		{"partial short", a[:7], 0, 0, 0},
		{"long then short", append(append([]byte{}, long...), a...), 2, 1, len(long) + 8},
		{"incomplete long header", long[:10], 0, 0, 0},
		{"incomplete long payload", long[:len(long)-1], 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, consumed := splitFrames(tt.in)
			if len(frames) != tt.wantFrames {
				t.Fatalf("got %d frames, want %d", len(frames), tt.wantFrames)
			}
			if consumed != tt.wantConsumed {
				t.Errorf("consumed = %d, want %d", consumed, tt.wantConsumed)
			}
			longs := 0
			for _, f := range frames {
				if f.long {
					longs++
				}
			}
			if longs != tt.wantLong {
				t.Errorf("long frames = %d, want %d", longs, tt.wantLong)
			}
		})
	}
}

func TestSplitFramesCopiesData(t *testing.T) {
	buf := NewInstruction(243, 199, 1, 2, 5, 0, 1).Bytes()
	frames, _ := splitFrames(buf)
	buf[0] = 0
	if !bytes.Equal(frames[0].data[:1], []byte{243}) {
		t.Error("frame shares memory with the receive buffer")
	}
}

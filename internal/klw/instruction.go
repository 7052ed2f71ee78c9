package klw

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// InstructionSize is the length of a short frame on the wire.
const InstructionSize = 8

// Instruction is the 8-byte protocol unit: seven semantic bytes D1..D7
// followed by the checksum D8.
//
// Instruction is a value type; once built it never changes. JSON encodes it
// as an array of eight numbers.
type Instruction [InstructionSize]byte

// Checksum computes D8 for the seven semantic bytes: Σ Di·(8−i) mod 256.
func Checksum(b []byte) byte {
	var sum int
	for i := 0; i < InstructionSize-1 && i < len(b); i++ {
		sum += int(b[i]) * (InstructionSize - i)
	}
	return byte(sum % 256)
}

// NewInstruction builds an instruction from up to seven semantic values.
// Missing values are zero and values outside 0–255 wrap; callers own the
// protocol ranges.
func NewInstruction(values ...int) Instruction {
	var ins Instruction
	for i := 0; i < InstructionSize-1 && i < len(values); i++ {
		ins[i] = byte(values[i])
	}
	ins[7] = Checksum(ins[:7])
	return ins
}

// ParseInstruction builds an instruction from its comma-separated decimal
// form, e.g. "243,154,1,2,3,0,0". An eighth value, if present, is ignored
// and recomputed.
func ParseInstruction(s string) (Instruction, error) {
	parts := strings.Split(s, ",")
	if len(parts) < InstructionSize-1 || len(parts) > InstructionSize {
		return Instruction{}, fmt.Errorf("%w: want 7 values, got %d", ErrInvalidInstruction, len(parts))
	}

	values := make([]int, 0, InstructionSize-1)
	for _, p := range parts[:InstructionSize-1] {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Instruction{}, fmt.Errorf("%w: %q: %w", ErrInvalidInstruction, p, err)
		}
		if v < 0 || v > 255 {
			return Instruction{}, fmt.Errorf("%w: byte %d out of range", ErrInvalidInstruction, v)
		}
		values = append(values, v)
	}
	return NewInstruction(values...), nil
}

// DecodeInstruction decodes a raw short frame and verifies its checksum.
func DecodeInstruction(frame []byte) (Instruction, error) {
	if len(frame) != InstructionSize {
		return Instruction{}, fmt.Errorf("%w: frame length %d", ErrInvalidInstruction, len(frame))
	}
	var ins Instruction
	copy(ins[:], frame)
	if want := Checksum(frame[:7]); ins[7] != want {
		return Instruction{}, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrChecksum, ins[7], want)
	}
	return ins, nil
}

func (i Instruction) D1() byte { return i[0] }
func (i Instruction) D2() byte { return i[1] }
func (i Instruction) D3() byte { return i[2] }
func (i Instruction) D4() byte { return i[3] }
func (i Instruction) D5() byte { return i[4] }
func (i Instruction) D6() byte { return i[5] }
func (i Instruction) D7() byte { return i[6] }
func (i Instruction) D8() byte { return i[7] }

// Bytes returns a copy of the wire encoding.
func (i Instruction) Bytes() []byte {
	b := make([]byte, InstructionSize)
	copy(b, i[:])
	return b
}

// UID joins the bytes at the given zero-based positions with "-".
func (i Instruction) UID(indices ...int) string {
	var sb strings.Builder
	for n, idx := range indices {
		if n > 0 {
			sb.WriteByte('-')
		}
		sb.WriteString(strconv.Itoa(int(i[idx])))
	}
	return sb.String()
}

// Equal reports whether both instructions carry the same bytes, skipping
// the positions listed in ignore.
func (i Instruction) Equal(o Instruction, ignore ...int) bool {
	for n := range i {
		if i[n] == o[n] || slices.Contains(ignore, n) {
			continue
		}
		return false
	}
	return true
}

// String renders the comma-separated decimal form including the checksum.
func (i Instruction) String() string {
	parts := make([]string, InstructionSize)
	for n, b := range i {
		parts[n] = strconv.Itoa(int(b))
	}
	return strings.Join(parts, ",")
}

// bit returns bit n (0 = least significant) of b.
func bit(b byte, n uint) int {
	return int(b>>n) & 1
}

// bitRange returns bits lo..hi of b as an integer.
func bitRange(b byte, lo, hi uint) int {
	return int(b>>lo) & (1<<(hi-lo+1) - 1)
}


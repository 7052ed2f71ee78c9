package klw

import "bytes"

// Wire framing constants.
const (
	// longFrameHeader is the fixed part of a long frame before its payload;
	// the payload length is the last header byte.
	longFrameHeader = 14

	// longFrameTrailer follows the payload.
	longFrameTrailer = 2

	// challengeFrameSize is the size of every challenge-login frame.
	challengeFrameSize = 37
)

var longFrameMagic = []byte{0x77, 0x55, 0x33, 0x11}

// frame is one complete unit cut from the receive stream.
type frame struct {
	long bool
	data []byte
}

// splitFrames cuts every complete frame from buf and reports how many bytes
// were consumed. Incomplete trailing bytes are left for the next read.
func splitFrames(buf []byte) (frames []frame, consumed int) {
	for {
		rest := buf[consumed:]
		if len(rest) >= len(longFrameMagic) && bytes.HasPrefix(rest, longFrameMagic) {
			if len(rest) < longFrameHeader {
				return frames, consumed
			}
			size := longFrameHeader + int(rest[longFrameHeader-1]) + longFrameTrailer
			if len(rest) < size {
				return frames, consumed
			}
			frames = append(frames, frame{long: true, data: bytes.Clone(rest[:size])})
			consumed += size
			continue
		}
		if len(rest) < InstructionSize {
			return frames, consumed
		}
		frames = append(frames, frame{data: bytes.Clone(rest[:InstructionSize])})
		consumed += InstructionSize
	}
}

package klw

import (
	"context"
	"fmt"
	"sync"
)

// Session is what a login handshake may do with the open connection.
type Session interface {
	// Enqueue places an instruction on the paced outbound queue.
	Enqueue(ins Instruction) error

	// WriteRaw writes bytes to the socket immediately, bypassing the queue.
	WriteRaw(b []byte) error
}

// Handshake is one login attempt on one connection.
type Handshake interface {
	// Begin runs once the socket is open.
	Begin(s Session) error

	// Intercept sees the receive buffer before framing while the session is
	// not authenticated. It returns the bytes it consumed; hold asks the
	// receiver to leave the rest unframed until more data arrives.
	Intercept(s Session, buf []byte) (consumed int, hold bool)

	// Feedback observes every short frame.
	Feedback(ins Instruction)

	// Wait blocks until the gateway accepts or rejects the login, or ctx ends.
	Wait(ctx context.Context) error
}

// LoginStrategy creates a handshake for each connection attempt.
type LoginStrategy interface {
	Name() string
	NewHandshake() Handshake
}

// PlainLogin authenticates by sending the gateway password as instructions.
type PlainLogin struct {
	Password string
}

// Name implements LoginStrategy.
func (PlainLogin) Name() string { return "plain" }

// NewHandshake implements LoginStrategy.
func (p PlainLogin) NewHandshake() Handshake {
	return &plainHandshake{password: p.Password, result: make(chan Instruction, 1)}
}

type plainHandshake struct {
	password string
	result   chan Instruction
}

func (h *plainHandshake) Begin(s Session) error {
	for _, ins := range PasswordInstructions(h.password) {
		if err := s.Enqueue(ins); err != nil {
			return fmt.Errorf("queue password: %w", err)
		}
	}
	return nil
}

func (h *plainHandshake) Intercept(Session, []byte) (int, bool) { return 0, false }

func (h *plainHandshake) Feedback(ins Instruction) {
	if ins.D1() != 243 || ins.D2() != 130 {
		return
	}
	select {
	case h.result <- ins:
	default:
	}
}

func (h *plainHandshake) Wait(ctx context.Context) error {
	select {
	case ins := <-h.result:
		for _, b := range ins[2:7] {
			if b != 0 {
				return fmt.Errorf("%w: password rejected (%s)", ErrLoginFailed, ins)
			}
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: no password feedback: %w", ErrLoginFailed, ctx.Err())
	}
}

// PasswordInstructions encodes a gateway password. Each character becomes
// its code minus 48, packed four per instruction and padded with 255. An
// all-255 terminator follows unless the last group already ends padded.
func PasswordInstructions(password string) []Instruction {
	digits := make([]int, 0, len(password))
	for _, r := range password {
		digits = append(digits, (int(r)-48)&0xFF)
	}

	groups := (len(digits) + 3) / 4
	out := make([]Instruction, 0, groups+1)
	for i := range groups {
		chunk := [4]int{255, 255, 255, 255}
		for j := range chunk {
			if k := i*4 + j; k < len(digits) {
				chunk[j] = digits[k]
			}
		}
		out = append(out, NewInstruction(243, 131, i+1, chunk[0], chunk[1], chunk[2], chunk[3]))
		if i == groups-1 && chunk != [4]int{255, 255, 255, 255} {
			out = append(out, NewInstruction(243, 131, i+2, 255, 255, 255, 255))
		}
	}
	return out
}

// ChallengeLogin authenticates with the gateway's challenge-response
// exchange, keyed by the integration code.
type ChallengeLogin struct {
	Code      string
	Direction CipherDirection
}

// Name implements LoginStrategy.
func (ChallengeLogin) Name() string { return "challenge" }

// NewHandshake implements LoginStrategy.
func (c ChallengeLogin) NewHandshake() Handshake {
	return &challengeHandshake{code: c.Code, dir: c.Direction, result: make(chan error, 1)}
}

// Challenge frame layout.
const (
	challengeSubtypeOffset = 4
	challengeDataOffset    = 21

	challengeRequest  = 0x01
	challengeResponse = 0x04
	challengeVerdict  = 0x05
)

type challengeHandshake struct {
	code string
	dir  CipherDirection

	once   sync.Once
	mu     sync.Mutex
	done   bool
	result chan error
}

func (h *challengeHandshake) Begin(Session) error { return nil }

func (h *challengeHandshake) Feedback(Instruction) {}

func (h *challengeHandshake) Intercept(s Session, buf []byte) (int, bool) {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	if done {
		return 0, false
	}
	if len(buf) < challengeFrameSize {
		return 0, true
	}

	msg := make([]byte, challengeFrameSize)
	copy(msg, buf)

	switch msg[challengeSubtypeOffset] {
	case challengeRequest:
		resp, err := AnswerChallenge(msg, h.dir, h.code)
		if err != nil {
			h.finish(fmt.Errorf("%w: %w", ErrLoginFailed, err))
			break
		}
		if err := s.WriteRaw(resp); err != nil {
			h.finish(fmt.Errorf("%w: send challenge answer: %w", ErrLoginFailed, err))
		}
	case challengeVerdict:
		if msg[challengeDataOffset] == 1 {
			h.finish(nil)
		} else {
			h.finish(fmt.Errorf("%w: gateway rejected code", ErrLoginFailed))
		}
	default:
		h.finish(fmt.Errorf("%w: %w: unexpected challenge sub-type 0x%02x",
			ErrLoginFailed, ErrProtocol, msg[challengeSubtypeOffset]))
	}

	h.mu.Lock()
	done = h.done
	h.mu.Unlock()
	return challengeFrameSize, !done
}

func (h *challengeHandshake) finish(err error) {
	h.once.Do(func() {
		h.mu.Lock()
		h.done = true
		h.mu.Unlock()
		h.result <- err
	})
}

func (h *challengeHandshake) Wait(ctx context.Context) error {
	select {
	case err := <-h.result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: no challenge verdict: %w", ErrLoginFailed, ctx.Err())
	}
}

// AnswerChallenge builds the reply to a 37-byte challenge request: the same
// frame with sub-type 4 and bytes 21..36 passed through the cipher.
func AnswerChallenge(req []byte, dir CipherDirection, code string) ([]byte, error) {
	if len(req) != challengeFrameSize {
		return nil, fmt.Errorf("%w: challenge frame is %d bytes", ErrProtocol, len(req))
	}
	out := make([]byte, challengeFrameSize)
	copy(out, req)
	sealed, err := transformChallenge(dir, code, req[challengeDataOffset:])
	if err != nil {
		return nil, err
	}
	out[challengeSubtypeOffset] = challengeResponse
	copy(out[challengeDataOffset:], sealed)
	return out, nil
}

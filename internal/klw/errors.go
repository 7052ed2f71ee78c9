package klw

import "errors"

// Domain errors for the KLW client package.
var (
	// ErrNotConnected is returned when an instruction is queued while no
	// gateway session is open.
	ErrNotConnected = errors.New("klw: not connected to gateway")

	// ErrConnectionFailed is returned when dialling the gateway fails.
	ErrConnectionFailed = errors.New("klw: connection to gateway failed")

	// ErrLoginFailed is returned when the gateway rejects the credentials
	// or the handshake does not complete in time.
	ErrLoginFailed = errors.New("klw: login failed")

	// ErrProtocol is returned for frames that violate the wire protocol.
	ErrProtocol = errors.New("klw: protocol error")

	// ErrChecksum is returned when a decoded instruction carries a bad checksum.
	ErrChecksum = errors.New("klw: checksum mismatch")

	// ErrInvalidInstruction is returned when an instruction cannot be parsed.
	ErrInvalidInstruction = errors.New("klw: invalid instruction")

	// ErrQueueFull is returned when the outbound queue cannot accept more
	// instructions.
	ErrQueueFull = errors.New("klw: outbound queue full")

	// ErrGatewaySilent tears a session down when nothing arrives for three
	// heartbeat intervals.
	ErrGatewaySilent = errors.New("klw: gateway stopped responding")

	// ErrUnknownAction is returned for control actions with no encoding.
	ErrUnknownAction = errors.New("klw: unknown control action")

	// ErrInvalidValue is returned when a control item carries a missing or
	// unusable value.
	ErrInvalidValue = errors.New("klw: invalid control value")

	// ErrClosed is returned by operations on a stopped client.
	ErrClosed = errors.New("klw: client closed")
)

package bridge

import "errors"

var (
	// ErrMissingDependency is returned by New when a required option is nil.
	ErrMissingDependency = errors.New("bridge: missing dependency")

	// ErrInvalidCommand is returned for command messages without an
	// action or without targets.
	ErrInvalidCommand = errors.New("bridge: invalid command")
)

// Package klw implements a client for the KLW IOT home-automation bus.
//
// A KLW gateway exposes the bus over TCP as a stream of 8-byte instructions
// (seven semantic bytes and a checksum), interleaved with occasional long
// frames. This package keeps a session to the gateway alive, rebuilds a live
// model of every device on the bus from the instructions it observes, and
// encodes control actions back into instructions.
//
// # Architecture
//
//	┌────────────┐  events   ┌──────────────────────────────────────┐   TCP
//	│  platform  │◄──────────│ Client                               │◄────────► gateway
//	│  (bridge)  │──────────►│  framing → router → buffers → engine │
//	└────────────┘  Control  │  bucket ◄──────────────┘             │
//	                         └──────────────────────────────────────┘
//
// # Key Types
//
//   - Instruction: the immutable 8-byte wire unit.
//   - Buffer: per-category dedup map that emits add/change notifications.
//   - Engine: classifies an instruction into a Detail and merges it with
//     the previously known state.
//   - Bucket: composite-keyed map of device Records with asynchronous
//     persistence through a Store.
//   - Client: connection manager (login strategies, heartbeat, paced sender,
//     reconnect supervisor).
//   - Controller: named control actions to instructions.
//   - Notifier: lifecycle and device-change subscriptions.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package klw

package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "klwiot"

// Topics builds the bridge's MQTT topics under a configurable prefix.
//
// All gateway topics share the scheme {prefix}/{gateway}/{kind}[/...]:
//
//	topics := mqtt.NewTopics("klwiot")
//	topics.DeviceState("villa", "villa.243-199-1-2-5.3")
//	// Returns: "klwiot/villa/device/villa.243-199-1-2-5.3/state"
type Topics struct {
	Prefix string
}

// NewTopics trims surrounding slashes from prefix and falls back to
// DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// BridgeStatus is the retained online/offline topic of one bridge process,
// also used as its Last Will.
//
// Example: klwiot/bridge/klwbridge/status
func (t Topics) BridgeStatus(clientID string) string {
	return fmt.Sprintf("%s/bridge/%s/status", t.prefix(), clientID)
}

// DeviceState is the retained state topic of one device record.
//
// Example: klwiot/villa/device/villa.243-199-1-2-5.3/state
func (t Topics) DeviceState(gateway, oid string) string {
	return fmt.Sprintf("%s/%s/device/%s/state", t.prefix(), gateway, oid)
}

// Event carries gateway lifecycle events (login, connection state).
//
// Example: klwiot/villa/event/connection_state_changed
func (t Topics) Event(gateway, eventType string) string {
	return fmt.Sprintf("%s/%s/event/%s", t.prefix(), gateway, eventType)
}

// Command receives control requests for a gateway.
//
// Example: klwiot/villa/command
func (t Topics) Command(gateway string) string {
	return fmt.Sprintf("%s/%s/command", t.prefix(), gateway)
}

// Ack carries command acknowledgements.
//
// Example: klwiot/villa/ack
func (t Topics) Ack(gateway string) string {
	return fmt.Sprintf("%s/%s/ack", t.prefix(), gateway)
}

// Health is the periodic health report of a gateway session.
//
// Example: klwiot/villa/health
func (t Topics) Health(gateway string) string {
	return fmt.Sprintf("%s/%s/health", t.prefix(), gateway)
}

// AllDeviceStates matches every device state of a gateway.
//
// Pattern: klwiot/villa/device/+/state
func (t Topics) AllDeviceStates(gateway string) string {
	return fmt.Sprintf("%s/%s/device/+/state", t.prefix(), gateway)
}

// AllCommands matches the command topic of every gateway.
//
// Pattern: klwiot/+/command
func (t Topics) AllCommands() string {
	return fmt.Sprintf("%s/+/command", t.prefix())
}

// All matches every topic under the prefix.
// Use with caution - this receives ALL traffic.
//
// Pattern: klwiot/#
func (t Topics) All() string {
	return t.prefix() + "/#"
}

// GatewayFromTopic returns the gateway segment of a topic built by Topics,
// or "" when topic does not start with the prefix.
func (t Topics) GatewayFromTopic(topic string) string {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/")
	if !ok {
		return ""
	}
	gateway, _, _ := strings.Cut(rest, "/")
	return gateway
}

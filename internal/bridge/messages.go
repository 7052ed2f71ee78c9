package bridge

import (
	"time"

	"github.com/google/uuid"

	"github.com/yarin-zhang/ha-cleveroom-home/internal/klw"
)

// CommandMessage asks the bridge to run one controller action.
// Topic: {prefix}/{gateway}/command
type CommandMessage struct {
	// ID correlates the ack. Generated when empty.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// Action is a controller action name, e.g. "DeviceOn" or "SetBrightness".
	Action klw.Action `json:"action"`

	// Items are the targets: {"oid": "...", "value": ...}.
	Items []klw.Item `json:"items"`

	// Source indicates where the command originated (e.g. "homeassistant").
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted means at least one instruction was queued to the gateway.
	AckAccepted AckStatus = "accepted"

	// AckFailed means nothing was queued.
	AckFailed AckStatus = "failed"
)

// Error codes for command failures.
const (
	ErrCodeInvalidCommand = "INVALID_COMMAND"
	ErrCodeGatewayOffline = "GATEWAY_OFFLINE"
	ErrCodeNothingQueued  = "NOTHING_QUEUED"
)

// AckMessage answers a command.
// Topic: {prefix}/{gateway}/ack
type AckMessage struct {
	CommandID string     `json:"command_id"`
	Timestamp time.Time  `json:"timestamp"`
	Gateway   string     `json:"gateway"`
	Action    klw.Action `json:"action,omitempty"`
	Status    AckStatus  `json:"status"`

	// Queued is the number of instructions handed to the gateway.
	Queued int `json:"queued"`

	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StateMessage is the retained state of one device record.
// Topic: {prefix}/{gateway}/device/{oid}/state
type StateMessage struct {
	OID       string      `json:"oid"`
	NID       string      `json:"nid"`
	UID       string      `json:"uid"`
	Kind      string      `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
	Detail    *klw.Detail `json:"detail"`
}

// EventMessage reports a session lifecycle event.
// Topic: {prefix}/{gateway}/event/{type}
type EventMessage struct {
	Type      klw.EventType `json:"type"`
	Gateway   string        `json:"gateway"`
	Timestamp time.Time     `json:"timestamp"`
	State     string        `json:"state,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge and its gateway session.
// Topic: {prefix}/{gateway}/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Gateway        string             `json:"gateway"`
	Timestamp      time.Time          `json:"timestamp"`
	Status         HealthStatus       `json:"status"`
	Version        string             `json:"version"`
	UptimeSeconds  int64              `json:"uptime_seconds"`
	Connection     *ConnectionStatus  `json:"connection,omitempty"`
	Statistics     *SessionStatistics `json:"statistics,omitempty"`
	DevicesManaged int                `json:"devices_managed"`
	Reason         string             `json:"reason,omitempty"`
}

// ConnectionStatus describes the gateway session.
type ConnectionStatus struct {
	State        string     `json:"state"`
	Address      string     `json:"address"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// SessionStatistics mirrors klw.Stats.
type SessionStatistics struct {
	FramesReceived uint64 `json:"frames_received"`
	FramesSent     uint64 `json:"frames_sent"`
	FramesDropped  uint64 `json:"frames_dropped"`
	EventsDropped  uint64 `json:"events_dropped"`
	Errors         uint64 `json:"errors"`
	Reconnects     uint64 `json:"reconnects"`
}

// NewAckMessage creates a success acknowledgment.
func NewAckMessage(gateway string, cmd CommandMessage, queued int) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Gateway:   gateway,
		Action:    cmd.Action,
		Status:    AckAccepted,
		Queued:    queued,
	}
}

// NewAckError creates a failure acknowledgment.
func NewAckError(gateway string, cmd CommandMessage, code, message string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Gateway:   gateway,
		Action:    cmd.Action,
		Status:    AckFailed,
		Error:     &AckError{Code: code, Message: message},
	}
}

// NewStateMessage creates a state message for rec.
func NewStateMessage(rec klw.Record) StateMessage {
	msg := StateMessage{
		OID:       rec.OID,
		NID:       rec.NID,
		UID:       rec.UID,
		Timestamp: time.Now().UTC(),
		Detail:    rec.Detail,
	}
	if rec.Detail != nil {
		msg.Kind = rec.Detail.Kind.String()
		if rec.Detail.Timestamp > 0 {
			msg.Timestamp = time.UnixMilli(rec.Detail.Timestamp).UTC()
		}
	}
	return msg
}

// NewEventMessage creates an event message for a lifecycle event.
func NewEventMessage(gateway string, ev klw.Event) EventMessage {
	msg := EventMessage{
		Type:      ev.Type,
		Gateway:   gateway,
		Timestamp: time.Now().UTC(),
	}
	if ev.Type == klw.EventConnectionState {
		msg.State = ev.State.String()
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	return msg
}

// NewHealthMessage builds a health report from session statistics.
func NewHealthMessage(gateway, version, address string, status HealthStatus, stats klw.Stats, devices int, startTime time.Time) HealthMessage {
	conn := &ConnectionStatus{
		State:   stats.State.String(),
		Address: address,
	}
	if !stats.LastActivity.IsZero() {
		last := stats.LastActivity.UTC()
		conn.LastActivity = &last
	}

	return HealthMessage{
		Gateway:       gateway,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Connection:    conn,
		Statistics: &SessionStatistics{
			FramesReceived: stats.FramesRx,
			FramesSent:     stats.FramesTx,
			FramesDropped:  stats.FramesDropped,
			EventsDropped:  stats.EventsDropped,
			Errors:         stats.ErrorsTotal,
			Reconnects:     stats.ReconnectsTotal,
		},
		DevicesManaged: devices,
	}
}

// ensureID assigns a random command id when the sender left it empty.
func (m *CommandMessage) ensureID() {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
}

package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/yarin-zhang/ha-cleveroom-home/internal/infrastructure/config"
)

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("klwiot")
	oid := "villa.243-199-1-2-5.3"

	tests := []struct {
		name, got, want string
	}{
		{"BridgeStatus", topics.BridgeStatus("klwbridge"), "klwiot/bridge/klwbridge/status"},
		{"DeviceState", topics.DeviceState("villa", oid), "klwiot/villa/device/villa.243-199-1-2-5.3/state"},
		{"Event", topics.Event("villa", "login_success"), "klwiot/villa/event/login_success"},
		{"Command", topics.Command("villa"), "klwiot/villa/command"},
		{"Ack", topics.Ack("villa"), "klwiot/villa/ack"},
		{"Health", topics.Health("villa"), "klwiot/villa/health"},
		{"AllDeviceStates", topics.AllDeviceStates("villa"), "klwiot/villa/device/+/state"},
		{"AllCommands", topics.AllCommands(), "klwiot/+/command"},
		{"All", topics.All(), "klwiot/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestNewTopicsPrefix(t *testing.T) {
	tests := []struct {
		prefix, want string
	}{
		{"home/klw", "home/klw/villa/command"},
		{"/home/klw/", "home/klw/villa/command"},
		{"", "klwiot/villa/command"},
		{"/", "klwiot/villa/command"},
	}
	for _, tt := range tests {
		if got := NewTopics(tt.prefix).Command("villa"); got != tt.want {
			t.Errorf("NewTopics(%q).Command() = %q, want %q", tt.prefix, got, tt.want)
		}
	}

	if got := (Topics{}).Health("villa"); got != "klwiot/villa/health" {
		t.Errorf("zero Topics Health() = %q", got)
	}
}

func TestGatewayFromTopic(t *testing.T) {
	topics := NewTopics("home/klw")
	tests := []struct {
		topic, want string
	}{
		{"home/klw/villa/command", "villa"},
		{"home/klw/office/device/x/state", "office"},
		{"klwiot/villa/command", ""},
		{"home/klw", ""},
	}
	for _, tt := range tests {
		if got := topics.GatewayFromTopic(tt.topic); got != tt.want {
			t.Errorf("GatewayFromTopic(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker:    config.MQTTBrokerConfig{Host: "broker.local", Port: 8883, TLS: true, ClientID: "klw-test"},
		Auth:      config.MQTTAuthConfig{Username: "user", Password: "pass"},
		Reconnect: config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 30},
	}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://broker.local:8883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "klw-test" || opts.Username != "user" || opts.Password != "pass" {
		t.Errorf("identity = %q %q %q", opts.ClientID, opts.Username, opts.Password)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Errorf("TLSConfig = %+v", opts.TLSConfig)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("expected auto reconnect and clean session")
	}

	cfg.Broker.TLS = false
	cfg.Auth.Username = ""
	opts = buildClientOptions(cfg)
	if opts.Servers[0].Scheme != "tcp" || opts.Username != "" {
		t.Errorf("plain options = %v %q", opts.Servers[0], opts.Username)
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(config.MQTTConfig{Broker: config.MQTTBrokerConfig{Host: "h", Port: 1883}})
	configureLWT(opts, NewTopics("home/klw"), "bridge-1")

	if !opts.WillEnabled || opts.WillTopic != "home/klw/bridge/bridge-1/status" {
		t.Fatalf("will = %v %q", opts.WillEnabled, opts.WillTopic)
	}
	if !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will retained=%v qos=%d", opts.WillRetained, opts.WillQos)
	}

	var msg StatusMessage
	if err := json.Unmarshal(opts.WillPayload, &msg); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if msg.Status != StatusOffline || msg.Reason != "unexpected_disconnect" || msg.ClientID != "bridge-1" {
		t.Errorf("will message = %+v", msg)
	}
}

func TestStatusPayloads(t *testing.T) {
	var online StatusMessage
	if err := json.Unmarshal([]byte(buildOnlinePayload(`a"b`)), &online); err != nil {
		t.Fatalf("online payload: %v", err)
	}
	if online.Status != StatusOnline || online.ClientID != `a"b` || online.Timestamp == "" {
		t.Errorf("online = %+v", online)
	}
	if strings.Contains(buildOnlinePayload("x"), "reason") {
		t.Error("online payload should omit reason")
	}
}

func TestValidationWithoutConnection(t *testing.T) {
	c := &Client{subs: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"publish empty topic", c.Publish("", nil, 1, false), ErrInvalidTopic},
		{"publish bad qos", c.Publish("t", nil, 3, false), ErrInvalidQoS},
		{"publish too large", c.Publish("t", make([]byte, maxPayloadSize+1), 0, false), ErrPublishFailed},
		{"publish disconnected", c.Publish("t", []byte("x"), 1, false), ErrNotConnected},
		{"subscribe empty topic", c.Subscribe("", 1, noop), ErrInvalidTopic},
		{"subscribe bad qos", c.Subscribe("t", 5, noop), ErrInvalidQoS},
		{"subscribe nil handler", c.Subscribe("t", 1, nil), ErrSubscribeFailed},
		{"subscribe disconnected", c.Subscribe("t", 1, noop), ErrNotConnected},
		{"unsubscribe empty", c.Unsubscribe(""), ErrInvalidTopic},
		{"unsubscribe disconnected", c.Unsubscribe("t"), ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("error = %v, want %v", tt.err, tt.want)
			}
		})
	}

	if len(c.Subscriptions()) != 0 {
		t.Error("failed subscriptions must not be tracked")
	}
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() on unconnected client = %v", err)
	}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestWrapHandler(t *testing.T) {
	c := &Client{}
	logger := &recordingLogger{}
	c.SetLogger(logger)

	var got string
	c.wrapHandler(func(topic string, payload []byte) error {
		got = topic + "=" + string(payload)
		return nil
	})(nil, fakeMessage{topic: "klwiot/villa/command", payload: []byte("{}")})
	if got != "klwiot/villa/command={}" {
		t.Errorf("handler saw %q", got)
	}

	c.wrapHandler(func(string, []byte) error { return errors.New("bad json") })(nil, fakeMessage{topic: "t"})
	c.wrapHandler(func(string, []byte) error { panic("boom") })(nil, fakeMessage{topic: "t"})

	if len(logger.warns) != 1 || len(logger.errors) != 1 {
		t.Errorf("warns=%v errors=%v", logger.warns, logger.errors)
	}

	c.SetLogger(nil)
	c.wrapHandler(func(string, []byte) error { panic("silent") })(nil, fakeMessage{topic: "t"})
}

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

// fakePaho records publishes; every other pahomqtt.Client method is unused.
type fakePaho struct {
	pahomqtt.Client

	mu        sync.Mutex
	published []fakeMessage
	retained  []bool
}

func (f *fakePaho) IsConnected() bool { return true }
func (f *fakePaho) Disconnect(uint)   {}
func (f *fakePaho) Publish(topic string, _ byte, retained bool, payload any) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, fakeMessage{topic: topic, payload: payload.([]byte)})
	f.retained = append(f.retained, retained)
	return doneToken{}
}

func TestBridgeStatusPublishedOnConnectAndClose(t *testing.T) {
	raw := &fakePaho{}
	c := &Client{
		raw:    raw,
		cfg:    config.MQTTConfig{QoS: 1, Broker: config.MQTTBrokerConfig{ClientID: "bridge-1"}},
		topics: NewTopics("klwiot"),
		subs:   make(map[string]subscription),
	}

	var reconnected bool
	c.SetOnConnect(func() { reconnected = true })
	c.handleConnect()
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if len(raw.published) != 2 || !reconnected {
		t.Fatalf("published %d messages, onConnect=%v", len(raw.published), reconnected)
	}
	for i, want := range []StatusMessage{
		{Status: StatusOnline, ClientID: "bridge-1"},
		{Status: StatusOffline, ClientID: "bridge-1", Reason: "graceful_shutdown"},
	} {
		msg := raw.published[i]
		if msg.topic != "klwiot/bridge/bridge-1/status" || !raw.retained[i] {
			t.Errorf("message %d on %q retained=%v", i, msg.topic, raw.retained[i])
		}
		var got StatusMessage
		if err := json.Unmarshal(msg.payload, &got); err != nil {
			t.Fatalf("message %d payload: %v", i, err)
		}
		if got.Status != want.Status || got.Reason != want.Reason || got.ClientID != want.ClientID {
			t.Errorf("message %d = %+v, want %+v", i, got, want)
		}
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}

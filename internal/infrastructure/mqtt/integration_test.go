//go:build integration

package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/yarin-zhang/ha-cleveroom-home/internal/infrastructure/config"
)

// Integration tests against a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS:         1,
		TopicPrefix: "klwiot-int",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestIntegration_ConnectPublishesOnlineStatus(t *testing.T) {
	watcher, err := Connect(integrationConfig("klw-int-watcher"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer watcher.Close()

	statuses := make(chan StatusMessage, 4)
	topic := watcher.Topics().BridgeStatus("klw-int-bridge")
	if err := watcher.Subscribe(topic, 1, func(_ string, payload []byte) error {
		var msg StatusMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return err
		}
		statuses <- msg
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	bridge, err := Connect(integrationConfig("klw-int-bridge"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	waitStatus := func(want string) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case msg := <-statuses:
				if msg.Status == want {
					return
				}
			case <-deadline:
				t.Fatalf("no %s status received", want)
			}
		}
	}

	waitStatus(StatusOnline)
	bridge.Close()
	waitStatus(StatusOffline)
}

func TestIntegration_MessageRoundtrip(t *testing.T) {
	pub, err := Connect(integrationConfig("klw-int-pub"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer pub.Close()

	sub, err := Connect(integrationConfig("klw-int-sub"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sub.Close()

	received := make(chan string, 1)
	if err := sub.Subscribe(sub.Topics().AllCommands(), 1, func(topic string, payload []byte) error {
		received <- sub.Topics().GatewayFromTopic(topic) + ":" + string(payload)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if got := sub.Subscriptions(); len(got) != 1 || got[0] != sub.Topics().AllCommands() {
		t.Error("subscription not tracked")
	}

	time.Sleep(100 * time.Millisecond)

	if err := pub.Publish(pub.Topics().Command("villa"), []byte(`{"action":"DeviceOn"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg != `villa:{"action":"DeviceOn"}` {
			t.Errorf("received %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for message")
	}

	if err := sub.Unsubscribe(sub.Topics().AllCommands()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if len(sub.Subscriptions()) != 0 {
		t.Error("subscription still tracked after Unsubscribe")
	}
}

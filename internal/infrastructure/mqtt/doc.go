// Package mqtt provides MQTT client connectivity for the KLW bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - The topic scheme shared by the bridge and its consumers
//
// # Topics
//
// Every topic lives under a configurable prefix (default "klwiot"):
//
//	{prefix}/bridge/{client_id}/status      retained online/offline, LWT
//	{prefix}/{gateway}/device/{oid}/state   retained device record
//	{prefix}/{gateway}/event/{type}         login and connection events
//	{prefix}/{gateway}/command              control requests
//	{prefix}/{gateway}/ack                  command acknowledgements
//	{prefix}/{gateway}/health               periodic session health
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS) when the broker is not on the same host
//   - The command topic drives real devices; restrict it with broker ACLs
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().Command("villa"), 1,
//	    func(topic string, payload []byte) error {
//	        return handleCommand(payload)
//	    })
package mqtt

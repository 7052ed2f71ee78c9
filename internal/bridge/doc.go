// Package bridge connects a KLW gateway session to MQTT and InfluxDB.
//
// It subscribes to the session's notifier and publishes:
//   - a retained state message per device record on every change
//   - login and connection events
//   - a retained health report on a fixed interval
//
// It consumes command messages from the gateway's command topic, runs
// them through the session's controller and answers with an ack that
// carries the command id (generated when the sender left it empty).
//
// When a Recorder is configured every device change and every health
// tick is also written as a time-series point.
//
//	b, err := bridge.New(bridge.Options{
//	    GatewayID: "villa",
//	    Topics:    mqttClient.Topics(),
//	    MQTT:      mqttClient,
//	    Gateway:   klwClient,
//	    Recorder:  influxClient,
//	    Logger:    logger.Component("bridge"),
//	})
//	if err := b.Start(ctx); err != nil {
//	    return err
//	}
//	defer b.Stop()
package bridge

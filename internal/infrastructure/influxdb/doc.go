// Package influxdb records KLW device history in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring. The
// bridge writes one klw_device point per device change (on/off, light
// gear, climate temperatures, sensor values) and a klw_gateway point with
// session counters on every health tick.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDevice(influxdb.DevicePoint{Gateway: "villa", OID: oid, Kind: "sensor",
//	    Fields: map[string]any{"value": 21.5}})
//
// # Error Handling
//
// Writes are non-blocking; batch errors are delivered to the SetOnError
// callback. Connection and health check errors are returned directly.
package influxdb

package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementDevice  = "klw_device"
	MeasurementGateway = "klw_gateway"
)

// DevicePoint is one observation of a device record.
//
// Tags stay low cardinality: gateway, oid, kind and the location names.
// Fields carry the numeric state (on, gear, temp, value...).
type DevicePoint struct {
	Gateway string
	OID     string
	Kind    string
	Floor   string
	Room    string
	Name    string
	Fields  map[string]any
	Time    time.Time
}

func (p DevicePoint) tags() map[string]string {
	tags := map[string]string{
		"gateway": p.Gateway,
		"oid":     p.OID,
		"kind":    p.Kind,
	}
	for k, v := range map[string]string{"floor": p.Floor, "room": p.Room, "name": p.Name} {
		if v != "" {
			tags[k] = v
		}
	}
	return tags
}

// WriteDevice records a device state observation. Points without fields
// are skipped. The write is non-blocking; data is batched and sent
// asynchronously.
//
// Example:
//
//	client.WriteDevice(influxdb.DevicePoint{
//	    Gateway: "villa",
//	    OID:     "villa.243-199-1-2-5.3",
//	    Kind:    "switch",
//	    Fields:  map[string]any{"on": true},
//	})
func (c *Client) WriteDevice(p DevicePoint) {
	if len(p.Fields) == 0 {
		return
	}
	ts := p.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	c.WritePointWithTime(MeasurementDevice, p.tags(), p.Fields, ts)
}

// WriteGatewayStats records session counters of one gateway.
func (c *Client) WriteGatewayStats(gateway string, fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	c.WritePoint(MeasurementGateway, map[string]string{"gateway": gateway}, fields)
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}

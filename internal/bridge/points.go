package bridge

import (
	"time"

	"github.com/yarin-zhang/ha-cleveroom-home/internal/infrastructure/influxdb"
	"github.com/yarin-zhang/ha-cleveroom-home/internal/klw"
)

// devicePoint flattens the numeric parts of a record's detail into a
// time-series point. Labels and names stay out of the fields.
func devicePoint(gateway string, rec klw.Record) influxdb.DevicePoint {
	p := influxdb.DevicePoint{
		Gateway: gateway,
		OID:     rec.OID,
		Fields:  make(map[string]any),
	}
	d := rec.Detail
	if d == nil {
		return p
	}

	p.Kind = d.Kind.String()
	p.Floor, p.Room, p.Name = d.FloorName, d.RoomName, d.DeviceName
	if d.Timestamp > 0 {
		p.Time = time.UnixMilli(d.Timestamp)
	}

	f := p.Fields
	if d.On != nil {
		f["on"] = *d.On
	}
	if l := d.Light; l != nil {
		putInt(f, "gear", l.Gear)
		putInt(f, "warm", l.Warm)
	}
	if c := d.Climate; c != nil {
		putInt(f, "temp", c.Temp)
		putInt(f, "mode", c.Mode)
		putInt(f, "speed", c.Speed)
		putFloat(f, "ambient_temp", c.AmbientTemp)
		putFloat(f, "ambient_hum", c.AmbientHum)
	}
	if c := d.Curtain; c != nil {
		putInt(f, "scale", c.Scale)
	}
	if a := d.FreshAir; a != nil {
		putInt(f, "speed", a.Speed)
	}
	if m := d.Music; m != nil {
		putInt(f, "volume", m.Volume)
		putInt(f, "channel", m.Channel)
		putFloat(f, "fm", m.FM)
	}
	if s := d.Sensor; s != nil {
		putFloat(f, "value", s.Value)
	}
	if s := d.Security; s != nil {
		putInt(f, "security", s.State)
	}
	return p
}

func putInt(fields map[string]any, key string, v *int) {
	if v != nil {
		fields[key] = int64(*v)
	}
}

func putFloat(fields map[string]any, key string, v *float64) {
	if v != nil {
		fields[key] = *v
	}
}

// statsFields is the gateway point written on every health tick.
func statsFields(stats klw.Stats, devices int) map[string]any {
	return map[string]any{
		"frames_rx":      int64(stats.FramesRx),
		"frames_tx":      int64(stats.FramesTx),
		"frames_dropped": int64(stats.FramesDropped),
		"events_dropped": int64(stats.EventsDropped),
		"errors":         int64(stats.ErrorsTotal),
		"reconnects":     int64(stats.ReconnectsTotal),
		"authenticated":  stats.State == klw.StateAuthenticated,
		"devices":        int64(devices),
	}
}

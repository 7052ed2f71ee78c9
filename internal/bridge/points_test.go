package bridge

import (
	"testing"

	"github.com/yarin-zhang/ha-cleveroom-home/internal/klw"
)

func ptr[T any](v T) *T { return &v }

func TestDevicePoint(t *testing.T) {
	tests := []struct {
		name   string
		detail *klw.Detail
		want   map[string]any
	}{
		{
			name:   "no detail",
			detail: nil,
			want:   map[string]any{},
		},
		{
			name: "adjustable light",
			detail: &klw.Detail{Kind: klw.KindAdjustLight, On: ptr(true),
				Light: &klw.LightState{Gear: ptr(60)}},
			want: map[string]any{"on": true, "gear": int64(60)},
		},
		{
			name: "air condition",
			detail: &klw.Detail{Kind: klw.KindAirCondition,
				Climate: &klw.ClimateState{Temp: ptr(24), Mode: ptr(1), AmbientTemp: ptr(26.5)}},
			want: map[string]any{"temp": int64(24), "mode": int64(1), "ambient_temp": 26.5},
		},
		{
			name: "sensor",
			detail: &klw.Detail{Kind: klw.KindSensor,
				Sensor: &klw.SensorState{Value: ptr(412.0), Unit: ptr("ppm")}},
			want: map[string]any{"value": 412.0},
		},
		{
			name: "music",
			detail: &klw.Detail{Kind: klw.KindMusicPlayer,
				Music: &klw.MusicState{Volume: ptr(12), FM: ptr(97.4)}},
			want: map[string]any{"volume": int64(12), "fm": 97.4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := devicePoint("villa", klw.Record{OID: "villa.x.1", Detail: tt.detail})
			if p.Gateway != "villa" || p.OID != "villa.x.1" {
				t.Errorf("point identity = %q %q", p.Gateway, p.OID)
			}
			if len(p.Fields) != len(tt.want) {
				t.Fatalf("fields = %v, want %v", p.Fields, tt.want)
			}
			for k, v := range tt.want {
				if p.Fields[k] != v {
					t.Errorf("field %s = %v (%T), want %v (%T)", k, p.Fields[k], p.Fields[k], v, v)
				}
			}
		})
	}
}

func TestStatsFields(t *testing.T) {
	f := statsFields(klw.Stats{FramesRx: 3, ReconnectsTotal: 2, State: klw.StateAuthenticated}, 7)
	if f["frames_rx"] != int64(3) || f["reconnects"] != int64(2) || f["devices"] != int64(7) || f["authenticated"] != true {
		t.Errorf("stats fields = %v", f)
	}
}

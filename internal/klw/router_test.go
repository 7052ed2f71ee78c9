package klw

import "testing"

func TestRouterRoutes(t *testing.T) {
	tests := []struct {
		name   string
		ins    Instruction
		buffer func(*Buffers) *Buffer
		uid    string
	}{
		{"device", NewInstruction(243, 199, 1, 2, 5, 0, 1), func(b *Buffers) *Buffer { return b.Device }, "243-199-1-2-5"},
		{"scene", NewInstruction(243, 129, 1, 2, 130, 0, 0), func(b *Buffers) *Buffer { return b.Scene }, "243-129-1-2-130"},
		{"temperature", NewInstruction(243, 198, 1, 2, 20, 20, 0), func(b *Buffers) *Buffer { return b.Sensor }, "243-198-1-2-20"},
		{"dry contact", NewInstruction(243, 198, 1, 2, 9, 5, 255), func(b *Buffers) *Buffer { return b.SensorEx }, "243-198-1-2-5"},
		{"security", NewInstruction(243, 191, 0, 0, 0, 0, 0), func(b *Buffers) *Buffer { return b.Security }, "243"},
		{"volume", NewInstruction(243, 102, 1, 2, 3, 20, 17), func(b *Buffers) *Buffer { return b.Volume }, "243-102-1-2-3"},
		{"fm", NewInstruction(243, 202, 1, 2, 3, 11, 200), func(b *Buffers) *Buffer { return b.FM }, "243-202-1-2-3"},
		{"password", NewInstruction(243, 130, 0, 0, 0, 0, 0), func(b *Buffers) *Buffer { return b.Password }, "243-130"},
		{"time", NewInstruction(243, 205, 1, 2, 3, 4, 5), func(b *Buffers) *Buffer { return b.Time }, "243-205"},
		{"rgb fragment", NewInstruction(250, 1, 2, 5, 255, 0, 0), func(b *Buffers) *Buffer { return b.RGB }, "243-199-1-2-5"},
		{"version", NewInstruction(62, 1, 0, 0, 0, 2, 0), func(b *Buffers) *Buffer { return b.Version }, "62-1-0-0-0-2-0"},
		{"gateway", NewInstruction(62, 1, 0, 0, 0, 3, 0), func(b *Buffers) *Buffer { return b.Gateway }, "62-1-0-0-0-3-0"},
		{"clock", NewInstruction(35, 1, 2, 3, 4, 5, 6), func(b *Buffers) *Buffer { return b.Clock }, "35-1-2-3-4-5-6"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuffers(nil)
			r := &router{buffers: b}
			if !r.route(tt.ins) {
				t.Fatalf("route(%v) = false", tt.ins)
			}
			if _, ok := tt.buffer(b).Get(tt.uid); !ok {
				t.Errorf("uid %q not stored; have %v", tt.uid, tt.buffer(b).Snapshot())
			}
		})
	}
}

func TestRouterRejects(t *testing.T) {
	tests := []struct {
		name string
		ins  Instruction
	}{
		{"unknown D1", NewInstruction(1, 199, 1, 2, 5, 0, 1)},
		{"device out of range", NewInstruction(243, 199, 1, 2, 40, 0, 1)},
		{"invalid room", NewInstruction(243, 199, 1, 35, 5, 0, 1)},
		{"invalid floor", NewInstruction(243, 199, 100, 2, 5, 0, 1)},
		{"unpaired floor", NewInstruction(243, 199, 1, 0, 5, 0, 1)},
		{"stop scene hidden", NewInstruction(243, 129, 1, 2, 10, 0, 0)},
		{"empty infrared", NewInstruction(243, 200, 1, 2, 5, 0, 0)},
		{"unknown sensor id", NewInstruction(243, 198, 1, 2, 0, 30, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuffers(nil)
			r := &router{buffers: b}
			if r.route(tt.ins) {
				t.Errorf("route(%v) = true, want false", tt.ins)
			}
		})
	}
}

func TestRouterShowStopScene(t *testing.T) {
	b := NewBuffers(nil)
	r := &router{buffers: b, showStopScene: true}
	if !r.route(NewInstruction(243, 129, 1, 2, 10, 0, 0)) {
		t.Error("stop scene not routed with showStopScene")
	}
	if !r.route(NewInstruction(243, 129, 1, 2, 140, 0, 0)) {
		t.Error("regular scene not routed with showStopScene")
	}
}

func TestRouterInfraredIndex(t *testing.T) {
	b := NewBuffers(nil)
	r := &router{buffers: b}

	if !r.route(NewInstruction(243, 200, 1, 2, 5, 1, 0)) {
		t.Fatal("first infrared frame not routed")
	}
	if _, ok := b.Infrared.Get("199-1-2-5"); !ok {
		t.Error("infrared frame did not index the device")
	}
	if r.route(NewInstruction(243, 200, 1, 2, 5, 2, 0)) {
		t.Error("infrared frame for an indexed device routed again")
	}
}

func TestRouterClockClear(t *testing.T) {
	b := NewBuffers(nil)
	r := &router{buffers: b}
	r.route(NewInstruction(35, 1, 2, 3, 4, 5, 6))
	r.route(NewInstruction(37, 0, 0, 0, 0, 0, 0))
	if b.Clock.Len() != 0 {
		t.Errorf("clock buffer holds %d entries after clear", b.Clock.Len())
	}
}

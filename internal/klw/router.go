package klw

import "fmt"

// allowedD1 lists the leading bytes that carry bus state worth routing.
var allowedD1 = map[byte]bool{243: true, 112: true, 250: true, 35: true, 37: true, 38: true, 62: true, 87: true, 22: true}

// Buffers is the set of category buffers a client routes into.
type Buffers struct {
	Device   *Buffer
	Scene    *Buffer
	Sensor   *Buffer
	SensorEx *Buffer
	Security *Buffer
	Alarm    *Buffer
	Time     *Buffer
	FM       *Buffer
	Volume   *Buffer
	Version  *Buffer
	Gateway  *Buffer
	Password *Buffer
	Clock    *Buffer
	RGB      *Buffer
	Cache    *Buffer
	Curtain  *Buffer
	// Infrared indexes devices by "199-f-r-d" so an infrared frame can tell
	// whether a device frame was already seen.
	Infrared *Buffer
}

// NewBuffers creates every category buffer.
func NewBuffers(logger Logger) *Buffers {
	return &Buffers{
		Device:   NewBuffer(CategoryDevice, "device", logger),
		Scene:    NewBuffer(CategoryScene, "scene", logger),
		Sensor:   NewBuffer(CategorySensor, "sensor", logger),
		SensorEx: NewBuffer(CategorySensorEx, "sensor_ex", logger),
		Security: NewBuffer(CategorySecurity, "security", logger),
		Alarm:    NewBuffer(CategoryAlarm, "alarm", logger),
		Time:     NewBuffer(CategoryTime, "time", logger),
		FM:       NewBuffer(CategoryFM, "fm", logger),
		Volume:   NewBuffer(CategoryVolume, "volume", logger),
		Version:  NewBuffer(CategoryVersion, "version", logger),
		Gateway:  NewBuffer(CategoryGateway, "gateway", logger),
		Password: NewBuffer(CategoryPassword, "password", logger),
		Clock:    NewBuffer(CategoryClock, "clock", logger),
		RGB:      NewBuffer(CategoryRGB, "rgb", logger),
		Cache:    NewBuffer(CategoryCache, "cache", logger),
		Curtain:  NewBuffer(CategoryCurtain, "curtain", logger),
		Infrared: NewBuffer(CategoryCache, "infrared", logger),
	}
}

// All returns every buffer.
func (b *Buffers) All() []*Buffer {
	return []*Buffer{
		b.Device, b.Scene, b.Sensor, b.SensorEx, b.Security, b.Alarm, b.Time, b.FM, b.Volume,
		b.Version, b.Gateway, b.Password, b.Clock, b.RGB, b.Cache, b.Curtain, b.Infrared,
	}
}

// Classified returns the buffers whose updates describe devices.
func (b *Buffers) Classified() []*Buffer {
	return []*Buffer{b.Device, b.Scene, b.Sensor, b.SensorEx, b.Volume, b.RGB, b.Cache, b.Security}
}

// Clear empties every buffer.
func (b *Buffers) Clear() {
	for _, buf := range b.All() {
		buf.Clear()
	}
}

// router decides which buffer an inbound instruction belongs to.
type router struct {
	buffers *Buffers
	// showStopScene admits scene ids 1–45 as well as 129–173.
	showStopScene bool
}

// route stores ins in its category buffer. It reports false when the
// instruction is not routed anywhere.
func (r *router) route(ins Instruction) bool {
	d1, d2, d3, d4, d5, d6, d7 := ins.D1(), ins.D2(), ins.D3(), ins.D4(), ins.D5(), ins.D6(), ins.D7()
	if !allowedD1[d1] {
		return false
	}
	b := r.buffers

	switch d1 {
	case 35:
		b.Clock.Add(ins, 0, 1, 2, 3, 4, 5, 6)
		return true
	case 37:
		b.Clock.Clear()
		return true
	case 62:
		if d2 != 1 {
			return false
		}
		switch d6 {
		case 3:
			b.Gateway.Add(ins, 0, 1, 2, 3, 4, 5, 6)
		case 2:
			b.Version.Add(ins, 0, 1, 2, 3, 4, 5, 6)
		default:
			return false
		}
		return true
	case 250:
		if isLiveDevice(d4) && isValidRoom(d3) && isValidFloor(d2) {
			b.RGB.AddWithUID(ins, fmt.Sprintf("243-199-%d-%d-%d", d2, d3, d4))
			return true
		}
		return false
	case 243:
	default:
		return false
	}

	located := isValidRoom(d4) && isValidFloor(d3)
	paired := !((d3 > 0 && d4 == 0) || (d3 == 0 && d4 > 0))

	switch {
	case d2 == 102:
		b.Volume.Add(ins, 0, 1, 2, 3, 4)
	case isCompositeSensor(d2):
		if !located {
			return false
		}
		b.Sensor.Add(ins, 0, 1, 2, 3)
	case d2 == 130:
		b.Password.Add(ins, 0, 1)
	case d2 >= 191 && d2 <= 193:
		b.Security.Add(ins, 0)
	case d2 == 129:
		if !r.isValidScene(d5) || !located || !paired {
			return false
		}
		b.Scene.Add(ins, 0, 1, 2, 3, 4)
	case d2 == 199:
		if !isLiveDevice(d5) || !located || !paired {
			return false
		}
		b.Infrared.Add(ins, 1, 2, 3, 4)
		b.Device.Add(ins, 0, 1, 2, 3, 4)
	case d2 == 200:
		if !isLiveDevice(d5) || !located || (d6 == 0 && d7 == 0) {
			return false
		}
		if _, seen := b.Infrared.Get(fmt.Sprintf("199-%d-%d-%d", d3, d4, d5)); seen {
			return false
		}
		b.Infrared.Add(NewInstruction(int(d1), 199, int(d3), int(d4), int(d5), 0, 0), 1, 2, 3, 4)
		b.Device.Add(ins, 0, 1, 2, 3, 4)
	case d2 == 201, d2 == 204:
		if !isLiveDevice(d5) || !located || !paired {
			return false
		}
		b.Device.Add(ins, 0, 1, 2, 3, 4)
	case d2 == 202:
		b.FM.Add(ins, 0, 1, 2, 3, 4)
	case d2 == 203:
		b.Cache.Add(ins, 0, 1, 2, 3, 4)
	case d2 == 194, d2 == 195:
		b.Security.Add(ins, 0, 2, 3)
		if located && paired {
			b.Sensor.Add(ins, 0, 1, 2, 3, 6)
		}
	case d2 == 196, d2 == 197:
		if !located || !paired {
			return false
		}
		b.Sensor.Add(ins, 0, 1, 2, 3)
	case d2 == 198:
		if !located || !paired {
			return false
		}
		switch {
		case d6 >= 20 && d6 <= 22:
			b.Sensor.Add(ins, 0, 1, 2, 3, 5)
		case isExtendSensor(d6):
			b.SensorEx.Add(ins, 0, 1, 2, 3, 5)
		default:
			return false
		}
	case d2 == 98:
		if !located || !paired || !(isExtendSensor(d6) || (d6 >= 101 && d6 <= 120)) {
			return false
		}
		b.SensorEx.Add(ins, 0, 1, 2, 3, 5)
	case d2 == 205:
		b.Time.Add(ins, 0, 1)
	default:
		return false
	}
	return true
}

func (r *router) isValidScene(id byte) bool {
	if r.showStopScene && id >= 1 && id <= 45 {
		return true
	}
	return id >= 129 && id <= 173
}

func isLiveDevice(d byte) bool {
	return d <= 33 || d == 41 || (d >= 61 && d <= 119) || (d >= 191 && d <= 194) || (d >= 201 && d <= 254)
}

func isValidRoom(r byte) bool {
	return r <= 34 || (r >= 41 && r <= 155)
}

func isValidFloor(f byte) bool {
	return f <= 99 || (f >= 201 && f <= 209)
}

func isExtendSensor(id byte) bool {
	return (id >= 1 && id <= 18) || (id >= 35 && id <= 38)
}

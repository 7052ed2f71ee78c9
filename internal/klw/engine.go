package klw

import (
	"fmt"
	"math"
	"time"
)

// Engine classifies category-buffer updates into device details and merges
// them into the bucket.
type Engine struct {
	nid    string
	bucket *Bucket
	names  Names
	volume *Buffer
	fm     *Buffer
	now    func() time.Time
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	// NetworkID prefixes every composite key.
	NetworkID string
	Bucket    *Bucket
	Names     Names
	// Volume and FM are the companion buffers read for music players.
	Volume *Buffer
	FM     *Buffer
	// Now overrides the clock used for record timestamps.
	Now func() time.Time
}

// NewEngine creates an engine writing into opts.Bucket.
func NewEngine(opts EngineOptions) *Engine {
	e := &Engine{
		nid:    opts.NetworkID,
		bucket: opts.Bucket,
		names:  opts.Names,
		volume: opts.Volume,
		fm:     opts.FM,
		now:    opts.Now,
	}
	if e.names == nil {
		e.names = DefaultNames("en")
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Update is the result of applying one instruction.
type Update struct {
	Record Record
	// IsNew is true when no record existed under the key before.
	IsNew bool
}

// Apply classifies ins, merges it onto the stored detail and stores the
// result. ok is false when the instruction does not describe a device or
// the merged record is filtered out.
func (e *Engine) Apply(ins Instruction, category Category, uid string) (Update, bool) {
	target, change := e.classify(ins, category, uid)
	if change == nil {
		return Update{}, false
	}

	storeCategory := category
	if category == CategoryRGB {
		storeCategory = CategoryDevice
	}
	oid := OID(e.nid, change.UID, storeCategory)
	if target != "" {
		oid = target
	}

	prior, hadPrior := e.bucket.Get(oid)
	var priorDetail *Detail
	if hadPrior {
		priorDetail = prior.Detail
	}

	merged := Merge(priorDetail, change)
	if merged.Kind == KindSensor && (merged.FloorID >= 255 || merged.RoomID >= 255) {
		return Update{}, false
	}
	if merged.DeviceID >= 255 {
		return Update{}, false
	}
	merged.Timestamp = e.now().UnixMilli()

	rec := Record{
		NID:    e.nid,
		OID:    oid,
		Data:   ins,
		UID:    merged.UID,
		Type:   storeCategory,
		Detail: merged,
	}
	if target != "" && hadPrior {
		// Fragments patch an existing device; its identity bytes stay.
		rec.Data = prior.Data
		rec.Type = prior.Type
	}

	isNew := !hadPrior
	e.bucket.Put(rec, isNew)
	return Update{Record: rec.Clone(), IsNew: isNew}, true
}

// classify returns the change to merge. target is set when the change
// patches a record stored under another key.
func (e *Engine) classify(ins Instruction, category Category, uid string) (target string, change *Detail) {
	switch category {
	case CategoryDevice, CategoryRGB, CategoryCache:
		return e.classifyDevice(ins, category, uid)
	case CategoryVolume:
		return e.classifyVolume(ins)
	case CategoryScene:
		return "", e.classifyScene(ins, uid)
	case CategorySensor:
		return "", e.classifySensor(ins, uid)
	case CategorySensorEx:
		return "", e.classifyDryContact(ins, uid)
	case CategorySecurity:
		return "", e.classifySecurity(ins, uid)
	default:
		return "", nil
	}
}

func (e *Engine) classifyDevice(ins Instruction, category Category, uid string) (string, *Detail) {
	d1, d2, d5, d7 := ins.D1(), ins.D2(), ins.D5(), ins.D7()

	if d1 == 250 {
		if category != CategoryRGB {
			return "", nil
		}
		return e.rgbFragment(ins, uid)
	}

	if d1 == 243 {
		switch {
		case d5 == 4 || d5 == 191 || d5 == 192 || (d5 >= 81 && d5 <= 89):
			d := e.toggle(ins, uid, KindAirCondition)
			d.Climate = e.airCondition(ins)
			return "", d
		case d5 == 15 || d5 == 28 || (d5 >= 101 && d5 <= 119):
			d := e.toggle(ins, uid, KindCurtain)
			d.Curtain = &CurtainState{Scale: ptr(int(ins.D6()))}
			return "", d
		case d5 == 20:
			d := e.toggle(ins, uid, KindFreshAir)
			d.FreshAir = e.freshAir(ins)
			return "", d
		case d5 == 16:
			d := e.toggle(ins, uid, KindFloorHeating)
			d.Climate = e.floorHeating(ins)
			return "", d
		case d5 == 3:
			d := e.toggle(ins, uid, KindMusicPlayer)
			d.On = ptr(bit(ins.D6(), 7) == 1)
			d.Music = e.musicPlayer(ins)
			return "", d
		}
	}

	if d2 != 199 {
		return "", nil
	}

	b2, b5, b7 := bit(d7, 2), bit(d7, 5), bit(d7, 7)
	var kind DeviceKind
	switch {
	case b2 == 1 && b5 == 0 && b7 == 0:
		kind = KindAdjustLight
	case b2 == 1 && b5 == 0 && b7 == 1:
		kind = KindRGBLight
	case b2 == 1 && b5 == 1 && b7 == 0:
		kind = KindWarmLight
	case b2 == 0 && isToggleLight(d5):
		kind = KindToggleLight
	case b2 == 0:
		kind = KindSwitch
	default:
		return "", nil
	}

	d := e.toggle(ins, uid, kind)
	if b2 == 1 {
		d.Light = &LightState{Gear: ptr(gearPercent(ins.D6()))}
	}
	return "", d
}

// rgbFragment patches the colour of a light cached at
// "nid.243-199-{D2}-{D3}-{D4}.3".
func (e *Engine) rgbFragment(ins Instruction, uid string) (string, *Detail) {
	oid := OID(e.nid, uid, CategoryDevice)
	prior := e.bucket.Detail(oid)
	if prior == nil {
		return "", nil
	}

	change := headerOf(prior)
	switch prior.Kind {
	case KindWarmLight:
		change.Light = &LightState{Warm: ptr(int(ins.D5()))}
	case KindRGBLight:
		rgb := fmt.Sprintf("#%02x%02x%02x", ins.D5(), ins.D6(), ins.D7())
		change.Light = &LightState{RGB: &rgb}
	default:
		return "", nil
	}
	return oid, change
}

// classifyVolume folds a volume-range frame into the cached music player
// at the same coordinates.
func (e *Engine) classifyVolume(ins Instruction) (string, *Detail) {
	if ins.D1() != 243 || ins.D5() != 3 {
		return "", nil
	}
	uid := fmt.Sprintf("243-199-%d-%d-%d", ins.D3(), ins.D4(), ins.D5())
	oid := OID(e.nid, uid, CategoryDevice)
	prior := e.bucket.Detail(oid)
	if prior == nil || prior.Kind != KindMusicPlayer {
		return "", nil
	}

	change := headerOf(prior)
	change.Music = &MusicState{
		HighVolume: ptr(int(ins.D6()) - 7),
		LowVolume:  ptr(int(ins.D7()) - 7),
	}
	return oid, change
}

func (e *Engine) classifyScene(ins Instruction, uid string) *Detail {
	d3, d4, d5 := int(ins.D3()), int(ins.D4()), int(ins.D5())
	return &Detail{
		UID:        uid,
		Kind:       KindScene,
		FloorID:    d3,
		RoomID:     d4,
		DeviceID:   d5,
		FloorName:  e.names.Floor(d3),
		RoomName:   e.names.Room(d4),
		DeviceName: e.names.Scene(d5),
		On:         ptr(bit(ins.D6(), 7) == 1),
	}
}

func (e *Engine) classifySensor(ins Instruction, uid string) *Detail {
	d2, d3, d4 := ins.D2(), int(ins.D3()), int(ins.D4())

	if d2 >= 194 && d2 <= 197 {
		return e.twoStateSensor(ins, uid)
	}

	d := &Detail{
		UID:       uid,
		Kind:      KindSensor,
		FloorID:   d3,
		RoomID:    d4,
		DeviceID:  int(ins.D5()),
		FloorName: e.names.Floor(d3),
		RoomName:  e.names.Room(d4),
	}
	s := &SensorState{TwoSide: ptr(false), Unit: ptr("")}

	switch {
	case d2 == 198:
		d5, d6 := int(ins.D5()), int(ins.D6())
		d.DeviceID = d6
		d.DeviceName = e.names.Sensor(d6)
		switch d6 {
		case 20:
			v := d5
			if d5 >= 128 {
				v = -(d5 - 128)
			}
			s.Value, s.Unit = ptr(float64(v)), ptr("℃")
		case 21:
			s.Value, s.Unit = ptr(float64(d5*3)), ptr("lux")
		case 22:
			s.Value, s.Unit = ptr(float64(d5)), ptr("%")
		}
	case isCompositeSensor(d2):
		d.DeviceID = int(d2)
		d.DeviceName = e.names.Sensor(int(d2))
		v := int(ins.D7())<<16 | int(ins.D6())<<8 | int(ins.D5())
		s.Value = ptr(float64(v))
	default:
		d.DeviceName = e.names.Sensor(int(ins.D6()))
	}

	d.Sensor = s
	return d
}

type twoStateLabels struct{ name, on, off string }

var twoStateSensors = map[byte]twoStateLabels{
	194: {LabelDoorSensor, LabelDoorOpen, LabelDoorClose},
	195: {LabelOccupancySensor, LabelOccupancy, LabelOccupancyClear},
	196: {LabelSmokeSensor, LabelSmoke, LabelSmokeClear},
	197: {LabelGasSensor, LabelGas, LabelGasClear},
}

func (e *Engine) twoStateSensor(ins Instruction, uid string) *Detail {
	d2, d3, d4 := ins.D2(), int(ins.D3()), int(ins.D4())
	labels := twoStateSensors[d2]

	value := 0
	if ins.D5() == 255 {
		value = 1
	}
	vName := e.names.Label(labels.off)
	if value > 0 {
		vName = e.names.Label(labels.on)
	}

	return &Detail{
		UID:        uid,
		Kind:       KindSensor,
		FloorID:    d3,
		RoomID:     d4,
		DeviceID:   int(d2),
		FloorName:  e.names.Floor(d3),
		RoomName:   e.names.Room(d4),
		DeviceName: fmt.Sprintf("%d#%s", ins.D7(), e.names.Label(labels.name)),
		Sensor: &SensorState{
			TwoSide:   ptr(true),
			Value:     ptr(float64(value)),
			ValueName: &vName,
		},
	}
}

func (e *Engine) classifyDryContact(ins Instruction, uid string) *Detail {
	d2 := ins.D2()
	if d2 != 198 && d2 != 98 {
		return nil
	}
	d3, d4, d6 := int(ins.D3()), int(ins.D4()), int(ins.D6())

	value := 0
	if ins.D7() == 255 {
		value = 1
	}
	on, off := LabelDryOn, LabelDryOff
	if d6 >= 1 && d6 <= 38 {
		on, off = LabelTriggerOn, LabelTriggerOff
	}
	vName := e.names.Label(off)
	if value > 0 {
		vName = e.names.Label(on)
	}

	return &Detail{
		UID:        uid,
		Kind:       KindDryContact,
		FloorID:    d3,
		RoomID:     d4,
		DeviceID:   int(ins.D5()),
		FloorName:  e.names.Floor(d3),
		RoomName:   e.names.Room(d4),
		DeviceName: e.names.DryContact(fmt.Sprintf("%d-%d", d2, d6)),
		Sensor: &SensorState{
			TwoSide:   ptr(true),
			Value:     ptr(float64(value)),
			ValueName: &vName,
		},
	}
}

func (e *Engine) classifySecurity(ins Instruction, uid string) *Detail {
	state := securityState(ins)
	var label string
	switch state {
	case 2:
		label = LabelArming
	case 1:
		label = LabelDisarm
	case 0:
		label = LabelAreaArming
	case 3:
		label = LabelRoomArming
	case 4:
		label = LabelRoomDisarm
	default:
		label = LabelUnknownState
	}
	name := e.names.Label(label)
	return &Detail{
		UID:      uid,
		Kind:     KindSecurity,
		Security: &SecurityState{State: ptr(state), StateName: &name},
	}
}

// securityState maps a security frame to 2 armed, 1 disarmed, 0 area
// arming, 3 room arming, 4 room disarm or -1 unknown.
func securityState(ins Instruction) int {
	switch ins.D2() {
	case 192:
		return 1
	case 191:
		return 2
	case 193:
		return 0
	case 194, 195:
		switch ins.D6() {
		case 85:
			return 3
		case 0:
			return 4
		case 255:
			return 0
		}
	}
	return -1
}

// toggle fills the header shared by every bus device: location, default
// names and the on flag from D7 bit0.
func (e *Engine) toggle(ins Instruction, uid string, kind DeviceKind) *Detail {
	d3, d4, d5 := int(ins.D3()), int(ins.D4()), int(ins.D5())
	return &Detail{
		UID:        uid,
		Kind:       kind,
		FloorID:    d3,
		RoomID:     d4,
		DeviceID:   d5,
		FloorName:  e.names.Floor(d3),
		RoomName:   e.names.Room(d4),
		DeviceName: e.names.Device(d5),
		On:         ptr(bit(ins.D7(), 0) == 1),
	}
}

func (e *Engine) airCondition(ins Instruction) *ClimateState {
	d6, d7 := int(ins.D6()), ins.D7()
	c := &ClimateState{
		Temp:      ptr(d6),
		TempLabel: ptr(fmt.Sprintf("%d℃", d6)),
		Ctrl:      ptr(bit(d7, 3)),
	}
	if bit(d7, 3) == 1 {
		c.CtrlLabel = ptr(e.names.Label(LabelAuto))
	} else {
		c.CtrlLabel = ptr(e.names.Label(LabelManual))
	}

	modes := [4]string{LabelHeat, LabelCool, LabelDry, LabelFan}
	mode := bit(d7, 4) | bit(d7, 5)<<1
	c.Mode = ptr(mode)
	c.ModeLabel = ptr(e.names.Label(modes[mode]))

	speeds := [3]string{LabelLow, LabelMid, LabelHigh}
	if speed := bit(d7, 6) | bit(d7, 7)<<1; speed < len(speeds) {
		c.Speed = ptr(speed)
		c.SpeedLabel = ptr(e.names.Label(speeds[speed]))
	}

	e.ambient(ins, c)
	return c
}

func (e *Engine) floorHeating(ins Instruction) *ClimateState {
	temp := int(ins.D6()) + 15
	ctrl := bit(ins.D7(), 6)
	c := &ClimateState{
		Temp:      ptr(temp),
		TempLabel: ptr(fmt.Sprintf("%d℃", temp)),
		Ctrl:      ptr(ctrl),
	}
	if ctrl == 0 {
		c.CtrlLabel = ptr(e.names.Label(LabelAuto))
	} else {
		c.CtrlLabel = ptr(e.names.Label(LabelManual))
	}
	e.ambient(ins, c)
	return c
}

// ambient copies the room temperature and humidity sensors at the same
// floor and room.
func (e *Engine) ambient(ins Instruction, c *ClimateState) {
	prefix := fmt.Sprintf("%s.243-198-%d-%d-", e.nid, ins.D3(), ins.D4())
	if v, ok := e.sensorValue(prefix + "20.7"); ok {
		c.AmbientTemp = ptr(v)
	}
	if v, ok := e.sensorValue(prefix + "22.7"); ok {
		c.AmbientHum = ptr(v)
	}
}

func (e *Engine) sensorValue(oid string) (float64, bool) {
	d := e.bucket.Detail(oid)
	if d == nil || d.Sensor == nil || d.Sensor.Value == nil {
		return 0, false
	}
	return *d.Sensor.Value, true
}

func (e *Engine) freshAir(ins Instruction) *FreshAirState {
	d6 := int(ins.D6())
	s := &FreshAirState{Speed: ptr(d6)}
	switch d6 {
	case 1:
		s.SpeedLabel = ptr(e.names.Label(LabelLow))
	case 2:
		s.SpeedLabel = ptr(e.names.Label(LabelMid))
	case 3:
		s.SpeedLabel = ptr(e.names.Label(LabelHigh))
	default:
		s.SpeedLabel = ptr("")
	}
	return s
}

var musicChannels = map[int]string{1: "AU1", 2: "TF", 3: "AU2", 4: "FM"}

func (e *Engine) musicPlayer(ins Instruction) *MusicState {
	chl := int(ins.D7())
	m := &MusicState{
		Volume:      ptr(bitRange(ins.D6(), 0, 4)),
		Channel:     ptr(chl),
		ChannelName: ptr(musicChannels[chl]),
	}

	suffix := fmt.Sprintf("-%d-%d-%d", ins.D3(), ins.D4(), ins.D5())
	if e.volume != nil {
		if v, ok := e.volume.Get("243-102" + suffix); ok {
			m.HighVolume = ptr(int(v.D6()) - 7)
			m.LowVolume = ptr(int(v.D7()) - 7)
		}
	}
	if e.fm != nil {
		f, ok := e.fm.Get("243-202" + suffix)
		if !ok {
			f, ok = e.fm.First()
		}
		if ok {
			m.FM = ptr(FMFrequency(f.D6(), f.D7()))
		}
	}
	return m
}

// FMFrequency converts the two FM tuning bytes to MHz.
func FMFrequency(hi, lo byte) float64 {
	return (32.768*float64(int(hi)*256+int(lo)) - 950) / 4000
}

// gearPercent converts a 0–15 gear to a 0–100 percentage.
func gearPercent(d6 byte) int {
	return int(math.Round(float64(d6) * 100 / 15))
}

func headerOf(d *Detail) *Detail {
	return &Detail{
		UID:        d.UID,
		Kind:       d.Kind,
		FloorID:    d.FloorID,
		RoomID:     d.RoomID,
		DeviceID:   d.DeviceID,
		FloorName:  d.FloorName,
		RoomName:   d.RoomName,
		DeviceName: d.DeviceName,
	}
}

func isToggleLight(d5 byte) bool {
	switch {
	case d5 == 17, d5 == 24, d5 == 25:
		return true
	case d5 >= 30 && d5 <= 33,
		d5 >= 61 && d5 <= 80,
		d5 >= 90 && d5 <= 98,
		d5 >= 201 && d5 <= 227,
		d5 >= 239 && d5 <= 241:
		return true
	}
	return false
}

func isCompositeSensor(d2 byte) bool {
	return (d2 >= 39 && d2 <= 45) || (d2 >= 120 && d2 <= 128) || d2 == 135
}

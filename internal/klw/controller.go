package klw

import (
	"cmp"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Action names a control operation.
type Action string

// Control actions understood by the gateway.
const (
	ActionDeviceOn            Action = "DeviceOn"
	ActionDeviceOff           Action = "DeviceOff"
	ActionDeviceToggle        Action = "DeviceToggle"
	ActionSceneTrigger        Action = "SceneTrigger"
	ActionSetBrightness       Action = "SetBrightness"
	ActionIncBrightness       Action = "IncBrightness"
	ActionDecBrightness       Action = "DecBrightness"
	ActionSetColor            Action = "SetColor"
	ActionSetColorTemperature Action = "SetColorTemperature"
	ActionSetTemperature      Action = "SetTemperature"
	ActionIncTemperature      Action = "IncTemperature"
	ActionDecTemperature      Action = "DecTemperature"
	ActionSetGear             Action = "SetGear"
	ActionSetMode             Action = "SetMode"
	ActionSetAuto             Action = "SetAuto"
	ActionSetSpeed            Action = "SetSpeed"
	ActionSetSpeedLow         Action = "SetSpeedLow"
	ActionSetSpeedMid         Action = "SetSpeedMid"
	ActionSetSpeedHigh        Action = "SetSpeedHigh"
	ActionSendRCKey           Action = "SendRCKey"
	ActionShadeOpen           Action = "ShadeOpen"
	ActionShadeClose          Action = "ShadeClose"
	ActionShadePause          Action = "ShadePause"
	ActionSetShadeScale       Action = "SetShadeScale"
	ActionSetSecurity         Action = "SetSecurity"
	ActionSetVolume           Action = "SetVolume"
	ActionIncVolume           Action = "IncVolume"
	ActionDecVolume           Action = "DecVolume"
	ActionSetPrevSong         Action = "SetPrevSong"
	ActionSetNextSong         Action = "SetNextSong"
	ActionSetSongFolder       Action = "SetSongFolder"
	ActionSetSource           Action = "SetSource"
)

// ControlNamespace is the only envelope namespace Execute acts on.
const ControlNamespace = "IOT.Control"

// Item is one target of a control batch.
type Item struct {
	ID    string `json:"oid"`
	Value any    `json:"value,omitempty"`
}

// Envelope is the JSON command form accepted by Execute.
type Envelope struct {
	Header struct {
		Namespace string `json:"namespace"`
		Action    Action `json:"action"`
	} `json:"header"`
	Payload []Item `json:"payload"`
}

// Color is the SetColor value.
type Color struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// DeviceLookup resolves an oid to its stored detail.
type DeviceLookup interface {
	Detail(oid string) *Detail
}

// Dispatcher queues encoded instructions for sending.
type Dispatcher interface {
	Send(ins Instruction) error
}

// Controller turns high-level actions into instruction batches.
type Controller struct {
	devices DeviceLookup
	out     Dispatcher
	logger  Logger
}

// NewController creates a controller resolving targets through devices and
// sending through out.
func NewController(devices DeviceLookup, out Dispatcher, logger Logger) *Controller {
	return &Controller{devices: devices, out: out, logger: orNop(logger)}
}

// Control encodes action for every item, orders the batch by floor, room
// and device so one area's instructions go out together, and queues it.
// Items whose device is unknown or whose value is unusable are skipped.
// It returns the number of instructions queued.
func (c *Controller) Control(action Action, items []Item) int {
	batch := make([]Instruction, 0, len(items))
	for _, it := range items {
		d := c.devices.Detail(it.ID)
		if d == nil {
			c.logger.Debug("control target not found", "action", action, "oid", it.ID)
			continue
		}
		ins, err := Encode(action, d, it.Value)
		if err != nil {
			c.logger.Warn("control item skipped", "action", action, "oid", it.ID, "error", err)
			continue
		}
		batch = append(batch, ins)
	}

	SortByLocation(batch)

	sent := 0
	for _, ins := range batch {
		if err := c.out.Send(ins); err != nil {
			c.logger.Warn("control instruction not queued", "action", action, "instruction", ins.String(), "error", err)
			continue
		}
		sent++
	}
	return sent
}

// Execute decodes a JSON envelope and runs it. Envelopes outside the control
// namespace are ignored.
func (c *Controller) Execute(data []byte) (int, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return 0, fmt.Errorf("decode control envelope: %w", err)
	}
	if env.Header.Namespace != ControlNamespace {
		return 0, nil
	}
	return c.Control(env.Header.Action, env.Payload), nil
}

// SortByLocation orders instructions by (D3, D4, D5), keeping the relative
// order of equal keys.
func SortByLocation(batch []Instruction) {
	slices.SortStableFunc(batch, func(a, b Instruction) int {
		return cmp.Or(
			cmp.Compare(a.D3(), b.D3()),
			cmp.Compare(a.D4(), b.D4()),
			cmp.Compare(a.D5(), b.D5()),
		)
	})
}

// Encode builds the instruction for action on the device described by d.
func Encode(action Action, d *Detail, value any) (Instruction, error) {
	f, r, id := d.FloorID, d.RoomID, d.DeviceID
	device := func(d2 int) Instruction { return NewInstruction(243, d2, f, r, id, 0, 0) }
	param := func(d2, d6 int) Instruction { return NewInstruction(243, d2, f, r, id, d6, 0) }

	switch action {
	case ActionDeviceOn, ActionShadeOpen:
		return device(154), nil
	case ActionDeviceOff, ActionShadeClose:
		return device(158), nil
	case ActionDeviceToggle:
		return device(159), nil
	case ActionIncBrightness, ActionIncTemperature, ActionIncVolume:
		return device(160), nil
	case ActionDecBrightness, ActionDecTemperature, ActionDecVolume:
		return device(161), nil
	case ActionSetPrevSong:
		return device(162), nil
	case ActionSetNextSong:
		return device(163), nil
	case ActionShadePause:
		return device(187), nil
	case ActionSetSpeedLow:
		return param(164, 19), nil
	case ActionSetSpeedMid:
		return param(164, 20), nil
	case ActionSetSpeedHigh:
		return param(164, 21), nil
	case ActionSceneTrigger:
		return NewInstruction(237, f, r, id, 0, 0, 0), nil

	case ActionSetBrightness:
		v := 0
		if value != nil {
			var err error
			if v, err = intValue(value); err != nil {
				return Instruction{}, err
			}
		}
		return param(165, scaleDown(clamp(v, 0, 100), 15)), nil

	case ActionSetColor:
		col := Color{R: 255, G: 255, B: 255}
		if value != nil {
			var err error
			if col, err = colorValue(value); err != nil {
				return Instruction{}, err
			}
		}
		return NewInstruction(112, f, r, id, clamp(col.R, 0, 255), clamp(col.G, 0, 255), clamp(col.B, 0, 255)), nil
	}

	v, err := intValue(value)
	if err != nil {
		return Instruction{}, err
	}

	switch action {
	case ActionSetColorTemperature:
		return NewInstruction(112, f, r, id, 100-clamp(v, 0, 100), 0, 0), nil
	case ActionSetTemperature:
		return NewInstruction(46, f, r, id, clamp(v, 15, 30)-15, 0, 0), nil
	case ActionSetGear:
		return param(165, clamp(v, 0, 15)), nil
	case ActionSetMode:
		return param(164, []int{18, 17, 4, 5}[clamp(v, 0, 3)]), nil
	case ActionSetAuto:
		return param(164, []int{23, 22}[clamp(v, 0, 1)]), nil
	case ActionSetSpeed:
		return param(164, []int{19, 20, 21}[clamp(v, 0, 2)]), nil
	case ActionSendRCKey:
		return param(164, clamp(v, 0, 23)), nil
	case ActionSetShadeScale:
		return param(164, scaleDown(clamp(v, 0, 100), 10)+6), nil
	case ActionSetSecurity:
		if v == 2 {
			return NewInstruction(243, 169, 0, 0, 0, 0, 0), nil
		}
		return NewInstruction(243, 170, 0, 0, 0, 0, 0), nil
	case ActionSetVolume:
		return NewInstruction(243, 165, f, r, id, scaleDown(clamp(v, 0, 100), 18), 136), nil
	case ActionSetSongFolder:
		return NewInstruction(243, 223, f, r, id, clamp(v, 0, 6)+10, 0), nil
	case ActionSetSource:
		return param(165, clamp(v, 1, 4)), nil
	}
	return Instruction{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
}

// scaleDown maps a 0–100 percentage onto 0–steps, rounding down.
func scaleDown(percent, steps int) int {
	return int(math.Floor(float64(percent) / 100 * float64(steps)))
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

func intValue(v any) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, fmt.Errorf("%w: missing value", ErrInvalidValue)
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case int32:
		return int(n), nil
	case uint8:
		return int(n), nil
	case float64:
		return int(math.Floor(n)), nil
	case float32:
		return int(math.Floor(float64(n))), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrInvalidValue, err)
		}
		return int(math.Floor(f)), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidValue, n)
		}
		return int(math.Floor(f)), nil
	}
	return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidValue, v)
}

func colorValue(v any) (Color, error) {
	col := Color{R: 255, G: 255, B: 255}
	switch c := v.(type) {
	case Color:
		return c, nil
	case *Color:
		if c != nil {
			return *c, nil
		}
		return col, nil
	case map[string]any:
		for key, dst := range map[string]*int{"r": &col.R, "g": &col.G, "b": &col.B} {
			raw, ok := c[key]
			if !ok {
				continue
			}
			n, err := intValue(raw)
			if err != nil {
				return col, fmt.Errorf("color %s: %w", key, err)
			}
			*dst = n
		}
		return col, nil
	case map[string]int:
		for key, dst := range map[string]*int{"r": &col.R, "g": &col.G, "b": &col.B} {
			if n, ok := c[key]; ok {
				*dst = n
			}
		}
		return col, nil
	}
	return col, fmt.Errorf("%w: unsupported color type %T", ErrInvalidValue, v)
}

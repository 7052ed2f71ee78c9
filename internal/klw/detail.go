package klw

import "maps"

// Detail is the decoded state of one device.
//
// The header fields are filled by every classification. Category-specific
// state lives in exactly one of the variant pointers (none for switches,
// toggle lights and scenes); Extra carries attributes that have no typed
// field yet. Pointer fields distinguish "absent" from a zero value so a
// partial update only overwrites what it carries.
//
// A Detail is never modified after it is stored; Merge builds a new value.
type Detail struct {
	UID        string     `json:"uid"`
	Kind       DeviceKind `json:"category"`
	FloorID    int        `json:"fid"`
	RoomID     int        `json:"rid"`
	DeviceID   int        `json:"did"`
	FloorName  string     `json:"fName,omitempty"`
	RoomName   string     `json:"rName,omitempty"`
	DeviceName string     `json:"dName,omitempty"`
	On         *bool      `json:"on,omitempty"`
	Timestamp  int64      `json:"timestamp,omitempty"`

	Light    *LightState    `json:"light,omitempty"`
	Climate  *ClimateState  `json:"climate,omitempty"`
	Curtain  *CurtainState  `json:"curtain,omitempty"`
	FreshAir *FreshAirState `json:"freshAir,omitempty"`
	Music    *MusicState    `json:"music,omitempty"`
	Sensor   *SensorState   `json:"sensor,omitempty"`
	Security *SecurityState `json:"security,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// LightState covers adjustable, RGB and warm lights.
type LightState struct {
	Gear *int    `json:"gear,omitempty"`
	RGB  *string `json:"rgb,omitempty"`
	Warm *int    `json:"warm,omitempty"`
}

// ClimateState covers air conditioners and floor heating.
type ClimateState struct {
	Temp        *int     `json:"temp,omitempty"`
	TempLabel   *string  `json:"tempLabel,omitempty"`
	Ctrl        *int     `json:"ctrl,omitempty"`
	CtrlLabel   *string  `json:"ctrlLabel,omitempty"`
	Mode        *int     `json:"model,omitempty"`
	ModeLabel   *string  `json:"modelLabel,omitempty"`
	Speed       *int     `json:"speed,omitempty"`
	SpeedLabel  *string  `json:"speedLabel,omitempty"`
	AmbientTemp *float64 `json:"ambient_temp,omitempty"`
	AmbientHum  *float64 `json:"ambient_hum,omitempty"`
}

// CurtainState holds the curtain position on the 0–10 scale.
type CurtainState struct {
	Scale *int `json:"scale,omitempty"`
}

// FreshAirState holds the fan speed step 1–3.
type FreshAirState struct {
	Speed      *int    `json:"speed,omitempty"`
	SpeedLabel *string `json:"speedLabel,omitempty"`
}

// MusicState holds background-music player state.
type MusicState struct {
	Volume      *int     `json:"vol,omitempty"`
	Channel     *int     `json:"chl,omitempty"`
	ChannelName *string  `json:"chlName,omitempty"`
	HighVolume  *int     `json:"highVol,omitempty"`
	LowVolume   *int     `json:"lowVol,omitempty"`
	FM          *float64 `json:"fm,omitempty"`
}

// SensorState holds continuous sensors, two-state sensors and dry contacts.
type SensorState struct {
	TwoSide   *bool    `json:"twoside,omitempty"`
	Value     *float64 `json:"value,omitempty"`
	Unit      *string  `json:"unit,omitempty"`
	ValueName *string  `json:"vName,omitempty"`
}

// SecurityState holds the security panel state (-1 unknown).
type SecurityState struct {
	State     *int    `json:"cover,omitempty"`
	StateName *string `json:"coverName,omitempty"`
}

type variant int

const (
	variantNone variant = iota
	variantLight
	variantClimate
	variantCurtain
	variantFreshAir
	variantMusic
	variantSensor
	variantSecurity
)

// variantFor returns the state variant a device kind carries.
func variantFor(k DeviceKind) variant {
	switch k {
	case KindAdjustLight, KindRGBLight, KindWarmLight, KindRGBWLight:
		return variantLight
	case KindAirCondition, KindFloorHeating:
		return variantClimate
	case KindCurtain:
		return variantCurtain
	case KindFreshAir:
		return variantFreshAir
	case KindMusicPlayer:
		return variantMusic
	case KindSensor, KindDryContact:
		return variantSensor
	case KindSecurity:
		return variantSecurity
	default:
		return variantNone
	}
}

// Merge overlays change onto prior: fields present in change win, every
// other field of prior survives. When the kind moves to a different state
// variant the old variant is dropped. Neither argument is modified.
func Merge(prior, change *Detail) *Detail {
	if change == nil {
		return prior.Clone()
	}
	out := change.Clone()
	if prior == nil {
		out.normalize()
		return out
	}

	out.On = pick(change.On, prior.On)
	if out.Timestamp == 0 {
		out.Timestamp = prior.Timestamp
	}
	out.Light = mergeLight(prior.Light, change.Light)
	out.Climate = mergeClimate(prior.Climate, change.Climate)
	out.Curtain = mergeCurtain(prior.Curtain, change.Curtain)
	out.FreshAir = mergeFreshAir(prior.FreshAir, change.FreshAir)
	out.Music = mergeMusic(prior.Music, change.Music)
	out.Sensor = mergeSensor(prior.Sensor, change.Sensor)
	out.Security = mergeSecurity(prior.Security, change.Security)

	if len(prior.Extra) > 0 {
		extra := maps.Clone(prior.Extra)
		maps.Copy(extra, change.Extra)
		out.Extra = extra
	}

	out.normalize()
	return out
}

// normalize keeps only the state variant matching the kind.
func (d *Detail) normalize() {
	v := variantFor(d.Kind)
	if v != variantLight {
		d.Light = nil
	}
	if v != variantClimate {
		d.Climate = nil
	}
	if v != variantCurtain {
		d.Curtain = nil
	}
	if v != variantFreshAir {
		d.FreshAir = nil
	}
	if v != variantMusic {
		d.Music = nil
	}
	if v != variantSensor {
		d.Sensor = nil
	}
	if v != variantSecurity {
		d.Security = nil
	}
}

// Clone returns a copy that shares no mutable state with d.
func (d *Detail) Clone() *Detail {
	if d == nil {
		return nil
	}
	out := *d
	out.Light = cloneState(d.Light)
	out.Climate = cloneState(d.Climate)
	out.Curtain = cloneState(d.Curtain)
	out.FreshAir = cloneState(d.FreshAir)
	out.Music = cloneState(d.Music)
	out.Sensor = cloneState(d.Sensor)
	out.Security = cloneState(d.Security)
	if d.Extra != nil {
		out.Extra = maps.Clone(d.Extra)
	}
	return &out
}

// IsOn reports the on/off flag, false when unknown.
func (d *Detail) IsOn() bool {
	return d != nil && d.On != nil && *d.On
}

// cloneState copies a state struct. Its pointer fields are shared, which is
// safe because stored values are never written through.
func cloneState[T any](s *T) *T {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func pick[T any](change, prior *T) *T {
	if change != nil {
		return change
	}
	return prior
}

func mergeLight(prior, change *LightState) *LightState {
	if change == nil || prior == nil {
		return cloneState(pick(change, prior))
	}
	return &LightState{
		Gear: pick(change.Gear, prior.Gear),
		RGB:  pick(change.RGB, prior.RGB),
		Warm: pick(change.Warm, prior.Warm),
	}
}

func mergeClimate(prior, change *ClimateState) *ClimateState {
	if change == nil || prior == nil {
		return cloneState(pick(change, prior))
	}
	return &ClimateState{
		Temp:        pick(change.Temp, prior.Temp),
		TempLabel:   pick(change.TempLabel, prior.TempLabel),
		Ctrl:        pick(change.Ctrl, prior.Ctrl),
		CtrlLabel:   pick(change.CtrlLabel, prior.CtrlLabel),
		Mode:        pick(change.Mode, prior.Mode),
		ModeLabel:   pick(change.ModeLabel, prior.ModeLabel),
		Speed:       pick(change.Speed, prior.Speed),
		SpeedLabel:  pick(change.SpeedLabel, prior.SpeedLabel),
		AmbientTemp: pick(change.AmbientTemp, prior.AmbientTemp),
		AmbientHum:  pick(change.AmbientHum, prior.AmbientHum),
	}
}

func mergeCurtain(prior, change *CurtainState) *CurtainState {
	if change == nil || prior == nil {
		return cloneState(pick(change, prior))
	}
	return &CurtainState{Scale: pick(change.Scale, prior.Scale)}
}

func mergeFreshAir(prior, change *FreshAirState) *FreshAirState {
	if change == nil || prior == nil {
		return cloneState(pick(change, prior))
	}
	return &FreshAirState{
		Speed:      pick(change.Speed, prior.Speed),
		SpeedLabel: pick(change.SpeedLabel, prior.SpeedLabel),
	}
}

func mergeMusic(prior, change *MusicState) *MusicState {
	if change == nil || prior == nil {
		return cloneState(pick(change, prior))
	}
	return &MusicState{
		Volume:      pick(change.Volume, prior.Volume),
		Channel:     pick(change.Channel, prior.Channel),
		ChannelName: pick(change.ChannelName, prior.ChannelName),
		HighVolume:  pick(change.HighVolume, prior.HighVolume),
		LowVolume:   pick(change.LowVolume, prior.LowVolume),
		FM:          pick(change.FM, prior.FM),
	}
}

func mergeSensor(prior, change *SensorState) *SensorState {
	if change == nil || prior == nil {
		return cloneState(pick(change, prior))
	}
	return &SensorState{
		TwoSide:   pick(change.TwoSide, prior.TwoSide),
		Value:     pick(change.Value, prior.Value),
		Unit:      pick(change.Unit, prior.Unit),
		ValueName: pick(change.ValueName, prior.ValueName),
	}
}

func mergeSecurity(prior, change *SecurityState) *SecurityState {
	if change == nil || prior == nil {
		return cloneState(pick(change, prior))
	}
	return &SecurityState{
		State:     pick(change.State, prior.State),
		StateName: pick(change.StateName, prior.StateName),
	}
}

func ptr[T any](v T) *T { return &v }

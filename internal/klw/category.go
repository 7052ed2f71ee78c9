package klw

import "strconv"

// Category identifies the protocol buffer an instruction belongs to. The
// numeric value is part of every composite key and of persisted records.
type Category int

const (
	CategoryGateway           Category = 0
	CategoryVersion           Category = 1
	CategoryVolume            Category = 2
	CategoryDevice            Category = 3
	CategoryAlarm             Category = 4
	CategorySecurity          Category = 5
	CategoryFM                Category = 6
	CategorySensor            Category = 7
	CategoryTime              Category = 8
	CategoryCache             Category = 9
	CategoryClock             Category = 10
	CategoryPassword          Category = 11
	CategoryEnergy            Category = 12
	CategoryEnergyHistory     Category = 13
	CategoryScene             Category = 14
	CategoryRGB               Category = 15
	CategoryWaterMeter        Category = 16
	CategoryWaterMeterHistory Category = 17
	CategorySpeaker           Category = 18
	CategorySensorEx          Category = 19
	CategoryCounter           Category = 20
	CategoryCombine           Category = 21
	CategoryCurtain           Category = 22
	CategoryModule            Category = 23
	CategoryPLCWriteFeedback  Category = 24
)

var categoryNames = map[Category]string{
	CategoryGateway:           "gateway",
	CategoryVersion:           "version",
	CategoryVolume:            "volume",
	CategoryDevice:            "device",
	CategoryAlarm:             "alarm",
	CategorySecurity:          "security",
	CategoryFM:                "fm",
	CategorySensor:            "sensor",
	CategoryTime:              "time",
	CategoryCache:             "cache",
	CategoryClock:             "clock",
	CategoryPassword:          "password",
	CategoryEnergy:            "energy",
	CategoryEnergyHistory:     "energy_history",
	CategoryScene:             "scene",
	CategoryRGB:               "rgb",
	CategoryWaterMeter:        "water_meter",
	CategoryWaterMeterHistory: "water_meter_history",
	CategorySpeaker:           "speaker",
	CategorySensorEx:          "sensor_ex",
	CategoryCounter:           "counter",
	CategoryCombine:           "combine",
	CategoryCurtain:           "curtain",
	CategoryModule:            "module",
	CategoryPLCWriteFeedback:  "plc_write_feedback",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "category(" + strconv.Itoa(int(c)) + ")"
}

// DeviceKind is the classified type of a device record.
type DeviceKind int

const (
	KindSwitch       DeviceKind = 0
	KindToggleLight  DeviceKind = 1
	KindAdjustLight  DeviceKind = 2
	KindRGBLight     DeviceKind = 3
	KindWarmLight    DeviceKind = 4
	KindRGBWLight    DeviceKind = 5
	KindCurtain      DeviceKind = 6
	KindMusicPlayer  DeviceKind = 7
	KindAirCondition DeviceKind = 8
	KindFreshAir     DeviceKind = 9
	KindFloorHeating DeviceKind = 10
	KindScene        DeviceKind = 11
	KindSensor       DeviceKind = 12
	KindDryContact   DeviceKind = 13
	KindSecurity     DeviceKind = 14
)

var kindNames = map[DeviceKind]string{
	KindSwitch:       "switch",
	KindToggleLight:  "toggle_light",
	KindAdjustLight:  "adjust_light",
	KindRGBLight:     "rgb_light",
	KindWarmLight:    "warm_light",
	KindRGBWLight:    "rgbw_light",
	KindCurtain:      "curtain",
	KindMusicPlayer:  "music_player",
	KindAirCondition: "air_condition",
	KindFreshAir:     "fresh_air",
	KindFloorHeating: "floor_heating",
	KindScene:        "scene",
	KindSensor:       "sensor",
	KindDryContact:   "dry_contact",
	KindSecurity:     "security",
}

func (k DeviceKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

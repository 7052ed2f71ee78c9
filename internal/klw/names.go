package klw

import (
	"fmt"

	"golang.org/x/text/language"
)

// Names supplies localized default names and state labels.
type Names interface {
	Floor(id int) string
	Room(id int) string
	Device(id int) string
	Scene(id int) string
	Sensor(id int) string
	DryContact(id string) string
	// Label returns the text for a state label key such as "door_open".
	Label(key string) string
}

// Label keys.
const (
	LabelDoorSensor      = "door_sensor"
	LabelDoorOpen        = "door_open"
	LabelDoorClose       = "door_close"
	LabelOccupancySensor = "occupancy_sensor"
	LabelOccupancy       = "occupancy"
	LabelOccupancyClear  = "occupancy_clear"
	LabelSmokeSensor     = "smoke_sensor"
	LabelSmoke           = "smoke"
	LabelSmokeClear      = "smoke_clear"
	LabelGasSensor       = "gas_sensor"
	LabelGas             = "gas"
	LabelGasClear        = "gas_clear"
	LabelAuto            = "auto"
	LabelManual          = "manual"
	LabelHeat            = "heat"
	LabelCool            = "cool"
	LabelDry             = "dry"
	LabelFan             = "fan"
	LabelLow             = "low"
	LabelMid             = "mid"
	LabelHigh            = "high"
	LabelTriggerOn       = "trigger_on"
	LabelTriggerOff      = "trigger_off"
	LabelDryOn           = "dry_on"
	LabelDryOff          = "dry_off"
	LabelArming          = "arming"
	LabelDisarm          = "disarm"
	LabelAreaArming      = "area_arming"
	LabelRoomArming      = "room_arming"
	LabelRoomDisarm      = "room_disarm"
	LabelUnknownState    = "unknown_state"
)

type nameTable struct {
	floor      string
	basement   string
	room       string
	device     string
	scene      string
	sensor     string
	dryContact string
	sensors    map[int]string
	labels     map[string]string
}

var supportedLanguages = []language.Tag{
	language.English,
	language.SimplifiedChinese,
}

var nameTables = []nameTable{
	{
		floor:      "Floor %d",
		basement:   "Basement %d",
		room:       "Room %d",
		device:     "Device %d",
		scene:      "Scene %d",
		sensor:     "Sensor %d",
		dryContact: "Dry contact %s",
		sensors: map[int]string{
			20: "Temperature",
			21: "Illuminance",
			22: "Humidity",
		},
		labels: map[string]string{
			LabelDoorSensor:      "Door sensor",
			LabelDoorOpen:        "Open",
			LabelDoorClose:       "Closed",
			LabelOccupancySensor: "Occupancy sensor",
			LabelOccupancy:       "Occupied",
			LabelOccupancyClear:  "Clear",
			LabelSmokeSensor:     "Smoke sensor",
			LabelSmoke:           "Smoke detected",
			LabelSmokeClear:      "Clear",
			LabelGasSensor:       "Gas sensor",
			LabelGas:             "Gas detected",
			LabelGasClear:        "Clear",
			LabelAuto:            "Auto",
			LabelManual:          "Manual",
			LabelHeat:            "Heat",
			LabelCool:            "Cool",
			LabelDry:             "Dry",
			LabelFan:             "Fan",
			LabelLow:             "Low",
			LabelMid:             "Medium",
			LabelHigh:            "High",
			LabelTriggerOn:       "Triggered",
			LabelTriggerOff:      "Idle",
			LabelDryOn:           "Closed",
			LabelDryOff:          "Open",
			LabelArming:          "Armed",
			LabelDisarm:          "Disarmed",
			LabelAreaArming:      "Area armed",
			LabelRoomArming:      "Room armed",
			LabelRoomDisarm:      "Room disarmed",
			LabelUnknownState:    "Unknown",
		},
	},
	{
		floor:      "%d楼",
		basement:   "地下%d层",
		room:       "房间%d",
		device:     "设备%d",
		scene:      "场景%d",
		sensor:     "传感器%d",
		dryContact: "干接点%s",
		sensors: map[int]string{
			20: "温度",
			21: "光照",
			22: "湿度",
		},
		labels: map[string]string{
			LabelDoorSensor:      "门磁",
			LabelDoorOpen:        "打开",
			LabelDoorClose:       "关闭",
			LabelOccupancySensor: "人体感应",
			LabelOccupancy:       "有人",
			LabelOccupancyClear:  "无人",
			LabelSmokeSensor:     "烟雾报警器",
			LabelSmoke:           "有烟雾",
			LabelSmokeClear:      "正常",
			LabelGasSensor:       "燃气报警器",
			LabelGas:             "燃气泄漏",
			LabelGasClear:        "正常",
			LabelAuto:            "自动",
			LabelManual:          "手动",
			LabelHeat:            "制热",
			LabelCool:            "制冷",
			LabelDry:             "除湿",
			LabelFan:             "送风",
			LabelLow:             "低速",
			LabelMid:             "中速",
			LabelHigh:            "高速",
			LabelTriggerOn:       "触发",
			LabelTriggerOff:      "未触发",
			LabelDryOn:           "闭合",
			LabelDryOff:          "断开",
			LabelArming:          "布防",
			LabelDisarm:          "撤防",
			LabelAreaArming:      "区域布防",
			LabelRoomArming:      "房间布防",
			LabelRoomDisarm:      "房间撤防",
			LabelUnknownState:    "未知状态",
		},
	},
}

var languageMatcher = language.NewMatcher(supportedLanguages)

type defaultNames struct {
	t nameTable
}

// DefaultNames returns the built-in names for the closest supported
// language to lang (a BCP 47 tag such as "en" or "zh-Hans").
func DefaultNames(lang string) Names {
	tag, _ := language.Parse(lang) //nolint:errcheck // Und falls back to English
	_, idx, _ := languageMatcher.Match(tag)
	return defaultNames{t: nameTables[idx]}
}

func (n defaultNames) Floor(id int) string {
	if id >= 201 && id <= 209 {
		return fmt.Sprintf(n.t.basement, id-200)
	}
	return fmt.Sprintf(n.t.floor, id)
}

func (n defaultNames) Room(id int) string   { return fmt.Sprintf(n.t.room, id) }
func (n defaultNames) Device(id int) string { return fmt.Sprintf(n.t.device, id) }
func (n defaultNames) Scene(id int) string  { return fmt.Sprintf(n.t.scene, id) }

func (n defaultNames) Sensor(id int) string {
	if name, ok := n.t.sensors[id]; ok {
		return name
	}
	return fmt.Sprintf(n.t.sensor, id)
}

func (n defaultNames) DryContact(id string) string {
	return fmt.Sprintf(n.t.dryContact, id)
}

func (n defaultNames) Label(key string) string {
	if s, ok := n.t.labels[key]; ok {
		return s
	}
	return key
}

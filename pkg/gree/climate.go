package gree

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Air conditioner and dehumidifier properties.
const (
	PropPower        Property = "Pow"
	PropMode         Property = "Mod"
	PropHumiditySet  Property = "Dwet"
	PropHumidity     Property = "DwatSen"
	PropCleanFilter  Property = "Dfltr"
	PropWaterFull    Property = "DwatFul"
	PropDehumMode    Property = "Dmod"
	PropTempSet      Property = "SetTem"
	PropTempSensor   Property = "TemSen"
	PropTempUnit     Property = "TemUn"
	PropTempBit      Property = "TemRec"
	PropFanSpeed     Property = "WdSpd"
	PropFreshAir     Property = "Air"
	PropXFan         Property = "Blo"
	PropAnion        Property = "Health"
	PropSleep        Property = "SwhSlp"
	PropSleepMode    Property = "SlpMod"
	PropLight        Property = "Lig"
	PropSwingHoriz   Property = "SwingLfRig"
	PropSwingVert    Property = "SwUpDn"
	PropQuiet        Property = "Quiet"
	PropTurbo        Property = "Tur"
	PropSteadyHeat   Property = "StHt"
	PropPowerSave    Property = "SvSt"
	PropHeatCoolType Property = "HeatCoolType"
)

var climateSchema = func() *schema {
	s := newSchema("climate", []namedProperty{
		{"power", PropPower},
		{"mode", PropMode},
		{"humidity_set", PropHumiditySet},
		{"humidity", PropHumidity},
		{"clean_filter", PropCleanFilter},
		{"water_full", PropWaterFull},
		{"dehumidifier_mode", PropDehumMode},
		{"temp_set", PropTempSet},
		{"temp_sensor", PropTempSensor},
		{"temp_unit", PropTempUnit},
		{"temp_bit", PropTempBit},
		{"fan_speed", PropFanSpeed},
		{"fresh_air", PropFreshAir},
		{"xfan", PropXFan},
		{"anion", PropAnion},
		{"sleep", PropSleep},
		{"sleep_mode", PropSleepMode},
		{"light", PropLight},
		{"swing_horiz", PropSwingHoriz},
		{"swing_vert", PropSwingVert},
		{"quiet", PropQuiet},
		{"turbo", PropTurbo},
		{"steady_heat", PropSteadyHeat},
		{"power_save", PropPowerSave},
		{"heat_cool_type", PropHeatCoolType},
	})
	// The unit needs the fraction bit and unit to interpret SetTem.
	s.companions = map[Property][]Property{
		PropTempSet: {PropTempBit, PropTempUnit},
	}
	s.sensor = PropTempSensor
	return s
}()

// TemperatureUnit is the display unit of the unit.
type TemperatureUnit int

const (
	Celsius TemperatureUnit = iota
	Fahrenheit
)

// Mode is the operating mode.
type Mode int

const (
	ModeAuto Mode = iota
	ModeCool
	ModeDry
	ModeFan
	ModeHeat
)

var modeNames = []string{"auto", "cool", "dry", "fan", "heat"}

func (m Mode) String() string {
	if int(m) >= 0 && int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "mode(" + strconv.Itoa(int(m)) + ")"
}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrOutOfRange, s)
}

// FanSpeed is the fan speed setting.
type FanSpeed int

const (
	FanAuto FanSpeed = iota
	FanLow
	FanMediumLow
	FanMedium
	FanMediumHigh
	FanHigh
)

// HorizontalSwing is the horizontal louver setting.
type HorizontalSwing int

const (
	HorizontalDefault HorizontalSwing = iota
	HorizontalFullSwing
	HorizontalLeft
	HorizontalLeftCenter
	HorizontalCenter
	HorizontalRightCenter
	HorizontalRight
)

// VerticalSwing is the vertical louver setting.
type VerticalSwing int

const (
	VerticalDefault VerticalSwing = iota
	VerticalFullSwing
	VerticalFixedUpper
	VerticalFixedUpperMiddle
	VerticalFixedMiddle
	VerticalFixedLowerMiddle
	VerticalFixedLower
	VerticalSwingUpper
	VerticalSwingUpperMiddle
	VerticalSwingMiddle
	VerticalSwingLowerMiddle
	VerticalSwingLower
)

// DehumidifierMode is the dehumidifier program.
type DehumidifierMode int

const (
	DehumidifierDefault   DehumidifierMode = 0
	DehumidifierAnionOnly DehumidifierMode = 9
)

// Temperature limits, Celsius unless noted.
const (
	TempMin       = 8
	TempMax       = 30
	TempMinF      = 46
	TempMaxF      = 86
	tempMinTable  = -60
	tempMaxTable  = 60
	tempMinTableF = -76
	tempMaxTableF = 140
	HumidityMin   = 30
	HumidityMax   = 80
	humidityBase  = 15
	humidityStep  = 5
	quietOn       = 2
)

type temperatureRecord struct {
	f      int
	temSet int
	temRec int
}

func newTemperatureRecord(f int) temperatureRecord {
	c := (float64(f) - 32) * 5 / 9
	set := int(math.Round(c))
	rec := 0
	if c-float64(set) > 0 {
		rec = 1
	}
	return temperatureRecord{f: f, temSet: set, temRec: rec}
}

var temperatureTable = func() []temperatureRecord {
	t := make([]temperatureRecord, 0, tempMaxTableF-tempMinTableF+1)
	for f := tempMinTableF; f <= tempMaxTableF; f++ {
		t = append(t, newTemperatureRecord(f))
	}
	return t
}()

// Climate is an air conditioner or dehumidifier.
type Climate struct {
	*Device
}

// NewClimate returns a handle for an air conditioner.
func NewClimate(info *DeviceInfo, opts ...Option) (*Climate, error) {
	d, err := newDevice(info, climateSchema, opts)
	if err != nil {
		return nil, err
	}
	return &Climate{Device: d}, nil
}

func (c *Climate) Power() bool           { return c.getBool(PropPower) }
func (c *Climate) SetPower(on bool)      { c.Set(PropPower, on) }
func (c *Climate) FreshAir() bool        { return c.getBool(PropFreshAir) }
func (c *Climate) SetFreshAir(on bool)   { c.Set(PropFreshAir, on) }
func (c *Climate) XFan() bool            { return c.getBool(PropXFan) }
func (c *Climate) SetXFan(on bool)       { c.Set(PropXFan, on) }
func (c *Climate) Anion() bool           { return c.getBool(PropAnion) }
func (c *Climate) SetAnion(on bool)      { c.Set(PropAnion, on) }
func (c *Climate) Light() bool           { return c.getBool(PropLight) }
func (c *Climate) SetLight(on bool)      { c.Set(PropLight, on) }
func (c *Climate) Turbo() bool           { return c.getBool(PropTurbo) }
func (c *Climate) SetTurbo(on bool)      { c.Set(PropTurbo, on) }
func (c *Climate) SteadyHeat() bool      { return c.getBool(PropSteadyHeat) }
func (c *Climate) SetSteadyHeat(on bool) { c.Set(PropSteadyHeat, on) }
func (c *Climate) PowerSave() bool       { return c.getBool(PropPowerSave) }
func (c *Climate) SetPowerSave(on bool)  { c.Set(PropPowerSave, on) }
func (c *Climate) CleanFilter() bool     { return c.getBool(PropCleanFilter) }
func (c *Climate) WaterFull() bool       { return c.getBool(PropWaterFull) }

// Sleep reports whether sleep mode is on.
func (c *Climate) Sleep() bool { return c.getBool(PropSleep) }

// SetSleep switches sleep mode. Both sleep properties are written.
func (c *Climate) SetSleep(on bool) {
	c.Set(PropSleep, on)
	c.Set(PropSleepMode, on)
}

// Quiet reports whether quiet mode is on. The unit reports 2 for on.
func (c *Climate) Quiet() bool { return c.getBool(PropQuiet) }

// SetQuiet switches quiet mode.
func (c *Climate) SetQuiet(on bool) {
	v := 0
	if on {
		v = quietOn
	}
	c.Set(PropQuiet, v)
}

// Mode returns the operating mode.
func (c *Climate) Mode() (Mode, bool) {
	v, ok := c.getInt(PropMode)
	return Mode(v), ok
}

func (c *Climate) SetMode(m Mode) { c.Set(PropMode, int(m)) }

func (c *Climate) FanSpeed() (FanSpeed, bool) {
	v, ok := c.getInt(PropFanSpeed)
	return FanSpeed(v), ok
}

func (c *Climate) SetFanSpeed(s FanSpeed) { c.Set(PropFanSpeed, int(s)) }

func (c *Climate) HorizontalSwing() (HorizontalSwing, bool) {
	v, ok := c.getInt(PropSwingHoriz)
	return HorizontalSwing(v), ok
}

func (c *Climate) SetHorizontalSwing(s HorizontalSwing) { c.Set(PropSwingHoriz, int(s)) }

func (c *Climate) VerticalSwing() (VerticalSwing, bool) {
	v, ok := c.getInt(PropSwingVert)
	return VerticalSwing(v), ok
}

func (c *Climate) SetVerticalSwing(s VerticalSwing) { c.Set(PropSwingVert, int(s)) }

func (c *Climate) DehumidifierMode() (DehumidifierMode, bool) {
	v, ok := c.getInt(PropDehumMode)
	return DehumidifierMode(v), ok
}

// TemperatureUnit returns the unit, Celsius when unknown.
func (c *Climate) TemperatureUnit() TemperatureUnit {
	v, _ := c.getInt(PropTempUnit)
	return TemperatureUnit(v)
}

func (c *Climate) SetTemperatureUnit(u TemperatureUnit) { c.Set(PropTempUnit, int(u)) }

// convertToUnits converts a Celsius wire value to the display unit.
func (c *Climate) convertToUnits(value, bit int) (int, error) {
	if c.TemperatureUnit() != Fahrenheit {
		return value, nil
	}
	if value < tempMinTable || value > tempMaxTable {
		return 0, fmt.Errorf("%w: temperature %d", ErrOutOfRange, value)
	}

	var first *temperatureRecord
	for i := range temperatureTable {
		r := &temperatureTable[i]
		if r.temSet != value {
			continue
		}
		if r.temRec == bit {
			return r.f, nil
		}
		if first == nil {
			first = r
		}
	}
	if first == nil {
		return 0, fmt.Errorf("%w: temperature %d", ErrOutOfRange, value)
	}
	return first.f, nil
}

// TargetTemperature returns the set point in the display unit.
func (c *Climate) TargetTemperature() (int, error) {
	set, err := c.requireInt(PropTempSet)
	if err != nil {
		return 0, err
	}
	bit, _ := c.getInt(PropTempBit)
	return c.convertToUnits(set, bit)
}

// SetTargetTemperature sets the set point in the display unit. In
// Fahrenheit the fraction bit is written along with the Celsius value.
func (c *Climate) SetTargetTemperature(value int) error {
	validate := func(v int) error {
		if v < TempMin || v > TempMax {
			return fmt.Errorf("%w: specified temperature %d", ErrOutOfRange, value)
		}
		return nil
	}

	if c.TemperatureUnit() == Fahrenheit {
		rec := newTemperatureRecord(value)
		if err := validate(rec.temSet); err != nil {
			return err
		}
		c.Set(PropTempSet, rec.temSet)
		c.Set(PropTempBit, rec.temRec)
		return nil
	}
	if err := validate(value); err != nil {
		return err
	}
	c.Set(PropTempSet, value)
	return nil
}

// CurrentTemperature returns the room temperature in the display unit,
// falling back to the set point when the sensor reading is unusable.
func (c *Climate) CurrentTemperature() (int, error) {
	sensor, ok := c.getInt(PropTempSensor)
	if ok {
		bit, _ := c.getInt(PropTempBit)
		var (
			v   int
			err error
		)
		switch {
		case c.firmwareMajor() == 4:
			v, err = c.convertToUnits(sensor, bit)
		case sensor != 0:
			v, err = c.convertToUnits(sensor-TempOffset, bit)
		default:
			return c.TargetTemperature()
		}
		if err == nil {
			return v, nil
		}
		c.logger.Warn("converting unexpected temperature value", "value", sensor, "error", err)
	}
	return c.TargetTemperature()
}

func (c *Climate) firmwareMajor() int {
	major, _, _ := strings.Cut(c.Version(), ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return 0
	}
	return n
}

// TargetHumidity returns the dehumidifier set point in percent.
func (c *Climate) TargetHumidity() (int, bool) {
	v, ok := c.getInt(PropHumiditySet)
	if !ok {
		return 0, false
	}
	return humidityBase + v*humidityStep, true
}

// SetTargetHumidity sets the dehumidifier set point in percent.
func (c *Climate) SetTargetHumidity(value int) error {
	if value < HumidityMin || value > HumidityMax {
		return fmt.Errorf("%w: specified humidity %d", ErrOutOfRange, value)
	}
	c.Set(PropHumiditySet, (value-humidityBase)/humidityStep)
	return nil
}

// CurrentHumidity returns the humidity sensor reading.
func (c *Climate) CurrentHumidity() (int, bool) {
	return c.getInt(PropHumidity)
}

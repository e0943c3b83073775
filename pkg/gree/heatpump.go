package gree

// Air-to-water heat pump properties. Temperatures are reported as a whole
// part offset by 100 plus a decimal part.
const (
	HPWaterInWhole      Property = "AllInWatTemHi"
	HPWaterInDecimal    Property = "AllInWatTemLo"
	HPWaterOutWhole     Property = "AllOutWatTemHi"
	HPWaterOutDecimal   Property = "AllOutWatTemLo"
	HPOptWaterWhole     Property = "HepOutWatTemHi"
	HPOptWaterDecimal   Property = "HepOutWatTemLo"
	HPHotWaterWhole     Property = "WatBoxTemHi"
	HPHotWaterDecimal   Property = "WatBoxTemLo"
	HPRemoteHomeWhole   Property = "RmoHomTemHi"
	HPRemoteHomeDecimal Property = "RmoHomTemLo"
	HPTankHeaterStatus  Property = "WatBoxElcHeRunSta"
	HPDefrostingStatus  Property = "SyAnFroRunSta"
	HPHeater1Status     Property = "ElcHe1RunSta"
	HPHeater2Status     Property = "ElcHe2RunSta"
	HPFrostProtection   Property = "AnFrzzRunSta"
	HPPower             Property = "Pow"
	HPMode              Property = "Mod"
	HPCoolTempSet       Property = "CoWatOutTemSet"
	HPHeatTempSet       Property = "HeWatOutTemSet"
	HPHotWaterTempSet   Property = "WatBoxTemSet"
	HPTempUnit          Property = "TemUn"
	HPTempRec           Property = "TemRec"
	HPAllErr            Property = "AllErr"
	HPCoolAndHotWater   Property = "ColHtWter"
	HPHeatAndHotWater   Property = "HetHtWter"
	HPTempRecB          Property = "TemRecB"
	HPCoolHomeTempSet   Property = "CoHomTemSet"
	HPHeatHomeTempSet   Property = "HeHomTemSet"
	HPFastHeatWater     Property = "FastHtWter"
	HPQuiet             Property = "Quiet"
	HPLeftHome          Property = "LefHom"
	HPDisinfect         Property = "SwDisFct"
	HPPowerSave         Property = "SvSt"
	HPVersatiSeries     Property = "VersatiSeries"
	HPRoomHomeTempExt   Property = "RomHomTemExt"
	HPHotWaterExt       Property = "WatBoxExt"
	HPForceModeSwitch   Property = "FocModSwh"
	HPEmergency         Property = "Emegcy"
	HPHandFrostSwitch   Property = "HanFroSwh"
	HPWaterSysExhSwitch Property = "WatSyExhSwh"
	HPBoardTest         Property = "BordTest"
	HPColColletSwitch   Property = "ColColetSwh"
	HPEndTempCoolSwitch Property = "EndTemCotSwh"
	HPModelType         Property = "ModelType"
	HPEVU               Property = "EVU"
)

const heatPumpWholeOffset = 100

// HeatPumpMode is the operating mode of a heat pump.
type HeatPumpMode int

const (
	HeatPumpModeAuto HeatPumpMode = iota
	HeatPumpModeCool
	HeatPumpModeHeat
	HeatPumpModeHotWater
	HeatPumpModeCoolHotWater
	HeatPumpModeHeatHotWater
)

var heatPumpSchema = newSchema("heat pump", []namedProperty{
	{"t_water_in_pe_w", HPWaterInWhole},
	{"t_water_in_pe_d", HPWaterInDecimal},
	{"t_water_out_pe_w", HPWaterOutWhole},
	{"t_water_out_pe_d", HPWaterOutDecimal},
	{"t_opt_water_w", HPOptWaterWhole},
	{"t_opt_water_d", HPOptWaterDecimal},
	{"hot_water_temp_w", HPHotWaterWhole},
	{"hot_water_temp_d", HPHotWaterDecimal},
	{"remote_home_temp_w", HPRemoteHomeWhole},
	{"remote_home_temp_d", HPRemoteHomeDecimal},
	{"tank_heater_status", HPTankHeaterStatus},
	{"system_defrosting_status", HPDefrostingStatus},
	{"hp_heater_1_status", HPHeater1Status},
	{"hp_heater_2_status", HPHeater2Status},
	{"automatic_frost_protection", HPFrostProtection},
	{"power", HPPower},
	{"mode", HPMode},
	{"cool_temp_set", HPCoolTempSet},
	{"heat_temp_set", HPHeatTempSet},
	{"hot_water_temp_set", HPHotWaterTempSet},
	{"temp_unit", HPTempUnit},
	{"temp_rec", HPTempRec},
	{"all_err", HPAllErr},
	{"cool_and_hot_water", HPCoolAndHotWater},
	{"heat_and_hot_water", HPHeatAndHotWater},
	{"temp_rec_b", HPTempRecB},
	{"cool_home_temp_set", HPCoolHomeTempSet},
	{"heat_home_temp_set", HPHeatHomeTempSet},
	{"fast_heat_water", HPFastHeatWater},
	{"quiet", HPQuiet},
	{"left_home", HPLeftHome},
	{"disinfect", HPDisinfect},
	{"power_save", HPPowerSave},
	{"versati_series", HPVersatiSeries},
	{"room_home_temp_ext", HPRoomHomeTempExt},
	{"hot_water_ext", HPHotWaterExt},
	{"foc_mod_swh", HPForceModeSwitch},
	{"emegcy", HPEmergency},
	{"hand_fro_swh", HPHandFrostSwitch},
	{"water_sys_exh_swh", HPWaterSysExhSwitch},
	{"bord_test", HPBoardTest},
	{"col_colet_swh", HPColColletSwitch},
	{"end_temp_cot_swh", HPEndTempCoolSwitch},
	{"model_type", HPModelType},
	{"evu", HPEVU},
})

// HeatPump is an air-to-water heat pump.
type HeatPump struct {
	*Device
}

// NewHeatPump returns a handle for an air-to-water heat pump.
func NewHeatPump(info *DeviceInfo, opts ...Option) (*HeatPump, error) {
	d, err := newDevice(info, heatPumpSchema, opts)
	if err != nil {
		return nil, err
	}
	return &HeatPump{Device: d}, nil
}

// CombineTemperature combines a whole/decimal pair from values. ok is false
// when either half is missing.
func CombineTemperature(values map[string]any, whole, decimal Property) (float64, bool) {
	w, ok1 := values[whole.Key()].(int)
	d, ok2 := values[decimal.Key()].(int)
	if !ok1 || !ok2 {
		return 0, false
	}
	return float64(w-heatPumpWholeOffset) + float64(d)/10, true
}

func (h *HeatPump) celsius(whole, decimal Property) (float64, bool) {
	return CombineTemperature(h.Properties(), whole, decimal)
}

// WaterInTemperature is the water inlet temperature.
func (h *HeatPump) WaterInTemperature() (float64, bool) {
	return h.celsius(HPWaterInWhole, HPWaterInDecimal)
}

// WaterOutTemperature is the water outlet temperature.
func (h *HeatPump) WaterOutTemperature() (float64, bool) {
	return h.celsius(HPWaterOutWhole, HPWaterOutDecimal)
}

func (h *HeatPump) OptWaterTemperature() (float64, bool) {
	return h.celsius(HPOptWaterWhole, HPOptWaterDecimal)
}

// HotWaterTemperature is the domestic hot water tank temperature.
func (h *HeatPump) HotWaterTemperature() (float64, bool) {
	return h.celsius(HPHotWaterWhole, HPHotWaterDecimal)
}

func (h *HeatPump) RemoteHomeTemperature() (float64, bool) {
	return h.celsius(HPRemoteHomeWhole, HPRemoteHomeDecimal)
}

func (h *HeatPump) Power() bool      { return h.getBool(HPPower) }
func (h *HeatPump) SetPower(on bool) { h.Set(HPPower, on) }

func (h *HeatPump) Mode() (HeatPumpMode, bool) {
	v, ok := h.getInt(HPMode)
	return HeatPumpMode(v), ok
}

func (h *HeatPump) SetMode(m HeatPumpMode) { h.Set(HPMode, int(m)) }

func (h *HeatPump) CoolTempSet() (int, bool)     { return h.getInt(HPCoolTempSet) }
func (h *HeatPump) SetCoolTempSet(v int)         { h.Set(HPCoolTempSet, v) }
func (h *HeatPump) HeatTempSet() (int, bool)     { return h.getInt(HPHeatTempSet) }
func (h *HeatPump) SetHeatTempSet(v int)         { h.Set(HPHeatTempSet, v) }
func (h *HeatPump) HotWaterTempSet() (int, bool) { return h.getInt(HPHotWaterTempSet) }
func (h *HeatPump) SetHotWaterTempSet(v int)     { h.Set(HPHotWaterTempSet, v) }
func (h *HeatPump) CoolHomeTempSet() (int, bool) { return h.getInt(HPCoolHomeTempSet) }
func (h *HeatPump) SetCoolHomeTempSet(v int)     { h.Set(HPCoolHomeTempSet, v) }
func (h *HeatPump) HeatHomeTempSet() (int, bool) { return h.getInt(HPHeatHomeTempSet) }
func (h *HeatPump) SetHeatHomeTempSet(v int)     { h.Set(HPHeatHomeTempSet, v) }

func (h *HeatPump) CoolAndHotWater() bool        { return h.getBool(HPCoolAndHotWater) }
func (h *HeatPump) SetCoolAndHotWater(on bool)   { h.Set(HPCoolAndHotWater, on) }
func (h *HeatPump) HeatAndHotWater() bool        { return h.getBool(HPHeatAndHotWater) }
func (h *HeatPump) SetHeatAndHotWater(on bool)   { h.Set(HPHeatAndHotWater, on) }
func (h *HeatPump) FastHeatWater() bool          { return h.getBool(HPFastHeatWater) }
func (h *HeatPump) SetFastHeatWater(on bool)     { h.Set(HPFastHeatWater, on) }
func (h *HeatPump) LeftHome() bool               { return h.getBool(HPLeftHome) }
func (h *HeatPump) SetLeftHome(on bool)          { h.Set(HPLeftHome, on) }
func (h *HeatPump) Disinfect() bool              { return h.getBool(HPDisinfect) }
func (h *HeatPump) SetDisinfect(on bool)         { h.Set(HPDisinfect, on) }
func (h *HeatPump) PowerSave() bool              { return h.getBool(HPPowerSave) }
func (h *HeatPump) SetPowerSave(on bool)         { h.Set(HPPowerSave, on) }
func (h *HeatPump) Emergency() bool              { return h.getBool(HPEmergency) }
func (h *HeatPump) SetEmergency(on bool)         { h.Set(HPEmergency, on) }
func (h *HeatPump) TankHeaterRunning() bool      { return h.getBool(HPTankHeaterStatus) }
func (h *HeatPump) Defrosting() bool             { return h.getBool(HPDefrostingStatus) }
func (h *HeatPump) Heater1Running() bool         { return h.getBool(HPHeater1Status) }
func (h *HeatPump) Heater2Running() bool         { return h.getBool(HPHeater2Status) }
func (h *HeatPump) FrostProtectionRunning() bool { return h.getBool(HPFrostProtection) }
func (h *HeatPump) Quiet() bool                  { return h.getBool(HPQuiet) }

// ErrorCode returns the combined error code, 0 when the unit is healthy.
func (h *HeatPump) ErrorCode() (int, bool) { return h.getInt(HPAllErr) }

package gree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"regexp"
	"slices"
	"sync"
	"time"
)

const (
	// statusBatchSize is the largest number of columns a unit answers in one
	// status response.
	statusBatchSize = 23

	// TempOffset is added to sensor readings by older firmware.
	TempOffset = 40

	hidKey = "hid"
)

// hid looks like 362001000762+U-CS532AE(LT)V3.31.bin
var versionPattern = regexp.MustCompile(`V([\d.]+)\.bin$`)

// Device is the handle applications use to read and change the state of a
// unit. Set only changes local state and marks the property dirty;
// PushStateUpdate sends dirty properties, UpdateState polls the unit.
//
// Calls that talk to the unit are not serialised against each other. Run
// UpdateState, PushStateUpdate and Bind from one goroutine, or accept
// interleaved traffic.
type Device struct {
	info        *DeviceInfo
	proto       *Protocol
	logger      *slog.Logger
	metrics     *Metrics
	bindTimeout time.Duration
	schema      *schema

	mu           sync.Mutex
	properties   map[string]any
	dirty        []string
	hid          string
	version      string
	checkVersion bool
}

// NewDevice returns a handle for a unit using a custom property set. Most
// callers want NewClimate or NewHeatPump.
func NewDevice(info *DeviceInfo, properties []Property, opts ...Option) (*Device, error) {
	return newDevice(info, &schema{name: "generic", properties: properties}, opts)
}

func newDevice(info *DeviceInfo, s *schema, opts []Option) (*Device, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	d := &Device{
		info:         info,
		proto:        newProtocol(cfg),
		logger:       cfg.log(),
		metrics:      cfg.metrics,
		bindTimeout:  cfg.bindTimeout,
		schema:       s,
		properties:   make(map[string]any),
		checkVersion: true,
	}
	d.proto.SetDelegate(d)
	return d, nil
}

// Info returns the identity of the unit.
func (d *Device) Info() *DeviceInfo {
	return d.info
}

// Protocol returns the engine of this session, for registering handlers.
func (d *Device) Protocol() *Protocol {
	return d.proto
}

// Close releases the UDP endpoint.
func (d *Device) Close() error {
	return d.proto.Close()
}

func (d *Device) open(ctx context.Context) error {
	if d.info == nil {
		return ErrNotBound
	}
	addr, err := d.info.Addr()
	if err != nil {
		return fmt.Errorf("resolve %s: %w", d.info.IP, err)
	}
	return d.proto.Open(ctx, addr)
}

// Get returns the last known value of p, or nil when it was never reported.
func (d *Device) Get(p Property) any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.properties[p.Key()]
}

// Set changes the local value of p and marks it dirty. Setting the current
// value does nothing.
func (d *Device) Set(p Property, value any) {
	value = normalizeSetValue(value)

	d.mu.Lock()
	defer d.mu.Unlock()
	key := p.Key()
	// A property that was never reported compares as nil.
	if reflect.DeepEqual(d.properties[key], value) {
		return
	}
	d.properties[key] = value
	if !slices.Contains(d.dirty, key) {
		d.dirty = append(d.dirty, key)
	}
}

func normalizeSetValue(v any) any {
	switch n := v.(type) {
	case bool:
		if n {
			return 1
		}
		return 0
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return int(n)
	case float64:
		return normalizeValue(n)
	case float32:
		return normalizeValue(float64(n))
	}
	return v
}

// Properties returns a copy of the property map keyed by wire key.
func (d *Device) Properties() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.properties)
}

// Dirty returns the wire keys changed locally and not yet pushed.
func (d *Device) Dirty() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.dirty)
}

// HID returns the firmware identifier reported by the unit.
func (d *Device) HID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hid
}

// Version returns the firmware version derived from the hid.
func (d *Device) Version() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

// statusKeys lists every property to poll, plus hid while it is unknown.
func (d *Device) statusKeys() []string {
	keys := make([]string, 0, len(d.schema.properties)+1)
	for _, p := range d.schema.properties {
		keys = append(keys, p.Key())
	}
	if d.HID() == "" {
		keys = append(keys, hidKey)
	}
	return keys
}

// UpdateState polls every known property, binding first if needed.
// Properties are requested in batches of 23, one after the other.
func (d *Device) UpdateState(ctx context.Context) error {
	if err := d.ensureBound(ctx); err != nil {
		return err
	}
	if err := d.open(ctx); err != nil {
		return err
	}

	batches := slices.Collect(slices.Chunk(d.statusKeys(), statusBatchSize))
	d.logger.Debug("updating device properties", "device", d.info.String(), "batches", len(batches))

	for i, batch := range batches {
		d.logger.Debug("requesting batch", "batch", i+1, "of", len(batches), "cols", batch)
		if _, err := d.proto.Request(ctx, NewStatusMessage(d.info, batch...), ResponseData); err != nil {
			if isTimeout(err) {
				d.logger.Error("timeout while requesting device state", "device", d.info.String())
				return deviceTimeout(err)
			}
			d.logger.Error("error updating state", "device", d.info.String(), "error", err)
			return err
		}
	}
	return nil
}

// GetAllProperties polls the unit and returns every known property.
func (d *Device) GetAllProperties(ctx context.Context) (map[Property]any, error) {
	if err := d.UpdateState(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	all := make(map[Property]any, len(d.schema.properties))
	for _, p := range d.schema.properties {
		all[p] = d.properties[p.Key()]
	}
	return all, nil
}

// RequestVersion asks the unit for its firmware identifier.
func (d *Device) RequestVersion(ctx context.Context) error {
	if err := d.ensureBound(ctx); err != nil {
		return err
	}
	if err := d.open(ctx); err != nil {
		return err
	}
	if _, err := d.proto.Request(ctx, NewStatusMessage(d.info, hidKey), ResponseData); err != nil {
		if isTimeout(err) {
			return deviceTimeout(err)
		}
		return err
	}
	return nil
}

// PushStateUpdate sends every dirty property in one command. It does nothing
// when no property is dirty. The dirty set is cleared before sending, so a
// Set racing with the push is kept for the next push. When the push fails
// the sent keys are marked dirty again.
func (d *Device) PushStateUpdate(ctx context.Context) error {
	if len(d.Dirty()) == 0 {
		return nil
	}
	if err := d.ensureBound(ctx); err != nil {
		return err
	}
	if err := d.open(ctx); err != nil {
		return err
	}

	keys, opt, values := d.takeDirty()
	if len(opt) == 0 {
		return nil
	}
	d.logger.Debug("pushing state updates", "device", d.info.String(), "opt", opt, "p", values)

	if _, err := d.proto.Request(ctx, NewCommandMessage(d.info, opt, values), ResponseResult); err != nil {
		d.markDirty(keys)
		if isTimeout(err) {
			return deviceTimeout(err)
		}
		return err
	}
	return nil
}

// takeDirty snapshots the dirty properties with their companions and clears
// the dirty set. keys are the properties that were dirty.
func (d *Device) takeDirty() (keys, opt []string, values []any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	add := func(key string) {
		if slices.Contains(opt, key) {
			return
		}
		opt = append(opt, key)
		values = append(values, d.properties[key])
	}
	for _, key := range d.dirty {
		add(key)
		for _, c := range d.schema.companions[Property(key)] {
			add(c.Key())
		}
	}
	keys, d.dirty = d.dirty, nil
	return keys, opt, values
}

func (d *Device) markDirty(keys []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, key := range keys {
		if !slices.Contains(d.dirty, key) {
			d.dirty = append(d.dirty, key)
		}
	}
}

// HandleStateUpdate merges values reported by the unit. Reported values
// always overwrite local ones.
func (d *Device) HandleStateUpdate(values map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, value := range values {
		if key == hidKey {
			d.setHID(value)
			continue
		}
		if old, ok := d.properties[key]; !ok || !reflect.DeepEqual(old, value) {
			d.logger.Debug("property updated", "key", key, "from", old, "to", value)
		}
		d.properties[key] = value
	}

	sensor := d.schema.sensor
	if !d.checkVersion || sensor == "" {
		return
	}
	if v, ok := values[sensor.Key()]; ok {
		d.checkVersion = false
		// Older firmware reports the sensor without the offset.
		if t, ok := sensorReading(v); ok && t != 0 && t < TempOffset {
			d.version = "4.0"
			d.logger.Info("device version changed", "version", d.version, "hid", d.hid)
		}
	}
}

func (d *Device) setHID(value any) {
	hid, _ := value.(string)
	d.hid = hid
	d.version = ""
	if m := versionPattern.FindStringSubmatch(hid); m != nil {
		d.version = m[1]
	}
	d.logger.Info("device firmware", "version", d.version, "hid", d.hid)
}

// sensorReading returns a temperature report as a number. Fractional
// readings stay float64 after decoding.
func sensorReading(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Equal reports whether two handles describe the same unit in the same
// synchronised state. Handles with unpushed changes are never equal.
func (d *Device) Equal(o *Device) bool {
	if d == o {
		return true
	}
	if d == nil || o == nil {
		return false
	}
	if !d.info.Equal(o.info) {
		return false
	}
	c1, c2 := d.proto.Cipher(), o.proto.Cipher()
	if (c1 == nil) != (c2 == nil) {
		return false
	}
	if c1 != nil && c1.Key() != c2.Key() {
		return false
	}
	if len(d.Dirty()) > 0 || len(o.Dirty()) > 0 {
		return false
	}
	return maps.EqualFunc(d.Properties(), o.Properties(), func(a, b any) bool {
		return reflect.DeepEqual(a, b)
	})
}

// getInt returns p as an int when it holds one.
func (d *Device) getInt(p Property) (int, bool) {
	v, ok := d.Get(p).(int)
	return v, ok
}

func (d *Device) getBool(p Property) bool {
	v, _ := d.getInt(p)
	return v != 0
}

var errNotReported = errors.New("not reported by the device")

func (d *Device) requireInt(p Property) (int, error) {
	v, ok := d.getInt(p)
	if !ok {
		return 0, fmt.Errorf("%w: %s %w", ErrInvalidProperty, p.Key(), errNotReported)
	}
	return v, nil
}

package gree

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClimate(t *testing.T, info *DeviceInfo, opts ...Option) *Climate {
	t.Helper()
	opts = append([]Option{
		WithBindTimeout(300 * time.Millisecond),
		WithRequestTimeout(2 * time.Second),
	}, opts...)
	c, err := NewClimate(info, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestBind_V1(t *testing.T) {
	f := newFakeDevice(t, "v1")
	c := newTestClimate(t, f.info())

	require.NoError(t, c.Bind(context.Background(), "", nil))
	require.True(t, c.Bound())
	assert.Equal(t, "v1", c.Protocol().Cipher().Name())

	key, err := c.Protocol().DeviceKey()
	require.NoError(t, err)
	assert.Equal(t, testSessionKey, key)
}

func TestBind_FallsBackToV2(t *testing.T) {
	f := newFakeDevice(t, "v2")
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	c := newTestClimate(t, f.info(), WithMetrics(m))

	require.NoError(t, c.Bind(context.Background(), "", nil))
	assert.Equal(t, "v2", c.Protocol().Cipher().Name())
	assert.Equal(t, testSessionKey, c.Protocol().Cipher().Key())

	assert.Equal(t, 1.0, counterValue(t, m.bindAttempts.WithLabelValues("v1", "timeout")))
	assert.Equal(t, 1.0, counterValue(t, m.bindAttempts.WithLabelValues("v2", "ok")))
}

func TestBind_ExplicitCipher(t *testing.T) {
	f := newFakeDevice(t, "v2")
	c := newTestClimate(t, f.info())

	require.NoError(t, c.Bind(context.Background(), "", NewCipherV2()))
	assert.Equal(t, "v2", c.Protocol().Cipher().Name())
	assert.Len(t, f.received("bind"), 1)
}

func TestBind_Timeout(t *testing.T) {
	f := newFakeDevice(t, "")
	c := newTestClimate(t, f.info())

	start := time.Now()
	err := c.Bind(context.Background(), "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceTimeout)
	assert.False(t, c.Bound(), "a failed negotiation must not leave a cipher behind")
	assert.GreaterOrEqual(t, time.Since(start), 600*time.Millisecond)
}

func TestBind_TimeoutRestoresPreviousCipher(t *testing.T) {
	f := newFakeDevice(t, "")
	c := newTestClimate(t, f.info())

	require.NoError(t, c.Bind(context.Background(), testSessionKey, NewCipherV1()))
	err := c.Bind(context.Background(), "", NewCipherV2())
	assert.ErrorIs(t, err, ErrDeviceTimeout)

	require.NotNil(t, c.Protocol().Cipher())
	assert.Equal(t, "v1", c.Protocol().Cipher().Name())
	assert.Equal(t, testSessionKey, c.Protocol().Cipher().Key())
}

func TestBind_DirectKey(t *testing.T) {
	c := newTestClimate(t, testInfo)

	require.NoError(t, c.Bind(context.Background(), testSessionKey, NewCipherV2()))
	assert.Equal(t, "v2", c.Protocol().Cipher().Name())
	assert.Equal(t, testSessionKey, c.Protocol().Cipher().Key())
}

func TestBind_KeyWithoutCipher(t *testing.T) {
	c := newTestClimate(t, testInfo)

	err := c.Bind(context.Background(), testSessionKey, nil)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.False(t, c.Bound())
}

func TestBind_NoDeviceInfo(t *testing.T) {
	c := newTestClimate(t, nil)

	err := c.Bind(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrNotBound)

	_, err = c.GetAllProperties(context.Background())
	assert.ErrorIs(t, err, ErrNotBound)
}

func TestUpdateState_Batches(t *testing.T) {
	f := newFakeDevice(t, "v1")
	c := newTestClimate(t, f.info())

	require.NoError(t, c.UpdateState(context.Background()))

	requests := f.received("status")
	require.Len(t, requests, 2)
	assert.Len(t, requests[0]["cols"], statusBatchSize)

	var cols []string
	for _, r := range requests {
		for _, col := range r["cols"].([]any) {
			cols = append(cols, col.(string))
		}
	}
	want := []string{hidKey}
	for _, p := range c.KnownProperties() {
		want = append(want, p.Key())
	}
	assert.ElementsMatch(t, want, cols)

	assert.Equal(t, 1, c.Get(PropPower))
	assert.Equal(t, 24, c.Get(PropTempSet))
	assert.Equal(t, "3.31", c.Version())
	assert.Empty(t, c.Dirty())
}

func TestUpdateState_SkipsKnownHID(t *testing.T) {
	f := newFakeDevice(t, "v1")
	c := newTestClimate(t, f.info())

	require.NoError(t, c.UpdateState(context.Background()))
	require.NoError(t, c.UpdateState(context.Background()))

	requests := f.received("status")
	require.Len(t, requests, 4)
	for _, r := range requests[2:] {
		assert.NotContains(t, r["cols"], hidKey)
	}
}

func TestUpdateState_Timeout(t *testing.T) {
	f := newFakeDevice(t, "")
	c := newTestClimate(t, f.info(), WithRequestTimeout(200*time.Millisecond))
	require.NoError(t, c.Bind(context.Background(), testSessionKey, NewCipherV1()))

	err := c.UpdateState(context.Background())
	assert.ErrorIs(t, err, ErrDeviceTimeout)
}

func TestGetAllProperties(t *testing.T) {
	f := newFakeDevice(t, "v2")
	c := newTestClimate(t, f.info())

	all, err := c.GetAllProperties(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, len(c.KnownProperties()))
	assert.Equal(t, 1, all[PropMode])
	assert.Equal(t, 0, all[PropTurbo])
}

func TestRequestVersion(t *testing.T) {
	f := newFakeDevice(t, "v1")
	c := newTestClimate(t, f.info())

	require.NoError(t, c.RequestVersion(context.Background()))
	assert.Equal(t, "362001000762+U-CS532AE(LT)V3.31.bin", c.HID())
	assert.Equal(t, "3.31", c.Version())
}

func TestPushStateUpdate(t *testing.T) {
	f := newFakeDevice(t, "v1")
	c := newTestClimate(t, f.info())
	ctx := context.Background()

	c.SetPower(false)
	c.SetTurbo(true)
	require.NoError(t, c.PushStateUpdate(ctx))
	assert.Empty(t, c.Dirty())

	cmds := f.received("cmd")
	require.Len(t, cmds, 1)
	assert.Equal(t, []any{"Pow", "Tur"}, cmds[0]["opt"])
	assert.Equal(t, []any{float64(0), float64(1)}, cmds[0]["p"])
	assert.Equal(t, 0, c.Get(PropPower))
}

func TestPushStateUpdate_NothingDirty(t *testing.T) {
	f := newFakeDevice(t, "v1")
	c := newTestClimate(t, f.info())

	require.NoError(t, c.PushStateUpdate(context.Background()))
	assert.Empty(t, f.all(), "no traffic without dirty properties")
}

func TestPushStateUpdate_Fahrenheit(t *testing.T) {
	f := newFakeDevice(t, "v1")
	c := newTestClimate(t, f.info())

	c.HandleStateUpdate(map[string]any{"TemUn": 1, "TemRec": 0, "SetTem": 20})
	require.NoError(t, c.SetTargetTemperature(72))
	require.NoError(t, c.PushStateUpdate(context.Background()))

	cmds := f.received("cmd")
	require.Len(t, cmds, 1)
	assert.Equal(t, []any{"SetTem", "TemRec", "TemUn"}, cmds[0]["opt"])
	assert.Equal(t, []any{float64(22), float64(1), float64(1)}, cmds[0]["p"])
}

func TestPushStateUpdate_Timeout(t *testing.T) {
	f := newFakeDevice(t, "")
	c := newTestClimate(t, f.info(), WithRequestTimeout(200*time.Millisecond))
	require.NoError(t, c.Bind(context.Background(), testSessionKey, NewCipherV1()))

	c.SetPower(true)
	err := c.PushStateUpdate(context.Background())
	assert.ErrorIs(t, err, ErrDeviceTimeout)
	assert.Equal(t, []string{"Pow"}, c.Dirty(), "a failed push keeps its keys dirty")
}

func TestTakeDirty_CompanionsAndReentry(t *testing.T) {
	c := newTestClimate(t, testInfo)
	c.HandleStateUpdate(map[string]any{"TemUn": 0, "TemRec": 0})

	c.Set(PropTempSet, 23)
	c.Set(PropTempBit, 0)
	keys, opt, values := c.takeDirty()
	assert.Equal(t, []string{"SetTem"}, keys)
	assert.Equal(t, []string{"SetTem", "TemRec", "TemUn"}, opt)
	assert.Equal(t, []any{23, 0, 0}, values)
	assert.Empty(t, c.Dirty())

	// A Set after the snapshot stays dirty for the next push.
	c.Set(PropPower, true)
	assert.Equal(t, []string{"Pow"}, c.Dirty())
}

func TestSet(t *testing.T) {
	c := newTestClimate(t, testInfo)

	c.Set(PropPower, true)
	assert.Equal(t, 1, c.Get(PropPower))
	assert.Equal(t, []string{"Pow"}, c.Dirty())

	c.Set(PropPower, 1)
	c.Set(PropPower, true)
	assert.Equal(t, []string{"Pow"}, c.Dirty())

	c.Set(PropMode, int64(4))
	assert.Equal(t, 4, c.Get(PropMode))
	assert.Equal(t, []string{"Pow", "Mod"}, c.Dirty())
}

func TestSet_CompositeValue(t *testing.T) {
	c := newTestClimate(t, testInfo)

	assert.NotPanics(t, func() {
		c.Set(PropPower, []int{1})
		c.Set(PropPower, []int{1})
	})
	assert.Equal(t, []string{"Pow"}, c.Dirty())
}

func TestSet_NilOnUnreportedNotDirty(t *testing.T) {
	c := newTestClimate(t, testInfo)

	c.Set(PropPower, nil)
	assert.Empty(t, c.Dirty())
}

func TestSet_SameValueNotDirty(t *testing.T) {
	c := newTestClimate(t, testInfo)
	c.HandleStateUpdate(map[string]any{"Pow": 1})

	c.SetPower(true)
	assert.Empty(t, c.Dirty())
}

func TestGet_DoesNotMutate(t *testing.T) {
	c := newTestClimate(t, testInfo)

	assert.Nil(t, c.Get(PropPower))
	assert.Empty(t, c.Properties())
	assert.Empty(t, c.Dirty())
}

func TestHandleStateUpdate_Overwrites(t *testing.T) {
	c := newTestClimate(t, testInfo)

	c.Set(PropPower, true)
	c.HandleStateUpdate(map[string]any{"Pow": 0})
	assert.Equal(t, 0, c.Get(PropPower))
}

func TestHandleStateUpdate_HID(t *testing.T) {
	c := newTestClimate(t, testInfo)

	c.HandleStateUpdate(map[string]any{"hid": "362001000762+U-CS532AE(LT)V3.31.bin"})
	assert.Equal(t, "3.31", c.Version())
	assert.Nil(t, c.Get("hid"), "hid is not a property")

	c.HandleStateUpdate(map[string]any{"hid": "no version here"})
	assert.Equal(t, "no version here", c.HID())
	assert.Empty(t, c.Version(), "an unparsable hid clears the version")
}

func TestHandleStateUpdate_FractionalSensor(t *testing.T) {
	c := newTestClimate(t, testInfo)

	c.Protocol().PacketReceived(&Packet{Pack: json.RawMessage(`{"t":"dat","cols":["TemSen"],"dat":[25.5]}`)}, testAddr)
	assert.Equal(t, 25.5, c.Get(PropTempSensor))
	assert.Equal(t, "4.0", c.Version())
}

func TestHandleStateUpdate_OldFirmwareSensor(t *testing.T) {
	c := newTestClimate(t, testInfo)

	c.HandleStateUpdate(map[string]any{"TemSen": 25})
	assert.Equal(t, "4.0", c.Version())
}

func TestHandleStateUpdate_SensorCheckedOnce(t *testing.T) {
	c := newTestClimate(t, testInfo)

	c.HandleStateUpdate(map[string]any{"TemSen": 65})
	assert.Empty(t, c.Version())

	c.HandleStateUpdate(map[string]any{"TemSen": 25})
	assert.Empty(t, c.Version())
}

func TestHandleStateUpdate_ZeroSensorIgnored(t *testing.T) {
	c := newTestClimate(t, testInfo)

	c.HandleStateUpdate(map[string]any{"TemSen": 0})
	assert.Empty(t, c.Version())
}

func TestDevice_Equal(t *testing.T) {
	a := newTestClimate(t, NewDeviceInfo("10.0.0.2", 0, "aabbcc"))
	b := newTestClimate(t, NewDeviceInfo("10.0.0.2", 0, "aabbcc"))
	assert.True(t, a.Equal(b.Device))

	a.HandleStateUpdate(map[string]any{"Pow": 1})
	assert.False(t, a.Equal(b.Device))
	b.HandleStateUpdate(map[string]any{"Pow": 1})
	assert.True(t, a.Equal(b.Device))

	require.NoError(t, a.Bind(context.Background(), testSessionKey, NewCipherV1()))
	assert.False(t, a.Equal(b.Device))
	require.NoError(t, b.Bind(context.Background(), testSessionKey, NewCipherV1()))
	assert.True(t, a.Equal(b.Device))

	a.SetTurbo(true)
	b.SetTurbo(true)
	assert.False(t, a.Equal(b.Device), "dirty handles are never equal")

	c1 := newTestClimate(t, NewDeviceInfo("10.0.0.4", 0, "ddeeff"))
	c2 := newTestClimate(t, NewDeviceInfo("10.0.0.4", 0, "ddeeff"))
	c1.HandleStateUpdate(map[string]any{"Pow": []any{float64(1)}})
	c2.HandleStateUpdate(map[string]any{"Pow": []any{float64(1)}})
	assert.NotPanics(t, func() { assert.True(t, c1.Equal(c2.Device)) })
	c2.HandleStateUpdate(map[string]any{"Pow": []any{float64(2)}})
	assert.False(t, c1.Equal(c2.Device))

	other := newTestClimate(t, NewDeviceInfo("10.0.0.3", 0, "aabbcc"))
	assert.False(t, other.Equal(b.Device))
	assert.False(t, a.Equal(nil))
}

func TestLookupProperty(t *testing.T) {
	c := newTestClimate(t, testInfo)

	p, err := c.LookupProperty("power")
	require.NoError(t, err)
	assert.Equal(t, PropPower, p)

	p, err = c.LookupProperty("SetTem")
	require.NoError(t, err)
	assert.Equal(t, PropTempSet, p)

	_, err = c.LookupProperty("nonsense")
	assert.ErrorIs(t, err, ErrInvalidProperty)

	assert.Contains(t, c.PropertyNames(), "temp_set")
}

func TestNewDevice_CustomProperties(t *testing.T) {
	f := newFakeDevice(t, "v1")
	d, err := NewDevice(f.info(), []Property{"Pow", "Lig"}, WithBindTimeout(300*time.Millisecond))
	require.NoError(t, err)
	defer d.Close()

	all, err := d.GetAllProperties(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[Property]any{"Pow": 1, "Lig": 0}, all)
}

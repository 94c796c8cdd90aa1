package gattble

import (
	"testing"

	"github.com/fako1024/gatt"
	"github.com/fako1024/shotctl/pkg/ble"
	"github.com/fako1024/shotctl/pkg/scale"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatches(t *testing.T) {
	for _, cs := range []struct {
		ref      scale.DeviceRef
		id, name string
		expected bool
	}{
		{scale.DeviceRef{Name: "BOOKOO_SC"}, "11:22", "bookoo_sc", true},
		{scale.DeviceRef{Name: "BOOKOO_SC"}, "11:22", "FELICITA", false},
		{scale.DeviceRef{ID: "aa:bb"}, "AA:BB", "whatever", true},
		{scale.DeviceRef{ID: "aa:bb", Name: "BOOKOO_SC"}, "cc:dd", "BOOKOO_SC", false},
		{scale.DeviceRef{}, "", "", false},
	} {
		assert.Equal(t, cs.expected, matches(cs.ref, cs.id, cs.name), "%+v", cs)
	}
}

func TestConvertProperties(t *testing.T) {
	props := convertProperties(gatt.CharNotify | gatt.CharWriteNR)
	assert.Equal(t, ble.PropNotify|ble.PropWriteNoResponse, props)

	props = convertProperties(gatt.CharRead | gatt.CharWrite | gatt.CharIndicate)
	assert.Equal(t, ble.PropRead|ble.PropWrite|ble.PropIndicate, props)
	assert.True(t, ble.Characteristic{Properties: props}.CanNotify())

	assert.Zero(t, convertProperties(0))
}

func TestNotConnected(t *testing.T) {
	tr := New()

	require.Error(t, tr.Connect(scale.DeviceRef{}))
	require.NoError(t, tr.Disconnect())
	assert.False(t, tr.IsConnected())

	require.ErrorIs(t, tr.DiscoverServices(), scale.ErrNotConnected)
	require.ErrorIs(t, tr.DiscoverCharacteristics("0ffe"), scale.ErrNotConnected)
	require.ErrorIs(t, tr.EnableNotifications("0ffe", "ff11"), scale.ErrNotConnected)
	require.ErrorIs(t, tr.Write("0ffe", "ff12", []byte{0x03}, false), scale.ErrNotConnected)
	require.ErrorIs(t, tr.Read("0ffe", "ff11"), scale.ErrNotConnected)
}

func TestEmit(t *testing.T) {
	tr := New(WithMTU(185))
	assert.Equal(t, uint16(185), tr.mtu)

	// No handler, no panic
	tr.emit(ble.Event{Type: ble.EventConnected})

	var events []ble.Event
	tr.SetEventHandler(func(ev ble.Event) { events = append(events, ev) })
	tr.emit(ble.Event{Type: ble.EventError, Err: ErrPoweredOff})

	require.Len(t, events, 1)
	assert.ErrorIs(t, events[0].Err, ErrPoweredOff)
}

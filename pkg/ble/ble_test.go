package ble

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSameUUID(t *testing.T) {
	assert.True(t, SameUUID("ff11", "FF11"))
	assert.True(t, SameUUID("ff11", "0000ff11-0000-1000-8000-00805f9b34fb"))
	assert.True(t, SameUUID("{0000FF11-0000-1000-8000-00805F9B34FB}", "ff11"))
	assert.True(t, SameUUID("0000ff1100001000800000805f9b34fb", "ff11"))
	assert.False(t, SameUUID("ff11", "ff12"))
	assert.False(t, SameUUID("ff11", "0000ff11-0000-1000-8000-00805f9b34fc"))
}

func TestCanNotify(t *testing.T) {
	assert.True(t, Characteristic{Properties: PropNotify}.CanNotify())
	assert.True(t, Characteristic{Properties: PropIndicate | PropRead}.CanNotify())
	assert.False(t, Characteristic{Properties: PropWrite | PropWriteNoResponse}.CanNotify())
}

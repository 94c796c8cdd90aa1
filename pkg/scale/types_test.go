package scale

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandString(t *testing.T) {
	assert.Equal(t, "tare", CmdTare.String())
	assert.Equal(t, "reset_timer", CmdResetTimer.String())
	assert.Equal(t, "unknown", Command(42).String())
	assert.Equal(t, "unknown", Command(-1).String())

	err := fmt.Errorf("%w: %s", ErrCommandUnsupported, Command(42))
	assert.ErrorIs(t, err, ErrCommandUnsupported)
	assert.Contains(t, err.Error(), "unknown")
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "awaiting_first_data", StateAwaitingFirstData.String())
	assert.Equal(t, "unknown", ConnectionState(99).String())
}

//go:build linux

package power

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
)

func TestPrepareForSleepBody(t *testing.T) {
	signalName := login1Interface + "." + prepareForSleep

	entering, valid := prepareForSleepBody(&dbus.Signal{Name: signalName, Body: []any{true}})
	assert.True(t, valid)
	assert.True(t, entering)

	entering, valid = prepareForSleepBody(&dbus.Signal{Name: signalName, Body: []any{false}})
	assert.True(t, valid)
	assert.False(t, entering)

	_, valid = prepareForSleepBody(&dbus.Signal{Name: "org.other.Signal", Body: []any{true}})
	assert.False(t, valid)

	_, valid = prepareForSleepBody(&dbus.Signal{Name: signalName, Body: []any{"yes"}})
	assert.False(t, valid)

	_, valid = prepareForSleepBody(nil)
	assert.False(t, valid)
}

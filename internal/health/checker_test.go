package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecker_NewAndDefaults(t *testing.T) {
	hc := NewChecker()

	assert.True(t, hc.IsHealthy(), "new checker should start healthy")
	assert.Equal(t, "connected", hc.Status())
}

func TestChecker_SetHealthy(t *testing.T) {
	hc := NewChecker()

	hc.SetHealthy(false)
	assert.False(t, hc.IsHealthy())
	assert.Equal(t, "unavailable", hc.Status())

	hc.SetHealthy(true)
	assert.True(t, hc.IsHealthy())
}

func TestChecker_Nil(t *testing.T) {
	var hc *Checker

	assert.True(t, hc.IsHealthy())
	assert.NotPanics(t, func() { hc.SetHealthy(false) })
}

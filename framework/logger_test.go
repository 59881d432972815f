package framework

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapturingLoggerRecordsMessagesInOrder(t *testing.T) {
	var logger CapturingLogger
	logger.Printf("a %d", 1)
	logger.Println("b", 2)
	assert.Equal(t, []string{"a 1", "b 2"}, logger.Output().Messages())
}

func TestPrefixedLogger(t *testing.T) {
	var base CapturingLogger
	logger := LoggerWithPrefix(&base, "[runner] ")
	logger.Printf("started %s", "x")
	assert.Equal(t, []string{"[runner] started x"}, base.Output().Messages())
}

func TestPrefixedLoggerWithNilBase(t *testing.T) {
	assert.NotPanics(t, func() { LoggerWithPrefix(nil, "x").Printf("y") })
}

func TestCapabilitiesMissing(t *testing.T) {
	cs := Capabilities{CapabilityMethodCanIgnore}
	assert.True(t, cs.Has(CapabilityMethodCanIgnore))
	assert.False(t, cs.HasAny(CapabilityTagFilter, CapabilityClassCanIgnore))
	assert.Equal(t,
		Capabilities{CapabilityMethodCanHaveTimeout, CapabilityClassCanIgnore, CapabilityTagFilter},
		cs.Missing(AllCapabilities()))
}

package helpers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type widget struct {
	names []string
}

type widgetOption interface {
	ConfigOption[widget]
}

type widgetName string

func (o widgetName) Configure(w *widget) error {
	if o == "" {
		return errors.New("empty name")
	}
	w.names = append(w.names, string(o))
	return nil
}

func TestApplyOptionsInOrder(t *testing.T) {
	var w widget
	assert.NoError(t, ApplyOptions(&w, []widgetOption{widgetName("a"), widgetName("b")}...))
	assert.Equal(t, []string{"a", "b"}, w.names)
}

func TestApplyOptionsStopsAtError(t *testing.T) {
	var w widget
	err := ApplyOptions(&w, []widgetOption{widgetName("a"), widgetName(""), widgetName("c")}...)
	assert.EqualError(t, err, "empty name")
	assert.Equal(t, []string{"a"}, w.names)
}

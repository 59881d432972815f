package opt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNone(t *testing.T) {
	assert.False(t, None[string]().IsDefined())
	assert.Equal(t, 0, None[int]().Value())
	assert.Equal(t, "", None[string]().Value())
	assert.Equal(t, "[none]", None[string]().String())
}

func TestSome(t *testing.T) {
	assert.True(t, Some("").IsDefined())
	assert.Equal(t, "x", Some("x").Value())
	assert.Equal(t, "3", Some(3).String())
}

func TestOrElse(t *testing.T) {
	assert.Equal(t, "prior", None[string]().OrElse("prior"))
	assert.Equal(t, "", Some("").OrElse("prior"))
}

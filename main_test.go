package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressOutputKeepsStdoutForServiceMessagesInTeamCityMode(t *testing.T) {
	assert.Same(t, os.Stderr, progressOutput(true))
	assert.Same(t, os.Stdout, progressOutput(false))
}

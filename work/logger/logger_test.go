package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLogLevel("debug"))
	assert.Equal(t, WARN, ParseLogLevel("Warning"))
	assert.Equal(t, ERROR, ParseLogLevel("ERROR"))
	assert.Equal(t, INFO, ParseLogLevel("nonsense"))
}

func TestInstanceLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("warn", &buf)

	l.Info("{logger - test} hidden %d", 1)
	assert.Empty(t, buf.String())

	l.Warn("{logger - test} shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")
	assert.Equal(t, "WARN", l.GetLevel())

	buf.Reset()
	l.SetLevel("debug")
	l.Debug("{logger - test} now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestPackageLevelOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLogLevel("info")

	Error("{logger - test} boom %s", "here")
	assert.Contains(t, buf.String(), "boom here")
	assert.Equal(t, "INFO", GetLogLevel())
}

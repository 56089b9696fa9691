package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelGating(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	defer SetOutput(&bytes.Buffer{})

	l := GetLogger("[test]", LogLevelWarn)
	l.Info("info %d", 1)
	l.Warn("warn %d", 2)
	l.Error("error %d", 3)
	l.Debug("debug %d", 4)

	out := buf.String()
	assert.Contains(t, out, "info 1")
	assert.Contains(t, out, "warn 2")
	assert.NotContains(t, out, "error 3")
	assert.NotContains(t, out, "debug 4")
	assert.Contains(t, out, `"component":"[test]"`)
}

func TestDebugLevelEnablesEverything(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	defer SetOutput(&bytes.Buffer{})

	l := GetLogger("[test]", LogLevelDebug)
	l.Error("error")
	l.Debug("debug")

	assert.Contains(t, buf.String(), "error")
	assert.Contains(t, buf.String(), "debug")
	assert.Equal(t, buf, l.GetWriter())
}

package util

import (
	"bytes"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	saved := pterm.DefaultLogger
	pterm.DefaultLogger = *pterm.DefaultLogger.WithWriter(&buf).WithLevel(pterm.LogLevelInfo)
	t.Cleanup(func() { pterm.DefaultLogger = saved })

	LogDebug("candidate buffered")
	assert.Empty(t, buf.String(), "debug is hidden by default")

	EnableDebug()
	LogDebug("candidate buffered (%d pending)", 2)
	assert.Contains(t, buf.String(), "candidate buffered (2 pending)")

	buf.Reset()
	PionLoggerFactory{}.NewLogger("ice").Infof("gathering %s", "done")
	assert.Contains(t, buf.String(), "pion/ice: gathering done")
}

package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "pk_1****wxyz", maskToken("pk_12345wxyz"))
	assert.Equal(t, "*****", maskToken("short"))
}

func TestNewLoggerLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", false)

	logger.Info("hidden")
	logger.Warn("shown", "k", 1)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)

	buf.Reset()
	newLogger(&buf, "bogus", true).Info("text")
	assert.Contains(t, buf.String(), "msg=text")
	assert.True(t, newLogger(&buf, "debug", true).Enabled(context.Background(), slog.LevelDebug))
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"sync"}, {"serve"}, {"employees"}, {"report"}, {"status"},
		{"map", "add"}, {"map", "rm"}, {"map", "ls"}, {"map", "refresh"}, {"map", "export"}, {"map", "import"},
		{"config", "init"}, {"config", "show"}, {"config", "path"},
	} {
		cmd, _, err := rootCmd.Find(path)
		assert.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

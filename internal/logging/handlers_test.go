package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textSink(level slog.Level) (*bytes.Buffer, slog.Handler) {
	buf := &bytes.Buffer{}
	return buf, slog.NewTextHandler(buf, &slog.HandlerOptions{Level: level})
}

func TestFanout_CopiesToAllSinks(t *testing.T) {
	bufA, a := textSink(slog.LevelDebug)
	bufB, b := textSink(slog.LevelDebug)

	logger := slog.New(NewFanout(a, b))
	logger.Info("hello", "n", 1)

	assert.Contains(t, bufA.String(), "hello")
	assert.Contains(t, bufB.String(), "hello")
}

func TestFanout_RespectsPerSinkLevels(t *testing.T) {
	debugBuf, debugSink := textSink(slog.LevelDebug)
	warnBuf, warnSink := textSink(slog.LevelWarn)

	h := NewFanout(debugSink, warnSink)
	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))

	logger := slog.New(h)
	logger.Debug("noisy")
	logger.Warn("important")

	assert.Contains(t, debugBuf.String(), "noisy")
	assert.NotContains(t, warnBuf.String(), "noisy")
	assert.Contains(t, warnBuf.String(), "important")
}

func TestFanout_SingleSinkPassthrough(t *testing.T) {
	_, a := textSink(slog.LevelInfo)
	assert.Equal(t, a, NewFanout(a))
}

func TestFanout_WithAttrs(t *testing.T) {
	buf, a := textSink(slog.LevelInfo)

	logger := slog.New(NewFanout(a, slog.NewTextHandler(&bytes.Buffer{}, nil)))
	logger.With("component", "remote").Info("dialed")

	assert.Contains(t, buf.String(), "component=remote")
}

func TestWithMinLevel(t *testing.T) {
	buf, sink := textSink(slog.LevelDebug)
	h := WithMinLevel(sink, slog.LevelWarn)

	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))

	logger := slog.New(h)
	logger.Info("below the floor")
	logger.Error("above the floor")

	require.NotContains(t, buf.String(), "below the floor")
	assert.Contains(t, buf.String(), "above the floor")
}

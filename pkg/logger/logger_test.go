package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, b *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b.Bytes(), &m))
	return m
}

func TestFieldsAndComponent(t *testing.T) {
	var buf bytes.Buffer
	l := (&Logger{zl: newZerolog(&buf, zerolog.DebugLevel)}).Component("pipeline")

	l.Info("run finished",
		String("symbol", "^NSEI"),
		Int("rows", 280),
		Float("equity", 101234.5),
		Float("z_score", math.NaN()),
		Duration("took", 1500*time.Millisecond),
		Bool("reused", true),
		Error(errors.New("boom")),
	)

	m := decode(t, &buf)
	assert.Equal(t, "pipeline", m["component"])
	assert.Equal(t, "^NSEI", m["symbol"])
	assert.Equal(t, float64(280), m["rows"])
	assert.Equal(t, 101234.5, m["equity"])
	assert.Nil(t, m["z_score"])
	assert.Equal(t, float64(1500), m["took_ms"])
	assert.Equal(t, true, m["reused"])
	assert.Equal(t, "boom", m["error"])
}

func TestWithNestsContext(t *testing.T) {
	var buf bytes.Buffer
	l := (&Logger{zl: newZerolog(&buf, zerolog.InfoLevel)}).With(String("env", "test"))
	l.Debug("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("visible")
	m := decode(t, &buf)
	assert.Equal(t, map[string]interface{}{"env": "test"}, m["ctx"])
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud"})
	assert.Error(t, err)
}

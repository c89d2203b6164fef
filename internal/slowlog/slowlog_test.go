package slowlog

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMonitor(buf *bytes.Buffer) *Monitor {
	logger := zerolog.New(buf)
	return New(logger, 10*time.Millisecond, 50*time.Millisecond, 200*time.Millisecond)
}

func TestClassify(t *testing.T) {
	m := testMonitor(&bytes.Buffer{})

	tests := []struct {
		name string
		d    time.Duration
		want Severity
	}{
		{"fast", time.Millisecond, SeverityNone},
		{"at warn", 10 * time.Millisecond, SeverityWarn},
		{"between warn and error", 30 * time.Millisecond, SeverityWarn},
		{"at error", 50 * time.Millisecond, SeverityError},
		{"at critical", 200 * time.Millisecond, SeverityCritical},
		{"way past critical", time.Second, SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.classify(tt.d))
		})
	}
}

func TestObserveCountsAndMax(t *testing.T) {
	var buf bytes.Buffer
	m := testMonitor(&buf)

	assert.Equal(t, SeverityNone, m.Observe(time.Millisecond, "d1", "subscribe"))
	assert.Equal(t, SeverityWarn, m.Observe(20*time.Millisecond, "d1", "subscribe"))
	assert.Equal(t, SeverityError, m.Observe(60*time.Millisecond, "d2", "notify"))
	assert.Equal(t, SeverityCritical, m.Observe(300*time.Millisecond, "d3", "presence_trigger"))
	// Max must not regress.
	m.Observe(5*time.Millisecond, "d4", "subscribe")

	st := m.Snapshot()
	assert.Equal(t, uint64(1), st.WarnCount)
	assert.Equal(t, uint64(1), st.ErrorCount)
	assert.Equal(t, uint64(1), st.CriticalCount)
	assert.Equal(t, 300*time.Millisecond, st.MaxProcessing)
}

func TestObserveLogsDialogContext(t *testing.T) {
	var buf bytes.Buffer
	m := testMonitor(&buf)

	m.Observe(60*time.Millisecond, "abc123;ft=x", "notify")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "slowlog.exceeded", entry["event"])
	assert.Equal(t, "error", entry["severity"])
	assert.Equal(t, "abc123;ft=x", entry["dialog_id"])
	assert.Equal(t, "notify", entry["event_type"])
}

func TestSetThresholdsAtRuntime(t *testing.T) {
	var buf bytes.Buffer
	m := testMonitor(&buf)

	assert.Equal(t, SeverityNone, m.Observe(5*time.Millisecond, "d1", "subscribe"))

	m.SetThresholds(time.Millisecond, 2*time.Millisecond, 3*time.Millisecond)
	assert.Equal(t, SeverityCritical, m.Observe(5*time.Millisecond, "d1", "subscribe"))

	warn, errorT, critical := m.Thresholds()
	assert.Equal(t, time.Millisecond, warn)
	assert.Equal(t, 2*time.Millisecond, errorT)
	assert.Equal(t, 3*time.Millisecond, critical)
}

func TestTimerStopsOnce(t *testing.T) {
	var buf bytes.Buffer
	m := testMonitor(&buf)

	timer := m.Start("d1", "subscribe")
	d := timer.Stop()
	assert.Greater(t, d, time.Duration(0))
	assert.Equal(t, time.Duration(0), timer.Stop(), "second stop is a no-op")
}

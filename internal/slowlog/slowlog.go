// SPDX-License-Identifier: MIT

// Package slowlog flags event processing that exceeds configured latency
// thresholds. Thresholds are stored atomically so the config watcher can
// retune them at runtime without pausing workers.
package slowlog

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Badareenadh/sip-event-processor/internal/metrics"
)

// Severity classifies how far past the thresholds a single event went.
type Severity uint8

const (
	SeverityNone Severity = iota
	SeverityWarn
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "none"
	}
}

// Monitor measures per-event processing time against three thresholds.
// All fields are atomics; one Monitor is shared by every worker.
type Monitor struct {
	warnNanos     atomic.Int64
	errorNanos    atomic.Int64
	criticalNanos atomic.Int64

	warnCount     atomic.Uint64
	errorCount    atomic.Uint64
	criticalCount atomic.Uint64
	maxNanos      atomic.Int64

	logger zerolog.Logger
}

// Stats is a point-in-time snapshot for the stats endpoint.
type Stats struct {
	WarnThreshold     time.Duration `json:"warn_threshold_ms"`
	ErrorThreshold    time.Duration `json:"error_threshold_ms"`
	CriticalThreshold time.Duration `json:"critical_threshold_ms"`
	WarnCount         uint64        `json:"warn_count"`
	ErrorCount        uint64        `json:"error_count"`
	CriticalCount     uint64        `json:"critical_count"`
	MaxProcessing     time.Duration `json:"max_processing_ms"`
}

func New(logger zerolog.Logger, warn, errorT, critical time.Duration) *Monitor {
	m := &Monitor{logger: logger}
	m.SetThresholds(warn, errorT, critical)
	return m
}

// SetThresholds replaces all three thresholds. Invalid orderings are the
// loader's problem; here we only store what we are given.
func (m *Monitor) SetThresholds(warn, errorT, critical time.Duration) {
	m.warnNanos.Store(int64(warn))
	m.errorNanos.Store(int64(errorT))
	m.criticalNanos.Store(int64(critical))
}

// Thresholds returns the currently active thresholds.
func (m *Monitor) Thresholds() (warn, errorT, critical time.Duration) {
	return time.Duration(m.warnNanos.Load()),
		time.Duration(m.errorNanos.Load()),
		time.Duration(m.criticalNanos.Load())
}

// Timer tracks one event from dequeue to completion.
type Timer struct {
	m       *Monitor
	start   time.Time
	dialog  string
	event   string
	stopped bool
}

// Start begins timing one event. Callers must invoke Stop exactly once.
func (m *Monitor) Start(dialogID, eventType string) *Timer {
	return &Timer{m: m, start: time.Now(), dialog: dialogID, event: eventType}
}

// Stop records the elapsed time, classifies it and logs if slow.
func (t *Timer) Stop() time.Duration {
	if t.stopped {
		return 0
	}
	t.stopped = true
	d := time.Since(t.start)
	t.m.Observe(d, t.dialog, t.event)
	return d
}

// Observe classifies a measured duration, updates counters and the running
// maximum, and emits a log line when a threshold was crossed.
func (m *Monitor) Observe(d time.Duration, dialogID, eventType string) Severity {
	for {
		cur := m.maxNanos.Load()
		if int64(d) <= cur || m.maxNanos.CompareAndSwap(cur, int64(d)) {
			break
		}
	}

	sev := m.classify(d)
	if sev == SeverityNone {
		return sev
	}

	switch sev {
	case SeverityWarn:
		m.warnCount.Add(1)
	case SeverityError:
		m.errorCount.Add(1)
	case SeverityCritical:
		m.criticalCount.Add(1)
	}
	metrics.IncSlowEvent(sev.String())

	level := zerolog.WarnLevel
	if sev != SeverityWarn {
		level = zerolog.ErrorLevel
	}
	m.logger.WithLevel(level).
		Str("event", "slowlog.exceeded").
		Str("severity", sev.String()).
		Str("dialog_id", dialogID).
		Str("event_type", eventType).
		Dur("duration", d).
		Msg("slow event processing")
	return sev
}

func (m *Monitor) classify(d time.Duration) Severity {
	switch {
	case d >= time.Duration(m.criticalNanos.Load()):
		return SeverityCritical
	case d >= time.Duration(m.errorNanos.Load()):
		return SeverityError
	case d >= time.Duration(m.warnNanos.Load()):
		return SeverityWarn
	default:
		return SeverityNone
	}
}

// Snapshot returns counters and thresholds for the stats endpoint.
func (m *Monitor) Snapshot() Stats {
	warn, errorT, critical := m.Thresholds()
	return Stats{
		WarnThreshold:     warn,
		ErrorThreshold:    errorT,
		CriticalThreshold: critical,
		WarnCount:         m.warnCount.Load(),
		ErrorCount:        m.errorCount.Load(),
		CriticalCount:     m.criticalCount.Load(),
		MaxProcessing:     time.Duration(m.maxNanos.Load()),
	}
}

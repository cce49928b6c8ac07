package topology

import (
	"testing"
	"time"

	"github.com/WaRyXx06/astro-relay/internal/config"
)

func testManager(now *time.Time) *Manager {
	return &Manager{now: func() time.Time { return *now }}
}

func TestNewManager_MonitorCadenceFromConfig(t *testing.T) {
	cfg := config.Default()
	m := NewManager(nil, nil, nil, nil, nil, nil, cfg)
	if m.monitorInterval != 10*time.Minute {
		t.Errorf("monitor interval = %v, want the 10m default", m.monitorInterval)
	}

	cfg.Engine.MonitorIntervalMin = 3
	m = NewManager(nil, nil, nil, nil, nil, nil, cfg)
	if m.monitorInterval != 3*time.Minute {
		t.Errorf("monitor interval = %v, want 3m", m.monitorInterval)
	}
}

func TestAdapt_ErrorsPinFastestInterval(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	m := testManager(&now)

	// No error ever recorded: quiet passes climb the whole ladder.
	m.adapt(0, 0)
	m.adapt(0, 0)
	if got := m.interval(); got != 60*time.Minute {
		t.Fatalf("interval after clean quiet passes = %v, want 60m", got)
	}

	m.adapt(0, 1)
	if got := m.interval(); got != 5*time.Minute {
		t.Errorf("interval after an error = %v, want 5m", got)
	}
}

func TestAdapt_ChangesResetInterval(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	m := testManager(&now)

	m.adapt(0, 0)
	if got := m.interval(); got != 30*time.Minute {
		t.Fatalf("interval = %v, want 30m", got)
	}
	m.adapt(3, 0)
	if got := m.interval(); got != 5*time.Minute {
		t.Errorf("interval after changes = %v, want 5m", got)
	}
}

func TestAdapt_SlowestRungNeedsErrorFreeWindow(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	m := testManager(&now)

	m.adapt(0, 1) // error at noon
	m.adapt(0, 0) // back to 30m
	if got := m.interval(); got != 30*time.Minute {
		t.Fatalf("interval = %v, want 30m", got)
	}

	// One hour later the error is still inside the window.
	now = now.Add(time.Hour)
	m.adapt(0, 0)
	if got := m.interval(); got != 30*time.Minute {
		t.Errorf("climbed to %v with a recent error, want 30m", got)
	}

	// Past the two-hour window the hourly rung opens up.
	now = now.Add(90 * time.Minute)
	m.adapt(0, 0)
	if got := m.interval(); got != 60*time.Minute {
		t.Errorf("interval = %v, want 60m after an error-free window", got)
	}
}

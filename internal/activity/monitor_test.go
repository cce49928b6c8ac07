package activity

import (
	"testing"
	"time"
)

// mustTime builds a local time at the given weekday and hour.
func mustTime(t *testing.T, weekday time.Weekday, hour int) time.Time {
	t.Helper()
	// 2026-08-03 is a Monday.
	base := time.Date(2026, 8, 3, hour, 0, 0, 0, time.Local)
	return base.AddDate(0, 0, int(weekday-time.Monday))
}

func TestThreshold(t *testing.T) {
	tests := []struct {
		name     string
		weekday  time.Weekday
		hour     int
		want     time.Duration
		wantPing bool
	}{
		{"weekday afternoon", time.Tuesday, 14, 45 * time.Minute, true},
		{"weekday morning", time.Wednesday, 7, 45 * time.Minute, true},
		{"saturday", time.Saturday, 12, 90 * time.Minute, true},
		{"sunday", time.Sunday, 12, 90 * time.Minute, true},
		{"weekday night start", time.Tuesday, 23, 3 * time.Hour, false},
		{"weekday night late", time.Thursday, 3, 3 * time.Hour, false},
		{"weekend night", time.Saturday, 2, 3 * time.Hour, false},
		{"night ends at seven", time.Friday, 6, 3 * time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ping := Threshold(mustTime(t, tt.weekday, tt.hour))
			if got != tt.want {
				t.Errorf("threshold = %v, want %v", got, tt.want)
			}
			if ping != tt.wantPing {
				t.Errorf("ping allowed = %v, want %v", ping, tt.wantPing)
			}
		})
	}
}

func TestMonitor_SweepMarksAlert(t *testing.T) {
	now := mustTime(t, time.Tuesday, 14)
	m := &Monitor{
		pairs: nil, // no shipping targets; state transitions only
		now:   func() time.Time { return now },
		state: map[string]*pairState{
			"quiet": {lastEvent: now.Add(-50 * time.Minute)},
			"busy":  {lastEvent: now.Add(-10 * time.Minute)},
		},
	}
	m.sweep()

	if !m.state["quiet"].alerting {
		t.Error("silent server not alerting after threshold")
	}
	if m.state["busy"].alerting {
		t.Error("active server wrongly alerting")
	}
}

func TestMonitor_RepeatAlertSpacing(t *testing.T) {
	now := mustTime(t, time.Tuesday, 14)
	st := &pairState{
		lastEvent: now.Add(-2 * time.Hour),
		alerting:  true,
		lastAlert: now.Add(-10 * time.Minute),
	}
	m := &Monitor{
		now:   func() time.Time { return now },
		state: map[string]*pairState{"s": st},
	}
	m.sweep()
	if !st.lastAlert.Equal(now.Add(-10 * time.Minute)) {
		t.Error("repeat alert fired inside the spacing window")
	}

	st.lastAlert = now.Add(-50 * time.Minute)
	m.sweep()
	if !st.lastAlert.Equal(now) {
		t.Error("repeat alert did not fire after the spacing window")
	}
}

func TestMonitor_RecordClearsAlert(t *testing.T) {
	now := mustTime(t, time.Tuesday, 14)
	m := &Monitor{
		now: func() time.Time { return now },
		state: map[string]*pairState{
			"s": {lastEvent: now.Add(-2 * time.Hour), alerting: true, silentAt: now.Add(-2 * time.Hour)},
		},
	}
	m.Record("s")
	st := m.state["s"]
	if st.alerting {
		t.Error("alert not cleared by traffic")
	}
	if !st.lastEvent.Equal(now) {
		t.Error("last event not updated")
	}
}

func TestMonitor_RecordUnknownServer(t *testing.T) {
	m := &Monitor{now: time.Now, state: map[string]*pairState{}}
	m.Record("stranger") // must not panic
}

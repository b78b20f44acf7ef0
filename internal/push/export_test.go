package push

import "time"

// SetScheduleForTest swaps the reconnect timer hook so tests can record
// delays and fire callbacks synchronously.
func SetScheduleForTest(m *Manager, fn func(d time.Duration, fn func()) *time.Timer) {
	m.schedule = fn
}

package selection

import "time"

// ActiveWindow reports whether the hour falls inside the nocturnal band.
// The band wraps midnight: hour >= start OR hour < end. Only new selections
// are gated by it; inbound replies process at any hour.
func ActiveWindow(now time.Time, startHour, endHour int) bool {
	h := now.Hour()
	return h >= startHour || h < endHour
}

// CooldownElapsed reports whether enough days have passed since the last
// selection. A zero last time means no selection ever happened.
func CooldownElapsed(last time.Time, days int, now time.Time) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= time.Duration(days)*24*time.Hour
}

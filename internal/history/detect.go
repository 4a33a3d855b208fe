package history

import "time"

// Detect decides whether candidate is a new logo compared to previous.
// A nil previous means the log is empty, so anything is new. The returned
// state has no index; Log.Append assigns one.
func Detect(previous *LogoState, candidate []byte, now time.Time) (LogoState, bool) {
	next := NewLogoState(candidate, now)
	if previous != nil && previous.Fingerprint == next.Fingerprint {
		return LogoState{}, false
	}
	return next, true
}

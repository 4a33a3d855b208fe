package history

import (
	"testing"
	"time"
)

func TestDetectEmptyLogIsAlwaysNew(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	state, changed := Detect(nil, []byte("png-a"), now)
	if !changed {
		t.Fatal("expected first candidate to be new")
	}
	if !state.Time.Equal(now) {
		t.Errorf("expected time %v, got %v", now, state.Time)
	}
	if state.Fingerprint != FingerprintOf([]byte("png-a")) {
		t.Error("fingerprint does not match image")
	}
}

func TestDetectComparesFingerprints(t *testing.T) {
	now := time.Now()
	prev := NewLogoState([]byte("png-a"), now)

	if _, changed := Detect(&prev, []byte("png-a"), now.Add(time.Second)); changed {
		t.Error("identical image reported as changed")
	}
	if _, changed := Detect(&prev, []byte("png-b"), now.Add(time.Second)); !changed {
		t.Error("different image reported as unchanged")
	}
}

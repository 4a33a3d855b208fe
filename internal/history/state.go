package history

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Fingerprint identifies the content of a PNG image.
type Fingerprint [sha256.Size]byte

// FingerprintOf hashes image.
func FingerprintOf(image []byte) Fingerprint {
	return sha256.Sum256(image)
}

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// LogoState is one observed logo. Image must not be modified after the state
// has been appended; readers share the backing array.
type LogoState struct {
	Index       int
	Time        time.Time
	Image       []byte
	Fingerprint Fingerprint
}

// NewLogoState builds an unindexed state for image observed at t.
func NewLogoState(image []byte, t time.Time) LogoState {
	return LogoState{
		Time:        t.UTC(),
		Image:       image,
		Fingerprint: FingerprintOf(image),
	}
}

// wireState is the JSON form shared by the history endpoint and live frames.
type wireState struct {
	Time string `json:"time"`
	Logo []byte `json:"logo"`
}

// MarshalJSON encodes the state as {"time": RFC3339Nano, "logo": base64}.
func (s LogoState) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireState{
		Time: s.Time.UTC().Format(time.RFC3339Nano),
		Logo: s.Image,
	})
}

// UnmarshalJSON decodes the wire form. Index is not part of it and stays zero.
func (s *LogoState) UnmarshalJSON(data []byte) error {
	var w wireState
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339Nano, w.Time)
	if err != nil {
		return fmt.Errorf("parsing time: %w", err)
	}
	*s = NewLogoState(w.Logo, t)
	return nil
}

package notify

import (
	"fmt"
	"strings"
	"time"
)

// Outage describes an upstream outage as seen by the poll loop.
type Outage struct {
	URL       string
	Failures  uint32
	Since     time.Time
	LastError error
}

// FormatDownMessage creates an upstream-down notification body.
func FormatDownMessage(o Outage) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Upstream: %s\n", o.URL))
	sb.WriteString(fmt.Sprintf("Consecutive failures: %d\n", o.Failures))
	sb.WriteString(fmt.Sprintf("Failing since: %s", o.Since.UTC().Format(time.RFC3339)))

	if o.LastError != nil {
		sb.WriteString(fmt.Sprintf("\n\nLast error: %v", o.LastError))
	}

	return sb.String()
}

// FormatRecoveredMessage creates an upstream-recovered notification body.
func FormatRecoveredMessage(o Outage, recoveredAt time.Time) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Upstream: %s\n", o.URL))
	sb.WriteString(fmt.Sprintf("Downtime: %s", recoveredAt.Sub(o.Since).Round(time.Second)))

	return sb.String()
}

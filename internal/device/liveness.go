package device

import "time"

// IsStale reports whether a device last seen at lastConnectedAt should be
// treated as disconnected at now. A nil lastConnectedAt is stale. A
// threshold of zero or less disables the check.
func IsStale(now time.Time, lastConnectedAt *time.Time, threshold time.Duration) bool {
	if threshold <= 0 {
		return false
	}
	if lastConnectedAt == nil {
		return true
	}
	return now.Sub(*lastConnectedAt) > threshold
}

// IsStale applies the package-level check to the twin's connectivity.
func (t Twin) IsStale(now time.Time, threshold time.Duration) bool {
	return IsStale(now, t.Connectivity.LastConnectedAt, threshold)
}

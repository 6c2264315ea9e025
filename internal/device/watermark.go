package device

import "time"

// Watermark is the newest device event applied to a twin. Events carry an
// optional per-device sequence number and an optional device clock time.
type Watermark struct {
	Sequence   uint64
	ReportedAt *time.Time
}

// Accepts reports whether an event is not older than the watermark.
// Equal values are accepted so a redelivered event converges to the same
// twin. Missing fields are not compared.
func (w Watermark) Accepts(seq *uint64, reportedAt *time.Time) bool {
	if seq != nil && *seq < w.Sequence {
		return false
	}
	if reportedAt != nil && w.ReportedAt != nil && reportedAt.Before(*w.ReportedAt) {
		return false
	}
	return true
}

// Advance returns the watermark moved forward to include the event.
func (w Watermark) Advance(seq *uint64, reportedAt *time.Time) Watermark {
	if seq != nil && *seq > w.Sequence {
		w.Sequence = *seq
	}
	if reportedAt != nil && (w.ReportedAt == nil || reportedAt.After(*w.ReportedAt)) {
		w.ReportedAt = timePtr(*reportedAt)
	}
	return w
}

// Admit reports whether an event may be applied and returns the watermark
// to advance from. A sequence below the watermark paired with a device
// time after it is a counter reset (the device rebooted); the sequence is
// rebased so later events from the new counter are accepted.
func (w Watermark) Admit(seq *uint64, reportedAt *time.Time) (Watermark, bool) {
	if w.Accepts(seq, reportedAt) {
		return w, true
	}
	if seq != nil && reportedAt != nil && w.ReportedAt != nil &&
		*seq < w.Sequence && reportedAt.After(*w.ReportedAt) {
		w.Sequence = *seq
		return w, true
	}
	return w, false
}

package models

// Stats holds the process-wide resolution counters. They are derived from
// the resolved-conflict history and reset only by explicit user action.
type Stats struct {
	TotalDetected     int `json:"total_detected"`
	TotalAutoResolved int `json:"total_auto_resolved"`
	TotalUserResolved int `json:"total_user_resolved"`
}

// Pending returns the number of detected conflicts not yet resolved.
func (s Stats) Pending() int {
	return s.TotalDetected - s.TotalAutoResolved - s.TotalUserResolved
}

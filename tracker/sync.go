package tracker

import "time"

// SyncSummary reports the outcome of one roadmap sync run.
type SyncSummary struct {
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
	Trigger         string            `json:"trigger"`
	ProjectsScanned int               `json:"projects_scanned"`
	ProjectsFailed  int               `json:"projects_failed"`
	PhasesUpdated   int               `json:"phases_updated"`
	AlertsCreated   int               `json:"alerts_created"`
	AlertsByType    map[AlertType]int `json:"alerts_by_type"`
	Errors          []string          `json:"errors,omitempty"`
}

// Duration is the wall time of the run.
func (s *SyncSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

package models

import "time"

// WorkItemFlag is the working flag of one work item, as read from the
// work item table.
type WorkItemFlag struct {
	WorkKey         string `json:"sd_key"`
	IsWorkingOn     bool   `json:"is_working_on"`
	ActiveSessionID string `json:"active_session_id,omitempty"`
	Status          string `json:"status,omitempty"`
}

// WorktreeEvidence records an on-disk worktree named for a work key.
// HasChanges is a heuristic from the index modification time and is
// advisory only.
type WorktreeEvidence struct {
	WorkKey    string    `json:"work_key"`
	Path       string    `json:"path"`
	HasChanges bool      `json:"has_changes"`
	IndexPath  string    `json:"index_path,omitempty"`
	ModTime    time.Time `json:"mod_time,omitempty"`
}

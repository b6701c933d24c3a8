package labeler

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"k8s.io/klog/v2"

	"github.com/tstromberg/bandcrop/pkg/project"
)

// Activity types recorded in the session log.
const (
	ActivitySessionStart = "session_start"
	ActivitySessionEnd   = "session_end"
	ActivityImageLoaded  = "image_loaded"
	ActivityCropCreated  = "crop_created"
	ActivityModeChanged  = "view_mode_changed"
	ActivitySelected     = "coordinate_selected"
	ActivityProject      = "project_action"
	ActivityError        = "error"
)

const sessionIDLayout = "20060102_150405"

type Activity struct {
	Time    time.Time      `json:"timestamp"`
	Type    string         `json:"type"`
	Details map[string]any `json:"details,omitempty"`
}

type SessionInfo struct {
	ID              string     `json:"session_id"`
	Start           time.Time  `json:"start_time"`
	End             *time.Time `json:"end_time"`
	ProjectPath     string     `json:"project_path"`
	DurationSeconds float64    `json:"total_duration_seconds"`
}

type ActivityStats struct {
	ImagesLoaded int      `json:"images_loaded"`
	CropsCreated int      `json:"crops_created"`
	ModeChanges  int      `json:"view_mode_changes"`
	Selections   int      `json:"coordinates_selected"`
	Files        []string `json:"files_processed"`
}

// ActivityLog is the per-session record of what the operator did. Once
// attached to a project directory it is rewritten after every activity as
// session_log_<id>.json.
type ActivityLog struct {
	Info       SessionInfo   `json:"session_info"`
	Activities []Activity    `json:"activities"`
	Stats      ActivityStats `json:"statistics"`

	path  string
	files map[string]bool
	now   func() time.Time
}

func NewActivityLog() *ActivityLog {
	return newActivityLog(time.Now)
}

func newActivityLog(now func() time.Time) *ActivityLog {
	start := now()
	return &ActivityLog{
		Info:       SessionInfo{ID: start.Format(sessionIDLayout), Start: start},
		Activities: []Activity{},
		Stats:      ActivityStats{Files: []string{}},
		files:      map[string]bool{},
		now:        now,
	}
}

// Path is where the log is written, or "" before Attach.
func (l *ActivityLog) Path() string {
	return l.path
}

// Attach starts writing the log into a project directory.
func (l *ActivityLog) Attach(dir string) {
	l.path = filepath.Join(dir, fmt.Sprintf("session_log_%s.json", l.Info.ID))
	l.Info.ProjectPath = dir
	l.Record(ActivitySessionStart, map[string]any{"session_id": l.Info.ID, "project_path": dir})
}

// Detach stops writing the log to disk until the next Attach.
func (l *ActivityLog) Detach() {
	l.path = ""
	l.Info.ProjectPath = ""
}

// Record appends an activity and updates the statistics.
func (l *ActivityLog) Record(typ string, details map[string]any) {
	l.Activities = append(l.Activities, Activity{Time: l.now(), Type: typ, Details: details})

	switch typ {
	case ActivityImageLoaded:
		l.Stats.ImagesLoaded++
		if p, ok := details["file_path"].(string); ok && !l.files[p] {
			l.files[p] = true
			l.Stats.Files = append(l.Stats.Files, p)
			sort.Strings(l.Stats.Files)
		}
	case ActivityCropCreated:
		l.Stats.CropsCreated++
	case ActivityModeChanged:
		l.Stats.ModeChanges++
	case ActivitySelected:
		l.Stats.Selections++
	}
	l.flush()
}

// End records the end of the session and its duration.
func (l *ActivityLog) End() {
	end := l.now()
	l.Info.End = &end
	l.Info.DurationSeconds = end.Sub(l.Info.Start).Round(10 * time.Millisecond).Seconds()
	l.Record(ActivitySessionEnd, map[string]any{
		"duration_seconds": l.Info.DurationSeconds,
		"total_activities": len(l.Activities),
		"total_crops":      l.Stats.CropsCreated,
	})
}

// flush logs write failures: a missing session log never blocks labeling.
func (l *ActivityLog) flush() {
	if l.path == "" {
		return
	}
	if err := project.WriteJSON(l.path, l); err != nil {
		klog.Warningf("session log: %v", err)
	}
}

package labeler

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestActivityLog(t *testing.T) {
	clock := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	l := newActivityLog(func() time.Time {
		clock = clock.Add(1500 * time.Millisecond)
		return clock
	})
	require.Equal(t, "20240501_093001", l.Info.ID)

	// Nothing is written before Attach.
	l.Record(ActivitySelected, map[string]any{"x": 1, "y": 2})
	require.Empty(t, l.Path())

	dir := t.TempDir()
	l.Attach(dir)
	require.FileExists(t, l.Path())
	require.Contains(t, l.Path(), "session_log_20240501_093001.json")

	l.Record(ActivityImageLoaded, map[string]any{"file_path": "/b.tif"})
	l.Record(ActivityImageLoaded, map[string]any{"file_path": "/a.tif"})
	l.Record(ActivityImageLoaded, map[string]any{"file_path": "/b.tif"})
	l.Record(ActivityCropCreated, nil)
	l.Record(ActivityModeChanged, map[string]any{"new_mode": "band_3"})
	l.End()

	require.Equal(t, 3, l.Stats.ImagesLoaded)
	require.Equal(t, []string{"/a.tif", "/b.tif"}, l.Stats.Files)
	require.Equal(t, 1, l.Stats.CropsCreated)
	require.Equal(t, 1, l.Stats.ModeChanges)
	require.Equal(t, 1, l.Stats.Selections)
	require.NotNil(t, l.Info.End)
	require.InDelta(t, 12.0, l.Info.DurationSeconds, 0.01)

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	var got struct {
		Info struct {
			ID  string     `json:"session_id"`
			End *time.Time `json:"end_time"`
		} `json:"session_info"`
		Activities []Activity `json:"activities"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, l.Info.ID, got.Info.ID)
	require.NotNil(t, got.Info.End)
	require.Len(t, got.Activities, 8)
	require.Equal(t, ActivitySessionStart, got.Activities[1].Type)
	require.Equal(t, ActivitySessionEnd, got.Activities[7].Type)
}

package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lumenstream/livehost/internal/clock"
)

// Export is the on-disk shape of a full metrics dump.
type Export struct {
	SessionStart float64 `json:"session_start"`
	ExportTime   float64 `json:"export_time"`

	Counters struct {
		TotalSpeaks       int64 `json:"total_speaks"`
		TotalComments     int64 `json:"total_comments"`
		RespondedComments int64 `json:"responded_comments"`
		SalePhrases       int64 `json:"sale_phrases"`
	} `json:"counters"`

	SpeakEvents   []*SpeakEvent   `json:"speak_events"`
	CommentEvents []*CommentEvent `json:"comment_events"`
	ViewerHistory []ViewerSample  `json:"viewer_history"`

	Summary Summary `json:"summary"`
}

// exportSummaryWindow is the trailing window summarised in each export.
const exportSummaryWindow = 5 * time.Minute

// Export writes all raw events plus a trailing-window summary to path as
// JSON. The file is written to a temp name and renamed so a concurrent
// reader never sees a partial dump.
func (c *Collector) Export(path string) error {
	summary := c.Summary(exportSummaryWindow)

	c.mu.Lock()
	dump := Export{
		SessionStart:  clock.Epoch(c.sessionStart),
		ExportTime:    clock.Epoch(c.clk.Now()),
		SpeakEvents:   c.speaks.snapshot(),
		CommentEvents: c.comments.snapshot(),
		ViewerHistory: c.viewers.snapshot(),
		Summary:       summary,
	}
	dump.Counters.TotalSpeaks = c.totalSpeaks
	dump.Counters.TotalComments = c.totalComments
	dump.Counters.RespondedComments = c.respondedComments
	dump.Counters.SalePhrases = c.salePhraseSpeaks
	c.mu.Unlock()

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return fmt.Errorf("metrics: marshal export: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("metrics: create export dir: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("metrics: write export: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("metrics: finalize export: %w", err)
	}
	return nil
}

// ReadExport loads a previously written dump.
func ReadExport(path string) (*Export, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metrics: read export: %w", err)
	}
	var dump Export
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("metrics: parse export: %w", err)
	}
	return &dump, nil
}

// Package metrics is the session event log: bounded rings of speak, comment
// and viewer events plus monotonic counters, with windowed aggregation and a
// JSON export for post-session analysis.
package metrics

import (
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/lumenstream/livehost/internal/clock"
	"github.com/lumenstream/livehost/pkg/types"
)

const (
	speakRingCap   = 1000
	commentRingCap = 5000
	viewerRingCap  = 1000
)

// SpeakEvent records one committed speak.
type SpeakEvent struct {
	Timestamp     float64      `json:"timestamp"`
	Text          string       `json:"text"`
	Duration      float64      `json:"duration"`
	Intent        types.Intent `json:"intent"`
	Phase         types.Phase  `json:"sale_state"`
	ViewerCount   int          `json:"viewer_count"`
	Priority      int          `json:"priority"`
	Reason        types.Reason `json:"reason"`
	TimeSinceLast float64      `json:"time_since_last"`
}

// CommentEvent records one processed comment. Responded and ResponseLatency
// are the only fields mutated after creation, and only once.
type CommentEvent struct {
	Timestamp       float64      `json:"timestamp"`
	Author          string       `json:"author"`
	Text            string       `json:"text"`
	Intent          types.Intent `json:"intent"`
	Responded       bool         `json:"was_responded"`
	ResponseLatency float64      `json:"response_latency"`
}

// ViewerSample is one observation of the audience size.
type ViewerSample struct {
	Timestamp float64 `json:"timestamp"`
	Count     int     `json:"count"`
}

// CommentHandle refers back to a recorded comment so the caller can mark it
// responded later.
type CommentHandle struct {
	event *CommentEvent
}

// Summary is the windowed aggregation returned by [Collector.Summary].
type Summary struct {
	WindowSeconds float64 `json:"window_seconds"`

	SpeakCount    int     `json:"speak_count"`
	IntervalMean  float64 `json:"interval_mean"`
	IntervalMin   float64 `json:"interval_min"`
	IntervalMax   float64 `json:"interval_max"`
	IntervalStdev float64 `json:"interval_stdev"`
	IntervalCount int     `json:"interval_count"`

	TotalComments       int     `json:"total_comments"`
	RespondedComments   int     `json:"responded_comments"`
	ResponseRate        float64 `json:"response_rate"`
	MeanResponseLatency float64 `json:"mean_response_latency"`

	SalePhraseCount int     `json:"sale_phrase_count"`
	SalePhraseRate  float64 `json:"sale_phrase_rate"`

	ViewerMean float64 `json:"viewer_mean"`
	ViewerMin  int     `json:"viewer_min"`
	ViewerMax  int     `json:"viewer_max"`
}

// RealtimeStats is the low-cost live snapshot served on /stats.
type RealtimeStats struct {
	UptimeSeconds     float64 `json:"uptime_seconds"`
	TotalSpeaks       int64   `json:"total_speaks"`
	TotalComments     int64   `json:"total_comments"`
	RespondedComments int64   `json:"responded_comments"`
	SalePhraseSpeaks  int64   `json:"sale_phrase_speaks"`
	ResponseRate      float64 `json:"response_rate"`
	SpeaksPerMinute   float64 `json:"speaks_per_minute"`
	CommentsPerMinute float64 `json:"comments_per_minute"`
	LastViewerCount   int     `json:"last_viewer_count"`
	SecondsSinceSpeak float64 `json:"seconds_since_speak"`
}

// ViewerDelta pairs a speak with the first viewer sample observed after it.
type ViewerDelta struct {
	SpeakTime    float64      `json:"speak_time"`
	Intent       types.Intent `json:"intent"`
	ViewerBefore int          `json:"viewer_before"`
	ViewerAfter  int          `json:"viewer_after"`
	Delta        int          `json:"delta"`
}

// Collector owns the session's event rings and counters. All methods are
// safe for concurrent use.
type Collector struct {
	clk         clock.Clock
	salePhrases []string

	mu           sync.Mutex
	sessionStart time.Time
	speaks       *ring[*SpeakEvent]
	comments     *ring[*CommentEvent]
	viewers      *ring[ViewerSample]

	totalSpeaks       int64
	totalComments     int64
	respondedComments int64
	salePhraseSpeaks  int64
	lastSpeak         time.Time
}

// NewCollector creates a Collector. Sale phrases are matched
// case-insensitively as substrings of spoken text.
func NewCollector(clk clock.Clock, salePhrases []string) *Collector {
	phrases := make([]string, len(salePhrases))
	for i, p := range salePhrases {
		phrases[i] = strings.ToLower(p)
	}
	c := &Collector{clk: clk, salePhrases: phrases}
	c.resetLocked()
	return c
}

// RecordComment appends a comment event and returns a handle for marking it
// responded.
func (c *Collector) RecordComment(author, text string, intent types.Intent) *CommentHandle {
	ev := &CommentEvent{
		Timestamp: clock.Epoch(c.clk.Now()),
		Author:    author,
		Text:      text,
		Intent:    intent,
	}

	c.mu.Lock()
	c.comments.append(ev)
	c.totalComments++
	c.mu.Unlock()

	return &CommentHandle{event: ev}
}

// MarkResponded sets the comment's responded flag. Repeated calls are
// harmless and never double-count.
func (c *Collector) MarkResponded(h *CommentHandle, latency time.Duration) {
	if h == nil || h.event == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.event.Responded {
		return
	}
	h.event.Responded = true
	h.event.ResponseLatency = latency.Seconds()
	c.respondedComments++
}

// RecordSpeak appends a speak event, computing the gap to the previous one.
func (c *Collector) RecordSpeak(text string, duration time.Duration, intent types.Intent, phase types.Phase, viewers, priority int, reason types.Reason) {
	now := c.clk.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	sinceLast := 0.0
	if !c.lastSpeak.IsZero() {
		sinceLast = now.Sub(c.lastSpeak).Seconds()
	}

	c.speaks.append(&SpeakEvent{
		Timestamp:     clock.Epoch(now),
		Text:          text,
		Duration:      duration.Seconds(),
		Intent:        intent,
		Phase:         phase,
		ViewerCount:   viewers,
		Priority:      priority,
		Reason:        reason,
		TimeSinceLast: sinceLast,
	})
	c.totalSpeaks++
	c.lastSpeak = now

	if c.containsSalePhrase(text) {
		c.salePhraseSpeaks++
	}
}

func (c *Collector) containsSalePhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range c.salePhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// RecordViewer appends a viewer sample and logs audience swings above 10%.
func (c *Collector) RecordViewer(count int) {
	c.mu.Lock()
	prev, hadPrev := c.viewers.last()
	c.viewers.append(ViewerSample{Timestamp: clock.Epoch(c.clk.Now()), Count: count})
	c.mu.Unlock()

	if hadPrev && prev.Count > 0 {
		change := math.Abs(float64(count-prev.Count)) / float64(prev.Count)
		if change > 0.10 {
			slog.Info("significant viewer change",
				"previous", prev.Count,
				"current", count,
				"change_pct", math.Round(change*1000)/10,
			)
		}
	}
}

// Summary aggregates events whose timestamp falls within the trailing
// window.
func (c *Collector) Summary(window time.Duration) Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := clock.Epoch(c.clk.Now().Add(-window))
	s := Summary{WindowSeconds: window.Seconds()}

	var intervals []float64
	var latencies []float64
	for _, ev := range c.speaks.items {
		if ev.Timestamp < cutoff {
			continue
		}
		s.SpeakCount++
		if ev.TimeSinceLast > 0 {
			intervals = append(intervals, ev.TimeSinceLast)
		}
		if c.containsSalePhrase(ev.Text) {
			s.SalePhraseCount++
		}
	}
	s.IntervalCount = len(intervals)
	s.IntervalMean, s.IntervalMin, s.IntervalMax, s.IntervalStdev = describe(intervals)
	if s.SpeakCount > 0 {
		s.SalePhraseRate = float64(s.SalePhraseCount) / float64(s.SpeakCount)
	}

	for _, ev := range c.comments.items {
		if ev.Timestamp < cutoff {
			continue
		}
		s.TotalComments++
		if ev.Responded {
			s.RespondedComments++
			latencies = append(latencies, ev.ResponseLatency)
		}
	}
	if s.TotalComments > 0 {
		s.ResponseRate = float64(s.RespondedComments) / float64(s.TotalComments)
	}
	if len(latencies) > 0 {
		s.MeanResponseLatency = mean(latencies)
	}

	first := true
	var viewerSum int
	var viewerN int
	for _, v := range c.viewers.items {
		if v.Timestamp < cutoff {
			continue
		}
		if first || v.Count < s.ViewerMin {
			s.ViewerMin = v.Count
		}
		if first || v.Count > s.ViewerMax {
			s.ViewerMax = v.Count
		}
		first = false
		viewerSum += v.Count
		viewerN++
	}
	if viewerN > 0 {
		s.ViewerMean = float64(viewerSum) / float64(viewerN)
	}

	return s
}

// RealtimeStats returns the live counters and derived per-minute rates.
func (c *Collector) RealtimeStats() RealtimeStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	uptime := now.Sub(c.sessionStart).Seconds()

	rs := RealtimeStats{
		UptimeSeconds:     uptime,
		TotalSpeaks:       c.totalSpeaks,
		TotalComments:     c.totalComments,
		RespondedComments: c.respondedComments,
		SalePhraseSpeaks:  c.salePhraseSpeaks,
	}
	if c.totalComments > 0 {
		rs.ResponseRate = float64(c.respondedComments) / float64(c.totalComments)
	}
	if uptime > 0 {
		rs.SpeaksPerMinute = float64(c.totalSpeaks) / uptime * 60
		rs.CommentsPerMinute = float64(c.totalComments) / uptime * 60
	}
	if last, ok := c.viewers.last(); ok {
		rs.LastViewerCount = last.Count
	}
	if !c.lastSpeak.IsZero() {
		rs.SecondsSinceSpeak = now.Sub(c.lastSpeak).Seconds()
	}
	return rs
}

// ViewerDeltaAfterSpeak reports, for each speak, the first viewer sample
// strictly after the speak and no later than the speak plus the window.
func (c *Collector) ViewerDeltaAfterSpeak(window time.Duration) []ViewerDelta {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := window.Seconds()
	var out []ViewerDelta
	for _, sp := range c.speaks.items {
		for _, v := range c.viewers.items {
			if v.Timestamp > sp.Timestamp && v.Timestamp <= sp.Timestamp+w {
				out = append(out, ViewerDelta{
					SpeakTime:    sp.Timestamp,
					Intent:       sp.Intent,
					ViewerBefore: sp.ViewerCount,
					ViewerAfter:  v.Count,
					Delta:        v.Count - sp.ViewerCount,
				})
				break
			}
		}
	}
	return out
}

// Reset clears all rings and counters and starts a new session window.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
}

func (c *Collector) resetLocked() {
	c.sessionStart = c.clk.Now()
	c.speaks = newRing[*SpeakEvent](speakRingCap)
	c.comments = newRing[*CommentEvent](commentRingCap)
	c.viewers = newRing[ViewerSample](viewerRingCap)
	c.totalSpeaks = 0
	c.totalComments = 0
	c.respondedComments = 0
	c.salePhraseSpeaks = 0
	c.lastSpeak = time.Time{}
}

// describe returns mean, min, max and sample standard deviation. The stdev
// is zero for fewer than two values.
func describe(xs []float64) (m, lo, hi, sd float64) {
	if len(xs) == 0 {
		return 0, 0, 0, 0
	}
	lo, hi = xs[0], xs[0]
	for _, x := range xs {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	m = mean(xs)
	if len(xs) >= 2 {
		var ss float64
		for _, x := range xs {
			d := x - m
			ss += d * d
		}
		sd = math.Sqrt(ss / float64(len(xs)-1))
	}
	return m, lo, hi, sd
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

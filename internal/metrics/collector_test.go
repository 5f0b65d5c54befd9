package metrics_test

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lumenstream/livehost/internal/clock"
	"github.com/lumenstream/livehost/internal/metrics"
	"github.com/lumenstream/livehost/pkg/types"
)

var testPhrases = []string{"mua ngay", "giá", "khuyến mãi"}

func newCollector(t *testing.T) (*metrics.Collector, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC))
	return metrics.NewCollector(clk, testPhrases), clk
}

func TestCollector_ResponseRate(t *testing.T) {
	t.Parallel()

	c, clk := newCollector(t)

	h1 := c.RecordComment("an", "giá bao nhiêu", types.IntentPriceQuestion)
	clk.Advance(time.Second)
	c.RecordComment("binh", "hello", types.IntentGreeting)
	clk.Advance(time.Second)
	h3 := c.RecordComment("chi", "ship không", types.IntentRequest)

	c.MarkResponded(h1, 800*time.Millisecond)
	c.MarkResponded(h3, 1200*time.Millisecond)

	s := c.Summary(time.Minute)
	if s.TotalComments != 3 || s.RespondedComments != 2 {
		t.Fatalf("got %d/%d, want 2/3 responded", s.RespondedComments, s.TotalComments)
	}
	if want := 2.0 / 3.0; math.Abs(s.ResponseRate-want) > 1e-9 {
		t.Errorf("response rate: got %.4f, want %.4f", s.ResponseRate, want)
	}
	if want := 1.0; math.Abs(s.MeanResponseLatency-want) > 1e-9 {
		t.Errorf("mean latency: got %.4f, want %.4f", s.MeanResponseLatency, want)
	}
}

// Marking the same handle twice must not double-count the counter.
func TestCollector_MarkRespondedIdempotent(t *testing.T) {
	t.Parallel()

	c, _ := newCollector(t)
	h := c.RecordComment("an", "xin chào", types.IntentGreeting)

	c.MarkResponded(h, time.Second)
	c.MarkResponded(h, 5*time.Second)

	rs := c.RealtimeStats()
	if rs.RespondedComments != 1 {
		t.Fatalf("responded counter: got %d, want 1", rs.RespondedComments)
	}
	// The first latency sticks.
	s := c.Summary(time.Minute)
	if math.Abs(s.MeanResponseLatency-1.0) > 1e-9 {
		t.Errorf("latency overwritten: got %.4f, want 1.0", s.MeanResponseLatency)
	}
}

func TestCollector_SpeakIntervals(t *testing.T) {
	t.Parallel()

	c, clk := newCollector(t)

	c.RecordSpeak("chào mọi người", 2*time.Second, types.IntentGreeting, types.PhaseWarmUp, 100, 6, types.ReasonGreeting)
	clk.Advance(10 * time.Second)
	c.RecordSpeak("sản phẩm rất tốt", 3*time.Second, types.IntentProductQuestion, types.PhaseInterest, 120, 8, types.ReasonProductQuestion)
	clk.Advance(20 * time.Second)
	c.RecordSpeak("mua ngay kẻo hết", 2*time.Second, types.IntentPurchaseIntent, types.PhaseCTA, 150, 10, types.ReasonSaleCTA)

	s := c.Summary(time.Minute)
	if s.SpeakCount != 3 {
		t.Fatalf("speak count: got %d, want 3", s.SpeakCount)
	}
	// The first speak has no predecessor, so two intervals: 10 and 20.
	if s.IntervalCount != 2 {
		t.Fatalf("interval count: got %d, want 2", s.IntervalCount)
	}
	if math.Abs(s.IntervalMean-15.0) > 1e-9 {
		t.Errorf("interval mean: got %.4f, want 15.0", s.IntervalMean)
	}
	if s.IntervalMin != 10.0 || s.IntervalMax != 20.0 {
		t.Errorf("interval min/max: got %.1f/%.1f, want 10/20", s.IntervalMin, s.IntervalMax)
	}
	// Sample stdev of {10, 20}.
	if want := math.Sqrt(50.0); math.Abs(s.IntervalStdev-want) > 1e-9 {
		t.Errorf("interval stdev: got %.4f, want %.4f", s.IntervalStdev, want)
	}
	if s.SalePhraseCount != 1 {
		t.Errorf("sale phrase count: got %d, want 1", s.SalePhraseCount)
	}
}

func TestCollector_SummaryWindowExcludesOldEvents(t *testing.T) {
	t.Parallel()

	c, clk := newCollector(t)

	c.RecordSpeak("câu nói cũ", time.Second, types.IntentChitchat, types.PhaseIdle, 50, 4, types.ReasonEngagement)
	clk.Advance(10 * time.Minute)
	c.RecordSpeak("câu nói mới", time.Second, types.IntentChitchat, types.PhaseIdle, 50, 4, types.ReasonEngagement)

	s := c.Summary(time.Minute)
	if s.SpeakCount != 1 {
		t.Fatalf("windowed speak count: got %d, want 1", s.SpeakCount)
	}
}

func TestCollector_RealtimeStats(t *testing.T) {
	t.Parallel()

	c, clk := newCollector(t)

	c.RecordViewer(200)
	h := c.RecordComment("an", "xin chào", types.IntentGreeting)
	c.RecordSpeak("chào bạn", time.Second, types.IntentGreeting, types.PhaseWarmUp, 200, 6, types.ReasonGreeting)
	c.MarkResponded(h, time.Second)
	clk.Advance(30 * time.Second)

	rs := c.RealtimeStats()
	if rs.UptimeSeconds != 30.0 {
		t.Errorf("uptime: got %.1f, want 30.0", rs.UptimeSeconds)
	}
	if rs.TotalSpeaks != 1 || rs.TotalComments != 1 || rs.RespondedComments != 1 {
		t.Errorf("counters: got %d/%d/%d", rs.TotalSpeaks, rs.TotalComments, rs.RespondedComments)
	}
	if rs.LastViewerCount != 200 {
		t.Errorf("last viewer: got %d, want 200", rs.LastViewerCount)
	}
	if rs.SecondsSinceSpeak != 30.0 {
		t.Errorf("since speak: got %.1f, want 30.0", rs.SecondsSinceSpeak)
	}
	if math.Abs(rs.SpeaksPerMinute-2.0) > 1e-9 {
		t.Errorf("speaks/min: got %.4f, want 2.0", rs.SpeaksPerMinute)
	}
}

func TestCollector_ViewerDeltaAfterSpeak(t *testing.T) {
	t.Parallel()

	c, clk := newCollector(t)

	c.RecordViewer(100)
	c.RecordSpeak("mua ngay", time.Second, types.IntentPurchaseIntent, types.PhaseCTA, 100, 10, types.ReasonSaleCTA)
	clk.Advance(15 * time.Second)
	c.RecordViewer(130)
	clk.Advance(15 * time.Second)
	c.RecordViewer(90)

	deltas := c.ViewerDeltaAfterSpeak(30 * time.Second)
	if len(deltas) != 1 {
		t.Fatalf("got %d deltas, want 1", len(deltas))
	}
	d := deltas[0]
	// The first sample after the speak wins, not the latest.
	if d.ViewerAfter != 130 || d.Delta != 30 {
		t.Errorf("delta: got after=%d Δ=%d, want after=130 Δ=30", d.ViewerAfter, d.Delta)
	}
	if d.ViewerBefore != 100 {
		t.Errorf("viewer before: got %d, want 100", d.ViewerBefore)
	}
}

func TestCollector_RingEviction(t *testing.T) {
	t.Parallel()

	c, clk := newCollector(t)
	for i := 0; i < 1005; i++ {
		c.RecordViewer(i)
		clk.Advance(time.Millisecond)
	}

	rs := c.RealtimeStats()
	if rs.LastViewerCount != 1004 {
		t.Fatalf("last viewer after eviction: got %d, want 1004", rs.LastViewerCount)
	}
	// Oldest samples dropped: the windowed min reflects only retained ones.
	s := c.Summary(time.Hour)
	if s.ViewerMin != 5 {
		t.Errorf("retained minimum: got %d, want 5", s.ViewerMin)
	}
	if s.ViewerMax != 1004 {
		t.Errorf("retained maximum: got %d, want 1004", s.ViewerMax)
	}
}

func TestCollector_ExportRoundTrip(t *testing.T) {
	t.Parallel()

	c, clk := newCollector(t)

	h := c.RecordComment("an", "giá bao nhiêu", types.IntentPriceQuestion)
	c.RecordSpeak("giá chỉ 99k thôi", 2*time.Second, types.IntentPriceQuestion, types.PhasePrice, 300, 9, types.ReasonPriceQuestion)
	c.MarkResponded(h, 500*time.Millisecond)
	c.RecordViewer(300)
	clk.Advance(time.Minute)

	path := filepath.Join(t.TempDir(), "metrics", "session.json")
	if err := c.Export(path); err != nil {
		t.Fatalf("Export: %v", err)
	}

	got, err := metrics.ReadExport(path)
	if err != nil {
		t.Fatalf("ReadExport: %v", err)
	}
	if got.Counters.TotalSpeaks != 1 || got.Counters.TotalComments != 1 {
		t.Fatalf("counters: got %+v", got.Counters)
	}
	if got.Counters.SalePhrases != 1 {
		t.Errorf("sale phrase counter: got %d, want 1", got.Counters.SalePhrases)
	}
	if len(got.SpeakEvents) != 1 || len(got.CommentEvents) != 1 || len(got.ViewerHistory) != 1 {
		t.Fatalf("event lengths: %d/%d/%d", len(got.SpeakEvents), len(got.CommentEvents), len(got.ViewerHistory))
	}

	want := &metrics.CommentEvent{
		Timestamp:       got.CommentEvents[0].Timestamp,
		Author:          "an",
		Text:            "giá bao nhiêu",
		Intent:          types.IntentPriceQuestion,
		Responded:       true,
		ResponseLatency: 0.5,
	}
	if diff := cmp.Diff(want, got.CommentEvents[0]); diff != "" {
		t.Errorf("comment event mismatch (-want +got):\n%s", diff)
	}
}

func TestCollector_Reset(t *testing.T) {
	t.Parallel()

	c, clk := newCollector(t)
	c.RecordSpeak("chào", time.Second, types.IntentGreeting, types.PhaseWarmUp, 10, 6, types.ReasonGreeting)
	c.RecordComment("an", "hi", types.IntentGreeting)
	clk.Advance(time.Minute)

	c.Reset()

	rs := c.RealtimeStats()
	if rs.TotalSpeaks != 0 || rs.TotalComments != 0 {
		t.Fatalf("counters survive reset: %+v", rs)
	}
	if rs.UptimeSeconds != 0 {
		t.Errorf("uptime not rebased: got %.1f", rs.UptimeSeconds)
	}
	if rs.SecondsSinceSpeak != 0 {
		t.Errorf("last speak survives reset: got %.1f", rs.SecondsSinceSpeak)
	}
}

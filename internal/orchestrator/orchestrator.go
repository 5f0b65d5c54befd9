// Package orchestrator binds the decision core to its environment: it
// consumes classified comments from the bus, runs them through the brain and
// the sale-flow state machine, records everything in the metrics collector,
// and publishes speak requests for the response generator.
//
// The hot path is strictly sequential (the consumer prefetches one message
// at a time), so brain, state machine and pending queue need no coordination
// beyond their own internal locks. Background goroutines handle the metrics
// export ticker, the viewer feed, the admin listener, and archive writes.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lumenstream/livehost/internal/archive"
	"github.com/lumenstream/livehost/internal/brain"
	"github.com/lumenstream/livehost/internal/bus"
	"github.com/lumenstream/livehost/internal/clock"
	"github.com/lumenstream/livehost/internal/config"
	"github.com/lumenstream/livehost/internal/metrics"
	"github.com/lumenstream/livehost/internal/observe"
	"github.com/lumenstream/livehost/internal/resilience"
	"github.com/lumenstream/livehost/internal/state"
	"github.com/lumenstream/livehost/internal/viewer"
	"github.com/lumenstream/livehost/pkg/types"
)

// archiveQueueCap bounds the async archive write queue. Writes beyond the
// cap are dropped; the in-memory rings still hold the data until export.
const archiveQueueCap = 256

// pendingItem is one comment parked in the bounded pending queue.
type pendingItem struct {
	comment    types.ClassifiedComment
	enqueuedAt time.Time
}

// Options wires an [Orchestrator]. Archive and SessionLog are optional.
type Options struct {
	Config    *config.Config
	Clock     clock.Clock
	Brain     *brain.Brain
	Machine   *state.Machine
	Collector *metrics.Collector
	Consumer  bus.Consumer
	Publisher bus.Publisher
	Metrics   *observe.Metrics
	Archive   *archive.Store
	SessLog   *observe.SessionLog
	SessionID string
}

// Orchestrator is the session's central loop.
type Orchestrator struct {
	cfg       *config.Config
	clk       clock.Clock
	brain     *brain.Brain
	machine   *state.Machine
	collector *metrics.Collector
	consumer  bus.Consumer
	publisher bus.Publisher
	obs       *observe.Metrics
	store     *archive.Store
	breaker   *resilience.Breaker
	sessLog   *observe.SessionLog
	sessionID string

	mu      sync.Mutex
	pending []pendingItem

	viewerCount atomic.Int64

	processed atomic.Int64
	speaks    atomic.Int64
	skips     atomic.Int64
	waits     atomic.Int64
	queued    atomic.Int64
	dropped   atomic.Int64
	malformed atomic.Int64

	archiveCh chan func(context.Context) error
	startedAt time.Time
}

// New creates an Orchestrator from opts.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		cfg:       opts.Config,
		clk:       opts.Clock,
		brain:     opts.Brain,
		machine:   opts.Machine,
		collector: opts.Collector,
		consumer:  opts.Consumer,
		publisher: opts.Publisher,
		obs:       opts.Metrics,
		store:     opts.Archive,
		sessLog:   opts.SessLog,
		sessionID: opts.SessionID,
		archiveCh: make(chan func(context.Context) error, archiveQueueCap),
		startedAt: opts.Clock.Now(),
	}
	if o.store != nil {
		o.breaker = resilience.NewBreaker(resilience.Settings{Name: "archive"})
	}
	return o
}

// Run starts the consume loop and all background tasks and blocks until ctx
// is cancelled. It always emits the session-end summary before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return o.consumer.Consume(ctx, o.cfg.Bus.InputQueue, o.ProcessMessage)
	})

	g.Go(func() error { return o.exportLoop(ctx) })

	if o.cfg.Viewer.FeedURL != "" {
		feed := viewer.NewFeed(
			o.cfg.Viewer.FeedURL,
			time.Duration(o.cfg.Viewer.UpdateInterval*float64(time.Second)),
			func(count int) { o.onViewerUpdate(ctx, count) },
		)
		g.Go(func() error { return feed.Run(ctx) })
	}

	if o.cfg.Server.AdminAddr != "" {
		g.Go(func() error { return o.serveAdmin(ctx) })
	}

	if o.store != nil {
		g.Go(func() error { return o.archiveLoop(ctx) })
	}

	err := g.Wait()
	o.logSessionSummary()

	if ctx.Err() != nil && err == ctx.Err() {
		return nil
	}
	return err
}

// ProcessMessage handles one raw classified-comment message from the bus.
// It never returns an error for malformed payloads; those are counted,
// logged and dropped so the queue keeps moving.
func (o *Orchestrator) ProcessMessage(ctx context.Context, body []byte) error {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "orchestrator.process_comment")
	defer span.End()

	var c types.ClassifiedComment
	if err := json.Unmarshal(body, &c); err != nil {
		o.rejectMalformed(ctx, fmt.Errorf("parse comment: %w", err))
		return nil
	}
	if c.Username == "" && c.OriginalComment == "" && c.Content == "" {
		o.rejectMalformed(ctx, fmt.Errorf("comment missing username and text"))
		return nil
	}
	c.Intent = types.ParseIntent(string(c.Intent))
	if c.CommentID == "" {
		c.CommentID = uuid.NewString()
	}

	o.prunePending(ctx)

	handle := o.collector.RecordComment(c.Username, c.Text(), c.Intent)
	o.obs.RecordComment(ctx, string(c.Intent))

	if o.stateActive() {
		if ev, ok := o.machine.CheckTimeout(); ok {
			o.recordTransition(ctx, ev)
		}
	}

	decision := o.brain.Decide(brain.Input{
		Comment:     c,
		Phase:       o.currentPhase(),
		ViewerCount: int(o.viewerCount.Load()),
		QueueDepth:  o.pendingDepth(),
	})
	o.obs.RecordDecision(ctx, string(decision.Action), string(decision.Reason), time.Since(start).Seconds())

	var responded bool
	switch decision.Action {
	case types.ActionSpeak:
		responded = o.commitSpeak(ctx, c, decision, handle, start)
	case types.ActionQueue:
		o.enqueue(ctx, c)
	case types.ActionWait:
		o.waits.Add(1)
	default:
		o.skips.Add(1)
	}

	var latency float64
	if responded {
		latency = time.Since(start).Seconds()
	}
	o.archiveAsync(func(actx context.Context) error {
		return o.store.InsertComment(actx, archive.CommentRow{
			Timestamp:       clock.Epoch(o.clk.Now()),
			Author:          c.Username,
			Text:            c.Text(),
			Intent:          c.Intent,
			Responded:       responded,
			ResponseLatency: latency,
		})
	})

	o.processed.Add(1)
	return nil
}

// rejectMalformed drops a message that failed to parse.
func (o *Orchestrator) rejectMalformed(ctx context.Context, err error) {
	o.malformed.Add(1)
	o.obs.MalformedMessages.Add(ctx, 1)
	observe.Logger(ctx).Warn("dropping malformed message", "error", err)
}

// commitSpeak publishes the enriched speak request and records all side
// effects in the documented order: publish, mark responded, mark spoken,
// notify state, auto-transition. It reports whether the publish went through.
func (o *Orchestrator) commitSpeak(ctx context.Context, c types.ClassifiedComment, d types.Decision, handle *metrics.CommentHandle, start time.Time) bool {
	phase := o.currentPhase()
	req := types.SpeakRequest{
		ClassifiedComment:     c,
		BrainDecision:         d,
		SaleState:             phase,
		ResponseStyle:         o.machine.ResponseStyle(),
		OrchestratorTimestamp: clock.Epoch(o.clk.Now()),
	}

	body, err := json.Marshal(req)
	if err != nil {
		observe.Logger(ctx).Error("marshal speak request", "error", err)
		return false
	}
	if err := o.publisher.Publish(ctx, o.cfg.Bus.OutputQueue, body); err != nil {
		observe.Logger(ctx).Error("publish speak request", "comment_id", c.CommentID, "error", err)
		return false
	}

	latency := time.Since(start)
	viewers := int(o.viewerCount.Load())

	o.collector.MarkResponded(handle, latency)
	o.collector.RecordSpeak(c.Text(), 0, c.Intent, phase, viewers, d.Priority, d.Reason)
	o.brain.MarkSpoken()
	o.machine.NotifySpeak()
	o.speaks.Add(1)
	o.obs.RecordSpeak(ctx, string(c.Intent), string(phase))

	if o.sessLog != nil {
		o.sessLog.Info("speak",
			"comment_id", c.CommentID,
			"username", c.Username,
			"intent", c.Intent,
			"priority", d.Priority,
			"reason", d.Reason,
			"phase", phase,
			"viewer_count", viewers,
		)
	}
	o.archiveAsync(func(actx context.Context) error {
		return o.store.InsertSpeak(actx, archive.SpeakRow{
			Timestamp:   clock.Epoch(o.clk.Now()),
			Text:        c.Text(),
			Intent:      c.Intent,
			Phase:       phase,
			ViewerCount: viewers,
			Priority:    d.Priority,
			Reason:      d.Reason,
		})
	})

	if o.stateActive() {
		if trigger, ok := state.AutoTriggers[c.Intent]; ok {
			if ev, transitioned := o.machine.Transition(trigger, false); transitioned {
				o.recordTransition(ctx, ev)
			}
		}
	}
	return true
}

// enqueue parks a comment in the bounded pending queue, dropping it when the
// queue is already full.
func (o *Orchestrator) enqueue(ctx context.Context, c types.ClassifiedComment) {
	o.mu.Lock()
	full := len(o.pending) >= o.cfg.Brain.MaxQueueSize
	if !full {
		o.pending = append(o.pending, pendingItem{comment: c, enqueuedAt: o.clk.Now()})
	}
	o.mu.Unlock()

	if full {
		o.dropped.Add(1)
		observe.Logger(ctx).Debug("pending queue full, dropping comment", "comment_id", c.CommentID)
		return
	}
	o.queued.Add(1)
	o.obs.QueueDepth.Add(ctx, 1)
}

// prunePending drops queued comments older than the queue timeout.
func (o *Orchestrator) prunePending(ctx context.Context) {
	timeout := time.Duration(o.cfg.Brain.QueueTimeout * float64(time.Second))
	now := o.clk.Now()

	o.mu.Lock()
	kept := o.pending[:0]
	var expired int
	for _, item := range o.pending {
		if now.Sub(item.enqueuedAt) > timeout {
			expired++
			continue
		}
		kept = append(kept, item)
	}
	o.pending = kept
	o.mu.Unlock()

	if expired > 0 {
		o.dropped.Add(int64(expired))
		o.obs.QueueDepth.Add(ctx, int64(-expired))
		observe.Logger(ctx).Debug("expired queued comments", "count", expired)
	}
}

func (o *Orchestrator) pendingDepth() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// stateActive reports whether the state machine both exists and is allowed
// to auto-transition.
func (o *Orchestrator) stateActive() bool {
	return o.cfg.State.Enabled && o.cfg.State.AutoTransition
}

func (o *Orchestrator) currentPhase() types.Phase {
	if !o.cfg.State.Enabled {
		return types.PhaseIdle
	}
	return o.machine.Phase()
}

// recordTransition fans one transition event out to telemetry, the session
// log, and the archive.
func (o *Orchestrator) recordTransition(ctx context.Context, ev state.TransitionEvent) {
	o.obs.RecordTransition(ctx, string(ev.From), string(ev.To), string(ev.Trigger))

	if o.sessLog != nil {
		o.sessLog.Info("phase transition",
			"from", ev.From,
			"to", ev.To,
			"trigger", ev.Trigger,
			"dwell", ev.Dwell.Seconds(),
			"forced", ev.Forced,
		)
	}
	o.archiveAsync(func(actx context.Context) error {
		return o.store.InsertTransition(actx, archive.TransitionRow{
			Timestamp: clock.Epoch(ev.At),
			FromPhase: ev.From,
			ToPhase:   ev.To,
			Trigger:   string(ev.Trigger),
			Dwell:     ev.Dwell.Seconds(),
			Forced:    ev.Forced,
		})
	})
}

// onViewerUpdate feeds a fresh audience count to every consumer of it.
func (o *Orchestrator) onViewerUpdate(ctx context.Context, count int) {
	o.viewerCount.Store(int64(count))
	o.collector.RecordViewer(count)
	o.machine.UpdateViewerCount(count)
	o.obs.ViewerCount.Record(ctx, int64(count))
}

// archiveAsync hands a write to the archive worker. Writes are best-effort:
// when the archive is absent or the worker is saturated the write is skipped.
func (o *Orchestrator) archiveAsync(fn func(context.Context) error) {
	if o.store == nil {
		return
	}
	select {
	case o.archiveCh <- fn:
	default:
		o.obs.ArchiveErrors.Add(context.Background(), 1)
	}
}

// archiveLoop executes queued archive writes behind the circuit breaker.
func (o *Orchestrator) archiveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-o.archiveCh:
			err := o.breaker.Do(func() error {
				wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				return fn(wctx)
			})
			if err != nil {
				o.obs.ArchiveErrors.Add(ctx, 1)
			}
		}
	}
}

// exportLoop writes a timestamped metrics snapshot at the configured
// interval. Export failures are logged and retried on the next tick.
func (o *Orchestrator) exportLoop(ctx context.Context) error {
	interval := time.Duration(o.cfg.Metrics.ExportInterval * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final export so the tail of the session is not lost.
			o.exportOnce()
			return ctx.Err()
		case <-ticker.C:
			o.exportOnce()
		}
	}
}

func (o *Orchestrator) exportOnce() {
	name := "metrics_" + time.Now().Format("20060102_150405") + ".json"
	path := filepath.Join(o.cfg.Metrics.ExportPath, name)
	if err := o.collector.Export(path); err != nil {
		slog.Error("metrics export failed", "path", path, "error", err)
		return
	}
	slog.Info("metrics exported", "path", path)
}

// logSessionSummary emits the end-of-session roll-up.
func (o *Orchestrator) logSessionSummary() {
	uptime := o.clk.Now().Sub(o.startedAt)
	rt := o.collector.RealtimeStats()
	st := o.machine.Stats()

	slog.Info("session summary",
		"session_id", o.sessionID,
		"uptime", uptime.Round(time.Second),
		"processed", o.processed.Load(),
		"speaks", o.speaks.Load(),
		"skips", o.skips.Load(),
		"waits", o.waits.Load(),
		"queued", o.queued.Load(),
		"dropped", o.dropped.Load(),
		"malformed", o.malformed.Load(),
		"response_rate", rt.ResponseRate,
		"speaks_per_minute", rt.SpeaksPerMinute,
		"final_phase", st.CurrentPhase,
		"transitions", st.TransitionCount,
	)

	if o.sessLog != nil {
		o.sessLog.Info("session end",
			"processed", o.processed.Load(),
			"speaks", o.speaks.Load(),
			"response_rate", rt.ResponseRate,
			"transitions", st.TransitionCount,
		)
	}
}

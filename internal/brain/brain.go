// Package brain implements the central decision engine of the livehost core.
//
// For every classified comment the brain answers one question: does the host
// speak now, and if so with what priority? The decision is a pure function of
// the injected clock, the comment, the current sale phase, and the brain's
// small internal state (last speak time plus a bounded ring of recent comment
// texts for duplicate suppression). The brain never blocks and never fails on
// valid input; malformed intents degrade to "unknown".
package brain

import (
	"strings"
	"sync"
	"time"

	"github.com/lumenstream/livehost/internal/clock"
	"github.com/lumenstream/livehost/pkg/types"
)

// Config holds the decision policy. Use [DefaultConfig] and override fields
// as needed; the zero value is not usable.
type Config struct {
	// MinSpeakInterval is the cooldown between two speaks. A comment arriving
	// inside the cooldown yields WAIT/TOO_FAST.
	MinSpeakInterval time.Duration

	// MaxSpeakInterval is the silence span after which the next non-spam,
	// non-duplicate comment is boosted to AutoSpeakPriority.
	MaxSpeakInterval time.Duration

	// DefaultCooldown is the base post-speak cooldown before priority scaling.
	DefaultCooldown time.Duration

	// HighPriorityThreshold is the minimum priority for a speak subject to
	// queue capacity.
	HighPriorityThreshold int

	// AutoSpeakPriority is the priority at which a comment speaks regardless
	// of queue depth.
	AutoSpeakPriority int

	// MaxQueueSize bounds the orchestrator's pending queue; the brain emits
	// QUEUE/QUEUE_FULL for high-priority comments once the reported depth
	// reaches it.
	MaxQueueSize int

	// DuplicateWindow is the capacity of the recent-comment ring.
	DuplicateWindow int

	// DuplicateSimilarity is the word-overlap threshold in (0,1] at or above
	// which a comment is suppressed as a duplicate.
	DuplicateSimilarity float64

	// IntentPriority maps each intent to its base priority score.
	IntentPriority map[types.Intent]int

	// StateModifiers multiplies the base priority per (phase, intent) pair.
	// Missing entries default to 1.0.
	StateModifiers map[types.Phase]map[types.Intent]float64

	// ViewerLowThreshold / ViewerHighThreshold split the audience size into
	// three bands; the low band raises priorities, the high band lowers them.
	ViewerLowThreshold   int
	ViewerHighThreshold  int
	ViewerLowMultiplier  float64
	ViewerHighMultiplier float64
}

// DefaultConfig returns the standard decision policy.
func DefaultConfig() Config {
	return Config{
		MinSpeakInterval:      3 * time.Second,
		MaxSpeakInterval:      15 * time.Second,
		DefaultCooldown:       4 * time.Second,
		HighPriorityThreshold: 7,
		AutoSpeakPriority:     9,
		MaxQueueSize:          10,
		DuplicateWindow:       10,
		DuplicateSimilarity:   0.8,
		IntentPriority: map[types.Intent]int{
			types.IntentPurchaseIntent:  10,
			types.IntentPriceQuestion:   9,
			types.IntentProductQuestion: 8,
			types.IntentComplaint:       7,
			types.IntentGreeting:        6,
			types.IntentRequest:         6,
			types.IntentThanks:          5,
			types.IntentChitchat:        4,
			types.IntentUnknown:         3,
			types.IntentSpam:            1,
		},
		StateModifiers: map[types.Phase]map[types.Intent]float64{
			types.PhaseIdle:     {types.IntentGreeting: 1.5, types.IntentChitchat: 1.2},
			types.PhaseWarmUp:   {types.IntentProductQuestion: 1.3},
			types.PhaseInterest: {types.IntentPriceQuestion: 1.5},
			types.PhasePrice:    {types.IntentPurchaseIntent: 2.0},
			types.PhaseCTA:      {types.IntentPurchaseIntent: 1.5},
			types.PhaseCooldown: {},
		},
		ViewerLowThreshold:   50,
		ViewerHighThreshold:  500,
		ViewerLowMultiplier:  1.2,
		ViewerHighMultiplier: 0.8,
	}
}

// Input is everything the brain needs to decide on one comment.
type Input struct {
	Comment types.ClassifiedComment

	// Phase is the sale-flow phase at decision time.
	Phase types.Phase

	// ViewerCount is the latest known audience size; 0 when no feed is
	// configured.
	ViewerCount int

	// QueueDepth is the current length of the orchestrator's pending queue.
	QueueDepth int
}

// Stats is a point-in-time snapshot of the brain's counters.
type Stats struct {
	SpeakCount     int     `json:"speak_count"`
	TimeSinceSpeak float64 `json:"time_since_speak"`
	RecentComments int     `json:"recent_comments"`
}

// Brain is the decision engine. A single instance serves one session; the
// orchestrator owns it and calls Decide from the hot path only. Stats may be
// read concurrently.
type Brain struct {
	cfg Config
	clk clock.Clock

	mu        sync.Mutex
	lastSpeak time.Time // zero until the first MarkSpoken, which reads as long silence
	speaks    int
	recent    []string // normalised texts, oldest first, capped at DuplicateWindow
}

// New creates a Brain with the given policy and clock.
func New(cfg Config, clk clock.Clock) *Brain {
	return &Brain{cfg: cfg, clk: clk}
}

// Decide runs the decision procedure for one comment. It mutates only the
// recent-comment ring; committing a speak is the orchestrator's job via
// [Brain.MarkSpoken].
func (b *Brain) Decide(in Input) types.Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clk.Now()
	elapsed := now.Sub(b.lastSpeak)

	// Cooldown gate.
	if elapsed < b.cfg.MinSpeakInterval {
		wait := (b.cfg.MinSpeakInterval - elapsed).Seconds()
		return types.Decision{
			Action:   types.ActionWait,
			Reason:   types.ReasonTooFast,
			Cooldown: wait,
			Metadata: map[string]any{"wait_time": wait},
		}
	}

	intent := types.ParseIntent(string(in.Comment.Intent))

	// Spam gate.
	if intent == types.IntentSpam {
		return types.Decision{Action: types.ActionSkip, Reason: types.ReasonSpam}
	}

	// Duplicate gate.
	normalized := normalize(in.Comment.Text())
	if b.isDuplicate(normalized) {
		return types.Decision{Action: types.ActionSkip, Reason: types.ReasonDuplicate}
	}

	priority := b.score(intent, in)

	// Starvation boost: silence beyond MaxSpeakInterval forces the next
	// usable comment through.
	if elapsed > b.cfg.MaxSpeakInterval {
		priority = max(priority, b.cfg.AutoSpeakPriority)
	}

	var dec types.Decision
	switch {
	case priority >= b.cfg.AutoSpeakPriority:
		dec = b.speakDecision(intent, in, priority)
	case priority >= b.cfg.HighPriorityThreshold:
		if in.QueueDepth < b.cfg.MaxQueueSize {
			dec = b.speakDecision(intent, in, priority)
		} else {
			dec = types.Decision{Action: types.ActionQueue, Reason: types.ReasonQueueFull, Priority: priority}
		}
	default:
		dec = types.Decision{Action: types.ActionSkip, Reason: types.ReasonLowPriority, Priority: priority}
	}

	b.track(normalized)
	return dec
}

// score computes the clamped priority for a comment that passed all gates.
func (b *Brain) score(intent types.Intent, in Input) int {
	base, ok := b.cfg.IntentPriority[intent]
	if !ok {
		base = b.cfg.IntentPriority[types.IntentUnknown]
	}

	stateMult := 1.0
	if mods, ok := b.cfg.StateModifiers[in.Phase]; ok {
		if m, ok := mods[intent]; ok {
			stateMult = m
		}
	}

	viewerMult := 1.0
	switch {
	case in.ViewerCount < b.cfg.ViewerLowThreshold:
		viewerMult = b.cfg.ViewerLowMultiplier
	case in.ViewerCount > b.cfg.ViewerHighThreshold:
		viewerMult = b.cfg.ViewerHighMultiplier
	}

	bonus := 0
	switch {
	case in.Comment.IsSubscriber:
		bonus = 2
	case in.Comment.IsFollower:
		bonus = 1
	}
	if in.Comment.GiftValue > 0 {
		bonus += min(3, int(in.Comment.GiftValue/100))
	}

	p := int(float64(base)*stateMult*viewerMult + float64(bonus))
	return max(1, min(10, p))
}

// speakReasons maps speak-worthy intents to their decision reason; anything
// else speaks as HIGH_PRIORITY.
var speakReasons = map[types.Intent]types.Reason{
	types.IntentGreeting:        types.ReasonGreeting,
	types.IntentPriceQuestion:   types.ReasonPriceQuestion,
	types.IntentProductQuestion: types.ReasonProductQuestion,
	types.IntentPurchaseIntent:  types.ReasonSaleCTA,
	types.IntentThanks:          types.ReasonEngagement,
	types.IntentChitchat:        types.ReasonEngagement,
}

func (b *Brain) speakDecision(intent types.Intent, in Input, priority int) types.Decision {
	reason, ok := speakReasons[intent]
	if !ok {
		reason = types.ReasonHighPriority
	}

	// Higher priority shortens the prescribed cooldown, clamped to [2s, 8s].
	cooldown := b.cfg.DefaultCooldown.Seconds() * (1 - float64(priority-5)*0.1)
	cooldown = max(2.0, min(8.0, cooldown))

	return types.Decision{
		Action:     types.ActionSpeak,
		Reason:     reason,
		Priority:   priority,
		Cooldown:   cooldown,
		Confidence: 0.8 + float64(priority)/50,
		Metadata: map[string]any{
			"intent":       string(intent),
			"sale_state":   string(in.Phase),
			"viewer_count": in.ViewerCount,
		},
	}
}

// isDuplicate reports whether normalized matches a recent comment. Callers
// must hold b.mu.
func (b *Brain) isDuplicate(normalized string) bool {
	for _, recent := range b.recent {
		if Similarity(normalized, recent) >= b.cfg.DuplicateSimilarity {
			return true
		}
	}
	return false
}

// track appends normalized to the recent ring, evicting the oldest entry
// once the window is full. Callers must hold b.mu.
func (b *Brain) track(normalized string) {
	b.recent = append(b.recent, normalized)
	if len(b.recent) > b.cfg.DuplicateWindow {
		b.recent = b.recent[len(b.recent)-b.cfg.DuplicateWindow:]
	}
}

// MarkSpoken records that a speak was committed downstream. The orchestrator
// calls it after the speak request is published.
func (b *Brain) MarkSpoken() {
	b.mu.Lock()
	b.lastSpeak = b.clk.Now()
	b.speaks++
	b.mu.Unlock()
}

// Stats returns the brain's counters. Safe for concurrent use.
func (b *Brain) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	since := 0.0
	if !b.lastSpeak.IsZero() {
		since = b.clk.Now().Sub(b.lastSpeak).Seconds()
	}
	return Stats{
		SpeakCount:     b.speaks,
		TimeSinceSpeak: since,
		RecentComments: len(b.recent),
	}
}

// normalize lowercases and trims a comment text to the form stored in the
// recent-comment ring.
func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

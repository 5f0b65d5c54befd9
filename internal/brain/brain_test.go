package brain_test

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/lumenstream/livehost/internal/brain"
	"github.com/lumenstream/livehost/internal/clock"
	"github.com/lumenstream/livehost/pkg/types"
)

// ── helpers ──────────────────────────────────────────────────────────────────

func newBrain(t *testing.T) (*brain.Brain, *clock.Fake) {
	t.Helper()
	fk := clock.NewFake(time.Unix(1_700_000_000, 0))
	return brain.New(brain.DefaultConfig(), fk), fk
}

func comment(text string, intent types.Intent) types.ClassifiedComment {
	return types.ClassifiedComment{
		Username:        "viewer01",
		OriginalComment: text,
		Intent:          intent,
	}
}

// ── cooldown ─────────────────────────────────────────────────────────────────

// A greeting at session start speaks immediately; a second comment one second
// later hits the cooldown gate with the remaining wait prescribed.
func TestDecide_CooldownGate(t *testing.T) {
	t.Parallel()
	b, fk := newBrain(t)

	dec := b.Decide(brain.Input{
		Comment:     comment("hello mọi người", types.IntentGreeting),
		Phase:       types.PhaseIdle,
		ViewerCount: 100,
	})
	if dec.Action != types.ActionSpeak {
		t.Fatalf("first greeting: got %s/%s, want SPEAK", dec.Action, dec.Reason)
	}
	if dec.Priority < 6 {
		t.Errorf("greeting priority: got %d, want >= 6", dec.Priority)
	}
	b.MarkSpoken()

	fk.Advance(1 * time.Second)
	dec = b.Decide(brain.Input{
		Comment:     comment("giá bao nhiêu vậy", types.IntentPriceQuestion),
		Phase:       types.PhaseIdle,
		ViewerCount: 100,
	})
	if dec.Action != types.ActionWait || dec.Reason != types.ReasonTooFast {
		t.Fatalf("inside cooldown: got %s/%s, want WAIT/TOO_FAST", dec.Action, dec.Reason)
	}
	if math.Abs(dec.Cooldown-2.0) > 1e-9 {
		t.Errorf("remaining cooldown: got %.3f, want 2.0", dec.Cooldown)
	}
	if dec.Priority != 0 {
		t.Errorf("WAIT priority: got %d, want 0", dec.Priority)
	}
}

// ── starvation boost ─────────────────────────────────────────────────────────

// After more than MaxSpeakInterval of silence, even a low-value chitchat
// comment is boosted to a forced speak.
func TestDecide_StarvationBoost(t *testing.T) {
	t.Parallel()
	b, fk := newBrain(t)

	dec := b.Decide(brain.Input{
		Comment:     comment("chào cả nhà", types.IntentGreeting),
		Phase:       types.PhaseIdle,
		ViewerCount: 100,
	})
	if dec.Action != types.ActionSpeak {
		t.Fatalf("setup greeting: got %s, want SPEAK", dec.Action)
	}
	b.MarkSpoken()

	fk.Advance(16 * time.Second)
	dec = b.Decide(brain.Input{
		Comment:     comment("hôm nay trời đẹp quá", types.IntentChitchat),
		Phase:       types.PhaseIdle,
		ViewerCount: 100,
	})
	if dec.Action != types.ActionSpeak {
		t.Fatalf("after 16s silence: got %s/%s, want SPEAK", dec.Action, dec.Reason)
	}
	if dec.Priority < 9 {
		t.Errorf("boosted priority: got %d, want >= 9", dec.Priority)
	}
}

// Without the boost the same chitchat would be skipped as low priority.
func TestDecide_ChitchatSkippedWithoutBoost(t *testing.T) {
	t.Parallel()
	b, fk := newBrain(t)

	b.MarkSpoken()
	fk.Advance(5 * time.Second)

	dec := b.Decide(brain.Input{
		Comment:     comment("hôm nay trời đẹp quá", types.IntentChitchat),
		Phase:       types.PhaseWarmUp,
		ViewerCount: 100,
	})
	if dec.Action != types.ActionSkip || dec.Reason != types.ReasonLowPriority {
		t.Fatalf("chitchat mid-session: got %s/%s, want SKIP/LOW_PRIORITY", dec.Action, dec.Reason)
	}
}

// ── spam & duplicates ────────────────────────────────────────────────────────

func TestDecide_SpamNeverSpeaks(t *testing.T) {
	t.Parallel()
	b, fk := newBrain(t)

	// Even with maximum silence the spam gate holds.
	fk.Advance(time.Hour)
	dec := b.Decide(brain.Input{
		Comment:     comment("follow back please http://spam", types.IntentSpam),
		Phase:       types.PhaseIdle,
		ViewerCount: 10,
	})
	if dec.Action != types.ActionSkip || dec.Reason != types.ReasonSpam {
		t.Fatalf("spam: got %s/%s, want SKIP/SPAM", dec.Action, dec.Reason)
	}
}

func TestDecide_DuplicateSuppressed(t *testing.T) {
	t.Parallel()
	b, fk := newBrain(t)

	dec := b.Decide(brain.Input{
		Comment:     comment("Xin chào mọi người", types.IntentGreeting),
		Phase:       types.PhaseIdle,
		ViewerCount: 100,
	})
	if dec.Action != types.ActionSpeak {
		t.Fatalf("first occurrence: got %s, want SPEAK", dec.Action)
	}
	b.MarkSpoken()

	fk.Advance(5 * time.Second)
	dec = b.Decide(brain.Input{
		Comment:     comment("Xin chào mọi người", types.IntentGreeting),
		Phase:       types.PhaseIdle,
		ViewerCount: 100,
	})
	if dec.Action != types.ActionSkip || dec.Reason != types.ReasonDuplicate {
		t.Fatalf("repeat: got %s/%s, want SKIP/DUPLICATE", dec.Action, dec.Reason)
	}
}

// The ring holds DuplicateWindow entries; the oldest entry is evicted at
// window+1 and stops matching.
func TestDecide_DuplicateRingEviction(t *testing.T) {
	t.Parallel()

	cfg := brain.DefaultConfig()
	cfg.DuplicateWindow = 3
	fk := clock.NewFake(time.Unix(1_700_000_000, 0))
	b := brain.New(cfg, fk)

	feed := func(text string) types.Decision {
		return b.Decide(brain.Input{
			Comment:     comment(text, types.IntentGreeting),
			Phase:       types.PhaseIdle,
			ViewerCount: 100,
		})
	}

	// Four distinct comments fill the ring and evict the first.
	for i := 0; i < 4; i++ {
		if dec := feed(fmt.Sprintf("đây là bình luận gốc số một %d", i)); dec.Action == types.ActionSkip && dec.Reason == types.ReasonDuplicate {
			t.Fatalf("distinct comment %d flagged as duplicate", i)
		}
	}

	// The first text is no longer in the window.
	if dec := feed("đây là bình luận gốc số một 0"); dec.Reason == types.ReasonDuplicate {
		t.Error("evicted comment still matched as duplicate")
	}

	// The most recent one still is.
	if dec := feed("đây là bình luận gốc số một 3"); dec.Reason != types.ReasonDuplicate {
		t.Errorf("recent repeat: got %s/%s, want SKIP/DUPLICATE", dec.Action, dec.Reason)
	}
}

// ── priority computation ─────────────────────────────────────────────────────

func TestDecide_PriorityClampedToTen(t *testing.T) {
	t.Parallel()
	b, fk := newBrain(t)
	b.MarkSpoken()
	fk.Advance(5 * time.Second)

	// purchase_intent (10) × PRICE modifier (2.0) × low-viewer (1.2) +
	// subscriber (2) + gift (3) would be 29 without the clamp.
	c := comment("chốt đơn cho mình nhé", types.IntentPurchaseIntent)
	c.IsSubscriber = true
	c.GiftValue = 1000

	dec := b.Decide(brain.Input{Comment: c, Phase: types.PhasePrice, ViewerCount: 10})
	if dec.Action != types.ActionSpeak || dec.Reason != types.ReasonSaleCTA {
		t.Fatalf("purchase intent: got %s/%s, want SPEAK/SALE_CTA", dec.Action, dec.Reason)
	}
	if dec.Priority != 10 {
		t.Errorf("clamped priority: got %d, want 10", dec.Priority)
	}
	// Priority 10 shrinks the cooldown to its floor.
	if math.Abs(dec.Cooldown-2.0) > 1e-9 {
		t.Errorf("cooldown at priority 10: got %.2f, want 2.0", dec.Cooldown)
	}
	if math.Abs(dec.Confidence-1.0) > 1e-9 {
		t.Errorf("confidence at priority 10: got %.2f, want 1.0", dec.Confidence)
	}
}

func TestDecide_ViewerBandsShiftPriority(t *testing.T) {
	t.Parallel()

	// product_question (8) in WARM_UP (×1.3): 12.48 low band, 10.4 mid,
	// 8.32 high band — clamped to 10/10/8.
	cases := []struct {
		viewers int
		want    int
	}{
		{viewers: 10, want: 10},
		{viewers: 100, want: 10},
		{viewers: 1000, want: 8},
	}

	for _, tc := range cases {
		b, fk := newBrain(t)
		b.MarkSpoken()
		fk.Advance(5 * time.Second)

		dec := b.Decide(brain.Input{
			Comment:     comment("sản phẩm này dùng thế nào", types.IntentProductQuestion),
			Phase:       types.PhaseWarmUp,
			ViewerCount: tc.viewers,
		})
		if dec.Priority != tc.want {
			t.Errorf("viewers=%d: priority got %d, want %d", tc.viewers, dec.Priority, tc.want)
		}
	}
}

func TestDecide_UnknownIntentDegrades(t *testing.T) {
	t.Parallel()
	b, fk := newBrain(t)
	b.MarkSpoken()
	fk.Advance(5 * time.Second)

	dec := b.Decide(brain.Input{
		Comment:     comment("???", "definitely_not_an_intent"),
		Phase:       types.PhaseIdle,
		ViewerCount: 100,
	})
	// unknown base 3 → low priority skip, not an error.
	if dec.Action != types.ActionSkip || dec.Reason != types.ReasonLowPriority {
		t.Fatalf("unknown intent: got %s/%s, want SKIP/LOW_PRIORITY", dec.Action, dec.Reason)
	}
}

// ── queue ────────────────────────────────────────────────────────────────────

func TestDecide_QueueFull(t *testing.T) {
	t.Parallel()

	cfg := brain.DefaultConfig()
	cfg.MaxQueueSize = 2
	fk := clock.NewFake(time.Unix(1_700_000_000, 0))
	b := brain.New(cfg, fk)
	b.MarkSpoken()
	fk.Advance(5 * time.Second)

	// complaint (7) in WARM_UP, mid viewer band: priority 7 — high, not auto.
	in := brain.Input{
		Comment:     comment("hàng giao chậm quá", types.IntentComplaint),
		Phase:       types.PhaseWarmUp,
		ViewerCount: 100,
		QueueDepth:  2,
	}
	dec := b.Decide(in)
	if dec.Action != types.ActionQueue || dec.Reason != types.ReasonQueueFull {
		t.Fatalf("full queue: got %s/%s, want QUEUE/QUEUE_FULL", dec.Action, dec.Reason)
	}
	if dec.Priority != 7 {
		t.Errorf("queued priority: got %d, want 7", dec.Priority)
	}

	// With capacity the same comment speaks.
	in.QueueDepth = 1
	in.Comment = comment("shop trả lời tin nhắn đi", types.IntentComplaint)
	dec = b.Decide(in)
	if dec.Action != types.ActionSpeak {
		t.Fatalf("queue has room: got %s/%s, want SPEAK", dec.Action, dec.Reason)
	}
}

// ── randomized invariants ────────────────────────────────────────────────────

// Under a random comment stream the brain never speaks twice inside
// MinSpeakInterval, never speaks on spam, and keeps priorities in range.
func TestDecide_RandomizedInvariants(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	cfg := brain.DefaultConfig()
	fk := clock.NewFake(time.Unix(1_700_000_000, 0))
	b := brain.New(cfg, fk)

	intents := []types.Intent{
		types.IntentGreeting, types.IntentPriceQuestion, types.IntentProductQuestion,
		types.IntentPurchaseIntent, types.IntentThanks, types.IntentComplaint,
		types.IntentRequest, types.IntentChitchat, types.IntentSpam, types.IntentUnknown,
	}
	phases := []types.Phase{
		types.PhaseIdle, types.PhaseWarmUp, types.PhaseInterest,
		types.PhasePrice, types.PhaseCTA, types.PhaseCooldown,
	}

	lastSpeak := time.Time{}
	for i := 0; i < 1000; i++ {
		fk.Advance(time.Duration(rng.Int63n(int64(5 * time.Second))))

		intent := intents[rng.Intn(len(intents))]
		in := brain.Input{
			Comment:     comment(fmt.Sprintf("bình luận ngẫu nhiên số %d", i), intent),
			Phase:       phases[rng.Intn(len(phases))],
			ViewerCount: rng.Intn(1500),
			QueueDepth:  rng.Intn(12),
		}
		dec := b.Decide(in)

		if dec.Priority < 0 || dec.Priority > 10 {
			t.Fatalf("step %d: priority %d out of range", i, dec.Priority)
		}

		if dec.Action == types.ActionSpeak {
			if intent == types.IntentSpam {
				t.Fatalf("step %d: SPEAK on spam", i)
			}
			if !lastSpeak.IsZero() {
				if gap := fk.Now().Sub(lastSpeak); gap < cfg.MinSpeakInterval {
					t.Fatalf("step %d: speak gap %v below min interval %v", i, gap, cfg.MinSpeakInterval)
				}
			}
			b.MarkSpoken()
			lastSpeak = fk.Now()
		}
	}
}

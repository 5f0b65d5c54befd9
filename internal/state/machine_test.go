package state_test

import (
	"testing"
	"time"

	"github.com/lumenstream/livehost/internal/clock"
	"github.com/lumenstream/livehost/internal/state"
	"github.com/lumenstream/livehost/pkg/types"
)

func newMachine(t *testing.T) (*state.Machine, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return state.NewMachine(clk), clk
}

func TestMachine_StartsIdle(t *testing.T) {
	t.Parallel()

	m, _ := newMachine(t)
	if got := m.Phase(); got != types.PhaseIdle {
		t.Fatalf("initial phase: got %s, want %s", got, types.PhaseIdle)
	}
	if got := m.ResponseStyle(); got != "friendly" {
		t.Errorf("idle style: got %q, want %q", got, "friendly")
	}
}

func TestMachine_MinDwellRefusesTransition(t *testing.T) {
	t.Parallel()

	m, clk := newMachine(t)

	// IDLE has no minimum dwell, so the greeting moves us to WARM_UP.
	if _, ok := m.Transition(state.TriggerGreetingReceived, false); !ok {
		t.Fatal("greeting from IDLE should transition")
	}
	if got := m.Phase(); got != types.PhaseWarmUp {
		t.Fatalf("after greeting: got %s, want %s", got, types.PhaseWarmUp)
	}

	// WARM_UP requires 30s before it lets go.
	clk.Advance(10 * time.Second)
	if _, ok := m.Transition(state.TriggerProductQuestion, false); ok {
		t.Fatal("transition accepted before minimum dwell elapsed")
	}
	if got := m.Phase(); got != types.PhaseWarmUp {
		t.Fatalf("phase changed despite refusal: got %s", got)
	}

	clk.Advance(25 * time.Second)
	ev, ok := m.Transition(state.TriggerProductQuestion, false)
	if !ok {
		t.Fatal("transition refused after minimum dwell elapsed")
	}
	if ev.From != types.PhaseWarmUp || ev.To != types.PhaseInterest {
		t.Errorf("event: got %s→%s, want %s→%s", ev.From, ev.To, types.PhaseWarmUp, types.PhaseInterest)
	}
	if ev.Dwell != 35*time.Second {
		t.Errorf("event dwell: got %s, want 35s", ev.Dwell)
	}
}

func TestMachine_ForceBypassesMinDwell(t *testing.T) {
	t.Parallel()

	m, clk := newMachine(t)
	m.Transition(state.TriggerGreetingReceived, false)
	clk.Advance(time.Second)

	ev, ok := m.Transition(state.TriggerProductQuestion, true)
	if !ok {
		t.Fatal("forced transition refused")
	}
	if !ev.Forced {
		t.Error("event not marked forced")
	}
	if got := m.Phase(); got != types.PhaseInterest {
		t.Fatalf("got %s, want %s", got, types.PhaseInterest)
	}
}

func TestMachine_UnknownTriggerIgnored(t *testing.T) {
	t.Parallel()

	m, _ := newMachine(t)
	if _, ok := m.Transition(state.TriggerCTAComplete, false); ok {
		t.Fatal("cta_complete has no rule from IDLE, must be ignored")
	}
	if got := m.Phase(); got != types.PhaseIdle {
		t.Fatalf("phase moved on unknown trigger: got %s", got)
	}
}

func TestMachine_TimeoutAdvancesFlow(t *testing.T) {
	t.Parallel()

	m, clk := newMachine(t)

	// Below MaxDwell nothing happens.
	clk.Advance(59 * time.Second)
	if _, ok := m.CheckTimeout(); ok {
		t.Fatal("timeout fired before MaxDwell")
	}

	clk.Advance(2 * time.Second)
	ev, ok := m.CheckTimeout()
	if !ok {
		t.Fatal("timeout did not fire past MaxDwell")
	}
	if ev.To != types.PhaseWarmUp || ev.Trigger != state.TriggerTimeout {
		t.Errorf("timeout event: got to=%s trigger=%s", ev.To, ev.Trigger)
	}
}

// Driving only timeouts walks the whole arc back to IDLE.
func TestMachine_TimeoutCycle(t *testing.T) {
	t.Parallel()

	m, clk := newMachine(t)
	want := []types.Phase{
		types.PhaseWarmUp,
		types.PhaseInterest,
		types.PhasePrice,
		types.PhaseCTA,
		types.PhaseCooldown,
		types.PhaseIdle,
	}
	for _, phase := range want {
		clk.Advance(181 * time.Second) // past every MaxDwell
		if _, ok := m.CheckTimeout(); !ok {
			t.Fatalf("timeout did not fire while heading to %s", phase)
		}
		if got := m.Phase(); got != phase {
			t.Fatalf("got %s, want %s", got, phase)
		}
	}
}

func TestMachine_ComplaintInterruptsAndResolves(t *testing.T) {
	t.Parallel()

	m, clk := newMachine(t)
	m.Transition(state.TriggerGreetingReceived, false)
	clk.Advance(35 * time.Second)
	m.Transition(state.TriggerProductQuestion, false)
	clk.Advance(50 * time.Second)

	ev, ok := m.Transition(state.TriggerComplaintReceived, false)
	if !ok {
		t.Fatal("complaint must interrupt INTEREST")
	}
	if ev.To != types.PhaseCrisis {
		t.Fatalf("got %s, want %s", ev.To, types.PhaseCrisis)
	}

	// CRISIS has no minimum dwell, resolution is immediate.
	ev, ok = m.Transition(state.TriggerCrisisResolved, false)
	if !ok {
		t.Fatal("crisis_resolved refused")
	}
	if ev.To != types.PhaseCooldown {
		t.Fatalf("got %s, want %s", ev.To, types.PhaseCooldown)
	}
}

func TestMachine_QuestionInterruptReturnsToInterest(t *testing.T) {
	t.Parallel()

	m, clk := newMachine(t)
	m.Transition(state.TriggerGreetingReceived, false)
	clk.Advance(40 * time.Second)

	if _, ok := m.Transition(state.TriggerQuestionReceived, false); !ok {
		t.Fatal("question must interrupt WARM_UP")
	}
	if got := m.Phase(); got != types.PhaseHandlingQuestion {
		t.Fatalf("got %s, want %s", got, types.PhaseHandlingQuestion)
	}

	if _, ok := m.Transition(state.TriggerQuestionAnswered, false); !ok {
		t.Fatal("question_answered refused")
	}
	if got := m.Phase(); got != types.PhaseInterest {
		t.Fatalf("got %s, want %s", got, types.PhaseInterest)
	}
}

func TestMachine_ForcePhase(t *testing.T) {
	t.Parallel()

	m, _ := newMachine(t)
	ev := m.ForcePhase(types.PhaseCTA, "operator_override")
	if ev.To != types.PhaseCTA || string(ev.Trigger) != "operator_override" {
		t.Errorf("force event: got to=%s trigger=%s", ev.To, ev.Trigger)
	}
	if got := m.Phase(); got != types.PhaseCTA {
		t.Fatalf("got %s, want %s", got, types.PhaseCTA)
	}
}

func TestMachine_StatsAndSnapshot(t *testing.T) {
	t.Parallel()

	m, clk := newMachine(t)
	m.UpdateViewerCount(100)
	m.Transition(state.TriggerGreetingReceived, false)

	m.NotifySpeak()
	m.NotifySpeak()
	m.UpdateViewerCount(160)
	clk.Advance(20 * time.Second)

	snap := m.GetSnapshot()
	if snap.Phase != types.PhaseWarmUp {
		t.Fatalf("snapshot phase: got %s", snap.Phase)
	}
	if snap.SpeakCount != 2 {
		t.Errorf("snapshot speaks: got %d, want 2", snap.SpeakCount)
	}
	if snap.ViewerDelta != 60 {
		t.Errorf("snapshot viewer delta: got %d, want 60", snap.ViewerDelta)
	}
	if snap.Previous != types.PhaseIdle {
		t.Errorf("snapshot previous: got %s", snap.Previous)
	}
	if snap.Dwell != 20.0 {
		t.Errorf("snapshot dwell: got %.1f, want 20.0", snap.Dwell)
	}

	clk.Advance(15 * time.Second)
	m.Transition(state.TriggerProductMention, false)

	stats := m.Stats()
	if stats.CurrentPhase != types.PhaseInterest {
		t.Fatalf("stats phase: got %s", stats.CurrentPhase)
	}
	if stats.TransitionCount != 2 {
		t.Errorf("transition count: got %d, want 2", stats.TransitionCount)
	}
	if got := stats.PerPhase[types.PhaseWarmUp].SpeakCount; got != 2 {
		t.Errorf("warm-up speaks: got %d, want 2", got)
	}
	if got := stats.PerPhase[types.PhaseWarmUp].TotalDwell; got != 35.0 {
		t.Errorf("warm-up dwell: got %.1f, want 35.0", got)
	}
}

func TestMachine_Reset(t *testing.T) {
	t.Parallel()

	m, clk := newMachine(t)
	m.Transition(state.TriggerGreetingReceived, false)
	m.NotifySpeak()
	clk.Advance(time.Minute)

	m.Reset()
	if got := m.Phase(); got != types.PhaseIdle {
		t.Fatalf("after reset: got %s, want %s", got, types.PhaseIdle)
	}
	stats := m.Stats()
	if stats.TransitionCount != 0 {
		t.Errorf("transition count after reset: got %d", stats.TransitionCount)
	}
	if got := stats.PerPhase[types.PhaseWarmUp].SpeakCount; got != 0 {
		t.Errorf("per-phase speaks after reset: got %d", got)
	}
	if stats.HistoryLength != 0 {
		t.Errorf("history after reset: got %d entries", stats.HistoryLength)
	}
}

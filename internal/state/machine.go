package state

import (
	"log/slog"
	"sync"
	"time"

	"github.com/lumenstream/livehost/internal/clock"
	"github.com/lumenstream/livehost/pkg/types"
)

// historyCap bounds the retained snapshot history so that long sessions do
// not grow memory without limit.
const historyCap = 256

// Snapshot captures the machine's position at one moment.
type Snapshot struct {
	Phase           types.Phase `json:"phase"`
	EnteredAt       float64     `json:"entered_at"`
	Dwell           float64     `json:"dwell"`
	Previous        types.Phase `json:"previous_phase,omitempty"`
	TransitionCount int         `json:"transition_count"`
	SpeakCount      int         `json:"speak_count"`
	ViewerDelta     int         `json:"viewer_delta"`
}

// TransitionEvent describes one executed transition, returned to the caller
// so the orchestrator can route it to the session log and metrics.
type TransitionEvent struct {
	From    types.Phase
	To      types.Phase
	Trigger Trigger
	At      time.Time
	Dwell   time.Duration
	Forced  bool
}

// PhaseStats accumulates per-phase totals across the whole session.
type PhaseStats struct {
	SpeakCount int     `json:"speak_count"`
	TotalDwell float64 `json:"duration"`
}

// Stats is the machine's aggregate view for the admin endpoint and the
// session-end summary.
type Stats struct {
	CurrentPhase    types.Phase                 `json:"current_phase"`
	Dwell           float64                     `json:"state_duration"`
	TransitionCount int                         `json:"transition_count"`
	PerPhase        map[types.Phase]*PhaseStats `json:"state_metrics"`
	HistoryLength   int                         `json:"history_length"`
}

// Machine is the sale-flow controller. The orchestrator's hot path drives it;
// Snapshot and Stats may be read concurrently from the admin listener.
type Machine struct {
	clk     clock.Clock
	configs map[types.Phase]PhaseConfig
	rules   []Rule

	mu              sync.Mutex
	current         types.Phase
	enteredAt       time.Time
	previous        types.Phase
	transitionCount int
	speaksInPhase   int
	history         []Snapshot
	perPhase        map[types.Phase]*PhaseStats
	viewerNow       int
	viewerAtEntry   int
}

// NewMachine creates a Machine starting in IDLE with the default rule table
// and phase configs.
func NewMachine(clk clock.Clock) *Machine {
	m := &Machine{
		clk:     clk,
		configs: DefaultPhaseConfigs(),
		rules:   defaultRules(),
	}
	m.resetLocked()
	return m
}

// Phase returns the current phase.
func (m *Machine) Phase() types.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Dwell returns the time spent in the current phase.
func (m *Machine) Dwell() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dwellLocked()
}

func (m *Machine) dwellLocked() time.Duration {
	return m.clk.Now().Sub(m.enteredAt)
}

// ResponseStyle returns the style tag configured for the current phase.
func (m *Machine) ResponseStyle() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configs[m.current].Style
}

// PriorityIntents returns the intents the current phase favours.
func (m *Machine) PriorityIntents() []types.Intent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configs[m.current].PriorityIntents
}

// CanTransition reports whether any rule accepts trigger from the current
// phase, ignoring dwell constraints.
func (m *Machine) CanTransition(trigger Trigger) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findRuleLocked(trigger) != nil
}

// findRuleLocked returns the highest-priority matching rule whose guard
// holds, or nil. The rule table is kept sorted by descending priority.
func (m *Machine) findRuleLocked(trigger Trigger) *Rule {
	for i := range m.rules {
		r := &m.rules[i]
		if r.From != m.current || r.Trigger != trigger {
			continue
		}
		if r.Guard != nil && !r.Guard() {
			continue
		}
		return r
	}
	return nil
}

// Transition attempts the transition named by trigger. Unless force is set,
// it is refused while the current dwell is below the phase's MinDwell.
// Unknown triggers are ignored and report false. On success the returned
// event describes the executed transition.
func (m *Machine) Transition(trigger Trigger, force bool) (TransitionEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule := m.findRuleLocked(trigger)
	if rule == nil {
		return TransitionEvent{}, false
	}

	if !force && m.dwellLocked() < m.configs[m.current].MinDwell {
		return TransitionEvent{}, false
	}

	return m.executeLocked(rule.To, trigger, force), true
}

// CheckTimeout fires the "timeout" trigger once the current dwell reaches
// the phase's MaxDwell.
func (m *Machine) CheckTimeout() (TransitionEvent, bool) {
	m.mu.Lock()
	timedOut := m.dwellLocked() >= m.configs[m.current].MaxDwell
	m.mu.Unlock()

	if !timedOut {
		return TransitionEvent{}, false
	}
	return m.Transition(TriggerTimeout, false)
}

// ForcePhase sets the phase unconditionally, bypassing the rule table and
// dwell constraints. The reason appears as the trigger of the emitted event.
func (m *Machine) ForcePhase(phase types.Phase, reason string) TransitionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executeLocked(phase, Trigger(reason), true)
}

// executeLocked finalises the snapshot of the leaving phase, then installs
// the new phase. Callers must hold m.mu.
func (m *Machine) executeLocked(to types.Phase, trigger Trigger, forced bool) TransitionEvent {
	now := m.clk.Now()
	old := m.current
	dwell := now.Sub(m.enteredAt)

	snap := Snapshot{
		Phase:           old,
		EnteredAt:       clock.Epoch(m.enteredAt),
		Dwell:           dwell.Seconds(),
		Previous:        m.previous,
		TransitionCount: m.transitionCount,
		SpeakCount:      m.speaksInPhase,
		ViewerDelta:     m.viewerNow - m.viewerAtEntry,
	}
	m.history = append(m.history, snap)
	if len(m.history) > historyCap {
		m.history = m.history[len(m.history)-historyCap:]
	}

	stats := m.perPhase[old]
	stats.TotalDwell += dwell.Seconds()

	m.previous = old
	m.current = to
	m.enteredAt = now
	m.transitionCount++
	m.speaksInPhase = 0
	m.viewerAtEntry = m.viewerNow

	slog.Info("sale phase transition",
		"from", old,
		"to", to,
		"trigger", trigger,
		"dwell", dwell.Round(time.Millisecond),
	)

	return TransitionEvent{
		From:    old,
		To:      to,
		Trigger: trigger,
		At:      now,
		Dwell:   dwell,
		Forced:  forced,
	}
}

// UpdateViewerCount records the latest audience size for viewer-delta
// tracking.
func (m *Machine) UpdateViewerCount(n int) {
	m.mu.Lock()
	m.viewerNow = n
	m.mu.Unlock()
}

// NotifySpeak records a committed speak against the current phase.
func (m *Machine) NotifySpeak() {
	m.mu.Lock()
	m.speaksInPhase++
	m.perPhase[m.current].SpeakCount++
	m.mu.Unlock()
}

// GetSnapshot returns the live snapshot of the current phase.
func (m *Machine) GetSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Phase:           m.current,
		EnteredAt:       clock.Epoch(m.enteredAt),
		Dwell:           m.dwellLocked().Seconds(),
		Previous:        m.previous,
		TransitionCount: m.transitionCount,
		SpeakCount:      m.speaksInPhase,
		ViewerDelta:     m.viewerNow - m.viewerAtEntry,
	}
}

// Stats returns the session-wide aggregates. The per-phase map is a copy.
func (m *Machine) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	perPhase := make(map[types.Phase]*PhaseStats, len(m.perPhase))
	for phase, ps := range m.perPhase {
		cp := *ps
		perPhase[phase] = &cp
	}
	return Stats{
		CurrentPhase:    m.current,
		Dwell:           m.dwellLocked().Seconds(),
		TransitionCount: m.transitionCount,
		PerPhase:        perPhase,
		HistoryLength:   len(m.history),
	}
}

// Reset returns the machine to IDLE and clears all accumulated state.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.resetLocked()
	m.mu.Unlock()
}

func (m *Machine) resetLocked() {
	m.current = types.PhaseIdle
	m.enteredAt = m.clk.Now()
	m.previous = ""
	m.transitionCount = 0
	m.speaksInPhase = 0
	m.history = nil
	m.viewerAtEntry = m.viewerNow
	m.perPhase = make(map[types.Phase]*PhaseStats, len(types.Phases))
	for _, phase := range types.Phases {
		m.perPhase[phase] = &PhaseStats{}
	}
}

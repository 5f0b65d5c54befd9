// Package state implements the sale-flow state machine that paces the
// commercial arc of a livestream session: IDLE → WARM_UP → INTEREST → PRICE →
// CTA → COOLDOWN → IDLE, with HANDLING_QUESTION and CRISIS as interrupt
// phases reachable from the middle of the flow.
//
// Transitions are driven by named triggers evaluated against a priority-
// ordered rule table. Minimum dwell times prevent phase thrash; maximum dwell
// times guarantee forward progress via the "timeout" trigger.
package state

import (
	"time"

	"github.com/lumenstream/livehost/pkg/types"
)

// Trigger is a named event that may cause a phase transition.
type Trigger string

const (
	TriggerStartWarmup       Trigger = "start_warmup"
	TriggerGreetingReceived  Trigger = "greeting_received"
	TriggerTimeout           Trigger = "timeout"
	TriggerProductMention    Trigger = "product_mention"
	TriggerProductQuestion   Trigger = "product_question"
	TriggerPriceQuestion     Trigger = "price_question"
	TriggerRevealPrice       Trigger = "reveal_price"
	TriggerStartCTA          Trigger = "start_cta"
	TriggerPurchaseIntent    Trigger = "purchase_intent"
	TriggerCTAComplete       Trigger = "cta_complete"
	TriggerCooldownComplete  Trigger = "cooldown_complete"
	TriggerRestartFlow       Trigger = "restart_flow"
	TriggerQuestionReceived  Trigger = "question_received"
	TriggerComplaintReceived Trigger = "complaint_received"
	TriggerQuestionAnswered  Trigger = "question_answered"
	TriggerCrisisResolved    Trigger = "crisis_resolved"
)

// PhaseConfig holds the per-phase policy.
type PhaseConfig struct {
	// MinDwell is the minimum time in the phase before a non-forced
	// transition is accepted.
	MinDwell time.Duration

	// MaxDwell is the dwell after which CheckTimeout fires the "timeout"
	// trigger.
	MaxDwell time.Duration

	// PriorityIntents lists the intents this phase favours; informational,
	// the priority arithmetic itself lives in the brain's modifier table.
	PriorityIntents []types.Intent

	// Style is the response-style tag forwarded on speak requests.
	Style string
}

// DefaultPhaseConfigs returns the standard dwell windows and style tags.
func DefaultPhaseConfigs() map[types.Phase]PhaseConfig {
	return map[types.Phase]PhaseConfig{
		types.PhaseIdle: {
			MinDwell: 0, MaxDwell: 60 * time.Second,
			PriorityIntents: []types.Intent{types.IntentGreeting, types.IntentChitchat},
			Style:           "friendly",
		},
		types.PhaseWarmUp: {
			MinDwell: 30 * time.Second, MaxDwell: 120 * time.Second,
			PriorityIntents: []types.Intent{types.IntentGreeting, types.IntentChitchat},
			Style:           "enthusiastic",
		},
		types.PhaseInterest: {
			MinDwell: 45 * time.Second, MaxDwell: 180 * time.Second,
			PriorityIntents: []types.Intent{types.IntentProductQuestion},
			Style:           "informative",
		},
		types.PhasePrice: {
			MinDwell: 20 * time.Second, MaxDwell: 90 * time.Second,
			PriorityIntents: []types.Intent{types.IntentPriceQuestion, types.IntentPurchaseIntent},
			Style:           "value_focused",
		},
		types.PhaseCTA: {
			MinDwell: 15 * time.Second, MaxDwell: 45 * time.Second,
			PriorityIntents: []types.Intent{types.IntentPurchaseIntent},
			Style:           "urgent",
		},
		types.PhaseCooldown: {
			MinDwell: 60 * time.Second, MaxDwell: 120 * time.Second,
			PriorityIntents: []types.Intent{types.IntentThanks, types.IntentChitchat},
			Style:           "calm",
		},
		types.PhaseHandlingQuestion: {
			MinDwell: 0, MaxDwell: 60 * time.Second,
			PriorityIntents: []types.Intent{types.IntentProductQuestion, types.IntentPriceQuestion},
			Style:           "helpful",
		},
		types.PhaseCrisis: {
			MinDwell: 0, MaxDwell: 120 * time.Second,
			PriorityIntents: []types.Intent{types.IntentComplaint},
			Style:           "empathetic",
		},
	}
}

// Rule is one row of the transition table. Rules are evaluated in descending
// Priority; the first match whose guard holds wins.
type Rule struct {
	From     types.Phase
	To       types.Phase
	Trigger  Trigger
	Guard    func() bool // nil means unconditional
	Priority int
}

// defaultRules returns the transition table, already sorted by descending
// priority (interrupts before normal flow).
func defaultRules() []Rule {
	rules := []Rule{
		// Interrupts: complaints preempt everything, open questions preempt
		// the normal flow.
		{From: types.PhaseWarmUp, To: types.PhaseCrisis, Trigger: TriggerComplaintReceived, Priority: 9},
		{From: types.PhaseInterest, To: types.PhaseCrisis, Trigger: TriggerComplaintReceived, Priority: 9},
		{From: types.PhasePrice, To: types.PhaseCrisis, Trigger: TriggerComplaintReceived, Priority: 9},
		{From: types.PhaseCTA, To: types.PhaseCrisis, Trigger: TriggerComplaintReceived, Priority: 9},

		{From: types.PhaseWarmUp, To: types.PhaseHandlingQuestion, Trigger: TriggerQuestionReceived, Priority: 8},
		{From: types.PhaseInterest, To: types.PhaseHandlingQuestion, Trigger: TriggerQuestionReceived, Priority: 8},
		{From: types.PhasePrice, To: types.PhaseHandlingQuestion, Trigger: TriggerQuestionReceived, Priority: 8},

		// Normal flow.
		{From: types.PhaseIdle, To: types.PhaseWarmUp, Trigger: TriggerStartWarmup, Priority: 5},
		{From: types.PhaseIdle, To: types.PhaseWarmUp, Trigger: TriggerGreetingReceived, Priority: 5},
		{From: types.PhaseIdle, To: types.PhaseWarmUp, Trigger: TriggerTimeout, Priority: 5},

		{From: types.PhaseWarmUp, To: types.PhaseInterest, Trigger: TriggerProductMention, Priority: 5},
		{From: types.PhaseWarmUp, To: types.PhaseInterest, Trigger: TriggerProductQuestion, Priority: 5},
		{From: types.PhaseWarmUp, To: types.PhaseInterest, Trigger: TriggerTimeout, Priority: 5},

		{From: types.PhaseInterest, To: types.PhasePrice, Trigger: TriggerPriceQuestion, Priority: 5},
		{From: types.PhaseInterest, To: types.PhasePrice, Trigger: TriggerRevealPrice, Priority: 5},
		{From: types.PhaseInterest, To: types.PhasePrice, Trigger: TriggerTimeout, Priority: 5},

		{From: types.PhasePrice, To: types.PhaseCTA, Trigger: TriggerStartCTA, Priority: 5},
		{From: types.PhasePrice, To: types.PhaseCTA, Trigger: TriggerPurchaseIntent, Priority: 5},
		{From: types.PhasePrice, To: types.PhaseCTA, Trigger: TriggerTimeout, Priority: 5},

		{From: types.PhaseCTA, To: types.PhaseCooldown, Trigger: TriggerCTAComplete, Priority: 5},
		{From: types.PhaseCTA, To: types.PhaseCooldown, Trigger: TriggerTimeout, Priority: 5},

		{From: types.PhaseCooldown, To: types.PhaseIdle, Trigger: TriggerCooldownComplete, Priority: 5},
		{From: types.PhaseCooldown, To: types.PhaseIdle, Trigger: TriggerTimeout, Priority: 5},
		{From: types.PhaseCooldown, To: types.PhaseWarmUp, Trigger: TriggerRestartFlow, Priority: 5},

		// Return paths from interrupts.
		{From: types.PhaseHandlingQuestion, To: types.PhaseInterest, Trigger: TriggerQuestionAnswered, Priority: 5},
		{From: types.PhaseCrisis, To: types.PhaseCooldown, Trigger: TriggerCrisisResolved, Priority: 5},
	}
	return rules
}

// AutoTriggers maps a spoken comment's intent to the transition trigger the
// orchestrator fires after the speak is committed.
var AutoTriggers = map[types.Intent]Trigger{
	types.IntentGreeting:        TriggerGreetingReceived,
	types.IntentProductQuestion: TriggerProductMention,
	types.IntentPriceQuestion:   TriggerPriceQuestion,
	types.IntentPurchaseIntent:  TriggerPurchaseIntent,
	types.IntentComplaint:       TriggerComplaintReceived,
}

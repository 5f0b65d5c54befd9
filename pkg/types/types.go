// Package types defines the wire-level data model shared between livehost and
// its sibling services: the classified comment consumed from the NLP stage,
// the decision produced by the brain, and the enriched speak request published
// towards response generation.
//
// All enumerations are closed string sets. Unrecognised values on the inbound
// path degrade to their documented defaults ([IntentUnknown]) rather than
// failing, so one malformed producer cannot stall the pipeline.
package types

import "strings"

// Action is the brain's verdict for a single classified comment.
type Action string

const (
	// ActionSpeak instructs the host to respond to this comment.
	ActionSpeak Action = "SPEAK"

	// ActionSkip drops the comment without a response.
	ActionSkip Action = "SKIP"

	// ActionWait defers the comment because the speak cooldown is active.
	ActionWait Action = "WAIT"

	// ActionQueue parks the comment in the bounded pending queue.
	ActionQueue Action = "QUEUE"
)

// Reason explains why a decision was taken. Speak reasons are derived from
// the comment's intent; skip and wait reasons name the gate that fired.
type Reason string

const (
	ReasonGreeting        Reason = "GREETING"
	ReasonPriceQuestion   Reason = "PRICE_QUESTION"
	ReasonProductQuestion Reason = "PRODUCT_QUESTION"
	ReasonHighPriority    Reason = "HIGH_PRIORITY"
	ReasonSaleCTA         Reason = "SALE_CTA"
	ReasonEngagement      Reason = "ENGAGEMENT"

	ReasonSpam        Reason = "SPAM"
	ReasonDuplicate   Reason = "DUPLICATE"
	ReasonLowPriority Reason = "LOW_PRIORITY"
	ReasonCooldown    Reason = "COOLDOWN_ACTIVE"

	ReasonTooFast         Reason = "TOO_FAST"
	ReasonQueueFull       Reason = "QUEUE_FULL"
	ReasonStateTransition Reason = "STATE_TRANSITION"
)

// Intent is the classifier's label for a comment. The set is closed; anything
// else maps to [IntentUnknown].
type Intent string

const (
	IntentGreeting        Intent = "greeting"
	IntentPriceQuestion   Intent = "price_question"
	IntentProductQuestion Intent = "product_question"
	IntentPurchaseIntent  Intent = "purchase_intent"
	IntentThanks          Intent = "thanks"
	IntentComplaint       Intent = "complaint"
	IntentRequest         Intent = "request"
	IntentChitchat        Intent = "chitchat"
	IntentSpam            Intent = "spam"
	IntentUnknown         Intent = "unknown"
)

// knownIntents is the closed set accepted from the classifier.
var knownIntents = map[Intent]struct{}{
	IntentGreeting: {}, IntentPriceQuestion: {}, IntentProductQuestion: {},
	IntentPurchaseIntent: {}, IntentThanks: {}, IntentComplaint: {},
	IntentRequest: {}, IntentChitchat: {}, IntentSpam: {}, IntentUnknown: {},
}

// ParseIntent normalises s (lowercased, trimmed) and returns the matching
// intent, or [IntentUnknown] when s is not in the closed set.
func ParseIntent(s string) Intent {
	in := Intent(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := knownIntents[in]; ok {
		return in
	}
	return IntentUnknown
}

// Phase is the current state of the sale-flow state machine. It travels on
// the outbound wire as "sale_state".
type Phase string

const (
	PhaseIdle             Phase = "IDLE"
	PhaseWarmUp           Phase = "WARM_UP"
	PhaseInterest         Phase = "INTEREST"
	PhasePrice            Phase = "PRICE"
	PhaseCTA              Phase = "CTA"
	PhaseCooldown         Phase = "COOLDOWN"
	PhaseHandlingQuestion Phase = "HANDLING_QUESTION"
	PhaseCrisis           Phase = "CRISIS"
)

// Phases lists every phase in flow order, interrupts last.
var Phases = []Phase{
	PhaseIdle, PhaseWarmUp, PhaseInterest, PhasePrice,
	PhaseCTA, PhaseCooldown, PhaseHandlingQuestion, PhaseCrisis,
}

// ClassifiedComment is the inbound message consumed from the classified
// comment queue. Timestamps are seconds since the Unix epoch, matching the
// upstream crawler.
type ClassifiedComment struct {
	CommentID        string  `json:"comment_id,omitempty"`
	UserID           string  `json:"user_id,omitempty"`
	Username         string  `json:"username"`
	Nickname         string  `json:"nickname,omitempty"`
	OriginalComment  string  `json:"original_comment"`
	Content          string  `json:"content,omitempty"`
	Intent           Intent  `json:"intent"`
	IntentConfidence float64 `json:"intent_confidence,omitempty"`
	Priority         int     `json:"priority,omitempty"`
	IsFollower       bool    `json:"is_follower,omitempty"`
	IsSubscriber     bool    `json:"is_subscriber,omitempty"`
	GiftValue        float64 `json:"gift_value,omitempty"`
	Timestamp        float64 `json:"timestamp"`
}

// Text returns the preprocessed content when the NLP stage provided one and
// the raw comment otherwise.
func (c *ClassifiedComment) Text() string {
	if c.Content != "" {
		return c.Content
	}
	return c.OriginalComment
}

// Decision is the brain's output for one comment.
type Decision struct {
	Action Action `json:"action"`
	Reason Reason `json:"reason"`

	// Priority is the computed score in [1,10]; gate decisions (WAIT, SKIP
	// on spam/duplicate) carry 0.
	Priority int `json:"priority"`

	// Cooldown is the prescribed wait in seconds before the next speak.
	Cooldown float64 `json:"cooldown"`

	// Confidence is the brain's confidence in this decision, in [0,1].
	Confidence float64 `json:"confidence"`

	// Metadata carries opaque context for downstream consumers.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SpeakRequest is the outbound message published to the speak-request queue
// when the decision is SPEAK. It carries every inbound field plus the
// decision, the current sale phase, and its recommended response style.
type SpeakRequest struct {
	ClassifiedComment

	BrainDecision         Decision `json:"brain_decision"`
	SaleState             Phase    `json:"sale_state"`
	ResponseStyle         string   `json:"response_style"`
	OrchestratorTimestamp float64  `json:"orchestrator_timestamp"`
}

package convo

import "strings"

// State is the finite-state-machine position of an ordering dialogue.
type State string

const (
	StateIdle              State = "idle"
	StateBrowsingMenu      State = "browsing_menu"
	StateAddingItem        State = "adding_item"
	StateChoosingAddons    State = "choosing_addons"
	StateConfirmingItem    State = "confirming_item"
	StateCollectingAddress State = "collecting_address"
	StateCollectingPayment State = "collecting_payment"
	StateConfirmingOrder   State = "confirming_order"
	StateOrderCompleted    State = "order_completed"
)

// ParseState maps a persisted value onto a known state. Corrupt or unknown
// values heal to idle instead of poisoning the conversation.
func ParseState(raw string) State {
	switch State(raw) {
	case StateIdle, StateBrowsingMenu, StateAddingItem, StateChoosingAddons,
		StateConfirmingItem, StateCollectingAddress, StateCollectingPayment,
		StateConfirmingOrder, StateOrderCompleted:
		return State(raw)
	default:
		return StateIdle
	}
}

// Intents is the set of discrete signals extracted from one inbound message.
type Intents struct {
	AddItem   bool
	Checkout  bool
	Extras    bool
	MoreItems bool
	Confirm   bool
}

// IntentDetector turns free text into discrete intents. The keyword matcher
// below is a known simplification ("nao quero mais" matches "quero"); a
// structured classifier can replace it without touching the transition table.
type IntentDetector interface {
	Detect(text string) Intents
}

// KeywordDetector detects intents by case-insensitive substring matching.
type KeywordDetector struct{}

var keywordSets = map[string][]string{
	"add":      {"quero", "add"},
	"checkout": {"finalizar", "pedir"},
	"extras":   {"extra", "adicional"},
	"more":     {"mais", "outro"},
	"confirm":  {"sim", "confirmar"},
}

// Detect implements IntentDetector.
func (KeywordDetector) Detect(text string) Intents {
	normalized := strings.ToLower(strings.TrimSpace(text))
	contains := func(group string) bool {
		for _, kw := range keywordSets[group] {
			if strings.Contains(normalized, kw) {
				return true
			}
		}
		return false
	}
	return Intents{
		AddItem:   contains("add"),
		Checkout:  contains("checkout"),
		Extras:    contains("extras"),
		MoreItems: contains("more"),
		Confirm:   contains("confirm"),
	}
}

// Machine computes conversation state transitions. It is pure: no side
// effects, total over every (state, text) pair.
type Machine struct {
	detector IntentDetector
}

// NewMachine builds a state machine with the given detector; nil selects the
// keyword matcher.
func NewMachine(detector IntentDetector) *Machine {
	if detector == nil {
		detector = KeywordDetector{}
	}
	return &Machine{detector: detector}
}

// Next returns the following state for an inbound message. Unrecognized text
// falls back to a safe state, never to an undefined one. Callers invoke this
// after tool calls have been executed so hasCart reflects their outcome.
func (m *Machine) Next(current State, text string, hasCart bool) State {
	intents := m.detector.Detect(text)

	switch current {
	case StateIdle:
		return StateBrowsingMenu
	case StateBrowsingMenu:
		if intents.AddItem {
			return StateAddingItem
		}
		if intents.Checkout && hasCart {
			return StateCollectingAddress
		}
		return StateBrowsingMenu
	case StateAddingItem:
		if intents.Extras {
			return StateChoosingAddons
		}
		return StateConfirmingItem
	case StateChoosingAddons:
		return StateConfirmingItem
	case StateConfirmingItem:
		if intents.MoreItems {
			return StateBrowsingMenu
		}
		if intents.Checkout && hasCart {
			return StateCollectingAddress
		}
		return StateBrowsingMenu
	case StateCollectingAddress:
		return StateCollectingPayment
	case StateCollectingPayment:
		return StateConfirmingOrder
	case StateConfirmingOrder:
		if intents.Confirm {
			return StateOrderCompleted
		}
		return StateBrowsingMenu
	case StateOrderCompleted:
		return StateIdle
	default:
		return StateBrowsingMenu
	}
}

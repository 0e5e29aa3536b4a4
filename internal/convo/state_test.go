package convo

import "testing"

var allStates = []State{
	StateIdle, StateBrowsingMenu, StateAddingItem, StateChoosingAddons,
	StateConfirmingItem, StateCollectingAddress, StateCollectingPayment,
	StateConfirmingOrder, StateOrderCompleted,
}

func TestNextIsTotal(t *testing.T) {
	machine := NewMachine(nil)
	texts := []string{"", "quero uma pizza", "finalizar", "com extra de bacon", "mais um", "sim", "asdfgh 123 !!!", "nao sei"}

	known := map[State]bool{}
	for _, s := range allStates {
		known[s] = true
	}

	for _, current := range allStates {
		for _, text := range texts {
			for _, hasCart := range []bool{true, false} {
				next := machine.Next(current, text, hasCart)
				if !known[next] {
					t.Fatalf("Next(%s, %q, %v) returned unknown state %s", current, text, hasCart, next)
				}
			}
		}
	}
}

func TestOrderCompletedAlwaysRestarts(t *testing.T) {
	machine := NewMachine(nil)
	for _, text := range []string{"quero mais", "finalizar", "obrigado", ""} {
		if next := machine.Next(StateOrderCompleted, text, true); next != StateIdle {
			t.Fatalf("expected idle after completed order, got %s for %q", next, text)
		}
	}
}

func TestCheckoutRequiresCart(t *testing.T) {
	machine := NewMachine(nil)

	if next := machine.Next(StateBrowsingMenu, "quero finalizar", false); next == StateCollectingAddress {
		t.Fatal("checkout with empty cart must not reach collecting_address")
	}
	if next := machine.Next(StateConfirmingItem, "finalizar", false); next == StateCollectingAddress {
		t.Fatal("checkout with empty cart must not reach collecting_address")
	}
	if next := machine.Next(StateConfirmingItem, "finalizar", true); next != StateCollectingAddress {
		t.Fatalf("checkout with cart should collect address, got %s", next)
	}
}

func TestAddIntentFromBrowsing(t *testing.T) {
	machine := NewMachine(nil)
	if next := machine.Next(StateBrowsingMenu, "quero uma pizza margherita", false); next != StateAddingItem {
		t.Fatalf("expected adding_item, got %s", next)
	}
	if next := machine.Next(StateAddingItem, "com adicional de borda", false); next != StateChoosingAddons {
		t.Fatalf("expected choosing_addons, got %s", next)
	}
	if next := machine.Next(StateAddingItem, "so isso", false); next != StateConfirmingItem {
		t.Fatalf("expected confirming_item, got %s", next)
	}
}

func TestAddressPaymentChainIgnoresKeywords(t *testing.T) {
	machine := NewMachine(nil)

	// Free text in the collection states is data, not intent.
	if next := machine.Next(StateCollectingAddress, "rua finalizar 123", true); next != StateCollectingPayment {
		t.Fatalf("expected collecting_payment, got %s", next)
	}
	if next := machine.Next(StateCollectingPayment, "pix", true); next != StateConfirmingOrder {
		t.Fatalf("expected confirming_order, got %s", next)
	}
	if next := machine.Next(StateConfirmingOrder, "sim", true); next != StateOrderCompleted {
		t.Fatalf("expected order_completed, got %s", next)
	}
	if next := machine.Next(StateConfirmingOrder, "quero mudar", true); next != StateBrowsingMenu {
		t.Fatalf("expected browsing_menu on non-confirmation, got %s", next)
	}
}

func TestParseStateHealsUnknown(t *testing.T) {
	if got := ParseState("totally_bogus"); got != StateIdle {
		t.Fatalf("expected idle for unknown value, got %s", got)
	}
	if got := ParseState("confirming_order"); got != StateConfirmingOrder {
		t.Fatalf("expected confirming_order, got %s", got)
	}
}

package convo

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/MarcIAFull/convergyzendy-sub000/internal/nlu"
	"github.com/MarcIAFull/convergyzendy-sub000/internal/repo"
)

func newTestEngine(f *fakeRepo, provider *fakeProvider) (*Engine, *fakeSender, *fakeLocker) {
	logger := testLogger()
	sender := &fakeSender{}
	locker := &fakeLocker{}
	engine := NewEngine(f, NewAssembler(f, nil, logger), NewExecutor(f, logger, nil), provider, sender, locker, logger, nil)
	return engine, sender, locker
}

func inboundMsg(text string) Inbound {
	return Inbound{
		RestaurantID:  "rest-1",
		CustomerPhone: "5511999990000",
		Text:          text,
		Channel:       "whatsapp",
	}
}

func TestManualModeSkipsAutomation(t *testing.T) {
	f := newFakeRepo()
	f.conversation.Mode = repo.ModeManual
	provider := &fakeProvider{}
	engine, sender, locker := newTestEngine(f, provider)

	if err := engine.HandleInbound(context.Background(), inboundMsg("quero uma pizza")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if provider.calls != 0 {
		t.Fatal("manual mode must not reach the provider")
	}
	if len(sender.sent) != 0 {
		t.Fatal("manual mode must not send replies")
	}
	if locker.acquired != 0 {
		t.Fatal("manual mode short-circuits before locking")
	}
	// The transcript still records the inbound message.
	if len(f.messages) != 1 || f.messages[0].Direction != repo.DirectionIn {
		t.Fatalf("expected one inbound message, got %+v", f.messages)
	}
	if f.conversation.State != string(StateIdle) {
		t.Fatalf("manual mode must not advance state, got %s", f.conversation.State)
	}
}

func TestProviderFailureSendsApologyWithoutAdvancing(t *testing.T) {
	f := newFakeRepo()
	provider := &fakeProvider{err: errors.New("upstream timeout")}
	engine, sender, _ := newTestEngine(f, provider)

	if err := engine.HandleInbound(context.Background(), inboundMsg("quero uma pizza")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(sender.sent) != 1 || sender.sent[0] != replyProviderDown {
		t.Fatalf("expected apology reply, got %+v", sender.sent)
	}
	if f.conversation.State != string(StateIdle) {
		t.Fatalf("provider failure must not advance state, got %s", f.conversation.State)
	}
	if f.updateCalls != 0 {
		t.Fatal("provider failure must not write the conversation")
	}
}

func TestIdleAddSkipsGreetingStep(t *testing.T) {
	f := newFakeRepo()
	provider := &fakeProvider{responses: []*nlu.Response{{
		ReplyText: "Pizza Margherita adicionada!",
		ToolCalls: []nlu.ToolCall{{
			Name: ToolAddToCart,
			Args: map[string]any{"product_id": "prod-margherita", "quantity": float64(1)},
		}},
	}}}
	engine, sender, locker := newTestEngine(f, provider)

	if err := engine.HandleInbound(context.Background(), inboundMsg("quero uma pizza margherita")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if f.conversation.State != string(StateConfirmingItem) {
		t.Fatalf("expected confirming_item, got %s", f.conversation.State)
	}
	if f.conversation.CartID == nil {
		t.Fatal("expected cart id persisted on conversation")
	}
	if len(sender.sent) != 1 || !strings.Contains(sender.sent[0], "adicionada") {
		t.Fatalf("expected provider reply sent, got %+v", sender.sent)
	}
	if locker.acquired != 1 || locker.released != 1 {
		t.Fatalf("expected lock acquired and released, got %d/%d", locker.acquired, locker.released)
	}
	// inbound + outbound in the transcript
	if len(f.messages) != 2 || f.messages[1].Direction != repo.DirectionOut {
		t.Fatalf("expected transcript pair, got %+v", f.messages)
	}
}

func TestSearchMenuUpdatesLastShown(t *testing.T) {
	f := newFakeRepo()
	provider := &fakeProvider{responses: []*nlu.Response{{
		ReplyText: "Temos essas opcoes:",
		ToolCalls: []nlu.ToolCall{{
			Name: ToolSearchMenu,
			Args: map[string]any{"query": "pizza"},
		}},
	}}}
	engine, sender, _ := newTestEngine(f, provider)

	if err := engine.HandleInbound(context.Background(), inboundMsg("quais pizzas tem?")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(f.conversation.LastShownProducts) != 2 {
		t.Fatalf("expected 2 shown products, got %+v", f.conversation.LastShownProducts)
	}
	reply := sender.sent[0]
	if !strings.Contains(reply, "1. ") || !strings.Contains(reply, "Pizza") {
		t.Fatalf("expected numbered search results in reply:\n%s", reply)
	}
}

func TestAddressAndPaymentAreCaptured(t *testing.T) {
	f := newFakeRepo()
	f.conversation.State = string(StateCollectingAddress)
	provider := &fakeProvider{responses: []*nlu.Response{
		{ReplyText: "Qual a forma de pagamento?"},
		{ReplyText: "Confirma o pedido?"},
	}}
	engine, _, _ := newTestEngine(f, provider)

	if err := engine.HandleInbound(context.Background(), inboundMsg("Rua das Flores, 123")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.conversation.State != string(StateCollectingPayment) {
		t.Fatalf("expected collecting_payment, got %s", f.conversation.State)
	}
	if f.conversation.Metadata["address"] != "Rua das Flores, 123" {
		t.Fatalf("expected address captured, got %+v", f.conversation.Metadata)
	}

	if err := engine.HandleInbound(context.Background(), inboundMsg("pix")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.conversation.State != string(StateConfirmingOrder) {
		t.Fatalf("expected confirming_order, got %s", f.conversation.State)
	}
	if f.conversation.Metadata["payment_method"] != "pix" {
		t.Fatalf("expected payment captured, got %+v", f.conversation.Metadata)
	}
}

func TestFinalizeTurnSkipsEngineStateWrite(t *testing.T) {
	f := newFakeRepo()
	cart, _ := f.CreateCart(context.Background(), "rest-1", "5511999990000")
	if _, err := f.AddCartItem(context.Background(), cart.ID, repo.NewCartItem{ProductID: "prod-margherita", Quantity: 1}); err != nil {
		t.Fatalf("seed cart: %v", err)
	}
	cartID := cart.ID
	f.conversation.CartID = &cartID
	f.conversation.State = string(StateConfirmingOrder)
	f.conversation.Metadata = map[string]any{"address": "Rua A 1", "payment_method": "pix"}

	provider := &fakeProvider{responses: []*nlu.Response{{
		ReplyText: "Pedido confirmado!",
		ToolCalls: []nlu.ToolCall{{Name: ToolFinalizeOrder, Args: map[string]any{}}},
	}}}
	engine, sender, _ := newTestEngine(f, provider)

	if err := engine.HandleInbound(context.Background(), inboundMsg("sim")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(f.orders) != 1 {
		t.Fatalf("expected one order, got %d", len(f.orders))
	}
	if f.conversation.State != string(StateOrderCompleted) {
		t.Fatalf("expected order_completed, got %s", f.conversation.State)
	}
	if f.conversation.CartID != nil {
		t.Fatal("expected cart detached from conversation")
	}
	// The finalize transaction already moved the row.
	if f.updateCalls != 0 {
		t.Fatalf("engine must not double-write after finalize, got %d updates", f.updateCalls)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected confirmation reply, got %+v", sender.sent)
	}
}

func TestConfirmWithoutFinalizeStaysConfirming(t *testing.T) {
	f := newFakeRepo()
	cart, _ := f.CreateCart(context.Background(), "rest-1", "5511999990000")
	if _, err := f.AddCartItem(context.Background(), cart.ID, repo.NewCartItem{ProductID: "prod-guarana", Quantity: 1}); err != nil {
		t.Fatalf("seed cart: %v", err)
	}
	cartID := cart.ID
	f.conversation.CartID = &cartID
	f.conversation.State = string(StateConfirmingOrder)

	// Provider answers without calling finalize_order.
	provider := &fakeProvider{responses: []*nlu.Response{{ReplyText: "Me confirma o endereco primeiro?"}}}
	engine, _, _ := newTestEngine(f, provider)

	if err := engine.HandleInbound(context.Background(), inboundMsg("sim")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if f.conversation.State != string(StateConfirmingOrder) {
		t.Fatalf("keywords alone must not complete an order, got %s", f.conversation.State)
	}
	if len(f.orders) != 0 {
		t.Fatal("no order may exist without finalize")
	}
}

func TestStaleVersionWriteIsRejected(t *testing.T) {
	f := newFakeRepo()
	snapshot, _ := f.GetOrCreateConversation(context.Background(), "rest-1", "5511999990000")

	// A concurrent writer commits first.
	if err := f.UpdateConversation(context.Background(), repo.ConversationUpdate{
		ID:              snapshot.ID,
		State:           string(StateBrowsingMenu),
		Metadata:        map[string]any{},
		ExpectedVersion: snapshot.Version,
	}); err != nil {
		t.Fatalf("first write: %v", err)
	}

	// The loser, still holding the old snapshot, must not clobber it.
	err := f.UpdateConversation(context.Background(), repo.ConversationUpdate{
		ID:              snapshot.ID,
		State:           string(StateAddingItem),
		Metadata:        map[string]any{},
		ExpectedVersion: snapshot.Version,
	})
	if !errors.Is(err, repo.ErrStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if f.conversation.State != string(StateBrowsingMenu) {
		t.Fatalf("winner's write was lost, state is %s", f.conversation.State)
	}
}

func TestCurrentTurnNotDuplicatedInHistory(t *testing.T) {
	f := newFakeRepo()
	f.messages = []repo.MessageRecord{
		{RestaurantID: "rest-1", CustomerPhone: "5511999990000", Direction: repo.DirectionIn, Content: "oi"},
		{RestaurantID: "rest-1", CustomerPhone: "5511999990000", Direction: repo.DirectionOut, Content: "Ola! Como posso ajudar?"},
	}
	provider := &fakeProvider{responses: []*nlu.Response{{ReplyText: "Temos pizzas e bebidas."}}}
	engine, _, _ := newTestEngine(f, provider)

	if err := engine.HandleInbound(context.Background(), inboundMsg("quero ver o cardapio")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	req := provider.requests[0]
	if req.UserMessage != "quero ver o cardapio" {
		t.Fatalf("unexpected user message %q", req.UserMessage)
	}
	// The inbound row persisted this turn must not reappear as history.
	for _, msg := range req.History {
		if msg.Content == "quero ver o cardapio" {
			t.Fatalf("current turn duplicated in history: %+v", req.History)
		}
	}
	if len(req.History) != 2 {
		t.Fatalf("earlier turns must survive, got %+v", req.History)
	}
}

func TestConcurrentDeliveriesLoseNoUpdates(t *testing.T) {
	f := newFakeRepo()
	provider := &fakeProvider{}
	logger := testLogger()
	sender := &fakeSender{}
	locker := &blockingLocker{}
	engine := NewEngine(f, NewAssembler(f, nil, logger), NewExecutor(f, logger, nil), provider, sender, locker, logger, nil)

	const deliveries = 8
	startVersion := f.conversation.Version

	var wg sync.WaitGroup
	errs := make(chan error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- engine.HandleInbound(context.Background(), inboundMsg("quero ver o cardapio"))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
	}

	// Every delivery's write landed on a fresh snapshot; none clobbered
	// another's.
	if got := f.conversation.Version; got != startVersion+deliveries {
		t.Fatalf("expected version %d after %d deliveries, got %d", startVersion+deliveries, deliveries, got)
	}
	if f.updateCalls != deliveries {
		t.Fatalf("expected %d conversation writes, got %d", deliveries, f.updateCalls)
	}
	if locker.acquired != deliveries {
		t.Fatalf("expected %d lock acquisitions, got %d", deliveries, locker.acquired)
	}
	// inbound and outbound rows for every delivery
	if len(f.messages) != 2*deliveries {
		t.Fatalf("expected %d transcript rows, got %d", 2*deliveries, len(f.messages))
	}
}

func TestStateConflictRetriesOnce(t *testing.T) {
	f := newFakeRepo()
	f.conflictOnce = true
	provider := &fakeProvider{responses: []*nlu.Response{{ReplyText: "Ola!"}}}
	engine, sender, _ := newTestEngine(f, provider)

	if err := engine.HandleInbound(context.Background(), inboundMsg("oi")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if f.updateCalls != 2 {
		t.Fatalf("expected conflict then retry, got %d update calls", f.updateCalls)
	}
	if f.conversation.State != string(StateBrowsingMenu) {
		t.Fatalf("expected browsing_menu after retry, got %s", f.conversation.State)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("reply must still go out, got %+v", sender.sent)
	}
}

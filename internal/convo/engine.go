package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MarcIAFull/convergyzendy-sub000/internal/cache"
	"github.com/MarcIAFull/convergyzendy-sub000/internal/metrics"
	"github.com/MarcIAFull/convergyzendy-sub000/internal/nlu"
	"github.com/MarcIAFull/convergyzendy-sub000/internal/repo"
)

const (
	defaultLockTTL    = 30 * time.Second
	searchResultLimit = 5
)

// Fallback replies. Wording stays apologetic and generic so a provider or
// storage failure never leaks internals to the customer.
const (
	replyProviderDown = "Desculpe, estou com dificuldade para responder agora. Pode tentar novamente em instantes?"
	replyStorageDown  = "Tivemos um problema ao registrar seu pedido. Por favor, tente novamente."
	replyDefault      = "Certo! Posso ajudar com mais alguma coisa?"
)

// Provider produces a reply plus optional tool calls for one inbound turn.
type Provider interface {
	Respond(ctx context.Context, req nlu.Request) (*nlu.Response, error)
}

// Sender delivers outbound text to the customer's channel.
type Sender interface {
	SendText(ctx context.Context, phone, text string) error
}

// Locker serializes processing per (restaurant, customer) pair.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (*cache.Lock, error)
	ReleaseLock(ctx context.Context, lock *cache.Lock) error
}

// Inbound is a normalized customer message, channel-agnostic.
type Inbound struct {
	RestaurantID  string
	CustomerPhone string
	Text          string
	Channel       string
}

// Engine drives one conversation turn end to end: persist the message, gate
// on mode, assemble context, consult the provider, apply tool calls and
// advance the state machine under a per-customer lock.
type Engine struct {
	repository repo.Repository
	assembler  *Assembler
	machine    *Machine
	executor   *Executor
	provider   Provider
	sender     Sender
	locker     Locker
	logger     *slog.Logger
	metrics    *metrics.Metrics
	lockTTL    time.Duration
}

// NewEngine wires the conversation engine.
func NewEngine(repository repo.Repository, assembler *Assembler, executor *Executor, provider Provider, sender Sender, locker Locker, logger *slog.Logger, metricRegistry *metrics.Metrics) *Engine {
	return &Engine{
		repository: repository,
		assembler:  assembler,
		machine:    NewMachine(nil),
		executor:   executor,
		provider:   provider,
		sender:     sender,
		locker:     locker,
		logger:     logger.With("component", "engine"),
		metrics:    metricRegistry,
		lockTTL:    defaultLockTTL,
	}
}

// HandleInbound processes one customer message. Messages from the same
// customer are serialized by a distributed lock; within the turn the
// conversation row's version guards against lost updates.
func (e *Engine) HandleInbound(ctx context.Context, in Inbound) error {
	if e.metrics != nil {
		e.metrics.InboundMessages.WithLabelValues(in.Channel).Inc()
	}

	if err := e.repository.InsertMessage(ctx, repo.MessageRecord{
		RestaurantID:  in.RestaurantID,
		CustomerPhone: in.CustomerPhone,
		Direction:     repo.DirectionIn,
		Content:       in.Text,
	}); err != nil {
		return fmt.Errorf("persist inbound message: %w", err)
	}

	conversation, err := e.repository.GetOrCreateConversation(ctx, in.RestaurantID, in.CustomerPhone)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if conversation.Mode == repo.ModeManual {
		// A human operator owns this conversation. The transcript keeps
		// filling up so they have full context, but the bot stays silent.
		if e.metrics != nil {
			e.metrics.ManualModeSkips.Inc()
		}
		e.logger.Debug("manual mode, skipping automation", "restaurant_id", in.RestaurantID, "phone", in.CustomerPhone)
		return nil
	}

	lock, err := e.locker.AcquireLock(ctx, lockKey(in.RestaurantID, in.CustomerPhone), e.lockTTL)
	if err != nil {
		return fmt.Errorf("acquire conversation lock: %w", err)
	}
	defer func() {
		if err := e.locker.ReleaseLock(context.WithoutCancel(ctx), lock); err != nil {
			e.logger.Warn("failed releasing conversation lock", "error", err)
		}
	}()

	return e.processTurn(ctx, in)
}

func (e *Engine) processTurn(ctx context.Context, in Inbound) error {
	// Assembled under the lock so the conversation snapshot is current.
	bundle, err := e.assembler.Assemble(ctx, in.RestaurantID, in.CustomerPhone, in.Text)
	if err != nil {
		return fmt.Errorf("assemble context: %w", err)
	}

	resp, err := e.provider.Respond(ctx, nlu.Request{
		SystemPrompt: bundle.SystemPrompt(),
		History:      bundle.History,
		UserMessage:  in.Text,
		Tools:        ToolDefinitions(),
	})
	if err != nil {
		e.logger.Error("reasoning provider failed", "phone", in.CustomerPhone, "error", err)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("provider").Inc()
		}
		// State stays put; the customer can simply retry.
		return e.reply(ctx, in, replyProviderDown)
	}

	replyText := resp.ReplyText
	mutations := make([]*ToolRequest, 0, len(resp.ToolCalls))
	var shown []repo.ShownProduct
	for _, call := range resp.ToolCalls {
		if call.Name == ToolSearchMenu {
			results := SearchMenu(bundle.Menu, argString(call.Args, "query"), searchResultLimit)
			shown = shownProducts(results)
			replyText = joinReply(replyText, FormatSearchResults(results))
			continue
		}
		request, err := ParseToolCall(call)
		if err != nil {
			e.logger.Warn("ignoring unknown tool call", "tool", call.Name)
			continue
		}
		mutations = append(mutations, request)
	}

	outcome, err := e.executor.Execute(ctx, bundle, mutations)
	if err != nil {
		e.logger.Error("tool execution failed", "phone", in.CustomerPhone, "error", err)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("tools").Inc()
		}
		// Fail closed: no state advance on a half-applied turn.
		return e.reply(ctx, in, replyStorageDown)
	}
	for _, userErr := range outcome.UserErrors {
		replyText = joinReply(replyText, userErr)
	}
	if strings.TrimSpace(replyText) == "" {
		replyText = e.defaultReply(outcome)
	}

	if err := e.advanceState(ctx, in, bundle, outcome, shown); err != nil {
		e.logger.Error("state update failed", "phone", in.CustomerPhone, "error", err)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("state").Inc()
		}
	}

	return e.reply(ctx, in, replyText)
}

// advanceState computes the next conversation state from deterministic rules
// and persists it with a conditional write. A successful finalize already
// moved the row inside its own transaction, so the engine skips the write.
func (e *Engine) advanceState(ctx context.Context, in Inbound, bundle *ContextBundle, outcome *ToolOutcome, shown []repo.ShownProduct) error {
	if outcome.Order != nil {
		if e.metrics != nil {
			e.metrics.StateTransitions.WithLabelValues(bundle.Conversation.State, string(StateOrderCompleted)).Inc()
		}
		return nil
	}

	current := ParseState(bundle.Conversation.State)
	next := e.nextState(current, in.Text, bundle.HasCart(), outcome)

	metadata := cloneMetadata(bundle.Conversation.Metadata)
	switch current {
	case StateCollectingAddress:
		metadata["address"] = strings.TrimSpace(in.Text)
	case StateCollectingPayment:
		metadata["payment_method"] = strings.TrimSpace(in.Text)
	}

	lastShown := bundle.Conversation.LastShownProducts
	if shown != nil {
		lastShown = shown
	}

	update := repo.ConversationUpdate{
		ID:                bundle.Conversation.ID,
		State:             string(next),
		CartID:            bundle.Conversation.CartID,
		LastShownProducts: lastShown,
		Metadata:          metadata,
		ExpectedVersion:   bundle.Conversation.Version,
	}
	err := e.repository.UpdateConversation(ctx, update)
	if errors.Is(err, repo.ErrStateConflict) {
		if e.metrics != nil {
			e.metrics.StateConflicts.Inc()
		}
		// Another writer got there first. Re-read once and recompute from
		// the fresh snapshot; a second conflict is surfaced.
		fresh, readErr := e.repository.GetOrCreateConversation(ctx, in.RestaurantID, in.CustomerPhone)
		if readErr != nil {
			return fmt.Errorf("re-read after conflict: %w", readErr)
		}
		update.State = string(e.nextState(ParseState(fresh.State), in.Text, bundle.HasCart(), outcome))
		update.ExpectedVersion = fresh.Version
		err = e.repository.UpdateConversation(ctx, update)
	}
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}

	if e.metrics != nil {
		e.metrics.StateTransitions.WithLabelValues(string(current), update.State).Inc()
	}
	return nil
}

// nextState applies the transition table plus turn-level corrections. An
// idle conversation takes the implicit greeting step first so a message
// like "quero uma pizza" lands on adding_item, not browsing_menu. The
// machine never reaches order_completed on keywords alone; only a
// finalized order does that, inside its transaction.
func (e *Engine) nextState(current State, text string, hasCart bool, outcome *ToolOutcome) State {
	if current == StateIdle {
		current = e.machine.Next(StateIdle, text, hasCart)
	}
	next := e.machine.Next(current, text, hasCart)

	if next == StateOrderCompleted {
		next = StateConfirmingOrder
	}
	if outcome.ItemsAdded > 0 && (next == StateAddingItem || next == StateChoosingAddons) {
		next = StateConfirmingItem
	}
	return next
}

func (e *Engine) reply(ctx context.Context, in Inbound, text string) error {
	if err := e.repository.InsertMessage(ctx, repo.MessageRecord{
		RestaurantID:  in.RestaurantID,
		CustomerPhone: in.CustomerPhone,
		Direction:     repo.DirectionOut,
		Content:       text,
	}); err != nil {
		e.logger.Warn("failed persisting outbound message", "phone", in.CustomerPhone, "error", err)
	}
	if err := e.sender.SendText(ctx, in.CustomerPhone, text); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	if e.metrics != nil {
		e.metrics.OutboundMessages.WithLabelValues(in.Channel).Inc()
	}
	return nil
}

func (e *Engine) defaultReply(outcome *ToolOutcome) string {
	switch {
	case outcome.Order != nil:
		return fmt.Sprintf("Pedido confirmado! Total: %s. Obrigado pela preferencia!", formatPrice(outcome.Order.TotalCents))
	case outcome.ItemsAdded > 0:
		return "Adicionado ao carrinho! Deseja mais alguma coisa?"
	default:
		return replyDefault
	}
}

func lockKey(restaurantID, phone string) string {
	return "convo:lock:" + restaurantID + ":" + phone
}

func shownProducts(products []repo.Product) []repo.ShownProduct {
	shown := make([]repo.ShownProduct, 0, len(products))
	for _, p := range products {
		shown = append(shown, repo.ShownProduct{ID: p.ID, Name: p.Name})
	}
	return shown
}

func joinReply(base, extra string) string {
	if strings.TrimSpace(extra) == "" {
		return base
	}
	if strings.TrimSpace(base) == "" {
		return extra
	}
	return base + "\n\n" + extra
}

func cloneMetadata(meta map[string]any) map[string]any {
	cloned := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		cloned[k] = v
	}
	return cloned
}

package convo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MarcIAFull/convergyzendy-sub000/internal/nlu"
	"github.com/MarcIAFull/convergyzendy-sub000/internal/repo"
)

const (
	historyLimit     = 10
	settingsCacheTTL = 5 * time.Minute
)

// SettingsCache caches the restaurant row between messages. Menu availability
// is never cached; personalization settings tolerate short staleness.
type SettingsCache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// ContextBundle is the single structured object handed to the reasoning call
// and the tool executor: raw sub-objects for validation plus pre-formatted
// text blocks for prompt injection.
type ContextBundle struct {
	Restaurant   *repo.Restaurant
	Customer     *repo.Customer
	Conversation *repo.Conversation
	Menu         []repo.MenuCategory
	Cart         *repo.Cart
	Insights     *repo.CustomerInsights
	History      []nlu.Message
	InboundText  string

	MenuCompact   string
	MenuFull      string
	CartBlock     string
	CustomerBlock string
}

// HasCart reports whether the customer has a non-empty active cart.
func (b *ContextBundle) HasCart() bool {
	return b.Cart != nil && b.Cart.Status == repo.CartStatusActive && len(b.Cart.Items) > 0
}

// Assembler gathers the per-message context from storage.
type Assembler struct {
	repository repo.Repository
	cache      SettingsCache
	logger     *slog.Logger
}

// NewAssembler builds a context assembler. cache may be nil.
func NewAssembler(repository repo.Repository, cache SettingsCache, logger *slog.Logger) *Assembler {
	return &Assembler{
		repository: repository,
		cache:      cache,
		logger:     logger.With("component", "assembler"),
	}
}

// Assemble loads everything one reasoning call needs. A missing restaurant is
// fatal; every other sub-load degrades to an empty default and is logged, so
// a first-contact customer still gets a valid bundle.
func (a *Assembler) Assemble(ctx context.Context, restaurantID, phone, text string) (*ContextBundle, error) {
	restaurant, err := a.loadRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("load restaurant %s: %w", restaurantID, err)
	}

	bundle := &ContextBundle{
		Restaurant:  restaurant,
		InboundText: text,
	}

	bundle.Menu, err = a.repository.LoadMenu(ctx, restaurantID)
	if err != nil {
		a.logger.Warn("menu load failed, continuing with empty menu", "error", err)
		bundle.Menu = nil
	}

	bundle.Customer, err = a.repository.UpsertCustomerByPhone(ctx, phone, nil)
	if err != nil {
		a.logger.Warn("customer upsert failed, continuing without profile", "error", err)
	}

	bundle.Conversation, err = a.repository.GetOrCreateConversation(ctx, restaurantID, phone)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	if bundle.Conversation.CartID != nil {
		cart, err := a.repository.GetCart(ctx, *bundle.Conversation.CartID)
		if err != nil {
			a.logger.Warn("cart load failed, continuing without cart", "cart_id", *bundle.Conversation.CartID, "error", err)
		} else if cart.Status == repo.CartStatusActive {
			bundle.Cart = cart
		}
	}

	insights, err := a.repository.GetCustomerInsights(ctx, phone)
	if err != nil {
		if !isNotFoundErr(err) {
			a.logger.Warn("insights load failed, continuing without insights", "error", err)
		}
	} else {
		bundle.Insights = insights
	}

	history, err := a.repository.ListRecentMessages(ctx, restaurantID, phone, historyLimit)
	if err != nil {
		a.logger.Warn("history load failed, continuing without history", "error", err)
	}
	// The inbound row is persisted before assembly, so the newest history
	// entry is this very message. It travels separately as the user turn.
	if n := len(history); n > 0 && history[n-1].Direction == repo.DirectionIn && history[n-1].Content == text {
		history = history[:n-1]
	}
	for _, msg := range history {
		role := "user"
		if msg.Direction == repo.DirectionOut {
			role = "assistant"
		}
		bundle.History = append(bundle.History, nlu.Message{Role: role, Content: msg.Content})
	}

	bundle.MenuCompact = FormatMenuCompact(bundle.Menu)
	bundle.MenuFull = FormatMenuFull(bundle.Menu)
	bundle.CartBlock = FormatCart(bundle.Cart)
	bundle.CustomerBlock = FormatInsightsSummary(bundle.Insights)

	return bundle, nil
}

func (a *Assembler) loadRestaurant(ctx context.Context, restaurantID string) (*repo.Restaurant, error) {
	cacheKey := "restaurant:settings:" + restaurantID
	if a.cache != nil {
		var cached repo.Restaurant
		if ok, err := a.cache.GetJSON(ctx, cacheKey, &cached); err != nil {
			a.logger.Warn("settings cache read failed", "error", err)
		} else if ok {
			return &cached, nil
		}
	}

	restaurant, err := a.repository.GetRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	if a.cache != nil {
		if err := a.cache.SetJSON(ctx, cacheKey, restaurant, settingsCacheTTL); err != nil {
			a.logger.Warn("settings cache write failed", "error", err)
		}
	}
	return restaurant, nil
}

// SystemPrompt renders the always-injected instruction block from the bundle's
// compact representations.
func (b *ContextBundle) SystemPrompt() string {
	settings := b.Restaurant.AISettings
	tone := settings.Tone
	if tone == "" {
		tone = "simpatico e objetivo"
	}
	greeting := settings.Greeting
	if greeting == "" {
		greeting = fmt.Sprintf("Bem-vindo ao %s!", b.Restaurant.Name)
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Voce e o atendente virtual do restaurante %s. Tom: %s.\n", b.Restaurant.Name, tone))
	builder.WriteString("Saudacao padrao: " + greeting + "\n")
	if settings.Closing != "" {
		builder.WriteString("Encerramento padrao: " + settings.Closing + "\n")
	}
	if settings.UpsellLevel != "" {
		builder.WriteString("Nivel de sugestao de adicionais: " + settings.UpsellLevel + "\n")
	}
	if settings.Instructions != "" {
		builder.WriteString(settings.Instructions + "\n")
	}
	builder.WriteString("\nUse as ferramentas para mexer no carrinho; nunca invente precos ou totais.\n")
	builder.WriteString("Taxa de entrega: " + formatPrice(b.Restaurant.DeliveryFeeCents) + "\n\n")
	builder.WriteString(b.MenuCompact)
	builder.WriteString("\n\n")
	builder.WriteString(b.CartBlock)
	builder.WriteString("\n\n")
	builder.WriteString(b.CustomerBlock)
	if len(b.Conversation.LastShownProducts) > 0 {
		builder.WriteString("\n\nUltimos itens mostrados ao cliente:\n")
		for i, shown := range b.Conversation.LastShownProducts {
			builder.WriteString(fmt.Sprintf("%d. %s (id %s)\n", i+1, shown.Name, shown.ID))
		}
	}
	return builder.String()
}

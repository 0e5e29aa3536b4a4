package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MarcIAFull/convergyzendy-sub000/internal/metrics"
	"github.com/MarcIAFull/convergyzendy-sub000/internal/nlu"
	"github.com/MarcIAFull/convergyzendy-sub000/internal/repo"
)

// Tool names exposed to the reasoning provider.
const (
	ToolAddToCart      = "add_to_cart"
	ToolRemoveFromCart = "remove_from_cart"
	ToolFinalizeOrder  = "finalize_order"
	ToolSearchMenu     = "search_menu"
)

// AddToCartArgs adds a product to the active cart.
type AddToCartArgs struct {
	ProductID string
	Quantity  int
	AddonIDs  []string
	Notes     string
}

// RemoveFromCartArgs removes matching line items.
type RemoveFromCartArgs struct {
	ProductID string
}

// FinalizeOrderArgs converts the cart into an order.
type FinalizeOrderArgs struct {
	DeliveryAddress string
	PaymentMethod   string
}

// ToolRequest is the closed union of mutating operations. Exactly one field
// is non-nil; adding a variant means the compiler flags every dispatch site.
type ToolRequest struct {
	AddToCart      *AddToCartArgs
	RemoveFromCart *RemoveFromCartArgs
	FinalizeOrder  *FinalizeOrderArgs
}

// ParseToolCall maps a provider tool call onto the closed union. search_menu
// is a read-only lookup handled by the engine, not a mutating operation.
func ParseToolCall(call nlu.ToolCall) (*ToolRequest, error) {
	switch call.Name {
	case ToolAddToCart:
		args := &AddToCartArgs{
			ProductID: argString(call.Args, "product_id"),
			Quantity:  argInt(call.Args, "quantity"),
			Notes:     argString(call.Args, "notes"),
			AddonIDs:  argStringSlice(call.Args, "addon_ids"),
		}
		if args.Quantity <= 0 {
			args.Quantity = 1
		}
		return &ToolRequest{AddToCart: args}, nil
	case ToolRemoveFromCart:
		return &ToolRequest{RemoveFromCart: &RemoveFromCartArgs{
			ProductID: argString(call.Args, "product_id"),
		}}, nil
	case ToolFinalizeOrder:
		return &ToolRequest{FinalizeOrder: &FinalizeOrderArgs{
			DeliveryAddress: argString(call.Args, "delivery_address"),
			PaymentMethod:   argString(call.Args, "payment_method"),
		}}, nil
	default:
		return nil, fmt.Errorf("unknown tool %q", call.Name)
	}
}

// ToolOutcome reports the applied side effects of one batch of tool calls.
type ToolOutcome struct {
	ItemsAdded   int
	ItemsRemoved int64
	Order        *repo.Order
	CartCreated  bool
	// UserErrors are validation failures surfaced to the customer; the
	// conversation continues and state does not advance on their account.
	UserErrors []string
}

// Executor validates and applies tool calls against persistent state. Every
// argument is re-checked here: the provider only proposes intent.
type Executor struct {
	repository repo.Repository
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewExecutor builds a tool executor.
func NewExecutor(repository repo.Repository, logger *slog.Logger, metricRegistry *metrics.Metrics) *Executor {
	return &Executor{
		repository: repository,
		logger:     logger.With("component", "tools"),
		metrics:    metricRegistry,
	}
}

// Execute applies the requested operations in order against the bundle's
// conversation. Validation failures become user-visible messages in the
// outcome; storage failures abort and propagate so nothing half-applies.
// The bundle's cart is refreshed after mutations so the caller's hasCart
// predicate reflects what actually happened.
func (e *Executor) Execute(ctx context.Context, bundle *ContextBundle, requests []*ToolRequest) (*ToolOutcome, error) {
	outcome := &ToolOutcome{}

	for _, request := range requests {
		switch {
		case request.AddToCart != nil:
			if err := e.applyAdd(ctx, bundle, outcome, request.AddToCart); err != nil {
				return nil, err
			}
		case request.RemoveFromCart != nil:
			if err := e.applyRemove(ctx, bundle, outcome, request.RemoveFromCart); err != nil {
				return nil, err
			}
		case request.FinalizeOrder != nil:
			if err := e.applyFinalize(ctx, bundle, outcome, request.FinalizeOrder); err != nil {
				return nil, err
			}
		default:
			return nil, errors.New("empty tool request")
		}
	}
	return outcome, nil
}

func (e *Executor) applyAdd(ctx context.Context, bundle *ContextBundle, outcome *ToolOutcome, args *AddToCartArgs) error {
	if strings.TrimSpace(args.ProductID) == "" {
		e.recordTool(ToolAddToCart, "invalid")
		outcome.UserErrors = append(outcome.UserErrors, "Nao entendi qual item adicionar.")
		return nil
	}

	product, err := e.repository.GetSellableProduct(ctx, bundle.Restaurant.ID, args.ProductID)
	if err != nil {
		if isNotFoundErr(err) {
			e.recordTool(ToolAddToCart, "rejected")
			outcome.UserErrors = append(outcome.UserErrors, "Esse item nao esta disponivel no cardapio agora.")
			return nil
		}
		e.recordTool(ToolAddToCart, "error")
		return fmt.Errorf("validate product: %w", err)
	}

	validAddons := map[string]bool{}
	for _, addon := range product.Addons {
		validAddons[addon.ID] = true
	}
	for _, addonID := range args.AddonIDs {
		if !validAddons[addonID] {
			e.recordTool(ToolAddToCart, "rejected")
			outcome.UserErrors = append(outcome.UserErrors, fmt.Sprintf("O adicional escolhido nao esta disponivel para %s.", product.Name))
			return nil
		}
	}

	if bundle.Cart == nil {
		cart, err := e.repository.CreateCart(ctx, bundle.Restaurant.ID, bundle.Conversation.CustomerPhone)
		if err != nil {
			e.recordTool(ToolAddToCart, "error")
			return fmt.Errorf("create cart: %w", err)
		}
		bundle.Cart = cart
		cartID := cart.ID
		bundle.Conversation.CartID = &cartID
		outcome.CartCreated = true
	}

	item := repo.NewCartItem{
		ProductID: product.ID,
		Quantity:  args.Quantity,
		AddonIDs:  args.AddonIDs,
	}
	if args.Notes != "" {
		notes := args.Notes
		item.Notes = &notes
	}
	if _, err := e.repository.AddCartItem(ctx, bundle.Cart.ID, item); err != nil {
		e.recordTool(ToolAddToCart, "error")
		return fmt.Errorf("add cart item: %w", err)
	}

	e.recordTool(ToolAddToCart, "ok")
	outcome.ItemsAdded++
	return e.refreshCart(ctx, bundle)
}

func (e *Executor) applyRemove(ctx context.Context, bundle *ContextBundle, outcome *ToolOutcome, args *RemoveFromCartArgs) error {
	if bundle.Cart == nil || strings.TrimSpace(args.ProductID) == "" {
		// Nothing to remove; not an error.
		e.recordTool(ToolRemoveFromCart, "noop")
		return nil
	}
	removed, err := e.repository.RemoveCartItems(ctx, bundle.Cart.ID, args.ProductID)
	if err != nil {
		e.recordTool(ToolRemoveFromCart, "error")
		return fmt.Errorf("remove cart items: %w", err)
	}
	if removed == 0 {
		e.recordTool(ToolRemoveFromCart, "noop")
		return nil
	}
	e.recordTool(ToolRemoveFromCart, "ok")
	outcome.ItemsRemoved += removed
	return e.refreshCart(ctx, bundle)
}

func (e *Executor) applyFinalize(ctx context.Context, bundle *ContextBundle, outcome *ToolOutcome, args *FinalizeOrderArgs) error {
	address := strings.TrimSpace(args.DeliveryAddress)
	if address == "" {
		address = metadataString(bundle.Conversation.Metadata, "address")
	}
	payment := strings.TrimSpace(args.PaymentMethod)
	if payment == "" {
		payment = metadataString(bundle.Conversation.Metadata, "payment_method")
	}

	switch {
	case !bundle.HasCart():
		e.recordTool(ToolFinalizeOrder, "rejected")
		outcome.UserErrors = append(outcome.UserErrors, "Seu carrinho esta vazio, adicione itens antes de finalizar.")
		return nil
	case address == "":
		e.recordTool(ToolFinalizeOrder, "rejected")
		outcome.UserErrors = append(outcome.UserErrors, "Preciso do endereco de entrega para finalizar.")
		return nil
	case payment == "":
		e.recordTool(ToolFinalizeOrder, "rejected")
		outcome.UserErrors = append(outcome.UserErrors, "Qual sera a forma de pagamento?")
		return nil
	}

	order, err := e.repository.FinalizeOrder(ctx, repo.FinalizeOrderParams{
		CartID:           bundle.Cart.ID,
		RestaurantID:     bundle.Restaurant.ID,
		CustomerPhone:    bundle.Conversation.CustomerPhone,
		ConversationID:   bundle.Conversation.ID,
		ExpectedVersion:  bundle.Conversation.Version,
		DeliveryAddress:  address,
		PaymentMethod:    payment,
		DeliveryFeeCents: bundle.Restaurant.DeliveryFeeCents,
	})
	if err != nil {
		if errors.Is(err, repo.ErrEmptyCart) || errors.Is(err, repo.ErrCartNotActive) {
			e.recordTool(ToolFinalizeOrder, "rejected")
			outcome.UserErrors = append(outcome.UserErrors, "Seu carrinho esta vazio, adicione itens antes de finalizar.")
			return nil
		}
		e.recordTool(ToolFinalizeOrder, "error")
		return fmt.Errorf("finalize order: %w", err)
	}

	e.recordTool(ToolFinalizeOrder, "ok")
	if e.metrics != nil {
		e.metrics.OrdersFinalized.Inc()
	}
	outcome.Order = order

	// Insights are an analytics aggregate; a failed fold never undoes the
	// order.
	if err := e.repository.RecordOrderInsights(ctx, bundle.Conversation.CustomerPhone, order, bundle.Cart); err != nil {
		e.logger.Warn("failed recording order insights", "order_id", order.ID, "error", err)
	}
	return nil
}

func (e *Executor) refreshCart(ctx context.Context, bundle *ContextBundle) error {
	if bundle.Cart == nil {
		return nil
	}
	cart, err := e.repository.GetCart(ctx, bundle.Cart.ID)
	if err != nil {
		return fmt.Errorf("refresh cart: %w", err)
	}
	bundle.Cart = cart
	bundle.CartBlock = FormatCart(cart)
	return nil
}

func (e *Executor) recordTool(tool, status string) {
	if e.metrics != nil {
		e.metrics.ToolExecutions.WithLabelValues(tool, status).Inc()
	}
}

// ToolDefinitions describes the callable surface advertised to the provider.
func ToolDefinitions() []nlu.ToolDefinition {
	return []nlu.ToolDefinition{
		{
			Name:        ToolAddToCart,
			Description: "Adiciona um produto ao carrinho do cliente.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"product_id": map[string]any{"type": "string", "description": "ID do produto no cardapio."},
					"quantity":   map[string]any{"type": "integer", "description": "Quantidade desejada, minimo 1."},
					"addon_ids":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "IDs dos adicionais escolhidos."},
					"notes":      map[string]any{"type": "string", "description": "Observacoes do cliente."},
				},
				"required": []string{"product_id"},
			},
		},
		{
			Name:        ToolRemoveFromCart,
			Description: "Remove um produto do carrinho do cliente.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"product_id": map[string]any{"type": "string", "description": "ID do produto a remover."},
				},
				"required": []string{"product_id"},
			},
		},
		{
			Name:        ToolFinalizeOrder,
			Description: "Finaliza o pedido com endereco e forma de pagamento.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"delivery_address": map[string]any{"type": "string", "description": "Endereco de entrega completo."},
					"payment_method":   map[string]any{"type": "string", "description": "Forma de pagamento."},
				},
				"required": []string{"delivery_address", "payment_method"},
			},
		},
		{
			Name:        ToolSearchMenu,
			Description: "Busca itens no cardapio completo por nome ou categoria.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "Termo de busca."},
				},
				"required": []string{"query"},
			},
		},
	}
}

func isNotFoundErr(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}

func metadataString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if val, ok := meta[key].(string); ok {
		return strings.TrimSpace(val)
	}
	return ""
}

func argString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if val, ok := args[key].(string); ok {
		return val
	}
	return ""
}

func argInt(args map[string]any, key string) int {
	if args == nil {
		return 0
	}
	switch val := args[key].(type) {
	case float64:
		return int(val)
	case int:
		return val
	case int64:
		return int(val)
	default:
		return 0
	}
}

func argStringSlice(args map[string]any, key string) []string {
	if args == nil {
		return nil
	}
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	res := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			res = append(res, s)
		}
	}
	return res
}

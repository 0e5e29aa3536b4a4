package convo

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/MarcIAFull/convergyzendy-sub000/internal/cache"
	"github.com/MarcIAFull/convergyzendy-sub000/internal/nlu"
	"github.com/MarcIAFull/convergyzendy-sub000/internal/repo"
)

// fakeRepo is an in-memory Repository with the same conditional-write and
// finalize semantics as the SQL implementations. Like them it is safe for
// concurrent use.
type fakeRepo struct {
	mu           sync.Mutex
	restaurant   *repo.Restaurant
	conversation *repo.Conversation
	menu         []repo.MenuCategory
	carts        map[string]*repo.Cart
	messages     []repo.MessageRecord
	insights     map[string]*repo.CustomerInsights
	orders       []repo.Order

	updateCalls    int
	conflictOnce   bool
	failFinalize   error
	failAddItem    error
	nextID         int
	updatedVersion int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		restaurant: &repo.Restaurant{
			ID:               "rest-1",
			Name:             "Pizzaria Boa Massa",
			DeliveryFeeCents: 500,
		},
		conversation: &repo.Conversation{
			ID:            "conv-1",
			RestaurantID:  "rest-1",
			CustomerPhone: "5511999990000",
			State:         string(StateIdle),
			Mode:          repo.ModeAI,
			Metadata:      map[string]any{},
			Version:       1,
		},
		menu:     sampleMenu(),
		carts:    map[string]*repo.Cart{},
		insights: map[string]*repo.CustomerInsights{},
	}
}

func sampleMenu() []repo.MenuCategory {
	desc := "Mussarela, tomate e manjericao"
	return []repo.MenuCategory{
		{
			ID:   "cat-pizzas",
			Name: "Pizzas",
			Products: []repo.Product{
				{
					ID:          "prod-margherita",
					CategoryID:  "cat-pizzas",
					Name:        "Pizza Margherita",
					Description: &desc,
					PriceCents:  4500,
					Addons: []repo.Addon{
						{ID: "addon-borda", ProductID: "prod-margherita", Name: "Borda recheada", PriceCents: 800},
					},
				},
				{ID: "prod-calabresa", CategoryID: "cat-pizzas", Name: "Pizza Calabresa", PriceCents: 4200},
			},
		},
		{
			ID:   "cat-bebidas",
			Name: "Bebidas",
			Products: []repo.Product{
				{ID: "prod-guarana", CategoryID: "cat-bebidas", Name: "Guarana 2L", PriceCents: 1200},
			},
		},
	}
}

func (f *fakeRepo) genID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeRepo) Close()                                              {}
func (f *fakeRepo) Ping(ctx context.Context) error                      { return nil }
func (f *fakeRepo) RunMigrations(ctx context.Context, fsys fs.FS) error { return nil }

func (f *fakeRepo) GetRestaurant(ctx context.Context, id string) (*repo.Restaurant, error) {
	if f.restaurant == nil || f.restaurant.ID != id {
		return nil, fmt.Errorf("restaurant %s: %w", id, repo.ErrNotFound)
	}
	return f.restaurant, nil
}

func (f *fakeRepo) UpsertCustomerByPhone(ctx context.Context, phone string, name *string) (*repo.Customer, error) {
	return &repo.Customer{Phone: phone, Name: name}, nil
}

func (f *fakeRepo) InsertMessage(ctx context.Context, msg repo.MessageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeRepo) ListRecentMessages(ctx context.Context, restaurantID, phone string, limit int) ([]repo.MessageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) > limit {
		return append([]repo.MessageRecord(nil), f.messages[len(f.messages)-limit:]...), nil
	}
	return append([]repo.MessageRecord(nil), f.messages...), nil
}

func (f *fakeRepo) LoadMenu(ctx context.Context, restaurantID string) ([]repo.MenuCategory, error) {
	return f.menu, nil
}

func (f *fakeRepo) GetSellableProduct(ctx context.Context, restaurantID, productID string) (*repo.Product, error) {
	for _, category := range f.menu {
		for i := range category.Products {
			if category.Products[i].ID == productID {
				return &category.Products[i], nil
			}
		}
	}
	return nil, fmt.Errorf("product %s: %w", productID, repo.ErrNotFound)
}

func (f *fakeRepo) GetOrCreateConversation(ctx context.Context, restaurantID, phone string) (*repo.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := *f.conversation
	return &snapshot, nil
}

func (f *fakeRepo) UpdateConversation(ctx context.Context, upd repo.ConversationUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.conflictOnce {
		f.conflictOnce = false
		return repo.ErrStateConflict
	}
	if f.conversation.Version != upd.ExpectedVersion {
		return repo.ErrStateConflict
	}
	f.conversation.State = upd.State
	f.conversation.CartID = upd.CartID
	f.conversation.LastShownProducts = upd.LastShownProducts
	f.conversation.Metadata = upd.Metadata
	f.conversation.Version++
	f.updatedVersion = f.conversation.Version
	return nil
}

func (f *fakeRepo) SetConversationMode(ctx context.Context, restaurantID, phone, mode string) error {
	f.conversation.Mode = mode
	return nil
}

func (f *fakeRepo) CreateCart(ctx context.Context, restaurantID, phone string) (*repo.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cart := &repo.Cart{
		ID:            f.genID("cart"),
		RestaurantID:  restaurantID,
		CustomerPhone: phone,
		Status:        repo.CartStatusActive,
	}
	f.carts[cart.ID] = cart
	return cart, nil
}

func (f *fakeRepo) GetCart(ctx context.Context, cartID string) (*repo.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cart, ok := f.carts[cartID]
	if !ok {
		return nil, fmt.Errorf("cart %s: %w", cartID, repo.ErrNotFound)
	}
	snapshot := *cart
	return &snapshot, nil
}

func (f *fakeRepo) AddCartItem(ctx context.Context, cartID string, item repo.NewCartItem) (*repo.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAddItem != nil {
		return nil, f.failAddItem
	}
	cart, ok := f.carts[cartID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if cart.Status != repo.CartStatusActive {
		return nil, repo.ErrCartNotActive
	}
	product, err := f.GetSellableProduct(ctx, cart.RestaurantID, item.ProductID)
	if err != nil {
		return nil, err
	}
	line := repo.CartItem{
		ID:             f.genID("item"),
		CartID:         cartID,
		ProductID:      product.ID,
		ProductName:    product.Name,
		UnitPriceCents: product.PriceCents,
		Quantity:       item.Quantity,
		Notes:          item.Notes,
	}
	for _, addonID := range item.AddonIDs {
		for _, addon := range product.Addons {
			if addon.ID == addonID {
				line.Addons = append(line.Addons, repo.CartItemAddon{AddonID: addon.ID, Name: addon.Name, PriceCents: addon.PriceCents})
			}
		}
	}
	cart.Items = append(cart.Items, line)
	cart.SubtotalCents = fakeSubtotal(cart)
	return &line, nil
}

func (f *fakeRepo) RemoveCartItems(ctx context.Context, cartID, productID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cart, ok := f.carts[cartID]
	if !ok {
		return 0, nil
	}
	var kept []repo.CartItem
	var removed int64
	for _, item := range cart.Items {
		if item.ProductID == productID {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	cart.Items = kept
	cart.SubtotalCents = fakeSubtotal(cart)
	return removed, nil
}

func (f *fakeRepo) FinalizeOrder(ctx context.Context, params repo.FinalizeOrderParams) (*repo.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFinalize != nil {
		return nil, f.failFinalize
	}
	cart, ok := f.carts[params.CartID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if cart.Status != repo.CartStatusActive {
		return nil, repo.ErrCartNotActive
	}
	if len(cart.Items) == 0 {
		return nil, repo.ErrEmptyCart
	}
	if f.conversation.Version != params.ExpectedVersion {
		return nil, repo.ErrStateConflict
	}
	order := repo.Order{
		ID:              f.genID("order"),
		CartID:          cart.ID,
		RestaurantID:    params.RestaurantID,
		CustomerPhone:   params.CustomerPhone,
		DeliveryAddress: params.DeliveryAddress,
		PaymentMethod:   params.PaymentMethod,
		TotalCents:      fakeSubtotal(cart) + params.DeliveryFeeCents,
		Status:          "pending",
	}
	cart.Status = repo.CartStatusCompleted
	f.conversation.State = string(StateOrderCompleted)
	f.conversation.CartID = nil
	f.conversation.Metadata = map[string]any{}
	f.conversation.Version++
	f.orders = append(f.orders, order)
	return &order, nil
}

func (f *fakeRepo) GetCustomerInsights(ctx context.Context, phone string) (*repo.CustomerInsights, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ins, ok := f.insights[phone]
	if !ok {
		return nil, fmt.Errorf("insights %s: %w", phone, repo.ErrNotFound)
	}
	return ins, nil
}

func (f *fakeRepo) RecordOrderInsights(ctx context.Context, phone string, order *repo.Order, cart *repo.Cart) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := repo.FoldOrderIntoInsights(f.insights[phone], phone, order, cart, time.Now())
	f.insights[phone] = &next
	return nil
}

func (f *fakeRepo) SyncProviderKeys(ctx context.Context, provider string, keys []string) error {
	return nil
}

func (f *fakeRepo) ListActiveProviderKeys(ctx context.Context, provider string) ([]repo.APIKey, error) {
	return nil, nil
}

func (f *fakeRepo) SetCooldownUntil(ctx context.Context, id string, until time.Time) error {
	return nil
}

func (f *fakeRepo) ClearCooldown(ctx context.Context, id string) error { return nil }

func fakeSubtotal(cart *repo.Cart) int64 {
	var total int64
	for _, item := range cart.Items {
		line := item.UnitPriceCents
		for _, addon := range item.Addons {
			line += addon.PriceCents
		}
		total += line * int64(item.Quantity)
	}
	return total
}

// fakeProvider returns queued responses in order, then errors.
type fakeProvider struct {
	responses []*nlu.Response
	requests  []nlu.Request
	err       error
	calls     int
}

func (p *fakeProvider) Respond(ctx context.Context, req nlu.Request) (*nlu.Response, error) {
	p.calls++
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &nlu.Response{ReplyText: "ok"}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

type fakeSender struct {
	sent []string
}

func (s *fakeSender) SendText(ctx context.Context, phone, text string) error {
	s.sent = append(s.sent, text)
	return nil
}

type fakeLocker struct {
	acquired int
	released int
}

// blockingLocker serializes lock holders the way the Redis lock does, so
// concurrent deliveries contend for real.
type blockingLocker struct {
	mu       sync.Mutex
	acquired int
}

func (l *blockingLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*cache.Lock, error) {
	l.mu.Lock()
	l.acquired++
	return &cache.Lock{}, nil
}

func (l *blockingLocker) ReleaseLock(ctx context.Context, lock *cache.Lock) error {
	l.mu.Unlock()
	return nil
}

func (l *fakeLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*cache.Lock, error) {
	l.acquired++
	return &cache.Lock{}, nil
}

func (l *fakeLocker) ReleaseLock(ctx context.Context, lock *cache.Lock) error {
	l.released++
	return nil
}

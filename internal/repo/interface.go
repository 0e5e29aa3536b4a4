package repo

import (
	"context"
	"errors"
	"io/fs"
	"time"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStateConflict indicates a conditional conversation update lost the
	// race: the stored version no longer matches the expected one.
	ErrStateConflict = errors.New("conversation state conflict")
	// ErrEmptyCart indicates a finalize attempt against a cart with no items.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrCartNotActive indicates the cart was already completed.
	ErrCartNotActive = errors.New("cart is not active")
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Restaurants
	GetRestaurant(ctx context.Context, id string) (*Restaurant, error)

	// Customers
	UpsertCustomerByPhone(ctx context.Context, phone string, name *string) (*Customer, error)

	// Messages
	InsertMessage(ctx context.Context, msg MessageRecord) error
	ListRecentMessages(ctx context.Context, restaurantID, phone string, limit int) ([]MessageRecord, error)

	// Menu
	LoadMenu(ctx context.Context, restaurantID string) ([]MenuCategory, error)
	GetSellableProduct(ctx context.Context, restaurantID, productID string) (*Product, error)

	// Conversations
	GetOrCreateConversation(ctx context.Context, restaurantID, phone string) (*Conversation, error)
	UpdateConversation(ctx context.Context, upd ConversationUpdate) error
	SetConversationMode(ctx context.Context, restaurantID, phone, mode string) error

	// Carts
	CreateCart(ctx context.Context, restaurantID, phone string) (*Cart, error)
	GetCart(ctx context.Context, cartID string) (*Cart, error)
	AddCartItem(ctx context.Context, cartID string, item NewCartItem) (*CartItem, error)
	RemoveCartItems(ctx context.Context, cartID, productID string) (int64, error)

	// Orders
	FinalizeOrder(ctx context.Context, params FinalizeOrderParams) (*Order, error)

	// Insights
	GetCustomerInsights(ctx context.Context, phone string) (*CustomerInsights, error)
	RecordOrderInsights(ctx context.Context, phone string, order *Order, cart *Cart) error

	// API Keys
	SyncProviderKeys(ctx context.Context, provider string, keys []string) error
	ListActiveProviderKeys(ctx context.Context, provider string) ([]APIKey, error)
	SetCooldownUntil(ctx context.Context, id string, until time.Time) error
	ClearCooldown(ctx context.Context, id string) error
}

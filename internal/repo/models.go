package repo

import "time"

// Restaurant represents the restaurants table row.
type Restaurant struct {
	ID               string
	Name             string
	DeliveryFeeCents int64
	AISettings       AISettings
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AISettings holds per-restaurant agent personalization stored as JSONB.
type AISettings struct {
	Tone         string `json:"tone,omitempty"`
	Greeting     string `json:"greeting,omitempty"`
	Closing      string `json:"closing,omitempty"`
	UpsellLevel  string `json:"upsell_level,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// Customer represents the customers table row.
type Customer struct {
	Phone     string
	Name      *string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MenuCategory groups products; loaders return available entries only.
type MenuCategory struct {
	ID       string
	Name     string
	Position int
	Products []Product
}

// Product represents a sellable item.
type Product struct {
	ID          string
	CategoryID  string
	Name        string
	Description *string
	PriceCents  int64
	Addons      []Addon
}

// Addon represents an optional extra attached to a product.
type Addon struct {
	ID         string
	ProductID  string
	Name       string
	PriceCents int64
}

// ShownProduct is the short-term memory of what was last presented to a
// customer, used to resolve follow-ups like "the second one".
type ShownProduct struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Conversation represents one row per (restaurant, customer) pair.
type Conversation struct {
	ID                string
	RestaurantID      string
	CustomerPhone     string
	State             string
	Mode              string
	CartID            *string
	LastShownProducts []ShownProduct
	Metadata          map[string]any
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ConversationUpdate carries a conditional state write. The update only
// applies when the stored version still equals ExpectedVersion.
type ConversationUpdate struct {
	ID                string
	State             string
	CartID            *string
	LastShownProducts []ShownProduct
	Metadata          map[string]any
	ExpectedVersion   int64
}

// Cart statuses.
const (
	CartStatusActive    = "active"
	CartStatusCompleted = "completed"
)

// Conversation modes.
const (
	ModeAI     = "ai"
	ModeManual = "manual"
)

// Cart represents an in-progress order basket with its loaded line items.
type Cart struct {
	ID            string
	RestaurantID  string
	CustomerPhone string
	Status        string
	Items         []CartItem
	SubtotalCents int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CartItem belongs to exactly one cart.
type CartItem struct {
	ID             string
	CartID         string
	ProductID      string
	ProductName    string
	UnitPriceCents int64
	Quantity       int
	Notes          *string
	Addons         []CartItemAddon
	CreatedAt      time.Time
}

// CartItemAddon links a cart item to a chosen addon.
type CartItemAddon struct {
	AddonID    string
	Name       string
	PriceCents int64
}

// NewCartItem carries data for inserting a cart line.
type NewCartItem struct {
	ProductID string
	Quantity  int
	Notes     *string
	AddonIDs  []string
}

// Order represents a row in the orders table.
type Order struct {
	ID              string
	CartID          string
	RestaurantID    string
	CustomerPhone   string
	DeliveryAddress string
	PaymentMethod   string
	TotalCents      int64
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FinalizeOrderParams describes the atomic cart-to-order conversion. The
// total is always derived from persisted cart rows, never supplied here.
type FinalizeOrderParams struct {
	CartID           string
	RestaurantID     string
	CustomerPhone    string
	ConversationID   string
	ExpectedVersion  int64
	DeliveryAddress  string
	PaymentMethod    string
	DeliveryFeeCents int64
}

// CustomerInsights is a rolling aggregate keyed by phone number.
type CustomerInsights struct {
	Phone              string
	OrderCount         int64
	AverageTicketCents int64
	PreferredItems     map[string]int64
	PreferredAddons    map[string]int64
	OrderFrequencyDays float64
	LastOrderID        *string
	LastInteractionAt  *time.Time
	UpdatedAt          time.Time
}

// MessageRecord is used to persist conversation logs.
type MessageRecord struct {
	RestaurantID  string
	CustomerPhone string
	Direction     string
	Content       string
	CreatedAt     time.Time
}

// Message directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// APIKey represents a record in the api_keys table.
type APIKey struct {
	ID            string
	Provider      string
	Value         string
	Priority      int
	CooldownUntil *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

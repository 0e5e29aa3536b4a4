package repo

import (
	"testing"
	"time"
)

func TestFoldOrderIntoInsightsFirstOrder(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	order := &Order{ID: "order-1", TotalCents: 5000}
	cart := &Cart{Items: []CartItem{
		{ProductName: "Pizza Margherita", Quantity: 2, Addons: []CartItemAddon{{Name: "Borda recheada"}}},
	}}

	next := FoldOrderIntoInsights(nil, "5511999990000", order, cart, now)

	if next.OrderCount != 1 {
		t.Fatalf("expected order count 1, got %d", next.OrderCount)
	}
	if next.AverageTicketCents != 5000 {
		t.Fatalf("expected average 5000, got %d", next.AverageTicketCents)
	}
	if next.PreferredItems["Pizza Margherita"] != 2 {
		t.Fatalf("expected item count 2, got %+v", next.PreferredItems)
	}
	if next.PreferredAddons["Borda recheada"] != 1 {
		t.Fatalf("expected addon count 1, got %+v", next.PreferredAddons)
	}
	if next.LastOrderID == nil || *next.LastOrderID != "order-1" {
		t.Fatalf("expected last order id, got %+v", next.LastOrderID)
	}
	if next.OrderFrequencyDays != 0 {
		t.Fatalf("first order has no frequency, got %f", next.OrderFrequencyDays)
	}
}

func TestFoldOrderIntoInsightsRunningMean(t *testing.T) {
	first := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	second := first.Add(6 * 24 * time.Hour)

	prev := FoldOrderIntoInsights(nil, "p", &Order{ID: "o1", TotalCents: 4000}, nil, first)
	next := FoldOrderIntoInsights(&prev, "p", &Order{ID: "o2", TotalCents: 6000}, nil, second)

	if next.OrderCount != 2 {
		t.Fatalf("expected 2 orders, got %d", next.OrderCount)
	}
	if next.AverageTicketCents != 5000 {
		t.Fatalf("expected mean 5000, got %d", next.AverageTicketCents)
	}
	if next.OrderFrequencyDays != 6 {
		t.Fatalf("expected 6 day gap, got %f", next.OrderFrequencyDays)
	}

	third := second.Add(12 * 24 * time.Hour)
	final := FoldOrderIntoInsights(&next, "p", &Order{ID: "o3", TotalCents: 5000}, nil, third)
	if final.OrderFrequencyDays != 9 {
		t.Fatalf("expected rolling frequency 9, got %f", final.OrderFrequencyDays)
	}
}

func TestFoldOrderAccumulatesPreferences(t *testing.T) {
	now := time.Now()
	cart := &Cart{Items: []CartItem{{ProductName: "Guarana 2L", Quantity: 1}}}

	prev := FoldOrderIntoInsights(nil, "p", &Order{ID: "o1", TotalCents: 1200}, cart, now)
	next := FoldOrderIntoInsights(&prev, "p", &Order{ID: "o2", TotalCents: 1200}, cart, now.Add(24*time.Hour))

	if next.PreferredItems["Guarana 2L"] != 2 {
		t.Fatalf("expected accumulated count 2, got %+v", next.PreferredItems)
	}
}

package convo

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MarcIAFull/convergyzendy-sub000/internal/repo"
)

// FormatMenuCompact renders the bounded summary injected into every prompt:
// every category name with item count and price range, but no per-product
// lines. The full listing is reachable only through the search_menu lookup.
func FormatMenuCompact(categories []repo.MenuCategory) string {
	if len(categories) == 0 {
		return "Cardapio indisponivel no momento."
	}

	var builder strings.Builder
	builder.WriteString("Categorias do cardapio:\n")
	for _, category := range categories {
		builder.WriteString("- ")
		builder.WriteString(category.Name)
		if len(category.Products) > 0 {
			min, max := priceRange(category.Products)
			builder.WriteString(fmt.Sprintf(" (%d itens, %s a %s)", len(category.Products), formatPrice(min), formatPrice(max)))
		}
		builder.WriteString("\n")
	}
	builder.WriteString("Use a busca do cardapio para ver itens e precos.")
	compact := strings.TrimSpace(builder.String())

	// A handful of products renders smaller than the category summary; in
	// that case the listing itself is the bounded form.
	if full := FormatMenuFull(categories); len(full) < len(compact) {
		return full
	}
	return compact
}

// FormatMenuFull renders every product with price and addons, for on-demand
// lookups only.
func FormatMenuFull(categories []repo.MenuCategory) string {
	if len(categories) == 0 {
		return "Cardapio indisponivel no momento."
	}

	var builder strings.Builder
	builder.WriteString("Cardapio completo:\n")
	for _, category := range categories {
		builder.WriteString(strings.ToUpper(category.Name))
		builder.WriteString(":\n")
		for _, product := range category.Products {
			builder.WriteString("  - ")
			builder.WriteString(fmt.Sprintf("%s - %s", product.Name, formatPrice(product.PriceCents)))
			if product.Description != nil && *product.Description != "" {
				builder.WriteString(" (")
				builder.WriteString(*product.Description)
				builder.WriteString(")")
			}
			builder.WriteString("\n")
			for _, addon := range product.Addons {
				builder.WriteString(fmt.Sprintf("      + %s - %s\n", addon.Name, formatPrice(addon.PriceCents)))
			}
		}
	}
	return strings.TrimSpace(builder.String())
}

// FormatCart renders the active cart with its running total.
func FormatCart(cart *repo.Cart) string {
	if cart == nil || len(cart.Items) == 0 {
		return "Carrinho vazio."
	}

	var builder strings.Builder
	builder.WriteString("Carrinho atual:\n")
	for _, item := range cart.Items {
		builder.WriteString(fmt.Sprintf("- %dx %s - %s\n", item.Quantity, item.ProductName, formatPrice(item.UnitPriceCents)))
		for _, addon := range item.Addons {
			builder.WriteString(fmt.Sprintf("    + %s - %s\n", addon.Name, formatPrice(addon.PriceCents)))
		}
		if item.Notes != nil && *item.Notes != "" {
			builder.WriteString("    obs: ")
			builder.WriteString(*item.Notes)
			builder.WriteString("\n")
		}
	}
	builder.WriteString("Subtotal: ")
	builder.WriteString(formatPrice(cart.SubtotalCents))
	return builder.String()
}

// FormatInsightsSummary renders the minimal personalization block: counts and
// averages only, never the full preference history.
func FormatInsightsSummary(insights *repo.CustomerInsights) string {
	if insights == nil || insights.OrderCount == 0 {
		return "Cliente novo, sem pedidos anteriores."
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Cliente recorrente: %d pedidos, ticket medio %s.",
		insights.OrderCount, formatPrice(insights.AverageTicketCents)))
	if top := topPreferred(insights.PreferredItems, 3); len(top) > 0 {
		builder.WriteString(" Costuma pedir: ")
		builder.WriteString(strings.Join(top, ", "))
		builder.WriteString(".")
	}
	if insights.OrderFrequencyDays > 0 {
		builder.WriteString(fmt.Sprintf(" Pede a cada %.0f dias.", insights.OrderFrequencyDays))
	}
	return builder.String()
}

// SearchMenu scores products against the query and returns the best matches.
func SearchMenu(categories []repo.MenuCategory, query string, limit int) []repo.Product {
	if limit <= 0 {
		limit = 5
	}
	tokens := tokenizeQuery(query)

	type scoredProduct struct {
		product repo.Product
		score   int
	}
	var scored []scoredProduct
	for _, category := range categories {
		for _, product := range category.Products {
			score := matchScore(product, category.Name, tokens)
			if score > 0 || len(tokens) == 0 {
				scored = append(scored, scoredProduct{product: product, score: score})
			}
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score == scored[j].score {
			return scored[i].product.PriceCents < scored[j].product.PriceCents
		}
		return scored[i].score > scored[j].score
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	res := make([]repo.Product, 0, len(scored))
	for _, sc := range scored {
		res = append(res, sc.product)
	}
	return res
}

// FormatSearchResults renders search matches as a numbered list so follow-ups
// like "o segundo" can be resolved against last_shown_products.
func FormatSearchResults(products []repo.Product) string {
	if len(products) == 0 {
		return "Nenhum item encontrado no cardapio."
	}
	var builder strings.Builder
	builder.WriteString("Itens encontrados:\n")
	for i, product := range products {
		builder.WriteString(fmt.Sprintf("%d. %s - %s\n", i+1, product.Name, formatPrice(product.PriceCents)))
		for _, addon := range product.Addons {
			builder.WriteString(fmt.Sprintf("     + %s - %s\n", addon.Name, formatPrice(addon.PriceCents)))
		}
	}
	return strings.TrimSpace(builder.String())
}

func matchScore(product repo.Product, categoryName string, tokens []string) int {
	name := strings.ToLower(product.Name)
	category := strings.ToLower(categoryName)
	description := ""
	if product.Description != nil {
		description = strings.ToLower(*product.Description)
	}

	score := 0
	for _, token := range tokens {
		if token == "" {
			continue
		}
		if strings.Contains(name, token) {
			score += 4
		}
		if strings.Contains(category, token) {
			score += 3
		}
		if description != "" && strings.Contains(description, token) {
			score += 2
		}
	}
	return score
}

func tokenizeQuery(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	query = strings.ReplaceAll(query, ",", " ")
	query = strings.ReplaceAll(query, ".", " ")
	return strings.Fields(query)
}

func topPreferred(counts map[string]int64, n int) []string {
	type entry struct {
		name  string
		count int64
	}
	entries := make([]entry, 0, len(counts))
	for name, count := range counts {
		entries = append(entries, entry{name: name, count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count == entries[j].count {
			return entries[i].name < entries[j].name
		}
		return entries[i].count > entries[j].count
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	res := make([]string, 0, len(entries))
	for _, e := range entries {
		res = append(res, e.name)
	}
	return res
}

func priceRange(products []repo.Product) (int64, int64) {
	min, max := products[0].PriceCents, products[0].PriceCents
	for _, p := range products[1:] {
		if p.PriceCents < min {
			min = p.PriceCents
		}
		if p.PriceCents > max {
			max = p.PriceCents
		}
	}
	return min, max
}

func formatPrice(cents int64) string {
	return fmt.Sprintf("R$ %d,%02d", cents/100, cents%100)
}

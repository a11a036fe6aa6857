package catalog

import "strings"

// Filter — критерии видимости карточек: порог максимальной цены и
// регистронезависимый поиск по подстроке имени. С корзиной не взаимодействует.
type Filter struct {
	// MaxPriceMinor — порог цены; значение < 0 означает "без порога".
	MaxPriceMinor int64
	// Term — подстрока для поиска в имени; пустая строка пропускает всех.
	Term string
}

// Matches сообщает, проходит ли товар оба критерия.
func (f Filter) Matches(p Product) bool {
	if f.MaxPriceMinor >= 0 && p.PriceMinor > f.MaxPriceMinor {
		return false
	}
	term := strings.ToLower(strings.TrimSpace(f.Term))
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(p.Name), term)
}

// Apply возвращает видимые товары в порядке каталога.
func (c *Catalog) Apply(f Filter) []Product {
	result := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		if f.Matches(p) {
			result = append(result, p)
		}
	}
	return result
}

package domain

// LineItem представляет одну позицию корзины.
type LineItem struct {
	// ID — стабильный идентификатор товара из карточки каталога.
	ID string
	// Name — отображаемое имя, зафиксированное в момент добавления.
	Name string
	// PriceMinor — цена за единицу в минимальных денежных единицах (центы).
	PriceMinor int64
	// Quantity — количество единиц, всегда >= 1.
	Quantity int32
}

// Validate проверяет инварианты одной позиции.
func (li LineItem) Validate() error {
	if li.ID == "" {
		return ErrItemIDRequired
	}
	if li.Name == "" {
		return ErrItemNameRequired
	}
	if li.PriceMinor < 0 {
		return ErrItemPriceInvalid
	}
	if li.Quantity < 1 {
		return ErrItemQtyInvalid
	}
	return nil
}

// ValidateItems проверяет последовательность позиций целиком: инварианты
// каждой позиции и уникальность идентификаторов.
func ValidateItems(items []LineItem) error {
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return err
		}
		if _, ok := seen[item.ID]; ok {
			return ErrItemDuplicate
		}
		seen[item.ID] = struct{}{}
	}
	return nil
}

// Totals пересчитывает производные значения корзины с нуля.
// Ничего не кэшируется, чтобы исключить расхождение с содержимым.
func Totals(items []LineItem) (totalItems int32, totalPriceMinor int64) {
	for _, item := range items {
		totalItems += item.Quantity
		totalPriceMinor += int64(item.Quantity) * item.PriceMinor
	}
	return totalItems, totalPriceMinor
}

// CloneItems возвращает независимую копию среза позиций.
func CloneItems(items []LineItem) []LineItem {
	result := make([]LineItem, len(items))
	copy(result, items)
	return result
}

package checkout

import (
	"errors"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// FocusIdentifierField — поле ввода, которому клиент должен передать фокус
// при отсутствующем идентификаторе (id поля в исходной разметке).
const FocusIdentifierField = "client-name"

// CanCheckout — чистая производная: оформление доступно только при
// непустой корзине и непустом (после trim) идентификаторе.
// Пересчитывается при каждой мутации корзины и каждом изменении поля.
func CanCheckout(items []domain.LineItem, identifier string) bool {
	return len(items) > 0 && strings.TrimSpace(identifier) != ""
}

// Validate повторно проверяет условия при попытке оформления. Состоянию
// disabled-контрола не доверяем: программные триггеры и устаревшее
// состояние возможны. Возвращает нормализованный идентификатор.
func Validate(items []domain.LineItem, identifier string) (string, error) {
	if len(items) == 0 {
		return "", domain.ErrEmptyCart
	}
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return "", domain.ErrMissingIdentifier
	}
	return trimmed, nil
}

// FocusTarget возвращает поле, которому нужно передать фокус для данной
// ошибки валидации, либо пустую строку.
func FocusTarget(err error) string {
	if errors.Is(err, domain.ErrMissingIdentifier) {
		return FocusIdentifierField
	}
	return ""
}

// BlockReason возвращает метку причины блокировки для метрик и ответов API.
func BlockReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrMissingIdentifier):
		return "missing_identifier"
	case errors.Is(err, domain.ErrCheckoutInProgress):
		return "in_progress"
	default:
		return "unknown"
	}
}

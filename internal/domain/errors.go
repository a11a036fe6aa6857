package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора товара в позиции.
	ErrItemIDRequired = errors.New("line item id is required")
	// Ошибка отсутствующего имени товара в позиции.
	ErrItemNameRequired = errors.New("line item name is required")
	// Ошибка при некорректном количестве товара (< 1).
	ErrItemQtyInvalid = errors.New("line item quantity must be at least one")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("line item price must be non-negative")
	// Ошибка дублирования идентификатора товара в корзине.
	ErrItemDuplicate = errors.New("cart already holds a line item with this id")
	// Ошибка разбора цены из карточки каталога.
	ErrPriceMalformed = errors.New("catalog price is not a parseable amount")
	// ErrProductNotFound возвращается, если товар отсутствует в каталоге.
	ErrProductNotFound = errors.New("product not found in catalog")
	// ErrEmptyCart блокирует оформление пустой корзины.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrMissingIdentifier блокирует оформление без имени/клички клиента.
	ErrMissingIdentifier = errors.New("checkout identifier is required")
	// ErrCheckoutInProgress защищает от повторной отправки во время submit.
	ErrCheckoutInProgress = errors.New("checkout is already in progress")
	// ErrSnapshotCorrupt сигнализирует о нечитаемом снапшоте корзины.
	// Наружу не выходит: загрузчик подменяет такой снапшот пустой корзиной.
	ErrSnapshotCorrupt = errors.New("cart snapshot is corrupt")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — тот же ключ с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency request hash mismatch")
	// ErrIdempotencyKeyNotFound — ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// IsValidationError проверяет, относится ли ошибка к блокирующей валидации
// оформления (пустая корзина или отсутствующий идентификатор).
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyCart) || errors.Is(err, ErrMissingIdentifier)
}

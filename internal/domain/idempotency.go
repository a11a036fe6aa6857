package domain

import "time"

// IdempotencyStatus — этап обработки запроса с idempotency-key.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing: запрос принят, ответ ещё не готов.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone: обработка завершена, сохранённый ответ можно отдавать повторно.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed: обработка упала; повтор с тем же ключом получит сохранённую ошибку.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// Valid сообщает, относится ли статус к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	return s == IdempotencyStatusProcessing || s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// IdempotencyRecord — сохранённый результат дедупликации одного запроса.
// RequestHash защищает от переиспользования ключа с другим телом.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// IdempotencyKeyHeader — заголовок дедупликации оформления.
const IdempotencyKeyHeader = "Idempotency-Key"

const idempotencyTTL = 24 * time.Hour

// withIdempotency оборачивает обработчик дедупликацией по Idempotency-Key.
// Пустой заголовок или отсутствующий репозиторий — обычное выполнение.
// Повтор с тем же ключом и телом воспроизводит сохранённый ответ;
// тот же ключ с другим телом — конфликт.
func (s *Server) withIdempotency(r *http.Request, sessionKey, identifier string, handler func() (int, []byte)) (int, []byte) {
	idemKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if idemKey == "" || s.idemRepo == nil {
		return handler()
	}

	requestHash := buildIdempotencyRequestHash(r.Method, r.URL.Path, sessionKey, identifier)

	record, err := s.idemRepo.CreateProcessing(idemKey, requestHash, time.Now().UTC().Add(idempotencyTTL))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrIdempotencyHashMismatch):
			return encodeError(http.StatusConflict, "idempotency_mismatch",
				"idempotency key was already used with a different request", "")
		case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
			return s.replayIdempotency(idemKey, record)
		default:
			s.logger.WithError(err).Warn("failed to register idempotency key")
			return handler()
		}
	}

	status, body := handler()

	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		if err := s.idemRepo.MarkDone(idemKey, body, status); err != nil {
			s.logger.WithError(err).Warn("failed to cache idempotent success")
		}
	} else {
		if err := s.idemRepo.MarkFailed(idemKey, body, status); err != nil {
			s.logger.WithError(err).Warn("failed to cache idempotent failure")
		}
	}

	return status, body
}

// replayIdempotency воспроизводит результат ранее принятого запроса.
func (s *Server) replayIdempotency(idemKey string, record domain.IdempotencyRecord) (int, []byte) {
	if record.Key == "" {
		stored, err := s.idemRepo.Get(idemKey)
		if err != nil {
			s.logger.WithError(err).Warn("failed to load idempotency record for replay")
			return encodeError(http.StatusConflict, "idempotency_conflict",
				"request with this idempotency key is already registered", "")
		}
		record = stored
	}

	switch record.Status {
	case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
		return record.HTTPStatus, record.ResponseBody
	case domain.IdempotencyStatusProcessing:
		return encodeError(http.StatusConflict, "idempotency_in_progress",
			"request with this idempotency key is still being processed", "")
	default:
		return encodeError(http.StatusConflict, "idempotency_conflict",
			"request with this idempotency key is in an unknown state", "")
	}
}

// buildIdempotencyRequestHash связывает ключ с конкретным запросом:
// тот же ключ с другим телом или другой сессией — другой запрос.
func buildIdempotencyRequestHash(method, path, sessionKey, identifier string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s %s:%s:%s", method, path, sessionKey, identifier)))
	return hex.EncodeToString(sum[:])
}

func encodeJSON(status int, payload any) (int, []byte) {
	body, err := json.Marshal(payload)
	if err != nil {
		return http.StatusInternalServerError, []byte(`{"error":{"code":"internal","message":"failed to encode response"}}`)
	}
	return status, body
}

func encodeError(status int, code, message, focus string) (int, []byte) {
	return encodeJSON(status, errorResponse{Error: errorBody{
		Code:    code,
		Message: message,
		Focus:   focus,
	}})
}

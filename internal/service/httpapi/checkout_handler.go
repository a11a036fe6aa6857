package httpapi

import (
	"errors"
	"net/http"

	"github.com/vladislavdragonenkov/storefront/internal/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type checkoutRequest struct {
	Identifier string `json:"identifier"`
}

type checkoutResponse struct {
	OrderRef string `json:"order_ref"`
	Text     string `json:"text"`
	DeepLink string `json:"deep_link"`
	Status   string `json:"status"`
}

// handleCheckout запускает оформление корзины сессии. Заголовок
// Idempotency-Key (если задан) превращает повтор в воспроизведение
// сохранённого ответа.
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	key := s.session(w, r)

	var req checkoutRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	status, body := s.withIdempotency(r, key, req.Identifier, func() (int, []byte) {
		return s.submitCheckout(r, key, req.Identifier)
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		s.logger.WithError(err).Warn("failed to write checkout response")
	}
}

// submitCheckout выполняет собственно оформление и кодирует результат
// в пару (HTTP-статус, JSON-тело), пригодную для кэширования.
func (s *Server) submitCheckout(r *http.Request, key, identifier string) (int, []byte) {
	store := s.cartFor(r.Context(), key)
	flow := s.flowFor(store)

	result, err := flow.Submit(r.Context(), identifier)
	if err != nil {
		if errors.Is(err, domain.ErrCheckoutInProgress) {
			return encodeError(http.StatusConflict, checkout.BlockReason(err), err.Error(), "")
		}
		// Валидационный отказ: корзина не тронута, клиенту — причина и
		// поле для фокуса.
		return encodeError(
			http.StatusUnprocessableEntity,
			checkout.BlockReason(err),
			err.Error(),
			checkout.FocusTarget(err),
		)
	}

	return encodeJSON(http.StatusOK, checkoutResponse{
		OrderRef: result.OrderRef,
		Text:     result.Text,
		DeepLink: result.DeepLink,
		Status:   result.Status,
	})
}

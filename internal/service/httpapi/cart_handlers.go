package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type productView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Price      string `json:"price"`
	PriceMinor int64  `json:"price_minor"`
}

type catalogResponse struct {
	Products []productView `json:"products"`
}

// handleCatalog отдаёт видимые карточки каталога. Фильтры — чистая проекция:
// корзину они не трогают.
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	filter := catalog.Filter{MaxPriceMinor: -1, Term: r.URL.Query().Get("q")}

	if raw := strings.TrimSpace(r.URL.Query().Get("max_price")); raw != "" {
		maxMinor, err := domain.ParsePriceMinor(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "bad_request", "max_price is not a valid price", "")
			return
		}
		filter.MaxPriceMinor = maxMinor
	}

	visible := s.catalog.Apply(filter)
	products := make([]productView, 0, len(visible))
	for _, p := range visible {
		products = append(products, productView{
			ID:         p.ID,
			Name:       p.Name,
			Price:      domain.FormatMinor(p.PriceMinor),
			PriceMinor: p.PriceMinor,
		})
	}

	s.writeJSON(w, http.StatusOK, catalogResponse{Products: products})
}

type lineItemView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Price          string `json:"price"`
	PriceMinor     int64  `json:"price_minor"`
	Quantity       int32  `json:"quantity"`
	LineTotalMinor int64  `json:"line_total_minor"`
}

type cartView struct {
	Items       []lineItemView `json:"items"`
	TotalItems  int32          `json:"total_items"`
	Total       string         `json:"total"`
	TotalMinor  int64          `json:"total_minor"`
	Empty       bool           `json:"empty"`
	CanCheckout bool           `json:"can_checkout"`
}

func buildCartView(store *cart.Store, identifier string) cartView {
	items := store.Items()
	totalItems, totalMinor := store.Totals()

	view := cartView{
		Items:       make([]lineItemView, 0, len(items)),
		TotalItems:  totalItems,
		Total:       domain.FormatMinor(totalMinor),
		TotalMinor:  totalMinor,
		Empty:       len(items) == 0,
		CanCheckout: checkout.CanCheckout(items, identifier),
	}
	for _, item := range items {
		view.Items = append(view.Items, lineItemView{
			ID:             item.ID,
			Name:           item.Name,
			Price:          domain.FormatMinor(item.PriceMinor),
			PriceMinor:     item.PriceMinor,
			Quantity:       item.Quantity,
			LineTotalMinor: int64(item.Quantity) * item.PriceMinor,
		})
	}
	return view
}

// handleGetCart отдаёт текущее состояние корзины сессии. Производные
// значения пересчитываются на каждый запрос.
func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	key := s.session(w, r)
	store := s.cartFor(r.Context(), key)

	s.writeJSON(w, http.StatusOK, buildCartView(store, r.URL.Query().Get("identifier")))
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
}

type addItemResponse struct {
	Message string   `json:"message"`
	Cart    cartView `json:"cart"`
}

// handleAddItem добавляет карточку каталога в корзину сессии.
func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	key := s.session(w, r)

	var req addItemRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "product_id is required", "")
		return
	}

	product, err := s.catalog.Get(req.ProductID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "product_not_found", "product is not in the catalog", "")
		return
	}

	store := s.cartFor(r.Context(), key)
	message, err := store.Add(r.Context(), product.ID, product.Name, product.PriceMinor)
	if err != nil {
		s.logger.WithError(err).WithField("product_id", product.ID).Warn("failed to add catalog product")
		s.writeError(w, http.StatusUnprocessableEntity, "invalid_item", err.Error(), "")
		return
	}

	s.writeJSON(w, http.StatusOK, addItemResponse{
		Message: message,
		Cart:    buildCartView(store, ""),
	})
}

// handleDecrementItem уменьшает количество позиции на 1. Неизвестный id —
// no-op с актуальным состоянием корзины в ответе.
func (s *Server) handleDecrementItem(w http.ResponseWriter, r *http.Request) {
	key := s.session(w, r)

	itemID := r.PathValue("id")
	if itemID == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "item id is required", "")
		return
	}

	store := s.cartFor(r.Context(), key)
	store.Decrement(r.Context(), itemID)

	s.writeJSON(w, http.StatusOK, buildCartView(store, ""))
}

// handleClearCart опустошает корзину сессии.
func (s *Server) handleClearCart(w http.ResponseWriter, r *http.Request) {
	key := s.session(w, r)

	store := s.cartFor(r.Context(), key)
	store.Clear(r.Context())

	s.writeJSON(w, http.StatusOK, buildCartView(store, ""))
}

type timelineEventView struct {
	Type     string    `json:"type"`
	Detail   string    `json:"detail,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type timelineResponse struct {
	Events []timelineEventView `json:"events"`
}

// handleTimeline отдаёт журнал активности корзины сессии.
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	key := s.session(w, r)

	if s.timeline == nil {
		s.writeJSON(w, http.StatusOK, timelineResponse{Events: []timelineEventView{}})
		return
	}

	events, err := s.timeline.List(key)
	if err != nil && !errors.Is(err, domain.ErrSnapshotCorrupt) {
		s.logger.WithError(err).Warn("failed to list cart timeline")
		s.writeError(w, http.StatusInternalServerError, "internal", "failed to load cart timeline", "")
		return
	}

	views := make([]timelineEventView, 0, len(events))
	for _, event := range events {
		views = append(views, timelineEventView{
			Type:     event.Type,
			Detail:   event.Detail,
			Occurred: event.Occurred,
		})
	}

	s.writeJSON(w, http.StatusOK, timelineResponse{Events: views})
}

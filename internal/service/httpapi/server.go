package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// SessionKeyHeader — заголовок, связывающий браузерную сессию с её корзиной.
// Отсутствующий ключ означает новую сессию: сервер выдаёт ключ сам.
const SessionKeyHeader = "X-Session-Key"

// FlowFactory создаёт автомат оформления поверх корзины сессии.
type FlowFactory func(store *cart.Store) *checkout.Flow

// Options задаёт необязательные зависимости Server.
type Options struct {
	Logger      *log.Entry
	Timeline    domain.TimelineRepository
	Idempotency domain.IdempotencyRepository
}

// Option настраивает Server.
type Option func(*Options)

// WithLogger задаёт logger для HTTP API.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithTimeline подключает журнал активности корзины.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(opts *Options) { opts.Timeline = timeline }
}

// WithIdempotency включает дедупликацию оформления по Idempotency-Key.
func WithIdempotency(repo domain.IdempotencyRepository) Option {
	return func(opts *Options) { opts.Idempotency = repo }
}

// Server реализует JSON API витрины поверх каталога и реестра корзин.
type Server struct {
	catalog     *catalog.Catalog
	carts       *cart.Registry
	flowFactory FlowFactory
	timeline    domain.TimelineRepository
	idemRepo    domain.IdempotencyRepository
	logger      *log.Entry

	flowMu sync.Mutex
	flows  map[string]*checkout.Flow
}

// NewServer конструирует сервер с зависимостями.
func NewServer(cat *catalog.Catalog, carts *cart.Registry, flowFactory FlowFactory, options ...Option) *Server {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}

	return &Server{
		catalog:     cat,
		carts:       carts,
		flowFactory: flowFactory,
		timeline:    opts.Timeline,
		idemRepo:    opts.Idempotency,
		logger:      logger,
		flows:       make(map[string]*checkout.Flow),
	}
}

// Routes возвращает маршрутизатор API.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/catalog", s.handleCatalog)
	mux.HandleFunc("GET /api/cart", s.handleGetCart)
	mux.HandleFunc("POST /api/cart/items", s.handleAddItem)
	mux.HandleFunc("POST /api/cart/items/{id}/decrement", s.handleDecrementItem)
	mux.HandleFunc("DELETE /api/cart", s.handleClearCart)
	mux.HandleFunc("GET /api/cart/timeline", s.handleTimeline)
	mux.HandleFunc("POST /api/checkout", s.handleCheckout)

	return mux
}

// session возвращает ключ сессии запроса, выдавая новый при первом заходе.
// Ключ всегда отражается в ответ, чтобы клиент мог его сохранить.
func (s *Server) session(w http.ResponseWriter, r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get(SessionKeyHeader))
	if key == "" {
		key = uuid.NewString()
	}
	w.Header().Set(SessionKeyHeader, key)
	return key
}

func (s *Server) cartFor(ctx context.Context, key string) *cart.Store {
	return s.carts.GetOrCreate(ctx, key)
}

// flowFor выдаёт ровно один автомат оформления на корзину.
func (s *Server) flowFor(store *cart.Store) *checkout.Flow {
	s.flowMu.Lock()
	defer s.flowMu.Unlock()

	if flow, ok := s.flows[store.Key()]; ok {
		return flow
	}
	flow := s.flowFactory(store)
	s.flows[store.Key()] = flow
	return flow
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Focus   string `json:"focus,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Warn("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message, focus string) {
	s.writeJSON(w, status, errorResponse{Error: errorBody{
		Code:    code,
		Message: message,
		Focus:   focus,
	}})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "request body is not valid JSON", "")
		return false
	}
	return true
}

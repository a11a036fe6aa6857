package checkout

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/order"
)

// State описывает фазу конечного автомата оформления.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateBlocked    State = "blocked"
	StateSubmitting State = "submitting"
)

// StatusOpening — транзитный статус на время передачи deep link.
const StatusOpening = "Abriendo WhatsApp para enviar tu pedido..."

const defaultStatusTTL = 4 * time.Second

// EventTypeOrderSubmitted — тип outbox-события принятого заказа.
const EventTypeOrderSubmitted = "order.submitted"

// Options задаёт необязательные зависимости Flow.
type Options struct {
	Logger    *log.Entry
	Outbox    domain.OutboxRepository
	Timeline  domain.TimelineRepository
	Metrics   *metrics.StorefrontMetrics
	StatusTTL time.Duration
}

// Option настраивает Flow.
type Option func(*Options)

// WithLogger задаёт logger для оформления.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithOutbox подключает журнал принятых заказов (transactional outbox).
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(opts *Options) { opts.Outbox = outbox }
}

// WithTimeline подключает журнал активности корзины.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(opts *Options) { opts.Timeline = timeline }
}

// WithMetrics подключает метрики оформления.
func WithMetrics(m *metrics.StorefrontMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

// WithStatusTTL задаёт время жизни транзитного статуса.
func WithStatusTTL(ttl time.Duration) Option {
	return func(opts *Options) { opts.StatusTTL = ttl }
}

// Result — итог принятого оформления. Успех означает только
// "deep link передан", не "заказ получен продавцом".
type Result struct {
	OrderRef string
	Text     string
	DeepLink string
	Status   string
}

// Flow ведёт оформление одной корзины:
// Idle → Validating → { Blocked(reason) | Submitting → Idle(cleared) }.
type Flow struct {
	cart      *cart.Store
	formatter *order.Formatter
	links     domain.LinkSink
	outbox    domain.OutboxRepository
	timeline  domain.TimelineRepository
	metrics   *metrics.StorefrontMetrics
	logger    *log.Entry
	statusTTL time.Duration

	mu        sync.Mutex
	state     State
	status    string
	statusGen uint64
}

// NewFlow создаёт автомат оформления поверх корзины.
func NewFlow(cartStore *cart.Store, formatter *order.Formatter, links domain.LinkSink, options ...Option) *Flow {
	opts := Options{StatusTTL: defaultStatusTTL}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "checkout")
	}
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = defaultStatusTTL
	}

	return &Flow{
		cart:      cartStore,
		formatter: formatter,
		links:     links,
		outbox:    opts.Outbox,
		timeline:  opts.Timeline,
		metrics:   opts.Metrics,
		logger:    logger.WithField("cart_key", cartStore.Key()),
		statusTTL: opts.StatusTTL,
		state:     StateIdle,
	}
}

// CanCheckout сообщает, доступна ли кнопка оформления для текущего
// состояния корзины и введённого идентификатора.
func (f *Flow) CanCheckout(identifier string) bool {
	return CanCheckout(f.cart.Items(), identifier)
}

// Submit выполняет попытку оформления. Отклонённая валидация оставляет
// корзину нетронутой; принятая — очищает её синхронно.
func (f *Flow) Submit(ctx context.Context, identifier string) (Result, error) {
	start := time.Now()

	f.mu.Lock()
	if f.state == StateSubmitting {
		f.mu.Unlock()
		return Result{}, domain.ErrCheckoutInProgress
	}
	f.state = StateValidating
	f.mu.Unlock()

	items := f.cart.Items()
	trimmed, err := Validate(items, identifier)
	if err != nil {
		f.block(err)
		return Result{}, err
	}

	f.setState(StateSubmitting)
	f.setStatus(StatusOpening)
	defer f.setState(StateIdle)

	orderRef := uuid.NewString()
	text, deepLink := f.formatter.Format(items, trimmed)

	// Fire-and-forget: отказ приёмника не отменяет оформление.
	if f.links != nil {
		if err := f.links.Open(deepLink); err != nil {
			f.logger.WithError(err).Warn("link sink rejected the deep link")
		}
	}

	f.journal(orderRef, trimmed, items)
	f.appendTimeline(orderRef)

	// Синхронная очистка: корзина и её снапшот отражают принятый заказ.
	f.cart.Clear(ctx)

	if f.metrics != nil {
		f.metrics.RecordCheckoutAccepted()
		f.metrics.RecordCheckoutDuration(time.Since(start))
	}
	f.logger.WithFields(log.Fields{
		"order_ref": orderRef,
		"items":     len(items),
	}).Info("checkout accepted, deep link handed off")

	f.scheduleStatusClear()

	return Result{
		OrderRef: orderRef,
		Text:     text,
		DeepLink: deepLink,
		Status:   StatusOpening,
	}, nil
}

// State возвращает текущую фазу автомата.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Status возвращает транзитный статус для отображения.
func (f *Flow) Status() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *Flow) block(err error) {
	reason := BlockReason(err)
	f.setState(StateBlocked)
	if f.metrics != nil {
		f.metrics.RecordCheckoutBlocked(reason)
	}
	f.logger.WithField("reason", reason).Info("checkout blocked by validation")
	// Blocked — транзитная фаза: после показа причины автомат снова Idle.
	f.setState(StateIdle)
}

func (f *Flow) setState(state State) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
}

func (f *Flow) setStatus(status string) {
	f.mu.Lock()
	f.status = status
	f.statusGen++
	f.mu.Unlock()
}

// scheduleStatusClear снимает транзитный статус по таймеру. Поколение
// защищает от устаревшего таймера: более поздний статус он не стирает.
func (f *Flow) scheduleStatusClear() {
	f.mu.Lock()
	gen := f.statusGen
	f.mu.Unlock()

	time.AfterFunc(f.statusTTL, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.statusGen == gen {
			f.status = ""
		}
	})
}

// submittedOrder — payload outbox-события принятого заказа.
type submittedOrder struct {
	OrderRef    string               `json:"order_ref"`
	Identifier  string               `json:"identifier"`
	Items       []submittedOrderItem `json:"items"`
	TotalMinor  int64                `json:"total_minor"`
	SubmittedAt time.Time            `json:"submitted_at"`
}

type submittedOrderItem struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceMinor int64  `json:"price_minor"`
	Quantity   int32  `json:"quantity"`
}

func (f *Flow) journal(orderRef, identifier string, items []domain.LineItem) {
	if f.outbox == nil {
		return
	}

	_, totalMinor := domain.Totals(items)
	payload := submittedOrder{
		OrderRef:    orderRef,
		Identifier:  identifier,
		Items:       make([]submittedOrderItem, 0, len(items)),
		TotalMinor:  totalMinor,
		SubmittedAt: time.Now().UTC(),
	}
	for _, item := range items {
		payload.Items = append(payload.Items, submittedOrderItem{
			ID:         item.ID,
			Name:       item.Name,
			PriceMinor: item.PriceMinor,
			Quantity:   item.Quantity,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		f.logger.WithError(err).Warn("failed to marshal submitted order")
		return
	}

	if _, err := f.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   orderRef,
		EventType:     EventTypeOrderSubmitted,
		Payload:       body,
	}); err != nil {
		f.logger.WithError(err).Warn("failed to enqueue submitted order")
	}
}

func (f *Flow) appendTimeline(orderRef string) {
	if f.timeline == nil {
		return
	}
	if err := f.timeline.Append(domain.TimelineEvent{
		CartKey: f.cart.Key(),
		Type:    domain.TimelineCheckoutSubmitted,
		Detail:  orderRef,
	}); err != nil {
		f.logger.WithError(err).Warn("failed to append checkout timeline event")
	}
}

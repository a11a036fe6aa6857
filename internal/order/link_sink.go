package order

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// LogSink записывает deep link в журнал. Реальное открытие ссылки выполняет
// клиент витрины; успех здесь означает только "ссылка передана".
type LogSink struct {
	logger *log.Entry
}

// NewLogSink создаёт журнальный приёмник deep link-ов.
func NewLogSink(logger *log.Entry) *LogSink {
	if logger == nil {
		logger = log.WithField("component", "link-sink")
	}
	return &LogSink{logger: logger}
}

// Open фиксирует факт передачи ссылки.
func (s *LogSink) Open(url string) error {
	s.logger.WithField("deep_link", url).Info("order deep link handed off")
	return nil
}

var _ domain.LinkSink = (*LogSink)(nil)

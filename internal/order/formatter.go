package order

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// DefaultPhone — номер получателя заказов по умолчанию (из исходной витрины).
	DefaultPhone = "584122021747"

	deepLinkBase = "https://wa.me/"

	messageHeader  = "*PEDIDO SECRETO*"
	messageIntro   = "He realizado un pedido en tu Santuario. Por favor, confírmalo:"
	messageClosing = "Espero tu confirmación para proceder con el pago y envío."
)

// Formatter строит текст заказа и deep link для внешнего мессенджера.
// Чистая функция от (позиции, идентификатор): без побочных эффектов.
type Formatter struct {
	phone string
}

// NewFormatter создаёт форматтер, адресующий заказы на один статический номер.
func NewFormatter(phone string) *Formatter {
	if phone == "" {
		phone = DefaultPhone
	}
	return &Formatter{phone: phone}
}

// Format рендерит сообщение заказа и deep link.
// Нумерация позиций 1-based и строго повторяет порядок добавления.
func (f *Formatter) Format(items []domain.LineItem, identifier string) (text, deepLink string) {
	var b strings.Builder

	b.WriteString(messageHeader)
	b.WriteString("\n\n")
	b.WriteString("*Nombre/Clave:* ")
	b.WriteString(identifier)
	b.WriteString("\n\n")
	b.WriteString(messageIntro)
	b.WriteString("\n\n")

	var totalMinor int64
	for i, item := range items {
		lineTotal := int64(item.Quantity) * item.PriceMinor
		totalMinor += lineTotal
		fmt.Fprintf(&b, "%d. %s (Cant: %d) - $%s\n", i+1, item.Name, item.Quantity, domain.FormatMinor(lineTotal))
	}

	b.WriteString("\n*TOTAL ESTIMADO: $")
	b.WriteString(domain.FormatMinor(totalMinor))
	b.WriteString("*\n\n")
	b.WriteString(messageClosing)

	text = b.String()
	return text, deepLinkBase + f.phone + "?text=" + encodeText(text)
}

// encodeText кодирует текст как query-параметр с процентным кодированием
// пробелов (%20, не '+'), как того ждёт внешний мессенджер.
func encodeText(text string) string {
	return strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
}

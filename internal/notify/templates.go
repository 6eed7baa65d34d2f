package notify

import (
	"fmt"
	"html"
	"strings"

	"github.com/vladislavdragonenkov/recon/internal/domain"
)

// Письма собираются строковым билдером без html/template: шаблоны короткие,
// все подстановки экранируются точечно.

// CustomerOrderPaid — письмо клиенту о подтверждении оплаты заказа.
func CustomerOrderPaid(order domain.Order) (subject, body string) {
	subject = fmt.Sprintf("Pagamento aprovado — pedido %s", order.ID)

	var b strings.Builder
	b.WriteString("<h2>Pagamento aprovado!</h2>")
	fmt.Fprintf(&b, "<p>Olá, %s! Recebemos o pagamento do seu pedido <b>%s</b>.</p>",
		html.EscapeString(order.CustomerName), html.EscapeString(order.ID))
	writeItemsTable(&b, order)
	b.WriteString("<p>Em breve enviaremos o código de rastreio.</p>")
	return subject, b.String()
}

// CustomerOrderShipped — письмо клиенту с кодом отслеживания отправления.
func CustomerOrderShipped(order domain.Order) (subject, body string) {
	subject = fmt.Sprintf("Pedido %s enviado", order.ID)

	var b strings.Builder
	b.WriteString("<h2>Seu pedido foi enviado!</h2>")
	fmt.Fprintf(&b, "<p>Olá, %s! O pedido <b>%s</b> está a caminho.</p>",
		html.EscapeString(order.CustomerName), html.EscapeString(order.ID))
	if order.TrackingCode != "" {
		fmt.Fprintf(&b, "<p>Código de rastreio: <b>%s</b></p>", html.EscapeString(order.TrackingCode))
	}
	return subject, b.String()
}

// CustomerOrderDelivered — письмо клиенту о доставленном отправлении.
func CustomerOrderDelivered(order domain.Order) (subject, body string) {
	subject = fmt.Sprintf("Pedido %s entregue", order.ID)

	var b strings.Builder
	b.WriteString("<h2>Pedido entregue!</h2>")
	fmt.Fprintf(&b, "<p>Olá, %s! O pedido <b>%s</b> foi entregue. Esperamos que goste!</p>",
		html.EscapeString(order.CustomerName), html.EscapeString(order.ID))
	return subject, b.String()
}

// OperatorOrderPaid — внутреннее письмо оператору о новом оплаченном заказе.
func OperatorOrderPaid(order domain.Order) (subject, body string) {
	subject = fmt.Sprintf("Novo pedido pago: %s", order.ID)

	var b strings.Builder
	b.WriteString("<h2>Novo pedido pago</h2>")
	fmt.Fprintf(&b, "<p>Pedido <b>%s</b> de %s (%s).</p>",
		html.EscapeString(order.ID),
		html.EscapeString(order.CustomerName),
		html.EscapeString(order.CustomerEmail))
	writeItemsTable(&b, order)
	addr := order.Address
	if addr.Street != "" {
		fmt.Fprintf(&b, "<p>Endereço: %s, %s — %s/%s, CEP %s</p>",
			html.EscapeString(addr.Street), html.EscapeString(addr.Number),
			html.EscapeString(addr.City), html.EscapeString(addr.State),
			html.EscapeString(addr.PostalCode))
	}
	return subject, b.String()
}

func writeItemsTable(b *strings.Builder, order domain.Order) {
	b.WriteString("<table border=\"1\" cellpadding=\"4\"><tr><th>Item</th><th>Qtd</th><th>Preço</th></tr>")
	for _, item := range order.Items {
		fmt.Fprintf(b, "<tr><td>%s</td><td>%d</td><td>%s</td></tr>",
			html.EscapeString(item.Name), item.Qty, FormatMoney(item.UnitPriceMinor))
	}
	b.WriteString("</table>")
	fmt.Fprintf(b, "<p>Frete: %s<br>Total: <b>%s</b></p>",
		FormatMoney(order.ShippingMinor), FormatMoney(order.TotalMinor))
}

// FormatMoney печатает сумму в сентаво как реалы: 28480 -> "R$ 284,80".
func FormatMoney(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%sR$ %d,%02d", sign, minor/100, minor%100)
}

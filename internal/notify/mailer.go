package notify

import (
	log "github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/vladislavdragonenkov/recon/internal/domain"
)

var _ domain.Notifier = (*Mailer)(nil)

// SMTPConfig — параметры подключения к SMTP-серверу.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Mailer отправляет HTML-письма через SMTP. Каждая отправка открывает
// отдельное соединение: объёмы у магазина штучные, пул не нужен.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
	logger *log.Entry
}

// NewMailer создаёт Mailer по конфигурации SMTP.
func NewMailer(cfg SMTPConfig, logger *log.Entry) *Mailer {
	if logger == nil {
		logger = log.WithField("component", "mailer")
	}
	return &Mailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		logger: logger,
	}
}

// Send отправляет одно письмо. Ошибка возвращается вызывающему; политика
// повторов и подавления — его забота.
func (m *Mailer) Send(recipient, subject, htmlBody string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", recipient)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return err
	}

	m.logger.WithField("recipient", recipient).Debug("email sent")
	return nil
}

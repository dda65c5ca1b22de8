package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"checkout-service/models"

	"gopkg.in/gomail.v2"
)

// ReceiptMailer sends the post-purchase receipt.
type ReceiptMailer interface {
	SendReceipt(ctx context.Context, to string, receipt models.Receipt) error
}

// SMTPConfig holds SMTP settings. An empty Host disables receipts.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPReceiptMailer delivers receipts through gomail.
type SMTPReceiptMailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPReceiptMailer returns nil when SMTP is not configured.
func NewSMTPReceiptMailer(cfg SMTPConfig) *SMTPReceiptMailer {
	if cfg.Host == "" || cfg.Username == "" || cfg.Password == "" {
		return nil
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &SMTPReceiptMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   from,
	}
}

var receiptTemplate = template.Must(template.New("receipt").Parse(`<p>Hi {{.CustomerName}},</p>
<p>Your payment for order <b>{{.OrderID}}</b> was received.</p>
<table>
<tr><td>Subtotal</td><td>₹{{printf "%.2f" .Amount}}</td></tr>
{{if .PromoCode}}<tr><td>Discount ({{.PromoCode}})</td><td>-₹{{printf "%.2f" .DiscountAmount}}</td></tr>{{end}}
<tr><td>Paid</td><td>₹{{printf "%.2f" .FinalAmount}}</td></tr>
</table>
<p>Courses: {{range $i, $c := .CourseIDs}}{{if $i}}, {{end}}{{$c}}{{end}}</p>
<p>Access is valid until {{.ExpiresAt.Format "02 Jan 2006"}}.</p>
<p>Payment reference: {{.PaymentID}}</p>`))

// RenderReceipt renders the HTML body of a receipt email.
func RenderReceipt(r models.Receipt) (string, error) {
	var buf bytes.Buffer
	if err := receiptTemplate.Execute(&buf, r); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (m *SMTPReceiptMailer) SendReceipt(ctx context.Context, to string, receipt models.Receipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := RenderReceipt(receipt)
	if err != nil {
		return fmt.Errorf("render receipt: %w", err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", fmt.Sprintf("Your enrollment receipt for order %s", receipt.OrderID))
	msg.SetBody("text/html", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send receipt: %w", err)
	}
	return nil
}

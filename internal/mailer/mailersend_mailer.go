package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/mailersend/mailersend-go"
)

type MailerSendClient struct {
	client  *mailersend.Mailersend
	from    mailersend.From
	enabled bool
}

func NewMailerSend(apiKey, fromName, fromEmail string) *MailerSendClient {
	m := &MailerSendClient{
		enabled: apiKey != "" && fromEmail != "",
		from: mailersend.From{
			Name:  fromName,
			Email: fromEmail,
		},
	}

	if m.enabled {
		m.client = mailersend.NewMailersend(apiKey)
	}

	return m
}

func (m *MailerSendClient) SendRecoveryEmail(toEmail, toName, checkoutURL string, cartTotal float64) error {
	if !m.enabled {
		return fmt.Errorf("MailerSend not configured")
	}

	subject := "You left something in your cart"
	html := fmt.Sprintf(`
		<h2>Your order is waiting</h2>
		<p>Hi %s,</p>
		<p>You started a checkout worth <strong>%.2f</strong> but didn't finish it.</p>
		<p><a href="%s" style="background-color: #4CAF50; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px;">Complete your order</a></p>
		<p>If you've changed your mind, you can ignore this email.</p>
	`, toName, cartTotal, checkoutURL)

	text := fmt.Sprintf("Hi %s, you started a checkout worth %.2f but didn't finish it. Complete your order here: %s", toName, cartTotal, checkoutURL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := m.client.Email.NewMessage()
	msg.SetFrom(m.from)
	msg.SetRecipients([]mailersend.Recipient{{Name: toName, Email: toEmail}})
	msg.SetSubject(subject)
	msg.SetText(text)
	msg.SetHTML(html)

	_, err := m.client.Email.Send(ctx, msg)
	return err
}

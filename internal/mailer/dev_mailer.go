package mailer

import (
	"github.com/sohojware/checkout-guard/pkg/logger"
)

// DevMailer logs recovery mail instead of sending it.
type DevMailer struct{}

func NewDevMailer() *DevMailer {
	return &DevMailer{}
}

func (d *DevMailer) SendRecoveryEmail(toEmail, toName, checkoutURL string, cartTotal float64) error {
	logger.Info("[DEV MAIL] Recovery Email",
		"to", toEmail,
		"name", toName,
		"checkout_url", checkoutURL,
		"cart_total", cartTotal,
	)
	return nil
}

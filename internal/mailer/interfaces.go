package mailer

// Service sends customer-facing recovery mail for abandoned checkouts.
type Service interface {
	SendRecoveryEmail(toEmail, toName, checkoutURL string, cartTotal float64) error
}

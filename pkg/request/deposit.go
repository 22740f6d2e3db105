package request

// Deposit is what an ingress server hands to the injestor.
type Deposit struct {
	DeliveryType string
	Headers      Headers
	Body         []byte
	// BodyDecoded is set when the ingress already removed the transfer
	// encoding (SMTP MIME parsing does), so the injestor must not decode again.
	BodyDecoded bool
	MailFrom    string
	RcptTo      []string
	RemoteAddr  string
}

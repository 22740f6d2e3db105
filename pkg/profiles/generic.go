package profiles

const (
	GenericHttpsName = "generic_https"
	GenericSmtpName  = "generic_smtp"
)

type GenericHttps struct {
	Base
}

func (p *GenericHttps) Name() string {
	return GenericHttpsName
}

func (p *GenericHttps) MandatoryHeaders() []string {
	return []string{"X-Reference", "X-Return-URL"}
}

type GenericSmtp struct {
	Base
}

func (p *GenericSmtp) Name() string {
	return GenericSmtpName
}

func (p *GenericSmtp) MandatoryHeaders() []string {
	return []string{"X-Reference", "To"}
}

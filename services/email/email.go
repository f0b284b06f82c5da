package emailsvc

import (
	"log"

	"github.com/trezcool/kazi/core"
)

// New returns the EmailService of the configured backend (EMAIL_BACKEND).
func New(out *log.Logger, logger core.Logger, conf *core.Config) core.EmailService {
	switch conf.Email.Backend {
	case "sendgrid":
		return NewSendgridService(logger, conf)
	case "smtp":
		return NewSMTPService(logger, conf)
	default:
		return NewConsoleService(out, logger, conf)
	}
}

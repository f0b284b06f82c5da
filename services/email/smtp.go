package emailsvc

import (
	"bytes"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/mail"

	"github.com/pkg/errors"
	"gopkg.in/gomail.v2"

	"github.com/trezcool/kazi/core"
)

type smtpService struct {
	dialer          *gomail.Dialer
	from            string
	subjPrefix      string
	frontendBaseURL string
	logger          core.Logger
}

var _ core.EmailService = (*smtpService)(nil)

func NewSMTPService(logger core.Logger, conf *core.Config) core.EmailService {
	d := gomail.NewDialer(conf.Email.SMTPHost, conf.Email.SMTPPort, conf.Email.SMTPUser, conf.Email.SMTPPassword)
	d.SSL = conf.Email.SMTPUseSSL
	d.TLSConfig = &tls.Config{ServerName: conf.Email.SMTPHost, MinVersion: tls.VersionTLS12}
	return &smtpService{
		dialer:          d,
		from:            conf.DefaultFromEmail.String(),
		subjPrefix:      "[" + conf.AppName + "] ",
		frontendBaseURL: conf.FrontendBaseURL,
		logger:          logger,
	}
}

func (svc *smtpService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		go func(msg *core.EmailMessage) {
			if err := msg.Render(svc.frontendBaseURL); err != nil {
				svc.logger.Error(fmt.Sprintf("rendering email: %v", err), err)
				return
			}
			if !(msg.HasRecipients() && (msg.HasContent() || msg.HasAttachments())) {
				return
			}
			if err := svc.dialer.DialAndSend(svc.prepare(*msg)); err != nil {
				svc.logger.Error(fmt.Sprintf("sending email: %v", err), errors.WithStack(err))
			}
		}(msg)
	}
}

func (svc *smtpService) prepare(msg core.EmailMessage) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", svc.from)
	m.SetHeader("Subject", svc.subjPrefix+msg.Subject)

	addrs := func(header string, list []string) {
		if len(list) > 0 {
			m.SetHeader(header, list...)
		}
	}
	addrs("To", formatAddresses(m, msg.To))
	addrs("Cc", formatAddresses(m, msg.Cc))
	addrs("Bcc", formatAddresses(m, msg.Bcc))

	m.SetBody("text/plain", msg.TextContent)
	if msg.HTMLContent != "" {
		m.AddAlternative("text/html", msg.HTMLContent)
	}

	for _, at := range msg.Attachments {
		at := at
		m.Attach(at.Filename,
			gomail.SetHeader(map[string][]string{"Content-Type": {at.ContentType}}),
			gomail.SetCopyFunc(func(w io.Writer) error {
				// attachments are kept base64 encoded, gomail encodes them again
				_, err := io.Copy(w, base64.NewDecoder(base64.StdEncoding, bytesReader(at)))
				return err
			}),
		)
	}
	return m
}

func formatAddresses(m *gomail.Message, addrs []mail.Address) []string {
	formatted := make([]string, 0, len(addrs))
	for _, a := range addrs {
		formatted = append(formatted, m.FormatAddress(a.Address, a.Name))
	}
	return formatted
}

func bytesReader(at core.Attachment) io.Reader {
	if at.Content == nil {
		return bytes.NewReader(nil)
	}
	return bytes.NewReader(at.Content.Bytes())
}

package emailsvc

import (
	"bytes"
	"io"
	"log"
	"net/mail"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kazi/core"
	appfs "github.com/trezcool/kazi/fs"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func otpMessage() *core.EmailMessage {
	return &core.EmailMessage{
		To:           []mail.Address{{Name: "Bob", Address: "bob@kazi.test"}},
		Subject:      "Your login code",
		TemplateName: "otp",
		TemplateData: map[string]interface{}{"Name": "Bob", "Code": "123456", "TTLMinutes": 5},
	}
}

func TestConsoleServiceMock(t *testing.T) {
	core.ParseEmailTemplates(appfs.FS, nopLogger{}, true)
	conf := core.NewTestConfig()
	svc := NewConsoleServiceMock(conf)

	svc.SendMessages(otpMessage(), &core.EmailMessage{Subject: "no recipients", BodyStr: "hi"})

	sent := svc.SentMessages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].TextContent, "123456")
	assert.Contains(t, sent[0].HTMLContent, "123456")
	assert.Contains(t, sent[0].TextContent, "5 minutes")

	last, ok := svc.LastMessage()
	assert.True(t, ok)
	assert.Equal(t, "Your login code", last.Subject)

	svc.Reset()
	assert.Empty(t, svc.SentMessages())
}

func TestConsoleService_format(t *testing.T) {
	core.ParseEmailTemplates(appfs.FS, nopLogger{}, true)
	conf := core.NewTestConfig()

	var out bytes.Buffer
	svc := NewConsoleService(log.New(&out, "", 0), nopLogger{}, conf).(*consoleService)

	msg := otpMessage()
	require.NoError(t, msg.Attach(strings.NewReader("notes"), "notes.txt", "text/plain"))
	sent, err := svc.sendMessage(msg)
	require.NoError(t, err)
	assert.True(t, sent)

	printed := out.String()
	assert.Contains(t, printed, "Subject: [Kazi] Your login code")
	assert.Contains(t, printed, `To: "Bob" <bob@kazi.test>`)
	assert.Contains(t, printed, "multipart/mixed")
	assert.Contains(t, printed, "filename=notes.txt")
}

func TestSMTPService_prepare(t *testing.T) {
	conf := core.NewTestConfig()
	conf.Email.SMTPHost = "smtp.kazi.test"
	conf.Email.SMTPPort = 587
	svc := NewSMTPService(nopLogger{}, conf).(*smtpService)

	msg := core.EmailMessage{
		To:          []mail.Address{{Name: "Bob", Address: "bob@kazi.test"}},
		Subject:     "Hi",
		TextContent: "hello",
	}
	require.NoError(t, msg.Attach(strings.NewReader("notes"), "notes.txt", "text/plain"))

	m := svc.prepare(msg)
	assert.Equal(t, []string{"[Kazi] Hi"}, m.GetHeader("Subject"))
	assert.Len(t, m.GetHeader("To"), 1)
	assert.Empty(t, m.GetHeader("Cc"))

	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "notes.txt")

	// attachments are stored base64 encoded
	decoded, err := io.ReadAll(bytesReader(msg.Attachments[0]))
	require.NoError(t, err)
	assert.Equal(t, "bm90ZXM=", string(decoded))
}

func TestNew(t *testing.T) {
	conf := core.NewTestConfig()
	assert.IsType(t, &consoleService{}, New(nil, nopLogger{}, conf))

	conf.Email.Backend = "sendgrid"
	assert.IsType(t, &sendgridService{}, New(nil, nopLogger{}, conf))

	conf.Email.Backend = "smtp"
	assert.IsType(t, &smtpService{}, New(nil, nopLogger{}, conf))
}

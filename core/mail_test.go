package core_test

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kazi/core"
	appfs "github.com/trezcool/kazi/fs"
)

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
}

var _ core.Logger = (*recordingLogger)(nil)

func (l *recordingLogger) Debug(string, ...interface{}) {}
func (l *recordingLogger) Info(string, ...interface{})  {}
func (l *recordingLogger) Warn(string, ...interface{})  {}
func (l *recordingLogger) Fatal(msg string, args ...interface{}) {
	l.Error(msg, args...)
}

func (l *recordingLogger) Error(msg string, _ ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func TestParseEmailTemplates(t *testing.T) {
	logger := new(recordingLogger)
	core.ParseEmailTemplates(appfs.FS, logger, true)
	require.Empty(t, logger.errors)

	tests := []struct {
		name     string
		tmpl     string
		data     map[string]interface{}
		wantText string
	}{
		{
			name:     "otp",
			tmpl:     "otp",
			data:     map[string]interface{}{"Name": "Amani", "Code": "123456", "TTLMinutes": 5},
			wantText: "Your login code is: 123456",
		},
		{
			name:     "password reset",
			tmpl:     "password_reset",
			data:     map[string]interface{}{"Name": "Amani", "UID": "uid", "Token": "tok"},
			wantText: "https://kazi.test/password-reset/uid/tok",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &core.EmailMessage{TemplateName: tt.tmpl, TemplateData: tt.data}
			require.NoError(t, msg.Render("https://kazi.test"))
			assert.True(t, msg.HasContent(), "rendered %s is empty", tt.tmpl)
			assert.Contains(t, msg.TextContent, tt.wantText)
			assert.NotEmpty(t, strings.TrimSpace(msg.HTMLContent), fmt.Sprintf("%s html", tt.tmpl))
		})
	}
}

package logsvc

import (
	"bytes"
	"log"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/user"
)

func TestRollbarLogger(t *testing.T) {
	var out bytes.Buffer
	logger := NewRollbarLogger(log.New(&out, "API : ", 0), core.NewTestConfig())

	usr := user.User{ID: "1", Username: "bob", Email: "bob@kazi.test"}
	logger.Error("boom", errors.New("kaboom"), usr)

	logged := out.String()
	assert.Contains(t, logged, "API : ERROR: boom")
	assert.Contains(t, logged, "kaboom")
	assert.NotContains(t, logged, "bob@kazi.test")

	args := logger.prepare("msg", []interface{}{usr, map[string]interface{}{"k": "v"}, usr})
	assert.Equal(t, []interface{}{"msg", map[string]interface{}{"k": "v"}}, args)
}

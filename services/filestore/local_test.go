package filestore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kazi/core"
)

func newStore(t *testing.T) *LocalStore {
	t.Helper()
	conf := core.NewTestConfig()
	conf.Media.Root = t.TempDir()
	store, err := NewLocalStore(conf)
	require.NoError(t, err)
	return store
}

func TestLocalStore(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	name, err := store.Save(ctx, "notes", "week 1 / algebra.pdf", strings.NewReader("x^2"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "notes/"))
	assert.True(t, strings.HasSuffix(name, "-algebra.pdf"))

	_, err = os.Stat(filepath.Join(store.root, filepath.FromSlash(name)))
	require.NoError(t, err)

	rc, err := store.Open(ctx, name)
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "x^2", string(content))

	other, err := store.Save(ctx, "notes", "week 1 / algebra.pdf", strings.NewReader("y"))
	require.NoError(t, err)
	assert.NotEqual(t, name, other)

	require.NoError(t, store.Delete(ctx, name))
	_, err = store.Open(ctx, name)
	assert.True(t, core.IsNotFound(err))
	assert.True(t, core.IsNotFound(store.Delete(ctx, name)))
}

func TestLocalStore_invalidNames(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, "notes", "...", strings.NewReader(""))
	assert.Equal(t, ErrInvalidName, err)

	for _, name := range []string{"", ".", "..", "../etc/passwd", "/etc/passwd", "notes/../../x", `notes\..\x`} {
		_, err := store.Open(ctx, name)
		assert.Equal(t, ErrInvalidName, err, name)
		assert.Equal(t, ErrInvalidName, store.Delete(ctx, name), name)
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"report.pdf", "report.pdf"},
		{"my report (1).pdf", "my_report_1_.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\bob\hw.docx`, "hw.docx"},
		{".hidden", "hidden"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitize(tt.in))
		})
	}
}

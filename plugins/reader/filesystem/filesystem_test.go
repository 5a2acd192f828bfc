package filesystem

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mist54/GenTemplate/pkg/contract"
)

// TestOpenRelativeToBase 相对路径按 BaseDir 解析。
func TestOpenRelativeToBase(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "a.csv"), []byte("x\n1\n"), 0o644))

	r := New(&Options{BaseDir: dir, BufSize: 16})
	rc, err := r.Open(context.Background(), "src/a.csv")
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "x\n1\n", string(b))
	assert.True(t, r.Exists("src/a.csv"))
}

func TestOpenMissing(t *testing.T) {
	r := New(&Options{BaseDir: t.TempDir()})
	_, err := r.Open(context.Background(), "nope.csv")
	require.Error(t, err)
	assert.True(t, errors.Is(err, contract.ErrSourceMissing))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.False(t, r.Exists("nope.csv"))

	_, err = r.Open(context.Background(), "")
	assert.ErrorIs(t, err, contract.ErrSourceMissing)
}

func TestOpenDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := New(nil).Open(context.Background(), dir)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestOpenTooLarge(t *testing.T) {
	p := filepath.Join(t.TempDir(), "big.txt")
	require.NoError(t, os.WriteFile(p, []byte("0123456789"), 0o644))
	_, err := New(&Options{MaxBytes: 5}).Open(context.Background(), p)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestOpenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Open(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

// TestResolveAbsolute 绝对路径不受 BaseDir 影响。
func TestResolveAbsolute(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "t.txt")
	assert.Equal(t, abs, New(&Options{BaseDir: "/elsewhere"}).Resolve(abs))
}

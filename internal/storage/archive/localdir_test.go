package archive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalDir_ImplementsBackend(t *testing.T) {
	var _ Backend = (*LocalDir)(nil)
}

func TestLocalDir_WriteReadRoundTrip(t *testing.T) {
	l, err := NewLocalDir(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	data := []byte(`{"version":1,"cycle":9}`)

	require.NoError(t, l.Write(ctx, "campaign", data))

	got, err := l.Read(ctx, "campaign")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestLocalDir_Exists(t *testing.T) {
	l, err := NewLocalDir(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	exists, err := l.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, l.Write(ctx, "present", []byte("x")))
	exists, err = l.Exists(ctx, "present")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLocalDir_ListAndDelete(t *testing.T) {
	l, err := NewLocalDir(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, l.Write(ctx, "a", []byte("1")))
	require.NoError(t, l.Write(ctx, "b", []byte("2")))

	names, err := l.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, names)

	require.NoError(t, l.Delete(ctx, "a"))
	names, err = l.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names)
}

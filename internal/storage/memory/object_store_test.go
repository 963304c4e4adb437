package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dmahlow/lorekeep/internal/knowledge"
)

func TestObjectStoreCRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewObjectStore()

	obj := knowledge.PersistedObject{
		ID:        "obj-1",
		Type:      knowledge.JobTypePageFetch,
		SourceURI: "https://example.com",
		Title:     "Example",
		Status:    knowledge.ObjectStatusIngesting,
	}
	require.NoError(t, s.CreateObject(ctx, obj))
	require.Error(t, s.CreateObject(ctx, obj))

	obj.Status = knowledge.ObjectStatusReady
	obj.Summary = "summary"
	require.NoError(t, s.UpdateObject(ctx, obj))

	got, err := s.GetObject(ctx, "obj-1")
	require.NoError(t, err)
	require.Equal(t, knowledge.ObjectStatusReady, got.Status)
	require.Equal(t, "summary", got.Summary)
	require.False(t, got.UpdatedAt.IsZero())

	_, err = s.GetObject(ctx, "missing")
	require.Error(t, err)
	require.Error(t, s.UpdateObject(ctx, knowledge.PersistedObject{ID: "missing"}))
}

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	p := New()

	id, err := p.Publish(context.Background(), "vectorize", map[string]string{"object_id": "obj-1"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)

	id, err = p.Publish(context.Background(), "vectorize", map[string]string{"object_id": "obj-2"})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id)

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "vectorize", msgs[0].Topic)
	require.Equal(t, map[string]string{"object_id": "obj-1"}, msgs[0].Payload)
}

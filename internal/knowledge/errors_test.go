package knowledge

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestErrorFormatsKindAndStatus(t *testing.T) {
	t.Parallel()

	err := &Error{Kind: KindHTTPError, Status: 503, Message: "fetch https://example.com"}
	require.Equal(t, "HttpError{503}: fetch https://example.com", err.Error())
}

func TestKindOfUnwrapsThroughLayers(t *testing.T) {
	t.Parallel()

	inner := NewError(KindSizeLimitExceeded, "body exceeded 2097152 bytes")
	wrapped := fmt.Errorf("fetch stage: %w", inner)

	require.Equal(t, KindSizeLimitExceeded, KindOf(wrapped))
	require.True(t, IsKind(wrapped, KindSizeLimitExceeded))
	require.False(t, IsKind(wrapped, KindTimeout))
}

func TestKindOfDefaultsToUnknown(t *testing.T) {
	t.Parallel()

	require.Equal(t, KindUnknownError, KindOf(errors.New("plain failure")))
}

func TestRetryAfterOf(t *testing.T) {
	t.Parallel()

	_, ok := RetryAfterOf(NewError(KindNetworkError, "reset"))
	require.False(t, ok)

	err := &Error{Kind: KindAIProcessingError, Message: "rate limited", RetryAfter: 30 * time.Second}
	delay, ok := RetryAfterOf(fmt.Errorf("enrich stage: %w", err))
	require.True(t, ok)
	require.Equal(t, 30*time.Second, delay)
}

func TestUnwrapExposesCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := WrapError(KindNetworkError, "dial", cause)
	require.ErrorIs(t, err, cause)
}

func TestStatusIsTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []JobStatus{StatusCompleted, StatusFailed, StatusCancelled} {
		require.True(t, s.IsTerminal(), string(s))
	}
	for _, s := range []JobStatus{StatusQueued, StatusProcessing, StatusParsing, StatusAIProcessing, StatusPersisting, StatusVectorizing, StatusRetryPending} {
		require.False(t, s.IsTerminal(), string(s))
	}
}

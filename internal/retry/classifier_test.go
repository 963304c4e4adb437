package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmahlow/lorekeep/internal/knowledge"
)

func TestClassifyNetworkTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	c := NewClassifier(5*time.Second, 30*time.Minute)
	err := knowledge.NewError(knowledge.KindTimeout, "fetch https://example.com: context deadline exceeded")

	cls := c.Classify(err, 1)
	require.Equal(t, CategoryNetwork, cls.Category)
	require.True(t, cls.Retryable)
	require.Equal(t, 5*time.Second, cls.RetryDelay)
}

func TestClassifyHTTPStatuses(t *testing.T) {
	t.Parallel()

	c := NewClassifier(5*time.Second, 30*time.Minute)

	serverErr := &knowledge.Error{Kind: knowledge.KindHTTPError, Status: 503, Message: "fetch returned 503"}
	require.True(t, c.Classify(serverErr, 1).Retryable)

	throttled := &knowledge.Error{Kind: knowledge.KindHTTPError, Status: 429, Message: "fetch returned 429"}
	require.True(t, c.Classify(throttled, 1).Retryable)

	missing := &knowledge.Error{Kind: knowledge.KindHTTPError, Status: 404, Message: "fetch returned 404"}
	require.False(t, c.Classify(missing, 1).Retryable)
}

func TestClassifyPermanentPatternWinsOverTransient(t *testing.T) {
	t.Parallel()

	c := NewClassifier(5*time.Second, 30*time.Minute)
	// "unauthorized" (permanent) and "timeout" (transient) both match; the
	// permanent table takes precedence.
	err := errors.New("unauthorized after gateway timeout")

	cls := c.Classify(err, 1)
	require.Equal(t, CategoryPermission, cls.Category)
	require.False(t, cls.Retryable)
	require.Zero(t, cls.RetryDelay)
}

func TestClassifyCategoryDefaults(t *testing.T) {
	t.Parallel()

	c := NewClassifier(5*time.Second, 30*time.Minute)

	storage := knowledge.NewError(knowledge.KindStorageError, "write object")
	require.True(t, c.Classify(storage, 1).Retryable)

	parsing := knowledge.NewError(knowledge.KindExtractionFailed, "bad document structure")
	require.False(t, c.Classify(parsing, 1).Retryable)

	ai := knowledge.NewError(knowledge.KindAIProcessingError, "provider hiccup")
	require.True(t, c.Classify(ai, 1).Retryable)

	unknown := errors.New("something odd happened")
	cls := c.Classify(unknown, 1)
	require.Equal(t, CategoryUnknown, cls.Category)
	require.False(t, cls.Retryable)
}

func TestClassifySizeLimitNeverRetries(t *testing.T) {
	t.Parallel()

	c := NewClassifier(5*time.Second, 30*time.Minute)
	err := knowledge.NewError(knowledge.KindSizeLimitExceeded, "response exceeded 2097152 bytes")

	require.False(t, c.Classify(err, 1).Retryable)
}

func TestDelayBackoffIsMonotonicAndCapped(t *testing.T) {
	t.Parallel()

	base := 5 * time.Second
	max := 30 * time.Minute
	c := NewClassifier(base, max)
	err := knowledge.NewError(knowledge.KindNetworkError, "connection refused")

	prev := time.Duration(0)
	for attempts := 1; attempts <= 12; attempts++ {
		d := c.Delay(err, attempts)
		require.GreaterOrEqual(t, d, prev, "attempt %d", attempts)
		require.LessOrEqual(t, d, max)
		prev = d
	}
	require.Equal(t, base, c.Delay(err, 1))
	require.Equal(t, 2*base, c.Delay(err, 2))
	require.Equal(t, 4*base, c.Delay(err, 3))
	require.Equal(t, max, c.Delay(err, 12))
}

func TestDelayHonorsProviderRetryAfter(t *testing.T) {
	t.Parallel()

	c := NewClassifier(5*time.Second, 30*time.Minute)
	after := 90 * time.Second
	err := &knowledge.Error{
		Kind:       knowledge.KindAIProcessingError,
		Message:    "rate limit exceeded",
		RetryAfter: after,
	}

	require.Equal(t, after, c.Delay(err, 3))
	cls := c.Classify(err, 3)
	require.True(t, cls.Retryable)
	require.Equal(t, after, cls.RetryDelay)
}

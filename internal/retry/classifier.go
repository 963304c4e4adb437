// Package retry classifies pipeline failures and schedules retries with
// exponential backoff.
package retry

import (
	"errors"
	"strings"
	"time"

	"github.com/dmahlow/lorekeep/internal/knowledge"
)

// Category groups failures for transience defaults.
type Category string

// Categories, in inference priority order.
const (
	CategoryNetwork      Category = "network"
	CategoryStorage      Category = "storage"
	CategoryParsing      Category = "parsing"
	CategoryAIProcessing Category = "ai-processing"
	CategoryPermission   Category = "permission"
	CategoryResource     Category = "resource"
	CategoryUnknown      Category = "unknown"
)

// Classification is the verdict for one failure.
type Classification struct {
	IsTransient bool
	Category    Category
	Retryable   bool
	RetryDelay  time.Duration
}

// patternRule matches an error message substring to a category.
type patternRule struct {
	substr   string
	category Category
}

// Permanent patterns take precedence over transient ones when both match.
var permanentPatterns = []patternRule{
	{"unauthorized", CategoryPermission},
	{"permission denied", CategoryPermission},
	{"forbidden", CategoryPermission},
	{"api key", CategoryPermission},
	{"invalid url", CategoryParsing},
	{"unsupported content type", CategoryParsing},
	{"malformed", CategoryParsing},
	{"parse error", CategoryParsing},
	{"no such file", CategoryStorage},
	{"constraint violation", CategoryStorage},
	{"content policy", CategoryAIProcessing},
	{"quota exceeded permanently", CategoryResource},
}

var transientPatterns = []patternRule{
	{"timeout", CategoryNetwork},
	{"timed out", CategoryNetwork},
	{"deadline exceeded", CategoryNetwork},
	{"connection refused", CategoryNetwork},
	{"connection reset", CategoryNetwork},
	{"temporarily unavailable", CategoryNetwork},
	{"unexpected eof", CategoryNetwork},
	{"database is locked", CategoryStorage},
	{"serialization failure", CategoryStorage},
	{"too many connections", CategoryStorage},
	{"rate limit", CategoryAIProcessing},
	{"too many requests", CategoryAIProcessing},
	{"overloaded", CategoryAIProcessing},
	{"out of memory", CategoryResource},
	{"resource exhausted", CategoryResource},
}

// kindCategories maps typed error kinds to their category.
var kindCategories = map[knowledge.ErrorKind]Category{
	knowledge.KindTimeout:                CategoryNetwork,
	knowledge.KindNetworkError:           CategoryNetwork,
	knowledge.KindHTTPError:              CategoryNetwork,
	knowledge.KindSizeLimitExceeded:      CategoryResource,
	knowledge.KindUnsupportedContentType: CategoryParsing,
	knowledge.KindExtractionTimeout:      CategoryParsing,
	knowledge.KindExtractionFailed:       CategoryParsing,
	knowledge.KindExtractionCrashed:      CategoryParsing,
	knowledge.KindStorageError:           CategoryStorage,
	knowledge.KindAIProcessingError:      CategoryAIProcessing,
	knowledge.KindPermissionError:        CategoryPermission,
	knowledge.KindResourceError:          CategoryResource,
}

// categoryDefaults is the transience applied when no explicit pattern
// matched. Network, storage, ai-processing, and resource failures are worth
// retrying by default; parsing, permission, and unknown failures are not.
var categoryDefaults = map[Category]bool{
	CategoryNetwork:      true,
	CategoryStorage:      true,
	CategoryAIProcessing: true,
	CategoryResource:     true,
	CategoryParsing:      false,
	CategoryPermission:   false,
	CategoryUnknown:      false,
}

// Classifier derives retry decisions from failures.
type Classifier struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewClassifier builds a Classifier with the given backoff bounds.
func NewClassifier(baseDelay, maxDelay time.Duration) *Classifier {
	if baseDelay <= 0 {
		baseDelay = 5 * time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Minute
	}
	return &Classifier{baseDelay: baseDelay, maxDelay: maxDelay}
}

// Classify categorizes err and computes the delay before attempt
// attempts+1. attempts is the job's failure count including this one.
func (c *Classifier) Classify(err error, attempts int) Classification {
	msg := strings.ToLower(err.Error())
	kind := knowledge.KindOf(err)

	category, permanent, transient := matchPatterns(msg)
	if kindCat, ok := kindCategories[kind]; ok && category == CategoryUnknown {
		category = kindCat
	}

	var retryable bool
	switch {
	case permanent:
		retryable = false
	case transient:
		retryable = true
	default:
		retryable = categoryDefaults[category]
	}

	// Certain kinds are terminal regardless of message wording: the same
	// fetch is expected to produce the same oversized or untyped payload.
	switch kind {
	case knowledge.KindSizeLimitExceeded, knowledge.KindUnsupportedContentType:
		retryable = false
	case knowledge.KindHTTPError:
		retryable = retryableStatus(err)
	}

	cls := Classification{
		IsTransient: retryable,
		Category:    category,
		Retryable:   retryable,
	}
	if retryable {
		cls.RetryDelay = c.Delay(err, attempts)
	}
	return cls
}

// Delay returns the provider-supplied retry-after when present, otherwise
// baseDelay * 2^(attempts-1) capped at maxDelay.
func (c *Classifier) Delay(err error, attempts int) time.Duration {
	if after, ok := knowledge.RetryAfterOf(err); ok {
		return after
	}
	if attempts < 1 {
		attempts = 1
	}
	delay := c.baseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func matchPatterns(msg string) (category Category, permanent bool, transient bool) {
	category = CategoryUnknown
	for _, rule := range permanentPatterns {
		if strings.Contains(msg, rule.substr) {
			return rule.category, true, false
		}
	}
	for _, rule := range transientPatterns {
		if strings.Contains(msg, rule.substr) {
			return rule.category, false, true
		}
	}
	return category, false, false
}

func retryableStatus(err error) bool {
	var kerr *knowledge.Error
	if !errors.As(err, &kerr) {
		return false
	}
	switch {
	case kerr.Status == 408 || kerr.Status == 429:
		return true
	case kerr.Status >= 500:
		return true
	default:
		return false
	}
}

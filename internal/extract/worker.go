package extract

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dmahlow/lorekeep/internal/knowledge"
)

// ParseFunc is the untrusted parsing step executed inside the isolated
// context. It may block, fail, or panic without affecting the caller.
type ParseFunc func(ctx context.Context, html string, url string) (*knowledge.ExtractionResult, error)

// Worker runs extraction in a supervised goroutine with its own deadline.
// Each request is a one-shot exchange: the goroutine sends exactly one of a
// result, an error, or a crash report, and teardown runs exactly once on
// every exit path.
type Worker struct {
	parse   ParseFunc
	timeout time.Duration
	logger  *zap.Logger

	// teardownHook is invoked after each exchange is torn down; tests use it
	// to count teardowns.
	teardownHook func()
}

// response is the single message sent back by the isolated goroutine.
type response struct {
	result  *knowledge.ExtractionResult
	err     error
	crashed any
}

// NewWorker builds a Worker around the given parse step.
func NewWorker(parse ParseFunc, timeout time.Duration, logger *zap.Logger) *Worker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{parse: parse, timeout: timeout, logger: logger}
}

// Extract sends one {html, url} request into an isolated execution context
// and awaits exactly one outcome. The extraction deadline is independent of
// any fetch timeout on the caller's context.
func (w *Worker) Extract(ctx context.Context, html string, url string) (*knowledge.ExtractionResult, error) {
	workCtx, cancel := context.WithTimeout(context.Background(), w.timeout)

	var once sync.Once
	teardown := func() {
		once.Do(func() {
			cancel()
			if w.teardownHook != nil {
				w.teardownHook()
			}
		})
	}
	defer teardown()

	respCh := make(chan response, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				respCh <- response{crashed: rec}
			}
		}()
		result, err := w.parse(workCtx, html, url)
		respCh <- response{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		teardown()
		return nil, knowledge.WrapError(knowledge.KindExtractionTimeout, fmt.Sprintf("extract %s", url), ctx.Err())
	case <-workCtx.Done():
		teardown()
		return nil, knowledge.WrapError(knowledge.KindExtractionTimeout, fmt.Sprintf("extract %s", url), workCtx.Err())
	case resp := <-respCh:
		teardown()
		switch {
		case resp.crashed != nil:
			w.logger.Error("extraction worker crashed",
				zap.String("url", url),
				zap.Any("panic", resp.crashed),
			)
			return nil, knowledge.NewError(knowledge.KindExtractionCrashed, fmt.Sprintf("extract %s: %v", url, resp.crashed))
		case resp.err != nil:
			return nil, knowledge.WrapError(knowledge.KindExtractionFailed, fmt.Sprintf("extract %s", url), resp.err)
		default:
			// resp.result may be nil: "no extractable content" is a
			// non-error outcome.
			return resp.result, nil
		}
	}
}
